package telemetry

import "github.com/simrigs/rig-commander/pkg/model"

// Source is the narrow view of the simulator SDK binding the core consumes.
// The real shared memory binding lives outside this module and is injected
// at wiring time; tests and development use the replay source.
type Source interface {
	Connected() bool
	CurrentSnapshot() *model.Snapshot
}

type disconnectedSource struct{}

func (disconnectedSource) Connected() bool                  { return false }
func (disconnectedSource) CurrentSnapshot() *model.Snapshot { return nil }

// NewDisconnectedSource returns a Source that never connects. Used as the
// default when the agent runs without a simulator binding.
func NewDisconnectedSource() Source { return disconnectedSource{} }
