package model

// ControlBinding resolves an abstract action to a concrete key combo of the
// simulator. Combo is empty when the action is not mapped in the simulator's
// control settings; dispatch reports that as a distinct failure.
type ControlBinding struct {
	Action Action `json:"action" yaml:"action"`
	Label  string `json:"label"  yaml:"label"`
	Combo  string `json:"combo"  yaml:"combo"`
	Source string `json:"source" yaml:"source"`
}

func (b ControlBinding) Bound() bool { return b.Combo != "" }
