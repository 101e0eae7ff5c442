package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/simrigs/rig-commander/log"
	"github.com/simrigs/rig-commander/pkg/model"
	"github.com/simrigs/rig-commander/pkg/utils/broadcast"
)

const defaultPollInterval = 100 * time.Millisecond

// Poller reads snapshots from the Source at a fixed rate and distributes
// them to any number of listeners. It also tracks since when the simulator
// has been connected; the command queue uses that instant for its staleness
// decision.
type Poller struct {
	source   Source
	interval time.Duration
	deviceID string
	l        *log.Logger

	mu             sync.Mutex
	current        *model.Snapshot
	connectedSince time.Time

	srcCh  chan *model.Snapshot
	bcst   broadcast.BroadcastServer[*model.Snapshot]
	cancel context.CancelFunc
	done   chan struct{}
}

type PollerOption func(*Poller)

func WithInterval(d time.Duration) PollerOption {
	return func(p *Poller) {
		p.interval = d
	}
}

func WithLogger(l *log.Logger) PollerOption {
	return func(p *Poller) {
		p.l = l
	}
}

func NewPoller(deviceID string, source Source, opts ...PollerOption) *Poller {
	ret := &Poller{
		source:   source,
		interval: defaultPollInterval,
		deviceID: deviceID,
		l:        log.Default().Named("telemetry"),
	}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

func (p *Poller) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.srcCh = make(chan *model.Snapshot)
	p.bcst = broadcast.NewBroadcastServer(p.deviceID, "telemetry", p.srcCh)
	p.done = make(chan struct{})
	go p.loop(ctx)
}

func (p *Poller) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
	p.bcst.Close()
}

func (p *Poller) loop(ctx context.Context) {
	defer close(p.done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Poller) tick(ctx context.Context) {
	if !p.source.Connected() {
		p.mu.Lock()
		if !p.connectedSince.IsZero() {
			p.l.Info("simulator disconnected")
		}
		p.connectedSince = time.Time{}
		p.current = nil
		p.mu.Unlock()
		return
	}
	p.mu.Lock()
	if p.connectedSince.IsZero() {
		p.connectedSince = time.Now()
		p.l.Info("simulator connected")
	}
	snap := p.source.CurrentSnapshot()
	p.current = snap
	p.mu.Unlock()
	if snap == nil {
		return
	}
	select {
	case p.srcCh <- snap:
	case <-ctx.Done():
	}
}

func (p *Poller) Connected() bool {
	return p.source.Connected()
}

// Current returns the most recent snapshot, nil while disconnected.
func (p *Poller) Current() *model.Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// ConnectedSince returns when the current connection was established,
// the zero time while disconnected.
func (p *Poller) ConnectedSince() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connectedSince
}

func (p *Poller) Subscribe() <-chan *model.Snapshot {
	return p.bcst.Subscribe()
}

func (p *Poller) CancelSubscription(ch <-chan *model.Snapshot) {
	p.bcst.CancelSubscription(ch)
}
