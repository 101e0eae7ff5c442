package nats

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/simrigs/rig-commander/log"
	"github.com/simrigs/rig-commander/pkg/model"
)

// Push delivers newly created commands over a per-device NATS subject. It
// only covers the realtime channel; fetch and status write-back stay with
// the regular transport it is paired with.
type Push struct {
	conn     *nats.Conn
	deviceID string
	l        *log.Logger
}

type Option func(*Push)

func WithLogger(l *log.Logger) Option {
	return func(p *Push) { p.l = l }
}

func NewPush(conn *nats.Conn, deviceID string, opts ...Option) *Push {
	ret := &Push{
		conn:     conn,
		deviceID: deviceID,
		l:        log.Default().Named("commands.nats"),
	}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

func subject(deviceID string) string {
	return fmt.Sprintf("rig.commands.%s", deviceID)
}

//nolint:whitespace // can't make both editor and linter happy
func (p *Push) Subscribe(
	ctx context.Context,
	handler func(cmd *model.Command),
) (func(), error) {
	sub, err := p.conn.Subscribe(subject(p.deviceID), func(msg *nats.Msg) {
		var cmd model.Command
		if err := json.Unmarshal(msg.Data, &cmd); err != nil {
			p.l.Warn("discarding malformed command payload", log.ErrorField(err))
			return
		}
		handler(&cmd)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject(p.deviceID), err)
	}
	p.l.Debug("subscribed", log.String("subject", subject(p.deviceID)))
	unsubscribe := func() {
		// best effort: a failed unsubscribe at shutdown is irrelevant
		if err := sub.Unsubscribe(); err != nil {
			p.l.Debug("unsubscribe failed", log.ErrorField(err))
		}
	}
	return unsubscribe, nil
}
