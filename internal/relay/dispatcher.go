package relay

import (
	"context"

	"relaybot/internal/model"
	logx "relaybot/pkg/logx"
)

// Dispatcher is the relay entry point for the ingestion handler. Pure
// routing: album items go to the coalescer, everything else fans out
// immediately.
type Dispatcher struct {
	relayer *Relayer
	albums  *Coalescer
	log     logx.Logger
}

func NewDispatcher(relayer *Relayer, albums *Coalescer, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{relayer: relayer, albums: albums, log: log}
}

// Dispatch routes one inbound unit. For album items the outcome is not
// known until the buffer flushes, so the zero Outcome is returned.
func (d *Dispatcher) Dispatch(ctx context.Context, item model.Item) (Outcome, error) {
	if item.AlbumID != "" {
		d.albums.Add(ctx, item)
		return Outcome{}, nil
	}
	out, err := d.relayer.Relay(ctx, item)
	if err != nil {
		d.log.Error("relay failed", logx.Int64("sender", item.SenderID), logx.Int("msg_id", item.MsgID), logx.Err(err))
		return out, err
	}
	return out, nil
}
