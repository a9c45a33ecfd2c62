package maintain

import (
	"context"
	"time"

	"github.com/francoislaurent/syncacre/errors"
	"github.com/francoislaurent/syncacre/naming"
	"github.com/francoislaurent/syncacre/protocol"
	"github.com/francoislaurent/syncacre/relay"
)

// Sweep deletes placeholders that have been consumed or that advertise a
// deletion (a tombstone) for longer than retention, the §3/§9 "forget
// horizon": a placeholder still advertising a live, unconsumed version is
// never touched regardless of age, since deleting it would erase sync
// state a peer has not yet observed. It returns the number of
// placeholders removed, grounded structurally on Migrate's
// list-then-iterate shape.
func Sweep(ctx context.Context, adapter relay.Adapter, retention time.Duration) (int, error) {
	const op = "maintain.Sweep"
	if retention <= 0 {
		return 0, nil
	}

	infos, err := adapter.List(ctx, "")
	if err != nil {
		return 0, errors.E(op, errors.RelayTransient, err)
	}

	cutoff := time.Now().Add(-retention)
	swept := 0
	for _, info := range infos {
		select {
		case <-ctx.Done():
			return swept, errors.E(op, errors.Cancelled, ctx.Err())
		default:
		}

		_, cat, _ := naming.ParseRelayName(info.Name)
		if cat != naming.Placeholder {
			continue
		}

		data, err := adapter.Get(ctx, info.Name)
		if err != nil {
			continue // gone or unreadable; next sweep will retry or skip it.
		}
		ph, err := protocol.ParsePlaceholder(data)
		if err != nil {
			continue
		}
		if ph.Sender != "" && !ph.IsTombstone() {
			continue // still advertising a live, unconsumed version.
		}
		if ph.Timestamp.After(cutoff) {
			continue // not old enough yet.
		}

		if err := adapter.Delete(ctx, info.Name); err != nil {
			return swept, errors.E(op, info.Name, errors.RelayTransient, err)
		}
		swept++
	}
	return swept, nil
}
