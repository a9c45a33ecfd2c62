package scheduler

import (
	"context"
	"math/rand"
	"time"

	"github.com/francoislaurent/syncacre/errors"
	"github.com/francoislaurent/syncacre/index"
	"github.com/francoislaurent/syncacre/log"
	"github.com/francoislaurent/syncacre/maintain"
	"github.com/francoislaurent/syncacre/naming"
	"github.com/francoislaurent/syncacre/protocol"
	"github.com/francoislaurent/syncacre/relay"
	"github.com/francoislaurent/syncacre/sync"
)

// Worker drives one repository's scan loop (§4.7): single-threaded and
// cooperative, its only suspension points are adapter calls, local file
// I/O, and the interval sleep between scans, so cancellation checked at
// those points is prompt (§5, P7).
type Worker struct {
	Engine  *sync.Engine
	Adapter relay.Adapter
	Escaper *naming.Escaper
	Mailbox *protocol.Mailbox
	Index   *index.Index
	Root    string

	ScanInterval time.Duration
	ScanJitter   time.Duration
	Backoff      *Backoff

	// PlaceholderRetention is the forget horizon maintain.Sweep enforces
	// (§3, §9 Open Question). Zero disables sweeping.
	PlaceholderRetention time.Duration
	// SweepInterval paces how often a sweep is attempted; it defaults to
	// PlaceholderRetention/10 (floored at ScanInterval) so the horizon is
	// enforced without listing the whole relay on every scan tick.
	SweepInterval time.Duration

	Name string // repository name, for log context only.
}

// Run loops scans until ctx is cancelled. It never returns a non-nil
// error except errors.Cancelled, reported so a caller supervising
// several repositories (e.g. via golang.org/x/sync/errgroup) can treat
// Cancelled specially and every other path's failure as already handled
// internally (§7: "the scheduler never lets one repository's failure
// abort others").
func (w *Worker) Run(ctx context.Context) error {
	if w.Backoff == nil {
		w.Backoff = NewBackoff(time.Second, 2*time.Minute)
	}
	for {
		if err := w.Scan(ctx); err != nil && !errors.Is(errors.Cancelled, err) {
			log.Error.Printf("scheduler: repository %s: scan failed: %v", w.Name, err)
		}
		w.maybeSweep(ctx)

		wait := w.ScanInterval
		if w.ScanJitter > 0 {
			wait += time.Duration(rand.Int63n(int64(w.ScanJitter)))
		}
		select {
		case <-ctx.Done():
			return errors.E("scheduler.Worker.Run", errors.Cancelled, ctx.Err())
		case <-time.After(wait):
		}
	}
}

// Scan performs one full pass: snapshot relay and local state, decide an
// action per candidate path, and carry it out, never letting one path's
// failure abort the rest of the scan (§7).
func (w *Worker) Scan(ctx context.Context) error {
	const op = "scheduler.Worker.Scan"
	paths, err := candidates(ctx, w.Root, w.Adapter, w.Escaper, w.Index)
	if err != nil {
		return errors.E(op, err)
	}

	for _, p := range paths {
		select {
		case <-ctx.Done():
			return errors.E(op, errors.Cancelled, ctx.Err())
		default:
		}
		if !w.Backoff.Ready(string(p)) {
			continue
		}
		w.processPath(ctx, p)
	}

	return w.Index.SetLastFullScan(time.Now())
}

func (w *Worker) processPath(ctx context.Context, p naming.LogicalPath) {
	entry, hadEntry, err := w.Index.Get(p)
	if err != nil {
		log.Error.Printf("scheduler: %s: index lookup failed: %v", p, err)
		return
	}

	local, data, err := w.Engine.LocalState(p, entry, hadEntry)
	if err != nil {
		log.Error.Printf("scheduler: %s: local state: %v", p, err)
		return
	}
	remote, ph, err := w.Engine.RemoteState(ctx, p, entry, hadEntry)
	if err != nil {
		w.noteTransient(p, err)
		return
	}

	owner := hadEntry && entry.PushedVersion > 0 && entry.PushedVersion == ph.Version
	action := sync.Decide(local, remote, owner)

	if !w.gateAllowed(ctx, p, entry, action) {
		return
	}

	var opErr error
	switch action {
	case sync.Skip:
		return
	case sync.Pull:
		opErr = w.Engine.Pull(ctx, p, ph)
	case sync.Push:
		opErr = w.Engine.Push(ctx, p, data)
	case sync.ConflictAction:
		opErr = w.Engine.ResolveConflict(ctx, p, data, ph)
	case sync.RecordDeletion:
		opErr = w.Engine.ApplyDeletion(ctx, p, ph)
	}

	if opErr == nil {
		w.Backoff.Reset(string(p))
		return
	}
	switch {
	case errors.Is(errors.Busy, opErr), errors.Is(errors.RelayTransient, opErr):
		w.noteTransient(p, opErr)
	case errors.Is(errors.IntegrityError, opErr):
		log.Error.Printf("scheduler: %s: integrity error, payload quarantined: %v", p, opErr)
	case errors.Is(errors.ConflictError, opErr):
		log.Info.Printf("scheduler: %s: conflict halted, left for next scan: %v", p, opErr)
	default:
		log.Error.Printf("scheduler: %s: %v", p, opErr)
	}
}

// maybeSweep invokes maintain.Sweep at most once per SweepInterval,
// tracked across restarts via the index's last-sweep counter, so the
// placeholder forget horizon (§3, §9) is enforced without re-listing the
// whole relay on every scan tick.
func (w *Worker) maybeSweep(ctx context.Context) {
	if w.PlaceholderRetention <= 0 {
		return
	}
	interval := w.SweepInterval
	if interval <= 0 {
		interval = w.PlaceholderRetention / 10
		if interval < w.ScanInterval {
			interval = w.ScanInterval
		}
	}
	last, err := w.Index.LastSweep()
	if err != nil {
		log.Debug.Printf("scheduler: repository %s: last sweep lookup failed: %v", w.Name, err)
		return
	}
	if time.Since(last) < interval {
		return
	}
	n, err := maintain.Sweep(ctx, w.Adapter, w.PlaceholderRetention)
	if err != nil {
		if !errors.Is(errors.Cancelled, err) {
			log.Error.Printf("scheduler: repository %s: sweep failed: %v", w.Name, err)
		}
		return
	}
	if n > 0 {
		log.Info.Printf("scheduler: repository %s: sweep removed %d placeholder(s)", w.Name, n)
	}
	if err := w.Index.SetLastSweep(time.Now()); err != nil {
		log.Debug.Printf("scheduler: repository %s: recording sweep time failed: %v", w.Name, err)
	}
}

func (w *Worker) noteTransient(p naming.LogicalPath, err error) {
	delay := w.Backoff.Note(string(p))
	log.Debug.Printf("scheduler: %s: deferred %v: %v", p, delay, err)
}

// gateAllowed consults the path's access modifiers before a push or
// pull is attempted (§4.5, §4.6, §6). A Gated mode requires a grant
// message addressed to this pseudonym, younger than the placeholder
// (§9 Open Question resolution).
func (w *Worker) gateAllowed(ctx context.Context, p naming.LogicalPath, entry index.IndexEntry, action sync.Action) bool {
	switch action {
	case sync.Pull:
		return w.checkFlag(ctx, p, entry.Access.Read)
	case sync.Push:
		return w.checkFlag(ctx, p, entry.Access.Write)
	default:
		return true
	}
}

func (w *Worker) checkFlag(ctx context.Context, p naming.LogicalPath, flag index.AccessFlag) bool {
	switch flag {
	case index.Denied:
		return false
	case index.Gated:
		ph, err := w.Engine.Placeholders.Get(ctx, p)
		if err != nil {
			return false
		}
		granted, _ := protocol.GrantPresent(ctx, w.Mailbox, p, ph)
		if granted {
			return true
		}
		w.requestGrant(ctx, p, ph)
		return false
	default:
		return true
	}
}

// requestGrant sends a best-effort access-request message to the
// placeholder's advertiser, so the §9 gating handshake can complete
// without out-of-band operator action: the advertiser (or whoever acts
// on their behalf) sees the request on their next scan and answers with
// maintain.Grant. Failures are logged, not fatal; the request is simply
// retried on the next scan.
func (w *Worker) requestGrant(ctx context.Context, p naming.LogicalPath, ph protocol.Placeholder) {
	if ph.Sender == "" || ph.Sender == w.Mailbox.Pseudonym {
		return
	}
	m := protocol.Message{
		Kind:      protocol.KindAccessRequest,
		From:      w.Mailbox.Pseudonym,
		To:        ph.Sender,
		Timestamp: time.Now(),
	}
	if err := w.Mailbox.Send(ctx, p, m); err != nil {
		log.Debug.Printf("scheduler: %s: access request failed: %v", p, err)
	}
}
