package sync

// Strategy is the conflict resolution policy chosen per repository at
// creation time; the choice is an invariant across the repository's
// lifetime (§4.6).
type Strategy int

const (
	// NewerWins keeps the later local mtime as canonical; the loser is
	// saved as a local sidecar and not pushed.
	NewerWins Strategy = iota
	// PullFirst always pulls the remote into a sidecar and preserves
	// the local file, leaving reconciliation to the user.
	PullFirst
	// Reject aborts the path with ConflictError, leaving it for the
	// next scan; intended for interactive modes.
	Reject
)

func (s Strategy) String() string {
	switch s {
	case NewerWins:
		return "newer-wins"
	case PullFirst:
		return "pull-first"
	case Reject:
		return "reject"
	}
	return "unknown"
}
