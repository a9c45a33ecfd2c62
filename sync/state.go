// Package sync implements the synchronization engine of spec §4.6: for
// each LogicalPath, compute local/remote state, decide an action from
// the state cross product, and carry out push/pull under the C3 lock
// protocol. It is grounded structurally on client.go's Put/Get request
// shape (resolve location/backend, pack/unpack, verify, write), adapted
// from a directory-indirected model to the relay's placeholder-indirected
// model.
package sync

// LocalState classifies a local file relative to what the index last
// recorded for it.
type LocalState int

const (
	LocalAbsent LocalState = iota
	LocalUnchanged
	LocalModified
	LocalNew
)

func (s LocalState) String() string {
	switch s {
	case LocalAbsent:
		return "absent"
	case LocalUnchanged:
		return "unchanged"
	case LocalModified:
		return "modified"
	case LocalNew:
		return "new"
	}
	return "unknown"
}

// RemoteState classifies the relay's placeholder/payload presence for a
// LogicalPath relative to what was last pulled.
type RemoteState int

const (
	RemoteAbsent RemoteState = iota
	RemotePresentNew
	RemotePresentSame
	RemoteConsumed
)

func (s RemoteState) String() string {
	switch s {
	case RemoteAbsent:
		return "absent"
	case RemotePresentNew:
		return "present_new"
	case RemotePresentSame:
		return "present_same"
	case RemoteConsumed:
		return "consumed"
	}
	return "unknown"
}

// Action is the decision the engine reaches for one LogicalPath in one
// scan (§4.6).
type Action int

const (
	Skip Action = iota
	Pull
	Push
	ConflictAction
	RecordDeletion
)

func (a Action) String() string {
	switch a {
	case Skip:
		return "skip"
	case Pull:
		return "pull"
	case Push:
		return "push"
	case ConflictAction:
		return "conflict"
	case RecordDeletion:
		return "record-deletion"
	}
	return "unknown"
}

// Decide implements the §4.6 decision table. owner reports whether the
// index believes this client pushed the last consumed version, needed
// to resolve the unchanged/consumed row.
func Decide(local LocalState, remote RemoteState, owner bool) Action {
	switch {
	case local == LocalAbsent && remote == RemoteAbsent:
		return Skip
	case local == LocalAbsent && remote == RemotePresentNew:
		return Pull
	case local == LocalAbsent && remote == RemoteConsumed:
		return RecordDeletion
	case local == LocalNew && remote == RemoteAbsent:
		return Push
	case local == LocalNew && remote == RemotePresentNew:
		return ConflictAction
	case local == LocalModified && remote == RemotePresentSame:
		return Push
	case local == LocalModified && remote == RemotePresentNew:
		return ConflictAction
	case local == LocalUnchanged && remote == RemotePresentNew:
		return Pull
	case local == LocalUnchanged && remote == RemoteConsumed:
		if owner {
			return Push
		}
		return RecordDeletion
	}
	return Skip
}
