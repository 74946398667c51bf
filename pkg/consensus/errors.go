package consensus

import "errors"

var (
	// ErrNotLeader rejects a proposal on a non-leader; the caller should
	// redirect to the node identified by Protocol.Leader.
	ErrNotLeader = errors.New("consensus: not leader")
	// ErrLeadershipLost aborts an in-flight proposal whose outcome became
	// unknown because the leader or the active mode changed. The caller
	// must re-propose; the layer performs no automatic retry.
	ErrLeadershipLost = errors.New("consensus: leadership lost")
	// ErrTimeout reports an RPC round-trip exceeding its budget.
	ErrTimeout = errors.New("consensus: rpc timeout")
	// ErrNoQuorum reports that no live majority exists to commit.
	ErrNoQuorum = errors.New("consensus: no quorum")
	// ErrLogConflict is returned by the log when the consistency check at
	// (prevIndex, prevTerm) fails.
	ErrLogConflict = errors.New("consensus: log conflict")
	// ErrCommitted rejects truncation at or below the commit index.
	ErrCommitted = errors.New("consensus: entry already committed")
	// ErrCorruptEntry reports an integrity-check failure on replay. It is
	// fatal and requires recovery mode.
	ErrCorruptEntry = errors.New("consensus: corrupt log entry")
	// ErrRecovering rejects proposals while the engine is in recovery.
	ErrRecovering = errors.New("consensus: recovery in progress")
	// ErrProposalLimit reports that the proposed-but-uncommitted watermark
	// is exceeded.
	ErrProposalLimit = errors.New("consensus: too many proposals in flight")
	// ErrStopped reports use of a stopped component.
	ErrStopped = errors.New("consensus: stopped")
)

// IsRetryable reports whether a proposal error is safe to retry after
// re-resolving the leader.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrNotLeader) ||
		errors.Is(err, ErrLeadershipLost) ||
		errors.Is(err, ErrTimeout)
}
