// Package jicofoerr defines the sentinel error kinds of the conference control plane.
//
// Each kind maps to one outcome (spec.md §7): callers compose these with fmt.Errorf's
// %w verb and switch on errors.Is, the same wrapping idiom the teacher uses for
// config.ErrNoConfigEnvVar and common.ErrWorkerClosed.
package jicofoerr

import "errors"

var (
	// ErrTimeout is returned when an outgoing request received no response within budget.
	ErrTimeout = errors.New("jicofo: timeout")

	// ErrBridgeUnavailable means no bridge satisfies the selection constraints.
	ErrBridgeUnavailable = errors.New("jicofo: no bridge available")

	// ErrBridgeFailedDuringAllocation means the allocation IQ to a bridge failed.
	ErrBridgeFailedDuringAllocation = errors.New("jicofo: bridge failed during allocation")

	// ErrBridgeInGracefulShutdown means the selected bridge is draining.
	ErrBridgeInGracefulShutdown = errors.New("jicofo: bridge in graceful shutdown")

	// ErrAllocationFailed means the bridge returned an error condition for create-endpoint.
	ErrAllocationFailed = errors.New("jicofo: allocation failed")

	// ErrParticipantAlreadyInvited means a duplicate invite was requested.
	ErrParticipantAlreadyInvited = errors.New("jicofo: participant already invited")

	// ErrSsrcLimitExceeded means a per-endpoint source or group limit (I3) was exceeded.
	ErrSsrcLimitExceeded = errors.New("jicofo: ssrc limit exceeded")

	// ErrSsrcConflict means a source is already owned by a different endpoint (I1).
	ErrSsrcConflict = errors.New("jicofo: ssrc conflict")

	// ErrGroupInconsistent means a group references an ssrc that does not exist on the
	// endpoint/kind (I2).
	ErrGroupInconsistent = errors.New("jicofo: group inconsistent")

	// ErrRateLimited means the restart rate limiter rejected a request.
	ErrRateLimited = errors.New("jicofo: rate limited")

	// ErrNotAllowed means a role-based denial (mute/unmute/pin).
	ErrNotAllowed = errors.New("jicofo: not allowed")

	// ErrPeerUnavailable means a stanza send to the peer failed.
	ErrPeerUnavailable = errors.New("jicofo: peer unavailable")

	// ErrFatal means a configuration or startup invariant was violated; the process exits.
	ErrFatal = errors.New("jicofo: fatal")

	// ErrSendFailed means the transport failed to deliver a stanza.
	ErrSendFailed = errors.New("jicofo: send failed")
)
