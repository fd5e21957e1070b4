package jicofoerr

import (
	"errors"

	"mellium.im/xmpp/stanza"
)

// ToStanzaError translates a sentinel from this package into the stanza.Error spec.md §7
// says a Jingle IQ response must carry, so a client can distinguish "your source-add was
// malformed" from "this bridge is over capacity" instead of seeing mellium's generic
// undefined-condition fallback for an unrecognized Go error. Errors not produced by this
// package, or not matching any case below, fall through to UndefinedCondition/Cancel.
func ToStanzaError(err error) stanza.Error {
	switch {
	case errors.Is(err, ErrSsrcLimitExceeded), errors.Is(err, ErrSsrcConflict), errors.Is(err, ErrGroupInconsistent):
		return stanza.Error{Type: stanza.Modify, Condition: stanza.BadRequest, Err: err}
	case errors.Is(err, ErrRateLimited):
		return stanza.Error{Type: stanza.Wait, Condition: stanza.ResourceConstraint, Err: err}
	case errors.Is(err, ErrNotAllowed):
		return stanza.Error{Type: stanza.Cancel, Condition: stanza.NotAllowed, Err: err}
	case errors.Is(err, ErrParticipantAlreadyInvited):
		return stanza.Error{Type: stanza.Cancel, Condition: stanza.Conflict, Err: err}
	case errors.Is(err, ErrBridgeUnavailable), errors.Is(err, ErrBridgeInGracefulShutdown):
		return stanza.Error{Type: stanza.Wait, Condition: stanza.ServiceUnavailable, Err: err}
	case errors.Is(err, ErrBridgeFailedDuringAllocation), errors.Is(err, ErrAllocationFailed):
		return stanza.Error{Type: stanza.Wait, Condition: stanza.InternalServerError, Err: err}
	case errors.Is(err, ErrTimeout):
		return stanza.Error{Type: stanza.Wait, Condition: stanza.RemoteServerTimeout, Err: err}
	case errors.Is(err, ErrPeerUnavailable), errors.Is(err, ErrSendFailed):
		return stanza.Error{Type: stanza.Cancel, Condition: stanza.RecipientUnavailable, Err: err}
	case errors.Is(err, ErrFatal):
		return stanza.Error{Type: stanza.Cancel, Condition: stanza.InternalServerError, Err: err}
	default:
		return stanza.Error{Type: stanza.Cancel, Condition: stanza.UndefinedCondition, Err: err}
	}
}
