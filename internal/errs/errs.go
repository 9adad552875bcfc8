package errs

import "errors"

var (
	ErrCaseNotFound         = errors.New("case not found")
	ErrAlreadyEscalated     = errors.New("case already escalated")
	ErrCaseNotEscalated     = errors.New("case was not escalated")
	ErrEscalationNotAllowed = errors.New("escalation not enabled for this jurisdiction")
	ErrNoAuthorityContact   = errors.New("no authority email configured for this jurisdiction")
	ErrEmailSendFailed      = errors.New("failed to send email")
	ErrNoCaseIDFound        = errors.New("no valid case id found in recipient address")
	ErrInvalidSignature     = errors.New("invalid webhook signature")
	ErrSweepInProgress      = errors.New("escalation sweep already in progress")
	ErrDuplicateDelivery    = errors.New("inbound email already recorded")
)

// Retryable reports whether the caller may safely re-invoke the whole operation.
func Retryable(err error) bool {
	return errors.Is(err, ErrEmailSendFailed)
}
