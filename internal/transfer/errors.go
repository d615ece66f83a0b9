package transfer

import "fmt"

// Kind classifies a submission failure.
type Kind string

const (
	KindInvalidAddress       Kind = "invalid_address"
	KindInvalidAmount        Kind = "invalid_amount"
	KindInsufficientFunds    Kind = "insufficient_funds"
	KindTransferFailed       Kind = "transfer_failed"
	KindSubmissionInProgress Kind = "submission_in_progress"
)

// Sentinels for errors.Is. They match any *Error of the same kind.
var (
	ErrInvalidAddress       = &Error{Kind: KindInvalidAddress, Message: "invalid recipient address"}
	ErrInvalidAmount        = &Error{Kind: KindInvalidAmount, Message: "amount must be greater than zero"}
	ErrInsufficientFunds    = &Error{Kind: KindInsufficientFunds, Message: "insufficient funds"}
	ErrTransferFailed       = &Error{Kind: KindTransferFailed, Message: "transfer failed"}
	ErrSubmissionInProgress = &Error{Kind: KindSubmissionInProgress, Message: "a transfer with the same parameters is already in progress"}
)

// Error is returned by Submitter. Message is meant to be shown to the user verbatim.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func newError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}
