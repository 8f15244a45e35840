package power

import (
	"fmt"

	"github.com/Checker-Finance/panelbot/internal/report"
)

// OutcomeKind tags the result of a dispatch.
type OutcomeKind uint8

const (
	KindSuccess OutcomeKind = iota + 1
	KindMissingCredential
	KindRemoteError
	KindUnexpectedError
)

func (k OutcomeKind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindMissingCredential:
		return "missing_credential"
	case KindRemoteError:
		return "remote_error"
	case KindUnexpectedError:
		return "unexpected_error"
	}
	return "unknown"
}

// Outcome is the tagged result of Dispatch. StatusCode is set on success and
// on remote errors that carried a response. Err is set on both error kinds.
type Outcome struct {
	Kind       OutcomeKind
	StatusCode int
	Err        error
}

func Success(status int) Outcome { return Outcome{Kind: KindSuccess, StatusCode: status} }

func MissingCredential() Outcome { return Outcome{Kind: KindMissingCredential} }

func RemoteError(status int, err error) Outcome {
	return Outcome{Kind: KindRemoteError, StatusCode: status, Err: err}
}

func UnexpectedError(err error) Outcome { return Outcome{Kind: KindUnexpectedError, Err: err} }

// Message returns text suitable for showing the requesting user.
// Unexpected errors are not described beyond a generic line.
func (o Outcome) Message() string {
	switch o.Kind {
	case KindSuccess:
		return fmt.Sprintf("Request succeeded with status code %d", o.StatusCode)
	case KindMissingCredential:
		return "You don't have an API key set for this panel."
	case KindRemoteError:
		if o.Err != nil {
			return o.Err.Error()
		}
		return "The panel request failed."
	default:
		return "Something went wrong while running this command."
	}
}

// reportKind maps the outcome to a failure kind; ok is false for outcomes
// that are not reported.
func (o Outcome) reportKind() (report.Kind, bool) {
	switch o.Kind {
	case KindRemoteError:
		return report.KindRemote, true
	case KindUnexpectedError:
		return report.KindUnexpected, true
	}
	return "", false
}
