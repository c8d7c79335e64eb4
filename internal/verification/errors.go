package verification

import (
	"errors"

	dErrors "attestor/pkg/domain-errors"
)

// Kind is the typed failure a Verify call reports. Connector trouble is
// never a failure: it lowers the verdict, not the request.
type Kind string

const (
	KindInvalidRequest      Kind = "invalid_request"
	KindUnknownJurisdiction Kind = "unknown_jurisdiction"
	KindIssuanceFailed      Kind = "issuance_failed"
)

var (
	ErrInvalidRequest      = errors.New(string(KindInvalidRequest))
	ErrUnknownJurisdiction = errors.New(string(KindUnknownJurisdiction))
	ErrIssuanceFailed      = errors.New(string(KindIssuanceFailed))
)

func invalid(message string) error {
	return dErrors.Wrap(ErrInvalidRequest, dErrors.CodeInvalidInput, message)
}

func unknownJurisdiction(jurisdiction string) error {
	return dErrors.Wrap(ErrUnknownJurisdiction, dErrors.CodeBadRequest, "jurisdiction "+jurisdiction+" is not supported")
}

func issuanceFailed(err error) error {
	return dErrors.Wrap(errors.Join(ErrIssuanceFailed, err), dErrors.CodeInternal, "credential issuance failed")
}

// KindOf classifies err, or returns "" for errors this package did not produce.
func KindOf(err error) Kind {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return KindInvalidRequest
	case errors.Is(err, ErrUnknownJurisdiction):
		return KindUnknownJurisdiction
	case errors.Is(err, ErrIssuanceFailed):
		return KindIssuanceFailed
	}
	return ""
}
