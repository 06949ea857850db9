package errors

import (
	"errors"
	"net/http"

	"github.com/go-chi/render"

	"lcpcli/internal/license"
)

// statusForKind maps an engine error kind to an HTTP status
func statusForKind(kind license.ErrorKind) int {
	switch kind {
	case license.KindProfileNotSupported:
		return http.StatusUnprocessableEntity
	case license.KindNetwork:
		return http.StatusServiceUnavailable
	case license.KindParsing:
		return http.StatusBadRequest
	case license.KindIntegrity:
		return http.StatusUnauthorized
	case license.KindContainer:
		return http.StatusUnprocessableEntity
	case license.KindStatusNotStarted, license.KindStatusExpired,
		license.KindStatusReturned, license.KindStatusRevoked,
		license.KindStatusCancelled:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// titleForKind returns a short human title for an engine error kind
func titleForKind(kind license.ErrorKind) string {
	switch kind {
	case license.KindProfileNotSupported:
		return "License Profile Not Supported"
	case license.KindNetwork:
		return "License Server Unreachable"
	case license.KindParsing:
		return "Malformed License Document"
	case license.KindIntegrity:
		return "License Integrity Check Failed"
	case license.KindContainer:
		return "License Container Unreadable"
	case license.KindStatusNotStarted:
		return "License Not Yet Usable"
	case license.KindStatusExpired:
		return "License Expired"
	case license.KindStatusReturned:
		return "License Returned"
	case license.KindStatusRevoked:
		return "License Revoked"
	case license.KindStatusCancelled:
		return "License Cancelled"
	default:
		return "License Validation Failed"
	}
}

// MapValidationError renders a validation failure as problem details. The
// engine emits a message id and structured args; both are forwarded so the
// client can localize.
func MapValidationError(err error, traceID string) render.Renderer {
	instance := "/api/license/validate#" + traceID

	var verr *license.ValidationError
	if !errors.As(err, &verr) {
		return ErrInternal(err, traceID)
	}

	pd := NewProblemDetails(
		statusForKind(verr.Kind),
		"/errors/lcp/"+string(verr.Kind),
		titleForKind(verr.Kind),
		verr.Error(),
		instance,
	).
		WithExtension("trace_id", traceID).
		WithExtension("message_id", verr.MessageID())

	if args := verr.MessageArgs(); len(args) > 0 {
		pd.WithExtension("message_args", args)
	}
	if quantity, ok := verr.Quantity(); ok {
		pd.WithExtension("quantity", quantity)
	}

	return pd
}
