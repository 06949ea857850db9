package license

import (
	"fmt"
	"time"
)

// ErrorKind enumerates the failure kinds a validation run can produce
type ErrorKind string

const (
	// KindProfileNotSupported means the license uses an encryption profile
	// outside the supported set
	KindProfileNotSupported ErrorKind = "profile_not_supported"
	// KindNetwork covers transport and timeout failures
	KindNetwork ErrorKind = "network"
	// KindParsing covers malformed license or status documents
	KindParsing ErrorKind = "parsing"
	// KindIntegrity means the crypto layer rejected the license, passphrase
	// or CRL combination
	KindIntegrity ErrorKind = "integrity"
	// KindContainer surfaces from the license container collaborator
	KindContainer ErrorKind = "container"
	// KindRuntime marks programmer errors such as illegal transitions
	KindRuntime ErrorKind = "runtime"

	// License-status kinds: the license parsed and was status-checked, but is
	// not currently usable
	KindStatusNotStarted ErrorKind = "status_not_started"
	KindStatusExpired    ErrorKind = "status_expired"
	KindStatusReturned   ErrorKind = "status_returned"
	KindStatusRevoked    ErrorKind = "status_revoked"
	KindStatusCancelled  ErrorKind = "status_cancelled"
)

// ValidationError is the structured failure payload of the engine. The engine
// emits only a message id and structured args; rendering a localized message
// is left to the caller's localization repository.
type ValidationError struct {
	Kind    ErrorKind
	Date    *time.Time
	Count   int
	Message string
	Cause   error
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	switch e.Kind {
	case KindProfileNotSupported:
		return "license encryption profile is not supported"
	case KindNetwork:
		if e.Cause != nil {
			return fmt.Sprintf("network failure: %v", e.Cause)
		}
		return "network failure"
	case KindParsing:
		if e.Cause != nil {
			return fmt.Sprintf("document parsing failed: %v", e.Cause)
		}
		return "document parsing failed"
	case KindIntegrity:
		if e.Cause != nil {
			return fmt.Sprintf("license integrity check failed: %v", e.Cause)
		}
		return "license integrity check failed"
	case KindContainer:
		return "failed to open the license container"
	case KindRuntime:
		return e.Message
	case KindStatusNotStarted:
		return fmt.Sprintf("license is not usable before %s", e.dateString())
	case KindStatusExpired:
		return fmt.Sprintf("license expired on %s", e.dateString())
	case KindStatusReturned:
		return fmt.Sprintf("license was returned on %s", e.dateString())
	case KindStatusRevoked:
		return fmt.Sprintf("license was revoked on %s after %d registrations", e.dateString(), e.Count)
	case KindStatusCancelled:
		return fmt.Sprintf("license was cancelled on %s", e.dateString())
	default:
		return string(e.Kind)
	}
}

func (e *ValidationError) dateString() string {
	if e.Date == nil {
		return "an unknown date"
	}
	return e.Date.Format(time.RFC3339)
}

// Unwrap exposes the nested cause for errors.Is / errors.As
func (e *ValidationError) Unwrap() error {
	return e.Cause
}

// MessageID returns the localization identifier for this error
func (e *ValidationError) MessageID() string {
	return "lcp_error_" + string(e.Kind)
}

// MessageArgs returns the structured arguments the localized message needs
func (e *ValidationError) MessageArgs() map[string]interface{} {
	args := make(map[string]interface{})
	if e.Date != nil {
		args["date"] = e.Date.Format(time.RFC3339)
	}
	if e.Count > 0 {
		args["count"] = e.Count
	}
	if e.Cause != nil {
		args["cause"] = e.Cause.Error()
	}
	return args
}

// Quantity returns the value driving plural forms, if any
func (e *ValidationError) Quantity() (int, bool) {
	if e.Kind == KindStatusRevoked {
		return e.Count, true
	}
	return 0, false
}

// IsStatusError reports whether the error describes a parsed but currently
// unusable license. Such errors terminate the run as Valid with the error
// attached rather than as Failure.
func (e *ValidationError) IsStatusError() bool {
	switch e.Kind {
	case KindStatusNotStarted, KindStatusExpired, KindStatusReturned,
		KindStatusRevoked, KindStatusCancelled:
		return true
	}
	return false
}

// ErrProfileNotSupported reports an unsupported encryption profile
func ErrProfileNotSupported() *ValidationError {
	return &ValidationError{Kind: KindProfileNotSupported}
}

// ErrNetwork wraps a transport failure
func ErrNetwork(cause error) *ValidationError {
	return &ValidationError{Kind: KindNetwork, Cause: cause}
}

// ErrParsing wraps a document parsing failure
func ErrParsing(cause error) *ValidationError {
	return &ValidationError{Kind: KindParsing, Cause: cause}
}

// ErrIntegrity wraps a native crypto rejection
func ErrIntegrity(cause error) *ValidationError {
	return &ValidationError{Kind: KindIntegrity, Cause: cause}
}

// ErrContainer reports a container open failure
func ErrContainer() *ValidationError {
	return &ValidationError{Kind: KindContainer}
}

// ErrRuntime reports a programmer error
func ErrRuntime(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Kind: KindRuntime, Message: fmt.Sprintf(format, args...)}
}

// ErrNotStarted reports a license whose rights window has not opened
func ErrNotStarted(start time.Time) *ValidationError {
	return &ValidationError{Kind: KindStatusNotStarted, Date: &start}
}

// ErrExpired reports a license whose rights window has closed
func ErrExpired(end time.Time) *ValidationError {
	return &ValidationError{Kind: KindStatusExpired, Date: &end}
}

// ErrReturned reports a license returned by the user
func ErrReturned(date time.Time) *ValidationError {
	return &ValidationError{Kind: KindStatusReturned, Date: &date}
}

// ErrRevoked reports a license revoked by the provider, with the number of
// device registrations recorded at revocation time
func ErrRevoked(date time.Time, count int) *ValidationError {
	return &ValidationError{Kind: KindStatusRevoked, Date: &date, Count: count}
}

// ErrStatusCancelled reports a license cancelled by the provider
func ErrStatusCancelled(date time.Time) *ValidationError {
	return &ValidationError{Kind: KindStatusCancelled, Date: &date}
}
