package license

import "lcpcli/internal/lcpclient"

// ValidatedDocuments is the terminal payload of a successful run. License is
// always present. Exactly one of Context and StatusError is populated: either
// the integrity check produced a DRM context, or the license parsed and was
// status-checked but is not currently usable.
type ValidatedDocuments struct {
	License     *LicenseDocument
	Status      *StatusDocument
	Context     *lcpclient.Context
	StatusError *ValidationError
	Passphrase  string
}

// State is one of the finite states driving the engine. States are immutable
// values; the payload a state carries is exactly what its effect needs.
type State interface {
	stateName() string
	terminal() bool
}

// StateStart is the initial state, before any work is done
type StateStart struct{}

// StateValidateLicense holds raw license bytes awaiting parse. Status is
// non-nil when the bytes came from a status-driven refresh, in which case the
// status fetch is not repeated.
type StateValidateLicense struct {
	Data   []byte
	Status *StatusDocument
}

// StateFetchStatus has a parsed license and a status fetch in flight
type StateFetchStatus struct {
	License *LicenseDocument
}

// StateValidateStatus holds raw status bytes awaiting parse. License is nil
// when the run was entered with a status document.
type StateValidateStatus struct {
	License *LicenseDocument
	Data    []byte
}

// StateFetchLicense fetches a fresher license advertised by the status server
type StateFetchLicense struct {
	License *LicenseDocument
	Status  *StatusDocument
}

// StateCheckLicenseStatus reconciles the rights window with the status value
type StateCheckLicenseStatus struct {
	License *LicenseDocument
	Status  *StatusDocument
}

// StateRetrievePassphrase queries the store and possibly prompts the user
type StateRetrievePassphrase struct {
	License *LicenseDocument
	Status  *StatusDocument
}

// StateValidateIntegrity invokes the native crypto to build a DRM context
type StateValidateIntegrity struct {
	License    *LicenseDocument
	Status     *StatusDocument
	Passphrase string
}

// StateRegisterDevice performs the optional device registration round trip
type StateRegisterDevice struct {
	Documents ValidatedDocuments
	Link      Link
}

// StateValid is the terminal success state
type StateValid struct {
	Documents ValidatedDocuments
}

// StateFailure is the terminal failure state
type StateFailure struct {
	Err *ValidationError
}

// StateCancelled is the terminal state reached when the user declines the
// passphrase prompt
type StateCancelled struct{}

func (StateStart) stateName() string              { return "start" }
func (StateValidateLicense) stateName() string    { return "validate_license" }
func (StateFetchStatus) stateName() string        { return "fetch_status" }
func (StateValidateStatus) stateName() string     { return "validate_status" }
func (StateFetchLicense) stateName() string       { return "fetch_license" }
func (StateCheckLicenseStatus) stateName() string { return "check_license_status" }
func (StateRetrievePassphrase) stateName() string { return "retrieve_passphrase" }
func (StateValidateIntegrity) stateName() string  { return "validate_integrity" }
func (StateRegisterDevice) stateName() string     { return "register_device" }
func (StateValid) stateName() string              { return "valid" }
func (StateFailure) stateName() string            { return "failure" }
func (StateCancelled) stateName() string          { return "cancelled" }

func (StateStart) terminal() bool              { return false }
func (StateValidateLicense) terminal() bool    { return false }
func (StateFetchStatus) terminal() bool        { return false }
func (StateValidateStatus) terminal() bool     { return false }
func (StateFetchLicense) terminal() bool       { return false }
func (StateCheckLicenseStatus) terminal() bool { return false }
func (StateRetrievePassphrase) terminal() bool { return false }
func (StateValidateIntegrity) terminal() bool  { return false }
func (StateRegisterDevice) terminal() bool     { return false }
func (StateValid) terminal() bool              { return true }
func (StateFailure) terminal() bool            { return true }
func (StateCancelled) terminal() bool          { return true }

// Event is one of the finite events advancing the engine
type Event interface {
	eventName() string
}

// EventRetrievedLicenseData carries raw license bytes into the machine
type EventRetrievedLicenseData struct {
	Data []byte
}

// EventRetrievedStatusData carries raw status bytes into the machine
type EventRetrievedStatusData struct {
	Data []byte
}

// EventValidatedLicense reports a successfully parsed license
type EventValidatedLicense struct {
	License *LicenseDocument
}

// EventValidatedStatus reports a successfully parsed status document
type EventValidatedStatus struct {
	Status *StatusDocument
}

// EventCheckedLicenseStatus reports the outcome of the status reconciliation.
// Err is nil when the license is currently usable.
type EventCheckedLicenseStatus struct {
	Err *ValidationError
}

// EventRetrievedPassphrase carries the passphrase that will be tried
type EventRetrievedPassphrase struct {
	Passphrase string
}

// EventValidatedIntegrity carries the DRM context the crypto layer produced
type EventValidatedIntegrity struct {
	Context *lcpclient.Context
}

// EventRegisteredDevice reports device registration, with the updated status
// bytes when the server returned any
type EventRegisteredDevice struct {
	Data []byte
}

// EventFailed aborts the run with the given error
type EventFailed struct {
	Err *ValidationError
}

// EventCancelled reports that the user declined the passphrase prompt
type EventCancelled struct{}

func (EventRetrievedLicenseData) eventName() string { return "retrieved_license_data" }
func (EventRetrievedStatusData) eventName() string  { return "retrieved_status_data" }
func (EventValidatedLicense) eventName() string     { return "validated_license" }
func (EventValidatedStatus) eventName() string      { return "validated_status" }
func (EventCheckedLicenseStatus) eventName() string { return "checked_license_status" }
func (EventRetrievedPassphrase) eventName() string  { return "retrieved_passphrase" }
func (EventValidatedIntegrity) eventName() string   { return "validated_integrity" }
func (EventRegisteredDevice) eventName() string     { return "registered_device" }
func (EventFailed) eventName() string               { return "failed" }
func (EventCancelled) eventName() string            { return "cancelled" }
