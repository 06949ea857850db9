package license

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parsedLicense(t *testing.T, opts licenseOpts) *LicenseDocument {
	t.Helper()
	doc, err := ParseLicense(makeLicenseJSON(t, opts))
	require.NoError(t, err)
	return doc
}

func parsedStatus(t *testing.T, opts statusOpts) *StatusDocument {
	t.Helper()
	doc, err := ParseStatus(makeStatusJSON(t, opts))
	require.NoError(t, err)
	return doc
}

func TestTransitionStart(t *testing.T) {
	tests := []struct {
		name  string
		event Event
		want  string
	}{
		{"license data enters validate license", EventRetrievedLicenseData{Data: []byte("{}")}, "validate_license"},
		{"status data enters validate status", EventRetrievedStatusData{Data: []byte("{}")}, "validate_status"},
		{"failure is terminal", EventFailed{Err: ErrNetwork(nil)}, "failure"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next := transition(StateStart{}, tt.event)
			assert.Equal(t, tt.want, next.stateName())
		})
	}
}

func TestTransitionValidateLicense(t *testing.T) {
	lic := parsedLicense(t, licenseOpts{statusURL: testStatusURL})

	t.Run("first pass fetches the status", func(t *testing.T) {
		next := transition(StateValidateLicense{Data: []byte("{}")}, EventValidatedLicense{License: lic})
		fetch, ok := next.(StateFetchStatus)
		require.True(t, ok)
		assert.Same(t, lic, fetch.License)
	})

	t.Run("refresh pass skips the status fetch", func(t *testing.T) {
		status := parsedStatus(t, statusOpts{})
		next := transition(StateValidateLicense{Data: []byte("{}"), Status: status}, EventValidatedLicense{License: lic})
		check, ok := next.(StateCheckLicenseStatus)
		require.True(t, ok)
		assert.Same(t, lic, check.License)
		assert.Same(t, status, check.Status)
	})
}

func TestTransitionFetchStatusFailureIsTolerated(t *testing.T) {
	lic := parsedLicense(t, licenseOpts{statusURL: testStatusURL})

	next := transition(StateFetchStatus{License: lic}, EventFailed{Err: ErrNetwork(assert.AnError)})

	check, ok := next.(StateCheckLicenseStatus)
	require.True(t, ok)
	assert.Same(t, lic, check.License)
	assert.Nil(t, check.Status)
}

func TestTransitionValidateStatus(t *testing.T) {
	updated := date("2022-01-01T00:00:00Z")
	lic := parsedLicense(t, licenseOpts{updated: &updated, statusURL: testStatusURL})

	t.Run("fresher server license triggers a refresh", func(t *testing.T) {
		status := parsedStatus(t, statusOpts{
			licenseUpdated: datePtr(date("2024-01-01T00:00:00Z")),
			licenseURL:     testLicenseURL,
		})
		next := transition(StateValidateStatus{License: lic, Data: nil}, EventValidatedStatus{Status: status})
		assert.IsType(t, StateFetchLicense{}, next)
	})

	t.Run("stale server license proceeds to the status check", func(t *testing.T) {
		status := parsedStatus(t, statusOpts{
			licenseUpdated: datePtr(date("2021-01-01T00:00:00Z")),
			licenseURL:     testLicenseURL,
		})
		next := transition(StateValidateStatus{License: lic}, EventValidatedStatus{Status: status})
		assert.IsType(t, StateCheckLicenseStatus{}, next)
	})

	t.Run("status-first run always fetches the license", func(t *testing.T) {
		status := parsedStatus(t, statusOpts{licenseURL: testLicenseURL})
		next := transition(StateValidateStatus{License: nil}, EventValidatedStatus{Status: status})
		assert.IsType(t, StateFetchLicense{}, next)
	})
}

func TestTransitionFetchLicenseFailure(t *testing.T) {
	lic := parsedLicense(t, licenseOpts{statusURL: testStatusURL})
	status := parsedStatus(t, statusOpts{licenseURL: testLicenseURL})

	t.Run("held license survives a failed refresh", func(t *testing.T) {
		next := transition(StateFetchLicense{License: lic, Status: status}, EventFailed{Err: ErrNetwork(assert.AnError)})
		check, ok := next.(StateCheckLicenseStatus)
		require.True(t, ok)
		assert.Same(t, lic, check.License)
		assert.Same(t, status, check.Status)
	})

	t.Run("no held license aborts", func(t *testing.T) {
		next := transition(StateFetchLicense{License: nil, Status: status}, EventFailed{Err: ErrNetwork(assert.AnError)})
		assert.IsType(t, StateFailure{}, next)
	})
}

func TestTransitionCheckLicenseStatus(t *testing.T) {
	lic := parsedLicense(t, licenseOpts{})

	t.Run("usable license proceeds to passphrase", func(t *testing.T) {
		next := transition(StateCheckLicenseStatus{License: lic}, EventCheckedLicenseStatus{})
		assert.IsType(t, StateRetrievePassphrase{}, next)
	})

	t.Run("status error terminates as valid with the error attached", func(t *testing.T) {
		end := date("2020-01-01T00:00:00Z")
		next := transition(StateCheckLicenseStatus{License: lic}, EventCheckedLicenseStatus{Err: ErrExpired(end)})

		valid, ok := next.(StateValid)
		require.True(t, ok)
		assert.Same(t, lic, valid.Documents.License)
		assert.Nil(t, valid.Documents.Context)
		require.NotNil(t, valid.Documents.StatusError)
		assert.Equal(t, KindStatusExpired, valid.Documents.StatusError.Kind)
	})
}

func TestTransitionRetrievePassphrase(t *testing.T) {
	lic := parsedLicense(t, licenseOpts{})

	t.Run("passphrase proceeds to integrity", func(t *testing.T) {
		next := transition(StateRetrievePassphrase{License: lic}, EventRetrievedPassphrase{Passphrase: "hunter2"})
		integrity, ok := next.(StateValidateIntegrity)
		require.True(t, ok)
		assert.Equal(t, "hunter2", integrity.Passphrase)
	})

	t.Run("decline cancels the run", func(t *testing.T) {
		next := transition(StateRetrievePassphrase{License: lic}, EventCancelled{})
		assert.IsType(t, StateCancelled{}, next)
	})
}

func TestTransitionValidateIntegrity(t *testing.T) {
	lic := parsedLicense(t, licenseOpts{})

	t.Run("register link routes through device registration", func(t *testing.T) {
		status := parsedStatus(t, statusOpts{registerURL: testRegisterURL})
		next := transition(
			StateValidateIntegrity{License: lic, Status: status, Passphrase: "hunter2"},
			EventValidatedIntegrity{Context: nil},
		)
		register, ok := next.(StateRegisterDevice)
		require.True(t, ok)
		assert.True(t, register.Link.HasRel(RelRegister))
	})

	t.Run("no register link terminates as valid", func(t *testing.T) {
		status := parsedStatus(t, statusOpts{})
		next := transition(
			StateValidateIntegrity{License: lic, Status: status, Passphrase: "hunter2"},
			EventValidatedIntegrity{},
		)
		assert.IsType(t, StateValid{}, next)
	})

	t.Run("no status document terminates as valid", func(t *testing.T) {
		next := transition(
			StateValidateIntegrity{License: lic, Passphrase: "hunter2"},
			EventValidatedIntegrity{},
		)
		assert.IsType(t, StateValid{}, next)
	})
}

func TestTransitionRegisterDevice(t *testing.T) {
	lic := parsedLicense(t, licenseOpts{})
	documents := ValidatedDocuments{License: lic}

	next := transition(StateRegisterDevice{Documents: documents}, EventRegisteredDevice{Data: []byte("{}")})

	valid, ok := next.(StateValid)
	require.True(t, ok)
	assert.Same(t, lic, valid.Documents.License)
}

func TestTransitionTerminalStatesAbsorbEvents(t *testing.T) {
	terminals := []State{
		StateValid{},
		StateFailure{Err: ErrNetwork(nil)},
		StateCancelled{},
	}
	events := []Event{
		EventRetrievedLicenseData{},
		EventValidatedLicense{},
		EventFailed{Err: ErrRuntime("late failure")},
		EventCancelled{},
	}

	for _, s := range terminals {
		for _, e := range events {
			next := transition(s, e)
			assert.Equal(t, s.stateName(), next.stateName(),
				"terminal %s must absorb %s", s.stateName(), e.eventName())
		}
	}
}

func TestTransitionIllegalPairFails(t *testing.T) {
	tests := []struct {
		name  string
		state State
		event Event
	}{
		{"passphrase before start", StateStart{}, EventRetrievedPassphrase{Passphrase: "p"}},
		{"integrity during fetch", StateFetchStatus{}, EventValidatedIntegrity{}},
		{"device registration during parse", StateValidateLicense{}, EventRegisteredDevice{}},
		{"status data during passphrase", StateRetrievePassphrase{}, EventRetrievedStatusData{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next := transition(tt.state, tt.event)
			failure, ok := next.(StateFailure)
			require.True(t, ok)
			assert.Equal(t, KindRuntime, failure.Err.Kind)
		})
	}
}

func TestTransitionTotalOverAllStates(t *testing.T) {
	// Every state must produce some next state for every event; the mapping
	// never panics and never returns nil.
	lic := parsedLicense(t, licenseOpts{})
	status := parsedStatus(t, statusOpts{})

	states := []State{
		StateStart{},
		StateValidateLicense{Data: []byte("{}")},
		StateFetchStatus{License: lic},
		StateValidateStatus{License: lic},
		StateFetchLicense{License: lic, Status: status},
		StateCheckLicenseStatus{License: lic, Status: status},
		StateRetrievePassphrase{License: lic},
		StateValidateIntegrity{License: lic, Passphrase: "p"},
		StateRegisterDevice{Documents: ValidatedDocuments{License: lic}},
		StateValid{},
		StateFailure{Err: ErrNetwork(nil)},
		StateCancelled{},
	}
	events := []Event{
		EventRetrievedLicenseData{},
		EventRetrievedStatusData{},
		EventValidatedLicense{License: lic},
		EventValidatedStatus{Status: status},
		EventCheckedLicenseStatus{},
		EventRetrievedPassphrase{Passphrase: "p"},
		EventValidatedIntegrity{},
		EventRegisteredDevice{},
		EventFailed{Err: ErrNetwork(nil)},
		EventCancelled{},
	}

	for _, s := range states {
		for _, e := range events {
			next := transition(s, e)
			require.NotNil(t, next, "transition(%s, %s)", s.stateName(), e.eventName())
		}
	}
}
