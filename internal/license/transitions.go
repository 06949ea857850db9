package license

// transition is the pure, total mapping from (state, event) to the next state.
// Terminal states absorb every event. An illegal pair on a non-terminal state
// is a programmer error and lands in Failure.
func transition(s State, e Event) State {
	if s.terminal() {
		return s
	}

	switch st := s.(type) {
	case StateStart:
		switch ev := e.(type) {
		case EventRetrievedLicenseData:
			return StateValidateLicense{Data: ev.Data}
		case EventRetrievedStatusData:
			return StateValidateStatus{Data: ev.Data}
		}

	case StateValidateLicense:
		switch ev := e.(type) {
		case EventValidatedLicense:
			if st.Status != nil {
				// The status was already fetched; this license is the
				// refreshed one it pointed at.
				return StateCheckLicenseStatus{License: ev.License, Status: st.Status}
			}
			return StateFetchStatus{License: ev.License}
		case EventFailed:
			return StateFailure{Err: ev.Err}
		}

	case StateFetchStatus:
		switch ev := e.(type) {
		case EventRetrievedStatusData:
			return StateValidateStatus{License: st.License, Data: ev.Data}
		case EventFailed:
			// The status document is optional; a failed initial fetch falls
			// back to checking the license alone.
			return StateCheckLicenseStatus{License: st.License}
		}

	case StateValidateStatus:
		switch ev := e.(type) {
		case EventValidatedStatus:
			if st.License == nil || ev.Status.LicenseUpdated().After(st.License.UpdatedAt()) {
				return StateFetchLicense{License: st.License, Status: ev.Status}
			}
			return StateCheckLicenseStatus{License: st.License, Status: ev.Status}
		case EventFailed:
			return StateFailure{Err: ev.Err}
		}

	case StateFetchLicense:
		switch ev := e.(type) {
		case EventRetrievedLicenseData:
			return StateValidateLicense{Data: ev.Data, Status: st.Status}
		case EventFailed:
			if st.License != nil {
				// A failed refresh is tolerated as long as a parsed license
				// is already held.
				return StateCheckLicenseStatus{License: st.License, Status: st.Status}
			}
			return StateFailure{Err: ev.Err}
		}

	case StateCheckLicenseStatus:
		switch ev := e.(type) {
		case EventCheckedLicenseStatus:
			if ev.Err != nil {
				return StateValid{Documents: ValidatedDocuments{
					License:     st.License,
					Status:      st.Status,
					StatusError: ev.Err,
				}}
			}
			return StateRetrievePassphrase{License: st.License, Status: st.Status}
		case EventFailed:
			return StateFailure{Err: ev.Err}
		}

	case StateRetrievePassphrase:
		switch ev := e.(type) {
		case EventRetrievedPassphrase:
			return StateValidateIntegrity{License: st.License, Status: st.Status, Passphrase: ev.Passphrase}
		case EventCancelled:
			return StateCancelled{}
		case EventFailed:
			return StateFailure{Err: ev.Err}
		}

	case StateValidateIntegrity:
		switch ev := e.(type) {
		case EventValidatedIntegrity:
			documents := ValidatedDocuments{
				License:    st.License,
				Status:     st.Status,
				Context:    ev.Context,
				Passphrase: st.Passphrase,
			}
			if st.Status != nil {
				if link, ok := st.Status.Link(RelRegister, ""); ok {
					return StateRegisterDevice{Documents: documents, Link: link}
				}
			}
			return StateValid{Documents: documents}
		case EventFailed:
			return StateFailure{Err: ev.Err}
		}

	case StateRegisterDevice:
		switch ev := e.(type) {
		case EventRegisteredDevice:
			return StateValid{Documents: st.Documents}
		case EventFailed:
			return StateFailure{Err: ev.Err}
		}
	}

	if ev, ok := e.(EventFailed); ok {
		return StateFailure{Err: ev.Err}
	}
	return StateFailure{Err: ErrRuntime("invalid transition: %s on %s", e.eventName(), s.stateName())}
}
