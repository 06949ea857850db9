package license

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// handle performs the side effect associated with the state the engine just
// entered and raises the resulting event. Every failure is converted into an
// EventFailed; the transition layer decides whether it is fatal.
func (v *Validation) handle(ctx context.Context, s State) {
	switch st := s.(type) {
	case StateValidateLicense:
		v.validateLicense(ctx, st)
	case StateFetchStatus:
		v.fetchStatus(ctx, st)
	case StateValidateStatus:
		v.validateStatus(ctx, st)
	case StateFetchLicense:
		v.fetchLicense(ctx, st)
	case StateCheckLicenseStatus:
		v.checkLicenseStatus(ctx, st)
	case StateRetrievePassphrase:
		v.retrievePassphrase(ctx, st)
	case StateValidateIntegrity:
		v.validateIntegrity(ctx, st)
	case StateRegisterDevice:
		v.registerDevice(ctx, st)
	case StateValid:
		v.notifyObservers(&st.Documents, nil)
	case StateFailure:
		v.notifyObservers(nil, st.Err)
	case StateCancelled:
		v.notifyObservers(nil, nil)
	}
}

func (v *Validation) validateLicense(ctx context.Context, st StateValidateLicense) {
	doc, err := ParseLicense(st.Data)
	if err != nil {
		v.raise(ctx, EventFailed{Err: ErrParsing(err)})
		return
	}

	// Development hosts only handle the basic profile; production defers the
	// profile check to integrity validation, where the native client decides.
	if !v.production && doc.Encryption.Profile != ProfileBasic {
		v.logWarn(ctx, "license_validation", "Rejecting non-basic profile on development host",
			slog.String("profile", doc.Encryption.Profile))
		v.raise(ctx, EventFailed{Err: ErrProfileNotSupported()})
		return
	}

	v.logDebug(ctx, "license_validation", "License document parsed",
		slog.String("license_id", doc.ID),
		slog.String("provider", doc.Provider))
	v.raise(ctx, EventValidatedLicense{License: doc})
}

func (v *Validation) fetchStatus(ctx context.Context, st StateFetchStatus) {
	url, ok := st.License.URL(RelStatus, ContentTypeLcpStatus, nil)
	if !ok {
		v.raise(ctx, EventFailed{Err: ErrNetwork(errors.New("license has no status link"))})
		return
	}

	data, err := v.cfg.Network.Fetch(ctx, url, v.fetchTimeout)
	if err != nil {
		v.logWarn(ctx, "status_fetch", "Status document fetch failed",
			slog.String("url", url),
			slog.String("error", err.Error()))
		v.raise(ctx, EventFailed{Err: ErrNetwork(err)})
		return
	}

	v.raise(ctx, EventRetrievedStatusData{Data: data})
}

func (v *Validation) validateStatus(ctx context.Context, st StateValidateStatus) {
	doc, err := ParseStatus(st.Data)
	if err != nil {
		v.raise(ctx, EventFailed{Err: ErrParsing(err)})
		return
	}

	v.logDebug(ctx, "status_validation", "Status document parsed",
		slog.String("status", doc.Status))
	v.raise(ctx, EventValidatedStatus{Status: doc})
}

func (v *Validation) fetchLicense(ctx context.Context, st StateFetchLicense) {
	url, ok := st.Status.URL(RelLicense, ContentTypeLcpLicense, nil)
	if !ok {
		v.raise(ctx, EventFailed{Err: ErrNetwork(errors.New("status document has no license link"))})
		return
	}

	data, err := v.cfg.Network.Fetch(ctx, url, v.fetchTimeout)
	if err != nil {
		v.logWarn(ctx, "license_fetch", "License refresh fetch failed",
			slog.String("url", url),
			slog.String("error", err.Error()))
		v.raise(ctx, EventFailed{Err: ErrNetwork(err)})
		return
	}

	v.raise(ctx, EventRetrievedLicenseData{Data: data})
}

func (v *Validation) checkLicenseStatus(ctx context.Context, st StateCheckLicenseStatus) {
	// The license held here is the final one for this run: either the original
	// or the status-driven refresh. Announce it exactly once.
	if !v.licenseValidatedFired && v.cfg.OnLicenseValidated != nil {
		v.licenseValidatedFired = true
		v.cfg.OnLicenseValidated(st.License)
	}

	now := time.Now()
	start := now
	end := now
	if st.License.Rights.Start != nil {
		start = *st.License.Rights.Start
	}
	if st.License.Rights.End != nil {
		end = *st.License.Rights.End
	}

	// A returned, revoked or cancelled status ends the license regardless of
	// the rights window; the remaining statuses resolve against the window.
	var statusErr *ValidationError
	if st.Status != nil {
		updated := st.Status.StatusUpdated()
		switch st.Status.Status {
		case StatusReturned:
			statusErr = ErrReturned(updated)
		case StatusRevoked:
			statusErr = ErrRevoked(updated, len(st.Status.Events(EventRegister)))
		case StatusCancelled:
			statusErr = ErrStatusCancelled(updated)
		}
	}

	if statusErr == nil {
		if !now.Before(start) && !now.After(end) {
			v.raise(ctx, EventCheckedLicenseStatus{})
			return
		}
		statusErr = dateWindowError(now, start, end)
	}

	v.logInfo(ctx, "license_status_check", "License is not currently usable",
		slog.String("kind", string(statusErr.Kind)))
	v.raise(ctx, EventCheckedLicenseStatus{Err: statusErr})
}

// dateWindowError maps an out-of-window license to NotStarted or Expired
func dateWindowError(now, start, end time.Time) *ValidationError {
	if start.After(now) {
		return ErrNotStarted(start)
	}
	return ErrExpired(end)
}

func (v *Validation) retrievePassphrase(ctx context.Context, st StateRetrievePassphrase) {
	if v.cfg.Metrics != nil && v.cfg.AllowUserInteraction && v.cfg.Authentication != nil {
		v.cfg.Metrics.RecordPassphrasePrompt(ctx)
	}

	passphrase, err := v.cfg.Passphrases.Request(ctx, st.License,
		v.cfg.Authentication, v.cfg.AllowUserInteraction, v.cfg.Sender)
	if err != nil {
		v.raise(ctx, EventFailed{Err: ErrRuntime("passphrase request failed: %v", err)})
		return
	}
	if passphrase == "" {
		v.logInfo(ctx, "passphrase_retrieval", "User declined the passphrase prompt")
		v.raise(ctx, EventCancelled{})
		return
	}

	v.raise(ctx, EventRetrievedPassphrase{Passphrase: passphrase})
}

func (v *Validation) validateIntegrity(ctx context.Context, st StateValidateIntegrity) {
	if !v.profileSupported(st.License.Encryption.Profile) {
		v.raise(ctx, EventFailed{Err: ErrProfileNotSupported()})
		return
	}

	crl, err := v.cfg.CRL.Retrieve(ctx)
	if err != nil {
		v.raise(ctx, EventFailed{Err: ErrNetwork(err)})
		return
	}

	drmContext, err := v.cfg.Client.CreateContext(st.License.RawJSON(), st.Passphrase, crl)
	if err != nil {
		v.logWarn(ctx, "integrity_validation", "Native client rejected the license",
			slog.String("error", err.Error()))
		v.raise(ctx, EventFailed{Err: ErrIntegrity(err)})
		return
	}

	v.raise(ctx, EventValidatedIntegrity{Context: drmContext})
}

func (v *Validation) registerDevice(ctx context.Context, st StateRegisterDevice) {
	data, err := v.cfg.Device.RegisterLicense(ctx, st.Documents.License, st.Link)
	if v.cfg.Metrics != nil {
		v.cfg.Metrics.RecordDeviceRegistration(ctx, err == nil)
	}
	if err != nil {
		// Device usage is recorded best-effort; registration failures never
		// fail the validation.
		v.logWarn(ctx, "device_registration", "Device registration failed",
			slog.String("error", err.Error()))
		v.raise(ctx, EventRegisteredDevice{})
		return
	}

	v.raise(ctx, EventRegisteredDevice{Data: data})
}

func (v *Validation) profileSupported(profile string) bool {
	for _, p := range v.supportedProfiles {
		if p == profile {
			return true
		}
	}
	return false
}
