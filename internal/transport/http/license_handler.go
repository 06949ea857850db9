package http

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"golang.org/x/time/rate"

	licenseErrors "lcpcli/internal/errors"
	"lcpcli/internal/infrastructure"
	"lcpcli/internal/license"
)

// validate checks request payloads; shared across handlers
var validate = validator.New()

// EngineFactory builds a fresh validation engine for one unlock attempt. The
// engine is discarded once it reaches a terminal state.
type EngineFactory func(auth license.Authentication, allowUserInteraction bool, sender interface{}) *license.Validation

// StatusInfo is the service-level license state reported by GET /status
type StatusInfo struct {
	Production        bool   `json:"production"`
	DeviceID          string `json:"device_id"`
	DeviceName        string `json:"device_name"`
	StoredPassphrases int    `json:"stored_passphrases"`
}

// StatusProvider exposes the service-level license state
type StatusProvider interface {
	Status() StatusInfo
}

// lastValidation remembers the most recent terminal outcome for GET /status
type lastValidation struct {
	LicenseID   string     `json:"license_id,omitempty"`
	Outcome     string     `json:"outcome"`
	Usable      bool       `json:"usable"`
	StatusError string     `json:"status_error,omitempty"`
	Error       string     `json:"error,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// LicenseHandler exposes license validation over HTTP
type LicenseHandler struct {
	newEngine EngineFactory
	status    StatusProvider
	limiter   *rate.Limiter
	logger    *slog.Logger

	mu   sync.Mutex
	last *lastValidation
}

// NewLicenseHandler creates a license handler. status and limiter may be nil
// to disable the service-state block and rate limiting respectively.
func NewLicenseHandler(newEngine EngineFactory, status StatusProvider, limiter *rate.Limiter, logger *slog.Logger) *LicenseHandler {
	return &LicenseHandler{
		newEngine: newEngine,
		status:    status,
		limiter:   limiter,
		logger:    logger.With(slog.String("handler", "license")),
	}
}

// ValidateRequest is the payload of POST /api/license/validate
type ValidateRequest struct {
	// License carries the License Document, base64 encoded
	License string `json:"license" validate:"required,base64"`
	// Passphrase optionally supplies the passphrase up front, replacing an
	// interactive prompt
	Passphrase string `json:"passphrase,omitempty"`
	// AllowUserInteraction is false for background validations; without a
	// stored or inline passphrase such a run ends cancelled
	AllowUserInteraction bool `json:"allow_user_interaction,omitempty"`
}

// Bind implements the render.Binder interface
func (v *ValidateRequest) Bind(r *http.Request) error {
	return validate.Struct(v)
}

// RightsResponse mirrors the license rights block
type RightsResponse struct {
	Print *int       `json:"print,omitempty"`
	Copy  *int       `json:"copy,omitempty"`
	Start *time.Time `json:"start,omitempty"`
	End   *time.Time `json:"end,omitempty"`
}

// ValidateResponse is the success payload of POST /api/license/validate
type ValidateResponse struct {
	Success   bool   `json:"success"`
	Cancelled bool   `json:"cancelled,omitempty"`
	Usable    bool   `json:"usable"`
	LicenseID string `json:"license_id,omitempty"`
	Provider  string `json:"provider,omitempty"`
	Profile   string `json:"profile,omitempty"`

	Rights *RightsResponse `json:"rights,omitempty"`
	Status string          `json:"status,omitempty"`

	// StatusError is set when the license parsed and was status-checked but
	// is not currently usable
	StatusError *StatusErrorResponse `json:"status_error,omitempty"`

	TraceID   string    `json:"trace_id"`
	Timestamp time.Time `json:"timestamp"`
}

// StatusErrorResponse carries the localizable status error of an unusable
// license
type StatusErrorResponse struct {
	Kind        string                 `json:"kind"`
	MessageID   string                 `json:"message_id"`
	MessageArgs map[string]interface{} `json:"message_args,omitempty"`
}

// Render implements the render.Renderer interface
func (v *ValidateResponse) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, http.StatusOK)
	return nil
}

// inlineAuthentication satisfies the passphrase prompt with a fixed value
type inlineAuthentication struct {
	passphrase string
}

func (a *inlineAuthentication) RequestPassphrase(ctx context.Context, lic *license.LicenseDocument, allowUserInteraction bool, sender interface{}) (string, error) {
	return a.passphrase, nil
}

// Routes returns a chi router for license endpoints
func (h *LicenseHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Timeout(30 * time.Second))
	r.Post("/validate", h.Validate)
	r.Get("/status", h.GetStatus)
	return r
}

// StatusResponse is the payload of GET /api/license/status
type StatusResponse struct {
	Service        *StatusInfo     `json:"service,omitempty"`
	LastValidation *lastValidation `json:"last_validation,omitempty"`
	TraceID        string          `json:"trace_id"`
	Timestamp      time.Time       `json:"timestamp"`
}

// Render implements the render.Renderer interface
func (s *StatusResponse) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, http.StatusOK)
	return nil
}

// GetStatus reports the service-level license state and the most recent
// validation outcome
func (h *LicenseHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	ctx := infrastructure.EnsureTraceID(r.Context())

	resp := &StatusResponse{
		TraceID:   infrastructure.GetTraceID(ctx),
		Timestamp: time.Now(),
	}
	if h.status != nil {
		info := h.status.Status()
		resp.Service = &info
	}

	h.mu.Lock()
	resp.LastValidation = h.last
	h.mu.Unlock()

	render.Render(w, r, resp)
}

// recordLast remembers the terminal outcome of a validation run
func (h *LicenseHandler) recordLast(last *lastValidation) {
	now := time.Now()
	last.CompletedAt = &now

	h.mu.Lock()
	h.last = last
	h.mu.Unlock()
}

// Validate runs one license validation and reports the terminal outcome
func (h *LicenseHandler) Validate(w http.ResponseWriter, r *http.Request) {
	ctx := infrastructure.EnsureTraceID(r.Context())
	traceID := infrastructure.GetTraceID(ctx)

	if h.limiter != nil && !h.limiter.Allow() {
		render.Render(w, r, licenseErrors.ErrRateLimited(traceID))
		return
	}

	req := &ValidateRequest{}
	if err := render.Bind(r, req); err != nil {
		render.Render(w, r, licenseErrors.ErrInvalidRequest(err, traceID))
		return
	}

	data, err := base64.StdEncoding.DecodeString(req.License)
	if err != nil {
		render.Render(w, r, licenseErrors.ErrInvalidRequest(errors.New("license is not valid base64"), traceID))
		return
	}

	var auth license.Authentication
	allowInteraction := req.AllowUserInteraction
	if req.Passphrase != "" {
		auth = &inlineAuthentication{passphrase: req.Passphrase}
		allowInteraction = true
	}

	engine := h.newEngine(auth, allowInteraction, traceID)

	var documents *license.ValidatedDocuments
	var validationErr error
	engine.Validate(ctx, license.LicenseInput(data), func(docs *license.ValidatedDocuments, err error) {
		documents = docs
		validationErr = err
	})

	switch {
	case validationErr != nil:
		h.logger.WarnContext(ctx, "Validation failed",
			slog.String("error", validationErr.Error()))
		h.recordLast(&lastValidation{Outcome: "failure", Error: validationErr.Error()})
		render.Render(w, r, licenseErrors.MapValidationError(validationErr, traceID))

	case documents == nil:
		h.recordLast(&lastValidation{Outcome: "cancelled"})
		render.Render(w, r, &ValidateResponse{
			Success:   false,
			Cancelled: true,
			TraceID:   traceID,
			Timestamp: time.Now(),
		})

	default:
		last := &lastValidation{
			Outcome:   "valid",
			LicenseID: documents.License.ID,
			Usable:    documents.Context != nil,
		}
		if documents.StatusError != nil {
			last.StatusError = documents.StatusError.MessageID()
		}
		h.recordLast(last)
		render.Render(w, r, buildValidateResponse(documents, traceID))
	}
}

func buildValidateResponse(documents *license.ValidatedDocuments, traceID string) *ValidateResponse {
	resp := &ValidateResponse{
		Success:   true,
		Usable:    documents.Context != nil,
		LicenseID: documents.License.ID,
		Provider:  documents.License.Provider,
		Profile:   documents.License.Encryption.Profile,
		Rights: &RightsResponse{
			Print: documents.License.Rights.Print,
			Copy:  documents.License.Rights.Copy,
			Start: documents.License.Rights.Start,
			End:   documents.License.Rights.End,
		},
		TraceID:   traceID,
		Timestamp: time.Now(),
	}

	if documents.Status != nil {
		resp.Status = documents.Status.Status
	}
	if documents.StatusError != nil {
		resp.StatusError = &StatusErrorResponse{
			Kind:        string(documents.StatusError.Kind),
			MessageID:   documents.StatusError.MessageID(),
			MessageArgs: documents.StatusError.MessageArgs(),
		}
	}

	return resp
}
