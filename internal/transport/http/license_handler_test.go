package http

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"lcpcli/internal/lcpclient"
	"lcpcli/internal/license"
)

// The handler tests drive a real engine over in-test collaborator stubs.

type stubNetwork struct {
	responses map[string][]byte
}

func (s *stubNetwork) Fetch(ctx context.Context, url string, timeout time.Duration) ([]byte, error) {
	if data, ok := s.responses[url]; ok {
		return data, nil
	}
	return nil, assert.AnError
}

type stubCRL struct{}

func (stubCRL) Retrieve(ctx context.Context) ([]byte, error) { return []byte("crl"), nil }

type stubDevice struct{}

func (stubDevice) RegisterLicense(ctx context.Context, lic *license.LicenseDocument, link license.Link) ([]byte, error) {
	return nil, nil
}

// stubPassphrases forwards to the authentication prompt, mirroring the real
// service's fallback behavior without a store.
type stubPassphrases struct{}

func (stubPassphrases) Request(ctx context.Context, lic *license.LicenseDocument, authentication license.Authentication, allowUserInteraction bool, sender interface{}) (string, error) {
	if authentication == nil || !allowUserInteraction {
		return "", nil
	}
	return authentication.RequestPassphrase(ctx, lic, allowUserInteraction, sender)
}

type stubClient struct {
	accept string
}

func (s stubClient) CreateContext(licenseJSON []byte, passphrase string, crl []byte) (*lcpclient.Context, error) {
	if passphrase != s.accept {
		return nil, lcpclient.ErrInvalidPassphrase
	}
	return &lcpclient.Context{LicenseID: "lic-1"}, nil
}

func (s stubClient) FindOneValidPassphrase(licenseJSON []byte, candidates []string) (string, bool) {
	return "", false
}

func testFactory(net *stubNetwork) EngineFactory {
	production := false
	return func(auth license.Authentication, allowUserInteraction bool, sender interface{}) *license.Validation {
		return license.New(license.Config{
			Client:               stubClient{accept: "hunter2"},
			CRL:                  stubCRL{},
			Device:               stubDevice{},
			Network:              net,
			Passphrases:          stubPassphrases{},
			Authentication:       auth,
			AllowUserInteraction: allowUserInteraction,
			Sender:               sender,
			Production:           &production,
		})
	}
}

func testLicenseBody(t *testing.T, profile string) []byte {
	t.Helper()

	doc := map[string]interface{}{
		"id":       "lic-1",
		"issued":   "2024-01-01T00:00:00Z",
		"provider": "https://provider.example.com",
		"encryption": map[string]interface{}{
			"profile": profile,
		},
		"rights": map[string]interface{}{
			"start": "2024-01-01T00:00:00Z",
			"end":   "2030-01-01T00:00:00Z",
		},
	}
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	return data
}

func postValidate(t *testing.T, handler *LicenseHandler, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()

	body, err := json.Marshal(payload)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/validate", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.Routes().ServeHTTP(rec, req)
	return rec
}

func TestValidateEndpointSuccess(t *testing.T) {
	handler := NewLicenseHandler(testFactory(&stubNetwork{}), nil, nil, testLogger())

	rec := postValidate(t, handler, ValidateRequest{
		License:    base64.StdEncoding.EncodeToString(testLicenseBody(t, license.ProfileBasic)),
		Passphrase: "hunter2",
	})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp ValidateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.True(t, resp.Usable)
	assert.Equal(t, "lic-1", resp.LicenseID)
	assert.NotEmpty(t, resp.TraceID)
}

func TestValidateEndpointCancelled(t *testing.T) {
	handler := NewLicenseHandler(testFactory(&stubNetwork{}), nil, nil, testLogger())

	// No passphrase and no interaction: the run ends cancelled
	rec := postValidate(t, handler, ValidateRequest{
		License: base64.StdEncoding.EncodeToString(testLicenseBody(t, license.ProfileBasic)),
	})

	require.Equal(t, http.StatusOK, rec.Code)

	var resp ValidateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.True(t, resp.Cancelled)
}

func TestValidateEndpointProfileFailure(t *testing.T) {
	handler := NewLicenseHandler(testFactory(&stubNetwork{}), nil, nil, testLogger())

	rec := postValidate(t, handler, ValidateRequest{
		License:    base64.StdEncoding.EncodeToString(testLicenseBody(t, "http://readium.org/lcp/profile-2.0")),
		Passphrase: "hunter2",
	})

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var problem map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	assert.Equal(t, "/errors/lcp/profile_not_supported", problem["type"])
	assert.Equal(t, "lcp_error_profile_not_supported", problem["message_id"])
}

func TestValidateEndpointBadRequests(t *testing.T) {
	handler := NewLicenseHandler(testFactory(&stubNetwork{}), nil, nil, testLogger())

	t.Run("missing license", func(t *testing.T) {
		rec := postValidate(t, handler, ValidateRequest{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("invalid base64", func(t *testing.T) {
		rec := postValidate(t, handler, map[string]string{"license": "!!not-base64!!"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/validate", bytes.NewReader([]byte("{")))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		handler.Routes().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestValidateEndpointRateLimit(t *testing.T) {
	limiter := rate.NewLimiter(rate.Limit(0), 1) // one request, then dry
	handler := NewLicenseHandler(testFactory(&stubNetwork{}), nil, limiter, testLogger())

	payload := ValidateRequest{
		License:    base64.StdEncoding.EncodeToString(testLicenseBody(t, license.ProfileBasic)),
		Passphrase: "hunter2",
	}

	first := postValidate(t, handler, payload)
	assert.Equal(t, http.StatusOK, first.Code)

	second := postValidate(t, handler, payload)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
}

// stubStatus serves a fixed service-state block
type stubStatus struct {
	info StatusInfo
}

func (s stubStatus) Status() StatusInfo { return s.info }

func getStatus(t *testing.T, handler *LicenseHandler) (*httptest.ResponseRecorder, StatusResponse) {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	handler.Routes().ServeHTTP(rec, req)

	var resp StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec, resp
}

func TestStatusEndpoint(t *testing.T) {
	status := stubStatus{info: StatusInfo{
		Production:        false,
		DeviceID:          "dev-1",
		DeviceName:        "test-reader",
		StoredPassphrases: 2,
	}}
	handler := NewLicenseHandler(testFactory(&stubNetwork{}), status, nil, testLogger())

	t.Run("before any validation", func(t *testing.T) {
		rec, resp := getStatus(t, handler)

		require.Equal(t, http.StatusOK, rec.Code)
		require.NotNil(t, resp.Service)
		assert.Equal(t, "dev-1", resp.Service.DeviceID)
		assert.Equal(t, 2, resp.Service.StoredPassphrases)
		assert.Nil(t, resp.LastValidation)
		assert.NotEmpty(t, resp.TraceID)
	})

	t.Run("after a successful validation", func(t *testing.T) {
		rec := postValidate(t, handler, ValidateRequest{
			License:    base64.StdEncoding.EncodeToString(testLicenseBody(t, license.ProfileBasic)),
			Passphrase: "hunter2",
		})
		require.Equal(t, http.StatusOK, rec.Code)

		_, resp := getStatus(t, handler)
		require.NotNil(t, resp.LastValidation)
		assert.Equal(t, "valid", resp.LastValidation.Outcome)
		assert.Equal(t, "lic-1", resp.LastValidation.LicenseID)
		assert.True(t, resp.LastValidation.Usable)
		require.NotNil(t, resp.LastValidation.CompletedAt)
	})

	t.Run("after a failed validation", func(t *testing.T) {
		rec := postValidate(t, handler, ValidateRequest{
			License:    base64.StdEncoding.EncodeToString(testLicenseBody(t, "http://readium.org/lcp/profile-2.0")),
			Passphrase: "hunter2",
		})
		require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

		_, resp := getStatus(t, handler)
		require.NotNil(t, resp.LastValidation)
		assert.Equal(t, "failure", resp.LastValidation.Outcome)
		assert.NotEmpty(t, resp.LastValidation.Error)
	})
}

func TestStatusEndpointWithoutProvider(t *testing.T) {
	handler := NewLicenseHandler(testFactory(&stubNetwork{}), nil, nil, testLogger())

	rec, resp := getStatus(t, handler)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, resp.Service)
}

func TestHealthEndpoint(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	http.HandlerFunc(HealthHandler).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
}
