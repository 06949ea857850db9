package device

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lcpcli/internal/config"
	"lcpcli/internal/license"
)

func testLicenseDoc(t *testing.T, id string) *license.LicenseDocument {
	t.Helper()

	doc := map[string]interface{}{
		"id":       id,
		"issued":   "2024-01-01T00:00:00Z",
		"provider": "https://provider.example.com",
		"encryption": map[string]interface{}{
			"profile": license.ProfileBasic,
		},
	}
	data, err := json.Marshal(doc)
	require.NoError(t, err)

	parsed, err := license.ParseLicense(data)
	require.NoError(t, err)
	return parsed
}

func newTestService(t *testing.T) *Service {
	t.Helper()

	svc, err := NewService(config.DeviceConfig{
		Name:      "test-reader",
		StatePath: filepath.Join(t.TempDir(), "device.json"),
	}, nil)
	require.NoError(t, err)
	return svc
}

func TestServiceIdentity(t *testing.T) {
	svc := newTestService(t)

	assert.NotEmpty(t, svc.ID())
	assert.Equal(t, "test-reader", svc.Name())
}

func TestServiceIdentityPersists(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "device.json")

	first, err := NewService(config.DeviceConfig{Name: "reader", StatePath: statePath}, nil)
	require.NoError(t, err)

	second, err := NewService(config.DeviceConfig{Name: "reader", StatePath: statePath}, nil)
	require.NoError(t, err)

	assert.Equal(t, first.ID(), second.ID(), "the device id survives restarts")
}

func TestRegisterLicense(t *testing.T) {
	var gotQuery map[string][]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		gotQuery = r.URL.Query()
		w.Write([]byte(`{"id":"status-after-register","status":"active"}`))
	}))
	defer server.Close()

	svc := newTestService(t)
	lic := testLicenseDoc(t, "lic-1")
	link := license.Link{
		Href:      server.URL + "/register{?id,name}",
		Rel:       []string{license.RelRegister},
		Templated: true,
	}

	body, err := svc.RegisterLicense(context.Background(), lic, link)
	require.NoError(t, err)
	assert.Contains(t, string(body), "status-after-register")

	require.NotNil(t, gotQuery)
	assert.Equal(t, svc.ID(), gotQuery["id"][0])
	assert.Equal(t, "test-reader", gotQuery["name"][0])
}

func TestRegisterLicenseOncePerLicense(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte("{}"))
	}))
	defer server.Close()

	svc := newTestService(t)
	lic := testLicenseDoc(t, "lic-1")
	link := license.Link{
		Href:      server.URL + "/register{?id,name}",
		Rel:       []string{license.RelRegister},
		Templated: true,
	}

	_, err := svc.RegisterLicense(context.Background(), lic, link)
	require.NoError(t, err)

	body, err := svc.RegisterLicense(context.Background(), lic, link)
	require.NoError(t, err)
	assert.Nil(t, body)
	assert.Equal(t, 1, calls, "a registered license is not re-registered")
}

func TestRegisterLicenseNonTemplatedLink(t *testing.T) {
	var gotQuery map[string][]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		w.Write([]byte("{}"))
	}))
	defer server.Close()

	svc := newTestService(t)
	link := license.Link{Href: server.URL + "/register", Rel: []string{license.RelRegister}}

	_, err := svc.RegisterLicense(context.Background(), testLicenseDoc(t, "lic-2"), link)
	require.NoError(t, err)

	require.NotNil(t, gotQuery)
	assert.Equal(t, svc.ID(), gotQuery["id"][0])
}

func TestRegisterLicenseServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	svc := newTestService(t)
	link := license.Link{Href: server.URL + "/register", Rel: []string{license.RelRegister}}

	_, err := svc.RegisterLicense(context.Background(), testLicenseDoc(t, "lic-3"), link)
	assert.Error(t, err)
}
