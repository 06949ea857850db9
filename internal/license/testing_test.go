package license

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"lcpcli/internal/lcpclient"
)

// Shared fixtures and fakes for the engine tests.

const (
	testStatusURL  = "https://example.com/status"
	testLicenseURL = "https://example.com/license/fresh"
	testRegisterURL = "https://example.com/register{?id,name}"
)

func datePtr(t time.Time) *time.Time { return &t }

func boolPtr(b bool) *bool { return &b }

func date(value string) time.Time {
	d, err := time.Parse(time.RFC3339, value)
	if err != nil {
		panic(err)
	}
	return d
}

// licenseOpts shapes a synthetic License Document
type licenseOpts struct {
	id         string
	profile    string
	start, end *time.Time
	updated    *time.Time
	statusURL  string
}

func makeLicenseJSON(t *testing.T, opts licenseOpts) []byte {
	t.Helper()

	if opts.id == "" {
		opts.id = "test-license-id"
	}
	if opts.profile == "" {
		opts.profile = ProfileBasic
	}

	doc := map[string]interface{}{
		"id":       opts.id,
		"issued":   "2024-01-01T00:00:00Z",
		"provider": "https://provider.example.com",
		"encryption": map[string]interface{}{
			"profile": opts.profile,
			"content_key": map[string]interface{}{
				"algorithm":       "http://www.w3.org/2001/04/xmlenc#aes256-cbc",
				"encrypted_value": "AAAA",
			},
			"user_key": map[string]interface{}{
				"algorithm": "http://www.w3.org/2001/04/xmlenc#sha256",
				"text_hint": "hint",
				"key_check": "AAAA",
			},
		},
	}

	if opts.updated != nil {
		doc["updated"] = opts.updated.Format(time.RFC3339)
	}

	rights := map[string]interface{}{}
	if opts.start != nil {
		rights["start"] = opts.start.Format(time.RFC3339)
	}
	if opts.end != nil {
		rights["end"] = opts.end.Format(time.RFC3339)
	}
	doc["rights"] = rights

	var links []map[string]interface{}
	if opts.statusURL != "" {
		links = append(links, map[string]interface{}{
			"rel":  RelStatus,
			"href": opts.statusURL,
			"type": ContentTypeLcpStatus,
		})
	}
	doc["links"] = links

	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("failed to marshal test license: %v", err)
	}
	return data
}

// statusOpts shapes a synthetic Status Document
type statusOpts struct {
	status         string
	statusUpdated  *time.Time
	licenseUpdated *time.Time
	licenseURL     string
	registerURL    string
	registerEvents int
}

func makeStatusJSON(t *testing.T, opts statusOpts) []byte {
	t.Helper()

	if opts.status == "" {
		opts.status = StatusActive
	}

	doc := map[string]interface{}{
		"id":     "test-status-id",
		"status": opts.status,
	}

	updated := map[string]interface{}{}
	if opts.statusUpdated != nil {
		updated["status"] = opts.statusUpdated.Format(time.RFC3339)
	}
	if opts.licenseUpdated != nil {
		updated["license"] = opts.licenseUpdated.Format(time.RFC3339)
	}
	doc["updated"] = updated

	var links []map[string]interface{}
	if opts.licenseURL != "" {
		links = append(links, map[string]interface{}{
			"rel":  RelLicense,
			"href": opts.licenseURL,
			"type": ContentTypeLcpLicense,
		})
	}
	if opts.registerURL != "" {
		links = append(links, map[string]interface{}{
			"rel":       RelRegister,
			"href":      opts.registerURL,
			"templated": true,
		})
	}
	doc["links"] = links

	var events []map[string]interface{}
	for i := 0; i < opts.registerEvents; i++ {
		events = append(events, map[string]interface{}{
			"type":      EventRegister,
			"name":      fmt.Sprintf("device-%d", i),
			"timestamp": "2024-05-01T00:00:00Z",
		})
	}
	doc["events"] = events

	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("failed to marshal test status: %v", err)
	}
	return data
}

// fakeNetwork serves canned responses per URL
type fakeNetwork struct {
	mu        sync.Mutex
	responses map[string][]byte
	errors    map[string]error
	calls     []string
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{
		responses: make(map[string][]byte),
		errors:    make(map[string]error),
	}
}

func (f *fakeNetwork) Fetch(ctx context.Context, url string, timeout time.Duration) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, url)

	if err, ok := f.errors[url]; ok {
		return nil, err
	}
	if data, ok := f.responses[url]; ok {
		return data, nil
	}
	return nil, fmt.Errorf("no response configured for %s", url)
}

func (f *fakeNetwork) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// fakeCRL returns a fixed blob
type fakeCRL struct {
	data []byte
	err  error
}

func (f *fakeCRL) Retrieve(ctx context.Context) ([]byte, error) {
	return f.data, f.err
}

// fakeDevice records registration calls
type fakeDevice struct {
	data     []byte
	err      error
	calls    int
	lastLink Link
}

func (f *fakeDevice) RegisterLicense(ctx context.Context, lic *LicenseDocument, link Link) ([]byte, error) {
	f.calls++
	f.lastLink = link
	return f.data, f.err
}

// fakePassphrases returns a fixed passphrase; empty means the user declined
type fakePassphrases struct {
	passphrase string
	err        error
	calls      int
}

func (f *fakePassphrases) Request(ctx context.Context, lic *LicenseDocument, authentication Authentication, allowUserInteraction bool, sender interface{}) (string, error) {
	f.calls++
	return f.passphrase, f.err
}

// fakeClient accepts a single passphrase and fails everything else
type fakeClient struct {
	accept        string
	contextErr    error
	probeProd     bool
	contextCalls  int
}

func (f *fakeClient) CreateContext(licenseJSON []byte, passphrase string, crl []byte) (*lcpclient.Context, error) {
	f.contextCalls++
	if f.contextErr != nil {
		return nil, f.contextErr
	}
	if passphrase != f.accept {
		return nil, lcpclient.ErrInvalidPassphrase
	}

	var doc struct {
		ID string `json:"id"`
	}
	json.Unmarshal(licenseJSON, &doc)
	return &lcpclient.Context{LicenseID: doc.ID, Profile: ProfileBasic}, nil
}

func (f *fakeClient) FindOneValidPassphrase(licenseJSON []byte, candidates []string) (string, bool) {
	if f.probeProd {
		return prodTestPassphrase, true
	}
	for _, c := range candidates {
		if c == f.accept {
			return c, true
		}
	}
	return "", false
}

// testEngine assembles an engine over the fakes with development mode pinned
func testEngine(t *testing.T, net *fakeNetwork, pass *fakePassphrases, client *fakeClient, device *fakeDevice, onValidated func(*LicenseDocument)) *Validation {
	t.Helper()

	if client == nil {
		client = &fakeClient{accept: "hunter2"}
	}
	if device == nil {
		device = &fakeDevice{}
	}

	return New(Config{
		Client:               client,
		CRL:                  &fakeCRL{data: []byte("crl-bytes")},
		Device:               device,
		Network:              net,
		Passphrases:          pass,
		AllowUserInteraction: true,
		Production:           boolPtr(false),
		OnLicenseValidated:   onValidated,
	})
}
