package license

import (
	"context"
	_ "embed"
	"log/slog"
	"sync"
	"time"

	"lcpcli/internal/infrastructure"
)

// DefaultFetchTimeout bounds the status and license-refresh fetches. Both are
// recoverable, so the budget stays well below user-facing timeouts.
const DefaultFetchTimeout = 5 * time.Second

// prodTestLicense is a license signed for the production certificate chain,
// bundled to probe whether the native client carries production key material.
//
//go:embed embedded/prod-test-license.lcpl
var prodTestLicense []byte

// prodTestPassphrase unlocks the bundled test license on production builds
const prodTestPassphrase = "production"

// ObserverPolicy controls how long an observer stays registered
type ObserverPolicy int

const (
	// PolicyOnce removes the observer after its first notification
	PolicyOnce ObserverPolicy = iota
	// PolicyAlways keeps the observer across terminal entries
	PolicyAlways
)

// Observer receives the terminal outcome of a validation run. Exactly one of
// the following holds: documents is non-nil (success), err is non-nil
// (failure), or both are nil (the user cancelled).
type Observer func(documents *ValidatedDocuments, err error)

type observerRecord struct {
	observer Observer
	policy   ObserverPolicy
}

// Config wires the engine to its collaborators. All collaborators are treated
// as thread-safe black boxes; the engine never invokes two concurrently.
type Config struct {
	Client         LCPClient
	CRL            CRLService
	Device         DeviceService
	Network        Network
	Passphrases    PassphrasesService
	Authentication Authentication

	// AllowUserInteraction permits the passphrase service to prompt the user
	AllowUserInteraction bool
	// Sender is an opaque caller tag forwarded to the passphrase service
	Sender interface{}
	// OnLicenseValidated fires exactly once per run, after the license passes
	// parse and profile checks and before passphrase retrieval
	OnLicenseValidated func(*LicenseDocument)

	// SupportedProfiles defaults to the basic and 1.0 profiles
	SupportedProfiles []string
	// FetchTimeout defaults to DefaultFetchTimeout
	FetchTimeout time.Duration
	// Production pins the production flag, skipping the native-client probe
	Production *bool

	Logger  *slog.Logger
	Metrics *ValidationMetrics
}

// Validation is the license validation engine. One engine drives at most one
// validation at a time; callers must serialize Validate calls. The observer
// registry is engine-local.
type Validation struct {
	cfg               Config
	logger            *slog.Logger
	production        bool
	supportedProfiles []string
	fetchTimeout      time.Duration

	mu          sync.Mutex
	state       State
	queue       []Event
	dispatching bool
	observers   []observerRecord

	licenseValidatedFired bool
	runStart              time.Time
}

// New creates a validation engine and resolves the production flag. When the
// flag is not pinned by configuration, the native client is probed with the
// bundled test license: only a production build carries the key material to
// unlock it.
func New(cfg Config) *Validation {
	logger := cfg.Logger
	if logger == nil {
		logger = infrastructure.GetLogger()
	}

	v := &Validation{
		cfg:               cfg,
		logger:            logger.With(slog.String("component", "license_validation")),
		supportedProfiles: cfg.SupportedProfiles,
		fetchTimeout:      cfg.FetchTimeout,
		state:             StateStart{},
	}

	if len(v.supportedProfiles) == 0 {
		v.supportedProfiles = []string{ProfileBasic, Profile10}
	}
	if v.fetchTimeout <= 0 {
		v.fetchTimeout = DefaultFetchTimeout
	}

	if cfg.Production != nil {
		v.production = *cfg.Production
	} else {
		v.production = probeProduction(cfg.Client)
	}

	v.logDebug(context.Background(), "engine_init", "Validation engine created",
		slog.Bool("production", v.production))

	return v
}

// probeProduction checks whether the native client can unlock the bundled
// test license. A panic in the native layer counts as a development build.
func probeProduction(client LCPClient) (production bool) {
	defer func() {
		if recover() != nil {
			production = false
		}
	}()

	if client == nil {
		return false
	}
	_, production = client.FindOneValidPassphrase(prodTestLicense, []string{prodTestPassphrase})
	return production
}

// Production reports the resolved production flag
func (v *Validation) Production() bool {
	return v.production
}

// State returns the current state, for inspection and tests
func (v *Validation) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// Validate starts a validation run for the given document and attaches the
// observer with the Once policy. The observer fires exactly once, when the
// run reaches a terminal state.
func (v *Validation) Validate(ctx context.Context, input Input, observer Observer) {
	v.runStart = time.Now()
	v.licenseValidatedFired = false

	switch input.Kind() {
	case InputLicense:
		v.raise(ctx, EventRetrievedLicenseData{Data: input.Data()})
	case InputStatus:
		v.raise(ctx, EventRetrievedStatusData{Data: input.Data()})
	}

	v.Observe(PolicyOnce, observer)
}

// Observe attaches an observer. If the engine is already terminal the
// observer is notified synchronously; a Once observer is then not retained.
func (v *Validation) Observe(policy ObserverPolicy, observer Observer) {
	v.mu.Lock()
	if v.state.terminal() {
		documents, err := terminalOutcome(v.state)
		v.mu.Unlock()
		observer(documents, err)
		if policy == PolicyAlways {
			v.mu.Lock()
			v.observers = append(v.observers, observerRecord{observer: observer, policy: policy})
			v.mu.Unlock()
		}
		return
	}
	v.observers = append(v.observers, observerRecord{observer: observer, policy: policy})
	v.mu.Unlock()
}

// terminalOutcome maps a terminal state to the observer payload
func terminalOutcome(s State) (*ValidatedDocuments, error) {
	switch st := s.(type) {
	case StateValid:
		return &st.Documents, nil
	case StateFailure:
		return nil, st.Err
	default: // StateCancelled
		return nil, nil
	}
}

// raise enqueues an event and, unless a dispatch is already draining the
// queue, processes events in FIFO order until the queue is empty. Transitions
// are atomic with respect to the dispatch context: the state a handler sees
// is the state that selected it.
func (v *Validation) raise(ctx context.Context, e Event) {
	v.mu.Lock()
	v.queue = append(v.queue, e)
	if v.dispatching {
		v.mu.Unlock()
		return
	}
	v.dispatching = true

	for len(v.queue) > 0 {
		event := v.queue[0]
		v.queue = v.queue[1:]

		previous := v.state
		if previous.terminal() {
			// Terminal states absorb events; the run is over.
			v.queue = v.queue[:0]
			break
		}

		next := transition(previous, event)
		v.state = next
		v.mu.Unlock()

		v.logDebug(ctx, "transition", "State transition",
			slog.String("from", previous.stateName()),
			slog.String("event", event.eventName()),
			slog.String("to", next.stateName()))

		if next.terminal() {
			v.recordOutcome(ctx, next)
		}
		v.handle(ctx, next)

		v.mu.Lock()
	}

	v.dispatching = false
	v.mu.Unlock()
}

// notifyObservers fires every registered observer in registration order and
// prunes the Once observers.
func (v *Validation) notifyObservers(documents *ValidatedDocuments, err error) {
	v.mu.Lock()
	records := make([]observerRecord, len(v.observers))
	copy(records, v.observers)

	kept := v.observers[:0]
	for _, r := range v.observers {
		if r.policy == PolicyAlways {
			kept = append(kept, r)
		}
	}
	v.observers = kept
	v.mu.Unlock()

	for _, r := range records {
		r.observer(documents, err)
	}
}

// recordOutcome updates metrics and logs the terminal entry
func (v *Validation) recordOutcome(ctx context.Context, s State) {
	outcome := s.stateName()
	duration := time.Since(v.runStart)

	if v.cfg.Metrics != nil {
		v.cfg.Metrics.RecordValidation(ctx, outcome, duration)
	}

	switch st := s.(type) {
	case StateFailure:
		v.logWarn(ctx, "validation_complete", "Validation failed",
			slog.String("outcome", outcome),
			slog.String("error_kind", string(st.Err.Kind)),
			slog.Duration("duration", duration))
	default:
		v.logInfo(ctx, "validation_complete", "Validation reached a terminal state",
			slog.String("outcome", outcome),
			slog.Duration("duration", duration))
	}
}
