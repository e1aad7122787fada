package legislation

import (
	"context"
	"errors"
	"sync"
	"time"

	"goa.design/clue/log"

	"github.com/clearline-ai/clearline/telemetry"
)

type (
	// Endpoint names one of the two configured service endpoints.
	Endpoint string

	// Prober checks a single endpoint. The production prober is a short
	// timeout Client.Health call against the primary.
	Prober func(ctx context.Context) error

	// HealthOptions configures the manager.
	HealthOptions struct {
		// PrimaryURL and FallbackURL are the two endpoint roots. Required.
		PrimaryURL  string
		FallbackURL string
		// Threshold is how many consecutive primary failures trigger
		// failover. Defaults to 3.
		Threshold int
		// Interval is the probe period. Defaults to 30s.
		Interval time.Duration
		// Prober overrides the primary health probe; nil builds one from
		// PrimaryURL with a short timeout.
		Prober Prober
	}

	// HealthManager is the process-wide active-endpoint state machine. It
	// must be constructed once at start and shared; per-request managers
	// would lose failover state.
	HealthManager struct {
		primaryURL  string
		fallbackURL string
		threshold   int
		interval    time.Duration
		probe       Prober

		mu        sync.Mutex
		active    Endpoint
		failures  int
		lastCheck time.Time
	}

	// HealthStatus is a point-in-time snapshot of the manager state.
	HealthStatus struct {
		Active              Endpoint
		ConsecutiveFailures int
		LastCheck           time.Time
	}
)

const (
	EndpointPrimary  Endpoint = "primary"
	EndpointFallback Endpoint = "fallback"
)

// NewHealthManager validates the options and builds a manager starting on
// the primary endpoint.
func NewHealthManager(opts HealthOptions) (*HealthManager, error) {
	if opts.PrimaryURL == "" || opts.FallbackURL == "" {
		return nil, errors.New("legislation: primary and fallback urls are required")
	}
	if opts.Threshold <= 0 {
		opts.Threshold = 3
	}
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	probe := opts.Prober
	if probe == nil {
		client, err := NewClient(ClientOptions{BaseURL: opts.PrimaryURL, Timeout: 5 * time.Second})
		if err != nil {
			return nil, err
		}
		probe = client.Health
	}
	return &HealthManager{
		primaryURL:  opts.PrimaryURL,
		fallbackURL: opts.FallbackURL,
		threshold:   opts.Threshold,
		interval:    opts.Interval,
		probe:       probe,
		active:      EndpointPrimary,
	}, nil
}

// ActiveURL returns the endpoint root consumers should bind to right now.
func (m *HealthManager) ActiveURL() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == EndpointFallback {
		return m.fallbackURL
	}
	return m.primaryURL
}

// Status returns a snapshot of the manager state.
func (m *HealthManager) Status() HealthStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return HealthStatus{Active: m.active, ConsecutiveFailures: m.failures, LastCheck: m.lastCheck}
}

// ForcePrimary administratively resets the manager to the primary endpoint.
func (m *HealthManager) ForcePrimary() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = EndpointPrimary
	m.failures = 0
}

// Check probes the primary once and applies the transition rules: success
// resets the counter and recovers from fallback; the threshold-th
// consecutive failure flips active to fallback.
func (m *HealthManager) Check(ctx context.Context) {
	err := m.probe(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastCheck = time.Now()
	if err == nil {
		if m.active == EndpointFallback {
			log.Infof(ctx, "legislation: primary healthy again, recovering from fallback")
			telemetry.CountFailover(ctx, string(EndpointPrimary))
		}
		m.active = EndpointPrimary
		m.failures = 0
		return
	}
	m.failures++
	log.Debugf(ctx, "legislation: primary health check failed (%d/%d): %v", m.failures, m.threshold, err)
	if m.failures >= m.threshold && m.active == EndpointPrimary {
		m.active = EndpointFallback
		log.Errorf(ctx, err, "legislation: failing over to fallback after %d consecutive failures", m.failures)
		telemetry.CountFailover(ctx, string(EndpointFallback))
	}
}

// Run probes on the configured interval until the context ends.
func (m *HealthManager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}
