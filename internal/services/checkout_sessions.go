package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

const defaultSessionIdleTTL = 30 * time.Minute

// CheckoutSessionsDeps configures the session manager.
type CheckoutSessionsDeps struct {
	Checkout CheckoutService
	Debounce time.Duration
	Throttle time.Duration
	IdleTTL  time.Duration
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

// SessionSummary is the newest published pricing of a checkout session.
type SessionSummary struct {
	Generation uint64
	Pending    bool
	Summary    CheckoutSummary
	Err        error
	UpdatedAt  time.Time
}

// CheckoutSessions keeps the working snapshot of in-progress checkouts and recomputes their
// summary whenever the snapshot changes. Rapid edits are coalesced and a superseded computation
// never replaces a newer summary.
type CheckoutSessions struct {
	checkout CheckoutService
	debounce time.Duration
	throttle time.Duration
	idleTTL  time.Duration
	now      func() time.Time
	logger   func(ctx context.Context, event string, fields map[string]any)

	mu       sync.Mutex
	sessions map[string]*checkoutSession
}

type checkoutSession struct {
	scheduler *RecomputeScheduler[CheckoutSummary]

	mu       sync.Mutex
	snapshot CheckoutSnapshot
	latest   SessionSummary
	touched  time.Time
}

// NewCheckoutSessions validates dependencies and builds a session manager.
func NewCheckoutSessions(deps CheckoutSessionsDeps) (*CheckoutSessions, error) {
	if deps.Checkout == nil {
		return nil, errors.New("checkout sessions: checkout service is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	idle := deps.IdleTTL
	if idle <= 0 {
		idle = defaultSessionIdleTTL
	}
	return &CheckoutSessions{
		checkout: deps.Checkout,
		debounce: deps.Debounce,
		throttle: deps.Throttle,
		idleTTL:  idle,
		now:      func() time.Time { return clock().UTC() },
		logger:   logger,
		sessions: make(map[string]*checkoutSession),
	}, nil
}

// Update replaces the session snapshot and schedules a recomputation. It returns the generation
// the caller should wait for.
func (m *CheckoutSessions) Update(ctx context.Context, sessionID string, snapshot CheckoutSnapshot) (uint64, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return 0, fmt.Errorf("%w: session id is required", ErrCheckoutInvalidInput)
	}
	if err := validateSnapshot(snapshot); err != nil {
		return 0, err
	}

	session, err := m.session(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	session.mu.Lock()
	session.snapshot = snapshot
	session.touched = m.now()
	session.mu.Unlock()

	return session.scheduler.Trigger(), nil
}

// Latest returns the newest published summary of the session.
func (m *CheckoutSessions) Latest(sessionID string) (SessionSummary, bool) {
	m.mu.Lock()
	session, ok := m.sessions[strings.TrimSpace(sessionID)]
	m.mu.Unlock()
	if !ok {
		return SessionSummary{}, false
	}

	current := session.scheduler.Generation()
	session.mu.Lock()
	defer session.mu.Unlock()
	out := session.latest
	out.Pending = out.Generation < current
	return out, true
}

// Close stops every session.
func (m *CheckoutSessions) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, session := range m.sessions {
		session.scheduler.Close()
		delete(m.sessions, id)
	}
}

func (m *CheckoutSessions) session(ctx context.Context, sessionID string) (*checkoutSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.evictIdleLocked(ctx)
	if session, ok := m.sessions[sessionID]; ok {
		return session, nil
	}

	session := &checkoutSession{touched: m.now()}
	scheduler, err := NewRecomputeScheduler(RecomputeSchedulerOptions[CheckoutSummary]{
		Debounce: m.debounce,
		Throttle: m.throttle,
		Run: func(runCtx context.Context) (CheckoutSummary, error) {
			session.mu.Lock()
			snapshot := session.snapshot
			session.mu.Unlock()
			return m.checkout.Summarize(runCtx, SummarizeCheckoutCommand{Snapshot: snapshot})
		},
		Publish: func(gen uint64, summary CheckoutSummary, err error) {
			session.mu.Lock()
			session.latest = SessionSummary{
				Generation: gen,
				Summary:    summary,
				Err:        err,
				UpdatedAt:  m.now(),
			}
			session.mu.Unlock()
			if err != nil {
				m.logger(context.Background(), "checkout.session_recompute_failed", map[string]any{
					"sessionId":  sessionID,
					"generation": gen,
					"error":      err.Error(),
				})
			}
		},
	})
	if err != nil {
		return nil, err
	}
	session.scheduler = scheduler
	m.sessions[sessionID] = session
	return session, nil
}

func (m *CheckoutSessions) evictIdleLocked(ctx context.Context) {
	cutoff := m.now().Add(-m.idleTTL)
	for id, session := range m.sessions {
		session.mu.Lock()
		idle := session.touched.Before(cutoff)
		session.mu.Unlock()
		if idle {
			session.scheduler.Close()
			delete(m.sessions, id)
			m.logger(ctx, "checkout.session_evicted", map[string]any{"sessionId": id})
		}
	}
}
