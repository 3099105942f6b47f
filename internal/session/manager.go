// Package session owns the exclusive per-account venue gateway: exactly one
// active adapter session per account, LRU-bounded with idle cleanup and
// periodic health checks, plus the cross-account aggregate views the risk
// and exit engines consume.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"trading-core/internal/exit"
	"trading-core/internal/model"
	"trading-core/internal/resilience"
	"trading-core/internal/risk"
	"trading-core/internal/venue"
)

var (
	ErrSessionNotFound = errors.New("account session not found")
	ErrSessionUnhealthy = errors.New("account session is unhealthy")
	ErrPoolFull         = errors.New("session pool is full")
)

// Factory builds the venue.Gateway backing an account — typically a
// resilience.ResilientGateway wrapping a concrete adapter, already
// Connect()-ed or ready to be.
type Factory func(ctx context.Context, accountID string) (venue.Gateway, error)

// AccountSession holds one account's owned gateway plus lifecycle metadata.
type AccountSession struct {
	AccountID string
	Gateway   venue.Gateway
	CreatedAt time.Time
	LastUsed  time.Time
	HealthyAt time.Time
	Failures  int
}

// Config controls session lifecycle, mirroring the teacher's gateway pool
// config shape.
type Config struct {
	MaxSize          int
	IdleTimeout      time.Duration
	HealthInterval   time.Duration
	FailureThreshold int
	CircuitTimeout   time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxSize:          500,
		IdleTimeout:      30 * time.Minute,
		HealthInterval:   time.Minute,
		FailureThreshold: 3,
		CircuitTimeout:   time.Minute,
	}
}

// Manager exclusively owns each account's adapter session (§1 Ownership:
// "Each account has exactly one active adapter session at a time; the
// multi-account session manager exclusively owns sessions").
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*AccountSession
	lruOrder []string

	config  Config
	factory Factory
	ticks   *TickCache

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewManager builds a Manager. ticks may be nil, in which case a fresh
// TickCache is created.
func NewManager(factory Factory, cfg Config, ticks *TickCache) *Manager {
	if ticks == nil {
		ticks = NewTickCache()
	}
	return &Manager{
		sessions: make(map[string]*AccountSession),
		lruOrder: make([]string, 0),
		config:   cfg,
		factory:  factory,
		ticks:    ticks,
		stopCh:   make(chan struct{}),
	}
}

// Ticks exposes the shared tick cache so market-data feeders can populate it.
func (m *Manager) Ticks() *TickCache { return m.ticks }

// Start launches the idle-cleanup and health-check background loops.
func (m *Manager) Start(ctx context.Context) {
	m.wg.Add(2)

	go func() {
		defer m.wg.Done()
		interval := m.config.IdleTimeout / 2
		if interval <= 0 {
			interval = 15 * time.Minute
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.cleanupIdle()
			}
		}
	}()

	go func() {
		defer m.wg.Done()
		interval := m.config.HealthInterval
		if interval <= 0 {
			interval = time.Minute
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.healthCheckAll(ctx)
			}
		}
	}()
}

// Stop halts the background loops and disconnects every owned session.
func (m *Manager) Stop() {
	close(m.stopCh)
	m.wg.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, sess := range m.sessions {
		_ = sess.Gateway.Disconnect(context.Background())
		delete(m.sessions, id)
	}
	m.lruOrder = nil
}

// GetOrCreate returns the account's gateway, creating and connecting one via
// the factory on first use.
func (m *Manager) GetOrCreate(ctx context.Context, accountID string) (venue.Gateway, error) {
	m.mu.RLock()
	if sess, ok := m.sessions[accountID]; ok {
		if sess.Failures >= m.config.FailureThreshold && time.Since(sess.HealthyAt) < m.config.CircuitTimeout {
			m.mu.RUnlock()
			return nil, ErrSessionUnhealthy
		}
		m.mu.RUnlock()
		m.touchLRU(accountID)
		return sess.Gateway, nil
	}
	m.mu.RUnlock()

	return m.create(ctx, accountID)
}

func (m *Manager) create(ctx context.Context, accountID string) (venue.Gateway, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sess, ok := m.sessions[accountID]; ok {
		m.touchLRULocked(accountID)
		return sess.Gateway, nil
	}

	if len(m.sessions) >= m.config.MaxSize {
		if !m.evictOldestLocked() {
			return nil, ErrPoolFull
		}
	}

	gw, err := m.factory(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("create session for %s: %w", accountID, err)
	}
	if err := gw.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect session for %s: %w", accountID, err)
	}

	now := time.Now()
	m.sessions[accountID] = &AccountSession{
		AccountID: accountID,
		Gateway:   gw,
		CreatedAt: now,
		LastUsed:  now,
		HealthyAt: now,
	}
	m.lruOrder = append(m.lruOrder, accountID)
	return gw, nil
}

// Remove disconnects and evicts an account's session.
func (m *Manager) Remove(accountID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess, ok := m.sessions[accountID]; ok {
		_ = sess.Gateway.Disconnect(context.Background())
		delete(m.sessions, accountID)
		m.removeLRULocked(accountID)
	}
}

// RecordFailure/RecordSuccess feed the per-session failure-gate (separate
// from, and coarser than, the resilient wrapper's own circuit breaker: this
// one governs whether GetOrCreate hands the session back out at all).
func (m *Manager) RecordFailure(accountID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess, ok := m.sessions[accountID]; ok {
		sess.Failures++
	}
}

func (m *Manager) RecordSuccess(accountID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess, ok := m.sessions[accountID]; ok {
		sess.Failures = 0
		sess.HealthyAt = time.Now()
	}
}

// Accounts lists every account currently holding an owned session.
func (m *Manager) Accounts() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Stats summarizes the session pool for dashboards.
type Stats struct {
	TotalSessions  int
	MaxSize        int
	UnhealthyCount int
}

func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := Stats{TotalSessions: len(m.sessions), MaxSize: m.config.MaxSize}
	for _, sess := range m.sessions {
		if sess.Failures >= m.config.FailureThreshold {
			stats.UnhealthyCount++
		}
	}
	return stats
}

// --- risk.AccountSource / risk.ExposureSource / exit.PositionSource ---

// AccountInfo implements risk.AccountSource.
func (m *Manager) AccountInfo(ctx context.Context, accountID string) (model.AccountInfo, error) {
	gw, err := m.GetOrCreate(ctx, accountID)
	if err != nil {
		return model.AccountInfo{}, err
	}
	return gw.AccountInfo(ctx)
}

// Positions implements risk.AccountSource and doubles as exit.PositionSource's
// OpenPositions.
func (m *Manager) Positions(ctx context.Context, accountID string) ([]model.UnifiedPosition, error) {
	gw, err := m.GetOrCreate(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return gw.ListPositions(ctx)
}

// OpenPositions implements exit.PositionSource.
func (m *Manager) OpenPositions(ctx context.Context, accountID string) ([]model.UnifiedPosition, error) {
	return m.Positions(ctx, accountID)
}

// LastTick implements exit.PositionSource via the shared TickCache.
func (m *Manager) LastTick(symbol string) (exit.Tick, bool) {
	return m.ticks.LastTick(symbol)
}

// Exposure implements risk.ExposureSource.
func (m *Manager) Exposure(ctx context.Context, accountID string) (risk.AccountExposure, error) {
	positions, err := m.Positions(ctx, accountID)
	if err != nil {
		return risk.AccountExposure{}, err
	}
	exposure := risk.AccountExposure{TotalPositions: len(positions), Positions: positions}
	for _, p := range positions {
		if p.UnrealizedPnL.LessThan(decimal.Zero) {
			exposure.LosingPositions++
		}
	}
	return exposure, nil
}

var (
	_ risk.AccountSource  = (*Manager)(nil)
	_ risk.ExposureSource = (*Manager)(nil)
	_ exit.PositionSource = (*Manager)(nil)
)

// ResilientGateway returns the account's gateway as a *resilience.
// ResilientGateway, if that is how its factory built it and a session is
// currently active. Used by the dashboard resilience endpoint and the risk
// response engine's breaker resolver.
func (m *Manager) ResilientGateway(accountID string) (*resilience.ResilientGateway, bool) {
	m.mu.RLock()
	sess, ok := m.sessions[accountID]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	rg, ok := sess.Gateway.(*resilience.ResilientGateway)
	return rg, ok
}

// Breaker implements risk.BreakerResolver.
func (m *Manager) Breaker(accountID string) (*resilience.Breaker, error) {
	rg, ok := m.ResilientGateway(accountID)
	if !ok {
		return nil, fmt.Errorf("session: account %s has no resilient gateway", accountID)
	}
	return rg.Breaker(), nil
}

// --- internal helpers (LRU, cleanup, health) ---

func (m *Manager) touchLRU(accountID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touchLRULocked(accountID)
}

func (m *Manager) touchLRULocked(accountID string) {
	if sess, ok := m.sessions[accountID]; ok {
		sess.LastUsed = time.Now()
	}
	for i, id := range m.lruOrder {
		if id == accountID {
			m.lruOrder = append(m.lruOrder[:i], m.lruOrder[i+1:]...)
			m.lruOrder = append(m.lruOrder, accountID)
			break
		}
	}
}

func (m *Manager) removeLRULocked(accountID string) {
	for i, id := range m.lruOrder {
		if id == accountID {
			m.lruOrder = append(m.lruOrder[:i], m.lruOrder[i+1:]...)
			break
		}
	}
}

func (m *Manager) evictOldestLocked() bool {
	if len(m.lruOrder) == 0 {
		return false
	}
	oldest := m.lruOrder[0]
	if sess, ok := m.sessions[oldest]; ok {
		_ = sess.Gateway.Disconnect(context.Background())
		delete(m.sessions, oldest)
	}
	m.lruOrder = m.lruOrder[1:]
	return true
}

func (m *Manager) cleanupIdle() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	var toRemove []string
	for id, sess := range m.sessions {
		if now.Sub(sess.LastUsed) > m.config.IdleTimeout {
			toRemove = append(toRemove, id)
		}
	}
	for _, id := range toRemove {
		if sess, ok := m.sessions[id]; ok {
			_ = sess.Gateway.Disconnect(context.Background())
			delete(m.sessions, id)
			m.removeLRULocked(id)
		}
	}
}

func (m *Manager) healthCheckAll(ctx context.Context) {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		m.healthCheck(ctx, id)
	}
}

func (m *Manager) healthCheck(ctx context.Context, accountID string) {
	m.mu.RLock()
	sess, ok := m.sessions[accountID]
	m.mu.RUnlock()
	if !ok {
		return
	}

	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	_, err := sess.Gateway.Ping(checkCtx)
	cancel()

	if err != nil {
		m.RecordFailure(accountID)
	} else {
		m.RecordSuccess(accountID)
	}
}
