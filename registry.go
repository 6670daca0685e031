package ur_arm

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.viam.com/rdk/logging"
)

// SessionEntry is one shared controller session and the resources using it.
type SessionEntry struct {
	service   *SafeMotionService
	config    ServiceConfig
	refCount  int64 // Atomic reference counter
	lastError error
	logger    logging.Logger
	mu        sync.RWMutex
}

func (e *SessionEntry) available() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.service != nil
}

// SessionRegistry shares one MotionService per controller address between the
// arm and gripper resources.
type SessionRegistry struct {
	entries map[string]*SessionEntry // host:port -> entry
	mu      sync.RWMutex

	newService func(ctx context.Context, cfg ServiceConfig, logger logging.Logger) (MotionService, error)
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		entries: make(map[string]*SessionEntry),
		newService: func(ctx context.Context, cfg ServiceConfig, logger logging.Logger) (MotionService, error) {
			return NewMotionService(ctx, cfg, nil, logger)
		},
	}
}

// Acquire returns the session for cfg's controller, creating it on first use.
func (r *SessionRegistry) Acquire(ctx context.Context, cfg ServiceConfig, logger logging.Logger) (*SafeMotionService, error) {
	addr := cfg.Address()

	r.mu.RLock()
	entry, exists := r.entries[addr]
	r.mu.RUnlock()

	if exists && entry.available() {
		return r.getExistingSession(entry, cfg)
	}

	return r.createNewSession(ctx, addr, cfg, logger)
}

func (r *SessionRegistry) getExistingSession(entry *SessionEntry, cfg ServiceConfig) (*SafeMotionService, error) {
	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.service == nil {
		if entry.lastError != nil {
			return nil, fmt.Errorf("cached session creation error: %w", entry.lastError)
		}
		return nil, fmt.Errorf("session not available for %s", entry.config.Address())
	}

	if !configsEqual(entry.config, cfg) {
		currentRefCount := atomic.LoadInt64(&entry.refCount)
		return nil, fmt.Errorf("conflict: existing session uses different connection settings (refCount: %d)", currentRefCount)
	}

	atomic.AddInt64(&entry.refCount, 1)
	return entry.service, nil
}

func (r *SessionRegistry) createNewSession(ctx context.Context, addr string, cfg ServiceConfig, logger logging.Logger) (*SafeMotionService, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// A failed entry is replaced by a fresh attempt.
	if entry, exists := r.entries[addr]; exists && entry.available() {
		return r.getExistingSession(entry, cfg)
	}

	entry := &SessionEntry{config: cfg, logger: logger}

	svc, err := r.newService(ctx, cfg, logger)
	if err != nil {
		entry.lastError = err
		r.entries[addr] = entry
		return nil, fmt.Errorf("failed to open controller session: %w", err)
	}

	entry.service = NewSafeMotionService(svc)
	entry.lastError = nil
	atomic.StoreInt64(&entry.refCount, 1)
	r.entries[addr] = entry

	logger.Infof("Opened %s controller session for %s", modeName(cfg.Mode), addr)
	return entry.service, nil
}

// Release drops one reference and closes the session when none remain.
func (r *SessionRegistry) Release(ctx context.Context, addr string) {
	r.mu.RLock()
	entry, exists := r.entries[addr]
	r.mu.RUnlock()

	if !exists {
		return
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	currentRefCount := atomic.AddInt64(&entry.refCount, -1)
	if currentRefCount <= 0 {
		if entry.service != nil {
			if err := entry.service.Close(ctx); err != nil && entry.logger != nil {
				entry.logger.Warnf("error closing shared session for %s: %v", addr, err)
			}
		}

		r.mu.Lock()
		delete(r.entries, addr)
		r.mu.Unlock()

		entry.service = nil
		atomic.StoreInt64(&entry.refCount, 0)
		entry.lastError = nil
	}
}

// ForceClose closes the session regardless of its references.
func (r *SessionRegistry) ForceClose(ctx context.Context, addr string) error {
	r.mu.Lock()
	entry, exists := r.entries[addr]
	if exists {
		delete(r.entries, addr)
	}
	r.mu.Unlock()

	if !exists {
		return nil
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	var err error
	if entry.service != nil {
		err = entry.service.Close(ctx)
		entry.service = nil
		atomic.StoreInt64(&entry.refCount, 0)
		entry.lastError = nil
	}

	return err
}

// Status reports the reference count, whether a live session exists, and a
// one-line summary of its connection.
func (r *SessionRegistry) Status(addr string) (int64, bool, string) {
	r.mu.RLock()
	entry, exists := r.entries[addr]
	r.mu.RUnlock()

	if !exists {
		return 0, false, ""
	}

	entry.mu.RLock()
	defer entry.mu.RUnlock()

	currentRefCount := atomic.LoadInt64(&entry.refCount)
	hasService := entry.service != nil
	summary := fmt.Sprintf("Controller: %s (%s), monitor port %d",
		entry.config.Address(), modeName(entry.config.Mode), entry.config.MonitorPort)
	if entry.lastError != nil {
		summary += ", last error: " + entry.lastError.Error()
	}

	return currentRefCount, hasService, summary
}

// configsEqual compares the connection identity of two sessions. Motion
// defaults are per-session state and may differ between users.
func configsEqual(a, b ServiceConfig) bool {
	return modeName(a.Mode) == modeName(b.Mode) &&
		a.Host == b.Host &&
		a.Port == b.Port &&
		a.MonitorPort == b.MonitorPort
}

func modeName(mode string) string {
	if mode == "" {
		return ModeLive
	}
	return mode
}
