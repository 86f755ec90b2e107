package workflow

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Store persists sessions for the lifetime of the process. Implementations
// hand out copies; mutating a returned session has no effect until Put.
type Store interface {
	Get(ctx context.Context, id string) (*Session, error)
	Put(ctx context.Context, s *Session) error
	Remove(ctx context.Context, id string) error
}

// MemoryOptions bounds a MemoryStore.
type MemoryOptions struct {
	// TTL expires a session this long after it was last touched. Zero
	// disables expiry.
	TTL time.Duration
	// MaxSessions evicts the least recently touched session when exceeded.
	// Zero means unbounded.
	MaxSessions int
	// SweepInterval runs the janitor. Zero disables it; expired sessions
	// are then only dropped on access.
	SweepInterval time.Duration
}

// MemoryStore is a Store backed by a map.
type MemoryStore struct {
	opts   MemoryOptions
	logger *zap.Logger
	now    func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a store and starts its janitor.
func NewMemoryStore(opts MemoryOptions, logger *zap.Logger) *MemoryStore {
	s := &MemoryStore{
		opts:     opts,
		logger:   logger.Named("session_store"),
		now:      time.Now,
		sessions: make(map[string]*Session),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	if opts.SweepInterval > 0 {
		go s.janitor()
	} else {
		close(s.done)
	}
	return s
}

// Get returns a copy of the session. Expired sessions are removed and
// reported as ErrNotFound.
func (s *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	expired := ok && s.expired(sess, s.now())
	s.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}
	if expired {
		s.mu.Lock()
		if cur, ok := s.sessions[id]; ok && s.expired(cur, s.now()) {
			delete(s.sessions, id)
		}
		s.mu.Unlock()
		return nil, ErrNotFound
	}
	return sess.Clone(), nil
}

// Put stores a copy of sess and marks it touched now.
func (s *MemoryStore) Put(_ context.Context, sess *Session) error {
	c := sess.Clone()
	c.TouchedAt = s.now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = c.TouchedAt
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[c.ID] = c
	if s.opts.MaxSessions > 0 {
		for len(s.sessions) > s.opts.MaxSessions {
			s.evictOldestLocked(c.ID)
		}
	}
	return nil
}

// Remove deletes a session. Removing an unknown id is not an error.
func (s *MemoryStore) Remove(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

// Len returns the number of stored sessions, including expired ones not yet
// swept.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Close stops the janitor and waits for it to exit.
func (s *MemoryStore) Close() {
	s.closeOnce.Do(func() { close(s.stop) })
	<-s.done
}

func (s *MemoryStore) expired(sess *Session, now time.Time) bool {
	return s.opts.TTL > 0 && now.Sub(sess.TouchedAt) > s.opts.TTL
}

// evictOldestLocked drops the least recently touched session other than keep.
func (s *MemoryStore) evictOldestLocked(keep string) {
	var (
		oldestID string
		oldest   time.Time
	)
	for id, sess := range s.sessions {
		if id == keep {
			continue
		}
		if oldestID == "" || sess.TouchedAt.Before(oldest) {
			oldestID, oldest = id, sess.TouchedAt
		}
	}
	if oldestID == "" {
		return
	}
	delete(s.sessions, oldestID)
	s.logger.Info("Session evicted at capacity.", zap.String("session_id", oldestID), zap.Int("max_sessions", s.opts.MaxSessions))
}

// Sweep removes every expired session and returns how many were dropped.
func (s *MemoryStore) Sweep() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, sess := range s.sessions {
		if s.expired(sess, now) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

func (s *MemoryStore) janitor() {
	defer close(s.done)
	ticker := time.NewTicker(s.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				s.logger.Debug("Expired sessions swept.", zap.Int("removed", n))
			}
		}
	}
}
