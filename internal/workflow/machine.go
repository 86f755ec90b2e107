package workflow

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/cartpilot/api/schemas"
)

// Machine applies workflow transitions to sessions held in a Store.
type Machine struct {
	store  Store
	logger *zap.Logger
	newID  func() (string, error)

	locksMu sync.Mutex
	locks   map[string]*sessionLock
}

// sessionLock is a one slot semaphore so waiters can give up with their
// context.
type sessionLock struct {
	slot chan struct{}
	refs int
}

// NewMachine creates a Machine over store.
func NewMachine(store Store, logger *zap.Logger) *Machine {
	return &Machine{
		store:  store,
		logger: logger.Named("workflow"),
		newID:  NewSessionID,
		locks:  make(map[string]*sessionLock),
	}
}

// Discover opens a new session holding the ranked products.
func (m *Machine) Discover(ctx context.Context, plan schemas.Plan, products []schemas.Product) (Session, error) {
	id, err := m.newID()
	if err != nil {
		return Session{}, err
	}
	sess := &Session{
		ID:       id,
		Plan:     plan,
		Products: products,
		State:    StateDiscovered,
	}
	if err := m.store.Put(ctx, sess); err != nil {
		return Session{}, fmt.Errorf("store session: %w", err)
	}
	m.logger.Info("Session discovered.", zap.String("session_id", id), zap.Int("products", len(products)))
	return m.snapshot(ctx, id)
}

// Lookup resolves a selector against a session without changing it.
func (m *Machine) Lookup(ctx context.Context, id string, sel Selector) (schemas.Product, error) {
	sess, err := m.store.Get(ctx, id)
	if err != nil {
		return schemas.Product{}, fmt.Errorf("session %s: %w", id, err)
	}
	product, ok := sel.resolve(sess.Products)
	if !ok {
		return schemas.Product{}, fmt.Errorf("product %s in session %s: %w", sel, id, ErrNotFound)
	}
	return cloneProduct(product), nil
}

// Choose records the selected product and moves the session to CHOSEN. It
// may be called again from any state to switch products.
func (m *Machine) Choose(ctx context.Context, id string, sel Selector) (Session, error) {
	sess, err := m.store.Get(ctx, id)
	if err != nil {
		return Session{}, fmt.Errorf("session %s: %w", id, err)
	}
	product, ok := sel.resolve(sess.Products)
	if !ok {
		return Session{}, fmt.Errorf("product %s in session %s: %w", sel, id, ErrNotFound)
	}
	sess.Chosen = &product
	sess.State = StateChosen
	if err := m.store.Put(ctx, sess); err != nil {
		return Session{}, fmt.Errorf("store session: %w", err)
	}
	m.logger.Info("Product chosen.", zap.String("session_id", id), zap.String("url", product.URL))
	return m.snapshot(ctx, id)
}

// Checkout moves a session with a chosen product to AT_CHECKOUT.
func (m *Machine) Checkout(ctx context.Context, id string) (Session, error) {
	sess, err := m.store.Get(ctx, id)
	if err != nil {
		return Session{}, fmt.Errorf("session %s: %w", id, err)
	}
	if sess.Chosen == nil {
		return Session{}, fmt.Errorf("session %s has no chosen product: %w", id, ErrInvalidState)
	}
	sess.State = StateAtCheckout
	if err := m.store.Put(ctx, sess); err != nil {
		return Session{}, fmt.Errorf("store session: %w", err)
	}
	m.logger.Info("Session at checkout.", zap.String("session_id", id))
	return m.snapshot(ctx, id)
}

// Annotate records the last page the browser was on for a session.
func (m *Machine) Annotate(ctx context.Context, id, lastPageURL string) error {
	sess, err := m.store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("session %s: %w", id, err)
	}
	sess.LastPageURL = lastPageURL
	return m.store.Put(ctx, sess)
}

// Get returns a copy of a session.
func (m *Machine) Get(ctx context.Context, id string) (Session, error) {
	return m.snapshot(ctx, id)
}

// Lock serializes work on one session. It waits until the session is free
// or ctx ends; the returned function releases it.
func (m *Machine) Lock(ctx context.Context, id string) (func(), error) {
	m.locksMu.Lock()
	l, ok := m.locks[id]
	if !ok {
		l = &sessionLock{slot: make(chan struct{}, 1)}
		m.locks[id] = l
	}
	l.refs++
	m.locksMu.Unlock()

	select {
	case l.slot <- struct{}{}:
	case <-ctx.Done():
		m.dropRef(id, l)
		return nil, fmt.Errorf("waiting for session %s: %w", id, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.slot
			m.dropRef(id, l)
		})
	}, nil
}

func (m *Machine) dropRef(id string, l *sessionLock) {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(m.locks, id)
	}
}

func (m *Machine) snapshot(ctx context.Context, id string) (Session, error) {
	sess, err := m.store.Get(ctx, id)
	if err != nil {
		return Session{}, fmt.Errorf("session %s: %w", id, err)
	}
	return *sess, nil
}
