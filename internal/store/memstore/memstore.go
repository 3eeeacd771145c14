// Package memstore is an in-process store.Store.
//
// It backs unit tests and local runs without a broker. Change events are
// delivered synchronously on the writing goroutine, after internal locks
// are released.
package memstore

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/instance-watch/internal/store"
)

// Write records one SetState call.
type Write struct {
	Key string
	Val any
	Ack bool
	At  time.Time
}

type subscriber struct {
	pattern string
	objects bool
	handler store.Handler
}

// Store is an in-memory store.Store.
type Store struct {
	mu       sync.Mutex
	now      func() time.Time
	states   map[string]store.State
	objects  map[string]store.Object
	subs     []subscriber
	writes   []Write
	writeErr error
	closed   bool
}

var _ store.Store = (*Store)(nil)

// New returns an empty store using now for state timestamps.
// A nil now uses time.Now.
func New(now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{
		now:     now,
		states:  make(map[string]store.State),
		objects: make(map[string]store.Object),
	}
}

// PutInstance stores an instance object and notifies object subscribers.
func (s *Store) PutInstance(id, mode string, enabled bool, schedule string) {
	e := enabled
	s.PutObject(store.Object{
		ID:   store.InstanceObjectKey(id),
		Type: store.ObjectTypeInstance,
		Common: store.ObjectCommon{
			Enabled:  &e,
			Mode:     mode,
			Schedule: schedule,
		},
	})
}

// PutObject stores obj and notifies object subscribers.
func (s *Store) PutObject(obj store.Object) {
	s.mu.Lock()
	s.objects[obj.ID] = obj
	handlers := s.matching(obj.ID, true)
	s.mu.Unlock()

	o := obj
	dispatch(handlers, store.Event{Key: obj.ID, Object: &o})
}

// DeleteState removes a state and notifies subscribers with a nil State.
func (s *Store) DeleteState(key string) {
	s.mu.Lock()
	delete(s.states, key)
	handlers := s.matching(key, false)
	s.mu.Unlock()

	dispatch(handlers, store.Event{Key: key})
}

// PutState stores a state with an explicit timestamp and notifies subscribers.
func (s *Store) PutState(key string, val any, ack bool, ts time.Time) {
	s.mu.Lock()
	st := store.State{Val: val, Ack: ack, TS: store.NowMillis(ts), LC: store.NowMillis(ts)}
	s.states[key] = st
	handlers := s.matching(key, false)
	s.mu.Unlock()

	dispatch(handlers, store.Event{Key: key, State: &st})
}

// SetWriteError makes every following SetState fail with err. nil clears it.
func (s *Store) SetWriteError(err error) {
	s.mu.Lock()
	s.writeErr = err
	s.mu.Unlock()
}

// Writes returns all SetState calls in order.
func (s *Store) Writes() []Write {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Write(nil), s.writes...)
}

// WritesTo returns the SetState calls for key in order.
func (s *Store) WritesTo(key string) []Write {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Write
	for _, w := range s.writes {
		if w.Key == key {
			out = append(out, w)
		}
	}
	return out
}

// ListInstances returns all instance objects sorted by id.
func (s *Store) ListInstances(ctx context.Context) ([]store.Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, store.ErrClosed
	}

	var out []store.Object
	for _, o := range s.objects {
		if o.IsInstance() {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetInstance returns the instance object of id.
func (s *Store) GetInstance(ctx context.Context, id string) (store.Object, error) {
	if err := ctx.Err(); err != nil {
		return store.Object{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.Object{}, store.ErrClosed
	}

	o, ok := s.objects[store.InstanceObjectKey(id)]
	if !ok {
		return store.Object{}, store.ErrNotFound
	}
	return o, nil
}

// GetState returns the state under key.
func (s *Store) GetState(ctx context.Context, key string) (store.State, error) {
	if err := ctx.Err(); err != nil {
		return store.State{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.State{}, store.ErrClosed
	}

	st, ok := s.states[key]
	if !ok {
		return store.State{}, store.ErrNotFound
	}
	return st, nil
}

// HasState reports whether key exists.
func (s *Store) HasState(ctx context.Context, key string) (bool, error) {
	_, err := s.GetState(ctx, key)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, store.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// SetState stores val, records the write and notifies subscribers.
func (s *Store) SetState(ctx context.Context, key string, val any, ack bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return store.ErrClosed
	}
	if s.writeErr != nil {
		err := s.writeErr
		s.mu.Unlock()
		return err
	}

	now := s.now()
	st := store.State{Val: val, Ack: ack, TS: store.NowMillis(now), LC: store.NowMillis(now)}
	s.states[key] = st
	s.writes = append(s.writes, Write{Key: key, Val: val, Ack: ack, At: now})
	handlers := s.matching(key, false)
	s.mu.Unlock()

	dispatch(handlers, store.Event{Key: key, State: &st})
	return nil
}

// SubscribeStates registers handler for state keys matching pattern.
func (s *Store) SubscribeStates(_ context.Context, pattern string, handler store.Handler) error {
	return s.subscribe(pattern, false, handler)
}

// SubscribeObjects registers handler for object keys matching pattern.
func (s *Store) SubscribeObjects(_ context.Context, pattern string, handler store.Handler) error {
	return s.subscribe(pattern, true, handler)
}

func (s *Store) subscribe(pattern string, objects bool, handler store.Handler) error {
	if _, err := store.Match(pattern, ""); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrClosed
	}
	s.subs = append(s.subs, subscriber{pattern: pattern, objects: objects, handler: handler})
	return nil
}

// Close drops all subscriptions. Later calls fail with store.ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.subs = nil
	return nil
}

// matching returns handlers subscribed to key. Caller must hold s.mu.
func (s *Store) matching(key string, objects bool) []store.Handler {
	var out []store.Handler
	for _, sub := range s.subs {
		if sub.objects != objects {
			continue
		}
		if ok, _ := store.Match(sub.pattern, key); ok { //nolint:errcheck // validated on subscribe
			out = append(out, sub.handler)
		}
	}
	return out
}

func dispatch(handlers []store.Handler, ev store.Event) {
	for _, h := range handlers {
		h(ev)
	}
}
