// Package mqttstore implements store.Store on top of an MQTT mirror of the
// ioBroker database.
//
// States and objects are expected as retained JSON messages under
// <prefix>/states/<key path> and <prefix>/objects/<key path>, where the key
// path is the id with "." replaced by "/". Reads are served from a cache
// filled by a wildcard subscription; writes publish retained messages.
package mqttstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/instance-watch/internal/infrastructure/mqtt"
	"github.com/nerrad567/instance-watch/internal/store"
)

// Client is the subset of *mqtt.Client used by the store.
type Client interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	HasSubscription(topic string) bool
}

// Logger is the logging interface used by the store.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Options configures the store.
type Options struct {
	// Prefix is the topic root of the mirror.
	Prefix string

	// QoS is used for subscriptions and publishes.
	QoS byte

	// SyncWait is how long Start waits for retained messages to arrive.
	SyncWait time.Duration

	// WriterID is recorded as the "from" field of written states.
	WriterID string

	Now    func() time.Time
	Logger Logger
}

type subscriber struct {
	pattern string
	handler store.Handler
}

// Store is an MQTT-backed store.Store.
type Store struct {
	client Client
	topics mqtt.Topics
	opts   Options
	logger Logger

	mu        sync.RWMutex
	states    map[string]store.State
	objects   map[string]store.Object
	stateSubs []subscriber
	objSubs   []subscriber
	started   bool
	closed    bool
}

var _ store.Store = (*Store)(nil)

// New creates a store. Call Start before use.
func New(client Client, opts Options) *Store {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	var logger Logger = noopLogger{}
	if opts.Logger != nil {
		logger = opts.Logger
	}
	return &Store{
		client:  client,
		topics:  mqtt.Topics{Prefix: opts.Prefix},
		opts:    opts,
		logger:  logger,
		states:  make(map[string]store.State),
		objects: make(map[string]store.Object),
	}
}

// Start subscribes to the mirror and waits SyncWait for retained messages.
//
// Returns:
//   - error: If subscribing fails or ctx ends before the wait completes
func (s *Store) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	if err := s.client.Subscribe(s.topics.AllObjects(), s.opts.QoS, s.handleObject); err != nil {
		return fmt.Errorf("subscribing to objects: %w", err)
	}
	if err := s.client.Subscribe(s.topics.AllStates(), s.opts.QoS, s.handleState); err != nil {
		return fmt.Errorf("subscribing to states: %w", err)
	}

	if s.opts.SyncWait <= 0 {
		return nil
	}
	t := time.NewTimer(s.opts.SyncWait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
	}

	s.mu.RLock()
	s.logger.Debug("mqtt store synchronised", "states", len(s.states), "objects", len(s.objects))
	s.mu.RUnlock()
	return nil
}

// handleState updates the cache from a state message and notifies subscribers.
func (s *Store) handleState(topic string, payload []byte) error {
	key, ok := s.topics.StateKey(topic)
	if !ok {
		return nil
	}

	ev := store.Event{Key: key}
	s.mu.Lock()
	if len(payload) == 0 || string(payload) == "null" {
		delete(s.states, key)
	} else {
		st, err := decodeState(payload)
		if err != nil {
			s.mu.Unlock()
			return fmt.Errorf("state %s: %w", key, err)
		}
		s.states[key] = st
		ev.State = &st
	}
	handlers := matching(s.stateSubs, key)
	s.mu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
	return nil
}

// handleObject updates the cache from an object message and notifies subscribers.
func (s *Store) handleObject(topic string, payload []byte) error {
	key, ok := s.topics.ObjectKey(topic)
	if !ok {
		return nil
	}

	ev := store.Event{Key: key}
	s.mu.Lock()
	if len(payload) == 0 || string(payload) == "null" {
		delete(s.objects, key)
	} else {
		var obj store.Object
		if err := json.Unmarshal(payload, &obj); err != nil {
			s.mu.Unlock()
			return fmt.Errorf("object %s: %w: %w", key, store.ErrMalformed, err)
		}
		if obj.ID == "" {
			obj.ID = key
		}
		s.objects[key] = obj
		ev.Object = &obj
	}
	handlers := matching(s.objSubs, key)
	s.mu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
	return nil
}

// decodeState accepts the ioBroker state JSON or, as the ioBroker MQTT
// adapter does for plain values, a bare JSON value treated as acknowledged.
func decodeState(payload []byte) (store.State, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err == nil {
		if _, hasVal := fields["val"]; hasVal {
			var st store.State
			if err := json.Unmarshal(payload, &st); err != nil {
				return store.State{}, fmt.Errorf("%w: %w", store.ErrMalformed, err)
			}
			return st, nil
		}
	}

	var val any
	if err := json.Unmarshal(payload, &val); err != nil {
		// Not JSON at all: keep the raw text.
		val = string(payload)
	}
	return store.State{Val: val, Ack: true}, nil
}

// ListInstances returns all cached instance objects sorted by id.
func (s *Store) ListInstances(_ context.Context) ([]store.Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
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

// GetInstance returns the cached instance object of id.
func (s *Store) GetInstance(_ context.Context, id string) (store.Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return store.Object{}, store.ErrClosed
	}

	o, ok := s.objects[store.InstanceObjectKey(id)]
	if !ok {
		return store.Object{}, fmt.Errorf("instance %s: %w", id, store.ErrNotFound)
	}
	return o, nil
}

// GetState returns the cached state under key.
func (s *Store) GetState(_ context.Context, key string) (store.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return store.State{}, store.ErrClosed
	}

	st, ok := s.states[key]
	if !ok {
		return store.State{}, fmt.Errorf("state %s: %w", key, store.ErrNotFound)
	}
	return st, nil
}

// HasState reports whether key is cached.
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

// SetState publishes val as a retained state message.
// The cache is updated immediately; subscribers are notified when the
// broker echoes the message back.
func (s *Store) SetState(_ context.Context, key string, val any, ack bool) error {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return store.ErrClosed
	}

	now := store.NowMillis(s.opts.Now())
	st := store.State{Val: val, Ack: ack, TS: now, LC: now, From: s.opts.WriterID}
	payload, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encoding state %s: %w", key, err)
	}

	if err := s.client.Publish(s.topics.State(key), payload, s.opts.QoS, true); err != nil {
		return fmt.Errorf("publishing state %s: %w", key, err)
	}

	s.mu.Lock()
	s.states[key] = st
	s.mu.Unlock()
	return nil
}

// SubscribeStates registers handler for state keys matching pattern.
func (s *Store) SubscribeStates(_ context.Context, pattern string, handler store.Handler) error {
	return s.subscribe(&s.stateSubs, pattern, handler)
}

// SubscribeObjects registers handler for object keys matching pattern.
func (s *Store) SubscribeObjects(_ context.Context, pattern string, handler store.Handler) error {
	return s.subscribe(&s.objSubs, pattern, handler)
}

func (s *Store) subscribe(list *[]subscriber, pattern string, handler store.Handler) error {
	if _, err := store.Match(pattern, ""); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrClosed
	}
	*list = append(*list, subscriber{pattern: pattern, handler: handler})
	return nil
}

// Close drops the mirror subscriptions the client still holds. The MQTT
// client stays open.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.stateSubs = nil
	s.objSubs = nil
	s.mu.Unlock()

	var errs []error
	for _, topic := range []string{s.topics.AllStates(), s.topics.AllObjects()} {
		if !s.client.HasSubscription(topic) {
			continue
		}
		if err := s.client.Unsubscribe(topic); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func matching(subs []subscriber, key string) []store.Handler {
	var out []store.Handler
	for _, sub := range subs {
		if ok, _ := store.Match(sub.pattern, key); ok { //nolint:errcheck // validated on subscribe
			out = append(out, sub.handler)
		}
	}
	return out
}
