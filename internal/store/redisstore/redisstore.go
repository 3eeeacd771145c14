// Package redisstore implements store.Store on an ioBroker redis database.
//
// ioBroker keeps states as JSON strings under "io.<id>" and objects under
// "cfg.o.<id>", and publishes every change on a channel named after the key.
// Subscriptions map onto PSUBSCRIBE with the same prefixes.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/nerrad567/instance-watch/internal/store"
)

// Key prefixes used by the ioBroker redis layout.
const (
	StatePrefix  = "io."
	ObjectPrefix = "cfg.o."
)

const scanCount = 256

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
	// WriterID is recorded as the "from" field of written states.
	WriterID string

	Now    func() time.Time
	Logger Logger
}

// Store is a redis-backed store.Store.
type Store struct {
	client *goredis.Client
	opts   Options
	logger Logger

	mu     sync.Mutex
	subs   []*goredis.PubSub
	closed bool
	wg     sync.WaitGroup
}

var _ store.Store = (*Store)(nil)

// New wraps an established client. The client is not closed by Close.
func New(client *goredis.Client, opts Options) *Store {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	var logger Logger = noopLogger{}
	if opts.Logger != nil {
		logger = opts.Logger
	}
	return &Store{client: client, opts: opts, logger: logger}
}

// StateKey returns the redis key holding state key.
func StateKey(key string) string { return StatePrefix + key }

// ObjectKey returns the redis key holding object key.
func ObjectKey(key string) string { return ObjectPrefix + key }

func (s *Store) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrClosed
	}
	return nil
}

// ListInstances scans the instance objects and returns them sorted by id.
//
// Returns:
//   - []store.Object: Objects of type "instance"
//   - error: If scanning or reading fails
func (s *Store) ListInstances(ctx context.Context) ([]store.Object, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var keys []string
	var cursor uint64
	for {
		batch, next, err := s.client.Scan(ctx, cursor, ObjectKey(store.AdapterPrefix+"*"), scanCount).Result()
		if err != nil {
			return nil, fmt.Errorf("scanning instance objects: %w", err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	if len(keys) == 0 {
		return nil, nil
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("reading instance objects: %w", err)
	}

	out := make([]store.Object, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue // removed between SCAN and MGET
		}
		obj, err := decodeObject(strings.TrimPrefix(keys[i], ObjectPrefix), []byte(raw))
		if err != nil {
			s.logger.Warn("skipping malformed object", "key", keys[i], "error", err)
			continue
		}
		if obj.IsInstance() {
			out = append(out, obj)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetInstance reads the instance object of id.
func (s *Store) GetInstance(ctx context.Context, id string) (store.Object, error) {
	if err := s.checkOpen(); err != nil {
		return store.Object{}, err
	}

	key := store.InstanceObjectKey(id)
	raw, err := s.client.Get(ctx, ObjectKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return store.Object{}, fmt.Errorf("instance %s: %w", id, store.ErrNotFound)
		}
		return store.Object{}, fmt.Errorf("reading instance %s: %w", id, err)
	}
	return decodeObject(key, raw)
}

// GetState reads the state under key.
func (s *Store) GetState(ctx context.Context, key string) (store.State, error) {
	if err := s.checkOpen(); err != nil {
		return store.State{}, err
	}

	raw, err := s.client.Get(ctx, StateKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return store.State{}, fmt.Errorf("state %s: %w", key, store.ErrNotFound)
		}
		return store.State{}, fmt.Errorf("reading state %s: %w", key, err)
	}
	st, err := decodeState(raw)
	if err != nil {
		return store.State{}, fmt.Errorf("state %s: %w", key, err)
	}
	return st, nil
}

// HasState reports whether a state exists under key.
func (s *Store) HasState(ctx context.Context, key string) (bool, error) {
	if err := s.checkOpen(); err != nil {
		return false, err
	}

	n, err := s.client.Exists(ctx, StateKey(key)).Result()
	if err != nil {
		return false, fmt.Errorf("checking state %s: %w", key, err)
	}
	return n > 0, nil
}

// SetState stores val and publishes the change like ioBroker does.
func (s *Store) SetState(ctx context.Context, key string, val any, ack bool) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	payload, err := encodeState(val, ack, s.opts.Now(), s.opts.WriterID)
	if err != nil {
		return fmt.Errorf("encoding state %s: %w", key, err)
	}

	rkey := StateKey(key)
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, rkey, payload, 0)
	pipe.Publish(ctx, rkey, payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("writing state %s: %w", key, err)
	}
	return nil
}

// SubscribeStates delivers changes of states whose key matches pattern.
func (s *Store) SubscribeStates(ctx context.Context, pattern string, handler store.Handler) error {
	return s.subscribe(ctx, StatePrefix, pattern, handler, stateEvent)
}

// SubscribeObjects delivers changes of objects whose key matches pattern.
func (s *Store) SubscribeObjects(ctx context.Context, pattern string, handler store.Handler) error {
	return s.subscribe(ctx, ObjectPrefix, pattern, handler, objectEvent)
}

type eventDecoder func(key string, payload []byte) (store.Event, error)

func (s *Store) subscribe(ctx context.Context, prefix, pattern string, handler store.Handler, decode eventDecoder) error {
	if _, err := store.Match(pattern, ""); err != nil {
		return err
	}
	if err := s.checkOpen(); err != nil {
		return err
	}

	ps := s.client.PSubscribe(ctx, prefix+pattern)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close() //nolint:errcheck // best-effort cleanup
		return fmt.Errorf("subscribing to %s%s: %w", prefix, pattern, err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ps.Close() //nolint:errcheck // best-effort cleanup
		return store.ErrClosed
	}
	s.subs = append(s.subs, ps)
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		for msg := range ps.Channel() {
			key := strings.TrimPrefix(msg.Channel, prefix)
			if ok, _ := store.Match(pattern, key); !ok { //nolint:errcheck // validated above
				continue
			}
			ev, err := decode(key, []byte(msg.Payload))
			if err != nil {
				s.logger.Warn("dropping malformed change", "key", msg.Channel, "error", err)
				continue
			}
			handler(ev)
		}
	}()
	return nil
}

// Close ends all subscriptions. The redis client stays open.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()

	var errs []error
	for _, ps := range subs {
		if err := ps.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.wg.Wait()
	return errors.Join(errs...)
}

func isDeleted(payload []byte) bool {
	p := strings.TrimSpace(string(payload))
	return p == "" || p == "null"
}

func stateEvent(key string, payload []byte) (store.Event, error) {
	ev := store.Event{Key: key}
	if isDeleted(payload) {
		return ev, nil
	}
	st, err := decodeState(payload)
	if err != nil {
		return ev, err
	}
	ev.State = &st
	return ev, nil
}

func objectEvent(key string, payload []byte) (store.Event, error) {
	ev := store.Event{Key: key}
	if isDeleted(payload) {
		return ev, nil
	}
	obj, err := decodeObject(key, payload)
	if err != nil {
		return ev, err
	}
	ev.Object = &obj
	return ev, nil
}

func decodeState(raw []byte) (store.State, error) {
	var st store.State
	if err := json.Unmarshal(raw, &st); err != nil {
		return store.State{}, fmt.Errorf("%w: %w", store.ErrMalformed, err)
	}
	return st, nil
}

func encodeState(val any, ack bool, now time.Time, from string) ([]byte, error) {
	ts := store.NowMillis(now)
	return json.Marshal(store.State{Val: val, Ack: ack, TS: ts, LC: ts, From: from})
}

func decodeObject(key string, raw []byte) (store.Object, error) {
	var obj store.Object
	if err := json.Unmarshal(raw, &obj); err != nil {
		return store.Object{}, fmt.Errorf("object %s: %w: %w", key, store.ErrMalformed, err)
	}
	if obj.ID == "" {
		obj.ID = key
	}
	return obj, nil
}
