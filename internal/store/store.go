package store

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"
)

// Store is the external object/state database.
//
// Implementations must be safe for concurrent use. Handlers passed to the
// Subscribe methods are called from the implementation's own goroutines and
// must not block.
type Store interface {
	// ListInstances returns every instance object (system.adapter.<id>).
	ListInstances(ctx context.Context) ([]Object, error)

	// GetInstance returns the instance object for id.
	GetInstance(ctx context.Context, id string) (Object, error)

	// GetState returns the state stored under key, or ErrNotFound.
	GetState(ctx context.Context, key string) (State, error)

	// HasState reports whether a state exists under key.
	HasState(ctx context.Context, key string) (bool, error)

	// SetState writes val under key. ack=false marks the write as a command.
	SetState(ctx context.Context, key string, val any, ack bool) error

	// SubscribeStates delivers changes of states whose key matches pattern.
	SubscribeStates(ctx context.Context, pattern string, handler Handler) error

	// SubscribeObjects delivers changes of objects whose key matches pattern.
	SubscribeObjects(ctx context.Context, pattern string, handler Handler) error

	// Close releases subscriptions and connections.
	Close() error
}

// Handler receives change events.
type Handler func(Event)

// Event describes a changed state or object. A nil State and nil Object
// means the record was deleted.
type Event struct {
	Key    string
	State  *State
	Object *Object
}

// State is a stored value in ioBroker's state format.
type State struct {
	Val any   `json:"val"`
	Ack bool  `json:"ack"`
	TS  int64 `json:"ts"` // milliseconds since the Unix epoch
	LC  int64 `json:"lc,omitempty"`
	// From names the writer, e.g. "system.adapter.instance-watch.0".
	From string `json:"from,omitempty"`
}

// Time returns the state timestamp.
func (s State) Time() time.Time {
	return time.UnixMilli(s.TS)
}

// Bool returns the value as a boolean. Only real booleans are accepted.
func (s State) Bool() (bool, error) {
	b, ok := s.Val.(bool)
	if !ok {
		return false, fmt.Errorf("%w: want bool, got %T", ErrMalformed, s.Val)
	}
	return b, nil
}

// Object is a stored definition in ioBroker's object format.
type Object struct {
	ID     string       `json:"_id"`
	Type   string       `json:"type"`
	Common ObjectCommon `json:"common"`
}

// ObjectCommon holds the fields of an object's common section used by the watcher.
type ObjectCommon struct {
	Name     any    `json:"name,omitempty"`
	Enabled  *bool  `json:"enabled,omitempty"`
	Mode     string `json:"mode,omitempty"`
	Schedule string `json:"schedule,omitempty"`
}

// ObjectTypeInstance is the object type of adapter instances.
const ObjectTypeInstance = "instance"

// InstanceID returns the instance id of a system.adapter.<id> object.
func (o Object) InstanceID() string {
	return strings.TrimPrefix(o.ID, AdapterPrefix)
}

// IsInstance reports whether o is an adapter instance object.
func (o Object) IsInstance() bool {
	return o.Type == ObjectTypeInstance && strings.HasPrefix(o.ID, AdapterPrefix)
}

// AdapterPrefix is the key prefix of adapter and instance records.
const AdapterPrefix = "system.adapter."

// Signal identifies which watched record a key refers to.
type Signal int

// Watched signals.
const (
	SignalNone Signal = iota
	SignalAlive
	SignalConnected
	SignalServiceConnection
	SignalInstanceObject
)

const (
	aliveSuffix      = ".alive"
	connectedSuffix  = ".connected"
	connectionSuffix = ".info.connection"
)

// InstanceObjectKey returns the object key of instance id.
func InstanceObjectKey(id string) string {
	return AdapterPrefix + id
}

// AliveKey returns the heartbeat state of instance id.
func AliveKey(id string) string {
	return AdapterPrefix + id + aliveSuffix
}

// ConnectedKey returns the host-connection state of instance id.
func ConnectedKey(id string) string {
	return AdapterPrefix + id + connectedSuffix
}

// ServiceConnectionKey returns the service-connection state of instance id.
func ServiceConnectionKey(id string) string {
	return id + connectionSuffix
}

// ParseKey maps a state or object key to the instance and signal it belongs to.
//
//	ParseKey("system.adapter.sonos.0.alive") // "sonos.0", SignalAlive
//	ParseKey("sonos.0.info.connection")      // "sonos.0", SignalServiceConnection
func ParseKey(key string) (id string, signal Signal) {
	if strings.HasPrefix(key, AdapterPrefix) {
		rest := strings.TrimPrefix(key, AdapterPrefix)
		switch {
		case strings.HasSuffix(rest, aliveSuffix):
			id, signal = strings.TrimSuffix(rest, aliveSuffix), SignalAlive
		case strings.HasSuffix(rest, connectedSuffix):
			id, signal = strings.TrimSuffix(rest, connectedSuffix), SignalConnected
		default:
			id, signal = rest, SignalInstanceObject
		}
		if !isInstanceID(id) {
			return "", SignalNone
		}
		return id, signal
	}

	if strings.HasSuffix(key, connectionSuffix) {
		id := strings.TrimSuffix(key, connectionSuffix)
		if isInstanceID(id) {
			return id, SignalServiceConnection
		}
	}
	return "", SignalNone
}

// isInstanceID reports whether s looks like "<adapter>.<number>".
func isInstanceID(s string) bool {
	dot := strings.LastIndexByte(s, '.')
	if dot <= 0 || dot == len(s)-1 {
		return false
	}
	if strings.Contains(s[:dot], ".") {
		return false
	}
	_, err := strconv.Atoi(s[dot+1:])
	return err == nil
}

// Match reports whether key matches a subscription pattern.
// "*" matches any run of characters, including dots.
func Match(pattern, key string) (bool, error) {
	ok, err := path.Match(pattern, key)
	if err != nil {
		return false, fmt.Errorf("%w: %q: %w", ErrInvalidPattern, pattern, err)
	}
	return ok, nil
}

// Truthy interprets a command value the way ioBroker buttons write them.
func Truthy(val any) bool {
	switch v := val.(type) {
	case bool:
		return v
	case float64:
		return v != 0
	case int:
		return v != 0
	case int64:
		return v != 0
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "1", "on", "yes":
			return true
		}
	}
	return false
}

// NowMillis converts t to the timestamp format used by State.
func NowMillis(t time.Time) int64 {
	return t.UnixMilli()
}
