package mqtt

import (
	"fmt"
	"strings"
)

// Topic roots.
//
// The store mirror uses the layout of the ioBroker MQTT adapter: every
// state and object id is written as a topic path with "." replaced by "/".
const (
	// DefaultStorePrefix is the root of the mirrored store when none is configured.
	DefaultStorePrefix = "iobroker"

	// TopicPrefixSystem is the base for the watcher's own system topics.
	TopicPrefixSystem = "instancewatch/system"

	statesSegment  = "states"
	objectsSegment = "objects"
)

// Topics provides builders for the mirrored store topics.
// The zero value uses DefaultStorePrefix.
//
//	topics := mqtt.Topics{Prefix: "iobroker"}
//	topics.State("system.adapter.sonos.0.alive")
//	// Returns: "iobroker/states/system/adapter/sonos/0/alive"
type Topics struct {
	Prefix string
}

func (t Topics) root() string {
	if t.Prefix == "" {
		return DefaultStorePrefix
	}
	return strings.TrimSuffix(t.Prefix, "/")
}

// State returns the topic carrying the value of a state id.
func (t Topics) State(key string) string {
	return fmt.Sprintf("%s/%s/%s", t.root(), statesSegment, keyToPath(key))
}

// Object returns the topic carrying the definition of an object id.
func (t Topics) Object(key string) string {
	return fmt.Sprintf("%s/%s/%s", t.root(), objectsSegment, keyToPath(key))
}

// AllStates returns a pattern matching every mirrored state.
//
// Pattern: iobroker/states/#
func (t Topics) AllStates() string {
	return fmt.Sprintf("%s/%s/#", t.root(), statesSegment)
}

// AllObjects returns a pattern matching every mirrored object.
//
// Pattern: iobroker/objects/#
func (t Topics) AllObjects() string {
	return fmt.Sprintf("%s/%s/#", t.root(), objectsSegment)
}

// StateKey extracts the state id from a state topic.
// The second return value is false if topic is not a state topic.
func (t Topics) StateKey(topic string) (string, bool) {
	return t.keyFrom(topic, statesSegment)
}

// ObjectKey extracts the object id from an object topic.
// The second return value is false if topic is not an object topic.
func (t Topics) ObjectKey(topic string) (string, bool) {
	return t.keyFrom(topic, objectsSegment)
}

func (t Topics) keyFrom(topic, segment string) (string, bool) {
	prefix := t.root() + "/" + segment + "/"
	if !strings.HasPrefix(topic, prefix) {
		return "", false
	}
	rest := strings.TrimPrefix(topic, prefix)
	if rest == "" {
		return "", false
	}
	return strings.ReplaceAll(rest, "/", "."), true
}

// SystemStatus returns the watcher's online/offline status topic.
//
// Example: instancewatch/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

func keyToPath(key string) string {
	return strings.ReplaceAll(key, ".", "/")
}
