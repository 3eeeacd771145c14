package instance

import "time"

// Mode is the execution model of an instance.
type Mode string

// Supported modes use the raw values found in instance objects.
const (
	ModePersistent  Mode = "daemon"
	ModeScheduled   Mode = "schedule"
	ModeUnsupported Mode = "unsupported"
)

// ParseMode maps a raw mode string from the store.
func ParseMode(raw string) Mode {
	switch Mode(raw) {
	case ModePersistent:
		return ModePersistent
	case ModeScheduled:
		return ModeScheduled
	default:
		return ModeUnsupported
	}
}

// String returns the raw mode value.
func (m Mode) String() string {
	return string(m)
}

// Presence records whether an instance exposes a service-connection state.
// It is determined once and then cached.
type Presence int

// Presence values.
const (
	PresenceUnknown Presence = iota
	PresencePresent
	PresenceAbsent
)

// String returns a readable name for p.
func (p Presence) String() string {
	switch p {
	case PresencePresent:
		return "present"
	case PresenceAbsent:
		return "absent"
	default:
		return "unknown"
	}
}

// Instance is a watched adapter instance.
type Instance struct {
	ID   string `json:"id"`
	Mode Mode   `json:"mode"`

	// Schedule is the cron expression; only set for ModeScheduled.
	Schedule string `json:"schedule,omitempty"`

	Enabled bool `json:"enabled"`

	// Signals are nil until first observed.
	Alive            *bool `json:"alive,omitempty"`
	ConnectedHost    *bool `json:"connected_host,omitempty"`
	ConnectedService *bool `json:"connected_service,omitempty"`

	ServiceSignal Presence `json:"-"`

	// Operating is derived by the status evaluator and never set from input.
	Operating   bool      `json:"operating"`
	Evaluated   bool      `json:"evaluated"`
	EvaluatedAt time.Time `json:"evaluated_at,omitzero"`
}

// DeepCopy returns an independent copy of the instance.
func (i Instance) DeepCopy() Instance {
	c := i
	c.Alive = copyBool(i.Alive)
	c.ConnectedHost = copyBool(i.ConnectedHost)
	c.ConnectedService = copyBool(i.ConnectedService)
	return c
}

func copyBool(b *bool) *bool {
	if b == nil {
		return nil
	}
	v := *b
	return &v
}

// Bool returns a pointer to b, for filling signal fields.
func Bool(b bool) *bool {
	return &b
}
