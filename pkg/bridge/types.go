// Package bridge models the pool of Selective Forwarding Units a conference can be
// placed on (§4.2 Bridge Registry, §4.3 Selection Strategy).
package bridge

import "time"

// ID identifies one bridge (SFU) instance, typically its Colibri JID.
type ID string

// Health is the outcome of the most recent health check against a bridge.
type Health int

const (
	HealthUnknown Health = iota
	HealthPassed
	HealthFailed
	HealthTimedOut
)

// LoadReport is a bridge's self-reported load, used for ordering candidates.
type LoadReport struct {
	// Stress is a bridge-computed load estimate in [0, 1+], where values above the
	// configured overload threshold mark the bridge as overloaded for selection purposes.
	Stress float64
	// PacketRate is the aggregate outgoing packet rate. Selection ordering does not read
	// it; ties in load are broken by conference participant count.
	PacketRate int64
	// Participants is the number of endpoints currently allocated on the bridge.
	Participants int
}

// Bridge is one known SFU and its last-reported state.
type Bridge struct {
	ID       ID
	Region   string
	Version  string
	Load     LoadReport
	// Operational is false once a health check fails or the bridge withdraws.
	Operational bool
	// Draining is true while the bridge is in graceful shutdown: it keeps existing
	// endpoints but must not receive new allocations.
	Draining bool

	LastHealth    Health
	LastFailureAt time.Time
}

// Overloaded reports whether the bridge's stress exceeds threshold.
func (b Bridge) Overloaded(threshold float64) bool {
	return b.Load.Stress > threshold
}
