package domain

import "github.com/paulmach/orb"

// AirportID addresses an airport in the fleet.
type AirportID int

// AirportType classifies an airport.
type AirportType string

const (
	AirportOrigin      AirportType = "Origin"
	AirportDestination AirportType = "Destination"
	AirportClosed      AirportType = "Closed"
)

// Airport is a stationary origin or destination. A non-zero ClosureTick
// closes the airport once the simulation reaches it.
type Airport struct {
	ID          AirportID   `json:"id"`
	Pos         orb.Point   `json:"pos"`
	Type        AirportType `json:"type"`
	ClosureTick int         `json:"closure_tick,omitempty"`
}

// OpenDestination reports whether new flights may be routed to the airport.
func (a *Airport) OpenDestination() bool { return a.Type == AirportDestination }

// Tick applies the closure schedule and reports whether the airport closed
// on this call.
func (a *Airport) Tick(tick int) bool {
	if a.ClosureTick == 0 || a.Type == AirportClosed || tick < a.ClosureTick {
		return false
	}
	a.Type = AirportClosed
	return true
}
