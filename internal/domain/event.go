package domain

import "context"

// EventType identifies the kind of simulation event.
type EventType string

const (
	EventFlightScheduled EventType = "flight.scheduled"
	EventFlightDeparted  EventType = "flight.departed"
	EventFlightArrived   EventType = "flight.arrived"
	EventFlightRerouted  EventType = "flight.rerouted"
	EventFuelBurned      EventType = "fuel.burned"
	EventAirportClosed   EventType = "airport.closed"

	// Formation ledger events.
	EventFormationStarted   EventType = "formation.started"
	EventFormationJoined    EventType = "formation.joined"
	EventFormationAssembled EventType = "formation.assembled"
	EventFormationDissolved EventType = "formation.dissolved"

	// Negotiation events.
	EventRolePromoted   EventType = "role.promoted"
	EventRoleDemoted    EventType = "role.demoted"
	EventBidPlaced      EventType = "bid.placed"
	EventBidAccepted    EventType = "bid.accepted"
	EventBidRefused     EventType = "bid.refused"
	EventWindowExpired  EventType = "negotiation.window_expired"
	EventAuctionOpened  EventType = "auction.opened"
	EventAuctionEntered EventType = "auction.entered"
	EventAuctionRaised  EventType = "auction.raised"
	EventAuctionExited  EventType = "auction.exited"
	EventAuctionClosed  EventType = "auction.closed"
)

// Event is a single entry of the per-tick simulation log. Value carries the
// event's main quantity (fuel saved, fuel burned, display price); Price the
// amount transferred by a deal.
type Event struct {
	Tick   int       `json:"tick"`
	Type   EventType `json:"type"`
	Flight FlightID  `json:"flight"`
	Peer   FlightID  `json:"peer"`
	Value  float64   `json:"value,omitempty"`
	Price  float64   `json:"price,omitempty"`
	Detail string    `json:"detail,omitempty"`
}

// EventSink receives events as they happen inside a tick.
type EventSink interface {
	Emit(e Event)
}

// EventHandler is a callback invoked when an event is received.
type EventHandler func(ctx context.Context, event Event)

// EventBus provides a publish/subscribe mechanism for simulation events.
type EventBus interface {
	// Publish sends an event to all matching subscribers.
	Publish(ctx context.Context, event Event)
	// Subscribe registers a handler for a specific event type.
	// Returns an unsubscribe function.
	Subscribe(eventType EventType, handler EventHandler) func()
	// SubscribeAll registers a handler that receives every event.
	// Returns an unsubscribe function.
	SubscribeAll(handler EventHandler) func()
	// Close drains in-flight handlers and prevents new publishes.
	Close()
}
