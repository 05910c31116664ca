package domain

// Bid is an offer placed in a manager's inbox.
type Bid struct {
	Bidder FlightID
	Value  float64
	// Valid is cleared once the manager has considered the bid.
	Valid bool
	// Expires is the last tick the bid may be accepted on; zero never expires.
	Expires int
}

// Live reports whether the bid can still be accepted at tick.
func (b Bid) Live(tick int) bool {
	return b.Valid && (b.Expires == 0 || tick <= b.Expires)
}

// BidOutcome is what a contractor learns about a bid it placed.
type BidOutcome int

const (
	OutcomePending BidOutcome = iota
	OutcomeAccepted
	OutcomeRefused
)

func (o BidOutcome) String() string {
	switch o {
	case OutcomeAccepted:
		return "accepted"
	case OutcomeRefused:
		return "refused"
	default:
		return "pending"
	}
}

// PendingBid is the contractor-side record of an outstanding bid, keyed by
// the manager it was sent to.
type PendingBid struct {
	Manager FlightID
	Value   float64
	Placed  int
	Outcome BidOutcome
}
