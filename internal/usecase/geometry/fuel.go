package geometry

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"formation-flying/internal/domain"
)

// Plan describes how two flights would fly together.
type Plan struct {
	Joining orb.Point
	Leaving orb.Point
	// Leader is the flight whose formation is being extended; NoFlight when
	// both flights are free.
	Leader domain.FlightID
	// Joiner is the lone flight entering the leader's formation.
	Joiner domain.FlightID
	// Members is the size of the leader's formation before the join.
	Members int
}

// Extends reports whether the plan adds a flight to an existing formation.
func (p Plan) Extends() bool { return p.Leader != domain.NoFlight }

// Plan computes the joining and leaving points for self and other. Two
// non-empty formations cannot be planned.
func (c *Calculator) Plan(self, other *domain.Flight) (Plan, error) {
	if self.ID == other.ID {
		return Plan{}, domain.NewDomainError("Calculator.Plan", domain.ErrSelfMerge, self.ID.String())
	}
	switch {
	case self.HasMates() && other.HasMates():
		return Plan{}, domain.NewDomainError("Calculator.Plan", domain.ErrFormationMerge,
			self.ID.String()+"+"+other.ID.String())
	case !self.HasMates() && !other.HasMates():
		j := c.JoiningPoint(Party{Pos: self.Pos}, Party{Pos: other.Pos}, Midpoint(self.Dest, other.Dest))
		return Plan{
			Joining: j,
			Leaving: c.LeavingPoint(self.Dest, other.Dest, j),
			Leader:  domain.NoFlight,
			Joiner:  domain.NoFlight,
			Members: 1,
		}, nil
	}
	leader, joiner := self, other
	if other.HasMates() {
		leader, joiner = other, self
	}
	j := c.JoiningPoint(
		Party{Pos: leader.Pos, InFormation: true},
		Party{Pos: joiner.Pos},
		leader.LeavingPoint,
	)
	return Plan{
		Joining: j,
		Leaving: leader.LeavingPoint,
		Leader:  leader.ID,
		Joiner:  joiner.ID,
		Members: len(leader.Mates) + 1,
	}, nil
}

// solo returns the fuel a flight saves by flying pos -> J -> L -> dest with
// the J -> L leg discounted instead of pos -> dest.
func (c *Calculator) solo(pos, dest, j, l orb.Point) float64 {
	original := planar.Distance(pos, dest)
	merged := planar.Distance(pos, j) + c.Discount*planar.Distance(j, l) + planar.Distance(l, dest)
	return original - merged
}

// member returns the fuel one existing formation member saves, or loses when
// negative, by detouring through j before continuing to the leaving point.
func (c *Calculator) member(pos, j, l orb.Point) float64 {
	return c.Discount * (planar.Distance(pos, l) - planar.Distance(pos, j) - planar.Distance(j, l))
}

// PotentialFuelSavings returns the fuel saved if self and other flew
// together. With individual set only self's share is returned; otherwise the
// total over every flight involved.
func (c *Calculator) PotentialFuelSavings(self, other *domain.Flight, individual bool) (float64, error) {
	p, err := c.Plan(self, other)
	if err != nil {
		return 0, domain.WrapOp("Calculator.PotentialFuelSavings", err)
	}
	if !p.Extends() {
		mine := c.solo(self.Pos, self.Dest, p.Joining, p.Leaving)
		if individual {
			return mine, nil
		}
		return mine + c.solo(other.Pos, other.Dest, p.Joining, p.Leaving), nil
	}

	leader, joiner := self, other
	if p.Leader == other.ID {
		leader, joiner = other, self
	}
	perMember := c.member(leader.Pos, p.Joining, p.Leaving)
	joinerSide := c.solo(joiner.Pos, joiner.Dest, p.Joining, p.Leaving)
	if individual {
		if self.ID == p.Leader {
			return perMember, nil
		}
		return joinerSide, nil
	}
	return float64(p.Members)*perMember + joinerSide, nil
}

func legTime(d, speed float64) float64 {
	if d < Tolerance || speed <= 0 {
		return 0
	}
	return d / speed
}

// PotentialDelay returns the extra ticks self would fly by joining other.
func (c *Calculator) PotentialDelay(self, other *domain.Flight) (float64, error) {
	p, err := c.Plan(self, other)
	if err != nil {
		return 0, domain.WrapOp("Calculator.PotentialDelay", err)
	}
	mySpeed, _, err := c.speeds(self, other, p)
	if err != nil {
		return 0, err
	}

	var original float64
	if p.Extends() && self.ID == p.Leader {
		original = legTime(planar.Distance(self.Pos, p.Leaving)+planar.Distance(p.Leaving, self.Dest), self.Speed)
	} else {
		original = legTime(planar.Distance(self.Pos, self.Dest), self.Speed)
	}

	joining := legTime(planar.Distance(self.Pos, p.Joining), mySpeed)
	formation := legTime(planar.Distance(p.Joining, p.Leaving), self.Speed)
	leaving := legTime(planar.Distance(p.Leaving, self.Dest), self.Speed)
	return joining + formation + leaving - original, nil
}

// SpeedToJoiningPoint returns the speeds that bring self and other to their
// joining point on the same whole tick.
func (c *Calculator) SpeedToJoiningPoint(self, other *domain.Flight) (selfSpeed, otherSpeed float64, err error) {
	p, err := c.Plan(self, other)
	if err != nil {
		return 0, 0, domain.WrapOp("Calculator.SpeedToJoiningPoint", err)
	}
	return c.speeds(self, other, p)
}

// JoiningTicks returns the number of whole ticks two parties at distances da
// and db from the joining point need when their speeds average speed.
func JoiningTicks(da, db, speed float64) int {
	if speed <= 0 {
		return 0
	}
	t := math.Ceil((da+db)/(2*speed) - 1e-9)
	return max(1, int(t))
}

func (c *Calculator) speeds(self, other *domain.Flight, p Plan) (float64, float64, error) {
	da := planar.Distance(self.Pos, p.Joining)
	db := planar.Distance(other.Pos, p.Joining)
	switch {
	case da < Tolerance && db < Tolerance:
		return 0, 0, nil
	case da < Tolerance:
		return 0, other.Speed, nil
	case db < Tolerance:
		return self.Speed, 0, nil
	}
	nominal := (self.Speed + other.Speed) / 2
	ticks := JoiningTicks(da, db, nominal)
	if ticks == 0 {
		return 0, 0, nil
	}
	return da / float64(ticks), db / float64(ticks), nil
}
