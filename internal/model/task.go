package model

import (
	"fmt"
	"math"
	"time"
)

// Money is an amount in minor currency units (cents).
type Money int64

// MoneyFromFloat converts a major-unit amount (as sent on the wire) to Money.
func MoneyFromFloat(f float64) Money {
	return Money(math.Round(f * 100))
}

// Float returns the amount in major units.
func (m Money) Float() float64 {
	return float64(m) / 100
}

func (m Money) String() string {
	sign := ""
	v := int64(m)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// Phase is the lifecycle phase of a task.
type Phase string

const (
	PhaseOffered    Phase = "offered"
	PhaseAssigned   Phase = "assigned"
	PhasePickedUp   Phase = "picked_up"
	PhaseDelivering Phase = "delivering"
	PhaseDelivered  Phase = "delivered"
	PhaseCancelled  Phase = "cancelled"
)

var phases = map[Phase]bool{
	PhaseOffered:    true,
	PhaseAssigned:   true,
	PhasePickedUp:   true,
	PhaseDelivering: true,
	PhaseDelivered:  true,
	PhaseCancelled:  true,
}

// ParsePhase narrows a wire string into a Phase.
func ParsePhase(s string) (Phase, error) {
	p := Phase(s)
	if !phases[p] {
		return "", fmt.Errorf("unknown task phase %q", s)
	}
	return p, nil
}

// Terminal reports whether no further transition is possible.
func (p Phase) Terminal() bool {
	return p == PhaseDelivered || p == PhaseCancelled
}

// Coordinate is a WGS84 position.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Stop is a pickup or dropoff location.
type Stop struct {
	Coordinate
	Address string `json:"address,omitempty"`
}

// Task is a deliverable unit of work.
//
// A task has at most one assigned operator at any time. The remote system is
// the sole arbiter of that invariant; the client only observes and attempts.
type Task struct {
	ID          string     `json:"id"`
	Phase       Phase      `json:"phase"`
	BasePayout  Money      `json:"base_payout"`
	BonusPayout Money      `json:"bonus_payout"`
	Surge       float64    `json:"surge"`
	Pickup      Stop       `json:"pickup"`
	Dropoff     Stop       `json:"dropoff"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
	AssignedTo  string     `json:"assigned_to,omitempty"`
}

// Payout is the surge-adjusted base plus bonus.
func (t Task) Payout() Money {
	surge := t.Surge
	if surge < 1 {
		surge = 1
	}
	return Money(math.Round(float64(t.BasePayout)*surge)) + t.BonusPayout
}

// ExpiredAt reports whether the offer's client-estimated expiry has passed.
func (t Task) ExpiredAt(now time.Time) bool {
	return t.ExpiresAt != nil && !now.Before(*t.ExpiresAt)
}

// Clone returns a copy that shares no pointers with t.
func (t Task) Clone() Task {
	if t.ExpiresAt != nil {
		exp := *t.ExpiresAt
		t.ExpiresAt = &exp
	}
	return t
}
