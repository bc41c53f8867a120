package model

import "time"

// LedgerKind classifies a wallet transaction.
type LedgerKind string

const (
	LedgerPayout     LedgerKind = "payout"
	LedgerBonus      LedgerKind = "bonus"
	LedgerWithdrawal LedgerKind = "withdrawal"
)

// LedgerEntry is an append-only transaction mirrored from the remote ledger.
// Provisional entries are local mirrors awaiting confirmation by the next
// reconciliation pass.
type LedgerEntry struct {
	ID          string     `json:"id"`
	Kind        LedgerKind `json:"kind"`
	Amount      Money      `json:"amount"`
	TaskID      string     `json:"task_id,omitempty"`
	At          time.Time  `json:"at"`
	Provisional bool       `json:"provisional,omitempty"`
}

// Wallet is the cached wallet snapshot.
type Wallet struct {
	Balance Money         `json:"balance"`
	Entries []LedgerEntry `json:"entries"`
	AsOf    time.Time     `json:"as_of"`
}

// Clone returns a deep copy.
func (w Wallet) Clone() Wallet {
	if w.Entries != nil {
		w.Entries = append([]LedgerEntry(nil), w.Entries...)
	}
	return w
}

// OperatorStats is the operator's authoritative performance summary.
type OperatorStats struct {
	CompletedToday int     `json:"completed_today"`
	CompletedTotal int     `json:"completed_total"`
	EarningsToday  Money   `json:"earnings_today"`
	Rating         float64 `json:"rating"`
	AcceptanceRate float64 `json:"acceptance_rate"`
}

// Tier is the operator's loyalty tier.
type Tier string

const (
	TierBronze   Tier = "bronze"
	TierSilver   Tier = "silver"
	TierGold     Tier = "gold"
	TierPlatinum Tier = "platinum"
)

// TierFor derives the tier from stats.
func TierFor(s OperatorStats) Tier {
	switch {
	case s.CompletedTotal >= 500 && s.Rating >= 4.8:
		return TierPlatinum
	case s.CompletedTotal >= 200 && s.Rating >= 4.5:
		return TierGold
	case s.CompletedTotal >= 50:
		return TierSilver
	default:
		return TierBronze
	}
}

// OperatorSession is the identity slice of the session.
type OperatorSession struct {
	OperatorID string `json:"operator_id"`
	Tier       Tier   `json:"tier"`
	Language   string `json:"language"`
	Onboarded  bool   `json:"onboarded"`
}

// PresenceState is ephemeral and rebuilt each session.
type PresenceState struct {
	Online        bool        `json:"online"`
	Location      *Coordinate `json:"location,omitempty"`
	LastHeartbeat time.Time   `json:"last_heartbeat"`
}

// PresencePulse is a single liveness+location update.
type PresencePulse struct {
	OperatorID string      `json:"operator_id"`
	Online     bool        `json:"online"`
	Location   *Coordinate `json:"location,omitempty"`
	At         time.Time   `json:"at"`
}

// ConnectionHealth is derived from the rolling outcome of recent remote calls.
type ConnectionHealth string

const (
	HealthStable   ConnectionHealth = "stable"
	HealthDegraded ConnectionHealth = "degraded"
	HealthOffline  ConnectionHealth = "offline"
)

// Snapshot is one authoritative pull. TakenAt is issued by the server.
type Snapshot struct {
	TakenAt  time.Time
	Offers   []Task
	Assigned []Task
	Stats    OperatorStats
	Wallet   Wallet
}

// LogLevel is the severity of an activity log entry.
type LogLevel string

const (
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// LogEntry is one activity-log record visible to the presentation layer.
type LogEntry struct {
	At      time.Time `json:"at"`
	Level   LogLevel  `json:"level"`
	Event   string    `json:"event"`
	TaskID  string    `json:"task_id,omitempty"`
	Message string    `json:"message"`
}

// Notice is a short-lived operator notification.
type Notice struct {
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	At        time.Time `json:"at"`
	ExpiresAt time.Time `json:"expires_at"`
}
