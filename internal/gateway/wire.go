package gateway

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/fieldsync/internal/model"
)

// Wire DTOs mirror the remote JSON shapes. They never leave this package;
// every payload is validated against the CUE schema and narrowed into model
// types first.

type wirePoint struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Address string  `json:"address,omitempty"`
}

type wireTask struct {
	ID         string    `json:"id"`
	Status     string    `json:"status"`
	BasePayout float64   `json:"base_payout"`
	Bonus      float64   `json:"bonus_payout,omitempty"`
	Surge      float64   `json:"surge_multiplier,omitempty"`
	Pickup     wirePoint `json:"pickup"`
	Dropoff    wirePoint `json:"dropoff"`
	CreatedAt  string    `json:"created_at"`
	ExpiresAt  *string   `json:"expires_at,omitempty"`
	UpdatedAt  *string   `json:"updated_at,omitempty"`
	AssignedTo *string   `json:"assigned_to,omitempty"`
}

type wireOfferPage struct {
	TakenAt string            `json:"taken_at"`
	Offers  []json.RawMessage `json:"offers"`
}

type wireStats struct {
	CompletedToday int     `json:"completed_today"`
	CompletedTotal int     `json:"completed_total"`
	EarningsToday  float64 `json:"earnings_today"`
	Rating         float64 `json:"rating"`
	AcceptanceRate float64 `json:"acceptance_rate"`
}

type wireLedgerEntry struct {
	ID        string  `json:"id"`
	Kind      string  `json:"kind"`
	Amount    float64 `json:"amount"`
	TaskID    *string `json:"task_id,omitempty"`
	CreatedAt string  `json:"created_at"`
}

type wireWallet struct {
	Balance      float64           `json:"balance"`
	AsOf         string            `json:"as_of"`
	Transactions []wireLedgerEntry `json:"transactions"`
}

type wireEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type wirePhaseRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type wireWithdrawalRequest struct {
	RequestID string  `json:"request_id"`
	Amount    float64 `json:"amount"`
}

type wirePresence struct {
	Online bool     `json:"online"`
	Lat    *float64 `json:"lat,omitempty"`
	Lng    *float64 `json:"lng,omitempty"`
	SentAt string   `json:"sent_at"`
}

func parseTime(field, s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: %w", field, err)
	}
	return t.UTC(), nil
}

func parseOptionalTime(field string, s *string) (*time.Time, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	t, err := parseTime(field, *s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (w wireTask) narrow() (model.Task, error) {
	phase, err := model.ParsePhase(w.Status)
	if err != nil {
		return model.Task{}, err
	}
	created, err := parseTime("created_at", w.CreatedAt)
	if err != nil {
		return model.Task{}, err
	}
	expires, err := parseOptionalTime("expires_at", w.ExpiresAt)
	if err != nil {
		return model.Task{}, err
	}
	updated := created
	if u, err := parseOptionalTime("updated_at", w.UpdatedAt); err != nil {
		return model.Task{}, err
	} else if u != nil {
		updated = *u
	}
	surge := w.Surge
	if surge == 0 {
		surge = 1
	}

	t := model.Task{
		ID:          w.ID,
		Phase:       phase,
		BasePayout:  model.MoneyFromFloat(w.BasePayout),
		BonusPayout: model.MoneyFromFloat(w.Bonus),
		Surge:       surge,
		Pickup:      w.Pickup.narrow(),
		Dropoff:     w.Dropoff.narrow(),
		CreatedAt:   created,
		ExpiresAt:   expires,
		UpdatedAt:   updated,
	}
	if w.AssignedTo != nil {
		t.AssignedTo = *w.AssignedTo
	}
	return t, nil
}

func (p wirePoint) narrow() model.Stop {
	return model.Stop{Coordinate: model.Coordinate{Lat: p.Lat, Lng: p.Lng}, Address: p.Address}
}

func (w wireStats) narrow() model.OperatorStats {
	return model.OperatorStats{
		CompletedToday: w.CompletedToday,
		CompletedTotal: w.CompletedTotal,
		EarningsToday:  model.MoneyFromFloat(w.EarningsToday),
		Rating:         w.Rating,
		AcceptanceRate: w.AcceptanceRate,
	}
}

func (w wireWallet) narrow() (model.Wallet, error) {
	asOf, err := parseTime("as_of", w.AsOf)
	if err != nil {
		return model.Wallet{}, err
	}
	wallet := model.Wallet{
		Balance: model.MoneyFromFloat(w.Balance),
		AsOf:    asOf,
		Entries: make([]model.LedgerEntry, 0, len(w.Transactions)),
	}
	for _, tx := range w.Transactions {
		at, err := parseTime("created_at", tx.CreatedAt)
		if err != nil {
			return model.Wallet{}, err
		}
		e := model.LedgerEntry{
			ID:     tx.ID,
			Kind:   model.LedgerKind(tx.Kind),
			Amount: model.MoneyFromFloat(tx.Amount),
			At:     at,
		}
		if tx.TaskID != nil {
			e.TaskID = *tx.TaskID
		}
		wallet.Entries = append(wallet.Entries, e)
	}
	return wallet, nil
}

func presenceBody(p model.PresencePulse) wirePresence {
	w := wirePresence{Online: p.Online, SentAt: p.At.UTC().Format(time.RFC3339Nano)}
	if p.Location != nil {
		lat, lng := p.Location.Lat, p.Location.Lng
		w.Lat, w.Lng = &lat, &lng
	}
	return w
}

// decoder validates and narrows raw payloads.
type decoder struct {
	schema *Validator
}

func (d decoder) task(raw []byte) (model.Task, error) {
	if err := d.schema.Check(defTask, raw); err != nil {
		return model.Task{}, err
	}
	var w wireTask
	if err := json.Unmarshal(raw, &w); err != nil {
		return model.Task{}, fmt.Errorf("decode task: %w", err)
	}
	return w.narrow()
}

func (d decoder) tasks(raws []json.RawMessage) ([]model.Task, error) {
	out := make([]model.Task, 0, len(raws))
	for i, raw := range raws {
		t, err := d.task(raw)
		if err != nil {
			return nil, fmt.Errorf("task %d: %w", i, err)
		}
		out = append(out, t)
	}
	return out, nil
}

func (d decoder) offerPage(raw []byte) ([]model.Task, time.Time, error) {
	if err := d.schema.Check(defOfferPage, raw); err != nil {
		return nil, time.Time{}, err
	}
	var w wireOfferPage
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, time.Time{}, fmt.Errorf("decode offers: %w", err)
	}
	takenAt, err := parseTime("taken_at", w.TakenAt)
	if err != nil {
		return nil, time.Time{}, err
	}
	tasks, err := d.tasks(w.Offers)
	if err != nil {
		return nil, time.Time{}, err
	}
	return tasks, takenAt, nil
}

func (d decoder) stats(raw []byte) (model.OperatorStats, error) {
	if err := d.schema.Check(defStats, raw); err != nil {
		return model.OperatorStats{}, err
	}
	var w wireStats
	if err := json.Unmarshal(raw, &w); err != nil {
		return model.OperatorStats{}, fmt.Errorf("decode stats: %w", err)
	}
	return w.narrow(), nil
}

func (d decoder) wallet(raw []byte) (model.Wallet, error) {
	if err := d.schema.Check(defWallet, raw); err != nil {
		return model.Wallet{}, err
	}
	var w wireWallet
	if err := json.Unmarshal(raw, &w); err != nil {
		return model.Wallet{}, fmt.Errorf("decode wallet: %w", err)
	}
	return w.narrow()
}

func (d decoder) event(raw []byte) (Event, error) {
	if err := d.schema.Check(defEvent, raw); err != nil {
		return Event{}, err
	}
	var w wireEvent
	if err := json.Unmarshal(raw, &w); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	ev := Event{Kind: EventKind(w.Type)}
	switch ev.Kind {
	case EventOfferInserted, EventOfferUpdated:
		t, err := d.task(w.Data)
		if err != nil {
			return Event{}, err
		}
		ev.Task = &t
	case EventWalletChanged:
		wallet, err := d.wallet(w.Data)
		if err != nil {
			return Event{}, err
		}
		ev.Wallet = &wallet
	}
	return ev, nil
}
