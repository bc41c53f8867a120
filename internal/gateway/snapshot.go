package gateway

import (
	"context"
	"fmt"

	"github.com/roach88/fieldsync/internal/model"
)

// Snapshot composes one authoritative pull from the four queries. The
// snapshot time is the one the server issued with the offer page.
func Snapshot(ctx context.Context, q Querier) (model.Snapshot, error) {
	offers, takenAt, err := q.FetchOffers(ctx)
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("offers: %w", err)
	}
	assigned, err := q.FetchAssignments(ctx)
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("assignments: %w", err)
	}
	stats, err := q.FetchStats(ctx)
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("stats: %w", err)
	}
	wallet, err := q.FetchWallet(ctx)
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("wallet: %w", err)
	}
	return model.Snapshot{
		TakenAt:  takenAt,
		Offers:   offers,
		Assigned: assigned,
		Stats:    stats,
		Wallet:   wallet,
	}, nil
}
