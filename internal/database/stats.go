package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// UpsertPlayerStats accumulates one room session's scoring deltas into the
// user's lifetime totals. best_score only moves up.
func UpsertPlayerStats(ctx context.Context, userID uuid.UUID, points, corrects, negs, tossupsHeard int) error {
	q := `
		INSERT INTO player_stats (user_id, points, corrects, negs, tossups_heard, best_score)
		VALUES ($1, $2, $3, $4, $5, $2)
		ON CONFLICT (user_id) DO UPDATE SET
			points        = player_stats.points + EXCLUDED.points,
			corrects      = player_stats.corrects + EXCLUDED.corrects,
			negs          = player_stats.negs + EXCLUDED.negs,
			tossups_heard = player_stats.tossups_heard + EXCLUDED.tossups_heard,
			best_score    = GREATEST(player_stats.best_score, EXCLUDED.best_score),
			updated_at    = now()
	`
	return pgx.BeginTxFunc(ctx, DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, q, userID, points, corrects, negs, tossupsHeard)
		return err
	})
}

// GetPlayerStats reads one user's lifetime totals.
func GetPlayerStats(ctx context.Context, userID uuid.UUID) (points, corrects, negs, tossupsHeard int, err error) {
	q := `SELECT points, corrects, negs, tossups_heard FROM player_stats WHERE user_id = $1`
	err = DB.QueryRow(ctx, q, userID).Scan(&points, &corrects, &negs, &tossupsHeard)
	return
}
