// Package oracles defines SQL invariant checks run against the live store
// while the stress actors are working. Every query must return zero rows.
package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_one_verdict_per_round",
			SQL: `SELECT dispute_id, round, COUNT(*) FROM dispute_verdicts
                  GROUP BY dispute_id, round HAVING COUNT(*) > 1`,
		},
		{
			Name: "O2_evaluated_round_is_closed",
			SQL: `SELECT d.id FROM disputes d
                  WHERE d.status = 'evaluated'
                    AND (EXISTS (SELECT 1 FROM dispute_participants p
                                 WHERE p.dispute_id = d.id AND p.status = 'invited')
                      OR EXISTS (SELECT 1 FROM dispute_participants p
                                 WHERE p.dispute_id = d.id AND p.status = 'accepted'
                                   AND NOT EXISTS (SELECT 1 FROM dispute_responses r
                                                   WHERE r.dispute_id = d.id
                                                     AND r.user_id = p.user_id
                                                     AND r.round = d.current_round))
                      OR NOT EXISTS (SELECT 1 FROM dispute_participants p
                                     WHERE p.dispute_id = d.id AND p.status = 'accepted'))`,
		},
		{
			Name: "O3_round_never_below_one",
			SQL:  `SELECT id FROM disputes WHERE current_round < 1`,
		},
		{
			Name: "O4_vote_requires_verdict",
			SQL: `SELECT v.dispute_id, v.round FROM satisfaction_votes v
                  WHERE NOT EXISTS (SELECT 1 FROM dispute_verdicts dv
                                    WHERE dv.dispute_id = v.dispute_id AND dv.round = v.round)`,
		},
		{
			Name: "O5_response_round_bound",
			SQL: `SELECT r.dispute_id, r.round FROM dispute_responses r
                  JOIN disputes d ON d.id = r.dispute_id
                  WHERE r.round > d.current_round + 1`,
		},
		{
			Name: "O6_concluded_round_unanimous",
			SQL: `SELECT d.id FROM disputes d
                  WHERE d.status = 'concluded'
                    AND EXISTS (SELECT 1 FROM satisfaction_votes v
                                WHERE v.dispute_id = d.id
                                  AND v.round = d.current_round
                                  AND NOT v.is_satisfied)`,
		},
	}
}

// Check runs one oracle and returns an error naming it when it matches rows.
func Check(ctx context.Context, pool *pgxpool.Pool, o Oracle) error {
	rows, err := pool.Query(ctx, o.SQL)
	if err != nil {
		return fmt.Errorf("oracle %s query: %w", o.Name, err)
	}
	defer rows.Close()

	if rows.Next() {
		return fmt.Errorf("oracle %s violated", o.Name)
	}
	return rows.Err()
}
