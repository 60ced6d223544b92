package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Oracle is a query that must return no rows while the system is healthy.
type Oracle struct {
	Name string
	SQL  string
}

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_append_only_guards",
			SQL: `SELECT t.name FROM (VALUES ('stage_events_append_only'),
                                              ('document_logs_append_only'),
                                              ('activity_logs_append_only')) AS t(name)
                  WHERE NOT EXISTS (SELECT 1 FROM pg_trigger WHERE tgname = t.name)`,
		},
		{
			Name: "O2_no_lost_signatures",
			SQL: `SELECT a.id FROM agreements a
                  WHERE (NOT a.primary_signed AND EXISTS (
                            SELECT 1 FROM stage_events e
                            WHERE e.agreement_id = a.id AND e.action = 'sign'
                              AND lower(e.actor) = lower(a.primary_party)))
                     OR (NOT a.counterparty_signed AND EXISTS (
                            SELECT 1 FROM stage_events e
                            WHERE e.agreement_id = a.id AND e.action = 'sign'
                              AND lower(e.actor) = lower(a.counterparty)))`,
		},
		{
			Name: "O3_fully_signed_stage",
			SQL: `SELECT id, stage FROM agreements
                  WHERE primary_signed AND counterparty_signed AND stage < 3 AND stage <> 11`,
		},
		{
			Name: "O4_stage_tx_once",
			SQL: `SELECT agreement_id, action, tx_id, COUNT(*) FROM stage_events
                  WHERE tx_id IS NOT NULL
                  GROUP BY agreement_id, action, tx_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O5_activity_identity",
			SQL: `SELECT id, COUNT(*) FROM activity_logs GROUP BY id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O6_document_step_once",
			SQL: `SELECT token_id, action, COUNT(*) FROM document_logs
                  WHERE action IN ('review', 'signDocument', 'revoke')
                  GROUP BY token_id, action HAVING COUNT(*) > 1`,
		},
		{
			Name: "O7_document_status_logged",
			SQL: `SELECT d.token_id, d.status FROM documents d
                  WHERE (d.status = 'reviewed' AND NOT EXISTS (
                            SELECT 1 FROM document_logs l WHERE l.token_id = d.token_id AND l.action = 'review'))
                     OR (d.status = 'signed' AND NOT EXISTS (
                            SELECT 1 FROM document_logs l WHERE l.token_id = d.token_id AND l.action = 'signDocument'))`,
		},
		{
			Name: "O8_outbox_retired",
			SQL: `SELECT id, attempts FROM outbox WHERE status = 'pending' AND attempts >= 5`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row
// text), or an empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
	}
	return "", "", nil
}
