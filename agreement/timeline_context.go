package agreement

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// setActorContext records the acting account for the current transaction so
// triggers and audit queries can read it through current_setting('app.actor').
func setActorContext(ctx context.Context, tx pgx.Tx, actor string) error {
	if actor == "" {
		return fmt.Errorf("agreement: actor context missing")
	}
	if _, err := tx.Exec(ctx, `SELECT set_config('app.actor', $1, true)`, actor); err != nil {
		return fmt.Errorf("agreement: set actor context: %w", err)
	}
	return nil
}
