package chaos

import (
	"context"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// TerminateRandomBackend now and then kills one backend whose
// application_name matches appName, forcing the pool to redial mid-transaction.
// An empty appName targets any backend of the current database.
func TerminateRandomBackend(ctx context.Context, pool *pgxpool.Pool, appName string, every time.Duration, stop <-chan struct{}) int {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	killed := 0
	for {
		select {
		case <-ctx.Done():
			return killed
		case <-stop:
			return killed
		case <-ticker.C:
			if rand.Intn(5) != 0 {
				continue
			}
			var n int
			err := pool.QueryRow(ctx, `
				SELECT count(pg_terminate_backend(pid)) FROM (
					SELECT pid FROM pg_stat_activity
					WHERE datname = current_database()
					  AND pid <> pg_backend_pid()
					  AND ($1 = '' OR application_name = $1)
					ORDER BY random() LIMIT 1
				) victims`, appName).Scan(&n)
			if err == nil {
				killed += n
			}
		}
	}
}
