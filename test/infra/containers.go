package infra

import (
	"context"
	"fmt"

	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

// PGContainer is a throwaway Postgres 16 server. The zero value stands for
// an externally managed database and terminates as a no-op.
type PGContainer struct {
	C   *postgres.PostgresContainer
	DSN string
}

// StartPostgres16 boots a container unless overrideDSN names a database to
// reuse.
func StartPostgres16(ctx context.Context, overrideDSN string) (*PGContainer, error) {
	if overrideDSN != "" {
		return &PGContainer{DSN: overrideDSN}, nil
	}

	pgC, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("tradeflow"),
		postgres.WithUsername("tradeflow"),
		postgres.WithPassword("tradeflow"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		return nil, fmt.Errorf("start postgres container: %w", err)
	}

	dsn, err := pgC.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = pgC.Terminate(ctx)
		return nil, fmt.Errorf("resolve connection string: %w", err)
	}
	return &PGContainer{C: pgC, DSN: dsn}, nil
}

func (p *PGContainer) Terminate(ctx context.Context) error {
	if p == nil || p.C == nil {
		return nil
	}
	return p.C.Terminate(ctx)
}
