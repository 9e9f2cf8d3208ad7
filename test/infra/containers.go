package infra

import (
	"context"
	"os"

	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

// StressContainer wraps the throwaway Postgres instance a stress run talks to.
type StressContainer struct {
	pg *postgres.PostgresContainer
}

// StartStressPostgres provisions a Postgres 16 container for a stress run and
// returns its DSN. An explicit overrideDSN or the DISPUTEFLOW_STRESS_PG_DSN
// environment variable short-circuits provisioning and reuses that database.
func StartStressPostgres(ctx context.Context, overrideDSN string) (*StressContainer, string, error) {
	if overrideDSN != "" {
		return &StressContainer{}, overrideDSN, nil
	}
	if dsn := os.Getenv("DISPUTEFLOW_STRESS_PG_DSN"); dsn != "" {
		return &StressContainer{}, dsn, nil
	}

	pgC, err := postgres.Run(ctx,
		"postgres:16",
		postgres.WithDatabase("disputeflow_stress"),
		postgres.WithUsername("disputeflow"),
		postgres.WithPassword("disputeflow"),
	)
	if err != nil {
		return nil, "", err
	}

	dsn, err := pgC.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = pgC.Terminate(ctx)
		return nil, "", err
	}
	return &StressContainer{pg: pgC}, dsn, nil
}

func (c *StressContainer) Terminate(ctx context.Context) error {
	if c == nil || c.pg == nil {
		return nil
	}
	return c.pg.Terminate(ctx)
}
