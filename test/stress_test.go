package test

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/exec"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"disputeflow/dispute"
	"disputeflow/fieldcrypt"
	"disputeflow/test/actors"
	"disputeflow/test/infra"
	"disputeflow/test/oracles"
)

var (
	flDuration    = flag.Duration("duration", 60*time.Second, "how long to run stress")
	flConcurrency = flag.Int("concurrency", 4, "number of participants in the stressed dispute")
	flSeed        = flag.Int64("seed", time.Now().UnixNano(), "random seed")
	flDSN         = flag.String("dsn", "", "existing Postgres DSN to reuse (avoids Docker)")
)

// stubGenerator returns deterministic arbitration text and counts calls.
type stubGenerator struct {
	calls atomic.Int64
}

func (g *stubGenerator) Generate(ctx context.Context, vc dispute.VerdictContext) (string, error) {
	n := g.calls.Add(1)
	return fmt.Sprintf("verdict #%d over %d accounts", n, len(vc.Accounts)), nil
}

func TestDisputeConsensusConcurrency(t *testing.T) {
	flag.Parse()
	rand.Seed(*flSeed)

	var (
		pgC        *infra.StressContainer
		dsn        string
		err        error
		usedShared bool
	)
	ctx, cancel := context.WithTimeout(context.Background(), *flDuration+60*time.Second)
	defer cancel()

	switch {
	case *flDSN != "":
		dsn = *flDSN
		usedShared = true
		pgC = &infra.StressContainer{}
	case os.Getenv("DISPUTEFLOW_STRESS_PG_DSN") != "":
		dsn = os.Getenv("DISPUTEFLOW_STRESS_PG_DSN")
		usedShared = true
		pgC = &infra.StressContainer{}
	default:
		if dockerAvailable(ctx) {
			pgC, dsn, err = infra.StartStressPostgres(ctx, "")
			if err != nil {
				t.Fatalf("start postgres: %v", err)
			}
		} else {
			dsn, err = infra.InitLocalDatabase(ctx)
			if err != nil {
				t.Skipf("no Docker and no local PostgreSQL: %v", err)
			}
			pgC = &infra.StressContainer{}
		}
	}
	defer pgC.Terminate(context.Background())

	pool, teardown, err := infra.ApplyMigrations(ctx, dsn, usedShared)
	if err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	defer pool.Close()
	defer func() {
		if err := teardown(context.Background()); err != nil {
			t.Logf("teardown warning: %v", err)
		}
	}()

	codec, err := fieldcrypt.New("stress-secret")
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	gen := &stubGenerator{}
	store := dispute.NewStore(pool, codec)
	eng := dispute.NewEngine(pool, store, gen)

	disputeID, userIDs := mustSeed(t, ctx, pool, codec, eng, *flConcurrency)

	g, ctx2 := errgroup.WithContext(ctx)
	stop := make(chan struct{})

	for _, userID := range userIDs {
		userID := userID
		g.Go(func() error { return actors.Responder(ctx2, eng, disputeID, userID, stop) })
		g.Go(func() error { return actors.Voter(ctx2, eng, disputeID, userID, stop) })
	}
	g.Go(func() error { return actors.Reader(ctx2, eng, disputeID, userIDs[0], stop) })
	g.Go(func() error { return actors.Regenerator(ctx2, eng, disputeID, userIDs[0], stop) })

	deadline := time.Now().Add(*flDuration)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	var failed bool
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			for _, o := range oracles.All() {
				if err := oracles.Check(ctx, pool, o); err != nil {
					t.Errorf("oracle check: %v", err)
					failed = true
				}
			}
			if failed || time.Now().After(deadline) {
				break loop
			}
		}
	}

	close(stop)
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("actor failure (seed %d): %v", *flSeed, err)
	}

	// Final state checks.
	for _, o := range oracles.All() {
		if err := oracles.Check(context.Background(), pool, o); err != nil {
			t.Errorf("final oracle check: %v", err)
		}
	}

	var currentRound int
	if err := pool.QueryRow(context.Background(),
		`SELECT current_round FROM disputes WHERE id = $1`, disputeID).Scan(&currentRound); err != nil {
		t.Fatalf("load final round: %v", err)
	}
	t.Logf("seed=%d rounds=%d verdict_generations=%d", *flSeed, currentRound, gen.calls.Load())

	if gen.calls.Load() == 0 {
		t.Error("expected at least one verdict generation during the run")
	}

	// Every fully closed round must carry exactly one verdict row.
	var orphanRounds int
	if err := pool.QueryRow(context.Background(), `
		SELECT COUNT(*) FROM generate_series(1, $2 - 1) AS r
		WHERE NOT EXISTS (SELECT 1 FROM dispute_verdicts dv WHERE dv.dispute_id = $1 AND dv.round = r)
	`, disputeID, currentRound).Scan(&orphanRounds); err != nil {
		t.Fatalf("count orphan rounds: %v", err)
	}
	if orphanRounds != 0 {
		t.Errorf("%d advanced-past rounds have no verdict", orphanRounds)
	}
}

// mustSeed creates the stressed dispute: n users, all mutually in contact,
// all accepted participants.
func mustSeed(t *testing.T, ctx context.Context, pool *pgxpool.Pool, codec *fieldcrypt.Codec, eng *dispute.Engine, n int) (string, []string) {
	t.Helper()
	if n < 2 {
		n = 2
	}

	userIDs := make([]string, 0, n)
	emails := make([]string, 0, n)
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("Stress User %d", i)
		email := fmt.Sprintf("stress-%d-%s@example.com", i, uuid.NewString())

		nameEnc, err := codec.Encrypt(name)
		if err != nil {
			t.Fatalf("encrypt name: %v", err)
		}
		emailEnc, err := codec.Encrypt(email)
		if err != nil {
			t.Fatalf("encrypt email: %v", err)
		}

		var id string
		if err := pool.QueryRow(ctx, `
			INSERT INTO users (name_enc, email_enc, email_token, password_hash)
			VALUES ($1, $2, $3, 'x') RETURNING id
		`, nameEnc, emailEnc, codec.SearchToken(email)).Scan(&id); err != nil {
			t.Fatalf("seed user %d: %v", i, err)
		}
		userIDs = append(userIDs, id)
		emails = append(emails, email)
	}

	creator := userIDs[0]
	for i := 1; i < n; i++ {
		emailEnc, err := codec.Encrypt(emails[i])
		if err != nil {
			t.Fatalf("encrypt contact email: %v", err)
		}
		if _, err := pool.Exec(ctx, `
			INSERT INTO contacts (requester_id, recipient_user_id, recipient_email_enc, recipient_email_token, status)
			VALUES ($1, $2, $3, $4, 'accepted')
		`, creator, userIDs[i], emailEnc, codec.SearchToken(emails[i])); err != nil {
			t.Fatalf("seed contact %d: %v", i, err)
		}
	}

	d, err := eng.CreateDispute(ctx, creator, "stress dispute", userIDs[1:])
	if err != nil {
		t.Fatalf("create dispute: %v", err)
	}
	for i := 1; i < n; i++ {
		if err := eng.AcceptInvitation(ctx, d.ID, userIDs[i]); err != nil {
			t.Fatalf("accept invitation %d: %v", i, err)
		}
	}
	return d.ID, userIDs
}

func dockerAvailable(ctx context.Context) bool {
	cmd := exec.CommandContext(ctx, "docker", "info")
	return cmd.Run() == nil
}
