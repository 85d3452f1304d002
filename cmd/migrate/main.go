package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/storage/postgres"
)

const (
	defaultTimeout = 30 * time.Second
	envPostgresDSN = "STOREFRONT_POSTGRES_DSN"
)

// errUnsupportedDirection возвращается для неизвестного значения -direction.
var errUnsupportedDirection = errors.New("unsupported direction")

func main() {
	var (
		direction string
		steps     int
		dsn       string
	)

	flag.StringVar(&direction, "direction", "up", "migration direction: up|down|status")
	flag.IntVar(&steps, "steps", 0, "number of migrations to apply/rollback (0=all for up, 1 for down)")
	flag.StringVar(&dsn, "dsn", "", "PostgreSQL DSN (fallback: "+envPostgresDSN+")")
	flag.Parse()

	if strings.TrimSpace(dsn) == "" {
		dsn = strings.TrimSpace(os.Getenv(envPostgresDSN))
	}
	if dsn == "" {
		fail("%s (or -dsn) is required", envPostgresDSN)
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	store, err := postgres.Open(ctx, dsn)
	if err != nil {
		fail("open postgres store: %v", err)
	}
	defer store.Close()

	if err := run(ctx, store, direction, steps, os.Stdout); err != nil {
		fail("%v", err)
	}
}

// migrator — часть postgres.Store, нужная CLI.
type migrator interface {
	MigrateUp(ctx context.Context, steps int) error
	MigrateDown(ctx context.Context, steps int) error
	MigrationStatus(ctx context.Context) (postgres.MigrationState, error)
}

func run(ctx context.Context, m migrator, direction string, steps int, out io.Writer) error {
	direction = strings.ToLower(strings.TrimSpace(direction))

	switch direction {
	case "up":
		if err := m.MigrateUp(ctx, steps); err != nil {
			return fmt.Errorf("migrate up failed: %w", err)
		}
	case "down":
		if steps <= 0 {
			steps = 1
		}
		if err := m.MigrateDown(ctx, steps); err != nil {
			return fmt.Errorf("migrate down failed: %w", err)
		}
	case "status":
	default:
		return fmt.Errorf("%w: %s (use up|down|status)", errUnsupportedDirection, direction)
	}

	state, err := m.MigrationStatus(ctx)
	if err != nil {
		return fmt.Errorf("migration status failed: %w", err)
	}

	label := "migrate " + direction + " ok"
	if direction == "status" {
		label = "migration status"
	}
	if _, err := fmt.Fprintf(out, "%s: version=%d applied=%d pending=%d\n", label, state.Version, state.Applied, state.Pending); err != nil {
		return err
	}
	if len(state.Unknown) > 0 {
		if _, err := fmt.Fprintf(out, "warning: applied versions not in this binary: %v\n", state.Unknown); err != nil {
			return err
		}
	}
	if len(state.Drifted) > 0 {
		if _, err := fmt.Fprintf(out, "warning: applied versions changed since apply: %v\n", state.Drifted); err != nil {
			return err
		}
	}
	return nil
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
