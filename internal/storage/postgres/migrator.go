package postgres

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

//go:embed sql/migrations/*.sql
var migrationsFS embed.FS

const (
	migrationsDir        = "sql/migrations"
	migrationLockKey     = int64(0x73746f7265) // "store"
	migrationLockTimeout = 30 * time.Second
	statusTimeout        = 5 * time.Second
)

// Таблица журнала миграций. checksum добавлен отдельным ALTER, чтобы база,
// размеченная до его появления, продолжила работать.
const schemaMigrationsDDL = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version BIGINT PRIMARY KEY,
    name TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
ALTER TABLE schema_migrations ADD COLUMN IF NOT EXISTS checksum TEXT NOT NULL DEFAULT ''`

var migrationFileRe = regexp.MustCompile(`^(\d+)_([a-z0-9_]+)\.(up|down)\.sql$`)

var (
	// ErrUnknownMigration — в журнале есть версия, которой нет в бинарнике.
	ErrUnknownMigration = errors.New("applied migration is not embedded in this binary")
	// ErrMigrationDrift — текст применённой up-миграции изменился после применения.
	ErrMigrationDrift = errors.New("applied migration differs from embedded one")
)

type migrationDirection string

const (
	migrationUp   migrationDirection = "up"
	migrationDown migrationDirection = "down"
)

// migration — пара up/down файлов одной версии.
type migration struct {
	Version  int64
	Name     string
	UpSQL    string
	DownSQL  string
	Checksum string
}

// appliedMigration — строка schema_migrations.
type appliedMigration struct {
	Version  int64
	Name     string
	Checksum string
}

// MigrationState описывает состояние схемы.
type MigrationState struct {
	// Version — номер последней применённой миграции, 0 для пустой базы.
	Version int64
	Applied int
	// Pending — миграции из бинарника, ещё не применённые к базе.
	Pending int
	// Unknown — применённые версии, которых нет в бинарнике (база новее кода).
	Unknown []int64
	// Drifted — применённые версии, чей up-скрипт с тех пор изменился.
	Drifted []int64
}

// MigrateUp применяет up-миграции. steps=0 применяет все ожидающие.
// Отказывает, если журнал расходится со встроенными миграциями.
func (s *Store) MigrateUp(ctx context.Context, steps int) error {
	return s.migrate(ctx, migrationUp, steps)
}

// MigrateDown откатывает последние steps миграций, steps<=0 означает один шаг.
func (s *Store) MigrateDown(ctx context.Context, steps int) error {
	if steps <= 0 {
		steps = 1
	}
	return s.migrate(ctx, migrationDown, steps)
}

// MigrationStatus сравнивает журнал базы со встроенными миграциями.
func (s *Store) MigrationStatus(ctx context.Context) (MigrationState, error) {
	if s == nil || s.db == nil {
		return MigrationState{}, errors.New("postgres store is not initialized")
	}

	embedded, err := loadMigrationsFromFS(migrationsFS)
	if err != nil {
		return MigrationState{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, statusTimeout)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, schemaMigrationsDDL); err != nil {
		return MigrationState{}, fmt.Errorf("ensure migration table: %w", err)
	}
	applied, err := loadApplied(ctx, s.db)
	if err != nil {
		return MigrationState{}, err
	}

	return compareMigrations(embedded, applied), nil
}

func (s *Store) migrate(ctx context.Context, direction migrationDirection, steps int) error {
	if s == nil || s.db == nil {
		return errors.New("postgres store is not initialized")
	}
	if direction != migrationUp && direction != migrationDown {
		return fmt.Errorf("unsupported migration direction: %s", direction)
	}

	embedded, err := loadMigrationsFromFS(migrationsFS)
	if err != nil {
		return err
	}

	// Advisory lock держится на соединении, поэтому вся миграция идёт через одно.
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire db connection: %w", err)
	}
	defer conn.Close()

	lockCtx, cancel := context.WithTimeout(ctx, migrationLockTimeout)
	defer cancel()
	if _, err := conn.ExecContext(lockCtx, "SELECT pg_advisory_lock($1)", migrationLockKey); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.WithoutCancel(ctx), "SELECT pg_advisory_unlock($1)", migrationLockKey)
	}()

	if _, err := conn.ExecContext(ctx, schemaMigrationsDDL); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}
	applied, err := loadApplied(ctx, conn)
	if err != nil {
		return err
	}

	var plan []migration
	if direction == migrationUp {
		plan, err = planUp(embedded, applied, steps)
	} else {
		plan, err = planDown(embedded, applied, steps)
	}
	if err != nil {
		return err
	}

	for _, m := range plan {
		if err := runMigration(ctx, conn, direction, m); err != nil {
			return err
		}
	}
	return nil
}

// compareMigrations считает состояние схемы по журналу и встроенным миграциям.
func compareMigrations(embedded []migration, applied []appliedMigration) MigrationState {
	byVersion := indexMigrations(embedded)

	var state MigrationState
	done := make(map[int64]bool, len(applied))
	for _, a := range applied {
		done[a.Version] = true
		state.Applied++
		if a.Version > state.Version {
			state.Version = a.Version
		}

		m, ok := byVersion[a.Version]
		switch {
		case !ok:
			state.Unknown = append(state.Unknown, a.Version)
		case a.Checksum != "" && a.Checksum != m.Checksum:
			state.Drifted = append(state.Drifted, a.Version)
		}
	}
	for _, m := range embedded {
		if !done[m.Version] {
			state.Pending++
		}
	}
	return state
}

// planUp выбирает ожидающие миграции по возрастанию версии.
func planUp(embedded []migration, applied []appliedMigration, steps int) ([]migration, error) {
	state := compareMigrations(embedded, applied)
	if len(state.Unknown) > 0 {
		return nil, fmt.Errorf("%w: versions %v", ErrUnknownMigration, state.Unknown)
	}
	if len(state.Drifted) > 0 {
		return nil, fmt.Errorf("%w: versions %v", ErrMigrationDrift, state.Drifted)
	}

	done := make(map[int64]bool, len(applied))
	for _, a := range applied {
		done[a.Version] = true
	}

	var plan []migration
	for _, m := range embedded {
		if done[m.Version] {
			continue
		}
		plan = append(plan, m)
		if steps > 0 && len(plan) == steps {
			break
		}
	}
	return plan, nil
}

// planDown выбирает steps последних применённых миграций, от новой к старой.
// Откатить версию без down-скрипта в бинарнике нельзя.
func planDown(embedded []migration, applied []appliedMigration, steps int) ([]migration, error) {
	byVersion := indexMigrations(embedded)

	versions := make([]int64, 0, len(applied))
	for _, a := range applied {
		versions = append(versions, a.Version)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] > versions[j] })
	if steps < len(versions) {
		versions = versions[:steps]
	}

	plan := make([]migration, 0, len(versions))
	for _, v := range versions {
		m, ok := byVersion[v]
		if !ok {
			return nil, fmt.Errorf("cannot roll back version %d: %w", v, ErrUnknownMigration)
		}
		plan = append(plan, m)
	}
	return plan, nil
}

func indexMigrations(migrations []migration) map[int64]migration {
	byVersion := make(map[int64]migration, len(migrations))
	for _, m := range migrations {
		byVersion[m.Version] = m
	}
	return byVersion
}

// runMigration выполняет скрипт и правит журнал в одной транзакции.
func runMigration(ctx context.Context, conn *sql.Conn, direction migrationDirection, m migration) error {
	label := fmt.Sprintf("%s migration %04d_%s", direction, m.Version, m.Name)

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s: %w", label, err)
	}
	defer func() { _ = tx.Rollback() }()

	body, journal, args := m.UpSQL,
		`INSERT INTO schema_migrations (version, name, checksum, applied_at) VALUES ($1, $2, $3, NOW())`,
		[]any{m.Version, m.Name, m.Checksum}
	if direction == migrationDown {
		body, journal, args = m.DownSQL, `DELETE FROM schema_migrations WHERE version = $1`, []any{m.Version}
	}

	if _, err := tx.ExecContext(ctx, body); err != nil {
		return fmt.Errorf("execute %s: %w", label, err)
	}
	if _, err := tx.ExecContext(ctx, journal, args...); err != nil {
		return fmt.Errorf("record %s: %w", label, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", label, err)
	}
	return nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func loadApplied(ctx context.Context, q queryer) ([]appliedMigration, error) {
	rows, err := q.QueryContext(ctx, `SELECT version, name, checksum FROM schema_migrations ORDER BY version`)
	if err != nil {
		return nil, fmt.Errorf("query applied migrations: %w", err)
	}
	defer rows.Close()

	var applied []appliedMigration
	for rows.Next() {
		var a appliedMigration
		if err := rows.Scan(&a.Version, &a.Name, &a.Checksum); err != nil {
			return nil, fmt.Errorf("scan applied migration: %w", err)
		}
		applied = append(applied, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applied migrations: %w", err)
	}
	return applied, nil
}

// loadMigrationsFromFS читает пары NNNN_name.{up,down}.sql и сортирует их по версии.
func loadMigrationsFromFS(fsys fs.FS) ([]migration, error) {
	entries, err := fs.ReadDir(fsys, migrationsDir)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("list migrations: %w", err)
	}

	byVersion := make(map[int64]*migration)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		file := entry.Name()
		parts := migrationFileRe.FindStringSubmatch(file)
		if parts == nil {
			return nil, fmt.Errorf("invalid migration file name: %s", file)
		}
		version, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse migration version from %s: %w", file, err)
		}
		name, direction := parts[2], parts[3]

		raw, err := fs.ReadFile(fsys, path.Join(migrationsDir, file))
		if err != nil {
			return nil, fmt.Errorf("read migration file %s: %w", file, err)
		}
		body := strings.TrimSpace(string(raw))
		if body == "" {
			return nil, fmt.Errorf("migration file is empty: %s", file)
		}

		m, ok := byVersion[version]
		if !ok {
			m = &migration{Version: version, Name: name}
			byVersion[version] = m
		}
		if m.Name != name {
			return nil, fmt.Errorf("migration name mismatch for version %d: %s vs %s", version, m.Name, name)
		}

		target := &m.UpSQL
		if direction == string(migrationDown) {
			target = &m.DownSQL
		}
		if *target != "" {
			return nil, fmt.Errorf("duplicate %s migration for version %d", direction, version)
		}
		*target = body
	}
	if len(byVersion) == 0 {
		return nil, errors.New("no migration files found")
	}

	migrations := make([]migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.UpSQL == "" || m.DownSQL == "" {
			return nil, fmt.Errorf("migration %d_%s must have both up and down files", m.Version, m.Name)
		}
		sum := sha256.Sum256([]byte(m.UpSQL))
		m.Checksum = hex.EncodeToString(sum[:])
		migrations = append(migrations, *m)
	}
	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Version < migrations[j].Version })

	return migrations, nil
}
