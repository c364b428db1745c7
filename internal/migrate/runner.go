// Package migrate owns the enrollment schema: versioned migrations, the demo
// catalog seed, and a check that the tables settlement depends on exist.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"
	"time"
)

const ledgerTable = "enrollment_schema_log"

// lockKey serializes runners across API replicas and enrollctl.
const lockKey int64 = 0x636f64656c6162

var (
	ErrNothingApplied    = errors.New("no migrations applied")
	ErrMissingRollback   = errors.New("migration has no rollback file")
	ErrPendingMigrations = errors.New("pending migrations")
	ErrSchemaIncomplete  = errors.New("enrollment schema incomplete")
)

// settlementTables must exist before the API can settle seats.
var settlementTables = []string{"class_offerings", "cart_items", "seat_settlements", "payments"}

type Kind string

const (
	KindMigration Kind = "migration"
	KindSeed      Kind = "seed"
)

// Step is one migration or seed file. AppliedAt is zero while pending.
type Step struct {
	Version   int
	Name      string
	Kind      Kind
	AppliedAt time.Time

	up   string
	down string
}

func (s Step) Applied() bool { return !s.AppliedAt.IsZero() }

// Runner applies the schema and seed files to a Postgres database.
type Runner struct {
	db     *sql.DB
	schema fs.FS
	seeds  fs.FS
	now    func() time.Time
}

func New(db *sql.DB, schema, seeds fs.FS) *Runner {
	return &Runner{db: db, schema: schema, seeds: seeds, now: time.Now}
}

// Up applies every pending migration in version order and returns the
// steps it applied.
func (r *Runner) Up(ctx context.Context) ([]Step, error) {
	steps, err := r.Status(ctx)
	if err != nil {
		return nil, err
	}
	var applied []Step
	for _, st := range steps {
		if st.Kind != KindMigration || st.Applied() {
			continue
		}
		ok, err := r.apply(ctx, r.schema, st)
		if err != nil {
			return applied, fmt.Errorf("apply %s: %w", st.Name, err)
		}
		if ok {
			applied = append(applied, st)
		}
	}
	return applied, nil
}

// Down reverts the highest applied migration.
func (r *Runner) Down(ctx context.Context) (Step, error) {
	steps, err := r.Status(ctx)
	if err != nil {
		return Step{}, err
	}
	var last *Step
	for i := range steps {
		if steps[i].Kind == KindMigration && steps[i].Applied() {
			last = &steps[i]
		}
	}
	if last == nil {
		return Step{}, ErrNothingApplied
	}
	if err := r.revert(ctx, *last); err != nil {
		return Step{}, fmt.Errorf("revert %s: %w", last.Name, err)
	}
	return *last, nil
}

// Seed loads the demo catalog once the schema is current and reports how
// many rows the seed files inserted.
func (r *Runner) Seed(ctx context.Context) (int64, error) {
	steps, err := r.Status(ctx)
	if err != nil {
		return 0, err
	}
	var pending []string
	for _, st := range steps {
		if st.Kind == KindMigration && !st.Applied() {
			pending = append(pending, st.Name)
		}
	}
	if len(pending) > 0 {
		return 0, fmt.Errorf("%w: %s", ErrPendingMigrations, strings.Join(pending, ", "))
	}

	var inserted int64
	for _, st := range steps {
		if st.Kind != KindSeed || st.Applied() {
			continue
		}
		n, err := r.applyCounting(ctx, r.seeds, st)
		if err != nil {
			return inserted, fmt.Errorf("seed %s: %w", st.Name, err)
		}
		inserted += n
	}
	return inserted, nil
}

// Status lists migrations then seeds, each in version order, with the time
// it was applied.
func (r *Runner) Status(ctx context.Context) ([]Step, error) {
	migrations, err := planMigrations(r.schema)
	if err != nil {
		return nil, err
	}
	seeds, err := planSeeds(r.seeds)
	if err != nil {
		return nil, err
	}
	if err := r.ensureLedger(ctx); err != nil {
		return nil, err
	}
	appliedAt, err := r.ledger(ctx)
	if err != nil {
		return nil, err
	}
	steps := append(migrations, seeds...)
	for i := range steps {
		steps[i].AppliedAt = appliedAt[steps[i].Name]
	}
	return steps, nil
}

// Verify reports every settlement table missing from the database.
func (r *Runner) Verify(ctx context.Context) error {
	var missing []string
	for _, table := range settlementTables {
		var present bool
		if err := r.db.QueryRowContext(ctx, `select to_regclass($1) is not null`, table).Scan(&present); err != nil {
			return fmt.Errorf("check %s: %w", table, err)
		}
		if !present {
			missing = append(missing, table)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrSchemaIncomplete, strings.Join(missing, ", "))
	}
	return nil
}

func (r *Runner) ensureLedger(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `create table if not exists `+ledgerTable+` (
		name text primary key,
		kind text not null,
		version int not null,
		applied_at timestamptz not null
	)`)
	return err
}

func (r *Runner) ledger(ctx context.Context) (map[string]time.Time, error) {
	rows, err := r.db.QueryContext(ctx, `select name, applied_at from `+ledgerTable)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]time.Time)
	for rows.Next() {
		var (
			name string
			at   time.Time
		)
		if err := rows.Scan(&name, &at); err != nil {
			return nil, err
		}
		out[name] = at
	}
	return out, rows.Err()
}

func (r *Runner) apply(ctx context.Context, fsys fs.FS, st Step) (bool, error) {
	var applied bool
	err := r.inLockedTx(ctx, func(tx *sql.Tx) error {
		var done bool
		if err := tx.QueryRowContext(ctx,
			`select exists(select 1 from `+ledgerTable+` where name = $1)`, st.Name).Scan(&done); err != nil {
			return err
		}
		if done {
			return nil
		}
		if _, err := execFile(ctx, tx, fsys, st.up); err != nil {
			return err
		}
		applied = true
		return r.record(ctx, tx, st)
	})
	return applied, err
}

func (r *Runner) applyCounting(ctx context.Context, fsys fs.FS, st Step) (int64, error) {
	var n int64
	err := r.inLockedTx(ctx, func(tx *sql.Tx) error {
		var err error
		if n, err = execFile(ctx, tx, fsys, st.up); err != nil {
			return err
		}
		return r.record(ctx, tx, st)
	})
	return n, err
}

func (r *Runner) revert(ctx context.Context, st Step) error {
	return r.inLockedTx(ctx, func(tx *sql.Tx) error {
		if _, err := execFile(ctx, tx, r.schema, st.down); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `delete from `+ledgerTable+` where name = $1`, st.Name)
		return err
	})
}

func (r *Runner) record(ctx context.Context, tx *sql.Tx, st Step) error {
	_, err := tx.ExecContext(ctx,
		`insert into `+ledgerTable+` (name, kind, version, applied_at) values ($1, $2, $3, $4)`,
		st.Name, string(st.Kind), st.Version, r.now().UTC())
	return err
}

func (r *Runner) inLockedTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `select pg_advisory_xact_lock($1)`, lockKey); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func execFile(ctx context.Context, tx *sql.Tx, fsys fs.FS, name string) (int64, error) {
	body, err := fs.ReadFile(fsys, name)
	if err != nil {
		return 0, err
	}
	var affected int64
	for _, stmt := range splitStatements(string(body)) {
		res, err := tx.ExecContext(ctx, stmt)
		if err != nil {
			return affected, err
		}
		if n, err := res.RowsAffected(); err == nil {
			affected += n
		}
	}
	return affected, nil
}

// planMigrations pairs NNNN_name.up.sql with NNNN_name.down.sql.
func planMigrations(fsys fs.FS) ([]Step, error) {
	names, err := sqlNames(fsys)
	if err != nil {
		return nil, err
	}
	present := make(map[string]bool, len(names))
	for _, n := range names {
		present[n] = true
	}
	var steps []Step
	for _, n := range names {
		base, ok := strings.CutSuffix(n, ".up.sql")
		if !ok {
			continue
		}
		version, err := parseVersion(base)
		if err != nil {
			return nil, err
		}
		down := base + ".down.sql"
		if !present[down] {
			return nil, fmt.Errorf("%w: %s", ErrMissingRollback, n)
		}
		steps = append(steps, Step{Version: version, Name: base, Kind: KindMigration, up: n, down: down})
	}
	return ordered(steps)
}

func planSeeds(fsys fs.FS) ([]Step, error) {
	names, err := sqlNames(fsys)
	if err != nil {
		return nil, err
	}
	var steps []Step
	for _, n := range names {
		if strings.HasSuffix(n, ".down.sql") {
			continue
		}
		base := strings.TrimSuffix(n, ".sql")
		version, err := parseVersion(base)
		if err != nil {
			return nil, err
		}
		steps = append(steps, Step{Version: version, Name: "seed/" + base, Kind: KindSeed, up: n})
	}
	return ordered(steps)
}

func sqlNames(fsys fs.FS) ([]string, error) {
	if fsys == nil {
		return nil, nil
	}
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

func parseVersion(base string) (int, error) {
	prefix, _, ok := strings.Cut(base, "_")
	if !ok {
		return 0, fmt.Errorf("%s: expected NNNN_name", base)
	}
	v, err := strconv.Atoi(prefix)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("%s: invalid version %q", base, prefix)
	}
	return v, nil
}

func ordered(steps []Step) ([]Step, error) {
	sort.Slice(steps, func(i, j int) bool { return steps[i].Version < steps[j].Version })
	for i := 1; i < len(steps); i++ {
		if steps[i].Version == steps[i-1].Version {
			return nil, fmt.Errorf("duplicate version %d: %s and %s", steps[i].Version, steps[i-1].Name, steps[i].Name)
		}
	}
	return steps, nil
}

// splitStatements splits on semicolons outside quoted strings and drops
// "--" comments and empty statements.
func splitStatements(src string) []string {
	var (
		stmts   []string
		cur     strings.Builder
		quote   rune
		comment bool
	)
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			stmts = append(stmts, s)
		}
		cur.Reset()
	}
	runes := []rune(src)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		switch {
		case comment:
			if c == '\n' {
				comment = false
				cur.WriteRune(c)
			}
		case quote != 0:
			cur.WriteRune(c)
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
			cur.WriteRune(c)
		case c == '-' && i+1 < len(runes) && runes[i+1] == '-':
			comment = true
		case c == ';':
			flush()
		default:
			cur.WriteRune(c)
		}
	}
	flush()
	return stmts
}
