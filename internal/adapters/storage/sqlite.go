package storage

// sqlite.go: histórico de ejecuciones del planner.
//
// Estrategia:
//   - `runs`: una fila por ejecución (estrategia, ventana, coste, baseline).
//   - `loads`: holguras por carga. `schedules`: programa por carga y periodo.
//   - `bids`: precio ofertado por carga, periodo y lado, sólo si hay reserva.
//   - `positions`: compra day-ahead por hora y desvío por periodo.
//   - `iterations`: serie de cotas de la descomposición lagrangiana.
//   - Prune automático al arrancar: ejecuciones de más de 180 días.

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/alejandrodnm/flexbid/internal/domain"
	"github.com/alejandrodnm/flexbid/internal/ports"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    run_id        TEXT    PRIMARY KEY,
    strategy      TEXT    NOT NULL,
    started_at    INTEGER NOT NULL,
    duration_ns   INTEGER NOT NULL DEFAULT 0,
    start_t       INTEGER NOT NULL DEFAULT 0,
    n_time_steps  INTEGER NOT NULL,
    n_hours       INTEGER NOT NULL DEFAULT 0,
    n_loads       INTEGER NOT NULL,
    n_scenarios   INTEGER NOT NULL DEFAULT 0,
    objective     REAL    NOT NULL DEFAULT 0,
    baseline_cost REAL    NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS loads (
    run_id   TEXT    NOT NULL,
    load_idx INTEGER NOT NULL,
    load_id  TEXT    NOT NULL,
    shortage REAL    NOT NULL DEFAULT 0,
    overflow REAL    NOT NULL DEFAULT 0,
    PRIMARY KEY (run_id, load_idx)
);

CREATE TABLE IF NOT EXISTS schedules (
    run_id    TEXT    NOT NULL,
    load_idx  INTEGER NOT NULL,
    period    INTEGER NOT NULL,
    charge    REAL    NOT NULL DEFAULT 0,
    discharge REAL    NOT NULL DEFAULT 0,
    rcd       REAL    NOT NULL DEFAULT 0,
    rcu       REAL    NOT NULL DEFAULT 0,
    rdd       REAL    NOT NULL DEFAULT 0,
    rdu       REAL    NOT NULL DEFAULT 0,
    soc       REAL    NOT NULL DEFAULT 0,
    PRIMARY KEY (run_id, load_idx, period)
);

CREATE TABLE IF NOT EXISTS bids (
    run_id   TEXT    NOT NULL,
    load_idx INTEGER NOT NULL,
    period   INTEGER NOT NULL,
    side     TEXT    NOT NULL,
    price    REAL    NOT NULL,
    PRIMARY KEY (run_id, load_idx, period, side)
);

CREATE TABLE IF NOT EXISTS positions (
    run_id   TEXT    NOT NULL,
    kind     TEXT    NOT NULL,
    idx      INTEGER NOT NULL,
    quantity REAL    NOT NULL,
    PRIMARY KEY (run_id, kind, idx)
);

CREATE TABLE IF NOT EXISTS iterations (
    run_id      TEXT    NOT NULL,
    n           INTEGER NOT NULL,
    upper       REAL    NOT NULL,
    lower       REAL    NOT NULL,
    gap         REAL    NOT NULL,
    step        REAL    NOT NULL,
    step_factor REAL    NOT NULL,
    PRIMARY KEY (run_id, n)
);

CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at DESC);
`

const (
	retentionRuns = 180 * 24 * time.Hour
	// minReserve: por debajo no se guarda la oferta del periodo.
	minReserve = 1e-6

	kindDayAhead  = "day_ahead"
	kindImbalance = "imbalance"
)

// ErrNotFound indica que no existe una ejecución con ese ID.
var ErrNotFound = errors.New("run not found")

// SQLiteStorage implementa ports.ResultStore usando SQLite (pure Go, sin CGo).
type SQLiteStorage struct {
	db *sql.DB
}

var _ ports.ResultStore = (*SQLiteStorage)(nil)

// NewSQLiteStorage abre (o crea) la base de datos en la ruta dada,
// aplica el schema y limpia ejecuciones antiguas.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStorage: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStorage: apply schema: %w", err)
	}

	s := &SQLiteStorage{db: db}
	s.pruneOld(context.Background())
	return s, nil
}

// SaveResult persiste la ejecución completa en una transacción.
func (s *SQLiteStorage) SaveResult(ctx context.Context, r domain.Result) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.SaveResult: begin tx: %w", err)
	}
	defer tx.Rollback()

	d := r.Decisions
	if d == nil {
		d = domain.NewDecisionVariables(len(r.LoadIDs), r.NTimeSteps, 0)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO runs
			(run_id, strategy, started_at, duration_ns, start_t, n_time_steps,
			 n_hours, n_loads, n_scenarios, objective, baseline_cost)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.Strategy, r.StartedAt.UTC().UnixNano(), int64(r.Duration), r.StartT, r.NTimeSteps,
		len(d.DayAhead), len(r.LoadIDs), r.NScenarios, r.Objective, r.BaselineCost,
	); err != nil {
		return fmt.Errorf("storage.SaveResult: insert run %s: %w", r.RunID, err)
	}

	for e, id := range r.LoadIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO loads (run_id, load_idx, load_id, shortage, overflow) VALUES (?, ?, ?, ?, ?)`,
			r.RunID, e, id, cell(d.Shortage, e), cell(d.Overflow, e),
		); err != nil {
			return fmt.Errorf("storage.SaveResult: insert load %q: %w", id, err)
		}
	}

	if err := saveSchedule(ctx, tx, r.RunID, d); err != nil {
		return err
	}
	if err := savePositions(ctx, tx, r.RunID, d); err != nil {
		return err
	}

	for _, it := range r.Iterations {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO iterations (run_id, n, upper, lower, gap, step, step_factor)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			r.RunID, it.N, it.Upper, it.Lower, it.Gap, it.Step, it.StepFactor,
		); err != nil {
			return fmt.Errorf("storage.SaveResult: insert iteration %d: %w", it.N, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage.SaveResult: commit: %w", err)
	}
	return nil
}

func saveSchedule(ctx context.Context, tx *sql.Tx, runID string, d *domain.DecisionVariables) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO schedules (run_id, load_idx, period, charge, discharge, rcd, rcu, rdd, rdu, soc)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("storage.SaveResult: prepare schedule: %w", err)
	}
	defer stmt.Close()

	bid, err := tx.PrepareContext(ctx,
		`INSERT INTO bids (run_id, load_idx, period, side, price) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("storage.SaveResult: prepare bids: %w", err)
	}
	defer bid.Close()

	for e := range d.Charge {
		for t := range d.Charge[e] {
			if _, err := stmt.ExecContext(ctx, runID, e, t,
				d.Charge[e][t], d.Discharge[e][t],
				d.ReserveChargeDown[e][t], d.ReserveChargeUp[e][t],
				d.ReserveDischargeDown[e][t], d.ReserveDischargeUp[e][t],
				cell2(d.SOC, e, t),
			); err != nil {
				return fmt.Errorf("storage.SaveResult: insert schedule %d/%d: %w", e, t, err)
			}
			for _, side := range domain.Sides {
				if d.Reserve(side, e, t) < minReserve {
					continue
				}
				if _, err := bid.ExecContext(ctx, runID, e, t, side.String(), d.Bid(side, e, t)); err != nil {
					return fmt.Errorf("storage.SaveResult: insert bid %d/%d %s: %w", e, t, side, err)
				}
			}
		}
	}
	return nil
}

func savePositions(ctx context.Context, tx *sql.Tx, runID string, d *domain.DecisionVariables) error {
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO positions (run_id, kind, idx, quantity) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("storage.SaveResult: prepare positions: %w", err)
	}
	defer stmt.Close()

	for _, series := range []struct {
		kind string
		xs   []float64
	}{{kindDayAhead, d.DayAhead}, {kindImbalance, d.Imbalance}} {
		for i, q := range series.xs {
			if _, err := stmt.ExecContext(ctx, runID, series.kind, i, q); err != nil {
				return fmt.Errorf("storage.SaveResult: insert %s %d: %w", series.kind, i, err)
			}
		}
	}
	return nil
}

// GetResult reconstruye una ejecución. La aceptación por escenario y los
// clusters no se persisten.
func (s *SQLiteStorage) GetResult(ctx context.Context, runID string) (domain.Result, error) {
	var r domain.Result
	var startedAt, durationNs int64
	var nHours, nLoads int
	err := s.db.QueryRowContext(ctx, `
		SELECT run_id, strategy, started_at, duration_ns, start_t, n_time_steps,
		       n_hours, n_loads, n_scenarios, objective, baseline_cost
		FROM runs WHERE run_id = ?`, runID,
	).Scan(&r.RunID, &r.Strategy, &startedAt, &durationNs, &r.StartT, &r.NTimeSteps,
		&nHours, &nLoads, &r.NScenarios, &r.Objective, &r.BaselineCost)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Result{}, fmt.Errorf("storage.GetResult: %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return domain.Result{}, fmt.Errorf("storage.GetResult: query run: %w", err)
	}
	r.StartedAt = time.Unix(0, startedAt).UTC()
	r.Duration = time.Duration(durationNs)

	d := domain.NewDecisionVariables(nLoads, r.NTimeSteps, nHours)
	d.Cost = r.Objective
	r.Decisions = d
	r.LoadIDs = make([]string, nLoads)

	if err := s.loadLoads(ctx, runID, &r); err != nil {
		return domain.Result{}, err
	}
	if err := s.loadSchedule(ctx, runID, d); err != nil {
		return domain.Result{}, err
	}
	if err := s.loadPositions(ctx, runID, d); err != nil {
		return domain.Result{}, err
	}
	if err := s.loadIterations(ctx, runID, &r); err != nil {
		return domain.Result{}, err
	}
	return r, nil
}

func (s *SQLiteStorage) loadLoads(ctx context.Context, runID string, r *domain.Result) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT load_idx, load_id, shortage, overflow FROM loads WHERE run_id = ? ORDER BY load_idx`, runID)
	if err != nil {
		return fmt.Errorf("storage.GetResult: query loads: %w", err)
	}
	defer rows.Close()
	d := r.Decisions
	for rows.Next() {
		var e int
		var id string
		var short, over float64
		if err := rows.Scan(&e, &id, &short, &over); err != nil {
			return fmt.Errorf("storage.GetResult: scan load: %w", err)
		}
		if e < 0 || e >= len(r.LoadIDs) {
			continue
		}
		r.LoadIDs[e], d.Shortage[e], d.Overflow[e] = id, short, over
	}
	return rows.Err()
}

func (s *SQLiteStorage) loadSchedule(ctx context.Context, runID string, d *domain.DecisionVariables) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT load_idx, period, charge, discharge, rcd, rcu, rdd, rdu, soc
		FROM schedules WHERE run_id = ?`, runID)
	if err != nil {
		return fmt.Errorf("storage.GetResult: query schedule: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var e, t int
		var pc, pd, rcd, rcu, rdd, rdu, soc float64
		if err := rows.Scan(&e, &t, &pc, &pd, &rcd, &rcu, &rdd, &rdu, &soc); err != nil {
			return fmt.Errorf("storage.GetResult: scan schedule: %w", err)
		}
		if e < 0 || e >= d.NLoads() || t < 0 || t >= d.NTimeSteps() {
			continue
		}
		d.Charge[e][t], d.Discharge[e][t] = pc, pd
		d.ReserveChargeDown[e][t], d.ReserveChargeUp[e][t] = rcd, rcu
		d.ReserveDischargeDown[e][t], d.ReserveDischargeUp[e][t] = rdd, rdu
		d.SOC[e][t] = soc
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("storage.GetResult: schedule rows: %w", err)
	}

	bids, err := s.db.QueryContext(ctx,
		`SELECT load_idx, period, side, price FROM bids WHERE run_id = ?`, runID)
	if err != nil {
		return fmt.Errorf("storage.GetResult: query bids: %w", err)
	}
	defer bids.Close()
	for bids.Next() {
		var e, t int
		var side string
		var price float64
		if err := bids.Scan(&e, &t, &side, &price); err != nil {
			return fmt.Errorf("storage.GetResult: scan bid: %w", err)
		}
		if e < 0 || e >= d.NLoads() || t < 0 || t >= d.NTimeSteps() {
			continue
		}
		if side == domain.Up.String() {
			d.BidUp[e][t] = price
		} else {
			d.BidDown[e][t] = price
		}
	}
	return bids.Err()
}

func (s *SQLiteStorage) loadPositions(ctx context.Context, runID string, d *domain.DecisionVariables) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, idx, quantity FROM positions WHERE run_id = ?`, runID)
	if err != nil {
		return fmt.Errorf("storage.GetResult: query positions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var kind string
		var i int
		var q float64
		if err := rows.Scan(&kind, &i, &q); err != nil {
			return fmt.Errorf("storage.GetResult: scan position: %w", err)
		}
		xs := d.Imbalance
		if kind == kindDayAhead {
			xs = d.DayAhead
		}
		if i >= 0 && i < len(xs) {
			xs[i] = q
		}
	}
	return rows.Err()
}

func (s *SQLiteStorage) loadIterations(ctx context.Context, runID string, r *domain.Result) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT n, upper, lower, gap, step, step_factor
		FROM iterations WHERE run_id = ? ORDER BY n`, runID)
	if err != nil {
		return fmt.Errorf("storage.GetResult: query iterations: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var it domain.Iteration
		if err := rows.Scan(&it.N, &it.Upper, &it.Lower, &it.Gap, &it.Step, &it.StepFactor); err != nil {
			return fmt.Errorf("storage.GetResult: scan iteration: %w", err)
		}
		r.Iterations = append(r.Iterations, it)
	}
	return rows.Err()
}

// ListRuns devuelve las ejecuciones iniciadas en el rango dado, más recientes primero.
func (s *SQLiteStorage) ListRuns(ctx context.Context, from, to time.Time) ([]ports.RunSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, strategy, started_at, objective, baseline_cost
		FROM runs
		WHERE started_at BETWEEN ? AND ?
		ORDER BY started_at DESC
	`, from.UTC().UnixNano(), to.UTC().UnixNano())
	if err != nil {
		return nil, fmt.Errorf("storage.ListRuns: query: %w", err)
	}
	defer rows.Close()

	var runs []ports.RunSummary
	for rows.Next() {
		var r ports.RunSummary
		var startedAt int64
		if err := rows.Scan(&r.RunID, &r.Strategy, &startedAt, &r.Objective, &r.BaselineCost); err != nil {
			return nil, fmt.Errorf("storage.ListRuns: scan row: %w", err)
		}
		r.StartedAt = time.Unix(0, startedAt).UTC()
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Close cierra la conexión a la base de datos.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// --- helpers internos ---

// pruneOld elimina ejecuciones antiguas y sus filas hijas.
func (s *SQLiteStorage) pruneOld(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-retentionRuns).UnixNano()
	for _, table := range []string{"loads", "schedules", "bids", "positions", "iterations"} {
		s.db.ExecContext(ctx,
			`DELETE FROM `+table+` WHERE run_id IN (SELECT run_id FROM runs WHERE started_at < ?)`, cutoff)
	}
	s.db.ExecContext(ctx, `DELETE FROM runs WHERE started_at < ?`, cutoff)
}

func cell(xs []float64, i int) float64 {
	if i < 0 || i >= len(xs) {
		return 0
	}
	return xs[i]
}

func cell2(m [][]float64, i, j int) float64 {
	if i < 0 || i >= len(m) {
		return 0
	}
	return cell(m[i], j)
}
