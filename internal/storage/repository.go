package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrSnapshotNotFound indicates no snapshot exists for the symbol.
	ErrSnapshotNotFound = errors.New("storage: snapshot not found")
)

const (
	upsertSymbolSQL = `INSERT INTO symbols (code, name, exchange)
    VALUES ($1, $2, $3)
    ON CONFLICT (code) DO UPDATE
    SET name     = CASE WHEN EXCLUDED.name     <> '' THEN EXCLUDED.name     ELSE symbols.name     END,
        exchange = CASE WHEN EXCLUDED.exchange <> '' THEN EXCLUDED.exchange ELSE symbols.exchange END,
        updated_at = NOW();`

	deleteSymbolSQL = `DELETE FROM symbols WHERE code = $1;`

	listSymbolsSQL = `SELECT code, name, exchange, created_at, updated_at
    FROM symbols
    ORDER BY created_at, code;`

	// The monotonicity guard: an incoming observation older than the stored
	// one updates nothing, so RowsAffected reports whether it was accepted.
	upsertSnapshotSQL = `INSERT INTO snapshots (
        symbol, price, change_amount, change_percent, volume, observed_at, updated_at
    ) VALUES ($1,$2,$3,$4,$5,$6,NOW())
    ON CONFLICT (symbol) DO UPDATE
    SET price          = EXCLUDED.price,
        change_amount  = EXCLUDED.change_amount,
        change_percent = EXCLUDED.change_percent,
        volume         = EXCLUDED.volume,
        observed_at    = EXCLUDED.observed_at,
        updated_at     = NOW()
    WHERE snapshots.observed_at < EXCLUDED.observed_at;`

	appendHistorySQL = `INSERT INTO price_history (symbol, price, volume, recorded_at)
    VALUES ($1, $2, $3, $4);`

	getSnapshotSQL = `SELECT sn.symbol, COALESCE(sy.name, ''), sn.price, sn.change_amount,
        sn.change_percent, sn.volume, sn.observed_at, sn.updated_at
    FROM snapshots sn
    LEFT JOIN symbols sy ON sy.code = sn.symbol
    WHERE sn.symbol = $1;`

	listSnapshotsSQL = `SELECT sn.symbol, sy.name, sn.price, sn.change_amount,
        sn.change_percent, sn.volume, sn.observed_at, sn.updated_at
    FROM snapshots sn
    JOIN symbols sy ON sy.code = sn.symbol
    ORDER BY sy.created_at, sy.code;`

	listHistorySQL = `SELECT id, symbol, price, volume, recorded_at
    FROM price_history
    WHERE symbol = $1
    ORDER BY id DESC
    LIMIT $2;`

	listHistoryBetweenSQL = `SELECT id, symbol, price, volume, recorded_at
    FROM price_history
    WHERE symbol = $1 AND recorded_at >= $2 AND recorded_at < $3
    ORDER BY recorded_at;`

	purgeHistoryBatchSQL = `DELETE FROM price_history
    WHERE id IN (
        SELECT id FROM price_history WHERE recorded_at < $1 ORDER BY id LIMIT $2
    );`

	insertAlertSQL = `INSERT INTO price_alerts (symbol, direction, magnitude_pct, threshold_pct, triggered_at)
    VALUES ($1, $2, $3, $4, $5)
    RETURNING id, symbol, direction, magnitude_pct, threshold_pct, triggered_at;`

	listRecentAlertsSQL = `SELECT id, symbol, direction, magnitude_pct, threshold_pct, triggered_at
    FROM price_alerts
    ORDER BY triggered_at DESC, id DESC
    LIMIT $1;`

	countAlertsSinceSQL = `SELECT COUNT(*) FROM price_alerts WHERE triggered_at >= $1;`

	latestAlertTimesSQL = `SELECT symbol, direction, MAX(triggered_at)
    FROM price_alerts
    GROUP BY symbol, direction;`

	purgeAlertsBatchSQL = `DELETE FROM price_alerts
    WHERE id IN (
        SELECT id FROM price_alerts WHERE triggered_at < $1 ORDER BY id LIMIT $2
    );`
)

// SymbolStore defines persistence for tracked symbols.
type SymbolStore interface {
	UpsertSymbol(ctx context.Context, sym Symbol) error
	DeleteSymbol(ctx context.Context, code string) error
	ListSymbols(ctx context.Context) ([]Symbol, error)
}

// SnapshotStore defines the write-through path and snapshot reads.
type SnapshotStore interface {
	RecordQuote(ctx context.Context, snap Snapshot) (accepted bool, err error)
	GetSnapshot(ctx context.Context, symbol string) (Snapshot, error)
	ListSnapshots(ctx context.Context) ([]Snapshot, error)
}

// HistoryStore defines time-series reads and retention.
type HistoryStore interface {
	ListHistory(ctx context.Context, symbol string, limit int) ([]HistoryPoint, error)
	PurgeHistoryBefore(ctx context.Context, cutoff time.Time, batchSize int) (int64, error)
}

// AlertStore defines alert persistence.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert Alert) (Alert, error)
	ListRecentAlerts(ctx context.Context, limit int) ([]Alert, error)
	CountAlertsSince(ctx context.Context, since time.Time) (int64, error)
	LatestAlertTimes(ctx context.Context) (map[string]time.Time, error)
	PurgeAlertsBefore(ctx context.Context, cutoff time.Time, batchSize int) (int64, error)
}

// Store aggregates access to all persisted quote data.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// AlertKey builds the map key used by LatestAlertTimes.
func AlertKey(symbol, direction string) string {
	return symbol + "/" + direction
}

// UpsertSymbol inserts or refreshes a symbol row. Empty descriptive fields
// never overwrite previously resolved ones.
func (s *Store) UpsertSymbol(ctx context.Context, sym Symbol) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, upsertSymbolSQL, sym.Code, sym.Name, sym.Exchange); err != nil {
		return fmt.Errorf("upsert symbol: %w", err)
	}
	return nil
}

// DeleteSymbol removes a symbol row. Snapshot and history rows are retained.
func (s *Store) DeleteSymbol(ctx context.Context, code string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, deleteSymbolSQL, code); err != nil {
		return fmt.Errorf("delete symbol: %w", err)
	}
	return nil
}

// ListSymbols returns all symbols in registration order.
func (s *Store) ListSymbols(ctx context.Context) ([]Symbol, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSymbolsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list symbols: %w", queryErr)
	}
	defer rows.Close()

	symbols := make([]Symbol, 0)
	for rows.Next() {
		var sym Symbol
		if err := rows.Scan(&sym.Code, &sym.Name, &sym.Exchange, &sym.CreatedAt, &sym.UpdatedAt); err != nil {
			return nil, err
		}
		symbols = append(symbols, sym)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return symbols, nil
}

// RecordQuote replaces the symbol's snapshot and appends the matching history
// point in one transaction. Returns false without writing anything when the
// observation is not newer than the stored snapshot.
func (s *Store) RecordQuote(ctx context.Context, snap Snapshot) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin record quote: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, execErr := tx.Exec(ctx, upsertSnapshotSQL,
		snap.Symbol,
		snap.Price.String(),
		snap.ChangeAmount.String(),
		snap.ChangePercent.String(),
		snap.Volume,
		snap.ObservedAt,
	)
	if execErr != nil {
		return false, fmt.Errorf("upsert snapshot: %w", execErr)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	if _, execErr := tx.Exec(ctx, appendHistorySQL,
		snap.Symbol,
		snap.Price.String(),
		snap.Volume,
		snap.ObservedAt,
	); execErr != nil {
		return false, fmt.Errorf("append history: %w", execErr)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit record quote: %w", err)
	}
	return true, nil
}

// GetSnapshot returns the latest snapshot for a symbol.
func (s *Store) GetSnapshot(ctx context.Context, symbol string) (Snapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return Snapshot{}, err
	}

	snap, scanErr := scanSnapshot(pool.QueryRow(ctx, getSnapshotSQL, symbol))
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return Snapshot{}, fmt.Errorf("%w: %s", ErrSnapshotNotFound, symbol)
		}
		return Snapshot{}, scanErr
	}
	return snap, nil
}

// ListSnapshots returns the snapshots of all registered symbols in
// registration order.
func (s *Store) ListSnapshots(ctx context.Context) ([]Snapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSnapshotsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list snapshots: %w", queryErr)
	}
	defer rows.Close()

	snapshots := make([]Snapshot, 0)
	for rows.Next() {
		snap, scanErr := scanSnapshot(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		snapshots = append(snapshots, snap)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return snapshots, nil
}

// ListHistory returns up to limit points in reverse-chronological insertion
// order.
func (s *Store) ListHistory(ctx context.Context, symbol string, limit int) ([]HistoryPoint, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listHistorySQL, symbol, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list history: %w", queryErr)
	}
	return collectHistory(rows)
}

// ListHistoryBetween returns the points recorded in [from, to) in
// chronological order. Used by the export command.
func (s *Store) ListHistoryBetween(ctx context.Context, symbol string, from, to time.Time) ([]HistoryPoint, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listHistoryBetweenSQL, symbol, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list history between: %w", queryErr)
	}
	return collectHistory(rows)
}

func collectHistory(rows pgx.Rows) ([]HistoryPoint, error) {
	defer rows.Close()

	points := make([]HistoryPoint, 0)
	for rows.Next() {
		var point HistoryPoint
		var priceStr string
		if err := rows.Scan(&point.ID, &point.Symbol, &priceStr, &point.Volume, &point.RecordedAt); err != nil {
			return nil, err
		}
		price, convErr := decimal.NewFromString(priceStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse history price: %w", convErr)
		}
		point.Price = price
		points = append(points, point)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return points, nil
}

// PurgeHistoryBefore deletes history rows older than cutoff in short batches
// so the purge never holds a long transaction against the poll loop.
func (s *Store) PurgeHistoryBefore(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	return s.purgeBatches(ctx, purgeHistoryBatchSQL, cutoff, batchSize)
}

// InsertAlert persists a triggered alert and returns the stored row.
func (s *Store) InsertAlert(ctx context.Context, alert Alert) (Alert, error) {
	pool, err := s.getPool()
	if err != nil {
		return Alert{}, err
	}

	row := pool.QueryRow(ctx, insertAlertSQL,
		alert.Symbol,
		alert.Direction,
		alert.MagnitudePct.String(),
		alert.ThresholdPct.String(),
		alert.TriggeredAt,
	)

	rec, scanErr := scanAlert(row)
	if scanErr != nil {
		return Alert{}, fmt.Errorf("insert alert: %w", scanErr)
	}
	return rec, nil
}

// ListRecentAlerts lists the most recent alerts.
func (s *Store) ListRecentAlerts(ctx context.Context, limit int) ([]Alert, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAlertsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]Alert, 0, limit)
	for rows.Next() {
		rec, scanErr := scanAlert(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		alerts = append(alerts, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

// CountAlertsSince counts alerts triggered at or after the given instant.
func (s *Store) CountAlertsSince(ctx context.Context, since time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countAlertsSinceSQL, since).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count alerts: %w", scanErr)
	}
	return count, nil
}

// LatestAlertTimes returns the most recent trigger time per symbol+direction,
// keyed by AlertKey. Used to seed cooldown state across restarts.
func (s *Store) LatestAlertTimes(ctx context.Context) (map[string]time.Time, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, latestAlertTimesSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("latest alert times: %w", queryErr)
	}
	defer rows.Close()

	out := make(map[string]time.Time)
	for rows.Next() {
		var symbol, direction string
		var triggered time.Time
		if err := rows.Scan(&symbol, &direction, &triggered); err != nil {
			return nil, err
		}
		out[AlertKey(symbol, direction)] = triggered
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// PurgeAlertsBefore deletes alerts older than cutoff in short batches.
func (s *Store) PurgeAlertsBefore(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	return s.purgeBatches(ctx, purgeAlertsBatchSQL, cutoff, batchSize)
}

func (s *Store) purgeBatches(ctx context.Context, query string, cutoff time.Time, batchSize int) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	if batchSize <= 0 {
		batchSize = 1000
	}

	var total int64
	for {
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
		tag, execErr := pool.Exec(ctx, query, cutoff, batchSize)
		if execErr != nil {
			return total, fmt.Errorf("purge batch: %w", execErr)
		}
		total += tag.RowsAffected()
		if tag.RowsAffected() < int64(batchSize) {
			return total, nil
		}
	}
}

func scanSnapshot(row pgx.Row) (Snapshot, error) {
	var (
		snap       Snapshot
		priceStr   string
		amountStr  string
		percentStr string
	)

	if err := row.Scan(
		&snap.Symbol,
		&snap.Name,
		&priceStr,
		&amountStr,
		&percentStr,
		&snap.Volume,
		&snap.ObservedAt,
		&snap.UpdatedAt,
	); err != nil {
		return Snapshot{}, err
	}

	var convErr error
	if snap.Price, convErr = decimal.NewFromString(priceStr); convErr != nil {
		return Snapshot{}, fmt.Errorf("parse price: %w", convErr)
	}
	if snap.ChangeAmount, convErr = decimal.NewFromString(amountStr); convErr != nil {
		return Snapshot{}, fmt.Errorf("parse change amount: %w", convErr)
	}
	if snap.ChangePercent, convErr = decimal.NewFromString(percentStr); convErr != nil {
		return Snapshot{}, fmt.Errorf("parse change percent: %w", convErr)
	}
	return snap, nil
}

func scanAlert(row pgx.Row) (Alert, error) {
	var (
		rec          Alert
		magnitudeStr string
		thresholdStr string
	)

	if err := row.Scan(
		&rec.ID,
		&rec.Symbol,
		&rec.Direction,
		&magnitudeStr,
		&thresholdStr,
		&rec.TriggeredAt,
	); err != nil {
		return Alert{}, err
	}

	var convErr error
	if rec.MagnitudePct, convErr = decimal.NewFromString(magnitudeStr); convErr != nil {
		return Alert{}, fmt.Errorf("parse magnitude pct: %w", convErr)
	}
	if rec.ThresholdPct, convErr = decimal.NewFromString(thresholdStr); convErr != nil {
		return Alert{}, fmt.Errorf("parse threshold pct: %w", convErr)
	}
	return rec, nil
}

var (
	_ SymbolStore   = (*Store)(nil)
	_ SnapshotStore = (*Store)(nil)
	_ HistoryStore  = (*Store)(nil)
	_ AlertStore    = (*Store)(nil)
)
