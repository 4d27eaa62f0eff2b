package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nataas/ipfill/internal/domain"
)

const insertIfAbsentSQL = `INSERT INTO ipaddress_inside_regional (region, address, timestamp, inuse)
VALUES ($1, $2, $3, $4)
ON CONFLICT (region, address) DO NOTHING`

const lockRegionSQL = `SELECT region_name FROM region WHERE region_name = $1 FOR UPDATE NOWAIT`

type InventoryRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewInventoryRepository(pool *pgxpool.Pool, logger *slog.Logger) *InventoryRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &InventoryRepository{pool: pool, logger: logger}
}

func (r *InventoryRepository) ValidateRegion(ctx context.Context, region string) error {
	var name string
	err := r.pool.QueryRow(ctx, `SELECT region_name FROM region WHERE region_name = $1`, region).Scan(&name)
	if err != nil {
		if isNoRows(err) {
			return fmt.Errorf("%w: %s", domain.ErrRegionNotFound, region)
		}
		return err
	}
	return nil
}

func (r *InventoryRepository) SnapshotRegion(ctx context.Context, region string) ([]domain.AddressRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT region, address, timestamp, inuse FROM ipaddress_inside_regional WHERE region = $1 ORDER BY address`,
		region)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.AddressRecord
	for rows.Next() {
		var rec domain.AddressRecord
		var address int64
		if err := rows.Scan(&rec.Region, &address, &rec.Timestamp, &rec.InUse); err != nil {
			return nil, err
		}
		rec.Address = uint32(address)
		out = append(out, rec)
	}

	return out, rows.Err()
}

// ApplyDelta writes the delta inside one transaction guarded by the region's
// exclusive lock. The lock is requested with NOWAIT: a concurrent run holding
// it surfaces as domain.ErrLockContention instead of queueing behind it.
func (r *InventoryRepository) ApplyDelta(ctx context.Context, input domain.ApplyDeltaInput) (domain.ApplyDeltaResult, error) {
	switch input.Strategy {
	case domain.StrategyBulk:
		return r.applyBulk(ctx, input)
	case domain.StrategyRows:
		return r.applyRows(ctx, input)
	default:
		return domain.ApplyDeltaResult{}, fmt.Errorf("%w: unknown strategy %q", domain.ErrInvalidInput, input.Strategy)
	}
}

// applyBulk replays the pre-rendered script through the store's native
// multi-statement path. The script brackets itself in BEGIN/COMMIT and takes
// the region lock as its first statement.
func (r *InventoryRepository) applyBulk(ctx context.Context, input domain.ApplyDeltaInput) (domain.ApplyDeltaResult, error) {
	inserted, err := r.execScriptFile(ctx, input.ScriptPath)
	if err != nil {
		return domain.ApplyDeltaResult{}, err
	}

	return domain.ApplyDeltaResult{
		Inserted: inserted,
		Skipped:  input.Planned - inserted,
	}, nil
}

// applyRows inserts each address individually inside one transaction. A
// row-level failure is absorbed via a savepoint and counted as skipped; only
// lock or connection failures abort the transaction.
func (r *InventoryRepository) applyRows(ctx context.Context, input domain.ApplyDeltaInput) (domain.ApplyDeltaResult, error) {
	var res domain.ApplyDeltaResult

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return res, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, lockRegionSQL, input.Region); err != nil {
		return res, translateLockError(err, input.Region)
	}

	for addr := range input.Addresses {
		inserted, err := r.insertRow(ctx, tx, input, addr)
		if err != nil {
			return domain.ApplyDeltaResult{}, err
		}
		if inserted {
			res.Inserted++
		} else {
			res.Skipped++
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.ApplyDeltaResult{}, err
	}
	return res, nil
}

func (r *InventoryRepository) insertRow(ctx context.Context, tx pgx.Tx, input domain.ApplyDeltaInput, addr uint32) (bool, error) {
	// Nested Begin opens a savepoint, so a failed row does not poison the
	// enclosing transaction.
	inner, err := tx.Begin(ctx)
	if err != nil {
		return false, err
	}

	tag, err := inner.Exec(ctx, insertIfAbsentSQL, input.Region, int64(addr), input.Timestamp, false)
	if err != nil {
		if rbErr := inner.Rollback(ctx); rbErr != nil {
			return false, rbErr
		}
		var pgErr *pgconn.PgError
		if !errors.As(err, &pgErr) {
			// Not a statement-level error: the connection itself is gone.
			return false, err
		}
		r.logger.DebugContext(ctx, "row skipped", "region", input.Region, "address", addr, "err", pgErr.Message)
		return false, nil
	}

	if err := inner.Commit(ctx); err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ReplayScript executes an artifact file in one shot. Both forward bulk
// scripts and backup artifacts go through here; the symmetry is what makes a
// backup replayable as a provisioning-style run.
func (r *InventoryRepository) ReplayScript(ctx context.Context, path string) error {
	_, err := r.execScriptFile(ctx, path)
	return err
}

func (r *InventoryRepository) execScriptFile(ctx context.Context, path string) (int64, error) {
	script, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read artifact %s: %w", path, err)
	}

	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Release()

	// The simple-protocol Exec is the one path that accepts a whole
	// multi-statement script.
	results, err := conn.Conn().PgConn().Exec(ctx, string(script)).ReadAll()
	if err != nil {
		return 0, translateLockError(err, path)
	}

	var inserted int64
	for _, result := range results {
		if result.CommandTag.Insert() {
			inserted += result.CommandTag.RowsAffected()
		}
	}
	return inserted, nil
}

func translateLockError(err error, subject string) error {
	if isLockNotAvailable(err) {
		return fmt.Errorf("%w: %s", domain.ErrLockContention, subject)
	}
	return err
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// isLockNotAvailable reports SQLSTATE 55P03, raised by FOR UPDATE NOWAIT when
// another transaction already holds the row lock.
func isLockNotAvailable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "55P03"
}
