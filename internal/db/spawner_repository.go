package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/udisondev/spawnerd/internal/ledger"
	"github.com/udisondev/spawnerd/internal/model"
)

// ErrSpawnerNotFound is returned by Load for an unknown id.
var ErrSpawnerNotFound = errors.New("spawner not found")

// SpawnerRecord — persisted state of one spawner.
type SpawnerRecord struct {
	ID            string
	Location      model.Location
	EntityType    string
	StackSize     int
	Delay         time.Duration
	Exp           int64
	Active        bool
	PreferredSort string
	Contents      map[ledger.Signature]int64
	UpdatedAt     time.Time
}

// RecordOf captures the persisted fields of a live spawner.
func RecordOf(sp *model.Spawner) SpawnerRecord {
	return SpawnerRecord{
		ID:            sp.ID(),
		Location:      sp.Location(),
		EntityType:    sp.EntityType(),
		StackSize:     sp.StackSize(),
		Delay:         sp.Delay(),
		Exp:           sp.Exp(),
		Active:        sp.Active(),
		PreferredSort: sp.PreferredSort(),
		Contents:      sp.Ledger().Consolidated(),
	}
}

// SpawnerRepository handles spawner CRUD operations.
type SpawnerRepository struct {
	pool *pgxpool.Pool
}

// NewSpawnerRepository creates a new spawner repository.
func NewSpawnerRepository(pool *pgxpool.Pool) *SpawnerRepository {
	return &SpawnerRepository{pool: pool}
}

const selectSpawners = `
	SELECT spawner_id, world, x, y, z, entity_type, stack_size, delay_ms,
	       exp, active, preferred_sort, contents, updated_at
	FROM spawners`

// LoadAll loads every spawner.
func (r *SpawnerRepository) LoadAll(ctx context.Context) ([]SpawnerRecord, error) {
	rows, err := r.pool.Query(ctx, selectSpawners+` ORDER BY spawner_id`)
	if err != nil {
		return nil, fmt.Errorf("loading all spawners: %w", err)
	}
	return collectSpawners(rows)
}

// LoadWorld loads spawners of one world.
func (r *SpawnerRepository) LoadWorld(ctx context.Context, world string) ([]SpawnerRecord, error) {
	rows, err := r.pool.Query(ctx, selectSpawners+` WHERE world = $1 ORDER BY spawner_id`, world)
	if err != nil {
		return nil, fmt.Errorf("loading spawners of world %q: %w", world, err)
	}
	return collectSpawners(rows)
}

// Load loads one spawner by id.
func (r *SpawnerRepository) Load(ctx context.Context, id string) (SpawnerRecord, error) {
	rows, err := r.pool.Query(ctx, selectSpawners+` WHERE spawner_id = $1`, id)
	if err != nil {
		return SpawnerRecord{}, fmt.Errorf("loading spawner %s: %w", id, err)
	}
	recs, err := collectSpawners(rows)
	if err != nil {
		return SpawnerRecord{}, err
	}
	if len(recs) == 0 {
		return SpawnerRecord{}, fmt.Errorf("loading spawner %s: %w", id, ErrSpawnerNotFound)
	}
	return recs[0], nil
}

func collectSpawners(rows pgx.Rows) ([]SpawnerRecord, error) {
	defer rows.Close()

	recs := make([]SpawnerRecord, 0, 16)
	for rows.Next() {
		var (
			rec      SpawnerRecord
			x, y, z  int32
			stack    int32
			delayMS  int64
			contents []byte
		)
		if err := rows.Scan(
			&rec.ID, &rec.Location.World, &x, &y, &z, &rec.EntityType, &stack, &delayMS,
			&rec.Exp, &rec.Active, &rec.PreferredSort, &contents, &rec.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning spawner row: %w", err)
		}
		rec.Location.X, rec.Location.Y, rec.Location.Z = x, y, z
		rec.StackSize = int(stack)
		rec.Delay = time.Duration(delayMS) * time.Millisecond

		decoded, err := DecodeContents(contents)
		if err != nil {
			// corrupt blob: keep loading, spawner starts empty
			slog.Warn("spawner contents unreadable, starting empty", "spawner", rec.ID, "error", err)
			decoded = make(map[ledger.Signature]int64)
		}
		rec.Contents = decoded
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating spawner rows: %w", err)
	}
	return recs, nil
}

// Save upserts spawners in a single transaction.
func (r *SpawnerRepository) Save(ctx context.Context, recs ...SpawnerRecord) error {
	if len(recs) == 0 {
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction for %d spawners: %w", len(recs), err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			slog.Error("rollback failed", "spawners", len(recs), "error", err)
		}
	}()

	if err := r.SaveTx(ctx, tx, recs...); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction for %d spawners: %w", len(recs), err)
	}
	return nil
}

// SaveTx upserts spawners within an existing transaction.
func (r *SpawnerRepository) SaveTx(ctx context.Context, tx pgx.Tx, recs ...SpawnerRecord) error {
	const query = `
		INSERT INTO spawners (spawner_id, world, x, y, z, entity_type, stack_size, delay_ms,
		                      exp, active, preferred_sort, contents, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now())
		ON CONFLICT (spawner_id) DO UPDATE SET
			stack_size = EXCLUDED.stack_size,
			delay_ms = EXCLUDED.delay_ms,
			exp = EXCLUDED.exp,
			active = EXCLUDED.active,
			preferred_sort = EXCLUDED.preferred_sort,
			contents = EXCLUDED.contents,
			updated_at = now()`

	batch := &pgx.Batch{}
	for _, rec := range recs {
		blob, err := EncodeContents(rec.Contents)
		if err != nil {
			return fmt.Errorf("encoding contents of spawner %s: %w", rec.ID, err)
		}
		batch.Queue(query,
			rec.ID, rec.Location.World, rec.Location.X, rec.Location.Y, rec.Location.Z,
			rec.EntityType, int32(max(1, rec.StackSize)), max(1, rec.Delay.Milliseconds()),
			max(0, rec.Exp), rec.Active, rec.PreferredSort, blob,
		)
	}

	br := tx.SendBatch(ctx, batch)
	for _, rec := range recs {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("saving spawner %s: %w", rec.ID, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("closing save batch: %w", err)
	}
	return nil
}

// Delete removes spawners by id. Unknown ids are ignored.
func (r *SpawnerRepository) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := r.pool.Exec(ctx, `DELETE FROM spawners WHERE spawner_id = ANY($1)`, ids); err != nil {
		return fmt.Errorf("deleting %d spawners: %w", len(ids), err)
	}
	return nil
}

// Count returns number of stored spawners.
func (r *SpawnerRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM spawners`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting spawners: %w", err)
	}
	return n, nil
}
