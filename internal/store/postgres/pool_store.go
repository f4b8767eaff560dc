package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/flareflip/internal/domain"
)

// PoolStore implements domain.PoolStore. Amounts are NUMERIC columns written
// and read as decimal text.
type PoolStore struct {
	pool *pgxpool.Pool
}

// NewPoolStore creates a new PoolStore backed by the given connection pool.
func NewPoolStore(pool *pgxpool.Pool) *PoolStore {
	return &PoolStore{pool: pool}
}

// upsertPool refuses to move a stored status backwards.
const upsertPool = `
	INSERT INTO pools (
		id, asset_symbol, entry_fee, max_players, current_players,
		prize_pool, status, creator, current_round,
		start_price, last_price, market_updated, updated_at
	) VALUES (
		$1, $2, $3::numeric, $4, $5,
		$6::numeric, $7, $8, $9,
		$10::numeric, $11::numeric, $12, NOW()
	)
	ON CONFLICT (id) DO UPDATE SET
		asset_symbol    = EXCLUDED.asset_symbol,
		entry_fee       = EXCLUDED.entry_fee,
		max_players     = EXCLUDED.max_players,
		current_players = EXCLUDED.current_players,
		prize_pool      = EXCLUDED.prize_pool,
		status          = GREATEST(pools.status, EXCLUDED.status),
		creator         = EXCLUDED.creator,
		current_round   = GREATEST(pools.current_round, EXCLUDED.current_round),
		start_price     = EXCLUDED.start_price,
		last_price      = EXCLUDED.last_price,
		market_updated  = EXCLUDED.market_updated,
		updated_at      = NOW()`

func poolArgs(p domain.Pool) []any {
	var updated *time.Time
	if !p.Market.LastUpdated.IsZero() {
		t := p.Market.LastUpdated
		updated = &t
	}
	return []any{
		int64(p.ID), p.AssetSymbol, numeric(p.EntryFee), int64(p.MaxPlayers), int64(p.CurrentPlayers),
		numeric(p.PrizePool), int16(p.Status), p.Creator.Hex(), int64(p.CurrentRound),
		nullableNumeric(p.Market.StartPrice), nullableNumeric(p.Market.LastPrice), updated,
	}
}

// Upsert inserts or refreshes a single pool snapshot.
func (s *PoolStore) Upsert(ctx context.Context, p domain.Pool) error {
	if _, err := s.pool.Exec(ctx, upsertPool, poolArgs(p)...); err != nil {
		return fmt.Errorf("postgres: upsert pool %d: %w", p.ID, err)
	}
	return nil
}

// UpsertBatch writes several pool snapshots in one round trip.
func (s *PoolStore) UpsertBatch(ctx context.Context, pools []domain.Pool) error {
	if len(pools) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, p := range pools {
		batch.Queue(upsertPool, poolArgs(p)...)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for i := range pools {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: upsert pool batch item %d: %w", i, err)
		}
	}
	return nil
}

const poolColumns = `
	id, asset_symbol, entry_fee::text, max_players, current_players,
	prize_pool::text, status, creator, current_round,
	start_price::text, last_price::text, market_updated`

// GetByID returns one pool or domain.ErrNotFound.
func (s *PoolStore) GetByID(ctx context.Context, id uint64) (domain.Pool, error) {
	p, err := scanPool(s.pool.QueryRow(ctx, `SELECT `+poolColumns+` FROM pools WHERE id = $1`, int64(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Pool{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Pool{}, fmt.Errorf("postgres: get pool %d: %w", id, err)
	}
	return p, nil
}

// List returns pools ordered by id with pagination.
func (s *PoolStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Pool, error) {
	query := `SELECT ` + poolColumns + ` FROM pools WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND updated_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	query += " ORDER BY id"
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list pools: %w", err)
	}
	defer rows.Close()

	var out []domain.Pool
	for rows.Next() {
		p, err := scanPool(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan pool: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list pools rows: %w", err)
	}
	return out, nil
}

// Count returns the number of stored pools.
func (s *PoolStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM pools`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count pools: %w", err)
	}
	return n, nil
}

func scanPool(row pgx.Row) (domain.Pool, error) {
	var (
		p                              domain.Pool
		id, maxPlayers, current, round int64
		fee, prize, creator            string
		status                         int16
		startPrice, lastPrice          *string
		updated                        *time.Time
	)
	err := row.Scan(
		&id, &p.AssetSymbol, &fee, &maxPlayers, &current,
		&prize, &status, &creator, &round,
		&startPrice, &lastPrice, &updated,
	)
	if err != nil {
		return domain.Pool{}, err
	}
	p.ID = uint64(id)
	p.MaxPlayers = uint64(maxPlayers)
	p.CurrentPlayers = uint64(current)
	p.CurrentRound = uint64(round)
	p.EntryFee = parseNumeric(&fee)
	p.PrizePool = parseNumeric(&prize)
	p.Status = domain.PoolStatus(status)
	p.Creator = common.HexToAddress(creator)
	p.Market.StartPrice = parseNumeric(startPrice)
	p.Market.LastPrice = parseNumeric(lastPrice)
	if updated != nil {
		p.Market.LastUpdated = updated.UTC()
	}
	return p, nil
}

func numeric(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func nullableNumeric(v *big.Int) *string {
	if v == nil {
		return nil
	}
	s := v.String()
	return &s
}

func parseNumeric(s *string) *big.Int {
	if s == nil {
		return nil
	}
	v, ok := new(big.Int).SetString(*s, 10)
	if !ok {
		return nil
	}
	return v
}

var _ domain.PoolStore = (*PoolStore)(nil)
