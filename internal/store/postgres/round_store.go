package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/flareflip/internal/domain"
)

// RoundStore implements domain.RoundArchive. Rows are never updated once
// written; results are immutable on chain.
type RoundStore struct {
	pool *pgxpool.Pool
}

// NewRoundStore creates a new RoundStore backed by the given connection pool.
func NewRoundStore(pool *pgxpool.Pool) *RoundStore {
	return &RoundStore{pool: pool}
}

// Save inserts a round result. Saving an existing round is a no-op.
func (s *RoundStore) Save(ctx context.Context, res domain.RoundResult) error {
	const query = `
		INSERT INTO round_results (
			pool_id, round, winners, losers, winning_choice, majority_choice, fetched_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (pool_id, round) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		int64(res.PoolID), int64(res.Round),
		hexList(res.Winners), hexList(res.Losers),
		int16(res.WinningChoice), int16(res.MajorityChoice),
		res.FetchedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: save round %d/%d: %w", res.PoolID, res.Round, err)
	}
	return nil
}

const roundColumns = `pool_id, round, winners, losers, winning_choice, majority_choice, fetched_at`

// Get returns one round or domain.ErrNotFound. Survived is left false; it
// depends on the reader.
func (s *RoundStore) Get(ctx context.Context, poolID, round uint64) (domain.RoundResult, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+roundColumns+` FROM round_results WHERE pool_id = $1 AND round = $2`,
		int64(poolID), int64(round),
	)
	res, err := scanRound(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.RoundResult{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.RoundResult{}, fmt.Errorf("postgres: get round %d/%d: %w", poolID, round, err)
	}
	return res, nil
}

// List returns every stored round of a pool in ascending order.
func (s *RoundStore) List(ctx context.Context, poolID uint64) ([]domain.RoundResult, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+roundColumns+` FROM round_results WHERE pool_id = $1 ORDER BY round`,
		int64(poolID),
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list rounds %d: %w", poolID, err)
	}
	defer rows.Close()

	var out []domain.RoundResult
	for rows.Next() {
		res, err := scanRound(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan round: %w", err)
		}
		out = append(out, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list rounds %d rows: %w", poolID, err)
	}
	return out, nil
}

func scanRound(row pgx.Row) (domain.RoundResult, error) {
	var (
		res               domain.RoundResult
		poolID, round     int64
		winners, losers   []string
		winning, majority int16
	)
	if err := row.Scan(&poolID, &round, &winners, &losers, &winning, &majority, &res.FetchedAt); err != nil {
		return domain.RoundResult{}, err
	}
	res.PoolID = uint64(poolID)
	res.Round = uint64(round)
	res.Winners = addrList(winners)
	res.Losers = addrList(losers)
	res.WinningChoice = domain.Choice(winning)
	res.MajorityChoice = domain.Choice(majority)
	return res, nil
}

func hexList(addrs []common.Address) []string {
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = a.Hex()
	}
	return out
}

func addrList(hexes []string) []common.Address {
	out := make([]common.Address, 0, len(hexes))
	for _, h := range hexes {
		if common.IsHexAddress(h) {
			out = append(out, common.HexToAddress(h))
		}
	}
	return out
}

var _ domain.RoundArchive = (*RoundStore)(nil)
