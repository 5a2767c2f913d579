package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/syntharb/internal/domain"
)

// InstrumentStore implements domain.InstrumentStore using PostgreSQL.
type InstrumentStore struct {
	pool *pgxpool.Pool
}

// NewInstrumentStore creates an InstrumentStore backed by pool.
func NewInstrumentStore(pool *pgxpool.Pool) *InstrumentStore {
	return &InstrumentStore{pool: pool}
}

// Upsert inserts spec or updates its type and re-enables it.
func (s *InstrumentStore) Upsert(ctx context.Context, spec domain.InstrumentSpec) error {
	const query = `
		INSERT INTO instruments (exchange, symbol, type, enabled, updated_at)
		VALUES ($1, $2, $3, TRUE, NOW())
		ON CONFLICT (exchange, symbol) DO UPDATE SET
			type       = EXCLUDED.type,
			enabled    = TRUE,
			updated_at = NOW()`

	if _, err := s.pool.Exec(ctx, query, string(spec.Exchange), spec.Symbol, string(spec.Type)); err != nil {
		return fmt.Errorf("postgres: upsert instrument %s: %w", spec.ID(), err)
	}
	return nil
}

// List returns every enabled instrument ordered by exchange and symbol.
// Rows that no longer parse are skipped with an error.
func (s *InstrumentStore) List(ctx context.Context) ([]domain.InstrumentSpec, error) {
	const query = `
		SELECT exchange, symbol, type FROM instruments
		WHERE enabled
		ORDER BY exchange, symbol`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list instruments: %w", err)
	}
	specs, err := pgx.CollectRows(rows, scanInstrument)
	if err != nil {
		return nil, fmt.Errorf("postgres: list instruments: %w", err)
	}
	return specs, nil
}

// Delete disables the instrument. It returns domain.ErrNotFound when no
// such instrument exists.
func (s *InstrumentStore) Delete(ctx context.Context, id domain.InstrumentID) error {
	ex, sym, err := id.Split()
	if err != nil {
		return fmt.Errorf("postgres: delete instrument: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE instruments SET enabled = FALSE, updated_at = NOW() WHERE exchange = $1 AND symbol = $2`,
		string(ex), sym,
	)
	if err != nil {
		return fmt.Errorf("postgres: delete instrument %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: delete instrument %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func scanInstrument(row pgx.CollectableRow) (domain.InstrumentSpec, error) {
	var ex, sym, typ string
	if err := row.Scan(&ex, &sym, &typ); err != nil {
		return domain.InstrumentSpec{}, err
	}
	exchange, err := domain.ParseExchange(ex)
	if err != nil {
		return domain.InstrumentSpec{}, err
	}
	it, err := domain.ParseInstrumentType(typ)
	if err != nil {
		return domain.InstrumentSpec{}, err
	}
	return domain.NewInstrumentSpec(sym, it, exchange)
}

// Compile-time interface check.
var _ domain.InstrumentStore = (*InstrumentStore)(nil)
