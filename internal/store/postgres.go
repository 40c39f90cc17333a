package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/cdex/paper-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL.
// All monetary values are stored as NUMERIC for exact decimal precision.
//
// Schema:
//
//	CREATE TABLE wallet (
//	    id          SMALLINT PRIMARY KEY DEFAULT 1,
//	    balance     NUMERIC NOT NULL
//	);
//	CREATE TABLE transactions (
//	    id          TEXT PRIMARY KEY,
//	    type        TEXT NOT NULL,
//	    amount      NUMERIC NOT NULL,
//	    token       TEXT NOT NULL,
//	    status      TEXT NOT NULL,
//	    timestamp   TIMESTAMPTZ NOT NULL,
//	    hash        TEXT NOT NULL,
//	    description TEXT NOT NULL DEFAULT '',
//	    details     JSONB
//	);
//	CREATE TABLE positions (
//	    id        TEXT PRIMARY KEY,
//	    asset_id  TEXT NOT NULL,
//	    symbol    TEXT NOT NULL,
//	    side      TEXT NOT NULL,
//	    entry     NUMERIC NOT NULL,
//	    size      NUMERIC NOT NULL,
//	    leverage  INT NOT NULL,
//	    margin    NUMERIC NOT NULL,
//	    opened_at TIMESTAMPTZ NOT NULL,
//	    tx_ref    TEXT NOT NULL DEFAULT ''
//	);
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) SaveWallet(ctx context.Context, state model.WalletState) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("save wallet: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO wallet (id, balance) VALUES (1, $1::NUMERIC)
		 ON CONFLICT (id) DO UPDATE SET balance = EXCLUDED.balance`,
		state.Balance.String(),
	)
	if err != nil {
		return fmt.Errorf("save wallet: balance: %w", err)
	}

	// Transactions are append-only; only the settlement status of an
	// existing row ever changes.
	for _, t := range state.Transactions {
		var details []byte
		if t.Details != nil {
			details, _ = json.Marshal(t.Details)
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO transactions (id, type, amount, token, status, timestamp, hash, description, details)
			 VALUES ($1, $2, $3::NUMERIC, $4, $5, $6, $7, $8, $9)
			 ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status`,
			t.ID, string(t.Type), t.Amount.String(), t.Token, string(t.Status),
			t.Timestamp, t.Hash, t.Description, details,
		)
		if err != nil {
			return fmt.Errorf("save wallet: transaction %s: %w", t.ID, err)
		}
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) LoadWallet(ctx context.Context) (model.WalletState, error) {
	var state model.WalletState
	var balance string

	err := s.pool.QueryRow(ctx, `SELECT balance::TEXT FROM wallet WHERE id = 1`).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.WalletState{}, nil
	}
	if err != nil {
		return model.WalletState{}, fmt.Errorf("load wallet: %w", err)
	}
	state.Balance, _ = decimal.NewFromString(balance)

	rows, err := s.pool.Query(ctx,
		`SELECT id, type, amount::TEXT, token, status, timestamp, hash, description, details
		 FROM transactions ORDER BY timestamp`)
	if err != nil {
		return model.WalletState{}, fmt.Errorf("load wallet: transactions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var t model.Transaction
		var typ, status, amount string
		var details []byte

		if err := rows.Scan(&t.ID, &typ, &amount, &t.Token, &status,
			&t.Timestamp, &t.Hash, &t.Description, &details); err != nil {
			return model.WalletState{}, err
		}

		t.Type = model.TxType(typ)
		t.Status = model.TxStatus(status)
		t.Amount, _ = decimal.NewFromString(amount)
		if len(details) > 0 {
			var d model.TxDetails
			if json.Unmarshal(details, &d) == nil {
				t.Details = &d
			}
		}
		state.Transactions = append(state.Transactions, t)
	}

	return state, rows.Err()
}

func (s *PostgresStore) SavePositions(ctx context.Context, positions []model.Position) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("save positions: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	// The open set is small; replacing it wholesale keeps closes simple.
	if _, err := tx.Exec(ctx, `DELETE FROM positions`); err != nil {
		return fmt.Errorf("save positions: clear: %w", err)
	}

	for _, p := range positions {
		_, err := tx.Exec(ctx,
			`INSERT INTO positions (id, asset_id, symbol, side, entry, size, leverage, margin, opened_at, tx_ref)
			 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7, $8::NUMERIC, $9, $10)`,
			p.ID, p.AssetID, p.Symbol, string(p.Side),
			p.Entry.String(), p.Size.String(), p.Leverage, p.Margin.String(),
			p.OpenedAt, p.TxRef,
		)
		if err != nil {
			return fmt.Errorf("save positions: %s: %w", p.ID, err)
		}
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) LoadPositions(ctx context.Context) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, asset_id, symbol, side,
		        entry::TEXT, size::TEXT, leverage, margin::TEXT,
		        opened_at, tx_ref
		 FROM positions ORDER BY opened_at`)
	if err != nil {
		return nil, fmt.Errorf("load positions: %w", err)
	}
	defer rows.Close()

	var positions []model.Position
	for rows.Next() {
		var p model.Position
		var side, entry, size, margin string

		if err := rows.Scan(&p.ID, &p.AssetID, &p.Symbol, &side,
			&entry, &size, &p.Leverage, &margin,
			&p.OpenedAt, &p.TxRef); err != nil {
			return nil, err
		}

		p.Side = model.Side(side)
		p.Entry, _ = decimal.NewFromString(entry)
		p.Size, _ = decimal.NewFromString(size)
		p.Margin, _ = decimal.NewFromString(margin)

		positions = append(positions, p)
	}

	return positions, rows.Err()
}
