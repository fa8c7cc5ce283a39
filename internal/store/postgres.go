package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/rafa-canseco/TokenDistributor/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision;
// each Apply runs in one transaction.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the schema when it does not exist yet.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS accounts (
			address         TEXT PRIMARY KEY,
			balance         NUMERIC NOT NULL,
			fee_exempt      BOOLEAN NOT NULL,
			dividend_exempt BOOLEAN NOT NULL,
			is_amm_pair     BOOLEAN NOT NULL
		);
		CREATE TABLE IF NOT EXISTS shares (
			holder         TEXT PRIMARY KEY,
			amount         NUMERIC NOT NULL,
			total_excluded NUMERIC NOT NULL,
			total_realised NUMERIC NOT NULL
		);
		CREATE TABLE IF NOT EXISTS holders (
			address  TEXT PRIMARY KEY,
			position INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS distributor (
			id                  BOOLEAN PRIMARY KEY DEFAULT TRUE CHECK (id),
			total_shares        NUMERIC NOT NULL,
			total_dividends     NUMERIC NOT NULL,
			total_distributed   NUMERIC NOT NULL,
			dividends_per_share NUMERIC NOT NULL,
			cursor              INTEGER NOT NULL,
			pass_remaining      INTEGER NOT NULL,
			pending_deposit     BOOLEAN NOT NULL,
			queued_deposits     NUMERIC NOT NULL,
			min_period          BIGINT NOT NULL,
			min_distribution    NUMERIC NOT NULL,
			gas                 BIGINT NOT NULL,
			last_distribution   TIMESTAMPTZ NOT NULL,
			enabled             BOOLEAN NOT NULL
		);
		CREATE TABLE IF NOT EXISTS config (
			id                  BOOLEAN PRIMARY KEY DEFAULT TRUE CHECK (id),
			owner               TEXT NOT NULL,
			token_asset         TEXT NOT NULL,
			native_asset        TEXT NOT NULL,
			reflection_token    TEXT NOT NULL,
			max_tx              NUMERIC NOT NULL,
			swap_threshold      NUMERIC NOT NULL,
			fee_rate            NUMERIC NOT NULL,
			reflections_enabled BOOLEAN NOT NULL
		);
		CREATE TABLE IF NOT EXISTS pots (
			asset  TEXT PRIMARY KEY,
			amount NUMERIC NOT NULL
		);
		CREATE TABLE IF NOT EXISTS rewards (
			asset  TEXT NOT NULL,
			holder TEXT NOT NULL,
			amount NUMERIC NOT NULL,
			PRIMARY KEY (asset, holder)
		);
		CREATE TABLE IF NOT EXISTS native_balance (
			id      BOOLEAN PRIMARY KEY DEFAULT TRUE CHECK (id),
			balance NUMERIC NOT NULL
		);
		CREATE TABLE IF NOT EXISTS events (
			id      TEXT PRIMARY KEY,
			name    TEXT NOT NULL,
			address TEXT NOT NULL DEFAULT '',
			value   TEXT NOT NULL DEFAULT '',
			at      TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS events_at_idx ON events (at DESC);
	`)
	return err
}

func (s *PostgresStore) LoadState(ctx context.Context) (*model.State, error) {
	st := &model.State{}

	var maxTx, swapThreshold, feeRate string
	err := s.pool.QueryRow(ctx,
		`SELECT owner, token_asset, native_asset, reflection_token,
		        max_tx::TEXT, swap_threshold::TEXT, fee_rate::TEXT, reflections_enabled
		 FROM config`).
		Scan(&st.Config.Owner, &st.Config.TokenAsset, &st.Config.NativeAsset,
			&st.Config.ReflectionToken, &maxTx, &swapThreshold, &feeRate,
			&st.Config.ReflectionsEnabled)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil // never seeded
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	st.Config.MaxTx, _ = decimal.NewFromString(maxTx)
	st.Config.SwapThreshold, _ = decimal.NewFromString(swapThreshold)
	st.Config.FeeRate, _ = decimal.NewFromString(feeRate)

	var totShares, totDiv, totDist, dps, queued, minDist string
	err = s.pool.QueryRow(ctx,
		`SELECT total_shares::TEXT, total_dividends::TEXT, total_distributed::TEXT,
		        dividends_per_share::TEXT, cursor, pass_remaining, pending_deposit,
		        queued_deposits::TEXT, min_period, min_distribution::TEXT, gas,
		        last_distribution, enabled
		 FROM distributor`).
		Scan(&totShares, &totDiv, &totDist, &dps,
			&st.Distributor.Cursor, &st.Distributor.PassRemaining,
			&st.Distributor.PendingDeposit, &queued,
			&st.Distributor.MinPeriod, &minDist, &st.Distributor.Gas,
			&st.Distributor.LastDistribution, &st.Distributor.Enabled)
	if err != nil {
		return nil, fmt.Errorf("load distributor: %w", err)
	}
	st.Distributor.TotalShares, _ = decimal.NewFromString(totShares)
	st.Distributor.TotalDividends, _ = decimal.NewFromString(totDiv)
	st.Distributor.TotalDistributed, _ = decimal.NewFromString(totDist)
	st.Distributor.DividendsPerShare, _ = decimal.NewFromString(dps)
	st.Distributor.QueuedDeposits, _ = decimal.NewFromString(queued)
	st.Distributor.MinDistribution, _ = decimal.NewFromString(minDist)

	var native string
	if err := s.pool.QueryRow(ctx, `SELECT balance::TEXT FROM native_balance`).Scan(&native); err != nil {
		return nil, fmt.Errorf("load native balance: %w", err)
	}
	st.NativeBalance, _ = decimal.NewFromString(native)

	rows, err := s.pool.Query(ctx,
		`SELECT address, balance::TEXT, fee_exempt, dividend_exempt, is_amm_pair FROM accounts`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var a model.Account
		var bal string
		if err := rows.Scan(&a.Address, &bal, &a.FeeExempt, &a.DividendExempt, &a.IsAMMPair); err != nil {
			return nil, err
		}
		a.Balance, _ = decimal.NewFromString(bal)
		st.Accounts = append(st.Accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.pool.Query(ctx,
		`SELECT holder, amount::TEXT, total_excluded::TEXT, total_realised::TEXT FROM shares`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var r model.ShareRecord
		var amount, excluded, realised string
		if err := rows.Scan(&r.Holder, &amount, &excluded, &realised); err != nil {
			return nil, err
		}
		r.Amount, _ = decimal.NewFromString(amount)
		r.TotalExcluded, _ = decimal.NewFromString(excluded)
		r.TotalRealised, _ = decimal.NewFromString(realised)
		st.Shares = append(st.Shares, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.pool.Query(ctx, `SELECT address, position FROM holders ORDER BY position`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var h model.HolderSlot
		if err := rows.Scan(&h.Address, &h.Position); err != nil {
			return nil, err
		}
		st.Holders = append(st.Holders, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.pool.Query(ctx, `SELECT asset, amount::TEXT FROM pots`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var p model.RewardPot
		var amount string
		if err := rows.Scan(&p.Asset, &amount); err != nil {
			return nil, err
		}
		p.Amount, _ = decimal.NewFromString(amount)
		st.Pots = append(st.Pots, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.pool.Query(ctx, `SELECT asset, holder, amount::TEXT FROM rewards`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var r model.RewardCredit
		var amount string
		if err := rows.Scan(&r.Asset, &r.Holder, &amount); err != nil {
			return nil, err
		}
		r.Amount, _ = decimal.NewFromString(amount)
		st.Rewards = append(st.Rewards, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return st, nil
}

func (s *PostgresStore) Apply(ctx context.Context, m *Mutation) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, a := range m.Accounts {
		if _, err := tx.Exec(ctx,
			`INSERT INTO accounts (address, balance, fee_exempt, dividend_exempt, is_amm_pair)
			 VALUES ($1, $2::NUMERIC, $3, $4, $5)
			 ON CONFLICT (address) DO UPDATE SET
			   balance = EXCLUDED.balance, fee_exempt = EXCLUDED.fee_exempt,
			   dividend_exempt = EXCLUDED.dividend_exempt, is_amm_pair = EXCLUDED.is_amm_pair`,
			a.Address, a.Balance.String(), a.FeeExempt, a.DividendExempt, a.IsAMMPair); err != nil {
			return fmt.Errorf("apply account %s: %w", a.Address, err)
		}
	}

	for _, r := range m.Shares {
		if _, err := tx.Exec(ctx,
			`INSERT INTO shares (holder, amount, total_excluded, total_realised)
			 VALUES ($1, $2::NUMERIC, $3::NUMERIC, $4::NUMERIC)
			 ON CONFLICT (holder) DO UPDATE SET
			   amount = EXCLUDED.amount, total_excluded = EXCLUDED.total_excluded,
			   total_realised = EXCLUDED.total_realised`,
			r.Holder, r.Amount.String(), r.TotalExcluded.String(), r.TotalRealised.String()); err != nil {
			return fmt.Errorf("apply share %s: %w", r.Holder, err)
		}
	}
	for _, h := range m.RemovedShares {
		if _, err := tx.Exec(ctx, `DELETE FROM shares WHERE holder = $1`, h); err != nil {
			return err
		}
	}

	// Removals first: a swap-to-end-and-pop both moves one holder and
	// removes another, and the moved holder may land on the removed slot.
	for _, h := range m.RemovedHolders {
		if _, err := tx.Exec(ctx, `DELETE FROM holders WHERE address = $1`, h); err != nil {
			return err
		}
	}
	for _, h := range m.Holders {
		if _, err := tx.Exec(ctx,
			`INSERT INTO holders (address, position) VALUES ($1, $2)
			 ON CONFLICT (address) DO UPDATE SET position = EXCLUDED.position`,
			h.Address, h.Position); err != nil {
			return fmt.Errorf("apply holder %s: %w", h.Address, err)
		}
	}

	if d := m.Distributor; d != nil {
		if _, err := tx.Exec(ctx,
			`INSERT INTO distributor (id, total_shares, total_dividends, total_distributed,
			   dividends_per_share, cursor, pass_remaining, pending_deposit, queued_deposits,
			   min_period, min_distribution, gas, last_distribution, enabled)
			 VALUES (TRUE, $1::NUMERIC, $2::NUMERIC, $3::NUMERIC, $4::NUMERIC, $5, $6, $7,
			   $8::NUMERIC, $9, $10::NUMERIC, $11, $12, $13)
			 ON CONFLICT (id) DO UPDATE SET
			   total_shares = EXCLUDED.total_shares, total_dividends = EXCLUDED.total_dividends,
			   total_distributed = EXCLUDED.total_distributed,
			   dividends_per_share = EXCLUDED.dividends_per_share,
			   cursor = EXCLUDED.cursor, pass_remaining = EXCLUDED.pass_remaining,
			   pending_deposit = EXCLUDED.pending_deposit, queued_deposits = EXCLUDED.queued_deposits,
			   min_period = EXCLUDED.min_period, min_distribution = EXCLUDED.min_distribution,
			   gas = EXCLUDED.gas, last_distribution = EXCLUDED.last_distribution,
			   enabled = EXCLUDED.enabled`,
			d.TotalShares.String(), d.TotalDividends.String(), d.TotalDistributed.String(),
			d.DividendsPerShare.String(), d.Cursor, d.PassRemaining, d.PendingDeposit,
			d.QueuedDeposits.String(), d.MinPeriod, d.MinDistribution.String(), d.Gas,
			d.LastDistribution, d.Enabled); err != nil {
			return fmt.Errorf("apply distributor: %w", err)
		}
	}

	if c := m.Config; c != nil {
		if _, err := tx.Exec(ctx,
			`INSERT INTO config (id, owner, token_asset, native_asset, reflection_token,
			   max_tx, swap_threshold, fee_rate, reflections_enabled)
			 VALUES (TRUE, $1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8)
			 ON CONFLICT (id) DO UPDATE SET
			   owner = EXCLUDED.owner, token_asset = EXCLUDED.token_asset,
			   native_asset = EXCLUDED.native_asset, reflection_token = EXCLUDED.reflection_token,
			   max_tx = EXCLUDED.max_tx, swap_threshold = EXCLUDED.swap_threshold,
			   fee_rate = EXCLUDED.fee_rate, reflections_enabled = EXCLUDED.reflections_enabled`,
			c.Owner, c.TokenAsset, c.NativeAsset, c.ReflectionToken,
			c.MaxTx.String(), c.SwapThreshold.String(), c.FeeRate.String(),
			c.ReflectionsEnabled); err != nil {
			return fmt.Errorf("apply config: %w", err)
		}
	}

	for _, p := range m.Pots {
		if _, err := tx.Exec(ctx,
			`INSERT INTO pots (asset, amount) VALUES ($1, $2::NUMERIC)
			 ON CONFLICT (asset) DO UPDATE SET amount = EXCLUDED.amount`,
			p.Asset, p.Amount.String()); err != nil {
			return err
		}
	}

	for _, r := range m.Rewards {
		if _, err := tx.Exec(ctx,
			`INSERT INTO rewards (asset, holder, amount) VALUES ($1, $2, $3::NUMERIC)
			 ON CONFLICT (asset, holder) DO UPDATE SET amount = EXCLUDED.amount`,
			r.Asset, r.Holder, r.Amount.String()); err != nil {
			return err
		}
	}

	if m.NativeBalance != nil {
		if _, err := tx.Exec(ctx,
			`INSERT INTO native_balance (id, balance) VALUES (TRUE, $1::NUMERIC)
			 ON CONFLICT (id) DO UPDATE SET balance = EXCLUDED.balance`,
			m.NativeBalance.String()); err != nil {
			return err
		}
	}

	for _, e := range m.Events {
		if _, err := tx.Exec(ctx,
			`INSERT INTO events (id, name, address, value, at) VALUES ($1, $2, $3, $4, $5)`,
			e.ID, e.Name, e.Address, e.Value, e.At); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) Events(ctx context.Context, limit int) ([]model.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, address, value, at FROM events ORDER BY at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		var e model.Event
		if err := rows.Scan(&e.ID, &e.Name, &e.Address, &e.Value, &e.At); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
