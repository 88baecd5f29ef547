package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/liquidity_layer/internal/app/domain/gasbank"
	"github.com/R3E-Network/liquidity_layer/internal/app/domain/peer"
	"github.com/R3E-Network/liquidity_layer/internal/app/domain/request"
	"github.com/R3E-Network/liquidity_layer/internal/app/storage"
)

// Store implements the storage interfaces backed by PostgreSQL. Request ids
// come from a BIGSERIAL sequence, so they are strictly increasing across
// restarts; the sequence can skip values when an insert rolls back, so ids
// are not gap-free. Fund settlement runs inside a transaction with a row
// lock on the fund so concurrent deliveries of the same callback serialize.
type Store struct {
	db *sql.DB
}

var _ storage.RequestStore = (*Store)(nil)
var _ storage.PeerStore = (*Store)(nil)
var _ storage.GasBankStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// --- RequestStore -----------------------------------------------------------

func (s *Store) CreateRequest(ctx context.Context, req request.Request) (request.Request, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return request.Request{}, err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	req.CreatedAt = now
	req.UpdatedAt = now

	// Locally settled funds never count toward the received total; it only
	// accumulates amounts delivered through verified peer transfers.
	req.ReceivedTotal = 0
	for i := range req.Funds {
		if req.Funds[i].Settled {
			req.Funds[i].SettledAt = now
		}
	}
	req.Fulfilled = req.FullySettled()
	if req.Fulfilled {
		req.FulfilledAt = now
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO la_requests (buyer, collection, token_id, received_total, fulfilled, created_at, updated_at, fulfilled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, req.Buyer, req.Item.Collection, req.Item.TokenID, req.ReceivedTotal, req.Fulfilled, req.CreatedAt, req.UpdatedAt, toNullTime(req.FulfilledAt)).Scan(&req.ID)
	if err != nil {
		return request.Request{}, err
	}

	for i, fund := range req.Funds {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO la_funds (request_id, idx, domain, token, amount, settled, settled_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, req.ID, i, fund.Domain, fund.Token, fund.Amount, fund.Settled, toNullTime(fund.SettledAt))
		if err != nil {
			return request.Request{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return request.Request{}, err
	}
	return req, nil
}

func (s *Store) GetRequest(ctx context.Context, id uint64) (request.Request, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, buyer, collection, token_id, received_total, fulfilled, created_at, updated_at, fulfilled_at
		FROM la_requests
		WHERE id = $1
	`, id)

	req, err := scanRequest(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return request.Request{}, fmt.Errorf("request %d: %w", id, storage.ErrNotFound)
		}
		return request.Request{}, err
	}

	req.Funds, err = s.loadFunds(ctx, req.ID)
	if err != nil {
		return request.Request{}, err
	}
	return req, nil
}

func (s *Store) ListRequests(ctx context.Context) ([]request.Request, error) {
	return s.listRequests(ctx, false)
}

func (s *Store) ListOpenRequests(ctx context.Context) ([]request.Request, error) {
	return s.listRequests(ctx, true)
}

func (s *Store) listRequests(ctx context.Context, openOnly bool) ([]request.Request, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, buyer, collection, token_id, received_total, fulfilled, created_at, updated_at, fulfilled_at
		FROM la_requests
		WHERE $1 = FALSE OR fulfilled = FALSE
		ORDER BY id
	`, openOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []request.Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, req)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range result {
		result[i].Funds, err = s.loadFunds(ctx, result[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (s *Store) SettleFund(ctx context.Context, requestID uint64, fundIndex int, amount int64) (request.Request, storage.SettleOutcome, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return request.Request{}, storage.SettleOutcome{}, err
	}
	defer tx.Rollback()

	var settled bool
	err = tx.QueryRowContext(ctx, `
		SELECT settled FROM la_funds
		WHERE request_id = $1 AND idx = $2
		FOR UPDATE
	`, requestID, fundIndex).Scan(&settled)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return request.Request{}, storage.SettleOutcome{}, fmt.Errorf("request %d fund %d: %w", requestID, fundIndex, storage.ErrNotFound)
		}
		return request.Request{}, storage.SettleOutcome{}, err
	}

	var outcome storage.SettleOutcome
	now := time.Now().UTC()

	if settled {
		outcome.AlreadySettled = true
	} else {
		_, err = tx.ExecContext(ctx, `
			UPDATE la_funds SET settled = TRUE, settled_at = $3
			WHERE request_id = $1 AND idx = $2
		`, requestID, fundIndex, now)
		if err != nil {
			return request.Request{}, storage.SettleOutcome{}, err
		}

		var remaining int
		err = tx.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM la_funds
			WHERE request_id = $1 AND settled = FALSE
		`, requestID).Scan(&remaining)
		if err != nil {
			return request.Request{}, storage.SettleOutcome{}, err
		}

		outcome.BecameFulfilled = remaining == 0
		_, err = tx.ExecContext(ctx, `
			UPDATE la_requests
			SET received_total = received_total + $2,
			    fulfilled = $3,
			    updated_at = $4,
			    fulfilled_at = COALESCE(fulfilled_at, $5)
			WHERE id = $1
		`, requestID, amount, outcome.BecameFulfilled, now, toNullTime(fulfilledAt(outcome.BecameFulfilled, now)))
		if err != nil {
			return request.Request{}, storage.SettleOutcome{}, err
		}
	}

	req, err := scanRequest(tx.QueryRowContext(ctx, `
		SELECT id, buyer, collection, token_id, received_total, fulfilled, created_at, updated_at, fulfilled_at
		FROM la_requests
		WHERE id = $1
	`, requestID))
	if err != nil {
		return request.Request{}, storage.SettleOutcome{}, err
	}
	req.Funds, err = loadFundsTx(ctx, tx, requestID)
	if err != nil {
		return request.Request{}, storage.SettleOutcome{}, err
	}

	if err := tx.Commit(); err != nil {
		return request.Request{}, storage.SettleOutcome{}, err
	}
	return req, outcome, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRequest(row rowScanner) (request.Request, error) {
	var (
		req         request.Request
		fulfilledAt sql.NullTime
	)
	err := row.Scan(&req.ID, &req.Buyer, &req.Item.Collection, &req.Item.TokenID,
		&req.ReceivedTotal, &req.Fulfilled, &req.CreatedAt, &req.UpdatedAt, &fulfilledAt)
	if err != nil {
		return request.Request{}, err
	}
	if fulfilledAt.Valid {
		req.FulfilledAt = fulfilledAt.Time
	}
	return req, nil
}

func (s *Store) loadFunds(ctx context.Context, requestID uint64) ([]request.Fund, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT domain, token, amount, settled, settled_at
		FROM la_funds
		WHERE request_id = $1
		ORDER BY idx
	`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanFunds(rows)
}

func loadFundsTx(ctx context.Context, tx *sql.Tx, requestID uint64) ([]request.Fund, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT domain, token, amount, settled, settled_at
		FROM la_funds
		WHERE request_id = $1
		ORDER BY idx
	`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanFunds(rows)
}

func scanFunds(rows *sql.Rows) ([]request.Fund, error) {
	var funds []request.Fund
	for rows.Next() {
		var (
			fund      request.Fund
			settledAt sql.NullTime
		)
		if err := rows.Scan(&fund.Domain, &fund.Token, &fund.Amount, &fund.Settled, &settledAt); err != nil {
			return nil, err
		}
		if settledAt.Valid {
			fund.SettledAt = settledAt.Time
		}
		funds = append(funds, fund)
	}
	return funds, rows.Err()
}

// --- PeerStore --------------------------------------------------------------

func (s *Store) SetPeer(ctx context.Context, p peer.Peer) (peer.Peer, error) {
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO la_peers (domain, address, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (domain) DO UPDATE SET address = EXCLUDED.address, updated_at = EXCLUDED.updated_at
		RETURNING created_at
	`, p.Domain, p.Address, p.CreatedAt, p.UpdatedAt).Scan(&p.CreatedAt)
	if err != nil {
		return peer.Peer{}, err
	}
	return p, nil
}

func (s *Store) GetPeer(ctx context.Context, domain string) (peer.Peer, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT domain, address, created_at, updated_at
		FROM la_peers
		WHERE domain = $1
	`, domain)

	var p peer.Peer
	if err := row.Scan(&p.Domain, &p.Address, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return peer.Peer{}, fmt.Errorf("peer for domain %s: %w", domain, storage.ErrNotFound)
		}
		return peer.Peer{}, err
	}
	return p, nil
}

func (s *Store) ListPeers(ctx context.Context) ([]peer.Peer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT domain, address, created_at, updated_at
		FROM la_peers
		ORDER BY domain
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []peer.Peer
	for rows.Next() {
		var p peer.Peer
		if err := rows.Scan(&p.Domain, &p.Address, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

func (s *Store) DeletePeer(ctx context.Context, domain string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM la_peers WHERE domain = $1
	`, domain)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("peer for domain %s: %w", domain, storage.ErrNotFound)
	}
	return nil
}

// --- GasBankStore -----------------------------------------------------------

func (s *Store) CreateGasTransaction(ctx context.Context, gtx gasbank.Transaction) (gasbank.Transaction, error) {
	if gtx.Amount <= 0 {
		return gasbank.Transaction{}, fmt.Errorf("gas transaction amount must be positive")
	}
	if gtx.ID == "" {
		gtx.ID = uuid.NewString()
	}
	gtx.CreatedAt = time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return gasbank.Transaction{}, err
	}
	defer tx.Rollback()

	switch gtx.Kind {
	case gasbank.KindDeposit:
		_, err = tx.ExecContext(ctx, `
			INSERT INTO la_gas_balance (id, balance) VALUES (1, $1)
			ON CONFLICT (id) DO UPDATE SET balance = la_gas_balance.balance + EXCLUDED.balance
		`, gtx.Amount)
	case gasbank.KindPayment:
		var result sql.Result
		result, err = tx.ExecContext(ctx, `
			UPDATE la_gas_balance SET balance = balance - $1
			WHERE id = 1 AND balance >= $1
		`, gtx.Amount)
		if err == nil {
			if rows, _ := result.RowsAffected(); rows == 0 {
				return gasbank.Transaction{}, storage.ErrGasBalanceExceeded
			}
		}
	default:
		return gasbank.Transaction{}, fmt.Errorf("unknown gas transaction kind %q", gtx.Kind)
	}
	if err != nil {
		return gasbank.Transaction{}, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO la_gas_transactions (id, kind, amount, message_id, reference, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, gtx.ID, string(gtx.Kind), gtx.Amount, gtx.MessageID, gtx.Reference, gtx.CreatedAt)
	if err != nil {
		return gasbank.Transaction{}, err
	}

	if err := tx.Commit(); err != nil {
		return gasbank.Transaction{}, err
	}
	return gtx, nil
}

func (s *Store) GasBalance(ctx context.Context) (int64, error) {
	var balance int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE((SELECT balance FROM la_gas_balance WHERE id = 1), 0)
	`).Scan(&balance)
	return balance, err
}

func (s *Store) ListGasTransactions(ctx context.Context) ([]gasbank.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, amount, message_id, reference, created_at
		FROM la_gas_transactions
		ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []gasbank.Transaction
	for rows.Next() {
		var (
			tx   gasbank.Transaction
			kind string
		)
		if err := rows.Scan(&tx.ID, &kind, &tx.Amount, &tx.MessageID, &tx.Reference, &tx.CreatedAt); err != nil {
			return nil, err
		}
		tx.Kind = gasbank.Kind(kind)
		result = append(result, tx)
	}
	return result, rows.Err()
}

func toNullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}

func fulfilledAt(fulfilled bool, now time.Time) time.Time {
	if fulfilled {
		return now
	}
	return time.Time{}
}
