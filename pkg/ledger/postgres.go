package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sigweihq/purchasegate/pkg/types"
)

const uniqueViolation = "23505"

const schemaSQL = `
CREATE TABLE IF NOT EXISTS purchases (
	id             TEXT PRIMARY KEY,
	payer_id       TEXT NOT NULL,
	payment_id     TEXT NOT NULL,
	payment_kind   TEXT NOT NULL,
	sku_id         TEXT NOT NULL,
	classification TEXT NOT NULL,
	recorded_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	CONSTRAINT purchases_payment_id_key UNIQUE (payment_id)
);
CREATE INDEX IF NOT EXISTS purchases_payer_id_idx ON purchases (payer_id);
`

// DB is the subset of *pgxpool.Pool the store uses
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	cfg.MinConns = 0
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}

	return pool, nil
}

// PostgresStore keeps purchases in the purchases table.
// The UNIQUE (payment_id) constraint is the authoritative duplicate defense.
type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

// EnsureSchema creates the purchases table and its indexes when missing
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("postgres pool is nil")
	}
	if _, err := s.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure purchases schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Insert(ctx context.Context, record types.PurchaseRecord) error {
	if s.db == nil {
		return fmt.Errorf("postgres pool is nil")
	}
	if strings.TrimSpace(record.PaymentID) == "" || strings.TrimSpace(record.ID) == "" {
		return fmt.Errorf("invalid purchase insert payload")
	}

	_, err := s.db.Exec(ctx, `
INSERT INTO purchases (
	id,
	payer_id,
	payment_id,
	payment_kind,
	sku_id,
	classification,
	recorded_at
) VALUES ($1, $2, $3, $4, $5, $6, $7)
`, record.ID, record.PayerID, record.PaymentID, record.PaymentKind, record.SKUID, record.Classification, record.RecordedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert purchase: %w", err)
	}

	return nil
}

func (s *PostgresStore) FindByPaymentID(ctx context.Context, paymentID string) (types.PurchaseRecord, error) {
	if s.db == nil {
		return types.PurchaseRecord{}, fmt.Errorf("postgres pool is nil")
	}

	record, err := scanPurchase(s.db.QueryRow(ctx, `
SELECT id, payer_id, payment_id, payment_kind, sku_id, classification, recorded_at
FROM purchases
WHERE payment_id = $1
LIMIT 1
`, paymentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.PurchaseRecord{}, ErrNotFound
		}
		return types.PurchaseRecord{}, fmt.Errorf("find purchase by payment id: %w", err)
	}

	return record, nil
}

func (s *PostgresStore) ListByPayer(ctx context.Context, payerID string) ([]types.PurchaseRecord, error) {
	if s.db == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}

	rows, err := s.db.Query(ctx, `
SELECT id, payer_id, payment_id, payment_kind, sku_id, classification, recorded_at
FROM purchases
WHERE payer_id = $1
ORDER BY recorded_at ASC, payment_id ASC
`, payerID)
	if err != nil {
		return nil, fmt.Errorf("list purchases by payer: %w", err)
	}
	defer rows.Close()

	var out []types.PurchaseRecord
	for rows.Next() {
		record, err := scanPurchase(rows)
		if err != nil {
			return nil, fmt.Errorf("scan purchase: %w", err)
		}
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate purchases: %w", err)
	}

	return out, nil
}

func scanPurchase(row pgx.Row) (types.PurchaseRecord, error) {
	var record types.PurchaseRecord
	err := row.Scan(
		&record.ID,
		&record.PayerID,
		&record.PaymentID,
		&record.PaymentKind,
		&record.SKUID,
		&record.Classification,
		&record.RecordedAt,
	)
	return record, err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
