package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/licenseworks/ms-go-paygate/app/entity"
	"github.com/licenseworks/ms-go-paygate/app/types"
)

var (
	ErrPaymentNotFound      = errors.New("payment not found")
	ErrPaymentAlreadyExists = errors.New("payment already exists")

	// ErrVersionConflict means the conditional write matched no row: either
	// a concurrent writer advanced the version first, or the row is gone.
	// Callers re-read and decide.
	ErrVersionConflict = errors.New("payment version conflict")
)

type PaymentFilter struct {
	RequestID     string
	CallerService string
	HasStatus     bool
	Status        types.PaymentStatus
	Provider      types.ProviderCode
	Limit         int32
	Offset        int32
}

type PaymentRepository struct {
	db DBTX
}

func NewPaymentRepository(db DBTX) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) Create(ctx context.Context, payment *entity.Payment) error {
	metadataJSON, err := serializeMetadata(payment.Metadata)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO payments (
			payment_intent_id, request_id, caller_service,
			status, version, provider, provider_payment_id, checkout_url,
			amount_cents, currency, description, customer_ref,
			return_url, cancel_url, metadata_json,
			failure_reason, completed_at,
			propagation_status, propagation_attempts, propagation_next_at, propagation_last_error,
			created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		payment.PaymentIntentID,
		payment.RequestID,
		payment.CallerService,
		payment.Status,
		payment.Version,
		payment.Provider,
		nullableStringValue(payment.ProviderPaymentID),
		nullableStringValue(payment.CheckoutURL),
		payment.AmountCents,
		payment.Currency,
		payment.Description,
		nullableStringValue(payment.CustomerRef),
		payment.ReturnURL,
		payment.CancelURL,
		metadataJSON,
		nullableStringValue(payment.FailureReason),
		nullableTimeValue(payment.CompletedAt),
		payment.PropagationStatus,
		payment.PropagationAttempts,
		nullableTimeValue(payment.PropagationNextAt),
		nullableStringValue(payment.PropagationLastErr),
		payment.CreatedAt,
		payment.UpdatedAt,
	)
	if err != nil {
		if isDuplicateEntryError(err) {
			return ErrPaymentAlreadyExists
		}
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	payment.ID = uint64(id)
	return nil
}

// UpdateVersioned writes the mutable fields through a compare-and-set on
// the version column. Every accepted write advances the version by one;
// a write that matches no row reports ErrVersionConflict and changes
// nothing. On success the in-memory version is advanced to match.
func (r *PaymentRepository) UpdateVersioned(ctx context.Context, payment *entity.Payment) error {
	query := `
		UPDATE payments SET
			status = ?,
			version = version + 1,
			provider_payment_id = ?,
			checkout_url = ?,
			failure_reason = ?,
			completed_at = ?,
			propagation_status = ?,
			propagation_attempts = ?,
			propagation_next_at = ?,
			propagation_last_error = ?,
			updated_at = ?
		WHERE id = ? AND version = ?
	`

	result, err := r.db.ExecContext(ctx, query,
		payment.Status,
		nullableStringValue(payment.ProviderPaymentID),
		nullableStringValue(payment.CheckoutURL),
		nullableStringValue(payment.FailureReason),
		nullableTimeValue(payment.CompletedAt),
		payment.PropagationStatus,
		payment.PropagationAttempts,
		nullableTimeValue(payment.PropagationNextAt),
		nullableStringValue(payment.PropagationLastErr),
		payment.UpdatedAt,
		payment.ID,
		payment.Version,
	)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrVersionConflict
	}

	payment.Version++
	return nil
}

const paymentColumns = `id, payment_intent_id, request_id, caller_service,
			status, version, provider, provider_payment_id, checkout_url,
			amount_cents, currency, description, customer_ref,
			return_url, cancel_url, metadata_json,
			failure_reason, completed_at,
			propagation_status, propagation_attempts, propagation_next_at, propagation_last_error,
			created_at, updated_at`

func (r *PaymentRepository) FindByID(ctx context.Context, id uint64) (*entity.Payment, error) {
	query := `SELECT ` + paymentColumns + `
		FROM payments
		WHERE id = ?
	`

	payment := &entity.Payment{}
	if err := scanPayment(r.db.QueryRowContext(ctx, query, id), payment); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	return payment, nil
}

func (r *PaymentRepository) FindByIntentID(ctx context.Context, paymentIntentID string) (*entity.Payment, error) {
	query := `SELECT ` + paymentColumns + `
		FROM payments
		WHERE payment_intent_id = ?
		LIMIT 1
	`

	payment := &entity.Payment{}
	if err := scanPayment(r.db.QueryRowContext(ctx, query, paymentIntentID), payment); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	return payment, nil
}

func (r *PaymentRepository) FindByProviderPaymentID(ctx context.Context, provider types.ProviderCode, providerPaymentID string) (*entity.Payment, error) {
	query := `SELECT ` + paymentColumns + `
		FROM payments
		WHERE provider = ? AND provider_payment_id = ?
		LIMIT 1
	`

	payment := &entity.Payment{}
	if err := scanPayment(r.db.QueryRowContext(ctx, query, provider, providerPaymentID), payment); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	return payment, nil
}

func (r *PaymentRepository) FindByCallerRequestID(ctx context.Context, callerService, requestID string) (*entity.Payment, error) {
	query := `SELECT ` + paymentColumns + `
		FROM payments
		WHERE caller_service = ? AND request_id = ?
		LIMIT 1
	`

	payment := &entity.Payment{}
	if err := scanPayment(r.db.QueryRowContext(ctx, query, callerService, requestID), payment); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	return payment, nil
}

func (r *PaymentRepository) List(ctx context.Context, filter PaymentFilter) ([]*entity.Payment, error) {
	query := `SELECT ` + paymentColumns + `
		FROM payments
	`

	conditions := make([]string, 0, 4)
	args := make([]interface{}, 0, 6)

	if strings.TrimSpace(filter.RequestID) != "" {
		conditions = append(conditions, "request_id = ?")
		args = append(args, filter.RequestID)
	}
	if strings.TrimSpace(filter.CallerService) != "" {
		conditions = append(conditions, "caller_service = ?")
		args = append(args, filter.CallerService)
	}
	if filter.HasStatus {
		conditions = append(conditions, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.Provider > 0 {
		conditions = append(conditions, "provider = ?")
		args = append(args, filter.Provider)
	}

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	query += " ORDER BY id DESC LIMIT ? OFFSET ?"
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	payments := make([]*entity.Payment, 0)
	for rows.Next() {
		item, err := scanPaymentFromRows(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return payments, nil
}

// ListStalePending returns non-terminal payments that have not moved since
// before and are still young enough to poll. Records without a provider
// payment id are skipped; there is nothing to ask the provider about.
func (r *PaymentRepository) ListStalePending(ctx context.Context, before, createdAfter time.Time, limit int32) ([]*entity.Payment, error) {
	query := `SELECT ` + paymentColumns + `
		FROM payments
		WHERE status IN (?, ?)
		  AND provider_payment_id IS NOT NULL
		  AND updated_at <= ?
		  AND created_at >= ?
		ORDER BY updated_at ASC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, query,
		types.PaymentStatusPending,
		types.PaymentStatusProcessing,
		before,
		createdAfter,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	payments := make([]*entity.Payment, 0)
	for rows.Next() {
		item, err := scanPaymentFromRows(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return payments, nil
}

func (r *PaymentRepository) ListDuePropagation(ctx context.Context, now time.Time, limit int32) ([]*entity.Payment, error) {
	query := `SELECT ` + paymentColumns + `
		FROM payments
		WHERE propagation_status = ?
		  AND propagation_next_at IS NOT NULL
		  AND propagation_next_at <= ?
		ORDER BY propagation_next_at ASC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, query, entity.PropagationPending, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	payments := make([]*entity.Payment, 0)
	for rows.Next() {
		item, err := scanPaymentFromRows(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return payments, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPayment(scan rowScanner, payment *entity.Payment) error {
	var providerPaymentID sql.NullString
	var checkoutURL sql.NullString
	var customerRef sql.NullString
	var metadataJSON string
	var failureReason sql.NullString
	var completedAt sql.NullTime
	var propagationNextAt sql.NullTime
	var propagationLastErr sql.NullString

	err := scan.Scan(
		&payment.ID,
		&payment.PaymentIntentID,
		&payment.RequestID,
		&payment.CallerService,
		&payment.Status,
		&payment.Version,
		&payment.Provider,
		&providerPaymentID,
		&checkoutURL,
		&payment.AmountCents,
		&payment.Currency,
		&payment.Description,
		&customerRef,
		&payment.ReturnURL,
		&payment.CancelURL,
		&metadataJSON,
		&failureReason,
		&completedAt,
		&payment.PropagationStatus,
		&payment.PropagationAttempts,
		&propagationNextAt,
		&propagationLastErr,
		&payment.CreatedAt,
		&payment.UpdatedAt,
	)
	if err != nil {
		return err
	}

	payment.ProviderPaymentID = stringPtrFromNull(providerPaymentID)
	payment.CheckoutURL = stringPtrFromNull(checkoutURL)
	payment.CustomerRef = stringPtrFromNull(customerRef)
	payment.FailureReason = stringPtrFromNull(failureReason)
	payment.CompletedAt = timePtrFromNull(completedAt)
	payment.PropagationNextAt = timePtrFromNull(propagationNextAt)
	payment.PropagationLastErr = stringPtrFromNull(propagationLastErr)

	metadata, err := parseMetadata(metadataJSON)
	if err != nil {
		return err
	}
	payment.Metadata = metadata

	return nil
}

func scanPaymentFromRows(rows *sql.Rows) (*entity.Payment, error) {
	item := &entity.Payment{}
	if err := scanPayment(rows, item); err != nil {
		return nil, err
	}
	return item, nil
}
