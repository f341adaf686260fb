package repository

import (
	"context"
	"fmt"

	"github.com/xenking/kart-shop/internal/domain/payment"
)

const upsertPaymentSQL = `INSERT INTO payments (id, order_id, mercado_pago_id, status, status_detail, amount,
	payment_method_id, payment_type_id, details, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	ON CONFLICT (mercado_pago_id) DO UPDATE SET
		status = EXCLUDED.status,
		status_detail = EXCLUDED.status_detail,
		amount = EXCLUDED.amount,
		payment_method_id = EXCLUDED.payment_method_id,
		payment_type_id = EXCLUDED.payment_type_id,
		details = EXCLUDED.details,
		updated_at = EXCLUDED.updated_at`

var _ payment.Repository = (*PaymentRepository)(nil)

// PaymentRepository stores the payment ledger, one row per provider payment.
type PaymentRepository struct {
	db DBTX
}

// NewPaymentRepository returns a PaymentRepository that uses the given db.
func NewPaymentRepository(db DBTX) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) Upsert(ctx context.Context, p *payment.Payment) error {
	details := p.Details
	if len(details) == 0 {
		details = []byte("{}")
	}
	_, err := r.db.Exec(ctx, upsertPaymentSQL,
		p.ID, p.OrderID, p.ProviderID, p.Status, p.StatusDetail, p.Amount,
		p.MethodID, p.TypeID, string(details), p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upserting payment %q: %w", p.ProviderID, err)
	}
	return nil
}
