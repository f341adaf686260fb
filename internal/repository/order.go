package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/kart-shop/internal/domain/order"
)

const orderColumns = `id, user_id, status, payment_status, total_amount, discount_amount, coupon_code,
	full_name, email, phone, address, apartment, building,
	shipping_city, shipping_state, shipping_postal_code, shipping_country, shipping_full_name,
	delivery_type, delivery_date, delivery_time_slot, notes,
	preference_id, payment_id, payment_method, tracking_number, cancellation_reason,
	estimated_delivery, shipped_at, delivered_at, created_at, updated_at`

const (
	createOrderSQL = `INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
			$17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31, $32)`

	createOrderLineSQL = `INSERT INTO order_lines (id, order_id, product_id, product_name, price, quantity, position)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	getOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	lockOrderSQL = getOrderSQL + ` FOR UPDATE`

	getOrderByPreferenceSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE preference_id = $1 AND preference_id <> ''`

	listOrdersSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE $1 = '' OR user_id = $1 ORDER BY created_at DESC, id`

	listOrderLinesSQL = `SELECT order_id, id, COALESCE(product_id, ''), product_name, price, quantity
		FROM order_lines WHERE order_id = ANY($1) ORDER BY order_id, position`

	updateOrderSQL = `UPDATE orders SET
		status = $2, payment_status = $3, preference_id = $4, payment_id = $5, payment_method = $6,
		tracking_number = $7, cancellation_reason = $8, notes = $9, estimated_delivery = $10,
		shipped_at = $11, delivered_at = $12, updated_at = $13
		WHERE id = $1`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	db DBTX
}

// NewOrderRepository returns an OrderRepository that uses the given db.
func NewOrderRepository(db DBTX) *OrderRepository {
	return &OrderRepository{db: db}
}

// Create persists a new order together with its lines.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		c, d := o.Customer, o.Delivery
		_, err := tx.Exec(ctx, createOrderSQL,
			o.ID, o.UserID, string(o.Status), string(o.PaymentStatus), o.TotalAmount, o.DiscountAmount, o.CouponCode,
			c.FullName, c.Email, c.Phone, c.Address, c.Apartment, c.Building,
			c.ShippingCity, c.ShippingState, c.ShippingPostalCode, c.ShippingCountry, c.ShippingFullName,
			string(d.Type), d.Date, d.TimeSlot, d.Notes,
			o.PreferenceID, o.PaymentID, o.PaymentMethod, o.TrackingNumber, o.CancellationReason,
			o.EstimatedDelivery, o.ShippedAt, o.DeliveredAt, o.CreatedAt, o.UpdatedAt,
		)
		if err != nil {
			return err
		}

		for i := range o.Lines {
			l := &o.Lines[i]
			if l.ID == "" {
				l.ID = uuid.New().String()
			}
			var productID *string
			if l.ProductID != "" {
				productID = &l.ProductID
			}
			if _, err := tx.Exec(ctx, createOrderLineSQL,
				l.ID, o.ID, productID, l.Name, l.Price, l.Quantity, i,
			); err != nil {
				return fmt.Errorf("line %d: %w", i, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}
	return nil
}

// Get returns the order with its lines. Malformed ids are reported as
// order.ErrNotFound.
func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, order.ErrNotFound
	}
	return r.getOne(ctx, r.db, getOrderSQL, id)
}

func (r *OrderRepository) GetByPreferenceID(ctx context.Context, preferenceID string) (*order.Order, error) {
	return r.getOne(ctx, r.db, getOrderByPreferenceSQL, preferenceID)
}

// List returns orders newest first. An empty userID lists every order.
func (r *OrderRepository) List(ctx context.Context, userID string) ([]order.Order, error) {
	rows, err := r.db.Query(ctx, listOrdersSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, fmt.Errorf("scanning orders: %w", err)
	}
	if err := r.attachLines(ctx, r.db, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// Update locks the order row for the duration of fn. It runs in a
// transaction of its own, or in a savepoint when r is already bound to one.
func (r *OrderRepository) Update(ctx context.Context, id string, fn order.UpdateFunc) (*order.Order, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, order.ErrNotFound
	}

	var updated *order.Order
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		o, err := r.getOne(ctx, tx, lockOrderSQL, id)
		if err != nil {
			return err
		}

		changed, err := fn(o)
		if err != nil {
			return err
		}
		updated = o
		if !changed {
			return nil
		}

		_, err = tx.Exec(ctx, updateOrderSQL,
			o.ID, string(o.Status), string(o.PaymentStatus), o.PreferenceID, o.PaymentID, o.PaymentMethod,
			o.TrackingNumber, o.CancellationReason, o.Delivery.Notes, o.EstimatedDelivery,
			o.ShippedAt, o.DeliveredAt, o.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("updating order %q: %w", id, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *OrderRepository) getOne(ctx context.Context, db DBTX, query, arg string) (*order.Order, error) {
	rows, err := db.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", arg, err)
	}

	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", arg, err)
	}

	orders := []order.Order{o}
	if err := r.attachLines(ctx, db, orders); err != nil {
		return nil, err
	}
	return &orders[0], nil
}

func (r *OrderRepository) attachLines(ctx context.Context, db DBTX, orders []order.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]string, len(orders))
	byID := make(map[string]*order.Order, len(orders))
	for i := range orders {
		ids[i] = orders[i].ID
		byID[orders[i].ID] = &orders[i]
	}

	rows, err := db.Query(ctx, listOrderLinesSQL, ids)
	if err != nil {
		return fmt.Errorf("listing order lines: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			orderID string
			l       order.Line
		)
		if err := rows.Scan(&orderID, &l.ID, &l.ProductID, &l.Name, &l.Price, &l.Quantity); err != nil {
			return fmt.Errorf("scanning order line: %w", err)
		}
		if o, ok := byID[orderID]; ok {
			o.Lines = append(o.Lines, l)
		}
	}
	return rows.Err()
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o                            order.Order
		status, paymentStatus, dtype string
	)
	c, d := &o.Customer, &o.Delivery
	err := row.Scan(
		&o.ID, &o.UserID, &status, &paymentStatus, &o.TotalAmount, &o.DiscountAmount, &o.CouponCode,
		&c.FullName, &c.Email, &c.Phone, &c.Address, &c.Apartment, &c.Building,
		&c.ShippingCity, &c.ShippingState, &c.ShippingPostalCode, &c.ShippingCountry, &c.ShippingFullName,
		&dtype, &d.Date, &d.TimeSlot, &d.Notes,
		&o.PreferenceID, &o.PaymentID, &o.PaymentMethod, &o.TrackingNumber, &o.CancellationReason,
		&o.EstimatedDelivery, &o.ShippedAt, &o.DeliveredAt, &o.CreatedAt, &o.UpdatedAt,
	)
	o.Status = order.Status(status)
	o.PaymentStatus = order.PaymentStatus(paymentStatus)
	d.Type = order.DeliveryType(dtype)
	return o, err
}
