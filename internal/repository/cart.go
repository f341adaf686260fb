package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/kart-shop/internal/domain/cart"
)

const (
	getCartByUserSQL = `SELECT id, user_id, created_at, updated_at
		FROM carts WHERE user_id = $1`

	lockCartByUserSQL = getCartByUserSQL + ` FOR UPDATE`

	createCartSQL = `INSERT INTO carts (id, user_id) VALUES ($1, $2)
		ON CONFLICT (user_id) DO NOTHING`

	listCartLinesSQL = `SELECT id, product_id, quantity
		FROM cart_lines WHERE cart_id = $1 ORDER BY created_at, id`

	addCartLineSQL = `INSERT INTO cart_lines (id, cart_id, product_id, quantity)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (cart_id, product_id) DO UPDATE SET quantity = cart_lines.quantity + EXCLUDED.quantity
		WHERE cart_lines.quantity + EXCLUDED.quantity <= $5`

	setCartLineQuantitySQL = `UPDATE cart_lines SET quantity = $3 WHERE id = $1 AND cart_id = $2`

	removeCartLineSQL = `DELETE FROM cart_lines WHERE id = $1 AND cart_id = $2`

	clearCartSQL = `DELETE FROM cart_lines WHERE cart_id = $1`

	touchCartSQL = `UPDATE carts SET updated_at = now() WHERE id = $1`
)

var _ cart.Repository = (*CartRepository)(nil)

// CartRepository implements cart.Repository backed by PostgreSQL.
type CartRepository struct {
	db DBTX
}

// NewCartRepository returns a CartRepository that uses the given db.
func NewCartRepository(db DBTX) *CartRepository {
	return &CartRepository{db: db}
}

// GetOrCreate returns the user's cart with its lines, creating an empty cart
// on first access.
func (r *CartRepository) GetOrCreate(ctx context.Context, userID string) (*cart.Cart, error) {
	c, err := r.getCart(ctx, getCartByUserSQL, userID)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, err := r.db.Exec(ctx, createCartSQL, uuid.New(), userID); err != nil {
			return nil, fmt.Errorf("creating cart for %q: %w", userID, err)
		}
		c, err = r.getCart(ctx, getCartByUserSQL, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("getting cart for %q: %w", userID, err)
	}
	return c, nil
}

// Lock returns the user's cart holding a row lock until the surrounding
// transaction ends. A user without a cart gets an empty, unsaved one.
func (r *CartRepository) Lock(ctx context.Context, userID string) (*cart.Cart, error) {
	c, err := r.getCart(ctx, lockCartByUserSQL, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &cart.Cart{UserID: userID}, nil
		}
		return nil, fmt.Errorf("locking cart for %q: %w", userID, err)
	}
	return c, nil
}

// AddLine inserts a line or increments the quantity of the existing line for
// the same product. An increment past cart.MaxLineQuantity is rejected with
// cart.ErrInvalidQuantity and leaves the line unchanged.
func (r *CartRepository) AddLine(ctx context.Context, cartID, productID string, quantity int) error {
	return r.withLockedCart(ctx, cartID, func(db DBTX) error {
		tag, err := db.Exec(ctx, addCartLineSQL, uuid.New(), cartID, productID, quantity, cart.MaxLineQuantity)
		if err != nil {
			return fmt.Errorf("adding %q to cart %q: %w", productID, cartID, err)
		}
		if tag.RowsAffected() == 0 {
			return cart.ErrInvalidQuantity
		}
		return nil
	})
}

func (r *CartRepository) SetLineQuantity(ctx context.Context, cartID, lineID string, quantity int) (bool, error) {
	if _, err := uuid.Parse(lineID); err != nil {
		return false, nil
	}
	var found bool
	err := r.withLockedCart(ctx, cartID, func(db DBTX) error {
		tag, err := db.Exec(ctx, setCartLineQuantitySQL, lineID, cartID, quantity)
		if err != nil {
			return fmt.Errorf("updating cart line %q: %w", lineID, err)
		}
		found = tag.RowsAffected() > 0
		return nil
	})
	return found, err
}

func (r *CartRepository) RemoveLine(ctx context.Context, cartID, lineID string) (bool, error) {
	if _, err := uuid.Parse(lineID); err != nil {
		return false, nil
	}
	var found bool
	err := r.withLockedCart(ctx, cartID, func(db DBTX) error {
		tag, err := db.Exec(ctx, removeCartLineSQL, lineID, cartID)
		if err != nil {
			return fmt.Errorf("removing cart line %q: %w", lineID, err)
		}
		found = tag.RowsAffected() > 0
		return nil
	})
	return found, err
}

// Clear removes every line of the cart. The cart row itself is kept.
func (r *CartRepository) Clear(ctx context.Context, cartID string) error {
	if cartID == "" {
		return nil
	}
	return r.withLockedCart(ctx, cartID, func(db DBTX) error {
		if _, err := db.Exec(ctx, clearCartSQL, cartID); err != nil {
			return fmt.Errorf("clearing cart %q: %w", cartID, err)
		}
		return nil
	})
}

func (r *CartRepository) getCart(ctx context.Context, query, userID string) (*cart.Cart, error) {
	var c cart.Cart
	err := r.db.QueryRow(ctx, query, userID).Scan(&c.ID, &c.UserID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}

	rows, err := r.db.Query(ctx, listCartLinesSQL, c.ID)
	if err != nil {
		return nil, fmt.Errorf("listing lines of cart %q: %w", c.ID, err)
	}
	c.Lines, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (cart.Line, error) {
		var l cart.Line
		err := row.Scan(&l.ID, &l.ProductID, &l.Quantity)
		return l, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning lines of cart %q: %w", c.ID, err)
	}
	return &c, nil
}

// withLockedCart runs fn in a transaction (a savepoint when r.db already is
// one) that starts by touching the cart row. The touch takes the row lock
// that checkout holds with FOR UPDATE, so line writes and checkouts of the
// same cart run one after the other.
func (r *CartRepository) withLockedCart(ctx context.Context, cartID string, fn func(db DBTX) error) error {
	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, touchCartSQL, cartID); err != nil {
			return fmt.Errorf("locking cart %q: %w", cartID, err)
		}
		return fn(tx)
	})
}
