package cart

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// MaxLineQuantity bounds the quantity of a single cart line.
const MaxLineQuantity = 999

var (
	// ErrLineNotFound is returned when a line does not exist in the caller's cart.
	// Lines owned by other users are reported the same way.
	ErrLineNotFound = errors.New("cart line not found")
	// ErrInvalidQuantity is returned when a line would end up with a quantity
	// outside 1..MaxLineQuantity.
	ErrInvalidQuantity = errors.New("quantity must be between 1 and 999")
	// ErrCacheMiss is returned by Cache implementations when no entry exists.
	ErrCacheMiss = errors.New("cart cache miss")
	// ErrCacheStale is returned by Cache.Set when the entry was invalidated
	// after the version passed to Set was read.
	ErrCacheStale = errors.New("cart cache entry is stale")
)

// Cart is a per-user line collection, created lazily on first access.
type Cart struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Lines     []Line    `json:"lines"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Line is a (product, quantity) entry. There is at most one line per product.
type Line struct {
	ID        string `json:"id"`
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// View is a cart priced against the live catalog.
type View struct {
	CartID   string
	UserID   string
	Lines    []ViewLine
	Subtotal decimal.Decimal
}

// ViewLine is a cart line joined with its current product data.
type ViewLine struct {
	Line
	Name      string
	Category  string
	UnitPrice decimal.Decimal
	Subtotal  decimal.Decimal
}

// IsEmpty reports whether the view has no lines.
func (v *View) IsEmpty() bool {
	return len(v.Lines) == 0
}

// Repository persists carts and their lines. Every line operation is scoped
// to cartID so lines of other carts are never touched.
//
// Line writes hold the cart row lock that checkout takes, so an edit either
// lands before a checkout snapshot or after the cart was cleared.
type Repository interface {
	GetOrCreate(ctx context.Context, userID string) (*Cart, error)
	// AddLine returns ErrInvalidQuantity when the line would exceed
	// MaxLineQuantity.
	AddLine(ctx context.Context, cartID, productID string, quantity int) error
	// SetLineQuantity overwrites a line's quantity and reports whether the
	// line existed.
	SetLineQuantity(ctx context.Context, cartID, lineID string, quantity int) (bool, error)
	// RemoveLine deletes a line and reports whether it existed.
	RemoveLine(ctx context.Context, cartID, lineID string) (bool, error)
	Clear(ctx context.Context, cartID string) error
}

// Cache holds the line set of a user's cart. Prices are never cached.
//
// Every Delete advances the user's version. Set stores an entry only while
// the version still equals the one read before the cart was loaded, so a
// read that overlaps an edit cannot put the old line set back.
type Cache interface {
	Version(ctx context.Context, userID string) (int64, error)
	Get(ctx context.Context, userID string) (*Cart, error)
	Set(ctx context.Context, userID string, version int64, c *Cart) error
	Delete(ctx context.Context, userID string) error
}

// NopCache is a Cache that never stores anything.
type NopCache struct{}

func (NopCache) Version(context.Context, string) (int64, error) { return 0, nil }

func (NopCache) Get(context.Context, string) (*Cart, error) { return nil, ErrCacheMiss }

func (NopCache) Set(context.Context, string, int64, *Cart) error { return nil }

func (NopCache) Delete(context.Context, string) error { return nil }
