package cart

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/kart-shop/internal/domain/product"
)

// Service implements the cart store operations for a single owning user.
type Service struct {
	carts    Repository
	products product.Repository
	cache    Cache
}

// NewService creates a cart Service. A nil cache disables caching.
func NewService(carts Repository, products product.Repository, cache Cache) *Service {
	if cache == nil {
		cache = NopCache{}
	}
	return &Service{
		carts:    carts,
		products: products,
		cache:    cache,
	}
}

// Get returns the user's cart priced against the live catalog, creating an
// empty cart when none exists.
func (s *Service) Get(ctx context.Context, userID string) (*View, error) {
	c, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.price(ctx, c)
}

// AddLine adds quantity of productID to the cart. An existing line for the
// same product is incremented rather than duplicated.
func (s *Service) AddLine(ctx context.Context, userID, productID string, quantity int) (*View, error) {
	if quantity < 1 || quantity > MaxLineQuantity {
		return nil, ErrInvalidQuantity
	}
	if _, err := s.products.GetByID(ctx, productID); err != nil {
		return nil, errors.Wrap(err, "get product")
	}

	c, err := s.carts.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "get cart")
	}
	if err := s.carts.AddLine(ctx, c.ID, productID, quantity); err != nil {
		if errors.Is(err, ErrInvalidQuantity) {
			return nil, ErrInvalidQuantity
		}
		return nil, errors.Wrap(err, "add line")
	}
	return s.refresh(ctx, userID)
}

// SetLineQuantity overwrites a line's quantity; quantity <= 0 removes the line.
func (s *Service) SetLineQuantity(ctx context.Context, userID, lineID string, quantity int) (*View, error) {
	if quantity <= 0 {
		return s.RemoveLine(ctx, userID, lineID)
	}
	if quantity > MaxLineQuantity {
		return nil, ErrInvalidQuantity
	}

	c, err := s.carts.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "get cart")
	}
	found, err := s.carts.SetLineQuantity(ctx, c.ID, lineID, quantity)
	if err != nil {
		return nil, errors.Wrap(err, "set line quantity")
	}
	if !found {
		return nil, ErrLineNotFound
	}
	return s.refresh(ctx, userID)
}

// RemoveLine deletes a line from the user's cart.
func (s *Service) RemoveLine(ctx context.Context, userID, lineID string) (*View, error) {
	c, err := s.carts.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "get cart")
	}
	found, err := s.carts.RemoveLine(ctx, c.ID, lineID)
	if err != nil {
		return nil, errors.Wrap(err, "remove line")
	}
	if !found {
		return nil, ErrLineNotFound
	}
	return s.refresh(ctx, userID)
}

// Clear removes every line. Clearing an empty cart succeeds.
func (s *Service) Clear(ctx context.Context, userID string) (*View, error) {
	c, err := s.carts.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "get cart")
	}
	if err := s.carts.Clear(ctx, c.ID); err != nil {
		return nil, errors.Wrap(err, "clear cart")
	}
	return s.refresh(ctx, userID)
}

// Invalidate drops the cached line set for userID. Checkout calls it after
// the cart has been emptied inside its own transaction.
func (s *Service) Invalidate(ctx context.Context, userID string) {
	if err := s.cache.Delete(ctx, userID); err != nil {
		zctx.From(ctx).Warn("Cart cache delete failed",
			zap.String("user_id", userID),
			zap.Error(err),
		)
	}
}

func (s *Service) refresh(ctx context.Context, userID string) (*View, error) {
	s.Invalidate(ctx, userID)
	return s.Get(ctx, userID)
}

func (s *Service) load(ctx context.Context, userID string) (*Cart, error) {
	lg := zctx.From(ctx)

	c, err := s.cache.Get(ctx, userID)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		lg.Warn("Cart cache read failed", zap.String("user_id", userID), zap.Error(err))
	}

	// The version must be read before the cart so that an edit committed in
	// between makes the Set below fail.
	version, verErr := s.cache.Version(ctx, userID)

	c, err = s.carts.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "get cart")
	}
	if verErr != nil {
		lg.Warn("Cart cache version read failed", zap.String("user_id", userID), zap.Error(verErr))
		return c, nil
	}
	switch err := s.cache.Set(ctx, userID, version, c); {
	case errors.Is(err, ErrCacheStale):
		lg.Debug("Cart changed while loading, not caching", zap.String("user_id", userID))
	case err != nil:
		lg.Warn("Cart cache write failed", zap.String("user_id", userID), zap.Error(err))
	}
	return c, nil
}

// price joins lines with the live catalog. Lines whose product disappeared
// between reads are skipped.
func (s *Service) price(ctx context.Context, c *Cart) (*View, error) {
	v := &View{
		CartID:   c.ID,
		UserID:   c.UserID,
		Lines:    make([]ViewLine, 0, len(c.Lines)),
		Subtotal: decimal.Zero,
	}
	if len(c.Lines) == 0 {
		return v, nil
	}

	ids := make([]string, len(c.Lines))
	for i, l := range c.Lines {
		ids[i] = l.ProductID
	}
	fetched, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products")
	}
	byID := make(map[string]product.Product, len(fetched))
	for _, p := range fetched {
		byID[p.ID] = p
	}

	for _, l := range c.Lines {
		p, ok := byID[l.ProductID]
		if !ok {
			continue
		}
		sub := p.Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
		v.Lines = append(v.Lines, ViewLine{
			Line:      l,
			Name:      p.Name,
			Category:  p.Category,
			UnitPrice: p.Price,
			Subtotal:  sub,
		})
		v.Subtotal = v.Subtotal.Add(sub)
	}
	return v, nil
}
