package order

import (
	"context"
	"math"

	"github.com/xenking/kart-orders/internal/domain/auth"
)

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// ListParams selects a page of the admin listing. Page is 1-based.
type ListParams struct {
	Page   int
	Limit  int
	Status string
}

// Page is one page of the admin listing.
type Page struct {
	Orders []Order
	Page   int
	Limit  int
	Total  int
	Pages  int
}

// ListOwn returns the caller's orders, newest first.
func (s *Service) ListOwn(ctx context.Context, p auth.Principal) ([]Order, error) {
	if p.ID == "" {
		return nil, auth.ErrUnauthorized
	}
	orders, err := s.orders.ListByOwner(ctx, p.ID)
	if err != nil {
		return nil, persistence("list own orders", err)
	}
	return orders, nil
}

// GetByID returns an order to its owner or to an admin.
func (s *Service) GetByID(ctx context.Context, p auth.Principal, id string) (*Order, error) {
	if p.ID == "" {
		return nil, auth.ErrUnauthorized
	}
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, persistence("get order", err)
	}
	if !o.Visible() {
		return nil, ErrNotFound
	}
	if o.OwnerID != p.ID && !p.IsAdmin {
		return nil, ErrForbidden
	}
	return o, nil
}

// ListAll returns a page of all visible orders. Admin only.
func (s *Service) ListAll(ctx context.Context, p auth.Principal, params ListParams) (*Page, error) {
	if p.ID == "" {
		return nil, auth.ErrUnauthorized
	}
	if !p.IsAdmin {
		return nil, ErrForbidden
	}

	page := params.Page
	if page < 1 {
		page = 1
	}
	limit := params.Limit
	switch {
	case limit <= 0:
		limit = DefaultPageLimit
	case limit > MaxPageLimit:
		limit = MaxPageLimit
	}

	if page-1 > math.MaxInt32/limit {
		return nil, &ValidationError{Field: "page", Reason: "out of range"}
	}

	f := ListFilter{Offset: (page - 1) * limit, Limit: limit}
	if params.Status != "" {
		st, err := ParseStatus(params.Status)
		if err != nil {
			return nil, err
		}
		f.Status = st
	}

	orders, total, err := s.orders.List(ctx, f)
	if err != nil {
		return nil, persistence("list orders", err)
	}
	return &Page{
		Orders: orders,
		Page:   page,
		Limit:  limit,
		Total:  total,
		Pages:  (total + limit - 1) / limit,
	}, nil
}
