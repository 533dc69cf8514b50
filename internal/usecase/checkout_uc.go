package usecase

import (
	"context"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/phenrril/jeanstore/internal/domain"
)

var (
	emailRe = regexp.MustCompile(`^[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}$`)
	phoneRe = regexp.MustCompile(`^\+?[0-9()\-\s]{6,20}$`)
)

// SessionReader is the part of AuthSession checkout needs.
type SessionReader interface {
	CurrentUser() *domain.User
}

// CheckoutUC places orders. It writes exactly one order per call and never
// retries; clearing the cart afterwards is up to the caller.
type CheckoutUC struct {
	Store    domain.RemoteStore
	Session  SessionReader
	Notifier domain.OrderNotifier
	Now      func() time.Time
}

func (uc *CheckoutUC) now() time.Time {
	if uc.Now != nil {
		return uc.Now().UTC()
	}
	return time.Now().UTC()
}

func (uc *CheckoutUC) sessionUser(userID string) (*domain.User, error) {
	var u *domain.User
	if uc.Session != nil {
		u = uc.Session.CurrentUser()
	}
	if u == nil {
		return nil, domain.ErrAuthRequired
	}
	if userID != "" && userID != u.ID {
		return nil, errors.Wrap(domain.ErrAuthRequired, "session belongs to another user")
	}
	return u, nil
}

func (uc *CheckoutUC) ProcessCheckout(ctx context.Context, userID string, items []domain.CartItem, ship domain.Shipping, totalAmount float64) (*domain.Order, error) {
	u, err := uc.sessionUser(userID)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, domain.Invalid("items", "cart is empty")
	}
	if math.IsNaN(totalAmount) || math.IsInf(totalAmount, 0) || totalAmount < 0 {
		return nil, domain.Invalid("totalAmount", "must not be negative")
	}
	ship = trimShipping(ship)
	if err := validateShipping(ship); err != nil {
		return nil, err
	}

	order := domain.Order{
		UserID:      u.ID,
		Items:       make([]domain.OrderItem, 0, len(items)),
		TotalAmount: totalAmount,
		Shipping:    ship,
		Status:      domain.OrderStatusPending,
	}
	for _, it := range items {
		if it.Product.ID == "" {
			return nil, domain.Invalid("items", "contains a product without id")
		}
		if it.Quantity < 1 {
			return nil, domain.Invalid("items", "quantity must be at least 1")
		}
		order.Items = append(order.Items, it.ToOrderItem())
	}

	id, err := uc.Store.Add(ctx, domain.OrdersCollection, domain.OrderToDoc(order))
	if err != nil {
		zlog.Error().Err(err).Str("user", u.ID).Msg("order not placed")
		return nil, errors.Wrap(err, "place order")
	}
	order.ID = id
	if doc, err := uc.Store.Get(ctx, domain.OrdersCollection, id); err == nil {
		order = domain.OrderFromDoc(*doc)
	} else {
		zlog.Warn().Err(err).Str("order", id).Msg("placed order not read back")
		order.CreatedAt = uc.now()
		order.UpdatedAt = order.CreatedAt
	}
	zlog.Info().Str("order", id).Str("user", u.ID).Int("items", len(order.Items)).Float64("total", order.TotalAmount).Msg("order placed")

	if uc.Notifier != nil {
		if err := uc.Notifier.OrderPlaced(ctx, &order); err != nil {
			zlog.Warn().Err(err).Str("order", id).Msg("order confirmation not sent")
		}
	}
	return &order, nil
}

// Orders lists the user's orders, newest first.
func (uc *CheckoutUC) Orders(ctx context.Context, userID string) ([]domain.Order, error) {
	u, err := uc.sessionUser(userID)
	if err != nil {
		return nil, err
	}
	docs, err := uc.Store.Query(ctx, domain.Query{
		Collection: domain.OrdersCollection,
		Filters:    []domain.Filter{domain.Where("userId", domain.OpEqual, u.ID)},
	})
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	out := make([]domain.Order, 0, len(docs))
	for _, d := range docs {
		out = append(out, domain.OrderFromDoc(d))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Order returns one of the session user's orders. Orders of other users are reported as not found.
func (uc *CheckoutUC) Order(ctx context.Context, id string) (*domain.Order, error) {
	u, err := uc.sessionUser("")
	if err != nil {
		return nil, err
	}
	doc, err := uc.Store.Get(ctx, domain.OrdersCollection, id)
	if err != nil {
		return nil, errors.Wrapf(err, "order %s", id)
	}
	o := domain.OrderFromDoc(*doc)
	if o.UserID != u.ID {
		return nil, errors.Wrapf(domain.ErrNotFound, "order %s", id)
	}
	return &o, nil
}

func trimShipping(s domain.Shipping) domain.Shipping {
	s.FullName = strings.TrimSpace(s.FullName)
	s.Email = strings.TrimSpace(s.Email)
	s.Phone = strings.TrimSpace(s.Phone)
	s.Address = strings.TrimSpace(s.Address)
	s.City = strings.TrimSpace(s.City)
	s.State = strings.TrimSpace(s.State)
	s.PostalCode = strings.TrimSpace(s.PostalCode)
	s.Country = strings.TrimSpace(s.Country)
	s.Notes = strings.TrimSpace(s.Notes)
	return s
}

func validateShipping(s domain.Shipping) error {
	required := []struct{ field, value string }{
		{"fullName", s.FullName},
		{"email", s.Email},
		{"phone", s.Phone},
		{"address", s.Address},
		{"city", s.City},
		{"postalCode", s.PostalCode},
		{"country", s.Country},
	}
	for _, r := range required {
		if r.value == "" {
			return domain.Invalid(r.field, "is required")
		}
	}
	if !emailRe.MatchString(s.Email) {
		return domain.Invalid("email", "is not a valid address")
	}
	if !phoneRe.MatchString(s.Phone) {
		return domain.Invalid("phone", "is not a valid number")
	}
	return nil
}
