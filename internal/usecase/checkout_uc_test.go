package usecase

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phenrril/jeanstore/internal/domain"
)

type staticSession struct{ user *domain.User }

func (s *staticSession) CurrentUser() *domain.User { return s.user }

type spyOrderNotifier struct {
	err    error
	placed []domain.Order
}

func (n *spyOrderNotifier) OrderPlaced(ctx context.Context, o *domain.Order) error {
	n.placed = append(n.placed, *o)
	return n.err
}

func validShipping() domain.Shipping {
	return domain.Shipping{
		FullName:   " Ana Perez ",
		Email:      "ana@example.com",
		Phone:      "+54 11 5555-1234",
		Address:    "Av. Siempre Viva 742",
		City:       "Rosario",
		PostalCode: "2000",
		Country:    "AR",
	}
}

func cartLines() []domain.CartItem {
	black := domain.Color{Name: "Black", Code: "#111827"}
	return []domain.CartItem{
		{Product: product("p1", 59.99), Quantity: 2, Size: "32", Color: &black},
		{Product: product("p2", 19.99), Quantity: 1, Size: "M"},
	}
}

func newCheckout(t *testing.T) (*CheckoutUC, *spyStore, *staticSession, *spyOrderNotifier) {
	t.Helper()
	store := newSpyStore()
	clock := newStepClock()
	store.Store.WithClock(clock.Now)
	sess := &staticSession{user: &domain.User{ID: "u1", Email: "ana@example.com"}}
	mail := &spyOrderNotifier{}
	return &CheckoutUC{Store: store, Session: sess, Notifier: mail, Now: clock.Now}, store, sess, mail
}

func TestCheckout_PlacesPendingOrder(t *testing.T) {
	uc, store, _, mail := newCheckout(t)

	o, err := uc.ProcessCheckout(context.Background(), "u1", cartLines(), validShipping(), 139.97)
	require.NoError(t, err)

	assert.NotEmpty(t, o.ID)
	assert.Equal(t, "u1", o.UserID)
	assert.Equal(t, domain.OrderStatusPending, o.Status)
	assert.Equal(t, 139.97, o.TotalAmount)
	assert.Equal(t, "Ana Perez", o.Shipping.FullName, "shipping fields are trimmed")
	assert.False(t, o.CreatedAt.IsZero(), "timestamps come from the store")
	require.Len(t, o.Items, 2)
	assert.Equal(t, domain.OrderItem{ProductID: "p1", Name: "Jeans p1", Price: 59.99, Quantity: 2, Size: "32", Color: "Black"}, o.Items[0])
	assert.Empty(t, o.Items[1].Color)

	assert.Equal(t, 1, store.Len(domain.OrdersCollection))
	require.Len(t, mail.placed, 1)
	assert.Equal(t, o.ID, mail.placed[0].ID)
}

func TestCheckout_RequiresMatchingSession(t *testing.T) {
	uc, store, sess, _ := newCheckout(t)
	ctx := context.Background()

	_, err := uc.ProcessCheckout(ctx, "someone-else", cartLines(), validShipping(), 10)
	assert.ErrorIs(t, err, domain.ErrAuthRequired)

	sess.user = nil
	_, err = uc.ProcessCheckout(ctx, "u1", cartLines(), validShipping(), 10)
	assert.ErrorIs(t, err, domain.ErrAuthRequired)
	assert.Zero(t, store.Len(domain.OrdersCollection))
}

func TestCheckout_Validation(t *testing.T) {
	uc, store, _, _ := newCheckout(t)
	ctx := context.Background()

	cases := map[string]struct {
		items []domain.CartItem
		ship  func(*domain.Shipping)
		total float64
	}{
		"empty cart":     {items: nil, total: 10},
		"negative total": {items: cartLines(), total: -1},
		"nan total":      {items: cartLines(), total: math.NaN()},
		"blank name":     {items: cartLines(), ship: func(s *domain.Shipping) { s.FullName = "   " }, total: 10},
		"missing city":   {items: cartLines(), ship: func(s *domain.Shipping) { s.City = "" }, total: 10},
		"bad email":      {items: cartLines(), ship: func(s *domain.Shipping) { s.Email = "ana@" }, total: 10},
		"bad phone":      {items: cartLines(), ship: func(s *domain.Shipping) { s.Phone = "call me" }, total: 10},
		"zero quantity":  {items: []domain.CartItem{{Product: product("p1", 1), Quantity: 0}}, total: 10},
		"no product id":  {items: []domain.CartItem{{Product: domain.Product{Name: "x"}, Quantity: 1}}, total: 10},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			ship := validShipping()
			if tc.ship != nil {
				tc.ship(&ship)
			}
			_, err := uc.ProcessCheckout(ctx, "u1", tc.items, ship, tc.total)
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}
	assert.Zero(t, store.Len(domain.OrdersCollection))
}

func TestCheckout_OrderIsASnapshot(t *testing.T) {
	uc, store, _, _ := newCheckout(t)
	ctx := context.Background()

	catalog := &ProductUC{Store: store, Cache: NewProductCache(store)}
	p, err := catalog.Add(ctx, jeans())
	require.NoError(t, err)

	o, err := uc.ProcessCheckout(ctx, "u1", []domain.CartItem{{Product: *p, Quantity: 1, Size: "30"}}, validShipping(), p.Price)
	require.NoError(t, err)

	price := 1.0
	_, err = catalog.Update(ctx, p.ID, domain.ProductPatch{Price: &price})
	require.NoError(t, err)
	require.NoError(t, catalog.Remove(ctx, p.ID))

	again, err := uc.Order(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, again.Items, 1)
	assert.Equal(t, 59.99, again.Items[0].Price)
	assert.Equal(t, "Slim Fit Jeans", again.Items[0].Name)
}

func TestCheckout_NotifierFailureIsTolerated(t *testing.T) {
	uc, _, _, mail := newCheckout(t)
	mail.err = domain.Remote("sendgrid", errors.New("503"))

	o, err := uc.ProcessCheckout(context.Background(), "u1", cartLines(), validShipping(), 10)
	require.NoError(t, err)
	assert.NotEmpty(t, o.ID)
}

func TestCheckout_StoreFailure(t *testing.T) {
	uc, store, _, mail := newCheckout(t)
	store.addErr = domain.Remote("orders.add", errors.New("unavailable"))

	_, err := uc.ProcessCheckout(context.Background(), "u1", cartLines(), validShipping(), 10)
	assert.ErrorIs(t, err, domain.ErrRemoteUnavailable)
	assert.Empty(t, mail.placed)
}

func TestCheckout_ReadBackFailureFallsBackToClock(t *testing.T) {
	uc, store, _, _ := newCheckout(t)
	store.getErr = domain.Remote("orders.get", errors.New("timeout"))

	o, err := uc.ProcessCheckout(context.Background(), "u1", cartLines(), validShipping(), 10)
	require.NoError(t, err)
	assert.Equal(t, uc.Now().UTC(), o.CreatedAt)
	assert.Equal(t, "u1", o.UserID)
}

func TestCheckout_OrdersBelongToTheirUser(t *testing.T) {
	uc, store, sess, _ := newCheckout(t)
	ctx := context.Background()
	clock := newStepClock()
	store.Store.WithClock(clock.Now)

	first, err := uc.ProcessCheckout(ctx, "u1", cartLines(), validShipping(), 10)
	require.NoError(t, err)
	clock.Advance(time.Minute)
	second, err := uc.ProcessCheckout(ctx, "u1", cartLines(), validShipping(), 20)
	require.NoError(t, err)

	sess.user = &domain.User{ID: "u2"}
	other, err := uc.ProcessCheckout(ctx, "u2", cartLines(), validShipping(), 30)
	require.NoError(t, err)

	mine, err := uc.Orders(ctx, "u2")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, other.ID, mine[0].ID)

	_, err = uc.Order(ctx, first.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	sess.user = &domain.User{ID: "u1"}
	mine, err = uc.Orders(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{second.ID, first.ID}, []string{mine[0].ID, mine[1].ID})

	_, err = uc.Orders(ctx, "u2")
	assert.ErrorIs(t, err, domain.ErrAuthRequired)
}
