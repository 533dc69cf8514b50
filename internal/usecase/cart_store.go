package usecase

import (
	"encoding/json"
	"net/url"
	"strings"
	"sync"

	"github.com/pkg/errors"
	zlog "github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/phenrril/jeanstore/internal/domain"
)

const (
	DefaultLoginRoute = "/login"
	cartSchemaVersion = 1
)

// Authenticator answers whether a shopper is signed in. AuthSession implements it.
type Authenticator interface {
	IsAuthenticated() bool
}

type Navigator interface {
	CurrentPath() string
	Redirect(to string)
}

type CartOption func(*CartStore)

func WithLoginRoute(route string) CartOption {
	return func(s *CartStore) {
		if route = strings.TrimSpace(route); route != "" {
			s.loginRoute = route
		}
	}
}

// CartStore holds the shopper's cart and wishlist. Adding to the cart and
// toggling the wishlist require a signed-in shopper; anonymous callers are
// sent to the login route instead.
//
// Nothing is written to the KV store until Load has run, so a fresh store
// never overwrites what a previous session saved.
type CartStore struct {
	auth       Authenticator
	nav        Navigator
	kv         domain.KVStore
	notify     domain.Notifier
	loginRoute string

	mu       sync.RWMutex
	items    []domain.CartItem
	wishlist []domain.Product
	loaded   bool
}

func NewCartStore(auth Authenticator, nav Navigator, kv domain.KVStore, notify domain.Notifier, opts ...CartOption) *CartStore {
	s := &CartStore{
		auth:       auth,
		nav:        nav,
		kv:         kv,
		notify:     notify,
		loginRoute: DefaultLoginRoute,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

type persisted[T any] struct {
	SchemaVersion int `json:"schemaVersion"`
	Items         []T `json:"items"`
}

// Load reads the saved cart and wishlist once. Unreadable payloads are
// discarded with a warning to the shopper; bare arrays from older builds are
// upgraded and written back.
func (s *CartStore) Load() error {
	s.mu.Lock()
	if s.loaded {
		s.mu.Unlock()
		return nil
	}
	items, cartReset, cartMigrated, err := loadList[domain.CartItem](s.kv, domain.KeyCart)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	wish, wishReset, wishMigrated, err := loadList[domain.Product](s.kv, domain.KeyWishlist)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.items = sanitizeCart(items)
	s.wishlist = sanitizeWishlist(wish)
	s.loaded = true
	if cartReset || cartMigrated {
		s.persistCartLocked()
	}
	if wishReset || wishMigrated {
		s.persistWishlistLocked()
	}
	s.mu.Unlock()

	if cartReset || wishReset {
		s.notify.Notify("Your saved cart data could not be read and was reset", domain.SeverityWarning)
	}
	return nil
}

func (s *CartStore) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded
}

func loadList[T any](kv domain.KVStore, key string) (list []T, reset, migrated bool, err error) {
	if kv == nil {
		return nil, false, false, nil
	}
	raw, ok, err := kv.Get(key)
	if err != nil {
		return nil, false, false, errors.Wrapf(err, "read %s", key)
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return nil, false, false, nil
	}
	list, migrated, err = decodeList[T](raw)
	if err != nil {
		zlog.Warn().Err(err).Str("key", key).Msg("discarding unreadable saved state")
		return nil, true, false, nil
	}
	return list, false, migrated, nil
}

func decodeList[T any](raw string) ([]T, bool, error) {
	raw = strings.TrimSpace(raw)
	switch {
	case strings.HasPrefix(raw, "["):
		var legacy []T
		if err := json.Unmarshal([]byte(raw), &legacy); err != nil {
			return nil, false, errors.Wrap(err, "decode legacy payload")
		}
		return legacy, true, nil
	case strings.HasPrefix(raw, "{"):
		var p persisted[T]
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, false, errors.Wrap(err, "decode payload")
		}
		if p.SchemaVersion != cartSchemaVersion {
			return nil, false, errors.Errorf("unsupported schema version %d", p.SchemaVersion)
		}
		return p.Items, false, nil
	}
	return nil, false, errors.New("payload is neither an array nor an object")
}

func sanitizeCart(items []domain.CartItem) []domain.CartItem {
	out := make([]domain.CartItem, 0, len(items))
	for _, it := range items {
		if it.Product.ID == "" {
			continue
		}
		if it.Quantity < 1 {
			it.Quantity = 1
		}
		out = append(out, it)
	}
	return out
}

func sanitizeWishlist(list []domain.Product) []domain.Product {
	out := make([]domain.Product, 0, len(list))
	seen := map[string]struct{}{}
	for _, p := range list {
		if p.ID == "" {
			continue
		}
		if _, dup := seen[p.ID]; dup {
			continue
		}
		seen[p.ID] = struct{}{}
		out = append(out, p)
	}
	return out
}

func (s *CartStore) persistCartLocked() {
	if !s.loaded {
		return
	}
	save(s.kv, domain.KeyCart, persisted[domain.CartItem]{SchemaVersion: cartSchemaVersion, Items: s.items})
}

func (s *CartStore) persistWishlistLocked() {
	if !s.loaded {
		return
	}
	save(s.kv, domain.KeyWishlist, persisted[domain.Product]{SchemaVersion: cartSchemaVersion, Items: s.wishlist})
}

func save[T any](kv domain.KVStore, key string, p persisted[T]) {
	if kv == nil {
		return
	}
	if p.Items == nil {
		p.Items = []T{}
	}
	b, err := json.Marshal(p)
	if err != nil {
		zlog.Error().Err(err).Str("key", key).Msg("encode saved state")
		return
	}
	if err := kv.Set(key, string(b)); err != nil {
		zlog.Warn().Err(err).Str("key", key).Msg("persist saved state")
	}
}

// requireAuth redirects anonymous shoppers to the login route, carrying the
// current path so they come back to it.
func (s *CartStore) requireAuth(message string) bool {
	if s.auth != nil && s.auth.IsAuthenticated() {
		return true
	}
	s.notify.Notify(message, domain.SeverityWarning)
	if s.nav == nil {
		zlog.Warn().Msg("cart: no navigator to redirect to login")
		return false
	}
	s.nav.Redirect(s.loginRoute + "?redirect=" + url.QueryEscape(s.nav.CurrentPath()))
	return false
}

// AddToCart adds quantity units of the product's (size, color) variant. An
// empty size or nil color falls back to the product's first declared one.
// Stock is not checked here.
func (s *CartStore) AddToCart(p domain.Product, quantity int, size string, color *domain.Color) bool {
	if !s.requireAuth("Please sign in to add items to your cart") {
		return false
	}
	if quantity < 1 {
		quantity = 1
	}
	if size == "" {
		size = p.FirstSize()
	}
	if color == nil {
		color = p.FirstColor()
	} else {
		c := *color
		color = &c
	}
	colorCode := ""
	if color != nil {
		colorCode = color.Code
	}

	s.mu.Lock()
	merged := false
	for i := range s.items {
		if s.items[i].Matches(p.ID, size, colorCode) {
			s.items[i].Quantity += quantity
			merged = true
			break
		}
	}
	if !merged {
		s.items = append(s.items, domain.CartItem{Product: p.Clone(), Quantity: quantity, Size: size, Color: color})
	}
	s.persistCartLocked()
	s.mu.Unlock()

	s.notify.Notify(p.Name+" added to cart", domain.SeveritySuccess)
	return true
}

// RemoveFromCart drops every line of the product, whatever its size or color.
func (s *CartStore) RemoveFromCart(productID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.items[:0]
	for _, it := range s.items {
		if it.Product.ID != productID {
			kept = append(kept, it)
		}
	}
	s.items = kept
	s.persistCartLocked()
}

// RemoveVariant drops only the line with the given identity key.
func (s *CartStore) RemoveVariant(productID, size, colorCode string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, it := range s.items {
		if it.Matches(productID, size, colorCode) {
			s.items = append(s.items[:i], s.items[i+1:]...)
			s.persistCartLocked()
			return true
		}
	}
	return false
}

// UpdateCartItemQuantity sets the quantity of the first line of the product, never below 1.
func (s *CartStore) UpdateCartItemQuantity(productID string, quantity int) {
	if quantity < 1 {
		quantity = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.items {
		if s.items[i].Product.ID == productID {
			s.items[i].Quantity = quantity
			s.persistCartLocked()
			return
		}
	}
}

func (s *CartStore) ClearCart() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = nil
	s.persistCartLocked()
}

func (s *CartStore) ToggleWishlist(p domain.Product) bool {
	if !s.requireAuth("Please sign in to use your wishlist") {
		return false
	}
	s.mu.Lock()
	removed := false
	for i, w := range s.wishlist {
		if w.ID == p.ID {
			s.wishlist = append(s.wishlist[:i], s.wishlist[i+1:]...)
			removed = true
			break
		}
	}
	if !removed {
		s.wishlist = append(s.wishlist, p.Clone())
	}
	s.persistWishlistLocked()
	s.mu.Unlock()

	if removed {
		s.notify.Notify(p.Name+" removed from wishlist", domain.SeveritySuccess)
	} else {
		s.notify.Notify(p.Name+" added to wishlist", domain.SeveritySuccess)
	}
	return true
}

func (s *CartStore) InWishlist(productID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, w := range s.wishlist {
		if w.ID == productID {
			return true
		}
	}
	return false
}

// CartTotal sums price times quantity, rounded to cents.
func (s *CartStore) CartTotal() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := decimal.Zero
	for _, it := range s.items {
		total = total.Add(decimal.NewFromFloat(it.Product.Price).Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	f, _ := total.Round(2).Float64()
	return f
}

func (s *CartStore) CartCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, it := range s.items {
		n += it.Quantity
	}
	return n
}

func (s *CartStore) Items() []domain.CartItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.CartItem, len(s.items))
	for i, it := range s.items {
		it.Product = it.Product.Clone()
		if it.Color != nil {
			c := *it.Color
			it.Color = &c
		}
		out[i] = it
	}
	return out
}

func (s *CartStore) Wishlist() []domain.Product {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneProducts(s.wishlist)
}
