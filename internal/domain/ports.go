package domain

import (
	"context"
	"time"
)

// Doc is a document read from or written to a RemoteStore collection.
type Doc struct {
	ID   string
	Data map[string]any
}

type FilterOp string

const (
	OpEqual         FilterOp = "=="
	OpLess          FilterOp = "<"
	OpLessEqual     FilterOp = "<="
	OpGreater       FilterOp = ">"
	OpGreaterEqual  FilterOp = ">="
	OpArrayContains FilterOp = "array-contains"
)

type Filter struct {
	Field string
	Op    FilterOp
	Value any
}

type OrderBy struct {
	Field string
	Desc  bool
}

// Query selects documents of one collection. StartAfter is the id of the last
// document of the previous page.
type Query struct {
	Collection string
	Filters    []Filter
	OrderBy    []OrderBy
	Limit      int
	StartAfter string
}

func Where(field string, op FilterOp, value any) Filter {
	return Filter{Field: field, Op: op, Value: value}
}

type serverTimestamp struct{}

// ServerTimestamp is a field value replaced by the store's commit time.
var ServerTimestamp any = serverTimestamp{}

func IsServerTimestamp(v any) bool {
	_, ok := v.(serverTimestamp)
	return ok
}

// RemoteStore is the document database holding products, categories and orders.
// Get returns ErrNotFound for a missing document.
type RemoteStore interface {
	Query(ctx context.Context, q Query) ([]Doc, error)
	Get(ctx context.Context, collection, id string) (*Doc, error)
	Add(ctx context.Context, collection string, data map[string]any) (string, error)
	Set(ctx context.Context, collection, id string, data map[string]any) error
	Update(ctx context.Context, collection, id string, data map[string]any) error
	Delete(ctx context.Context, collection, id string) error
	RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is a transactional handle. All reads must happen before the first write.
type Tx interface {
	Get(collection, id string) (*Doc, error)
	Set(collection, id string, data map[string]any) error
	Update(collection, id string, data map[string]any) error
	Delete(collection, id string) error
	NewID(collection string) string
}

type StoredImage struct {
	ID          string
	ContentType string
	Size        int64
	// URL is directly displayable: a data URL or a public object URL.
	URL       string
	CreatedAt time.Time
}

// ImageStore keeps product images under generated ids. References are "<Scheme()>://<id>".
type ImageStore interface {
	Scheme() string
	Put(ctx context.Context, id, contentType string, data []byte) error
	Get(ctx context.Context, id string) (*StoredImage, error)
	Delete(ctx context.Context, id string) error
}

// AuthProvider is the remote identity service. OnSessionChange calls fn once
// with the current user as soon as it is registered, then on every change.
type AuthProvider interface {
	SignIn(ctx context.Context, email, password string) (*AuthUser, error)
	SignUp(ctx context.Context, name, email, password string) (*AuthUser, error)
	SignOut(ctx context.Context) error
	Restore(ctx context.Context, idToken string) error
	SendVerificationEmail(ctx context.Context) error
	SendPasswordReset(ctx context.Context, email string) error
	CurrentUser() *AuthUser
	OnSessionChange(fn func(*AuthUser)) (unsubscribe func())
}

// GoogleSignIn is implemented by providers that accept a Google ID token.
type GoogleSignIn interface {
	SignInWithGoogle(ctx context.Context, idToken string) (*AuthUser, error)
}

// KVStore is durable client-local key/value storage.
type KVStore interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Remove(key string) error
}

const (
	KeyCart      = "cart"
	KeyWishlist  = "wishlist"
	KeyAuthToken = "authToken"
)

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Notifier surfaces a message to the shopper. A nil Notifier is a no-op.
type Notifier func(message string, severity Severity)

func (n Notifier) Notify(message string, severity Severity) {
	if n != nil {
		n(message, severity)
	}
}

type OrderNotifier interface {
	OrderPlaced(ctx context.Context, o *Order) error
}
