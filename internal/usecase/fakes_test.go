package usecase

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/phenrril/jeanstore/internal/adapters/repo/memory"
	"github.com/phenrril/jeanstore/internal/domain"
)

// spyStore wraps the in-memory store, counting queries and optionally failing
// or blocking them.
type spyStore struct {
	*memory.Store

	queries atomic.Int32
	gets    atomic.Int32

	mu       sync.Mutex
	queryErr error
	addErr   error
	getErr   error
	gate     chan struct{}
	entered  chan struct{}
}

func newSpyStore() *spyStore {
	return &spyStore{Store: memory.New()}
}

func (s *spyStore) failQueries(err error) {
	s.mu.Lock()
	s.queryErr = err
	s.mu.Unlock()
}

// blockQueries makes every Query wait until the returned release func is called.
func (s *spyStore) blockQueries() (entered <-chan struct{}, release func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gate = make(chan struct{})
	s.entered = make(chan struct{}, 16)
	gate := s.gate
	return s.entered, func() { close(gate) }
}

func (s *spyStore) Query(ctx context.Context, q domain.Query) ([]domain.Doc, error) {
	s.queries.Add(1)
	s.mu.Lock()
	err, gate, entered := s.queryErr, s.gate, s.entered
	s.mu.Unlock()
	if gate != nil {
		entered <- struct{}{}
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return s.Store.Query(ctx, q)
}

func (s *spyStore) Get(ctx context.Context, collection, id string) (*domain.Doc, error) {
	s.gets.Add(1)
	s.mu.Lock()
	err := s.getErr
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.Store.Get(ctx, collection, id)
}

func (s *spyStore) Add(ctx context.Context, collection string, data map[string]any) (string, error) {
	s.mu.Lock()
	err := s.addErr
	s.mu.Unlock()
	if err != nil {
		return "", err
	}
	return s.Store.Add(ctx, collection, data)
}

type fakeImages struct {
	scheme string

	mu        sync.Mutex
	puts      int
	images    map[string]domain.StoredImage
	deleteErr error
	deleted   []string
}

func newFakeImages(scheme string) *fakeImages {
	return &fakeImages{scheme: scheme, images: map[string]domain.StoredImage{}}
}

func (f *fakeImages) Scheme() string { return f.scheme }

func (f *fakeImages) Put(ctx context.Context, id, contentType string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts++
	f.images[id] = domain.StoredImage{ID: id, ContentType: contentType, Size: int64(len(data)), URL: "https://img.test/" + id}
	return nil
}

func (f *fakeImages) Get(ctx context.Context, id string) (*domain.StoredImage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	img, ok := f.images[id]
	if !ok {
		return nil, errors.Wrap(domain.ErrNotFound, id)
	}
	return &img, nil
}

func (f *fakeImages) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, id)
	delete(f.images, id)
	return nil
}

type notice struct {
	Message  string
	Severity domain.Severity
}

type notices struct {
	mu   sync.Mutex
	list []notice
}

func (n *notices) notifier() domain.Notifier {
	return func(message string, severity domain.Severity) {
		n.mu.Lock()
		n.list = append(n.list, notice{message, severity})
		n.mu.Unlock()
	}
}

func (n *notices) all() []notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notice(nil), n.list...)
}

func (n *notices) last() notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.list) == 0 {
		return notice{}
	}
	return n.list[len(n.list)-1]
}

type fakeAuth struct{ signedIn atomic.Bool }

func (f *fakeAuth) IsAuthenticated() bool { return f.signedIn.Load() }

type fakeNav struct {
	path      string
	redirects []string
}

func (n *fakeNav) CurrentPath() string { return n.path }
func (n *fakeNav) Redirect(to string)  { n.redirects = append(n.redirects, to) }

// stepClock is a manual clock.
type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func newStepClock() *stepClock {
	return &stepClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *stepClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func jeans() domain.NewProduct {
	return domain.NewProduct{
		Name:        "Slim Fit Jeans",
		Price:       59.99,
		Category:    "Men",
		Subcategory: "Jeans",
		Image:       "/images/slim.jpg",
		Stock:       10,
		Sizes:       []string{"30", "32"},
		Colors:      []domain.Color{{Name: "Indigo", Code: "#3f51b5"}, {Name: "Black", Code: "#111827"}},
	}
}
