package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/phenrril/jeanstore/internal/domain"
)

// Store is an in-process RemoteStore. Writes and transactions are serialized;
// a transaction function must not call back into the Store's own write methods.
type Store struct {
	writeMu sync.Mutex
	mu      sync.RWMutex
	cols    map[string]map[string]map[string]any
	now     func() time.Time
}

func New() *Store {
	return &Store{cols: map[string]map[string]map[string]any{}, now: time.Now}
}

// WithClock replaces the clock used for ServerTimestamp fields.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) Query(ctx context.Context, q domain.Query) ([]domain.Doc, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.Remote("memory.query", err)
	}
	s.mu.RLock()
	var docs []domain.Doc
	for id, data := range s.cols[q.Collection] {
		if !matchesAll(data, q.Filters) {
			continue
		}
		docs = append(docs, domain.Doc{ID: id, Data: cloneMap(data)})
	}
	s.mu.RUnlock()

	sortDocs(docs, q.OrderBy)

	if q.StartAfter != "" {
		idx := -1
		for i, d := range docs {
			if d.ID == q.StartAfter {
				idx = i
				break
			}
		}
		if idx < 0 {
			return []domain.Doc{}, nil
		}
		docs = docs[idx+1:]
	}
	if q.Limit > 0 && len(docs) > q.Limit {
		docs = docs[:q.Limit]
	}
	return docs, nil
}

func (s *Store) Get(ctx context.Context, collection, id string) (*domain.Doc, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.Remote("memory.get", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.cols[collection][id]
	if !ok {
		return nil, errors.Wrapf(domain.ErrNotFound, "%s/%s", collection, id)
	}
	return &domain.Doc{ID: id, Data: cloneMap(data)}, nil
}

func (s *Store) Add(ctx context.Context, collection string, data map[string]any) (string, error) {
	id := uuid.NewString()
	if err := s.Set(ctx, collection, id, data); err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) Set(ctx context.Context, collection, id string, data map[string]any) error {
	if err := ctx.Err(); err != nil {
		return domain.Remote("memory.set", err)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(collection, id, s.resolve(data))
	return nil
}

func (s *Store) Update(ctx context.Context, collection, id string, data map[string]any) error {
	if err := ctx.Err(); err != nil {
		return domain.Remote("memory.update", err)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.cols[collection][id]
	if !ok {
		return errors.Wrapf(domain.ErrNotFound, "%s/%s", collection, id)
	}
	for k, v := range s.resolve(data) {
		cur[k] = v
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	if err := ctx.Err(); err != nil {
		return domain.Remote("memory.delete", err)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cols[collection], id)
	return nil
}

func (s *Store) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return domain.Remote("memory.transaction", err)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx := &txn{store: s, staged: map[string]*stagedWrite{}}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range tx.order {
		w := tx.staged[key]
		if w.deleted {
			delete(s.cols[w.collection], w.id)
			continue
		}
		s.put(w.collection, w.id, s.resolve(w.data))
	}
	return nil
}

// Len reports the number of documents in a collection.
func (s *Store) Len(collection string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cols[collection])
}

func (s *Store) put(collection, id string, data map[string]any) {
	col, ok := s.cols[collection]
	if !ok {
		col = map[string]map[string]any{}
		s.cols[collection] = col
	}
	col[id] = data
}

func (s *Store) resolve(data map[string]any) map[string]any {
	out := cloneMap(data)
	for k, v := range out {
		if domain.IsServerTimestamp(v) {
			out[k] = s.now().UTC()
		}
	}
	return out
}

type stagedWrite struct {
	collection string
	id         string
	data       map[string]any
	deleted    bool
}

type txn struct {
	store   *Store
	staged  map[string]*stagedWrite
	order   []string
	written bool
}

func (t *txn) Get(collection, id string) (*domain.Doc, error) {
	if t.written {
		return nil, errors.New("memory: read after write in transaction")
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	data, ok := t.store.cols[collection][id]
	if !ok {
		return nil, errors.Wrapf(domain.ErrNotFound, "%s/%s", collection, id)
	}
	return &domain.Doc{ID: id, Data: cloneMap(data)}, nil
}

func (t *txn) Set(collection, id string, data map[string]any) error {
	t.stage(&stagedWrite{collection: collection, id: id, data: cloneMap(data)})
	return nil
}

func (t *txn) Update(collection, id string, data map[string]any) error {
	key := collection + "/" + id
	var base map[string]any
	if w, ok := t.staged[key]; ok {
		if w.deleted {
			return errors.Wrapf(domain.ErrNotFound, "%s", key)
		}
		base = cloneMap(w.data)
	} else {
		t.store.mu.RLock()
		cur, ok := t.store.cols[collection][id]
		if ok {
			base = cloneMap(cur)
		}
		t.store.mu.RUnlock()
		if !ok {
			return errors.Wrapf(domain.ErrNotFound, "%s", key)
		}
	}
	for k, v := range data {
		base[k] = cloneValue(v)
	}
	t.stage(&stagedWrite{collection: collection, id: id, data: base})
	return nil
}

func (t *txn) Delete(collection, id string) error {
	t.stage(&stagedWrite{collection: collection, id: id, deleted: true})
	return nil
}

func (t *txn) NewID(string) string { return uuid.NewString() }

func (t *txn) stage(w *stagedWrite) {
	t.written = true
	key := w.collection + "/" + w.id
	if _, ok := t.staged[key]; !ok {
		t.order = append(t.order, key)
	}
	t.staged[key] = w
}

func matchesAll(data map[string]any, filters []domain.Filter) bool {
	for _, f := range filters {
		if !matches(data[f.Field], f) {
			return false
		}
	}
	return true
}

func matches(v any, f domain.Filter) bool {
	switch f.Op {
	case domain.OpArrayContains:
		for _, el := range toSlice(v) {
			if compare(el, f.Value) == 0 {
				return true
			}
		}
		return false
	case domain.OpEqual:
		return v != nil && compare(v, f.Value) == 0
	}
	if v == nil {
		return false
	}
	c := compare(v, f.Value)
	switch f.Op {
	case domain.OpLess:
		return c < 0
	case domain.OpLessEqual:
		return c <= 0
	case domain.OpGreater:
		return c > 0
	case domain.OpGreaterEqual:
		return c >= 0
	}
	return false
}

func toSlice(v any) []any {
	switch t := v.(type) {
	case []any:
		return t
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out
	}
	return nil
}

func compare(a, b any) int {
	switch av := a.(type) {
	case string:
		bs, _ := b.(string)
		return strings.Compare(av, bs)
	case bool:
		bb, _ := b.(bool)
		switch {
		case av == bb:
			return 0
		case !av:
			return -1
		}
		return 1
	case time.Time:
		bt := domain.AsTime(b)
		switch {
		case av.Before(bt):
			return -1
		case av.After(bt):
			return 1
		}
		return 0
	}
	af, bf := domain.AsFloat(a), domain.AsFloat(b)
	switch {
	case af < bf:
		return -1
	case af > bf:
		return 1
	}
	return 0
}

func sortDocs(docs []domain.Doc, order []domain.OrderBy) {
	sort.SliceStable(docs, func(i, j int) bool {
		for _, o := range order {
			c := compare(docs[i].Data[o.Field], docs[j].Data[o.Field])
			if c == 0 {
				continue
			}
			if o.Desc {
				return c > 0
			}
			return c < 0
		}
		return docs[i].ID < docs[j].ID
	})
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, x := range t {
			out[i] = cloneValue(x)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	case []map[string]any:
		out := make([]map[string]any, len(t))
		for i, x := range t {
			out[i] = cloneMap(x)
		}
		return out
	}
	return v
}
