package firestore

import (
	"context"
	"sort"

	"cloud.google.com/go/firestore"
	"github.com/pkg/errors"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/phenrril/jeanstore/internal/domain"
)

// Store implements domain.RemoteStore on Cloud Firestore.
type Store struct {
	Client *firestore.Client
}

func New(client *firestore.Client) *Store {
	return &Store{Client: client}
}

func (s *Store) Query(ctx context.Context, q domain.Query) ([]domain.Doc, error) {
	if s.Client == nil {
		return nil, domain.Remote("firestore.query", errors.New("firestore client is nil"))
	}
	col := s.Client.Collection(q.Collection)
	fq := col.Query
	for _, f := range q.Filters {
		fq = fq.Where(f.Field, string(f.Op), f.Value)
	}
	for _, o := range q.OrderBy {
		dir := firestore.Asc
		if o.Desc {
			dir = firestore.Desc
		}
		fq = fq.OrderBy(o.Field, dir)
	}
	if q.StartAfter != "" {
		snap, err := col.Doc(q.StartAfter).Get(ctx)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return []domain.Doc{}, nil
			}
			return nil, mapErr("firestore.query", err)
		}
		fq = fq.StartAfter(snap)
	}
	if q.Limit > 0 {
		fq = fq.Limit(q.Limit)
	}

	it := fq.Documents(ctx)
	defer it.Stop()

	var out []domain.Doc
	for {
		snap, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, mapErr("firestore.query "+q.Collection, err)
		}
		out = append(out, domain.Doc{ID: snap.Ref.ID, Data: snap.Data()})
	}
	return out, nil
}

func (s *Store) Get(ctx context.Context, collection, id string) (*domain.Doc, error) {
	snap, err := s.Client.Collection(collection).Doc(id).Get(ctx)
	if err != nil {
		return nil, mapErr("firestore.get "+collection+"/"+id, err)
	}
	return &domain.Doc{ID: snap.Ref.ID, Data: snap.Data()}, nil
}

func (s *Store) Add(ctx context.Context, collection string, data map[string]any) (string, error) {
	ref, _, err := s.Client.Collection(collection).Add(ctx, encode(data))
	if err != nil {
		return "", mapErr("firestore.add "+collection, err)
	}
	return ref.ID, nil
}

func (s *Store) Set(ctx context.Context, collection, id string, data map[string]any) error {
	_, err := s.Client.Collection(collection).Doc(id).Set(ctx, encode(data))
	return mapErr("firestore.set "+collection+"/"+id, err)
}

func (s *Store) Update(ctx context.Context, collection, id string, data map[string]any) error {
	_, err := s.Client.Collection(collection).Doc(id).Update(ctx, updates(data))
	return mapErr("firestore.update "+collection+"/"+id, err)
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	_, err := s.Client.Collection(collection).Doc(id).Delete(ctx)
	return mapErr("firestore.delete "+collection+"/"+id, err)
}

func (s *Store) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	err := s.Client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		return fn(ctx, &txn{client: s.Client, tx: tx})
	})
	return mapErr("firestore.transaction", err)
}

type txn struct {
	client *firestore.Client
	tx     *firestore.Transaction
}

func (t *txn) Get(collection, id string) (*domain.Doc, error) {
	snap, err := t.tx.Get(t.client.Collection(collection).Doc(id))
	if err != nil {
		return nil, mapErr("firestore.tx.get "+collection+"/"+id, err)
	}
	return &domain.Doc{ID: snap.Ref.ID, Data: snap.Data()}, nil
}

func (t *txn) Set(collection, id string, data map[string]any) error {
	return t.tx.Set(t.client.Collection(collection).Doc(id), encode(data))
}

func (t *txn) Update(collection, id string, data map[string]any) error {
	return t.tx.Update(t.client.Collection(collection).Doc(id), updates(data))
}

func (t *txn) Delete(collection, id string) error {
	return t.tx.Delete(t.client.Collection(collection).Doc(id))
}

func (t *txn) NewID(collection string) string {
	return t.client.Collection(collection).NewDoc().ID
}

func encode(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		switch {
		case domain.IsServerTimestamp(v):
			out[k] = firestore.ServerTimestamp
		default:
			if m, ok := v.(map[string]any); ok {
				out[k] = encode(m)
				continue
			}
			out[k] = v
		}
	}
	return out
}

func updates(data map[string]any) []firestore.Update {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	ups := make([]firestore.Update, 0, len(keys))
	enc := encode(data)
	for _, k := range keys {
		ups = append(ups, firestore.Update{Path: k, Value: enc[k]})
	}
	return ups
}

// mapErr keeps domain errors raised inside transaction functions and
// normalizes gRPC failures into the domain taxonomy.
func mapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{domain.ErrValidation, domain.ErrNotFound, domain.ErrAuthRequired, domain.ErrTooLarge, domain.ErrRemoteUnavailable} {
		if errors.Is(err, known) {
			return err
		}
	}
	if status.Code(err) == codes.NotFound {
		return errors.Wrap(domain.ErrNotFound, op)
	}
	return domain.Remote(op, err)
}
