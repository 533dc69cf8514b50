package docimages

import (
	"context"
	"encoding/base64"
	"time"

	"github.com/pkg/errors"

	"github.com/phenrril/jeanstore/internal/domain"
)

const Scheme = "base64"

// FirestoreMaxBytes keeps the encoded payload and its metadata under
// Firestore's 1 MiB document limit.
const FirestoreMaxBytes int64 = 700 << 10

// Store keeps image bytes base64-encoded inside the RemoteStore "images" collection.
// MaxBytes, when set, caps the raw image size the backing store can hold in one document.
type Store struct {
	Remote   domain.RemoteStore
	MaxBytes int64
	now      func() time.Time
}

func New(remote domain.RemoteStore) *Store {
	return &Store{Remote: remote, now: time.Now}
}

func (s *Store) Scheme() string { return Scheme }

// Limit reports MaxBytes; zero means the store has no cap of its own.
func (s *Store) Limit() int64 { return s.MaxBytes }

func (s *Store) Put(ctx context.Context, id, contentType string, data []byte) error {
	if id == "" {
		return domain.Invalid("image id", "is required")
	}
	if size := int64(len(data)); s.MaxBytes > 0 && size > s.MaxBytes {
		return &domain.TooLargeError{Size: size, Limit: s.MaxBytes}
	}
	doc := map[string]any{
		"contentType": contentType,
		"size":        len(data),
		"data":        base64.StdEncoding.EncodeToString(data),
		"createdAt":   s.now().UTC(),
	}
	return errors.Wrap(s.Remote.Set(ctx, domain.ImagesCollection, id, doc), "store image")
}

func (s *Store) Get(ctx context.Context, id string) (*domain.StoredImage, error) {
	doc, err := s.Remote.Get(ctx, domain.ImagesCollection, id)
	if err != nil {
		return nil, err
	}
	ct := domain.AsString(doc.Data["contentType"])
	if ct == "" {
		ct = "application/octet-stream"
	}
	payload := domain.AsString(doc.Data["data"])
	if payload == "" {
		return nil, errors.Wrapf(domain.ErrNotFound, "image %s has no content", id)
	}
	return &domain.StoredImage{
		ID:          doc.ID,
		ContentType: ct,
		Size:        int64(domain.AsInt(doc.Data["size"])),
		URL:         "data:" + ct + ";base64," + payload,
		CreatedAt:   domain.AsTime(doc.Data["createdAt"]),
	}, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	return s.Remote.Delete(ctx, domain.ImagesCollection, id)
}
