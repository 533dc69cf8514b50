package gcs

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/pkg/errors"
	"google.golang.org/api/googleapi"

	"github.com/phenrril/jeanstore/internal/domain"
)

const Scheme = "gs"

// ImageStore keeps product images as objects under Prefix in a GCS bucket.
type ImageStore struct {
	Client *storage.Client
	Bucket string
	Prefix string
}

func NewImageStore(client *storage.Client, bucket string) *ImageStore {
	return &ImageStore{Client: client, Bucket: strings.TrimSpace(bucket), Prefix: "products/"}
}

func (s *ImageStore) Scheme() string { return Scheme }

func (s *ImageStore) objectName(id string) string {
	return strings.TrimLeft(s.Prefix, "/") + id
}

// PublicURL is the object's URL on storage.googleapis.com.
func (s *ImageStore) PublicURL(id string) string {
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", s.Bucket, s.objectName(id))
}

func (s *ImageStore) Put(ctx context.Context, id, contentType string, data []byte) error {
	if err := s.check(); err != nil {
		return err
	}
	w := s.Client.Bucket(s.Bucket).Object(s.objectName(id)).NewWriter(ctx)
	w.ContentType = contentType
	w.CacheControl = "public, max-age=31536000, immutable"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return domain.Remote("gcs.put "+id, err)
	}
	if err := w.Close(); err != nil {
		return domain.Remote("gcs.put "+id, err)
	}
	return nil
}

func (s *ImageStore) Get(ctx context.Context, id string) (*domain.StoredImage, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	attrs, err := s.Client.Bucket(s.Bucket).Object(s.objectName(id)).Attrs(ctx)
	if err != nil {
		return nil, mapErr("gcs.get "+id, err)
	}
	return &domain.StoredImage{
		ID:          id,
		ContentType: attrs.ContentType,
		Size:        attrs.Size,
		URL:         s.PublicURL(id),
		CreatedAt:   attrs.Created,
	}, nil
}

func (s *ImageStore) Delete(ctx context.Context, id string) error {
	if err := s.check(); err != nil {
		return err
	}
	return mapErr("gcs.delete "+id, s.Client.Bucket(s.Bucket).Object(s.objectName(id)).Delete(ctx))
}

func (s *ImageStore) check() error {
	if s.Client == nil {
		return domain.Remote("gcs", errors.New("nil storage client"))
	}
	if s.Bucket == "" {
		return domain.Remote("gcs", errors.New("bucket is empty"))
	}
	return nil
}

func mapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, storage.ErrObjectNotExist) {
		return errors.Wrap(domain.ErrNotFound, op)
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusNotFound {
		return errors.Wrap(domain.ErrNotFound, op)
	}
	return domain.Remote(op, err)
}
