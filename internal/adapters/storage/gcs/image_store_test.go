package gcs

import (
	"context"
	"net/http"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"google.golang.org/api/googleapi"

	"github.com/phenrril/jeanstore/internal/domain"
)

func TestImageStore_PublicURL(t *testing.T) {
	s := NewImageStore(nil, " shop-images ")
	assert.Equal(t, "gs", s.Scheme())
	assert.Equal(t, "https://storage.googleapis.com/shop-images/products/abc", s.PublicURL("abc"))
}

func TestImageStore_RequiresClient(t *testing.T) {
	s := NewImageStore(nil, "bucket")
	err := s.Put(context.Background(), "id", "image/png", []byte{1})
	assert.ErrorIs(t, err, domain.ErrRemoteUnavailable)
}

func TestMapErr(t *testing.T) {
	assert.NoError(t, mapErr("op", nil))
	assert.ErrorIs(t, mapErr("get", storage.ErrObjectNotExist), domain.ErrNotFound)
	assert.ErrorIs(t, mapErr("get", &googleapi.Error{Code: http.StatusNotFound}), domain.ErrNotFound)
	assert.ErrorIs(t, mapErr("put", &googleapi.Error{Code: http.StatusForbidden}), domain.ErrRemoteUnavailable)
	assert.ErrorIs(t, mapErr("put", errors.New("reset by peer")), domain.ErrRemoteUnavailable)
}
