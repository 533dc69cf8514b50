package firestore

import (
	"testing"

	"cloud.google.com/go/firestore"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/phenrril/jeanstore/internal/domain"
)

func TestEncode_ServerTimestampsAtAnyDepth(t *testing.T) {
	out := encode(map[string]any{
		"createdAt": domain.ServerTimestamp,
		"shipping":  map[string]any{"confirmedAt": domain.ServerTimestamp, "city": "Rosario"},
		"price":     59.99,
	})
	assert.Equal(t, firestore.ServerTimestamp, out["createdAt"])
	assert.Equal(t, firestore.ServerTimestamp, out["shipping"].(map[string]any)["confirmedAt"])
	assert.Equal(t, "Rosario", out["shipping"].(map[string]any)["city"])
	assert.Equal(t, 59.99, out["price"])
}

func TestUpdates_SortedPaths(t *testing.T) {
	ups := updates(map[string]any{"updatedAt": domain.ServerTimestamp, "count": 3})
	assert.Equal(t, []firestore.Update{
		{Path: "count", Value: 3},
		{Path: "updatedAt", Value: firestore.ServerTimestamp},
	}, ups)
}

func TestMapErr(t *testing.T) {
	assert.NoError(t, mapErr("op", nil))
	assert.ErrorIs(t, mapErr("get", status.Error(codes.NotFound, "no doc")), domain.ErrNotFound)
	assert.ErrorIs(t, mapErr("get", status.Error(codes.Unavailable, "down")), domain.ErrRemoteUnavailable)

	inner := errors.Wrap(domain.Invalid("stock", "must not be negative"), "tx")
	assert.Same(t, inner, mapErr("tx", inner))
}
