package receipts

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func TestMemoryStore_Store(t *testing.T) {
	store := NewMemoryStore()
	receipt, err := store.Store(context.Background(), []byte("%PDF-1.4"), "payments")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(receipt.URL, "memory://payments/"))

	data, ok := store.Get(receipt.Ref)
	require.True(t, ok)
	assert.Equal(t, "%PDF-1.4", string(data))

	_, err = store.Store(context.Background(), nil, "payments")
	assert.ErrorIs(t, err, ErrEmpty)

	store.Err = errors.New("bucket unavailable")
	_, err = store.Store(context.Background(), []byte("x"), "payments")
	assert.Error(t, err)
}

// Integration test (requires MongoDB)
func TestGridFSStore_Integration(t *testing.T) {
	uri := os.Getenv("MONGO_URI")
	if uri == "" || uri == "uri" {
		t.Skip("MONGO_URI not set or invalid, skipping integration test")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		t.Skipf("failed to connect: %v, skipping integration test", err)
	}
	defer client.Disconnect(context.Background())

	store, err := NewGridFSStore(client.Database("test_fleet_haulage"), "receipts")
	require.NoError(t, err)

	receipt, err := store.Store(ctx, []byte("receipt body"), "maintenance")
	if err != nil {
		t.Skipf("gridfs unavailable: %v", err)
	}
	assert.True(t, strings.HasPrefix(receipt.URL, "gridfs://receipts/maintenance/"))
	assert.Len(t, receipt.Ref, 24)
}
