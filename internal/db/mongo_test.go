package db

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/fleet-haulage/internal/apperrors"
	"github.com/ukydev/fleet-haulage/internal/models"
)

func TestConnectMongo_BadURI(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	client, err := ConnectMongo(ctx, "mongodb://bad:uri")
	if err == nil {
		t.Error("expected error for bad URI, got nil")
	}
	if client != nil {
		t.Error("expected nil client on error")
	}
}

func TestTranslate_PassesBusinessErrors(t *testing.T) {
	err := apperrors.NotFound("trip x not found")
	assert.Same(t, err, translate(err))
	assert.Nil(t, translate(nil))

	plain := errors.New("socket closed")
	assert.Equal(t, plain, translate(plain))
}

func TestCollectionNames_Distinct(t *testing.T) {
	names := []string{
		VehiclesCollection, DriversCollection, ClientsCollection, MaterialsCollection,
		TripsCollection, MaintenanceTicketsCollection, PaymentsCollection,
	}
	seen := map[string]bool{}
	for _, name := range names {
		assert.False(t, seen[name], "duplicate collection %s", name)
		seen[name] = true
	}
	assert.Equal(t, "maintenance", MaintenanceTicketsCollection)

	var _ MaintenanceCollection = (*MongoStore)(nil)
	var _ Store = (*MongoStore)(nil)
	var _ Store = (*MemoryStore)(nil)
}

// Integration test (requires a MongoDB replica set)
func newIntegrationStore(t *testing.T) *MongoStore {
	uri := os.Getenv("MONGO_URI")
	if uri == "" || uri == "uri" {
		t.Skip("MONGO_URI not set or invalid, skipping integration test")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := ConnectMongo(ctx, uri)
	if err != nil {
		t.Skipf("failed to connect: %v, skipping integration test", err)
	}
	t.Cleanup(func() { client.Disconnect(context.Background()) })

	store := NewMongoStore(client, "test_fleet_haulage")
	require.NoError(t, store.Database().Drop(context.Background()))
	require.NoError(t, store.EnsureIndexes(context.Background()))
	return store
}

func TestMongoStore_VersionedUpdate_Integration(t *testing.T) {
	store := newIntegrationStore(t)
	ctx := context.Background()

	vehicle := &models.Vehicle{Plate: "INT-1", State: models.VehicleActive}
	require.NoError(t, store.InsertVehicle(ctx, vehicle))

	stale, err := store.FindVehicleByID(ctx, vehicle.ID.Hex())
	require.NoError(t, err)

	vehicle.State = models.VehicleOnRoute
	require.NoError(t, store.UpdateVehicle(ctx, vehicle))
	assert.Equal(t, int64(2), vehicle.Version)

	stale.State = models.VehicleInMaintenance
	err = store.UpdateVehicle(ctx, stale)
	assert.True(t, errors.Is(err, apperrors.ErrConflict))
}

func TestMongoStore_RunAtomic_Integration(t *testing.T) {
	store := newIntegrationStore(t)
	ctx := context.Background()

	vehicle := &models.Vehicle{Plate: "INT-2", State: models.VehicleOnRoute}
	require.NoError(t, store.InsertVehicle(ctx, vehicle))

	err := store.RunAtomic(ctx, func(ctx context.Context) error {
		v, err := store.FindVehicleByID(ctx, vehicle.ID.Hex())
		if err != nil {
			return err
		}
		v.State = models.VehicleActive
		if err := store.UpdateVehicle(ctx, v); err != nil {
			return err
		}
		return apperrors.Precondition("abort")
	})
	if err != nil && !errors.Is(err, apperrors.ErrPreconditionFailed) {
		t.Skipf("transactions unavailable: %v", err)
	}

	stored, err := store.FindVehicleByID(ctx, vehicle.ID.Hex())
	require.NoError(t, err)
	assert.Equal(t, models.VehicleOnRoute, stored.State)
}
