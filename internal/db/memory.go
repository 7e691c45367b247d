package db

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ukydev/fleet-haulage/internal/apperrors"
	"github.com/ukydev/fleet-haulage/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MemoryStore is an in-process Store with the same atomicity and
// version semantics as MongoStore. Atomic units are serialised: a unit
// holds the store lock until it commits or rolls back, so concurrent
// units observe each other's committed writes only.
type MemoryStore struct {
	mu    sync.Mutex
	state memoryState

	// FailWrites, when set, is consulted before every insert and update
	// with the entity kind; a non-nil result fails the write. Tests use it
	// to simulate storage failures.
	FailWrites func(kind string) error
}

type memoryState struct {
	vehicles    map[string]models.Vehicle
	drivers     map[string]models.Driver
	clients     map[string]models.Client
	materials   map[string]models.Material
	trips       map[string]models.Trip
	maintenance map[string]models.Maintenance
	payments    map[string]models.DriverPayment
}

type memoryTxKey struct{}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: memoryState{
		vehicles:    map[string]models.Vehicle{},
		drivers:     map[string]models.Driver{},
		clients:     map[string]models.Client{},
		materials:   map[string]models.Material{},
		trips:       map[string]models.Trip{},
		maintenance: map[string]models.Maintenance{},
		payments:    map[string]models.DriverPayment{},
	}}
}

func (st memoryState) clone() memoryState {
	return memoryState{
		vehicles:    cloneMap(st.vehicles),
		drivers:     cloneMap(st.drivers),
		clients:     cloneMap(st.clients),
		materials:   cloneMap(st.materials),
		trips:       cloneMap(st.trips),
		maintenance: cloneMap(st.maintenance),
		payments:    cloneMap(st.payments),
	}
}

func cloneMap[V any](m map[string]V) map[string]V {
	out := make(map[string]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *MemoryStore) inUnit(ctx context.Context) bool {
	owner, _ := ctx.Value(memoryTxKey{}).(*MemoryStore)
	return owner == s
}

// RunAtomic runs fn with the store locked and restores the previous
// state if fn fails.
func (s *MemoryStore) RunAtomic(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.inUnit(ctx) {
		return fn(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.state.clone()
	if err := fn(context.WithValue(ctx, memoryTxKey{}, s)); err != nil {
		s.state = snapshot
		return err
	}
	return nil
}

// do runs op under the store lock unless ctx already belongs to a unit.
func (s *MemoryStore) do(ctx context.Context, op func() error) error {
	if s.inUnit(ctx) {
		return op()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return op()
}

func (s *MemoryStore) injected(kind string) error {
	if s.FailWrites == nil {
		return nil
	}
	return s.FailWrites(kind)
}

func memInsert[T any](s *MemoryStore, ctx context.Context, kind string, table func() map[string]T, id *primitive.ObjectID, version *int64, created, updated *time.Time, entity *T) error {
	return s.do(ctx, func() error {
		if err := s.injected(kind); err != nil {
			return err
		}
		stamp(id, version, created, updated)
		if _, exists := table()[id.Hex()]; exists {
			return apperrors.Conflict("%s %s already exists", kind, id.Hex())
		}
		table()[id.Hex()] = *entity
		return nil
	})
}

func memFind[T any](s *MemoryStore, ctx context.Context, kind, id string, table func() map[string]T) (*T, error) {
	var out *T
	err := s.do(ctx, func() error {
		if _, err := objectID(kind, id); err != nil {
			return err
		}
		v, ok := table()[id]
		if !ok {
			return apperrors.NotFound("%s %s not found", kind, id)
		}
		out = &v
		return nil
	})
	return out, err
}

func memUpdate[T any](s *MemoryStore, ctx context.Context, kind string, table func() map[string]T, id primitive.ObjectID, version func(*T) *int64, entity *T) error {
	return s.do(ctx, func() error {
		if err := s.injected(kind); err != nil {
			return err
		}
		stored, ok := table()[id.Hex()]
		if !ok || *version(&stored) != *version(entity) {
			return apperrors.Conflict("%s %s was modified concurrently", kind, id.Hex())
		}
		next := *entity
		*version(&next) = *version(entity) + 1
		table()[id.Hex()] = next
		*entity = next
		return nil
	})
}

func memList[T any](s *MemoryStore, ctx context.Context, table func() map[string]T, match func(*T) bool, created func(*T) time.Time, key func(*T) string) ([]T, error) {
	out := []T{}
	err := s.do(ctx, func() error {
		for _, v := range table() {
			v := v
			if match(&v) {
				out = append(out, v)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		ci, cj := created(&out[i]), created(&out[j])
		if !ci.Equal(cj) {
			return ci.Before(cj)
		}
		return key(&out[i]) < key(&out[j])
	})
	return out, err
}

// InsertVehicle stores a new vehicle.
func (s *MemoryStore) InsertVehicle(ctx context.Context, v *models.Vehicle) error {
	return memInsert(s, ctx, "vehicle", func() map[string]models.Vehicle { return s.state.vehicles },
		&v.ID, &v.Version, &v.CreatedAt, &v.UpdatedAt, v)
}

// FindVehicleByID returns a copy of the stored vehicle.
func (s *MemoryStore) FindVehicleByID(ctx context.Context, id string) (*models.Vehicle, error) {
	return memFind(s, ctx, "vehicle", id, func() map[string]models.Vehicle { return s.state.vehicles })
}

// FindVehicles lists vehicles matching filter.
func (s *MemoryStore) FindVehicles(ctx context.Context, filter VehicleFilter) ([]models.Vehicle, error) {
	return memList(s, ctx, func() map[string]models.Vehicle { return s.state.vehicles },
		func(v *models.Vehicle) bool { return matchVehicle(filter, v) },
		func(v *models.Vehicle) time.Time { return v.CreatedAt },
		func(v *models.Vehicle) string { return v.ID.Hex() })
}

// UpdateVehicle stores v if its version is current.
func (s *MemoryStore) UpdateVehicle(ctx context.Context, v *models.Vehicle) error {
	return memUpdate(s, ctx, "vehicle", func() map[string]models.Vehicle { return s.state.vehicles },
		v.ID, func(x *models.Vehicle) *int64 { return &x.Version }, v)
}

// InsertDriver stores a new driver.
func (s *MemoryStore) InsertDriver(ctx context.Context, d *models.Driver) error {
	return memInsert(s, ctx, "driver", func() map[string]models.Driver { return s.state.drivers },
		&d.ID, &d.Version, &d.CreatedAt, &d.UpdatedAt, d)
}

// FindDriverByID returns a copy of the stored driver.
func (s *MemoryStore) FindDriverByID(ctx context.Context, id string) (*models.Driver, error) {
	return memFind(s, ctx, "driver", id, func() map[string]models.Driver { return s.state.drivers })
}

// FindDrivers lists drivers matching filter.
func (s *MemoryStore) FindDrivers(ctx context.Context, filter DriverFilter) ([]models.Driver, error) {
	return memList(s, ctx, func() map[string]models.Driver { return s.state.drivers },
		func(d *models.Driver) bool { return matchDriver(filter, d) },
		func(d *models.Driver) time.Time { return d.CreatedAt },
		func(d *models.Driver) string { return d.ID.Hex() })
}

// UpdateDriver stores d if its version is current.
func (s *MemoryStore) UpdateDriver(ctx context.Context, d *models.Driver) error {
	return memUpdate(s, ctx, "driver", func() map[string]models.Driver { return s.state.drivers },
		d.ID, func(x *models.Driver) *int64 { return &x.Version }, d)
}

// InsertClient stores a new client.
func (s *MemoryStore) InsertClient(ctx context.Context, c *models.Client) error {
	var version int64
	updated := c.CreatedAt
	return memInsert(s, ctx, "client", func() map[string]models.Client { return s.state.clients },
		&c.ID, &version, &c.CreatedAt, &updated, c)
}

// FindClientByID returns a copy of the stored client.
func (s *MemoryStore) FindClientByID(ctx context.Context, id string) (*models.Client, error) {
	return memFind(s, ctx, "client", id, func() map[string]models.Client { return s.state.clients })
}

// InsertMaterial stores a new material.
func (s *MemoryStore) InsertMaterial(ctx context.Context, m *models.Material) error {
	var version int64
	updated := m.CreatedAt
	return memInsert(s, ctx, "material", func() map[string]models.Material { return s.state.materials },
		&m.ID, &version, &m.CreatedAt, &updated, m)
}

// FindMaterialByID returns a copy of the stored material.
func (s *MemoryStore) FindMaterialByID(ctx context.Context, id string) (*models.Material, error) {
	return memFind(s, ctx, "material", id, func() map[string]models.Material { return s.state.materials })
}

// InsertTrip stores a new trip.
func (s *MemoryStore) InsertTrip(ctx context.Context, t *models.Trip) error {
	return memInsert(s, ctx, "trip", func() map[string]models.Trip { return s.state.trips },
		&t.ID, &t.Version, &t.CreatedAt, &t.UpdatedAt, t)
}

// FindTripByID returns a copy of the stored trip.
func (s *MemoryStore) FindTripByID(ctx context.Context, id string) (*models.Trip, error) {
	return memFind(s, ctx, "trip", id, func() map[string]models.Trip { return s.state.trips })
}

// FindTrips lists trips matching filter.
func (s *MemoryStore) FindTrips(ctx context.Context, filter TripFilter) ([]models.Trip, error) {
	return memList(s, ctx, func() map[string]models.Trip { return s.state.trips },
		func(t *models.Trip) bool { return matchTrip(filter, t) },
		func(t *models.Trip) time.Time { return t.CreatedAt },
		func(t *models.Trip) string { return t.ID.Hex() })
}

// UpdateTrip stores t if its version is current.
func (s *MemoryStore) UpdateTrip(ctx context.Context, t *models.Trip) error {
	return memUpdate(s, ctx, "trip", func() map[string]models.Trip { return s.state.trips },
		t.ID, func(x *models.Trip) *int64 { return &x.Version }, t)
}

// InsertMaintenance stores a new maintenance ticket.
func (s *MemoryStore) InsertMaintenance(ctx context.Context, m *models.Maintenance) error {
	return memInsert(s, ctx, "maintenance", func() map[string]models.Maintenance { return s.state.maintenance },
		&m.ID, &m.Version, &m.CreatedAt, &m.UpdatedAt, m)
}

// FindMaintenanceByID returns a copy of the stored ticket.
func (s *MemoryStore) FindMaintenanceByID(ctx context.Context, id string) (*models.Maintenance, error) {
	return memFind(s, ctx, "maintenance", id, func() map[string]models.Maintenance { return s.state.maintenance })
}

// FindMaintenance lists tickets matching filter.
func (s *MemoryStore) FindMaintenance(ctx context.Context, filter MaintenanceFilter) ([]models.Maintenance, error) {
	return memList(s, ctx, func() map[string]models.Maintenance { return s.state.maintenance },
		func(m *models.Maintenance) bool { return matchMaintenance(filter, m) },
		func(m *models.Maintenance) time.Time { return m.CreatedAt },
		func(m *models.Maintenance) string { return m.ID.Hex() })
}

// UpdateMaintenance stores m if its version is current.
func (s *MemoryStore) UpdateMaintenance(ctx context.Context, m *models.Maintenance) error {
	return memUpdate(s, ctx, "maintenance", func() map[string]models.Maintenance { return s.state.maintenance },
		m.ID, func(x *models.Maintenance) *int64 { return &x.Version }, m)
}

// InsertPayment stores a new driver payment.
func (s *MemoryStore) InsertPayment(ctx context.Context, p *models.DriverPayment) error {
	return memInsert(s, ctx, "payment", func() map[string]models.DriverPayment { return s.state.payments },
		&p.ID, &p.Version, &p.CreatedAt, &p.UpdatedAt, p)
}

// FindPaymentByID returns a copy of the stored payment.
func (s *MemoryStore) FindPaymentByID(ctx context.Context, id string) (*models.DriverPayment, error) {
	return memFind(s, ctx, "payment", id, func() map[string]models.DriverPayment { return s.state.payments })
}

// FindPayments lists payments matching filter.
func (s *MemoryStore) FindPayments(ctx context.Context, filter PaymentFilter) ([]models.DriverPayment, error) {
	return memList(s, ctx, func() map[string]models.DriverPayment { return s.state.payments },
		func(p *models.DriverPayment) bool { return matchPayment(filter, p) },
		func(p *models.DriverPayment) time.Time { return p.CreatedAt },
		func(p *models.DriverPayment) string { return p.ID.Hex() })
}

// UpdatePayment stores p if its version is current.
func (s *MemoryStore) UpdatePayment(ctx context.Context, p *models.DriverPayment) error {
	return memUpdate(s, ctx, "payment", func() map[string]models.DriverPayment { return s.state.payments },
		p.ID, func(x *models.DriverPayment) *int64 { return &x.Version }, p)
}
