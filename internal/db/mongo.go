package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ukydev/fleet-haulage/internal/apperrors"
	"github.com/ukydev/fleet-haulage/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Collection names.
const (
	VehiclesCollection           = "vehicles"
	DriversCollection            = "drivers"
	ClientsCollection            = "clients"
	MaterialsCollection          = "materials"
	TripsCollection              = "trips"
	MaintenanceTicketsCollection = "maintenance"
	PaymentsCollection           = "driver_payments"
)

// mongo server code for WriteConflict.
const writeConflictCode = 112

// ConnectMongo connects to MongoDB and verifies the connection with a ping.
func ConnectMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo.Connect error: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongo.Ping error: %w", err)
	}
	return client, nil
}

// MongoStore implements Store on MongoDB. RunAtomic needs a replica set
// or sharded cluster, since it relies on multi-document transactions.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
}

// NewMongoStore returns a store over the named database.
func NewMongoStore(client *mongo.Client, dbName string) *MongoStore {
	return &MongoStore{client: client, db: client.Database(dbName)}
}

// Database returns the underlying database handle.
func (s *MongoStore) Database() *mongo.Database { return s.db }

// EnsureIndexes creates the indexes the engine's queries rely on.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		VehiclesCollection: {
			{Keys: bson.D{{Key: "plate", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "state", Value: 1}}},
		},
		DriversCollection: {
			{Keys: bson.D{{Key: "payout_mode", Value: 1}, {Key: "state", Value: 1}}},
		},
		TripsCollection: {
			{Keys: bson.D{{Key: "vehicle_id", Value: 1}, {Key: "state", Value: 1}}},
			{Keys: bson.D{{Key: "driver_id", Value: 1}, {Key: "state", Value: 1}}},
			{Keys: bson.D{{Key: "state", Value: 1}, {Key: "departure_at", Value: 1}}},
		},
		MaintenanceTicketsCollection: {
			{Keys: bson.D{{Key: "vehicle_id", Value: 1}, {Key: "state", Value: 1}}},
		},
		PaymentsCollection: {
			{Keys: bson.D{{Key: "driver_id", Value: 1}, {Key: "tag", Value: 1}, {Key: "scheduled_date", Value: 1}}},
			{Keys: bson.D{{Key: "trip_id", Value: 1}}},
		},
	}
	for name, specs := range indexes {
		if _, err := s.db.Collection(name).Indexes().CreateMany(ctx, specs); err != nil {
			return fmt.Errorf("create indexes on %s: %w", name, err)
		}
	}
	return nil
}

// RunAtomic runs fn inside a MongoDB transaction. WithTransaction
// retries fn on transient transaction errors, so fn must only depend on
// what it reads through ctx.
func (s *MongoStore) RunAtomic(ctx context.Context, fn func(ctx context.Context) error) error {
	if mongo.SessionFromContext(ctx) != nil {
		return fn(ctx)
	}
	session, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	return translate(err)
}

// translate maps driver errors onto apperrors where they have a business
// meaning and leaves everything else untouched.
func translate(err error) error {
	if err == nil || apperrors.IsBusiness(err) {
		return err
	}
	if mongo.IsDuplicateKeyError(err) {
		return apperrors.Conflict("duplicate key: %v", err)
	}
	var se mongo.ServerError
	if errors.As(err, &se) {
		if se.HasErrorCode(writeConflictCode) || se.HasErrorLabel("TransientTransactionError") {
			return &apperrors.Error{Kind: apperrors.KindConflict, Reason: "concurrent write", Err: err}
		}
	}
	return err
}

func objectID(kind, id string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return primitive.NilObjectID, apperrors.NotFound("invalid %s ID %q", kind, id)
	}
	return oid, nil
}

func findOne[T any](ctx context.Context, coll *mongo.Collection, kind, id string) (*T, error) {
	oid, err := objectID(kind, id)
	if err != nil {
		return nil, err
	}
	var out T
	err = coll.FindOne(ctx, bson.M{"_id": oid}).Decode(&out)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperrors.NotFound("%s %s not found", kind, id)
		}
		return nil, translate(err)
	}
	return &out, nil
}

func findAll[T any](ctx context.Context, coll *mongo.Collection, filter bson.M) ([]T, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, translate(err)
	}
	defer cursor.Close(ctx)
	out := []T{}
	if err := cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func insertOne(ctx context.Context, coll *mongo.Collection, doc interface{}) error {
	_, err := coll.InsertOne(ctx, doc)
	return translate(err)
}

// replaceVersioned replaces the document only if its stored version is
// still version.
func replaceVersioned(ctx context.Context, coll *mongo.Collection, kind string, id primitive.ObjectID, version int64, doc interface{}) error {
	result, err := coll.ReplaceOne(ctx, bson.M{"_id": id, "version": version}, doc)
	if err != nil {
		return translate(err)
	}
	if result.MatchedCount == 0 {
		return apperrors.Conflict("%s %s was modified concurrently", kind, id.Hex())
	}
	return nil
}

func stamp(id *primitive.ObjectID, version *int64, created, updated *time.Time) {
	if id.IsZero() {
		*id = primitive.NewObjectID()
	}
	*version = 1
	if created.IsZero() {
		*created = time.Now()
	}
	if updated.IsZero() {
		*updated = *created
	}
}

func inStates[S ~string](states []S) bson.M {
	return bson.M{"$in": states}
}

// InsertVehicle inserts a vehicle record into the collection.
func (s *MongoStore) InsertVehicle(ctx context.Context, vehicle *models.Vehicle) error {
	stamp(&vehicle.ID, &vehicle.Version, &vehicle.CreatedAt, &vehicle.UpdatedAt)
	return insertOne(ctx, s.db.Collection(VehiclesCollection), vehicle)
}

// FindVehicleByID finds a vehicle by its ID.
func (s *MongoStore) FindVehicleByID(ctx context.Context, id string) (*models.Vehicle, error) {
	return findOne[models.Vehicle](ctx, s.db.Collection(VehiclesCollection), "vehicle", id)
}

// FindVehicles queries vehicle records from the collection.
func (s *MongoStore) FindVehicles(ctx context.Context, filter VehicleFilter) ([]models.Vehicle, error) {
	q := bson.M{}
	if len(filter.States) > 0 {
		q["state"] = inStates(filter.States)
	}
	return findAll[models.Vehicle](ctx, s.db.Collection(VehiclesCollection), q)
}

// UpdateVehicle replaces a vehicle if nobody else changed it first.
func (s *MongoStore) UpdateVehicle(ctx context.Context, vehicle *models.Vehicle) error {
	next := *vehicle
	next.Version++
	if err := replaceVersioned(ctx, s.db.Collection(VehiclesCollection), "vehicle", vehicle.ID, vehicle.Version, next); err != nil {
		return err
	}
	*vehicle = next
	return nil
}

// InsertDriver inserts a driver record into the collection.
func (s *MongoStore) InsertDriver(ctx context.Context, driver *models.Driver) error {
	stamp(&driver.ID, &driver.Version, &driver.CreatedAt, &driver.UpdatedAt)
	return insertOne(ctx, s.db.Collection(DriversCollection), driver)
}

// FindDriverByID finds a driver by its ID.
func (s *MongoStore) FindDriverByID(ctx context.Context, id string) (*models.Driver, error) {
	return findOne[models.Driver](ctx, s.db.Collection(DriversCollection), "driver", id)
}

// FindDrivers queries driver records from the collection.
func (s *MongoStore) FindDrivers(ctx context.Context, filter DriverFilter) ([]models.Driver, error) {
	q := bson.M{}
	if filter.PayoutMode != "" {
		q["payout_mode"] = filter.PayoutMode
	}
	if len(filter.States) > 0 {
		q["state"] = inStates(filter.States)
	}
	return findAll[models.Driver](ctx, s.db.Collection(DriversCollection), q)
}

// UpdateDriver replaces a driver if nobody else changed it first.
func (s *MongoStore) UpdateDriver(ctx context.Context, driver *models.Driver) error {
	next := *driver
	next.Version++
	if err := replaceVersioned(ctx, s.db.Collection(DriversCollection), "driver", driver.ID, driver.Version, next); err != nil {
		return err
	}
	*driver = next
	return nil
}

// InsertClient inserts a client record into the collection.
func (s *MongoStore) InsertClient(ctx context.Context, client *models.Client) error {
	if client.ID.IsZero() {
		client.ID = primitive.NewObjectID()
	}
	if client.CreatedAt.IsZero() {
		client.CreatedAt = time.Now()
	}
	return insertOne(ctx, s.db.Collection(ClientsCollection), client)
}

// FindClientByID finds a client by its ID.
func (s *MongoStore) FindClientByID(ctx context.Context, id string) (*models.Client, error) {
	return findOne[models.Client](ctx, s.db.Collection(ClientsCollection), "client", id)
}

// InsertMaterial inserts a material record into the collection.
func (s *MongoStore) InsertMaterial(ctx context.Context, material *models.Material) error {
	if material.ID.IsZero() {
		material.ID = primitive.NewObjectID()
	}
	if material.CreatedAt.IsZero() {
		material.CreatedAt = time.Now()
	}
	return insertOne(ctx, s.db.Collection(MaterialsCollection), material)
}

// FindMaterialByID finds a material by its ID.
func (s *MongoStore) FindMaterialByID(ctx context.Context, id string) (*models.Material, error) {
	return findOne[models.Material](ctx, s.db.Collection(MaterialsCollection), "material", id)
}

// InsertTrip inserts a trip record into the collection.
func (s *MongoStore) InsertTrip(ctx context.Context, trip *models.Trip) error {
	stamp(&trip.ID, &trip.Version, &trip.CreatedAt, &trip.UpdatedAt)
	return insertOne(ctx, s.db.Collection(TripsCollection), trip)
}

// FindTripByID finds a trip by its ID.
func (s *MongoStore) FindTripByID(ctx context.Context, id string) (*models.Trip, error) {
	return findOne[models.Trip](ctx, s.db.Collection(TripsCollection), "trip", id)
}

// FindTrips queries trip records from the collection.
func (s *MongoStore) FindTrips(ctx context.Context, filter TripFilter) ([]models.Trip, error) {
	q := bson.M{}
	if filter.VehicleID != "" {
		q["vehicle_id"] = filter.VehicleID
	}
	if filter.DriverID != "" {
		q["driver_id"] = filter.DriverID
	}
	if len(filter.States) > 0 {
		q["state"] = inStates(filter.States)
	}
	if filter.DepartureBefore != nil {
		q["departure_at"] = bson.M{"$lte": *filter.DepartureBefore}
	}
	return findAll[models.Trip](ctx, s.db.Collection(TripsCollection), q)
}

// UpdateTrip replaces a trip if nobody else changed it first.
func (s *MongoStore) UpdateTrip(ctx context.Context, trip *models.Trip) error {
	next := *trip
	next.Version++
	if err := replaceVersioned(ctx, s.db.Collection(TripsCollection), "trip", trip.ID, trip.Version, next); err != nil {
		return err
	}
	*trip = next
	return nil
}

// InsertMaintenance inserts a maintenance record into the collection.
func (s *MongoStore) InsertMaintenance(ctx context.Context, maintenance *models.Maintenance) error {
	stamp(&maintenance.ID, &maintenance.Version, &maintenance.CreatedAt, &maintenance.UpdatedAt)
	return insertOne(ctx, s.db.Collection(MaintenanceTicketsCollection), maintenance)
}

// FindMaintenanceByID finds a maintenance record by its ID.
func (s *MongoStore) FindMaintenanceByID(ctx context.Context, id string) (*models.Maintenance, error) {
	return findOne[models.Maintenance](ctx, s.db.Collection(MaintenanceTicketsCollection), "maintenance", id)
}

// FindMaintenance queries maintenance records from the collection.
func (s *MongoStore) FindMaintenance(ctx context.Context, filter MaintenanceFilter) ([]models.Maintenance, error) {
	q := bson.M{}
	if filter.VehicleID != "" {
		q["vehicle_id"] = filter.VehicleID
	}
	if len(filter.States) > 0 {
		q["state"] = inStates(filter.States)
	}
	return findAll[models.Maintenance](ctx, s.db.Collection(MaintenanceTicketsCollection), q)
}

// UpdateMaintenance replaces a maintenance record if nobody else changed it first.
func (s *MongoStore) UpdateMaintenance(ctx context.Context, maintenance *models.Maintenance) error {
	next := *maintenance
	next.Version++
	if err := replaceVersioned(ctx, s.db.Collection(MaintenanceTicketsCollection), "maintenance", maintenance.ID, maintenance.Version, next); err != nil {
		return err
	}
	*maintenance = next
	return nil
}

// InsertPayment inserts a driver payment into the collection.
func (s *MongoStore) InsertPayment(ctx context.Context, payment *models.DriverPayment) error {
	stamp(&payment.ID, &payment.Version, &payment.CreatedAt, &payment.UpdatedAt)
	return insertOne(ctx, s.db.Collection(PaymentsCollection), payment)
}

// FindPaymentByID finds a driver payment by its ID.
func (s *MongoStore) FindPaymentByID(ctx context.Context, id string) (*models.DriverPayment, error) {
	return findOne[models.DriverPayment](ctx, s.db.Collection(PaymentsCollection), "payment", id)
}

// FindPayments queries driver payments from the collection.
func (s *MongoStore) FindPayments(ctx context.Context, filter PaymentFilter) ([]models.DriverPayment, error) {
	q := bson.M{}
	if filter.DriverID != "" {
		q["driver_id"] = filter.DriverID
	}
	if filter.TripID != "" {
		q["trip_id"] = filter.TripID
	}
	if len(filter.States) > 0 {
		q["state"] = inStates(filter.States)
	}
	if filter.Tag != "" {
		q["tag"] = filter.Tag
	}
	if filter.ScheduledIn != nil {
		q["scheduled_date"] = bson.M{"$gte": filter.ScheduledIn.From, "$lt": filter.ScheduledIn.To}
	}
	return findAll[models.DriverPayment](ctx, s.db.Collection(PaymentsCollection), q)
}

// UpdatePayment replaces a driver payment if nobody else changed it first.
func (s *MongoStore) UpdatePayment(ctx context.Context, payment *models.DriverPayment) error {
	next := *payment
	next.Version++
	if err := replaceVersioned(ctx, s.db.Collection(PaymentsCollection), "payment", payment.ID, payment.Version, next); err != nil {
		return err
	}
	*payment = next
	return nil
}
