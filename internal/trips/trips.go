// Package trips is the trip state machine: creation with its
// precondition checks, lifecycle transitions with their vehicle and
// payment side effects, and client payment tracking.
package trips

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-haulage/internal/apperrors"
	"github.com/ukydev/fleet-haulage/internal/audit"
	"github.com/ukydev/fleet-haulage/internal/clock"
	"github.com/ukydev/fleet-haulage/internal/db"
	"github.com/ukydev/fleet-haulage/internal/models"
	"github.com/ukydev/fleet-haulage/internal/money"
	"github.com/ukydev/fleet-haulage/internal/payments"
	"github.com/ukydev/fleet-haulage/internal/period"
	"github.com/ukydev/fleet-haulage/internal/vehicles"
)

const entityKind = "trip"

// DefaultWindow is how long a trip without an estimated arrival occupies
// its vehicle and driver.
const DefaultWindow = 24 * time.Hour

// Accepted actual distance, as a fraction of the estimate.
const (
	MinDistanceRatio = 0.3
	MaxDistanceRatio = 3.0
)

// Transitions lists the allowed target states per source state.
var Transitions = map[models.TripState][]models.TripState{
	models.TripPlanned:    {models.TripInProgress, models.TripCancelled},
	models.TripInProgress: {models.TripCompleted, models.TripCancelled},
	models.TripCompleted:  {},
	models.TripCancelled:  {},
}

// CanTransition reports whether from → to is allowed.
func CanTransition(from, to models.TripState) bool {
	for _, target := range Transitions[from] {
		if target == to {
			return true
		}
	}
	return false
}

var activeStates = []models.TripState{models.TripPlanned, models.TripInProgress}

// Service implements the trip operations.
type Service struct {
	store    db.Store
	payments *payments.Service
	audit    *audit.Recorder
	clock    clock.Clock
	log      logrus.FieldLogger
}

// NewService creates a trip service. Completed per-trip trips create
// their driver payout through ledger.
func NewService(store db.Store, ledger *payments.Service, rec *audit.Recorder, clk clock.Clock, logger logrus.FieldLogger) *Service {
	return &Service{store: store, payments: ledger, audit: rec, clock: clk, log: logger}
}

// CreateInput holds the fields of a new trip.
type CreateInput struct {
	VehicleID           string     `json:"vehicle_id"`
	DriverID            string     `json:"driver_id"`
	ClientID            string     `json:"client_id"`
	MaterialID          string     `json:"material_id"`
	Origin              string     `json:"origin"`
	Destination         string     `json:"destination"`
	DepartureAt         time.Time  `json:"departure_at"`
	EstimatedArrivalAt  *time.Time `json:"estimated_arrival_at,omitempty"`
	EstimatedDistanceKm float64    `json:"estimated_distance_km"`
	Tariff              float64    `json:"tariff"`
	DriverAgreedAmount  *float64   `json:"driver_agreed_amount,omitempty"`
	CreditTermDays      int        `json:"credit_term_days"`
	Notes               string     `json:"notes,omitempty"`
}

// Create validates and stores a PLANNED trip. The overlap check and the
// insert run in one atomic unit that also claims the vehicle and the
// driver, so two overlapping creates cannot both succeed.
func (s *Service) Create(ctx context.Context, in CreateInput) (*models.Trip, error) {
	var trip *models.Trip
	err := s.store.RunAtomic(ctx, func(ctx context.Context) error {
		now := s.clock.Now()

		vehicle, err := s.store.FindVehicleByID(ctx, in.VehicleID)
		if err != nil {
			return err
		}
		driver, err := s.store.FindDriverByID(ctx, in.DriverID)
		if err != nil {
			return err
		}
		client, err := s.store.FindClientByID(ctx, in.ClientID)
		if err != nil {
			return err
		}
		if _, err := s.store.FindMaterialByID(ctx, in.MaterialID); err != nil {
			return err
		}

		if driver.State == models.DriverInactive {
			return apperrors.Precondition("driver %s is inactive", driver.Name)
		}
		if !client.Active {
			return apperrors.Precondition("client %s is inactive", client.Name)
		}
		switch vehicle.State {
		case models.VehicleInactive:
			return apperrors.Precondition("vehicle %s is inactive", vehicle.Plate)
		case models.VehicleInMaintenance:
			return apperrors.Precondition("vehicle %s is in maintenance", vehicle.Plate)
		}
		inShop, err := s.store.FindMaintenance(ctx, db.MaintenanceFilter{
			VehicleID: in.VehicleID,
			States:    []models.MaintenanceState{models.MaintenanceInProgress},
		})
		if err != nil {
			return err
		}
		if len(inShop) > 0 {
			return apperrors.Precondition("vehicle %s has maintenance %s in progress", vehicle.Plate, inShop[0].ID.Hex())
		}

		if vehicles.Expired(driver.LicenseExpiry, now) {
			return apperrors.Precondition("driver %s license expired on %s", driver.Name, driver.LicenseExpiry.Format("2006-01-02"))
		}
		if err := vehicles.CheckAvailableForTrip(vehicle, now); err != nil {
			return err
		}

		candidate := &models.Trip{DepartureAt: in.DepartureAt, EstimatedArrivalAt: in.EstimatedArrivalAt}
		if candidate.EndAt(DefaultWindow).Before(candidate.DepartureAt) {
			return apperrors.Precondition("estimated arrival is before departure")
		}
		if err := s.checkOverlap(ctx, db.TripFilter{VehicleID: in.VehicleID}, candidate, "vehicle "+vehicle.Plate); err != nil {
			return err
		}
		if err := s.checkOverlap(ctx, db.TripFilter{DriverID: in.DriverID}, candidate, "driver "+driver.Name); err != nil {
			return err
		}

		if !money.Positive(in.Tariff) {
			return apperrors.Precondition("tariff must be greater than zero")
		}
		if driver.PayoutMode == models.PayoutPerTrip && (in.DriverAgreedAmount == nil || !money.Positive(*in.DriverAgreedAmount)) {
			return apperrors.Precondition("driver %s is paid per trip and needs an agreed amount greater than zero", driver.Name)
		}
		due, err := period.DueDate(in.DepartureAt, in.CreditTermDays)
		if err != nil {
			return apperrors.Precondition("%v", err)
		}

		if _, err := vehicles.Update(ctx, s.store, in.VehicleID, now, func(*models.Vehicle) error { return nil }); err != nil {
			return err
		}
		if err := s.store.UpdateDriver(ctx, driver); err != nil {
			return err
		}

		trip = &models.Trip{
			VehicleID:           in.VehicleID,
			DriverID:            in.DriverID,
			ClientID:            in.ClientID,
			MaterialID:          in.MaterialID,
			Origin:              in.Origin,
			Destination:         in.Destination,
			State:               models.TripPlanned,
			DepartureAt:         in.DepartureAt,
			EstimatedArrivalAt:  in.EstimatedArrivalAt,
			EstimatedDistanceKm: in.EstimatedDistanceKm,
			Tariff:              money.Round(in.Tariff),
			DriverAgreedAmount:  in.DriverAgreedAmount,
			CreditTermDays:      in.CreditTermDays,
			PaymentDueDate:      due,
			ClientPaymentState:  models.ClientPaymentPending,
			Notes:               in.Notes,
			CreatedAt:           now,
			UpdatedAt:           now,
		}
		return s.store.InsertTrip(ctx, trip)
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"trip_id":    trip.ID.Hex(),
		"vehicle_id": trip.VehicleID,
		"driver_id":  trip.DriverID,
		"departure":  trip.DepartureAt,
	}).Info("Trip created")
	s.audit.Record(ctx, "create", entityKind, trip.ID.Hex(), nil, *trip)
	return trip, nil
}

func (s *Service) checkOverlap(ctx context.Context, filter db.TripFilter, candidate *models.Trip, owner string) error {
	filter.States = activeStates
	trips, err := s.store.FindTrips(ctx, filter)
	if err != nil {
		return err
	}
	start, end := candidate.DepartureAt, candidate.EndAt(DefaultWindow)
	for _, t := range trips {
		if period.Overlaps(start, end, t.DepartureAt, t.EndAt(DefaultWindow)) {
			return apperrors.Precondition("%s already has trip %s (%s) between %s and %s", owner, t.ID.Hex(), t.State,
				t.DepartureAt.Format(time.RFC3339), t.EndAt(DefaultWindow).Format(time.RFC3339))
		}
	}
	return nil
}

// TransitionData carries the optional data of a transition.
type TransitionData struct {
	ActualDistanceKm *float64 `json:"actual_distance_km,omitempty"` // COMPLETED
	CancelReason     string   `json:"cancel_reason,omitempty"`      // CANCELLED
}

// Transition moves a trip to target together with its vehicle and, on
// completion, the driver's payout, in one atomic unit.
func (s *Service) Transition(ctx context.Context, id string, target models.TripState, data *TransitionData) (*models.Trip, error) {
	if data == nil {
		data = &TransitionData{}
	}
	var (
		trip    *models.Trip
		before  models.Trip
		payment *models.DriverPayment
	)
	err := s.store.RunAtomic(ctx, func(ctx context.Context) error {
		var err error
		trip, err = s.store.FindTripByID(ctx, id)
		if err != nil {
			return err
		}
		before = *trip
		from := trip.State
		if !CanTransition(from, target) {
			return apperrors.InvalidTransition("trip", from, target)
		}

		if target == models.TripCompleted && data.ActualDistanceKm != nil {
			if err := checkDistance(*data.ActualDistanceKm, trip.EstimatedDistanceKm); err != nil {
				return err
			}
			distance := *data.ActualDistanceKm
			trip.ActualDistanceKm = &distance
		}

		if target == models.TripInProgress {
			if err := s.checkNotRunning(ctx, trip); err != nil {
				return err
			}
		}

		now := s.clock.Now()
		_, err = vehicles.Update(ctx, s.store, trip.VehicleID, now, func(v *models.Vehicle) error {
			switch target {
			case models.TripInProgress:
				if v.State != models.VehicleActive {
					return apperrors.Precondition("vehicle %s is %s", v.Plate, v.State)
				}
				vehicles.SetState(v, models.VehicleOnRoute)
			case models.TripCompleted, models.TripCancelled:
				if from == models.TripInProgress && v.State == models.VehicleOnRoute {
					vehicles.SetState(v, models.VehicleActive)
				}
				if target == models.TripCompleted && trip.ActualDistanceKm != nil {
					return vehicles.ApplyOdometer(v, vehicles.OdometerChange{Kind: vehicles.Increment, Km: *trip.ActualDistanceKm})
				}
			}
			return nil
		})
		if err != nil {
			return err
		}

		switch target {
		case models.TripInProgress:
			trip.ActualDepartureAt = &now
		case models.TripCompleted:
			trip.ActualArrivalAt = &now
		case models.TripCancelled:
			trip.CancelReason = data.CancelReason
		}
		trip.State = target
		trip.UpdatedAt = now
		if err := s.store.UpdateTrip(ctx, trip); err != nil {
			return err
		}

		if target != models.TripCompleted {
			return nil
		}
		driver, err := s.store.FindDriverByID(ctx, trip.DriverID)
		if err != nil {
			return err
		}
		var created bool
		payment, created, err = s.payments.EnsurePending(ctx, trip, driver)
		if !created {
			payment = nil
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"trip_id": id,
		"from":    before.State,
		"to":      trip.State,
	}).Info("Trip transitioned")
	s.audit.Record(ctx, "transition", entityKind, id, before, *trip)
	if payment != nil {
		s.audit.Record(ctx, "create", "driver_payment", payment.ID.Hex(), nil, *payment)
	}
	return trip, nil
}

// checkNotRunning rejects starting trip while its vehicle or driver is
// still on another trip.
func (s *Service) checkNotRunning(ctx context.Context, trip *models.Trip) error {
	running := []models.TripState{models.TripInProgress}
	onVehicle, err := s.store.FindTrips(ctx, db.TripFilter{VehicleID: trip.VehicleID, States: running})
	if err != nil {
		return err
	}
	if len(onVehicle) > 0 {
		return apperrors.Precondition("vehicle is still on trip %s", onVehicle[0].ID.Hex())
	}
	withDriver, err := s.store.FindTrips(ctx, db.TripFilter{DriverID: trip.DriverID, States: running})
	if err != nil {
		return err
	}
	if len(withDriver) > 0 {
		return apperrors.Precondition("driver is still on trip %s", withDriver[0].ID.Hex())
	}
	return nil
}

func checkDistance(actual, estimated float64) error {
	if actual < 0 {
		return apperrors.Implausible("actual distance %.1f km is negative", actual)
	}
	if estimated <= 0 {
		return nil
	}
	low, high := money.Mul(estimated, MinDistanceRatio), money.Mul(estimated, MaxDistanceRatio)
	if !money.Between(actual, low, high) {
		return apperrors.Implausible("actual distance %.1f km is outside the accepted %.1f to %.1f km for an estimate of %.1f km",
			actual, low, high, estimated)
	}
	return nil
}

// RegisterClientPayment adds amount to what the client has paid for the
// trip and recomputes the client payment state. The cumulative amount may
// not exceed the tariff.
func (s *Service) RegisterClientPayment(ctx context.Context, id string, amount float64) (*models.Trip, error) {
	if !money.Positive(amount) {
		return nil, apperrors.Precondition("client payment must be greater than zero")
	}
	var (
		trip   *models.Trip
		before models.Trip
	)
	err := s.store.RunAtomic(ctx, func(ctx context.Context) error {
		var err error
		trip, err = s.store.FindTripByID(ctx, id)
		if err != nil {
			return err
		}
		before = *trip
		if trip.State == models.TripCancelled {
			return apperrors.Precondition("trip %s is cancelled", id)
		}
		paid := money.Add(trip.AmountPaidByClient, amount)
		if money.Greater(paid, trip.Tariff) {
			return apperrors.Precondition("client payment of %.2f would bring the total to %.2f, above the tariff of %.2f",
				amount, paid, trip.Tariff)
		}
		trip.AmountPaidByClient = paid
		trip.ClientPaymentState = ClientPaymentState(paid, trip.Tariff)
		trip.UpdatedAt = s.clock.Now()
		return s.store.UpdateTrip(ctx, trip)
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"trip_id": id,
		"paid":    trip.AmountPaidByClient,
		"state":   trip.ClientPaymentState,
	}).Info("Client payment registered")
	s.audit.Record(ctx, "client_payment", entityKind, id, before, *trip)
	return trip, nil
}

// ClientPaymentState derives the client payment state from the amount
// paid so far.
func ClientPaymentState(paid, tariff float64) models.ClientPaymentState {
	switch {
	case !money.Positive(paid):
		return models.ClientPaymentPending
	case money.AtLeast(paid, tariff):
		return models.ClientPaymentPaid
	default:
		return models.ClientPaymentPartial
	}
}
