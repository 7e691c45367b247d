package db

import (
	"context"
	"time"

	"github.com/ukydev/fleet-haulage/internal/models"
	"github.com/ukydev/fleet-haulage/internal/period"
)

// VehicleCollection defines the interface for vehicle data operations.
type VehicleCollection interface {
	InsertVehicle(ctx context.Context, vehicle *models.Vehicle) error
	FindVehicleByID(ctx context.Context, id string) (*models.Vehicle, error)
	FindVehicles(ctx context.Context, filter VehicleFilter) ([]models.Vehicle, error)
	UpdateVehicle(ctx context.Context, vehicle *models.Vehicle) error
}

// DriverCollection defines the interface for driver data operations.
type DriverCollection interface {
	InsertDriver(ctx context.Context, driver *models.Driver) error
	FindDriverByID(ctx context.Context, id string) (*models.Driver, error)
	FindDrivers(ctx context.Context, filter DriverFilter) ([]models.Driver, error)
	UpdateDriver(ctx context.Context, driver *models.Driver) error
}

// ClientCollection defines the interface for client data operations.
type ClientCollection interface {
	InsertClient(ctx context.Context, client *models.Client) error
	FindClientByID(ctx context.Context, id string) (*models.Client, error)
}

// MaterialCollection defines the interface for material data operations.
type MaterialCollection interface {
	InsertMaterial(ctx context.Context, material *models.Material) error
	FindMaterialByID(ctx context.Context, id string) (*models.Material, error)
}

// TripCollection defines the interface for trip data operations.
type TripCollection interface {
	InsertTrip(ctx context.Context, trip *models.Trip) error
	FindTripByID(ctx context.Context, id string) (*models.Trip, error)
	FindTrips(ctx context.Context, filter TripFilter) ([]models.Trip, error)
	UpdateTrip(ctx context.Context, trip *models.Trip) error
}

// MaintenanceCollection defines the interface for maintenance data operations.
type MaintenanceCollection interface {
	InsertMaintenance(ctx context.Context, maintenance *models.Maintenance) error
	FindMaintenanceByID(ctx context.Context, id string) (*models.Maintenance, error)
	FindMaintenance(ctx context.Context, filter MaintenanceFilter) ([]models.Maintenance, error)
	UpdateMaintenance(ctx context.Context, maintenance *models.Maintenance) error
}

// PaymentCollection defines the interface for driver payment data operations.
type PaymentCollection interface {
	InsertPayment(ctx context.Context, payment *models.DriverPayment) error
	FindPaymentByID(ctx context.Context, id string) (*models.DriverPayment, error)
	FindPayments(ctx context.Context, filter PaymentFilter) ([]models.DriverPayment, error)
	UpdatePayment(ctx context.Context, payment *models.DriverPayment) error
}

// Store is the persistence contract of the engine.
//
// Insert assigns an ID when missing and sets Version to 1. Update
// succeeds only if the stored Version equals the entity's Version, then
// increments it; otherwise it returns an apperrors Conflict.
//
// RunAtomic runs fn as one all-or-nothing unit. Every collection call
// made with the ctx passed to fn joins the unit. A nested RunAtomic
// joins the outer unit.
type Store interface {
	VehicleCollection
	DriverCollection
	ClientCollection
	MaterialCollection
	TripCollection
	MaintenanceCollection
	PaymentCollection

	RunAtomic(ctx context.Context, fn func(ctx context.Context) error) error
}

// VehicleFilter selects vehicles. Zero fields match everything.
type VehicleFilter struct {
	States []models.VehicleState
}

// DriverFilter selects drivers.
type DriverFilter struct {
	PayoutMode models.PayoutMode
	States     []models.DriverState
}

// TripFilter selects trips.
type TripFilter struct {
	VehicleID       string
	DriverID        string
	States          []models.TripState
	DepartureBefore *time.Time // departure_at <= value
}

// MaintenanceFilter selects maintenance tickets.
type MaintenanceFilter struct {
	VehicleID string
	States    []models.MaintenanceState
}

// PaymentFilter selects driver payments.
type PaymentFilter struct {
	DriverID    string
	TripID      string
	States      []models.PaymentState
	Tag         string
	ScheduledIn *period.Range
}

func matchVehicle(f VehicleFilter, v *models.Vehicle) bool {
	return len(f.States) == 0 || contains(f.States, v.State)
}

func matchDriver(f DriverFilter, d *models.Driver) bool {
	if f.PayoutMode != "" && d.PayoutMode != f.PayoutMode {
		return false
	}
	return len(f.States) == 0 || contains(f.States, d.State)
}

func matchTrip(f TripFilter, t *models.Trip) bool {
	if f.VehicleID != "" && t.VehicleID != f.VehicleID {
		return false
	}
	if f.DriverID != "" && t.DriverID != f.DriverID {
		return false
	}
	if len(f.States) > 0 && !contains(f.States, t.State) {
		return false
	}
	if f.DepartureBefore != nil && t.DepartureAt.After(*f.DepartureBefore) {
		return false
	}
	return true
}

func matchMaintenance(f MaintenanceFilter, m *models.Maintenance) bool {
	if f.VehicleID != "" && m.VehicleID != f.VehicleID {
		return false
	}
	return len(f.States) == 0 || contains(f.States, m.State)
}

func matchPayment(f PaymentFilter, p *models.DriverPayment) bool {
	if f.DriverID != "" && p.DriverID != f.DriverID {
		return false
	}
	if f.TripID != "" && (p.TripID == nil || *p.TripID != f.TripID) {
		return false
	}
	if len(f.States) > 0 && !contains(f.States, p.State) {
		return false
	}
	if f.Tag != "" && p.Tag != f.Tag {
		return false
	}
	if f.ScheduledIn != nil && !f.ScheduledIn.Contains(p.ScheduledDate) {
		return false
	}
	return true
}

func contains[S comparable](set []S, value S) bool {
	for _, s := range set {
		if s == value {
			return true
		}
	}
	return false
}
