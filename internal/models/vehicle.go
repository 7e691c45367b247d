package models

import (
	"go.mongodb.org/mongo-driver/bson/primitive"
	"time"
)

// VehicleState is the operational state of a vehicle.
type VehicleState string

const (
	VehicleActive        VehicleState = "ACTIVE"
	VehicleOnRoute       VehicleState = "ON_ROUTE"
	VehicleInMaintenance VehicleState = "IN_MAINTENANCE"
	VehicleInactive      VehicleState = "INACTIVE"
)

// Vehicle represents a fleet vehicle.
type Vehicle struct {
	ID                      primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Plate                   string             `bson:"plate" json:"plate"`
	Make                    string             `bson:"make" json:"make"`
	Model                   string             `bson:"model" json:"model"`
	Year                    int                `bson:"year" json:"year"`
	State                   VehicleState       `bson:"state" json:"state"`
	CurrentOdometer         float64            `bson:"current_odometer" json:"current_odometer"`       // in kilometers
	ServiceIntervalKm       float64            `bson:"service_interval_km" json:"service_interval_km"` // 0 uses the fleet default
	InsuranceExpiry         *time.Time         `bson:"insurance_expiry,omitempty" json:"insurance_expiry,omitempty"`
	RegistrationExpiry      *time.Time         `bson:"registration_expiry,omitempty" json:"registration_expiry,omitempty"`
	RoadworthinessExpiry    *time.Time         `bson:"roadworthiness_expiry,omitempty" json:"roadworthiness_expiry,omitempty"`
	LastMaintenanceDate     *time.Time         `bson:"last_maintenance_date,omitempty" json:"last_maintenance_date,omitempty"`
	NextMaintenanceDate     *time.Time         `bson:"next_maintenance_date,omitempty" json:"next_maintenance_date,omitempty"`
	NextMaintenanceOdometer *float64           `bson:"next_maintenance_odometer,omitempty" json:"next_maintenance_odometer,omitempty"`
	Version                 int64              `bson:"version" json:"version"`
	CreatedAt               time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt               time.Time          `bson:"updated_at" json:"updated_at"`
}
