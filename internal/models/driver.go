package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// DriverState is the employment state of a driver.
type DriverState string

const (
	DriverActive   DriverState = "ACTIVE"
	DriverInactive DriverState = "INACTIVE"
)

// PayoutMode selects how a driver is paid.
type PayoutMode string

const (
	PayoutPerTrip  PayoutMode = "PER_TRIP"
	PayoutSalaried PayoutMode = "SALARIED"
)

// Driver represents a fleet driver.
type Driver struct {
	ID             primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Name           string             `bson:"name" json:"name"`
	DocumentNumber string             `bson:"document_number" json:"document_number"`
	State          DriverState        `bson:"state" json:"state"`
	PayoutMode     PayoutMode         `bson:"payout_mode" json:"payout_mode"`
	Salary         float64            `bson:"salary" json:"salary"`     // monthly, salaried drivers only
	Biweekly       bool               `bson:"biweekly" json:"biweekly"` // salary split in two payouts per month
	HireDate       *time.Time         `bson:"hire_date,omitempty" json:"hire_date,omitempty"`
	LicenseExpiry  *time.Time         `bson:"license_expiry,omitempty" json:"license_expiry,omitempty"`
	Version        int64              `bson:"version" json:"version"`
	CreatedAt      time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt      time.Time          `bson:"updated_at" json:"updated_at"`
}

// Client is a customer that hires hauls.
type Client struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Name      string             `bson:"name" json:"name"`
	TaxID     string             `bson:"tax_id" json:"tax_id"`
	Active    bool               `bson:"active" json:"active"`
	CreatedAt time.Time          `bson:"created_at" json:"created_at"`
}

// Material is a kind of cargo.
type Material struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Name      string             `bson:"name" json:"name"`
	Unit      string             `bson:"unit" json:"unit"` // "ton", "m3", ...
	CreatedAt time.Time          `bson:"created_at" json:"created_at"`
}
