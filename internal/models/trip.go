package models

import (
	"go.mongodb.org/mongo-driver/bson/primitive"
	"time"
)

// TripState is the lifecycle state of a trip.
type TripState string

const (
	TripPlanned    TripState = "PLANNED"
	TripInProgress TripState = "IN_PROGRESS"
	TripCompleted  TripState = "COMPLETED"
	TripCancelled  TripState = "CANCELLED"
)

// ClientPaymentState tracks how much of the tariff the client has paid.
type ClientPaymentState string

const (
	ClientPaymentPending ClientPaymentState = "PENDING"
	ClientPaymentPartial ClientPaymentState = "PARTIAL"
	ClientPaymentPaid    ClientPaymentState = "PAID"
)

// Trip represents one haul of a vehicle and driver for a client.
type Trip struct {
	ID                  primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	VehicleID           string             `json:"vehicle_id" bson:"vehicle_id"`
	DriverID            string             `json:"driver_id" bson:"driver_id"`
	ClientID            string             `json:"client_id" bson:"client_id"`
	MaterialID          string             `json:"material_id" bson:"material_id"`
	Origin              string             `json:"origin" bson:"origin"`
	Destination         string             `json:"destination" bson:"destination"`
	State               TripState          `json:"state" bson:"state"`
	DepartureAt         time.Time          `json:"departure_at" bson:"departure_at"`
	EstimatedArrivalAt  *time.Time         `json:"estimated_arrival_at,omitempty" bson:"estimated_arrival_at,omitempty"`
	ActualDepartureAt   *time.Time         `json:"actual_departure_at,omitempty" bson:"actual_departure_at,omitempty"`
	ActualArrivalAt     *time.Time         `json:"actual_arrival_at,omitempty" bson:"actual_arrival_at,omitempty"`
	EstimatedDistanceKm float64            `json:"estimated_distance_km" bson:"estimated_distance_km"`
	ActualDistanceKm    *float64           `json:"actual_distance_km,omitempty" bson:"actual_distance_km,omitempty"`
	Tariff              float64            `json:"tariff" bson:"tariff"`
	DriverAgreedAmount  *float64           `json:"driver_agreed_amount,omitempty" bson:"driver_agreed_amount,omitempty"`
	CreditTermDays      int                `json:"credit_term_days" bson:"credit_term_days"`
	PaymentDueDate      time.Time          `json:"payment_due_date" bson:"payment_due_date"`
	ClientPaymentState  ClientPaymentState `json:"client_payment_state" bson:"client_payment_state"`
	AmountPaidByClient  float64            `json:"amount_paid_by_client" bson:"amount_paid_by_client"`
	CancelReason        string             `json:"cancel_reason,omitempty" bson:"cancel_reason,omitempty"`
	Notes               string             `json:"notes" bson:"notes"`
	Version             int64              `json:"version" bson:"version"`
	CreatedAt           time.Time          `json:"created_at" bson:"created_at"`
	UpdatedAt           time.Time          `json:"updated_at" bson:"updated_at"`
}

// EndAt is the end of the trip's planned window. Trips without an
// estimated arrival occupy window hours from departure.
func (t *Trip) EndAt(window time.Duration) time.Time {
	if t.EstimatedArrivalAt != nil {
		return *t.EstimatedArrivalAt
	}
	return t.DepartureAt.Add(window)
}

// AgreedAmount returns the driver's agreed amount, or 0 when unset.
func (t *Trip) AgreedAmount() float64 {
	if t.DriverAgreedAmount == nil {
		return 0
	}
	return *t.DriverAgreedAmount
}
