package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// PaymentState is the settlement state of a driver payment.
type PaymentState string

const (
	PaymentPending PaymentState = "PENDING"
	PaymentPaid    PaymentState = "PAID"
)

// Payout tags set by the scheduler on salaried payouts.
const (
	TagSalary       = "SALARY"
	TagSalarySecond = "SALARY_Q2"
)

// DriverPayment is one entry of the driver payment ledger.
type DriverPayment struct {
	ID                primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	DriverID          string             `json:"driver_id" bson:"driver_id"`
	TripID            *string            `json:"trip_id,omitempty" bson:"trip_id,omitempty"`
	Amount            float64            `json:"amount" bson:"amount"`
	State             PaymentState       `json:"state" bson:"state"`
	ScheduledDate     time.Time          `json:"scheduled_date" bson:"scheduled_date"`
	ActualPaymentDate *time.Time         `json:"actual_payment_date,omitempty" bson:"actual_payment_date,omitempty"`
	Description       string             `json:"description" bson:"description"`
	Tag               string             `json:"tag,omitempty" bson:"tag,omitempty"`       // scheduler payouts only
	Period            string             `json:"period,omitempty" bson:"period,omitempty"` // "2006-01"
	Method            string             `json:"method,omitempty" bson:"method,omitempty"` // "cash", "transfer", ...
	ReceiptURL        string             `json:"receipt_url,omitempty" bson:"receipt_url,omitempty"`
	ReceiptRef        string             `json:"receipt_ref,omitempty" bson:"receipt_ref,omitempty"`
	Notes             string             `json:"notes,omitempty" bson:"notes,omitempty"`
	Version           int64              `json:"version" bson:"version"`
	CreatedAt         time.Time          `json:"created_at" bson:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at" bson:"updated_at"`
}
