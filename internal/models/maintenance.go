package models

import (
	"go.mongodb.org/mongo-driver/bson/primitive"
	"time"
)

// MaintenanceType distinguishes scheduled service from repairs.
type MaintenanceType string

const (
	MaintenancePreventive MaintenanceType = "PREVENTIVE"
	MaintenanceCorrective MaintenanceType = "CORRECTIVE"
)

// MaintenanceState is the lifecycle state of a maintenance ticket.
type MaintenanceState string

const (
	MaintenancePending    MaintenanceState = "PENDING"
	MaintenanceInProgress MaintenanceState = "IN_PROGRESS"
	MaintenanceCompleted  MaintenanceState = "COMPLETED"
	MaintenanceCancelled  MaintenanceState = "CANCELLED"
)

// Maintenance origins.
const (
	OriginOperator  = "operator"
	OriginScheduler = "scheduler"
)

// Maintenance represents a vehicle maintenance ticket.
type Maintenance struct {
	ID                   primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	VehicleID            string             `json:"vehicle_id" bson:"vehicle_id"`
	Type                 MaintenanceType    `json:"type" bson:"type"`
	State                MaintenanceState   `json:"state" bson:"state"`
	Shop                 string             `json:"shop" bson:"shop"`
	Description          string             `json:"description" bson:"description"`
	LaborCost            float64            `json:"labor_cost" bson:"labor_cost"`
	PartsCost            float64            `json:"parts_cost" bson:"parts_cost"`
	TotalCost            float64            `json:"total_cost" bson:"total_cost"`
	OdometerAtCreation   float64            `json:"odometer_at_creation" bson:"odometer_at_creation"`
	OdometerAtCompletion *float64           `json:"odometer_at_completion,omitempty" bson:"odometer_at_completion,omitempty"`
	NextDueOdometer      *float64           `json:"next_due_odometer,omitempty" bson:"next_due_odometer,omitempty"`
	NextDueDate          *time.Time         `json:"next_due_date,omitempty" bson:"next_due_date,omitempty"`
	StartedAt            *time.Time         `json:"started_at,omitempty" bson:"started_at,omitempty"`
	CompletedAt          *time.Time         `json:"completed_at,omitempty" bson:"completed_at,omitempty"`
	Origin               string             `json:"origin" bson:"origin"`
	ReceiptURL           string             `json:"receipt_url,omitempty" bson:"receipt_url,omitempty"`
	ReceiptRef           string             `json:"receipt_ref,omitempty" bson:"receipt_ref,omitempty"`
	Version              int64              `json:"version" bson:"version"`
	CreatedAt            time.Time          `json:"created_at" bson:"created_at"`
	UpdatedAt            time.Time          `json:"updated_at" bson:"updated_at"`
}

// Open reports whether the ticket still holds the vehicle.
func (m *Maintenance) Open() bool {
	return m.State == MaintenancePending || m.State == MaintenanceInProgress
}
