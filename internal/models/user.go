package models

import (
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Role represents user roles in the system
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleDispatcher Role = "dispatcher"
	RoleAccountant Role = "accountant"
	RoleViewer     Role = "viewer"
)

// Actions checked by HasPermission.
const (
	ActionManageTrips       = "manage_trips"
	ActionClientPayments    = "client_payments"
	ActionManageMaintenance = "manage_maintenance"
	ActionDriverPayments    = "driver_payments"
	ActionViewBalances      = "view_balances"
)

// User is the identity behind an API token.
type User struct {
	ID       primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Username string             `bson:"username" json:"username"`
	Role     Role               `bson:"role" json:"role"`
	IsActive bool               `bson:"is_active" json:"is_active"`
}

// Claims represents JWT claims
type Claims struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Role     Role   `json:"role"`
	Exp      int64  `json:"exp"`
}

// IsValidRole checks if a role is valid
func IsValidRole(role Role) bool {
	switch role {
	case RoleAdmin, RoleDispatcher, RoleAccountant, RoleViewer:
		return true
	default:
		return false
	}
}

// HasPermission checks if a user has permission for a specific action
func (u *User) HasPermission(action string) bool {
	switch u.Role {
	case RoleAdmin:
		return true
	case RoleDispatcher:
		return action == ActionManageTrips || action == ActionManageMaintenance ||
			action == ActionViewBalances
	case RoleAccountant:
		return action == ActionClientPayments || action == ActionDriverPayments ||
			action == ActionViewBalances
	case RoleViewer:
		return action == ActionViewBalances
	default:
		return false
	}
}
