// Package vehicles is the single place where trips and maintenance
// change a vehicle. Callers load, mutate and save the vehicle inside
// their own atomic unit through Update, so concurrent mutations from
// either machine surface as a version Conflict.
package vehicles

import (
	"context"
	"time"

	"github.com/ukydev/fleet-haulage/internal/apperrors"
	"github.com/ukydev/fleet-haulage/internal/db"
	"github.com/ukydev/fleet-haulage/internal/models"
	"github.com/ukydev/fleet-haulage/internal/period"
)

// OdometerKind selects how an odometer reading is applied.
type OdometerKind int

const (
	// Increment adds a completed trip's distance.
	Increment OdometerKind = iota
	// Reset overwrites the odometer with a reading taken at the shop.
	Reset
)

// OdometerChange is one odometer mutation.
type OdometerChange struct {
	Kind OdometerKind
	Km   float64
}

// Update loads the vehicle, applies mutate and saves it with a version
// check. ctx should belong to the caller's atomic unit.
func Update(ctx context.Context, store db.VehicleCollection, id string, now time.Time, mutate func(v *models.Vehicle) error) (*models.Vehicle, error) {
	v, err := store.FindVehicleByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := mutate(v); err != nil {
		return nil, err
	}
	v.UpdatedAt = now
	if err := store.UpdateVehicle(ctx, v); err != nil {
		return nil, err
	}
	return v, nil
}

// SetState moves the vehicle to target.
func SetState(v *models.Vehicle, target models.VehicleState) {
	v.State = target
}

// ApplyOdometer is the only operation that changes CurrentOdometer. The
// odometer never decreases.
func ApplyOdometer(v *models.Vehicle, change OdometerChange) error {
	switch change.Kind {
	case Increment:
		if change.Km < 0 {
			return apperrors.Precondition("trip distance %.1f km is negative", change.Km)
		}
		v.CurrentOdometer += change.Km
	case Reset:
		if change.Km < v.CurrentOdometer {
			return apperrors.Precondition("odometer reading %.1f km is below the current %.1f km", change.Km, v.CurrentOdometer)
		}
		v.CurrentOdometer = change.Km
	default:
		return apperrors.Precondition("unknown odometer change %d", change.Kind)
	}
	return nil
}

// Expired reports whether a document with the given expiry is no longer
// valid on today. A document expiring today is still valid.
func Expired(expiry *time.Time, today time.Time) bool {
	return expiry != nil && expiry.Before(period.StartOfDay(today))
}

// CheckAvailableForTrip verifies the vehicle's state and documents.
func CheckAvailableForTrip(v *models.Vehicle, today time.Time) error {
	switch v.State {
	case models.VehicleInactive:
		return apperrors.Precondition("vehicle %s is inactive", v.Plate)
	case models.VehicleInMaintenance:
		return apperrors.Precondition("vehicle %s is in maintenance", v.Plate)
	}
	docs := []struct {
		name   string
		expiry *time.Time
	}{
		{"insurance", v.InsuranceExpiry},
		{"registration", v.RegistrationExpiry},
		{"roadworthiness certificate", v.RoadworthinessExpiry},
	}
	for _, doc := range docs {
		if Expired(doc.expiry, today) {
			return apperrors.Precondition("vehicle %s %s expired on %s", v.Plate, doc.name, doc.expiry.Format("2006-01-02"))
		}
	}
	return nil
}
