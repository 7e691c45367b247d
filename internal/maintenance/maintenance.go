// Package maintenance is the maintenance ticket state machine and its
// effect on vehicle availability.
package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-haulage/internal/apperrors"
	"github.com/ukydev/fleet-haulage/internal/audit"
	"github.com/ukydev/fleet-haulage/internal/clock"
	"github.com/ukydev/fleet-haulage/internal/db"
	"github.com/ukydev/fleet-haulage/internal/models"
	"github.com/ukydev/fleet-haulage/internal/money"
	"github.com/ukydev/fleet-haulage/internal/receipts"
	"github.com/ukydev/fleet-haulage/internal/vehicles"
)

const (
	entityKind    = "maintenance"
	receiptFolder = "maintenance"

	// NextServiceAfter is the date-based reminder set on completion.
	NextServiceAfter = 90 * 24 * time.Hour
)

// Transitions lists the allowed target states per source state.
// Completion is allowed straight from PENDING for work recorded after
// the fact.
var Transitions = map[models.MaintenanceState][]models.MaintenanceState{
	models.MaintenancePending:    {models.MaintenanceInProgress, models.MaintenanceCancelled, models.MaintenanceCompleted},
	models.MaintenanceInProgress: {models.MaintenanceCompleted},
	models.MaintenanceCompleted:  {},
	models.MaintenanceCancelled:  {},
}

// CanTransition reports whether from → to is allowed.
func CanTransition(from, to models.MaintenanceState) bool {
	for _, target := range Transitions[from] {
		if target == to {
			return true
		}
	}
	return false
}

var openStates = []models.MaintenanceState{models.MaintenancePending, models.MaintenanceInProgress}

// Service implements the maintenance operations.
type Service struct {
	store    db.Store
	receipts receipts.Store
	audit    *audit.Recorder
	clock    clock.Clock
	log      logrus.FieldLogger
}

// NewService creates a maintenance service.
func NewService(store db.Store, rs receipts.Store, rec *audit.Recorder, clk clock.Clock, logger logrus.FieldLogger) *Service {
	return &Service{store: store, receipts: rs, audit: rec, clock: clk, log: logger}
}

// CreateInput holds the fields of a new ticket.
type CreateInput struct {
	VehicleID       string                 `json:"vehicle_id"`
	Type            models.MaintenanceType `json:"type"`
	Shop            string                 `json:"shop"`
	Description     string                 `json:"description"`
	NextDueOdometer *float64               `json:"next_due_odometer,omitempty"`
	NextDueDate     *time.Time             `json:"next_due_date,omitempty"`
	Receipt         []byte                 `json:"-"`
}

// Create opens a ticket. CORRECTIVE tickets start IN_PROGRESS and put
// the vehicle IN_MAINTENANCE; PREVENTIVE tickets start PENDING.
func (s *Service) Create(ctx context.Context, in CreateInput) (*models.Maintenance, error) {
	switch in.Type {
	case models.MaintenancePreventive:
	case models.MaintenanceCorrective:
		if in.Shop == "" {
			return nil, apperrors.Precondition("corrective maintenance requires a shop")
		}
	default:
		return nil, apperrors.Precondition("unknown maintenance type %q", in.Type)
	}
	vehicle, err := s.store.FindVehicleByID(ctx, in.VehicleID)
	if err != nil {
		return nil, err
	}
	if vehicle.State == models.VehicleInactive {
		return nil, apperrors.Precondition("vehicle %s is inactive", vehicle.Plate)
	}

	now := s.clock.Now()
	ticket := &models.Maintenance{
		VehicleID:       in.VehicleID,
		Type:            in.Type,
		State:           models.MaintenancePending,
		Shop:            in.Shop,
		Description:     in.Description,
		NextDueOdometer: in.NextDueOdometer,
		NextDueDate:     in.NextDueDate,
		Origin:          models.OriginOperator,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if len(in.Receipt) > 0 {
		receipt, err := s.receipts.Store(ctx, in.Receipt, receiptFolder)
		if err != nil {
			return nil, fmt.Errorf("failed to store receipt: %w", err)
		}
		ticket.ReceiptURL, ticket.ReceiptRef = receipt.URL, receipt.Ref
	}

	err = s.store.RunAtomic(ctx, func(ctx context.Context) error {
		if err := s.checkNoOpenTicket(ctx, in.VehicleID); err != nil {
			return err
		}
		if in.Type == models.MaintenanceCorrective {
			if err := s.checkNoTrip(ctx, in.VehicleID, models.TripInProgress); err != nil {
				return err
			}
			ticket.State = models.MaintenanceInProgress
			ticket.StartedAt = &now
		}
		v, err := vehicles.Update(ctx, s.store, in.VehicleID, now, func(v *models.Vehicle) error {
			if v.State == models.VehicleInactive {
				return apperrors.Precondition("vehicle %s is inactive", v.Plate)
			}
			if in.Type == models.MaintenanceCorrective {
				vehicles.SetState(v, models.VehicleInMaintenance)
			}
			return nil
		})
		if err != nil {
			return err
		}
		ticket.OdometerAtCreation = v.CurrentOdometer
		return s.store.InsertMaintenance(ctx, ticket)
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"maintenance_id": ticket.ID.Hex(),
		"vehicle_id":     ticket.VehicleID,
		"type":           ticket.Type,
		"state":          ticket.State,
	}).Info("Maintenance ticket created")
	s.audit.Record(ctx, "create", entityKind, ticket.ID.Hex(), nil, *ticket)
	return ticket, nil
}

// EnsurePreventive opens a PENDING PREVENTIVE ticket for the vehicle
// unless it already has an open one. It reports whether a ticket was
// created.
func (s *Service) EnsurePreventive(ctx context.Context, vehicleID, description string) (*models.Maintenance, bool, error) {
	var (
		ticket  *models.Maintenance
		created bool
	)
	err := s.store.RunAtomic(ctx, func(ctx context.Context) error {
		open, err := s.store.FindMaintenance(ctx, db.MaintenanceFilter{VehicleID: vehicleID, States: openStates})
		if err != nil {
			return err
		}
		if len(open) > 0 {
			ticket = &open[0]
			return nil
		}
		now := s.clock.Now()
		v, err := vehicles.Update(ctx, s.store, vehicleID, now, func(v *models.Vehicle) error {
			if v.State == models.VehicleInactive {
				return apperrors.Precondition("vehicle %s is inactive", v.Plate)
			}
			return nil
		})
		if err != nil {
			return err
		}
		ticket = &models.Maintenance{
			VehicleID:          vehicleID,
			Type:               models.MaintenancePreventive,
			State:              models.MaintenancePending,
			Description:        description,
			OdometerAtCreation: v.CurrentOdometer,
			Origin:             models.OriginScheduler,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		created = true
		return s.store.InsertMaintenance(ctx, ticket)
	})
	if err != nil {
		return nil, false, err
	}
	if created {
		s.audit.Record(ctx, "create", entityKind, ticket.ID.Hex(), nil, *ticket)
	}
	return ticket, created, nil
}

// Start moves a PENDING ticket to IN_PROGRESS and the vehicle to
// IN_MAINTENANCE. The vehicle may not be committed to a trip.
func (s *Service) Start(ctx context.Context, id, shop string) (*models.Maintenance, error) {
	var before models.Maintenance
	ticket, err := s.mutate(ctx, id, models.MaintenanceInProgress, &before, func(ctx context.Context, m *models.Maintenance, now time.Time) error {
		if shop != "" {
			m.Shop = shop
		}
		if m.Shop == "" {
			return apperrors.Precondition("a shop is required to start maintenance")
		}
		if err := s.checkNoTrip(ctx, m.VehicleID, models.TripPlanned, models.TripInProgress); err != nil {
			return err
		}
		_, err := vehicles.Update(ctx, s.store, m.VehicleID, now, func(v *models.Vehicle) error {
			if v.State == models.VehicleInactive {
				return apperrors.Precondition("vehicle %s is inactive", v.Plate)
			}
			vehicles.SetState(v, models.VehicleInMaintenance)
			return nil
		})
		if err != nil {
			return err
		}
		m.StartedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"maintenance_id": id, "shop": ticket.Shop}).Info("Maintenance started")
	s.audit.Record(ctx, "start", entityKind, id, before, *ticket)
	return ticket, nil
}

// CompleteInput holds the completion data of a ticket.
type CompleteInput struct {
	LaborCost       float64    `json:"labor_cost"`
	PartsCost       float64    `json:"parts_cost"`
	Odometer        *float64   `json:"odometer,omitempty"`
	NextDueOdometer *float64   `json:"next_due_odometer,omitempty"`
	NextDueDate     *time.Time `json:"next_due_date,omitempty"`
}

// Complete closes a ticket, records its cost and returns the vehicle to
// ACTIVE. An odometer reading resets the vehicle's odometer, and is
// refused while the vehicle is on a trip. The next
// service is due by odometer when NextDueOdometer is given, otherwise by
// date.
func (s *Service) Complete(ctx context.Context, id string, in CompleteInput) (*models.Maintenance, error) {
	if in.LaborCost < 0 || in.PartsCost < 0 {
		return nil, apperrors.Precondition("maintenance costs cannot be negative")
	}
	var before models.Maintenance
	ticket, err := s.mutate(ctx, id, models.MaintenanceCompleted, &before, func(ctx context.Context, m *models.Maintenance, now time.Time) error {
		m.LaborCost = money.Round(in.LaborCost)
		m.PartsCost = money.Round(in.PartsCost)
		m.TotalCost = money.Add(in.LaborCost, in.PartsCost)
		m.CompletedAt = &now

		v, err := vehicles.Update(ctx, s.store, m.VehicleID, now, func(v *models.Vehicle) error {
			if in.Odometer != nil {
				if v.State == models.VehicleOnRoute {
					return apperrors.Precondition("vehicle %s is on a trip; its odometer is updated when the trip completes", v.Plate)
				}
				if err := vehicles.ApplyOdometer(v, vehicles.OdometerChange{Kind: vehicles.Reset, Km: *in.Odometer}); err != nil {
					return err
				}
			}
			if v.State == models.VehicleInMaintenance {
				vehicles.SetState(v, models.VehicleActive)
			}
			v.LastMaintenanceDate = &now
			if in.NextDueOdometer != nil {
				v.NextMaintenanceOdometer = in.NextDueOdometer
				v.NextMaintenanceDate = nil
			} else {
				due := now.Add(NextServiceAfter)
				if in.NextDueDate != nil {
					due = *in.NextDueDate
				}
				v.NextMaintenanceDate = &due
				v.NextMaintenanceOdometer = nil
			}
			return nil
		})
		if err != nil {
			return err
		}
		odometer := v.CurrentOdometer
		m.OdometerAtCompletion = &odometer
		m.NextDueOdometer = v.NextMaintenanceOdometer
		m.NextDueDate = v.NextMaintenanceDate
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{
		"maintenance_id": id,
		"vehicle_id":     ticket.VehicleID,
		"total_cost":     ticket.TotalCost,
	}).Info("Maintenance completed")
	s.audit.Record(ctx, "complete", entityKind, id, before, *ticket)
	return ticket, nil
}

// Cancel cancels a PENDING ticket.
func (s *Service) Cancel(ctx context.Context, id string) (*models.Maintenance, error) {
	var before models.Maintenance
	ticket, err := s.mutate(ctx, id, models.MaintenanceCancelled, &before, func(context.Context, *models.Maintenance, time.Time) error {
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.WithField("maintenance_id", id).Info("Maintenance cancelled")
	s.audit.Record(ctx, "cancel", entityKind, id, before, *ticket)
	return ticket, nil
}

// mutate loads a ticket, checks the transition to target and saves the
// result of apply in one atomic unit.
func (s *Service) mutate(ctx context.Context, id string, target models.MaintenanceState, before *models.Maintenance,
	apply func(ctx context.Context, m *models.Maintenance, now time.Time) error) (*models.Maintenance, error) {
	var ticket *models.Maintenance
	err := s.store.RunAtomic(ctx, func(ctx context.Context) error {
		m, err := s.store.FindMaintenanceByID(ctx, id)
		if err != nil {
			return err
		}
		*before = *m
		if !CanTransition(m.State, target) {
			return apperrors.InvalidTransition("maintenance", m.State, target)
		}
		now := s.clock.Now()
		if err := apply(ctx, m, now); err != nil {
			return err
		}
		m.State = target
		m.UpdatedAt = now
		if err := s.store.UpdateMaintenance(ctx, m); err != nil {
			return err
		}
		ticket = m
		return nil
	})
	return ticket, err
}

func (s *Service) checkNoOpenTicket(ctx context.Context, vehicleID string) error {
	open, err := s.store.FindMaintenance(ctx, db.MaintenanceFilter{VehicleID: vehicleID, States: openStates})
	if err != nil {
		return err
	}
	if len(open) > 0 {
		return apperrors.Precondition("vehicle %s already has open maintenance %s", vehicleID, open[0].ID.Hex())
	}
	return nil
}

func (s *Service) checkNoTrip(ctx context.Context, vehicleID string, states ...models.TripState) error {
	trips, err := s.store.FindTrips(ctx, db.TripFilter{VehicleID: vehicleID, States: states})
	if err != nil {
		return err
	}
	if len(trips) > 0 {
		return apperrors.Precondition("vehicle %s is committed to trip %s (%s)", vehicleID, trips[0].ID.Hex(), trips[0].State)
	}
	return nil
}
