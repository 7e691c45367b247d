package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-haulage/internal/apperrors"
	"github.com/ukydev/fleet-haulage/internal/clock"
	"github.com/ukydev/fleet-haulage/internal/db"
	"github.com/ukydev/fleet-haulage/internal/maintenance"
	"github.com/ukydev/fleet-haulage/internal/models"
	"github.com/ukydev/fleet-haulage/internal/money"
	"github.com/ukydev/fleet-haulage/internal/payments"
	"github.com/ukydev/fleet-haulage/internal/period"
	"github.com/ukydev/fleet-haulage/internal/trips"
)

// Config tunes the automation.
type Config struct {
	TripStartInterval   time.Duration
	MaintenanceInterval time.Duration
	PayoutInterval      time.Duration

	ServiceIntervalKm  float64 // default when the vehicle sets none
	MaintenanceAlertKm float64
	PayoutLeadDays     int
	PayoutCatchUpDays  int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		TripStartInterval:   time.Minute,
		MaintenanceInterval: 5 * time.Minute,
		PayoutInterval:      time.Hour,
		ServiceIntervalKm:   10000,
		MaintenanceAlertKm:  500,
		PayoutLeadDays:      3,
		PayoutCatchUpDays:   7,
	}
}

// Summary counts what one tick did.
type Summary struct {
	Task      string
	Processed int
	Skipped   int
	Failed    int
}

func (s Summary) fields() logrus.Fields {
	return logrus.Fields{"task": s.Task, "processed": s.Processed, "skipped": s.Skipped, "failed": s.Failed}
}

// Automation implements the three ticks on top of the services. Each
// tick is idempotent and isolates failures per trip, vehicle or driver.
type Automation struct {
	store       db.Store
	trips       *trips.Service
	maintenance *maintenance.Service
	payments    *payments.Service
	clock       clock.Clock
	log         logrus.FieldLogger
	cfg         Config
}

// NewAutomation creates an Automation.
func NewAutomation(store db.Store, tripSvc *trips.Service, maintenanceSvc *maintenance.Service, paymentSvc *payments.Service,
	clk clock.Clock, logger logrus.FieldLogger, cfg Config) *Automation {
	return &Automation{
		store:       store,
		trips:       tripSvc,
		maintenance: maintenanceSvc,
		payments:    paymentSvc,
		clock:       clk,
		log:         logger,
		cfg:         cfg,
	}
}

// Tasks returns the ticks as scheduler tasks.
func (a *Automation) Tasks() []Task {
	wrap := func(tick func(context.Context) (Summary, error)) func(context.Context) error {
		return func(ctx context.Context) error {
			summary, err := tick(ctx)
			if err != nil {
				return err
			}
			if summary.Processed > 0 || summary.Failed > 0 {
				a.log.WithFields(summary.fields()).Info("Tick finished")
			}
			return nil
		}
	}
	return []Task{
		{Name: "trip-auto-start", Interval: a.cfg.TripStartInterval, Run: wrap(a.AutoStartTrips)},
		{Name: "maintenance-auto-create", Interval: a.cfg.MaintenanceInterval, Run: wrap(a.EnsureMaintenance)},
		{Name: "payout-generation", Interval: a.cfg.PayoutInterval, Run: wrap(a.GeneratePayouts)},
	}
}

// unitFailed logs a per-unit failure. A lost race with a concurrent run
// counts as skipped.
func (a *Automation) unitFailed(summary *Summary, fields logrus.Fields, err error) {
	entry := a.log.WithFields(fields).WithError(err)
	switch apperrors.KindOf(err) {
	case apperrors.KindInvalidTransition, apperrors.KindConflict:
		summary.Skipped++
		entry.Debug("Unit already handled by a concurrent run")
	case "":
		summary.Failed++
		entry.Error("Scheduled unit failed")
	default:
		summary.Failed++
		entry.Warn("Scheduled unit rejected")
	}
}

// AutoStartTrips starts every PLANNED trip whose departure has passed.
func (a *Automation) AutoStartTrips(ctx context.Context) (Summary, error) {
	summary := Summary{Task: "trip-auto-start"}
	now := a.clock.Now()
	due, err := a.store.FindTrips(ctx, db.TripFilter{States: []models.TripState{models.TripPlanned}, DepartureBefore: &now})
	if err != nil {
		return summary, fmt.Errorf("failed to list due trips: %w", err)
	}
	for _, trip := range due {
		if _, err := a.trips.Transition(ctx, trip.ID.Hex(), models.TripInProgress, nil); err != nil {
			a.unitFailed(&summary, logrus.Fields{"trip_id": trip.ID.Hex()}, err)
			continue
		}
		summary.Processed++
	}
	return summary, nil
}

// EnsureMaintenance opens a preventive ticket for every ACTIVE or
// ON_ROUTE vehicle within the alert distance of its next service, or
// past its next service date.
func (a *Automation) EnsureMaintenance(ctx context.Context) (Summary, error) {
	summary := Summary{Task: "maintenance-auto-create"}
	fleet, err := a.store.FindVehicles(ctx, db.VehicleFilter{States: []models.VehicleState{models.VehicleActive, models.VehicleOnRoute}})
	if err != nil {
		return summary, fmt.Errorf("failed to list vehicles: %w", err)
	}
	now := a.clock.Now()
	for i := range fleet {
		v := &fleet[i]
		fields := logrus.Fields{"vehicle_id": v.ID.Hex(), "plate": v.Plate}

		target, err := a.nextServiceOdometer(ctx, v)
		if err != nil {
			a.unitFailed(&summary, fields, err)
			continue
		}
		remaining := target - v.CurrentOdometer
		dateDue := v.NextMaintenanceDate != nil && !now.Before(*v.NextMaintenanceDate)
		if remaining > a.cfg.MaintenanceAlertKm && !dateDue {
			summary.Skipped++
			continue
		}

		description := fmt.Sprintf("Preventive service due in %.0f km", remaining)
		switch {
		case remaining < 0:
			description = fmt.Sprintf("Preventive service overdue by %.0f km", -remaining)
		case remaining > a.cfg.MaintenanceAlertKm:
			description = fmt.Sprintf("Preventive service due since %s", v.NextMaintenanceDate.Format("2006-01-02"))
		}
		_, created, err := a.maintenance.EnsurePreventive(ctx, v.ID.Hex(), description)
		if err != nil {
			a.unitFailed(&summary, fields, err)
			continue
		}
		if created {
			summary.Processed++
			a.log.WithFields(fields).WithField("km_remaining", remaining).Info("Preventive maintenance scheduled")
		} else {
			summary.Skipped++
		}
	}
	return summary, nil
}

// nextServiceOdometer is the vehicle's explicit target, or the odometer
// of its last completed service plus its service interval.
func (a *Automation) nextServiceOdometer(ctx context.Context, v *models.Vehicle) (float64, error) {
	if v.NextMaintenanceOdometer != nil {
		return *v.NextMaintenanceOdometer, nil
	}
	interval := v.ServiceIntervalKm
	if interval <= 0 {
		interval = a.cfg.ServiceIntervalKm
	}
	done, err := a.store.FindMaintenance(ctx, db.MaintenanceFilter{
		VehicleID: v.ID.Hex(),
		States:    []models.MaintenanceState{models.MaintenanceCompleted},
	})
	if err != nil {
		return 0, err
	}
	last := 0.0
	for _, m := range done {
		km := m.OdometerAtCreation
		if m.OdometerAtCompletion != nil {
			km = *m.OdometerAtCompletion
		}
		if km > last {
			last = km
		}
	}
	return last + interval, nil
}

// GeneratePayouts creates the salary payouts of every active salaried
// driver whose generation window is open. A payout is generated from
// PayoutLeadDays before its pay day and for PayoutCatchUpDays after that.
func (a *Automation) GeneratePayouts(ctx context.Context) (Summary, error) {
	summary := Summary{Task: "payout-generation"}
	drivers, err := a.store.FindDrivers(ctx, db.DriverFilter{
		PayoutMode: models.PayoutSalaried,
		States:     []models.DriverState{models.DriverActive},
	})
	if err != nil {
		return summary, fmt.Errorf("failed to list salaried drivers: %w", err)
	}
	now := a.clock.Now()
	for _, d := range drivers {
		if d.HireDate == nil || !money.Positive(d.Salary) {
			summary.Skipped++
			continue
		}
		fields := logrus.Fields{"driver_id": d.ID.Hex(), "driver": d.Name}
		for _, due := range a.duePayouts(d, now) {
			_, created, err := a.payments.EnsureSalaryPayout(ctx, d.ID.Hex(), due.tag, due.payDay, due.amount)
			if err != nil {
				a.unitFailed(&summary, fields, err)
				continue
			}
			if created {
				summary.Processed++
				a.log.WithFields(fields).WithFields(logrus.Fields{
					"tag":     due.tag,
					"pay_day": due.payDay.Format("2006-01-02"),
					"amount":  due.amount,
				}).Info("Salary payout generated")
			}
		}
	}
	return summary, nil
}

type payout struct {
	tag    string
	payDay time.Time
	amount float64
}

// duePayouts lists the payouts whose window contains now. The previous,
// current and next months are considered so windows crossing a month
// boundary are found.
func (a *Automation) duePayouts(d models.Driver, now time.Time) []payout {
	amount := d.Salary
	if d.Biweekly {
		amount = money.Half(d.Salary)
	}
	thisMonth := period.Month(now).From
	var due []payout
	for _, offset := range []int{-1, 0, 1} {
		month := thisMonth.AddDate(0, offset, 0)
		candidates := []payout{{tag: models.TagSalary, payDay: period.PayDay(month, d.HireDate.Day()), amount: amount}}
		if d.Biweekly {
			candidates = append(candidates, payout{tag: models.TagSalarySecond, payDay: period.PayDay(month, 15), amount: amount})
		}
		for _, p := range candidates {
			if a.windowOpen(p.payDay, now) {
				due = append(due, p)
			}
		}
	}
	return due
}

func (a *Automation) windowOpen(payDay, now time.Time) bool {
	from := payDay.AddDate(0, 0, -a.cfg.PayoutLeadDays)
	until := from.AddDate(0, 0, a.cfg.PayoutCatchUpDays+1)
	return !now.Before(from) && now.Before(until)
}
