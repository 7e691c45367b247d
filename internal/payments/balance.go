package payments

import (
	"context"
	"time"

	"github.com/ukydev/fleet-haulage/internal/db"
	"github.com/ukydev/fleet-haulage/internal/models"
	"github.com/ukydev/fleet-haulage/internal/money"
	"github.com/ukydev/fleet-haulage/internal/period"
)

// Balance summarises what a driver is owed.
//
// Per-trip drivers: Agreed is the agreed amount of trips completed in
// the period, Paid the PAID payments settled in the period, Outstanding
// their difference. Salaried drivers: Generated is every scheduler
// payout scheduled in the period, Pending the part still PENDING, Paid
// the rest, Outstanding equals Pending.
type Balance struct {
	DriverID    string            `json:"driver_id"`
	PayoutMode  models.PayoutMode `json:"payout_mode"`
	Period      *period.Range     `json:"period,omitempty"`
	Agreed      float64           `json:"agreed"`
	Generated   float64           `json:"generated"`
	Pending     float64           `json:"pending"`
	Paid        float64           `json:"paid"`
	Outstanding float64           `json:"outstanding"`
}

// Balance computes the driver's balance, over all time when r is nil.
func (s *Service) Balance(ctx context.Context, driverID string, r *period.Range) (*Balance, error) {
	driver, err := s.store.FindDriverByID(ctx, driverID)
	if err != nil {
		return nil, err
	}
	payments, err := s.store.FindPayments(ctx, db.PaymentFilter{DriverID: driverID})
	if err != nil {
		return nil, err
	}
	balance := &Balance{DriverID: driverID, PayoutMode: driver.PayoutMode, Period: r}

	if driver.PayoutMode == models.PayoutSalaried {
		for _, p := range payments {
			if p.Tag == "" || !inRange(r, p.ScheduledDate) {
				continue
			}
			balance.Generated = money.Add(balance.Generated, p.Amount)
			if p.State == models.PaymentPending {
				balance.Pending = money.Add(balance.Pending, p.Amount)
			}
		}
		balance.Paid = money.Sub(balance.Generated, balance.Pending)
		balance.Outstanding = balance.Pending
		return balance, nil
	}

	trips, err := s.store.FindTrips(ctx, db.TripFilter{DriverID: driverID, States: []models.TripState{models.TripCompleted}})
	if err != nil {
		return nil, err
	}
	for _, t := range trips {
		completedAt := t.UpdatedAt
		if t.ActualArrivalAt != nil {
			completedAt = *t.ActualArrivalAt
		}
		if inRange(r, completedAt) {
			balance.Agreed = money.Add(balance.Agreed, t.AgreedAmount())
		}
	}
	for _, p := range payments {
		switch {
		case p.State == models.PaymentPaid && p.ActualPaymentDate != nil && inRange(r, *p.ActualPaymentDate):
			balance.Paid = money.Add(balance.Paid, p.Amount)
		case p.State == models.PaymentPending && inRange(r, p.ScheduledDate):
			balance.Pending = money.Add(balance.Pending, p.Amount)
		}
	}
	balance.Outstanding = money.Sub(balance.Agreed, balance.Paid)
	return balance, nil
}

func inRange(r *period.Range, t time.Time) bool {
	return r == nil || r.Contains(t)
}
