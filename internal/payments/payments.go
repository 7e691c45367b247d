// Package payments is the driver payment ledger: creation, full or
// partial settlement, per-driver balances and the idempotent payouts
// generated by trip completion and the scheduler.
package payments

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
	"github.com/ukydev/fleet-haulage/internal/period"
	"github.com/ukydev/fleet-haulage/internal/receipts"
)

const (
	entityKind    = "driver_payment"
	receiptFolder = "driver-payments"
)

// Service implements the driver payment operations.
type Service struct {
	store    db.Store
	receipts receipts.Store
	audit    *audit.Recorder
	clock    clock.Clock
	log      logrus.FieldLogger
}

// NewService creates a payment ledger service.
func NewService(store db.Store, rs receipts.Store, rec *audit.Recorder, clk clock.Clock, logger logrus.FieldLogger) *Service {
	return &Service{store: store, receipts: rs, audit: rec, clock: clk, log: logger}
}

// CreateInput holds the fields an operator may set on a new payment.
type CreateInput struct {
	DriverID      string    `json:"driver_id"`
	TripID        string    `json:"trip_id,omitempty"`
	Amount        float64   `json:"amount"`
	ScheduledDate time.Time `json:"scheduled_date"` // zero means today
	Description   string    `json:"description"`
	Method        string    `json:"method,omitempty"`
	Notes         string    `json:"notes,omitempty"`
	PaidNow       bool      `json:"paid_now"`
	Receipt       []byte    `json:"-"`
}

// Create records a driver payment. A trip payment may not push the
// trip's PENDING+PAID total above its agreed amount.
func (s *Service) Create(ctx context.Context, in CreateInput) (*models.DriverPayment, error) {
	if !money.Positive(in.Amount) {
		return nil, apperrors.Precondition("payment amount must be greater than zero")
	}
	if _, err := s.store.FindDriverByID(ctx, in.DriverID); err != nil {
		return nil, err
	}
	if in.TripID != "" {
		trip, err := s.store.FindTripByID(ctx, in.TripID)
		if err != nil {
			return nil, err
		}
		if err := s.checkTripCap(ctx, trip, in.DriverID, in.Amount); err != nil {
			return nil, err
		}
	}

	now := s.clock.Now()
	payment := &models.DriverPayment{
		DriverID:      in.DriverID,
		Amount:        money.Round(in.Amount),
		State:         models.PaymentPending,
		ScheduledDate: in.ScheduledDate,
		Description:   in.Description,
		Method:        in.Method,
		Notes:         in.Notes,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if payment.ScheduledDate.IsZero() {
		payment.ScheduledDate = period.StartOfDay(now)
	}
	payment.Period = period.Key(payment.ScheduledDate)
	if in.TripID != "" {
		tripID := in.TripID
		payment.TripID = &tripID
	}
	if in.PaidNow {
		payment.State = models.PaymentPaid
		payment.ActualPaymentDate = &now
	}

	if len(in.Receipt) > 0 {
		receipt, err := s.receipts.Store(ctx, in.Receipt, receiptFolder)
		if err != nil {
			return nil, fmt.Errorf("failed to store receipt: %w", err)
		}
		payment.ReceiptURL, payment.ReceiptRef = receipt.URL, receipt.Ref
	}

	err := s.store.RunAtomic(ctx, func(ctx context.Context) error {
		if err := s.claimDriver(ctx, in.DriverID); err != nil {
			return err
		}
		if payment.TripID != nil {
			trip, err := s.store.FindTripByID(ctx, *payment.TripID)
			if err != nil {
				return err
			}
			if err := s.checkTripCap(ctx, trip, in.DriverID, payment.Amount); err != nil {
				return err
			}
		}
		return s.store.InsertPayment(ctx, payment)
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"payment_id": payment.ID.Hex(),
		"driver_id":  payment.DriverID,
		"amount":     payment.Amount,
		"state":      payment.State,
	}).Info("Driver payment created")
	s.audit.Record(ctx, "create", entityKind, payment.ID.Hex(), nil, *payment)
	return payment, nil
}

func (s *Service) checkTripCap(ctx context.Context, trip *models.Trip, driverID string, amount float64) error {
	if trip.DriverID != driverID {
		return apperrors.Precondition("trip %s is not assigned to driver %s", trip.ID.Hex(), driverID)
	}
	if trip.State == models.TripCancelled {
		return apperrors.Precondition("trip %s is cancelled", trip.ID.Hex())
	}
	agreed := trip.AgreedAmount()
	if !money.Positive(agreed) {
		return apperrors.Precondition("trip %s has no driver agreed amount", trip.ID.Hex())
	}
	existing, err := s.store.FindPayments(ctx, db.PaymentFilter{TripID: trip.ID.Hex()})
	if err != nil {
		return err
	}
	committed := 0.0
	for _, p := range existing {
		committed = money.Add(committed, p.Amount)
	}
	if money.Exceeds(money.Add(committed, amount), agreed) {
		return apperrors.Precondition("payment of %.2f exceeds the agreed amount for trip %s (%.2f of %.2f already committed)",
			amount, trip.ID.Hex(), committed, agreed)
	}
	return nil
}

// claimDriver bumps the driver's version so that concurrent ledger
// inserts for the same driver conflict instead of both passing their
// existence or cap checks.
func (s *Service) claimDriver(ctx context.Context, driverID string) error {
	driver, err := s.store.FindDriverByID(ctx, driverID)
	if err != nil {
		return err
	}
	return s.store.UpdateDriver(ctx, driver)
}

// EnsurePending creates the PENDING payout of a completed per-trip
// trip unless one already exists. It joins the caller's atomic unit and
// reports whether a payment was created.
func (s *Service) EnsurePending(ctx context.Context, trip *models.Trip, driver *models.Driver) (*models.DriverPayment, bool, error) {
	agreed := trip.AgreedAmount()
	if driver.PayoutMode != models.PayoutPerTrip || !money.Positive(agreed) {
		return nil, false, nil
	}

	var (
		payment *models.DriverPayment
		created bool
	)
	err := s.store.RunAtomic(ctx, func(ctx context.Context) error {
		if err := s.claimDriver(ctx, driver.ID.Hex()); err != nil {
			return err
		}
		existing, err := s.store.FindPayments(ctx, db.PaymentFilter{TripID: trip.ID.Hex()})
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			payment = &existing[0]
			return nil
		}
		now := s.clock.Now()
		tripID := trip.ID.Hex()
		payment = &models.DriverPayment{
			DriverID:      driver.ID.Hex(),
			TripID:        &tripID,
			Amount:        money.Round(agreed),
			State:         models.PaymentPending,
			ScheduledDate: period.StartOfDay(now),
			Period:        period.Key(now),
			Description:   fmt.Sprintf("Trip %s to %s", trip.Origin, trip.Destination),
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		created = true
		return s.store.InsertPayment(ctx, payment)
	})
	if err != nil {
		return nil, false, err
	}
	return payment, created, nil
}

// EnsureSalaryPayout creates a scheduler payout tagged tag for the month
// of scheduled unless the driver already has one for that month.
func (s *Service) EnsureSalaryPayout(ctx context.Context, driverID, tag string, scheduled time.Time, amount float64) (*models.DriverPayment, bool, error) {
	if !money.Positive(amount) {
		return nil, false, apperrors.Precondition("payout amount must be greater than zero")
	}
	month := period.Month(scheduled)

	var payment *models.DriverPayment
	err := s.store.RunAtomic(ctx, func(ctx context.Context) error {
		if err := s.claimDriver(ctx, driverID); err != nil {
			return err
		}
		existing, err := s.store.FindPayments(ctx, db.PaymentFilter{DriverID: driverID, Tag: tag, ScheduledIn: &month})
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return nil
		}
		now := s.clock.Now()
		payment = &models.DriverPayment{
			DriverID:      driverID,
			Amount:        money.Round(amount),
			State:         models.PaymentPending,
			ScheduledDate: scheduled,
			Period:        period.Key(scheduled),
			Tag:           tag,
			Description:   payoutDescription(tag, scheduled),
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		return s.store.InsertPayment(ctx, payment)
	})
	if err != nil || payment == nil {
		return nil, false, err
	}
	s.audit.Record(ctx, "create", entityKind, payment.ID.Hex(), nil, *payment)
	return payment, true, nil
}

func payoutDescription(tag string, scheduled time.Time) string {
	if tag == models.TagSalarySecond {
		return fmt.Sprintf("Salary %s, second half", period.Key(scheduled))
	}
	return fmt.Sprintf("Salary %s", period.Key(scheduled))
}

// Settlement is the result of Settle. Remainder is set only for a
// partial settlement.
type Settlement struct {
	Paid      *models.DriverPayment `json:"paid"`
	Remainder *models.DriverPayment `json:"remainder,omitempty"`
}

// Settle marks a PENDING payment as PAID. amountPaid defaults to the
// pending amount; paying less than that splits the payment into a PAID
// part and a new PENDING remainder with the same trip, driver and
// scheduled date.
func (s *Service) Settle(ctx context.Context, id string, amountPaid *float64) (*Settlement, error) {
	var (
		result Settlement
		before models.DriverPayment
	)
	err := s.store.RunAtomic(ctx, func(ctx context.Context) error {
		payment, err := s.store.FindPaymentByID(ctx, id)
		if err != nil {
			return err
		}
		before = *payment
		if payment.State != models.PaymentPending {
			return apperrors.InvalidTransition("driver payment", payment.State, models.PaymentPaid)
		}

		paid := payment.Amount
		if amountPaid != nil {
			paid = money.Round(*amountPaid)
		}
		if !money.Positive(paid) {
			return apperrors.Precondition("settled amount must be greater than zero")
		}
		if money.Exceeds(paid, payment.Amount) {
			return apperrors.Precondition("settled amount %.2f exceeds the pending %.2f", paid, payment.Amount)
		}

		now := s.clock.Now()
		if money.LessBeyond(paid, payment.Amount) {
			result.Remainder = &models.DriverPayment{
				DriverID:      payment.DriverID,
				TripID:        payment.TripID,
				Amount:        money.Sub(payment.Amount, paid),
				State:         models.PaymentPending,
				ScheduledDate: payment.ScheduledDate,
				Description:   payment.Description,
				Tag:           payment.Tag,
				Period:        payment.Period,
				Notes:         fmt.Sprintf("Remainder of payment %s", payment.ID.Hex()),
				CreatedAt:     now,
				UpdatedAt:     now,
			}
			payment.Amount = paid
		}
		payment.State = models.PaymentPaid
		payment.ActualPaymentDate = &now
		payment.UpdatedAt = now
		if err := s.store.UpdatePayment(ctx, payment); err != nil {
			return err
		}
		result.Paid = payment
		if result.Remainder != nil {
			return s.store.InsertPayment(ctx, result.Remainder)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	fields := logrus.Fields{"payment_id": id, "amount": result.Paid.Amount}
	if result.Remainder != nil {
		fields["remainder_id"] = result.Remainder.ID.Hex()
		fields["remainder"] = result.Remainder.Amount
		s.audit.Record(ctx, "create", entityKind, result.Remainder.ID.Hex(), nil, *result.Remainder)
	}
	s.log.WithFields(fields).Info("Driver payment settled")
	s.audit.Record(ctx, "settle", entityKind, id, before, *result.Paid)
	return &result, nil
}
