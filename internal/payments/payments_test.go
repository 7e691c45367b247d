package payments

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/fleet-haulage/internal/apperrors"
	"github.com/ukydev/fleet-haulage/internal/audit"
	"github.com/ukydev/fleet-haulage/internal/clock"
	"github.com/ukydev/fleet-haulage/internal/db"
	"github.com/ukydev/fleet-haulage/internal/models"
	"github.com/ukydev/fleet-haulage/internal/money"
	"github.com/ukydev/fleet-haulage/internal/period"
	"github.com/ukydev/fleet-haulage/internal/receipts"
)

var testNow = time.Date(2026, 3, 12, 14, 0, 0, 0, time.UTC)

type fixture struct {
	store    *db.MemoryStore
	receipts *receipts.MemoryStore
	clock    *clock.FakeClock
	svc      *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger, _ := test.NewNullLogger()
	f := &fixture{
		store:    db.NewMemoryStore(),
		receipts: receipts.NewMemoryStore(),
		clock:    clock.Fake(testNow),
	}
	rec := audit.NewRecorder(audit.NopSink{}, f.clock, logger)
	f.svc = NewService(f.store, f.receipts, rec, f.clock, logger)
	return f
}

func (f *fixture) driver(t *testing.T, mode models.PayoutMode) *models.Driver {
	t.Helper()
	d := &models.Driver{Name: "Luis", State: models.DriverActive, PayoutMode: mode, Salary: 1200}
	require.NoError(t, f.store.InsertDriver(context.Background(), d))
	return d
}

func (f *fixture) completedTrip(t *testing.T, driver *models.Driver, agreed float64) *models.Trip {
	t.Helper()
	arrived := testNow.Add(-time.Hour)
	trip := &models.Trip{
		DriverID:           driver.ID.Hex(),
		VehicleID:          "v1",
		State:              models.TripCompleted,
		DepartureAt:        testNow.Add(-10 * time.Hour),
		ActualArrivalAt:    &arrived,
		Tariff:             2000,
		DriverAgreedAmount: &agreed,
	}
	require.NoError(t, f.store.InsertTrip(context.Background(), trip))
	return trip
}

func ptr[T any](v T) *T { return &v }

func TestSettle_PartialSplitsPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	driver := f.driver(t, models.PayoutPerTrip)
	trip := f.completedTrip(t, driver, 300)

	payment, err := f.svc.Create(ctx, CreateInput{
		DriverID:      driver.ID.Hex(),
		TripID:        trip.ID.Hex(),
		Amount:        300,
		ScheduledDate: testNow.AddDate(0, 0, 5),
	})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPending, payment.State)

	f.clock.Advance(24 * time.Hour)
	result, err := f.svc.Settle(ctx, payment.ID.Hex(), ptr(120.0))
	require.NoError(t, err)

	assert.Equal(t, models.PaymentPaid, result.Paid.State)
	assert.Equal(t, 120.0, result.Paid.Amount)
	require.NotNil(t, result.Paid.ActualPaymentDate)
	assert.Equal(t, f.clock.Now(), *result.Paid.ActualPaymentDate)

	require.NotNil(t, result.Remainder)
	assert.Equal(t, models.PaymentPending, result.Remainder.State)
	assert.Equal(t, 180.0, result.Remainder.Amount)
	assert.Equal(t, trip.ID.Hex(), *result.Remainder.TripID)
	assert.Equal(t, driver.ID.Hex(), result.Remainder.DriverID)
	assert.Equal(t, payment.ScheduledDate, result.Remainder.ScheduledDate)

	all, err := f.store.FindPayments(ctx, db.PaymentFilter{TripID: trip.ID.Hex()})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, 300.0, money.Add(all[0].Amount, all[1].Amount))
}

func TestSettle_Full(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	driver := f.driver(t, models.PayoutPerTrip)

	payment, err := f.svc.Create(ctx, CreateInput{DriverID: driver.ID.Hex(), Amount: 300})
	require.NoError(t, err)

	result, err := f.svc.Settle(ctx, payment.ID.Hex(), nil)
	require.NoError(t, err)
	assert.Nil(t, result.Remainder)
	assert.Equal(t, 300.0, result.Paid.Amount)

	_, err = f.svc.Settle(ctx, payment.ID.Hex(), nil)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidTransition))
}

func TestSettle_WithinEpsilonSettlesInPlace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	driver := f.driver(t, models.PayoutPerTrip)
	payment, err := f.svc.Create(ctx, CreateInput{DriverID: driver.ID.Hex(), Amount: 300})
	require.NoError(t, err)

	result, err := f.svc.Settle(ctx, payment.ID.Hex(), ptr(299.97))
	require.NoError(t, err)
	assert.Nil(t, result.Remainder)
	assert.Equal(t, 300.0, result.Paid.Amount)
}

func TestSettle_RejectsBadAmounts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	driver := f.driver(t, models.PayoutPerTrip)
	payment, err := f.svc.Create(ctx, CreateInput{DriverID: driver.ID.Hex(), Amount: 300})
	require.NoError(t, err)

	for _, amount := range []float64{0, -10, 300.10} {
		_, err := f.svc.Settle(ctx, payment.ID.Hex(), ptr(amount))
		assert.True(t, errors.Is(err, apperrors.ErrPreconditionFailed), "amount %v", amount)
	}

	stored, err := f.store.FindPaymentByID(ctx, payment.ID.Hex())
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPending, stored.State)

	_, err = f.svc.Settle(ctx, "000000000000000000000000", nil)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestCreate_TripCap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	driver := f.driver(t, models.PayoutPerTrip)
	other := f.driver(t, models.PayoutPerTrip)
	trip := f.completedTrip(t, driver, 500)

	_, err := f.svc.Create(ctx, CreateInput{DriverID: driver.ID.Hex(), TripID: trip.ID.Hex(), Amount: 300})
	require.NoError(t, err)

	_, err = f.svc.Create(ctx, CreateInput{DriverID: driver.ID.Hex(), TripID: trip.ID.Hex(), Amount: 250})
	assert.True(t, errors.Is(err, apperrors.ErrPreconditionFailed))

	_, err = f.svc.Create(ctx, CreateInput{DriverID: driver.ID.Hex(), TripID: trip.ID.Hex(), Amount: 200.04})
	require.NoError(t, err, "within epsilon of the agreed amount")

	_, err = f.svc.Create(ctx, CreateInput{DriverID: other.ID.Hex(), TripID: trip.ID.Hex(), Amount: 1})
	assert.True(t, errors.Is(err, apperrors.ErrPreconditionFailed))
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	driver := f.driver(t, models.PayoutPerTrip)

	_, err := f.svc.Create(ctx, CreateInput{DriverID: driver.ID.Hex(), Amount: 0})
	assert.True(t, errors.Is(err, apperrors.ErrPreconditionFailed))

	_, err = f.svc.Create(ctx, CreateInput{DriverID: "000000000000000000000000", Amount: 10})
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))

	_, err = f.svc.Create(ctx, CreateInput{DriverID: driver.ID.Hex(), TripID: "000000000000000000000000", Amount: 10})
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestCreate_Receipt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	driver := f.driver(t, models.PayoutPerTrip)

	payment, err := f.svc.Create(ctx, CreateInput{DriverID: driver.ID.Hex(), Amount: 50, PaidNow: true, Receipt: []byte("scan")})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPaid, payment.State)
	assert.NotEmpty(t, payment.ReceiptURL)
	_, ok := f.receipts.Get(payment.ReceiptRef)
	assert.True(t, ok)

	f.receipts.Err = errors.New("bucket unavailable")
	_, err = f.svc.Create(ctx, CreateInput{DriverID: driver.ID.Hex(), Amount: 50, Receipt: []byte("scan")})
	require.Error(t, err)

	all, err := f.store.FindPayments(ctx, db.PaymentFilter{DriverID: driver.ID.Hex()})
	require.NoError(t, err)
	assert.Len(t, all, 1, "failed upload must not create a payment")
}

func TestEnsurePending_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	driver := f.driver(t, models.PayoutPerTrip)
	trip := f.completedTrip(t, driver, 450)

	first, created, err := f.svc.EnsurePending(ctx, trip, driver)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, 450.0, first.Amount)

	second, created, err := f.svc.EnsurePending(ctx, trip, driver)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	salaried := f.driver(t, models.PayoutSalaried)
	payment, created, err := f.svc.EnsurePending(ctx, trip, salaried)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Nil(t, payment)
}

func TestEnsureSalaryPayout_OncePerMonthAndTag(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	driver := f.driver(t, models.PayoutSalaried)
	payDay := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, _ = f.svc.EnsureSalaryPayout(ctx, driver.ID.Hex(), models.TagSalary, payDay, 1200)
		}()
	}
	wg.Wait()

	_, created, err := f.svc.EnsureSalaryPayout(ctx, driver.ID.Hex(), models.TagSalary, payDay.AddDate(0, 0, 3), 1200)
	require.NoError(t, err)
	assert.False(t, created)

	_, created, err = f.svc.EnsureSalaryPayout(ctx, driver.ID.Hex(), models.TagSalarySecond, payDay, 600)
	require.NoError(t, err)
	assert.True(t, created)

	_, created, err = f.svc.EnsureSalaryPayout(ctx, driver.ID.Hex(), models.TagSalary, payDay.AddDate(0, 1, 0), 1200)
	require.NoError(t, err)
	assert.True(t, created)

	march := period.Month(payDay)
	salary, err := f.store.FindPayments(ctx, db.PaymentFilter{DriverID: driver.ID.Hex(), Tag: models.TagSalary, ScheduledIn: &march})
	require.NoError(t, err)
	require.Len(t, salary, 1)
	assert.Equal(t, "2026-03", salary[0].Period)
}

func TestBalance_PerTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	driver := f.driver(t, models.PayoutPerTrip)
	trip1 := f.completedTrip(t, driver, 300)
	f.completedTrip(t, driver, 200)

	payment, _, err := f.svc.EnsurePending(ctx, trip1, driver)
	require.NoError(t, err)
	_, err = f.svc.Settle(ctx, payment.ID.Hex(), ptr(100.0))
	require.NoError(t, err)

	march := period.Month(testNow)
	balance, err := f.svc.Balance(ctx, driver.ID.Hex(), &march)
	require.NoError(t, err)
	assert.Equal(t, 500.0, balance.Agreed)
	assert.Equal(t, 100.0, balance.Paid)
	assert.Equal(t, 200.0, balance.Pending)
	assert.Equal(t, 400.0, balance.Outstanding)

	april := period.Month(testNow.AddDate(0, 1, 0))
	balance, err = f.svc.Balance(ctx, driver.ID.Hex(), &april)
	require.NoError(t, err)
	assert.Zero(t, balance.Agreed)
	assert.Zero(t, balance.Paid)
}

func TestBalance_Salaried(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	driver := f.driver(t, models.PayoutSalaried)
	payDay := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	first, _, err := f.svc.EnsureSalaryPayout(ctx, driver.ID.Hex(), models.TagSalary, payDay, 600)
	require.NoError(t, err)
	_, _, err = f.svc.EnsureSalaryPayout(ctx, driver.ID.Hex(), models.TagSalarySecond, payDay.AddDate(0, 0, 5), 600)
	require.NoError(t, err)
	_, err = f.svc.Settle(ctx, first.ID.Hex(), nil)
	require.NoError(t, err)

	// Operator-created payments are not scheduler payouts.
	_, err = f.svc.Create(ctx, CreateInput{DriverID: driver.ID.Hex(), Amount: 75})
	require.NoError(t, err)

	march := period.Month(payDay)
	balance, err := f.svc.Balance(ctx, driver.ID.Hex(), &march)
	require.NoError(t, err)
	assert.Equal(t, models.PayoutSalaried, balance.PayoutMode)
	assert.Equal(t, 1200.0, balance.Generated)
	assert.Equal(t, 600.0, balance.Pending)
	assert.Equal(t, 600.0, balance.Paid)
	assert.Equal(t, 600.0, balance.Outstanding)
}
