package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/fleet-haulage/internal/audit"
	"github.com/ukydev/fleet-haulage/internal/auth"
	"github.com/ukydev/fleet-haulage/internal/clock"
	"github.com/ukydev/fleet-haulage/internal/db"
	"github.com/ukydev/fleet-haulage/internal/maintenance"
	"github.com/ukydev/fleet-haulage/internal/middleware"
	"github.com/ukydev/fleet-haulage/internal/models"
	"github.com/ukydev/fleet-haulage/internal/payments"
	"github.com/ukydev/fleet-haulage/internal/receipts"
	"github.com/ukydev/fleet-haulage/internal/trips"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var testNow = time.Date(2026, 9, 14, 6, 0, 0, 0, time.UTC)

type server struct {
	mux      *http.ServeMux
	store    *db.MemoryStore
	receipts *receipts.MemoryStore
	auth     *auth.Service

	vehicle  *models.Vehicle
	driver   *models.Driver
	client   *models.Client
	material *models.Material
}

func newServer(t *testing.T) *server {
	t.Helper()
	logger, _ := test.NewNullLogger()
	clk := clock.Fake(testNow)
	s := &server{
		mux:      http.NewServeMux(),
		store:    db.NewMemoryStore(),
		receipts: receipts.NewMemoryStore(),
		auth:     auth.NewService("test-secret", time.Hour),
	}
	rec := audit.NewRecorder(audit.NopSink{}, clk, logger)
	ledger := payments.NewService(s.store, s.receipts, rec, clk, logger)
	h := NewFleetHandler(
		trips.NewService(s.store, ledger, rec, clk, logger),
		maintenance.NewService(s.store, s.receipts, rec, clk, logger),
		ledger,
		logger,
	)
	h.Routes(s.mux, middleware.NewAuthMiddleware(s.auth))

	ctx := context.Background()
	s.vehicle = &models.Vehicle{Plate: "TRK-200", State: models.VehicleActive, CurrentOdometer: 50000}
	require.NoError(t, s.store.InsertVehicle(ctx, s.vehicle))
	s.driver = &models.Driver{Name: "Iker", State: models.DriverActive, PayoutMode: models.PayoutPerTrip}
	require.NoError(t, s.store.InsertDriver(ctx, s.driver))
	s.client = &models.Client{Name: "Aridos Norte", Active: true}
	require.NoError(t, s.store.InsertClient(ctx, s.client))
	s.material = &models.Material{Name: "Sand", Unit: "m3"}
	require.NoError(t, s.store.InsertMaterial(ctx, s.material))
	return s
}

func (s *server) do(t *testing.T, role models.Role, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		require.NoError(t, err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	if role != "" {
		token, err := s.auth.GenerateToken(&models.User{ID: primitive.NewObjectID(), Username: "tester", Role: role})
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.mux.ServeHTTP(w, req)
	return w
}

func (s *server) createTrip(t *testing.T) *models.Trip {
	t.Helper()
	agreed := 300.0
	w := s.do(t, models.RoleDispatcher, http.MethodPost, "/api/trips", trips.CreateInput{
		VehicleID:           s.vehicle.ID.Hex(),
		DriverID:            s.driver.ID.Hex(),
		ClientID:            s.client.ID.Hex(),
		MaterialID:          s.material.ID.Hex(),
		Origin:              "Pit",
		Destination:         "Site",
		DepartureAt:         testNow.Add(time.Hour),
		EstimatedDistanceKm: 80,
		Tariff:              900,
		DriverAgreedAmount:  &agreed,
		CreditTermDays:      15,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var trip models.Trip
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &trip))
	return &trip
}

func TestTripEndpoints(t *testing.T) {
	s := newServer(t)
	trip := s.createTrip(t)
	assert.Equal(t, models.TripPlanned, trip.State)

	base := "/api/trips/" + trip.ID.Hex()
	w := s.do(t, models.RoleDispatcher, http.MethodPost, base+"/transition", transitionRequest{State: models.TripInProgress})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	distance := 82.0
	w = s.do(t, models.RoleDispatcher, http.MethodPost, base+"/transition", transitionRequest{State: models.TripCompleted, ActualDistanceKm: &distance})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(t, models.RoleDispatcher, http.MethodPost, base+"/transition", transitionRequest{State: models.TripPlanned})
	assert.Equal(t, http.StatusConflict, w.Code)
	var errResp errorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &errResp))
	assert.Equal(t, "InvalidTransition", string(errResp.Kind))

	w = s.do(t, models.RoleAccountant, http.MethodPost, base+"/client-payments", amountRequest{Amount: 400})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var paid models.Trip
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &paid))
	assert.Equal(t, models.ClientPaymentPartial, paid.ClientPaymentState)

	w = s.do(t, models.RoleAccountant, http.MethodPost, base+"/client-payments", amountRequest{Amount: 600})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTripEndpoints_Errors(t *testing.T) {
	s := newServer(t)

	w := s.do(t, models.RoleDispatcher, http.MethodPost, "/api/trips/"+primitive.NewObjectID().Hex()+"/transition", transitionRequest{State: models.TripInProgress})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, models.RoleDispatcher, http.MethodGet, "/api/trips", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)

	w = s.do(t, models.RoleViewer, http.MethodPost, "/api/trips", trips.CreateInput{})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, "", http.MethodPost, "/api/trips", trips.CreateInput{})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/trips", bytes.NewBufferString("{"))
	token, _ := s.auth.GenerateToken(&models.User{ID: primitive.NewObjectID(), Username: "d", Role: models.RoleDispatcher})
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMaintenanceEndpoints(t *testing.T) {
	s := newServer(t)

	w := s.do(t, models.RoleDispatcher, http.MethodPost, "/api/maintenance", createMaintenanceRequest{
		VehicleID:   s.vehicle.ID.Hex(),
		Type:        models.MaintenancePreventive,
		Description: "Oil change",
		Receipt:     []byte("%PDF-1.4 quote"),
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var ticket models.Maintenance
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ticket))
	assert.Equal(t, models.MaintenancePending, ticket.State)
	assert.NotEmpty(t, ticket.ReceiptRef)
	stored, ok := s.receipts.Get(ticket.ReceiptRef)
	require.True(t, ok)
	assert.Equal(t, []byte("%PDF-1.4 quote"), stored)

	base := "/api/maintenance/" + ticket.ID.Hex()
	w = s.do(t, models.RoleDispatcher, http.MethodPost, base+"/start", startMaintenanceRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code, "shop is required")

	w = s.do(t, models.RoleDispatcher, http.MethodPost, base+"/start", startMaintenanceRequest{Shop: "Taller Sur"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	odometer := 50100.0
	w = s.do(t, models.RoleDispatcher, http.MethodPost, base+"/complete", maintenance.CompleteInput{LaborCost: 120, PartsCost: 80, Odometer: &odometer})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ticket))
	assert.Equal(t, models.MaintenanceCompleted, ticket.State)
	assert.InDelta(t, 200.0, ticket.TotalCost, 1e-9)

	w = s.do(t, models.RoleDispatcher, http.MethodPost, base+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestDriverPaymentEndpoints(t *testing.T) {
	s := newServer(t)

	w := s.do(t, models.RoleAccountant, http.MethodPost, "/api/driver-payments", createPaymentRequest{
		DriverID:      s.driver.ID.Hex(),
		Amount:        1000,
		ScheduledDate: testNow,
		Description:   "Advance",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var payment models.DriverPayment
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payment))
	assert.Equal(t, models.PaymentPending, payment.State)

	paid := 600.0
	w = s.do(t, models.RoleAccountant, http.MethodPost, "/api/driver-payments/"+payment.ID.Hex()+"/settle", settleRequest{AmountPaid: &paid})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var settlement payments.Settlement
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &settlement))
	require.NotNil(t, settlement.Remainder)
	assert.InDelta(t, 600.0, settlement.Paid.Amount, 1e-9)
	assert.InDelta(t, 400.0, settlement.Remainder.Amount, 1e-9)

	w = s.do(t, models.RoleDispatcher, http.MethodPost, "/api/driver-payments", createPaymentRequest{DriverID: s.driver.ID.Hex(), Amount: 1})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestDriverBalanceEndpoint(t *testing.T) {
	s := newServer(t)
	path := "/api/drivers/" + s.driver.ID.Hex() + "/balance"

	w := s.do(t, models.RoleViewer, http.MethodGet, path+"?month=2026-09", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var balance payments.Balance
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &balance))
	assert.Equal(t, models.PayoutPerTrip, balance.PayoutMode)
	require.NotNil(t, balance.Period)
	assert.True(t, time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC).Equal(balance.Period.From))

	w = s.do(t, models.RoleViewer, http.MethodGet, path+"?from=2026-09-01&to=2026-09-30", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, models.RoleViewer, http.MethodGet, path+"?month=september", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, models.RoleViewer, http.MethodGet, path+"?from=2026-09-01", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, models.RoleViewer, http.MethodGet, "/api/drivers/"+primitive.NewObjectID().Hex()+"/balance", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealth(t *testing.T) {
	s := newServer(t)
	w := s.do(t, "", http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
