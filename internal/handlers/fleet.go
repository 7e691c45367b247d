package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-haulage/internal/apperrors"
	"github.com/ukydev/fleet-haulage/internal/maintenance"
	"github.com/ukydev/fleet-haulage/internal/middleware"
	"github.com/ukydev/fleet-haulage/internal/models"
	"github.com/ukydev/fleet-haulage/internal/payments"
	"github.com/ukydev/fleet-haulage/internal/period"
	"github.com/ukydev/fleet-haulage/internal/trips"
)

// FleetHandler exposes the trip, maintenance and driver payment
// operations as JSON endpoints.
type FleetHandler struct {
	trips       *trips.Service
	maintenance *maintenance.Service
	payments    *payments.Service
	logger      logrus.FieldLogger
}

// NewFleetHandler creates a new fleet handler
func NewFleetHandler(tripSvc *trips.Service, maintenanceSvc *maintenance.Service, paymentSvc *payments.Service, logger logrus.FieldLogger) *FleetHandler {
	return &FleetHandler{
		trips:       tripSvc,
		maintenance: maintenanceSvc,
		payments:    paymentSvc,
		logger:      logger,
	}
}

type transitionRequest struct {
	State            models.TripState `json:"state"`
	ActualDistanceKm *float64         `json:"actual_distance_km,omitempty"`
	CancelReason     string           `json:"cancel_reason,omitempty"`
}

type amountRequest struct {
	Amount float64 `json:"amount"`
}

type createMaintenanceRequest struct {
	VehicleID       string                 `json:"vehicle_id"`
	Type            models.MaintenanceType `json:"type"`
	Shop            string                 `json:"shop"`
	Description     string                 `json:"description"`
	NextDueOdometer *float64               `json:"next_due_odometer,omitempty"`
	NextDueDate     *time.Time             `json:"next_due_date,omitempty"`
	Receipt         []byte                 `json:"receipt,omitempty"` // base64
}

type startMaintenanceRequest struct {
	Shop string `json:"shop"`
}

type createPaymentRequest struct {
	DriverID      string    `json:"driver_id"`
	TripID        string    `json:"trip_id,omitempty"`
	Amount        float64   `json:"amount"`
	ScheduledDate time.Time `json:"scheduled_date"`
	Description   string    `json:"description"`
	Method        string    `json:"method,omitempty"`
	Notes         string    `json:"notes,omitempty"`
	PaidNow       bool      `json:"paid_now"`
	Receipt       []byte    `json:"receipt,omitempty"` // base64
}

type settleRequest struct {
	AmountPaid *float64 `json:"amount_paid,omitempty"`
}

// Routes registers the endpoints on mux behind authentication and the
// per-route permission.
func (h *FleetHandler) Routes(mux *http.ServeMux, authMW *middleware.AuthMiddleware) {
	route := func(pattern, action string, fn http.HandlerFunc) {
		mux.Handle(pattern, authMW.Authenticate(authMW.RequirePermission(action)(fn)))
	}

	route("/api/trips", models.ActionManageTrips, h.CreateTrip)
	route("/api/trips/{id}/transition", models.ActionManageTrips, h.TransitionTrip)
	route("/api/trips/{id}/client-payments", models.ActionClientPayments, h.RegisterClientPayment)
	route("/api/maintenance", models.ActionManageMaintenance, h.CreateMaintenance)
	route("/api/maintenance/{id}/start", models.ActionManageMaintenance, h.StartMaintenance)
	route("/api/maintenance/{id}/complete", models.ActionManageMaintenance, h.CompleteMaintenance)
	route("/api/maintenance/{id}/cancel", models.ActionManageMaintenance, h.CancelMaintenance)
	route("/api/driver-payments", models.ActionDriverPayments, h.CreatePayment)
	route("/api/driver-payments/{id}/settle", models.ActionDriverPayments, h.SettlePayment)
	route("/api/drivers/{id}/balance", models.ActionViewBalances, h.DriverBalance)

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
}

// CreateTrip handles POST /api/trips
func (h *FleetHandler) CreateTrip(w http.ResponseWriter, r *http.Request) {
	var req trips.CreateInput
	if !h.decodePost(w, r, &req) {
		return
	}
	trip, err := h.trips.Create(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, trip)
}

// TransitionTrip handles POST /api/trips/{id}/transition
func (h *FleetHandler) TransitionTrip(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if !h.decodePost(w, r, &req) {
		return
	}
	if req.State == "" {
		http.Error(w, "state is required", http.StatusBadRequest)
		return
	}
	data := &trips.TransitionData{ActualDistanceKm: req.ActualDistanceKm, CancelReason: req.CancelReason}
	trip, err := h.trips.Transition(r.Context(), r.PathValue("id"), req.State, data)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, trip)
}

// RegisterClientPayment handles POST /api/trips/{id}/client-payments
func (h *FleetHandler) RegisterClientPayment(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if !h.decodePost(w, r, &req) {
		return
	}
	trip, err := h.trips.RegisterClientPayment(r.Context(), r.PathValue("id"), req.Amount)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, trip)
}

// CreateMaintenance handles POST /api/maintenance
func (h *FleetHandler) CreateMaintenance(w http.ResponseWriter, r *http.Request) {
	var req createMaintenanceRequest
	if !h.decodePost(w, r, &req) {
		return
	}
	ticket, err := h.maintenance.Create(r.Context(), maintenance.CreateInput{
		VehicleID:       req.VehicleID,
		Type:            req.Type,
		Shop:            req.Shop,
		Description:     req.Description,
		NextDueOdometer: req.NextDueOdometer,
		NextDueDate:     req.NextDueDate,
		Receipt:         req.Receipt,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ticket)
}

// StartMaintenance handles POST /api/maintenance/{id}/start
func (h *FleetHandler) StartMaintenance(w http.ResponseWriter, r *http.Request) {
	var req startMaintenanceRequest
	if !h.decodePost(w, r, &req) {
		return
	}
	ticket, err := h.maintenance.Start(r.Context(), r.PathValue("id"), req.Shop)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

// CompleteMaintenance handles POST /api/maintenance/{id}/complete
func (h *FleetHandler) CompleteMaintenance(w http.ResponseWriter, r *http.Request) {
	var req maintenance.CompleteInput
	if !h.decodePost(w, r, &req) {
		return
	}
	ticket, err := h.maintenance.Complete(r.Context(), r.PathValue("id"), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

// CancelMaintenance handles POST /api/maintenance/{id}/cancel
func (h *FleetHandler) CancelMaintenance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ticket, err := h.maintenance.Cancel(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

// CreatePayment handles POST /api/driver-payments
func (h *FleetHandler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	var req createPaymentRequest
	if !h.decodePost(w, r, &req) {
		return
	}
	payment, err := h.payments.Create(r.Context(), payments.CreateInput{
		DriverID:      req.DriverID,
		TripID:        req.TripID,
		Amount:        req.Amount,
		ScheduledDate: req.ScheduledDate,
		Description:   req.Description,
		Method:        req.Method,
		Notes:         req.Notes,
		PaidNow:       req.PaidNow,
		Receipt:       req.Receipt,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, payment)
}

// SettlePayment handles POST /api/driver-payments/{id}/settle
func (h *FleetHandler) SettlePayment(w http.ResponseWriter, r *http.Request) {
	var req settleRequest
	if !h.decodePost(w, r, &req) {
		return
	}
	settlement, err := h.payments.Settle(r.Context(), r.PathValue("id"), req.AmountPaid)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settlement)
}

// DriverBalance handles GET /api/drivers/{id}/balance. The period is
// given as ?month=2006-01 or ?from=2006-01-02&to=2006-01-02 (to
// inclusive); without either the balance covers all time.
func (h *FleetHandler) DriverBalance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rng, err := parsePeriod(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	balance, err := h.payments.Balance(r.Context(), r.PathValue("id"), rng)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balance)
}

func parsePeriod(r *http.Request) (*period.Range, error) {
	q := r.URL.Query()
	if month := q.Get("month"); month != "" {
		t, err := time.Parse("2006-01", month)
		if err != nil {
			return nil, fmt.Errorf("invalid month %q", month)
		}
		rng := period.Month(t)
		return &rng, nil
	}

	fromStr, toStr := q.Get("from"), q.Get("to")
	if fromStr == "" && toStr == "" {
		return nil, nil
	}
	if fromStr == "" || toStr == "" {
		return nil, fmt.Errorf("from and to must be given together")
	}
	from, err := time.Parse(time.DateOnly, fromStr)
	if err != nil {
		return nil, fmt.Errorf("invalid from %q", fromStr)
	}
	to, err := time.Parse(time.DateOnly, toStr)
	if err != nil {
		return nil, fmt.Errorf("invalid to %q", toStr)
	}
	if to.Before(from) {
		return nil, fmt.Errorf("to is before from")
	}
	return &period.Range{From: from, To: to.AddDate(0, 0, 1)}, nil
}

func (h *FleetHandler) decodePost(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return false
	}
	if len(body) == 0 {
		body = []byte("{}")
	}
	if err := json.Unmarshal(body, v); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return false
	}
	return true
}

type errorResponse struct {
	Error string         `json:"error"`
	Kind  apperrors.Kind `json:"kind"`
}

func (h *FleetHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatus(err)
	if !apperrors.IsBusiness(err) {
		h.logger.WithError(err).WithField("path", r.URL.Path).Error("Request failed")
		http.Error(w, "Internal server error", status)
		return
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Kind: apperrors.KindOf(err)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
