package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
)

// Location represents a geographical location with latitude and longitude coordinates.
type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Depot is a named loading or unloading point.
type Depot struct {
	Name     string
	Location Location
}

var depots = []Depot{
	{"Quarry Norte", Location{Lat: 4.8143, Lon: -74.3546}},
	{"Cement Plant Sur", Location{Lat: 4.5170, Lon: -74.1166}},
	{"Port Yard", Location{Lat: 10.3910, Lon: -75.4794}},
	{"Gravel Pit Oriente", Location{Lat: 4.1420, Lon: -73.6266}},
	{"Rail Terminal", Location{Lat: 6.2442, Lon: -75.5812}},
	{"Asphalt Works", Location{Lat: 3.4516, Lon: -76.5320}},
	{"Construction Site 7", Location{Lat: 4.7110, Lon: -74.0721}},
	{"Steel Mill", Location{Lat: 5.7167, Lon: -72.9333}},
}

const (
	// roadFactor turns straight-line distance into a road estimate.
	roadFactor = 1.25
	ratePerKm  = 4.5
	driverCut  = 0.3
)

// Fleet is the set of reference records trips are booked against.
type Fleet struct {
	VehicleIDs []string
	DriverIDs  []string
	ClientID   string
	MaterialID string
}

// TripRequest is the body of POST /trips.
type TripRequest struct {
	VehicleID           string    `json:"vehicle_id"`
	DriverID            string    `json:"driver_id"`
	ClientID            string    `json:"client_id"`
	MaterialID          string    `json:"material_id"`
	Origin              string    `json:"origin"`
	Destination         string    `json:"destination"`
	DepartureAt         time.Time `json:"departure_at"`
	EstimatedDistanceKm float64   `json:"estimated_distance_km"`
	Tariff              float64   `json:"tariff"`
	DriverAgreedAmount  *float64  `json:"driver_agreed_amount,omitempty"`
	CreditTermDays      int       `json:"credit_term_days"`
}

// Client talks to the fleet API.
type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

func haversineKm(a, b Location) float64 {
	R := 6371.0
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	s := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(s), math.Sqrt(1-s))
	return R * c
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}

// planTrip picks two distinct depots and prices the haul.
func planTrip(rng *rand.Rand, fleet Fleet, vehicleID, driverID string, departure time.Time) TripRequest {
	from := rng.Intn(len(depots))
	to := rng.Intn(len(depots) - 1)
	if to >= from {
		to++
	}
	distance := math.Round(haversineKm(depots[from].Location, depots[to].Location) * roadFactor)
	tariff := roundCents(distance * ratePerKm)
	agreed := roundCents(tariff * driverCut)

	return TripRequest{
		VehicleID:           vehicleID,
		DriverID:            driverID,
		ClientID:            fleet.ClientID,
		MaterialID:          fleet.MaterialID,
		Origin:              depots[from].Name,
		Destination:         depots[to].Name,
		DepartureAt:         departure,
		EstimatedDistanceKm: distance,
		Tariff:              tariff,
		DriverAgreedAmount:  &agreed,
		CreditTermDays:      []int{0, 15, 30}[rng.Intn(3)],
	}
}

// actualDistance jitters the estimate by -10%..+20%.
func actualDistance(rng *rand.Rand, estimate float64) float64 {
	return math.Round(estimate * (0.9 + rng.Float64()*0.3))
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", path, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("POST %s failed with status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(payload)))
	}
	if out != nil {
		if err := json.Unmarshal(payload, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// RunTrip books one trip and drives it to completion, then records the
// client's payment.
func (c *Client) RunTrip(ctx context.Context, rng *rand.Rand, req TripRequest) error {
	var trip struct {
		ID string `json:"id"`
	}
	if err := c.post(ctx, "/trips", req, &trip); err != nil {
		return err
	}
	logger := log.WithFields(log.Fields{
		"trip_id":     trip.ID,
		"vehicle_id":  req.VehicleID,
		"origin":      req.Origin,
		"destination": req.Destination,
		"distance_km": req.EstimatedDistanceKm,
	})
	logger.Info("Trip planned")

	if err := c.post(ctx, "/trips/"+trip.ID+"/transition", map[string]any{"state": "IN_PROGRESS"}, nil); err != nil {
		return err
	}
	distance := actualDistance(rng, req.EstimatedDistanceKm)
	if err := c.post(ctx, "/trips/"+trip.ID+"/transition", map[string]any{
		"state":              "COMPLETED",
		"actual_distance_km": distance,
	}, nil); err != nil {
		return err
	}
	logger.WithField("actual_km", distance).Info("Trip completed")

	if err := c.post(ctx, "/trips/"+trip.ID+"/client-payments", map[string]any{"amount": req.Tariff}, nil); err != nil {
		return err
	}
	logger.WithField("amount", req.Tariff).Info("Client payment recorded")
	return nil
}

func simulateVehicle(ctx context.Context, c *Client, fleet Fleet, vehicleID string, interval time.Duration, seed int64) {
	rng := rand.New(rand.NewSource(seed))
	tick := time.NewTicker(interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}
		driverID := fleet.DriverIDs[rng.Intn(len(fleet.DriverIDs))]
		req := planTrip(rng, fleet, vehicleID, driverID, time.Now().Add(time.Minute))
		if err := c.RunTrip(ctx, rng, req); err != nil {
			log.WithError(err).WithField("vehicle_id", vehicleID).Warn("Trip failed")
		}
	}
}

func splitIDs(v string) []string {
	var ids []string
	for _, id := range strings.Split(v, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

func fleetFromEnv() (Fleet, error) {
	fleet := Fleet{
		VehicleIDs: splitIDs(os.Getenv("SIM_VEHICLE_IDS")),
		DriverIDs:  splitIDs(os.Getenv("SIM_DRIVER_IDS")),
		ClientID:   os.Getenv("SIM_CLIENT_ID"),
		MaterialID: os.Getenv("SIM_MATERIAL_ID"),
	}
	if len(fleet.VehicleIDs) == 0 || len(fleet.DriverIDs) == 0 || fleet.ClientID == "" || fleet.MaterialID == "" {
		return Fleet{}, fmt.Errorf("SIM_VEHICLE_IDS, SIM_DRIVER_IDS, SIM_CLIENT_ID and SIM_MATERIAL_ID are required")
	}
	return fleet, nil
}

func main() {
	fleet, err := fleetFromEnv()
	if err != nil {
		log.WithError(err).Fatal("Invalid simulator configuration")
	}

	apiURL := os.Getenv("API_BASE_URL")
	if apiURL == "" {
		apiURL = "http://localhost:8080/api"
	}

	interval := 30 * time.Second
	if v := os.Getenv("SIM_TICK_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 1 {
			interval = time.Duration(n) * time.Second
		}
	}

	client := &Client{
		BaseURL: apiURL,
		Token:   os.Getenv("SIM_AUTH_TOKEN"),
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}

	log.WithFields(log.Fields{
		"vehicles": len(fleet.VehicleIDs),
		"drivers":  len(fleet.DriverIDs),
		"api_url":  apiURL,
		"interval": interval,
	}).Info("Starting haulage simulation")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for i, vehicleID := range fleet.VehicleIDs {
		go simulateVehicle(ctx, client, fleet, vehicleID, interval, time.Now().UnixNano()+int64(i))
	}
	<-ctx.Done()
	log.Info("Simulation stopped")
}
