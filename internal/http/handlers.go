package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/parish-rides/internal/donation"
	"github.com/example/parish-rides/internal/matching"
	"github.com/example/parish-rides/internal/models"
	"github.com/example/parish-rides/internal/payments"
	"github.com/example/parish-rides/internal/review"
)

// Server wires the lifecycle services behind a mux router. Identity is
// taken from X-Rider-ID / X-Driver-ID headers populated by the upstream
// auth layer; there is no session state here.
type Server struct {
	Matching  *matching.Service
	Donations *donation.Service
	Reviews   *review.Service
	Webhook   *payments.WebhookVerifier // nil when Stripe is not configured

	NearbyRadiusMeters float64
	NearbyLimit        int

	logger *slog.Logger
	mux    *mux.Router
}

func NewServer(m *matching.Service, d *donation.Service, rev *review.Service, logger *slog.Logger) *Server {
	s := &Server{
		Matching:           m,
		Donations:          d,
		Reviews:            rev,
		NearbyRadiusMeters: 25000,
		NearbyLimit:        50,
		logger:             logger,
		mux:                mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/requests", s.handleCreateRequest).Methods("POST")
	api.HandleFunc("/requests/open", s.handleListOpen).Methods("GET")
	api.HandleFunc("/requests/mine", s.handleListMine).Methods("GET")
	api.HandleFunc("/requests/{id}/accept", s.handleAccept).Methods("POST")
	api.HandleFunc("/requests/{id}/cancel", s.handleCancelRequest).Methods("POST")
	api.HandleFunc("/rides/assigned", s.handleListAssigned).Methods("GET")
	api.HandleFunc("/rides/{id}/status", s.handleUpdateStatus).Methods("PATCH")
	api.HandleFunc("/rides/{id}/donation-intent", s.handleGetIntent).Methods("GET")
	api.HandleFunc("/rides/{id}/donation-intent", s.handleCreateIntent).Methods("POST")
	api.HandleFunc("/rides/{id}/suggested-donation", s.handleSuggestDonation).Methods("GET")
	api.HandleFunc("/rides/{id}/review", s.handleSubmitReview).Methods("POST")
	api.HandleFunc("/riders/me/donation-preferences", s.handleGetPreferences).Methods("GET")
	api.HandleFunc("/riders/me/donation-preferences", s.handlePutPreferences).Methods("PUT")

	s.mux.HandleFunc("/webhooks/stripe", s.handleStripeWebhook).Methods("POST")
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the engine's error taxonomy onto HTTP statuses.
// Conflicts (lost races, duplicate reviews) are 409: expected outcomes
// of open competition, not faults.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, models.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, models.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, models.ErrAlreadyClaimed), errors.Is(err, models.ErrAlreadyReviewed):
		status = http.StatusConflict
	case errors.Is(err, models.ErrInvalidState), errors.Is(err, models.ErrInvalidTransition),
		errors.Is(err, models.ErrInvalidAmount), errors.Is(err, models.ErrInvalidRating),
		errors.Is(err, models.ErrInvalidInput):
		status = http.StatusBadRequest
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func identity(r *http.Request, header string) (string, bool) {
	v := r.Header.Get(header)
	return v, v != ""
}

func requireIdentity(w http.ResponseWriter, r *http.Request, header string) (string, bool) {
	id, ok := identity(r, header)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": header + " required"})
	}
	return id, ok
}

func dollarsToCents(d float64) int64 { return int64(math.Round(d * 100)) }

type createRequestPayload struct {
	Pickup            models.Coord           `json:"pickup"`
	Dropoff           models.Coord           `json:"dropoff"`
	DestinationType   models.DestinationType `json:"destination_type"`
	ParishID          string                 `json:"parish_id"`
	RequestedDatetime time.Time              `json:"requested_datetime"`
	PassengerCount    int                    `json:"passenger_count"`
	Notes             string                 `json:"notes"`
}

func (s *Server) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	riderID, ok := requireIdentity(w, r, "X-Rider-ID")
	if !ok {
		return
	}
	var p createRequestPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	req, err := s.Matching.Create(r.Context(), matching.CreateInput{
		RiderID:           riderID,
		Pickup:            p.Pickup,
		Dropoff:           p.Dropoff,
		DestinationType:   p.DestinationType,
		ParishID:          p.ParishID,
		RequestedDatetime: p.RequestedDatetime,
		PassengerCount:    p.PassengerCount,
		Notes:             p.Notes,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

func (s *Server) handleListOpen(w http.ResponseWriter, r *http.Request) {
	driverID, ok := requireIdentity(w, r, "X-Driver-ID")
	if !ok {
		return
	}
	var (
		reqs []*models.RideRequest
		err  error
	)
	q := r.URL.Query()
	latStr, lonStr := q.Get("lat"), q.Get("lon")
	if latStr != "" && lonStr != "" {
		lat, errLat := strconv.ParseFloat(latStr, 64)
		lon, errLon := strconv.ParseFloat(lonStr, 64)
		if errLat != nil || errLon != nil {
			http.Error(w, "invalid lat/lon", 400)
			return
		}
		reqs, err = s.Matching.ListOpenNear(r.Context(), models.Coord{Lat: lat, Lon: lon}, s.NearbyRadiusMeters, s.NearbyLimit)
	} else {
		reqs, err = s.Matching.ListOpen(r.Context())
	}
	if err != nil {
		writeError(w, err)
		return
	}
	// Drivers never see their own requests in the open list.
	out := make([]*models.RideRequest, 0, len(reqs))
	for _, req := range reqs {
		if req.RiderID != driverID {
			out = append(out, req)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleListMine(w http.ResponseWriter, r *http.Request) {
	riderID, ok := requireIdentity(w, r, "X-Rider-ID")
	if !ok {
		return
	}
	reqs, err := s.Matching.ListByRider(r.Context(), riderID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reqs)
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	driverID, ok := requireIdentity(w, r, "X-Driver-ID")
	if !ok {
		return
	}
	ride, err := s.Matching.Accept(r.Context(), mux.Vars(r)["id"], driverID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ride)
}

func (s *Server) handleCancelRequest(w http.ResponseWriter, r *http.Request) {
	riderID, ok := requireIdentity(w, r, "X-Rider-ID")
	if !ok {
		return
	}
	if err := s.Matching.CancelRequest(r.Context(), mux.Vars(r)["id"], riderID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListAssigned(w http.ResponseWriter, r *http.Request) {
	driverID, ok := requireIdentity(w, r, "X-Driver-ID")
	if !ok {
		return
	}
	rides, err := s.Matching.ListAssigned(r.Context(), driverID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rides)
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	driverID, ok := requireIdentity(w, r, "X-Driver-ID")
	if !ok {
		return
	}
	var p struct {
		Status models.RideStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	ride, err := s.Matching.UpdateRideStatus(r.Context(), mux.Vars(r)["id"], driverID, p.Status)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

type intentResponse struct {
	ID           string  `json:"id"`
	RideID       string  `json:"ride_id"`
	Amount       float64 `json:"amount"`
	Status       string  `json:"status"`
	ClientSecret string  `json:"client_secret,omitempty"`
}

func toIntentResponse(in *models.DonationIntent) intentResponse {
	return intentResponse{
		ID:           in.ID,
		RideID:       in.RideID,
		Amount:       float64(in.AmountCents) / 100.0,
		Status:       string(in.Status),
		ClientSecret: in.ClientSecret,
	}
}

func (s *Server) handleGetIntent(w http.ResponseWriter, r *http.Request) {
	in, err := s.Donations.Intent(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toIntentResponse(in))
}

func (s *Server) handleCreateIntent(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireIdentity(w, r, "X-Rider-ID"); !ok {
		return
	}
	var p struct {
		Amount float64 `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	in, err := s.Donations.Create(r.Context(), mux.Vars(r)["id"], dollarsToCents(p.Amount))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toIntentResponse(in))
}

func (s *Server) handleSuggestDonation(w http.ResponseWriter, r *http.Request) {
	riderID, ok := requireIdentity(w, r, "X-Rider-ID")
	if !ok {
		return
	}
	ride, err := s.Matching.GetRide(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	req, err := s.Matching.Store.GetRideRequest(r.Context(), ride.RideRequestID)
	if err != nil {
		writeError(w, err)
		return
	}
	prefs, err := s.Donations.Preferences(r.Context(), riderID)
	if err != nil {
		writeError(w, err)
		return
	}
	cents := donation.Suggest(prefs, req.Pickup, req.Dropoff)
	writeJSON(w, http.StatusOK, map[string]float64{"suggested_amount": float64(cents) / 100.0})
}

type reviewPayload struct {
	Rating         int      `json:"rating"`
	Comment        string   `json:"comment"`
	DonationAmount *float64 `json:"donation_amount"`
}

func (s *Server) handleSubmitReview(w http.ResponseWriter, r *http.Request) {
	riderID, ok := requireIdentity(w, r, "X-Rider-ID")
	if !ok {
		return
	}
	var p reviewPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	var cents int64
	if p.DonationAmount != nil {
		cents = dollarsToCents(*p.DonationAmount)
	}
	res, err := s.Reviews.Submit(r.Context(), mux.Vars(r)["id"], riderID, p.Rating, p.Comment, cents)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := map[string]any{"review": res.Review}
	if res.Intent != nil {
		resp["donation_intent"] = toIntentResponse(res.Intent)
	}
	if res.DonationErr != nil {
		resp["donation_error"] = res.DonationErr.Error()
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleGetPreferences(w http.ResponseWriter, r *http.Request) {
	riderID, ok := requireIdentity(w, r, "X-Rider-ID")
	if !ok {
		return
	}
	prefs, err := s.Donations.Preferences(r.Context(), riderID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, prefs)
}

func (s *Server) handlePutPreferences(w http.ResponseWriter, r *http.Request) {
	riderID, ok := requireIdentity(w, r, "X-Rider-ID")
	if !ok {
		return
	}
	var p struct {
		AutoEnabled    bool                `json:"auto_donation_enabled"`
		AutoType       models.DonationType `json:"auto_donation_type"`
		AutoAmount     float64             `json:"auto_donation_amount"`
		AutoMultiplier float64             `json:"auto_donation_multiplier"`
	}
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	prefs, err := s.Donations.UpdatePreferences(r.Context(), &models.DonationPreferences{
		RiderID:         riderID,
		AutoEnabled:     p.AutoEnabled,
		AutoType:        p.AutoType,
		AutoAmountCents: dollarsToCents(p.AutoAmount),
		AutoMultiplier:  p.AutoMultiplier,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, prefs)
}

func (s *Server) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	if s.Webhook == nil {
		http.Error(w, "webhook not configured", http.StatusServiceUnavailable)
		return
	}
	payload, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	res, ok, err := s.Webhook.Verify(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		http.Error(w, "invalid payload", 400)
		return
	}
	if ok {
		if err := s.Donations.HandleCallback(r.Context(), res.ProviderRef, res.Outcome); err != nil {
			s.logger.Error("webhook callback failed", "provider_ref", res.ProviderRef, "error", err)
			http.Error(w, "callback failed", 500)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}
