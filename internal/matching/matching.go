// Package matching owns the request lifecycle up to and including the
// claim, and the per-ride status transitions after it.
package matching

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/parish-rides/internal/events"
	"github.com/example/parish-rides/internal/geo"
	"github.com/example/parish-rides/internal/lifecycle"
	"github.com/example/parish-rides/internal/models"
	"github.com/example/parish-rides/internal/observability"
	"github.com/example/parish-rides/internal/storage"
)

// AutoPrompter is the hook the donation service implements: fired once
// per ride on its first observed completion. Failures never surface to
// the driver finishing the ride.
type AutoPrompter interface {
	AutoPrompt(ctx context.Context, ride *models.Ride) error
}

type Service struct {
	Store    storage.Store
	Events   events.Producer
	Index    geo.OpenRequestIndex // optional proximity index of open pickups
	Prompter AutoPrompter         // optional
	Logger   *slog.Logger
	Now      func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) publish(ctx context.Context, ev models.RideEvent) {
	if s.Events == nil {
		return
	}
	if err := s.Events.Publish(ctx, ev); err != nil && s.Logger != nil {
		s.Logger.Warn("event publish failed", "type", ev.Type, "error", err)
	}
}

// CreateInput carries everything a rider supplies for a new request.
type CreateInput struct {
	RiderID           string
	Pickup            models.Coord
	Dropoff           models.Coord
	DestinationType   models.DestinationType
	ParishID          string
	RequestedDatetime time.Time
	PassengerCount    int
	Notes             string
}

func (s *Service) Create(ctx context.Context, in CreateInput) (*models.RideRequest, error) {
	if in.RiderID == "" {
		return nil, fmt.Errorf("%w: rider id required", models.ErrInvalidInput)
	}
	if !geo.ValidCoord(in.Pickup) || !geo.ValidCoord(in.Dropoff) {
		return nil, fmt.Errorf("%w: coordinates out of range", models.ErrInvalidInput)
	}
	if !in.DestinationType.Valid() {
		return nil, fmt.Errorf("%w: unknown destination type %q", models.ErrInvalidInput, in.DestinationType)
	}
	if in.PassengerCount < 1 {
		return nil, fmt.Errorf("%w: passenger count must be >= 1", models.ErrInvalidInput)
	}

	now := s.now()
	req := &models.RideRequest{
		ID:                models.NewID(),
		RiderID:           in.RiderID,
		Pickup:            in.Pickup,
		Dropoff:           in.Dropoff,
		DestinationType:   in.DestinationType,
		ParishID:          in.ParishID,
		RequestedDatetime: in.RequestedDatetime,
		PassengerCount:    in.PassengerCount,
		Notes:             in.Notes,
		Status:            models.RequestPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.Store.CreateRideRequest(ctx, req); err != nil {
		return nil, err
	}
	observability.RequestsCreated.Inc()
	if s.Index != nil {
		if err := s.Index.Add(ctx, req.ID, req.Pickup); err != nil && s.Logger != nil {
			s.Logger.Warn("open-request index add failed", "request_id", req.ID, "error", err)
		}
	}
	s.publish(ctx, models.RideEvent{
		Type: models.EventRequestCreated, RequestID: req.ID,
		Pickup: &req.Pickup, At: now,
	})
	return req, nil
}

// ListOpen returns every pending request, earliest need first.
func (s *Service) ListOpen(ctx context.Context) ([]*models.RideRequest, error) {
	return s.Store.ListOpenRequests(ctx)
}

// ListOpenNear narrows the open list to pickups within radiusMeters of
// center using the proximity index; without an index it falls back to
// the full list.
func (s *Service) ListOpenNear(ctx context.Context, center models.Coord, radiusMeters float64, limit int) ([]*models.RideRequest, error) {
	if s.Index == nil {
		return s.Store.ListOpenRequests(ctx)
	}
	ids, err := s.Index.NearbyIDs(ctx, center, radiusMeters, limit)
	if err != nil {
		// Degrade to the authoritative store rather than fail the driver.
		if s.Logger != nil {
			s.Logger.Warn("open-request index query failed", "error", err)
		}
		return s.Store.ListOpenRequests(ctx)
	}
	out := make([]*models.RideRequest, 0, len(ids))
	for _, id := range ids {
		req, err := s.Store.GetRideRequest(ctx, id)
		if err != nil {
			continue // index lags the store; skip stale entries
		}
		if req.Status == models.RequestPending {
			out = append(out, req)
		}
	}
	return out, nil
}

func (s *Service) ListByRider(ctx context.Context, riderID string) ([]*models.RideRequest, error) {
	return s.Store.ListRequestsByRider(ctx, riderID)
}

// Accept claims a pending request for driverID. Exactly one of any set
// of concurrent claims wins; losers see ErrAlreadyClaimed. A driver
// cannot claim their own request.
func (s *Service) Accept(ctx context.Context, requestID, driverID string) (*models.Ride, error) {
	req, err := s.Store.GetRideRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.RiderID == driverID {
		return nil, fmt.Errorf("%w: cannot accept your own request", models.ErrForbidden)
	}

	now := s.now()
	ride, err := s.Store.ClaimRequest(ctx, requestID, driverID, now)
	if err != nil {
		if errors.Is(err, models.ErrAlreadyClaimed) {
			observability.ClaimConflicts.Inc()
		}
		return nil, err
	}
	observability.ClaimsTotal.Inc()
	if s.Index != nil {
		if err := s.Index.Remove(ctx, requestID); err != nil && s.Logger != nil {
			s.Logger.Warn("open-request index remove failed", "request_id", requestID, "error", err)
		}
	}
	s.publish(ctx, models.RideEvent{
		Type: models.EventRequestClaimed, RequestID: requestID,
		RideID: ride.ID, At: now,
	})
	return ride, nil
}

// CancelRequest lets the rider withdraw a request that has not been
// claimed yet. If a driver's claim commits first the rider gets
// ErrAlreadyClaimed; cancelling an in-flight ride goes through
// UpdateRideStatus instead.
func (s *Service) CancelRequest(ctx context.Context, requestID, riderID string) error {
	req, err := s.Store.GetRideRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if req.RiderID != riderID {
		return fmt.Errorf("%w: not your request", models.ErrForbidden)
	}
	now := s.now()
	if err := s.Store.CancelRequest(ctx, requestID, now); err != nil {
		return err
	}
	if s.Index != nil {
		_ = s.Index.Remove(ctx, requestID)
	}
	s.publish(ctx, models.RideEvent{Type: models.EventRequestCancelled, RequestID: requestID, At: now})
	return nil
}

func (s *Service) ListAssigned(ctx context.Context, driverID string) ([]*models.Ride, error) {
	return s.Store.ListRidesByDriver(ctx, driverID)
}

func (s *Service) GetRide(ctx context.Context, rideID string) (*models.Ride, error) {
	return s.Store.GetRide(ctx, rideID)
}

// UpdateRideStatus advances a ride along the transition table. Only the
// assigned driver may call it. On completion the donation auto-prompt
// fires, best-effort.
func (s *Service) UpdateRideStatus(ctx context.Context, rideID, driverID string, next models.RideStatus) (*models.Ride, error) {
	if !lifecycle.Known(next) {
		return nil, fmt.Errorf("%w: unknown status %q", models.ErrInvalidTransition, next)
	}
	ride, err := s.Store.GetRide(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if ride.DriverID != driverID {
		return nil, fmt.Errorf("%w: not your ride", models.ErrForbidden)
	}
	if !lifecycle.CanTransition(ride.Status, next) {
		return nil, fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, ride.Status, next)
	}

	now := s.now()
	updated, err := s.Store.TransitionRide(ctx, rideID, ride.Status, next, now)
	if err != nil {
		return nil, err
	}

	switch next {
	case models.RideCompleted:
		observability.RidesCompleted.Inc()
	case models.RideCancelled:
		observability.RidesCancelled.Inc()
	}
	s.publish(ctx, models.RideEvent{
		Type: models.EventRideStatusChanged, RideID: rideID,
		RequestID: updated.RideRequestID, Status: string(next), At: now,
	})

	if next == models.RideCompleted && s.Prompter != nil {
		if err := s.Prompter.AutoPrompt(ctx, updated); err != nil && s.Logger != nil {
			s.Logger.Warn("auto-donation prompt failed", "ride_id", rideID, "error", err)
		}
	}
	return updated, nil
}
