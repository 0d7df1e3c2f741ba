// Package review records a rider's post-ride review and, when a
// donation amount rides along, hands off to the donation service.
package review

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/parish-rides/internal/donation"
	"github.com/example/parish-rides/internal/events"
	"github.com/example/parish-rides/internal/models"
	"github.com/example/parish-rides/internal/observability"
	"github.com/example/parish-rides/internal/storage"
)

type Service struct {
	Store     storage.Store
	Donations *donation.Service
	Events    events.Producer
	Logger    *slog.Logger
	Now       func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Result is what Submit returns: the persisted review, the intent when
// a donation was requested, and the intent error when its creation
// failed after the review had already been saved.
type Result struct {
	Review      *models.Review
	Intent      *models.DonationIntent
	DonationErr error
}

// Submit persists the rider's review of a completed ride. The review
// always lands first; a failing donation side effect is reported in the
// result, never rolled back.
func (s *Service) Submit(ctx context.Context, rideID, riderID string, rating int, comment string, donationCents int64) (*Result, error) {
	if rating < 1 || rating > 5 {
		return nil, models.ErrInvalidRating
	}
	ride, err := s.Store.GetRide(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if ride.RiderID != riderID {
		return nil, fmt.Errorf("%w: not your ride", models.ErrForbidden)
	}
	if ride.Status != models.RideCompleted {
		return nil, fmt.Errorf("%w: reviews are only allowed after completion", models.ErrInvalidState)
	}

	rev := &models.Review{
		ID:         models.NewID(),
		RideID:     rideID,
		ReviewerID: riderID,
		RevieweeID: ride.DriverID,
		Rating:     rating,
		Comment:    comment,
		CreatedAt:  s.now(),
	}
	if err := s.Store.CreateReview(ctx, rev); err != nil {
		return nil, err
	}
	observability.ReviewsTotal.Inc()
	if s.Events != nil {
		if err := s.Events.Publish(ctx, models.RideEvent{
			Type: models.EventReviewSubmitted, RideID: rideID, At: rev.CreatedAt,
		}); err != nil && s.Logger != nil {
			s.Logger.Warn("event publish failed", "type", models.EventReviewSubmitted, "error", err)
		}
	}

	res := &Result{Review: rev}
	if donationCents > 0 && s.Donations != nil {
		intent, err := s.Donations.Create(ctx, rideID, donationCents)
		if err != nil {
			res.DonationErr = err
			if s.Logger != nil {
				s.Logger.Warn("donation intent after review failed", "ride_id", rideID, "error", err)
			}
		} else {
			res.Intent = intent
		}
	}
	return res, nil
}
