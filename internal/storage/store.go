package storage

import (
	"context"
	"time"

	"github.com/example/parish-rides/internal/models"
)

// Store defines persistence for the ride lifecycle engine. Implementations
// must provide the atomic guarantees documented per method; everything else
// (authorization, suggestion math, event publishing) lives in the services.
type Store interface {
	// Ride requests.
	CreateRideRequest(ctx context.Context, r *models.RideRequest) error
	GetRideRequest(ctx context.Context, id string) (*models.RideRequest, error)
	// ListOpenRequests returns pending requests ordered by
	// requested_datetime ascending (earliest need first).
	ListOpenRequests(ctx context.Context) ([]*models.RideRequest, error)
	ListRequestsByRider(ctx context.Context, riderID string) ([]*models.RideRequest, error)
	// CancelRequest is a pending-only conditional cancel. A request that
	// lost the race to a claim returns ErrAlreadyClaimed; an already
	// cancelled one returns ErrInvalidState.
	CancelRequest(ctx context.Context, requestID string, now time.Time) error

	// ClaimRequest atomically moves a pending request to accepted and
	// creates the one Ride that will ever exist for it. Concurrent claims
	// on the same request resolve to exactly one winner; losers get
	// ErrAlreadyClaimed. A cancelled request returns ErrInvalidState.
	ClaimRequest(ctx context.Context, requestID, driverID string, now time.Time) (*models.Ride, error)

	// Rides.
	GetRide(ctx context.Context, id string) (*models.Ride, error)
	ListRidesByDriver(ctx context.Context, driverID string) ([]*models.Ride, error)
	// TransitionRide applies expect->next conditionally: if the ride is no
	// longer in expect the call fails with ErrInvalidTransition and nothing
	// is written. The ride status write, the started_at/completed_at
	// stamps, and the mirrored request status land in one atomic unit.
	TransitionRide(ctx context.Context, rideID string, expect, next models.RideStatus, now time.Time) (*models.Ride, error)

	// Donation intents.
	GetIntentByRide(ctx context.Context, rideID string) (*models.DonationIntent, error)
	// CreateIntent inserts the intent unless an active (created/succeeded)
	// one already exists for the ride, in which case the existing intent is
	// returned and created is false. Safe under concurrent duplicate calls.
	CreateIntent(ctx context.Context, in *models.DonationIntent) (intent *models.DonationIntent, created bool, err error)
	UpdateIntentStatus(ctx context.Context, intentID string, status models.IntentStatus, now time.Time) (*models.DonationIntent, error)
	GetIntent(ctx context.Context, intentID string) (*models.DonationIntent, error)
	GetIntentByProviderRef(ctx context.Context, providerRef string) (*models.DonationIntent, error)
	// MarkAutoPrompted records the one-shot auto-donation prompt for a
	// ride. It returns true exactly once per ride id.
	MarkAutoPrompted(ctx context.Context, rideID string) (bool, error)

	// Donation preferences.
	GetPreferences(ctx context.Context, riderID string) (*models.DonationPreferences, error)
	PutPreferences(ctx context.Context, p *models.DonationPreferences) error

	// Reviews.
	CreateReview(ctx context.Context, rev *models.Review) error
	GetReviewByRide(ctx context.Context, rideID string) (*models.Review, error)
}
