// Package donation creates and tracks donation intents for completed
// rides. Intent creation only allocates a local record and a token from
// the configured issuer; charge settlement happens through the external
// payment callback.
package donation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/example/parish-rides/internal/events"
	"github.com/example/parish-rides/internal/geo"
	"github.com/example/parish-rides/internal/models"
	"github.com/example/parish-rides/internal/observability"
	"github.com/example/parish-rides/internal/payments"
	"github.com/example/parish-rides/internal/storage"
)

// Suggestion constants, in cents. Base fee and per-mile multiplier feed
// the distance-based formula: base + miles * multiplier.
const (
	BaseFeeCents      int64 = 500
	DefaultMultiplier       = 0.50
	MinAmountCents    int64 = 100
	MaxAmountCents    int64 = 100_000
)

type Service struct {
	Store  storage.Store
	Issuer payments.Issuer
	Events events.Producer
	Logger *slog.Logger
	Now    func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) issuer() payments.Issuer {
	if s.Issuer != nil {
		return s.Issuer
	}
	return payments.LocalIssuer{}
}

// Intent returns the active intent for a ride.
func (s *Service) Intent(ctx context.Context, rideID string) (*models.DonationIntent, error) {
	return s.Store.GetIntentByRide(ctx, rideID)
}

// Create allocates a donation intent for the ride, or returns the
// existing active one (idempotent-by-ride-state). Amounts are clamped
// to MaxAmountCents; anything below MinAmountCents is rejected.
func (s *Service) Create(ctx context.Context, rideID string, amountCents int64) (*models.DonationIntent, error) {
	if amountCents < MinAmountCents {
		return nil, fmt.Errorf("%w: minimum donation is $1.00", models.ErrInvalidAmount)
	}
	if amountCents > MaxAmountCents {
		amountCents = MaxAmountCents
	}
	if _, err := s.Store.GetRide(ctx, rideID); err != nil {
		return nil, err
	}

	providerRef, secret, err := s.issuer().Issue(ctx, amountCents, rideID)
	if err != nil {
		return nil, fmt.Errorf("issue payment token: %w", err)
	}
	now := s.now()
	in := &models.DonationIntent{
		ID:           models.NewID(),
		RideID:       rideID,
		ProviderRef:  providerRef,
		AmountCents:  amountCents,
		Status:       models.IntentCreated,
		ClientSecret: secret,
		CreatedAt:    now,
	}
	intent, created, err := s.Store.CreateIntent(ctx, in)
	if err != nil {
		return nil, err
	}
	if created {
		observability.IntentsCreated.Inc()
		if s.Events != nil {
			if err := s.Events.Publish(ctx, models.RideEvent{
				Type: models.EventDonationCreated, RideID: rideID,
				Cents: amountCents, At: now,
			}); err != nil && s.Logger != nil {
				s.Logger.Warn("event publish failed", "type", models.EventDonationCreated, "error", err)
			}
		}
	}
	return intent, nil
}

// Suggest computes the amount the rider dashboard pre-fills, in cents.
// Fixed preferences use the configured amount; distance-based ones use
// base + great-circle miles * multiplier, clamped to the allowed range.
func Suggest(prefs *models.DonationPreferences, pickup, dropoff models.Coord) int64 {
	var cents int64
	switch {
	case prefs == nil:
		cents = BaseFeeCents
	case prefs.AutoType == models.DonationFixed && prefs.AutoAmountCents > 0:
		cents = prefs.AutoAmountCents
	default:
		mult := prefs.AutoMultiplier
		if mult <= 0 {
			mult = DefaultMultiplier
		}
		miles := geo.DistanceMiles(pickup, dropoff)
		cents = BaseFeeCents + int64(math.Round(miles*mult*100))
	}
	if cents < MinAmountCents {
		cents = MinAmountCents
	}
	if cents > MaxAmountCents {
		cents = MaxAmountCents
	}
	return cents
}

// AutoPrompt implements the once-per-ride donation prompt: on the first
// observed completion of a ride whose rider opted in, it computes the
// suggested amount and prepares an intent. The ride id is the
// idempotency key; re-observing a completed ride never re-fires.
func (s *Service) AutoPrompt(ctx context.Context, ride *models.Ride) error {
	prefs, err := s.Store.GetPreferences(ctx, ride.RiderID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil // rider never configured auto-donation
		}
		return err
	}
	if !prefs.AutoEnabled {
		return nil
	}

	first, err := s.Store.MarkAutoPrompted(ctx, ride.ID)
	if err != nil {
		return err
	}
	if !first {
		return nil
	}

	req, err := s.Store.GetRideRequest(ctx, ride.RideRequestID)
	if err != nil {
		return err
	}
	cents := Suggest(prefs, req.Pickup, req.Dropoff)
	if _, err := s.Create(ctx, ride.ID, cents); err != nil {
		return err
	}
	observability.AutoPrompts.Inc()
	return nil
}

// HandleCallback applies a payment-provider outcome to the intent it
// references. Unknown references are ignored: the provider may replay
// events for intents the engine never created.
func (s *Service) HandleCallback(ctx context.Context, providerRef, outcome string) error {
	var status models.IntentStatus
	switch outcome {
	case "succeeded":
		status = models.IntentSucceeded
	case "failed":
		status = models.IntentFailed
	case "cancelled":
		status = models.IntentCancelled
	default:
		return fmt.Errorf("%w: unknown outcome %q", models.ErrInvalidInput, outcome)
	}
	intent, err := s.Store.GetIntentByProviderRef(ctx, providerRef)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil
		}
		return err
	}
	_, err = s.Store.UpdateIntentStatus(ctx, intent.ID, status, s.now())
	return err
}

// Preferences returns the rider's auto-donation settings, defaulting to
// disabled when none were ever saved.
func (s *Service) Preferences(ctx context.Context, riderID string) (*models.DonationPreferences, error) {
	prefs, err := s.Store.GetPreferences(ctx, riderID)
	if errors.Is(err, models.ErrNotFound) {
		return &models.DonationPreferences{RiderID: riderID, AutoType: models.DonationFixed}, nil
	}
	return prefs, err
}

// UpdatePreferences validates and stores auto-donation settings. Fixed
// mode requires an amount; distance-based mode gets the default
// multiplier when unset.
func (s *Service) UpdatePreferences(ctx context.Context, p *models.DonationPreferences) (*models.DonationPreferences, error) {
	switch p.AutoType {
	case models.DonationFixed:
		if p.AutoEnabled && p.AutoAmountCents < MinAmountCents {
			return nil, fmt.Errorf("%w: fixed auto-donation requires an amount", models.ErrInvalidAmount)
		}
		p.AutoMultiplier = 0
	case models.DonationDistanceBased:
		if p.AutoMultiplier <= 0 {
			p.AutoMultiplier = DefaultMultiplier
		}
		p.AutoAmountCents = 0
	default:
		return nil, fmt.Errorf("%w: unknown auto-donation type %q", models.ErrInvalidInput, p.AutoType)
	}
	if err := s.Store.PutPreferences(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}
