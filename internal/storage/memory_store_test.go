package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/example/parish-rides/internal/models"
)

func pendingRequest(t *testing.T, s *MemoryStore, riderID string) *models.RideRequest {
	t.Helper()
	r := &models.RideRequest{
		ID:                models.NewID(),
		RiderID:           riderID,
		Pickup:            models.Coord{Lat: 37.7749, Lon: -122.4194},
		Dropoff:           models.Coord{Lat: 37.7849, Lon: -122.4094},
		DestinationType:   models.DestinationMass,
		RequestedDatetime: time.Now().Add(time.Hour),
		PassengerCount:    1,
		Status:            models.RequestPending,
		CreatedAt:         time.Now(),
		UpdatedAt:         time.Now(),
	}
	if err := s.CreateRideRequest(context.Background(), r); err != nil {
		t.Fatalf("create request: %v", err)
	}
	return r
}

func TestClaimRequest_ExactlyOneWinner(t *testing.T) {
	s := NewMemoryStore()
	req := pendingRequest(t, s, "rider-1")
	ctx := context.Background()

	const drivers = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	losers := 0
	for i := 0; i < drivers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := s.ClaimRequest(ctx, req.ID, "driver", time.Now())
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners++
			case errors.Is(err, models.ErrAlreadyClaimed):
				losers++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if winners != 1 || losers != drivers-1 {
		t.Fatalf("expected 1 winner and %d losers, got %d/%d", drivers-1, winners, losers)
	}
	got, err := s.GetRideRequest(ctx, req.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.RequestAccepted {
		t.Fatalf("request status = %s, want accepted", got.Status)
	}
	if len(s.rides) != 1 {
		t.Fatalf("expected exactly one ride, got %d", len(s.rides))
	}
}

func TestClaimRequest_Errors(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if _, err := s.ClaimRequest(ctx, "missing", "d1", time.Now()); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}

	req := pendingRequest(t, s, "rider-1")
	if err := s.CancelRequest(ctx, req.ID, time.Now()); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ClaimRequest(ctx, req.ID, "d1", time.Now()); !errors.Is(err, models.ErrInvalidState) {
		t.Fatalf("expected InvalidState for cancelled request, got %v", err)
	}
}

func TestCancelRequest_LosesToClaim(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	req := pendingRequest(t, s, "rider-1")
	if _, err := s.ClaimRequest(ctx, req.ID, "d1", time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := s.CancelRequest(ctx, req.ID, time.Now()); !errors.Is(err, models.ErrAlreadyClaimed) {
		t.Fatalf("expected AlreadyClaimed, got %v", err)
	}
}

func TestTransitionRide_StampsAndMirrors(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	req := pendingRequest(t, s, "rider-1")
	ride, err := s.ClaimRequest(ctx, req.ID, "d1", time.Now())
	if err != nil {
		t.Fatal(err)
	}

	steps := []models.RideStatus{
		models.RideDriverEnroute, models.RideArrived, models.RidePickedUp,
		models.RideInProgress, models.RideCompleted,
	}
	cur := models.RideAccepted
	var updated *models.Ride
	for _, next := range steps {
		updated, err = s.TransitionRide(ctx, ride.ID, cur, next, time.Now())
		if err != nil {
			t.Fatalf("%s -> %s: %v", cur, next, err)
		}
		cur = next
	}
	if updated.StartedAt == nil || updated.CompletedAt == nil {
		t.Fatal("expected started_at and completed_at stamped")
	}
	gotReq, _ := s.GetRideRequest(ctx, req.ID)
	if gotReq.Status != models.RequestCompleted {
		t.Fatalf("request status = %s, want completed (mirror)", gotReq.Status)
	}
}

func TestTransitionRide_ConcurrentSameEdge(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	req := pendingRequest(t, s, "rider-1")
	ride, err := s.ClaimRequest(ctx, req.ID, "d1", time.Now())
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	ok, conflict := 0, 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.TransitionRide(ctx, ride.ID, models.RideAccepted, models.RideDriverEnroute, time.Now())
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				ok++
			} else if errors.Is(err, models.ErrInvalidTransition) {
				conflict++
			} else {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if ok != 1 {
		t.Fatalf("expected exactly one transition to win, got %d", ok)
	}
	if conflict != 7 {
		t.Fatalf("expected 7 conflicts, got %d", conflict)
	}
}

func TestTransitionRide_IllegalEdge(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	req := pendingRequest(t, s, "rider-1")
	ride, _ := s.ClaimRequest(ctx, req.ID, "d1", time.Now())

	if _, err := s.TransitionRide(ctx, ride.ID, models.RideAccepted, models.RidePickedUp, time.Now()); !errors.Is(err, models.ErrInvalidTransition) {
		t.Fatalf("expected InvalidTransition for accepted -> picked_up, got %v", err)
	}
}

func TestTransitionRide_CancelMirrors(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	req := pendingRequest(t, s, "rider-1")
	ride, _ := s.ClaimRequest(ctx, req.ID, "d1", time.Now())

	if _, err := s.TransitionRide(ctx, ride.ID, models.RideAccepted, models.RideCancelled, time.Now()); err != nil {
		t.Fatal(err)
	}
	gotReq, _ := s.GetRideRequest(ctx, req.ID)
	if gotReq.Status != models.RequestCancelled {
		t.Fatalf("request status = %s, want cancelled (mirror)", gotReq.Status)
	}
	// Terminal: nothing leaves cancelled, and the request can never be
	// claimed again.
	if _, err := s.ClaimRequest(ctx, req.ID, "d2", time.Now()); !errors.Is(err, models.ErrInvalidState) {
		t.Fatalf("expected InvalidState re-claim after cancel, got %v", err)
	}
}

func TestListOpenRequests_OrderAndFiltering(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Now()

	later := pendingRequest(t, s, "r1")
	later.RequestedDatetime = base.Add(2 * time.Hour)
	_ = s.CreateRideRequest(ctx, later)
	sooner := pendingRequest(t, s, "r2")
	sooner.RequestedDatetime = base.Add(30 * time.Minute)
	_ = s.CreateRideRequest(ctx, sooner)
	claimed := pendingRequest(t, s, "r3")
	if _, err := s.ClaimRequest(ctx, claimed.ID, "d1", time.Now()); err != nil {
		t.Fatal(err)
	}

	open, err := s.ListOpenRequests(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(open) != 2 {
		t.Fatalf("expected 2 open requests, got %d", len(open))
	}
	if open[0].ID != sooner.ID || open[1].ID != later.ID {
		t.Fatal("open requests not ordered by requested_datetime ascending")
	}
}

func TestCreateIntent_IdempotentPerRide(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	mk := func() *models.DonationIntent {
		return &models.DonationIntent{
			ID: models.NewID(), RideID: "ride-1", AmountCents: 1000,
			Status: models.IntentCreated, ClientSecret: models.NewID(), CreatedAt: time.Now(),
		}
	}
	first, created, err := s.CreateIntent(ctx, mk())
	if err != nil || !created {
		t.Fatalf("first create: created=%v err=%v", created, err)
	}
	second, created, err := s.CreateIntent(ctx, mk())
	if err != nil {
		t.Fatal(err)
	}
	if created || second.ID != first.ID {
		t.Fatalf("expected existing intent back, got created=%v id=%s", created, second.ID)
	}

	// A failed intent stops blocking the ride.
	if _, err := s.UpdateIntentStatus(ctx, first.ID, models.IntentFailed, time.Now()); err != nil {
		t.Fatal(err)
	}
	third, created, err := s.CreateIntent(ctx, mk())
	if err != nil || !created {
		t.Fatalf("expected fresh intent after failure, created=%v err=%v", created, err)
	}
	if third.ID == first.ID {
		t.Fatal("expected a new intent id")
	}
}

func TestCreateIntent_ConcurrentDuplicates(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	createdCount := 0
	ids := make(map[string]struct{})
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			in := &models.DonationIntent{
				ID: models.NewID(), RideID: "ride-1", AmountCents: 500,
				Status: models.IntentCreated, CreatedAt: time.Now(),
			}
			got, created, err := s.CreateIntent(ctx, in)
			if err != nil {
				t.Errorf("create intent: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if created {
				createdCount++
			}
			ids[got.ID] = struct{}{}
		}()
	}
	wg.Wait()
	if createdCount != 1 || len(ids) != 1 {
		t.Fatalf("expected one intent shared by all callers, created=%d distinct=%d", createdCount, len(ids))
	}
}

func TestMarkAutoPrompted_Once(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	first, err := s.MarkAutoPrompted(ctx, "ride-1")
	if err != nil || !first {
		t.Fatalf("first mark: %v %v", first, err)
	}
	again, err := s.MarkAutoPrompted(ctx, "ride-1")
	if err != nil || again {
		t.Fatalf("expected re-mark to report false, got %v %v", again, err)
	}
}

func TestCreateReview_UniquePerRide(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	rev := &models.Review{ID: models.NewID(), RideID: "ride-1", ReviewerID: "r1", RevieweeID: "d1", Rating: 5, CreatedAt: time.Now()}
	if err := s.CreateReview(ctx, rev); err != nil {
		t.Fatal(err)
	}
	dupe := &models.Review{ID: models.NewID(), RideID: "ride-1", ReviewerID: "r1", RevieweeID: "d1", Rating: 1, CreatedAt: time.Now()}
	if err := s.CreateReview(ctx, dupe); !errors.Is(err, models.ErrAlreadyReviewed) {
		t.Fatalf("expected AlreadyReviewed, got %v", err)
	}
	got, err := s.GetReviewByRide(ctx, "ride-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Rating != 5 {
		t.Fatal("original review must be unchanged after duplicate submit")
	}
}
