package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/example/parish-rides/internal/lifecycle"
	"github.com/example/parish-rides/internal/models"
)

// MemoryStore is the in-process Store used for local runs and tests.
// One mutex serializes every mutation, which trivially gives the same
// conditional-write semantics the Postgres store gets from transactions.
type MemoryStore struct {
	mu       sync.RWMutex
	requests map[string]*models.RideRequest
	rides    map[string]*models.Ride
	// rideByRequest enforces the one-ride-per-request invariant.
	rideByRequest map[string]string
	intents       map[string]*models.DonationIntent
	prompted      map[string]struct{}
	prefs         map[string]*models.DonationPreferences
	reviews       map[string]*models.Review // keyed by ride id
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		requests:      make(map[string]*models.RideRequest),
		rides:         make(map[string]*models.Ride),
		rideByRequest: make(map[string]string),
		intents:       make(map[string]*models.DonationIntent),
		prompted:      make(map[string]struct{}),
		prefs:         make(map[string]*models.DonationPreferences),
		reviews:       make(map[string]*models.Review),
	}
}

func (m *MemoryStore) CreateRideRequest(ctx context.Context, r *models.RideRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.requests[r.ID] = &cp
	return nil
}

func (m *MemoryStore) GetRideRequest(ctx context.Context, id string) (*models.RideRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) ListOpenRequests(ctx context.Context) ([]*models.RideRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.RideRequest, 0)
	for _, r := range m.requests {
		if r.Status == models.RequestPending {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].RequestedDatetime.Before(out[j].RequestedDatetime)
	})
	return out, nil
}

func (m *MemoryStore) ListRequestsByRider(ctx context.Context, riderID string) ([]*models.RideRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.RideRequest, 0)
	for _, r := range m.requests {
		if r.RiderID == riderID {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryStore) CancelRequest(ctx context.Context, requestID string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[requestID]
	if !ok {
		return models.ErrNotFound
	}
	switch r.Status {
	case models.RequestPending:
		r.Status = models.RequestCancelled
		r.UpdatedAt = now
		return nil
	case models.RequestCancelled:
		return models.ErrInvalidState
	default:
		// Claimed before the cancel committed.
		return models.ErrAlreadyClaimed
	}
}

func (m *MemoryStore) ClaimRequest(ctx context.Context, requestID, driverID string, now time.Time) (*models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[requestID]
	if !ok {
		return nil, models.ErrNotFound
	}
	if r.Status == models.RequestCancelled {
		return nil, models.ErrInvalidState
	}
	if r.Status != models.RequestPending {
		return nil, models.ErrAlreadyClaimed
	}
	if _, exists := m.rideByRequest[requestID]; exists {
		return nil, models.ErrAlreadyClaimed
	}
	ride := &models.Ride{
		ID:            models.NewID(),
		RideRequestID: requestID,
		DriverID:      driverID,
		RiderID:       r.RiderID,
		Status:        models.RideAccepted,
		AcceptedAt:    now,
	}
	r.Status = models.RequestAccepted
	r.UpdatedAt = now
	m.rides[ride.ID] = ride
	m.rideByRequest[requestID] = ride.ID
	cp := *ride
	return &cp, nil
}

func (m *MemoryStore) GetRide(ctx context.Context, id string) (*models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rides[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) ListRidesByDriver(ctx context.Context, driverID string) ([]*models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Ride, 0)
	for _, r := range m.rides {
		if r.DriverID == driverID {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].AcceptedAt.After(out[j].AcceptedAt)
	})
	return out, nil
}

func (m *MemoryStore) TransitionRide(ctx context.Context, rideID string, expect, next models.RideStatus, now time.Time) (*models.Ride, error) {
	if !lifecycle.CanTransition(expect, next) {
		return nil, models.ErrInvalidTransition
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ride, ok := m.rides[rideID]
	if !ok {
		return nil, models.ErrNotFound
	}
	if ride.Status != expect {
		// Lost a concurrent transition race.
		return nil, models.ErrInvalidTransition
	}
	ride.Status = next
	if next == models.RideInProgress && ride.StartedAt == nil {
		t := now
		ride.StartedAt = &t
	}
	if next == models.RideCompleted && ride.CompletedAt == nil {
		t := now
		ride.CompletedAt = &t
	}
	if req, ok := m.requests[ride.RideRequestID]; ok {
		req.Status = lifecycle.MirrorRequestStatus(next)
		req.UpdatedAt = now
	}
	cp := *ride
	return &cp, nil
}

func (m *MemoryStore) GetIntentByRide(ctx context.Context, rideID string) (*models.DonationIntent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var newest *models.DonationIntent
	for _, in := range m.intents {
		if in.RideID != rideID || !in.Status.Active() {
			continue
		}
		if newest == nil || in.CreatedAt.After(newest.CreatedAt) {
			newest = in
		}
	}
	if newest == nil {
		return nil, models.ErrNotFound
	}
	cp := *newest
	return &cp, nil
}

func (m *MemoryStore) CreateIntent(ctx context.Context, in *models.DonationIntent) (*models.DonationIntent, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.intents {
		if existing.RideID == in.RideID && existing.Status.Active() {
			cp := *existing
			return &cp, false, nil
		}
	}
	cp := *in
	m.intents[in.ID] = &cp
	out := cp
	return &out, true, nil
}

func (m *MemoryStore) UpdateIntentStatus(ctx context.Context, intentID string, status models.IntentStatus, now time.Time) (*models.DonationIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	in, ok := m.intents[intentID]
	if !ok {
		return nil, models.ErrNotFound
	}
	in.Status = status
	if status != models.IntentCreated && in.CompletedAt == nil {
		t := now
		in.CompletedAt = &t
	}
	cp := *in
	return &cp, nil
}

func (m *MemoryStore) GetIntent(ctx context.Context, intentID string) (*models.DonationIntent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	in, ok := m.intents[intentID]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *in
	return &cp, nil
}

func (m *MemoryStore) GetIntentByProviderRef(ctx context.Context, providerRef string) (*models.DonationIntent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, in := range m.intents {
		if in.ProviderRef == providerRef {
			cp := *in
			return &cp, nil
		}
	}
	return nil, models.ErrNotFound
}

func (m *MemoryStore) MarkAutoPrompted(ctx context.Context, rideID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, seen := m.prompted[rideID]; seen {
		return false, nil
	}
	m.prompted[rideID] = struct{}{}
	return true, nil
}

func (m *MemoryStore) GetPreferences(ctx context.Context, riderID string) (*models.DonationPreferences, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.prefs[riderID]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) PutPreferences(ctx context.Context, p *models.DonationPreferences) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.prefs[p.RiderID] = &cp
	return nil
}

func (m *MemoryStore) CreateReview(ctx context.Context, rev *models.Review) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.reviews[rev.RideID]; exists {
		return models.ErrAlreadyReviewed
	}
	cp := *rev
	m.reviews[rev.RideID] = &cp
	return nil
}

func (m *MemoryStore) GetReviewByRide(ctx context.Context, rideID string) (*models.Review, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rev, ok := m.reviews[rideID]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *rev
	return &cp, nil
}
