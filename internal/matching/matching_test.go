package matching

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/parish-rides/internal/models"
	"github.com/example/parish-rides/internal/storage"
)

type fakeProducer struct {
	events []models.RideEvent
	err    error
}

func (f *fakeProducer) Publish(ctx context.Context, ev models.RideEvent) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeProducer) typesSeen() []string {
	out := make([]string, 0, len(f.events))
	for _, ev := range f.events {
		out = append(out, ev.Type)
	}
	return out
}

type fakeIndex struct {
	added   map[string]models.Coord
	removed []string
	nearby  []string
	err     error
}

func newFakeIndex() *fakeIndex { return &fakeIndex{added: map[string]models.Coord{}} }

func (f *fakeIndex) Add(ctx context.Context, id string, c models.Coord) error {
	if f.err != nil {
		return f.err
	}
	f.added[id] = c
	return nil
}

func (f *fakeIndex) Remove(ctx context.Context, id string) error {
	f.removed = append(f.removed, id)
	return nil
}

func (f *fakeIndex) NearbyIDs(ctx context.Context, center models.Coord, radiusMeters float64, limit int) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.nearby, nil
}

type fakePrompter struct {
	calls []string
	err   error
}

func (f *fakePrompter) AutoPrompt(ctx context.Context, ride *models.Ride) error {
	f.calls = append(f.calls, ride.ID)
	return f.err
}

func newService() (*Service, *storage.MemoryStore, *fakeProducer, *fakeIndex, *fakePrompter) {
	store := storage.NewMemoryStore()
	prod := &fakeProducer{}
	idx := newFakeIndex()
	prompt := &fakePrompter{}
	svc := &Service{Store: store, Events: prod, Index: idx, Prompter: prompt}
	return svc, store, prod, idx, prompt
}

func validInput(riderID string) CreateInput {
	return CreateInput{
		RiderID:           riderID,
		Pickup:            models.Coord{Lat: 37.7749, Lon: -122.4194},
		Dropoff:           models.Coord{Lat: 37.7849, Lon: -122.4094},
		DestinationType:   models.DestinationMass,
		RequestedDatetime: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC),
		PassengerCount:    2,
	}
}

func TestCreate_IndexesAndPublishes(t *testing.T) {
	svc, _, prod, idx, _ := newService()
	ctx := context.Background()

	req, err := svc.Create(ctx, validInput("rider1"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if req.Status != models.RequestPending {
		t.Fatalf("status = %s, want pending", req.Status)
	}
	if _, ok := idx.added[req.ID]; !ok {
		t.Fatalf("request not added to proximity index")
	}
	if len(prod.events) != 1 || prod.events[0].Type != models.EventRequestCreated {
		t.Fatalf("events = %v", prod.typesSeen())
	}
	if prod.events[0].Pickup == nil || prod.events[0].Pickup.Lat != req.Pickup.Lat {
		t.Fatalf("created event missing pickup")
	}
}

func TestCreate_RejectsBadInput(t *testing.T) {
	svc, _, _, _, _ := newService()
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*CreateInput)
	}{
		{"no rider", func(in *CreateInput) { in.RiderID = "" }},
		{"bad latitude", func(in *CreateInput) { in.Pickup.Lat = 91 }},
		{"bad destination", func(in *CreateInput) { in.DestinationType = "wedding" }},
		{"zero passengers", func(in *CreateInput) { in.PassengerCount = 0 }},
	}
	for _, tc := range cases {
		in := validInput("rider1")
		tc.mutate(&in)
		if _, err := svc.Create(ctx, in); !errors.Is(err, models.ErrInvalidInput) {
			t.Errorf("%s: err = %v, want ErrInvalidInput", tc.name, err)
		}
	}
}

func TestAccept_ClaimsAndRemovesFromIndex(t *testing.T) {
	svc, _, prod, idx, _ := newService()
	ctx := context.Background()

	req, _ := svc.Create(ctx, validInput("rider1"))
	ride, err := svc.Accept(ctx, req.ID, "driver1")
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if ride.Status != models.RideAccepted || ride.DriverID != "driver1" || ride.RiderID != "rider1" {
		t.Fatalf("ride = %+v", ride)
	}
	if len(idx.removed) != 1 || idx.removed[0] != req.ID {
		t.Fatalf("removed = %v, want [%s]", idx.removed, req.ID)
	}
	if got := prod.typesSeen(); len(got) != 2 || got[1] != models.EventRequestClaimed {
		t.Fatalf("events = %v", got)
	}

	// Second claim loses.
	if _, err := svc.Accept(ctx, req.ID, "driver2"); !errors.Is(err, models.ErrAlreadyClaimed) {
		t.Fatalf("second accept err = %v, want ErrAlreadyClaimed", err)
	}
}

func TestAccept_OwnRequestForbidden(t *testing.T) {
	svc, _, _, _, _ := newService()
	ctx := context.Background()

	req, _ := svc.Create(ctx, validInput("rider1"))
	if _, err := svc.Accept(ctx, req.ID, "rider1"); !errors.Is(err, models.ErrForbidden) {
		t.Fatalf("err = %v, want ErrForbidden", err)
	}
}

func TestCancelRequest_OnlyOwnerAndOnlyPending(t *testing.T) {
	svc, _, _, _, _ := newService()
	ctx := context.Background()

	req, _ := svc.Create(ctx, validInput("rider1"))
	if err := svc.CancelRequest(ctx, req.ID, "someone-else"); !errors.Is(err, models.ErrForbidden) {
		t.Fatalf("stranger cancel err = %v, want ErrForbidden", err)
	}
	if err := svc.CancelRequest(ctx, req.ID, "rider1"); err != nil {
		t.Fatalf("owner cancel: %v", err)
	}
	if _, err := svc.Accept(ctx, req.ID, "driver1"); !errors.Is(err, models.ErrInvalidState) {
		t.Fatalf("accept after cancel err = %v, want ErrInvalidState", err)
	}

	req2, _ := svc.Create(ctx, validInput("rider1"))
	if _, err := svc.Accept(ctx, req2.ID, "driver1"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if err := svc.CancelRequest(ctx, req2.ID, "rider1"); !errors.Is(err, models.ErrAlreadyClaimed) {
		t.Fatalf("cancel after claim err = %v, want ErrAlreadyClaimed", err)
	}
}

func TestListOpenNear_UsesIndexAndSkipsStale(t *testing.T) {
	svc, _, _, idx, _ := newService()
	ctx := context.Background()

	open, _ := svc.Create(ctx, validInput("rider1"))
	claimed, _ := svc.Create(ctx, validInput("rider2"))
	if _, err := svc.Accept(ctx, claimed.ID, "driver1"); err != nil {
		t.Fatalf("accept: %v", err)
	}
	// Index still returns the claimed id and one the store never saw.
	idx.nearby = []string{open.ID, claimed.ID, "gone"}

	got, err := svc.ListOpenNear(ctx, models.Coord{Lat: 37.77, Lon: -122.41}, 25000, 50)
	if err != nil {
		t.Fatalf("list near: %v", err)
	}
	if len(got) != 1 || got[0].ID != open.ID {
		t.Fatalf("got %d requests, want only the open one", len(got))
	}
}

func TestListOpenNear_FallsBackWhenIndexFails(t *testing.T) {
	svc, _, _, idx, _ := newService()
	ctx := context.Background()

	req, _ := svc.Create(ctx, validInput("rider1"))
	idx.err = errors.New("redis down")

	got, err := svc.ListOpenNear(ctx, models.Coord{}, 25000, 50)
	if err != nil {
		t.Fatalf("list near: %v", err)
	}
	if len(got) != 1 || got[0].ID != req.ID {
		t.Fatalf("fallback returned %d requests", len(got))
	}
}

func TestUpdateRideStatus_DriverOnlyAndOrdered(t *testing.T) {
	svc, _, _, _, _ := newService()
	ctx := context.Background()

	req, _ := svc.Create(ctx, validInput("rider1"))
	ride, _ := svc.Accept(ctx, req.ID, "driver1")

	if _, err := svc.UpdateRideStatus(ctx, ride.ID, "driver2", models.RideDriverEnroute); !errors.Is(err, models.ErrForbidden) {
		t.Fatalf("other driver err = %v, want ErrForbidden", err)
	}
	if _, err := svc.UpdateRideStatus(ctx, ride.ID, "driver1", models.RidePickedUp); !errors.Is(err, models.ErrInvalidTransition) {
		t.Fatalf("skipped step err = %v, want ErrInvalidTransition", err)
	}
	if _, err := svc.UpdateRideStatus(ctx, ride.ID, "driver1", "teleporting"); !errors.Is(err, models.ErrInvalidTransition) {
		t.Fatalf("unknown status err = %v, want ErrInvalidTransition", err)
	}

	for _, next := range []models.RideStatus{
		models.RideDriverEnroute, models.RideArrived, models.RidePickedUp, models.RideInProgress, models.RideCompleted,
	} {
		if _, err := svc.UpdateRideStatus(ctx, ride.ID, "driver1", next); err != nil {
			t.Fatalf("transition to %s: %v", next, err)
		}
	}
}

func TestUpdateRideStatus_CompletionFiresPrompterOnce(t *testing.T) {
	svc, _, prod, _, prompt := newService()
	ctx := context.Background()

	req, _ := svc.Create(ctx, validInput("rider1"))
	ride, _ := svc.Accept(ctx, req.ID, "driver1")
	for _, next := range []models.RideStatus{
		models.RideDriverEnroute, models.RideArrived, models.RidePickedUp, models.RideInProgress,
	} {
		if _, err := svc.UpdateRideStatus(ctx, ride.ID, "driver1", next); err != nil {
			t.Fatalf("transition to %s: %v", next, err)
		}
	}
	if len(prompt.calls) != 0 {
		t.Fatalf("prompter fired before completion")
	}
	updated, err := svc.UpdateRideStatus(ctx, ride.ID, "driver1", models.RideCompleted)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if updated.CompletedAt == nil {
		t.Fatalf("completed_at not stamped")
	}
	if len(prompt.calls) != 1 || prompt.calls[0] != ride.ID {
		t.Fatalf("prompter calls = %v", prompt.calls)
	}
	last := prod.events[len(prod.events)-1]
	if last.Type != models.EventRideStatusChanged || last.Status != string(models.RideCompleted) {
		t.Fatalf("last event = %+v", last)
	}
}

func TestUpdateRideStatus_PrompterFailureDoesNotSurface(t *testing.T) {
	svc, _, _, _, prompt := newService()
	prompt.err = errors.New("donation backend down")
	ctx := context.Background()

	req, _ := svc.Create(ctx, validInput("rider1"))
	ride, _ := svc.Accept(ctx, req.ID, "driver1")
	for _, next := range []models.RideStatus{
		models.RideDriverEnroute, models.RideArrived, models.RidePickedUp, models.RideInProgress, models.RideCompleted,
	} {
		if _, err := svc.UpdateRideStatus(ctx, ride.ID, "driver1", next); err != nil {
			t.Fatalf("transition to %s: %v", next, err)
		}
	}
}
