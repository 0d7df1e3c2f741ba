// Package lifecycle is the single source of truth for ride status
// transitions. Callers never compare statuses themselves; they ask this
// table.
package lifecycle

import "github.com/example/parish-rides/internal/models"

var transitions = map[models.RideStatus][]models.RideStatus{
	models.RideAccepted:      {models.RideDriverEnroute, models.RideCancelled},
	models.RideDriverEnroute: {models.RideArrived, models.RideCancelled},
	models.RideArrived:       {models.RidePickedUp, models.RideCancelled},
	models.RidePickedUp:      {models.RideInProgress, models.RideCancelled},
	models.RideInProgress:    {models.RideCompleted, models.RideCancelled},
	models.RideCompleted:     {},
	models.RideCancelled:     {},
}

// NextAllowed returns the set of statuses reachable from current. The
// returned slice is a copy; callers may mutate it.
func NextAllowed(current models.RideStatus) []models.RideStatus {
	out := make([]models.RideStatus, len(transitions[current]))
	copy(out, transitions[current])
	return out
}

func CanTransition(from, to models.RideStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func IsTerminal(s models.RideStatus) bool {
	next, ok := transitions[s]
	return ok && len(next) == 0
}

// Known reports whether s is a member of the closed status set.
func Known(s models.RideStatus) bool {
	_, ok := transitions[s]
	return ok
}

// MirrorRequestStatus maps a ride status onto the status its originating
// request must carry. The ride write and this mirrored write always land
// in the same atomic unit.
func MirrorRequestStatus(s models.RideStatus) models.RequestStatus {
	switch s {
	case models.RideInProgress:
		return models.RequestInProgress
	case models.RideCompleted:
		return models.RequestCompleted
	case models.RideCancelled:
		return models.RequestCancelled
	default:
		// accepted, driver_enroute, arrived, picked_up
		return models.RequestAccepted
	}
}
