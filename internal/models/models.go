package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// RequestStatus is the lifecycle of a ride request. It only moves
// pending->accepted through the claim path; afterwards it mirrors the
// ride's state.
type RequestStatus string

const (
	RequestPending    RequestStatus = "pending"
	RequestAccepted   RequestStatus = "accepted"
	RequestInProgress RequestStatus = "in_progress"
	RequestCompleted  RequestStatus = "completed"
	RequestCancelled  RequestStatus = "cancelled"
)

// RideStatus is the operational state of a claimed ride.
type RideStatus string

const (
	RideAccepted      RideStatus = "accepted"
	RideDriverEnroute RideStatus = "driver_enroute"
	RideArrived       RideStatus = "arrived"
	RidePickedUp      RideStatus = "picked_up"
	RideInProgress    RideStatus = "in_progress"
	RideCompleted     RideStatus = "completed"
	RideCancelled     RideStatus = "cancelled"
)

type DestinationType string

const (
	DestinationMass        DestinationType = "mass"
	DestinationConfession  DestinationType = "confession"
	DestinationPrayerEvent DestinationType = "prayer_event"
	DestinationSocial      DestinationType = "social"
	DestinationOther       DestinationType = "other"
)

func (d DestinationType) Valid() bool {
	switch d {
	case DestinationMass, DestinationConfession, DestinationPrayerEvent, DestinationSocial, DestinationOther:
		return true
	}
	return false
}

type RideRequest struct {
	ID                string          `json:"id"`
	RiderID           string          `json:"rider_id"`
	Pickup            Coord           `json:"pickup"`
	Dropoff           Coord           `json:"dropoff"`
	DestinationType   DestinationType `json:"destination_type"`
	ParishID          string          `json:"parish_id,omitempty"`
	RequestedDatetime time.Time       `json:"requested_datetime"`
	PassengerCount    int             `json:"passenger_count"`
	Notes             string          `json:"notes,omitempty"`
	Status            RequestStatus   `json:"status"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

type Ride struct {
	ID            string     `json:"id"`
	RideRequestID string     `json:"ride_request_id"`
	DriverID      string     `json:"driver_id"`
	RiderID       string     `json:"rider_id"`
	Status        RideStatus `json:"status"`
	AcceptedAt    time.Time  `json:"accepted_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// IntentStatus tracks a donation intent through the external payment flow.
type IntentStatus string

const (
	IntentCreated   IntentStatus = "created"
	IntentSucceeded IntentStatus = "succeeded"
	IntentFailed    IntentStatus = "failed"
	IntentCancelled IntentStatus = "cancelled"
)

// Active reports whether the intent still blocks creation of another one
// for the same ride. Failed and cancelled intents may be replaced.
func (s IntentStatus) Active() bool {
	return s == IntentCreated || s == IntentSucceeded
}

// DonationIntent is a local record of a voluntary payment for a ride.
// Amounts are integer cents; the client secret is an opaque token the
// rider app exchanges with the payment provider.
type DonationIntent struct {
	ID     string `json:"id"`
	RideID string `json:"ride_id"`
	// ProviderRef is the payment provider's identifier for this intent
	// (a Stripe PaymentIntent id, or a local token reference). Callbacks
	// address intents by it.
	ProviderRef  string       `json:"provider_ref,omitempty"`
	AmountCents  int64        `json:"amount_cents"`
	Status       IntentStatus `json:"status"`
	ClientSecret string       `json:"client_secret,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	CompletedAt  *time.Time   `json:"completed_at,omitempty"`
}

type DonationType string

const (
	DonationFixed         DonationType = "fixed"
	DonationDistanceBased DonationType = "distance_based"
)

// DonationPreferences is a rider's auto-donation configuration.
type DonationPreferences struct {
	RiderID         string       `json:"rider_id"`
	AutoEnabled     bool         `json:"auto_donation_enabled"`
	AutoType        DonationType `json:"auto_donation_type"`
	AutoAmountCents int64        `json:"auto_donation_amount_cents,omitempty"`
	AutoMultiplier  float64      `json:"auto_donation_multiplier,omitempty"`
}

type Review struct {
	ID         string    `json:"id"`
	RideID     string    `json:"ride_id"`
	ReviewerID string    `json:"reviewer_id"`
	RevieweeID string    `json:"reviewee_id"`
	Rating     int       `json:"rating"`
	Comment    string    `json:"comment,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// RideEvent is the message published to the lifecycle event stream and
// consumed by the open-request index maintainer.
type RideEvent struct {
	Type      string    `json:"type"`
	RequestID string    `json:"request_id,omitempty"`
	RideID    string    `json:"ride_id,omitempty"`
	Status    string    `json:"status,omitempty"`
	Pickup    *Coord    `json:"pickup,omitempty"`
	Cents     int64     `json:"cents,omitempty"`
	At        time.Time `json:"at"`
}

const (
	EventRequestCreated    = "request_created"
	EventRequestClaimed    = "request_claimed"
	EventRequestCancelled  = "request_cancelled"
	EventRideStatusChanged = "ride_status_changed"
	EventDonationCreated   = "donation_created"
	EventReviewSubmitted   = "review_submitted"
)
