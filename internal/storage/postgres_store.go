package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/example/parish-rides/internal/lifecycle"
	"github.com/example/parish-rides/internal/models"
)

// PostgresStore implements Store on database/sql + lib/pq. The claim and
// transition paths use conditional UPDATEs inside transactions so that a
// read-then-write interleaving can never produce two winners.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) Close() error { return p.db.Close() }

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation
}

func (p *PostgresStore) CreateRideRequest(ctx context.Context, r *models.RideRequest) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO ride_requests(id, rider_id, pickup_lat, pickup_lon, dropoff_lat, dropoff_lon, destination_type, parish_id, requested_datetime, passenger_count, notes, status, created_at, updated_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,NULLIF($8,''),$9,$10,$11,$12,$13,$14)`,
		r.ID, r.RiderID, r.Pickup.Lat, r.Pickup.Lon, r.Dropoff.Lat, r.Dropoff.Lon,
		string(r.DestinationType), r.ParishID, r.RequestedDatetime, r.PassengerCount,
		r.Notes, string(r.Status), r.CreatedAt, r.UpdatedAt)
	return err
}

const requestColumns = `id, rider_id, pickup_lat, pickup_lon, dropoff_lat, dropoff_lon, destination_type, COALESCE(parish_id,''), requested_datetime, passenger_count, COALESCE(notes,''), status, created_at, updated_at`

func scanRequest(row interface{ Scan(...any) error }) (*models.RideRequest, error) {
	var r models.RideRequest
	var dest, status string
	err := row.Scan(&r.ID, &r.RiderID, &r.Pickup.Lat, &r.Pickup.Lon, &r.Dropoff.Lat, &r.Dropoff.Lon,
		&dest, &r.ParishID, &r.RequestedDatetime, &r.PassengerCount, &r.Notes, &status, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.DestinationType = models.DestinationType(dest)
	r.Status = models.RequestStatus(status)
	return &r, nil
}

func (p *PostgresStore) GetRideRequest(ctx context.Context, id string) (*models.RideRequest, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM ride_requests WHERE id=$1`, id)
	r, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	return r, err
}

func (p *PostgresStore) listRequests(ctx context.Context, query string, args ...any) ([]*models.RideRequest, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*models.RideRequest, 0)
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *PostgresStore) ListOpenRequests(ctx context.Context) ([]*models.RideRequest, error) {
	return p.listRequests(ctx, `SELECT `+requestColumns+` FROM ride_requests WHERE status='pending' ORDER BY requested_datetime ASC`)
}

func (p *PostgresStore) ListRequestsByRider(ctx context.Context, riderID string) ([]*models.RideRequest, error) {
	return p.listRequests(ctx, `SELECT `+requestColumns+` FROM ride_requests WHERE rider_id=$1 ORDER BY created_at DESC`, riderID)
}

func (p *PostgresStore) CancelRequest(ctx context.Context, requestID string, now time.Time) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE ride_requests SET status='cancelled', updated_at=$2 WHERE id=$1 AND status='pending'`,
		requestID, now)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	// Lost to a claim, already cancelled, or absent. Re-read to tell which.
	r, err := p.GetRideRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if r.Status == models.RequestCancelled {
		return models.ErrInvalidState
	}
	return models.ErrAlreadyClaimed
}

func (p *PostgresStore) ClaimRequest(ctx context.Context, requestID, driverID string, now time.Time) (*models.Ride, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	// Conditional write keyed on the pending status is the claim guard:
	// of N concurrent attempts exactly one row update reports 1.
	res, err := tx.ExecContext(ctx,
		`UPDATE ride_requests SET status='accepted', updated_at=$2 WHERE id=$1 AND status='pending'`,
		requestID, now)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var status string
		err := tx.QueryRowContext(ctx, `SELECT status FROM ride_requests WHERE id=$1`, requestID).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		if err != nil {
			return nil, err
		}
		if models.RequestStatus(status) == models.RequestCancelled {
			return nil, models.ErrInvalidState
		}
		return nil, models.ErrAlreadyClaimed
	}

	var riderID string
	if err := tx.QueryRowContext(ctx, `SELECT rider_id FROM ride_requests WHERE id=$1`, requestID).Scan(&riderID); err != nil {
		return nil, err
	}

	ride := &models.Ride{
		ID:            models.NewID(),
		RideRequestID: requestID,
		DriverID:      driverID,
		RiderID:       riderID,
		Status:        models.RideAccepted,
		AcceptedAt:    now,
	}
	// rides.ride_request_id is unique; a second insert for the same
	// request can only happen if the claim guard above was bypassed.
	if _, err := tx.ExecContext(ctx, `INSERT INTO rides(id, ride_request_id, driver_id, rider_id, status, accepted_at)
		VALUES($1,$2,$3,$4,$5,$6)`,
		ride.ID, ride.RideRequestID, ride.DriverID, ride.RiderID, string(ride.Status), ride.AcceptedAt); err != nil {
		if isUniqueViolation(err) {
			return nil, models.ErrAlreadyClaimed
		}
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ride, nil
}

const rideColumns = `id, ride_request_id, driver_id, rider_id, status, accepted_at, started_at, completed_at`

func scanRide(row interface{ Scan(...any) error }) (*models.Ride, error) {
	var r models.Ride
	var status string
	var started, completed sql.NullTime
	err := row.Scan(&r.ID, &r.RideRequestID, &r.DriverID, &r.RiderID, &status, &r.AcceptedAt, &started, &completed)
	if err != nil {
		return nil, err
	}
	r.Status = models.RideStatus(status)
	if started.Valid {
		t := started.Time
		r.StartedAt = &t
	}
	if completed.Valid {
		t := completed.Time
		r.CompletedAt = &t
	}
	return &r, nil
}

func (p *PostgresStore) GetRide(ctx context.Context, id string) (*models.Ride, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+rideColumns+` FROM rides WHERE id=$1`, id)
	r, err := scanRide(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	return r, err
}

func (p *PostgresStore) ListRidesByDriver(ctx context.Context, driverID string) ([]*models.Ride, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+rideColumns+` FROM rides WHERE driver_id=$1 ORDER BY accepted_at DESC`, driverID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*models.Ride, 0)
	for rows.Next() {
		r, err := scanRide(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *PostgresStore) TransitionRide(ctx context.Context, rideID string, expect, next models.RideStatus, now time.Time) (*models.Ride, error) {
	if !lifecycle.CanTransition(expect, next) {
		return nil, models.ErrInvalidTransition
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE rides SET status=$2,
		started_at   = CASE WHEN $2='in_progress' THEN COALESCE(started_at, $3) ELSE started_at END,
		completed_at = CASE WHEN $2='completed'   THEN COALESCE(completed_at, $3) ELSE completed_at END
		WHERE id=$1 AND status=$4`,
		rideID, string(next), now, string(expect))
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM rides WHERE id=$1)`, rideID).Scan(&exists); err != nil {
			return nil, err
		}
		if !exists {
			return nil, models.ErrNotFound
		}
		// Status moved under us; the caller's expectation is stale.
		return nil, models.ErrInvalidTransition
	}

	// Mirrored request write stays inside the same transaction: a ride
	// update without its request update must never be observable.
	mirror := lifecycle.MirrorRequestStatus(next)
	if _, err := tx.ExecContext(ctx,
		`UPDATE ride_requests SET status=$2, updated_at=$3 WHERE id=(SELECT ride_request_id FROM rides WHERE id=$1)`,
		rideID, string(mirror), now); err != nil {
		return nil, err
	}

	row := tx.QueryRowContext(ctx, `SELECT `+rideColumns+` FROM rides WHERE id=$1`, rideID)
	ride, err := scanRide(row)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ride, nil
}

const intentColumns = `id, ride_id, COALESCE(provider_ref,''), amount_cents, status, COALESCE(client_secret,''), created_at, completed_at`

func scanIntent(row interface{ Scan(...any) error }) (*models.DonationIntent, error) {
	var in models.DonationIntent
	var status string
	var completed sql.NullTime
	err := row.Scan(&in.ID, &in.RideID, &in.ProviderRef, &in.AmountCents, &status, &in.ClientSecret, &in.CreatedAt, &completed)
	if err != nil {
		return nil, err
	}
	in.Status = models.IntentStatus(status)
	if completed.Valid {
		t := completed.Time
		in.CompletedAt = &t
	}
	return &in, nil
}

func (p *PostgresStore) GetIntentByRide(ctx context.Context, rideID string) (*models.DonationIntent, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+intentColumns+` FROM donation_intents
		WHERE ride_id=$1 AND status IN ('created','succeeded') ORDER BY created_at DESC LIMIT 1`, rideID)
	in, err := scanIntent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	return in, err
}

func (p *PostgresStore) CreateIntent(ctx context.Context, in *models.DonationIntent) (*models.DonationIntent, bool, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback()

	// Per-ride advisory lock serializes concurrent duplicate creates; a
	// plain SELECT FOR UPDATE does not help when no row exists yet.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, in.RideID); err != nil {
		return nil, false, err
	}

	row := tx.QueryRowContext(ctx, `SELECT `+intentColumns+` FROM donation_intents
		WHERE ride_id=$1 AND status IN ('created','succeeded') ORDER BY created_at DESC LIMIT 1`, in.RideID)
	existing, err := scanIntent(row)
	switch {
	case err == nil:
		if err := tx.Commit(); err != nil {
			return nil, false, err
		}
		return existing, false, nil
	case errors.Is(err, sql.ErrNoRows):
		// fall through to insert
	default:
		return nil, false, err
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO donation_intents(id, ride_id, provider_ref, amount_cents, status, client_secret, created_at)
		VALUES($1,$2,NULLIF($3,''),$4,$5,$6,$7)`,
		in.ID, in.RideID, in.ProviderRef, in.AmountCents, string(in.Status), in.ClientSecret, in.CreatedAt); err != nil {
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return nil, false, err
	}
	cp := *in
	return &cp, true, nil
}

func (p *PostgresStore) UpdateIntentStatus(ctx context.Context, intentID string, status models.IntentStatus, now time.Time) (*models.DonationIntent, error) {
	res, err := p.db.ExecContext(ctx, `UPDATE donation_intents SET status=$2,
		completed_at = CASE WHEN $2 <> 'created' THEN COALESCE(completed_at, $3) ELSE completed_at END
		WHERE id=$1`, intentID, string(status), now)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, models.ErrNotFound
	}
	return p.GetIntent(ctx, intentID)
}

func (p *PostgresStore) GetIntent(ctx context.Context, intentID string) (*models.DonationIntent, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+intentColumns+` FROM donation_intents WHERE id=$1`, intentID)
	in, err := scanIntent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	return in, err
}

func (p *PostgresStore) GetIntentByProviderRef(ctx context.Context, providerRef string) (*models.DonationIntent, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+intentColumns+` FROM donation_intents WHERE provider_ref=$1`, providerRef)
	in, err := scanIntent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	return in, err
}

func (p *PostgresStore) MarkAutoPrompted(ctx context.Context, rideID string) (bool, error) {
	res, err := p.db.ExecContext(ctx,
		`INSERT INTO donation_prompts(ride_id, created_at) VALUES($1, now()) ON CONFLICT (ride_id) DO NOTHING`, rideID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (p *PostgresStore) GetPreferences(ctx context.Context, riderID string) (*models.DonationPreferences, error) {
	var pref models.DonationPreferences
	var typ string
	err := p.db.QueryRowContext(ctx, `SELECT rider_id, auto_enabled, auto_type, COALESCE(auto_amount_cents,0), COALESCE(auto_multiplier,0)
		FROM donation_preferences WHERE rider_id=$1`, riderID).
		Scan(&pref.RiderID, &pref.AutoEnabled, &typ, &pref.AutoAmountCents, &pref.AutoMultiplier)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	pref.AutoType = models.DonationType(typ)
	return &pref, nil
}

func (p *PostgresStore) PutPreferences(ctx context.Context, pref *models.DonationPreferences) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO donation_preferences(rider_id, auto_enabled, auto_type, auto_amount_cents, auto_multiplier)
		VALUES($1,$2,$3,NULLIF($4,0),NULLIF($5,0.0))
		ON CONFLICT (rider_id) DO UPDATE SET auto_enabled=EXCLUDED.auto_enabled, auto_type=EXCLUDED.auto_type,
			auto_amount_cents=EXCLUDED.auto_amount_cents, auto_multiplier=EXCLUDED.auto_multiplier`,
		pref.RiderID, pref.AutoEnabled, string(pref.AutoType), pref.AutoAmountCents, pref.AutoMultiplier)
	return err
}

func (p *PostgresStore) CreateReview(ctx context.Context, rev *models.Review) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO ride_reviews(id, ride_id, reviewer_id, reviewee_id, rating, comment, created_at)
		VALUES($1,$2,$3,$4,$5,NULLIF($6,''),$7)`,
		rev.ID, rev.RideID, rev.ReviewerID, rev.RevieweeID, rev.Rating, rev.Comment, rev.CreatedAt)
	if isUniqueViolation(err) {
		return models.ErrAlreadyReviewed
	}
	if err != nil {
		return fmt.Errorf("insert review: %w", err)
	}
	return nil
}

func (p *PostgresStore) GetReviewByRide(ctx context.Context, rideID string) (*models.Review, error) {
	var rev models.Review
	err := p.db.QueryRowContext(ctx, `SELECT id, ride_id, reviewer_id, reviewee_id, rating, COALESCE(comment,''), created_at
		FROM ride_reviews WHERE ride_id=$1`, rideID).
		Scan(&rev.ID, &rev.RideID, &rev.ReviewerID, &rev.RevieweeID, &rev.Rating, &rev.Comment, &rev.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rev, nil
}
