package crossingcount

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/pair"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const table = "crossing_counts"

var columns = []string{
	"id",
	"user_low_id",
	"user_high_id",
	"venue_id",
	"venue_name",
	"latitude",
	"longitude",
	"cross_count",
	"created_at",
	"updated_at",
}

// Repository keeps one counter row per (pair, venue).
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

// RecordCrossing inserts the counter at 1 or increments it in a single statement.
// The returned count is the value after this call.
func (r *Repository) RecordCrossing(ctx context.Context, p pair.Pair, venue models.VenueRef) (models.CrossingTally, error) {
	ctx, span := tracing.StartSpan(ctx, "crossingcount.Repository.RecordCrossing")
	defer span.End()

	now := time.Now().UTC()

	sb := r.db.Flavor().NewInsertBuilder()
	sb.InsertInto(table)
	sb.Cols(columns...)
	sb.Values(
		p.VenueID(venue.ID),
		p.Low,
		p.High,
		venue.ID,
		venue.Name,
		venue.Latitude,
		venue.Longitude,
		1,
		now,
		now,
	)

	query, args := sb.Build()
	query += database.OnConflictIncrement(table, []string{"user_low_id", "user_high_id", "venue_id"}, "cross_count", "updated_at")
	query += database.Returning("cross_count")

	var count int
	if err := r.db.GetContext(ctx, &count, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"user_low_id":  p.Low,
			"user_high_id": p.High,
			"venue_id":     venue.ID,
		}).Error("Failed to record crossing")
		return models.CrossingTally{}, httperror.NewHTTPError(http.StatusInternalServerError, "failed to record crossing")
	}

	return models.CrossingTally{IsNew: count == 1, Count: count}, nil
}

// Get returns the counter for a pair at a venue, or nil when they never crossed there.
func (r *Repository) Get(ctx context.Context, p pair.Pair, venueID string) (*models.CrossingCount, error) {
	ctx, span := tracing.StartSpan(ctx, "crossingcount.Repository.Get")
	defer span.End()

	sb := r.db.Flavor().NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.Where(
		sb.Equal("user_low_id", p.Low),
		sb.Equal("user_high_id", p.High),
		sb.Equal("venue_id", venueID),
	)

	query, args := sb.Build()
	var out models.CrossingCount
	if err := r.db.GetContext(ctx, &out, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get crossing count")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get crossing count")
	}
	return &out, nil
}

// ListForPair returns the pair's counters across venues, highest count first.
func (r *Repository) ListForPair(ctx context.Context, p pair.Pair) ([]models.CrossingCount, error) {
	ctx, span := tracing.StartSpan(ctx, "crossingcount.Repository.ListForPair")
	defer span.End()

	sb := r.db.Flavor().NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.Where(
		sb.Equal("user_low_id", p.Low),
		sb.Equal("user_high_id", p.High),
	)
	sb.OrderBy("cross_count DESC", "venue_id ASC")

	return r.list(ctx, sb.Build)
}

// ListForUser returns every counter the user is part of, highest count first.
func (r *Repository) ListForUser(ctx context.Context, userID string) ([]models.CrossingCount, error) {
	ctx, span := tracing.StartSpan(ctx, "crossingcount.Repository.ListForUser")
	defer span.End()

	sb := r.db.Flavor().NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.Where(sb.Or(
		sb.Equal("user_low_id", userID),
		sb.Equal("user_high_id", userID),
	))
	sb.OrderBy("cross_count DESC", "user_low_id ASC", "user_high_id ASC", "venue_id ASC")

	return r.list(ctx, sb.Build)
}

func (r *Repository) list(ctx context.Context, build func() (string, []any)) ([]models.CrossingCount, error) {
	query, args := build()

	counts := []models.CrossingCount{}
	if err := r.db.SelectContext(ctx, &counts, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list crossing counts")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list crossing counts")
	}
	return counts, nil
}
