package crossedpath

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

const table = "crossed_path_relationships"

var columns = []string{
	"id",
	"user_low_id",
	"user_high_id",
	"venue_id",
	"venue_name",
	"latitude",
	"longitude",
	"is_active",
	"created_at",
}

// Repository keeps at most one relationship row per pair.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

// EnsureRelationship creates the pair's relationship if it does not exist yet.
// An existing row keeps its venue; only the first call's venue is stored.
func (r *Repository) EnsureRelationship(ctx context.Context, p pair.Pair, venue models.VenueRef) (models.RelationshipOutcome, error) {
	ctx, span := tracing.StartSpan(ctx, "crossedpath.Repository.EnsureRelationship")
	defer span.End()

	sb := r.db.Flavor().NewInsertBuilder()
	sb.InsertInto(table)
	sb.Cols(columns...)
	sb.Values(
		p.ID(),
		p.Low,
		p.High,
		venue.ID,
		venue.Name,
		venue.Latitude,
		venue.Longitude,
		true,
		time.Now().UTC(),
	)

	query, args := sb.Build()
	query += database.OnConflictDoNothing("user_low_id", "user_high_id")

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"user_low_id":  p.Low,
			"user_high_id": p.High,
		}).Error("Failed to ensure crossed path relationship")
		return models.RelationshipOutcome{}, httperror.NewHTTPError(http.StatusInternalServerError, "failed to ensure crossed path relationship")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to read affected rows")
		return models.RelationshipOutcome{}, httperror.NewHTTPError(http.StatusInternalServerError, "failed to ensure crossed path relationship")
	}

	return models.RelationshipOutcome{Created: rows == 1}, nil
}

// Get returns the pair's relationship, or nil when they never crossed paths.
func (r *Repository) Get(ctx context.Context, p pair.Pair) (*models.CrossedPathRelationship, error) {
	ctx, span := tracing.StartSpan(ctx, "crossedpath.Repository.Get")
	defer span.End()

	sb := r.db.Flavor().NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.Where(
		sb.Equal("user_low_id", p.Low),
		sb.Equal("user_high_id", p.High),
	)

	query, args := sb.Build()
	var out models.CrossedPathRelationship
	if err := r.db.GetContext(ctx, &out, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get crossed path relationship")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get crossed path relationship")
	}
	return &out, nil
}

// ListForUser returns the active relationships the user is part of, newest first.
func (r *Repository) ListForUser(ctx context.Context, userID string) ([]models.CrossedPathRelationship, error) {
	ctx, span := tracing.StartSpan(ctx, "crossedpath.Repository.ListForUser")
	defer span.End()

	sb := r.db.Flavor().NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.Where(
		sb.Or(
			sb.Equal("user_low_id", userID),
			sb.Equal("user_high_id", userID),
		),
		sb.Equal("is_active", true),
	)
	sb.OrderBy("created_at DESC", "id ASC")

	query, args := sb.Build()
	relationships := []models.CrossedPathRelationship{}
	if err := r.db.SelectContext(ctx, &relationships, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("user_id", userID).Error("Failed to list crossed path relationships")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list crossed path relationships")
	}
	return relationships, nil
}
