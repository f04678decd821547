package visit

import (
	"context"
	"iter"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const DefaultPageSize = 500

var visitColumns = []string{
	"id",
	"user_id",
	"venue_id",
	"venue_name",
	"latitude",
	"longitude",
	"visited_at",
	"created_at",
}

// Repository manages the append-only visits table.
type Repository struct {
	db       database.DB
	logger   ectologger.Logger
	pageSize int
}

func NewRepository(db database.DB, logger ectologger.Logger, pageSize int) *Repository {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Repository{db: db, logger: logger, pageSize: pageSize}
}

// RecordVisit appends a visit. Earlier visits by the same user are left alone.
func (r *Repository) RecordVisit(ctx context.Context, in models.VisitInput) (*models.Visit, error) {
	ctx, span := tracing.StartSpan(ctx, "visit.Repository.RecordVisit")
	defer span.End()

	in.Normalize()
	out := models.Visit{
		ID:        uuid.New().String(),
		UserID:    in.UserID,
		VenueID:   in.VenueID,
		VenueName: in.VenueName,
		Latitude:  in.Latitude,
		Longitude: in.Longitude,
		VisitedAt: in.VisitedAt,
		CreatedAt: time.Now().UTC(),
	}

	sb := r.db.Flavor().NewInsertBuilder()
	sb.InsertInto("visits")
	sb.Cols(visitColumns...)
	sb.Values(
		out.ID,
		out.UserID,
		out.VenueID,
		out.VenueName,
		out.Latitude,
		out.Longitude,
		out.VisitedAt,
		out.CreatedAt,
	)

	query, args := sb.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"user_id":  in.UserID,
			"venue_id": in.VenueID,
		}).Error("Failed to record visit")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to record visit")
	}
	return &out, nil
}

type visitorRow struct {
	UserID        string             `db:"user_id"`
	LastVisitedAt database.Timestamp `db:"last_visited_at"`
}

// FindOtherVisitors yields every distinct user other than excludingUserID with a
// visit to venueID. Users are read a page at a time, keyed on user_id, and each
// page is fully read before anything is yielded.
func (r *Repository) FindOtherVisitors(ctx context.Context, venueID, excludingUserID string) iter.Seq2[models.Visitor, error] {
	return func(yield func(models.Visitor, error) bool) {
		ctx, span := tracing.StartSpan(ctx, "visit.Repository.FindOtherVisitors")
		defer span.End()

		after := ""
		for {
			page, err := r.visitorPage(ctx, venueID, excludingUserID, after)
			if err != nil {
				yield(models.Visitor{}, err)
				return
			}

			for _, row := range page {
				if !yield(models.Visitor{UserID: row.UserID, LastVisitedAt: row.LastVisitedAt.Time}, nil) {
					return
				}
			}

			if len(page) < r.pageSize {
				return
			}
			after = page[len(page)-1].UserID
		}
	}
}

func (r *Repository) visitorPage(ctx context.Context, venueID, excludingUserID, after string) ([]visitorRow, error) {
	sb := r.db.Flavor().NewSelectBuilder()
	sb.Select("user_id", sb.As("MAX(visited_at)", "last_visited_at"))
	sb.From("visits")
	sb.Where(
		sb.Equal("venue_id", venueID),
		sb.NotEqual("user_id", excludingUserID),
		sb.GreaterThan("user_id", after),
	)
	sb.GroupBy("user_id")
	sb.OrderBy("user_id").Asc()
	sb.Limit(r.pageSize)

	query, args := sb.Build()

	var rows []visitorRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("venue_id", venueID).Error("Failed to find venue visitors")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to find venue visitors")
	}
	return rows, nil
}

// ListForUser returns a user's visits, most recent first.
func (r *Repository) ListForUser(ctx context.Context, userID string, limit int) ([]models.Visit, error) {
	ctx, span := tracing.StartSpan(ctx, "visit.Repository.ListForUser")
	defer span.End()

	sb := r.db.Flavor().NewSelectBuilder()
	sb.Select(visitColumns...)
	sb.From("visits")
	sb.Where(sb.Equal("user_id", userID))
	sb.OrderBy("visited_at").Desc()
	if limit > 0 {
		sb.Limit(limit)
	}

	query, args := sb.Build()

	visits := []models.Visit{}
	if err := r.db.SelectContext(ctx, &visits, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("user_id", userID).Error("Failed to list visits")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list visits")
	}
	return visits, nil
}
