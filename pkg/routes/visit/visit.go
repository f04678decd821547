package visit

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/crossing"
	"github.com/Ramsey-B/fern/pkg/models"
)

const defaultListLimit = 100

type VisitRecorder interface {
	RecordVisit(ctx context.Context, in models.VisitInput) (*crossing.CrossingResult, error)
}

type VisitLister interface {
	ListForUser(ctx context.Context, userID string, limit int) ([]models.Visit, error)
}

// Handler handles visit API endpoints
type Handler struct {
	recorder VisitRecorder
	visits   VisitLister
	logger   ectologger.Logger
}

func NewHandler(recorder VisitRecorder, visits VisitLister, logger ectologger.Logger) *Handler {
	return &Handler{recorder: recorder, visits: visits, logger: logger}
}

// Register registers the visit routes
func (h *Handler) Register(g *echo.Group) {
	g.POST("/visits", h.RecordVisit)
	g.GET("/users/:userId/visits", h.ListUserVisits)
}

// RecordVisit records a confirmed visit and updates crossed paths
// @Summary Record a visit
// @Description Store a confirmed visit and record a crossing with every earlier visitor of the venue
// @Tags Visits
// @Accept json
// @Produce json
// @Param body body models.VisitRequest true "Visit"
// @Success 201 {object} crossing.CrossingResult
// @Success 207 {object} crossing.CrossingResult "Visit stored, some pairs failed"
// @Failure 400 {object} httperror.HTTPError
// @Failure 503 {object} httperror.HTTPError
// @Router /api/v1/visits [post]
func (h *Handler) RecordVisit(c echo.Context) error {
	ctx := c.Request().Context()

	var req models.VisitRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		herr := httperror.NewHTTPError(http.StatusBadRequest, "invalid visit")
		for field, rule := range models.ValidationMessages(err) {
			herr = herr.AddMetaValue(field, rule)
		}
		return herr
	}

	result, err := h.recorder.RecordVisit(ctx, req.ToInput())
	if err != nil {
		var writeFailure *crossing.WriteFailure
		var lookupFailure *crossing.LookupFailure
		switch {
		case errors.Is(err, crossing.ErrInvalidVisit):
			return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
		case errors.As(err, &writeFailure):
			return httperror.NewHTTPError(http.StatusServiceUnavailable, "visit could not be recorded")
		case errors.As(err, &lookupFailure):
			return httperror.NewHTTPError(http.StatusServiceUnavailable, "visit was recorded but crossings could not be computed").
				AddMetaValue("visit_id", lookupFailure.VisitID)
		default:
			return err
		}
	}

	status := http.StatusCreated
	if result.HasFailures() {
		status = http.StatusMultiStatus
	}
	return c.JSON(status, result)
}

// ListUserVisits lists a user's visits, most recent first
// @Summary List a user's visits
// @Tags Visits
// @Produce json
// @Param userId path string true "User ID"
// @Param limit query int false "Maximum visits (default 100)"
// @Success 200 {array} models.Visit
// @Router /api/v1/users/{userId}/visits [get]
func (h *Handler) ListUserVisits(c echo.Context) error {
	limit := defaultListLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return httperror.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = n
	}

	visits, err := h.visits.ListForUser(c.Request().Context(), c.Param("userId"), limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, visits)
}
