package crossing

import (
	"context"
	"errors"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectolinq"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/pair"
)

type CountReader interface {
	ListForUser(ctx context.Context, userID string) ([]models.CrossingCount, error)
	ListForPair(ctx context.Context, p pair.Pair) ([]models.CrossingCount, error)
}

type RelationshipReader interface {
	Get(ctx context.Context, p pair.Pair) (*models.CrossedPathRelationship, error)
	ListForUser(ctx context.Context, userID string) ([]models.CrossedPathRelationship, error)
}

// Handler serves the read side of crossed paths
type Handler struct {
	counts        CountReader
	relationships RelationshipReader
	logger        ectologger.Logger
}

func NewHandler(counts CountReader, relationships RelationshipReader, logger ectologger.Logger) *Handler {
	return &Handler{counts: counts, relationships: relationships, logger: logger}
}

func (h *Handler) Register(g *echo.Group) {
	g.GET("/users/:userId/crossings", h.ListUserCrossings)
	g.GET("/users/:userId/crossed-paths", h.ListUserCrossedPaths)
	g.GET("/crossed-paths/:userA/:userB", h.GetPair)
}

// CrossedPath is a relationship seen from one of its users.
type CrossedPath struct {
	models.CrossedPathRelationship
	OtherUserID string `json:"other_user_id"`
}

// PairCrossings is everything known about one pair.
type PairCrossings struct {
	Pair           pair.Pair                       `json:"pair"`
	Relationship   *models.CrossedPathRelationship `json:"relationship"`
	Crossings      []models.CrossingCount          `json:"crossings"`
	TotalCrossings int                             `json:"total_crossings"`
}

// ListUserCrossings lists per-venue crossing counts for a user
// @Summary List a user's crossings
// @Tags Crossings
// @Produce json
// @Param userId path string true "User ID"
// @Success 200 {array} models.CrossingCount
// @Router /api/v1/users/{userId}/crossings [get]
func (h *Handler) ListUserCrossings(c echo.Context) error {
	counts, err := h.counts.ListForUser(c.Request().Context(), c.Param("userId"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, counts)
}

// ListUserCrossedPaths lists the users someone has crossed paths with
// @Summary List a user's crossed paths
// @Tags Crossings
// @Produce json
// @Param userId path string true "User ID"
// @Success 200 {array} CrossedPath
// @Router /api/v1/users/{userId}/crossed-paths [get]
func (h *Handler) ListUserCrossedPaths(c echo.Context) error {
	userID := c.Param("userId")

	rels, err := h.relationships.ListForUser(c.Request().Context(), userID)
	if err != nil {
		return err
	}

	out := ectolinq.Map(rels, func(rel models.CrossedPathRelationship) CrossedPath {
		return CrossedPath{CrossedPathRelationship: rel, OtherUserID: rel.Pair().Other(userID)}
	})
	if out == nil {
		out = []CrossedPath{}
	}
	return c.JSON(http.StatusOK, out)
}

// GetPair returns the relationship and per-venue counts of two users, in either order
// @Summary Get crossings between two users
// @Tags Crossings
// @Produce json
// @Param userA path string true "User ID"
// @Param userB path string true "User ID"
// @Success 200 {object} PairCrossings
// @Failure 400 {object} httperror.HTTPError
// @Failure 404 {object} httperror.HTTPError
// @Router /api/v1/crossed-paths/{userA}/{userB} [get]
func (h *Handler) GetPair(c echo.Context) error {
	ctx := c.Request().Context()

	p, err := pair.Canonicalize(c.Param("userA"), c.Param("userB"))
	if err != nil {
		if errors.Is(err, pair.ErrInvalidPair) {
			return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return err
	}

	rel, err := h.relationships.Get(ctx, p)
	if err != nil {
		return err
	}
	counts, err := h.counts.ListForPair(ctx, p)
	if err != nil {
		return err
	}
	if rel == nil && len(counts) == 0 {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "users %s and %s have not crossed paths", p.Low, p.High)
	}

	total := 0
	for _, count := range counts {
		total += count.CrossCount
	}

	return c.JSON(http.StatusOK, PairCrossings{
		Pair:           p,
		Relationship:   rel,
		Crossings:      counts,
		TotalCrossings: total,
	})
}
