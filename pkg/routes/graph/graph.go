package graph

import (
	"context"
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	graphpkg "github.com/Ramsey-B/fern/pkg/graph"
)

type NeighborFinder interface {
	Neighbors(ctx context.Context, userID string, hops int) ([]graphpkg.Neighbor, error)
}

// Handler handles graph query API endpoints
type Handler struct {
	finder NeighborFinder
	logger ectologger.Logger
}

// NewHandler creates a graph handler. finder may be nil when the graph is disabled.
func NewHandler(finder NeighborFinder, logger ectologger.Logger) *Handler {
	return &Handler{finder: finder, logger: logger}
}

func (h *Handler) Register(g *echo.Group) {
	g.GET("/graph/crossed-paths/:userId", h.Neighbors)
}

// NeighborsResponse lists users reachable through crossed paths.
type NeighborsResponse struct {
	UserID    string              `json:"user_id"`
	Hops      int                 `json:"hops"`
	Neighbors []graphpkg.Neighbor `json:"neighbors"`
}

// Neighbors finds users within n crossings of a user
// @Summary Crossed path neighbors
// @Tags Graph
// @Produce json
// @Param userId path string true "User ID"
// @Param hops query int false "Traversal depth, 1 to 3 (default 1)"
// @Success 200 {object} NeighborsResponse
// @Failure 400 {object} httperror.HTTPError
// @Failure 503 {object} httperror.HTTPError
// @Router /api/v1/graph/crossed-paths/{userId} [get]
func (h *Handler) Neighbors(c echo.Context) error {
	if h.finder == nil {
		return httperror.NewHTTPError(http.StatusServiceUnavailable, "graph is not enabled")
	}

	hops := 1
	if raw := c.QueryParam("hops"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > graphpkg.MaxHops {
			return httperror.NewHTTPErrorf(http.StatusBadRequest, "hops must be between 1 and %d", graphpkg.MaxHops)
		}
		hops = n
	}

	userID := c.Param("userId")
	neighbors, err := h.finder.Neighbors(c.Request().Context(), userID, hops)
	if err != nil {
		return httperror.NewHTTPError(http.StatusBadGateway, "graph query failed")
	}

	return c.JSON(http.StatusOK, NeighborsResponse{UserID: userID, Hops: hops, Neighbors: neighbors})
}
