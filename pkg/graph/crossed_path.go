package graph

import (
	"context"
	"fmt"
	"sort"

	"github.com/Gobusters/ectologger"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/pair"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const MaxHops = 3

const projectCrossedPathCypher = `
	MERGE (low:User {id: $low})
	MERGE (high:User {id: $high})
	MERGE (low)-[r:CROSSED_PATHS {id: $id}]->(high)
	ON CREATE SET
		r.venue_id = $venue_id,
		r.venue_name = $venue_name,
		r.latitude = $latitude,
		r.longitude = $longitude
`

// Neighbor is a user reachable from another through crossed paths.
type Neighbor struct {
	UserID string `json:"user_id"`
	Hops   int    `json:"hops"`
}

// CrossedPathService keeps (:User)-[:CROSSED_PATHS]->(:User) edges in step
// with the relationship table.
type CrossedPathService struct {
	client *Client
	logger ectologger.Logger
}

func NewCrossedPathService(client *Client, logger ectologger.Logger) *CrossedPathService {
	return &CrossedPathService{client: client, logger: logger}
}

// ProjectCrossedPath merges the pair's edge. The edge always points from the low
// to the high user, and like the table row it keeps the venue it was created with.
func (s *CrossedPathService) ProjectCrossedPath(ctx context.Context, p pair.Pair, venue models.VenueRef) error {
	ctx, span := tracing.StartSpan(ctx, "graph.CrossedPathService.ProjectCrossedPath")
	defer span.End()

	params := projectParams(p, venue)
	_, err := s.client.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, projectCrossedPathCypher, params)
		if err != nil {
			return nil, err
		}
		return result.Consume(ctx)
	})
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"user_low_id":  p.Low,
			"user_high_id": p.High,
		}).Error("Failed to project crossed path")
		return fmt.Errorf("failed to project crossed path %s: %w", p, err)
	}
	return nil
}

// Neighbors returns the users within hops crossings of userID, nearest first.
func (s *CrossedPathService) Neighbors(ctx context.Context, userID string, hops int) ([]Neighbor, error) {
	ctx, span := tracing.StartSpan(ctx, "graph.CrossedPathService.Neighbors")
	defer span.End()

	hops = ClampHops(hops)
	cypher := neighborsCypher(hops)

	res, err := s.client.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, map[string]any{"user_id": userID})
		if err != nil {
			return nil, err
		}

		neighbors := []Neighbor{}
		for result.Next(ctx) {
			record := result.Record()
			id, _, err := neo4j.GetRecordValue[string](record, "user_id")
			if err != nil {
				return nil, err
			}
			distance, _, err := neo4j.GetRecordValue[int64](record, "hops")
			if err != nil {
				return nil, err
			}
			neighbors = append(neighbors, Neighbor{UserID: id, Hops: int(distance)})
		}
		return neighbors, result.Err()
	})
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).WithField("user_id", userID).Error("Failed to query crossed path neighbors")
		return nil, fmt.Errorf("failed to query neighbors of %s: %w", userID, err)
	}

	neighbors := res.([]Neighbor)
	sort.SliceStable(neighbors, func(i, j int) bool {
		if neighbors[i].Hops != neighbors[j].Hops {
			return neighbors[i].Hops < neighbors[j].Hops
		}
		return neighbors[i].UserID < neighbors[j].UserID
	})
	return neighbors, nil
}

// ClampHops keeps a requested traversal depth within 1..MaxHops.
func ClampHops(hops int) int {
	if hops < 1 {
		return 1
	}
	if hops > MaxHops {
		return MaxHops
	}
	return hops
}

func projectParams(p pair.Pair, venue models.VenueRef) map[string]any {
	return map[string]any{
		"id":         p.ID(),
		"low":        p.Low,
		"high":       p.High,
		"venue_id":   venue.ID,
		"venue_name": venue.Name,
		"latitude":   venue.Latitude,
		"longitude":  venue.Longitude,
	}
}

// variable length bounds cannot be parameters, so hops is formatted in after clamping
func neighborsCypher(hops int) string {
	return fmt.Sprintf(`
		MATCH path = (u:User {id: $user_id})-[:CROSSED_PATHS*1..%d]-(other:User)
		WHERE other.id <> $user_id
		RETURN other.id AS user_id, min(size(relationships(path))) AS hops
	`, hops)
}
