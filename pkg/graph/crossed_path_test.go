package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/pair"
)

func TestClampHops(t *testing.T) {
	tests := []struct {
		in       int
		expected int
	}{
		{in: -1, expected: 1},
		{in: 0, expected: 1},
		{in: 2, expected: 2},
		{in: 3, expected: 3},
		{in: 10, expected: MaxHops},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, ClampHops(tt.in))
	}
}

func TestNeighborsCypher(t *testing.T) {
	assert.Contains(t, neighborsCypher(2), "[:CROSSED_PATHS*1..2]")
}

func TestProjectParams(t *testing.T) {
	p, err := pair.Canonicalize("bob", "alice")
	assert.NoError(t, err)

	params := projectParams(p, models.VenueRef{ID: "cafe", Name: "Cafe", Latitude: 1.5, Longitude: -2.5})
	assert.Equal(t, "alice", params["low"])
	assert.Equal(t, "bob", params["high"])
	assert.Equal(t, p.ID(), params["id"])
	assert.Equal(t, 1.5, params["latitude"])
	assert.Equal(t, -2.5, params["longitude"])
}

func TestConfig_URI(t *testing.T) {
	assert.Equal(t, "bolt://memgraph:7687", Config{Host: "memgraph", Port: 7687}.URI())
}
