package crossing

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/internal/repositories/memory"
	"github.com/Ramsey-B/fern/pkg/keylock"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/pair"
)

var errStorage = errors.New("storage unavailable")

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

type harness struct {
	visits     *memory.VisitStore
	counter    *memory.CrossingCounter
	aggregator *memory.RelationshipAggregator
	engine     *Engine
}

func newHarness(cfg Config) *harness {
	h := &harness{
		visits:     memory.NewVisitStore(),
		counter:    memory.NewCrossingCounter(),
		aggregator: memory.NewRelationshipAggregator(),
	}
	h.engine = NewEngine(h.visits, h.counter, h.aggregator, testLogger(), cfg)
	return h
}

func visitAt(user, venue string) models.VisitInput {
	return models.VisitInput{UserID: user, VenueID: venue, VenueName: venue, Latitude: 40.7, Longitude: -74.0}
}

func mustPair(t *testing.T, a, b string) pair.Pair {
	t.Helper()
	p, err := pair.Canonicalize(a, b)
	require.NoError(t, err)
	return p
}

// countingAggregator records every EnsureRelationship call.
type countingAggregator struct {
	RelationshipAggregator
	calls atomic.Int32
}

func (a *countingAggregator) EnsureRelationship(ctx context.Context, p pair.Pair, venue models.VenueRef) (models.RelationshipOutcome, error) {
	a.calls.Add(1)
	return a.RelationshipAggregator.EnsureRelationship(ctx, p, venue)
}

// flakyCounter fails for the listed other users.
type flakyCounter struct {
	CrossingCounter
	failFor map[string]bool
}

func (c *flakyCounter) RecordCrossing(ctx context.Context, p pair.Pair, venue models.VenueRef) (models.CrossingTally, error) {
	if c.failFor[p.Low] || c.failFor[p.High] {
		return models.CrossingTally{}, errStorage
	}
	return c.CrossingCounter.RecordCrossing(ctx, p, venue)
}

type failingAggregator struct{}

func (failingAggregator) EnsureRelationship(context.Context, pair.Pair, models.VenueRef) (models.RelationshipOutcome, error) {
	return models.RelationshipOutcome{}, errStorage
}

// scriptedVisits records visits normally but yields a fixed visitor script.
type scriptedVisits struct {
	*memory.VisitStore
	visitors []models.Visitor
	err      error
	writeErr error
}

func (s *scriptedVisits) RecordVisit(ctx context.Context, in models.VisitInput) (*models.Visit, error) {
	if s.writeErr != nil {
		return nil, s.writeErr
	}
	return s.VisitStore.RecordVisit(ctx, in)
}

func (s *scriptedVisits) FindOtherVisitors(ctx context.Context, venueID, excludingUserID string) iter.Seq2[models.Visitor, error] {
	return func(yield func(models.Visitor, error) bool) {
		for _, v := range s.visitors {
			if !yield(v, nil) {
				return
			}
		}
		if s.err != nil {
			yield(models.Visitor{}, s.err)
		}
	}
}

type recordingProjector struct {
	mu    sync.Mutex
	pairs []pair.Pair
	err   error
}

func (p *recordingProjector) ProjectCrossedPath(ctx context.Context, pr pair.Pair, venue models.VenueRef) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pairs = append(p.pairs, pr)
	return p.err
}

func TestEngine_RecordVisit_Scenarios(t *testing.T) {
	h := newHarness(DefaultConfig())
	ctx := context.Background()

	// first ever visit
	res, err := h.engine.RecordVisit(ctx, visitAt("U1", "cafe-a"))
	require.NoError(t, err)
	require.NotNil(t, res.Visit)
	assert.Equal(t, "U1", res.Visit.UserID)
	assert.Equal(t, 0, res.VisitorsProcessed)
	assert.Equal(t, 0, res.NewCrossings)
	assert.Empty(t, res.Failures)

	// second visitor crosses U1
	res, err = h.engine.RecordVisit(ctx, visitAt("U2", "cafe-a"))
	require.NoError(t, err)
	assert.Equal(t, 1, res.VisitorsProcessed)
	assert.Equal(t, 1, res.NewCrossings)
	assert.Equal(t, 1, res.RelationshipsCreated)
	require.Len(t, res.Crossings, 1)
	assert.Equal(t, PairCrossing{Pair: mustPair(t, "U1", "U2"), OtherUserID: "U1", Count: 1, IsNew: true, RelationshipCreated: true}, res.Crossings[0])

	rel, err := h.aggregator.Get(ctx, mustPair(t, "U2", "U1"))
	require.NoError(t, err)
	require.NotNil(t, rel)
	assert.Equal(t, "cafe-a", rel.VenueName)
	assert.True(t, rel.IsActive)

	// repeat visit increments without touching the relationship
	res, err = h.engine.RecordVisit(ctx, visitAt("U1", "cafe-a"))
	require.NoError(t, err)
	assert.Equal(t, 0, res.NewCrossings)
	assert.Equal(t, 1, res.RepeatCrossings)
	assert.Equal(t, 0, res.RelationshipsCreated)
	require.Len(t, res.Crossings, 1)
	assert.Equal(t, 2, res.Crossings[0].Count)
	assert.Equal(t, "U2", res.Crossings[0].OtherUserID)

	// different venue, different pair
	_, err = h.engine.RecordVisit(ctx, visitAt("U1", "cafe-b"))
	require.NoError(t, err)
	res, err = h.engine.RecordVisit(ctx, visitAt("U3", "cafe-b"))
	require.NoError(t, err)
	assert.Equal(t, 1, res.NewCrossings)
	assert.Equal(t, 1, res.RelationshipsCreated)

	row, err := h.counter.Get(ctx, mustPair(t, "U3", "U1"), "cafe-b")
	require.NoError(t, err)
	assert.Equal(t, 1, row.CrossCount)

	rels, err := h.aggregator.ListForUser(ctx, "U1")
	require.NoError(t, err)
	assert.Len(t, rels, 2)
}

func TestEngine_RecordVisit_AggregatorOnlyOnFirstCrossing(t *testing.T) {
	visits := memory.NewVisitStore()
	agg := &countingAggregator{RelationshipAggregator: memory.NewRelationshipAggregator()}
	engine := NewEngine(visits, memory.NewCrossingCounter(), agg, testLogger(), DefaultConfig())
	ctx := context.Background()

	for range 5 {
		_, err := engine.RecordVisit(ctx, visitAt("alice", "cafe"))
		require.NoError(t, err)
		_, err = engine.RecordVisit(ctx, visitAt("bob", "cafe"))
		require.NoError(t, err)
	}

	assert.Equal(t, int32(1), agg.calls.Load())
}

func TestEngine_RecordVisit_StickyRepresentativeVenue(t *testing.T) {
	h := newHarness(DefaultConfig())
	ctx := context.Background()

	for _, in := range []models.VisitInput{
		visitAt("alice", "first"),
		visitAt("bob", "first"),
		visitAt("alice", "second"),
		visitAt("bob", "second"),
	} {
		_, err := h.engine.RecordVisit(ctx, in)
		require.NoError(t, err)
	}

	rel, err := h.aggregator.Get(ctx, mustPair(t, "alice", "bob"))
	require.NoError(t, err)
	assert.Equal(t, "first", rel.VenueID)

	rows, err := h.counter.ListForPair(ctx, mustPair(t, "alice", "bob"))
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestEngine_RecordVisit_PartialFailureIsolation(t *testing.T) {
	visits := memory.NewVisitStore()
	counter := memory.NewCrossingCounter()
	engine := NewEngine(visits, &flakyCounter{CrossingCounter: counter, failFor: map[string]bool{"v2": true}}, memory.NewRelationshipAggregator(), testLogger(), DefaultConfig())
	ctx := context.Background()

	for _, u := range []string{"v1", "v2", "v3"} {
		_, err := visits.RecordVisit(ctx, visitAt(u, "cafe"))
		require.NoError(t, err)
	}

	res, err := engine.RecordVisit(ctx, visitAt("me", "cafe"))
	require.NoError(t, err)

	assert.Equal(t, 3, res.VisitorsProcessed)
	assert.Equal(t, 2, res.NewCrossings)
	require.Len(t, res.Crossings, 2)
	assert.Equal(t, "v1", res.Crossings[0].OtherUserID)
	assert.Equal(t, "v3", res.Crossings[1].OtherUserID)

	require.Len(t, res.Failures, 1)
	failure := res.Failures[0]
	assert.Equal(t, "v2", failure.OtherUserID)
	assert.Equal(t, StageCounter, failure.Stage)
	assert.Equal(t, mustPair(t, "me", "v2"), failure.Pair)
	assert.ErrorIs(t, failure, errStorage)
	assert.ErrorIs(t, res.Err(), errStorage)

	for _, u := range []string{"v1", "v3"} {
		row, err := counter.Get(ctx, mustPair(t, "me", u), "cafe")
		require.NoError(t, err)
		require.NotNil(t, row)
		assert.Equal(t, 1, row.CrossCount)
	}
	row, err := counter.Get(ctx, mustPair(t, "me", "v2"), "cafe")
	require.NoError(t, err)
	assert.Nil(t, row)
}

func TestEngine_RecordVisit_RelationshipFailure(t *testing.T) {
	visits := memory.NewVisitStore()
	counter := memory.NewCrossingCounter()
	engine := NewEngine(visits, counter, failingAggregator{}, testLogger(), DefaultConfig())
	ctx := context.Background()

	_, err := visits.RecordVisit(ctx, visitAt("alice", "cafe"))
	require.NoError(t, err)

	res, err := engine.RecordVisit(ctx, visitAt("bob", "cafe"))
	require.NoError(t, err)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, StageRelationship, res.Failures[0].Stage)
	assert.Empty(t, res.Crossings)

	// the counter step committed before the relationship failed
	row, err := counter.Get(ctx, mustPair(t, "alice", "bob"), "cafe")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, 1, row.CrossCount)
}

func TestEngine_RecordVisit_WriteFailure(t *testing.T) {
	visits := &scriptedVisits{
		VisitStore: memory.NewVisitStore(),
		visitors:   []models.Visitor{{UserID: "other"}},
		writeErr:   errStorage,
	}
	agg := &countingAggregator{RelationshipAggregator: memory.NewRelationshipAggregator()}
	counter := memory.NewCrossingCounter()
	engine := NewEngine(visits, counter, agg, testLogger(), DefaultConfig())

	res, err := engine.RecordVisit(context.Background(), visitAt("me", "cafe"))
	assert.Nil(t, res)

	var writeFailure *WriteFailure
	require.ErrorAs(t, err, &writeFailure)
	assert.Equal(t, "me", writeFailure.UserID)
	assert.ErrorIs(t, err, errStorage)

	rows, err := counter.ListForUser(context.Background(), "me")
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.Equal(t, int32(0), agg.calls.Load())
}

func TestEngine_RecordVisit_LookupFailure(t *testing.T) {
	visits := &scriptedVisits{
		VisitStore: memory.NewVisitStore(),
		visitors:   []models.Visitor{{UserID: "a"}, {UserID: "b"}},
		err:        errStorage,
	}
	engine := NewEngine(visits, memory.NewCrossingCounter(), memory.NewRelationshipAggregator(), testLogger(), DefaultConfig())

	res, err := engine.RecordVisit(context.Background(), visitAt("me", "cafe"))

	var lookupFailure *LookupFailure
	require.ErrorAs(t, err, &lookupFailure)
	assert.ErrorIs(t, err, errStorage)
	assert.Equal(t, "cafe", lookupFailure.VenueID)

	require.NotNil(t, res)
	require.NotNil(t, res.Visit)
	assert.Equal(t, res.Visit.ID, lookupFailure.VisitID)
	assert.Equal(t, 2, res.VisitorsProcessed)
	assert.Len(t, res.Crossings, 2)

	stored, err := visits.ListForUser(context.Background(), "me", 0)
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestEngine_RecordVisit_InvalidInput(t *testing.T) {
	h := newHarness(DefaultConfig())

	tests := []struct {
		name string
		in   models.VisitInput
	}{
		{name: "missing user", in: models.VisitInput{VenueID: "cafe"}},
		{name: "missing venue", in: models.VisitInput{UserID: "alice"}},
		{name: "blank user", in: models.VisitInput{UserID: "   ", VenueID: "cafe"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := h.engine.RecordVisit(context.Background(), tt.in)
			assert.Nil(t, res)
			assert.ErrorIs(t, err, ErrInvalidVisit)
		})
	}
}

func TestEngine_RecordVisit_InvalidPairIsolated(t *testing.T) {
	visits := &scriptedVisits{
		VisitStore: memory.NewVisitStore(),
		visitors:   []models.Visitor{{UserID: "me"}, {UserID: "other"}},
	}
	engine := NewEngine(visits, memory.NewCrossingCounter(), memory.NewRelationshipAggregator(), testLogger(), DefaultConfig())

	res, err := engine.RecordVisit(context.Background(), visitAt("me", "cafe"))
	require.NoError(t, err)

	require.Len(t, res.Failures, 1)
	assert.Equal(t, StageCanonicalize, res.Failures[0].Stage)
	assert.ErrorIs(t, res.Failures[0], pair.ErrInvalidPair)
	assert.Len(t, res.Crossings, 1)
}

// cancellingCounter cancels the visit's context on its first call.
type cancellingCounter struct {
	CrossingCounter
	cancel context.CancelFunc
	once   sync.Once
}

func (c *cancellingCounter) RecordCrossing(ctx context.Context, p pair.Pair, venue models.VenueRef) (models.CrossingTally, error) {
	tally, err := c.CrossingCounter.RecordCrossing(ctx, p, venue)
	c.once.Do(c.cancel)
	return tally, err
}

func TestEngine_RecordVisit_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	visits := &scriptedVisits{
		VisitStore: memory.NewVisitStore(),
		visitors:   []models.Visitor{{UserID: "a"}, {UserID: "b"}, {UserID: "c"}},
	}
	inner := memory.NewCrossingCounter()
	// make the first pair a repeat so no relationship call runs on the cancelled context
	_, err := inner.RecordCrossing(context.Background(), mustPair(t, "me", "a"), models.VenueRef{ID: "cafe"})
	require.NoError(t, err)
	counter := &cancellingCounter{CrossingCounter: inner, cancel: cancel}
	engine := NewEngine(visits, counter, memory.NewRelationshipAggregator(), testLogger(), Config{Concurrency: 1})

	res, err := engine.RecordVisit(ctx, visitAt("me", "cafe"))
	require.NoError(t, err)

	assert.Equal(t, 3, res.VisitorsProcessed)
	require.Len(t, res.Crossings, 1)
	assert.Equal(t, "a", res.Crossings[0].OtherUserID)
	assert.Equal(t, 2, res.Crossings[0].Count)
	require.Len(t, res.Failures, 2)
	for _, f := range res.Failures {
		assert.Equal(t, StageCancelled, f.Stage)
		assert.ErrorIs(t, f, context.Canceled)
	}
}

// slowCounter tracks how many calls run at once.
type slowCounter struct {
	CrossingCounter
	active  atomic.Int32
	maxSeen atomic.Int32
}

func (c *slowCounter) RecordCrossing(ctx context.Context, p pair.Pair, venue models.VenueRef) (models.CrossingTally, error) {
	n := c.active.Add(1)
	defer c.active.Add(-1)
	for {
		seen := c.maxSeen.Load()
		if n <= seen || c.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	return c.CrossingCounter.RecordCrossing(ctx, p, venue)
}

func TestEngine_RecordVisit_BoundedConcurrency(t *testing.T) {
	visitors := make([]models.Visitor, 30)
	for i := range visitors {
		visitors[i] = models.Visitor{UserID: fmt.Sprintf("user-%02d", i)}
	}
	visits := &scriptedVisits{VisitStore: memory.NewVisitStore(), visitors: visitors}
	counter := &slowCounter{CrossingCounter: memory.NewCrossingCounter()}
	engine := NewEngine(visits, counter, memory.NewRelationshipAggregator(), testLogger(), Config{Concurrency: 4})

	res, err := engine.RecordVisit(context.Background(), visitAt("me", "cafe"))
	require.NoError(t, err)

	assert.Equal(t, 30, res.NewCrossings)
	assert.Equal(t, 30, res.RelationshipsCreated)
	assert.LessOrEqual(t, counter.maxSeen.Load(), int32(4))
	for i := 1; i < len(res.Crossings); i++ {
		assert.Less(t, res.Crossings[i-1].OtherUserID, res.Crossings[i].OtherUserID)
	}
}

func TestEngine_RecordVisit_ConcurrentVisitsSameVenue(t *testing.T) {
	h := newHarness(Config{Concurrency: 4, Locker: keylock.NewLocal(16)})
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, u := range []string{"U4", "U5"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.engine.RecordVisit(ctx, visitAt(u, "new-venue"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	rows, err := h.counter.ListForPair(ctx, mustPair(t, "U4", "U5"))
	require.NoError(t, err)
	// at most one row per pair and venue, whichever visit committed first
	if len(rows) == 1 {
		assert.LessOrEqual(t, rows[0].CrossCount, 2)
	}
	assert.LessOrEqual(t, len(rows), 1)

	rels, err := h.aggregator.ListForUser(ctx, "U4")
	require.NoError(t, err)
	assert.Equal(t, len(rows), len(rels))
}

func TestEngine_RecordVisit_ManyVisitorsConverge(t *testing.T) {
	h := newHarness(Config{Concurrency: 8, Locker: keylock.NewLocal(0)})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.engine.RecordVisit(ctx, visitAt(fmt.Sprintf("u%02d", i), "stadium"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// a second round sees everyone, so every pair now exists exactly once
	for i := range 20 {
		_, err := h.engine.RecordVisit(ctx, visitAt(fmt.Sprintf("u%02d", i), "stadium"))
		require.NoError(t, err)
	}

	for i := range 20 {
		rels, err := h.aggregator.ListForUser(ctx, fmt.Sprintf("u%02d", i))
		require.NoError(t, err)
		assert.Len(t, rels, 19)
	}
}

func TestEngine_RecordVisit_ProjectsNewRelationships(t *testing.T) {
	projector := &recordingProjector{err: errors.New("graph down")}
	h := newHarness(Config{Projector: projector})
	ctx := context.Background()

	_, err := h.engine.RecordVisit(ctx, visitAt("alice", "cafe"))
	require.NoError(t, err)
	res, err := h.engine.RecordVisit(ctx, visitAt("bob", "cafe"))
	require.NoError(t, err)
	assert.Empty(t, res.Failures)

	_, err = h.engine.RecordVisit(ctx, visitAt("alice", "cafe"))
	require.NoError(t, err)

	assert.Equal(t, []pair.Pair{mustPair(t, "alice", "bob")}, projector.pairs)
}
