// Package crossing records visits and keeps the crossed-paths state of every
// pair of users who visited the same venue.
//
// A visit goes through three steps. It is appended to the visit store. The
// venue's other visitors are enumerated. Each resulting pair then has its
// per-venue counter bumped, and on its first crossing at that venue the global
// relationship is ensured. Pairs are updated concurrently and independently, so
// one failing pair never blocks the others.
package crossing

import (
	"context"
	"fmt"
	"iter"
	"sort"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"golang.org/x/sync/errgroup"

	appctx "github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/keylock"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/pair"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const DefaultConcurrency = 8

type VisitStore interface {
	RecordVisit(ctx context.Context, in models.VisitInput) (*models.Visit, error)
	FindOtherVisitors(ctx context.Context, venueID, excludingUserID string) iter.Seq2[models.Visitor, error]
}

type CrossingCounter interface {
	RecordCrossing(ctx context.Context, p pair.Pair, venue models.VenueRef) (models.CrossingTally, error)
}

type RelationshipAggregator interface {
	EnsureRelationship(ctx context.Context, p pair.Pair, venue models.VenueRef) (models.RelationshipOutcome, error)
}

// RelationshipProjector mirrors newly created relationships somewhere else,
// such as a graph database. Projection errors never fail a pair.
type RelationshipProjector interface {
	ProjectCrossedPath(ctx context.Context, p pair.Pair, venue models.VenueRef) error
}

type Config struct {
	// Concurrency bounds how many pairs of one visit are updated at once.
	Concurrency int
	// Locker, when set, serializes the counter and relationship step per
	// (pair, venue). Stores with atomic upserts do not need it.
	Locker    keylock.Locker
	Projector RelationshipProjector
}

func DefaultConfig() Config {
	return Config{Concurrency: DefaultConcurrency}
}

type Engine struct {
	visits      VisitStore
	counter     CrossingCounter
	aggregator  RelationshipAggregator
	logger      ectologger.Logger
	concurrency int
	locker      keylock.Locker
	projector   RelationshipProjector
}

func NewEngine(visits VisitStore, counter CrossingCounter, aggregator RelationshipAggregator, logger ectologger.Logger, cfg Config) *Engine {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.Locker == nil {
		cfg.Locker = keylock.Noop{}
	}
	return &Engine{
		visits:      visits,
		counter:     counter,
		aggregator:  aggregator,
		logger:      logger,
		concurrency: cfg.Concurrency,
		locker:      cfg.Locker,
		projector:   cfg.Projector,
	}
}

// RecordVisit stores the visit and updates every pair it forms with the
// venue's earlier visitors.
//
// A *WriteFailure is returned with a nil result. A *LookupFailure is returned
// together with the partial result, since the visit itself is stored. Per-pair
// failures never produce an error; they are listed in the result. Work already
// committed is kept when ctx is cancelled, and pairs not yet started are
// reported as cancelled.
func (e *Engine) RecordVisit(ctx context.Context, in models.VisitInput) (*CrossingResult, error) {
	ctx, span := tracing.StartSpan(ctx, "crossing.Engine.RecordVisit")
	defer span.End()

	in.Normalize()
	if in.UserID == "" || in.VenueID == "" {
		metrics.VisitsRecordedTotal.WithLabelValues(metrics.StatusInvalid).Inc()
		return nil, fmt.Errorf("%w: user_id and venue_id are required", ErrInvalidVisit)
	}

	logger := e.logger.WithContext(ctx).WithFields(map[string]any{
		"user_id":  in.UserID,
		"venue_id": in.VenueID,
		"source":   appctx.GetSource(ctx),
	})

	visit, err := e.visits.RecordVisit(ctx, in)
	if err != nil {
		logger.WithError(err).Error("Failed to record visit")
		metrics.VisitsRecordedTotal.WithLabelValues(metrics.StatusFailed).Inc()
		return nil, &WriteFailure{UserID: in.UserID, VenueID: in.VenueID, Err: err}
	}

	result := newResult(visit)
	start := time.Now()

	lookupErr := e.fanOut(ctx, visit, result)

	metrics.FanOutDuration.Observe(time.Since(start).Seconds())
	metrics.VisitorsPerVisit.Observe(float64(result.VisitorsProcessed))

	logger = logger.WithFields(map[string]any{
		"visit_id":              visit.ID,
		"visitors_processed":    result.VisitorsProcessed,
		"new_crossings":         result.NewCrossings,
		"repeat_crossings":      result.RepeatCrossings,
		"relationships_created": result.RelationshipsCreated,
		"pair_failures":         len(result.Failures),
	})

	if lookupErr != nil {
		logger.WithError(lookupErr).Error("Failed to find other visitors")
		metrics.VisitsRecordedTotal.WithLabelValues(metrics.StatusPartial).Inc()
		return result, &LookupFailure{VisitID: visit.ID, VenueID: visit.VenueID, Err: lookupErr}
	}

	if result.HasFailures() {
		logger.WithError(result.Err()).Warn("Recorded visit with pair failures")
		metrics.VisitsRecordedTotal.WithLabelValues(metrics.StatusPartial).Inc()
	} else {
		logger.Info("Recorded visit")
		metrics.VisitsRecordedTotal.WithLabelValues(metrics.StatusSuccess).Inc()
	}

	return result, nil
}

// fanOut updates one pair per visitor with bounded concurrency. It returns the
// error that stopped the visitor enumeration, if any, after in-flight pairs finish.
func (e *Engine) fanOut(ctx context.Context, visit *models.Visit, result *CrossingResult) error {
	ctx, span := tracing.StartSpan(ctx, "crossing.Engine.fanOut")
	defer span.End()

	venue := visit.Venue()

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(e.concurrency)

	collect := func(c *PairCrossing, f *PairUpdateFailure) {
		mu.Lock()
		defer mu.Unlock()
		if f != nil {
			result.Failures = append(result.Failures, *f)
			return
		}
		result.addCrossing(*c)
	}

	var lookupErr error
	for visitor, err := range e.visits.FindOtherVisitors(ctx, venue.ID, visit.UserID) {
		if err != nil {
			lookupErr = err
			break
		}

		mu.Lock()
		result.VisitorsProcessed++
		mu.Unlock()

		otherUserID := visitor.UserID
		if ctxErr := ctx.Err(); ctxErr != nil {
			collect(nil, e.failure(ctx, visit.UserID, otherUserID, StageCancelled, ctxErr))
			continue
		}

		g.Go(func() error {
			crossing, failure := e.updatePair(ctx, visit.UserID, otherUserID, venue)
			if failure == nil && crossing.RelationshipCreated {
				e.project(ctx, crossing.Pair, venue)
			}
			collect(crossing, failure)
			return nil
		})
	}

	_ = g.Wait()

	sort.Slice(result.Crossings, func(i, j int) bool {
		return result.Crossings[i].OtherUserID < result.Crossings[j].OtherUserID
	})
	sort.Slice(result.Failures, func(i, j int) bool {
		return result.Failures[i].OtherUserID < result.Failures[j].OtherUserID
	})

	return lookupErr
}

// updatePair moves one (pair, venue) through its crossing states.
func (e *Engine) updatePair(ctx context.Context, userID, otherUserID string, venue models.VenueRef) (*PairCrossing, *PairUpdateFailure) {
	ctx, span := tracing.StartSpan(ctx, "crossing.Engine.updatePair")
	defer span.End()

	p, err := pair.Canonicalize(userID, otherUserID)
	if err != nil {
		return nil, e.failure(ctx, userID, otherUserID, StageCanonicalize, err)
	}

	if err := ctx.Err(); err != nil {
		return nil, e.failure(ctx, userID, otherUserID, StageCancelled, err)
	}

	unlock, err := e.locker.Lock(ctx, p.VenueKey(venue.ID))
	if err != nil {
		return nil, e.failure(ctx, userID, otherUserID, StageLock, err)
	}
	defer unlock()

	tally, err := e.counter.RecordCrossing(ctx, p, venue)
	if err != nil {
		return nil, e.failure(ctx, userID, otherUserID, StageCounter, err)
	}

	crossing := &PairCrossing{
		Pair:        p,
		OtherUserID: otherUserID,
		Count:       tally.Count,
		IsNew:       tally.IsNew,
	}

	if !tally.IsNew {
		metrics.CrossingsTotal.WithLabelValues(metrics.KindRepeat).Inc()
		return crossing, nil
	}
	metrics.CrossingsTotal.WithLabelValues(metrics.KindNew).Inc()

	outcome, err := e.aggregator.EnsureRelationship(ctx, p, venue)
	if err != nil {
		return nil, e.failure(ctx, userID, otherUserID, StageRelationship, err)
	}
	if outcome.Created {
		metrics.RelationshipsCreatedTotal.Inc()
	}
	crossing.RelationshipCreated = outcome.Created

	return crossing, nil
}

func (e *Engine) project(ctx context.Context, p pair.Pair, venue models.VenueRef) {
	if e.projector == nil {
		return
	}
	if err := e.projector.ProjectCrossedPath(ctx, p, venue); err != nil {
		metrics.GraphProjectionFailuresTotal.Inc()
		e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"user_low_id":  p.Low,
			"user_high_id": p.High,
		}).Warn("Failed to project crossed path relationship")
	}
}

func (e *Engine) failure(ctx context.Context, userID, otherUserID string, stage Stage, err error) *PairUpdateFailure {
	p, _ := pair.Canonicalize(userID, otherUserID)
	metrics.PairFailuresTotal.WithLabelValues(string(stage)).Inc()
	e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
		"user_id":       userID,
		"other_user_id": otherUserID,
		"stage":         string(stage),
	}).Warn("Failed to update pair")
	return &PairUpdateFailure{Pair: p, OtherUserID: otherUserID, Stage: stage, Err: err}
}
