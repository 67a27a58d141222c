// Package runtime drives cortex's periodic background work: a cron
// sweep that reflects on a configured set of owner/topic pairs,
// generalizing the ticker-actor loop this file used to wake scheduled
// agents to cron expressions via robfig/cron.
package runtime

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/cortexmem/cortex/memory"
	"github.com/cortexmem/cortex/memory/index"
)

// Topic is one reflect call a sweep should make.
type Topic struct {
	Actx  memory.AccessContext
	Topic string
}

// TopicSource proposes the topics due for reflection on a given sweep.
// Implementations typically track recent write activity per owner and
// surface a topic once enough new material has accumulated.
type TopicSource interface {
	DueTopics(ctx context.Context) ([]Topic, error)
}

// StaticTopicSource reflects the same fixed set of topics on every
// sweep — useful when owners and topics are known at deploy time
// rather than discovered from write activity.
type StaticTopicSource struct {
	Topics []Topic
}

func (s StaticTopicSource) DueTopics(_ context.Context) ([]Topic, error) {
	return s.Topics, nil
}

// Scheduler runs the reflect sweep and the durable indexer's retry
// sweep on cron schedules.
type Scheduler struct {
	cron   *cron.Cron
	engine *memory.Engine
	source TopicSource
	ix     *index.Indexer
	logger zerolog.Logger
}

// NewScheduler constructs a Scheduler. source supplies the topics
// proposed on each sweep; engine performs the reflection itself. ix is
// the durable indexer whose retry sweep this schedules; pass nil when
// running in ephemeral mode.
func NewScheduler(engine *memory.Engine, source TopicSource, ix *index.Indexer, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:   cron.New(),
		engine: engine,
		source: source,
		ix:     ix,
		logger: logger.With().Str("component", "scheduler").Logger(),
	}
}

// Start registers the reflect sweep on the given cron expression and
// starts the runner. It does not block; call Stop to shut down.
func (s *Scheduler) Start(ctx context.Context, reflectSchedule string) error {
	_, err := s.cron.AddFunc(reflectSchedule, func() {
		s.sweep(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule reflect sweep %q: %w", reflectSchedule, err)
	}
	s.cron.Start()
	s.logger.Info().Str("schedule", reflectSchedule).Msg("reflect scheduler started")
	return nil
}

// StartRetrySweep registers the durable indexer's retry sweep on the
// given cron expression. A no-op if this Scheduler has no indexer.
func (s *Scheduler) StartRetrySweep(ctx context.Context, retrySchedule string) error {
	if s.ix == nil {
		return nil
	}
	_, err := s.cron.AddFunc(retrySchedule, func() {
		if err := s.ix.RetrySweep(ctx); err != nil {
			s.logger.Error().Err(err).Msg("indexer retry sweep failed")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule indexer retry sweep %q: %w", retrySchedule, err)
	}
	s.cron.Start()
	s.logger.Info().Str("schedule", retrySchedule).Msg("indexer retry sweep scheduled")
	return nil
}

// Stop waits for any in-flight sweep to finish and halts the cron runner.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) sweep(ctx context.Context) {
	topics, err := s.source.DueTopics(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list due reflect topics")
		return
	}
	for _, t := range topics {
		if _, err := s.engine.Reflect(ctx, t.Actx, t.Topic, memory.ReflectOptions{}); err != nil {
			s.logger.Warn().Str("topic", t.Topic).Err(err).Msg("scheduled reflect failed")
			continue
		}
		s.logger.Info().Str("topic", t.Topic).Msg("scheduled reflect completed")
	}
}
