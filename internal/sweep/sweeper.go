package sweep

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/postloom/postloom/internal/clock"
	connectiondomain "github.com/postloom/postloom/internal/connection/domain"
	contentdomain "github.com/postloom/postloom/internal/content/domain"
	generationdomain "github.com/postloom/postloom/internal/generation/domain"
	notificationdomain "github.com/postloom/postloom/internal/notification/domain"
	obsmetrics "github.com/postloom/postloom/internal/observability/metrics"
	publisherdomain "github.com/postloom/postloom/internal/publisher/domain"
	"github.com/postloom/postloom/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrInvalidConfig = errors.New("sweep: invalid configuration")

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Content     contentdomain.Repository
	Connections connectiondomain.Service
	Generation  generationdomain.Service
	Publisher   publisherdomain.Publisher
	Notifier    notificationdomain.Service
	Limiter     *ratelimit.GenerationLimiter `optional:"true"`
	Config      Config                       `optional:"true"`
}

// Sweeper runs the background jobs that move scheduled work forward:
// publishing due posts, polling async generations, expiring connections.
// One engine serves both the fx-lifecycle loop and the HTTP cron trigger.
type Sweeper struct {
	db          *gorm.DB
	log         *zap.Logger
	cfg         Config
	genID       *snowflake.Node
	clock       clock.Clock
	content     contentdomain.Repository
	connections connectiondomain.Service
	generation  generationdomain.Service
	publisher   publisherdomain.Publisher
	notifier    notificationdomain.Service
	limiter     *ratelimit.GenerationLimiter
}

// Summary aggregates one sweep pass across all jobs.
type Summary struct {
	Processed           int      `json:"processed"`
	Published           int      `json:"published"`
	Failed              int      `json:"failed"`
	Requeued            int      `json:"requeued"`
	GenerationChecked   int      `json:"generation_checked"`
	GenerationCompleted int      `json:"generation_completed"`
	GenerationFailed    int      `json:"generation_failed"`
	ConnectionsExpired  int      `json:"connections_expired"`
	Errors              []string `json:"errors,omitempty"`
}

func New(p Params) (*Sweeper, error) {
	if p.DB == nil || p.Log == nil || p.GenID == nil || p.Clock == nil ||
		p.Content == nil || p.Connections == nil || p.Generation == nil ||
		p.Publisher == nil || p.Notifier == nil {
		return nil, ErrInvalidConfig
	}
	return &Sweeper{
		db:          p.DB,
		log:         p.Log.Named("sweep").With(zap.String("component", "sweep")),
		cfg:         p.Config.withDefaults(),
		genID:       p.GenID,
		clock:       p.Clock,
		content:     p.Content,
		connections: p.Connections,
		generation:  p.Generation,
		publisher:   p.Publisher,
		notifier:    p.Notifier,
		limiter:     p.Limiter,
	}, nil
}

func (s *Sweeper) runJob(
	parent context.Context,
	name string,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	defer cancel()

	if s.limiter != nil {
		token, ok, err := s.limiter.TryLockSweep(ctx, name)
		if err != nil {
			s.log.Warn("sweep lock unavailable, proceeding unlocked",
				zap.String("job", name), zap.Error(err))
		} else if !ok {
			s.log.Info("sweep job held elsewhere, skipping", zap.String("job", name))
			return nil
		} else {
			defer func() {
				if relErr := s.limiter.ReleaseSweep(context.WithoutCancel(ctx), name, token); relErr != nil {
					s.log.Warn("sweep lock release failed",
						zap.String("job", name), zap.Error(relErr))
				}
			}()
		}
	}

	sweepMetrics := obsmetrics.Sweep()
	sweepMetrics.IncJobRun(name)

	err := fn(ctx)
	sweepMetrics.ObserveJobDuration(name, time.Since(start))
	if err == nil {
		return nil
	}

	// A deadline is a soft stop: whatever the pass claimed was handled,
	// the rest waits for the next tick.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		sweepMetrics.IncJobTimeout(name)
		s.log.Warn("sweep job timed out",
			zap.String("job", name),
			zap.Duration("timeout", s.cfg.JobTimeout),
			zap.Error(err),
		)
		return nil
	}

	sweepMetrics.IncJobError(name, err)
	return fmt.Errorf("%s: %w", name, err)
}

// RunOnce executes every enabled job and returns the aggregate summary.
// A job's failure never prevents the remaining jobs from running.
func (s *Sweeper) RunOnce(parent context.Context) (Summary, error) {
	var (
		summary Summary
		err     error
	)

	jobs := []struct {
		Name string
		Run  func(context.Context) error
	}{
		{"publish_due", func(ctx context.Context) error {
			return s.PublishDueJob(ctx, &summary)
		}},
		{"generation_poll", func(ctx context.Context) error {
			return s.GenerationPollJob(ctx, &summary)
		}},
		{"expire_connections", func(ctx context.Context) error {
			return s.ExpireConnectionsJob(ctx, &summary)
		}},
	}

	for _, job := range jobs {
		if !s.isJobEnabled(job.Name) {
			continue
		}
		if jobErr := s.runJob(parent, job.Name, job.Run); jobErr != nil {
			summary.Errors = append(summary.Errors, jobErr.Error())
			err = errors.Join(err, jobErr)
		}
	}

	return summary, err
}

func (s *Sweeper) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.RunInterval)
	sweepMetrics := obsmetrics.Sweep()

	for {
		if runLag := time.Since(nextRun); runLag > 0 {
			sweepMetrics.ObserveRunLoopLag(runLag)
		}
		if _, err := s.RunOnce(ctx); err != nil {
			s.log.Warn("sweep run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Sweeper) isJobEnabled(jobName string) bool {
	// Empty EnabledJobs means all jobs run (monolith mode).
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

// PublishDueJob claims due scheduled items and pushes each to its
// platform. Claiming flips status to publishing first, so a concurrent
// sweep pass can never publish the same item twice.
func (s *Sweeper) PublishDueJob(ctx context.Context, summary *Summary) error {
	run := s.newJobRun("publish_due")
	s.logJobStart(run)
	defer s.logJobFinish(run)

	now := s.clock.Now().UTC()
	sweepMetrics := obsmetrics.Sweep()
	var jobErr error

	for {
		if ctx.Err() != nil {
			return errors.Join(jobErr, ctx.Err())
		}

		items, err := s.content.ClaimDueForPublish(ctx, s.db, now, s.cfg.BatchSize)
		if err != nil {
			s.logItemError(run, "sweep.claim.failed", err)
			return errors.Join(jobErr, err)
		}
		if len(items) == 0 {
			break
		}

		for _, item := range items {
			if ctx.Err() != nil {
				return errors.Join(jobErr, ctx.Err())
			}

			summary.Processed++
			run.AddProcessed(1)

			published, err := s.publishItem(ctx, item)
			if err != nil {
				summary.Failed++
				sweepMetrics.IncItemOutcome(obsmetrics.SweepItemOutcomeFailed)
				s.logItemError(run, "sweep.publish.failed", err,
					zap.Int64("item_id", int64(item.ID)),
					zap.String("kind", string(item.Kind)),
				)
				jobErr = errors.Join(jobErr, err)
				continue
			}
			if !published {
				summary.Requeued++
				sweepMetrics.IncItemOutcome(obsmetrics.SweepItemOutcomeRequeued)
				continue
			}

			summary.Published++
			sweepMetrics.IncItemOutcome(obsmetrics.SweepItemOutcomePublished)
		}

		if len(items) < s.cfg.BatchSize {
			break
		}
	}

	return jobErr
}

// publishItem pushes one claimed item to its platform. It returns false
// without error when the claim was released instead of published.
func (s *Sweeper) publishItem(ctx context.Context, item *contentdomain.Item) (bool, error) {
	conn, err := s.connections.ActiveForAccount(ctx, item.AccountID, connectiondomain.PlatformInstagram)
	if err != nil {
		if errors.Is(err, connectiondomain.ErrNoActiveConnection) {
			// The connection lapsed between claim and publish. Put the
			// item back; it stays claimable for when the owner reconnects.
			s.releaseClaim(ctx, item)
			return false, nil
		}
		s.markFailed(ctx, item, fmt.Sprintf("no usable connection: %v", err))
		return false, fmt.Errorf("item %d: %w", item.ID, err)
	}

	result, err := s.publisher.Publish(ctx, conn, item)
	if err != nil {
		s.markFailed(ctx, item, err.Error())
		return false, fmt.Errorf("item %d: %w", item.ID, err)
	}

	if err := s.markPublished(ctx, item, result.ExternalMediaID); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Sweeper) releaseClaim(ctx context.Context, item *contentdomain.Item) {
	if _, err := s.content.TransitionStatus(ctx, s.db, item.ID,
		contentdomain.StatusPublishing, contentdomain.StatusScheduled,
		map[string]any{"updated_at": s.clock.Now().UTC()}); err != nil {
		s.log.Error("claim release failed",
			zap.Int64("item_id", int64(item.ID)),
			zap.Error(err))
	}
}

func (s *Sweeper) markPublished(ctx context.Context, item *contentdomain.Item, externalID string) error {
	now := s.clock.Now().UTC()
	ok, err := s.content.TransitionStatus(ctx, s.db, item.ID,
		contentdomain.StatusPublishing, contentdomain.StatusPublished,
		map[string]any{
			"published_at":      now,
			"external_media_id": externalID,
			"error_text":        "",
		})
	if err != nil {
		return fmt.Errorf("item %d: mark published: %w", item.ID, err)
	}
	if !ok {
		// Row moved under us; the platform post exists, so keep the id.
		s.log.Warn("published item left publishing state early",
			zap.Int64("item_id", int64(item.ID)))
		return nil
	}

	s.notifier.Notify(ctx, item.AccountID, notificationdomain.KindPublishSucceeded,
		"Post published",
		fmt.Sprintf("Your scheduled %s went live.", item.Kind))
	return nil
}

func (s *Sweeper) markFailed(ctx context.Context, item *contentdomain.Item, reason string) {
	_, err := s.content.TransitionStatus(ctx, s.db, item.ID,
		contentdomain.StatusPublishing, contentdomain.StatusFailed,
		map[string]any{"error_text": reason})
	if err != nil {
		s.log.Error("mark failed did not stick",
			zap.Int64("item_id", int64(item.ID)),
			zap.Error(err))
	}

	s.notifier.Notify(ctx, item.AccountID, notificationdomain.KindPublishFailed,
		"Publish failed",
		fmt.Sprintf("Your scheduled %s could not be published: %s", item.Kind, reason))
}

// GenerationPollJob advances in-flight async generation tasks.
func (s *Sweeper) GenerationPollJob(ctx context.Context, summary *Summary) error {
	run := s.newJobRun("generation_poll")
	s.logJobStart(run)
	defer s.logJobFinish(run)

	poll, err := s.generation.PollTasks(ctx, s.cfg.BatchSize)
	summary.GenerationChecked += poll.Checked
	summary.GenerationCompleted += poll.Completed
	summary.GenerationFailed += poll.Failed
	run.AddProcessed(poll.Checked)
	if err != nil {
		s.logItemError(run, "sweep.generation_poll.failed", err)
	}
	return err
}

// ExpireConnectionsJob deactivates connections with lapsed tokens and
// tells the owners to reconnect.
func (s *Sweeper) ExpireConnectionsJob(ctx context.Context, summary *Summary) error {
	run := s.newJobRun("expire_connections")
	s.logJobStart(run)
	defer s.logJobFinish(run)

	expired, err := s.connections.ExpireConnections(ctx, s.clock.Now().UTC())
	if err != nil {
		s.logItemError(run, "sweep.expire_connections.failed", err)
		return err
	}

	for _, conn := range expired {
		summary.ConnectionsExpired++
		run.AddProcessed(1)
		s.notifier.Notify(ctx, conn.AccountID, notificationdomain.KindConnectionExpired,
			"Connection expired",
			fmt.Sprintf("Your %s connection needs to be re-authorized before scheduled posts can publish.", conn.Platform))
	}
	return nil
}
