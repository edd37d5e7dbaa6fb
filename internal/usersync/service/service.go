package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"usersync/internal/usersync/metrics"
	"usersync/internal/usersync/model"
	"usersync/internal/usersync/repository"
)

type Fetcher interface {
	FetchUpdates(ctx context.Context) ([]model.UserUpdate, error)
}

type Upserter interface {
	UpsertUser(ctx context.Context, update model.UserUpdate) (model.UpsertOutcome, error)
}

type SyncService interface {
	RunPass(ctx context.Context) (*model.SyncResult, error)
}

type Service struct {
	Fetcher Fetcher
	Repo    Upserter
	Metrics *metrics.Recorder
	Logger  *slog.Logger

	now       func() time.Time
	newPassID func() string
}

type Option func(*Service)

func WithMetrics(m *metrics.Recorder) Option {
	return func(s *Service) { s.Metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.Logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithPassIDs(next func() string) Option {
	return func(s *Service) { s.newPassID = next }
}

func NewService(fetcher Fetcher, repo Upserter, opts ...Option) *Service {
	s := &Service{
		Fetcher:   fetcher,
		Repo:      repo,
		Logger:    slog.Default(),
		now:       time.Now,
		newPassID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunPass performs one fetch-then-apply cycle. A fetch error aborts the pass
// before anything is written and is returned. Per-record errors are kept in
// the result and never returned. The context is checked between records.
func (s *Service) RunPass(ctx context.Context) (*model.SyncResult, error) {
	result := model.NewSyncResult(s.newPassID(), s.now())
	logger := s.Logger.With("pass_id", result.PassID)

	result.State = model.PassFetching
	logger.Info("starting user synchronization")

	updates, err := s.Fetcher.FetchUpdates(ctx)
	if err != nil {
		result.State = model.PassFailed
		result.FetchError = err.Error()
		s.finish(result)
		logger.Error("failed to fetch updates", "error", err, "duration", result.Duration().String())
		return result, err
	}

	result.Fetched = len(updates)
	result.State = model.PassApplying
	logger.Info("applying updates", "fetched", result.Fetched)

	for i, u := range updates {
		if err := ctx.Err(); err != nil {
			result.State = model.PassFailed
			s.finish(result)
			logger.Warn("synchronization interrupted",
				"applied", i,
				"remaining", len(updates)-i,
				"error", err,
			)
			return result, err
		}

		outcome, err := s.Repo.UpsertUser(ctx, u)
		if err != nil {
			kind := model.FailureKindStorage
			var se *repository.StorageError
			if errors.As(err, &se) {
				kind = se.Kind()
			}
			result.RecordFailure(u.UserID, kind, err)
			logger.Error("failed to apply update", "user_id", u.UserID, "kind", kind, "error", err)
			continue
		}
		result.RecordApplied(outcome)
	}

	result.State = model.PassDone
	s.finish(result)
	logger.Info("synchronization completed",
		"fetched", result.Fetched,
		"upserted", result.Upserted,
		"inserted", result.Inserted,
		"modified", result.Modified,
		"unchanged", result.Unchanged,
		"failed", result.Failed,
		"duration", result.Duration().String(),
	)
	return result, nil
}

func (s *Service) finish(result *model.SyncResult) {
	result.FinishedAt = s.now()
	s.Metrics.ObservePass(result)
}
