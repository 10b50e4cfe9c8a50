package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/vendorhub-backend/pkg/logger"
)

const (
	defaultStaleAfter = 15 * time.Minute
	defaultBatchSize  = 100
)

type staleSyncer interface {
	SyncStale(ctx context.Context, cutoff time.Time, limit int) (int, error)
}

type PaymentSyncJobParams struct {
	Logger     *logger.Logger
	Syncer     staleSyncer
	StaleAfter time.Duration
	BatchSize  int
}

// NewPaymentSyncJob builds the job that re-queries gateways for attempts stuck open, covering
// buyers who never returned and webhooks that never arrived.
func NewPaymentSyncJob(params PaymentSyncJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Syncer == nil {
		return nil, fmt.Errorf("payment syncer required")
	}
	staleAfter := params.StaleAfter
	if staleAfter <= 0 {
		staleAfter = defaultStaleAfter
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	return &paymentSyncJob{
		logg:       params.Logger,
		syncer:     params.Syncer,
		staleAfter: staleAfter,
		batch:      batch,
		now:        time.Now,
	}, nil
}

type paymentSyncJob struct {
	logg       *logger.Logger
	syncer     staleSyncer
	staleAfter time.Duration
	batch      int
	now        func() time.Time
}

func (j *paymentSyncJob) Name() string { return "payment-sync" }

func (j *paymentSyncJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.staleAfter)
	resolved, err := j.syncer.SyncStale(ctx, cutoff, j.batch)
	if err != nil {
		return fmt.Errorf("sync stale payments: %w", err)
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cutoff":   cutoff,
		"resolved": resolved,
	}), "stale payment sync complete")
	return nil
}
