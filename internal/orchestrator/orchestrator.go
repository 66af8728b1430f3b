package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/digkill/TGMediaGen/internal/ledger"
	"github.com/digkill/TGMediaGen/internal/models"
	"github.com/digkill/TGMediaGen/internal/provider"
)

var (
	ErrUnknownTool       = errors.New("unknown tool")
	ErrInsufficientFunds = ledger.ErrInsufficientFunds
	ErrShuttingDown      = errors.New("shutting down")
)

const (
	pollBaseInterval = 3 * time.Second
	pollMaxInterval  = 20 * time.Second

	// maxTransientAttempts bounds consecutive retries of a transient
	// provider failure before it is surfaced.
	maxTransientAttempts = 5
)

// Catalog resolves tool keys to provider adapters.
type Catalog interface {
	Lookup(key string) (provider.Adapter, bool)
}

type Ledger interface {
	Hold(ctx context.Context, userID int64, amount decimal.Decimal, reason, provider, idempotencyKey string) (int64, bool, error)
	Capture(ctx context.Context, holdID int64, providerRef string) error
	Release(ctx context.Context, holdID int64, reason string) (bool, error)
}

type Jobs interface {
	Create(ctx context.Context, job *models.GenerationJob) error
	SetStatus(ctx context.Context, jobID string, status models.JobStatus, resultURL, errorCode string) error
	GetByHoldID(ctx context.Context, holdID int64) (*models.GenerationJob, error)
	UpsertLastResult(ctx context.Context, userID int64, tool, resultURL string) error
	ListUnfinished(ctx context.Context) ([]models.GenerationJob, error)
}

type Artifacts interface {
	Write(ctx context.Context, kind models.MediaKind, data []byte) (string, string, error)
}

// Notifier delivers progress and results to the user's chat. Delivery
// failures never fail the job.
type Notifier interface {
	SendTextSafe(chatID int64, text string)
	SendArtifact(chatID int64, kind models.MediaKind, data []byte, publicURL string) error
}

// Orchestrator runs the generate pipeline: price, hold credits, create the
// provider task, poll to completion, persist the artifact and settle the hold.
type Orchestrator struct {
	registry  Catalog
	ledger    Ledger
	jobs      Jobs
	artifacts Artifacts
	notifier  Notifier
	log       *slog.Logger

	retryBase time.Duration

	closing chan struct{}
	wg      sync.WaitGroup
}

func New(registry Catalog, led Ledger, jobs Jobs, artifacts Artifacts, notifier Notifier, log *slog.Logger) *Orchestrator {
	return &Orchestrator{
		registry:  registry,
		ledger:    led,
		jobs:      jobs,
		artifacts: artifacts,
		notifier:  notifier,
		log:       log,
		retryBase: pollBaseInterval,
		closing:   make(chan struct{}),
	}
}

// Submit validates params, debits the user via a hold and enqueues the job.
// It returns the persisted job row; the provider round-trip happens in the
// background. A non-empty clientKey makes the call idempotent per user: a
// retried request finds the original hold and returns its job instead of
// debiting again.
func (o *Orchestrator) Submit(ctx context.Context, user *models.User, tool string, params provider.Params, clientKey string) (*models.GenerationJob, error) {
	select {
	case <-o.closing:
		return nil, ErrShuttingDown
	default:
	}

	adapter, ok := o.registry.Lookup(tool)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, tool)
	}
	if err := adapter.Validate(params); err != nil {
		return nil, err
	}
	cost := adapter.Cost(params)

	jobID := uuid.NewString()
	idemKey := "job:" + jobID
	if clientKey != "" {
		idemKey = fmt.Sprintf("user:%d:%s", user.ID, clientKey)
	}
	holdID, created, err := o.ledger.Hold(ctx, user.ID, cost, "Generation: "+tool, tool, idemKey)
	if err != nil {
		return nil, err
	}
	if !created {
		existing, err := o.jobs.GetByHoldID(ctx, holdID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return existing, nil
		}
		// Hold exists but its job insert never landed; reuse the hold.
	}

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}
	job := &models.GenerationJob{
		ID:         jobID,
		UserID:     user.ID,
		Tool:       tool,
		ParamsJSON: string(paramsJSON),
		Cost:       cost,
		HoldID:     &holdID,
		Status:     models.JobQueued,
	}
	if err := o.jobs.Create(ctx, job); err != nil {
		if _, rerr := o.ledger.Release(context.WithoutCancel(ctx), holdID, "job insert failed"); rerr != nil {
			o.log.Error("release hold after insert failure", "hold_id", holdID, "err", rerr)
		}
		return nil, err
	}

	o.notifier.SendTextSafe(user.TelegramID, fmt.Sprintf("⏳ Preparing your %s generation, %s credits held.", tool, cost.StringFixed(2)))

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.run(context.WithoutCancel(ctx), job, adapter, user.TelegramID)
	}()
	return job, nil
}

func (o *Orchestrator) run(ctx context.Context, job *models.GenerationJob, adapter provider.Adapter, chatID int64) {
	log := o.log.With("job_id", job.ID, "tool", job.Tool, "user_id", job.UserID)

	if err := o.jobs.SetStatus(ctx, job.ID, models.JobRunning, "", ""); err != nil {
		log.Error("mark running", "err", err)
	}

	var params provider.Params
	if err := json.Unmarshal([]byte(job.ParamsJSON), &params); err != nil {
		o.fail(ctx, job, chatID, fmt.Sprintf("unmarshal params: %v", err))
		return
	}

	var taskID string
	err := o.withTransientRetry(ctx, func() error {
		var cerr error
		taskID, cerr = adapter.Create(ctx, params)
		return cerr
	})
	if err != nil {
		o.fail(ctx, job, chatID, err.Error())
		return
	}
	log.Info("provider task created", "task_id", taskID)

	artifactURLs, err := o.pollUntilDone(ctx, adapter, taskID)
	if err != nil {
		o.fail(ctx, job, chatID, err.Error())
		return
	}

	// Every paid artifact is persisted and delivered, not just the first.
	publicURLs := make([]string, 0, len(artifactURLs))
	for _, artifactURL := range artifactURLs {
		var data []byte
		err := o.withTransientRetry(ctx, func() error {
			var ferr error
			data, ferr = adapter.Fetch(ctx, artifactURL)
			return ferr
		})
		if err != nil {
			o.fail(ctx, job, chatID, "no artifact: "+err.Error())
			return
		}
		_, publicURL, err := o.artifacts.Write(ctx, adapter.Kind(), data)
		if err != nil {
			o.fail(ctx, job, chatID, "store artifact: "+err.Error())
			return
		}
		if err := o.notifier.SendArtifact(chatID, adapter.Kind(), data, publicURL); err != nil {
			log.Error("deliver artifact", "err", err)
		}
		publicURLs = append(publicURLs, publicURL)
	}
	primary := publicURLs[0]

	if err := o.jobs.UpsertLastResult(ctx, job.UserID, job.Tool, primary); err != nil {
		log.Error("save last result", "err", err)
	}

	if job.HoldID != nil {
		if err := o.ledger.Capture(ctx, *job.HoldID, "task:"+taskID); err != nil {
			log.Error("capture hold", "hold_id", *job.HoldID, "err", err)
		}
	}
	if err := o.jobs.SetStatus(ctx, job.ID, models.JobSucceeded, primary, ""); err != nil {
		log.Error("mark succeeded", "err", err)
	}
	log.Info("job succeeded", "result_url", primary, "artifacts", len(publicURLs))
}

// pollUntilDone polls the provider until the task finishes or the adapter's
// deadline elapses. Transient errors back off exponentially with jitter, at
// most maxTransientAttempts in a row, and their waits extend the deadline so
// retries never eat the task's poll budget. Rejections stop immediately.
func (o *Orchestrator) pollUntilDone(ctx context.Context, adapter provider.Adapter, taskID string) ([]string, error) {
	deadline := time.Now().Add(adapter.PollDeadline())
	interval := o.retryBase
	transients := 0
	for {
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("poll deadline exceeded after %s", adapter.PollDeadline())
		}
		status, err := adapter.Poll(ctx, taskID)
		switch {
		case err == nil:
			if status.Done {
				if len(status.ArtifactURLs) == 0 {
					return nil, errors.New("no artifact: provider returned empty result")
				}
				return status.ArtifactURLs, nil
			}
			transients = 0
			interval = o.retryBase
		case errors.Is(err, provider.ErrTransient):
			transients++
			if transients > maxTransientAttempts {
				return nil, err
			}
			interval = nextInterval(interval)
		default:
			return nil, err
		}

		wait := jittered(interval)
		if errors.Is(err, provider.ErrTransient) {
			deadline = deadline.Add(wait)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
}

// withTransientRetry reruns fn while it fails with provider.ErrTransient,
// backing off between attempts, up to maxTransientAttempts tries total.
func (o *Orchestrator) withTransientRetry(ctx context.Context, fn func() error) error {
	interval := o.retryBase
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil || !errors.Is(err, provider.ErrTransient) || attempt >= maxTransientAttempts {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(jittered(interval)):
		}
		interval = nextInterval(interval)
	}
}

func nextInterval(d time.Duration) time.Duration {
	d *= 2
	if d > pollMaxInterval {
		d = pollMaxInterval
	}
	return d
}

// jittered spreads waits over [d/2, 3d/2) so synchronized jobs don't poll in
// lockstep.
func jittered(d time.Duration) time.Duration {
	return d/2 + time.Duration(rand.Int63n(int64(d)))
}

func (o *Orchestrator) fail(ctx context.Context, job *models.GenerationJob, chatID int64, rawErr string) {
	log := o.log.With("job_id", job.ID, "tool", job.Tool)
	code, notice := classifyError(rawErr)
	log.Error("job failed", "code", code, "err", rawErr)

	refunded := false
	if job.HoldID != nil {
		var err error
		refunded, err = o.ledger.Release(ctx, *job.HoldID, code)
		if err != nil {
			log.Error("release hold", "hold_id", *job.HoldID, "err", err)
		}
	}
	if err := o.jobs.SetStatus(ctx, job.ID, models.JobFailed, "", code); err != nil {
		log.Error("mark failed", "err", err)
	}

	msg := "❌ " + notice.Reason + "\n" + notice.Tips
	if refunded {
		msg += fmt.Sprintf("\nYour %s credits were refunded.", job.Cost.StringFixed(2))
	}
	o.notifier.SendTextSafe(chatID, msg)
}

// ReconcileStartup fails over jobs left queued or running by an unclean
// shutdown and releases their holds.
func (o *Orchestrator) ReconcileStartup(ctx context.Context) error {
	jobs, err := o.jobs.ListUnfinished(ctx)
	if err != nil {
		return fmt.Errorf("list unfinished: %w", err)
	}
	for _, job := range jobs {
		if job.HoldID != nil {
			if _, err := o.ledger.Release(ctx, *job.HoldID, CodeShutdown); err != nil {
				o.log.Error("release stale hold", "job_id", job.ID, "hold_id", *job.HoldID, "err", err)
			}
		}
		if err := o.jobs.SetStatus(ctx, job.ID, models.JobFailed, "", CodeShutdown); err != nil {
			o.log.Error("fail stale job", "job_id", job.ID, "err", err)
		}
	}
	if len(jobs) > 0 {
		o.log.Info("reconciled stale jobs", "count", len(jobs))
	}
	return nil
}

// Shutdown stops accepting new jobs and waits up to grace for in-flight ones.
func (o *Orchestrator) Shutdown(grace time.Duration) {
	close(o.closing)
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		o.log.Warn("shutdown grace elapsed with jobs still in flight")
	}
}
