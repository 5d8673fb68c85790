package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/crm-bulk-import/internal/config"
	"github.com/crm-bulk-import/internal/metrics"
	"github.com/crm-bulk-import/internal/models"
	"github.com/crm-bulk-import/internal/repository"
	"github.com/rs/zerolog"
)

// jobService is the concrete implementation of JobService
type jobService struct {
	jobRepo       repository.JobRepository
	importService ImportService
	metrics       *metrics.Metrics
	log           zerolog.Logger
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	running       bool
	mu            sync.Mutex
	queue         chan string
	// Semaphore: buffered channel to limit concurrent job processing
	sem chan struct{}
}

// newJobService creates a JobService with cfg.Workers concurrent imports
// and room for cfg.QueueSize waiting jobs
func newJobService(jobRepo repository.JobRepository, cfg config.ImportConfig, m *metrics.Metrics, log zerolog.Logger) *jobService {
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	queueSize := cfg.QueueSize
	if queueSize < 1 {
		queueSize = 1
	}

	log.Info().Int("max_workers", workers).Int("queue_size", queueSize).Msg("Initializing job service worker pool")

	return &jobService{
		jobRepo: jobRepo,
		metrics: m,
		log:     log.With().Str("service", "job").Logger(),
		queue:   make(chan string, queueSize),
		sem:     make(chan struct{}, workers),
	}
}

// SetImportService sets the import service for job processing
func (s *jobService) SetImportService(importService ImportService) {
	s.importService = importService
}

// Enqueue hands a job to the worker pool without blocking
func (s *jobService) Enqueue(jobID string) error {
	select {
	case s.queue <- jobID:
		s.metrics.QueueDepth.Set(float64(len(s.queue)))
		s.log.Debug().Str("job_id", jobID).Msg("Job queued")
		return nil
	default:
		s.metrics.JobsRejected.Inc()
		return ErrQueueFull
	}
}

// StartProcessor dispatches queued jobs until the context is cancelled or
// StopProcessor is called. It blocks; run it in its own goroutine.
func (s *jobService) StartProcessor(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	runCtx := s.ctx
	// the dispatcher counts as a worker so Stop waits for it too
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	s.log.Info().Msg("Job processor started")

	for {
		select {
		case <-runCtx.Done():
			s.log.Info().Msg("Job processor stopping")
			return
		case jobID := <-s.queue:
			s.metrics.QueueDepth.Set(float64(len(s.queue)))

			// Acquire semaphore slot - blocks if all workers are busy (backpressure)
			select {
			case s.sem <- struct{}{}:
			case <-runCtx.Done():
				s.log.Warn().Str("job_id", jobID).Msg("Shutdown before job started; it stays pending")
				return
			}

			s.wg.Add(1)
			go s.run(runCtx, jobID)
		}
	}
}

func (s *jobService) run(ctx context.Context, jobID string) {
	defer s.wg.Done()
	defer func() { <-s.sem }()
	s.metrics.ActiveWorkers.Inc()
	defer s.metrics.ActiveWorkers.Dec()

	// Panic recovery - prevents runtime panics from crashing the entire process
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().
				Interface("panic", r).
				Str("job_id", jobID).
				Msg("Job processing panicked - recovered")
			s.markPanicked(jobID, r)
		}
	}()

	s.processJob(ctx, jobID)
}

// processJob processes a single job
func (s *jobService) processJob(ctx context.Context, jobID string) {
	if s.importService == nil {
		s.log.Error().Str("job_id", jobID).Msg("No import service configured")
		return
	}

	s.log.Info().Str("job_id", jobID).Msg("Processing job")

	err := s.importService.ProcessImport(ctx, jobID)
	switch {
	case err == nil:
	case errors.Is(err, ErrInvalidTransition):
		// typically cancelled while queued
		s.log.Info().Err(err).Str("job_id", jobID).Msg("Job skipped")
	default:
		s.log.Error().Err(err).Str("job_id", jobID).Msg("Import processing failed")
	}
}

func (s *jobService) markPanicked(jobID string, r interface{}) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var progress models.Progress
	if job, err := s.jobRepo.GetByID(ctx, jobID); err == nil && job != nil {
		progress.ProcessedRows = job.ProcessedRows
		progress.FailedRows = job.FailedRows
	}
	if _, err := s.jobRepo.Fail(ctx, jobID, fmt.Sprintf("internal error: %v", r), progress, time.Now()); err != nil {
		s.log.Error().Err(err).Str("job_id", jobID).Msg("Failed to mark panicked job as failed")
	}
}

// StopProcessor stops the dispatcher and waits for running jobs to return
func (s *jobService) StopProcessor() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	s.cancel()
	s.wg.Wait()
	s.running = false
	s.log.Info().Msg("Job processor stopped")
}
