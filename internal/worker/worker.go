package worker

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"vitalwatch/internal/logger"
	"vitalwatch/internal/metrics"
	"vitalwatch/internal/models"
	"vitalwatch/internal/storage"
)

// Pool drains the reading channel and appends readings to the timeline in batches
type Pool struct {
	store        storage.Appender
	readings     chan models.Reading
	workers      int
	batchSize    int
	batchTimeout time.Duration

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	// Metrics
	processed atomic.Uint64
	failed    atomic.Uint64
}

// Config holds worker pool configuration
type Config struct {
	Store        storage.Appender
	Readings     chan models.Reading
	Workers      int
	BatchSize    int
	BatchTimeout time.Duration
}

// NewPool creates a new worker pool
func NewPool(cfg Config) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 100 * time.Millisecond
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Pool{
		store:        cfg.Store,
		readings:     cfg.Readings,
		workers:      cfg.Workers,
		batchSize:    cfg.BatchSize,
		batchTimeout: cfg.BatchTimeout,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start begins processing readings
func (p *Pool) Start() {
	log := logger.WithComponent("worker_pool")
	log.Info().
		Int("workers", p.workers).
		Int("batch_size", p.batchSize).
		Dur("batch_timeout", p.batchTimeout).
		Msg("starting worker pool")

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop stops all workers after they flush what they hold
func (p *Pool) Stop() {
	log := logger.WithComponent("worker_pool")
	log.Info().Msg("stopping worker pool")
	p.cancel()
	p.wg.Wait()
	log.Info().Msg("worker pool stopped")
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	log := logger.WithComponent("worker").With().Int("worker_id", id).Logger()

	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("worker panic recovered")
			metrics.PanicsRecovered.WithLabelValues("worker").Inc()
		}
	}()

	log.Debug().Msg("worker started")
	defer log.Debug().Msg("worker stopped")

	batch := make([]models.Reading, 0, p.batchSize)
	timer := time.NewTimer(p.batchTimeout)
	defer timer.Stop()

	for {
		select {
		case <-p.ctx.Done():
			p.drain(&batch)
			if len(batch) > 0 {
				p.storeBatch(batch)
			}
			return

		case r, ok := <-p.readings:
			if !ok {
				if len(batch) > 0 {
					p.storeBatch(batch)
				}
				return
			}
			metrics.WorkerQueueSize.Set(float64(len(p.readings)))

			batch = append(batch, r)
			if len(batch) >= p.batchSize {
				p.storeBatch(batch)
				batch = batch[:0]
				timer.Reset(p.batchTimeout)
			}

		case <-timer.C:
			if len(batch) > 0 {
				p.storeBatch(batch)
				batch = batch[:0]
			}
			timer.Reset(p.batchTimeout)
		}
	}
}

// drain moves whatever is already queued into batch without blocking
func (p *Pool) drain(batch *[]models.Reading) {
	for {
		select {
		case r, ok := <-p.readings:
			if !ok {
				return
			}
			*batch = append(*batch, r)
		default:
			return
		}
	}
}

func (p *Pool) storeBatch(batch []models.Reading) {
	if len(batch) == 0 {
		return
	}

	log := logger.WithComponent("worker")
	start := time.Now()

	// the pool context may already be cancelled during shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := p.store.AppendBatch(ctx, batch)
	duration := time.Since(start)
	metrics.WorkerBatchStoreDuration.Observe(duration.Seconds())

	if err != nil {
		log.Error().
			Err(err).
			Int("batch_size", len(batch)).
			Dur("duration", duration).
			Msg("failed to store batch")

		p.storeIndividually(batch)
		return
	}

	log.Debug().
		Int("batch_size", len(batch)).
		Dur("duration", duration).
		Msg("batch stored")

	p.processed.Add(uint64(len(batch)))
	metrics.WorkerProcessedTotal.Add(float64(len(batch)))
}

// storeIndividually retries a failed batch one reading at a time
func (p *Pool) storeIndividually(batch []models.Reading) {
	log := logger.WithComponent("worker")
	log.Warn().Int("count", len(batch)).Msg("attempting individual append for failed batch")

	for _, r := range batch {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := p.store.Append(ctx, r)
		cancel()

		if err != nil {
			log.Error().
				Err(err).
				Str("patient_id", r.PatientID).
				Str("kind", string(r.Kind)).
				Msg("failed to append reading")
			p.failed.Add(1)
			metrics.WorkerFailedTotal.Inc()
			continue
		}

		p.processed.Add(1)
		metrics.WorkerProcessedTotal.Inc()
	}
}

// Stats returns worker pool statistics
func (p *Pool) Stats() Stats {
	return Stats{
		Processed: p.processed.Load(),
		Failed:    p.failed.Load(),
	}
}

// Stats holds worker pool metrics
type Stats struct {
	Processed uint64 `json:"processed"`
	Failed    uint64 `json:"failed"`
}
