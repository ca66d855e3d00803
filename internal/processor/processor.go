package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"vitalwatch/internal/alerts"
	"vitalwatch/internal/config"
	"vitalwatch/internal/dispatch"
	"vitalwatch/internal/handlers"
	"vitalwatch/internal/ingest"
	"vitalwatch/internal/kafka"
	"vitalwatch/internal/logger"
	"vitalwatch/internal/metrics"
	"vitalwatch/internal/middleware"
	"vitalwatch/internal/models"
	"vitalwatch/internal/monitor"
	"vitalwatch/internal/rules"
	"vitalwatch/internal/state"
	"vitalwatch/internal/storage"
	"vitalwatch/internal/worker"
)

// healthProbeID is the patient id read by the health check to reach the state backend
const healthProbeID = "__health__"

// Processor wires ingestion, storage, evaluation and dispatch together.
type Processor struct {
	cfg        *config.Config
	configPath string

	timeline   storage.Store
	state      state.Store
	engine     *alerts.Engine
	hub        *dispatch.Hub
	producer   *kafka.Producer
	consumer   *kafka.Consumer
	subscriber *ingest.Subscriber
	monitor    *monitor.Monitor
	workerPool *worker.Pool
	httpServer *http.Server
	readings   chan models.Reading
	wg         sync.WaitGroup

	httpShutdownTimeout time.Duration
}

// Option configures a Processor
type Option func(*Processor)

// WithConfigPath enables hot reload of the policy from the given file.
func WithConfigPath(path string) Option {
	return func(p *Processor) { p.configPath = path }
}

// WithTimeline replaces the configured timeline backend.
func WithTimeline(s storage.Store) Option {
	return func(p *Processor) { p.timeline = s }
}

// WithState replaces the configured alert state backend.
func WithState(s state.Store) Option {
	return func(p *Processor) { p.state = s }
}

// New constructs a Processor with given config.
func New(cfg *config.Config, opts ...Option) *Processor {
	queueSize := cfg.HTTP.QueueSize
	if queueSize <= 0 {
		queueSize = config.DefaultQueueSize
	}
	p := &Processor{
		cfg:                 cfg,
		readings:            make(chan models.Reading, queueSize),
		httpShutdownTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run starts every component and blocks until ctx is cancelled or a
// background component fails.
func (p *Processor) Run(ctx context.Context) error {
	log := logger.WithComponent("processor")
	log.Info().Msg("processor starting")

	if err := p.setup(ctx); err != nil {
		log.Error().Err(err).Msg("failed to initialize processor")
		p.closeBackends()
		return err
	}

	p.workerPool.Start()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", p.httpServer.Addr).Msg("starting HTTP server")
		if err := p.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error { return p.monitor.Run(gctx) })

	if p.subscriber != nil {
		g.Go(func() error { return p.subscriber.Run(gctx) })
	}
	if p.consumer != nil {
		g.Go(func() error { return p.consumer.Run(gctx) })
	}
	if p.configPath != "" {
		g.Go(func() error { return config.Watch(gctx, p.configPath, p.reload) })
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.reportStats(gctx)
	}()

	<-gctx.Done()
	if ctx.Err() != nil {
		log.Info().Msg("shutdown signal received")
	}

	httpStopped := p.stopHTTP() == nil
	err := g.Wait()
	if err != nil {
		log.Error().Err(err).Msg("component failed")
	}

	p.shutdown(httpStopped)
	return err
}

// setup builds every component from config without starting any goroutine.
func (p *Processor) setup(ctx context.Context) error {
	if err := p.initStorage(ctx); err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	if err := p.initState(ctx); err != nil {
		return fmt.Errorf("failed to initialize alert state: %w", err)
	}
	if err := p.initEngine(); err != nil {
		return fmt.Errorf("failed to initialize engine: %w", err)
	}
	p.initWorkerPool()
	p.initSources()
	p.initMonitor()
	p.initHTTPServer()
	return nil
}

// initStorage opens the timeline and preloads the data directory
func (p *Processor) initStorage(ctx context.Context) error {
	log := logger.WithComponent("processor")
	sc := p.cfg.Storage

	if p.timeline == nil {
		switch sc.Backend {
		case "postgres":
			pg, err := storage.OpenPostgres(ctx, sc.PostgresDSN, sc.MaxConns)
			if err != nil {
				return err
			}
			p.timeline = pg
		default:
			p.timeline = storage.NewMemory()
		}
	}
	log.Info().Str("backend", sc.Backend).Msg("timeline initialized")

	if sc.DataDir != "" {
		n, err := storage.LoadDir(ctx, sc.DataDir, p.timeline)
		if err != nil {
			return err
		}
		log.Info().Str("dir", sc.DataDir).Int("readings", n).Msg("data directory loaded")
	}
	return nil
}

// initState opens the alert state backend
func (p *Processor) initState(ctx context.Context) error {
	log := logger.WithComponent("processor")
	sc := p.cfg.State

	if p.state == nil {
		switch sc.Backend {
		case "redis":
			rs, err := state.DialRedis(ctx, sc.RedisAddr, sc.RedisPassword, sc.RedisDB, sc.KeyPrefix)
			if err != nil {
				return err
			}
			p.state = rs
		default:
			p.state = state.NewMemory()
		}
	}
	log.Info().Str("backend", sc.Backend).Msg("alert state initialized")
	return nil
}

// initEngine builds the dispatch chain and the alert engine
func (p *Processor) initEngine() error {
	log := logger.WithComponent("processor")

	policy, err := buildPolicy(p.cfg.Monitor)
	if err != nil {
		return err
	}

	dispatcher, err := p.buildDispatcher()
	if err != nil {
		return err
	}

	p.engine = alerts.NewEngine(alerts.Config{
		Timeline:   p.timeline,
		Store:      p.state,
		Policy:     policy,
		Dispatcher: dispatcher,
	})
	log.Info().
		Str("policy", policy.Name()).
		Dur("lookback", policy.Lookback()).
		Msg("alert engine initialized")
	return nil
}

// buildPolicy resolves the configured policy. The monitor window only
// overrides the lookback of the canonical policy.
func buildPolicy(mc config.MonitorConfig) (rules.Policy, error) {
	name := mc.Policy
	if name == "" {
		name = rules.PolicyCanonical
	}
	policy, err := rules.PolicyByName(name)
	if err != nil {
		return nil, err
	}
	if rs, ok := policy.(*rules.RuleSet); ok && name == rules.PolicyCanonical && mc.Window > 0 {
		return rs.WithLookback(mc.Window), nil
	}
	return policy, nil
}

// buildDispatcher assembles the sinks and event transforms
func (p *Processor) buildDispatcher() (alerts.Dispatcher, error) {
	log := logger.WithComponent("processor")
	dc := p.cfg.Dispatch

	sinks := []dispatch.Sink{dispatch.Log{}}

	for _, wh := range dc.Webhooks {
		url := wh.URL()
		if url == "" {
			log.Warn().Str("type", wh.Type).Str("url_env", wh.URLEnv).Msg("webhook url not set, skipping")
			continue
		}
		sinks = append(sinks, dispatch.NewWebhook(wh.Type, url))
	}

	if dc.WebSocket {
		p.hub = dispatch.NewHub()
		sinks = append(sinks, p.hub)
	}

	if p.cfg.Kafka.Enabled {
		producer, err := kafka.NewProducer(p.cfg.Kafka.Brokers, p.cfg.Kafka.Topic, p.cfg.Kafka.Producer)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize producer: %w", err)
		}
		p.producer = producer
		sinks = append(sinks, producer)
		log.Info().
			Strs("brokers", p.cfg.Kafka.Brokers).
			Str("topic", p.cfg.Kafka.Topic).
			Msg("kafka producer initialized")
	}

	var transforms []alerts.Transform
	if dc.Priority != "" {
		transforms = append(transforms, alerts.WithPriority(models.Priority(dc.Priority)))
	}
	if dc.Repeat > 1 {
		transforms = append(transforms, alerts.Repeat(dc.Repeat))
	}

	names := make([]string, len(sinks))
	for i, s := range sinks {
		names[i] = s.Name()
	}
	log.Info().Strs("sinks", names).Int("transforms", len(transforms)).Msg("dispatch initialized")

	return alerts.NewTransformDispatcher(dispatch.NewMulti(sinks...), transforms...), nil
}

// initWorkerPool initializes the worker pool
func (p *Processor) initWorkerPool() {
	log := logger.WithComponent("processor")
	p.workerPool = worker.NewPool(worker.Config{
		Store:        p.timeline,
		Readings:     p.readings,
		Workers:      p.cfg.Storage.Workers,
		BatchSize:    p.cfg.Storage.BatchSize,
		BatchTimeout: p.cfg.Storage.BatchTimeout,
	})
	log.Info().Int("workers", p.cfg.Storage.Workers).Msg("worker pool initialized")
}

// initSources builds the optional MQTT and Kafka reading sources
func (p *Processor) initSources() {
	if p.cfg.MQTT.Enabled {
		p.subscriber = ingest.NewSubscriber(p.cfg.MQTT, p.enqueue)
	}
	if p.cfg.Kafka.ReadingsTopic != "" {
		p.consumer = kafka.NewConsumer(p.cfg.Kafka.Brokers, p.cfg.Kafka.ReadingsTopic, p.cfg.Kafka.GroupID, p.enqueue)
	}
}

// enqueue hands a streamed reading to the worker pool, waiting for room
func (p *Processor) enqueue(ctx context.Context, r models.Reading) error {
	select {
	case p.readings <- r:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Processor) initMonitor() {
	p.monitor = monitor.New(monitor.Config{
		Patients:    p.timeline,
		Evaluator:   p.engine,
		Interval:    p.cfg.Monitor.Interval,
		Concurrency: p.cfg.Monitor.Concurrency,
	})
}

// initHTTPServer initializes the HTTP server with handlers
func (p *Processor) initHTTPServer() {
	p.httpServer = &http.Server{
		Addr:         p.cfg.HTTP.Addr,
		Handler:      p.routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	metrics.WorkerQueueCapacity.Set(float64(cap(p.readings)))
}

// routes builds the router. Ingest and operator endpoints require the API key.
func (p *Processor) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recovery, middleware.Logging)

	ingestHandler := handlers.NewIngestHandler(handlers.IngestConfig{
		Readings:    p.readings,
		MaxBodySize: p.cfg.HTTP.MaxBodySize,
	})
	alertsHandler := handlers.NewAlertsHandler(p.engine, p.state)

	auth := middleware.APIKey(p.cfg.HTTP.APIKey())
	r.Method(http.MethodPost, "/ingest", middleware.Chain(ingestHandler, auth))
	r.Method(http.MethodPost, "/alerts/manual", middleware.Chain(http.HandlerFunc(alertsHandler.Manual), auth))
	r.Method(http.MethodGet, "/patients/{id}/alert", middleware.Chain(http.HandlerFunc(alertsHandler.PatientState), auth))

	r.Get("/health", p.healthHandler)
	r.Get("/stats", p.statsHandler)
	r.Handle("/metrics", promhttp.Handler())

	if p.hub != nil {
		r.Handle("/ws", p.hub)
	}
	return r
}

// reload applies a changed policy from a reloaded config file
func (p *Processor) reload(cfg *config.Config) {
	log := logger.WithComponent("processor")

	if cfg.Log.Level != p.cfg.Log.Level {
		logger.Init(cfg.Log.Level)
	}

	policy, err := buildPolicy(cfg.Monitor)
	if err != nil {
		log.Error().Err(err).Str("policy", cfg.Monitor.Policy).Msg("reloaded policy rejected")
		return
	}
	current := p.engine.Policy()
	if current.Name() == policy.Name() && current.Lookback() == policy.Lookback() {
		return
	}
	p.engine.SetPolicy(policy)
	log.Info().
		Str("policy", policy.Name()).
		Dur("lookback", policy.Lookback()).
		Msg("policy switched")
}

// stopHTTP returns an error when in-flight requests outlived the timeout
func (p *Processor) stopHTTP() error {
	log := logger.WithComponent("processor")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), p.httpShutdownTimeout)
	defer cancel()

	log.Info().Msg("stopping HTTP server")
	err := p.httpServer.Shutdown(shutdownCtx)
	if err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}
	if p.hub != nil {
		p.hub.Close()
	}
	return err
}

// shutdown drains the readings queue and closes every backend. The queue is
// only closed when no ingest handler can still send on it; otherwise the
// workers are stopped and flush what they already hold.
func (p *Processor) shutdown(closeQueue bool) {
	log := logger.WithComponent("processor")
	log.Info().Msg("initiating graceful shutdown")

	if closeQueue {
		log.Info().Msg("closing readings channel")
		close(p.readings)
	} else {
		log.Warn().Msg("ingest requests still running, leaving readings channel open")
	}

	done := make(chan struct{})
	go func() {
		p.workerPool.Stop()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("workers stopped gracefully")
	case <-time.After(15 * time.Second):
		log.Warn().Msg("worker shutdown timeout - forcing exit")
	}

	p.wg.Wait()
	p.closeBackends()

	log.Info().Msg("processor stopped gracefully")
}

func (p *Processor) closeBackends() {
	log := logger.WithComponent("processor")

	if p.consumer != nil {
		if err := p.consumer.Close(); err != nil {
			log.Error().Err(err).Msg("kafka consumer close error")
		}
	}
	if p.producer != nil {
		if err := p.producer.Close(); err != nil {
			log.Error().Err(err).Msg("kafka producer close error")
		}
	}
	if p.state != nil {
		if err := p.state.Close(); err != nil {
			log.Error().Err(err).Msg("alert state close error")
		}
	}
	if p.timeline != nil {
		if err := p.timeline.Close(); err != nil {
			log.Error().Err(err).Msg("timeline close error")
		}
	}
}

// reportStats periodically logs statistics
func (p *Processor) reportStats(ctx context.Context) {
	log := logger.WithComponent("processor")
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			workerStats := p.workerPool.Stats()
			monitorStats := p.monitor.Stats()

			metrics.WorkerQueueSize.Set(float64(len(p.readings)))

			e := log.Info().
				Uint64("worker_processed", workerStats.Processed).
				Uint64("worker_failed", workerStats.Failed).
				Uint64("monitor_passes", monitorStats.Passes).
				Uint64("monitor_errors", monitorStats.Errors).
				Int("queue_size", len(p.readings))
			if p.producer != nil {
				ps := p.producer.Stats()
				e = e.Uint64("producer_sent", ps.MessagesSent).
					Uint64("producer_failed", ps.MessagesFailed)
			}
			e.Msg("stats")
		}
	}
}

// healthHandler reports unhealthy when the alert state backend is unreachable
func (p *Processor) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if _, err := p.state.Get(ctx, healthProbeID); err != nil {
		http.Error(w, fmt.Sprintf("unhealthy: %v", err), http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","timestamp":"%s"}`, time.Now().Format(time.RFC3339))
}

// Stats is the body of GET /stats
type Stats struct {
	Worker   worker.Stats         `json:"worker"`
	Monitor  monitor.Stats        `json:"monitor"`
	Producer *kafka.ProducerStats `json:"producer,omitempty"`
	Policy   string               `json:"policy"`
	Clients  int                  `json:"websocket_clients"`
	Channel  ChannelStats         `json:"channel"`
}

// ChannelStats describes the readings queue
type ChannelStats struct {
	Buffered int `json:"buffered"`
	Capacity int `json:"capacity"`
}

// statsHandler returns current statistics
func (p *Processor) statsHandler(w http.ResponseWriter, r *http.Request) {
	stats := Stats{
		Worker:  p.workerPool.Stats(),
		Monitor: p.monitor.Stats(),
		Policy:  p.engine.Policy().Name(),
		Channel: ChannelStats{Buffered: len(p.readings), Capacity: cap(p.readings)},
	}
	if p.producer != nil {
		ps := p.producer.Stats()
		stats.Producer = &ps
	}
	if p.hub != nil {
		stats.Clients = p.hub.Clients()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(stats)
}
