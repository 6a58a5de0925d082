// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	gcsstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/wiki-mirror/internal/clock/system"
	"github.com/JakeFAU/wiki-mirror/internal/config"
	"github.com/JakeFAU/wiki-mirror/internal/id/uuid"
	"github.com/JakeFAU/wiki-mirror/internal/mirror"
	"github.com/JakeFAU/wiki-mirror/internal/notify"
	"github.com/JakeFAU/wiki-mirror/internal/queue"
	queueMemory "github.com/JakeFAU/wiki-mirror/internal/queue/memory"
	"github.com/JakeFAU/wiki-mirror/internal/scheduler"
	"github.com/JakeFAU/wiki-mirror/internal/source"
	"github.com/JakeFAU/wiki-mirror/internal/storage/gcs"
	"github.com/JakeFAU/wiki-mirror/internal/storage/local"
	"github.com/JakeFAU/wiki-mirror/internal/storage/memory"
	"github.com/JakeFAU/wiki-mirror/internal/storage/postgres"
	"github.com/JakeFAU/wiki-mirror/internal/storage/sqlite"
	"github.com/JakeFAU/wiki-mirror/internal/syncer"
	"github.com/JakeFAU/wiki-mirror/internal/temporal"
	"github.com/JakeFAU/wiki-mirror/internal/worker"
	"github.com/JakeFAU/wiki-mirror/internal/workflow"
)

// ErrNotifyDisabled is returned by RunNotify when no signing secret or site is configured.
var ErrNotifyDisabled = errors.New("notify is not configured")

// Run reports one finished workflow instance.
type Run[T any] struct {
	InstanceID string `json:"instance_id"`
	Result     T      `json:"result"`
}

// Deps overrides providers built from config. Nil fields are built normally.
type Deps struct {
	Source     mirror.Source
	Objects    mirror.ObjectStore
	Store      mirror.Store
	StepLog    workflow.StepLog
	Transport  queue.Transport
	Clock      mirror.Clock
	HTTPClient *http.Client
}

// App holds all the shared, long-lived services for the application.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	clock     mirror.Clock
	objects   mirror.ObjectStore
	store     mirror.Store
	engine    *workflow.Engine
	transport queue.Transport
	inline    bool

	sync       *syncer.Workflow
	batches    *syncer.BatchExecutor
	extractor  *temporal.Extractor
	aggregator *temporal.Aggregator
	notifier   *notify.Notifier
	worker     *worker.Worker

	newID   func(workflow string) (string, error)
	pingers []func(ctx context.Context) error
	closers []func() error
}

// New builds every service from cfg.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	return NewWithDeps(ctx, cfg, logger, Deps{})
}

// NewWithDeps builds the App, preferring the supplied providers. On error
// every provider opened so far is closed.
func NewWithDeps(ctx context.Context, cfg config.Config, logger *zap.Logger, deps Deps) (a *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a = &App{
		cfg:    cfg,
		logger: logger,
		clock:  deps.Clock,
		newID: func(workflow string) (string, error) {
			return uuid.WithPrefix(workflow).NewID()
		},
	}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()
	if a.clock == nil {
		a.clock = system.New()
	}
	logger.Info("initializing application services")

	src := deps.Source
	if src == nil {
		src, err = source.New(source.Config{
			BaseURL:   cfg.Source.Endpoint(),
			UserAgent: cfg.Source.UserAgent,
			Timeout:   cfg.Source.Timeout,
			RPS:       cfg.Source.RPS,
			Burst:     cfg.Source.Burst,
		}, deps.HTTPClient, logger)
		if err != nil {
			return nil, fmt.Errorf("init source: %w", err)
		}
	}

	a.objects = deps.Objects
	if a.objects == nil {
		if a.objects, err = a.buildObjects(ctx); err != nil {
			return nil, err
		}
	}

	var pg *postgres.Store
	a.store = deps.Store
	if a.store == nil {
		if a.store, pg, err = a.buildStore(ctx); err != nil {
			return nil, err
		}
	}

	stepLog := deps.StepLog
	if stepLog == nil {
		if stepLog, err = a.buildStepLog(ctx, pg); err != nil {
			return nil, err
		}
	}
	policy := workflow.NewExponentialRetryPolicy(cfg.Steps.MaxAttempts, cfg.Steps.BackoffInitial, cfg.Steps.BackoffMax)
	a.engine = workflow.NewEngine(stepLog, policy, logger)

	a.transport = deps.Transport
	if a.transport == nil {
		if a.transport, err = a.buildTransport(ctx); err != nil {
			return nil, err
		}
	}
	a.closers = append(a.closers, a.transport.Close)
	_, a.inline = a.transport.(*queueMemory.Queue)

	dispatcher, err := syncer.NewDispatcher(a.transport, cfg.Sync.BatchSize, logger)
	if err != nil {
		return nil, fmt.Errorf("init dispatcher: %w", err)
	}
	a.sync, err = syncer.NewWorkflow(src, dispatcher, a.clock, syncer.Config{
		ListChunkSize: cfg.Source.ListChunkSize,
		Period:        cfg.Sync.Period,
		Slack:         cfg.Sync.Slack,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("init sync workflow: %w", err)
	}
	a.batches, err = syncer.NewBatchExecutor(src, a.objects, a.store, cfg.Sync.StepSize, logger)
	if err != nil {
		return nil, fmt.Errorf("init batch executor: %w", err)
	}
	a.worker = worker.New(a.transport, a.batches, a.engine, cfg.Sync.BatchTimeout, logger)

	a.extractor, err = temporal.NewExtractor(a.objects, a.store, a.clock, cfg.Temporal.StepSize, logger)
	if err != nil {
		return nil, fmt.Errorf("init extractor: %w", err)
	}
	a.aggregator, err = temporal.NewAggregator(a.store, a.objects, logger)
	if err != nil {
		return nil, fmt.Errorf("init aggregator: %w", err)
	}

	if cfg.Notify.Enabled() {
		if a.notifier, err = a.buildNotifier(deps.HTTPClient); err != nil {
			return nil, err
		}
	} else {
		logger.Info("notify disabled; set notify.secret and notify.site_url to enable")
	}

	logger.Info("application services initialized",
		zap.String("storage", cfg.Storage.Provider),
		zap.String("db", cfg.DB.Provider),
		zap.String("steps", cfg.Steps.Provider),
		zap.String("queue", cfg.Queue.Provider),
	)
	return a, nil
}

func (a *App) buildObjects(ctx context.Context) (mirror.ObjectStore, error) {
	switch a.cfg.Storage.Provider {
	case config.ProviderGCS:
		client, err := gcsstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("init gcs client: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		store, err := gcs.New(client, gcs.Config{Bucket: a.cfg.Storage.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("init gcs store: %w", err)
		}
		a.logger.Info("using gcs object store", zap.String("bucket", a.cfg.Storage.GCSBucket))
		return store, nil
	case config.ProviderLocal:
		store, err := local.New(local.Config{BaseDir: a.cfg.Storage.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("init local store: %w", err)
		}
		return store, nil
	default:
		return memory.NewBlobStore(), nil
	}
}

func (a *App) buildStore(ctx context.Context) (mirror.Store, *postgres.Store, error) {
	if a.cfg.DB.Provider != config.ProviderPostgres {
		return memory.NewStore(), nil, nil
	}
	pg, err := postgres.NewStore(ctx, postgres.StoreConfig{
		DSN:      a.cfg.DB.DSN,
		MaxConns: a.cfg.DB.MaxConns,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("init postgres: %w", err)
	}
	a.closers = append(a.closers, func() error {
		pg.Close()
		return nil
	})
	a.pingers = append(a.pingers, pg.Ping)
	if a.cfg.DB.Migrate {
		if err := pg.Migrate(ctx); err != nil {
			return nil, nil, err
		}
	}
	return pg, pg, nil
}

func (a *App) buildStepLog(ctx context.Context, pg *postgres.Store) (workflow.StepLog, error) {
	switch a.cfg.Steps.Provider {
	case config.ProviderSQLite:
		log, err := sqlite.Open(ctx, a.cfg.Steps.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("init sqlite step log: %w", err)
		}
		a.closers = append(a.closers, log.Close)
		return log, nil
	case config.ProviderPostgres:
		if pg == nil {
			return nil, fmt.Errorf("postgres step log requires the postgres store")
		}
		return postgres.NewStepLog(pg), nil
	default:
		return workflow.NewMemoryLog(), nil
	}
}

func (a *App) buildTransport(ctx context.Context) (queue.Transport, error) {
	if a.cfg.Queue.Provider != config.ProviderPubSub {
		return queueMemory.NewQueue(a.cfg.Queue.Depth, a.cfg.Queue.Workers, a.logger), nil
	}
	ps, err := queue.NewPubSub(ctx, queue.PubSubConfig{
		ProjectID:    a.cfg.Queue.ProjectID,
		Topic:        a.cfg.Queue.Topic,
		Subscription: a.cfg.Queue.Subscription,
		Workers:      a.cfg.Queue.Workers,
	}, a.logger)
	if err != nil {
		return nil, fmt.Errorf("init pubsub: %w", err)
	}
	return ps, nil
}

func (a *App) buildNotifier(client *http.Client) (*notify.Notifier, error) {
	signer, err := notify.NewSigner(a.cfg.Notify.Secret)
	if err != nil {
		return nil, fmt.Errorf("init signer: %w", err)
	}
	renderer, err := notify.NewRenderer(signer, a.cfg.Notify.SiteURL)
	if err != nil {
		return nil, fmt.Errorf("init renderer: %w", err)
	}
	var sender notify.Sender = notify.NewLogSender(a.logger)
	if a.cfg.Notify.WebhookURL != "" {
		if sender, err = notify.NewWebhookSender(a.cfg.Notify.WebhookURL, client); err != nil {
			return nil, fmt.Errorf("init webhook sender: %w", err)
		}
	}
	n, err := notify.NewNotifier(a.store, renderer, sender, notify.Config{
		MaxPages:    a.cfg.Notify.MaxPages,
		ChunkBudget: a.cfg.Notify.ChunkBudget,
	}, a.logger)
	if err != nil {
		return nil, fmt.Errorf("init notifier: %w", err)
	}
	return n, nil
}

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Config returns the configuration the App was built from.
func (a *App) Config() config.Config {
	return a.cfg
}

// Objects exposes the object store.
func (a *App) Objects() mirror.ObjectStore {
	return a.objects
}

// Store exposes the relational store.
func (a *App) Store() mirror.Store {
	return a.store
}

// Inline reports whether batches are consumed in-process.
func (a *App) Inline() bool {
	return a.inline
}

func (a *App) instance(workflowName, instanceID string) (*workflow.Instance, error) {
	if instanceID == "" {
		id, err := a.newID(workflowName)
		if err != nil {
			return nil, fmt.Errorf("generate instance id: %w", err)
		}
		instanceID = id
	}
	return a.engine.Instance(workflowName, instanceID), nil
}

// RunSync runs the sync workflow. An empty instanceID starts a new instance;
// an existing one resumes after its last completed step.
func (a *App) RunSync(ctx context.Context, instanceID string, in syncer.Input) (Run[syncer.Result], error) {
	inst, err := a.instance(syncer.WorkflowName, instanceID)
	if err != nil {
		return Run[syncer.Result]{}, err
	}
	res, err := a.sync.Run(ctx, in, inst)
	if err != nil {
		return Run[syncer.Result]{InstanceID: inst.InstanceID()}, fmt.Errorf("sync %s: %w", inst.InstanceID(), err)
	}
	return Run[syncer.Result]{InstanceID: inst.InstanceID(), Result: res}, nil
}

// SyncAndWait runs the sync workflow and, for the in-process queue, executes
// every spawned batch before returning. The queue is closed afterwards, so
// the App serves one such call.
func (a *App) SyncAndWait(ctx context.Context, instanceID string, in syncer.Input) (Run[syncer.Result], error) {
	if !a.inline {
		return a.RunSync(ctx, instanceID, in)
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.worker.Run(gctx)
	})
	run, err := a.RunSync(ctx, instanceID, in)
	closeErr := a.transport.Close()
	waitErr := g.Wait()
	if err != nil {
		return run, err
	}
	if closeErr != nil {
		return run, fmt.Errorf("close queue: %w", closeErr)
	}
	if waitErr != nil {
		return run, fmt.Errorf("run batches: %w", waitErr)
	}
	return run, nil
}

// RunOnThisDay runs the temporal extractor.
func (a *App) RunOnThisDay(ctx context.Context, instanceID string, in temporal.Input) (Run[temporal.ExtractorResult], error) {
	if err := in.Validate(); err != nil {
		return Run[temporal.ExtractorResult]{}, err
	}
	inst, err := a.instance(temporal.ExtractorWorkflow, instanceID)
	if err != nil {
		return Run[temporal.ExtractorResult]{}, err
	}
	res, err := a.extractor.Run(ctx, in, inst)
	if err != nil {
		return Run[temporal.ExtractorResult]{InstanceID: inst.InstanceID()}, fmt.Errorf("on-this-day %s: %w", inst.InstanceID(), err)
	}
	return Run[temporal.ExtractorResult]{InstanceID: inst.InstanceID(), Result: res}, nil
}

// RunIndex rebuilds the on-this-day index artifact.
func (a *App) RunIndex(ctx context.Context, instanceID string) (Run[temporal.IndexResult], error) {
	inst, err := a.instance(temporal.IndexWorkflow, instanceID)
	if err != nil {
		return Run[temporal.IndexResult]{}, err
	}
	res, err := a.aggregator.Run(ctx, inst)
	if err != nil {
		return Run[temporal.IndexResult]{InstanceID: inst.InstanceID()}, fmt.Errorf("index %s: %w", inst.InstanceID(), err)
	}
	return Run[temporal.IndexResult]{InstanceID: inst.InstanceID(), Result: res}, nil
}

// RunNotify sends the unclassified-pages digest.
func (a *App) RunNotify(ctx context.Context, instanceID string) (Run[notify.Result], error) {
	if a.notifier == nil {
		return Run[notify.Result]{}, ErrNotifyDisabled
	}
	inst, err := a.instance(notify.WorkflowName, instanceID)
	if err != nil {
		return Run[notify.Result]{}, err
	}
	res, err := a.notifier.Run(ctx, inst)
	if err != nil {
		return Run[notify.Result]{InstanceID: inst.InstanceID()}, fmt.Errorf("notify %s: %w", inst.InstanceID(), err)
	}
	return Run[notify.Result]{InstanceID: inst.InstanceID(), Result: res}, nil
}

// RunWorker consumes and executes batches until ctx ends.
func (a *App) RunWorker(ctx context.Context) error {
	return a.worker.Run(ctx)
}

// ScheduledJobs returns the periodic triggers for serve mode.
func (a *App) ScheduledJobs() []scheduler.Job {
	s := a.cfg.Schedule
	jobs := []scheduler.Job{
		{Name: syncer.WorkflowName, Interval: s.Sync, Run: func(ctx context.Context) error {
			_, err := a.RunSync(ctx, "", syncer.Input{})
			return err
		}},
		{Name: temporal.ExtractorWorkflow, Interval: s.Temporal, Run: func(ctx context.Context) error {
			_, err := a.RunOnThisDay(ctx, "", temporal.Input{})
			return err
		}},
		{Name: temporal.IndexWorkflow, Interval: s.Index, Run: func(ctx context.Context) error {
			_, err := a.RunIndex(ctx, "")
			return err
		}},
	}
	if a.notifier != nil {
		jobs = append(jobs, scheduler.Job{Name: notify.WorkflowName, Interval: s.Notify, Run: func(ctx context.Context) error {
			_, err := a.RunNotify(ctx, "")
			return err
		}})
	}
	return jobs
}

// Ready checks downstream connectivity.
func (a *App) Ready(ctx context.Context) error {
	for _, ping := range a.pingers {
		if err := ping(ctx); err != nil {
			return err
		}
	}
	return nil
}

// OnClose registers fn to run during Close, before providers opened earlier.
func (a *App) OnClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// Close shuts down every provider in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("error closing application services", zap.Error(err))
		return err
	}
	return nil
}
