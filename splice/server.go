package splice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/carlmjohnson/versioninfo"
	"github.com/go-chi/chi/v5"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"splice.sh/core/log"
	"splice.sh/core/notifier"
	"splice.sh/core/splice/artifacts"
	"splice.sh/core/splice/config"
	"splice.sh/core/splice/db"
	"splice.sh/core/splice/engine"
	"splice.sh/core/splice/generator"
	"splice.sh/core/splice/queue"
	"splice.sh/core/telemetry"
)

// GeneratorFunc builds a generator for one request. Per-request
// overrides arrive in opts and take precedence over configuration.
type GeneratorFunc func(ctx context.Context, opts generator.Options) (generator.Generator, error)

type Splice struct {
	db    *db.DB
	l     *slog.Logger
	n     *notifier.Notifier
	cfg   *config.Config
	store *artifacts.Store
	exec  *engine.Executor
	jq    *queue.Queue
	gen   GeneratorFunc
	t     *telemetry.Telemetry
}

type Opt func(*options)

type options struct {
	runner    engine.ToolRunner
	gen       GeneratorFunc
	telemetry *telemetry.Telemetry
}

func WithRunner(r engine.ToolRunner) Opt {
	return func(o *options) {
		o.runner = r
	}
}

func WithGenerator(g GeneratorFunc) Opt {
	return func(o *options) {
		o.gen = g
	}
}

func WithTelemetry(t *telemetry.Telemetry) Opt {
	return func(o *options) {
		o.telemetry = t
	}
}

func Command() *cli.Command {
	return &cli.Command{
		Name:   "server",
		Usage:  "run the splice media pipeline server",
		Action: Run,
		Description: `
Environment variables:
	SPLICE_SERVER_LISTEN_ADDR           (default: 0.0.0.0:6556)
	SPLICE_SERVER_DB_PATH               (default: splice.db)
	SPLICE_SERVER_DATA_DIR              (default: data)
	SPLICE_SERVER_DEV                   (default: false)
	SPLICE_SERVER_TELEMETRY             (default: false)
	SPLICE_SERVER_MAX_UPLOAD_BYTES      (default: 536870912)
	SPLICE_PIPELINES_STEP_TIMEOUT       (default: 2m)
	SPLICE_PIPELINES_LOG_DIR            (default: data/logs)
	SPLICE_PIPELINES_QUEUE_SIZE         (default: 32)
	SPLICE_PIPELINES_WORKERS            (default: 2)
	SPLICE_PIPELINES_ARTIFACT_CAPACITY  (default: 10)
	SPLICE_GENERATOR_API_KEY
	SPLICE_GENERATOR_BASE_URL           (default: https://api.openai.com/v1)
	SPLICE_GENERATOR_MODEL              (default: gpt-4o-mini)
`,
	}
}

func Run(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.Server.Dev {
		log.Debug = true
		ctx = log.IntoContext(ctx, log.New("splice"))
	}
	logger := log.FromContext(ctx)

	d, err := db.Make(cfg.Server.DBPath)
	if err != nil {
		return fmt.Errorf("failed to setup db: %w", err)
	}
	defer d.Close()

	var opts []Opt
	if cfg.Server.Telemetry {
		t, err := telemetry.NewTelemetry(ctx, "splice", versioninfo.Short(), cfg.Server.Dev)
		if err != nil {
			return fmt.Errorf("failed to setup telemetry: %w", err)
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := t.Shutdown(sctx); err != nil {
				logger.Error("failed to shut down telemetry", "error", err)
			}
		}()
		opts = append(opts, WithTelemetry(t))
	}

	s, err := New(ctx, cfg, d, opts...)
	if err != nil {
		return err
	}

	// starts the pipeline workers in the background
	s.jq.Start()
	defer s.jq.Stop()

	srv := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: s.Router(),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting splice server", "address", cfg.Server.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	return g.Wait()
}

// New wires a server from configuration without starting anything.
func New(ctx context.Context, cfg *config.Config, d *db.DB, opts ...Opt) (*Splice, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	logger := log.FromContext(ctx)
	n := notifier.New()

	store, err := artifacts.NewStore(ctx,
		filepath.Join(cfg.Server.DataDir, "artifacts"), d,
		artifacts.WithCapacity(cfg.Pipelines.ArtifactCapacity),
	)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.Pipelines.LogDir, 0755); err != nil {
		return nil, fmt.Errorf("creating log dir: %w", err)
	}

	if o.runner == nil {
		o.runner = engine.NewRunner(ctx)
	}
	execOpts := []engine.ExecutorOpt{
		engine.WithStepTimeout(cfg.Pipelines.Timeout(engine.DefaultTimeout)),
	}
	if o.telemetry != nil {
		execOpts = append(execOpts, engine.WithObserver(o.telemetry))
	}

	if o.gen == nil {
		base := generator.Options{
			APIKey:  cfg.Generator.ApiKey,
			BaseURL: cfg.Generator.BaseURL,
			Model:   cfg.Generator.Model,
		}
		o.gen = func(ctx context.Context, override generator.Options) (generator.Generator, error) {
			return generator.NewOpenAI(ctx, base.Merge(override))
		}
	}

	return &Splice{
		db:    d,
		l:     logger,
		n:     &n,
		cfg:   cfg,
		store: store,
		exec:  engine.NewExecutor(ctx, o.runner, execOpts...),
		jq:    queue.NewQueue(cfg.Pipelines.QueueSize, cfg.Pipelines.Workers),
		gen:   o.gen,
		t:     o.telemetry,
	}, nil
}

func (s *Splice) Router() http.Handler {
	mux := chi.NewRouter()

	mux.Use(s.RequestLogger)
	if s.t != nil {
		mux.Use(s.t.RequestInFlight())
		mux.Use(s.t.RequestDuration())
	}

	mux.Post("/process", s.Process)
	mux.Post("/validate", s.Validate)
	mux.Get("/session", s.Session)
	mux.Post("/session", s.SessionAction)
	mux.Get("/artifacts/{id}", s.Artifact)
	mux.Get("/runs/{id}", s.GetRun)
	mux.Get("/logs/{id}", s.Logs)
	mux.Get("/logs/{id}/stream", s.StreamLogs)
	mux.HandleFunc("/events", s.Events)

	if s.t != nil {
		return s.t.Handler(mux, "splice")
	}
	return mux
}
