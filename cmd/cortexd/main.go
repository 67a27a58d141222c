package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"github.com/ollama/ollama/api"
	"github.com/rs/zerolog"

	"github.com/cortexmem/cortex/config"
	"github.com/cortexmem/cortex/memory"
	"github.com/cortexmem/cortex/memory/backend"
	"github.com/cortexmem/cortex/memory/backend/inmemorybackend"
	"github.com/cortexmem/cortex/memory/backend/pgbackend"
	"github.com/cortexmem/cortex/memory/backend/sqlitebackend"
	"github.com/cortexmem/cortex/memory/batch"
	"github.com/cortexmem/cortex/memory/embed"
	"github.com/cortexmem/cortex/memory/embed/ollamaembed"
	"github.com/cortexmem/cortex/memory/embed/openaiembed"
	"github.com/cortexmem/cortex/memory/index"
	"github.com/cortexmem/cortex/memory/link"
	cortexlogger "github.com/cortexmem/cortex/logger"
	"github.com/cortexmem/cortex/migrations"
	"github.com/cortexmem/cortex/runtime"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath     = flag.String("config", config.GetConfigPath(), "Path to cortexd config file")
		logFile        = flag.String("logfile", "", "Path to log file. If not set, logs to stdout")
		pretty         = flag.Bool("pretty", false, "Use pretty console output (only valid when logfile is not set)")
		migrationsPath = flag.String("migrations", "./migrations/sql", "Path to the migrations directory, containing sqlite/ and postgres/ subdirectories")
	)
	flag.Parse()

	if *logFile != "" && *pretty {
		return fmt.Errorf("--logfile and --pretty are mutually exclusive")
	}

	logger, err := cortexlogger.InitWithOptions(*logFile, *pretty)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger.Info().Str("config", *configPath).Msg("cortexd starting")

	engine, ix, err := buildEngine(cfg, *migrationsPath, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var schedIndexer *index.Indexer
	if cfg.Indexer.Mode == "durable" {
		go ix.Run(ctx)
		schedIndexer = ix
		logger.Info().Msg("durable indexer worker pool started")
		if err := ix.RetrySweep(ctx); err != nil {
			logger.Warn().Err(err).Msg("startup indexer retry sweep failed")
		}
	}

	var topics []runtime.Topic
	for _, t := range cfg.Reflect.Topics {
		topics = append(topics, runtime.Topic{
			Actx:  memory.AccessContext{AgentID: t.AgentID, Scopes: []memory.Scope{memory.ScopePrivate, memory.ScopeShared, memory.ScopeGlobal}},
			Topic: t.Topic,
		})
	}
	sched := runtime.NewScheduler(engine, runtime.StaticTopicSource{Topics: topics}, schedIndexer, logger)
	if len(topics) > 0 {
		if err := sched.Start(ctx, cfg.Reflect.Schedule); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	} else {
		logger.Info().Msg("no reflect topics configured, scheduler idle")
	}
	if schedIndexer != nil && cfg.Indexer.RetrySweepCron != "" {
		if err := sched.StartRetrySweep(ctx, cfg.Indexer.RetrySweepCron); err != nil {
			return fmt.Errorf("failed to start indexer retry sweep: %w", err)
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	sched.Stop()
	cancel()
	logger.Info().Msg("cortexd shutdown complete")
	return nil
}

// buildEngine wires the backend, embedding adapter, batcher, indexer,
// linker and service layer into a single Engine facade per the
// loaded configuration.
func buildEngine(cfg *config.Config, migrationsPath string, logger zerolog.Logger) (*memory.Engine, *index.Indexer, error) {
	dims, err := embed.DimensionsFor(cfg.Embedding.Model, cfg.Embedding.Dimensions)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to resolve embedding dimensions: %w", err)
	}

	var embedder embed.Embedder
	switch cfg.Embedding.Provider {
	case "openai":
		embedder, err = openaiembed.New(cfg.Embedding.APIKey, cfg.Embedding.BaseURL, cfg.Embedding.Model, cfg.Embedding.Dimensions, cfg.Embedding.HTTPRetries)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create openai embedder: %w", err)
		}
	case "ollama", "":
		base, parseErr := url.Parse(cfg.Embedding.BaseURL)
		if parseErr != nil {
			return nil, nil, fmt.Errorf("invalid ollama base url %q: %w", cfg.Embedding.BaseURL, parseErr)
		}
		client := api.NewClient(base, &http.Client{Timeout: timeoutFromMillis(cfg.Embedding.HTTPTimeoutMS)})
		embedder, err = ollamaembed.New(client, cfg.Embedding.Model, cfg.Embedding.Dimensions, cfg.Embedding.HTTPRetries, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create ollama embedder: %w", err)
		}
	default:
		return nil, nil, fmt.Errorf("unknown embedding provider %q", cfg.Embedding.Provider)
	}

	batcher := batch.New(embedder, batch.Config{
		BatchSize:    cfg.Batcher.Size,
		BatchTimeout: timeoutFromMillis(cfg.Batcher.TimeoutMS),
	}, logger)
	go batcher.Run(context.Background())

	be, err := buildBackend(cfg, dims, migrationsPath, logger)
	if err != nil {
		return nil, nil, err
	}

	mode := index.Ephemeral
	if cfg.Indexer.Mode == "durable" {
		mode = index.Durable
	}
	systemActx := memory.AccessContext{
		AgentID: "system",
		Role:    memory.RoleSystem,
		Scopes:  []memory.Scope{memory.ScopePrivate, memory.ScopeShared, memory.ScopeGlobal},
	}
	ix := index.New(batcher, be, mode, cfg.Indexer.Workers, systemActx, logger)

	var linker *link.Linker
	if !cfg.Linker.Disabled {
		linker = link.New(be, link.Config{
			Threshold:     cfg.Linker.Threshold,
			MaxCandidates: cfg.Linker.MaxCandidates,
			MaxLinks:      cfg.Linker.MaxLinks,
		}, logger)
	}

	// NewStorage registers the post-embed auto-link callback on ix itself.
	storage := memory.NewStorage(be, ix, linker, logger)
	graph := memory.NewGraph(be, logger)
	retrieval := memory.NewRetrieval(be, graph, batcher, logger)

	var summarizer memory.Summarizer
	if cfg.Reflect.AnthropicAPIKey != "" {
		summarizer, err = memory.NewAnthropicSummarizer(cfg.Reflect.AnthropicAPIKey, cfg.Reflect.Model, cfg.Reflect.MaxTokens, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create reflect summarizer: %w", err)
		}
	}
	// Reflections go through the storage write path so they get embedded
	// and auto-linked like any other memory.
	reflector := memory.NewReflector(retrieval, graph, storage, summarizer, logger)

	engine := memory.NewEngine(be, storage, retrieval, graph, reflector, logger)
	return engine, ix, nil
}

func buildBackend(cfg *config.Config, dims int, migrationsPath string, logger zerolog.Logger) (backend.Backend, error) {
	switch cfg.Backend.Kind {
	case "sqlite":
		migrationDB, err := sql.Open("sqlite3", cfg.Backend.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite database: %w", err)
		}
		migErr := migrations.RunMigrations(migrationDB, migrations.SQLite, filepath.Join(migrationsPath, "sqlite"), logger)
		_ = migrationDB.Close()
		if migErr != nil {
			return nil, fmt.Errorf("failed to run sqlite migrations: %w", migErr)
		}
		return sqlitebackend.Open(cfg.Backend.DSN, logger)
	case "postgres":
		pool, err := pgxpool.New(context.Background(), cfg.Backend.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres pool: %w", err)
		}
		db, err := sql.Open("pgx", cfg.Backend.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres database for migrations: %w", err)
		}
		if err := migrations.RunMigrations(db, migrations.Postgres, filepath.Join(migrationsPath, "postgres"), logger); err != nil {
			return nil, fmt.Errorf("failed to run postgres migrations: %w", err)
		}
		_ = db.Close()
		return pgbackend.New(pool, dims, logger), nil
	case "memory", "":
		return inmemorybackend.New(logger), nil
	default:
		return nil, fmt.Errorf("unknown backend kind %q", cfg.Backend.Kind)
	}
}

func timeoutFromMillis(ms int) time.Duration {
	if ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}
