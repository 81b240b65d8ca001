package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/raysh454/perfsandbox/internal/artifacts"
	"github.com/raysh454/perfsandbox/internal/logging"
	"github.com/raysh454/perfsandbox/internal/report"
	"github.com/raysh454/perfsandbox/internal/runners"
	"github.com/raysh454/perfsandbox/internal/share"
	"github.com/raysh454/perfsandbox/internal/telemetry"
	"github.com/raysh454/perfsandbox/internal/tools"
	"github.com/raysh454/perfsandbox/internal/webclient"
)

// Application is the global runtime state container. It holds config and
// the services shared by the HTTP server and the CLI. Pass it around rather
// than using package-level variables.
type Application struct {
	Config *Config
	Logger logging.Logger

	Catalog     *tools.Catalog
	Artifacts   *artifacts.Store
	Share       *share.Service
	Coordinator *Coordinator

	http   *webclient.NetHTTPClient
	db     *sql.DB
	ctx    context.Context
	cancel context.CancelFunc
}

// Build wires every component from cfg. The artifact root is purged: runs do
// not survive a restart.
func Build(cfg *Config, logger logging.Logger) (*Application, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	catalog := tools.DefaultCatalog()
	if cfg.CatalogPath != "" {
		c, err := tools.LoadCatalogFile(cfg.CatalogPath)
		if err != nil {
			return nil, err
		}
		catalog = c
	}

	registry, err := tools.NewRegistry(catalog, runners.Default(cfg.RunnersCfg, catalog))
	if err != nil {
		return nil, fmt.Errorf("build registry: %w", err)
	}

	artCfg := cfg.ArtifactsCfg
	if artCfg.PublicBaseURL == "" {
		artCfg.PublicBaseURL = cfg.PublicBaseURL
	}
	store, err := artifacts.New(artCfg, logger)
	if err != nil {
		return nil, err
	}
	if err := store.Purge(); err != nil {
		return nil, err
	}

	httpClient, err := webclient.NewNetHTTPClient(cfg.WebClientCfg, logger, nil)
	if err != nil {
		return nil, fmt.Errorf("build http client: %w", err)
	}

	db, svc, err := buildShare(cfg, httpClient, logger)
	if err != nil {
		_ = httpClient.Close()
		return nil, err
	}

	compiler, err := report.NewCompiler(store, report.NewChromeRenderer(cfg.ReportTimeout), logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	coord, err := NewCoordinator(cfg, Deps{
		Registry:  registry,
		Store:     store,
		Launcher:  webclient.NewChromeLauncher(cfg.WebClientCfg, logger),
		HTTP:      httpClient,
		Compiler:  compiler,
		Publisher: svc,
		Telemetry: telemetry.New(),
		Logger:    logger,
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Application{
		Config:      cfg,
		Logger:      logger,
		Catalog:     catalog,
		Artifacts:   store,
		Share:       svc,
		Coordinator: coord,
		http:        httpClient,
		db:          db,
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

func buildShare(cfg *Config, client webclient.WebClient, logger logging.Logger) (*sql.DB, *share.Service, error) {
	path := cfg.ShareDBPath
	if path == "" {
		path = ":memory:"
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create share db dir: %w", err)
		}
	}
	db, err := share.OpenDB(path)
	if err != nil {
		return nil, nil, err
	}
	st, err := share.NewStore(db)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}

	var shortener share.Shortener
	if cfg.BitlyToken != "" {
		b, err := share.NewBitlyShortener(cfg.BitlyEndpoint, cfg.BitlyToken, client)
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		shortener = b
	}

	svc, err := share.NewService(st, shortener, cfg.PublicBaseURL, logger)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return db, svc, nil
}

// Start begins background work: the session janitor.
func (a *Application) Start() error {
	if a == nil {
		return errors.New("application is nil")
	}
	a.Logger.Info("application starting",
		logging.F("listen_addr", a.Config.ListenAddr),
		logging.F("artifacts", a.Artifacts.Root()))
	go a.Coordinator.RunJanitor(a.ctx)
	return nil
}

// Shutdown waits (bounded) for in-flight runs, then releases resources.
func (a *Application) Shutdown(ctx context.Context) error {
	if a == nil {
		return errors.New("application is nil")
	}
	a.Logger.Info("application shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	if err := a.Coordinator.Shutdown(shutdownCtx); err != nil {
		a.Logger.Info("coordinator shutdown returned error", logging.Err(err))
	}
	a.cancel()

	var errs []error
	if a.http != nil {
		errs = append(errs, a.http.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	return errors.Join(errs...)
}
