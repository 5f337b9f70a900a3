package serve

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/chirino/cartography/internal/config"
	"github.com/chirino/cartography/internal/plugin/route/aliases"
	"github.com/chirino/cartography/internal/plugin/route/relationships"
	"github.com/chirino/cartography/internal/plugin/route/search"
	"github.com/chirino/cartography/internal/plugin/route/situations"
	routesystem "github.com/chirino/cartography/internal/plugin/route/system"
	registryroute "github.com/chirino/cartography/internal/registry/route"
	"github.com/chirino/cartography/internal/security"
	"github.com/chirino/cartography/internal/service"
	"github.com/gin-gonic/gin"
)

// Server holds the running server and its subsystems.
type Server struct {
	Config  *config.Config
	Stack   *Stack
	Router  *gin.Engine
	Running *RunningServer
	cancel  context.CancelFunc
}

// Shutdown stops accepting requests, stops the index sync and closes the backends.
func (s *Server) Shutdown(ctx context.Context) error {
	routesystem.MarkStopping()
	err := s.Running.Close(ctx)
	s.cancel()
	if cerr := s.Stack.Close(); err == nil {
		err = cerr
	}
	return err
}

// NewRouter builds the gin engine with every route mounted.
func NewRouter(stack *Stack, sync *service.IndexSync) (*gin.Engine, error) {
	cfg := stack.Config
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(security.AccessLogMiddleware(registryroute.ProbePaths()...))
	router.Use(security.MetricsMiddleware())
	router.Use(maxBodySizeMiddleware(cfg.MaxBodySize))

	for _, loader := range registryroute.Loaders(registryroute.KindAPI) {
		if err := loader(router); err != nil {
			return nil, fmt.Errorf("failed to load routes: %w", err)
		}
	}
	situations.MountRoutes(router, stack.Engine)
	relationships.MountRoutes(router, stack.Engine)
	aliases.MountRoutes(router, stack.Engine)
	search.MountRoutes(router, stack.Index, sync, cfg.SearchCollection)

	for _, loader := range registryroute.Loaders(registryroute.KindProbe) {
		if err := loader(router); err != nil {
			return nil, fmt.Errorf("failed to load probe routes: %w", err)
		}
	}
	return router, nil
}

// StartServer initializes all subsystems and starts HTTP.
// Use cfg.Listener.Port=0 for a random port. Actual port: Server.Running.Port.
func StartServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	log.Info("Starting cartography",
		"httpPort", cfg.Listener.Port,
		"db", cfg.DatastoreType,
		"search", cfg.SearchType,
		"notify", cfg.NotifyType,
	)

	// Initialize Prometheus metrics with configured constant labels.
	metricsLabels, err := security.ParseMetricsLabels(cfg.MetricsLabels)
	if err != nil {
		return nil, fmt.Errorf("invalid --metrics-labels: %w", err)
	}
	security.InitMetrics(metricsLabels)

	stack, err := Open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	syncCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sync := service.NewIndexSync(stack.Engine, stack.Notifier, stack.Index, cfg.SearchCollection)
	go sync.Start(syncCtx)

	gin.SetMode(gin.ReleaseMode)
	router, err := NewRouter(stack, sync)
	if err != nil {
		cancel()
		_ = stack.Close()
		return nil, err
	}

	running, err := startHTTP(cfg.Listener, router)
	if err != nil {
		cancel()
		_ = stack.Close()
		return nil, err
	}
	log.Info("Server listening", "port", running.Port)

	routesystem.MarkReady()
	return &Server{
		Config:  cfg,
		Stack:   stack,
		Router:  router,
		Running: running,
		cancel:  cancel,
	}, nil
}
