// =============================================================================
// FatturaPA Extractor - Web Interface
// =============================================================================
//
// ROUTES:
//   GET  /                           upload page
//   GET  /health                     liveness check
//   POST /api/v1/extract             multipart "files" -> JSON result
//   POST /api/v1/extract/download    multipart "files" -> attachment
//                                    (?format=json|csv|xlsx)
//
// Every request runs its own batch. The request context cancels the batch
// when the client goes away.
//
// =============================================================================

package server

import (
	"context"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ginjaninja78/fatturapa-extractor/internal/batch"
	"github.com/ginjaninja78/fatturapa-extractor/internal/config"
	"github.com/ginjaninja78/fatturapa-extractor/internal/logging"
)

// ShutdownTimeout bounds the graceful shutdown.
const ShutdownTimeout = 10 * time.Second

// Server is the HTTP front-end of the extractor.
type Server struct {
	cfg        *config.Config
	pipeline   batch.Options
	router     *gin.Engine
	httpServer *http.Server
	log        *zap.SugaredLogger
}

// New builds a server from a validated configuration.
func New(cfg *config.Config) (*Server, error) {
	pipeline, err := cfg.BatchOptions()
	if err != nil {
		return nil, err
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.MaxMultipartMemory = 8 << 20

	s := &Server{
		cfg:      cfg,
		pipeline: pipeline,
		router:   router,
		log:      logging.Component("server"),
	}
	router.Use(gin.Recovery())
	router.Use(RequestLogger(s.log))

	s.httpServer = &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	s.setupRoutes()
	return s, nil
}

// Router returns the gin engine, mainly for tests.
func (s *Server) Router() *gin.Engine { return s.router }

func (s *Server) setupRoutes() {
	s.router.GET("/", s.index)
	s.router.GET("/health", s.health)

	api := s.router.Group("/api/v1", RateLimit(s.cfg.Server.ExtractsPerMinute))
	api.POST("/extract", s.extract)
	api.POST("/extract/download", s.download)
}

// Run serves until ctx ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Infow("Server listening", logging.FieldAddress, s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return errors.Wrap(err, "start server")
		}
		return nil
	case <-ctx.Done():
	}

	s.log.Infow("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "server forced to shutdown")
	}
	s.log.Infow("Server exited gracefully")
	return nil
}
