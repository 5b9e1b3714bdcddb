// Package web runs the daemon: the HTTP API, the scheduled reconciliation
// and the connections to the account store and xray.
package web

import (
	"context"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/mhsanaei/xray-daemon/caching"
	"github.com/mhsanaei/xray-daemon/config"
	"github.com/mhsanaei/xray-daemon/database"
	"github.com/mhsanaei/xray-daemon/logger"
	"github.com/mhsanaei/xray-daemon/util/common"
	"github.com/mhsanaei/xray-daemon/web/controller"
	"github.com/mhsanaei/xray-daemon/web/job"
	"github.com/mhsanaei/xray-daemon/web/middleware"
	"github.com/mhsanaei/xray-daemon/web/service"
	"github.com/mhsanaei/xray-daemon/xray"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"
	"gorm.io/gorm"
)

const shutdownTimeout = 10 * time.Second

// Server owns every long-lived resource of the daemon. Nothing is shared
// through package state; each service gets its dependencies here.
type Server struct {
	httpServer *http.Server
	listener   net.Listener

	db      *gorm.DB
	xrayAPI *xray.Client

	accountService   *service.AccountService
	statsService     *service.StatsService
	reconcileService *service.ReconcileService

	cron *cron.Cron

	ctx    context.Context
	cancel context.CancelFunc
}

// NewServer creates a server with a cancellable context.
func NewServer() *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{ctx: ctx, cancel: cancel}
}

// Open connects the store and the xray API and builds the services. It is
// enough for one-shot commands; Start calls it itself.
func (s *Server) Open() (err error) {
	if s.db != nil {
		return nil
	}
	defer func() {
		if err != nil {
			_ = s.Stop()
		}
	}()

	s.db, err = database.Open(config.GetDBPath())
	if err != nil {
		return common.NewErrorf("open database %s: %v", config.GetDBPath(), err)
	}
	s.xrayAPI, err = xray.Dial(config.GetXrayAPIAddress(), config.GetXrayTimeout())
	if err != nil {
		return err
	}

	s.accountService = service.NewAccountService(s.db, s.xrayAPI)
	s.statsService = service.NewStatsService(s.accountService, s.xrayAPI, caching.NewCache(config.GetStatsCacheTTL()))
	s.reconcileService = service.NewReconcileService(s.accountService, s.xrayAPI, service.ReconcileConfig{
		ResetPeriod: config.GetResetTrafficPeriod(),
		Workers:     config.GetReconcileWorkers(),
	})
	return nil
}

func (s *Server) initRouter() *gin.Engine {
	if config.IsDebug() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.DefaultWriter = io.Discard
		gin.DefaultErrorWriter = io.Discard
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), middleware.RequestLogger())
	engine.Use(gzip.Gzip(gzip.DefaultCompression))

	v1 := engine.Group("/v1")
	v1.GET("/health", controller.Health)

	api := v1.Group("", middleware.APIKeyAuth(config.GetAPIKey()))
	controller.NewAccountController(api.Group("/users"), s.accountService)
	controller.NewServerController(s.ctx, api, s.statsService, s.reconcileService)

	engine.NoRoute(func(c *gin.Context) {
		c.AbortWithStatus(http.StatusNotFound)
	})
	return engine
}

// startTask provisions the stored active accounts and schedules the
// reconciliation job.
func (s *Server) startTask() error {
	if _, err := s.accountService.ImportAccounts(s.ctx); err != nil {
		logger.Warning("import accounts failed:", err)
	}

	schedule := config.GetReconcileCron()
	reconcileJob := cron.NewChain(cron.SkipIfStillRunning(job.CronLogger{})).
		Then(job.NewReconcileJob(s.ctx, s.reconcileService))
	if _, err := s.cron.AddJob(schedule, reconcileJob); err != nil {
		return common.NewErrorf("invalid reconcile schedule %q: %v", schedule, err)
	}
	logger.Infof("reconcile scheduled %s with %d workers", schedule, config.GetReconcileWorkers())
	return nil
}

// Start opens the daemon's resources, serves the API and starts the scheduler.
func (s *Server) Start() (err error) {
	defer func() {
		if err != nil {
			_ = s.Stop()
		}
	}()

	if config.GetAPIKey() == "" {
		return common.NewError("XD_API_KEY is not set")
	}
	if err = s.Open(); err != nil {
		return err
	}

	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	s.cron = cron.New(cron.WithLocation(time.UTC), cron.WithParser(parser), cron.WithLogger(job.CronLogger{}))
	engine := s.initRouter()

	listenAddr := net.JoinHostPort(config.GetListen(), strconv.Itoa(config.GetPort()))
	listener, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return err
	}
	logger.Info("API server running HTTP on", listener.Addr())

	s.listener = listener
	s.httpServer = &http.Server{
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			logger.Error("API server stopped:", err)
		}
	}()

	if err = s.startTask(); err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop shuts the server down. A pass in flight is cancelled and waited for
// before the store closes; accounts it had not finished keep their stored state.
func (s *Server) Stop() error {
	s.cancel()
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	if s.reconcileService != nil {
		s.reconcileService.Wait()
	}

	var errs []error
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		errs = append(errs, s.httpServer.Shutdown(ctx))
		cancel()
	} else if s.listener != nil {
		errs = append(errs, s.listener.Close())
	}
	if s.xrayAPI != nil {
		errs = append(errs, s.xrayAPI.Close())
	}
	if s.db != nil {
		errs = append(errs, database.Close(s.db))
		s.db = nil
	}
	return common.Combine(errs...)
}

func (s *Server) GetCtx() context.Context { return s.ctx }

// Addr returns the address the API listens on, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) GetCron() *cron.Cron { return s.cron }

func (s *Server) AccountService() *service.AccountService { return s.accountService }

func (s *Server) ReconcileService() *service.ReconcileService { return s.reconcileService }
