package http

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/turtacn/taskgate/internal/config"
	"github.com/turtacn/taskgate/internal/infrastructure/monitoring"
	"github.com/turtacn/taskgate/internal/interfaces/http/handlers"
	"github.com/turtacn/taskgate/internal/interfaces/http/middleware"
	"github.com/turtacn/taskgate/pkg/constants"
	"github.com/turtacn/taskgate/pkg/logger"
)

// RouterDeps collects everything the HTTP front end is wired to.
type RouterDeps struct {
	Config        *config.Config
	Logger        logger.Logger
	TaskHandler   *handlers.TaskHandler
	AdminHandler  *handlers.AdminHandler
	HealthHandler *handlers.HealthHandler
	// Redis backs the idempotency guard; nil disables it.
	Redis    redis.UniversalClient
	Metrics  *monitoring.Metrics
	Gatherer prometheus.Gatherer
	Tracer   trace.Tracer
}

// Router HTTP 路由器
type Router struct {
	deps   RouterDeps
	engine *gin.Engine
	once   sync.Once
	server *http.Server
}

// NewRouter 创建路由器
func NewRouter(deps RouterDeps) *Router {
	if deps.Config.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	if deps.Tracer == nil {
		deps.Tracer = otel.Tracer(constants.ServiceName)
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	r := &Router{deps: deps, engine: gin.New()}
	cfg := deps.Config.Server
	r.server = &http.Server{
		Addr:           cfg.Addr(),
		Handler:        r.engine,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		IdleTimeout:    cfg.IdleTimeout,
		MaxHeaderBytes: 1 << 20, // 1MB
	}
	return r
}

// SetupRoutes 设置路由
func (r *Router) SetupRoutes() {
	cfg := r.deps.Config
	log := r.deps.Logger

	// 全局中间件
	r.engine.Use(gin.Recovery())
	r.engine.Use(middleware.RequestID())
	r.engine.Use(middleware.Observability(r.deps.Tracer, r.deps.Metrics))
	r.engine.Use(middleware.AccessLog(log))

	corsConfig := cors.Config{
		AllowOrigins:     cfg.Server.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", constants.HeaderRequestID, constants.HeaderIdempotencyKey},
		ExposeHeaders:    []string{constants.HeaderRequestID, constants.HeaderRetryAfter, "X-RateLimit-Remaining"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(corsConfig.AllowOrigins) == 0 || slices.Contains(corsConfig.AllowOrigins, "*") {
		corsConfig.AllowOrigins = nil
		corsConfig.AllowCredentials = false
		corsConfig.AllowAllOrigins = true
	}
	r.engine.Use(cors.New(corsConfig))

	// 健康检查路由（不需要认证）
	r.engine.GET("/", r.deps.HealthHandler.Root)
	r.engine.GET("/health", r.deps.HealthHandler.LivenessCheck)
	r.engine.GET("/ready", r.deps.HealthHandler.ReadinessCheck)

	r.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(r.deps.Gatherer, promhttp.HandlerOpts{})))

	if cfg.Server.EnablePprof {
		pprof.Register(r.engine)
	}

	task := r.engine.Group("/task")
	task.Use(middleware.GlobalThrottle(&cfg.Server, log))
	{
		submit := []gin.HandlerFunc{}
		if r.deps.Redis != nil {
			submit = append(submit, middleware.Idempotency(r.deps.Redis, &cfg.Idempotency, log))
		}
		submit = append(submit, r.deps.TaskHandler.SubmitTask)
		task.POST("", submit...)
		task.GET("/stats/", r.deps.TaskHandler.GetStats)
		task.GET("/stats/:user_id", r.deps.TaskHandler.GetStats)
	}

	if cfg.Admin.Enabled && r.deps.AdminHandler != nil {
		admin := r.engine.Group("/admin")
		admin.Use(middleware.RequireAdmin(&cfg.Admin, log))
		{
			admin.GET("/ratelimit/:user_id", r.deps.AdminHandler.GetUsage)
			admin.DELETE("/ratelimit/:user_id", r.deps.AdminHandler.ResetLimit)
			admin.POST("/drain/:user_id", r.deps.AdminHandler.ResumeDrain)
		}
	}

	// 404 处理
	r.engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	})
}

// Handler returns the configured engine, setting routes up on first use.
func (r *Router) Handler() http.Handler {
	r.once.Do(r.SetupRoutes)
	return r.engine
}

// Start 启动 HTTP 服务器，阻塞直到 Shutdown 被调用
func (r *Router) Start() error {
	r.Handler()
	r.deps.Logger.Info(context.Background(), "Starting HTTP server", logger.String("address", r.server.Addr))
	if err := r.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown 优雅关闭服务器
func (r *Router) Shutdown(ctx context.Context) error {
	r.deps.Logger.Info(ctx, "Shutting down HTTP server")
	return r.server.Shutdown(ctx)
}
