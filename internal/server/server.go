package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/postloom/postloom/internal/account"
	accountdomain "github.com/postloom/postloom/internal/account/domain"
	"github.com/postloom/postloom/internal/account/session"
	"github.com/postloom/postloom/internal/config"
	"github.com/postloom/postloom/internal/connection"
	connectiondomain "github.com/postloom/postloom/internal/connection/domain"
	"github.com/postloom/postloom/internal/content"
	contentdomain "github.com/postloom/postloom/internal/content/domain"
	"github.com/postloom/postloom/internal/credits"
	creditsdomain "github.com/postloom/postloom/internal/credits/domain"
	"github.com/postloom/postloom/internal/generation"
	generationdomain "github.com/postloom/postloom/internal/generation/domain"
	"github.com/postloom/postloom/internal/media"
	"github.com/postloom/postloom/internal/notification"
	notificationdomain "github.com/postloom/postloom/internal/notification/domain"
	"github.com/postloom/postloom/internal/observability"
	obsmiddleware "github.com/postloom/postloom/internal/observability/logger"
	obsmetrics "github.com/postloom/postloom/internal/observability/metrics"
	obstracing "github.com/postloom/postloom/internal/observability/tracing"
	"github.com/postloom/postloom/internal/publisher"
	"github.com/postloom/postloom/internal/purchase"
	purchasedomain "github.com/postloom/postloom/internal/purchase/domain"
	"github.com/postloom/postloom/internal/ratelimit"
	"github.com/postloom/postloom/internal/sweep"
	"github.com/postloom/postloom/internal/webhook"
	webhookdomain "github.com/postloom/postloom/internal/webhook/domain"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	account.Module,
	credits.Module,
	content.Module,
	connection.Module,
	media.Module,
	publisher.Module,
	generation.Module,
	notification.Module,
	webhook.Module,
	purchase.Module,
	ratelimit.Module,
	sweep.Module,
	fx.Provide(NewServer),
	fx.Invoke(ensureServer),
	fx.Invoke(run),
)

func NewEngine(cfg config.Config, obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware(!cfg.IsProduction()))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(cfg config.Config, obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(cfg, obsCfg, httpMetrics)
}

func ensureServer(_ *Server) {}

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine          *gin.Engine
	cfg             config.Config
	accounts        accountdomain.Service
	sessions        *session.Manager
	creditsSvc      creditsdomain.Service
	contentSvc      contentdomain.Service
	connectionSvc   connectiondomain.Service
	generationSvc   generationdomain.Service
	notificationSvc notificationdomain.Service
	webhookSvc      webhookdomain.Service
	purchaseSvc     purchasedomain.Service
	storage         *media.Storage
	sweeper         *sweep.Sweeper
	limiter         *ratelimit.GenerationLimiter
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	Accounts        accountdomain.Service
	Sessions        *session.Manager
	CreditsSvc      creditsdomain.Service
	ContentSvc      contentdomain.Service
	ConnectionSvc   connectiondomain.Service
	GenerationSvc   generationdomain.Service
	NotificationSvc notificationdomain.Service
	WebhookSvc      webhookdomain.Service
	PurchaseSvc     purchasedomain.Service
	Storage         *media.Storage
	Sweeper         *sweep.Sweeper
	Limiter         *ratelimit.GenerationLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		accounts:        p.Accounts,
		sessions:        p.Sessions,
		creditsSvc:      p.CreditsSvc,
		contentSvc:      p.ContentSvc,
		connectionSvc:   p.ConnectionSvc,
		generationSvc:   p.GenerationSvc,
		notificationSvc: p.NotificationSvc,
		webhookSvc:      p.WebhookSvc,
		purchaseSvc:     p.PurchaseSvc,
		storage:         p.Storage,
		sweeper:         p.Sweeper,
		limiter:         p.Limiter,
	}

	svc.registerAuthRoutes()
	svc.registerAPIRoutes()
	svc.registerWebhookRoutes()
	svc.registerInternalRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAuthRoutes() {
	auth := s.engine.Group("/auth")

	auth.POST("/signup", s.Signup)
	auth.POST("/login", s.Login)
	auth.POST("/logout", s.Logout)
	auth.GET("/me", s.AuthRequired(), s.Me)
	auth.PATCH("/profile", s.AuthRequired(), s.UpdateProfile)
	auth.POST("/change-password", s.AuthRequired(), s.ChangePassword)
	auth.POST("/disable", s.AuthRequired(), s.DisableAccount)
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api", s.AuthRequired())

	// -------- Credits --------
	api.GET("/credits/balance", s.GetBalance)
	api.GET("/credits/history", s.ListCreditHistory)
	api.GET("/credits/packs", s.ListCreditPacks)
	api.POST("/credits/checkout", s.CreateCheckout)

	// -------- Content --------
	api.GET("/content", s.ListContent)
	api.POST("/content", s.CreateContent)
	api.GET("/content/:id", s.GetContent)
	api.PATCH("/content/:id", s.UpdateContent)
	api.DELETE("/content/:id", s.DeleteContent)
	api.POST("/content/:id/schedule", s.ScheduleContent)
	api.POST("/content/:id/schedule/cancel", s.CancelSchedule)

	// -------- Generation --------
	api.POST("/generations", s.GenerationRateLimit(), s.Generate)
	api.POST("/content/:id/regenerate", s.GenerationRateLimit(), s.RetryGeneration)

	// -------- Media --------
	api.POST("/media", s.UploadMedia)

	// -------- Connections --------
	api.GET("/connections", s.ListConnections)
	api.POST("/connections/begin", s.BeginOAuth)
	api.POST("/connections/complete", s.CompleteOAuth)
	api.DELETE("/connections/:id", s.Disconnect)

	// -------- Notifications --------
	api.GET("/notifications", s.ListNotifications)
	api.POST("/notifications/:id/read", s.MarkNotificationRead)
	api.POST("/notifications/read-all", s.MarkAllNotificationsRead)

	// -------- Auto-reply rules --------
	api.GET("/reply-rules", s.ListReplyRules)
	api.POST("/reply-rules", s.CreateReplyRule)
	api.PATCH("/reply-rules/:id", s.UpdateReplyRule)
	api.DELETE("/reply-rules/:id", s.DeleteReplyRule)
}

func (s *Server) registerWebhookRoutes() {
	hooks := s.engine.Group("/webhooks")

	hooks.GET("/instagram", s.VerifyInstagramWebhook)
	hooks.POST("/instagram", s.HandleInstagramWebhook)
	hooks.POST("/stripe", s.HandleStripeWebhook)
}

func (s *Server) registerInternalRoutes() {
	internal := s.engine.Group("/internal", s.SweepAuthRequired())

	internal.POST("/sweep/run", s.RunSweep)
}
