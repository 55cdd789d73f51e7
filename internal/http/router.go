package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/geocoder89/authcore/internal/domain/user"
	"github.com/geocoder89/authcore/internal/http/handlers"
	"github.com/geocoder89/authcore/internal/http/middlewares"
	"github.com/geocoder89/authcore/internal/observability"
	"github.com/geocoder89/authcore/internal/ratelimit"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

const maxBodyBytes = 64 << 10

type RouterDeps struct {
	Env         string
	ServiceName string
	Log         *slog.Logger

	Accounts handlers.Accounts
	Gate     middlewares.Authenticator
	Prom     *observability.Prom
	Gatherer prometheus.Gatherer // nil disables /metrics

	LoginLimiter  ratelimit.Limiter // nil disables the limit
	ForgotLimiter ratelimit.Limiter

	Checks       []handlers.Check
	CORSOrigins  []string
	ResetURLBase string
}

func NewRouter(d RouterDeps) *gin.Engine {
	if d.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	if d.Log == nil {
		d.Log = slog.Default()
	}
	if d.ServiceName == "" {
		d.ServiceName = "authcore-api"
	}

	r := gin.New()

	// middleware
	r.Use(gin.Recovery())
	r.Use(middlewares.RequestID())
	r.Use(otelgin.Middleware(d.ServiceName))
	r.Use(middlewares.RequestLogger(d.Log))
	r.Use(middlewares.SecurityHeaders(d.Env == "production"))
	r.Use(middlewares.CORSMiddleware(d.CORSOrigins))
	if d.Prom != nil {
		r.Use(d.Prom.GinHandleMiddleware())
	}

	r.NoRoute(func(c *gin.Context) {
		handlers.RespondNotFound(c, "Can't find "+c.Request.URL.Path+" on this server!")
	})

	// health
	h := handlers.NewHealthHandler(d.Checks...)
	r.GET("/healthz", h.Healthz)
	r.GET("/readyz", h.Readyz)

	r.GET("/docs", handlers.SwaggerUI)
	r.GET("/docs/openapi.yaml", handlers.OpenAPISpec)

	if d.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}

	var outcomes handlers.OutcomeRecorder
	if d.Prom != nil {
		outcomes = d.Prom
	}

	users := handlers.NewUsersHandler(d.Accounts, outcomes, d.Log, handlers.UsersHandlerOptions{
		ResetURLBase: d.ResetURLBase,
	})
	authMW := middlewares.NewAuthMiddleware(d.Gate, d.Log)

	api := r.Group("/api/v1/users")
	api.Use(middlewares.MaxBodyBytes(maxBodyBytes))
	api.Use(middlewares.RequireJSON())

	api.POST("/signup", users.SignUp)
	api.POST("/login", limited(d.LoginLimiter), users.Login)
	api.POST("/forgotPassword", limited(d.ForgotLimiter), users.ForgotPassword)
	api.PATCH("/resetPassword/:token", limited(d.ForgotLimiter), users.ResetPassword)

	protected := api.Group("")
	protected.Use(authMW.RequireAuth())

	protected.PATCH("/updateMyPassword", users.UpdatePassword)
	protected.GET("/me", users.Me)
	protected.GET("/:id", middlewares.RequireRole(user.RoleAdmin, user.RoleLeadGuide), users.GetUser)

	return r
}

func limited(l ratelimit.Limiter) gin.HandlerFunc {
	if l == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return middlewares.RateLimit(l, middlewares.KeyByIP)
}

// Server wraps the router with the timeouts the API runs with.
func Server(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// forgotPassword waits on the mail relay
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}
