package router

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/avikram/notify-service/internal/middleware"
)

// Handler is anything that can attach its routes to a group.
type Handler interface {
	RegisterRoutes(*gin.RouterGroup)
}

type Config struct {
	RateLimit rate.Limit
	RateBurst int
}

type Router struct {
	engine        *gin.Engine
	notificationH Handler
	adminH        Handler
	healthH       Handler
	config        Config
}

func NewRouter(notificationH, adminH, healthH Handler, config Config) *Router {
	gin.SetMode(gin.ReleaseMode)

	if config.RateLimit <= 0 {
		config.RateLimit = 100
	}
	if config.RateBurst <= 0 {
		config.RateBurst = 200
	}

	return &Router{
		engine:        gin.New(),
		notificationH: notificationH,
		adminH:        adminH,
		healthH:       healthH,
		config:        config,
	}
}

func (r *Router) Setup() {
	r.engine.Use(middleware.RequestID())
	r.engine.Use(middleware.Logger())
	r.engine.Use(middleware.Recovery())

	limiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		Rate:  r.config.RateLimit,
		Burst: r.config.RateBurst,
	})

	r.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.healthH.RegisterRoutes(r.engine.Group(""))

	api := r.engine.Group("/api/v1")
	api.Use(limiter.RateLimit())
	r.notificationH.RegisterRoutes(api)
	r.adminH.RegisterRoutes(api)
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}
