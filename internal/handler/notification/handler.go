package notification

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	gocache "github.com/patrickmn/go-cache"

	"github.com/avikram/notify-service/internal/handler"
	"github.com/avikram/notify-service/internal/model"
	"github.com/avikram/notify-service/internal/registry"
	notificationService "github.com/avikram/notify-service/internal/service/notification"
)

const statsCacheKey = "stats"

type Handler struct {
	svc *notificationService.Service
	// statsCache shields the O(n) registry scan behind /stats from
	// dashboard polling.
	statsCache *gocache.Cache
}

func NewHandler(svc *notificationService.Service) *Handler {
	return &Handler{
		svc:        svc,
		statsCache: gocache.New(5*time.Second, time.Minute),
	}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	notifications := r.Group("/notifications")
	{
		notifications.POST("", h.Create)
		notifications.GET("/:id", h.Get)
	}
	r.GET("/stats", h.Stats)
}

type createRequest struct {
	Channel   string            `json:"channel" binding:"required"`
	Priority  string            `json:"priority"`
	UserID    string            `json:"user_id"`
	Recipient string            `json:"recipient" binding:"required"`
	Subject   string            `json:"subject"`
	Content   string            `json:"content" binding:"required"`
	Metadata  map[string]string `json:"metadata"`
}

func (h *Handler) Create(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}
	if req.Priority == "" {
		req.Priority = string(model.PriorityNormal)
	}

	id, err := h.svc.Admit(c.Request.Context(), notificationService.AdmitRequest{
		Channel:  model.Channel(req.Channel),
		Priority: model.Priority(req.Priority),
		UserID:   req.UserID,
		Payload: model.Payload{
			Recipient: req.Recipient,
			Subject:   req.Subject,
			Content:   req.Content,
			Metadata:  req.Metadata,
		},
	})
	if err != nil {
		var rateErr *notificationService.RateLimitedError
		var validationErr *notificationService.ValidationError
		switch {
		case errors.As(err, &rateErr):
			c.Header("Retry-After", strconv.Itoa(int(rateErr.Result.ResetIn.Seconds())))
			c.JSON(http.StatusTooManyRequests, handler.NewErrorResponse("rate limit exceeded"))
		case errors.Is(err, notificationService.ErrMaintenance):
			c.JSON(http.StatusServiceUnavailable, handler.NewErrorResponse("service in maintenance"))
		case errors.As(err, &validationErr):
			c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		default:
			c.JSON(http.StatusServiceUnavailable, handler.NewErrorResponse("notification not accepted"))
		}
		return
	}

	c.JSON(http.StatusAccepted, handler.NewSuccessResponse(gin.H{"id": id}))
}

func (h *Handler) Get(c *gin.Context) {
	record, err := h.svc.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			c.JSON(http.StatusNotFound, handler.NewErrorResponse("notification not found or expired"))
			return
		}
		c.JSON(http.StatusServiceUnavailable, handler.NewErrorResponse("status unavailable"))
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(record))
}

func (h *Handler) Stats(c *gin.Context) {
	if cached, ok := h.statsCache.Get(statsCacheKey); ok {
		c.JSON(http.StatusOK, handler.NewSuccessResponse(cached))
		return
	}

	stats, err := h.svc.Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, handler.NewErrorResponse("stats unavailable"))
		return
	}
	h.statsCache.SetDefault(statsCacheKey, stats)
	c.JSON(http.StatusOK, handler.NewSuccessResponse(stats))
}
