package admin

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/avikram/notify-service/internal/handler"
	notificationService "github.com/avikram/notify-service/internal/service/notification"
	"github.com/avikram/notify-service/pkg/messaging"
)

// Handler owns the operational control surface. Maintenance toggles are
// published on the control channel so every process observes them, and
// applied locally so the publishing process does not wait for its own
// subscription to deliver.
type Handler struct {
	svc    *notificationService.Service
	broker messaging.Broker
}

func NewHandler(svc *notificationService.Service, broker messaging.Broker) *Handler {
	return &Handler{svc: svc, broker: broker}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	admin := r.Group("/admin")
	{
		admin.POST("/maintenance", h.SetMaintenance)
		admin.GET("/maintenance", h.GetMaintenance)
	}
}

type maintenanceRequest struct {
	Enabled bool   `json:"enabled"`
	Reason  string `json:"reason"`
}

func (h *Handler) SetMaintenance(c *gin.Context) {
	var req maintenanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	signal := messaging.MaintenanceSignal{Enabled: req.Enabled, Reason: req.Reason}
	if err := h.broker.Publish(c.Request.Context(), messaging.TopicMaintenance, signal); err != nil {
		c.JSON(http.StatusServiceUnavailable, handler.NewErrorResponse("failed to broadcast maintenance signal"))
		return
	}
	h.svc.SetMaintenance(req.Enabled)

	c.JSON(http.StatusOK, handler.NewSuccessResponse(gin.H{"maintenance": req.Enabled}))
}

func (h *Handler) GetMaintenance(c *gin.Context) {
	c.JSON(http.StatusOK, handler.NewSuccessResponse(gin.H{"maintenance": h.svc.Maintenance()}))
}
