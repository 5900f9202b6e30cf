package tracking

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/courierhq/dispatch-api/internal/handler"
	"github.com/courierhq/dispatch-api/internal/middleware"
	"github.com/courierhq/dispatch-api/internal/service/tracking"
)

type Handler struct {
	service *tracking.Service
}

func NewHandler(service *tracking.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	t := r.Group("/tracking")
	{
		t.POST("/ping", h.Ping)
		t.POST("/online", h.GoOnline)
		t.POST("/offline", h.GoOffline)
		t.GET("/shipments/:id/position", h.ShipmentPosition)
		t.GET("/shipments/:id/stream", h.StreamShipment)
		t.GET("/couriers/:id/presence", h.CourierPresence)
	}
}

// Coordinates are pointers so "required" rejects an absent field without
// rejecting a legitimate 0.0 at the equator or prime meridian.
type pingRequest struct {
	ShipmentID *string  `json:"shipment_id,omitempty"`
	Lat        *float64 `json:"lat" binding:"required,latitude"`
	Lng        *float64 `json:"lng" binding:"required,longitude"`
	Heading    float64  `json:"heading" binding:"gte=0,lt=360"`
	Speed      float64  `json:"speed" binding:"gte=0"`
}

type onlineRequest struct {
	Lat *float64 `json:"lat" binding:"required,latitude"`
	Lng *float64 `json:"lng" binding:"required,longitude"`
}

func (h *Handler) Ping(c *gin.Context) {
	courierID, err := middleware.CourierID(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, handler.NewErrorResponse("courier identity required"))
		return
	}

	var req pingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	input := tracking.PingInput{
		CourierID: courierID,
		Lat:       *req.Lat,
		Lng:       *req.Lng,
		Heading:   req.Heading,
		Speed:     req.Speed,
	}
	if req.ShipmentID != nil {
		shipmentID, err := uuid.Parse(*req.ShipmentID)
		if err != nil {
			c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid shipment ID"))
			return
		}
		input.ShipmentID = &shipmentID
	}

	if err := h.service.Ping(c.Request.Context(), input); err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(nil))
}

func (h *Handler) GoOnline(c *gin.Context) {
	courierID, err := middleware.CourierID(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, handler.NewErrorResponse("courier identity required"))
		return
	}

	var req onlineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	if err := h.service.GoOnline(c.Request.Context(), courierID, *req.Lat, *req.Lng); err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(gin.H{"online": true}))
}

func (h *Handler) GoOffline(c *gin.Context) {
	courierID, err := middleware.CourierID(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, handler.NewErrorResponse("courier identity required"))
		return
	}

	if err := h.service.GoOffline(c.Request.Context(), courierID); err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(gin.H{"online": false}))
}

func (h *Handler) ShipmentPosition(c *gin.Context) {
	shipmentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid shipment ID"))
		return
	}

	sample, err := h.service.ShipmentPosition(c.Request.Context(), shipmentID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(sample))
}

// StreamShipment pushes live position samples for one shipment as
// server-sent events until the client disconnects. Samples the subscriber
// cannot keep up with are dropped, never queued behind it.
func (h *Handler) StreamShipment(c *gin.Context) {
	shipmentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid shipment ID"))
		return
	}

	sub := h.service.Subscribe(shipmentID)
	defer sub.Close()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case sample, ok := <-sub.C():
			if !ok {
				return false
			}
			c.SSEvent("position", sample)
			return true
		}
	})
}

func (h *Handler) CourierPresence(c *gin.Context) {
	courierID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid courier ID"))
		return
	}

	session, position, err := h.service.CourierPresence(c.Request.Context(), courierID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(gin.H{
		"online":   session != nil,
		"session":  session,
		"position": position,
	}))
}
