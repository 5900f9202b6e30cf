package shipment

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/courierhq/dispatch-api/internal/handler"
	"github.com/courierhq/dispatch-api/internal/middleware"
	"github.com/courierhq/dispatch-api/internal/model"
	"github.com/courierhq/dispatch-api/internal/service/shipment"
)

type Handler struct {
	service *shipment.Service
}

func NewHandler(service *shipment.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	shipments := r.Group("/shipments")
	{
		shipments.GET("", h.ListShipments)
		shipments.GET("/:id", h.GetShipment)
		shipments.POST("/:id/status", h.UpdateStatus)
		shipments.POST("/:id/reject", h.RejectShipment)
	}
}

type updateStatusRequest struct {
	Status        string   `json:"status" binding:"required,shipment_status"`
	PhotoURL      string   `json:"photo_url,omitempty"`
	SignatureURL  string   `json:"signature_url,omitempty"`
	CODCollected  bool     `json:"cod_collected"`
	FailureReason string   `json:"failure_reason,omitempty" binding:"omitempty,failure_reason"`
	FailureNote   string   `json:"failure_note,omitempty"`
	Lat           *float64 `json:"lat,omitempty"`
	Lng           *float64 `json:"lng,omitempty"`
}

type rejectRequest struct {
	Reason string `json:"reason" binding:"required,min=3,max=500"`
}

func (h *Handler) UpdateStatus(c *gin.Context) {
	shipmentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid shipment ID"))
		return
	}
	courierID, err := middleware.CourierID(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, handler.NewErrorResponse("courier identity required"))
		return
	}

	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	evidence := model.StatusEvidence{
		PhotoURL:     req.PhotoURL,
		SignatureURL: req.SignatureURL,
		CODCollected: req.CODCollected,
		Reason:       model.FailureReason(req.FailureReason),
		Note:         req.FailureNote,
		Lat:          req.Lat,
		Lng:          req.Lng,
	}

	updated, err := h.service.ApplyStatusUpdate(c.Request.Context(), shipmentID, model.ShipmentStatus(req.Status), courierID, evidence)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(updated))
}

func (h *Handler) RejectShipment(c *gin.Context) {
	shipmentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid shipment ID"))
		return
	}
	courierID, err := middleware.CourierID(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, handler.NewErrorResponse("courier identity required"))
		return
	}

	var req rejectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	if err := h.service.Reject(c.Request.Context(), shipmentID, courierID, req.Reason); err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(gin.H{
		"shipment_id": shipmentID,
		"released":    true,
	}))
}

func (h *Handler) GetShipment(c *gin.Context) {
	shipmentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid shipment ID"))
		return
	}

	s, err := h.service.Get(c.Request.Context(), shipmentID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(s))
}

// ListShipments returns the authenticated courier's shipments, optionally
// filtered by ?status=assigned,delivering.
func (h *Handler) ListShipments(c *gin.Context) {
	courierID, err := middleware.CourierID(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, handler.NewErrorResponse("courier identity required"))
		return
	}

	var statuses []model.ShipmentStatus
	if raw := c.Query("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			statuses = append(statuses, model.ShipmentStatus(strings.TrimSpace(s)))
		}
	}

	shipments, err := h.service.ListForCourier(c.Request.Context(), courierID, statuses)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(shipments))
}
