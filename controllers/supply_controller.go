package controllers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/ngoplatform/donations-api/models"
	"github.com/ngoplatform/donations-api/services"
)

const (
	defaultSupplyLimit = 30
	defaultNeedLimit   = 6
	maxListLimit       = 100
)

// EmergencyNeedResponse adds the remaining quantity to an emergency need
type EmergencyNeedResponse struct {
	models.EmergencyNeed
	Remaining int `json:"remaining_quantity"`
}

// ListSupplies handles GET /api/v1/supplies - lists supplies donors can fund
func ListSupplies(c *gin.Context) {
	svc := checkoutServiceOrAbort(c)
	if svc == nil {
		return
	}

	supplyType := c.DefaultQuery("type", models.SupplyTypeRegular)
	if supplyType != models.SupplyTypeRegular && supplyType != models.SupplyTypeEmergency {
		respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "type must be 'regular' or 'emergency'")
		return
	}

	limit, ok := parseLimit(c, defaultSupplyLimit)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	supplies, err := svc.Inventory().ListSupplies(ctx, supplyType, limit)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	services.AttachSupplyImages(ctx, services.GetImageService(), supplies)

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    supplies,
	})
}

// ListEmergencyNeeds handles GET /api/v1/emergency-needs - lists needs still fundraising
func ListEmergencyNeeds(c *gin.Context) {
	svc := checkoutServiceOrAbort(c)
	if svc == nil {
		return
	}

	limit, ok := parseLimit(c, defaultNeedLimit)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	needs, err := svc.Needs().GetOpenNeeds(ctx, limit)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	services.AttachNeedImages(ctx, services.GetImageService(), needs)

	data := make([]EmergencyNeedResponse, 0, len(needs))
	for _, need := range needs {
		data = append(data, EmergencyNeedResponse{EmergencyNeed: need, Remaining: need.Remaining()})
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}

// ListPackages handles GET /api/v1/packages
func ListPackages(c *gin.Context) {
	svc := checkoutServiceOrAbort(c)
	if svc == nil {
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    svc.Catalog().All(),
	})
}

// FulfillEmergencyNeed handles POST /api/v1/emergency-needs/:id/fulfill
// Requires the manage:needs scope (enforced by the router)
func FulfillEmergencyNeed(c *gin.Context) {
	svc := checkoutServiceOrAbort(c)
	if svc == nil {
		return
	}

	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		respondError(c, http.StatusBadRequest, "INVALID_ID", "Emergency need ID must be a positive integer")
		return
	}

	need, err := svc.Needs().MarkFulfilled(c.Request.Context(), uint(id))
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    EmergencyNeedResponse{EmergencyNeed: *need, Remaining: need.Remaining()},
	})
}

func parseLimit(c *gin.Context, fallback int) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return fallback, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "limit must be a positive integer")
		return 0, false
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return limit, true
}
