package controllers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/ngoplatform/donations-api/logging"
	"github.com/ngoplatform/donations-api/models"
	"github.com/ngoplatform/donations-api/services"
	"go.uber.org/zap"
)

func respondError(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{
		"success": false,
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	})
}

// respondServiceError maps a checkout service error onto the API envelope
func respondServiceError(c *gin.Context, err error) {
	var (
		validationErr  *services.ValidationError
		stockErr       *services.InsufficientStockError
		saturatedErr   *services.EmergencyNeedSaturatedError
		persistenceErr *services.OrderPersistenceError
	)

	switch {
	case errors.As(err, &validationErr):
		respondError(c, http.StatusBadRequest, validationErr.Code(), validationErr.Error())
	case errors.As(err, &stockErr):
		respondError(c, http.StatusConflict, stockErr.Code(), stockErr.Error())
	case errors.As(err, &saturatedErr):
		respondError(c, http.StatusConflict, saturatedErr.Code(), saturatedErr.Error())
	case errors.Is(err, services.ErrSupplyNotFound):
		respondError(c, http.StatusNotFound, "SUPPLY_NOT_FOUND", err.Error())
	case errors.Is(err, services.ErrEmergencyNeedNotFound):
		respondError(c, http.StatusNotFound, "EMERGENCY_NEED_NOT_FOUND", err.Error())
	case errors.Is(err, services.ErrOrderNotFound):
		respondError(c, http.StatusNotFound, "ORDER_NOT_FOUND", err.Error())
	case errors.Is(err, services.ErrPackageNotFound):
		respondError(c, http.StatusNotFound, "PACKAGE_NOT_FOUND", err.Error())
	case errors.Is(err, models.ErrInvalidNeedTransition):
		respondError(c, http.StatusConflict, "INVALID_STATUS_TRANSITION", "Emergency need is not awaiting fulfillment")
	case errors.As(err, &persistenceErr):
		logging.FromContext(c.Request.Context()).Error("order_persistence_failed", zap.Error(err))
		respondError(c, http.StatusInternalServerError, persistenceErr.Code(), persistenceErr.PublicMessage())
	default:
		logging.FromContext(c.Request.Context()).Error("request_failed", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred")
	}
}

func checkoutServiceOrAbort(c *gin.Context) *services.CheckoutService {
	svc := services.GetCheckoutService()
	if svc == nil {
		respondError(c, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "Checkout is not configured")
		return nil
	}
	return svc
}
