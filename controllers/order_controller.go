package controllers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ngoplatform/donations-api/config"
	"github.com/ngoplatform/donations-api/logging"
	"github.com/ngoplatform/donations-api/middleware"
	"github.com/ngoplatform/donations-api/models"
	"github.com/ngoplatform/donations-api/services"
	"go.uber.org/zap"
)

const defaultOrderHistoryLimit = 50

// OrderStatusResponse is the order view shown to callers who do not own the order
type OrderStatusResponse struct {
	OrderNumber   string     `json:"order_number"`
	PaymentStatus string     `json:"payment_status"`
	Total         string     `json:"total"`
	Source        string     `json:"source"`
	PackageType   *string    `json:"package_type,omitempty"`
	PaidAt        *time.Time `json:"paid_at,omitempty"`
}

func orderStatusResponse(order *models.Order) OrderStatusResponse {
	return OrderStatusResponse{
		OrderNumber:   order.OrderNumber,
		PaymentStatus: order.PaymentStatus,
		Total:         order.TotalPrice.Round(0).String(),
		Source:        order.Source,
		PackageType:   order.PackageType,
		PaidAt:        order.PaidAt,
	}
}

// GetOrder handles GET /api/v1/orders/:order_number - returns an order's payment status.
// The full order is returned only to the donor who placed it.
func GetOrder(c *gin.Context) {
	svc := checkoutServiceOrAbort(c)
	if svc == nil {
		return
	}

	orderNumber := strings.TrimSpace(c.Param("order_number"))
	if orderNumber == "" {
		respondError(c, http.StatusBadRequest, "INVALID_ORDER_NUMBER", "Order number is required")
		return
	}

	order, err := svc.OrderStatus(c.Request.Context(), orderNumber)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	identity, err := resolveDonor(c)
	if err != nil {
		logging.FromContext(c.Request.Context()).Error("donor_lookup_failed", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to look up donor profile")
		return
	}
	if identity != nil && order.DonorID != nil && *order.DonorID == identity.DonorID {
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"data":    order,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    orderStatusResponse(order),
	})
}

// GetMyOrders handles GET /api/v1/donors/me/orders - the authenticated donor's purchase records
func GetMyOrders(c *gin.Context) {
	svc := checkoutServiceOrAbort(c)
	if svc == nil {
		return
	}

	auth0ID, err := middleware.GetUserID(c)
	if err != nil {
		respondError(c, http.StatusUnauthorized, "UNAUTHORIZED", "Could not extract user information")
		return
	}

	limit, ok := parseLimit(c, defaultOrderHistoryLimit)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	donor, err := services.NewDonorDirectory(config.GetDB()).FindByAuth0ID(ctx, auth0ID)
	if err != nil {
		if errors.Is(err, services.ErrDonorNotFound) {
			respondError(c, http.StatusNotFound, "DONOR_NOT_FOUND", "Donor profile not found. Please create a profile first.")
			return
		}
		respondError(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to look up donor profile")
		return
	}

	purchases, err := svc.DonorOrders(ctx, donor.ID, limit)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    purchases,
	})
}
