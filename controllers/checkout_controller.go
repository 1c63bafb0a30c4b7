package controllers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/ngoplatform/donations-api/config"
	"github.com/ngoplatform/donations-api/logging"
	"github.com/ngoplatform/donations-api/middleware"
	"github.com/ngoplatform/donations-api/services"
	"go.uber.org/zap"
)

// Replies the gateway expects from the callback endpoint
const (
	callbackAccepted       = "1|OK"
	callbackSignatureError = "0|CheckMacValue verify fail"
)

// CheckoutRequest is the purchase body shared by quote and checkout
type CheckoutRequest struct {
	SupplyID        *uint  `json:"supply_id" form:"supply_id"`
	PackageType     string `json:"package_type" form:"package_type"`
	EmergencyNeedID *uint  `json:"emergency_need_id" form:"emergency_need_id"`
	Quantity        int    `json:"quantity" form:"quantity"`
}

func (r CheckoutRequest) selector() services.PurchaseSelector {
	return services.PurchaseSelector{
		SupplyID:        r.SupplyID,
		PackageType:     strings.TrimSpace(r.PackageType),
		EmergencyNeedID: r.EmergencyNeedID,
		Quantity:        r.Quantity,
	}
}

// CheckoutResponse is the JSON reply of a successful checkout
type CheckoutResponse struct {
	OrderNumber   string               `json:"order_number"`
	TotalAmount   string               `json:"total_amount"`
	PaymentStatus string               `json:"payment_status"`
	Quote         *services.PriceQuote `json:"quote"`
	Form          *services.SignedForm `json:"form"`
}

// QuoteCheckout handles POST /api/v1/checkout/quote - prices a purchase without persisting it
func QuoteCheckout(c *gin.Context) {
	svc := checkoutServiceOrAbort(c)
	if svc == nil {
		return
	}

	var req CheckoutRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "VALIDATION_ERROR",
				"message": "Invalid request data",
				"details": err.Error(),
			},
		})
		return
	}

	quote, err := svc.Quote(c.Request.Context(), req.selector())
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    quote,
	})
}

// CreateCheckout handles POST /api/v1/checkout - creates a pending order and the signed
// gateway form. A bearer token is optional; without one the donation is anonymous.
func CreateCheckout(c *gin.Context) {
	svc := checkoutServiceOrAbort(c)
	if svc == nil {
		return
	}

	var req CheckoutRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "VALIDATION_ERROR",
				"message": "Invalid request data",
				"details": err.Error(),
			},
		})
		return
	}

	ctx := c.Request.Context()
	donor, err := resolveDonor(c)
	if err != nil {
		logging.FromContext(ctx).Error("donor_lookup_failed", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to look up donor profile")
		return
	}

	result, err := svc.Checkout(ctx, req.selector(), donor, checkoutURLs())
	if err != nil {
		respondServiceError(c, err)
		return
	}

	if strings.Contains(c.GetHeader("Accept"), "text/html") {
		page, err := result.Form.HTML()
		if err != nil {
			respondServiceError(c, err)
			return
		}
		c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(page))
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"data": CheckoutResponse{
			OrderNumber:   result.Order.OrderNumber,
			TotalAmount:   result.Order.TotalPrice.Round(0).String(),
			PaymentStatus: result.Order.PaymentStatus,
			Quote:         result.Quote,
			Form:          result.Form,
		},
	})
}

// EcpayCallback handles POST /api/v1/payments/ecpay/callback - the gateway's
// server-to-server payment notification. It always answers in the gateway's plain
// text format; anything but 1|OK makes the gateway retry.
func EcpayCallback(c *gin.Context) {
	svc := services.GetCheckoutService()
	if svc == nil {
		c.String(http.StatusOK, "0|service unavailable")
		return
	}

	if err := c.Request.ParseForm(); err != nil {
		c.String(http.StatusOK, "0|invalid form")
		return
	}
	params := make(map[string]string, len(c.Request.PostForm))
	for key := range c.Request.PostForm {
		params[key] = c.Request.PostForm.Get(key)
	}

	_, err := svc.HandleCallback(c.Request.Context(), params)
	var sigErr *services.SignatureError
	switch {
	case err == nil:
		c.String(http.StatusOK, callbackAccepted)
	case errors.As(err, &sigErr):
		c.String(http.StatusOK, callbackSignatureError)
	case errors.Is(err, services.ErrOrderNotFound):
		c.String(http.StatusOK, "0|order not found")
	default:
		logging.FromContext(c.Request.Context()).Error("gateway_callback_failed",
			zap.String("merchant_trade_no", params["MerchantTradeNo"]),
			zap.Error(err),
		)
		c.String(http.StatusOK, "0|"+callbackFailureReason(err))
	}
}

func callbackFailureReason(err error) string {
	var persistenceErr *services.OrderPersistenceError
	if errors.As(err, &persistenceErr) {
		return "order persistence failed"
	}
	return "internal error"
}

// resolveDonor maps the optional token subject onto a donor profile. Anonymous
// requests and subjects without a profile yield nil.
func resolveDonor(c *gin.Context) (*services.DonorIdentity, error) {
	auth0ID, err := middleware.GetUserID(c)
	if err != nil {
		return nil, nil
	}
	return services.NewDonorDirectory(config.GetDB()).Identity(c.Request.Context(), auth0ID)
}

func checkoutURLs() services.CheckoutURLs {
	cfg := config.GetConfig()
	if cfg == nil {
		return services.CheckoutURLs{}
	}
	return services.CheckoutURLs{
		ReturnURL:     cfg.EcpayReturnURL,
		ClientBackURL: cfg.EcpayClientBackURL,
	}
}
