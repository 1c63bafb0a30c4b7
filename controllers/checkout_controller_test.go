package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ngoplatform/donations-api/config"
	"github.com/ngoplatform/donations-api/models"
	"github.com/ngoplatform/donations-api/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const testPaymentURL = "https://payment-stage.ecpay.com.tw/Cashier/AioCheckOut/V5"

// setupCheckout seeds the catalog and installs a checkout service backed by a fresh database
func setupCheckout(t *testing.T) (*gorm.DB, *services.CheckoutService, *services.EcpayGateway) {
	t.Helper()

	db := setupTestDB(t)
	require.NoError(t, config.SeedDevelopmentData(db))
	config.SetDB(db)

	originalConfig := config.GetConfig()
	config.SetConfig(&config.Config{
		EcpayReturnURL:     "https://api.example.org/api/v1/payments/ecpay/callback",
		EcpayClientBackURL: "https://www.example.org/donate/complete",
	})

	gateway, err := services.NewEcpayGateway(services.EcpayConfig{
		MerchantID: "2000132",
		HashKey:    "5294y06JbISpM5x9",
		HashIV:     "v77hoKGq4kWxNNIS",
		PaymentURL: testPaymentURL,
	})
	require.NoError(t, err)

	catalog, err := services.DefaultPackageCatalog()
	require.NoError(t, err)

	svc := services.NewCheckoutService(db, catalog, services.NewOrderLedger(db, "NGO", 5, time.UTC), gateway)
	services.SetCheckoutService(svc)

	t.Cleanup(func() {
		services.SetCheckoutService(nil)
		config.SetConfig(originalConfig)
	})
	return db, svc, gateway
}

func checkoutRouter() *gin.Engine {
	router := setupTestRouter()
	router.POST("/checkout/quote", QuoteCheckout)
	router.POST("/checkout", CreateCheckout)
	router.POST("/payments/ecpay/callback", EcpayCallback)
	return router
}

func postJSON(router *gin.Engine, path string, payload interface{}) *httptest.ResponseRecorder {
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func postCallback(router *gin.Engine, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/payments/ecpay/callback", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// signedCallbackForm builds a gateway notification signed with the staging credentials
func signedCallbackForm(gateway *services.EcpayGateway, orderNumber, rtnCode string) url.Values {
	params := map[string]string{
		"MerchantID":      "2000132",
		"MerchantTradeNo": orderNumber,
		"RtnCode":         rtnCode,
		"RtnMsg":          "Succeeded",
		"TradeNo":         "2610191030123456",
		"PaymentType":     "Credit_CreditCard",
		"SimulatePaid":    "0",
	}
	params["CheckMacValue"] = gateway.GenerateCheckMacValue(params)

	form := url.Values{}
	for k, v := range params {
		form.Set(k, v)
	}
	return form
}

func placeOrder(t *testing.T, svc *services.CheckoutService, sel services.PurchaseSelector) *models.Order {
	t.Helper()
	result, err := svc.Checkout(context.Background(), sel, nil, services.CheckoutURLs{
		ReturnURL: "https://api.example.org/api/v1/payments/ecpay/callback",
	})
	require.NoError(t, err)
	return result.Order
}

func onHand(t *testing.T, db *gorm.DB, supplyID uint) int {
	t.Helper()
	var supply models.Supply
	require.NoError(t, db.First(&supply, supplyID).Error)
	return supply.OnHand
}

func reloadOrder(t *testing.T, db *gorm.DB, orderNumber string) models.Order {
	t.Helper()
	var order models.Order
	require.NoError(t, db.Where("order_number = ?", orderNumber).First(&order).Error)
	return order
}

func uintPtr(v uint) *uint { return &v }

func TestQuoteCheckout(t *testing.T) {
	setupCheckout(t)
	router := checkoutRouter()

	tests := []struct {
		name           string
		payload        CheckoutRequest
		expectedStatus int
		expectedCode   string
		expectedTotal  string
	}{
		{
			name:           "regular supply",
			payload:        CheckoutRequest{SupplyID: uintPtr(21), Quantity: 3},
			expectedStatus: http.StatusOK,
			expectedTotal:  "135",
		},
		{
			name:           "medical package",
			payload:        CheckoutRequest{PackageType: "medical"},
			expectedStatus: http.StatusOK,
			expectedTotal:  "705",
		},
		{
			name:           "emergency need",
			payload:        CheckoutRequest{EmergencyNeedID: uintPtr(2), Quantity: 5},
			expectedStatus: http.StatusOK,
			expectedTotal:  "1600",
		},
		{
			name:           "no target",
			payload:        CheckoutRequest{Quantity: 1},
			expectedStatus: http.StatusBadRequest,
			expectedCode:   "VALIDATION_ERROR",
		},
		{
			name:           "two targets",
			payload:        CheckoutRequest{SupplyID: uintPtr(1), PackageType: "food", Quantity: 1},
			expectedStatus: http.StatusBadRequest,
			expectedCode:   "VALIDATION_ERROR",
		},
		{
			name:           "zero quantity",
			payload:        CheckoutRequest{SupplyID: uintPtr(1)},
			expectedStatus: http.StatusBadRequest,
			expectedCode:   "VALIDATION_ERROR",
		},
		{
			name:           "more than on hand",
			payload:        CheckoutRequest{SupplyID: uintPtr(3), Quantity: 13},
			expectedStatus: http.StatusConflict,
			expectedCode:   "INSUFFICIENT_STOCK",
		},
		{
			name:           "unknown supply",
			payload:        CheckoutRequest{SupplyID: uintPtr(999), Quantity: 1},
			expectedStatus: http.StatusNotFound,
			expectedCode:   "SUPPLY_NOT_FOUND",
		},
		{
			name:           "more than the need still requires",
			payload:        CheckoutRequest{EmergencyNeedID: uintPtr(2), Quantity: 6},
			expectedStatus: http.StatusConflict,
			expectedCode:   "EMERGENCY_NEED_SATURATED",
		},
		{
			name:           "unknown need",
			payload:        CheckoutRequest{EmergencyNeedID: uintPtr(404), Quantity: 1},
			expectedStatus: http.StatusNotFound,
			expectedCode:   "EMERGENCY_NEED_NOT_FOUND",
		},
		{
			name:           "unknown package",
			payload:        CheckoutRequest{PackageType: "toys"},
			expectedStatus: http.StatusBadRequest,
			expectedCode:   "VALIDATION_ERROR",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postJSON(router, "/checkout/quote", tt.payload)

			assert.Equal(t, tt.expectedStatus, w.Code, "Response body: %s", w.Body.String())
			response := decodeResponse(t, w)
			if tt.expectedCode != "" {
				assert.Equal(t, tt.expectedCode, errorCode(t, response))
				return
			}

			assert.True(t, response["success"].(bool))
			data := response["data"].(map[string]interface{})
			assert.Equal(t, tt.expectedTotal, data["total"])
		})
	}
}

func TestQuoteCheckout_DoesNotPersist(t *testing.T) {
	db, _, _ := setupCheckout(t)
	router := checkoutRouter()

	w := postJSON(router, "/checkout/quote", CheckoutRequest{SupplyID: uintPtr(1), Quantity: 2})
	require.Equal(t, http.StatusOK, w.Code)

	var count int64
	db.Model(&models.Order{}).Count(&count)
	assert.Zero(t, count)
}

func TestCreateCheckout_JSON(t *testing.T) {
	db, _, _ := setupCheckout(t)
	router := checkoutRouter()

	w := postJSON(router, "/checkout", CheckoutRequest{SupplyID: uintPtr(21), Quantity: 3})
	require.Equal(t, http.StatusCreated, w.Code, "Response body: %s", w.Body.String())

	response := decodeResponse(t, w)
	assert.True(t, response["success"].(bool))
	data := response["data"].(map[string]interface{})

	orderNumber := data["order_number"].(string)
	today := time.Now().UTC().Format("20060102")
	assert.Equal(t, "NGO"+today+"001", orderNumber)
	assert.Equal(t, "135", data["total_amount"])
	assert.Equal(t, models.PaymentStatusPending, data["payment_status"])

	form := data["form"].(map[string]interface{})
	assert.Equal(t, testPaymentURL, form["action"])
	fields := map[string]string{}
	for _, f := range form["fields"].([]interface{}) {
		field := f.(map[string]interface{})
		fields[field["name"].(string)] = field["value"].(string)
	}
	assert.Equal(t, orderNumber, fields["MerchantTradeNo"])
	assert.Equal(t, "135", fields["TotalAmount"])
	assert.Equal(t, "Toothpaste x 3", fields["ItemName"])
	assert.Equal(t, "https://api.example.org/api/v1/payments/ecpay/callback", fields["ReturnURL"])
	assert.Len(t, fields["CheckMacValue"], 64)

	order := reloadOrder(t, db, orderNumber)
	assert.Nil(t, order.DonorID, "no token means an anonymous donation")

	var gateway models.GatewayTransaction
	require.NoError(t, db.Where("order_id = ?", order.ID).First(&gateway).Error)
	assert.Equal(t, models.GatewayStatusProcessing, gateway.Status)

	assert.Equal(t, 60, onHand(t, db, 21), "stock only moves once the payment settles")
}

func TestCreateCheckout_HTMLForm(t *testing.T) {
	setupCheckout(t)
	router := checkoutRouter()

	body, _ := json.Marshal(CheckoutRequest{PackageType: "hygiene"})
	req := httptest.NewRequest(http.MethodPost, "/checkout", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, w.Body.String(), `id="ecpayForm"`)
	assert.Contains(t, w.Body.String(), `action="`+testPaymentURL+`"`)
	assert.Contains(t, w.Body.String(), `name="CheckMacValue"`)
}

func TestCreateCheckout_LinksAuthenticatedDonor(t *testing.T) {
	db, _, _ := setupCheckout(t)

	donor := models.Donor{Auth0ID: "auth0|donor", Name: "Lin Mei", Email: "mei@example.com"}
	require.NoError(t, db.Create(&donor).Error)

	router := setupTestRouter()
	router.POST("/checkout", mockAuthMiddleware("auth0|donor", "", "token"), CreateCheckout)
	router.POST("/checkout-unregistered", mockAuthMiddleware("auth0|no-profile", "", "token"), CreateCheckout)

	w := postJSON(router, "/checkout", CheckoutRequest{SupplyID: uintPtr(1), Quantity: 1})
	require.Equal(t, http.StatusCreated, w.Code, "Response body: %s", w.Body.String())
	data := decodeResponse(t, w)["data"].(map[string]interface{})
	order := reloadOrder(t, db, data["order_number"].(string))
	require.NotNil(t, order.DonorID)
	assert.Equal(t, donor.ID, *order.DonorID)

	w = postJSON(router, "/checkout-unregistered", CheckoutRequest{SupplyID: uintPtr(1), Quantity: 1})
	require.Equal(t, http.StatusCreated, w.Code)
	data = decodeResponse(t, w)["data"].(map[string]interface{})
	order = reloadOrder(t, db, data["order_number"].(string))
	assert.Nil(t, order.DonorID, "a subject without a profile donates anonymously")
}

func TestCreateCheckout_ServiceUnavailable(t *testing.T) {
	services.SetCheckoutService(nil)
	router := checkoutRouter()

	w := postJSON(router, "/checkout", CheckoutRequest{SupplyID: uintPtr(1), Quantity: 1})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "SERVICE_UNAVAILABLE", errorCode(t, decodeResponse(t, w)))
}

func TestEcpayCallback_SettlesOrderOnce(t *testing.T) {
	db, svc, gateway := setupCheckout(t)
	router := checkoutRouter()

	order := placeOrder(t, svc, services.PurchaseSelector{SupplyID: uintPtr(21), Quantity: 3})
	form := signedCallbackForm(gateway, order.OrderNumber, "1")

	w := postCallback(router, form)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1|OK", w.Body.String())

	settled := reloadOrder(t, db, order.OrderNumber)
	assert.Equal(t, models.PaymentStatusPaid, settled.PaymentStatus)
	assert.Equal(t, 63, onHand(t, db, 21))

	// the gateway retries until it sees 1|OK; a replay must not apply twice
	w = postCallback(router, form)
	assert.Equal(t, "1|OK", w.Body.String())
	assert.Equal(t, 63, onHand(t, db, 21))
}

func TestEcpayCallback_PaymentFailure(t *testing.T) {
	db, svc, gateway := setupCheckout(t)
	router := checkoutRouter()

	order := placeOrder(t, svc, services.PurchaseSelector{SupplyID: uintPtr(1), Quantity: 2})

	w := postCallback(router, signedCallbackForm(gateway, order.OrderNumber, "10100058"))
	assert.Equal(t, "1|OK", w.Body.String())

	settled := reloadOrder(t, db, order.OrderNumber)
	assert.Equal(t, models.PaymentStatusFailed, settled.PaymentStatus)
	require.NotNil(t, settled.FailureReason)
	assert.Contains(t, *settled.FailureReason, "payment_failed")
	assert.Equal(t, 40, onHand(t, db, 1))
}

func TestEcpayCallback_RejectsTamperedSignature(t *testing.T) {
	db, svc, gateway := setupCheckout(t)
	router := checkoutRouter()

	order := placeOrder(t, svc, services.PurchaseSelector{SupplyID: uintPtr(1), Quantity: 2})
	form := signedCallbackForm(gateway, order.OrderNumber, "10100058")
	form.Set("RtnCode", "1")

	w := postCallback(router, form)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "0|CheckMacValue verify fail", w.Body.String())

	assert.Equal(t, models.PaymentStatusPending, reloadOrder(t, db, order.OrderNumber).PaymentStatus)
	assert.Equal(t, 40, onHand(t, db, 1))
}

func TestEcpayCallback_MissingFields(t *testing.T) {
	setupCheckout(t)
	router := checkoutRouter()

	w := postCallback(router, url.Values{"RtnCode": {"1"}})
	assert.Equal(t, "0|CheckMacValue verify fail", w.Body.String())
}

func TestEcpayCallback_UnknownOrder(t *testing.T) {
	_, _, gateway := setupCheckout(t)
	router := checkoutRouter()

	w := postCallback(router, signedCallbackForm(gateway, "NGO20261019999", "1"))
	assert.Equal(t, "0|order not found", w.Body.String())
}

func TestEcpayCallback_SaturatedNeedStillAcknowledged(t *testing.T) {
	db, svc, gateway := setupCheckout(t)
	router := checkoutRouter()

	first := placeOrder(t, svc, services.PurchaseSelector{EmergencyNeedID: uintPtr(2), Quantity: 3})
	second := placeOrder(t, svc, services.PurchaseSelector{EmergencyNeedID: uintPtr(2), Quantity: 3})

	assert.Equal(t, "1|OK", postCallback(router, signedCallbackForm(gateway, first.OrderNumber, "1")).Body.String())
	assert.Equal(t, "1|OK", postCallback(router, signedCallbackForm(gateway, second.OrderNumber, "1")).Body.String())

	assert.Equal(t, models.PaymentStatusPaid, reloadOrder(t, db, first.OrderNumber).PaymentStatus)

	rejected := reloadOrder(t, db, second.OrderNumber)
	assert.Equal(t, models.PaymentStatusFailed, rejected.PaymentStatus)
	require.NotNil(t, rejected.FailureReason)
	assert.Equal(t, services.ReasonEmergencyNeedSaturated, *rejected.FailureReason)

	var need models.EmergencyNeed
	require.NoError(t, db.First(&need, 2).Error)
	assert.Equal(t, 3, need.Collected)
}
