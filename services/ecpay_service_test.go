package services

import (
	"strings"
	"testing"

	"github.com/ngoplatform/donations-api/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEcpayGateway_RequiresCredentials(t *testing.T) {
	tests := []struct {
		name    string
		cfg     EcpayConfig
		wantErr string
	}{
		{name: "missing everything", cfg: EcpayConfig{}, wantErr: "merchant id, hash key, hash IV, payment URL"},
		{name: "missing hash IV", cfg: EcpayConfig{MerchantID: "2000132", HashKey: "k", PaymentURL: "https://x"}, wantErr: "hash IV"},
		{name: "bad encrypt type", cfg: EcpayConfig{MerchantID: "1", HashKey: "k", HashIV: "v", PaymentURL: "https://x", EncryptType: "9"}, wantErr: "encrypt type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewEcpayGateway(tt.cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDotNetURLEncode(t *testing.T) {
	assert.Equal(t, "a+b!*()%7e-_.", dotNetURLEncode("a b!*()~-_."))
	assert.Equal(t, "hashkey%3dabc%26a%3d1", dotNetURLEncode("HashKey=abc&A=1"))
	assert.Equal(t, "%e7%89%a9%e8%b3%87", dotNetURLEncode("物資"))
}

func TestGenerateCheckMacValue(t *testing.T) {
	gw := newTestGateway(t)
	params := map[string]string{
		"MerchantID":      "2000132",
		"MerchantTradeNo": "NGO20261019001",
		"TotalAmount":     "135",
		"ItemName":        "Toothpaste x 3",
		"Empty":           "",
	}

	mac := gw.GenerateCheckMacValue(params)
	assert.Len(t, mac, 64, "SHA256 renders as 64 hex characters")
	assert.Equal(t, strings.ToUpper(mac), mac)

	params["CheckMacValue"] = "ignored"
	assert.Equal(t, mac, gw.GenerateCheckMacValue(params), "CheckMacValue itself is not signed")

	delete(params, "Empty")
	assert.Equal(t, mac, gw.GenerateCheckMacValue(params), "empty values are not signed")

	params["TotalAmount"] = "136"
	assert.NotEqual(t, mac, gw.GenerateCheckMacValue(params))
}

func TestGenerateCheckMacValue_MD5(t *testing.T) {
	gw, err := NewEcpayGateway(EcpayConfig{MerchantID: "2000132", HashKey: testHashKey, HashIV: testHashIV, PaymentURL: "https://x", EncryptType: "0"})
	require.NoError(t, err)

	mac := gw.GenerateCheckMacValue(map[string]string{"MerchantTradeNo": "NGO20261019001"})
	assert.Len(t, mac, 32)
}

func TestBuildCheckoutRequest(t *testing.T) {
	gw := newTestGateway(t)
	order := &models.Order{
		OrderNumber: "NGO20261019001",
		TotalPrice:  decimal.RequireFromString("135.00"),
		LineItems:   []models.OrderLineItem{{SupplyName: "Toothpaste", Quantity: 3, UnitPrice: decimal.NewFromInt(45)}},
	}

	form, err := gw.BuildCheckoutRequest(order, testURLs)
	require.NoError(t, err)

	names := make([]string, len(form.Fields))
	for i, f := range form.Fields {
		names[i] = f.Name
	}
	assert.Equal(t, []string{
		"MerchantID", "MerchantTradeNo", "MerchantTradeDate", "PaymentType", "TotalAmount",
		"TradeDesc", "ItemName", "ReturnURL", "ChoosePayment", "ClientBackURL",
		"NeedExtraPaidInfo", "EncryptType", "CheckMacValue",
	}, names)

	assert.Equal(t, "135", form.Value("TotalAmount"))
	assert.Equal(t, "2026/10/19 10:30:00", form.Value("MerchantTradeDate"))
	assert.Equal(t, "aio", form.Value("PaymentType"))
	assert.Equal(t, "1", form.Value("EncryptType"))
	assert.Equal(t, "Toothpaste x 3", form.Value("ItemName"))

	signed := make(map[string]string)
	for _, f := range form.Fields {
		signed[f.Name] = f.Value
	}
	_, err = gw.VerifyCallback(signed)
	assert.NoError(t, err, "a form signed by the gateway verifies with the same credentials")

	_, err = gw.BuildCheckoutRequest(&models.Order{}, testURLs)
	assert.Error(t, err)
	_, err = gw.BuildCheckoutRequest(order, CheckoutURLs{})
	assert.Error(t, err)
}

func TestSignedForm_HTMLEscapesValues(t *testing.T) {
	form := &SignedForm{
		Action: "https://payment-stage.ecpay.com.tw/Cashier/AioCheckOut/V5",
		Fields: []FormField{{Name: "ItemName", Value: `"><script>alert(1)</script>`}},
	}

	html, err := form.HTML()
	require.NoError(t, err)
	assert.Contains(t, html, `action="https://payment-stage.ecpay.com.tw/Cashier/AioCheckOut/V5"`)
	assert.Contains(t, html, `name="ItemName"`)
	assert.NotContains(t, html, "<script>alert(1)</script>")
	assert.Contains(t, html, `document.getElementById("ecpayForm").submit()`)
}

func TestVerifyCallback(t *testing.T) {
	gw := newTestGateway(t)

	t.Run("valid success", func(t *testing.T) {
		params := signedCallback(gw, "NGO20261019001", "1")
		result, err := gw.VerifyCallback(params)
		require.NoError(t, err)
		assert.True(t, result.Succeeded())
		assert.Equal(t, "NGO20261019001", result.MerchantTradeNo)
		assert.Equal(t, "2610191030123456", result.TradeNo)
		assert.Equal(t, params["TradeAmt"], result.Raw["TradeAmt"])
	})

	t.Run("lowercase mac accepted", func(t *testing.T) {
		params := signedCallback(gw, "NGO20261019001", "1")
		params["CheckMacValue"] = strings.ToLower(params["CheckMacValue"])
		_, err := gw.VerifyCallback(params)
		assert.NoError(t, err)
	})

	t.Run("valid failure", func(t *testing.T) {
		result, err := gw.VerifyCallback(signedCallback(gw, "NGO20261019001", "10100058"))
		require.NoError(t, err)
		assert.False(t, result.Succeeded())
	})

	for _, rtnCode := range []string{"1", "0"} {
		t.Run("tampered rtn "+rtnCode, func(t *testing.T) {
			params := signedCallback(gw, "NGO20261019001", rtnCode)
			params["TradeAmt"] = "1"
			_, err := gw.VerifyCallback(params)
			var sigErr *SignatureError
			require.ErrorAs(t, err, &sigErr)
			assert.Equal(t, "NGO20261019001", sigErr.MerchantTradeNo)
			assert.Equal(t, "SIGNATURE_ERROR", sigErr.Code())
		})
	}

	t.Run("missing trade number", func(t *testing.T) {
		params := signedCallback(gw, "", "1")
		_, err := gw.VerifyCallback(params)
		var sigErr *SignatureError
		assert.ErrorAs(t, err, &sigErr)
	})

	t.Run("missing mac", func(t *testing.T) {
		params := signedCallback(gw, "NGO20261019001", "1")
		delete(params, "CheckMacValue")
		_, err := gw.VerifyCallback(params)
		var sigErr *SignatureError
		assert.ErrorAs(t, err, &sigErr)
	})

	t.Run("other merchant credentials", func(t *testing.T) {
		other, err := NewEcpayGateway(EcpayConfig{MerchantID: "2000132", HashKey: "otherkey12345678", HashIV: testHashIV, PaymentURL: "https://x"})
		require.NoError(t, err)
		_, err = gw.VerifyCallback(signedCallback(other, "NGO20261019001", "1"))
		var sigErr *SignatureError
		assert.ErrorAs(t, err, &sigErr)
	})
}
