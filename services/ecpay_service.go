package services

import (
	"bytes"
	"crypto/md5"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"html/template"
	"net/url"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ngoplatform/donations-api/models"
)

const (
	ecpayEncryptSHA256 = "1"
	ecpayEncryptMD5    = "0"
	ecpayItemNameLimit = 400
)

// EcpayConfig holds merchant credentials for the ECPay AIO checkout
type EcpayConfig struct {
	MerchantID  string
	HashKey     string
	HashIV      string
	PaymentURL  string
	EncryptType string // "1" SHA256 (default), "0" MD5
	Location    *time.Location
}

// CheckoutURLs are the callback targets sent with each payment request
type CheckoutURLs struct {
	ReturnURL     string // server-to-server payment result
	ClientBackURL string // donor's browser after payment
}

// FormField is one hidden input of the gateway form
type FormField struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// SignedForm is a signed redirect payload. Fields keep the gateway's parameter order.
type SignedForm struct {
	Action string      `json:"action"`
	Fields []FormField `json:"fields"`
}

// Value returns the field value for name
func (f *SignedForm) Value(name string) string {
	for _, field := range f.Fields {
		if field.Name == name {
			return field.Value
		}
	}
	return ""
}

var checkoutFormTemplate = template.Must(template.New("ecpay").Parse(`<form id="ecpayForm" method="post" action="{{.Action}}">
{{- range .Fields}}
<input type="hidden" name="{{.Name}}" value="{{.Value}}" />
{{- end}}
<input type="submit" value="Proceed to payment" />
</form>
<script>document.getElementById("ecpayForm").submit();</script>
`))

// HTML renders an auto-submitting form that posts the fields to the gateway
func (f *SignedForm) HTML() (string, error) {
	var buf bytes.Buffer
	if err := checkoutFormTemplate.Execute(&buf, f); err != nil {
		return "", fmt.Errorf("failed to render checkout form: %w", err)
	}
	return buf.String(), nil
}

// CallbackResult is a verified gateway notification
type CallbackResult struct {
	MerchantTradeNo string
	RtnCode         string
	RtnMsg          string
	TradeNo         string
	Raw             map[string]string
}

// Succeeded reports whether the gateway says the payment went through
func (r *CallbackResult) Succeeded() bool {
	return r.RtnCode == "1"
}

// EcpayGateway signs outbound payment requests and verifies callbacks
type EcpayGateway struct {
	cfg EcpayConfig
	now func() time.Time
}

// NewEcpayGateway validates the merchant configuration
func NewEcpayGateway(cfg EcpayConfig) (*EcpayGateway, error) {
	var missing []string
	if cfg.MerchantID == "" {
		missing = append(missing, "merchant id")
	}
	if cfg.HashKey == "" {
		missing = append(missing, "hash key")
	}
	if cfg.HashIV == "" {
		missing = append(missing, "hash IV")
	}
	if cfg.PaymentURL == "" {
		missing = append(missing, "payment URL")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("ecpay gateway: missing %s", strings.Join(missing, ", "))
	}

	switch cfg.EncryptType {
	case "":
		cfg.EncryptType = ecpayEncryptSHA256
	case ecpayEncryptSHA256, ecpayEncryptMD5:
	default:
		return nil, fmt.Errorf("ecpay gateway: unsupported encrypt type %q", cfg.EncryptType)
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}

	return &EcpayGateway{cfg: cfg, now: time.Now}, nil
}

// BuildCheckoutRequest produces the signed AIO checkout form for a pending order
func (g *EcpayGateway) BuildCheckoutRequest(order *models.Order, urls CheckoutURLs) (*SignedForm, error) {
	if order == nil || order.OrderNumber == "" {
		return nil, errors.New("ecpay gateway: order number is required")
	}
	if urls.ReturnURL == "" {
		return nil, errors.New("ecpay gateway: return URL is required")
	}

	fields := []FormField{
		{"MerchantID", g.cfg.MerchantID},
		{"MerchantTradeNo", order.OrderNumber},
		{"MerchantTradeDate", g.now().In(g.cfg.Location).Format("2006/01/02 15:04:05")},
		{"PaymentType", "aio"},
		{"TotalAmount", order.TotalPrice.Round(0).String()},
		{"TradeDesc", "NGO supply donation " + order.OrderNumber},
		{"ItemName", itemName(order)},
		{"ReturnURL", urls.ReturnURL},
		{"ChoosePayment", "ALL"},
		{"ClientBackURL", urls.ClientBackURL},
		{"NeedExtraPaidInfo", "N"},
		{"EncryptType", g.cfg.EncryptType},
	}

	params := make(map[string]string, len(fields))
	for _, f := range fields {
		params[f.Name] = f.Value
	}
	fields = append(fields, FormField{"CheckMacValue", g.GenerateCheckMacValue(params)})

	return &SignedForm{Action: g.cfg.PaymentURL, Fields: fields}, nil
}

// GenerateCheckMacValue computes the ECPay request signature
func (g *EcpayGateway) GenerateCheckMacValue(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if k == "CheckMacValue" || v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return strings.ToLower(keys[i]) < strings.ToLower(keys[j])
	})

	var b strings.Builder
	b.WriteString("HashKey=")
	b.WriteString(g.cfg.HashKey)
	for _, k := range keys {
		b.WriteString("&")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(params[k])
	}
	b.WriteString("&HashIV=")
	b.WriteString(g.cfg.HashIV)

	encoded := dotNetURLEncode(b.String())

	if g.cfg.EncryptType == ecpayEncryptMD5 {
		sum := md5.Sum([]byte(encoded))
		return strings.ToUpper(hex.EncodeToString(sum[:]))
	}
	sum := sha256.Sum256([]byte(encoded))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// VerifyCallback checks the CheckMacValue of a gateway notification
func (g *EcpayGateway) VerifyCallback(params map[string]string) (*CallbackResult, error) {
	tradeNo := params["MerchantTradeNo"]
	if tradeNo == "" {
		return nil, &SignatureError{Reason: "missing MerchantTradeNo"}
	}

	received := params["CheckMacValue"]
	if received == "" {
		return nil, &SignatureError{MerchantTradeNo: tradeNo, Reason: "missing CheckMacValue"}
	}

	expected := g.GenerateCheckMacValue(params)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(strings.ToUpper(received))) != 1 {
		return nil, &SignatureError{MerchantTradeNo: tradeNo, Reason: "CheckMacValue mismatch"}
	}

	raw := make(map[string]string, len(params))
	for k, v := range params {
		raw[k] = v
	}

	return &CallbackResult{
		MerchantTradeNo: tradeNo,
		RtnCode:         params["RtnCode"],
		RtnMsg:          params["RtnMsg"],
		TradeNo:         params["TradeNo"],
		Raw:             raw,
	}, nil
}

var dotNetReplacer = strings.NewReplacer(
	"%21", "!",
	"%2a", "*",
	"%28", "(",
	"%29", ")",
	"~", "%7e",
)

// dotNetURLEncode matches the encoding ECPay expects: form encoding, lowercased,
// with the characters .NET leaves untouched restored.
func dotNetURLEncode(s string) string {
	return dotNetReplacer.Replace(strings.ToLower(url.QueryEscape(s)))
}

func itemName(order *models.Order) string {
	if len(order.LineItems) == 0 {
		return "Supply donation"
	}

	names := make([]string, 0, len(order.LineItems))
	for _, line := range order.LineItems {
		names = append(names, fmt.Sprintf("%s x %d", line.SupplyName, line.Quantity))
	}
	name := strings.Join(names, "#")
	if utf8.RuneCountInString(name) > ecpayItemNameLimit {
		name = string([]rune(name)[:ecpayItemNameLimit])
	}
	return name
}
