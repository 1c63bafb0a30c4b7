package services

import (
	"testing"
	"time"

	"github.com/ngoplatform/donations-api/config"
	"github.com/ngoplatform/donations-api/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	taipei    = time.FixedZone("CST", 8*60*60)
	fixedNow  = time.Date(2026, 10, 19, 10, 30, 0, 0, taipei)
	testClock = func() time.Time { return fixedNow }
)

const (
	testHashKey = "5294y06JbISpM5x9"
	testHashIV  = "v77hoKGq4kWxNNIS"
)

func setupServiceTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err, "Failed to connect to test database")

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// a single connection keeps every transaction on the same in-memory database
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, config.AutoMigrate(db), "Failed to migrate test database")
	return db
}

func createSupply(t *testing.T, db *gorm.DB, id uint, name string, price int64, onHand int) *models.Supply {
	t.Helper()
	supply := &models.Supply{
		ID:        id,
		Name:      name,
		UnitPrice: decimal.NewFromInt(price),
		OnHand:    onHand,
		Type:      models.SupplyTypeRegular,
	}
	require.NoError(t, db.Create(supply).Error)
	return supply
}

func createNeed(t *testing.T, db *gorm.DB, name string, price int64, target, collected int) *models.EmergencyNeed {
	t.Helper()
	need := &models.EmergencyNeed{
		CaseID:     101,
		SupplyName: name,
		UnitPrice:  decimal.NewFromInt(price),
		Target:     target,
		Collected:  collected,
		Status:     models.NeedStatusFundraising,
	}
	require.NoError(t, db.Create(need).Error)
	return need
}

func createDonor(t *testing.T, db *gorm.DB, auth0ID string) *models.Donor {
	t.Helper()
	donor := &models.Donor{Auth0ID: auth0ID, Name: "Test Donor", Email: auth0ID + "@example.com"}
	require.NoError(t, db.Create(donor).Error)
	return donor
}

func newTestGateway(t *testing.T) *EcpayGateway {
	t.Helper()
	gw, err := NewEcpayGateway(EcpayConfig{
		MerchantID: "2000132",
		HashKey:    testHashKey,
		HashIV:     testHashIV,
		PaymentURL: "https://payment-stage.ecpay.com.tw/Cashier/AioCheckOut/V5",
		Location:   taipei,
	})
	require.NoError(t, err)
	gw.now = testClock
	return gw
}

func newTestCheckout(t *testing.T, db *gorm.DB, opts ...CheckoutOption) *CheckoutService {
	t.Helper()
	catalog, err := DefaultPackageCatalog()
	require.NoError(t, err)

	ledger := NewOrderLedger(db, "NGO", 5, taipei)
	opts = append([]CheckoutOption{WithClock(testClock)}, opts...)
	return NewCheckoutService(db, catalog, ledger, newTestGateway(t), opts...)
}

var testURLs = CheckoutURLs{
	ReturnURL:     "https://api.example.org/api/v1/payments/ecpay/callback",
	ClientBackURL: "https://www.example.org/donate/complete",
}

// signedCallback builds a gateway notification signed with the test credentials
func signedCallback(gw *EcpayGateway, orderNumber, rtnCode string) map[string]string {
	params := map[string]string{
		"MerchantID":      "2000132",
		"MerchantTradeNo": orderNumber,
		"RtnCode":         rtnCode,
		"RtnMsg":          "Succeeded",
		"TradeNo":         "2610191030123456",
		"TradeAmt":        "135",
		"PaymentDate":     "2026/10/19 10:31:02",
		"PaymentType":     "Credit_CreditCard",
		"SimulatePaid":    "0",
	}
	params["CheckMacValue"] = gw.GenerateCheckMacValue(params)
	return params
}

func uintPtr(v uint) *uint { return &v }
