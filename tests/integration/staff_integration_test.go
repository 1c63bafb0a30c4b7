package integration

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/ngoplatform/donations-api/config"
	"github.com/ngoplatform/donations-api/controllers"
	"github.com/ngoplatform/donations-api/middleware"
	"github.com/ngoplatform/donations-api/models"
	"github.com/ngoplatform/donations-api/services"
	"github.com/ngoplatform/donations-api/tests/testutil"
	"github.com/stretchr/testify/suite"
	"gorm.io/gorm"
)

// StaffIntegrationTestSuite covers the routes reserved for NGO staff
type StaffIntegrationTestSuite struct {
	suite.Suite
	cfg    *config.Config
	router *gin.Engine
	db     *gorm.DB
	s3     *services.MockS3Service
}

// SetupSuite runs once before all tests
func (suite *StaffIntegrationTestSuite) SetupSuite() {
	gin.SetMode(gin.TestMode)
	suite.cfg = testutil.MustSetTestEnvironment(suite.T())
}

// SetupTest runs before each test
func (suite *StaffIntegrationTestSuite) SetupTest() {
	suite.db = testutil.NewTestDB(suite.T())
	config.SetDB(suite.db)
	config.SetConfig(suite.cfg)

	gateway, err := services.NewEcpayGateway(services.EcpayConfig{
		MerchantID: suite.cfg.EcpayMerchantID,
		HashKey:    suite.cfg.EcpayHashKey,
		HashIV:     suite.cfg.EcpayHashIV,
		PaymentURL: suite.cfg.EcpayPaymentURL,
	})
	suite.Require().NoError(err)
	catalog, err := services.DefaultPackageCatalog()
	suite.Require().NoError(err)
	services.SetCheckoutService(services.NewCheckoutService(suite.db, catalog,
		services.NewOrderLedger(suite.db, "NGO", 5, nil), gateway))

	// Image URLs are presigned by the same mock bucket the upload writes to
	suite.s3 = services.NewMockS3Service()
	suite.s3.SetAsMockForTesting()
	services.InitImageService(suite.s3)

	staff := testutil.MockAuth("auth0|staff", "staff-token", middleware.ScopeManageNeeds, middleware.ScopeManageSupplies)
	volunteer := testutil.MockAuth("auth0|volunteer", "volunteer-token")

	suite.router = gin.New()
	v1 := suite.router.Group("/api/v1")
	{
		v1.GET("/supplies", controllers.ListSupplies)
		v1.GET("/emergency-needs", controllers.ListEmergencyNeeds)

		v1.PUT("/supplies/:id/image", staff, middleware.RequireScope(middleware.ScopeManageSupplies), controllers.UploadSupplyImage)
		v1.POST("/emergency-needs/:id/fulfill", staff, middleware.RequireScope(middleware.ScopeManageNeeds), controllers.FulfillEmergencyNeed)

		v1.PUT("/volunteer/supplies/:id/image", volunteer, middleware.RequireScope(middleware.ScopeManageSupplies), controllers.UploadSupplyImage)
		v1.POST("/volunteer/emergency-needs/:id/fulfill", volunteer, middleware.RequireScope(middleware.ScopeManageNeeds), controllers.FulfillEmergencyNeed)
	}
}

// TearDownTest runs after each test
func (suite *StaffIntegrationTestSuite) TearDownTest() {
	services.SetCheckoutService(nil)
	services.SetS3Service(nil)
	services.SetImageService(nil)
}

func (suite *StaffIntegrationTestSuite) upload(path, filename string) (*httptest.ResponseRecorder, map[string]interface{}) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("image", filename)
	suite.Require().NoError(err)
	_, err = part.Write([]byte("\x89PNG\r\n\x1a\nfake image bytes"))
	suite.Require().NoError(err)
	suite.Require().NoError(writer.Close())

	req := httptest.NewRequest(http.MethodPut, path, body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	w := httptest.NewRecorder()
	suite.router.ServeHTTP(w, req)

	var response map[string]interface{}
	_ = json.Unmarshal(w.Body.Bytes(), &response)
	return w, response
}

func (suite *StaffIntegrationTestSuite) get(path string) map[string]interface{} {
	w := httptest.NewRecorder()
	suite.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	suite.Require().Equal(http.StatusOK, w.Code, w.Body.String())

	var response map[string]interface{}
	suite.Require().NoError(json.Unmarshal(w.Body.Bytes(), &response))
	return response
}

// TestUploadedImageIsServedInListing stores the picture and presigns it on read
func (suite *StaffIntegrationTestSuite) TestUploadedImageIsServedInListing() {
	w, response := suite.upload("/api/v1/supplies/22/image", "soap.JPG")
	suite.Require().Equal(http.StatusOK, w.Code, w.Body.String())

	data := response["data"].(map[string]interface{})
	suite.True(strings.HasPrefix(data["image_url"].(string), "https://test-bucket.s3.ap-northeast-1.amazonaws.com/supplies/22/"))

	var supply models.Supply
	suite.Require().NoError(suite.db.First(&supply, 22).Error)
	suite.Require().NotNil(supply.ImageKey)
	suite.True(suite.s3.Has(*supply.ImageKey))
	suite.True(strings.HasSuffix(*supply.ImageKey, "_soap.jpg"))

	for _, item := range suite.get("/api/v1/supplies")["data"].([]interface{}) {
		listed := item.(map[string]interface{})
		if listed["name"] == "Bar Soap" {
			suite.Equal(data["image_url"], listed["image_url"])
		}
	}
}

// TestUploadRequiresScope keeps volunteers out of catalog management
func (suite *StaffIntegrationTestSuite) TestUploadRequiresScope() {
	w, response := suite.upload("/api/v1/volunteer/supplies/22/image", "soap.png")
	suite.Equal(http.StatusForbidden, w.Code)
	suite.Equal("INSUFFICIENT_SCOPE", response["error"].(map[string]interface{})["code"])
}

// TestFulfillLifecycle walks a need from fundraising to fulfilled
func (suite *StaffIntegrationTestSuite) TestFulfillLifecycle() {
	post := func(path string) (int, map[string]interface{}) {
		w := httptest.NewRecorder()
		suite.router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, path, nil))
		var response map[string]interface{}
		_ = json.Unmarshal(w.Body.Bytes(), &response)
		return w.Code, response
	}

	code, response := post("/api/v1/emergency-needs/2/fulfill")
	suite.Equal(http.StatusConflict, code, "a need still fundraising cannot be fulfilled")
	suite.Equal("INVALID_STATUS_TRANSITION", response["error"].(map[string]interface{})["code"])

	tracker := services.GetCheckoutService().Needs()
	suite.Require().NoError(suite.db.Transaction(func(tx *gorm.DB) error {
		_, err := tracker.ReserveProgress(suite.T().Context(), tx, 2, 5)
		return err
	}))

	code, _ = post("/api/v1/volunteer/emergency-needs/2/fulfill")
	suite.Equal(http.StatusForbidden, code)

	code, response = post("/api/v1/emergency-needs/2/fulfill")
	suite.Require().Equal(http.StatusOK, code)
	suite.Equal(models.NeedStatusFulfilled, response["data"].(map[string]interface{})["status"])

	for _, item := range suite.get("/api/v1/emergency-needs")["data"].([]interface{}) {
		suite.NotEqual("Milk Powder", item.(map[string]interface{})["supply_name"])
	}
}

// TestStaffIntegrationSuite runs the test suite
func TestStaffIntegrationSuite(t *testing.T) {
	suite.Run(t, new(StaffIntegrationTestSuite))
}
