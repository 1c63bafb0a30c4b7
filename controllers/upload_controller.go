package controllers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ngoplatform/donations-api/logging"
	"github.com/ngoplatform/donations-api/services"
	"github.com/ngoplatform/donations-api/utils"
	"go.uber.org/zap"
)

// UploadSupplyImage handles PUT /api/v1/supplies/:id/image - stores a supply picture in S3
// Requires the manage:supplies scope (enforced by the router)
func UploadSupplyImage(c *gin.Context) {
	svc := checkoutServiceOrAbort(c)
	if svc == nil {
		return
	}

	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		respondError(c, http.StatusBadRequest, "INVALID_ID", "Supply ID must be a positive integer")
		return
	}

	storage := services.GetS3Service()
	if storage == nil {
		respondError(c, http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "Image storage is not configured")
		return
	}

	fileHeader, err := c.FormFile("image")
	if err != nil {
		respondError(c, http.StatusBadRequest, "MISSING_FILE", "An image file is required in the 'image' field")
		return
	}
	if err := utils.ValidateImageFile(fileHeader); err != nil {
		if fileErr, ok := err.(*utils.FileUploadError); ok {
			respondError(c, http.StatusBadRequest, fileErr.Code, fileErr.Message)
			return
		}
		respondError(c, http.StatusBadRequest, "INVALID_FILE", err.Error())
		return
	}

	ctx := c.Request.Context()
	if _, err := svc.Inventory().Get(ctx, uint(id)); err != nil {
		respondServiceError(c, err)
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_FILE", "Failed to read uploaded file")
		return
	}
	defer func() { _ = file.Close() }()

	key := utils.SupplyImageKey(uint(id), fileHeader.Filename, time.Now())
	if err := storage.UploadImage(ctx, key, utils.ContentType(fileHeader.Filename), file); err != nil {
		logging.FromContext(ctx).Error("supply_image_upload_failed", zap.Uint64("supply_id", id), zap.Error(err))
		respondError(c, http.StatusBadGateway, "UPLOAD_FAILED", "Failed to store the image")
		return
	}

	supply, err := svc.Inventory().SetImageKey(ctx, uint(id), key)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	supply.ImageURL = services.ResolveImageURL(ctx, services.GetImageService(), supply.ImageKey, supply.Name)

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    supply,
	})
}
