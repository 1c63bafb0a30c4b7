package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/ngoplatform/donations-api/models"
)

// DefaultSupplyImage is shown when no picture and no keyword match exist
const DefaultSupplyImage = "/images/default-supply.png"

// ImageService resolves stored picture keys into URLs donors can load
type ImageService interface {
	// GetImageURL generates a URL for accessing a stored image
	GetImageURL(ctx context.Context, imageKey string) (string, error)
}

// S3ImageService implements ImageService using AWS S3 for storage
type S3ImageService struct {
	s3Service S3Interface
}

var imageServiceInstance ImageService

// InitImageService initializes the image service with S3 backend
func InitImageService(s3Service S3Interface) ImageService {
	imageServiceInstance = &S3ImageService{
		s3Service: s3Service,
	}
	return imageServiceInstance
}

// GetImageService returns the initialized image service instance
func GetImageService() ImageService {
	return imageServiceInstance
}

// SetImageService sets the image service instance (primarily for testing)
func SetImageService(service ImageService) {
	imageServiceInstance = service
}

// GetImageURL generates a presigned URL for accessing an image
func (s *S3ImageService) GetImageURL(ctx context.Context, imageKey string) (string, error) {
	if imageKey == "" {
		return "", nil
	}

	url, err := s.s3Service.GetPresignedURL(ctx, imageKey)
	if err != nil {
		return "", fmt.Errorf("failed to generate image URL: %w", err)
	}

	return url, nil
}

// keyword images, first match wins
var defaultImagesByKeyword = []struct {
	keywords []string
	image    string
}{
	{[]string{"first aid", "bandage", "急救"}, "/images/bandage.png"},
	{[]string{"medic", "insulin", "saline", "thermometer", "mask", "藥", "醫療"}, "/images/saline.jpg"},
	{[]string{"diaper", "wipe", "soap", "toothpaste", "towel", "尿布", "紙尿褲"}, "/images/wipes.jpg"},
	{[]string{"rice", "noodle", "milk", "canned", "food", "罐頭", "食物"}, "/images/corn.png"},
	{[]string{"blanket", "sleeping bag", "coat", "cloth", "睡袋", "衣"}, "/images/coat.png"},
}

// DefaultImageForName picks a stock picture from keywords in a supply name
func DefaultImageForName(name string) string {
	lower := strings.ToLower(name)
	for _, entry := range defaultImagesByKeyword {
		for _, kw := range entry.keywords {
			if strings.Contains(lower, kw) {
				return entry.image
			}
		}
	}
	return DefaultSupplyImage
}

// ResolveImageURL returns the stored picture's URL, or a keyword default when the
// key is unset or cannot be resolved.
func ResolveImageURL(ctx context.Context, svc ImageService, imageKey *string, name string) string {
	if svc != nil && imageKey != nil && *imageKey != "" {
		if url, err := svc.GetImageURL(ctx, *imageKey); err == nil && url != "" {
			return url
		}
	}
	return DefaultImageForName(name)
}

// AttachSupplyImages fills ImageURL on each supply
func AttachSupplyImages(ctx context.Context, svc ImageService, supplies []models.Supply) {
	for i := range supplies {
		supplies[i].ImageURL = ResolveImageURL(ctx, svc, supplies[i].ImageKey, supplies[i].Name)
	}
}

// AttachNeedImages fills ImageURL on each emergency need
func AttachNeedImages(ctx context.Context, svc ImageService, needs []models.EmergencyNeed) {
	for i := range needs {
		needs[i].ImageURL = ResolveImageURL(ctx, svc, needs[i].ImageKey, needs[i].SupplyName)
	}
}
