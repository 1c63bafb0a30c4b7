package services

import (
	"context"
	"fmt"
	"sync"
)

// MockImageService is a mock implementation of ImageService for testing
type MockImageService struct {
	images map[string]bool
	mu     sync.RWMutex
}

// NewMockImageService creates a new mock image service
func NewMockImageService() *MockImageService {
	return &MockImageService{
		images: make(map[string]bool),
	}
}

// SetAsMockForTesting sets this mock as the global image service instance for testing
func (m *MockImageService) SetAsMockForTesting() {
	SetImageService(m)
}

// AddImage registers a key as resolvable
func (m *MockImageService) AddImage(imageKey string) {
	m.mu.Lock()
	m.images[imageKey] = true
	m.mu.Unlock()
}

// GetImageURL simulates generating an image URL
func (m *MockImageService) GetImageURL(_ context.Context, imageKey string) (string, error) {
	if imageKey == "" {
		return "", nil
	}

	m.mu.RLock()
	exists := m.images[imageKey]
	m.mu.RUnlock()

	if !exists {
		return "", fmt.Errorf("image not found: %s", imageKey)
	}

	return fmt.Sprintf("https://mock-storage.example.com/%s", imageKey), nil
}
