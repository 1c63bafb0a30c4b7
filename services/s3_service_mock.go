package services

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// MockS3Service is a mock implementation of S3Service for testing
type MockS3Service struct {
	objects map[string]bool
	mu      sync.RWMutex
}

// NewMockS3Service creates a new mock S3 service
func NewMockS3Service() *MockS3Service {
	return &MockS3Service{
		objects: make(map[string]bool),
	}
}

// SetAsMockForTesting sets this mock as the global S3 service instance for testing
func (m *MockS3Service) SetAsMockForTesting() {
	SetS3Service(m)
}

// PutObject registers a key as present in the mock bucket
func (m *MockS3Service) PutObject(s3Key string) {
	m.mu.Lock()
	m.objects[s3Key] = true
	m.mu.Unlock()
}

// UploadImage drains body and registers the key
func (m *MockS3Service) UploadImage(_ context.Context, s3Key, _ string, body io.Reader) error {
	if _, err := io.Copy(io.Discard, body); err != nil {
		return fmt.Errorf("failed to read upload: %w", err)
	}
	m.PutObject(s3Key)
	return nil
}

// Has reports whether a key was stored
func (m *MockS3Service) Has(s3Key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.objects[s3Key]
}

// GetPresignedURL simulates generating a presigned URL
func (m *MockS3Service) GetPresignedURL(_ context.Context, s3Key string) (string, error) {
	if s3Key == "" {
		return "", nil
	}

	m.mu.RLock()
	exists := m.objects[s3Key]
	m.mu.RUnlock()

	if !exists {
		return "", fmt.Errorf("object not found in mock S3: %s", s3Key)
	}

	return fmt.Sprintf("https://test-bucket.s3.ap-northeast-1.amazonaws.com/%s?mock=true", s3Key), nil
}

// Clear removes all objects from mock storage
func (m *MockS3Service) Clear() {
	m.mu.Lock()
	m.objects = make(map[string]bool)
	m.mu.Unlock()
}
