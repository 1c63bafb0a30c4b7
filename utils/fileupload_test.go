package utils

import (
	"bytes"
	"mime/multipart"
	"net/textproto"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// createTestFileHeader creates a mock multipart.FileHeader for testing
func createTestFileHeader(filename string, size int64, content []byte) *multipart.FileHeader {
	// Create a buffer to write our multipart form
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	// Create form file
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	h.Set("Content-Type", "image/png")
	part, _ := writer.CreatePart(h)
	part.Write(content)
	writer.Close()

	// Parse the multipart form
	reader := multipart.NewReader(body, writer.Boundary())
	form, _ := reader.ReadForm(int64(len(content)) + 1024)
	defer form.RemoveAll()

	if len(form.File["file"]) > 0 {
		fileHeader := form.File["file"][0]
		// Override size for testing purposes
		fileHeader.Size = size
		return fileHeader
	}

	return nil
}

func TestValidateImageFile(t *testing.T) {
	tests := []struct {
		name         string
		filename     string
		size         int64
		expectedCode string
	}{
		{name: "PNG under the limit", filename: "rice.png", size: 2048},
		{name: "JPG accepted", filename: "blanket.jpg", size: 2048},
		{name: "JPEG accepted", filename: "blanket.jpeg", size: 2048},
		{name: "uppercase extension", filename: "milk.PNG", size: 2048},
		{name: "too large", filename: "large.png", size: 11 * 1024 * 1024, expectedCode: "FILE_TOO_LARGE"},
		{name: "empty file", filename: "empty.png", size: 0, expectedCode: "EMPTY_FILE"},
		{name: "GIF rejected", filename: "anim.gif", size: 2048, expectedCode: "INVALID_FILE_FORMAT"},
		{name: "no extension", filename: "picture", size: 2048, expectedCode: "INVALID_FILE_FORMAT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			content := []byte("fake image content")
			fileHeader := createTestFileHeader(tt.filename, tt.size, content)
			require.NotNil(t, fileHeader)

			err := ValidateImageFile(fileHeader)
			if tt.expectedCode == "" {
				assert.NoError(t, err)
				return
			}

			var fileErr *FileUploadError
			require.ErrorAs(t, err, &fileErr)
			assert.Equal(t, tt.expectedCode, fileErr.Code)
		})
	}
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "image/png", ContentType("rice.png"))
	assert.Equal(t, "image/jpeg", ContentType("coat.JPG"))
	assert.Equal(t, "image/jpeg", ContentType("coat.jpeg"))
	assert.Equal(t, "application/octet-stream", ContentType("notes.txt"))
}

func TestSupplyImageKey(t *testing.T) {
	now := time.Unix(1700000000, 0)

	assert.Equal(t, "supplies/7/1700000000_rice-bag-5kg-.png", SupplyImageKey(7, "Rice Bag (5kg).PNG", now))
	assert.Equal(t, "supplies/7/1700000000_passwd.png", SupplyImageKey(7, "../../etc/passwd.png", now))
	assert.Equal(t, "supplies/3/1700000000_image.png", SupplyImageKey(3, "救援.png", now))
}

func TestFileUploadError_Error(t *testing.T) {
	err := &FileUploadError{
		Code:    "TEST_CODE",
		Message: "Test error message",
	}

	assert.Equal(t, "Test error message", err.Error())
}
