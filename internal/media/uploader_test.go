package media

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/doubthub/doubthub/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCategory(t *testing.T) {
	tcases := []struct {
		name     string
		mimeType string
		fileName string
		expected string
	}{
		{
			name:     "image defaults to image",
			mimeType: "image/png",
			fileName: "photo.png",
			expected: "image",
		},
		{
			name:     "video routes to video",
			mimeType: "video/mp4",
			fileName: "clip.mp4",
			expected: "video",
		},
		{
			name:     "pdf mime routes to raw",
			mimeType: "application/pdf",
			fileName: "notes",
			expected: "raw",
		},
		{
			name:     "pdf extension routes to raw",
			mimeType: "application/octet-stream",
			fileName: "notes.pdf",
			expected: "raw",
		},
		{
			name:     "pptx extension routes to raw",
			mimeType: "application/octet-stream",
			fileName: "slides.pptx",
			expected: "raw",
		},
		{
			name:     "unknown type defaults to image",
			mimeType: "application/octet-stream",
			fileName: "blob.bin",
			expected: "image",
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, Category(tc.mimeType, tc.fileName))
		})
	}
}

func TestUpload(t *testing.T) {
	var (
		gotPath   string
		gotPreset string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, r.ParseMultipartForm(1<<20))
		gotPreset = r.FormValue("upload_preset")

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"secure_url":"https://cdn.example.com/asset.pdf"}`))
	}))
	defer srv.Close()

	u := NewUploader(testutil.TestLogger(t), "test-cloud", "test-preset")
	u.baseURL = srv.URL

	asset, err := u.Upload(context.Background(), "notes.pdf", "application/pdf", []byte("pdf-bytes"), nil)
	assert.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/asset.pdf", asset.SecureURL)
	assert.Equal(t, "/v1_1/test-cloud/raw/upload", gotPath, "expected raw category in upload path")
	assert.Equal(t, "test-preset", gotPreset)
}

func TestUpload_NotConfigured(t *testing.T) {
	u := NewUploader(testutil.TestLogger(t), "", "")
	_, err := u.Upload(context.Background(), "a.png", "image/png", nil, nil)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestUpload_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid preset", http.StatusBadRequest)
	}))
	defer srv.Close()

	u := NewUploader(testutil.TestLogger(t), "test-cloud", "test-preset")
	u.baseURL = srv.URL

	_, err := u.Upload(context.Background(), "a.png", "image/png", []byte("x"), nil)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "upload failed")
	assert.Contains(t, err.Error(), "invalid preset")
}

func TestUpload_MissingSecureURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	u := NewUploader(testutil.TestLogger(t), "test-cloud", "test-preset")
	u.baseURL = srv.URL

	_, err := u.Upload(context.Background(), "a.png", "image/png", []byte("x"), nil)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "no secure URL")
}

func TestUpload_ProgressIsMonotoneAndCompletes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"secure_url":"https://cdn.example.com/a.png"}`))
	}))
	defer srv.Close()

	u := NewUploader(testutil.TestLogger(t), "test-cloud", "test-preset")
	u.baseURL = srv.URL

	var (
		mu   sync.Mutex
		pcts []int
	)
	progress := func(pct int) {
		mu.Lock()
		pcts = append(pcts, pct)
		mu.Unlock()
	}

	_, err := u.Upload(context.Background(), "a.png", "image/png", []byte("x"), progress)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, pcts, "expected progress updates")
	for i := 1; i < len(pcts); i++ {
		assert.GreaterOrEqual(t, pcts[i], pcts[i-1], "expected monotone progress")
	}
	assert.Equal(t, 100, pcts[len(pcts)-1], "expected final progress of 100")
}
