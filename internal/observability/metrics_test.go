package observability

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNewMetricsConcurrency verifies that independent registries can be created concurrently
func TestNewMetricsConcurrency(t *testing.T) {
	t.Parallel()

	var wg sync.WaitGroup
	for range 20 {
		wg.Go(func() {
			m, err := NewMetrics()
			assert.NoError(t, err)
			if m != nil {
				assert.NotNil(t, m.Pipeline)
				assert.NotNil(t, m.Retrain)
				assert.NotNil(t, m.Storage)
			}
		})
	}
	wg.Wait()
}

func TestHandlerServesExposition(t *testing.T) {
	t.Parallel()

	m, err := NewMetrics()
	require.NoError(t, err)
	m.Pipeline.RecordImage()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "reid_images_processed_total 1")
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
