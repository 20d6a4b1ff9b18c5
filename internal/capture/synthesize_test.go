package capture

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hooklens/hooklens/internal/models"
)

func TestSynthesizeDefaultTemplate(t *testing.T) {
	rec := httptest.NewRecorder()

	err := Synthesize(context.Background(), rec, models.DefaultTemplate())
	require.NoError(t, err)

	assert.Equal(t, 200, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, `{"message":"OK"}`, rec.Body.String())
}

func TestSynthesizeCustomTemplate(t *testing.T) {
	rec := httptest.NewRecorder()
	tmpl := models.ResponseTemplate{
		StatusCode:  418,
		Headers:     map[string]string{"X-Teapot": "short and stout"},
		Body:        "<error/>",
		ContentType: models.ContentXML,
	}

	err := Synthesize(context.Background(), rec, tmpl)
	require.NoError(t, err)

	assert.Equal(t, 418, rec.Code)
	assert.Equal(t, "application/xml", rec.Header().Get("Content-Type"))
	assert.Equal(t, "short and stout", rec.Header().Get("X-Teapot"))
	assert.Equal(t, "<error/>", rec.Body.String())
}

func TestSynthesizeHeaderOverridesContentType(t *testing.T) {
	rec := httptest.NewRecorder()
	tmpl := models.ResponseTemplate{
		StatusCode:  200,
		Headers:     map[string]string{"Content-Type": "application/vnd.custom+json"},
		Body:        "{}",
		ContentType: models.ContentJSON,
	}

	require.NoError(t, Synthesize(context.Background(), rec, tmpl))
	assert.Equal(t, "application/vnd.custom+json", rec.Header().Get("Content-Type"))
}

func TestSynthesizeDelay(t *testing.T) {
	rec := httptest.NewRecorder()
	tmpl := models.DefaultTemplate()
	tmpl.DelayMs = 50

	start := time.Now()
	require.NoError(t, Synthesize(context.Background(), rec, tmpl))
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed.Milliseconds(), int64(50))
	assert.Equal(t, 200, rec.Code)
}

func TestSynthesizeZeroDelayIsImmediate(t *testing.T) {
	rec := httptest.NewRecorder()

	start := time.Now()
	require.NoError(t, Synthesize(context.Background(), rec, models.DefaultTemplate()))

	assert.Less(t, time.Since(start), time.Second)
}

func TestSynthesizeAbandonedOnCancel(t *testing.T) {
	rec := httptest.NewRecorder()
	tmpl := models.DefaultTemplate()
	tmpl.DelayMs = 5000

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := Synthesize(ctx, rec, tmpl)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, rec.Body.String())
}
