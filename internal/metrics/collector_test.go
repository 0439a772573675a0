package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCollector_SessionLifecycle(t *testing.T) {
	c := NewCollector("test", zap.NewNop())

	c.SessionStarted()
	c.SessionStarted()
	assert.Equal(t, float64(2), testutil.ToFloat64(c.sessionsActive))

	c.SessionFinalized("stop", 3*time.Second)
	assert.Equal(t, float64(1), testutil.ToFloat64(c.sessionsActive))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.sessionsFinalized.WithLabelValues("stop")))
}

func TestCollector_PipelineCounters(t *testing.T) {
	c := NewCollector("test", nil)

	c.TranscriptionObserved("TRANSCRIBED", time.Second)
	c.TranscriptionObserved("TOO_SMALL", 0)
	c.DeliveryObserved("summary", nil)
	c.DeliveryObserved("transcript", errors.New("webhook down"))
	c.ArtifactCleaned(nil)
	c.AudioWritten(1024)
	c.AudioWritten(-1)

	assert.Equal(t, float64(1), testutil.ToFloat64(c.transcriptions.WithLabelValues("TOO_SMALL")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.deliveries.WithLabelValues("transcript", "error")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.artifactsDeleted.WithLabelValues("deleted")))
	assert.Equal(t, float64(1024), testutil.ToFloat64(c.audioBytes))
}

func TestCollector_NilIsSafe(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.SessionStarted()
		c.SessionFinalized("stop", time.Second)
		c.CaptureStarted()
		c.TranscriptionObserved("FAILED", time.Second)
		c.SummaryObserved("ok")
		c.DeliveryObserved("summary", nil)
		c.ArtifactCleaned(nil)
	})
	assert.Nil(t, c.Registry())
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector("voicerecap", nil)
	c.CaptureStarted()

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "voicerecap_captures_started_total 1"))
}
