package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/UpperMoon0/Echo/internal/config"
	"github.com/UpperMoon0/Echo/internal/metrics"
	"github.com/UpperMoon0/Echo/internal/recognizer"
	"github.com/UpperMoon0/Echo/internal/segmenter"
	"github.com/UpperMoon0/Echo/internal/session"
)

// Prometheus metrics register globally; create them once per test binary.
var (
	testMetrics     *metrics.Metrics
	testMetricsOnce sync.Once
)

func getTestMetrics() *metrics.Metrics {
	testMetricsOnce.Do(func() {
		testMetrics = metrics.NewMetrics()
	})
	return testMetrics
}

// fakeTranscriber is a scripted FileTranscriber recording the last call
type fakeTranscriber struct {
	result recognizer.Result
	err    error

	lastFilename string
	lastLanguage string
	lastModel    string
	lastData     []byte
	calls        int

	mu sync.Mutex
}

func (f *fakeTranscriber) TranscribeFile(ctx context.Context, filename string, data []byte, language, model string) (recognizer.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	f.lastFilename = filename
	f.lastLanguage = language
	f.lastModel = model
	f.lastData = data

	return f.result, f.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, transcriber FileTranscriber) *Server {
	return newTestServerWithConfig(t, config.Default(), transcriber)
}

func newTestServerWithConfig(t *testing.T, cfg *config.Config, transcriber FileTranscriber) *Server {
	t.Helper()

	mgr, err := session.NewManager(testLogger(), recognizer.NewMock().QueueResult("buffered text"), session.ManagerConfig{
		SampleRate:     cfg.Audio.SampleRate,
		Language:       cfg.Recognizer.Language,
		SessionTimeout: 5 * time.Minute,
		Segmenter: segmenter.Config{
			SilenceThreshold: cfg.Segmenter.SilenceThreshold,
			ShortSilence:     cfg.Segmenter.GetShortSilenceDuration(),
			LongSilence:      cfg.Segmenter.GetLongSilenceDuration(),
		},
	})
	if err != nil {
		t.Fatalf("Failed to create session manager: %v", err)
	}
	t.Cleanup(mgr.Stop)

	return NewServer(testLogger(), cfg, mgr, transcriber, getTestMetrics())
}

// serve runs one request through the server's mux
func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, req)
	return rec
}
