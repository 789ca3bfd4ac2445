package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

const instrumentationName = "github.com/trafficlab/egorecorder"

// swapped by tests
var (
	osStdout io.Writer = os.Stdout
	osPipe             = os.Pipe
)

// SlogManager manages slog-based logging with optional OTel integration.
type SlogManager struct {
	logger *slog.Logger

	// OTel provider for flushing
	logProvider *sdklog.LoggerProvider

	// Echo also writes to stdout when a file is given.
	Echo bool

	// sinks receive every record as JSON (e.g. Graylog).
	sinks []io.Writer

	// Dynamic state attached to every record when set.
	GetSessionID func() string
	GetFrame     func() uint64
}

// NewSlogManager creates a new slog-based logging manager.
func NewSlogManager() *SlogManager {
	return &SlogManager{}
}

// parseLevel accepts slog level names in any case, including offsets such as
// "debug-2", and also "warning". Anything else is info.
func parseLevel(level string) slog.Level {
	if strings.EqualFold(level, "warning") {
		return slog.LevelWarn
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// AddSink registers a writer that receives JSON-encoded records. Sinks take
// effect on the next Setup.
func (m *SlogManager) AddSink(w io.Writer) {
	if w != nil {
		m.sinks = append(m.sinks, w)
	}
}

// Setup builds the logger. Records go to file, or to stdout when file is nil
// or Echo is set; every sink gets JSON and provider, when not nil, gets the
// OTel copy. Setup may be called again to swap outputs.
func (m *SlogManager) Setup(file io.Writer, level string, provider *sdklog.LoggerProvider) {
	m.logProvider = provider
	opts := &slog.HandlerOptions{
		Level:       parseLevel(level),
		ReplaceAttr: utcTime,
	}

	var sinks []slog.Handler
	if file == nil || m.Echo {
		sinks = append(sinks, slog.NewTextHandler(osStdout, opts))
	}
	if file != nil {
		sinks = append(sinks, slog.NewTextHandler(file, opts))
	}
	for _, w := range m.sinks {
		sinks = append(sinks, slog.NewJSONHandler(w, opts))
	}
	if provider != nil {
		sinks = append(sinks, otelslog.NewHandler(instrumentationName, otelslog.WithLoggerProvider(provider)))
	}

	m.logger = slog.New(recordingHandler{next: newFanout(sinks...), m: m})
	m.logger.Info("Logging initialized", "level", level, "sinks", len(sinks))
}

func utcTime(_ []string, a slog.Attr) slog.Attr {
	if a.Key != slog.TimeKey {
		return a
	}
	if t, ok := a.Value.Any().(time.Time); ok {
		a.Value = slog.StringValue(t.UTC().Format(time.RFC3339))
	}
	return a
}

// Logger returns the configured slog.Logger.
func (m *SlogManager) Logger() *slog.Logger {
	if m.logger == nil {
		return slog.Default()
	}
	return m.logger
}

// Flush forces a flush of OTel logs if available.
func (m *SlogManager) Flush(ctx context.Context) error {
	if m.logProvider != nil {
		return m.logProvider.ForceFlush(ctx)
	}
	return nil
}
