package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/trafficlab/egorecorder/internal/config"
	"github.com/trafficlab/egorecorder/internal/logging"
	intOtel "github.com/trafficlab/egorecorder/internal/otel"

	"github.com/rs/zerolog"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// app holds the process-wide logging and telemetry state.
type app struct {
	start time.Time

	slog    *logging.SlogManager
	log     *slog.Logger
	logFile *os.File
	logPath string
	graylog io.Closer
	otel    *intOtel.Provider
	stdout  io.Writer
}

func newApp(stdout io.Writer, echo bool) (*app, error) {
	a := &app{
		start:  time.Now(),
		slog:   logging.NewSlogManager(),
		stdout: stdout,
	}
	a.slog.Echo = echo
	if echo {
		a.slog.Setup(nil, config.GetString("logLevel"), nil)
	}
	a.log = a.slog.Logger()

	logsDir := config.GetString("logsDir")
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create logs directory: %w", err)
	}
	a.logPath = logging.LogFilePath(logsDir, AppName, a.start)
	if _, err := os.Stat(a.logPath); err == nil {
		_ = os.Rename(a.logPath, a.logPath+".old")
	}
	f, err := os.OpenFile(a.logPath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	a.logFile = f

	if config.GetBool("graylog.enabled") {
		w, err := logging.NewGraylogWriter(config.GetString("graylog.address"), AppName)
		if err != nil {
			a.log.Warn("Graylog disabled", "error", err)
		} else {
			a.graylog = w
			a.slog.AddSink(w)
		}
	}

	otelCfg := config.GetOTelConfig()
	if otelCfg.Enabled {
		a.otel, err = intOtel.New(intOtel.Config{
			Enabled:      otelCfg.Enabled,
			ServiceName:  otelCfg.ServiceName,
			BatchTimeout: otelCfg.BatchTimeout,
			LogWriter:    a.logFile,
			Endpoint:     otelCfg.Endpoint,
			Insecure:     otelCfg.Insecure,
		})
		if err != nil {
			a.log.Error("Failed to initialize OTel provider", "error", err)
		} else if otelCfg.Endpoint != "" {
			a.log.Info("OTel provider initialized", "file", a.logPath, "endpoint", otelCfg.Endpoint)
		} else {
			a.log.Info("OTel provider initialized", "file", a.logPath)
		}
	}

	var otelLogProvider *sdklog.LoggerProvider
	if a.otel != nil {
		otelLogProvider = a.otel.LoggerProvider()
	}
	a.slog.Setup(a.logFile, config.GetString("logLevel"), otelLogProvider)
	a.log = a.slog.Logger()
	a.log.Info("Starting up", "version", CurrentVersion, "build", BuildDate, "log", a.logPath)
	return a, nil
}

// zerolog returns the console logger used by the InfluxDB backend.
func (a *app) zerolog() zerolog.Logger {
	return logging.NewZerolog(config.GetString("logLevel"), true, a.stdout, a.logFile)
}

func (a *app) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := a.slog.Flush(ctx); err != nil {
		a.log.Warn("Failed to flush logs", "error", err)
	}
	if a.otel != nil {
		if err := a.otel.Shutdown(ctx); err != nil {
			a.log.Warn("Failed to shut down OTel", "error", err)
		}
	}
	a.log.Info("Shut down", "uptime", time.Since(a.start).Round(time.Millisecond))
	if a.graylog != nil {
		_ = a.graylog.Close()
	}
	if a.logFile != nil {
		_ = a.logFile.Close()
	}
}
