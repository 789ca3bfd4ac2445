package logging

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLogFilePath(t *testing.T) {
	start := time.Date(2026, 2, 12, 21, 38, 36, 0, time.UTC)

	assert.Equal(t,
		filepath.Join("logs", "egorecorder.20260212_213836.log"),
		LogFilePath("logs", "egorecorder", start))
	assert.Equal(t,
		filepath.Join("/var", "log", "lanes.20260212_213836.log"),
		LogFilePath(filepath.Join("/var", "log"), "lanes", start))
}
