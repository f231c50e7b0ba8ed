package utils

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// ParseLogLevel parses a string log level
func ParseLogLevel(level string) (slog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "INFO", "":
		return slog.LevelInfo, nil
	case "WARN", "WARNING":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level: %s", level)
	}
}

// NewLogger creates a slog logger writing to output in the given format ("text" or "json")
func NewLogger(output io.Writer, levelStr, format string) (*slog.Logger, error) {
	level, err := ParseLogLevel(levelStr)
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(output, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(output, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format: %s", format)
	}
}

// SetupLogging builds the process logger and installs it as the slog default.
// With a logFile the output is appended to that file; otherwise it goes to
// stderr. The returned closer releases the file.
func SetupLogging(levelStr, logFile, format string) (*slog.Logger, io.Closer, error) {
	var output io.Writer = os.Stderr
	var closer io.Closer = nopCloser{}

	if logFile != "" {
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		output = file
		closer = file
	}

	logger, err := NewLogger(output, levelStr, format)
	if err != nil {
		_ = closer.Close()
		return nil, nil, err
	}

	slog.SetDefault(logger)
	return logger, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// FormatBytes formats bytes as human-readable string
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}

	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}

	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// ParseBytes parses a human-readable byte string such as "64MB" or "512k"
func ParseBytes(s string) (int64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}

	s = strings.TrimSuffix(s, "B")

	multiplier := int64(1)
	if n := len(s); n > 0 {
		if i := strings.IndexByte("KMGTP", s[n-1]); i >= 0 {
			multiplier = int64(1) << (10 * (i + 1))
			s = strings.TrimSpace(s[:n-1])
		}
	}

	num, err := strconv.ParseFloat(s, 64)
	if err != nil || num < 0 {
		return 0, fmt.Errorf("invalid size: %q", s)
	}

	return int64(num * float64(multiplier)), nil
}
