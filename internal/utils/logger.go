package utils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// NewLogger creates the process logger. Unknown levels fall back to info.
func NewLogger(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logger.SetLevel(ParseLevel(level))
	return logger
}

// ParseLevel parses a logrus level name, defaulting to info.
func ParseLevel(level string) logrus.Level {
	parsed, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return logrus.InfoLevel
	}
	return parsed
}

// CrawlerLogger writes one crawl's log to its own file under
// <dir>/<source>/crawl_<source>_<timestamp>.log and mirrors it to stdout.
type CrawlerLogger struct {
	*logrus.Logger
	file *os.File
	path string
}

func NewCrawlerLogger(sourceName, dir string, level logrus.Level) (*CrawlerLogger, error) {
	sanitized := SanitizeName(sourceName)

	if dir == "" {
		dir = "logs"
	}
	sourceDir := filepath.Join(dir, sanitized)
	if err := os.MkdirAll(sourceDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	timestamp := time.Now().Format("2006-01-02_15-04-05")
	logPath := filepath.Join(sourceDir, fmt.Sprintf("crawl_%s_%s.log", sanitized, timestamp))

	file, err := os.Create(logPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create log file: %w", err)
	}

	logger := logrus.New()
	logger.SetOutput(io.MultiWriter(os.Stdout, file))
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, DisableColors: true})
	logger.SetLevel(level)

	return &CrawlerLogger{Logger: logger, file: file, path: logPath}, nil
}

// Path is the log file location.
func (cl *CrawlerLogger) Path() string {
	return cl.path
}

func (cl *CrawlerLogger) Close() error {
	return cl.file.Close()
}

// SanitizeName lower-cases name and replaces characters that are awkward in
// file names with underscores.
func SanitizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return "unnamed"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, name)
}
