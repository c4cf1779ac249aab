package server

import (
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config configures the sync service process.
type Config struct {
	Address      string
	DatabasePath string
	LogPath      string // empty logs to stderr
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// NewLogger builds the service logger. When a log path is configured the
// file is size-rotated; otherwise output goes to stderr.
func NewLogger(cfg Config) *log.Logger {
	var out io.Writer = os.Stderr
	if cfg.LogPath != "" {
		out = &lumberjack.Logger{
			Filename:   cfg.LogPath,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		}
	}
	return log.New(out, "[server] ", log.LstdFlags)
}

// NewServer instantiates the http.Server with timeouts.
func NewServer(cfg Config, handler http.Handler) *http.Server {
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 15 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 30 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 120 * time.Second
	}
	return &http.Server{
		Addr:         cfg.Address,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}
