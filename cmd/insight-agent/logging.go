package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/apex/log"
	"github.com/apex/log/handlers/json"
	"github.com/apex/log/handlers/text"

	"github.com/xiaomayi-ant/insight-agent/config"
)

// logOutput is where service logs go, shared with the event log emitter.
type logOutput struct {
	writer io.Writer
	json   bool
	debug  bool
}

// setupLogging installs the apex/log handler for cfg. Logs go to stderr
// and, when cfg.File is set, to that file too.
func setupLogging(cfg config.Log) (*logOutput, func(), error) {
	level, err := log.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		return nil, nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}

	out := &logOutput{writer: os.Stderr, debug: level == log.DebugLevel}
	closeFn := func() {}
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return nil, nil, err
		}
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, err
		}
		out.writer = io.MultiWriter(os.Stderr, f)
		closeFn = func() { _ = f.Close() }
	}

	switch strings.ToLower(cfg.Format) {
	case "json":
		out.json = true
		log.SetHandler(json.New(out.writer))
	case "", "text":
		log.SetHandler(text.New(out.writer))
	default:
		closeFn()
		return nil, nil, fmt.Errorf("LOG_FORMAT: unknown format %q", cfg.Format)
	}
	log.SetLevel(level)
	return out, closeFn, nil
}
