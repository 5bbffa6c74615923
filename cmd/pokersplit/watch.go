package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"

	"github.com/lox/pokersplit/internal/client"
	"github.com/lox/pokersplit/internal/gamecode"
	"github.com/lox/pokersplit/internal/tui"
)

// WatchCmd follows a round live. Anyone with the code may watch.
type WatchCmd struct {
	Code    string `arg:"" help:"Six character round code"`
	Server  string `kong:"default='http://localhost:8080',env='POKERSPLIT_SERVER',help='Server base URL'"`
	LogFile string `kong:"type='path',help='Write debug logs to this file'"`
}

func (c *WatchCmd) Run() error {
	code := gamecode.Normalize(c.Code)
	if err := gamecode.Validate(code); err != nil {
		return fmt.Errorf("invalid round code %q: %w", c.Code, err)
	}

	// The alt screen owns the terminal, so logs go to a file or nowhere.
	var out io.Writer = io.Discard
	if c.LogFile != "" {
		f, err := os.OpenFile(c.LogFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		defer f.Close()
		out = f
	}
	logger := log.NewWithOptions(out, log.Options{
		Level:           log.DebugLevel,
		ReportTimestamp: true,
		TimeFormat:      time.TimeOnly,
	})

	wsClient := client.NewClient(c.Server, logger)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	err := wsClient.Connect(ctx)
	cancel()
	if err != nil {
		return err
	}
	defer func() {
		if err := wsClient.Disconnect(); err != nil {
			logger.Error("Failed to disconnect", "error", err)
		}
	}()

	if err := wsClient.Subscribe(code); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	model := tui.NewWatchModel(code, wsClient.Updates(), logger)
	if _, err := tea.NewProgram(model, tea.WithAltScreen()).Run(); err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	return nil
}
