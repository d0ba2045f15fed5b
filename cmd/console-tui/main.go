package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"

	clog "github.com/hf1860/console/internal/log"
	"github.com/hf1860/console/internal/tui/app"
	"github.com/hf1860/console/internal/tui/client"
)

func main() {
	wsURL := flag.String("url", "ws://127.0.0.1:8080/ws", "WebSocket URL of the console daemon")
	token := flag.String("token", "", "Auth token (if the daemon requires it)")
	fps := flag.Float64("fps", 5, "Maximum live view frames fetched per second (0 = unlimited)")
	logFile := flag.String("log", filepath.Join(os.TempDir(), "console-tui.log"), "Log file (the terminal belongs to the UI)")
	logLevel := flag.String("log-level", "", "Log level (default from LOG_LEVEL, then info)")
	flag.Parse()

	f, err := os.OpenFile(*logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: open log: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()
	clog.Configure(clog.Config{Level: *logLevel, Output: f, Service: "console-tui"})

	ws := client.NewWSClient(*wsURL, *token)
	httpClient := client.NewHTTPClient(client.DeriveHTTPBase(*wsURL), *token, *fps)

	m := app.New(ws, httpClient)
	p := tea.NewProgram(m, tea.WithAltScreen())

	if _, err := p.Run(); err != nil {
		logger := clog.WithComponent("main")
		logger.Error().Err(err).Msg("tui exited")
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
