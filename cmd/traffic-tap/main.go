package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/sudorandom/traffic-globe/pkg/config"
)

var cli struct {
	Server   string        `default:"ws://localhost:8080/ws" help:"Websocket URL of the traffic server."`
	Timeout  time.Duration `help:"How long to run before exiting (0 for no limit)."`
	Interval time.Duration `default:"1s" help:"Report interval."`
	JSON     bool          `name:"json" help:"Dump raw frames instead of reports."`
}

func main() {
	kong.Parse(&cli,
		kong.Name("traffic-tap"),
		kong.Description("Watches a traffic server feed and reports what it sees."),
	)

	logger, err := config.NewLogger(config.LoggerConfig{Level: "info", Format: "console"})
	if err != nil {
		_, _ = os.Stderr.WriteString("building logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if cli.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cli.Timeout)
		defer cancel()
	}

	logger.Info("connecting", zap.String("url", cli.Server))
	c, _, err := websocket.DefaultDialer.DialContext(ctx, cli.Server, nil)
	if err != nil {
		logger.Error("dial", zap.Error(err))
		return
	}
	defer func() { _ = c.Close() }()

	stats := NewStats(time.Now())
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, message, err := c.ReadMessage()
			if err != nil {
				return
			}
			if cli.JSON {
				fmt.Println(string(message))
				continue
			}
			if err := stats.Record(message); err != nil {
				logger.Debug("skipping frame", zap.Error(err))
			}
		}
	}()

	ticker := time.NewTicker(cli.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			logger.Info("server closed the connection")
			return
		case <-ticker.C:
			if !cli.JSON {
				stats.Report(os.Stdout, time.Now())
			}
		case <-ctx.Done():
			if !cli.JSON {
				stats.Report(os.Stdout, time.Now())
			}
			err := c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			if err != nil {
				return
			}
			select {
			case <-done:
			case <-time.After(time.Second):
			}
			return
		}
	}
}
