package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sudorandom/traffic-globe/pkg/config"
	"github.com/sudorandom/traffic-globe/pkg/feed"
	"github.com/sudorandom/traffic-globe/pkg/trafficengine"
)

type SendCmd struct {
	CSV      string  `arg:"" type:"existingfile" help:"Capture to replay."`
	Target   string  `default:"http://localhost:8080/receive" env:"TRAFFIC_SENDER_TARGET" help:"Receive endpoint of the traffic server."`
	Rate     float64 `default:"100" help:"Packages per second."`
	Redis    string  `env:"TRAFFIC_SENDER_REDIS" help:"Publish to this Redis address instead of posting over HTTP."`
	Channel  string  `default:"traffic:events" help:"Redis events channel."`
	Sensor   string  `default:"Sensor" help:"Destination name for published events."`
	Lat      float64 `default:"38.9072" help:"Destination latitude for published events."`
	Lon      float64 `default:"-77.0369" help:"Destination longitude for published events."`
	Protocol string  `default:"TCP" help:"Protocol for published events."`
}

func (c *SendCmd) Run(ctx context.Context, logger *zap.Logger) error {
	pkgs, err := readCapture(c.CSV)
	if err != nil {
		return err
	}
	logger.Info("loaded capture", zap.String("file", c.CSV), zap.Int("packages", len(pkgs)))

	var target Target
	if c.Redis != "" {
		rdb := redis.NewClient(&redis.Options{Addr: c.Redis})
		defer func() { _ = rdb.Close() }()
		sensor := trafficengine.Endpoint{Name: c.Sensor, Latitude: c.Lat, Longitude: c.Lon}
		target = NewRedisTarget(rdb, c.Channel, sensor, c.Protocol)
	} else {
		target = NewHTTPTarget(c.Target)
	}

	res, err := Replay(ctx, pkgs, target, rate.NewLimiter(rate.Limit(c.Rate), 1), logger)
	logger.Info("completed", zap.Int("sent", res.Sent), zap.Int("failed", res.Failed))
	return err
}

type AnalyzeCmd struct {
	CSV string `arg:"" type:"existingfile" help:"Capture to summarize."`
}

func (c *AnalyzeCmd) Run(ctx context.Context, logger *zap.Logger) error {
	pkgs, err := readCapture(c.CSV)
	if err != nil {
		return err
	}
	s := feed.Summarize(pkgs)
	fmt.Printf("Total number of IP addresses: %d\n", s.Total)
	fmt.Printf("Number of suspicious IPs: %d\n", s.Suspicious)
	if s.Total > 0 {
		fmt.Printf("Date range: %s to %s\n", s.First.Format("2006-01-02 15:04:05"), s.Last.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func readCapture(path string) ([]feed.Package, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return feed.ParseCSV(f)
}

var cli struct {
	LogLevel string     `default:"info" enum:"debug,info,warn,error" help:"Log level."`
	Send     SendCmd    `cmd:"" help:"Replay a capture into a traffic server."`
	Analyze  AnalyzeCmd `cmd:"" help:"Print a summary of a capture."`
}

func main() {
	kctx := kong.Parse(&cli,
		kong.Name("traffic-sender"),
		kong.Description("Replays captured packages into a traffic server."),
	)
	_ = godotenv.Load()

	logger, err := config.NewLogger(config.LoggerConfig{Level: cli.LogLevel, Format: "console"})
	if err != nil {
		_, _ = os.Stderr.WriteString("building logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	kctx.BindTo(ctx, (*context.Context)(nil))
	kctx.FatalIfErrorf(kctx.Run(logger))
}
