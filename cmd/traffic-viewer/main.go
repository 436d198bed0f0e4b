package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/hajimehoshi/ebiten/v2"
	"github.com/joho/godotenv"
	_ "github.com/silbinarywolf/preferdiscretegpu"
	"go.uber.org/zap"

	"github.com/sudorandom/traffic-globe/pkg/config"
	"github.com/sudorandom/traffic-globe/pkg/scene"
	"github.com/sudorandom/traffic-globe/pkg/sources"
	"github.com/sudorandom/traffic-globe/pkg/utils"
	"github.com/sudorandom/traffic-globe/pkg/viewer"
)

var cli struct {
	Server       string `default:"ws://localhost:8080/ws" env:"TRAFFIC_VIEWER_SERVER" help:"Websocket URL of the traffic server."`
	Width        int    `default:"1920" help:"Internal rendering width."`
	Height       int    `default:"1080" help:"Internal rendering height."`
	WindowWidth  int    `default:"1280" help:"Initial window width."`
	WindowHeight int    `default:"720" help:"Initial window height."`
	TPS          int    `name:"tps" default:"30" help:"Ticks per second."`
	CaptureDir   string `type:"path" default:"captures" help:"Directory for PNG frame captures."`
	CacheDir     string `type:"path" default:"data/cache" help:"Cache directory for map data."`
	LogLevel     string `default:"info" enum:"debug,info,warn,error" help:"Log level."`
}

func main() {
	kong.Parse(&cli,
		kong.Name("traffic-viewer"),
		kong.Description("Renders live traffic from a traffic server on a rotating globe."),
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

	world, err := sources.LoadWorld(ctx, utils.NewFetcher(cli.CacheDir, logger))
	if err != nil {
		logger.Warn("world map unavailable, drawing an empty globe", zap.Error(err))
	}

	sc := scene.New()
	client := viewer.NewClient(cli.Server, sc, logger)
	go func() {
		if err := client.Run(ctx); err != nil {
			logger.Error("connection loop stopped", zap.Error(err))
		}
	}()

	v := viewer.New(cli.Width, cli.Height, sc, client, world, logger)
	v.CaptureDir = cli.CaptureDir

	ebiten.SetTPS(cli.TPS)
	ebiten.SetWindowSize(cli.WindowWidth, cli.WindowHeight)
	ebiten.SetWindowTitle("Traffic Globe")
	ebiten.SetWindowResizingMode(ebiten.WindowResizingModeEnabled)
	if err := ebiten.RunGame(v); err != nil {
		logger.Fatal("viewer exited", zap.Error(err))
	}
}
