package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	movingaverage "github.com/RobinUS2/golang-moving-average"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/webull-go/webull-api-go/config"
	"github.com/webull-go/webull-api-go/device"
	"github.com/webull-go/webull-api-go/stream"
)

const windowSize = 20

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	config.SetDefaults(v)

	cmd := &cobra.Command{
		Use:   "webull-stream",
		Short: "Stream Webull quotes and order updates to stdout",
		Long: `webull-stream connects to the Webull push gateway, subscribes to the given
tickers and prints every event it receives. With an access token it also
prints order status updates of the account.

Every flag can be set in the environment with the WEBULL_ prefix,
e.g. WEBULL_TICKERS=913256135,913243251.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	f := cmd.Flags()
	f.String("mode", string(config.ModeLive), "trading mode: live or paper")
	f.String("device-file", device.DefaultFileName, "file holding the device id")
	f.String("access-token", "", "access token; enables order updates")
	f.StringSlice("tickers", nil, "ticker ids to subscribe to")
	f.Int("level", int(stream.DefaultLevel), "subscription level, 101-108")
	f.Bool("debug", false, "log every received frame")
	f.String("push-url", "", "override the push gateway URL")

	for key, flag := range map[string]string{
		config.KeyMode:        "mode",
		config.KeyDeviceFile:  "device-file",
		config.KeyAccessToken: "access-token",
		config.KeyTickers:     "tickers",
		config.KeyLevel:       "level",
		config.KeyDebug:       "debug",
		config.KeyPushURL:     "push-url",
	} {
		_ = v.BindPFlag(key, f.Lookup(flag))
	}

	return cmd
}

func run(ctx context.Context, cfg config.Config) error {
	logger, err := newLogger(cfg.Debug)
	if err != nil {
		return err
	}
	defer logger.Sync()
	log := logger.Sugar()

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	prices := movingaverage.New(windowSize)
	c := stream.NewClient(
		stream.WithLogger(log),
		stream.WithTradingMode(cfg.Mode),
		stream.WithBaseURL(cfg.PushURL),
		stream.WithDeviceStore(&device.FileStore{Path: cfg.DeviceFile}),
		stream.WithDebug(cfg.Debug),
		stream.WithPriceHandler(func(ev stream.Event) error {
			if t, ok := ev.(*stream.TradeTick); ok {
				prices.Add(t.Price.InexactFloat64())
				fmt.Printf("%s trade %s x %d at %s, %d-trade avg %.4f\n",
					t.TickerID, t.Price, t.Volume, t.TimeOfDay, windowSize, prices.Avg())
				return nil
			}
			fmt.Printf("%T %+v\n", ev, ev)
			return nil
		}),
		stream.WithOrderHandler(func(ev stream.Event) error {
			if u, ok := ev.(*stream.OrderStatusUpdate); ok {
				fmt.Printf("order %s %s filled %s\n", u.OrderID, u.Status, u.FilledQuantity)
			}
			return nil
		}),
	)
	defer c.Close()

	if err := c.Connect(ctx, "", cfg.AccessToken); err != nil {
		return fmt.Errorf("could not establish connection: %w", err)
	}
	log.Infof("established connection")

	for _, id := range cfg.Tickers {
		if err := c.Subscribe(ctx, id, stream.Level(cfg.Level)); err != nil {
			return fmt.Errorf("subscribe %s: %w", id, err)
		}
	}

	go func() {
		for {
			select {
			case f := <-c.Fatal():
				log.Errorf("price handler failed: %v", f)
			case <-ctx.Done():
				return
			}
		}
	}()

	err = c.RunBlocking(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
