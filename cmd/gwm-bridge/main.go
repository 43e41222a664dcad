// gwm-bridge polls a vehicle's status and exposes it to Home Assistant over MQTT, relaying
// lock, trunk and climate commands back to the vendor cloud.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gwm-community/vehicle-cloud/internal/bridge"
	"github.com/gwm-community/vehicle-cloud/internal/log"
	"github.com/gwm-community/vehicle-cloud/pkg/account"
	"github.com/gwm-community/vehicle-cloud/pkg/store"
	"github.com/gwm-community/vehicle-cloud/pkg/transport"
	"github.com/gwm-community/vehicle-cloud/pkg/vehicle"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath string
		debug      bool
	)
	flag.StringVar(&configPath, "config", "", "Path to the YAML configuration `file`.")
	flag.BoolVar(&debug, "debug", false, "Enable verbose debugging messages")
	flag.Parse()

	cfg, err := bridge.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %s\n", err)
		return 1
	}
	if debug || cfg.Log.Level == "debug" {
		log.SetLevel(log.LevelDebug)
	}

	if cfg.Vehicle.Username == "" || cfg.Vehicle.Password == "" || cfg.Vehicle.VIN == "" {
		fmt.Fprintln(os.Stderr, "Username, password and VIN are required (config file or GWM_* environment variables)")
		return 1
	}
	storageDir := cfg.Vehicle.StorageDir
	if storageDir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Cannot determine storage directory: %s\n", err)
			return 1
		}
		storageDir = filepath.Join(base, "gwm-vehicle")
	}

	channel := transport.New(transport.Config{CertDir: cfg.Vehicle.CertDir})
	acct := account.New(account.Config{
		Username: cfg.Vehicle.Username,
		Password: cfg.Vehicle.Password,
	}, channel, store.New(storageDir))
	car := vehicle.NewClient(vehicle.Config{
		VIN: cfg.Vehicle.VIN,
		PIN: cfg.Vehicle.PIN,
	}, acct, channel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if !car.Authenticate(ctx) {
		fmt.Fprintln(os.Stderr, "Authentication failed; check credentials")
		return 1
	}
	log.Info("bridge: authenticated, vin=%s", car.VIN())

	var publisher bridge.Publisher
	if cfg.MQTT.Enabled {
		publisher = bridge.NewHAPublisher(cfg.MQTT, car)
	} else {
		publisher = &bridge.StubPublisher{}
	}
	if err := publisher.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start MQTT publisher: %s\n", err)
		return 1
	}
	defer publisher.Stop(context.Background())

	bridge.NewPoller(car, publisher, cfg.Poll.Interval()).Run(ctx)

	log.Info("bridge: shutting down")
	return 0
}
