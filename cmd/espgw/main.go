package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/espgw/internal/ble/dbusadapter"
	"github.com/srg/espgw/internal/ble/hciadapter"
	blecomponent "github.com/srg/espgw/internal/components/ble"
	"github.com/srg/espgw/internal/component"
	"github.com/srg/espgw/internal/config"
	"github.com/srg/espgw/internal/gateway"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// rootCmd is the single entry point of the gateway: no subcommands, per
// spec.md §6 ("the executable takes no arguments").
var rootCmd = &cobra.Command{
	Use:          "espgw",
	Short:        "ESPHome-compatible native API gateway with a BLE proxy",
	Version:      version,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.SilenceErrors = true
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("config", "", "path to config.yaml (overrides ESPGW_CONFIG)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	log, err := configureLogger(cmd)
	if err != nil {
		return err
	}

	if configPath, _ := cmd.Flags().GetString("config"); configPath != "" {
		os.Setenv("ESPGW_CONFIG", configPath)
	}

	hostname, _ := os.Hostname()
	cfg, err := config.Load(hostname, "")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	cfg.Version = version

	printBanner(cfg)

	registry := component.NewRegistry()
	registry.Register(bleComponent(log))

	srv := gateway.NewServer(cfg, registry, log, 0)
	if err := srv.Start(); err != nil {
		return fmt.Errorf("starting gateway: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Info("shutting down")
	srv.Stop()
	return nil
}

// bleComponent selects the HCI or system-bus BLE adapter based on
// ESPGW_BLE_ADAPTER ("hci" or "dbus", default "dbus") and wraps it in the
// bundled ble_proxy component.
func bleComponent(log *logrus.Logger) *component.Component {
	if os.Getenv("ESPGW_BLE_ADAPTER") == "hci" {
		adapter := hciadapter.NewAdapter(log)
		return blecomponent.New(adapter, hciadapter.TickInterval, true)
	}
	adapter := dbusadapter.NewAdapter(log)
	return blecomponent.New(adapter, dbusadapter.TickInterval, false)
}

func printBanner(cfg *config.DeviceConfig) {
	banner := color.New(color.FgCyan, color.Bold)
	banner.Printf("espgw %s (commit %s, built %s)\n", version, commit, date)
	fmt.Printf("device: %s  mac: %s  model: %s\n", cfg.Name, cfg.MAC, cfg.Model)
}
