package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ghjm/lowpan/internal/version"
	"github.com/ghjm/lowpan/pkg/config"
	"github.com/ghjm/lowpan/pkg/node"
	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func errExit(err error) {
	fmt.Printf("Error: %s\n", err)
	os.Exit(1)
}

var rootCmd = &cobra.Command{
	Use:     "lowpan",
	Short:   "IPv6 over emulated IEEE 802.15.4 links",
	Version: version.Version(),
}

var logLevel string

func setupLogging() error {
	if !isatty.IsTerminal(os.Stderr.Fd()) && !isatty.IsCygwinTerminal(os.Stderr.Fd()) {
		log.SetFormatter(&log.TextFormatter{DisableColors: true})
	}
	switch logLevel {
	case "":
	case "error":
		log.SetLevel(log.ErrorLevel)
	case "warning":
		log.SetLevel(log.WarnLevel)
	case "info":
		log.SetLevel(log.InfoLevel)
	case "debug":
		log.SetLevel(log.DebugLevel)
	default:
		return fmt.Errorf("invalid log level")
	}
	return nil
}

// serveMetrics serves the registry's metrics over HTTP until ctx is cancelled
func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
	go func() {
		err := srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("metrics server error: %s", err)
		}
	}()
}

var configFile string
var identity string
var captureFile string
var metricsAddr string
var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Run a 6LoWPAN node",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		err := setupLogging()
		if err != nil {
			errExit(err)
		}
		cfg, err := config.LoadConfig(configFile)
		if err != nil {
			errExit(err)
		}
		nc, ok := cfg.Nodes[identity]
		if !ok {
			errExit(fmt.Errorf("node ID not found in config file"))
		}
		if captureFile != "" {
			nc.Capture = captureFile
			cfg.Nodes[identity] = nc
		}
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector())
		_, err = node.NewFromConfig(ctx, cfg, identity, reg)
		if err != nil {
			errExit(err)
		}
		if metricsAddr != "" {
			serveMetrics(ctx, metricsAddr, reg)
		}
		<-ctx.Done()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show the program version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("lowpan version %s\n", version.Version())
	},
}

func main() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "loglevel", "", "Set log level (error/warning/info/debug)")

	nodeCmd.Flags().StringVar(&configFile, "config", "", "Config file name (required)")
	_ = nodeCmd.MarkFlagRequired("config")
	nodeCmd.Flags().StringVar(&identity, "id", "", "Node ID (required)")
	_ = nodeCmd.MarkFlagRequired("id")
	nodeCmd.Flags().StringVar(&captureFile, "pcap", "", "Write transmitted frames to this pcap file")
	nodeCmd.Flags().StringVar(&metricsAddr, "metrics", "", "Serve Prometheus metrics on this address")

	addFragFlags()

	rootCmd.AddCommand(nodeCmd, fragCmd, versionCmd)

	err := rootCmd.Execute()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
