package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"proxybroker/pkg/config"
	"proxybroker/pkg/database"
	"proxybroker/pkg/importer"
	"proxybroker/pkg/manager"
	"proxybroker/pkg/meter"
	"proxybroker/pkg/metrics"
	"proxybroker/pkg/models"
	"proxybroker/pkg/tester"
)

var (
	debugFlag  bool
	configFlag string
	logger     *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "proxybroker",
	Short: "A broker for acquiring, metering and testing proxy endpoints",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		var logLevel slog.Level
		if debugFlag {
			logLevel = slog.LevelDebug
		} else {
			logLevel = slog.LevelInfo
		}

		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
		slog.SetDefault(logger)

		if configFlag != "" {
			viper.SetConfigFile(configFlag)
			if err := viper.ReadInConfig(); err != nil {
				logger.Error("Error reading config file", "path", configFlag, "error", err)
				os.Exit(1)
			}
		}
	},
}

var testProxiesCmd = &cobra.Command{
	Use:   "test-proxies",
	Short: "Acquire endpoints from the configured providers and test them",
	Long: `Acquire endpoints from every configured provider and test them in
parallel against an IP-echo URL. Results are printed per endpoint; with
--save they are also persisted to the database together with a usage
snapshot.`,
	Run: func(cmd *cobra.Command, args []string) {
		configs, err := config.LoadProviders(configFlag)
		if err != nil {
			logger.Error("Error loading provider config", "error", err)
			os.Exit(1)
		}

		var collector *metrics.Collector
		if addr, _ := cmd.Flags().GetString("metrics-listen"); addr != "" {
			collector = metrics.NewCollector("proxybroker")
			go func() {
				http.Handle("/metrics", promhttp.Handler())
				if err := http.ListenAndServe(addr, nil); err != nil {
					logger.Error("Metrics server failed", "error", err)
				}
			}()
			logger.Info("Serving Prometheus metrics", "addr", addr)
		}

		mgr, err := manager.New(configs, logger, manager.Options{
			EnableMetering: true,
			Collector:      collector,
		})
		if err != nil {
			logger.Error("Error building manager", "error", err)
			os.Exit(1)
		}

		count, _ := cmd.Flags().GetInt("count")
		testURL, _ := cmd.Flags().GetString("url")
		workers, _ := cmd.Flags().GetInt("workers")
		timeoutSec, _ := cmd.Flags().GetInt("timeout")
		region, _ := cmd.Flags().GetString("region")
		save, _ := cmd.Flags().GetBool("save")

		var endpoints []models.Endpoint
		for _, cfg := range configs {
			for i := 0; i < count; i++ {
				ep, err := mgr.Acquire(manager.AcquireOptions{
					Provider: cfg.Name,
					Region:   region,
					Purpose:  "health-check",
				})
				if err != nil {
					logger.Warn("Skipping acquisition", "provider", cfg.Name, "error", err)
					break
				}
				endpoints = append(endpoints, ep)
			}
		}
		if len(endpoints) == 0 {
			logger.Error("No endpoints acquired")
			os.Exit(1)
		}

		t := tester.New(logger, collector)
		results := t.TestBatch(context.Background(), endpoints, testURL,
			time.Duration(timeoutSec)*time.Second, workers,
			func(completed, total int) {
				logger.Debug("Test progress", "completed", completed, "total", total)
			})

		printResults(results)

		for _, ep := range endpoints {
			mgr.Release(ep, "health-check complete")
		}

		if m := mgr.Meter(); m != nil {
			printSummary(m.Summary())
			if save {
				db, err := database.NewDB()
				if err != nil {
					logger.Error("Error connecting to database", "error", err)
					os.Exit(1)
				}
				defer db.Close()

				ctx := context.Background()
				if err := db.InitSchema(ctx); err != nil {
					logger.Error("Error initializing schema", "error", err)
					os.Exit(1)
				}
				if err := db.SaveTestResults(ctx, results); err != nil {
					logger.Error("Error saving test results", "error", err)
					os.Exit(1)
				}
				if err := db.SaveUsage(ctx, m.GetMetrics("")); err != nil {
					logger.Error("Error saving usage snapshot", "error", err)
					os.Exit(1)
				}
				logger.Info("Results persisted", "tests", len(results))
			}
		}
	},
}

var importCmd = &cobra.Command{
	Use:   "import [file]",
	Short: "Parse a raw proxy list and emit a provider config entry",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		raw, err := os.ReadFile(args[0])
		if err != nil {
			logger.Error("Error reading proxy list", "error", err)
			os.Exit(1)
		}

		name, _ := cmd.Flags().GetString("name")
		price, _ := cmd.Flags().GetFloat64("price")

		im := importer.New(logger)
		detections := im.ParseList(string(raw))
		if len(detections) == 0 {
			logger.Error("No valid proxies found in list")
			os.Exit(1)
		}

		cfg, err := im.ToProviderConfig(name, price, detections)
		if err != nil {
			logger.Error("Error building provider config", "error", err)
			os.Exit(1)
		}

		out, _ := cmd.Flags().GetString("output")
		if out == "json" {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(cfg); err != nil {
				logger.Error("Error encoding provider config", "error", err)
				os.Exit(1)
			}
		} else {
			fmt.Printf("name: %s\ntype: %s\nentries: %d\n", cfg.Name, cfg.Type, len(detections))
		}
	},
}

var usageCmd = &cobra.Command{
	Use:   "usage [provider]",
	Short: "Show persisted usage history from the database",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		db, err := database.NewDB()
		if err != nil {
			logger.Error("Error connecting to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		providerName := ""
		if len(args) > 0 {
			providerName = args[0]
		}

		records, err := db.UsageHistory(context.Background(), providerName)
		if err != nil {
			logger.Error("Error reading usage history", "error", err)
			os.Exit(1)
		}

		fmt.Printf("%-40s %-12s %9s %9s %12s %10s\n",
			"ENDPOINT", "PROVIDER", "REQUESTS", "FAILURES", "BYTES", "COST")
		for _, r := range records {
			fmt.Printf("%-40s %-12s %9d %9d %12d %9.4f\n",
				r.EndpointKey, r.Provider, r.RequestsCount, r.FailureCount,
				r.BytesSent+r.BytesReceived, r.CostEstimate)
		}
	},
}

func printResults(results []tester.TestResult) {
	fmt.Printf("%-30s %-12s %-8s %10s %-16s %s\n",
		"HOST", "PROVIDER", "OK", "TIME", "EGRESS IP", "ERROR")
	for _, r := range results {
		status := "yes"
		errMsg := ""
		if !r.Success {
			status = "no"
			errMsg = fmt.Sprintf("%s: %s", r.ErrorKind, truncate(r.Error, 40))
		}
		fmt.Printf("%-30s %-12s %-8s %8.0fms %-16s %s\n",
			fmt.Sprintf("%s:%d", r.Endpoint.Host, r.Endpoint.Port),
			r.Endpoint.Provider, status, r.ResponseTimeMs, r.ResponseIP, errMsg)
	}
}

func printSummary(s meter.Summary) {
	fmt.Printf("\nUsage summary: %d endpoints, %d requests (%.1f%% ok), %.4f GB, est. cost $%.4f\n",
		s.TotalEndpoints, s.TotalRequests, s.OverallSuccessRate, s.TotalGB, s.TotalCostEstimate)
	for name, p := range s.ByProvider {
		fmt.Printf("  %-20s endpoints=%d requests=%d failures=%d bytes=%d cost=$%.4f\n",
			name, p.Endpoints, p.Requests, p.Failures, p.Bytes, p.CostEstimate)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func main() {
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "config.yaml", "Path to the broker config file")

	testProxiesCmd.Flags().Int("count", 1, "Endpoints to acquire per provider")
	testProxiesCmd.Flags().String("url", tester.DefaultTestURL, "IP-echo URL to test against")
	testProxiesCmd.Flags().Int("workers", 10, "Max parallel test workers")
	testProxiesCmd.Flags().Int("timeout", 10, "Per-test timeout in seconds")
	testProxiesCmd.Flags().String("region", "", "Region code to request from providers")
	testProxiesCmd.Flags().Bool("save", false, "Persist results and usage snapshot to the database")
	testProxiesCmd.Flags().String("metrics-listen", "", "Address to serve Prometheus metrics on (e.g. :9090)")

	importCmd.Flags().String("name", "imported", "Name for the generated provider")
	importCmd.Flags().Float64("price", 0, "Price per GB for the generated provider")
	importCmd.Flags().String("output", "text", "Output format: text or json")

	rootCmd.AddCommand(testProxiesCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(usageCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
