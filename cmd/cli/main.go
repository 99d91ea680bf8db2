package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/aistudioproxy/gateway/internal/application"
	"github.com/aistudioproxy/gateway/internal/infrastructure/certauthority"
	"github.com/aistudioproxy/gateway/internal/infrastructure/config"
	"github.com/aistudioproxy/gateway/internal/infrastructure/logger"
	gatewayhttp "github.com/aistudioproxy/gateway/internal/interfaces/http"
	"github.com/aistudioproxy/gateway/internal/interfaces/tui"
)

const (
	cliVersion = "0.2.0"
	cliName    = "gateway"
)

var (
	titleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("86")).Bold(true)
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	valueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("255"))
)

func main() {
	var apiBase string

	rootCmd := &cobra.Command{
		Use:     cliName,
		Short:   "Operator CLI for the aistudioproxy gateway",
		Version: cliVersion,
	}
	rootCmd.PersistentFlags().StringVar(&apiBase, "api", "http://127.0.0.1:8080", "gateway base URL")

	rootCmd.AddCommand(
		newServeCmd(),
		newCertCmd(),
		newQueueCmd(&apiBase),
		newDashboardCmd(&apiBase),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newServeCmd wraps cmd/gateway's startup sequence (spec §4.9: "the
// CLI wraps it so the teacher's dual-binary cmd/gateway + cmd/cli split
// is preserved").
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and MITM proxy",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log, err := logger.NewLogger(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		OutputPath: cfg.Log.OutputPath,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	app, err := application.NewAppState(cfg, log)
	if err != nil {
		return fmt.Errorf("init app state: %w", err)
	}
	defer app.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		app.Worker.Run(ctx)
	}()

	proxyStop := make(chan struct{})
	if cfg.Proxy.ListenPort != 0 {
		go func() { _ = app.Proxy.ListenAndServe(proxyStop) }()
		select {
		case <-app.Proxy.Ready():
		case <-time.After(10 * time.Second):
			return fmt.Errorf("mitm proxy readiness timed out")
		}
	}

	server := gatewayhttp.NewServer(cfg.Gateway, cfg.Auth, app, workerDone, log)
	server.Start()
	server.MarkReady()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	_ = server.Stop(shutdownCtx)
	close(proxyStop)
	cancel()
	return nil
}

func newCertCmd() *cobra.Command {
	certCmd := &cobra.Command{
		Use:   "cert",
		Short: "Inspect the certificate authority's leaf index",
	}

	certCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List every minted leaf certificate",
		RunE: func(cmd *cobra.Command, args []string) error {
			idx, err := openIndex()
			if err != nil {
				return err
			}
			rows, err := idx.List()
			if err != nil {
				return err
			}
			if len(rows) == 0 {
				fmt.Println(labelStyle.Render("no leaf certificates minted yet"))
				return nil
			}
			fmt.Println(titleStyle.Render(fmt.Sprintf("%-32s %-20s %-25s %-25s", "DOMAIN", "SERIAL", "NOT BEFORE", "NOT AFTER")))
			for _, r := range rows {
				fmt.Printf("%-32s %-20s %-25s %-25s\n", r.Domain, r.Serial,
					r.NotBefore.Format(time.RFC3339), r.NotAfter.Format(time.RFC3339))
			}
			return nil
		},
	})

	certCmd.AddCommand(&cobra.Command{
		Use:   "info <domain>",
		Short: "Show one domain's leaf certificate record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			idx, err := openIndex()
			if err != nil {
				return err
			}
			row, ok := idx.Lookup(args[0])
			if !ok {
				return fmt.Errorf("no leaf certificate for %s", args[0])
			}
			fmt.Printf("%s %s\n", labelStyle.Render("domain:"), valueStyle.Render(row.Domain))
			fmt.Printf("%s %s\n", labelStyle.Render("serial:"), valueStyle.Render(row.Serial))
			fmt.Printf("%s %s\n", labelStyle.Render("not before:"), valueStyle.Render(row.NotBefore.Format(time.RFC3339)))
			fmt.Printf("%s %s\n", labelStyle.Render("not after:"), valueStyle.Render(row.NotAfter.Format(time.RFC3339)))
			fmt.Printf("%s %s\n", labelStyle.Render("cert path:"), valueStyle.Render(row.CertPath))
			return nil
		},
	})

	return certCmd
}

func openIndex() (*certauthority.Index, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	dsn := cfg.CertDir + "/leaf_index.sqlite3"
	return certauthority.OpenIndex(dsn)
}

type queueSnapshotResponse struct {
	QueueLength        int  `json:"queue_length"`
	IsProcessingLocked bool `json:"is_processing_locked"`
	Items              []struct {
		ReqID           string  `json:"req_id"`
		WaitTimeSeconds float64 `json:"wait_time_seconds"`
		Stream          bool    `json:"stream"`
		Cancelled       bool    `json:"cancelled"`
	} `json:"items"`
}

func newQueueCmd(apiBase *string) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the request queue",
	}
	queueCmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Render the current queue as a table",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := http.Get(*apiBase + "/v1/queue")
			if err != nil {
				return fmt.Errorf("fetch queue: %w", err)
			}
			defer resp.Body.Close()

			var snap queueSnapshotResponse
			if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
				return fmt.Errorf("decode queue response: %w", err)
			}

			lockState := "free"
			if snap.IsProcessingLocked {
				lockState = "held"
			}
			fmt.Printf("%s %d   %s %s\n\n",
				labelStyle.Render("queue length:"), snap.QueueLength,
				labelStyle.Render("processing lock:"), valueStyle.Render(lockState))

			if len(snap.Items) == 0 {
				fmt.Println(labelStyle.Render("(empty)"))
				return nil
			}
			fmt.Println(titleStyle.Render(fmt.Sprintf("%-38s %-10s %-8s %-10s", "REQ ID", "WAIT (s)", "STREAM", "CANCELLED")))
			for _, it := range snap.Items {
				fmt.Printf("%-38s %-10.1f %-8t %-10t\n", it.ReqID, it.WaitTimeSeconds, it.Stream, it.Cancelled)
			}
			return nil
		},
	})
	return queueCmd
}

func newDashboardCmd(apiBase *string) *cobra.Command {
	return &cobra.Command{
		Use:   "dashboard",
		Short: "Launch the live queue/health TUI dashboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			return tui.Run(*apiBase)
		},
	}
}
