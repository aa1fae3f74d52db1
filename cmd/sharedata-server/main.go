// Command sharedata-server runs the Delta-Sharing-compatible data plane:
// authentication, predicate parsing, table scanning, watermark embedding,
// Parquet materialization, and the wire protocol HTTP surface (spec §1,
// §2, §6). It is a cobra command tree with serve and version subcommands.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sharelane/dataplane/internal/audit"
	"github.com/sharelane/dataplane/internal/auth"
	"github.com/sharelane/dataplane/internal/catalog/postgres"
	"github.com/sharelane/dataplane/internal/config"
	"github.com/sharelane/dataplane/internal/httpapi"
	"github.com/sharelane/dataplane/internal/materializer"
	"github.com/sharelane/dataplane/internal/metrics"
	"github.com/sharelane/dataplane/internal/query"
)

// version is set by the release pipeline via -ldflags; dev builds report "dev".
var version = "dev"

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "sharedata-server",
		Short: "Seller-operated data plane for traceable row sharing",
	}
	root.AddCommand(newServeCommand())
	root.AddCommand(newVersionCommand())
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), version)
			return nil
		},
	}
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}
}

func serve(ctx context.Context) error {
	log, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Sync()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	s3Client, err := materializer.NewS3Client(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build s3 client: %w", err)
	}

	store := postgres.New(pool)

	var authOpts []auth.Option
	if cfg.SellerID != "" {
		sellerID, err := strconv.ParseInt(cfg.SellerID, 10, 64)
		if err != nil {
			return fmt.Errorf("parse SELLER_ID: %w", err)
		}
		authOpts = append(authOpts, auth.WithSellerID(sellerID))
	}
	authenticator := auth.New(store, cfg.TokenSalt, log, authOpts...)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
	m := metrics.New(reg)

	pipeline := query.New(query.Deps{
		Auth:         authenticator,
		Datasets:     store,
		S3:           s3Client,
		Materializer: materializer.NewParquetMaterializer(s3Client, cfg),
		AuditWriter:  audit.New(store, log),
		Config:       cfg,
		Log:          log,
	})

	server := httpapi.NewServer(pipeline, m, log)
	router := httpapi.NewRouter(server, httpapi.MetricsHandlerFor(reg))

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	stopGC := startGCLoop(ctx, s3Client, cfg, log)
	defer stopGC()

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", cfg.ListenAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCtx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	select {
	case err := <-errCh:
		return err
	case <-sigCtx.Done():
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	}
}

// startGCLoop runs materializer.GC against the whole bucket on an
// interval tied to the file TTL, stopping when ctx is canceled. The empty
// prefix sweeps every object, but GC only ever deletes its own watermarked
// output (internal/materializer/gc.go's eligibleForDeletion), so a
// bucket-wide sweep never touches seller-uploaded source tables. Best
// effort: a failed sweep is logged by GC itself and retried next tick.
func startGCLoop(ctx context.Context, s3Client *s3.Client, cfg *config.Config, log *zap.Logger) func() {
	gcCtx, cancel := context.WithCancel(ctx)
	interval := cfg.MaterializedFileTTL / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-gcCtx.Done():
				return
			case <-ticker.C:
				materializer.GC(gcCtx, s3Client, cfg, "", log)
			}
		}
	}()
	return cancel
}
