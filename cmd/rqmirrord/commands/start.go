package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/rqmirror/rqmirror/cmd/rqmirrord/cmdutil"
	"github.com/rqmirror/rqmirror/internal/config"
	"github.com/rqmirror/rqmirror/internal/logger"
	"github.com/rqmirror/rqmirror/pkg/adminapi"
	"github.com/rqmirror/rqmirror/pkg/events"
	"github.com/rqmirror/rqmirror/pkg/metrics"
	"github.com/rqmirror/rqmirror/pkg/queue"
	"github.com/rqmirror/rqmirror/pkg/rqtree"
	"github.com/rqmirror/rqmirror/pkg/syncproc"
	"github.com/rqmirror/rqmirror/pkg/tree/localtree"
	"github.com/rqmirror/rqmirror/pkg/tree/remotetree"
	"github.com/rqmirror/rqmirror/pkg/tree/remotetree/httpremote"
	"github.com/rqmirror/rqmirror/pkg/tree/remotetree/s3remote"
	"github.com/rqmirror/rqmirror/pkg/tree/worktree"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the rqmirrord server",
	Long: `Start runs rqmirrord in the foreground: it builds the local, work, and
remote trees from configuration, opens the durable request queue, and runs
the sync processor until interrupted.

Use --config to specify a configuration file, or it will use the default
location at $XDG_CONFIG_HOME/rqmirror/config.yaml.

Examples:
  # Start with the default configuration search path
  rqmirrord start

  # Start with an explicit configuration file
  rqmirrord start --config /etc/rqmirror/config.yaml`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cmdutil.ConfigFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	logger.Info("rqmirrord starting", logger.Share(cfg.Share))
	logger.Info("configuration loaded", "source", configSource())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	local, err := localtree.New(localtree.Config{BasePath: cfg.Local.Path})
	if err != nil {
		return fmt.Errorf("failed to open local tree: %w", err)
	}

	work, err := worktree.New(worktree.Config{BasePath: cfg.Work.Path})
	if err != nil {
		return fmt.Errorf("failed to open work tree: %w", err)
	}

	remote, err := buildRemoteTree(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to build remote tree: %w", err)
	}

	bus := &events.Bus{}

	q, err := queue.New(queue.Config{Path: cfg.Queue.Path}, bus)
	if err != nil {
		return fmt.Errorf("failed to open request queue: %w", err)
	}
	defer func() {
		if err := q.Close(); err != nil {
			logger.Warn("request queue close error", logger.Err(err))
		}
	}()

	rt := rqtree.New(local, work, remote, q, bus, rqtree.Config{
		ModifiedThreshold: cfg.Cache.ModifiedThreshold,
		TempPatterns:      cfg.TempPatterns,
		RemotePrefix:      remotePrefix(cfg),
		LocalPrefix:       cfg.Local.Path,
	})

	var reg *prometheus.Registry
	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		reg = prometheus.NewRegistry()
		m = metrics.New(reg)
		q.SetMetrics(m)
		rt.SetMetrics(m)
	}

	proc := syncproc.New(q, local, remote, work, bus, syncproc.Config{
		Frequency:       cfg.Processor.Frequency,
		Expiration:      cfg.Processor.Expiration,
		MaxRetries:      cfg.Processor.MaxRetries,
		RetryDelay:      cfg.Processor.RetryDelay,
		InvalidateCache: rt.InvalidateCache,
		Metrics:         m,
	})
	rt.SetProcessor(proc)

	var servers []*http.Server
	if reg != nil {
		srv := newMetricsServer(cfg.Metrics.Listen, reg)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !strings.Contains(err.Error(), "Server closed") {
				logger.Error("metrics server error", logger.Err(err))
			}
		}()
		servers = append(servers, srv)
		logger.Info("metrics enabled", "listen", cfg.Metrics.Listen)
	} else {
		logger.Info("metrics disabled")
	}

	var adminSrv *adminapi.Server
	if cfg.Admin.Enabled {
		port, err := listenPort(cfg.Admin.Listen)
		if err != nil {
			return fmt.Errorf("invalid admin listen address %q: %w", cfg.Admin.Listen, err)
		}
		adminSrv = adminapi.NewServer(adminapi.Config{Port: port}, q, proc)
		go func() {
			if err := adminSrv.Start(ctx); err != nil {
				logger.Error("admin API error", logger.Err(err))
			}
		}()
		logger.Info("admin API enabled", "listen", cfg.Admin.Listen)
	} else {
		logger.Info("admin API disabled")
	}

	if !cfg.Processor.NoProcessor {
		proc.Start()
		logger.Info("sync processor started")
	} else {
		logger.Info("sync processor disabled (no_processor)")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("rqmirrord is running; press Ctrl+C to stop")
	<-sigChan
	signal.Stop(sigChan)
	logger.Info("shutdown signal received, stopping")

	if !cfg.Processor.NoProcessor {
		proc.Stop()
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if adminSrv != nil {
		_ = adminSrv.Stop(shutdownCtx)
	}
	for _, s := range servers {
		_ = s.Shutdown(shutdownCtx)
	}

	logger.Info("rqmirrord stopped")
	return nil
}

func newMetricsServer(listen string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{Addr: listen, Handler: mux}
}

func buildRemoteTree(ctx context.Context, cfg *config.Config) (remotetree.RemoteTree, error) {
	switch cfg.Remote.Kind {
	case "s3":
		var opts []func(*awsconfig.LoadOptions) error
		if cfg.Remote.Region != "" {
			opts = append(opts, awsconfig.WithRegion(cfg.Remote.Region))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		client := s3.NewFromConfig(awsCfg)
		return s3remote.New(s3remote.Config{
			Client:        client,
			Bucket:        cfg.Remote.Bucket,
			Prefix:        cfg.Remote.Prefix,
			LocalBasePath: cfg.Local.Path,
		})
	default:
		return httpremote.New(httpremote.Config{
			BaseURL:        cfg.Remote.BaseURL,
			LocalBasePath:  cfg.Local.Path,
			RequestTimeout: cfg.Remote.RequestTimeout,
		})
	}
}

func remotePrefix(cfg *config.Config) string {
	if cfg.Remote.Kind == "s3" {
		return cfg.Remote.Prefix
	}
	return cfg.Remote.BaseURL
}

func listenPort(listen string) (int, error) {
	_, portStr, found := strings.Cut(listen, ":")
	if !found {
		return 0, fmt.Errorf("expected host:port or :port")
	}
	return strconv.Atoi(portStr)
}

func configSource() string {
	if cmdutil.ConfigFile != "" {
		return cmdutil.ConfigFile
	}
	if config.DefaultConfigExists() {
		return config.GetDefaultConfigPath()
	}
	return "defaults"
}

