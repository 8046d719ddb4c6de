package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"clipper/internal/api"
	"clipper/internal/artifacts"
	"clipper/internal/compose"
	"clipper/internal/config"
	"clipper/internal/fetch"
	"clipper/internal/logging"
	"clipper/internal/media"
	"clipper/internal/queue"
	"clipper/internal/split"
	"clipper/internal/suggest"
	"clipper/internal/transcribe"
	"clipper/internal/workflow"
)

func newServeCommand(configFlag *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the pipeline daemon and HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, _, err := config.Load(*configFlag)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return runServe(cmd.Context(), cfg)
		},
	}
}

func runServe(cmdCtx context.Context, cfg *config.Config) error {
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	// Single daemon per data directory. A second instance would race the
	// task store and the artifact cache.
	lock := flock.New(filepath.Join(cfg.Paths.DataDir, "clipperd.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire daemon lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another clipperd instance holds %s", lock.Path())
	}
	defer lock.Unlock() //nolint:errcheck

	logger, err := logging.NewWithLogDir(cfg.Logging.Level, cfg.Logging.Format, cfg.Paths.LogDir)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	ctx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := queue.Open(cfg)
	if err != nil {
		return fmt.Errorf("open task store: %w", err)
	}
	defer store.Close()

	artifactStore, err := artifacts.NewStore(cfg, logger)
	if err != nil {
		return fmt.Errorf("init artifact store: %w", err)
	}

	inspector := media.NewInspector(cfg.FFprobeBinary(), cfg.FFmpegBinary())
	deps := workflow.Deps{
		Store:     store,
		Artifacts: artifactStore,
		Fetcher: fetch.NewYTDLP(cfg.YTDLPBinary(), cfg.Fetch.Format,
			cfg.Fetch.CookiesFile, artifactStore, logger),
		Uploader: fetch.NewUpload(artifactStore, logger),
		Prober:   inspector,
		Transcriber: transcribe.NewService(
			transcribe.NewWhisperEngine(cfg.WhisperBinary(), cfg.Transcription.Model),
			artifactStore, logger),
		Renderer:  compose.NewRenderer(cfg.FFmpegBinary(), logger),
		Segmenter: split.NewSplitter(cfg.FFmpegBinary(), logger),
	}
	if suggester := suggest.NewService(cfg, logger); suggester != nil {
		deps.Suggester = suggester
	}

	manager := workflow.NewManager(cfg, deps, logger)
	if err := manager.Recover(ctx); err != nil {
		return fmt.Errorf("recover orphaned tasks: %w", err)
	}

	server, err := api.NewServer(cfg.Paths.APIBind, manager, artifactStore, logger)
	if err != nil {
		return err
	}
	if err := server.Start(ctx); err != nil {
		return err
	}

	logger.Info("clipperd running",
		logging.String("data_dir", cfg.Paths.DataDir),
		logging.String("bind", cfg.Paths.APIBind),
		logging.Int("pid", os.Getpid()),
	)

	<-ctx.Done()
	logger.Info("clipperd shutting down")
	server.Stop()
	manager.Stop()
	return nil
}
