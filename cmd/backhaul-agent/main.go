// Command backhaul-agent runs scheduled restic backups for one device,
// coordinated through a shared Postgres database.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/spf13/cobra"

	"github.com/voidmesh/backhaul/internal/api"
	"github.com/voidmesh/backhaul/internal/backup"
	"github.com/voidmesh/backhaul/internal/config"
	"github.com/voidmesh/backhaul/internal/db"
	"github.com/voidmesh/backhaul/internal/journal"
	"github.com/voidmesh/backhaul/internal/metrics"
	"github.com/voidmesh/backhaul/internal/models"
	"github.com/voidmesh/backhaul/internal/scheduler"
)

// Build-time variables set via ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "backhaul-agent",
		Short: "Backhaul backup agent",
		Long: `Backhaul Agent runs restic backups for this device on the schedules
stored in the shared Backhaul database.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path (default ~/.backhaul/config.yml)")

	rootCmd.AddCommand(
		newVersionCmd(),
		newStartCmd(&configPath),
		newBackupCmd(&configPath),
		newHistoryCmd(),
	)

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Backhaul Agent %s\n", Version)
			fmt.Printf("  Commit:     %s\n", Commit)
			fmt.Printf("  Built:      %s\n", BuildDate)
			fmt.Printf("  Go version: %s\n", runtime.Version())
			fmt.Printf("  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}

func loadConfig(configPath string) (*config.Config, error) {
	if configPath != "" {
		return config.Load(configPath)
	}
	return config.LoadDefault()
}

func newLogger(cfg *config.Config) (zerolog.Logger, error) {
	var writer io.Writer = zerolog.NewConsoleWriter()

	if cfg.Client.LogFile != "" {
		f, err := os.OpenFile(cfg.Client.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return zerolog.Logger{}, fmt.Errorf("open log file: %w", err)
		}
		writer = zerolog.MultiLevelWriter(writer, f)
	}

	return zerolog.New(writer).With().Timestamp().Logger(), nil
}

func newStartCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the agent daemon",
		Long: `Start the agent as a long-running daemon.

The daemon registers the device, loads its jobs and schedules from the
shared database, runs due backups and serves a local control API.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			return runDaemon(cfg)
		},
	}
}

func runDaemon(cfg *config.Config) error {
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	logger = logger.With().Str("device_id", cfg.Device.ID).Logger()
	logger.Info().Str("version", Version).Msg("backhaul agent starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	restic, err := backup.NewRestic(logger)
	if err != nil {
		return err
	}

	database, err := db.New(ctx, db.DefaultConfig(cfg.DatabaseURL()), logger)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := database.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	if err := registerDevice(ctx, database, cfg); err != nil {
		return err
	}

	remote, err := config.LoadRemote(ctx, database, cfg.Device.ID)
	if err != nil {
		return fmt.Errorf("load remote config: %w", err)
	}
	remoteStore := config.NewStore(remote)
	if _, err := remoteStore.EngineConfig(); err != nil {
		return err
	}
	logger.Info().
		Int("jobs", len(remote.Jobs)).
		Int("schedules", len(remote.Schedules)).
		Msg("remote configuration loaded")

	collector := metrics.New(cfg.Device.ID, logger)
	if cfg.Metrics.PushgatewayURL != "" {
		collector.SetPushgateway(cfg.Metrics.PushgatewayURL)
	}

	runner := backup.NewRunner(database, restic, remoteStore, logger)
	runner.SetMetrics(collector)

	configDir, err := config.DefaultConfigDir()
	if err == nil {
		if j, jerr := journal.Open(configDir, logger); jerr != nil {
			logger.Warn().Err(jerr).Msg("run journal unavailable")
		} else {
			defer j.Close()
			runner.SetJournal(j)
		}
	}

	sched, queue := scheduler.New(database, cfg.Device.ID, logger)
	sched.SetQueueObserver(collector)

	executor := scheduler.NewJobExecutor(database, runner, remote.MaxConcurrentBackups(), logger)
	executor.SetObserver(collector)

	errCh := make(chan error, 4)
	go func() { errCh <- sched.Run(ctx) }()
	go func() { errCh <- executor.Run(ctx, queue) }()
	go func() { runSyncLoop(ctx, database, remoteStore, sched, cfg.Device.ID, logger) }()
	go func() { collector.PushLoop(ctx, time.Minute) }()

	var apiServer *api.Server
	if cfg.Metrics.Enabled {
		apiServer = api.NewServer(database, sched, collector.Handler(), cfg.Device.ID, logger)
	} else {
		apiServer = api.NewServer(database, sched, nil, cfg.Device.ID, logger)
	}
	go func() { errCh <- apiServer.Run(ctx, cfg.HTTPBind()) }()

	err = <-errCh
	stop()
	executor.Wait()

	if err != nil && ctx.Err() == nil {
		return err
	}
	logger.Info().Msg("backhaul agent stopped")
	return nil
}

// runSyncLoop periodically reloads the remote snapshot and the scheduler
// cache so job and schedule changes reach the agent without a restart.
func runSyncLoop(ctx context.Context, database *db.DB, remoteStore *config.Store, sched *scheduler.Scheduler, deviceID string, logger zerolog.Logger) {
	logger = logger.With().Str("component", "sync").Logger()

	for {
		interval := remoteStore.Current().SyncInterval()
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}

		remote, err := config.LoadRemote(ctx, database, deviceID)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to refresh remote configuration")
			continue
		}
		remoteStore.Swap(remote)

		if err := sched.Reload(ctx); err != nil {
			logger.Error().Err(err).Msg("failed to reload schedules")
		}
	}
}

func registerDevice(ctx context.Context, database *db.DB, cfg *config.Config) error {
	device := &models.Device{ID: cfg.Device.ID}
	if cfg.Device.Name != "" {
		device.Name = &cfg.Device.Name
	}

	if info, err := host.Info(); err == nil {
		platform := strings.TrimSpace(info.Platform + " " + info.PlatformVersion)
		device.Platform = &platform
		device.Hostname = &info.Hostname
	}

	return database.UpsertDevice(ctx, device)
}

func newBackupCmd(configPath *string) *cobra.Command {
	var jobRef string

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Run one backup job immediately",
		Long:  `Run a single backup job by ID or name and exit, bypassing the scheduler.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			return runOneBackup(cfg, jobRef)
		},
	}

	cmd.Flags().StringVar(&jobRef, "job", "", "ID or name of the job to run")
	_ = cmd.MarkFlagRequired("job")

	return cmd
}

// selectJob resolves a job reference against the device's enabled jobs,
// matching by ID when the reference parses as a UUID and by name otherwise.
func selectJob(jobs []models.BackupJob, ref string) *models.BackupJob {
	if id, err := uuid.Parse(ref); err == nil {
		for i := range jobs {
			if jobs[i].ID == id {
				return &jobs[i]
			}
		}
		return nil
	}
	for i := range jobs {
		if jobs[i].Name == ref {
			return &jobs[i]
		}
	}
	return nil
}

func runOneBackup(cfg *config.Config, jobRef string) error {
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	restic, err := backup.NewRestic(logger)
	if err != nil {
		return err
	}

	database, err := db.New(ctx, db.DefaultConfig(cfg.DatabaseURL()), logger)
	if err != nil {
		return err
	}
	defer database.Close()

	jobs, err := database.GetJobsForDevice(ctx, cfg.Device.ID)
	if err != nil {
		return err
	}

	job := selectJob(jobs, jobRef)
	if job == nil {
		return fmt.Errorf("no enabled job %q for device %s", jobRef, cfg.Device.ID)
	}

	remote, err := config.LoadRemote(ctx, database, cfg.Device.ID)
	if err != nil {
		return fmt.Errorf("load remote config: %w", err)
	}

	runner := backup.NewRunner(database, restic, config.NewStore(remote), logger)
	if configDir, derr := config.DefaultConfigDir(); derr == nil {
		if j, jerr := journal.Open(configDir, logger); jerr != nil {
			logger.Warn().Err(jerr).Msg("run journal unavailable")
		} else {
			defer j.Close()
			runner.SetJournal(j)
		}
	}

	runID, err := runner.Execute(ctx, job, models.TriggerManual, uuid.New().String())
	if err != nil {
		return err
	}

	fmt.Printf("Backup completed (run %d)\n", runID)
	return nil
}

func newHistoryCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent runs from the local journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			configDir, err := config.DefaultConfigDir()
			if err != nil {
				return err
			}

			j, err := journal.Open(configDir, zerolog.Nop())
			if err != nil {
				return err
			}
			defer j.Close()

			entries, err := j.Recent(context.Background(), limit)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println("No journaled runs.")
				return nil
			}

			for _, entry := range entries {
				line := fmt.Sprintf("%s  %-7s  run %-5d %s",
					entry.EndTime.Local().Format("2006-01-02 15:04:05"),
					entry.Status, entry.RunID, entry.JobName)
				if entry.SnapshotID != nil {
					line += "  snapshot " + *entry.SnapshotID
				}
				if entry.ErrorMessage != nil {
					line += "  (" + *entry.ErrorMessage + ")"
				}
				fmt.Println(line)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "number of runs to show")

	return cmd
}
