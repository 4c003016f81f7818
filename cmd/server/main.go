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

	"prepmate/internal/config"
	"prepmate/internal/db"
	"prepmate/internal/events"
	clog "prepmate/internal/log"
	"prepmate/internal/mail"
	"prepmate/internal/server"
	"prepmate/internal/service"
	"prepmate/internal/ws"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "prepmate",
	Short: "PrepMate mock interview marketplace server",
	Long: `prepmate runs the PrepMate API: coin-based mock interview booking,
interviewer matching, in-meeting chat and the late-interviewer sweeper.

Configuration comes from an optional YAML file (--config or CONFIG_FILE)
overridden by environment variables.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cfgFile != "" {
			return os.Setenv("CONFIG_FILE", cfgFile)
		}
		return nil
	},
	RunE: runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP and websocket server (default)",
	RunE:  runServe,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, gdb, err := bootstrap(cmd.Context())
		if err != nil {
			return err
		}
		log.Info().Msg("migrations applied")
		return closeDB(gdb)
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run the late-interviewer sweep once and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, gdb, err := bootstrap(cmd.Context())
		if err != nil {
			return err
		}
		defer closeDB(gdb)
		meetings := service.NewMeetingService(gdb, cfg, service.NopNotifier, mail.New(cfg.SMTP))
		n, err := meetings.Sweep(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "swept %d meeting(s)\n", n)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to YAML config file")
	rootCmd.AddCommand(serveCmd, migrateCmd, sweepCmd)
}

// bootstrap 加载配置、初始化日志并连接、迁移数据库。
func bootstrap(ctx context.Context) (config.Config, *gorm.DB, error) {
	cfg := config.Load()
	clog.Init(cfg.Env, cfg.LogLevel)
	if err := config.Validate(cfg); err != nil {
		return cfg, nil, fmt.Errorf("invalid config: %w", err)
	}
	gdb, err := db.Connect(ctx, cfg.DatabaseDSN, db.DefaultOptions)
	if err != nil {
		return cfg, nil, fmt.Errorf("db connect: %w", err)
	}
	if err := db.Migrate(gdb); err != nil {
		return cfg, nil, fmt.Errorf("db migrate: %w", err)
	}
	return cfg, gdb, nil
}

func closeDB(gdb *gorm.DB) error {
	sqlDB, err := gdb.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, gdb, err := bootstrap(cmd.Context())
	if err != nil {
		return err
	}
	defer closeDB(gdb)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := ws.NewHub()
	defer hub.Close()

	// 配置了 Redis 时事件经由 pub/sub 分发，每个实例再投递给本地 Hub。
	var notifier service.Notifier = hub
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		notifier = events.NewPublisher(rdb)
		go func() {
			if err := events.Subscribe(ctx, rdb, hub, nil); err != nil {
				log.Error().Err(err).Msg("events subscriber stopped")
			}
		}()
	}

	mailer := mail.New(cfg.SMTP)
	meetings := service.NewMeetingService(gdb, cfg, notifier, mailer)
	defer meetings.Reminders().Stop()
	h := server.NewHandler(
		service.NewUserService(gdb, cfg, mailer),
		meetings,
		service.NewChatService(gdb, notifier),
		service.NewReviewService(gdb, mailer),
		service.NewProfileService(gdb),
	)

	sched := service.NewScheduler()
	if err := sched.Add("sweep", cfg.SweepSchedule, service.SweepJob(meetings)); err != nil {
		return err
	}
	if err := sched.Add("prune-rooms", "@every 5m", func(context.Context) error {
		if n := hub.Prune(); n > 0 {
			log.Debug().Int("rooms", n).Msg("pruned idle rooms")
		}
		return nil
	}); err != nil {
		return err
	}
	sched.Start()
	defer func() { <-sched.Stop().Done() }()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.SetupRouter(cfg, gdb, hub, h),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("env", cfg.Env).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server run: %w", err)
		}
	case <-ctx.Done():
	}
	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("prepmate")
		os.Exit(1)
	}
}
