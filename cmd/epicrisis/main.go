package main

import (
	"context"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/clinica/epicrisis/internal/config"
	"github.com/clinica/epicrisis/internal/domain/epicrisis"
	"github.com/clinica/epicrisis/internal/domain/patient"
	"github.com/clinica/epicrisis/internal/domain/reporting"
	"github.com/clinica/epicrisis/internal/platform/db"
	"github.com/clinica/epicrisis/internal/platform/middleware"
	"github.com/clinica/epicrisis/internal/platform/sandbox"
	"github.com/clinica/epicrisis/migrations"
)

const (
	bodyLimit      = "1M"
	requestTimeout = 30 * time.Second
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "epicrisis",
		Short:        "Neonatal patient records and discharge summaries",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(backupCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(printCmd())
	rootCmd.AddCommand(seedCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the local HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run Postgres migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(ctx context.Context, m *db.Migrator, schema string) error {
				fmt.Printf("Running migrations on schema: %s\n", schema)
				count, err := m.Up(ctx, schema)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Printf("Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(ctx context.Context, m *db.Migrator, schema string) error {
				statuses, err := m.Status(ctx, schema)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}

				fmt.Printf("Migration status for schema: %s\n", schema)
				fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
				for _, s := range statuses {
					status := "pending"
					appliedAt := ""
					if s.Applied {
						status = "applied"
						if s.AppliedAt != nil {
							appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
						}
					}
					fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
				}
				return nil
			})
		},
	}

	for _, c := range []*cobra.Command{upCmd, statusCmd} {
		c.Flags().String("schema", "", "Target schema (defaults to DB_SCHEMA)")
		c.Flags().String("dir", "", "Migrations directory (defaults to the embedded set)")
		cmd.AddCommand(c)
	}
	return cmd
}

func withMigrator(cmd *cobra.Command, fn func(ctx context.Context, m *db.Migrator, schema string) error) error {
	schema, _ := cmd.Flags().GetString("schema")
	dir, _ := cmd.Flags().GetString("dir")

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required for migrations")
	}
	if schema == "" {
		schema = cfg.DBSchema
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return err
	}
	defer pool.Close()

	return fn(ctx, db.NewMigrator(pool, migrationsFS(dir)), schema)
}

func migrationsFS(dir string) fs.FS {
	if dir == "" {
		return migrations.FS
	}
	return os.DirFS(dir)
}

func backupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Write one snapshot of the embedded store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, st, err := setup()
			if err != nil {
				return err
			}
			defer st.close()

			if st.bolt == nil {
				return fmt.Errorf("backups apply to the %q store only", config.DriverBolt)
			}
			dir, _ := cmd.Flags().GetString("dir")
			if dir == "" {
				dir = cfg.BackupDir
			}
			path, err := db.NewBackupJob(st.bolt, dir, cfg.BackupKeep, logger).Run(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Println(path)
			return nil
		},
	}
	cmd.Flags().String("dir", "", "Backup directory (defaults to BACKUP_DIR)")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export matching patients to a spreadsheet",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, _ := cmd.Flags().GetString("out")
			q, _ := cmd.Flags().GetString("q")

			_, _, st, err := setup()
			if err != nil {
				return err
			}
			defer st.close()

			n, err := exportRoster(cmd.Context(), st, q, out)
			if err != nil {
				return err
			}
			fmt.Printf("Exported %d patient(s) to %s\n", n, out)
			return nil
		},
	}
	cmd.Flags().String("out", "pacientes.xlsx", "Output file")
	cmd.Flags().String("q", "", "Search query; empty exports every patient")
	return cmd
}

func printCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "print <id>",
		Short: "Render a patient's epicrisis as PDF",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := patient.ParseID(args[0])
			if err != nil {
				return err
			}
			out, _ := cmd.Flags().GetString("out")
			if out == "" {
				out = "epicrisis-" + strconv.FormatInt(id, 10) + ".pdf"
			}

			cfg, _, st, err := setup()
			if err != nil {
				return err
			}
			defer st.close()

			if err := printEpicrisis(cmd.Context(), st, cfg.ClinicName, id, out); err != nil {
				return err
			}
			fmt.Println(out)
			return nil
		},
	}
	cmd.Flags().String("out", "", "Output file (defaults to epicrisis-<id>.pdf)")
	return cmd
}

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Add synthetic newborn records for demos",
		RunE: func(cmd *cobra.Command, args []string) error {
			seedCfg := sandbox.DefaultSeedConfig()
			seedCfg.PatientCount, _ = cmd.Flags().GetInt("count")
			seedCfg.DischargedPercent, _ = cmd.Flags().GetInt("discharged")
			seedCfg.Seed, _ = cmd.Flags().GetInt64("seed")

			cfg, _, st, err := setup()
			if err != nil {
				return err
			}
			defer st.close()
			if cfg.IsProduction() {
				return fmt.Errorf("refusing to seed synthetic records with ENV=production")
			}

			result, err := sandbox.NewSeeder(seedCfg, time.Now()).Seed(cmd.Context(), patient.NewService(st.repo))
			if err != nil {
				return err
			}
			fmt.Printf("Added %d patient(s), skipped %d duplicate record number(s).\n", result.Patients, result.Skipped)
			return nil
		},
	}
	defaults := sandbox.DefaultSeedConfig()
	cmd.Flags().Int("count", defaults.PatientCount, "Number of records to generate")
	cmd.Flags().Int("discharged", defaults.DischargedPercent, "Percent of records with discharge data")
	cmd.Flags().Int64("seed", 0, "Random seed; 0 picks one from the clock")
	return cmd
}

// setup loads and validates the configuration and prepares the store.
func setup() (*config.Config, zerolog.Logger, *store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, zerolog.Nop(), nil, err
	}
	logger := newLogger(cfg)
	st, err := openStore(cfg, logger)
	if err != nil {
		return nil, logger, nil, err
	}
	return cfg, logger, st, nil
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func exportRoster(ctx context.Context, st *store, q, out string) (int, error) {
	f, err := os.Create(out)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", out, err)
	}
	svc := reporting.NewService(patient.NewService(st.repo))
	n, err := svc.ExportRoster(ctx, q, f)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = cerr
	}
	if err != nil {
		os.Remove(out)
		return 0, err
	}
	return n, nil
}

func printEpicrisis(ctx context.Context, st *store, clinic string, id int64, out string) error {
	f, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("create %s: %w", out, err)
	}
	svc := epicrisis.NewService(patient.NewService(st.repo), clinic)
	err = svc.WritePDF(ctx, id, f)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = cerr
	}
	if err != nil {
		os.Remove(out)
		return err
	}
	return nil
}

// newServer wires middleware and routes. It does not start listening.
func newServer(cfg *config.Config, st *store, logger zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut},
		AllowHeaders: []string{"Content-Type", middleware.RequestIDHeader},
	}))
	e.Use(middleware.BodyLimit(bodyLimit))
	e.Use(middleware.RequestTimeout(requestTimeout))

	patientSvc := patient.NewService(st.repo)
	health := db.HealthHandler(st.driver, patientSvc)

	e.GET("/health", health)

	apiV1 := e.Group("/api/v1")
	apiV1.GET("/health", health)

	patient.NewHandler(patientSvc).RegisterRoutes(apiV1)
	epicrisis.NewHandler(epicrisis.NewService(patientSvc, cfg.ClinicName)).RegisterRoutes(apiV1)
	reporting.NewHandler(reporting.NewService(patientSvc)).RegisterRoutes(apiV1)

	return e
}

func runServer() error {
	cfg, logger, st, err := setup()
	if err != nil {
		return err
	}
	defer func() {
		if err := st.close(); err != nil {
			logger.Error().Err(err).Msg("close store")
		}
	}()

	e := newServer(cfg, st, logger)

	if st.bolt != nil && cfg.BackupInterval > 0 {
		job := db.NewBackupJob(st.bolt, cfg.BackupDir, cfg.BackupKeep, logger)
		if err := job.Start(cfg.BackupInterval); err != nil {
			return err
		}
		defer job.Stop()
	}

	errCh := make(chan error, 1)
	go func() {
		addr := cfg.Addr()
		logger.Info().Str("addr", addr).Str("store", st.driver).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error")
		return err
	}

	logger.Info().Msg("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}
