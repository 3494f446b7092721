package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/records/internal/client"
	"github.com/ehr/records/internal/config"
	"github.com/ehr/records/internal/domain/fields"
	"github.com/ehr/records/internal/domain/patient"
	"github.com/ehr/records/internal/platform/db"
	"github.com/ehr/records/internal/platform/middleware"
)

// infoLister is the part of fields.Service the patient profile needs.
type infoLister interface {
	AdditionalInfo(ctx context.Context, patientID uuid.UUID) ([]fields.Info, error)
}

// InfoAdapter adapts the fields service to patient.InfoSource, keeping the
// patient and fields packages independent of each other.
type InfoAdapter struct {
	src infoLister
}

func NewInfoAdapter(src infoLister) *InfoAdapter {
	return &InfoAdapter{src: src}
}

// AdditionalInfo implements patient.InfoSource.
func (a *InfoAdapter) AdditionalInfo(ctx context.Context, patientID uuid.UUID) ([]patient.AdditionalInfo, error) {
	items, err := a.src.AdditionalInfo(ctx, patientID)
	if err != nil {
		return nil, err
	}
	out := make([]patient.AdditionalInfo, 0, len(items))
	for _, i := range items {
		out = append(out, patient.AdditionalInfo{ID: i.ID, Name: i.Name, Type: string(i.Type), Value: i.Value})
	}
	return out, nil
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "records",
		Short: "Patient records API server and client",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(patientsCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the records API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	withMigrator := func(cmd *cobra.Command, fn func(ctx context.Context, m *db.Migrator) error) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		dir, _ := cmd.Flags().GetString("dir")
		if dir == "" {
			dir = cfg.MigrationsDir
		}

		ctx := context.Background()
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return err
		}
		defer pool.Close()
		return fn(ctx, db.NewMigrator(pool, dir))
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(ctx context.Context, m *db.Migrator) error {
				count, err := m.Up(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Printf("Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	}
	upCmd.Flags().String("dir", "", "Path to migrations directory (default MIGRATIONS_DIR)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(ctx context.Context, m *db.Migrator) error {
				statuses, err := m.Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				printMigrationStatus(os.Stdout, statuses)
				return nil
			})
		},
	}
	statusCmd.Flags().String("dir", "", "Path to migrations directory (default MIGRATIONS_DIR)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func printMigrationStatus(w io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func patientsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patients",
		Short: "Query patients through the API",
	}

	addListFlags := func(c *cobra.Command) {
		c.Flags().String("sort", "", "Sort field: name, dob, city, status or age")
		c.Flags().String("direction", "", "Sort direction: asc or desc")
		c.Flags().String("name", "", "Name fragment (case and spacing ignored)")
		c.Flags().String("city", "", "Primary address city fragment")
		c.Flags().String("status", "", "Status or \"all\"")
		c.Flags().String("dob", "", "Date of birth (mm/dd/yyyy)")
		c.Flags().String("dob-op", "", "Date of birth operator: Before, After or On")
		c.Flags().String("api-url", "", "API base URL (default API_URL)")
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List patients",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := apiClient(cmd)
			if err != nil {
				return err
			}
			out, err := c.ListPatients(cmd.Context(), listRequestFromFlags(cmd))
			if err != nil {
				return err
			}
			printSummaries(cmd.OutOrStdout(), out)
			return nil
		},
	}
	addListFlags(listCmd)
	cmd.AddCommand(listCmd)

	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Download the patient list as an XLSX workbook",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := apiClient(cmd)
			if err != nil {
				return err
			}
			path, _ := cmd.Flags().GetString("out")
			return exportTo(cmd.Context(), c, listRequestFromFlags(cmd), path, cmd.OutOrStdout())
		},
	}
	addListFlags(exportCmd)
	exportCmd.Flags().String("out", "patients.xlsx", "Output file")
	cmd.AddCommand(exportCmd)

	return cmd
}

type exporter interface {
	ExportPatients(ctx context.Context, req patient.ListRequest, w io.Writer) error
}

// exportTo downloads the workbook fully before touching path, so a failed
// export leaves no file behind.
func exportTo(ctx context.Context, c exporter, req patient.ListRequest, path string, out io.Writer) error {
	var buf bytes.Buffer
	if err := c.ExportPatients(ctx, req, &buf); err != nil {
		return err
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return err
	}
	fmt.Fprintf(out, "Wrote %s\n", path)
	return nil
}

func apiClient(cmd *cobra.Command) (*client.Client, error) {
	url, _ := cmd.Flags().GetString("api-url")
	if url == "" {
		cfg, err := config.LoadClient()
		if err != nil {
			return nil, err
		}
		url = cfg.APIURL
	}
	return client.New(url), nil
}

func listRequestFromFlags(cmd *cobra.Command) patient.ListRequest {
	get := func(name string) string {
		v, _ := cmd.Flags().GetString(name)
		return v
	}
	var req patient.ListRequest
	if get("sort") != "" || get("direction") != "" {
		req.Sort = &patient.SortSpec{Field: patient.SortField(get("sort")), Direction: patient.Direction(get("direction"))}
	}
	f := patient.FilterSpec{Name: get("name"), City: get("city"), Status: get("status")}
	if get("dob") != "" || get("dob-op") != "" {
		f.DOB = &patient.DOBFilter{Date: get("dob"), Operator: patient.DOBOperator(get("dob-op"))}
	}
	if f != (patient.FilterSpec{}) {
		req.Filter = &f
	}
	return req
}

func printSummaries(w io.Writer, rows []patient.Summary) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tDOB\tAGE\tSTATUS\tCITY\tID")
	for _, s := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n", s.Name, s.DOB, s.Age, s.Status, s.City, s.ID)
	}
	tw.Flush()
}

func rateLimitStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (echomw.RateLimiterStore, func(), error) {
	if cfg.RedisURL == "" {
		return middleware.NewMemoryStore(cfg.RateLimitRPS, cfg.RateLimitBurst), func() {}, nil
	}
	rdb, err := middleware.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	return middleware.NewRedisStore(rdb, cfg.RateLimitRPS, cfg.RateLimitBurst, logger), func() { rdb.Close() }, nil
}

func newServer(cfg *config.Config, pool *pgxpool.Pool, limiter echomw.RateLimiterStore, logger zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAccept, middleware.RequestIDHeader},
	}))
	e.Use(middleware.RateLimit(limiter))
	e.Use(echomw.BodyLimit("1M"))
	e.Use(middleware.RequestTimeout(30 * time.Second))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", db.HealthHandler(pool))

	txm := db.NewTxManager(pool)
	patientRepo := patient.NewPatientRepo(pool)
	addressRepo := patient.NewAddressRepo(pool)

	fieldSvc := fields.NewService(fields.NewRepo(pool), txm)
	patientSvc := patient.NewService(patientRepo, addressRepo, NewInfoAdapter(fieldSvc))
	addrMgr := patient.NewAddressManager(txm, patientRepo, addressRepo, logger)

	apiV1 := e.Group("/api/v1")
	patient.NewHandler(patientSvc, addrMgr).RegisterRoutes(apiV1)
	fields.NewHandler(fieldSvc).RegisterRoutes(apiV1)

	return e
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Env)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	limiter, closeLimiter, err := rateLimitStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer closeLimiter()

	e := newServer(cfg, pool, limiter, logger)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
