package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/Avhad-Enterprises/mmv-credits/internal/httpserver"
	"github.com/Avhad-Enterprises/mmv-credits/internal/oplog"
	"github.com/Avhad-Enterprises/mmv-credits/internal/store/gormstore"
	"github.com/Avhad-Enterprises/mmv-credits/internal/store/pgstore"
	"github.com/Avhad-Enterprises/mmv-credits/pkg/credits"
	"github.com/glebarez/sqlite"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	flagDatabaseURL         = "database-url"
	flagStoreDriver         = "store-driver"
	flagListenAddr          = "listen-addr"
	flagAllowedOrigins      = "allowed-origins"
	flagAdminJWTSecret      = "admin-jwt-secret"
	flagSignupBonus         = "signup-bonus-credits"
	flagMaxBalance          = "max-balance"
	configKeyDatabaseURL    = "database_url"
	configKeyStoreDriver    = "store_driver"
	configKeyListenAddr     = "listen_addr"
	configKeyAllowedOrigins = "allowed_origins"
	configKeyAdminJWTSecret = "admin_jwt_secret"
	configKeySignupBonus    = "signup_bonus_credits"
	configKeyMaxBalance     = "max_balance"
	defaultDatabaseURL      = "sqlite:///tmp/mmv-credits.db"
	defaultHTTPListenAddr   = ":8080"

	storeDriverPgx  = "pgx"
	storeDriverGorm = "gorm"

	backendPgx          = "pgx"
	backendGormPostgres = "gorm-postgres"
	backendGormSQLite   = "gorm-sqlite"
)

type runtimeConfig struct {
	DatabaseURL    string
	StoreDriver    string
	ListenAddr     string
	AllowedOrigins string
	AdminJWTSecret string
	SignupBonus    int
	MaxBalance     int
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "creditsd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "creditsd",
		Short:         "Freelancer credits ledger HTTP server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}

	cmd.Flags().String(flagDatabaseURL, defaultDatabaseURL, "PostgreSQL or SQLite connection string")
	cmd.Flags().String(flagStoreDriver, storeDriverPgx, "Postgres store driver: pgx or gorm")
	cmd.Flags().String(flagListenAddr, defaultHTTPListenAddr, "HTTP listen address")
	cmd.Flags().String(flagAllowedOrigins, "", "Comma-separated CORS origins")
	cmd.Flags().String(flagAdminJWTSecret, "", "HMAC secret for admin bearer tokens")
	cmd.Flags().Int(flagSignupBonus, 0, "Signup bonus credits override")
	cmd.Flags().Int(flagMaxBalance, 0, "Maximum credits balance override")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	bindings := map[string]string{
		configKeyDatabaseURL:    "DATABASE_URL",
		configKeyStoreDriver:    "STORE_DRIVER",
		configKeyListenAddr:     "HTTP_LISTEN_ADDR",
		configKeyAllowedOrigins: "ALLOWED_ORIGINS",
		configKeyAdminJWTSecret: "ADMIN_JWT_SECRET",
		configKeySignupBonus:    "SIGNUP_BONUS_CREDITS",
		configKeyMaxBalance:     "MAX_BALANCE",
	}
	for key, env := range bindings {
		if err := viper.BindEnv(key, env); err != nil {
			return err
		}
	}

	flags := map[string]string{
		configKeyDatabaseURL:    flagDatabaseURL,
		configKeyStoreDriver:    flagStoreDriver,
		configKeyListenAddr:     flagListenAddr,
		configKeyAllowedOrigins: flagAllowedOrigins,
		configKeyAdminJWTSecret: flagAdminJWTSecret,
		configKeySignupBonus:    flagSignupBonus,
		configKeyMaxBalance:     flagMaxBalance,
	}
	for key, flagName := range flags {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(flagName)); err != nil {
			return err
		}
	}

	cfg.DatabaseURL = viper.GetString(configKeyDatabaseURL)
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = defaultDatabaseURL
	}
	cfg.StoreDriver = viper.GetString(configKeyStoreDriver)
	if cfg.StoreDriver == "" {
		cfg.StoreDriver = storeDriverPgx
	}
	cfg.ListenAddr = viper.GetString(configKeyListenAddr)
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaultHTTPListenAddr
	}
	cfg.AllowedOrigins = viper.GetString(configKeyAllowedOrigins)
	cfg.AdminJWTSecret = viper.GetString(configKeyAdminJWTSecret)
	if cfg.AdminJWTSecret == "" {
		return fmt.Errorf("admin jwt secret is required")
	}
	cfg.SignupBonus = viper.GetInt(configKeySignupBonus)
	cfg.MaxBalance = viper.GetInt(configKeyMaxBalance)
	return nil
}

func runServer(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	store, cleanup, err := openStore(ctx, cfg.DatabaseURL, cfg.StoreDriver)
	if err != nil {
		return fmt.Errorf("store open: %w", err)
	}
	defer cleanup()

	policy := credits.DefaultPolicy()
	if cfg.SignupBonus > 0 {
		policy.SignupBonusCredits = cfg.SignupBonus
	}
	if cfg.MaxBalance > 0 {
		policy.MaxBalance = cfg.MaxBalance
	}

	clock := func() time.Time { return time.Now().UTC() }
	service, err := credits.NewService(store, policy, clock,
		credits.WithOperationLogger(oplog.New(logger)))
	if err != nil {
		return fmt.Errorf("credits service init: %w", err)
	}

	serverConfig := httpserver.Config{
		ListenAddr:     cfg.ListenAddr,
		AllowedOrigins: httpserver.ParseAllowedOrigins(cfg.AllowedOrigins),
		AdminJWTSecret: cfg.AdminJWTSecret,
	}
	return httpserver.Run(ctx, serverConfig, service, logger)
}

// openStore picks the backing store from the DSN scheme and the driver
// setting: postgres connection strings get the pgx store with embedded
// migrations by default, or the GORM store when the gorm driver is
// selected; anything else is treated as a SQLite path behind GORM.
func openStore(ctx context.Context, dsn string, driver string) (credits.Store, func(), error) {
	backend, err := resolveStoreBackend(dsn, driver)
	if err != nil {
		return nil, nil, err
	}
	switch backend {
	case backendPgx:
		store, err := pgstore.New(ctx, dsn)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	case backendGormPostgres:
		return openGormStore(ctx, postgres.Open(dsn))
	default:
		sqlitePath, err := resolveSQLitePath(dsn)
		if err != nil {
			return nil, nil, err
		}
		return openGormStore(ctx, sqlite.Open(sqlitePath))
	}
}

// resolveStoreBackend maps the DSN scheme and driver setting to a store
// backend. The driver setting only matters for postgres DSNs; SQLite
// always runs behind GORM.
func resolveStoreBackend(dsn string, driver string) (string, error) {
	if driver != storeDriverPgx && driver != storeDriverGorm {
		return "", fmt.Errorf("unsupported store driver %q", driver)
	}
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		if driver == storeDriverGorm {
			return backendGormPostgres, nil
		}
		return backendPgx, nil
	}
	return backendGormSQLite, nil
}

func openGormStore(ctx context.Context, dialector gorm.Dialector) (credits.Store, func(), error) {
	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, nil, err
	}
	if err := gormstore.Migrate(db); err != nil {
		return nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() { _ = sqlDB.Close() }
	return gormstore.New(db.WithContext(ctx)), cleanup, nil
}

func resolveSQLitePath(dsn string) (string, error) {
	if strings.HasPrefix(dsn, "sqlite://") {
		parsed, err := url.Parse(dsn)
		if err != nil {
			return "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := parsed.Path
		if path == "" {
			path = parsed.Host
		}
		if path == "" || path == "/" {
			path = "mmv-credits.db"
		}
		return normalizeSQLitePath(path)
	}
	return normalizeSQLitePath(dsn)
}

func normalizeSQLitePath(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	if strings.HasPrefix(path, "/") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		return path, nil
	}
	abs := filepath.Join(".", path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	return abs, nil
}
