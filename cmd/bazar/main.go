package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-telegram/bot"
	tgModels "github.com/go-telegram/bot/models"
	"github.com/urfave/cli/v2"

	"github.com/fridaybazar/bazar/internal/bazar"
	"github.com/fridaybazar/bazar/internal/catalog"
	"github.com/fridaybazar/bazar/internal/config"
	"github.com/fridaybazar/bazar/internal/handlers"
	"github.com/fridaybazar/bazar/internal/http_api"
	"github.com/fridaybazar/bazar/internal/ledger"
	"github.com/fridaybazar/bazar/internal/models"
	"github.com/fridaybazar/bazar/internal/notificator"
	"github.com/fridaybazar/bazar/internal/qrcode"
	"github.com/fridaybazar/bazar/internal/repository"
	"github.com/fridaybazar/bazar/internal/store"
	"github.com/fridaybazar/bazar/pkg/logger"
)

const qrCacheSize = 256

func main() {
	app := &cli.App{
		Name:  "bazar",
		Usage: "Friday Bazar is a Telegram subscription shop bot",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "development", Aliases: []string{"D"}, Usage: "Development mode"},
			&cli.StringFlag{Name: "storage", Aliases: []string{"s"}, Usage: "Storage backend: file, postgres or memory"},
			&cli.StringFlag{Name: "data-dir", Usage: "Directory of the JSON store"},
			&cli.BoolFlag{Name: "strict-load", Usage: "Refuse to start when a store file is unreadable"},
			&cli.StringFlag{Name: "postgres-user", Aliases: []string{"u"}, Usage: "Postgres user"},
			&cli.StringFlag{Name: "postgres-password", Aliases: []string{"p"}, Usage: "Postgres password"},
			&cli.StringFlag{Name: "postgres-host", Aliases: []string{"t"}, Usage: "Postgres host"},
			&cli.IntFlag{Name: "postgres-port", Aliases: []string{"P"}, Usage: "Postgres port"},
			&cli.StringFlag{Name: "postgres-db", Aliases: []string{"d"}, Usage: "Postgres database name"},
			&cli.IntFlag{Name: "api-port", Usage: "HTTP API port"},
			&cli.StringFlag{Name: "webhook-url", Usage: "Public Telegram webhook URL; polls when empty"},
		},
		Action: func(c *cli.Context) error {
			return run(c)
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		log.Fatal(err)
	}
}

func applyFlags(c *cli.Context, cfg *config.Config) {
	if c.IsSet("development") {
		cfg.Development = c.Bool("development")
	}
	if c.IsSet("storage") {
		cfg.StorageBackend = c.String("storage")
	}
	if c.IsSet("data-dir") {
		cfg.DataDir = c.String("data-dir")
	}
	if c.IsSet("strict-load") {
		cfg.StrictLoad = c.Bool("strict-load")
	}
	if c.IsSet("postgres-user") {
		cfg.PostgresUser = c.String("postgres-user")
	}
	if c.IsSet("postgres-password") {
		cfg.PostgresPassword = c.String("postgres-password")
	}
	if c.IsSet("postgres-host") {
		cfg.PostgresHost = c.String("postgres-host")
	}
	if c.IsSet("postgres-port") {
		cfg.PostgresPort = c.Int("postgres-port")
	}
	if c.IsSet("postgres-db") {
		cfg.PostgresDB = c.String("postgres-db")
	}
	if c.IsSet("api-port") {
		cfg.APIPort = c.Int("api-port")
	}
	if c.IsSet("webhook-url") {
		cfg.WebhookURL = c.String("webhook-url")
	}
}

func openStorage(cfg *config.Config, log *logger.Logger) (models.Storage, error) {
	switch cfg.StorageBackend {
	case config.StoragePostgres:
		return repository.NewPostgresDB(cfg.PostgresUser, cfg.PostgresPassword, cfg.PostgresDB, cfg.PostgresHost, cfg.PostgresPort, log)
	case config.StorageMemory:
		log.Warn("Using in-memory storage, nothing survives a restart")
		return repository.NewMemoryStorage(), nil
	default:
		return repository.NewFileStorage(cfg.DataDir, log)
	}
}

func run(c *cli.Context) error {
	// Load configuration from environment variables
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Override with flags if set
	applyFlags(c, cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Development)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()
	if !cfg.Development {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize storage and the write-back store
	storage, err := openStorage(cfg, log.Named("storage"))
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer storage.Close()

	db := store.NewDatabase(storage, log.Named("store"),
		store.WithFlushInterval(cfg.FlushInterval),
		store.WithStrictLoad(cfg.StrictLoad))
	if err := db.Initialize(); err != nil {
		return fmt.Errorf("failed to load store: %w", err)
	}

	settings, err := catalog.Open(storage, log.Named("catalog"),
		catalog.WithStrictLoad(cfg.StrictLoad),
		catalog.WithDefaults(catalog.DefaultSettings(cfg.UPIID, cfg.UPIName), nil))
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	settings.OnChange(func(change catalog.Change) {
		log.Debug("Catalog changed", "change", change)
	})

	qr, err := qrcode.NewGenerator(qrCacheSize)
	if err != nil {
		return fmt.Errorf("failed to create qr generator: %w", err)
	}

	// Initialize Telegram
	limiter, err := handlers.NewRateLimiter(cfg.RateLimitMessages, cfg.RateLimitWindow, cfg.IsAdmin, log.Named("antispam"))
	if err != nil {
		return fmt.Errorf("failed to create rate limiter: %w", err)
	}
	b, err := bot.New(cfg.BotToken,
		bot.WithMiddlewares(limiter.Middleware),
		bot.WithWebhookSecretToken(cfg.WebhookSecret))
	if err != nil {
		return fmt.Errorf("failed to create telegram bot: %w", err)
	}
	gateway := notificator.NewTelegramGateway(log.Named("telegram"), b)

	var mailer notificator.Mailer
	if cfg.EmailEnabled() {
		mailer = notificator.NewEmailNotificator(log.Named("email"),
			cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword, cfg.SMTPSender, cfg.AdminEmail)
	}
	notif := notificator.NewNotificator(log.Named("notificator"), gateway, mailer, cfg.AdminIDs, cfg.SupportUsername)

	// Create Bazar instance
	bazarApp := bazar.NewBazar(db, settings, ledger.New(cfg.ReferralCommissionPercent, log.Named("ledger")),
		qr, notif, log.Named("bazar"), cfg)
	router := handlers.NewRouter(bazarApp, settings, gateway, notif, cfg.BotUsername, log.Named("handlers"))
	b.RegisterHandlerMatchFunc(func(*tgModels.Update) bool { return true }, router.Handle)

	if err := bazarApp.Start(ctx); err != nil {
		return fmt.Errorf("failed to start bazar: %w", err)
	}

	apiServer := startTelegram(ctx, b, cfg, log, bazarApp)
	go apiServer.Start()

	log.Info("Friday Bazar is running", "storage", cfg.StorageBackend, "admins", len(cfg.AdminIDs), "webhook", cfg.WebhookURL != "")
	<-ctx.Done()
	log.Info("Shutting down...")

	bazarApp.Stop()
	if err := apiServer.Shutdown(); err != nil {
		log.Error("Failed to stop HTTP server", "error", err)
	}
	if err := db.Shutdown(); err != nil {
		log.Error("Final flush failed", "error", err)
		return err
	}
	log.Info("Shutdown complete")
	return nil
}

// startTelegram starts receiving updates, by webhook when a public URL is
// configured and by long polling otherwise, and returns the HTTP API.
func startTelegram(ctx context.Context, b *bot.Bot, cfg *config.Config, log *logger.Logger, bazarApp models.BazarI) models.APIServer {
	setupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if cfg.WebhookURL != "" {
		if _, err := b.SetWebhook(setupCtx, &bot.SetWebhookParams{
			URL:         cfg.WebhookURL,
			SecretToken: cfg.WebhookSecret,
		}); err != nil {
			log.Error("Failed to set webhook", "url", cfg.WebhookURL, "error", err)
		}
		go b.StartWebhook(ctx)
		return http_api.NewHTTPServer(bazarApp, cfg.APIPort, cfg.AdminAPIKey, b.WebhookHandler(), cfg.WebhookSecret, log.Named("http"))
	}

	if _, err := b.DeleteWebhook(setupCtx, &bot.DeleteWebhookParams{}); err != nil {
		log.Warn("Failed to delete webhook", "error", err)
	}
	go b.Start(ctx)
	return http_api.NewHTTPServer(bazarApp, cfg.APIPort, cfg.AdminAPIKey, nil, "", log.Named("http"))
}
