package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/Rainnny7/LicenseServer/internal/config"
	"github.com/Rainnny7/LicenseServer/internal/database"
	"github.com/Rainnny7/LicenseServer/internal/handler"
	"github.com/Rainnny7/LicenseServer/internal/hasher"
	"github.com/Rainnny7/LicenseServer/internal/keyexchange"
	"github.com/Rainnny7/LicenseServer/internal/ledger"
	"github.com/Rainnny7/LicenseServer/internal/metrics"
	"github.com/Rainnny7/LicenseServer/internal/middleware"
	"github.com/Rainnny7/LicenseServer/internal/notify"
	"github.com/Rainnny7/LicenseServer/internal/redisledger"
	"github.com/Rainnny7/LicenseServer/internal/service"
	"github.com/Rainnny7/LicenseServer/internal/util"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "配置文件路径")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("服务异常退出", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := newLogger(cfg.Logging)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 初始化数据库
	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer database.Close(db)

	if err := database.EnsureAdmin(db, cfg.Auth.AdminUsername, cfg.Auth.AdminPassword); err != nil {
		return err
	}

	store, closeStore, err := openLedger(cfg, db)
	if err != nil {
		return err
	}
	defer closeStore()

	kx, err := keyexchange.LoadOrGenerate(cfg.Keys.Dir)
	if err != nil {
		return err
	}

	h, err := hasher.New(
		hasher.Salts{Licenses: cfg.Salts.Licenses, IPs: cfg.Salts.IPs},
		hasher.Params{Time: cfg.Hasher.Time, MemoryKiB: cfg.Hasher.MemoryKiB, Threads: cfg.Hasher.Threads},
	)
	if err != nil {
		return err
	}

	dispatcher, err := newDispatcher(ctx, cfg.Notify, db, log)
	if err != nil {
		return err
	}
	dispatcher.Start()
	defer func() {
		if err := dispatcher.Close(); err != nil {
			log.Warn("关闭通知失败", "error", err)
		}
	}()

	licenses := service.NewLicenseService(store, kx, h,
		service.WithNotifier(dispatcher),
		service.WithMetrics(metrics.NewProm("license_server", nil)),
		service.WithLogger(log),
	)

	if cfg.Seed.DefaultLicense {
		if _, _, err := licenses.SeedDefault(ctx, cfg.Seed.Product); err != nil {
			return fmt.Errorf("seed default license: %w", err)
		}
	}

	app := fiber.New(fiber.Config{
		Immutable:    true,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			var fe *fiber.Error
			if errors.As(err, &fe) {
				code = fe.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error": err.Error(),
			})
		},
	})

	// 中间件
	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New())

	opts := handler.RouteOptions{
		TrustProxyHeaders: cfg.Server.TrustProxyHeaders,
		Metrics:           metrics.Handler(),
	}
	if cfg.Server.RateLimit.Enabled {
		opts.RateLimiter = middleware.NewRateLimiter(cfg.Server.RateLimit.RPS, cfg.Server.RateLimit.Burst, log)
	}

	handler.New(handler.Deps{
		Licenses:  licenses,
		Usage:     service.NewUsageService(db, licenses),
		OpLogs:    service.NewOperationLogService(db),
		DB:        db,
		Tokens:    util.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL),
		PublicKey: kx.PublicKey(),
		Logger:    log,
	}).Register(app, opts)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("服务已启动", "addr", cfg.Server.Addr, "ledger", cfg.Ledger.Driver)
		return app.Listen(cfg.Server.Addr)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("正在关闭服务")
		return app.ShutdownWithTimeout(shutdownTimeout)
	})
	return g.Wait()
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func openLedger(cfg *config.Config, db *gorm.DB) (ledger.UsageLedger, func(), error) {
	switch cfg.Ledger.Driver {
	case config.LedgerRedis:
		l, err := redisledger.NewRedisLedger(cfg.Ledger.RedisURL, cfg.Ledger.KeyPrefix)
		if err != nil {
			return nil, nil, err
		}
		return l, func() { _ = l.Close() }, nil
	default:
		return database.NewLicenseLedger(db), func() {}, nil
	}
}

func newDispatcher(ctx context.Context, cfg config.NotifyConfig, db *gorm.DB, log *slog.Logger) (*notify.Dispatcher, error) {
	flags := notify.FlagsFromConfig(cfg)

	d := notify.NewDispatcher(cfg.QueueSize, log)
	d.Add("log", notify.NewLogNotifier(log), flags)
	if cfg.Audit {
		d.Add("audit", notify.NewAuditNotifier(db), notify.AllEvents)
	}
	if cfg.Sheets.Enabled {
		sheets, err := notify.NewSheetsNotifier(ctx, cfg.Sheets.CredentialsFile, cfg.Sheets.SpreadsheetID, cfg.Sheets.SheetName)
		if err != nil {
			return nil, err
		}
		d.Add("sheets", sheets, flags)
	}
	if len(cfg.Kafka.Brokers) > 0 {
		kafka, err := notify.NewKafkaNotifier(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			return nil, err
		}
		d.Add("kafka", kafka, notify.AllEvents)
	}
	return d, nil
}
