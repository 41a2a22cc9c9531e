package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	flag "github.com/spf13/pflag"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/thermoscan/internal/archive"
	"github.com/example/thermoscan/internal/auth"
	"github.com/example/thermoscan/internal/config"
	"github.com/example/thermoscan/internal/domain"
	"github.com/example/thermoscan/internal/grpcclient"
	"github.com/example/thermoscan/internal/handlers"
	"github.com/example/thermoscan/internal/logging"
	"github.com/example/thermoscan/internal/metrics"
	"github.com/example/thermoscan/internal/repository"
	"github.com/example/thermoscan/internal/usecase"
	"github.com/example/thermoscan/internal/vision"
)

func main() {
	configPath := flag.String("config", "", "path to a thermoscan config file")
	flag.Parse()

	var opts []config.Option
	if *configPath != "" {
		opts = append(opts, config.WithConfigFile(*configPath))
	}
	cfg, err := config.Load(opts...)
	if err != nil {
		panic(err)
	}

	logger, err := logging.NewLogger(cfg.Log.Level)
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	db := initDatabase(ctx, cfg.Local, logger)
	repo := repository.NewReadingRepository(db, logger)
	if err := repo.AutoMigrate(ctx); err != nil {
		logger.Fatal("auto migrate failed", zap.Error(err))
	}
	if cfg.Local.ResetOnStart {
		if err := repo.Reset(ctx); err != nil {
			logger.Fatal("session store reset failed", zap.Error(err))
		}
	}

	var cache usecase.Cache
	if cfg.Redis.Addr != "" {
		redisCtx, redisCancel := context.WithTimeout(ctx, 5*time.Second)
		if client := initRedis(redisCtx, cfg.Redis, logger); client != nil {
			cache = usecase.NewRedisCache(client)
			defer client.Close()
		}
		redisCancel()
	}

	if !cfg.ArchiveConfigured() {
		logger.Warn("archive store is not configured; archive writes will report failure")
	}
	store := archive.NewStore(archive.Config{
		URI:        cfg.Archive.URI,
		Username:   cfg.Archive.Username,
		Password:   cfg.Archive.Password,
		Cluster:    cfg.Archive.Cluster,
		Database:   cfg.Archive.Database,
		Collection: cfg.Archive.Collection,
		Source:     cfg.Archive.Source,
		Timeout:    cfg.Archive.Timeout,
	}, logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	dispatcher := usecase.NewDispatcher(logger, m)
	conn := registerProviders(ctx, dispatcher, cfg.Providers, logger)
	if conn != nil {
		defer conn.Close()
	}

	persister := usecase.NewPersister(repo, store, cache, logger, m)
	uc := usecase.NewReadingUseCase(dispatcher, persister, logger)
	history := usecase.NewHistoryService(repo, store, cache, cfg.Redis.HistoryTTL, logger)

	r := gin.Default()
	handlers.RegisterRoutes(r, uc, history, m, auth.JWTMiddleware(cfg.Auth.JWTSecret, cfg.Auth.JWTAudience), logger)

	server := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: r,
	}

	logger.Info("ThermoScan API listening",
		zap.String("addr", cfg.Server.Addr),
		zap.Any("providers", dispatcher.Providers()),
	)
	if err := serveHTTPServer(server, cfg.Server.ShutdownTimeout, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

// registerProviders binds every configured vision backend. The returned
// connection belongs to the gRPC provider and is nil when none is configured.
func registerProviders(ctx context.Context, d *usecase.Dispatcher, cfg config.ProvidersConfig, logger *zap.Logger) *grpc.ClientConn {
	client := &http.Client{Timeout: cfg.Timeout}
	httpConfig := func(p config.ProviderConfig) vision.HTTPConfig {
		return vision.HTTPConfig{BaseURL: p.BaseURL, Model: p.Model, Client: client}
	}

	d.Register(domain.ProviderGemini, usecase.Registration{
		Extractor:          vision.NewGemini(httpConfig(cfg.Gemini)),
		RequiresCredential: true,
		DefaultCredential:  cfg.Gemini.APIKey,
	})
	d.Register(domain.ProviderTogether, usecase.Registration{
		Extractor:          vision.NewTogether(httpConfig(cfg.Together)),
		RequiresCredential: true,
		DefaultCredential:  cfg.Together.APIKey,
	})
	d.Register(domain.ProviderMoondream, usecase.Registration{
		Extractor:          vision.NewFreeTier(vision.NewMoondream(httpConfig(cfg.Moondream.ProviderConfig)), logger),
		RequiresCredential: true,
		DefaultCredential:  cfg.Moondream.APIKey,
		FreeTierToken:      cfg.Moondream.FreeToken,
	})

	if cfg.GRPC.Addr == "" {
		return nil
	}
	extractor, conn, err := grpcclient.DialVisionService(ctx, cfg.GRPC.Addr, logger)
	if err != nil {
		logger.Fatal("failed to set up grpc vision service", zap.Error(err))
	}
	d.Register(domain.ProviderGRPC, usecase.Registration{
		Extractor: vision.ExtractorFunc(func(ctx context.Context, image []byte, credential string) (*vision.Result, error) {
			callCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
			defer cancel()
			return extractor.Extract(callCtx, image, credential)
		}),
		DefaultCredential: cfg.GRPC.APIKey,
	})
	return conn
}

func initDatabase(ctx context.Context, cfg config.LocalConfig, zapLogger *zap.Logger) *gorm.DB {
	db, err := repository.OpenDatabase(ctx, cfg.Driver, cfg.DSN, gormlogger.Warn)
	if err != nil {
		zapLogger.Fatal("failed to open session store", zap.Error(err), zap.String("driver", cfg.Driver))
	}
	return db
}

func initRedis(ctx context.Context, cfg config.RedisConfig, zapLogger *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	if err := client.Ping(ctx).Err(); err != nil {
		zapLogger.Warn("redis unreachable, history cache disabled", zap.Error(err), zap.String("addr", cfg.Addr))
		client.Close()
		return nil
	}
	return client
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	var (
		sigCh       <-chan os.Signal
		stopSignals func()
	)

	if signalCh != nil {
		sigCh = signalCh
		stopSignals = func() {}
	} else {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		sigCh = ch
		stopSignals = func() {
			signal.Stop(ch)
		}
	}
	defer stopSignals()

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
