package main

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/rl1809/warehouse-tracker/internal/adapter/handler"
	"github.com/rl1809/warehouse-tracker/internal/adapter/storage"
	"github.com/rl1809/warehouse-tracker/internal/config"
	"github.com/rl1809/warehouse-tracker/internal/core/service"
	"github.com/rl1809/warehouse-tracker/internal/logging"
	"github.com/rl1809/warehouse-tracker/internal/metrics"
	"github.com/rl1809/warehouse-tracker/internal/port"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "."
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		panic(err)
	}

	logger, err := logging.NewLogger(cfg.Log.Service, cfg.Log.Env)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	// Initialize Redis (optional)
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Fatal("failed to connect redis", zap.Error(err))
		}
		logger.Info("connected to redis", zap.String("addr", cfg.Redis.Addr))
	}

	// Initialize document store
	store, closeStore := openStore(ctx, cfg, rdb, logger)

	var guard port.SubmissionGuard = storage.NewMemoryGuard(cfg.Receipt.IdempotencyTTL)
	if rdb != nil {
		guard = storage.NewRedisAdapter(rdb, cfg.Receipt.IdempotencyTTL)
	}

	// Initialize services
	policy := service.RetryPolicy{MaxAttempts: cfg.Receipt.MaxAttempts, BaseDelay: cfg.Receipt.RetryBaseDelay}
	audit := service.NewAuditLogger(store, cfg.Audit.Workers, cfg.Audit.QueueSize, logger, m)
	receipts := service.NewReceiptService(store, guard, audit, policy, logger, m)
	stock := service.NewStockService(store, audit, policy, cfg.Inventory.DefaultReorderLevel, logger, m)

	readModel := service.NewReadModel(store, cfg.Inventory.DefaultReorderLevel, logger)
	if err := readModel.Start(ctx); err != nil {
		logger.Fatal("failed to start read model", zap.Error(err))
	}
	hub := handler.NewHub(readModel, logger)

	logger.Info("started audit workers", zap.Int("workers", cfg.Audit.Workers))

	// Initialize gRPC server
	grpcServer := grpc.NewServer()
	handler.RegisterReceiptServiceServer(grpcServer, handler.NewGRPCHandler(receipts, stock, logger))

	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		logger.Fatal("failed to listen", zap.String("addr", cfg.Server.GRPCAddr), zap.Error(err))
	}

	go func() {
		logger.Info("gRPC server listening", zap.String("addr", cfg.Server.GRPCAddr))
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("gRPC server error", zap.Error(err))
		}
	}()

	// Initialize HTTP server
	httpHandler := handler.NewHTTPHandler(receipts, stock, readModel, audit, hub, logger, m)
	httpServer := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: httpHandler.Routes(registry),
	}

	go func() {
		logger.Info("HTTP server listening", zap.String("addr", cfg.Server.HTTPAddr))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	hub.Close()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", zap.Error(err))
	}
	logger.Info("HTTP server stopped")

	grpcServer.GracefulStop()
	logger.Info("gRPC server stopped")

	readModel.Stop()

	// Drain queued audit entries before the store goes away
	audit.Close()
	logger.Info("audit workers stopped")

	closeStore(shutdownCtx)
	if rdb != nil {
		rdb.Close()
	}
	logger.Info("connections closed")
}

func openStore(ctx context.Context, cfg config.Config, rdb *redis.Client, logger *zap.Logger) (port.DocumentStore, func(context.Context)) {
	switch cfg.Store.Driver {
	case config.StoreMySQL:
		db, err := sql.Open("mysql", cfg.MySQL.DSN)
		if err != nil {
			logger.Fatal("failed to connect mysql", zap.Error(err))
		}
		db.SetMaxOpenConns(cfg.MySQL.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MySQL.MaxIdleConns)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.PingContext(ctx); err != nil {
			logger.Fatal("failed to ping mysql", zap.Error(err))
		}
		logger.Info("connected to mysql")

		var notifier port.ChangeNotifier = storage.NewLocalNotifier()
		if rdb != nil {
			notifier = storage.NewRedisAdapter(rdb, cfg.Receipt.IdempotencyTTL)
		}
		store := storage.NewMySQLStore(db, notifier, logger)
		if err := store.EnsureSchema(ctx); err != nil {
			logger.Fatal("failed to create schema", zap.Error(err))
		}
		return store, func(context.Context) { db.Close() }

	case config.StoreMongo:
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.Mongo.URI))
		if err != nil {
			logger.Fatal("failed to connect mongo", zap.Error(err))
		}
		if err := client.Ping(ctx, nil); err != nil {
			logger.Fatal("failed to ping mongo", zap.Error(err))
		}
		logger.Info("connected to mongo", zap.String("db", cfg.Mongo.DBName))

		store := storage.NewMongoStore(client.Database(cfg.Mongo.DBName), logger)
		return store, func(ctx context.Context) { client.Disconnect(ctx) }

	default:
		logger.Warn("using in-memory store; data is lost on restart")
		return storage.NewMemoryStore(), func(context.Context) {}
	}
}
