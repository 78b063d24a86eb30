package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"video_merge_service/internal/merge/api/handlers"
	"video_merge_service/internal/merge/api/router"
	"video_merge_service/internal/merge/app"
	"video_merge_service/internal/merge/domain"
	"video_merge_service/internal/merge/engine"
	"video_merge_service/internal/merge/events"
	"video_merge_service/internal/merge/repository"
	"video_merge_service/internal/merge/storage"
	"video_merge_service/pkg/config"
	"video_merge_service/pkg/database"
	errprocess "video_merge_service/pkg/err"
	"video_merge_service/pkg/logger"
	"video_merge_service/pkg/middlewares"
	testtool "video_merge_service/pkg/test_tool"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	shutdownTimeout = 30 * time.Second
	// jobs cancelled at shutdown still remove their workspace in this window
	cancelGrace = 15 * time.Second
)

func main() {
	logger.Log = logger.Initialize(config.EnvConfig.MergeService, config.EnvConfig.MergeServiceLogPath)
	defer logger.Log.Sync()

	cfg, err := config.LoadConfig[config.Merge](config.EnvConfig.MergeService, config.EnvConfig.MergeServiceYAMLPath, config.MergeDefaults())
	if err != nil {
		logger.Log.Fatal("Load config failed", zap.Error(err))
	}
	if err := cfg.Validate(); err != nil {
		logger.Log.Fatal("Invalid merge service config", zap.Error(err))
	}

	testtool.StartPprof(cfg.PprofAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	// 1. 清除前次異常結束留下的 workspace
	workspaces := app.NewWorkspaceManager(cfg.Workspace.Root)
	if n, err := workspaces.CleanStale(cfg.Workspace.StaleAfter); err != nil {
		logger.Log.Warn("Stale workspace sweep failed", zap.String("root", cfg.Workspace.Root), zap.Error(err))
	} else if n > 0 {
		logger.Log.Info("Stale workspaces removed", zap.Int("count", n))
	}

	// 2. job 紀錄 (postgres 或 sqlite)
	jobs, err := newJobRepo(ctx, cfg.PostgreSQL)
	if err != nil {
		logger.Log.Fatal("Unable to open job store", zap.Error(err))
	}

	// 3. redis 狀態快取
	cache, closeCache, err := newStatusCache(ctx, cfg.Redis)
	if err != nil {
		logger.Log.Fatal("Unable to connect to redis", zap.Error(err))
	}
	closers = append(closers, closeCache)

	// 4. job 事件
	notifier, closeEvents, err := newNotifier(ctx, cfg)
	if err != nil {
		cleanup()
		logger.Log.Fatal("Unable to start job event sink", zap.String("driver", cfg.Events.Driver), zap.Error(err))
	}
	closers = append(closers, closeEvents)

	// 5. 輸出位置
	publisher, static, err := newPublisher(ctx, cfg)
	if err != nil {
		cleanup()
		logger.Log.Fatal("Unable to start publisher", zap.String("driver", cfg.Publish.Driver), zap.Error(err))
	}

	// 6. ffmpeg
	ff := engine.NewFFmpeg(cfg.FFmpeg.Path, cfg.FFmpeg.ProbePath, cfg.FFmpeg.LogLevel)
	var prober app.Prober
	if cfg.FFmpeg.ProbePath != "" {
		prober = ff
	}

	usecase := app.NewMergeUseCase(app.MergeDeps{
		Workspaces:   workspaces,
		Normalizer:   app.NewNormalizer(ff, prober, cfg.Normalize.Concurrency),
		Concatenator: app.NewConcatenator(ff),
		Publisher:    publisher,
		Prober:       prober,
		Jobs:         jobs,
		Cache:        cache,
		Notifier:     notifier,
	})

	r := fiber.New(fiber.Config{
		BodyLimit:    cfg.BodyLimitMB * 1024 * 1024,
		ReadTimeout:  10 * time.Minute,
		WriteTimeout: 10 * time.Minute,
	})
	lifetime := middlewares.NewLifetime()
	router.RegisterRoutes(r, handlers.NewMergeHandler(usecase), static, lifetime)

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		logger.Log.Info("Shutting down merge service")
		if err := r.ShutdownWithTimeout(shutdownTimeout); err != nil {
			logger.Log.Warn("Server shutdown did not drain, cancelling jobs", zap.Error(err))
		}
		lifetime.Cancel()
		if !lifetime.Wait(cancelGrace) {
			logger.Log.Warn("Merge jobs still running at exit", zap.Duration("grace", cancelGrace))
		}
	}()

	addr := cfg.IP + ":" + cfg.Port
	logger.Log.Info(fmt.Sprintf("MergeService listening on : %s", addr))
	if err := r.Listen(addr); err != nil {
		cleanup()
		logger.Log.Fatal("Server failed to start", zap.Error(err))
	}
	<-done
	cleanup()
}

// newJobRepo opens postgres when enabled, else the sqlite file; nil when neither is configured
func newJobRepo(ctx context.Context, pg config.DatabaseConfig) (repository.JobRepo, error) {
	var db *gorm.DB
	var err error
	switch {
	case pg.Enabled:
		db, err = database.NewPGConnection(database.Connection{
			ConnectStr:    pg.DSN(),
			RetryCount:    pg.RetryCount,
			RetryInterval: time.Duration(pg.RetryInterval),
		})
	case pg.SQLitePath != "":
		db, err = database.NewSQLiteConnection(pg.SQLitePath)
	default:
		logger.Log.Info("No job store configured, job history is disabled")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	jobs := repository.NewJobRepo(db)
	if err := jobs.AutoMigrate(); err != nil {
		return nil, fmt.Errorf("job table migrate failed: %w", err)
	}
	// 前次行程中斷的 job 不會再完成
	n, err := repository.FailInterrupted(ctx, jobs, time.Now())
	if err != nil {
		logger.Log.Warn("Interrupted jobs not marked failed", zap.Error(err))
	} else if n > 0 {
		logger.Log.Info("Interrupted jobs marked failed", zap.Int("count", n))
	}
	return jobs, nil
}

func newStatusCache(ctx context.Context, rc config.RedisConfig) (repository.StatusCache, func(), error) {
	if !rc.Enabled {
		return nil, func() {}, nil
	}
	client, err := database.NewRedisClient(ctx, database.RedisConnection{
		Addr:          rc.Addr,
		MasterName:    rc.MasterName,
		SentinelAddrs: rc.Sentinels,
		DB:            rc.RedisDB,
	})
	if err != nil {
		return nil, nil, err
	}
	cache := repository.NewStatusCache(database.NewRedisRepository[domain.JobSnapshot](client), rc.StatusTTL)
	return cache, func() { client.Close() }, nil
}

func newNotifier(ctx context.Context, cfg config.Merge) (events.Notifier, func(), error) {
	switch cfg.Events.Driver {
	case "", "none":
		return events.Nop{}, func() {}, nil
	case "rabbitmq":
		conn, err := database.ConnectRabbitMQWithRetry(database.Connection{
			ConnectStr:    cfg.RabbitMQ.URL(),
			RetryCount:    cfg.RabbitMQ.RetryCount,
			RetryInterval: cfg.RabbitMQ.RetryInterval,
		})
		if err != nil {
			return nil, nil, err
		}
		ch, err := database.GetRabbitMQChannelWithRetry(conn, cfg.Events.Queue, cfg.RabbitMQ.RetryCount, cfg.RabbitMQ.RetryInterval)
		if err != nil {
			conn.Close()
			return nil, nil, err
		}
		closeFn := func() {
			ch.Close()
			conn.Close()
		}
		return events.NewRabbitNotifier(database.NewRabbitRepository(ch), cfg.Events.Queue), closeFn, nil
	case "kafka":
		w, err := database.NewKafkaWriterWithRetry(ctx, database.KafkaConnection{
			Brokers:       cfg.Kafka.Brokers,
			Topic:         cfg.Kafka.Topic,
			RetryCount:    cfg.Kafka.RetryCount,
			RetryInterval: cfg.Kafka.RetryInterval,
		})
		if err != nil {
			return nil, nil, err
		}
		return events.NewKafkaNotifier(w), func() { w.Close() }, nil
	default:
		return nil, nil, errprocess.Set(fmt.Sprintf("unknown events driver %q", cfg.Events.Driver))
	}
}

func newPublisher(ctx context.Context, cfg config.Merge) (storage.Publisher, *router.Static, error) {
	switch cfg.Publish.Driver {
	case "minio":
		client, err := database.NewMinIOConnection(ctx, database.MinIOConnection{
			Endpoint:      fmt.Sprintf("%s:%d", cfg.MinIO.Host, cfg.MinIO.Port),
			User:          cfg.MinIO.User,
			Password:      cfg.MinIO.Password,
			BucketName:    cfg.MinIO.BucketName,
			UseSSL:        cfg.MinIO.UseSSL,
			RetryCount:    cfg.MinIO.RetryCount,
			RetryInterval: cfg.MinIO.RetryInterval,
		})
		if err != nil {
			return nil, nil, err
		}
		return storage.NewMinIOPublisher(client, cfg.Publish.PresignExpiry), nil, nil
	case "local":
		p := storage.NewLocalPublisher(cfg.Publish.OutputDir, cfg.Publish.PublicPrefix)
		return p, &router.Static{Prefix: cfg.Publish.PublicPrefix, Dir: p.Dir()}, nil
	default:
		return nil, nil, errprocess.Set(fmt.Sprintf("unknown publish driver %q", cfg.Publish.Driver))
	}
}
