package bootstrap

import (
	"context"
	"fmt"
	"io"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"gopherchat/internal/ai"
	appsvc "gopherchat/internal/app"
	"gopherchat/internal/cache"
	"gopherchat/internal/config"
	"gopherchat/internal/pkg/logger"
	"gopherchat/internal/platform/database"
	rabbitmqClient "gopherchat/internal/platform/rabbitmq"
	redisClient "gopherchat/internal/platform/redis"
	"gopherchat/internal/repository"
	"gopherchat/internal/worker"
)

type App struct {
	Config        *config.Config
	Logger        *zap.Logger
	DB            *gorm.DB
	Redis         *redis.Client
	MQConn        *amqp.Connection
	MessageWorker *worker.MessagePersistWorker
	Publisher     *rabbitmqClient.MessagePublisher
	Provider      ai.Provider

	AuthService     *appsvc.AuthService
	ChatService     *appsvc.ChatService
	ExchangeService *appsvc.ExchangeService

	StartedAt time.Time
}

// Resources are the already-connected collaborators Assemble wires together.
// Redis and MQConn may be nil; the in-process cache, lock and limiter and the
// direct message writer are used instead.
type Resources struct {
	Config   *config.Config
	Logger   *zap.Logger
	DB       *gorm.DB
	Redis    *redis.Client
	MQConn   *amqp.Connection
	Provider ai.Provider
}

func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.FilePath, cfg.App.Env == "prod")
	if err != nil {
		return nil, fmt.Errorf("init logger failed: %w", err)
	}

	db, err := database.New(ctx, cfg.Database.Driver, cfg.DSN(), log)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(db); err != nil {
		return nil, err
	}

	res := Resources{Config: cfg, Logger: log, DB: db}

	if cfg.Redis.Addr != "" {
		res.Redis, err = redisClient.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, err
		}
	} else {
		log.Info("redis disabled, using in-process cache and locks")
	}

	if cfg.RabbitMQ.URL != "" {
		res.MQConn, err = rabbitmqClient.New(cfg.RabbitMQ.URL, cfg.RabbitMQ.MessagePersistQueue)
		if err != nil {
			return nil, err
		}
	}

	res.Provider, err = NewProvider(ctx, cfg.LLM)
	if err != nil {
		return nil, err
	}
	log.Info("llm provider ready", zap.String("provider", res.Provider.Name()), zap.String("model", cfg.LLM.Model))

	return Assemble(ctx, res)
}

func NewProvider(ctx context.Context, cfg config.LLMConfig) (ai.Provider, error) {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	switch cfg.Provider {
	case "gemini":
		client, err := ai.NewGeminiClient(ctx, cfg.APIKey, cfg.Model)
		if err != nil {
			return nil, err
		}
		return client, nil
	case "openai", "":
		client, err := ai.NewOpenAICompatibleClient(ai.ChatConfig{
			BaseURL: cfg.BaseURL,
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
		}, timeout)
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ai.ErrProviderConfig, cfg.Provider)
	}
}

func Assemble(ctx context.Context, res Resources) (*App, error) {
	cfg := res.Config
	log := res.Logger
	if log == nil {
		log = zap.NewNop()
	}

	userRepo := repository.NewUserRepository(res.DB)
	chatRepo := repository.NewChatRepository(res.DB)
	messageRepo := repository.NewMessageRepository(res.DB)

	historyTTL := time.Duration(cfg.Redis.HistoryTTLSeconds) * time.Second
	staleTTL := time.Duration(cfg.Redis.HistoryDirtyTTLSeconds) * time.Second

	var (
		history appsvc.HistoryCache
		locker  appsvc.ExchangeLocker
		limiter appsvc.RateLimiter
	)
	if res.Redis != nil {
		history = cache.NewHistoryCache(res.Redis, historyTTL, staleTTL)
		locker = cache.NewExchangeLock(res.Redis, cfg.ExchangeLockTTL())
		limiter = cache.NewRateLimiter(res.Redis, cfg.Chat.RateLimitPerMinute, cfg.Chat.RateLimitBurst)
	} else {
		history = cache.NewMemoryHistoryCache(historyTTL, staleTTL)
		locker = cache.NewMemoryExchangeLock()
		limiter = cache.NewMemoryRateLimiter(cfg.Chat.RateLimitPerMinute, cfg.Chat.RateLimitBurst)
	}

	a := &App{
		Config:   cfg,
		Logger:   log,
		DB:       res.DB,
		Redis:    res.Redis,
		MQConn:   res.MQConn,
		Provider: res.Provider,
	}

	var writer appsvc.MessageWriter = messageRepo
	if res.MQConn != nil {
		a.MessageWorker = worker.NewMessagePersistWorker(
			res.MQConn,
			messageRepo,
			history,
			cfg.RabbitMQ.MessagePersistQueue,
			log.Named("worker"),
		)
		if err := a.MessageWorker.Start(ctx); err != nil {
			return nil, fmt.Errorf("start message worker failed: %w", err)
		}
		if cfg.Chat.PersistViaQueue {
			a.Publisher = rabbitmqClient.NewMessagePublisher(res.MQConn, cfg.RabbitMQ.MessagePersistQueue)
			writer = a.Publisher
		}
	}

	a.AuthService = appsvc.NewAuthService(userRepo, cfg.Auth.JWTSecret, cfg.JWTExpiration())
	a.ChatService = appsvc.NewChatService(chatRepo)
	a.ExchangeService = appsvc.NewExchangeService(appsvc.ExchangeDeps{
		Chats:    chatRepo,
		Messages: messageRepo,
		Writer:   writer,
		History:  history,
		Locker:   locker,
		Limiter:  limiter,
		Provider: res.Provider,
		Logger:   log.Named("exchange"),
	}, appsvc.ExchangeOptions{
		SystemPrompt:       cfg.LLM.SystemPrompt,
		MaxContextMessages: cfg.LLM.MaxContextMessages,
		MaxContextChars:    cfg.LLM.MaxContextChars,
		PersistReply:       cfg.Chat.PersistReply,
	})

	a.StartedAt = time.Now()
	return a, nil
}

func (a *App) Close() error {
	var closeErr error
	if a.MessageWorker != nil {
		a.MessageWorker.Close()
	}
	if a.Publisher != nil {
		if err := a.Publisher.Close(); err != nil {
			closeErr = err
		}
	}
	if a.MQConn != nil {
		if err := a.MQConn.Close(); err != nil {
			closeErr = err
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			closeErr = err
		}
	}
	if closer, ok := a.Provider.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			closeErr = err
		}
	}
	if a.DB != nil {
		sqlDB, err := a.DB.DB()
		if err == nil {
			if err := sqlDB.Close(); err != nil {
				closeErr = err
			}
		}
	}
	if a.Logger != nil {
		_ = a.Logger.Sync()
	}
	return closeErr
}
