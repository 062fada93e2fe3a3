package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/carma-ai/carma/config"
	"github.com/carma-ai/carma/internal/api/handlers"
	"github.com/carma-ai/carma/internal/api/middleware"
	"github.com/carma-ai/carma/internal/api/routes"
	"github.com/carma-ai/carma/internal/cache"
	"github.com/carma-ai/carma/internal/logger"
	"github.com/carma-ai/carma/internal/providers/embedding"
	"github.com/carma-ai/carma/internal/providers/llm"
	"github.com/carma-ai/carma/internal/providers/vectorstore"
	"github.com/carma-ai/carma/internal/repositories"
	mongorepo "github.com/carma-ai/carma/internal/repositories/mongo"
	pgrepo "github.com/carma-ai/carma/internal/repositories/postgres"
	"github.com/carma-ai/carma/internal/services"
	"github.com/carma-ai/carma/internal/workers"
)

func main() {
	_ = godotenv.Load()

	log := logger.New()
	settings := config.LoadSettings()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// PostgreSQL carries the knowledge base (pgvector) regardless of which
	// session store is selected.
	if err := config.InitPostgres(); err != nil {
		log.WithError(err).Fatal("PostgreSQL init error")
	}
	log.Info("PostgreSQL connected")

	var (
		sessionRepo repositories.SessionRepository
		messageRepo repositories.MessageRepository
	)
	switch settings.SessionStore {
	case "mongo":
		if err := config.InitMongo(); err != nil {
			log.WithError(err).Fatal("MongoDB init error")
		}
		if err := config.EnsureMongoIndexes(); err != nil {
			log.WithError(err).Fatal("MongoDB index error")
		}
		log.Info("MongoDB connected")
		db := config.MongoDatabase()
		sessionRepo = mongorepo.NewSessionRepo(db)
		messageRepo = mongorepo.NewMessageRepo(db)
	case "postgres":
		sessionRepo = pgrepo.NewSessionRepo(config.PostgresDB)
		messageRepo = pgrepo.NewMessageRepo(config.PostgresDB)
	default:
		log.WithField("session_store", settings.SessionStore).Fatal("unknown SESSION_STORE")
	}

	var sessionCache cache.Cache = cache.Noop{}
	if err := config.InitRedis(); err != nil {
		log.WithError(err).Warn("Redis unavailable, running without session cache")
	} else {
		log.Info("Redis connected")
		sessionCache = cache.NewRedisCache(config.RedisClient)
	}

	provider, err := llm.NewVertexGemini(ctx,
		os.Getenv("GOOGLE_CLOUD_PROJECT"),
		os.Getenv("VERTEX_LOCATION"),
		settings.GeminiModel,
	)
	if err != nil {
		log.WithError(err).Fatal("Vertex AI init error")
	}
	defer provider.Close()

	embedder, err := embedding.NewGenAIEmbedder(ctx, os.Getenv("GEMINI_API_KEY"), settings.EmbeddingModel)
	if err != nil {
		log.WithError(err).Fatal("embedding client init error")
	}

	searcher := vectorstore.NewPGVector(config.PostgresDB, embedder)
	recordRepo := pgrepo.NewDocumentRecordRepo(config.PostgresDB)

	retriever := services.NewRetrievalService(searcher, recordRepo, services.RetrievalConfig{
		K:                     settings.RAGTopK,
		ScoreThreshold:        settings.RAGScoreThreshold,
		IncludeHistoryQueries: settings.RAGIncludeHistory,
		MaxHistoryQueries:     settings.RAGMaxHistoryQueries,
		MaxConcurrency:        settings.RAGMaxConcurrency,
	}, settings.RAGMaxContextLength, log)

	sessionSvc := services.NewSessionService(sessionRepo, messageRepo, sessionCache, log)
	chatSvc := services.NewChatService(sessionRepo, messageRepo, retriever, provider, sessionCache,
		services.ChatConfig{HistoryLimit: settings.HistoryLimit}, log)

	retention := &workers.RetentionWorker{
		Sessions: sessionRepo,
		MaxAge:   settings.SessionMaxAge,
		Interval: settings.RetentionInterval,
		Logger:   log,
	}
	if err := retention.Start(ctx); err != nil {
		log.WithError(err).Fatal("retention worker init error")
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(log))

	routes.RegisterRoutes(r, routes.Deps{
		Chat:    handlers.NewChatHandler(chatSvc, log),
		Session: handlers.NewSessionHandler(sessionSvc),
	})

	srv := &http.Server{
		Addr:    ":" + settings.Port,
		Handler: r,
	}

	go func() {
		log.WithField("port", settings.Port).Info("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server error")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("forced shutdown")
	}
}
