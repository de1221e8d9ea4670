package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/satriahrh/voicerelay/adapters/llm"
	"github.com/satriahrh/voicerelay/adapters/openai"
	"github.com/satriahrh/voicerelay/adapters/redis"
	"github.com/satriahrh/voicerelay/adapters/stt"
	"github.com/satriahrh/voicerelay/adapters/tts"
	"github.com/satriahrh/voicerelay/domain/repositories"
	"github.com/satriahrh/voicerelay/internal/api"
	"github.com/satriahrh/voicerelay/internal/config"
	"github.com/satriahrh/voicerelay/internal/session"
	"github.com/satriahrh/voicerelay/internal/websocket"
	"github.com/satriahrh/voicerelay/usecase"
)

// pipeline holds the stage adapters selected by configuration
type pipeline struct {
	stt     repositories.SpeechToText
	llm     repositories.LargeLanguageModel
	tts     repositories.TextToSpeech
	closers []func() error
}

func main() {
	// Initialize logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	ctx := context.Background()

	stages, err := buildPipeline(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize pipeline adapters", zap.Error(err))
	}
	defer stages.close(logger)

	// Initialize message bus
	redisClient := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		// Publishing fails per request until Redis is reachable; sessions do not depend on it.
		logger.Warn("Redis is not reachable", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
	}
	publisher := redis.NewStreamPublisher(redisClient, cfg.Redis.MaxLen, logger)

	// Initialize usecase services
	messageService := usecase.NewMessageService(publisher, cfg.MessageTopic, logger)
	sessionService := session.NewService(stages.stt, stages.llm, stages.tts, publisher, session.Config{
		MaxOutputTokens: cfg.MaxOutputTokens,
		ReplyTopic:      cfg.ReplyTopic,
	}, logger)

	// Initialize WebSocket hub with the session service
	hub := websocket.NewHub(func(ctx context.Context, sessionID string, conn *websocket.Conn) {
		result := sessionService.Serve(ctx, sessionID, conn)
		logger.Info("Session finished",
			zap.String("sessionID", result.SessionID),
			zap.Int("closeCode", result.Closure.Code),
			zap.String("closeReason", result.Closure.Reason),
			zap.Int("chunksSent", result.ChunksSent),
			zap.Int("bytesSent", result.BytesSent),
			zap.Duration("duration", result.Duration))
	}, cfg.MaxUploadBytes, logger)
	go hub.Run()

	// Create Echo instance
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	// Initialize API routes
	api.InitRoutes(e, hub, messageService, logger)

	// Graceful shutdown
	go func() {
		if err := e.Start(":" + cfg.Port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("shutting down the server", zap.Error(err))
		}
	}()

	logger.Info("Server started",
		zap.String("port", cfg.Port),
		zap.String("sttProvider", cfg.STTProvider),
		zap.String("llmProvider", cfg.LLMProvider),
		zap.String("ttsProvider", cfg.TTSProvider))

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Server is shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := hub.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Sessions did not finish before shutdown deadline", zap.Error(err))
	}

	if err := sessionService.Wait(shutdownCtx); err != nil {
		logger.Warn("Reply publishes did not finish before shutdown deadline", zap.Error(err))
	}

	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}

func buildPipeline(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*pipeline, error) {
	p := &pipeline{}

	var openaiClient *openai.Client
	useOpenAI := func() (*openai.Client, error) {
		if openaiClient != nil {
			return openaiClient, nil
		}
		client, err := openai.NewClient(cfg.OpenAI, logger)
		if err != nil {
			return nil, err
		}
		openaiClient = client
		return client, nil
	}

	switch cfg.STTProvider {
	case config.ProviderGoogle:
		google, err := stt.NewGoogleSpeechToText(ctx, cfg.Google, logger)
		if err != nil {
			return nil, err
		}
		p.stt = google
		p.closers = append(p.closers, google.Close)
	default:
		client, err := useOpenAI()
		if err != nil {
			return nil, err
		}
		p.stt = client
	}

	switch cfg.LLMProvider {
	case config.ProviderGemini:
		gemini, err := llm.NewGeminiLLM(ctx, cfg.Gemini, logger)
		if err != nil {
			return nil, err
		}
		p.llm = gemini
	default:
		client, err := useOpenAI()
		if err != nil {
			return nil, err
		}
		p.llm = client
	}

	switch cfg.TTSProvider {
	case config.ProviderElevenLabs:
		elevenLabs, err := tts.NewElevenLabsTTS(cfg.ElevenLabs, logger)
		if err != nil {
			return nil, err
		}
		p.tts = elevenLabs
	default:
		client, err := useOpenAI()
		if err != nil {
			return nil, err
		}
		p.tts = client
	}

	if p.stt == nil || p.llm == nil || p.tts == nil {
		return nil, fmt.Errorf("incomplete pipeline")
	}
	return p, nil
}

func (p *pipeline) close(logger *zap.Logger) {
	for _, closer := range p.closers {
		if err := closer(); err != nil {
			logger.Warn("Failed to close adapter", zap.Error(err))
		}
	}
}
