package config

import (
	"context"
	"fmt"
	"os"

	"VoicedeskGolang/database/postgres"
	callHandler "VoicedeskGolang/internal/api/call/handler"
	callRepository "VoicedeskGolang/internal/api/call/repository"
	callService "VoicedeskGolang/internal/api/call/service"
	"VoicedeskGolang/internal/conversation"
	"VoicedeskGolang/internal/entity"
	"VoicedeskGolang/internal/jobs"
	"VoicedeskGolang/internal/knowledge"
	"VoicedeskGolang/internal/middleware"
	"VoicedeskGolang/pkg/booking"
	"VoicedeskGolang/pkg/classifier"
	"VoicedeskGolang/pkg/gemini"
	"VoicedeskGolang/pkg/openai"
	"VoicedeskGolang/pkg/redis"
	"VoicedeskGolang/pkg/s3"
	"VoicedeskGolang/pkg/smtp"
	"VoicedeskGolang/pkg/utils"
	websocketPkg "VoicedeskGolang/pkg/websocket"
	"VoicedeskGolang/pkg/whatsapp"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

type ServerOption func(*Server) error

type Server struct {
	engine         *fiber.App
	db             *sqlx.DB
	log            *logrus.Logger
	middleware     middleware.Middleware
	validator      *validator.Validate
	utils          utils.IUtils
	handlers       []handler
	redisServer    redis.IRedis
	smtpMailer     smtp.ItfSmtp
	whatsappClient whatsapp.IEscalationNotifier
	geminiClient   gemini.IGemini
	s3Client       s3.ItfS3
	monitorHub     websocketPkg.IMonitorHub
	jobRunner      *jobs.Runner
}

type handler interface {
	Start(srv fiber.Router)
}

func NewServer(options ...ServerOption) (*Server, error) {
	server := &Server{}

	for _, option := range options {
		if err := option(server); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if server.engine == nil {
		return nil, fmt.Errorf("fiber app is required")
	}
	if server.log == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return server, nil
}

func WithFiber(fiberApp *fiber.App) ServerOption {
	return func(s *Server) error {
		s.engine = fiberApp
		return nil
	}
}

func WithLogger(logger *logrus.Logger) ServerOption {
	return func(s *Server) error {
		s.log = logger
		return nil
	}
}

func WithValidator(validator *validator.Validate) ServerOption {
	return func(s *Server) error {
		s.validator = validator
		return nil
	}
}

func WithDatabase() ServerOption {
	return func(s *Server) error {
		db, err := postgres.New()
		if err != nil {
			if s.log != nil {
				s.log.Errorf("Failed to connect to database: %v", err)
			}
			return fmt.Errorf("failed to create database connection: %w", err)
		}
		s.db = db
		return nil
	}
}

func WithRedisServer(redisServer redis.IRedis) ServerOption {
	return func(s *Server) error {
		s.redisServer = redisServer
		return nil
	}
}

func WithSMTPMailer(smtpMailer smtp.ItfSmtp) ServerOption {
	return func(s *Server) error {
		s.smtpMailer = smtpMailer
		return nil
	}
}

func WithMiddleware() ServerOption {
	return func(s *Server) error {
		if s.log == nil {
			return fmt.Errorf("logger must be initialized before middleware")
		}
		s.middleware = middleware.New(s.log)
		return nil
	}
}

func WithS3Client() ServerOption {
	return func(s *Server) error {
		client, err := s3.New()
		if err != nil {
			if s.log != nil {
				s.log.Errorf("Failed to initialize S3 client: %v", err)
			}
			return fmt.Errorf("failed to create S3 client: %w", err)
		}
		s.s3Client = client
		return nil
	}
}

func WithWhatsappClient() ServerOption {
	return func(s *Server) error {
		client, err := whatsapp.New()
		if err != nil {
			if s.log != nil {
				s.log.Errorf("Failed to initialize WhatsApp client: %v", err)
			}
			return fmt.Errorf("failed to create WhatsApp client: %w", err)
		}
		s.whatsappClient = client
		return nil
	}
}

func WithGeminiClient() ServerOption {
	return func(s *Server) error {
		client, err := gemini.NewGeminiClient()
		if err != nil {
			if s.log != nil {
				s.log.Errorf("Failed to create Gemini client: %v", err)
			}
			return fmt.Errorf("failed to create Gemini client: %w", err)
		}
		s.geminiClient = client
		return nil
	}
}

func WithMonitorHub() ServerOption {
	return func(s *Server) error {
		if s.log == nil {
			return fmt.Errorf("logger must be initialized before the monitor hub")
		}
		s.monitorHub = websocketPkg.NewMonitorHub(s.log)
		return nil
	}
}

func WithUtils() ServerOption {
	return func(s *Server) error {
		s.utils = utils.New()
		return nil
	}
}

// decisionProvider picks the generation backend. Gemini is the default; set
// LLM_PROVIDER=openai to switch.
func (s *Server) decisionProvider() callService.DecisionProvider {
	if os.Getenv("LLM_PROVIDER") == "openai" {
		return openai.NewChatGPT()
	}
	return s.geminiClient
}

func (s *Server) RegisterHandler() {
	callRepo := callRepository.New(s.db, s.log)
	memories := conversation.NewStore(s.redisServer, s.log)
	intentClassifier := classifier.New()

	entryProvider := func() knowledge.EntryProvider {
		repoClient, err := callRepo.NewClient(false)
		if err != nil {
			s.log.Fatalf("Failed to open repository client: %v", err)
		}
		return repoClient.Knowledge
	}()

	registry := knowledge.NewRegistry(
		knowledge.NewKeywordSource(entity.SourceCompanyKB, entryProvider),
		knowledge.NewKeywordSource(entity.SourceTradeKB, entryProvider),
		knowledge.NewKeywordSource(entity.SourceTemplates, entryProvider),
		knowledge.NewKeywordSource(entity.SourceInsights, entryProvider),
		knowledge.NewVectorSource(s.geminiClient, entryProvider, s.log),
		knowledge.NewLLMSource(s.decisionProvider()),
	)
	router := knowledge.NewRouter(registry, s.log)

	bookingClient := booking.New(s.log)

	callServices := callService.NewCallService(
		s.log,
		callRepo,
		memories,
		router,
		intentClassifier,
		s.decisionProvider(),
		bookingClient,
		s.whatsappClient,
		s.monitorHub,
		s.validator,
		s.utils,
	)
	callHandlers := callHandler.New(s.log, s.validator, s.middleware, callServices, s.monitorHub)

	s.jobRunner = jobs.New(s.log, callRepo, s.s3Client, s.smtpMailer, s.utils)

	s.setupHealthCheck()
	s.handlers = append(s.handlers, callHandlers)
}

func (s *Server) Run() error {
	router := s.engine.Group("/api/v1")
	s.engine.Use(s.middleware.NewRequestIDMiddleware())
	s.engine.Use(middleware.LoggerConfig())

	for _, h := range s.handlers {
		h.Start(router)
	}

	jobsCtx, cancelJobs := context.WithCancel(context.Background())
	defer cancelJobs()
	s.jobRunner.Start(jobsCtx)

	port := os.Getenv("APP_PORT")
	if port == "" {
		port = "3000"
	}

	if err := s.engine.Listen(fmt.Sprintf(":%s", port)); err != nil {
		if s.whatsappClient != nil {
			s.whatsappClient.Disconnect()
		}
		return err
	}

	return nil
}

func (s *Server) setupHealthCheck() {
	s.engine.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.JSON(fiber.Map{
			"message": "Server is Healthy!",
		})
	})
}
