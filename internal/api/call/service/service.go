package callService

import (
	"context"
	"errors"
	"time"

	"VoicedeskGolang/internal/api/call"
	callRepository "VoicedeskGolang/internal/api/call/repository"
	"VoicedeskGolang/internal/conversation"
	"VoicedeskGolang/internal/governance"
	"VoicedeskGolang/internal/knowledge"
	"VoicedeskGolang/pkg/booking"
	"VoicedeskGolang/pkg/cache"
	"VoicedeskGolang/pkg/classifier"
	contextPkg "VoicedeskGolang/pkg/context"
	"VoicedeskGolang/pkg/utils"
	websocketPkg "VoicedeskGolang/pkg/websocket"
	"VoicedeskGolang/pkg/whatsapp"

	"github.com/go-playground/validator/v10"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
)

// DecisionProvider is the generation boundary. Gemini and OpenAI both satisfy it;
// which one is wired is decided at startup by LLM_PROVIDER.
type DecisionProvider interface {
	GenerateDecision(ctx context.Context, systemPrompt string, userPrompt string) (string, error)
}

type ICallService interface {
	StartCall(ctx context.Context, req call.StartCallRequest) (*call.StartCallResponse, error)
	ProcessTurn(ctx context.Context, req call.TurnRequest) (*call.TurnResponse, error)
	EndCall(ctx context.Context, req call.EndCallRequest) (*call.EndCallResponse, error)
	GetTrace(ctx context.Context, callID string) (*call.TraceResponse, error)
}

type callService struct {
	log         *logrus.Logger
	repo        callRepository.Repository
	memories    *conversation.Store
	router      *knowledge.Router
	classifier  classifier.IClassifier
	llm         DecisionProvider
	booking     booking.IBooking
	notifier    whatsapp.IEscalationNotifier
	hub         websocketPkg.IMonitorHub
	configCache *cache.Cache[*governance.GovernanceConfig]
	validator   *validator.Validate
	utils       utils.IUtils
}

func NewCallService(
	log *logrus.Logger,
	repo callRepository.Repository,
	memories *conversation.Store,
	router *knowledge.Router,
	intentClassifier classifier.IClassifier,
	llm DecisionProvider,
	bookingClient booking.IBooking,
	notifier whatsapp.IEscalationNotifier,
	hub websocketPkg.IMonitorHub,
	validate *validator.Validate,
	utilsPkg utils.IUtils,
) ICallService {
	return &callService{
		log:         log,
		repo:        repo,
		memories:    memories,
		router:      router,
		classifier:  intentClassifier,
		llm:         llm,
		booking:     bookingClient,
		notifier:    notifier,
		hub:         hub,
		configCache: cache.New[*governance.GovernanceConfig](5*time.Minute, time.Minute),
		validator:   validate,
		utils:       utilsPkg,
	}
}

// loadGovernance resolves the company's newest stored configuration, falling back to
// the default flow when none exists or the stored payload fails validation. The
// result is cached so turn processing doesn't hit Postgres per turn.
func (s *callService) loadGovernance(ctx context.Context, companyID string) *governance.GovernanceConfig {
	requestID := contextPkg.GetRequestID(ctx)

	if cfg, ok := s.configCache.Get(companyID); ok {
		return cfg
	}

	repoClient, err := s.repo.NewClient(false)
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"company_id": companyID,
			"error":      err.Error(),
		}).Error("Failed to open repository client for governance config")
		return governance.DefaultConfig(companyID)
	}

	payload, version, err := repoClient.Configs.GetLatestGovernanceConfig(ctx, companyID)
	if err != nil {
		if !errors.Is(err, callRepository.ErrConfigNotFound) {
			s.log.WithFields(logrus.Fields{
				"request_id": requestID,
				"company_id": companyID,
				"error":      err.Error(),
			}).Warn("Governance config lookup failed, using default flow")
		}
		cfg := governance.DefaultConfig(companyID)
		s.configCache.Set(companyID, cfg)
		return cfg
	}

	var cfg governance.GovernanceConfig
	if err := jsoniter.Unmarshal(payload, &cfg); err != nil {
		s.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"company_id": companyID,
			"version":    version,
			"error":      err.Error(),
		}).Error("Stored governance config is not valid JSON, using default flow")
		return governance.DefaultConfig(companyID)
	}

	cfg.CompanyID = companyID
	cfg.Version = version

	if err := cfg.Validate(s.validator); err != nil {
		s.log.WithFields(logrus.Fields{
			"request_id": requestID,
			"company_id": companyID,
			"version":    version,
			"error":      err.Error(),
		}).Error("Stored governance config rejected by validation, using default flow")
		return governance.DefaultConfig(companyID)
	}

	s.configCache.Set(companyID, &cfg)
	return &cfg
}
