package governance

import (
	"errors"
	"fmt"

	"VoicedeskGolang/internal/entity"

	"github.com/go-playground/validator/v10"
)

var ErrConfigurationInvalid = errors.New("governance: configuration invalid")

type OnMissingPolicy string

const (
	OnMissingRouterPrompts OnMissingPolicy = "router_prompts"
	OnMissingLogWarning    OnMissingPolicy = "log_warning"
	OnMissingIgnore        OnMissingPolicy = "ignore"
)

func (p OnMissingPolicy) Valid() bool {
	switch p {
	case OnMissingRouterPrompts, OnMissingLogWarning, OnMissingIgnore:
		return true
	}
	return false
}

type HandlerID string

const (
	HandlerEmergency  HandlerID = "emergency"
	HandlerClose      HandlerID = "close"
	HandlerBooking    HandlerID = "booking"
	HandlerKnowledge  HandlerID = "knowledge"
	HandlerCapture    HandlerID = "capture"
	HandlerEscalation HandlerID = "escalation"
	HandlerLLM        HandlerID = "llm"
)

func (h HandlerID) Valid() bool {
	switch h {
	case HandlerEmergency, HandlerClose, HandlerBooking, HandlerKnowledge, HandlerCapture, HandlerEscalation, HandlerLLM:
		return true
	}
	return false
}

// Fact sources a field schema can allow. "caller" is direct extraction from the
// utterance, the rest are the subsystems proposing the write.
const (
	FactSourceCaller     = "caller"
	FactSourceClassifier = "classifier"
	FactSourceLLM        = "llm"
	FactSourceBooking    = "booking"
	FactSourceEscalation = "escalation"
)

type FieldRule struct {
	AllowedSources []string `json:"allowed_sources" validate:"required,min=1"`
	MinConfidence  float64  `json:"min_confidence" validate:"gte=0,lte=1"`
}

type CaptureGoal struct {
	Field         string          `json:"field" validate:"required"`
	DeadlineTurns int             `json:"deadline_turns" validate:"gte=0"`
	OnMissing     OnMissingPolicy `json:"on_missing"`
}

type CaptureGoals struct {
	Must   []CaptureGoal `json:"must"`
	Should []CaptureGoal `json:"should"`
	Nice   []CaptureGoal `json:"nice"`
}

type HandlerRule struct {
	Enabled       bool    `json:"enabled"`
	MinConfidence float64 `json:"min_confidence" validate:"gte=0,lte=1"`
}

type SourceRule struct {
	Kind      entity.SourceKind `json:"kind" validate:"required"`
	Threshold float64           `json:"threshold" validate:"gte=0,lte=1"`
}

// GovernanceConfig is company-scoped, versioned, and read-only for the duration of a
// call. Unknown shapes are rejected at load time, not at point of use.
type GovernanceConfig struct {
	CompanyID  string `json:"company_id" validate:"required"`
	Version    int    `json:"version" validate:"gte=1"`
	Trade      string `json:"trade"`
	TemplateID string `json:"template_id"`

	FieldSchema  map[string]FieldRule      `json:"field_schema" validate:"required,min=1"`
	CaptureGoals CaptureGoals              `json:"capture_goals"`
	Handlers     map[HandlerID]HandlerRule `json:"handlers" validate:"required,min=1"`

	SourcePriority []SourceRule `json:"source_priority" validate:"required,min=1"`

	ConsentConfidence         float64 `json:"consent_confidence" validate:"gte=0,lte=1"`
	LockAfterConsent          bool    `json:"lock_after_consent"`
	CaptureInjectionThreshold int     `json:"capture_injection_threshold" validate:"gte=1"`

	OnCallPhone     string `json:"on_call_phone"`
	ComplianceEmail string `json:"compliance_email"`
}

// Validate enforces shape and enumerations beyond what struct tags can express.
func (c *GovernanceConfig) Validate(v *validator.Validate) error {
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrConfigurationInvalid, err)
	}

	for handlerID := range c.Handlers {
		if !handlerID.Valid() {
			return fmt.Errorf("%w: unknown handler %q", ErrConfigurationInvalid, handlerID)
		}
	}

	for _, rule := range c.SourcePriority {
		if !rule.Kind.Valid() {
			return fmt.Errorf("%w: unknown knowledge source %q", ErrConfigurationInvalid, rule.Kind)
		}
	}

	for _, goals := range [][]CaptureGoal{c.CaptureGoals.Must, c.CaptureGoals.Should, c.CaptureGoals.Nice} {
		for _, goal := range goals {
			if goal.OnMissing != "" && !goal.OnMissing.Valid() {
				return fmt.Errorf("%w: unknown on-missing policy %q for field %q", ErrConfigurationInvalid, goal.OnMissing, goal.Field)
			}
			if _, ok := c.FieldSchema[goal.Field]; !ok {
				return fmt.Errorf("%w: capture goal %q has no field schema", ErrConfigurationInvalid, goal.Field)
			}
		}
	}

	return nil
}

func (c *CaptureGoals) MustFields() []string {
	fields := make([]string, 0, len(c.Must))
	for _, g := range c.Must {
		fields = append(fields, g.Field)
	}
	return fields
}

func (c *CaptureGoals) ShouldFields() []string {
	fields := make([]string, 0, len(c.Should))
	for _, g := range c.Should {
		fields = append(fields, g.Field)
	}
	return fields
}

func (c *CaptureGoals) NiceFields() []string {
	fields := make([]string, 0, len(c.Nice))
	for _, g := range c.Nice {
		fields = append(fields, g.Field)
	}
	return fields
}

// DefaultConfig is the legacy flow used when a company has no stored configuration
// or its stored configuration fails validation.
func DefaultConfig(companyID string) *GovernanceConfig {
	anySource := []string{FactSourceCaller, FactSourceClassifier, FactSourceLLM, FactSourceBooking}

	return &GovernanceConfig{
		CompanyID: companyID,
		Version:   1,
		FieldSchema: map[string]FieldRule{
			"caller_name":     {AllowedSources: anySource, MinConfidence: 0.5},
			"callback_number": {AllowedSources: anySource, MinConfidence: 0.5},
			"service_address": {AllowedSources: anySource, MinConfidence: 0.5},
			"problem_summary": {AllowedSources: anySource, MinConfidence: 0.4},
			"time_preference": {AllowedSources: anySource, MinConfidence: 0.4},
			"problem_urgency": {AllowedSources: anySource, MinConfidence: 0.4},
			"access_notes":    {AllowedSources: anySource, MinConfidence: 0.4},
		},
		CaptureGoals: CaptureGoals{
			Must: []CaptureGoal{
				{Field: "caller_name", DeadlineTurns: 6, OnMissing: OnMissingRouterPrompts},
				{Field: "callback_number", DeadlineTurns: 6, OnMissing: OnMissingRouterPrompts},
				{Field: "service_address", DeadlineTurns: 8, OnMissing: OnMissingRouterPrompts},
				{Field: "problem_summary", DeadlineTurns: 4, OnMissing: OnMissingRouterPrompts},
				{Field: "time_preference", DeadlineTurns: 10, OnMissing: OnMissingRouterPrompts},
			},
			Should: []CaptureGoal{
				{Field: "problem_urgency", DeadlineTurns: 6, OnMissing: OnMissingLogWarning},
			},
			Nice: []CaptureGoal{
				{Field: "access_notes", OnMissing: OnMissingIgnore},
			},
		},
		Handlers: map[HandlerID]HandlerRule{
			HandlerEmergency:  {Enabled: true, MinConfidence: 0.3},
			HandlerClose:      {Enabled: true, MinConfidence: 0.4},
			HandlerBooking:    {Enabled: true, MinConfidence: 0.5},
			HandlerKnowledge:  {Enabled: true, MinConfidence: 0.3},
			HandlerCapture:    {Enabled: true},
			HandlerEscalation: {Enabled: true},
			HandlerLLM:        {Enabled: true},
		},
		SourcePriority: []SourceRule{
			{Kind: entity.SourceCompanyKB, Threshold: 0.80},
			{Kind: entity.SourceTradeKB, Threshold: 0.75},
			{Kind: entity.SourceTemplates, Threshold: 0.70},
			{Kind: entity.SourceInsights, Threshold: 0.65},
			{Kind: entity.SourceSemantic, Threshold: 0.60},
			{Kind: entity.SourceLLMFallback, Threshold: 0.50},
		},
		ConsentConfidence:         0.6,
		LockAfterConsent:          true,
		CaptureInjectionThreshold: 3,
	}
}
