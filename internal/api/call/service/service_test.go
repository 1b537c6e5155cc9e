package callService

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"VoicedeskGolang/internal/api/call"
	callRepository "VoicedeskGolang/internal/api/call/repository"
	"VoicedeskGolang/internal/conversation"
	"VoicedeskGolang/internal/entity"
	"VoicedeskGolang/internal/governance"
	"VoicedeskGolang/internal/knowledge"
	"VoicedeskGolang/pkg/booking"
	"VoicedeskGolang/pkg/classifier"
	"VoicedeskGolang/pkg/log"
	redisPkg "VoicedeskGolang/pkg/redis"
	"VoicedeskGolang/pkg/utils"
	websocketPkg "VoicedeskGolang/pkg/websocket"

	"github.com/go-playground/validator/v10"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
	logrustest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRedis struct {
	mu     sync.Mutex
	data   map[string][]byte
	locks  map[string]string
	setErr error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{
		data:  make(map[string][]byte),
		locks: make(map[string]string),
	}
}

func (f *fakeRedis) SetJSON(ctx context.Context, key string, payload []byte, expiration time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return f.setErr
	}
	cp := make([]byte, len(payload))
	copy(cp, payload)
	f.data[key] = cp
	return nil
}

func (f *fakeRedis) GetJSON(ctx context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	payload, ok := f.data[key]
	if !ok {
		return nil, redisPkg.ErrKeyNotFound
	}
	return payload, nil
}

func (f *fakeRedis) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, key)
	return nil
}

func (f *fakeRedis) AcquireLock(ctx context.Context, key string, owner string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, held := f.locks[key]; held {
		return redisPkg.ErrLockHeld
	}
	f.locks[key] = owner
	return nil
}

func (f *fakeRedis) ReleaseLock(ctx context.Context, key string, owner string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.locks[key] == owner {
		delete(f.locks, key)
	}
	return nil
}

type fakeConfigStore struct {
	payload []byte
	version int
	err     error
}

func (f *fakeConfigStore) GetLatestGovernanceConfig(ctx context.Context, companyID string) ([]byte, int, error) {
	if f.err != nil {
		return nil, 0, f.err
	}
	return f.payload, f.version, nil
}

type fakeSummaryStore struct {
	created []entity.CallSummary
	err     error
}

func (f *fakeSummaryStore) CreateCallSummary(ctx context.Context, summary entity.CallSummary) error {
	if f.err != nil {
		return f.err
	}
	f.created = append(f.created, summary)
	return nil
}

func (f *fakeSummaryStore) GetCallSummaryByCallID(ctx context.Context, callID string) (entity.CallSummary, error) {
	return entity.CallSummary{}, nil
}

func (f *fakeSummaryStore) ListCallSummariesByDate(ctx context.Context, date string) ([]entity.CallSummary, error) {
	return nil, nil
}

func (f *fakeSummaryStore) CountCallSummariesOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func (f *fakeSummaryStore) DeleteCallSummariesOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

type fakeTranscriptStore struct {
	created []entity.TranscriptRecord
	err     error
}

func (f *fakeTranscriptStore) CreateTranscript(ctx context.Context, record entity.TranscriptRecord) error {
	if f.err != nil {
		return f.err
	}
	f.created = append(f.created, record)
	return nil
}

func (f *fakeTranscriptStore) GetTranscriptByCallID(ctx context.Context, callID string) (entity.TranscriptRecord, error) {
	return entity.TranscriptRecord{}, nil
}

func (f *fakeTranscriptStore) ListTranscriptsEligibleForArchive(ctx context.Context, cutoff time.Time, limit int) ([]entity.TranscriptRecord, error) {
	return nil, nil
}

func (f *fakeTranscriptStore) MarkTranscriptArchived(ctx context.Context, id string, bucket string, key string, movedAt time.Time) error {
	return nil
}

func (f *fakeTranscriptStore) CountTranscriptsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func (f *fakeTranscriptStore) DeleteTranscriptsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

type fakeCustomerStore struct {
	upserted []entity.Customer
	err      error
}

func (f *fakeCustomerStore) UpsertCustomerByPhone(ctx context.Context, customer entity.Customer) error {
	if f.err != nil {
		return f.err
	}
	f.upserted = append(f.upserted, customer)
	return nil
}

func (f *fakeCustomerStore) ListDormantCustomers(ctx context.Context, cutoff time.Time, limit int) ([]entity.Customer, error) {
	return nil, nil
}

func (f *fakeCustomerStore) CountDormantCustomers(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func (f *fakeCustomerStore) AnonymizeCustomer(ctx context.Context, id string, nameHash string, phoneHash string) error {
	return nil
}

type fakeEventStore struct {
	created []entity.BehavioralEvent
	err     error
}

func (f *fakeEventStore) CreateBehavioralEvent(ctx context.Context, event entity.BehavioralEvent) error {
	if f.err != nil {
		return f.err
	}
	f.created = append(f.created, event)
	return nil
}

func (f *fakeEventStore) CountBehavioralEventsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func (f *fakeEventStore) DeleteBehavioralEventsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

type fakeRepo struct {
	configs     *fakeConfigStore
	summaries   *fakeSummaryStore
	transcripts *fakeTranscriptStore
	customers   *fakeCustomerStore
	events      *fakeEventStore
	commits     int
	rollbacks   int
}

func (f *fakeRepo) NewClient(tx bool) (callRepository.Client, error) {
	return callRepository.Client{
		Summaries:   f.summaries,
		Transcripts: f.transcripts,
		Customers:   f.customers,
		Events:      f.events,
		Configs:     f.configs,
		Commit: func() error {
			f.commits++
			return nil
		},
		Rollback: func() error {
			f.rollbacks++
			return nil
		},
	}, nil
}

type fakeLLM struct {
	response  string
	responses []string
	err       error
	calls     int
}

func (f *fakeLLM) GenerateDecision(ctx context.Context, systemPrompt string, userPrompt string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	if len(f.responses) > 0 {
		next := f.responses[0]
		f.responses = f.responses[1:]
		return next, nil
	}
	return f.response, nil
}

type fakeBooking struct {
	result   *booking.AppointmentResult
	err      error
	requests []booking.AppointmentRequest
}

func (f *fakeBooking) CreateAppointment(ctx context.Context, req booking.AppointmentRequest) (*booking.AppointmentResult, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type escalationCall struct {
	Phone   string
	Message string
}

type fakeNotifier struct {
	calls []escalationCall
	err   error
}

func (f *fakeNotifier) NotifyEscalation(ctx context.Context, phoneNumber, message string) error {
	f.calls = append(f.calls, escalationCall{Phone: phoneNumber, Message: message})
	return f.err
}

func (f *fakeNotifier) Disconnect() error { return nil }

func (f *fakeNotifier) IsConnected() bool { return true }

type scriptedSource struct {
	kind   entity.SourceKind
	result knowledge.ScoredResult
}

func (s *scriptedSource) Kind() entity.SourceKind { return s.kind }

func (s *scriptedSource) Search(ctx context.Context, q knowledge.Query) (knowledge.ScoredResult, error) {
	return s.result, nil
}

type serviceHarness struct {
	service  ICallService
	redis    *fakeRedis
	store    *conversation.Store
	repo     *fakeRepo
	llm      *fakeLLM
	booking  *fakeBooking
	notifier *fakeNotifier
}

func newHarness(t *testing.T, sources ...knowledge.Source) *serviceHarness {
	t.Helper()

	logger := log.NewLogger()
	redisClient := newFakeRedis()
	store := conversation.NewStore(redisClient, logger)

	repo := &fakeRepo{
		configs:     &fakeConfigStore{err: callRepository.ErrConfigNotFound},
		summaries:   &fakeSummaryStore{},
		transcripts: &fakeTranscriptStore{},
		customers:   &fakeCustomerStore{},
		events:      &fakeEventStore{},
	}

	llm := &fakeLLM{response: `{"reply":"How can I help you today?","action":"continue"}`}
	bookingClient := &fakeBooking{result: &booking.AppointmentResult{AppointmentID: "apt-1", ScheduledFor: "tomorrow 9am"}}
	notifier := &fakeNotifier{}
	router := knowledge.NewRouter(knowledge.NewRegistry(sources...), logger)

	service := NewCallService(
		logger,
		repo,
		store,
		router,
		classifier.New(),
		llm,
		bookingClient,
		notifier,
		websocketPkg.NewMonitorHub(logger),
		validator.New(),
		utils.New(),
	)

	return &serviceHarness{
		service:  service,
		redis:    redisClient,
		store:    store,
		repo:     repo,
		llm:      llm,
		booking:  bookingClient,
		notifier: notifier,
	}
}

// storeConfig publishes a company configuration so loadGovernance picks it up
// instead of the default flow.
func (h *serviceHarness) storeConfig(t *testing.T, mutate func(cfg *governance.GovernanceConfig)) {
	t.Helper()

	cfg := governance.DefaultConfig("company-1")
	mutate(cfg)

	payload, err := jsoniter.Marshal(cfg)
	require.NoError(t, err)

	h.repo.configs.payload = payload
	h.repo.configs.version = 2
	h.repo.configs.err = nil
}

func (h *serviceHarness) seedMemory(t *testing.T, callID string, build func(engine *governance.Engine, mem *conversation.Memory)) *conversation.Memory {
	t.Helper()

	cfg := governance.DefaultConfig("company-1")
	engine := governance.NewEngine(cfg)
	mem := conversation.NewMemory(callID, "company-1", "", "+15557654321",
		cfg.CaptureGoals.MustFields(),
		cfg.CaptureGoals.ShouldFields(),
		cfg.CaptureGoals.NiceFields(),
	)

	if build != nil {
		build(engine, mem)
	}

	require.NoError(t, h.store.Save(context.Background(), mem))
	return mem
}

func turnRequest(callID, utterance string) call.TurnRequest {
	return call.TurnRequest{
		CallID:          callID,
		CompanyID:       "company-1",
		CallerUtterance: utterance,
		InputConfidence: 0.92,
	}
}

func TestStartCallIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.storeConfig(t, func(cfg *governance.GovernanceConfig) {
		cfg.Trade = "plumbing"
	})

	ctx := context.Background()
	req := call.StartCallRequest{CallID: "call-1", CompanyID: "company-1", CallerPhone: "(555) 765-4321"}

	first, err := h.service.StartCall(ctx, req)
	require.NoError(t, err)
	assert.Contains(t, first.Greeting, "plumbing")
	assert.Equal(t, string(conversation.PhaseGreeting), first.Phase)

	mem, err := h.store.Load(ctx, "call-1")
	require.NoError(t, err)
	assert.Equal(t, "+15557654321", mem.CallerPhone)

	second, err := h.service.StartCall(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.Greeting, second.Greeting)
}

func TestProcessTurnEmergencyAsksForAddress(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	resp, err := h.service.ProcessTurn(ctx, turnRequest("call-em-1", "I smell gas in the basement"))
	require.NoError(t, err)

	assert.Equal(t, string(governance.HandlerEmergency), resp.Handler)
	assert.Equal(t, classifier.IntentEmergency, resp.Intent)
	assert.Equal(t, call.ActionAsk, resp.Action)
	assert.Contains(t, resp.NextPromptText, "address")
	assert.Equal(t, 1, resp.TurnNumber)
	assert.Empty(t, h.notifier.calls)

	mem, err := h.store.Load(ctx, "call-em-1")
	require.NoError(t, err)
	assert.Equal(t, "emergency", mem.FactString("problem_urgency"))
	assert.Equal(t, classifier.IntentEmergency, mem.PrimaryIntent)
	assert.Equal(t, string(conversation.PhaseDiscovery), string(mem.Phase))
}

func TestProcessTurnEmergencyWithAddressEscalates(t *testing.T) {
	h := newHarness(t)
	h.storeConfig(t, func(cfg *governance.GovernanceConfig) {
		cfg.OnCallPhone = "+15550001111"
	})

	ctx := context.Background()
	h.seedMemory(t, "call-em-2", func(engine *governance.Engine, mem *conversation.Memory) {
		require.NoError(t, mem.StartTurn(1, conversation.CallerInput{Raw: "my basement is flooding"}))
		require.NoError(t, mem.CommitFact(engine, "service_address", "42 Elm Street", governance.FactSourceCaller, 0.9))
		_, err := mem.CommitTurn()
		require.NoError(t, err)
	})

	resp, err := h.service.ProcessTurn(ctx, turnRequest("call-em-2", "I smell gas in the basement"))
	require.NoError(t, err)

	assert.Equal(t, call.ActionEscalate, resp.Action)
	require.Len(t, h.notifier.calls, 1)
	assert.Equal(t, "+15550001111", h.notifier.calls[0].Phone)
	assert.Contains(t, h.notifier.calls[0].Message, "42 Elm Street")

	mem, err := h.store.Load(ctx, "call-em-2")
	require.NoError(t, err)
	assert.Equal(t, string(entity.OutcomeEscalated), mem.Outcome)
}

func TestProcessTurnWrongNumberCloses(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	resp, err := h.service.ProcessTurn(ctx, turnRequest("call-wn-1", "sorry I think you have the wrong number"))
	require.NoError(t, err)

	assert.Equal(t, call.ActionClose, resp.Action)
	assert.Equal(t, string(governance.HandlerClose), resp.Handler)
	assert.Equal(t, string(conversation.PhaseClosing), resp.Phase)

	mem, err := h.store.Load(ctx, "call-wn-1")
	require.NoError(t, err)
	assert.Equal(t, string(entity.OutcomeWrongNumber), mem.Outcome)
}

func TestProcessTurnBookingFlowCapturesAndBooks(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	turns := []struct {
		utterance  string
		wantAction string
		wantReply  string
	}{
		{"I'd like to schedule an appointment for tomorrow", call.ActionAsk, "May I have your name, please?"},
		{"Dana Whitfield", call.ActionAsk, "What's the best number to reach you at?"},
		{"555 867 5309", call.ActionAsk, "What's the address where you need service?"},
		{"42 Elm Street in Springfield", call.ActionAsk, "Can you describe the problem you're having?"},
		{"the bathroom faucet drips a little", call.ActionAsk, "When would work best for you, morning or afternoon?"},
	}

	for i, step := range turns {
		resp, err := h.service.ProcessTurn(ctx, turnRequest("call-bk-1", step.utterance))
		require.NoError(t, err, "turn %d", i+1)
		assert.Equal(t, step.wantAction, resp.Action, "turn %d", i+1)
		assert.Equal(t, step.wantReply, resp.NextPromptText, "turn %d", i+1)
		assert.Equal(t, string(governance.HandlerBooking), resp.Handler, "turn %d", i+1)
	}

	resp, err := h.service.ProcessTurn(ctx, turnRequest("call-bk-1", "tomorrow morning"))
	require.NoError(t, err)

	assert.Equal(t, call.ActionBook, resp.Action)
	assert.Contains(t, resp.NextPromptText, "tomorrow 9am")
	assert.Contains(t, resp.NextPromptText, "+15558675309")

	require.Len(t, h.booking.requests, 1)
	req := h.booking.requests[0]
	assert.Equal(t, "Dana Whitfield", req.CustomerName)
	assert.Equal(t, "+15558675309", req.CallbackNumber)
	assert.Equal(t, "42 Elm Street in Springfield", req.ServiceAddress)
	assert.Equal(t, "the bathroom faucet drips a little", req.ProblemSummary)
	assert.Equal(t, "tomorrow morning", req.TimePreference)

	mem, err := h.store.Load(ctx, "call-bk-1")
	require.NoError(t, err)
	assert.Equal(t, "apt-1", mem.Booking.AppointmentID)
	assert.True(t, mem.Booking.Locked)
	assert.Equal(t, string(entity.OutcomeBooked), mem.Outcome)
	assert.Equal(t, string(conversation.PhaseClosing), string(mem.Phase))
	assert.Len(t, mem.Turns, 6)
}

func TestProcessTurnMultiFactTurnBooksInTwoTurns(t *testing.T) {
	h := newHarness(t)
	h.llm.responses = []string{
		`{"reply":"Sorry to hear that. Can I get your name and a good callback number?","action":"ask","facts":[{"field":"problem_summary","value":"clogged bathroom sink with a dripping faucet","confidence":0.9}]}`,
		`{"reply":"Let me get that scheduled for you.","action":"continue","facts":[{"field":"caller_name","value":"Dana Whitfield","confidence":0.9},{"field":"callback_number","value":"555 867 5309","confidence":0.9},{"field":"service_address","value":"42 Elm Street","confidence":0.9},{"field":"time_preference","value":"tomorrow morning","confidence":0.9}]}`,
	}

	ctx := context.Background()

	resp, err := h.service.ProcessTurn(ctx, turnRequest("call-bk-3", "the bathroom sink is clogged and the faucet keeps dripping"))
	require.NoError(t, err)
	assert.Equal(t, call.ActionAsk, resp.Action)

	mem, err := h.store.Load(ctx, "call-bk-3")
	require.NoError(t, err)
	assert.Equal(t, "clogged bathroom sink with a dripping faucet", mem.FactString("problem_summary"))
	assert.Equal(t, []string{"caller_name", "callback_number", "service_address", "time_preference"}, mem.MissingMustFields())

	resp, err = h.service.ProcessTurn(ctx, turnRequest("call-bk-3",
		"My name is Dana Whitfield, my number is 555 867 5309, the address is 42 Elm Street, and tomorrow morning works"))
	require.NoError(t, err)

	assert.Equal(t, call.ActionBook, resp.Action)
	assert.Equal(t, string(governance.HandlerBooking), resp.Handler)

	require.Len(t, h.booking.requests, 1)
	req := h.booking.requests[0]
	assert.Equal(t, "Dana Whitfield", req.CustomerName)
	assert.Equal(t, "+15558675309", req.CallbackNumber)
	assert.Equal(t, "42 Elm Street", req.ServiceAddress)
	assert.Equal(t, "clogged bathroom sink with a dripping faucet", req.ProblemSummary)
	assert.Equal(t, "tomorrow morning", req.TimePreference)

	mem, err = h.store.Load(ctx, "call-bk-3")
	require.NoError(t, err)
	assert.True(t, mem.MustFieldsCaptured())
	assert.Empty(t, mem.MissingMustFields())
	assert.Equal(t, "apt-1", mem.Booking.AppointmentID)
	assert.Equal(t, string(entity.OutcomeBooked), mem.Outcome)
	assert.Len(t, mem.Turns, 2)
}

func TestProcessTurnConsentTurnFactsAreCaptured(t *testing.T) {
	h := newHarness(t)
	h.llm.responses = []string{
		`{"reply":"Happy to set that up.","action":"continue","facts":[{"field":"caller_name","value":"Dana Whitfield","confidence":0.9},{"field":"time_preference","value":"tomorrow morning","confidence":0.9}]}`,
	}

	ctx := context.Background()
	resp, err := h.service.ProcessTurn(ctx, turnRequest("call-bk-4",
		"hi this is Dana Whitfield, can you schedule an appointment for tomorrow morning"))
	require.NoError(t, err)

	assert.Equal(t, string(governance.HandlerBooking), resp.Handler)
	assert.Equal(t, call.ActionAsk, resp.Action)

	mem, err := h.store.Load(ctx, "call-bk-4")
	require.NoError(t, err)
	assert.Equal(t, 1, mem.Booking.ConsentGivenAtTurn)
	assert.Equal(t, "Dana Whitfield", mem.FactString("caller_name"))
	assert.Equal(t, "tomorrow morning", mem.FactString("time_preference"))
	assert.NotContains(t, mem.MissingMustFields(), "caller_name")
}

func TestProcessTurnBookingFailureEscalates(t *testing.T) {
	h := newHarness(t)
	h.storeConfig(t, func(cfg *governance.GovernanceConfig) {
		cfg.OnCallPhone = "+15550001111"
	})
	h.booking.err = errors.New("scheduling provider is down")

	ctx := context.Background()
	h.seedMemory(t, "call-bk-2", func(engine *governance.Engine, mem *conversation.Memory) {
		require.NoError(t, mem.StartTurn(1, conversation.CallerInput{Raw: "please book it"}))
		mem.GiveConsent(1)
		require.NoError(t, mem.TransitionPhase(conversation.PhaseBooking, "caller agreed"))
		require.NoError(t, mem.CommitFact(engine, "caller_name", "Dana Whitfield", governance.FactSourceCaller, 0.9))
		require.NoError(t, mem.CommitFact(engine, "callback_number", "+15558675309", governance.FactSourceCaller, 0.9))
		require.NoError(t, mem.CommitFact(engine, "service_address", "42 Elm Street", governance.FactSourceCaller, 0.9))
		require.NoError(t, mem.CommitFact(engine, "problem_summary", "dripping faucet", governance.FactSourceCaller, 0.9))
		require.NoError(t, mem.CommitFact(engine, "time_preference", "tomorrow morning", governance.FactSourceCaller, 0.9))
		_, err := mem.CommitTurn()
		require.NoError(t, err)
	})

	resp, err := h.service.ProcessTurn(ctx, turnRequest("call-bk-2", "yes go ahead"))
	require.NoError(t, err)

	assert.Equal(t, call.ActionEscalate, resp.Action)
	require.Len(t, h.notifier.calls, 1)
	assert.Contains(t, h.notifier.calls[0].Message, "call-bk-2")

	mem, err := h.store.Load(ctx, "call-bk-2")
	require.NoError(t, err)
	assert.Equal(t, string(entity.OutcomeEscalated), mem.Outcome)
	assert.Empty(t, mem.Booking.AppointmentID)
}

func TestProcessTurnRejectedPhaseTransitionIsLogged(t *testing.T) {
	h := newHarness(t)
	hook := logrustest.NewLocal(log.NewLogger())
	defer hook.Reset()

	ctx := context.Background()
	h.seedMemory(t, "call-ph-1", func(engine *governance.Engine, mem *conversation.Memory) {
		require.NoError(t, mem.StartTurn(1, conversation.CallerInput{Raw: "please book it"}))
		mem.GiveConsent(1)
		require.NoError(t, mem.TransitionPhase(conversation.PhaseBooking, "caller agreed"))
		require.NoError(t, mem.CommitFact(engine, "caller_name", "Dana Whitfield", governance.FactSourceCaller, 0.9))
		require.NoError(t, mem.CommitFact(engine, "callback_number", "+15558675309", governance.FactSourceCaller, 0.9))
		require.NoError(t, mem.CommitFact(engine, "service_address", "42 Elm Street", governance.FactSourceCaller, 0.9))
		require.NoError(t, mem.CommitFact(engine, "problem_summary", "dripping faucet", governance.FactSourceCaller, 0.9))
		require.NoError(t, mem.CommitFact(engine, "time_preference", "tomorrow morning", governance.FactSourceCaller, 0.9))
		require.NoError(t, mem.TransitionPhase(conversation.PhaseClosing, "caller hung up"))
		_, err := mem.CommitTurn()
		require.NoError(t, err)
	})

	// The closing phase table has no outgoing transitions, so the booking turn's
	// confirmation move must be rejected, logged, and the turn still completed.
	resp, err := h.service.ProcessTurn(ctx, turnRequest("call-ph-1", "yes go ahead"))
	require.NoError(t, err)
	assert.Equal(t, call.ActionBook, resp.Action)
	assert.Equal(t, string(conversation.PhaseClosing), resp.Phase)

	var warned bool
	for _, entry := range hook.AllEntries() {
		if entry.Level == logrus.WarnLevel && entry.Message == "Phase transition rejected" {
			warned = true
		}
	}
	assert.True(t, warned, "expected a warning for the rejected phase transition")
}

func TestProcessTurnKnowledgeAnswer(t *testing.T) {
	source := &scriptedSource{
		kind: entity.SourceCompanyKB,
		result: knowledge.ScoredResult{
			Text:       "We're open Monday through Saturday, 7am to 6pm.",
			Score:      0.9,
			MatchCount: 2,
			Source:     entity.SourceCompanyKB,
		},
	}

	h := newHarness(t, source)
	ctx := context.Background()

	resp, err := h.service.ProcessTurn(ctx, turnRequest("call-kb-1", "my furnace is not working"))
	require.NoError(t, err)

	assert.Equal(t, string(governance.HandlerKnowledge), resp.Handler)
	assert.Equal(t, call.ActionContinue, resp.Action)
	assert.Equal(t, source.result.Text, resp.NextPromptText)
	assert.Equal(t, 0, h.llm.calls)

	mem, err := h.store.Load(ctx, "call-kb-1")
	require.NoError(t, err)
	assert.Equal(t, string(entity.SourceCompanyKB), mem.TierUsed)
	assert.Equal(t, string(entity.OutcomeInfoOnly), mem.Outcome)
}

func TestProcessTurnLLMParseFailureFallsBack(t *testing.T) {
	h := newHarness(t)
	h.llm.response = "absolutely not json"

	ctx := context.Background()
	resp, err := h.service.ProcessTurn(ctx, turnRequest("call-llm-1", "hmm let me think about that one"))
	require.NoError(t, err)

	assert.Equal(t, 1, h.llm.calls)
	assert.Equal(t, call.ActionAsk, resp.Action)
	assert.Equal(t, "May I have your name, please?", resp.NextPromptText)

	var traced bool
	for _, entry := range resp.DebugTrace {
		if entry.Tier == string(entity.SourceLLMFallback) && entry.Outcome == "parse_failure" {
			traced = true
		}
	}
	assert.True(t, traced, "expected a parse_failure trace entry, got %+v", resp.DebugTrace)
}

func TestProcessTurnLLMProviderErrorFallsBack(t *testing.T) {
	h := newHarness(t)
	h.llm.err = errors.New("provider timeout")

	ctx := context.Background()
	resp, err := h.service.ProcessTurn(ctx, turnRequest("call-llm-2", "hmm let me think about that one"))
	require.NoError(t, err)

	assert.Equal(t, call.ActionAsk, resp.Action)

	var traced bool
	for _, entry := range resp.DebugTrace {
		if entry.Tier == string(entity.SourceLLMFallback) && entry.Outcome == "error" {
			traced = true
		}
	}
	assert.True(t, traced, "expected an error trace entry, got %+v", resp.DebugTrace)
}

func TestProcessTurnLLMEscalationDecision(t *testing.T) {
	h := newHarness(t)
	h.storeConfig(t, func(cfg *governance.GovernanceConfig) {
		cfg.OnCallPhone = "+15550001111"
	})
	h.llm.response = `{"reply":"I'll have someone call you right back.","action":"escalate","facts":[{"field":"problem_summary","value":"billing dispute over last invoice","confidence":0.9}]}`

	ctx := context.Background()
	resp, err := h.service.ProcessTurn(ctx, turnRequest("call-llm-3", "hmm let me think about that one"))
	require.NoError(t, err)

	assert.Equal(t, call.ActionEscalate, resp.Action)
	assert.Equal(t, "I'll have someone call you right back.", resp.NextPromptText)
	require.Len(t, h.notifier.calls, 1)

	mem, err := h.store.Load(ctx, "call-llm-3")
	require.NoError(t, err)
	assert.Equal(t, string(entity.OutcomeEscalated), mem.Outcome)
	assert.Equal(t, "billing dispute over last invoice", mem.FactString("problem_summary"))
	assert.Equal(t, string(entity.SourceLLMFallback), mem.TierUsed)
}

func TestProcessTurnCaptureInjectionPreemptsRouting(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.seedMemory(t, "call-cap-1", func(engine *governance.Engine, mem *conversation.Memory) {
		require.NoError(t, mem.StartTurn(1, conversation.CallerInput{Raw: "small talk"}))
		_, err := mem.CommitTurn()
		require.NoError(t, err)
		mem.Capture.Must.TurnsWithoutProgress = 3
	})

	resp, err := h.service.ProcessTurn(ctx, turnRequest("call-cap-1", "anyway as I was saying"))
	require.NoError(t, err)

	assert.Equal(t, string(governance.HandlerCapture), resp.Handler)
	assert.Equal(t, call.ActionAsk, resp.Action)
	assert.Equal(t, "May I have your name, please?", resp.NextPromptText)
	assert.Equal(t, 0, h.llm.calls)
}

func TestProcessTurnBusyCall(t *testing.T) {
	h := newHarness(t)
	h.redis.locks["call:lock:call-busy-1"] = "someone-else"

	_, err := h.service.ProcessTurn(context.Background(), turnRequest("call-busy-1", "hello"))
	assert.ErrorIs(t, err, call.ErrCallBusy)
}

func TestProcessTurnMemorySaveFailure(t *testing.T) {
	h := newHarness(t)
	h.redis.setErr = errors.New("redis write refused")

	_, err := h.service.ProcessTurn(context.Background(), turnRequest("call-save-1", "hello there"))
	assert.ErrorIs(t, err, call.ErrMemoryStoreUnavailable)
}

func TestEndCallPersistsEverythingAndClearsMemory(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.seedMemory(t, "call-end-1", func(engine *governance.Engine, mem *conversation.Memory) {
		require.NoError(t, mem.StartTurn(1, conversation.CallerInput{Raw: "I'd like to book"}))
		require.NoError(t, mem.CommitFact(engine, "caller_name", "Dana Whitfield", governance.FactSourceCaller, 0.9))
		require.NoError(t, mem.CommitFact(engine, "callback_number", "+15558675309", governance.FactSourceCaller, 0.9))
		_, err := mem.CommitTurn()
		require.NoError(t, err)

		require.NoError(t, mem.StartTurn(2, conversation.CallerInput{Raw: "tomorrow works"}))
		_, err = mem.CommitTurn()
		require.NoError(t, err)

		mem.PrimaryIntent = classifier.IntentBooking
		mem.Booking.AppointmentID = "apt-9"
	})

	resp, err := h.service.EndCall(ctx, call.EndCallRequest{CallID: "call-end-1"})
	require.NoError(t, err)

	assert.Equal(t, string(entity.OutcomeBooked), resp.Outcome)
	assert.Equal(t, 2, resp.TurnCount)
	assert.NotEmpty(t, resp.SummaryID)

	require.Len(t, h.repo.summaries.created, 1)
	summary := h.repo.summaries.created[0]
	assert.Equal(t, "call-end-1", summary.CallID)
	assert.Equal(t, entity.OutcomeBooked, summary.Outcome)
	assert.Equal(t, "apt-9", summary.AppointmentID)
	assert.Equal(t, classifier.IntentBooking, summary.DetectedIntent)
	assert.Equal(t, 2, summary.TurnCount)

	require.Len(t, h.repo.transcripts.created, 1)
	assert.Equal(t, 2, h.repo.transcripts.created[0].TurnCount)
	assert.NotEmpty(t, h.repo.transcripts.created[0].Turns)

	require.Len(t, h.repo.customers.upserted, 1)
	customer := h.repo.customers.upserted[0]
	assert.Equal(t, "+15558675309", customer.Phone)
	assert.Equal(t, "Dana Whitfield", customer.Name)

	require.Len(t, h.repo.events.created, 1)
	assert.Equal(t, "call_ended", h.repo.events.created[0].EventType)

	assert.Equal(t, 1, h.repo.commits)
	assert.Equal(t, 0, h.repo.rollbacks)

	_, err = h.store.Load(ctx, "call-end-1")
	assert.ErrorIs(t, err, conversation.ErrMemoryNotFound)
}

func TestEndCallSkipsCustomerForSpam(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.seedMemory(t, "call-end-2", func(engine *governance.Engine, mem *conversation.Memory) {
		require.NoError(t, mem.StartTurn(1, conversation.CallerInput{Raw: "extended warranty"}))
		_, err := mem.CommitTurn()
		require.NoError(t, err)
		mem.Outcome = string(entity.OutcomeSpam)
	})

	resp, err := h.service.EndCall(ctx, call.EndCallRequest{CallID: "call-end-2"})
	require.NoError(t, err)

	assert.Equal(t, string(entity.OutcomeSpam), resp.Outcome)
	assert.Empty(t, h.repo.customers.upserted)
	require.Len(t, h.repo.summaries.created, 1)
}

func TestEndCallRollsBackOnSummaryFailure(t *testing.T) {
	h := newHarness(t)
	h.repo.summaries.err = errors.New("insert failed")
	ctx := context.Background()

	h.seedMemory(t, "call-end-3", func(engine *governance.Engine, mem *conversation.Memory) {
		require.NoError(t, mem.StartTurn(1, conversation.CallerInput{Raw: "hello"}))
		_, err := mem.CommitTurn()
		require.NoError(t, err)
	})

	_, err := h.service.EndCall(ctx, call.EndCallRequest{CallID: "call-end-3"})
	assert.ErrorIs(t, err, call.ErrSummaryWriteFailed)
	assert.Equal(t, 1, h.repo.rollbacks)
	assert.Equal(t, 0, h.repo.commits)

	// The memory stays put so the end-call webhook can be retried.
	_, err = h.store.Load(ctx, "call-end-3")
	assert.NoError(t, err)
}

func TestEndCallUnknownCall(t *testing.T) {
	h := newHarness(t)

	_, err := h.service.EndCall(context.Background(), call.EndCallRequest{CallID: "never-started"})
	assert.ErrorIs(t, err, call.ErrCallNotFound)
}

func TestGetTrace(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.service.ProcessTurn(ctx, turnRequest("call-tr-1", "I smell gas in the basement"))
	require.NoError(t, err)

	trace, err := h.service.GetTrace(ctx, "call-tr-1")
	require.NoError(t, err)
	assert.Equal(t, "call-tr-1", trace.CallID)
	assert.Len(t, trace.Turns, 1)
	assert.NotEmpty(t, trace.TierTrace)

	_, err = h.service.GetTrace(ctx, "call-tr-missing")
	assert.ErrorIs(t, err, call.ErrTraceNotFound)
}
