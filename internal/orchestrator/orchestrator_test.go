package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ncreasor/triago/internal/config"
	"github.com/ncreasor/triago/internal/ledger"
	"github.com/ncreasor/triago/internal/ofd"
	"github.com/ncreasor/triago/internal/provider"
	"github.com/ncreasor/triago/internal/session"
	"github.com/ncreasor/triago/internal/tenant"
	"github.com/ncreasor/triago/internal/tracker"
)

type cfgStore struct {
	cfg *tenant.Config
	err error
}

func (s *cfgStore) LoadConfig(ctx context.Context, key string) (*tenant.Config, error) {
	return s.cfg, s.err
}

type fakeProviderClient struct {
	threads int
}

func (f *fakeProviderClient) CreateThread(ctx context.Context) (string, error) {
	f.threads++
	return "thread_1", nil
}
func (f *fakeProviderClient) PostMessage(ctx context.Context, threadID, text string) error {
	return nil
}
func (f *fakeProviderClient) ActiveRun(ctx context.Context, threadID string) (string, provider.RunState, error) {
	return "", provider.RunNone, nil
}
func (f *fakeProviderClient) StartRun(ctx context.Context, threadID, assistantID string, temperature float64) (string, error) {
	return "", nil
}
func (f *fakeProviderClient) RunState(ctx context.Context, threadID, runID string) (provider.RunState, error) {
	return provider.RunNone, nil
}
func (f *fakeProviderClient) LatestReply(ctx context.Context, threadID string) (string, error) {
	return "", nil
}
func (f *fakeProviderClient) History(ctx context.Context, threadID string) ([]provider.Turn, error) {
	return nil, nil
}
func (f *fakeProviderClient) CreateAssistant(ctx context.Context, name, instructions, model string) (string, error) {
	return "", nil
}
func (f *fakeProviderClient) Complete(ctx context.Context, turns []provider.Turn, maxTokens int, temperature float64) (string, error) {
	return "", nil
}

type fakeRunner struct {
	reply   string
	err     error
	prompts []string
	temps   []float64
}

func (f *fakeRunner) Ask(ctx context.Context, conv provider.Conversation, threadID, assistantID, prompt string, temperature float64) (string, error) {
	f.prompts = append(f.prompts, prompt)
	f.temps = append(f.temps, temperature)
	return f.reply, f.err
}

type fakeProvisioner struct {
	flavors   []tenant.Flavor
	templates []string
}

func (f *fakeProvisioner) GetOrCreate(ctx context.Context, prov provider.Provisioner, tenantID string, flavor tenant.Flavor, template, model string) (string, error) {
	f.flavors = append(f.flavors, flavor)
	f.templates = append(f.templates, template)
	return "asst_" + string(flavor), nil
}

type fakeExtractor struct {
	updates []tracker.FieldUpdate
	calls   int
}

func (f *fakeExtractor) Extract(ctx context.Context, client provider.Client, cfg *tenant.Config, tenantKey, threadID string, task *tracker.Task) []tracker.FieldUpdate {
	f.calls++
	return f.updates
}

type fakeAttach struct {
	text  string
	calls int
}

func (f *fakeAttach) ExtractText(ctx context.Context, url, name string) (string, error) {
	f.calls++
	return f.text, nil
}

type fakeCounter struct{ tasks int }

func (f *fakeCounter) IncTask(tenantID string) { f.tasks++ }

type fixture struct {
	orch      *Orchestrator
	store     *cfgStore
	client    *fakeProviderClient
	runner    *fakeRunner
	prov      *fakeProvisioner
	extractor *fakeExtractor
	attach    *fakeAttach
	counter   *fakeCounter
	sessions  *session.Store
	ledger    *ledger.Ledger
}

func workingConfig() *tenant.Config {
	return &tenant.Config{
		Features: tenant.Features{AttachmentsEnabled: true},
		Behavior: tenant.Behavior{
			Temperature:     0.7,
			StopWords:       "спасибо, решено",
			BotStopWords:    "anydesk",
			WorkFrom:        "09:00",
			WorkTo:          "18:00",
			WorkFromWeekend: "09:00",
			WorkToWeekend:   "18:00",
			OffHoursMessage: "Мы ответим утром",
		},
		ProviderKey:    "sk-tenant",
		SystemTemplate: "Помогай с кассами",
	}
}

// workday noon, a Wednesday
var workdayNoon = time.Date(2025, time.March, 12, 12, 0, 0, 0, time.UTC)

func newFixture(t *testing.T, cfg *tenant.Config) *fixture {
	t.Helper()
	f := &fixture{
		store:     &cfgStore{cfg: cfg},
		client:    &fakeProviderClient{},
		runner:    &fakeRunner{reply: "Проверьте кабель"},
		prov:      &fakeProvisioner{},
		extractor: &fakeExtractor{},
		attach:    &fakeAttach{text: "текст с фото"},
		counter:   &fakeCounter{},
		sessions:  session.NewStore(),
		ledger:    ledger.New(time.Hour, 1000),
	}
	f.orch = New(Deps{
		Cache:       tenant.NewCache(f.store, zerolog.Nop()),
		Sessions:    f.sessions,
		Ledger:      f.ledger,
		Gate:        ofd.NewGate(zerolog.Nop()),
		Assistants:  f.prov,
		Runner:      f.runner,
		Extractor:   f.extractor,
		Attachments: f.attach,
		Stats:       f.counter,
		Clients:     func(apiKey string) provider.Client { return f.client },
		Routing: config.RoutingConfig{
			Integrations:         map[string]int64{"acme": 2328354},
			IntegrationsTemplate: "Помогай с интеграциями",
		},
	}, zerolog.Nop())
	f.orch.now = func() time.Time { return workdayNoon }
	return f
}

func telegramTask(id int64, text string) *tracker.Task {
	return &tracker.Task{
		ID:       id,
		Comments: []tracker.Comment{{Text: text, Channel: tracker.Channel{Type: "telegram"}}},
	}
}

func (f *fixture) handle(t *testing.T, task *tracker.Task) Action {
	t.Helper()
	action, err := f.orch.Handle(context.Background(), task, "acme", "key", "gpt-4o")
	require.NoError(t, err)
	return action
}

func TestHandle_ClosedTaskIsSkipped(t *testing.T) {
	f := newFixture(t, workingConfig())
	task := telegramTask(1, "привет")
	task.IsClosed = true

	action := f.handle(t, task)
	assert.True(t, action.IsNoOp())
	assert.Empty(t, f.runner.prompts)
}

func TestHandle_StopWordAutoResolvesWithoutProviderCall(t *testing.T) {
	f := newFixture(t, workingConfig())

	action := f.handle(t, telegramTask(1, "Спасибо, все работает"))
	assert.True(t, action.Resolve)
	assert.Empty(t, action.Text)
	assert.Empty(t, f.runner.prompts)
	assert.Equal(t, 0, f.client.threads)
	assert.Equal(t, 1, f.counter.tasks)
}

func TestHandle_ResolutionIsIdempotent(t *testing.T) {
	f := newFixture(t, workingConfig())

	first := f.handle(t, telegramTask(1, "спасибо"))
	assert.True(t, first.Resolve)

	second := f.handle(t, telegramTask(1, "а еще вопрос"))
	assert.True(t, second.IsNoOp())
	assert.Empty(t, f.runner.prompts)
	assert.Equal(t, 1, f.counter.tasks)
}

func TestHandle_CustomChannelResolvesImmediately(t *testing.T) {
	f := newFixture(t, workingConfig())
	task := &tracker.Task{ID: 1, Comments: []tracker.Comment{{
		Text: "вопрос", Channel: tracker.Channel{Type: "custom"},
	}}}

	action := f.handle(t, task)
	assert.True(t, action.Resolve)
	assert.Empty(t, f.runner.prompts)
}

func TestHandle_ChannelResolution(t *testing.T) {
	f := newFixture(t, workingConfig())
	task := &tracker.Task{ID: 1, Comments: []tracker.Comment{{
		Text: "вопрос", Channel: tracker.Channel{Type: "whatsapp"},
	}}}

	// Single-channel mode honors only the designated channel.
	action := f.handle(t, task)
	assert.True(t, action.IsNoOp())
	assert.Empty(t, f.runner.prompts)

	// Multi-channel mode replies on the comment's channel.
	cfg := workingConfig()
	cfg.Features.MultiChannelEnabled = true
	f = newFixture(t, cfg)
	action = f.handle(t, task)
	assert.Equal(t, "whatsapp", action.Channel)
	assert.Equal(t, "Проверьте кабель", action.Text)
}

func TestHandle_StaffAuthorAutoResolves(t *testing.T) {
	f := newFixture(t, workingConfig())
	task := &tracker.Task{ID: 1, Comments: []tracker.Comment{{
		Text:    "передаю инженеру",
		Author:  tracker.Author{Position: "engineer"},
		Channel: tracker.Channel{Type: "telegram"},
	}}}

	action := f.handle(t, task)
	assert.True(t, action.Resolve)
	assert.Empty(t, f.runner.prompts)
}

func TestHandle_AttachmentsDisabledAutoResolves(t *testing.T) {
	cfg := workingConfig()
	cfg.Features.AttachmentsEnabled = false
	f := newFixture(t, cfg)

	task := telegramTask(1, "смотрите фото")
	task.Attachments = []tracker.Attachment{{URL: "https://files/x.jpg", Name: "x.jpg"}}

	action := f.handle(t, task)
	assert.True(t, action.Resolve)
	assert.Equal(t, 0, f.attach.calls)
}

func TestHandle_AttachmentExtractedAtMostOncePerURL(t *testing.T) {
	f := newFixture(t, workingConfig())

	task := telegramTask(1, "смотрите фото")
	task.Attachments = []tracker.Attachment{{URL: "https://files/x.jpg", Name: "x.jpg"}}

	f.handle(t, task)
	require.Len(t, f.runner.prompts, 1)
	assert.Equal(t, "текст с фото\nсмотрите фото", f.runner.prompts[0])

	// Same URL on a repeat event is not extracted again.
	f.handle(t, task)
	assert.Equal(t, 1, f.attach.calls)
	require.Len(t, f.runner.prompts, 2)
	assert.Equal(t, "смотрите фото", f.runner.prompts[1])
}

func TestHandle_EmptyTextAndNoAttachmentResolves(t *testing.T) {
	f := newFixture(t, workingConfig())

	action := f.handle(t, telegramTask(1, ""))
	assert.True(t, action.Resolve)
	assert.Empty(t, f.runner.prompts)
}

func TestHandle_ConversationReply(t *testing.T) {
	f := newFixture(t, workingConfig())

	action := f.handle(t, telegramTask(1, "не печатает чек"))
	assert.Equal(t, "Проверьте кабель", action.Text)
	assert.Equal(t, "telegram", action.Channel)
	assert.False(t, action.Resolve)

	assert.Equal(t, []tenant.Flavor{tenant.FlavorMain}, f.prov.flavors)
	assert.Equal(t, []string{"Помогай с кассами"}, f.prov.templates)
	assert.Equal(t, []float64{0.7}, f.runner.temps)
	assert.Equal(t, 1, f.client.threads)

	// The session survives an unresolved exchange and is reused.
	f.handle(t, telegramTask(1, "не помогло"))
	assert.Equal(t, 1, f.client.threads)
}

func TestHandle_OffHoursMessageAppended(t *testing.T) {
	f := newFixture(t, workingConfig())
	f.orch.now = func() time.Time {
		return time.Date(2025, time.March, 12, 23, 0, 0, 0, time.UTC)
	}

	action := f.handle(t, telegramTask(1, "не печатает чек"))
	assert.Equal(t, "Проверьте кабель\n\nМы ответим утром", action.Text)
}

func TestHandle_EmergencyTemplateAppended(t *testing.T) {
	cfg := workingConfig()
	cfg.Features.EmergencyEnabled = true
	cfg.Features.EmergencyTemplate = "Идут технические работы"
	f := newFixture(t, cfg)

	action := f.handle(t, telegramTask(1, "не печатает чек"))
	assert.Equal(t, "Проверьте кабель\n\nИдут технические работы", action.Text)
}

func TestHandle_BotStopWordResolvesWithExtraction(t *testing.T) {
	cfg := workingConfig()
	cfg.Form.Enabled = true
	f := newFixture(t, cfg)
	f.runner.reply = "Подключитесь через AnyDesk, код 123"
	f.extractor.updates = []tracker.FieldUpdate{{ID: 11, Value: "Ivanov"}}

	action := f.handle(t, telegramTask(1, "нужна помощь"))
	assert.True(t, action.Resolve)
	assert.Equal(t, "Подключитесь через AnyDesk, код 123", action.Text)
	assert.Equal(t, f.extractor.updates, action.Updates)
	assert.Equal(t, 1, f.counter.tasks)

	_, bound := f.sessions.Thread(1)
	assert.False(t, bound, "session dropped on resolution")

	next := f.handle(t, telegramTask(1, "ок"))
	assert.True(t, next.IsNoOp())
}

func TestHandle_EmptyReplyIsSilence(t *testing.T) {
	f := newFixture(t, workingConfig())
	f.runner.reply = ""

	action := f.handle(t, telegramTask(1, "вопрос"))
	assert.True(t, action.IsNoOp())
}

func TestHandle_RunErrorDegradesToSilence(t *testing.T) {
	f := newFixture(t, workingConfig())
	f.runner.err = errors.New("run timed out")

	action := f.handle(t, telegramTask(1, "вопрос"))
	assert.True(t, action.IsNoOp())
}

func TestHandle_IntegrationsFormRouting(t *testing.T) {
	cfg := workingConfig()
	cfg.Form.Enabled = true
	cfg.Features.EmergencyEnabled = true
	cfg.Features.EmergencyTemplate = "Идут технические работы"
	f := newFixture(t, cfg)
	f.runner.reply = "Интеграция настроена, дальше поможет AnyDesk"

	task := telegramTask(1, "как подключить кассу к 1С")
	task.FormID = 2328354

	action := f.handle(t, task)
	assert.Equal(t, []tenant.Flavor{tenant.FlavorIntegrations}, f.prov.flavors)
	assert.Equal(t, []string{"Помогай с интеграциями"}, f.prov.templates)

	// Integrations replies skip the emergency template and extraction.
	assert.NotContains(t, action.Text, "Идут технические работы")
	assert.True(t, action.Resolve)
	assert.Empty(t, action.Updates)
	assert.Equal(t, 0, f.extractor.calls)
}

func TestHandle_GateFlow(t *testing.T) {
	cfg := workingConfig()
	cfg.OFD = tenant.OFDConfig{
		Enabled:  true,
		Day:      12,
		Greeting: "Вы перешли на нового оператора?",
		Template: "Спасибо, обращение закрыто",
	}
	f := newFixture(t, cfg)

	first := f.handle(t, telegramTask(42, "у меня вопрос"))
	assert.Equal(t, "Вы перешли на нового оператора?", first.Text)
	assert.Equal(t, "telegram", first.Channel)
	assert.False(t, first.Resolve)

	second := f.handle(t, telegramTask(42, "да"))
	assert.Equal(t, "Спасибо, обращение закрыто", second.Text)
	assert.True(t, second.Resolve)
	assert.Equal(t, 1, f.counter.tasks)
	assert.Empty(t, f.runner.prompts, "gate flow never reaches the assistant")

	// Answered tasks fall back to the main flow.
	third := f.handle(t, telegramTask(42, "еще вопрос"))
	assert.True(t, third.IsNoOp(), "resolved task stays silent")
}

func TestHandle_GateAttachmentBypasses(t *testing.T) {
	cfg := workingConfig()
	cfg.OFD = tenant.OFDConfig{Enabled: true, Day: 12, Greeting: "привет"}
	f := newFixture(t, cfg)

	task := telegramTask(7, "фото чека")
	task.Attachments = []tracker.Attachment{{URL: "https://files/x.jpg"}}

	action := f.handle(t, task)
	assert.True(t, action.Resolve)
	assert.Equal(t, 0, f.attach.calls)
}

func TestHandle_ConfigUnavailable(t *testing.T) {
	f := newFixture(t, workingConfig())
	f.store.cfg = nil
	f.store.err = errors.New("connection refused")

	_, err := f.orch.Handle(context.Background(), telegramTask(1, "привет"), "acme", "key", "gpt-4o")
	require.Error(t, err)
	assert.ErrorIs(t, err, tenant.ErrUnavailable)
}
