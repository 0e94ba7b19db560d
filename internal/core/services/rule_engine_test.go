package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/bakeable/homeassistant-whatsapp-gateway/internal/core/domain"
	"github.com/bakeable/homeassistant-whatsapp-gateway/internal/core/ports"
	"github.com/bakeable/homeassistant-whatsapp-gateway/internal/core/ruleset"
)

// ============================================================================
// Mocks
// ============================================================================

type mockRuleSetRepo struct{ mock.Mock }

func (m *mockRuleSetRepo) GetRulesetYAML(ctx context.Context) (*domain.RuleSetRow, error) {
	args := m.Called(ctx)
	if r := args.Get(0); r != nil {
		return r.(*domain.RuleSetRow), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockRuleSetRepo) PutRuleset(ctx context.Context, yamlText string, ruleCount int) (int64, error) {
	args := m.Called(ctx, yamlText, ruleCount)
	return int64(args.Int(0)), args.Error(1)
}

type mockOrchestrator struct{ mock.Mock }

func (m *mockOrchestrator) CallService(ctx context.Context, serviceName string, target, data map[string]any, allowList []string) error {
	args := m.Called(ctx, serviceName, target, data, allowList)
	return args.Error(0)
}
func (m *mockOrchestrator) ListScripts(ctx context.Context) ([]string, error)      { return nil, nil }
func (m *mockOrchestrator) ListAutomations(ctx context.Context) ([]string, error)  { return nil, nil }
func (m *mockOrchestrator) ListEntities(ctx context.Context) ([]string, error)     { return nil, nil }
func (m *mockOrchestrator) ServiceDetails(ctx context.Context, name string) (*ports.ServiceDetail, error) {
	return nil, nil
}
func (m *mockOrchestrator) Status(ctx context.Context) (map[string]any, error) { return nil, nil }

type mockProvider struct{ mock.Mock }

func (m *mockProvider) EnsureInstance(ctx context.Context, name string) (ports.InstanceOutcome, error) {
	return "", nil
}
func (m *mockProvider) RequestQR(ctx context.Context, name string) (*ports.QRPayload, error) {
	return nil, nil
}
func (m *mockProvider) ConnectionStatus(ctx context.Context, name string) (*ports.StatusResult, error) {
	return nil, nil
}
func (m *mockProvider) Disconnect(ctx context.Context, name string) error { return nil }
func (m *mockProvider) ListGroups(ctx context.Context, name string) ([]ports.GroupOrContact, error) {
	args := m.Called(ctx, name)
	if r := args.Get(0); r != nil {
		return r.([]ports.GroupOrContact), args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockProvider) ListContacts(ctx context.Context, name string) ([]ports.GroupOrContact, error) {
	args := m.Called(ctx, name)
	if r := args.Get(0); r != nil {
		return r.([]ports.GroupOrContact), args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockProvider) SendText(ctx context.Context, name, to, text string) (string, error) {
	args := m.Called(ctx, name, to, text)
	return args.String(0), args.Error(1)
}
func (m *mockProvider) SendMedia(ctx context.Context, name, to, url string, kind ports.MediaKind, caption string) (string, error) {
	return "", nil
}
func (m *mockProvider) ConfigureWebhook(ctx context.Context, name, url string, eventKinds []string) error {
	return nil
}
func (m *mockProvider) ApplySettings(ctx context.Context, name string, settings map[string]any) error {
	return nil
}

type mockCooldownRepo struct{ mock.Mock }

func (m *mockCooldownRepo) IsOnCooldown(ctx context.Context, ruleID, scopeKey string) (bool, error) {
	args := m.Called(ctx, ruleID, scopeKey)
	return args.Bool(0), args.Error(1)
}
func (m *mockCooldownRepo) SetCooldown(ctx context.Context, ruleID, scopeKey string, ttl time.Duration) error {
	args := m.Called(ctx, ruleID, scopeKey, ttl)
	return args.Error(0)
}
func (m *mockCooldownRepo) SweepExpired(ctx context.Context) (int, error) { return 0, nil }

type mockRuleFireRepo struct{ mock.Mock }

func (m *mockRuleFireRepo) InsertRuleFire(ctx context.Context, fire *domain.RuleFire) error {
	args := m.Called(ctx, fire)
	return args.Error(0)
}
func (m *mockRuleFireRepo) ListRuleFires(ctx context.Context, page ports.PageRequest, filter ports.RuleFireFilter) ([]*domain.RuleFire, int, error) {
	return nil, 0, nil
}

// ============================================================================
// Tests
// ============================================================================

func TestRuleEngine_SaveRuleset_InvalidYAMLNeverPersists(t *testing.T) {
	rsRepo := new(mockRuleSetRepo)
	engine := NewRuleEngine(rsRepo, nil, nil, nil, nil, "default", nil)

	result, err := engine.SaveRuleset(context.Background(), []byte(`rules: [{id: "", actions: []}]`))
	require.NoError(t, err)
	assert.False(t, result.Valid)
	rsRepo.AssertNotCalled(t, "PutRuleset", mock.Anything, mock.Anything, mock.Anything)
}

func TestRuleEngine_TestMessage_PreviewDoesNotFireActions(t *testing.T) {
	provider := new(mockProvider)
	orchestrator := new(mockOrchestrator)
	engine := NewRuleEngine(nil, nil, nil, orchestrator, provider, "default", nil)

	rs, errs := ruleset.Parse([]byte(`
rules:
  - id: r1
    name: greet
    match:
      text:
        mode: contains
        patterns: ["hi"]
    actions:
      - type: reply_whatsapp
        text: "hello!"
`))
	require.Empty(t, errs)
	engine.active.Store(rs)

	preview := engine.TestMessage(context.Background(), ruleset.NormalizedEvent{Text: "hi there"})
	require.Len(t, preview.Evaluated, 1)
	assert.True(t, preview.Evaluated[0].Fired)
	assert.Equal(t, "r1", preview.Evaluated[0].RuleID)
	require.Len(t, preview.ActionPreview, 1)

	provider.AssertNotCalled(t, "SendText", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	orchestrator.AssertNotCalled(t, "CallService", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRuleEngine_Evaluate_FiresActionAndSetsCooldown(t *testing.T) {
	provider := new(mockProvider)
	cooldownRepo := new(mockCooldownRepo)
	ruleFireRepo := new(mockRuleFireRepo)
	engine := NewRuleEngine(nil, cooldownRepo, ruleFireRepo, nil, provider, "default-instance", nil)

	rs, errs := ruleset.Parse([]byte(`
rules:
  - id: r1
    name: greet
    cooldown_seconds: 60
    match:
      text:
        mode: contains
        patterns: ["hi"]
    actions:
      - type: reply_whatsapp
        text: "hello!"
`))
	require.Empty(t, errs)
	engine.active.Store(rs)

	ctx := context.Background()
	event := ruleset.NormalizedEvent{ChatID: "123@g.us", Text: "hi there"}

	cooldownRepo.On("IsOnCooldown", ctx, "r1", "123@g.us").Return(false, nil)
	cooldownRepo.On("SetCooldown", ctx, "r1", "123@g.us", 60*time.Second).Return(nil)
	provider.On("SendText", ctx, "default-instance", "123@g.us", "hello!").Return("msg-1", nil)
	ruleFireRepo.On("InsertRuleFire", ctx, mock.MatchedBy(func(f *domain.RuleFire) bool {
		return f.RuleID == "r1" && f.Success
	})).Return(nil)

	outcome := engine.Evaluate(ctx, event, nil)

	assert.Equal(t, 1, outcome.RulesMatched)
	assert.Equal(t, 1, outcome.RulesFired)
	provider.AssertExpectations(t)
	cooldownRepo.AssertExpectations(t)
	ruleFireRepo.AssertExpectations(t)
}

func TestRuleEngine_Evaluate_SkipsWhenOnCooldown(t *testing.T) {
	provider := new(mockProvider)
	cooldownRepo := new(mockCooldownRepo)
	ruleFireRepo := new(mockRuleFireRepo)
	engine := NewRuleEngine(nil, cooldownRepo, ruleFireRepo, nil, provider, "default-instance", nil)

	rs, errs := ruleset.Parse([]byte(`
rules:
  - id: r1
    name: greet
    cooldown_seconds: 60
    match:
      text:
        mode: contains
        patterns: ["hi"]
    actions:
      - type: reply_whatsapp
        text: "hello!"
`))
	require.Empty(t, errs)
	engine.active.Store(rs)

	ctx := context.Background()
	event := ruleset.NormalizedEvent{ChatID: "123@g.us", Text: "hi there"}
	cooldownRepo.On("IsOnCooldown", ctx, "r1", "123@g.us").Return(true, nil)

	outcome := engine.Evaluate(ctx, event, nil)

	assert.Equal(t, 1, outcome.RulesMatched)
	assert.Equal(t, 0, outcome.RulesFired)
	assert.Equal(t, 1, outcome.RulesSkippedCD)
	provider.AssertNotCalled(t, "SendText", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	ruleFireRepo.AssertNotCalled(t, "InsertRuleFire", mock.Anything, mock.Anything)
}
