package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/bakeable/homeassistant-whatsapp-gateway/internal/core/domain"
	"github.com/bakeable/homeassistant-whatsapp-gateway/internal/core/ports"
)

type mockMessageRepo struct{ mock.Mock }

func (m *mockMessageRepo) InsertMessage(ctx context.Context, msg *domain.Message) (bool, error) {
	args := m.Called(ctx, msg)
	msg.ID = 1
	return args.Bool(0), args.Error(1)
}
func (m *mockMessageRepo) MarkProcessed(ctx context.Context, messageID int64) error {
	args := m.Called(ctx, messageID)
	return args.Error(0)
}
func (m *mockMessageRepo) ListMessages(ctx context.Context, page ports.PageRequest, chatID string) ([]*domain.Message, int, error) {
	return nil, 0, nil
}

type mockChatRepo struct{ mock.Mock }

func (m *mockChatRepo) UpsertChat(ctx context.Context, chat *domain.Chat) error {
	args := m.Called(ctx, chat)
	return args.Error(0)
}
func (m *mockChatRepo) SetEnabled(ctx context.Context, chatID string, enabled bool) error { return nil }
func (m *mockChatRepo) ListChats(ctx context.Context, filter ports.ChatFilter) ([]*domain.Chat, error) {
	return nil, nil
}
func (m *mockChatRepo) SyncReconcile(ctx context.Context, since time.Time) (int, error) {
	args := m.Called(ctx, since)
	return args.Int(0), args.Error(1)
}

type mockEventLogRepo struct{ mock.Mock }

func (m *mockEventLogRepo) InsertEvent(ctx context.Context, entry *domain.EventLogEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}
func (m *mockEventLogRepo) ListEvents(ctx context.Context, page ports.PageRequest, kindFilter string) ([]*domain.EventLogEntry, int, error) {
	return nil, 0, nil
}

func buildTestEngine() (*RuleEngine, *mockProvider) {
	provider := new(mockProvider)
	engine := NewRuleEngine(nil, new(mockCooldownRepo), new(mockRuleFireRepo), new(mockOrchestrator), provider, "default", nil)
	return engine, provider
}

func inboundMessagePayload(msgID, chatID, text string) []byte {
	env := map[string]any{
		"event":    "messages.upsert",
		"instance": "default",
		"data": map[string]any{
			"key": map[string]any{
				"remoteJid": chatID,
				"fromMe":    false,
				"id":        msgID,
			},
			"pushName": "Alice",
			"message": map[string]any{
				"conversation": text,
			},
		},
	}
	raw, _ := json.Marshal(env)
	return raw
}

func echoMessagePayload(chatID string) []byte {
	env := map[string]any{
		"event":    "messages.upsert",
		"instance": "default",
		"data": map[string]any{
			"key": map[string]any{
				"remoteJid": chatID,
				"fromMe":    true,
				"id":        "echo-1",
			},
			"message": map[string]any{
				"conversation": "sent by the gateway itself",
			},
		},
	}
	raw, _ := json.Marshal(env)
	return raw
}

func TestWebhookIngestor_ValidInboundMessage(t *testing.T) {
	messageRepo := new(mockMessageRepo)
	chatRepo := new(mockChatRepo)
	eventRepo := new(mockEventLogRepo)
	engine, provider := buildTestEngine()

	ingestor := NewWebhookIngestor(messageRepo, chatRepo, eventRepo, engine)

	ctx := context.Background()
	payload := inboundMessagePayload("wamid.123", "31612345678@s.whatsapp.net", "hello there")

	eventRepo.On("InsertEvent", ctx, mock.AnythingOfType("*domain.EventLogEntry")).Return(nil)
	chatRepo.On("UpsertChat", ctx, mock.MatchedBy(func(c *domain.Chat) bool {
		return c.ID == "31612345678@s.whatsapp.net" && c.Kind == domain.ChatKindDirect
	})).Return(nil)
	messageRepo.On("InsertMessage", ctx, mock.MatchedBy(func(m *domain.Message) bool {
		return m.Text == "hello there" && *m.ProviderMessageID == "wamid.123"
	})).Return(true, nil)
	messageRepo.On("MarkProcessed", ctx, int64(1)).Return(nil)

	ingestor.ProcessWebhook(ctx, payload)

	messageRepo.AssertExpectations(t)
	chatRepo.AssertExpectations(t)
	eventRepo.AssertExpectations(t)
	provider.AssertNotCalled(t, "SendText", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestWebhookIngestor_EchoMessageIsSkipped(t *testing.T) {
	messageRepo := new(mockMessageRepo)
	chatRepo := new(mockChatRepo)
	eventRepo := new(mockEventLogRepo)
	engine, _ := buildTestEngine()

	ingestor := NewWebhookIngestor(messageRepo, chatRepo, eventRepo, engine)

	ctx := context.Background()
	payload := echoMessagePayload("31612345678@s.whatsapp.net")

	eventRepo.On("InsertEvent", ctx, mock.AnythingOfType("*domain.EventLogEntry")).Return(nil)

	ingestor.ProcessWebhook(ctx, payload)

	eventRepo.AssertExpectations(t)
	messageRepo.AssertNotCalled(t, "InsertMessage", mock.Anything, mock.Anything)
	chatRepo.AssertNotCalled(t, "UpsertChat", mock.Anything, mock.Anything)
}

func TestWebhookIngestor_DuplicateMessageSkipsEvaluation(t *testing.T) {
	messageRepo := new(mockMessageRepo)
	chatRepo := new(mockChatRepo)
	eventRepo := new(mockEventLogRepo)
	engine, _ := buildTestEngine()

	ingestor := NewWebhookIngestor(messageRepo, chatRepo, eventRepo, engine)

	ctx := context.Background()
	payload := inboundMessagePayload("wamid.dup", "31612345678@s.whatsapp.net", "hello again")

	eventRepo.On("InsertEvent", ctx, mock.Anything).Return(nil)
	chatRepo.On("UpsertChat", ctx, mock.Anything).Return(nil)
	messageRepo.On("InsertMessage", ctx, mock.Anything).Return(false, nil)

	ingestor.ProcessWebhook(ctx, payload)

	messageRepo.AssertNotCalled(t, "MarkProcessed", mock.Anything, mock.Anything)
}

func TestWebhookIngestor_MalformedJSONDoesNotPanic(t *testing.T) {
	messageRepo := new(mockMessageRepo)
	chatRepo := new(mockChatRepo)
	eventRepo := new(mockEventLogRepo)
	engine, _ := buildTestEngine()

	ingestor := NewWebhookIngestor(messageRepo, chatRepo, eventRepo, engine)

	assert.NotPanics(t, func() {
		ingestor.ProcessWebhook(context.Background(), []byte(`{"invalid`))
	})
}
