package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bakeable/homeassistant-whatsapp-gateway/internal/core/ports"
)

func TestHomeAssistantClient_CallService_SplitsDomainAndService(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/services/script/turn_on", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "script.morning_routine", body["entity_id"])

		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewHomeAssistantClient(server.URL, "test-token")
	err := client.CallService(context.Background(), "script.turn_on",
		map[string]any{"entity_id": "script.morning_routine"}, nil,
		[]string{"script.turn_on"})
	require.NoError(t, err)
}

func TestHomeAssistantClient_CallService_RefusedWhenNotAllowListed(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer server.Close()

	client := NewHomeAssistantClient(server.URL, "test-token")
	err := client.CallService(context.Background(), "lock.unlock", nil, nil, []string{"script.turn_on"})
	require.ErrorIs(t, err, ports.ErrPolicyRefused)
	assert.False(t, called, "orchestrator must never be called when the service is off the allow-list")
}

func TestHomeAssistantClient_CallService_EmptyAllowListRefusesAll(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewHomeAssistantClient(server.URL, "test-token")
	err := client.CallService(context.Background(), "light.turn_on", nil, nil, nil)
	require.ErrorIs(t, err, ports.ErrPolicyRefused)
}

func TestHomeAssistantClient_ListScripts_FiltersByPrefix(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]any{
			{"entity_id": "script.morning_routine"},
			{"entity_id": "light.kitchen"},
			{"entity_id": "script.night_routine"},
		})
	}))
	defer server.Close()

	client := NewHomeAssistantClient(server.URL, "test-token")
	scripts, err := client.ListScripts(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"script.morning_routine", "script.night_routine"}, scripts)
}
