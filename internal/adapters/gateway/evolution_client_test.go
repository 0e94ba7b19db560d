package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvolutionClient_SendText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/message/sendText/default", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("apikey"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "123@s.whatsapp.net", body["number"])
		assert.Equal(t, "hello", body["text"])

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"key": map[string]any{"id": "msg-1"}})
	}))
	defer server.Close()

	client := NewEvolutionClient(server.URL, "test-key")
	id, err := client.SendText(context.Background(), "default", "123@s.whatsapp.net", "hello")
	require.NoError(t, err)
	assert.Equal(t, "msg-1", id)
}

func TestEvolutionClient_SendText_Unauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message":"invalid api key"}`))
	}))
	defer server.Close()

	client := NewEvolutionClient(server.URL, "bad-key")
	_, err := client.SendText(context.Background(), "default", "123@s.whatsapp.net", "hello")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestEvolutionClient_ConnectionStatus_FoldsNativeStates(t *testing.T) {
	cases := map[string]string{
		"open":       "connected",
		"connecting": "connecting",
		"close":      "disconnected",
	}
	for native, folded := range cases {
		native, folded := native, folded
		t.Run(native, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(map[string]any{
					"instance": map[string]any{"state": native},
					"number":   "5511999999999",
				})
			}))
			defer server.Close()

			client := NewEvolutionClient(server.URL, "key")
			status, err := client.ConnectionStatus(context.Background(), "default")
			require.NoError(t, err)
			assert.Equal(t, folded, string(status.State))
		})
	}
}

func TestEvolutionClient_ListGroups_UnionsPrimaryAndFallback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/group/fetchAllGroups/default":
			json.NewEncoder(w).Encode([]map[string]any{
				{"id": "g1@g.us", "subject": "Group One"},
			})
		case r.URL.Path == "/chat/findChats/default":
			json.NewEncoder(w).Encode([]map[string]any{
				{"id": "g1@g.us", "name": "Group One"},
				{"id": "g2@g.us", "name": "Group Two"},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := NewEvolutionClient(server.URL, "key")
	groups, err := client.ListGroups(context.Background(), "default")
	require.NoError(t, err)
	assert.Len(t, groups, 2)
}

func TestEvolutionClient_ListGroups_PrimaryFailureStillReturnsFallback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/group/fetchAllGroups/default":
			w.WriteHeader(http.StatusInternalServerError)
		case r.URL.Path == "/chat/findChats/default":
			json.NewEncoder(w).Encode([]map[string]any{
				{"id": "g1@g.us", "name": "Group One"},
			})
		}
	}))
	defer server.Close()

	client := NewEvolutionClient(server.URL, "key")
	groups, err := client.ListGroups(context.Background(), "default")
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "g1@g.us", groups[0].ID)
}
