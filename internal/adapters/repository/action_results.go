package repository

import (
	"encoding/json"
	"log/slog"

	"github.com/bakeable/homeassistant-whatsapp-gateway/internal/core/domain"
)

func marshalActionResults(results []domain.ActionResult) ([]byte, error) {
	if results == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(results)
}

func unmarshalActionResults(raw []byte) []domain.ActionResult {
	if len(raw) == 0 {
		return nil
	}
	var results []domain.ActionResult
	if err := json.Unmarshal(raw, &results); err != nil {
		slog.Error("Failed to unmarshal action results", "error", err)
		return nil
	}
	return results
}
