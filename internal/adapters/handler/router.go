// Package handler implements HTTP request handlers
package handler

import "net/http"

// NewRouter wires every management API route (spec §6) onto a stdlib
// http.ServeMux using Go 1.22's method+pattern routing — no router framework.
func NewRouter(
	health *HealthHandler,
	wa *WAHandler,
	ha *HAHandler,
	rules *RulesHandler,
	logs *LogsHandler,
	notify *NotifyHandler,
	webhook *WebhookHandler,
) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", health.Liveness)

	mux.HandleFunc("GET /api/wa/status", wa.Status)
	mux.HandleFunc("POST /api/wa/instances", wa.EnsureInstance)
	mux.HandleFunc("POST /api/wa/instances/{name}/connect", func(w http.ResponseWriter, r *http.Request) {
		wa.Connect(w, r, r.PathValue("name"))
	})
	mux.HandleFunc("GET /api/wa/instances/{name}/status", func(w http.ResponseWriter, r *http.Request) {
		wa.InstanceStatus(w, r, r.PathValue("name"))
	})
	mux.HandleFunc("POST /api/wa/instances/{name}/disconnect", func(w http.ResponseWriter, r *http.Request) {
		wa.Disconnect(w, r, r.PathValue("name"))
	})
	mux.HandleFunc("GET /api/wa/chats", wa.ListChats)
	mux.HandleFunc("POST /api/wa/chats/refresh", wa.RefreshChats)
	mux.HandleFunc("GET /api/wa/chats/refresh/status", wa.RefreshStatus)
	mux.HandleFunc("PATCH /api/wa/chats/{id}", func(w http.ResponseWriter, r *http.Request) {
		wa.SetChatEnabled(w, r, r.PathValue("id"))
	})
	mux.HandleFunc("POST /api/wa/send", wa.Send)
	mux.HandleFunc("POST /api/wa/send-media", wa.SendMedia)

	mux.HandleFunc("GET /api/ha/status", ha.Status)
	mux.HandleFunc("GET /api/ha/scripts", ha.Scripts)
	mux.HandleFunc("GET /api/ha/automations", ha.Automations)
	mux.HandleFunc("GET /api/ha/entities", ha.Entities)
	mux.HandleFunc("GET /api/ha/allowed-services", ha.AllowedServices)
	mux.HandleFunc("POST /api/ha/call-service", ha.CallService)

	mux.HandleFunc("GET /api/rules", rules.GetYAML)
	mux.HandleFunc("PUT /api/rules", rules.PutYAML)
	mux.HandleFunc("POST /api/rules/validate", rules.Validate)
	mux.HandleFunc("POST /api/rules/test", rules.Test)
	mux.HandleFunc("POST /api/rules/reload", rules.Reload)

	mux.HandleFunc("GET /api/logs/messages", logs.Messages)
	mux.HandleFunc("GET /api/logs/rules", logs.RuleFires)
	mux.HandleFunc("GET /api/logs/events", logs.Events)

	mux.HandleFunc("POST /api/notify/send", notify.Send)

	mux.HandleFunc("POST /webhook/provider", webhook.HandleProviderEvent)

	return mux
}
