package ports

import (
	"context"
	"errors"
)

// ErrPolicyRefused is returned when a call_service target is absent from the
// configured allow-list; the call never reaches the orchestrator.
var ErrPolicyRefused = errors.New("orchestrator: service not in allow-list")

// ConnectionState is the folded connection-state vocabulary exposed by the
// Provider Client, independent of the upstream's own native state names.
type ConnectionState string

const (
	ConnectionDisconnected ConnectionState = "disconnected"
	ConnectionConnecting   ConnectionState = "connecting"
	ConnectionQR           ConnectionState = "qr"
	ConnectionConnected    ConnectionState = "connected"
)

// InstanceOutcome reports whether ensure_instance created or found the instance.
type InstanceOutcome string

const (
	InstanceCreated       InstanceOutcome = "created"
	InstanceAlreadyExists InstanceOutcome = "already-exists"
)

// QRPayload is the pairing challenge returned by request_qr.
type QRPayload struct {
	Payload    string // base64 image or textual pairing code
	Kind       string // "image" | "code"
	TTLSeconds int
}

// StatusResult is the folded connection status plus optional phone number.
type StatusResult struct {
	State ConnectionState
	Phone string
}

// GroupOrContact is a catalogue entry returned by ListGroups/ListContacts.
type GroupOrContact struct {
	ID            string
	Name          string
	IsGroup       bool
	LastActivity  *int64 // unix seconds, nil if unknown
	PhoneNumber   string
}

// MediaKind enumerates the media kinds SendMedia accepts.
type MediaKind string

const (
	MediaImage    MediaKind = "image"
	MediaDocument MediaKind = "document"
	MediaAudio    MediaKind = "audio"
	MediaVideo    MediaKind = "video"
)

// ProviderClient wraps the upstream WhatsApp-protocol provider's REST surface.
type ProviderClient interface {
	EnsureInstance(ctx context.Context, name string) (InstanceOutcome, error)
	RequestQR(ctx context.Context, name string) (*QRPayload, error)
	ConnectionStatus(ctx context.Context, name string) (*StatusResult, error)
	Disconnect(ctx context.Context, name string) error

	// ListGroups and ListContacts each attempt a primary endpoint, then a
	// fall-back endpoint, and return the union without duplicates. Errors
	// from either individual attempt are logged, never aborting the other.
	ListGroups(ctx context.Context, name string) ([]GroupOrContact, error)
	ListContacts(ctx context.Context, name string) ([]GroupOrContact, error)

	SendText(ctx context.Context, name, to, text string) (messageID string, err error)
	SendMedia(ctx context.Context, name, to, url string, kind MediaKind, caption string) (messageID string, err error)

	ConfigureWebhook(ctx context.Context, name, url string, eventKinds []string) error
	ApplySettings(ctx context.Context, name string, settings map[string]any) error
}

// ServiceDetail describes one orchestrator-side callable service.
type ServiceDetail struct {
	Name        string
	Description string
	Fields      map[string]any
}

// OrchestratorClient wraps the downstream home-automation orchestrator's REST surface.
type OrchestratorClient interface {
	// CallService dispatches serviceName(target, data) after verifying serviceName
	// is present in allowList. If absent, returns ErrPolicyRefused and never
	// makes the outbound call.
	CallService(ctx context.Context, serviceName string, target map[string]any, data map[string]any, allowList []string) error

	ListScripts(ctx context.Context) ([]string, error)
	ListAutomations(ctx context.Context) ([]string, error)
	ListEntities(ctx context.Context) ([]string, error)
	ServiceDetails(ctx context.Context, name string) (*ServiceDetail, error)
	Status(ctx context.Context) (map[string]any, error)
}
