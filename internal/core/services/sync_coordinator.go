package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bakeable/homeassistant-whatsapp-gateway/internal/core/domain"
	"github.com/bakeable/homeassistant-whatsapp-gateway/internal/core/ports"
)

// SyncState enumerates the Sync Coordinator's progress states.
type SyncState string

const (
	SyncIdle             SyncState = "idle"
	SyncFetchingGroups   SyncState = "fetching_groups"
	SyncFetchingContacts SyncState = "fetching_contacts"
	SyncSaving           SyncState = "saving"
	SyncComplete         SyncState = "complete"
	SyncError            SyncState = "error"
)

// SyncProgress is the single in-process record the Sync Coordinator owns.
type SyncProgress struct {
	RunID          string     `json:"run_id,omitempty"`
	State          SyncState  `json:"state"`
	Step           string     `json:"step,omitempty"`
	GroupCount     int        `json:"group_count"`
	ContactCount   int        `json:"contact_count"`
	UpsertedCount  int        `json:"upserted_count"`
	DeletedCount   int        `json:"deleted_count"`
	Error          string     `json:"error,omitempty"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// idleResetDelay is how long a completed sync's progress record is kept
// before auto-transitioning back to idle (spec §4.6 step 7).
const idleResetDelay = 30 * time.Second

// SyncCoordinator runs a single-flight background job that pulls the chat
// catalogue from the Provider Client and reconciles it into the Store.
type SyncCoordinator struct {
	provider     ports.ProviderClient
	chatRepo     ports.ChatRepository
	instanceName string

	mu       sync.RWMutex
	progress SyncProgress
}

// NewSyncCoordinator constructs a SyncCoordinator, initially idle.
func NewSyncCoordinator(provider ports.ProviderClient, chatRepo ports.ChatRepository, instanceName string) *SyncCoordinator {
	return &SyncCoordinator{
		provider:     provider,
		chatRepo:     chatRepo,
		instanceName: instanceName,
		progress:     SyncProgress{State: SyncIdle},
	}
}

// StartResult is the immediate outcome of StartSync.
type StartResult string

const (
	StartedNow      StartResult = "started"
	AlreadyRunning  StartResult = "already_running"
)

// StartSync attempts to acquire the single-flight slot and, if successful,
// launches the sync in a background goroutine and returns immediately.
func (c *SyncCoordinator) StartSync(ctx context.Context) StartResult {
	c.mu.Lock()
	if isRunning(c.progress.State) {
		c.mu.Unlock()
		return AlreadyRunning
	}
	now := time.Now()
	runID := uuid.NewString()
	c.progress = SyncProgress{RunID: runID, State: SyncFetchingGroups, Step: "fetching groups", StartedAt: &now}
	c.mu.Unlock()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("PANIC recovered in sync run", "panic", r, "run_id", runID)
				c.setError("internal error during sync")
			}
		}()
		c.run(context.Background(), runID, now)
	}()

	return StartedNow
}

func isRunning(s SyncState) bool {
	switch s {
	case SyncFetchingGroups, SyncFetchingContacts, SyncSaving:
		return true
	default:
		return false
	}
}

// Progress returns a copy of the current progress record.
func (c *SyncCoordinator) Progress() SyncProgress {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.progress
}

func (c *SyncCoordinator) run(ctx context.Context, runID string, startedAt time.Time) {
	// Step 2: fetch groups, swallowing errors.
	groups, err := c.provider.ListGroups(ctx, c.instanceName)
	if err != nil {
		slog.Error("sync: list groups failed, continuing", "error", err, "run_id", runID)
	}
	c.setStep(SyncFetchingContacts, "fetching contacts", len(groups), 0)

	// Step 3: fetch contacts, swallowing errors.
	contacts, err := c.provider.ListContacts(ctx, c.instanceName)
	if err != nil {
		slog.Error("sync: list contacts failed, continuing", "error", err, "run_id", runID)
	}
	c.setStep(SyncSaving, "merging and saving", len(groups), len(contacts))

	// Step 4: merge by id, preferring the entry with a longer name or a
	// known last-activity timestamp on collision.
	merged := mergeCatalogueEntries(groups, contacts)

	// Step 5: upsert each entry with its own UpsertChat call. The upserts do
	// not share a transaction; an entry whose upsert fails is logged and
	// skipped while the rest are still written.
	upserted := 0
	for _, entry := range merged {
		chat := &domain.Chat{
			ID:          entry.ID,
			Kind:        domain.ChatKindFromID(entry.ID),
			DisplayName: entry.Name,
			Enabled:     true,
		}
		if entry.PhoneNumber != "" {
			phone := entry.PhoneNumber
			chat.PhoneNumber = &phone
		}
		if err := c.chatRepo.UpsertChat(ctx, chat); err != nil {
			slog.Error("sync: upsert chat failed", "error", err, "chat_id", entry.ID, "run_id", runID)
			continue
		}
		upserted++
	}

	// Step 6: reconcile deletion of chats absent upstream with a stale, invalid id.
	deleted, err := c.chatRepo.SyncReconcile(ctx, startedAt)
	if err != nil {
		slog.Error("sync: reconcile failed", "error", err, "run_id", runID)
		c.setError(err.Error())
		return
	}

	// Step 7: transition to complete, then auto-idle after a delay.
	now := time.Now()
	c.mu.Lock()
	c.progress.State = SyncComplete
	c.progress.Step = "complete"
	c.progress.UpsertedCount = upserted
	c.progress.DeletedCount = deleted
	c.progress.CompletedAt = &now
	c.mu.Unlock()

	slog.Info("sync completed",
		"run_id", runID,
		"groups", len(groups),
		"contacts", len(contacts),
		"upserted", upserted,
		"deleted", deleted,
	)

	time.AfterFunc(idleResetDelay, c.resetToIdle)
}

func (c *SyncCoordinator) setStep(state SyncState, step string, groupCount, contactCount int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.progress.State = state
	c.progress.Step = step
	c.progress.GroupCount = groupCount
	c.progress.ContactCount = contactCount
}

func (c *SyncCoordinator) setError(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	c.progress.State = SyncError
	c.progress.Error = msg
	c.progress.CompletedAt = &now
}

func (c *SyncCoordinator) resetToIdle() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.progress.State == SyncComplete {
		c.progress = SyncProgress{State: SyncIdle}
	}
}

// mergeCatalogueEntries merges groups and contacts by id; on collision it
// keeps the entry with the longer display name, breaking ties in favour of
// the entry carrying a known last-activity timestamp.
func mergeCatalogueEntries(groups, contacts []ports.GroupOrContact) []ports.GroupOrContact {
	byID := make(map[string]ports.GroupOrContact, len(groups)+len(contacts))
	order := make([]string, 0, len(groups)+len(contacts))

	add := func(e ports.GroupOrContact) {
		existing, ok := byID[e.ID]
		if !ok {
			byID[e.ID] = e
			order = append(order, e.ID)
			return
		}
		if preferEntry(e, existing) {
			byID[e.ID] = e
		}
	}

	for _, g := range groups {
		add(g)
	}
	for _, c := range contacts {
		add(c)
	}

	out := make([]ports.GroupOrContact, 0, len(order))
	for _, id := range order {
		out = append(out, byID[id])
	}
	return out
}

func preferEntry(candidate, incumbent ports.GroupOrContact) bool {
	if len(candidate.Name) != len(incumbent.Name) {
		return len(candidate.Name) > len(incumbent.Name)
	}
	return candidate.LastActivity != nil && incumbent.LastActivity == nil
}
