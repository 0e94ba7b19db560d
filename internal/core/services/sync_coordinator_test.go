package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/bakeable/homeassistant-whatsapp-gateway/internal/core/ports"
)

func TestSyncCoordinator_SingleFlight(t *testing.T) {
	provider := new(mockProvider)
	chatRepo := new(mockChatRepo)
	coordinator := NewSyncCoordinator(provider, chatRepo, "default")

	block := make(chan struct{})
	provider.On("ListGroups", mock.Anything, "default").Run(func(args mock.Arguments) {
		<-block
	}).Return([]ports.GroupOrContact{}, nil)
	provider.On("ListContacts", mock.Anything, "default").Return([]ports.GroupOrContact{}, nil)
	chatRepo.On("SyncReconcile", mock.Anything, mock.Anything).Return(0, nil)

	first := coordinator.StartSync(context.Background())
	assert.Equal(t, StartedNow, first)

	second := coordinator.StartSync(context.Background())
	assert.Equal(t, AlreadyRunning, second)

	close(block)
	time.Sleep(100 * time.Millisecond)
}

func TestSyncCoordinator_CompletesAndUpsertsMergedCatalogue(t *testing.T) {
	provider := new(mockProvider)
	chatRepo := new(mockChatRepo)
	coordinator := NewSyncCoordinator(provider, chatRepo, "default")

	groups := []ports.GroupOrContact{{ID: "g1@g.us", Name: "Family", IsGroup: true}}
	contacts := []ports.GroupOrContact{{ID: "c1@s.whatsapp.net", Name: "Alice"}}

	provider.On("ListGroups", mock.Anything, "default").Return(groups, nil)
	provider.On("ListContacts", mock.Anything, "default").Return(contacts, nil)
	chatRepo.On("UpsertChat", mock.Anything, mock.Anything).Return(nil)
	chatRepo.On("SyncReconcile", mock.Anything, mock.Anything).Return(1, nil)

	coordinator.StartSync(context.Background())
	assert.Eventually(t, func() bool {
		return coordinator.Progress().State == SyncComplete
	}, time.Second, 10*time.Millisecond)

	progress := coordinator.Progress()
	assert.Equal(t, 2, progress.UpsertedCount)
	assert.Equal(t, 1, progress.DeletedCount)
	chatRepo.AssertNumberOfCalls(t, "UpsertChat", 2)
}

func TestMergeCatalogueEntries_PrefersLongerName(t *testing.T) {
	groups := []ports.GroupOrContact{{ID: "x", Name: "A"}}
	contacts := []ports.GroupOrContact{{ID: "x", Name: "Alice Full Name"}}

	merged := mergeCatalogueEntries(groups, contacts)
	assert.Len(t, merged, 1)
	assert.Equal(t, "Alice Full Name", merged[0].Name)
}
