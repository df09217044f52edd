package services

import (
	"context"
	"strings"

	"github.com/mycelian/calsync/internal/model"
	"github.com/mycelian/calsync/internal/store"
)

// ConnectionService records the credentials written by the OAuth
// collaborator. It never refreshes tokens.
type ConnectionService struct {
	store store.Store
}

func NewConnectionService(s store.Store) *ConnectionService {
	return &ConnectionService{store: s}
}

// PutConnection registers or replaces the user's connection to a provider
// and marks it active.
func (s *ConnectionService) PutConnection(ctx context.Context, c *model.ProviderConnection) (*model.ProviderConnection, error) {
	if strings.TrimSpace(c.UserID) == "" {
		return nil, model.NewValidationError("userId", "required")
	}
	if !c.Provider.IsValid() {
		return nil, model.NewValidationError("provider", "unknown provider "+string(c.Provider))
	}
	if c.Provider == model.ProviderApple {
		if c.FeedURL == nil || strings.TrimSpace(*c.FeedURL) == "" {
			return nil, model.NewValidationError("feedUrl", "required for "+string(c.Provider))
		}
	} else if strings.TrimSpace(c.AccessToken) == "" {
		return nil, model.NewValidationError("accessToken", "required")
	}
	c.Active = true
	return s.store.Connections().Put(ctx, c)
}

// ListConnections includes inactive connections.
func (s *ConnectionService) ListConnections(ctx context.Context, userID string) ([]*model.ProviderConnection, error) {
	return s.store.Connections().List(ctx, userID)
}

// DisconnectProvider stops syncing with provider. Mappings are kept so a
// later reconnect resumes against the same remote events.
func (s *ConnectionService) DisconnectProvider(ctx context.Context, userID string, provider model.Provider) error {
	if !provider.IsValid() {
		return model.NewValidationError("provider", "unknown provider "+string(provider))
	}
	return s.store.Connections().Deactivate(ctx, userID, provider)
}
