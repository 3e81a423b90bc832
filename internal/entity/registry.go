package entity

import "context"

// Registry is the full set of operations the core (Router, control plane, and admin paths)
// consume from the Entity Registry.
type Registry interface {
	CreateEntity(ctx context.Context, ownerID, ownerName, displayName, avatarURL string) (*Entity, string, error)
	Authenticate(ctx context.Context, apiKey string) (*Entity, error)
	RegenerateKey(ctx context.Context, entityID string) (string, error)
	SetEntityOwner(ctx context.Context, entityID, ownerID, ownerName string) error
	UpdateEntityIdentity(ctx context.Context, entityID string, patch EntityPatch) error
	UpdateEntityOwnerConfig(ctx context.Context, entityID string, patch EntityOwnerPatch) error
	DeleteEntity(ctx context.Context, entityID string) error
	GetEntity(ctx context.Context, entityID string) (*Entity, error)

	GetEntitiesForChannel(ctx context.Context, serverID, channelID string) ([]EntityWithServer, error)
	GetRoleEntityMap(ctx context.Context, serverID string) (map[string]string, error)

	AddServer(ctx context.Context, es EntityServer) error
	RemoveServer(ctx context.Context, entityID, serverID string) (roleID string, err error)
	UpdateEntityServerConfig(ctx context.Context, entityID, serverID string, patch EntityServerAdminPatch) error
	UpdateEntityServerOwnerConfig(ctx context.Context, entityID, serverID string, patch EntityServerOwnerPatch) error
	UpdateServerRoleID(ctx context.Context, entityID, serverID, roleID string) error
	GetEntityServer(ctx context.Context, entityID, serverID string) (*EntityServer, error)

	IsServerBanned(ctx context.Context, serverID string) (bool, error)
	BanServer(ctx context.Context, serverID, reason string) error

	CreateServerRequest(ctx context.Context, req ServerRequest) (*ServerRequest, error)
	UpdateServerRequest(ctx context.Context, id string, status RequestStatus, reviewerID string) (*ServerRequest, error)
	GetServerRequest(ctx context.Context, id string) (*ServerRequest, error)
	GetServerRequests(ctx context.Context, serverID string, status RequestStatus) ([]ServerRequest, error)

	GetServerSettings(ctx context.Context, serverID string) (*ServerSettings, error)
	SetServerSettings(ctx context.Context, settings ServerSettings) error
	ListServerTemplates(ctx context.Context, serverID string) ([]ServerTemplate, error)
	SetServerTemplate(ctx context.Context, tmpl ServerTemplate) error

	Close() error
}
