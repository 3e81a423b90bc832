// Package entity is the Entity Registry: the durable, process-local source of truth for
// entities, subscriptions, access requests, templates, server settings, and server bans.
// Struct-per-row data types, behind store interfaces, with JSON-encoded list columns parsed
// at the boundary.
package entity

import (
	"errors"
	"time"
)

// Sentinel errors forming the Registry's error taxonomy. Checked with errors.Is and wrapped
// with fmt.Errorf("...: %w", err) at each call site.
var (
	ErrNotFound = errors.New("entity: not found")
	ErrForbidden = errors.New("entity: forbidden")
	ErrConflict = errors.New("entity: conflict")
	ErrBadInput = errors.New("entity: bad input")
)

// DefaultMaxActiveEntitiesPerOwner is the default cap on active entities per owner.
const DefaultMaxActiveEntitiesPerOwner = 5

// Entity is the identity of an external agent hosted by the bridge.
type Entity struct {
	ID          string
	DisplayName string
	AvatarURL   string
	Description string
	AccentColor string
	PlatformTag string

	APIKeyHash string
	APIKeySalt string

	OwnerID   string
	OwnerName string

	NotifyOnMention bool
	NotifyOnTrigger bool
	Triggers        []string

	CreatedAt time.Time
	Active    bool
}

// EntityServer is an entity's placement on a particular chat server (a subscription row).
type EntityServer struct {
	EntityID string
	ServerID string

	Channels        []string // permitted channels; empty = all
	Tools           []string // permitted tool names; empty = all
	WatchChannels   []string // positive filter narrowing; empty = no narrowing
	BlockedChannels []string // hard exclude; wins over everything

	RoleID string // optional chat-platform role id created for this entity on this server
}

// EntityWithServer is the join row returned by channel-subscriber lookups.
type EntityWithServer struct {
	Entity
	EntityServer
}

// RequestStatus is the lifecycle state of a ServerRequest.
type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestRejected RequestStatus = "rejected"
)

// ServerRequest is an entity's pending application to join a server.
type ServerRequest struct {
	ID            string
	EntityID      string
	ServerID      string
	ApplicantID   string
	ApplicantName string
	Status        RequestStatus
	ReviewerID    string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ServerSettings holds server-wide approval/announcement configuration.
type ServerSettings struct {
	ServerID            string
	AnnounceChannelID   string
	AnnounceTemplate    string
	DefaultRoleTemplate string
}

// ServerTemplate is a named bundle of channels + tools offered during approval.
type ServerTemplate struct {
	ID       string
	ServerID string
	Name     string
	Channels []string
	Tools    []string
}

// EntityPatch is a partial update to an entity's identity fields. Nil fields are left
// unchanged.
type EntityPatch struct {
	DisplayName *string
	AvatarURL   *string
	Description *string
	AccentColor *string
	PlatformTag *string
}

// EntityServerOwnerPatch is a partial update to the owner-controlled per-server filter fields.
type EntityServerOwnerPatch struct {
	WatchChannels   []string
	BlockedChannels []string
	HasWatch        bool
	HasBlocked      bool
}

// EntityOwnerPatch is a partial update to the owner-controlled entity-wide fields: triggers
// (stored on the entity row; UpdateEntityOwnerConfig with this patch is how they are set) and
// the notification booleans (default false).
type EntityOwnerPatch struct {
	Triggers        []string
	NotifyOnMention *bool
	NotifyOnTrigger *bool
	HasTriggers     bool
}

// EntityServerAdminPatch is a partial update to the admin-controlled placement fields.
type EntityServerAdminPatch struct {
	Channels   []string
	Tools      []string
	HasChannels bool
	HasTools    bool
}
