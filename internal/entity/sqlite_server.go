package entity

import (
	"context"
	"database/sql"
	"fmt"
)

const entityServerSelectCols = `entity_id, server_id, channels, tools, watch_channels, blocked_channels, role_id`

func scanEntityServer(row interface{ Scan(...any) error }) (*EntityServer, error) {
	var es EntityServer
	var channels, tools, watch, blocked string
	err := row.Scan(&es.EntityID, &es.ServerID, &channels, &tools, &watch, &blocked, &es.RoleID)
	if err != nil {
		return nil, err
	}
	es.Channels = decodeSet(channels)
	es.Tools = decodeSet(tools)
	es.WatchChannels = decodeSet(watch)
	es.BlockedChannels = decodeSet(blocked)
	return &es, nil
}

// AddServer records a new subscription row placing an entity on a server. The write path
// behind the approval flow. An existing (entity, server) row is not replaced: ErrConflict.
func (r *SQLiteRegistry) AddServer(ctx context.Context, es EntityServer) error {
	if _, err := r.GetEntityServer(ctx, es.EntityID, es.ServerID); err == nil {
		return fmt.Errorf("%w: entity %s already on server %s", ErrConflict, es.EntityID, es.ServerID)
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO entity_servers (entity_id, server_id, channels, tools, watch_channels, blocked_channels, role_id)
		 VALUES (?,?,?,?,?,?,?)`,
		es.EntityID, es.ServerID, encodeSet(es.Channels), encodeSet(es.Tools),
		encodeSet(es.WatchChannels), encodeSet(es.BlockedChannels), es.RoleID,
	)
	if err != nil {
		return fmt.Errorf("add server: %w", err)
	}
	return nil
}

// RemoveServer deletes the subscription row and returns the role id it carried, so the
// caller can clean up the chat-platform role.
func (r *SQLiteRegistry) RemoveServer(ctx context.Context, entityID, serverID string) (string, error) {
	es, err := r.GetEntityServer(ctx, entityID, serverID)
	if err != nil {
		return "", err
	}
	_, err = r.db.ExecContext(ctx,
		`DELETE FROM entity_servers WHERE entity_id = ? AND server_id = ?`, entityID, serverID)
	if err != nil {
		return "", fmt.Errorf("remove server: %w", err)
	}
	return es.RoleID, nil
}

func (r *SQLiteRegistry) UpdateEntityServerConfig(ctx context.Context, entityID, serverID string, patch EntityServerAdminPatch) error {
	es, err := r.GetEntityServer(ctx, entityID, serverID)
	if err != nil {
		return err
	}
	if patch.HasChannels {
		es.Channels = patch.Channels
	}
	if patch.HasTools {
		es.Tools = patch.Tools
	}
	_, err = r.db.ExecContext(ctx,
		`UPDATE entity_servers SET channels = ?, tools = ? WHERE entity_id = ? AND server_id = ?`,
		encodeSet(es.Channels), encodeSet(es.Tools), entityID, serverID)
	if err != nil {
		return fmt.Errorf("update entity server config: %w", err)
	}
	return nil
}

func (r *SQLiteRegistry) UpdateEntityServerOwnerConfig(ctx context.Context, entityID, serverID string, patch EntityServerOwnerPatch) error {
	es, err := r.GetEntityServer(ctx, entityID, serverID)
	if err != nil {
		return err
	}
	if patch.HasWatch {
		es.WatchChannels = patch.WatchChannels
	}
	if patch.HasBlocked {
		es.BlockedChannels = patch.BlockedChannels
	}
	_, err = r.db.ExecContext(ctx,
		`UPDATE entity_servers SET watch_channels = ?, blocked_channels = ? WHERE entity_id = ? AND server_id = ?`,
		encodeSet(es.WatchChannels), encodeSet(es.BlockedChannels), entityID, serverID)
	if err != nil {
		return fmt.Errorf("update entity server owner config: %w", err)
	}
	return nil
}

func (r *SQLiteRegistry) UpdateServerRoleID(ctx context.Context, entityID, serverID, roleID string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE entity_servers SET role_id = ? WHERE entity_id = ? AND server_id = ?`, roleID, entityID, serverID)
	if err != nil {
		return fmt.Errorf("update role id: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: entity %s on server %s", ErrNotFound, entityID, serverID)
	}
	return nil
}

func (r *SQLiteRegistry) GetEntityServer(ctx context.Context, entityID, serverID string) (*EntityServer, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+entityServerSelectCols+` FROM entity_servers WHERE entity_id = ? AND server_id = ?`,
		entityID, serverID)
	es, err := scanEntityServer(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: entity %s on server %s", ErrNotFound, entityID, serverID)
	}
	if err != nil {
		return nil, fmt.Errorf("get entity server: %w", err)
	}
	return es, nil
}

// GetEntitiesForChannel returns every active entity subscribed to serverID whose channel
// filter admits channelID (empty Channels means "all channels").
func (r *SQLiteRegistry) GetEntitiesForChannel(ctx context.Context, serverID, channelID string) ([]EntityWithServer, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+entitySelectCols+`, `+entityServerSelectCols+`
		 FROM entities e JOIN entity_servers es ON es.entity_id = e.id
		 WHERE es.server_id = ? AND e.active = 1`, serverID)
	if err != nil {
		return nil, fmt.Errorf("query entities for channel: %w", err)
	}
	defer rows.Close()

	var out []EntityWithServer
	for rows.Next() {
		var e Entity
		var es EntityServer
		var triggers, channels, tools, watch, blocked string
		var notifyMention, notifyTrigger, active int
		err := rows.Scan(
			&e.ID, &e.DisplayName, &e.AvatarURL, &e.Description, &e.AccentColor, &e.PlatformTag,
			&e.APIKeyHash, &e.APIKeySalt, &e.OwnerID, &e.OwnerName, &notifyMention, &notifyTrigger,
			&triggers, &e.CreatedAt, &active,
			&es.EntityID, &es.ServerID, &channels, &tools, &watch, &blocked, &es.RoleID,
		)
		if err != nil {
			return nil, fmt.Errorf("scan entity+server: %w", err)
		}
		e.NotifyOnMention = notifyMention != 0
		e.NotifyOnTrigger = notifyTrigger != 0
		e.Triggers = decodeSet(triggers)
		e.Active = active != 0
		es.Channels = decodeSet(channels)
		es.Tools = decodeSet(tools)
		es.WatchChannels = decodeSet(watch)
		es.BlockedChannels = decodeSet(blocked)

		if len(es.Channels) > 0 && !containsStr(es.Channels, channelID) {
			continue
		}
		out = append(out, EntityWithServer{Entity: e, EntityServer: es})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entities for channel: %w", err)
	}
	return out, nil
}

// GetRoleEntityMap returns role_id -> entity_id for every subscription on serverID that
// carries a role (used by the Router's addressed-detection step).
func (r *SQLiteRegistry) GetRoleEntityMap(ctx context.Context, serverID string) (map[string]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT role_id, entity_id FROM entity_servers WHERE server_id = ? AND role_id != ''`, serverID)
	if err != nil {
		return nil, fmt.Errorf("query role map: %w", err)
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var roleID, entityID string
		if err := rows.Scan(&roleID, &entityID); err != nil {
			return nil, fmt.Errorf("scan role map: %w", err)
		}
		out[roleID] = entityID
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate role map: %w", err)
	}
	return out, nil
}
