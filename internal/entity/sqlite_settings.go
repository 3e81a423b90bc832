package entity

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

func (r *SQLiteRegistry) GetServerSettings(ctx context.Context, serverID string) (*ServerSettings, error) {
	var s ServerSettings
	err := r.db.QueryRowContext(ctx,
		`SELECT server_id, announce_channel_id, announce_template, default_role_template
		 FROM server_settings WHERE server_id = ?`, serverID,
	).Scan(&s.ServerID, &s.AnnounceChannelID, &s.AnnounceTemplate, &s.DefaultRoleTemplate)
	if err == sql.ErrNoRows {
		// no row yet means defaults, not an error — every server starts unconfigured.
		return &ServerSettings{ServerID: serverID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get server settings: %w", err)
	}
	return &s, nil
}

func (r *SQLiteRegistry) SetServerSettings(ctx context.Context, settings ServerSettings) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO server_settings (server_id, announce_channel_id, announce_template, default_role_template)
		 VALUES (?,?,?,?)
		 ON CONFLICT (server_id) DO UPDATE SET
		   announce_channel_id = excluded.announce_channel_id,
		   announce_template = excluded.announce_template,
		   default_role_template = excluded.default_role_template`,
		settings.ServerID, settings.AnnounceChannelID, settings.AnnounceTemplate, settings.DefaultRoleTemplate)
	if err != nil {
		return fmt.Errorf("set server settings: %w", err)
	}
	return nil
}

func (r *SQLiteRegistry) ListServerTemplates(ctx context.Context, serverID string) ([]ServerTemplate, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, server_id, name, channels, tools FROM server_templates WHERE server_id = ? ORDER BY name`, serverID)
	if err != nil {
		return nil, fmt.Errorf("query server templates: %w", err)
	}
	defer rows.Close()

	var out []ServerTemplate
	for rows.Next() {
		var t ServerTemplate
		var channels, tools string
		if err := rows.Scan(&t.ID, &t.ServerID, &t.Name, &channels, &tools); err != nil {
			return nil, fmt.Errorf("scan server template: %w", err)
		}
		t.Channels = decodeSet(channels)
		t.Tools = decodeSet(tools)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate server templates: %w", err)
	}
	return out, nil
}

func (r *SQLiteRegistry) SetServerTemplate(ctx context.Context, tmpl ServerTemplate) error {
	if tmpl.ID == "" {
		return fmt.Errorf("%w: template id required", ErrBadInput)
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO server_templates (id, server_id, name, channels, tools)
		 VALUES (?,?,?,?,?)
		 ON CONFLICT (id) DO UPDATE SET
		   server_id = excluded.server_id, name = excluded.name,
		   channels = excluded.channels, tools = excluded.tools`,
		tmpl.ID, tmpl.ServerID, tmpl.Name, encodeSet(tmpl.Channels), encodeSet(tmpl.Tools))
	if err != nil {
		return fmt.Errorf("set server template: %w", err)
	}
	return nil
}

// IsServerBanned reports whether serverID is under a standing ban. Checked by the Gateway
// adapter on guildCreate to auto-leave; server requests are not checked against bans here.
func (r *SQLiteRegistry) IsServerBanned(ctx context.Context, serverID string) (bool, error) {
	var exists int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM server_bans WHERE server_id = ?`, serverID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check server ban: %w", err)
	}
	return exists > 0, nil
}

func (r *SQLiteRegistry) BanServer(ctx context.Context, serverID, reason string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO server_bans (server_id, reason, banned_at) VALUES (?,?,?)
		 ON CONFLICT (server_id) DO UPDATE SET reason = excluded.reason, banned_at = excluded.banned_at`,
		serverID, reason, time.Now())
	if err != nil {
		return fmt.Errorf("ban server: %w", err)
	}
	return nil
}
