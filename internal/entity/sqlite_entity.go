package entity

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/arachne-bridge/arachne/internal/cryptobox"
	"github.com/arachne-bridge/arachne/internal/kdf"
)

const entitySelectCols = `id, display_name, avatar_url, description, accent_color, platform_tag,
	api_key_hash, api_key_salt, owner_id, owner_name, notify_on_mention, notify_on_trigger,
	triggers, created_at, active`

func scanEntity(row interface{ Scan(...any) error }) (*Entity, error) {
	var e Entity
	var triggers string
	var notifyMention, notifyTrigger, active int
	err := row.Scan(
		&e.ID, &e.DisplayName, &e.AvatarURL, &e.Description, &e.AccentColor, &e.PlatformTag,
		&e.APIKeyHash, &e.APIKeySalt, &e.OwnerID, &e.OwnerName, &notifyMention, &notifyTrigger,
		&triggers, &e.CreatedAt, &active,
	)
	if err != nil {
		return nil, err
	}
	e.NotifyOnMention = notifyMention != 0
	e.NotifyOnTrigger = notifyTrigger != 0
	e.Triggers = decodeSet(triggers)
	e.Active = active != 0
	return &e, nil
}

// CreateEntity generates a stable opaque id, a random salt, and a random API key; stores
// hash = KDF(api_key, salt); returns the entity and the cleartext api_key exactly once.
func (r *SQLiteRegistry) CreateEntity(ctx context.Context, ownerID, ownerName, displayName, avatarURL string) (*Entity, string, error) {
	if displayName == "" {
		return nil, "", fmt.Errorf("%w: display name required", ErrBadInput)
	}

	if ownerID != "" {
		var activeCount int
		err := r.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM entities WHERE owner_id = ? AND active = 1`, ownerID).Scan(&activeCount)
		if err != nil {
			return nil, "", fmt.Errorf("count active entities: %w", err)
		}
		if activeCount >= r.maxActivePerOwner {
			return nil, "", fmt.Errorf("%w: owner already has %d active entities", ErrConflict, activeCount)
		}
	}

	salt, err := kdf.NewSalt()
	if err != nil {
		return nil, "", err
	}
	apiKey, err := kdf.NewAPIKey()
	if err != nil {
		return nil, "", err
	}
	hash, err := kdf.Hash(apiKey, salt)
	if err != nil {
		return nil, "", err
	}

	e := &Entity{
		ID:          uuid.NewString(),
		DisplayName: displayName,
		AvatarURL:   avatarURL,
		APIKeyHash:  hash,
		APIKeySalt:  salt,
		OwnerID:     ownerID,
		OwnerName:   ownerName,
		Triggers:    []string{},
		CreatedAt:   time.Now(),
		Active:      true,
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO entities (id, display_name, avatar_url, description, accent_color, platform_tag,
		 api_key_hash, api_key_salt, owner_id, owner_name, notify_on_mention, notify_on_trigger,
		 triggers, created_at, active)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		e.ID, e.DisplayName, e.AvatarURL, e.Description, e.AccentColor, e.PlatformTag,
		e.APIKeyHash, e.APIKeySalt, e.OwnerID, e.OwnerName, boolToInt(e.NotifyOnMention), boolToInt(e.NotifyOnTrigger),
		encodeSet(e.Triggers), e.CreatedAt, boolToInt(e.Active),
	)
	if err != nil {
		return nil, "", fmt.Errorf("insert entity: %w", err)
	}

	return e, apiKey, nil
}

// Authenticate scans active entities, recomputing KDF(api_key, salt) against each and
// comparing constant-time. On match it derives the encryption key and installs it in the Key
// Store.
func (r *SQLiteRegistry) Authenticate(ctx context.Context, apiKey string) (*Entity, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+entitySelectCols+` FROM entities WHERE active = 1`)
	if err != nil {
		return nil, fmt.Errorf("query entities: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		match, err := kdf.Verify(apiKey, e.APIKeySalt, e.APIKeyHash)
		if err != nil {
			continue // malformed stored hash; treat as non-match, not fatal
		}
		if match {
			rows.Close()
			key, err := cryptobox.DeriveKey(apiKey)
			if err != nil {
				return nil, fmt.Errorf("derive key: %w", err)
			}
			if r.keys != nil {
				r.keys.Set(e.ID, key)
			}
			return e, nil
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entities: %w", err)
	}
	return nil, fmt.Errorf("%w: no matching entity", ErrForbidden)
}

// RegenerateKey issues a new salt+key for entityID, discarding the old hash, and clears the
// Key Store entry so encrypted queue access resumes only after authenticating with the new key.
func (r *SQLiteRegistry) RegenerateKey(ctx context.Context, entityID string) (string, error) {
	salt, err := kdf.NewSalt()
	if err != nil {
		return "", err
	}
	apiKey, err := kdf.NewAPIKey()
	if err != nil {
		return "", err
	}
	hash, err := kdf.Hash(apiKey, salt)
	if err != nil {
		return "", err
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE entities SET api_key_hash = ?, api_key_salt = ? WHERE id = ?`, hash, salt, entityID)
	if err != nil {
		return "", fmt.Errorf("update key: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return "", fmt.Errorf("%w: entity %s", ErrNotFound, entityID)
	}

	if r.keys != nil {
		r.keys.Delete(entityID)
	}
	return apiKey, nil
}

func (r *SQLiteRegistry) SetEntityOwner(ctx context.Context, entityID, ownerID, ownerName string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE entities SET owner_id = ?, owner_name = ? WHERE id = ?`, ownerID, ownerName, entityID)
	if err != nil {
		return fmt.Errorf("set owner: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: entity %s", ErrNotFound, entityID)
	}
	return nil
}

func (r *SQLiteRegistry) UpdateEntityIdentity(ctx context.Context, entityID string, patch EntityPatch) error {
	e, err := r.GetEntity(ctx, entityID)
	if err != nil {
		return err
	}
	if patch.DisplayName != nil {
		e.DisplayName = *patch.DisplayName
	}
	if patch.AvatarURL != nil {
		e.AvatarURL = *patch.AvatarURL
	}
	if patch.Description != nil {
		e.Description = *patch.Description
	}
	if patch.AccentColor != nil {
		e.AccentColor = *patch.AccentColor
	}
	if patch.PlatformTag != nil {
		e.PlatformTag = *patch.PlatformTag
	}

	_, err = r.db.ExecContext(ctx,
		`UPDATE entities SET display_name = ?, avatar_url = ?, description = ?, accent_color = ?, platform_tag = ?
		 WHERE id = ?`,
		e.DisplayName, e.AvatarURL, e.Description, e.AccentColor, e.PlatformTag, entityID)
	if err != nil {
		return fmt.Errorf("update identity: %w", err)
	}
	return nil
}

func (r *SQLiteRegistry) UpdateEntityOwnerConfig(ctx context.Context, entityID string, patch EntityOwnerPatch) error {
	e, err := r.GetEntity(ctx, entityID)
	if err != nil {
		return err
	}
	if patch.HasTriggers {
		e.Triggers = patch.Triggers
	}
	if patch.NotifyOnMention != nil {
		e.NotifyOnMention = *patch.NotifyOnMention
	}
	if patch.NotifyOnTrigger != nil {
		e.NotifyOnTrigger = *patch.NotifyOnTrigger
	}

	_, err = r.db.ExecContext(ctx,
		`UPDATE entities SET triggers = ?, notify_on_mention = ?, notify_on_trigger = ? WHERE id = ?`,
		encodeSet(e.Triggers), boolToInt(e.NotifyOnMention), boolToInt(e.NotifyOnTrigger), entityID)
	if err != nil {
		return fmt.Errorf("update owner config: %w", err)
	}
	return nil
}

// DeleteEntity soft-deletes entityID (active = false), making its subscriptions and queue
// unreachable without destroying history.
func (r *SQLiteRegistry) DeleteEntity(ctx context.Context, entityID string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE entities SET active = 0 WHERE id = ?`, entityID)
	if err != nil {
		return fmt.Errorf("soft delete entity: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: entity %s", ErrNotFound, entityID)
	}
	if r.keys != nil {
		r.keys.Delete(entityID)
	}
	return nil
}

func (r *SQLiteRegistry) GetEntity(ctx context.Context, entityID string) (*Entity, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+entitySelectCols+` FROM entities WHERE id = ?`, entityID)
	e, err := scanEntity(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: entity %s", ErrNotFound, entityID)
	}
	if err != nil {
		return nil, fmt.Errorf("get entity: %w", err)
	}
	return e, nil
}
