package entity

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const serverRequestSelectCols = `id, entity_id, server_id, applicant_id, applicant_name, status, reviewer_id, created_at, updated_at`

func scanServerRequest(row interface{ Scan(...any) error }) (*ServerRequest, error) {
	var sr ServerRequest
	var status string
	err := row.Scan(&sr.ID, &sr.EntityID, &sr.ServerID, &sr.ApplicantID, &sr.ApplicantName,
		&status, &sr.ReviewerID, &sr.CreatedAt, &sr.UpdatedAt)
	if err != nil {
		return nil, err
	}
	sr.Status = RequestStatus(status)
	return &sr, nil
}

// CreateServerRequest opens a pending application for an entity to join a server.
func (r *SQLiteRegistry) CreateServerRequest(ctx context.Context, req ServerRequest) (*ServerRequest, error) {
	req.ID = uuid.NewString()
	req.Status = RequestPending
	req.CreatedAt = time.Now()
	req.UpdatedAt = req.CreatedAt

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO server_requests (id, entity_id, server_id, applicant_id, applicant_name, status, reviewer_id, created_at, updated_at)
		 VALUES (?,?,?,?,?,?,?,?,?)`,
		req.ID, req.EntityID, req.ServerID, req.ApplicantID, req.ApplicantName,
		string(req.Status), req.ReviewerID, req.CreatedAt, req.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create server request: %w", err)
	}
	return &req, nil
}

// UpdateServerRequest transitions a request to a terminal status. Pending is the only status
// a request may transition away from; once approved or rejected, the decision is final.
func (r *SQLiteRegistry) UpdateServerRequest(ctx context.Context, id string, status RequestStatus, reviewerID string) (*ServerRequest, error) {
	existing, err := r.GetServerRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing.Status != RequestPending {
		return nil, fmt.Errorf("%w: request %s already %s", ErrConflict, id, existing.Status)
	}

	now := time.Now()
	_, err = r.db.ExecContext(ctx,
		`UPDATE server_requests SET status = ?, reviewer_id = ?, updated_at = ? WHERE id = ?`,
		string(status), reviewerID, now, id)
	if err != nil {
		return nil, fmt.Errorf("update server request: %w", err)
	}

	existing.Status = status
	existing.ReviewerID = reviewerID
	existing.UpdatedAt = now
	return existing, nil
}

func (r *SQLiteRegistry) GetServerRequest(ctx context.Context, id string) (*ServerRequest, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+serverRequestSelectCols+` FROM server_requests WHERE id = ?`, id)
	sr, err := scanServerRequest(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: server request %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get server request: %w", err)
	}
	return sr, nil
}

// GetServerRequests lists requests for serverID, optionally filtered to a single status
// (pass "" for all statuses — used by both the pending-queue view and audit views).
func (r *SQLiteRegistry) GetServerRequests(ctx context.Context, serverID string, status RequestStatus) ([]ServerRequest, error) {
	var rows *sql.Rows
	var err error
	if status == "" {
		rows, err = r.db.QueryContext(ctx,
			`SELECT `+serverRequestSelectCols+` FROM server_requests WHERE server_id = ? ORDER BY created_at`, serverID)
	} else {
		rows, err = r.db.QueryContext(ctx,
			`SELECT `+serverRequestSelectCols+` FROM server_requests WHERE server_id = ? AND status = ? ORDER BY created_at`,
			serverID, string(status))
	}
	if err != nil {
		return nil, fmt.Errorf("query server requests: %w", err)
	}
	defer rows.Close()

	var out []ServerRequest
	for rows.Next() {
		sr, err := scanServerRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan server request: %w", err)
		}
		out = append(out, *sr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate server requests: %w", err)
	}
	return out, nil
}
