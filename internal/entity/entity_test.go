package entity

import (
	"context"
	"errors"
	"testing"

	"github.com/arachne-bridge/arachne/internal/keystore"
)

func openTestRegistry(t *testing.T) *SQLiteRegistry {
	t.Helper()
	reg, err := Open(context.Background(), ":memory:", keystore.New())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { reg.Close() })
	return reg
}

func TestCreateAndAuthenticate(t *testing.T) {
	reg := openTestRegistry(t)
	ctx := context.Background()

	e, apiKey, err := reg.CreateEntity(ctx, "owner-1", "Owner", "Bot One", "")
	if err != nil {
		t.Fatalf("CreateEntity: %v", err)
	}
	if apiKey == "" {
		t.Fatal("CreateEntity returned an empty api key")
	}

	got, err := reg.Authenticate(ctx, apiKey)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if got.ID != e.ID {
		t.Fatalf("Authenticate returned entity %s, want %s", got.ID, e.ID)
	}

	if _, err := reg.Authenticate(ctx, "wrong-key"); err == nil {
		t.Fatal("Authenticate with a wrong key should fail")
	}
}

func TestCreateEntityRequiresDisplayName(t *testing.T) {
	reg := openTestRegistry(t)
	if _, _, err := reg.CreateEntity(context.Background(), "owner-1", "Owner", "", ""); !errors.Is(err, ErrBadInput) {
		t.Fatalf("CreateEntity with empty display name = %v, want ErrBadInput", err)
	}
}

func TestMaxActiveEntitiesPerOwnerCap(t *testing.T) {
	reg := openTestRegistry(t)
	reg.WithMaxActivePerOwner(2)
	ctx := context.Background()

	if _, _, err := reg.CreateEntity(ctx, "owner-1", "Owner", "Bot One", ""); err != nil {
		t.Fatalf("CreateEntity 1: %v", err)
	}
	if _, _, err := reg.CreateEntity(ctx, "owner-1", "Owner", "Bot Two", ""); err != nil {
		t.Fatalf("CreateEntity 2: %v", err)
	}
	if _, _, err := reg.CreateEntity(ctx, "owner-1", "Owner", "Bot Three", ""); !errors.Is(err, ErrConflict) {
		t.Fatalf("CreateEntity past cap = %v, want ErrConflict", err)
	}

	// a different owner is unaffected by owner-1's cap.
	if _, _, err := reg.CreateEntity(ctx, "owner-2", "Owner Two", "Bot Four", ""); err != nil {
		t.Fatalf("CreateEntity for a different owner: %v", err)
	}
}

func TestRegenerateKeyInvalidatesOldKey(t *testing.T) {
	reg := openTestRegistry(t)
	ctx := context.Background()

	e, oldKey, err := reg.CreateEntity(ctx, "owner-1", "Owner", "Bot One", "")
	if err != nil {
		t.Fatalf("CreateEntity: %v", err)
	}

	newKey, err := reg.RegenerateKey(ctx, e.ID)
	if err != nil {
		t.Fatalf("RegenerateKey: %v", err)
	}
	if newKey == oldKey {
		t.Fatal("RegenerateKey returned the same key")
	}

	if _, err := reg.Authenticate(ctx, oldKey); err == nil {
		t.Fatal("old api key should no longer authenticate after regeneration")
	}
	if _, err := reg.Authenticate(ctx, newKey); err != nil {
		t.Fatalf("new api key should authenticate: %v", err)
	}
}

func TestDeleteEntitySoftDeletesAndBlocksAuth(t *testing.T) {
	reg := openTestRegistry(t)
	ctx := context.Background()

	e, apiKey, err := reg.CreateEntity(ctx, "owner-1", "Owner", "Bot One", "")
	if err != nil {
		t.Fatalf("CreateEntity: %v", err)
	}

	if err := reg.DeleteEntity(ctx, e.ID); err != nil {
		t.Fatalf("DeleteEntity: %v", err)
	}

	got, err := reg.GetEntity(ctx, e.ID)
	if err != nil {
		t.Fatalf("GetEntity after soft delete: %v", err)
	}
	if got.Active {
		t.Fatal("entity should be inactive after DeleteEntity")
	}
	if _, err := reg.Authenticate(ctx, apiKey); err == nil {
		t.Fatal("deleted entity's api key should no longer authenticate")
	}
}

func TestDeleteEntityUnknownIDReturnsNotFound(t *testing.T) {
	reg := openTestRegistry(t)
	if err := reg.DeleteEntity(context.Background(), "does-not-exist"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("DeleteEntity on unknown id = %v, want ErrNotFound", err)
	}
}

func TestServerSubscriptionAndChannelLookup(t *testing.T) {
	reg := openTestRegistry(t)
	ctx := context.Background()

	e, _, err := reg.CreateEntity(ctx, "owner-1", "Owner", "Bot One", "")
	if err != nil {
		t.Fatalf("CreateEntity: %v", err)
	}

	es := EntityServer{EntityID: e.ID, ServerID: "server-1", Channels: []string{"c1", "c2"}}
	if err := reg.AddServer(ctx, es); err != nil {
		t.Fatalf("AddServer: %v", err)
	}

	subs, err := reg.GetEntitiesForChannel(ctx, "server-1", "c1")
	if err != nil {
		t.Fatalf("GetEntitiesForChannel: %v", err)
	}
	if len(subs) != 1 || subs[0].EntityID != e.ID {
		t.Fatalf("GetEntitiesForChannel = %+v", subs)
	}

	subs, err = reg.GetEntitiesForChannel(ctx, "server-1", "not-subscribed")
	if err != nil {
		t.Fatalf("GetEntitiesForChannel: %v", err)
	}
	if len(subs) != 0 {
		t.Fatalf("GetEntitiesForChannel for an unsubscribed channel = %+v, want none", subs)
	}
}

func TestApprovalFlowStatusIsMonotonic(t *testing.T) {
	reg := openTestRegistry(t)
	ctx := context.Background()

	e, _, err := reg.CreateEntity(ctx, "owner-1", "Owner", "Bot One", "")
	if err != nil {
		t.Fatalf("CreateEntity: %v", err)
	}

	req, err := reg.CreateServerRequest(ctx, ServerRequest{EntityID: e.ID, ServerID: "server-1", ApplicantID: "owner-1"})
	if err != nil {
		t.Fatalf("CreateServerRequest: %v", err)
	}
	if req.Status != RequestPending {
		t.Fatalf("new request status = %s, want pending", req.Status)
	}

	approved, err := reg.UpdateServerRequest(ctx, req.ID, RequestApproved, "reviewer-1")
	if err != nil {
		t.Fatalf("UpdateServerRequest: %v", err)
	}
	if approved.Status != RequestApproved {
		t.Fatalf("status after approval = %s, want approved", approved.Status)
	}

	if _, err := reg.UpdateServerRequest(ctx, req.ID, RequestRejected, "reviewer-1"); !errors.Is(err, ErrConflict) {
		t.Fatalf("re-deciding an already-approved request = %v, want ErrConflict", err)
	}
}

func TestServerSettingsDefaultsToZeroValueWhenUnconfigured(t *testing.T) {
	reg := openTestRegistry(t)
	ctx := context.Background()

	settings, err := reg.GetServerSettings(ctx, "server-never-configured")
	if err != nil {
		t.Fatalf("GetServerSettings: %v", err)
	}
	if settings.ServerID != "server-never-configured" {
		t.Fatalf("ServerID = %q", settings.ServerID)
	}
	if settings.AnnounceChannelID != "" {
		t.Fatalf("AnnounceChannelID = %q, want empty for an unconfigured server", settings.AnnounceChannelID)
	}
}

func TestIsServerBannedRoundTrip(t *testing.T) {
	reg := openTestRegistry(t)
	ctx := context.Background()

	banned, err := reg.IsServerBanned(ctx, "server-1")
	if err != nil {
		t.Fatalf("IsServerBanned: %v", err)
	}
	if banned {
		t.Fatal("unbanned server reported as banned")
	}

	if err := reg.BanServer(ctx, "server-1", "abuse"); err != nil {
		t.Fatalf("BanServer: %v", err)
	}

	banned, err = reg.IsServerBanned(ctx, "server-1")
	if err != nil {
		t.Fatalf("IsServerBanned: %v", err)
	}
	if !banned {
		t.Fatal("banned server reported as not banned")
	}
}
