package gateway

import (
	"testing"

	"github.com/bwmarrin/discordgo"
)

func TestAdmitOnceRejectsDuplicates(t *testing.T) {
	g, err := New("test-token", nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if !g.admitOnce("m1") {
		t.Fatal("first admission of m1 should succeed")
	}
	if g.admitOnce("m1") {
		t.Fatal("second admission of m1 should be rejected as a duplicate")
	}
}

func TestAdmitOnceEvictsOldestBeyondCapacity(t *testing.T) {
	g, err := New("test-token", nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ids := make([]string, dedupCapacity+1)
	for i := range ids {
		ids[i] = string(rune('a')) + string(rune(i))
	}

	for _, id := range ids[:dedupCapacity] {
		if !g.admitOnce(id) {
			t.Fatalf("admitOnce(%q) unexpectedly rejected while filling capacity", id)
		}
	}

	// pushing one more beyond capacity evicts the oldest id (ids[0]), which should then be
	// admissible again.
	g.admitOnce(ids[dedupCapacity])
	if !g.admitOnce(ids[0]) {
		t.Fatal("oldest id should have been evicted and be admissible again")
	}
}

func TestResolveDisplayNamePriority(t *testing.T) {
	withNick := &discordgo.MessageCreate{Message: &discordgo.Message{
		Author: &discordgo.User{Username: "user", GlobalName: "Global"},
		Member: &discordgo.Member{Nick: "Nicky"},
	}}
	if got := resolveDisplayName(withNick); got != "Nicky" {
		t.Fatalf("resolveDisplayName = %q, want Nicky", got)
	}

	withGlobal := &discordgo.MessageCreate{Message: &discordgo.Message{
		Author: &discordgo.User{Username: "user", GlobalName: "Global"},
	}}
	if got := resolveDisplayName(withGlobal); got != "Global" {
		t.Fatalf("resolveDisplayName = %q, want Global", got)
	}

	withUsernameOnly := &discordgo.MessageCreate{Message: &discordgo.Message{
		Author: &discordgo.User{Username: "user"},
	}}
	if got := resolveDisplayName(withUsernameOnly); got != "user" {
		t.Fatalf("resolveDisplayName = %q, want user", got)
	}
}
