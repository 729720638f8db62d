package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/louisbranch/presence.space/internal/services/presence/storage"
	"github.com/louisbranch/presence.space/internal/services/presence/user"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenInMemory()
	if err != nil {
		t.Fatalf("open in-memory store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close store: %v", err)
		}
	})
	return store
}

func putTestUser(t *testing.T, store *Store, id, email string) user.User {
	t.Helper()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	u := user.User{ID: id, Email: email, PasswordHash: "hash", CreatedAt: now, UpdatedAt: now}
	if err := store.PutUser(context.Background(), u); err != nil {
		t.Fatalf("put user: %v", err)
	}
	return u
}

func TestPutGetUser(t *testing.T) {
	store := openTestStore(t)
	put := putTestUser(t, store, "user-1", "alice@example.com")

	got, err := store.GetUser(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if got.Email != put.Email || got.PasswordHash != put.PasswordHash {
		t.Fatalf("got %+v, want %+v", got, put)
	}
	if !got.CreatedAt.Equal(put.CreatedAt) {
		t.Fatalf("created at = %v, want %v", got.CreatedAt, put.CreatedAt)
	}
}

func TestGetUserByEmail(t *testing.T) {
	store := openTestStore(t)
	putTestUser(t, store, "user-1", "alice@example.com")

	got, err := store.GetUserByEmail(context.Background(), "Alice@Example.com")
	if err != nil {
		t.Fatalf("get user by email: %v", err)
	}
	if got.ID != "user-1" {
		t.Fatalf("id = %q, want user-1", got.ID)
	}

	if _, err := store.GetUserByEmail(context.Background(), "missing@example.com"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPutUserRejectsDuplicateEmail(t *testing.T) {
	store := openTestStore(t)
	putTestUser(t, store, "user-1", "alice@example.com")

	now := time.Now()
	err := store.PutUser(context.Background(), user.User{
		ID: "user-2", Email: "alice@example.com", PasswordHash: "hash",
		CreatedAt: now, UpdatedAt: now,
	})
	if err == nil {
		t.Fatal("expected unique email constraint violation")
	}
}

func TestCredentialRoundTrip(t *testing.T) {
	store := openTestStore(t)
	putTestUser(t, store, "user-1", "alice@example.com")
	now := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

	credential := storage.Credential{
		CredentialID:   "cred-1",
		UserID:         "user-1",
		CredentialJSON: `{"id":"cred-1"}`,
		SignCount:      3,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := store.PutCredential(context.Background(), credential); err != nil {
		t.Fatalf("put credential: %v", err)
	}

	got, err := store.GetCredential(context.Background(), "cred-1")
	if err != nil {
		t.Fatalf("get credential: %v", err)
	}
	if got.SignCount != 3 || got.LastUsedAt != nil {
		t.Fatalf("got %+v, want sign count 3 and no last-used", got)
	}

	used := now.Add(time.Minute)
	credential.SignCount = 4
	credential.UpdatedAt = used
	credential.LastUsedAt = &used
	if err := store.PutCredential(context.Background(), credential); err != nil {
		t.Fatalf("update credential: %v", err)
	}
	got, err = store.GetCredential(context.Background(), "cred-1")
	if err != nil {
		t.Fatalf("get updated credential: %v", err)
	}
	if got.SignCount != 4 {
		t.Fatalf("sign count = %d, want 4", got.SignCount)
	}
	if got.LastUsedAt == nil || !got.LastUsedAt.Equal(used) {
		t.Fatalf("last used = %v, want %v", got.LastUsedAt, used)
	}

	list, err := store.ListCredentialsByUser(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("list credentials: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 credential, got %d", len(list))
	}

	if _, err := store.GetCredential(context.Background(), "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAttendanceAppendAndList(t *testing.T) {
	store := openTestStore(t)
	putTestUser(t, store, "user-1", "alice@example.com")
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		event := storage.AttendanceEvent{
			ID:         string(rune('a' + i)),
			UserID:     "user-1",
			RecordedAt: base.Add(time.Duration(i) * time.Minute),
			Latitude:   51.5,
			Longitude:  0.1,
		}
		if err := store.AppendAttendanceEvent(context.Background(), event); err != nil {
			t.Fatalf("append event %d: %v", i, err)
		}
	}

	events, err := store.ListAttendanceByUser(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("list attendance: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	for i := 1; i < len(events); i++ {
		if events[i].RecordedAt.Before(events[i-1].RecordedAt) {
			t.Fatal("expected events in recorded order")
		}
	}
}

func TestAttendanceAppendRejectsDuplicateID(t *testing.T) {
	store := openTestStore(t)
	putTestUser(t, store, "user-1", "alice@example.com")
	event := storage.AttendanceEvent{ID: "evt-1", UserID: "user-1", RecordedAt: time.Now()}
	if err := store.AppendAttendanceEvent(context.Background(), event); err != nil {
		t.Fatalf("append event: %v", err)
	}
	if err := store.AppendAttendanceEvent(context.Background(), event); err == nil {
		t.Fatal("expected duplicate event id to fail")
	}
}

func TestFaceTemplateRoundTrip(t *testing.T) {
	store := openTestStore(t)
	putTestUser(t, store, "user-1", "alice@example.com")

	template := storage.FaceTemplate{
		ID:        "tpl-1",
		UserID:    "user-1",
		Reference: "faces/user-1.npy",
		CreatedAt: time.Now(),
	}
	if err := store.PutFaceTemplate(context.Background(), template); err != nil {
		t.Fatalf("put face template: %v", err)
	}
	templates, err := store.ListFaceTemplatesByUser(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("list face templates: %v", err)
	}
	if len(templates) != 1 || templates[0].Reference != "faces/user-1.npy" {
		t.Fatalf("templates = %+v", templates)
	}
}

func TestClaimChallengeConsumesOnce(t *testing.T) {
	store := openTestStore(t)
	now := time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC)

	challenge := storage.Challenge{
		ID:          "chal-1",
		SessionID:   "sess-1",
		Purpose:     "login",
		UserID:      "user-1",
		SessionJSON: `{"challenge":"abc"}`,
		IssuedAt:    now,
		ExpiresAt:   now.Add(time.Minute),
	}
	if err := store.PutChallenge(context.Background(), challenge); err != nil {
		t.Fatalf("put challenge: %v", err)
	}

	claimed, err := store.ClaimChallenge(context.Background(), "sess-1", "login")
	if err != nil {
		t.Fatalf("claim challenge: %v", err)
	}
	if claimed.SessionJSON != challenge.SessionJSON {
		t.Fatalf("claimed = %+v", claimed)
	}

	if _, err := store.ClaimChallenge(context.Background(), "sess-1", "login"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("second claim should be ErrNotFound, got %v", err)
	}
}

func TestPutChallengeSupersedesPrior(t *testing.T) {
	store := openTestStore(t)
	now := time.Now()

	first := storage.Challenge{
		ID: "chal-1", SessionID: "sess-1", Purpose: "register",
		SessionJSON: `{"challenge":"first"}`, IssuedAt: now, ExpiresAt: now.Add(time.Minute),
	}
	second := storage.Challenge{
		ID: "chal-2", SessionID: "sess-1", Purpose: "register",
		SessionJSON: `{"challenge":"second"}`, IssuedAt: now, ExpiresAt: now.Add(time.Minute),
	}
	if err := store.PutChallenge(context.Background(), first); err != nil {
		t.Fatalf("put first: %v", err)
	}
	if err := store.PutChallenge(context.Background(), second); err != nil {
		t.Fatalf("put second: %v", err)
	}

	claimed, err := store.ClaimChallenge(context.Background(), "sess-1", "register")
	if err != nil {
		t.Fatalf("claim challenge: %v", err)
	}
	if claimed.ID != "chal-2" || claimed.SessionJSON != `{"challenge":"second"}` {
		t.Fatalf("expected superseding challenge, got %+v", claimed)
	}
	if _, err := store.ClaimChallenge(context.Background(), "sess-1", "register"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected single stored challenge, got %v", err)
	}
}

func TestDeleteExpiredChallenges(t *testing.T) {
	store := openTestStore(t)
	now := time.Now()

	expired := storage.Challenge{
		ID: "chal-old", SessionID: "sess-1", Purpose: "login",
		SessionJSON: `{}`, IssuedAt: now.Add(-2 * time.Minute), ExpiresAt: now.Add(-time.Minute),
	}
	live := storage.Challenge{
		ID: "chal-new", SessionID: "sess-2", Purpose: "login",
		SessionJSON: `{}`, IssuedAt: now, ExpiresAt: now.Add(time.Minute),
	}
	if err := store.PutChallenge(context.Background(), expired); err != nil {
		t.Fatalf("put expired: %v", err)
	}
	if err := store.PutChallenge(context.Background(), live); err != nil {
		t.Fatalf("put live: %v", err)
	}

	if err := store.DeleteExpiredChallenges(context.Background(), now); err != nil {
		t.Fatalf("delete expired: %v", err)
	}

	if _, err := store.ClaimChallenge(context.Background(), "sess-1", "login"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected expired challenge gone, got %v", err)
	}
	if _, err := store.ClaimChallenge(context.Background(), "sess-2", "login"); err != nil {
		t.Fatalf("expected live challenge claimable, got %v", err)
	}
}
