package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func sampleInfraction(userID int64, notice string) Infraction {
	return Infraction{
		UserID:           userID,
		NoticeNumber:     notice,
		InfractionType:   "Excesso de velocidade",
		Value:            195.23,
		DateInfraction:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		DateNotification: time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
		VehiclePlate:     "ABC1D23",
		Location:         "Av. Brasil, 1000",
		IssuingAgency:    "DETRAN-RJ",
	}
}

func TestCreateAndGetInfraction(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	u := createTestUser(t, st, "alice")

	inf := sampleInfraction(u.ID, "AB123")
	if err := st.CreateInfraction(ctx, &inf); err != nil {
		t.Fatalf("CreateInfraction failed: %v", err)
	}
	if inf.ID == 0 {
		t.Fatal("expected ID to be set")
	}

	got, err := st.GetInfraction(ctx, inf.ID, u.ID)
	if err != nil {
		t.Fatalf("GetInfraction failed: %v", err)
	}
	if got.Status != StatusPending {
		t.Errorf("status = %q, want pending", got.Status)
	}
	if got.SuccessProbability != nil {
		t.Errorf("new infraction should have no probability, got %d", *got.SuccessProbability)
	}
	if !got.DateNotification.Equal(inf.DateNotification) {
		t.Errorf("date_notification = %v, want %v", got.DateNotification, inf.DateNotification)
	}
	if got.Value != 195.23 {
		t.Errorf("value = %v, want 195.23", got.Value)
	}
}

func TestGetInfractionOwnership(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	alice := createTestUser(t, st, "alice")
	bob := createTestUser(t, st, "bob")

	inf := sampleInfraction(alice.ID, "AB123")
	if err := st.CreateInfraction(ctx, &inf); err != nil {
		t.Fatalf("CreateInfraction failed: %v", err)
	}

	if _, err := st.GetInfraction(ctx, inf.ID, bob.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("other user's infraction should be ErrNotFound, got %v", err)
	}
}

func TestInfractionDuplicateNotice(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	alice := createTestUser(t, st, "alice")
	bob := createTestUser(t, st, "bob")

	first := sampleInfraction(alice.ID, "AB123")
	if err := st.CreateInfraction(ctx, &first); err != nil {
		t.Fatalf("CreateInfraction failed: %v", err)
	}

	dup := sampleInfraction(alice.ID, "AB123")
	if err := st.CreateInfraction(ctx, &dup); !errors.Is(err, ErrDuplicate) {
		t.Errorf("expected ErrDuplicate, got %v", err)
	}

	// The same notice is allowed for a different owner
	other := sampleInfraction(bob.ID, "AB123")
	if err := st.CreateInfraction(ctx, &other); err != nil {
		t.Errorf("different owner should be allowed: %v", err)
	}

	exists, err := st.InfractionExists(ctx, alice.ID, "AB123")
	if err != nil || !exists {
		t.Errorf("InfractionExists = %v, %v; want true", exists, err)
	}
	exists, _ = st.InfractionExists(ctx, alice.ID, "ZZ999")
	if exists {
		t.Error("unknown notice should not exist")
	}
}

func TestAnalysisLifecycle(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	u := createTestUser(t, st, "alice")

	inf := sampleInfraction(u.ID, "AB123")
	if err := st.CreateInfraction(ctx, &inf); err != nil {
		t.Fatalf("CreateInfraction failed: %v", err)
	}

	if err := st.SaveAnalysis(ctx, inf.ID, 72, "a; b"); err != nil {
		t.Fatalf("SaveAnalysis failed: %v", err)
	}
	got, _ := st.GetInfraction(ctx, inf.ID, u.ID)
	if got.Status != StatusAnalyzed {
		t.Errorf("status = %q, want analyzed", got.Status)
	}
	if got.SuccessProbability == nil || *got.SuccessProbability != 72 {
		t.Errorf("probability = %v, want 72", got.SuccessProbability)
	}
	if got.LegalArguments != "a; b" {
		t.Errorf("arguments = %q", got.LegalArguments)
	}

	if err := st.MarkContested(ctx, inf.ID, "contestacao_AB123_deadbeef.txt"); err != nil {
		t.Fatalf("MarkContested failed: %v", err)
	}
	got, _ = st.GetInfraction(ctx, inf.ID, u.ID)
	if got.Status != StatusContested || got.ContestDocument != "contestacao_AB123_deadbeef.txt" {
		t.Errorf("unexpected contested state: %q %q", got.Status, got.ContestDocument)
	}

	if err := st.SaveAnalysis(ctx, 9999, 50, ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown id: expected ErrNotFound, got %v", err)
	}

	counts, err := st.CountInfractionsByStatus(ctx)
	if err != nil {
		t.Fatalf("CountInfractionsByStatus failed: %v", err)
	}
	if counts[StatusContested] != 1 {
		t.Errorf("contested count = %d, want 1", counts[StatusContested])
	}
}

func TestListInfractionsNewestFirst(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	u := createTestUser(t, st, "alice")

	for _, n := range []string{"first", "second", "third"} {
		inf := sampleInfraction(u.ID, n)
		if err := st.CreateInfraction(ctx, &inf); err != nil {
			t.Fatalf("CreateInfraction failed: %v", err)
		}
	}

	list, err := st.ListInfractions(ctx, u.ID)
	if err != nil {
		t.Fatalf("ListInfractions failed: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 infractions, got %d", len(list))
	}
	if list[0].NoticeNumber != "third" || list[2].NoticeNumber != "first" {
		t.Errorf("unexpected order: %s, %s, %s", list[0].NoticeNumber, list[1].NoticeNumber, list[2].NoticeNumber)
	}

	empty, err := st.ListInfractions(ctx, 9999)
	if err != nil {
		t.Fatalf("ListInfractions failed: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("expected no infractions, got %d", len(empty))
	}
}
