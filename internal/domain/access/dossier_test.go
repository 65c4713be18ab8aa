package access

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func (f *fixture) seedSections(userID uuid.UUID, directive, medical string) {
	now := time.Now()
	f.docs.advance[userID] = &ContentRecord{ID: uuid.New(), UserID: userID,
		Content: map[string]interface{}{"texte": directive}, UpdatedAt: now}
	f.docs.medical[userID] = &ContentRecord{ID: uuid.New(), UserID: userID,
		Content: map[string]interface{}{"groupe_sanguin": medical}, UpdatedAt: now}
}

func sectionText(t *testing.T, content map[string]interface{}, section, key string) string {
	t.Helper()
	sec, ok := content[section].(map[string]interface{})
	if !ok {
		t.Fatalf("section %q missing from %v", section, content)
	}
	inner, ok := sec["content"].(map[string]interface{})
	if !ok {
		t.Fatalf("section %q has no content", section)
	}
	s, _ := inner[key].(string)
	return s
}

func TestDossierStore_GetOrCreate_SectionsByScope(t *testing.T) {
	tests := []struct {
		scope          string
		wantDirectives bool
		wantMedical    bool
	}{
		{AccessFull, true, true},
		{AccessDirectives, true, false},
		{AccessMedical, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.scope, func(t *testing.T) {
			f := newFixture()
			userID := f.addProfile("Jeanne", "Martin", "1950-04-12")
			f.seedSections(userID, "pas d'acharnement", "A+")
			profile, _ := f.profiles.GetByID(context.Background(), userID)

			content, err := f.store.GetOrCreate(context.Background(), uuid.New(), userID, "ABC123", scopeOf(tt.scope), profile)
			if err != nil {
				t.Fatalf("GetOrCreate() error: %v", err)
			}

			patient, ok := content["patient"].(map[string]interface{})
			if !ok {
				t.Fatal("expected patient block")
			}
			if patient["nom"] != "Martin" || patient["prenom"] != "Jeanne" || patient["date_naissance"] != "1950-04-12" {
				t.Errorf("unexpected patient block: %v", patient)
			}
			if _, ok := content["directives_anticipees"]; ok != tt.wantDirectives {
				t.Errorf("directives_anticipees present = %v, want %v", ok, tt.wantDirectives)
			}
			if _, ok := content["donnees_medicales"]; ok != tt.wantMedical {
				t.Errorf("donnees_medicales present = %v, want %v", ok, tt.wantMedical)
			}
		})
	}
}

func TestDossierStore_GetOrCreate_MissingSections(t *testing.T) {
	f := newFixture()
	userID := f.addProfile("Paul", "Durand", "1961-01-02")

	content, err := f.store.GetOrCreate(context.Background(), uuid.New(), userID, "X", scopeOf(AccessFull), nil)
	if err != nil {
		t.Fatalf("GetOrCreate() error: %v", err)
	}
	if len(content) != 1 {
		t.Errorf("expected only the patient block, got %v", content)
	}
}

func TestDossierStore_GetOrCreate_SnapshotIsNotRefreshed(t *testing.T) {
	f := newFixture()
	userID := f.addProfile("Jeanne", "Martin", "1950-04-12")
	f.seedSections(userID, "version 1", "A+")
	docID := uuid.New()
	ctx := context.Background()

	first, err := f.store.GetOrCreate(ctx, docID, userID, "ABC123", scopeOf(AccessFull), nil)
	if err != nil {
		t.Fatalf("first GetOrCreate() error: %v", err)
	}

	f.seedSections(userID, "version 2", "B-")

	second, err := f.store.GetOrCreate(ctx, docID, userID, "ABC123", scopeOf(AccessFull), nil)
	if err != nil {
		t.Fatalf("second GetOrCreate() error: %v", err)
	}
	if got := sectionText(t, second, "directives_anticipees", "texte"); got != "version 1" {
		t.Errorf("snapshot refreshed: directives = %q, want %q", got, "version 1")
	}
	if got := sectionText(t, second, "donnees_medicales", "groupe_sanguin"); got != "A+" {
		t.Errorf("snapshot refreshed: medical = %q, want %q", got, "A+")
	}
	if sectionText(t, first, "directives_anticipees", "texte") != sectionText(t, second, "directives_anticipees", "texte") {
		t.Error("expected identical content across calls")
	}
	if f.dossiers.inserts != 1 {
		t.Errorf("expected 1 insert, got %d", f.dossiers.inserts)
	}
}

func TestDossierStore_GetOrCreate_NarrowerScopeOnStoredSnapshot(t *testing.T) {
	f := newFixture()
	userID := f.addProfile("Jeanne", "Martin", "1950-04-12")
	f.seedSections(userID, "pas d'acharnement", "A+")
	docID := uuid.New()
	ctx := context.Background()

	if _, err := f.store.GetOrCreate(ctx, docID, userID, "ABC123", scopeOf(AccessFull), nil); err != nil {
		t.Fatalf("full GetOrCreate() error: %v", err)
	}

	directivesOnly, err := f.store.GetOrCreate(ctx, docID, userID, "ABC123", scopeOf(AccessDirectives), nil)
	if err != nil {
		t.Fatalf("directives GetOrCreate() error: %v", err)
	}
	if _, ok := directivesOnly["donnees_medicales"]; ok {
		t.Error("a directives grant must not see the medical section of a full snapshot")
	}
	if got := sectionText(t, directivesOnly, "directives_anticipees", "texte"); got != "pas d'acharnement" {
		t.Errorf("directives = %q", got)
	}
	if _, ok := directivesOnly["patient"]; !ok {
		t.Error("patient block must be kept")
	}

	full, err := f.store.GetOrCreate(ctx, docID, userID, "ABC123", scopeOf(AccessFull), nil)
	if err != nil {
		t.Fatalf("second full GetOrCreate() error: %v", err)
	}
	if got := sectionText(t, full, "donnees_medicales", "groupe_sanguin"); got != "A+" {
		t.Errorf("stored snapshot lost its medical section: %q", got)
	}
}

func TestDossierStore_GetOrCreate_InsertFailureReturnsContent(t *testing.T) {
	f := newFixture()
	userID := f.addProfile("Jeanne", "Martin", "1950-04-12")
	f.seedSections(userID, "v1", "A+")
	f.dossiers.insertErr = errors.New("duplicate key value violates unique constraint")

	content, err := f.store.GetOrCreate(context.Background(), uuid.New(), userID, "ABC123", scopeOf(AccessDirectives), nil)
	if err != nil {
		t.Fatalf("expected insert failure to be swallowed, got %v", err)
	}
	if got := sectionText(t, content, "directives_anticipees", "texte"); got != "v1" {
		t.Errorf("directives = %q, want v1", got)
	}
}

func TestDossierStore_GetOrCreate_ConcurrentWinnerServed(t *testing.T) {
	f := newFixture()
	userID := uuid.New()
	docID := uuid.New()
	f.seedSections(userID, "mine", "A+")

	// Simulate a concurrent request storing its snapshot between our lookup
	// and our insert.
	winner := &LegacyDossier{ID: docID, CodeAcces: "ABC123",
		ContenuDossier: map[string]interface{}{"patient": map[string]interface{}{"nom": "winner"}}}
	repo := &racingDossierRepo{mockDossierRepo: f.dossiers, winner: winner}
	store := NewDossierStore(repo, f.docs, f.store.policy, f.store.logger)

	content, err := store.GetOrCreate(context.Background(), docID, userID, "ABC123", scopeOf(AccessFull), nil)
	if err != nil {
		t.Fatalf("GetOrCreate() error: %v", err)
	}
	patient := content["patient"].(map[string]interface{})
	if patient["nom"] != "winner" {
		t.Errorf("expected the stored snapshot to win, got %v", content)
	}
}

type racingDossierRepo struct {
	*mockDossierRepo
	winner *LegacyDossier
}

func (r *racingDossierRepo) Insert(ctx context.Context, d *LegacyDossier) (bool, error) {
	if _, err := r.mockDossierRepo.Insert(ctx, r.winner); err != nil {
		return false, err
	}
	return r.mockDossierRepo.Insert(ctx, d)
}

func TestDossierStore_GetOrCreate_LookupError(t *testing.T) {
	f := newFixture()
	repo := &failingDossierRepo{mockDossierRepo: f.dossiers}
	store := NewDossierStore(repo, f.docs, f.store.policy, f.store.logger)

	_, err := store.GetOrCreate(context.Background(), uuid.New(), uuid.New(), "X", scopeOf(AccessFull), nil)
	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
}

type failingDossierRepo struct{ *mockDossierRepo }

func (r *failingDossierRepo) GetByID(context.Context, uuid.UUID) (*LegacyDossier, error) {
	return nil, errors.New("connection refused")
}

func TestDossierStore_Invalidate(t *testing.T) {
	f := newFixture()
	userID := uuid.New()
	f.seedSections(userID, "version 1", "A+")
	docID := uuid.New()
	ctx := context.Background()

	if _, err := f.store.GetOrCreate(ctx, docID, userID, "ABC", scopeOf(AccessDirectives), nil); err != nil {
		t.Fatalf("GetOrCreate() error: %v", err)
	}
	f.seedSections(userID, "version 2", "A+")

	deleted, err := f.store.Invalidate(ctx, docID)
	if err != nil || !deleted {
		t.Fatalf("Invalidate() = %v, %v", deleted, err)
	}
	content, err := f.store.GetOrCreate(ctx, docID, userID, "ABC", scopeOf(AccessDirectives), nil)
	if err != nil {
		t.Fatalf("GetOrCreate() error: %v", err)
	}
	if got := sectionText(t, content, "directives_anticipees", "texte"); got != "version 2" {
		t.Errorf("expected rebuilt snapshot, got %q", got)
	}

	deleted, err = f.store.Invalidate(ctx, uuid.New())
	if err != nil || deleted {
		t.Errorf("Invalidate(unknown) = %v, %v; want false, nil", deleted, err)
	}
}
