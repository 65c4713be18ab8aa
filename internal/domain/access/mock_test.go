package access

import (
	"context"
	"errors"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/directivesplus/dossier/internal/platform/policy"
)

// -- Mock Grant Repository --

type mockGrantRepo struct {
	mu       sync.Mutex
	codes    []*AccessCode
	shared   []*SharedProfile
	findErr  error
	locked   []uuid.UUID
	verified int
}

func newMockGrantRepo() *mockGrantRepo { return &mockGrantRepo{} }

func (m *mockGrantRepo) FindAccessCode(_ context.Context, code string) (*AccessCode, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	for _, ac := range m.codes {
		if ac.AccessCode == code {
			return ac, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockGrantRepo) LatestAccessCodeForUser(_ context.Context, userID uuid.UUID) (*AccessCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *AccessCode
	for _, ac := range m.codes {
		if ac.UserID == userID && (latest == nil || ac.CreatedAt.After(latest.CreatedAt)) {
			latest = ac
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	return latest, nil
}

func (m *mockGrantRepo) CreateAccessCode(_ context.Context, ac *AccessCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ac.ID = uuid.New()
	ac.CreatedAt = time.Now()
	m.codes = append(m.codes, ac)
	return nil
}

func (m *mockGrantRepo) LockUser(_ context.Context, userID uuid.UUID) error {
	m.locked = append(m.locked, userID)
	return nil
}

func (m *mockGrantRepo) FindSharedProfile(_ context.Context, code string) (*SharedProfile, error) {
	for _, sp := range m.shared {
		if sp.AccessCode == code {
			return sp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockGrantRepo) VerifySharedProfile(_ context.Context, code, firstName, lastName string, birthdate time.Time) (*SharedProfile, error) {
	m.verified++
	for _, sp := range m.shared {
		if sp.AccessCode != code || sp.FirstName == nil || sp.LastName == nil || sp.Birthdate == nil {
			continue
		}
		if *sp.FirstName == firstName && *sp.LastName == lastName && *sp.Birthdate == birthdate.Format(time.DateOnly) {
			return sp, nil
		}
	}
	return nil, ErrNotFound
}

// -- Mock Profile Repository --

type mockProfileRepo struct {
	profiles map[uuid.UUID]*Profile
	ensured  int
}

func newMockProfileRepo() *mockProfileRepo {
	return &mockProfileRepo{profiles: make(map[uuid.UUID]*Profile)}
}

func (m *mockProfileRepo) GetByID(_ context.Context, id uuid.UUID) (*Profile, error) {
	p, ok := m.profiles[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p, nil
}

func (m *mockProfileRepo) EnsureMedicalAccessCode(_ context.Context, id uuid.UUID, candidate string) (string, error) {
	p, ok := m.profiles[id]
	if !ok {
		return "", ErrNotFound
	}
	m.ensured++
	if p.MedicalAccessCode == nil || *p.MedicalAccessCode == "" {
		p.MedicalAccessCode = &candidate
	}
	return *p.MedicalAccessCode, nil
}

// -- Mock Document Repository --

type mockDocumentRepo struct {
	mu            sync.Mutex
	pdfs          map[uuid.UUID][]*PdfDocument
	directives    map[uuid.UUID][]*Directive
	advance       map[uuid.UUID]*ContentRecord
	medical       map[uuid.UUID]*ContentRecord
	pdfErr        error
	directivesErr error
}

func newMockDocumentRepo() *mockDocumentRepo {
	return &mockDocumentRepo{
		pdfs:       make(map[uuid.UUID][]*PdfDocument),
		directives: make(map[uuid.UUID][]*Directive),
		advance:    make(map[uuid.UUID]*ContentRecord),
		medical:    make(map[uuid.UUID]*ContentRecord),
	}
}

func (m *mockDocumentRepo) ListPDFs(_ context.Context, userID uuid.UUID) ([]*PdfDocument, error) {
	if m.pdfErr != nil {
		return nil, m.pdfErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pdfs[userID], nil
}

func (m *mockDocumentRepo) ListDirectives(_ context.Context, userID uuid.UUID) ([]*Directive, error) {
	if m.directivesErr != nil {
		return nil, m.directivesErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.directives[userID], nil
}

func (m *mockDocumentRepo) LatestAdvanceDirective(_ context.Context, userID uuid.UUID) (*ContentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.advance[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return rec, nil
}

func (m *mockDocumentRepo) LatestMedicalData(_ context.Context, userID uuid.UUID) (*ContentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.medical[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return rec, nil
}

// -- Mock Dossier Repository --

type mockDossierRepo struct {
	mu        sync.Mutex
	dossiers  map[uuid.UUID]*LegacyDossier
	insertErr error
	inserts   int
}

func newMockDossierRepo() *mockDossierRepo {
	return &mockDossierRepo{dossiers: make(map[uuid.UUID]*LegacyDossier)}
}

func (m *mockDossierRepo) GetByID(_ context.Context, id uuid.UUID) (*LegacyDossier, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.dossiers[id]
	if !ok {
		return nil, ErrNotFound
	}
	return d, nil
}

func (m *mockDossierRepo) GetByCode(_ context.Context, code string) (*LegacyDossier, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.dossiers {
		if d.CodeAcces == code {
			return d, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockDossierRepo) Insert(_ context.Context, d *LegacyDossier) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inserts++
	if m.insertErr != nil {
		return false, m.insertErr
	}
	if _, ok := m.dossiers[d.ID]; ok {
		return false, nil
	}
	d.CreatedAt = time.Now()
	m.dossiers[d.ID] = d
	return true, nil
}

func (m *mockDossierRepo) Delete(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.dossiers[id]; !ok {
		return false, nil
	}
	delete(m.dossiers, id)
	return true, nil
}

// -- Mock Access Log Repository --

type mockAccessLogRepo struct {
	mu      sync.Mutex
	entries []*AccessLogEntry
	err     error
}

func (m *mockAccessLogRepo) Append(_ context.Context, e *AccessLogEntry) error {
	if m.err != nil {
		return m.err
	}
	// Postgres rejects TEXT values that are not valid UTF-8 (SQLSTATE 22021).
	if !utf8.ValidString(e.Details) {
		return errors.New("invalid byte sequence for encoding \"UTF8\"")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e.ID = int64(len(m.entries) + 1)
	e.CreatedAt = time.Now()
	m.entries = append(m.entries, e)
	return nil
}

func (m *mockAccessLogRepo) all() []*AccessLogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*AccessLogEntry(nil), m.entries...)
}

// -- Fixture --

type fixture struct {
	grants   *mockGrantRepo
	profiles *mockProfileRepo
	docs     *mockDocumentRepo
	dossiers *mockDossierRepo
	logs     *mockAccessLogRepo
	store    *DossierStore
	svc      *Service
}

func newFixture() *fixture {
	f := &fixture{
		grants:   newMockGrantRepo(),
		profiles: newMockProfileRepo(),
		docs:     newMockDocumentRepo(),
		dossiers: newMockDossierRepo(),
		logs:     &mockAccessLogRepo{},
	}
	logger := zerolog.Nop()
	f.store = NewDossierStore(f.dossiers, f.docs, policy.MustSectionPolicy(), logger)
	f.svc = NewService(f.grants, f.profiles, f.dossiers,
		NewAggregator(f.docs, logger), f.store, NewAccessLogger(f.logs, logger), logger)
	return f
}

func strPtr(s string) *string { return &s }

func (f *fixture) addProfile(first, last, birth string) uuid.UUID {
	id := uuid.New()
	f.profiles.profiles[id] = &Profile{
		ID:        id,
		FirstName: strPtr(first),
		LastName:  strPtr(last),
		BirthDate: strPtr(birth),
	}
	return id
}

func (f *fixture) addGrant(userID uuid.UUID, code string, fullAccess bool, accessType *string) *AccessCode {
	ac := &AccessCode{
		ID:           uuid.New(),
		UserID:       userID,
		AccessCode:   code,
		IsFullAccess: fullAccess,
		AccessType:   accessType,
		CreatedAt:    time.Now(),
	}
	f.grants.codes = append(f.grants.codes, ac)
	return ac
}

// seedDocuments gives userID two PDFs and three directives, one of them
// titled as test data. Items are listed newest first.
func (f *fixture) seedDocuments(userID uuid.UUID) {
	now := time.Now()
	f.docs.pdfs[userID] = []*PdfDocument{
		{ID: uuid.New(), UserID: userID, FileName: "scan-2.pdf", FilePath: "u1/scan-2.pdf", ContentType: "application/pdf", CreatedAt: now.Add(-time.Hour)},
		{ID: uuid.New(), UserID: userID, FileName: "scan-1.pdf", FilePath: "u1/scan-1.pdf", ContentType: "application/pdf", CreatedAt: now.Add(-2 * time.Hour)},
	}
	f.docs.directives[userID] = []*Directive{
		{ID: uuid.New(), UserID: userID, Content: map[string]interface{}{"title": "Mes volontés"}, CreatedAt: now.Add(-3 * time.Hour)},
		{ID: uuid.New(), UserID: userID, Content: map[string]interface{}{"title": "Directive TEST"}, CreatedAt: now.Add(-4 * time.Hour)},
		{ID: uuid.New(), UserID: userID, Content: map[string]interface{}{"titre": "Réanimation"}, CreatedAt: now.Add(-5 * time.Hour)},
	}
}
