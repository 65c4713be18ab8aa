package access

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/directivesplus/dossier/internal/platform/db"
)

type Service struct {
	grants   GrantRepository
	profiles ProfileRepository
	dossiers DossierRepository
	docs     *Aggregator
	store    *DossierStore
	audit    *AccessLogger
	txb      db.Beginner
	logger   zerolog.Logger
}

func NewService(grants GrantRepository, profiles ProfileRepository, dossiers DossierRepository,
	docs *Aggregator, store *DossierStore, audit *AccessLogger, logger zerolog.Logger) *Service {
	return &Service{
		grants:   grants,
		profiles: profiles,
		dossiers: dossiers,
		docs:     docs,
		store:    store,
		audit:    audit,
		logger:   logger,
	}
}

// WithTxBeginner runs multi-statement operations in a database transaction.
// Without one they run directly against the repositories.
func (s *Service) WithTxBeginner(b db.Beginner) *Service {
	s.txb = b
	return s
}

func (s *Service) inTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.txb == nil {
		return fn(ctx)
	}
	return db.RunInTx(ctx, s.txb, fn)
}

// match is the grant a submitted code resolved to. Exactly one of grant,
// shared and legacy is set.
type match struct {
	source string
	grant  *AccessCode
	shared *SharedProfile
	legacy *LegacyDossier
}

// VerifyCode resolves a submitted access code and assembles the dossier it
// grants. Every attempt with a non-empty code leaves one row in logs_acces.
func (s *Service) VerifyCode(ctx context.Context, req RequestBody) (*Dossier, error) {
	code := strings.TrimSpace(req.CodeSaisi)
	if code == "" {
		return nil, fmt.Errorf("%w: code_saisi is empty", ErrInvalidInput)
	}
	var birthdate time.Time
	if req.hasIdentity() {
		bd, err := time.Parse(time.DateOnly, strings.TrimSpace(req.DateNaissance))
		if err != nil {
			return nil, fmt.Errorf("%w: date_naissance: %v", ErrInvalidInput, err)
		}
		birthdate = bd
	}

	m, err := s.resolveCode(ctx, code, req, birthdate)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.audit.Record(ctx, "", false, "Code d'accès inconnu"+identifierDetail(req.BruteForceIdentifier))
			return nil, err
		}
		s.audit.Record(ctx, "", false, "Échec de la vérification du code")
		return nil, fmt.Errorf("%w: resolve code: %v", ErrPersistence, err)
	}

	d, err := s.assemble(ctx, code, m, req.BruteForceIdentifier)
	if err != nil {
		s.audit.Record(ctx, "", false, "Échec de l'assemblage du dossier ("+m.source+")")
		return nil, err
	}
	s.audit.Record(ctx, d.ID, true, fmt.Sprintf("Accès via %s (%s)", m.source, d.AccessType))
	return d, nil
}

// resolveCode looks the code up in document_access_codes, then
// shared_profiles, then dossiers_medicaux. The first match wins.
func (s *Service) resolveCode(ctx context.Context, code string, req RequestBody, birthdate time.Time) (*match, error) {
	ac, err := s.grants.FindAccessCode(ctx, code)
	if err == nil {
		return &match{source: TableAccessCodes, grant: ac}, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("lookup %s: %w", TableAccessCodes, err)
	}

	var sp *SharedProfile
	if req.hasIdentity() {
		sp, err = s.grants.VerifySharedProfile(ctx, code,
			strings.TrimSpace(req.Prenom), strings.TrimSpace(req.Nom), birthdate)
	} else {
		sp, err = s.grants.FindSharedProfile(ctx, code)
	}
	if err == nil {
		return &match{source: TableSharedProfiles, shared: sp}, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("lookup %s: %w", TableSharedProfiles, err)
	}

	ld, err := s.dossiers.GetByCode(ctx, code)
	if err == nil {
		return &match{source: TableLegacyDossiers, legacy: ld}, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("lookup %s: %w", TableLegacyDossiers, err)
	}
	return nil, ErrNotFound
}

func (s *Service) assemble(ctx context.Context, code string, m *match, identifier string) (*Dossier, error) {
	switch m.source {
	case TableAccessCodes:
		g := m.grant
		scope := EffectiveScope(g.AccessType, identifier)
		profile := s.loadProfile(ctx, g.UserID)

		id := g.ID
		contenu := map[string]interface{}{"patient": patientOf(profile)}
		if g.DocumentID != nil {
			id = *g.DocumentID
			snapshot, err := s.store.GetOrCreate(ctx, id, g.UserID, code, scope, profile)
			if err != nil {
				return nil, err
			}
			contenu = copyContent(snapshot)
		}
		contenu["documents"] = s.docs.Collect(ctx, g.UserID)
		return newDossier(id.String(), g.UserID, g.IsFullAccess, scope, profile, contenu), nil

	case TableSharedProfiles:
		sp := m.shared
		scope := EffectiveScope(sp.AccessType, identifier)
		profile := s.loadProfile(ctx, sp.UserID)

		patient := patientOf(profile)
		if profile == nil {
			patient = sharedPatient(sp)
		}
		contenu := map[string]interface{}{
			"patient":   patient,
			"documents": s.docs.Collect(ctx, sp.UserID),
		}
		return newDossier(sp.ID.String(), sp.UserID, scope.AccessType == AccessFull, scope, profile, contenu), nil

	case TableLegacyDossiers:
		ld := m.legacy
		scope := ClassifyIdentifier(identifier)
		contenu := copyContent(ld.ContenuDossier)
		d := newDossier(ld.ID.String(), uuid.Nil, scope.AccessType == AccessFull, scope, nil, contenu)
		if ld.UserID != nil {
			d.UserID = ld.UserID.String()
			d.ProfileData = s.loadProfile(ctx, *ld.UserID)
			contenu["documents"] = s.docs.Collect(ctx, *ld.UserID)
		}
		return d, nil
	}
	return nil, fmt.Errorf("%w: unknown grant source %q", ErrPersistence, m.source)
}

// ResolveForUser assembles the dossier of an authenticated patient, creating
// their access codes on first use. The caller is responsible for checking
// that the requester is that patient.
func (s *Service) ResolveForUser(ctx context.Context, req RequestBody) (*Dossier, error) {
	raw := strings.TrimSpace(req.UserID)
	if raw == "" {
		return nil, fmt.Errorf("%w: userId is empty", ErrInvalidInput)
	}
	userID, err := uuid.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: userId: %v", ErrInvalidInput, err)
	}

	profile, err := s.profiles.GetByID(ctx, userID)
	if err != nil {
		return nil, profileError(userID, err)
	}
	medicalCode, err := s.medicalCodeFor(ctx, profile)
	if err != nil {
		return nil, err
	}
	directivesCode, err := s.GetOrCreateDirectivesAccessCode(ctx, userID)
	if err != nil {
		return nil, err
	}

	scope := ClassifyIdentifier(req.BruteForceIdentifier)
	id := directivesCode
	if scope.IsMedicalOnly {
		id = medicalCode
	}
	contenu := map[string]interface{}{
		"patient":   patientOf(profile),
		"documents": s.docs.Collect(ctx, userID),
	}
	d := newDossier(id, userID, scope.AccessType == AccessFull, scope, profile, contenu)
	d.MedicalAccessCode = medicalCode
	d.DirectivesAccessCode = directivesCode

	s.audit.Record(ctx, id, true, fmt.Sprintf("Accès authentifié (%s)", scope.AccessType))
	return d, nil
}

// InvalidateDossier drops a stored dossier snapshot.
func (s *Service) InvalidateDossier(ctx context.Context, id uuid.UUID) error {
	deleted, err := s.store.Invalidate(ctx, id)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if !deleted {
		return fmt.Errorf("%w: dossier %s", ErrNotFound, id)
	}
	return nil
}

func (s *Service) medicalCodeFor(ctx context.Context, p *Profile) (string, error) {
	if p.MedicalAccessCode != nil && *p.MedicalAccessCode != "" {
		return *p.MedicalAccessCode, nil
	}
	candidate, err := GenerateAccessCode()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	code, err := s.profiles.EnsureMedicalAccessCode(ctx, p.ID, candidate)
	if err != nil {
		return "", fmt.Errorf("%w: store medical access code: %v", ErrPersistence, err)
	}
	return code, nil
}

// loadProfile returns nil when the profile is missing or cannot be read.
func (s *Service) loadProfile(ctx context.Context, userID uuid.UUID) *Profile {
	p, err := s.profiles.GetByID(ctx, userID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.Warn().Err(err).Str("user_id", userID.String()).Msg("loading profile failed")
		}
		return nil
	}
	return p
}

func profileError(userID uuid.UUID, err error) error {
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("%w: profile %s", ErrNotFound, userID)
	}
	return fmt.Errorf("%w: load profile %s: %v", ErrPersistence, userID, err)
}

func newDossier(id string, userID uuid.UUID, fullAccess bool, scope AccessScope, profile *Profile, contenu map[string]interface{}) *Dossier {
	d := &Dossier{
		ID:               id,
		IsFullAccess:     fullAccess,
		IsDirectivesOnly: scope.IsDirectivesOnly,
		IsMedicalOnly:    scope.IsMedicalOnly,
		AccessType:       scope.AccessType,
		ProfileData:      profile,
		Contenu:          contenu,
	}
	if userID != uuid.Nil {
		d.UserID = userID.String()
	}
	return d
}

func sharedPatient(sp *SharedProfile) map[string]interface{} {
	out := map[string]interface{}{"nom": "", "prenom": "", "date_naissance": nil}
	if sp.LastName != nil {
		out["nom"] = *sp.LastName
	}
	if sp.FirstName != nil {
		out["prenom"] = *sp.FirstName
	}
	if sp.Birthdate != nil {
		out["date_naissance"] = *sp.Birthdate
	}
	return out
}

// copyContent returns a shallow copy so response-only keys never reach a
// stored snapshot.
func copyContent(src map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(src)+1)
	for k, v := range src {
		out[k] = v
	}
	return out
}

// maxIdentifierDetail caps, in characters, how much of the caller identifier
// reaches logs_acces.
const maxIdentifierDetail = 64

func identifierDetail(identifier string) string {
	if identifier == "" {
		return ""
	}
	identifier = strings.ToValidUTF8(identifier, "")
	if runes := []rune(identifier); len(runes) > maxIdentifierDetail {
		identifier = string(runes[:maxIdentifierDetail])
	}
	return " (contexte: " + identifier + ")"
}
