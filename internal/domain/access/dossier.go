package access

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/directivesplus/dossier/internal/platform/policy"
)

// SectionAuthorizer decides whether a scope may read a dossier section.
type SectionAuthorizer interface {
	CanView(scope, section string) (bool, error)
}

// DossierStore serves dossiers_medicaux snapshots. A snapshot is built from
// the patient's latest directive and medical rows on first access and
// returned unchanged from then on; Invalidate is the only way to rebuild it.
type DossierStore struct {
	dossiers DossierRepository
	docs     DocumentRepository
	policy   SectionAuthorizer
	logger   zerolog.Logger
}

func NewDossierStore(dossiers DossierRepository, docs DocumentRepository, pol SectionAuthorizer, logger zerolog.Logger) *DossierStore {
	return &DossierStore{dossiers: dossiers, docs: docs, policy: pol, logger: logger}
}

// dossierSections are the snapshot keys gated by the section policy.
var dossierSections = []string{policy.SectionDirectives, policy.SectionMedical}

// GetOrCreate returns the snapshot stored under documentID, building and
// persisting it when absent. A failed insert is logged and the built content
// returned anyway. A stored snapshot may have been built for a wider scope
// than the caller's, so sections the caller's scope cannot view are dropped
// from what is returned; the stored row keeps them.
func (s *DossierStore) GetOrCreate(ctx context.Context, documentID, userID uuid.UUID, code string, scope AccessScope, profile *Profile) (map[string]interface{}, error) {
	existing, err := s.dossiers.GetByID(ctx, documentID)
	if err == nil {
		return s.visible(existing.ContenuDossier, scope), nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: load dossier %s: %v", ErrPersistence, documentID, err)
	}

	content := s.build(ctx, userID, scope, profile)

	uid := userID
	inserted, err := s.dossiers.Insert(ctx, &LegacyDossier{
		ID:             documentID,
		CodeAcces:      code,
		ContenuDossier: content,
		UserID:         &uid,
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("dossier_id", documentID.String()).Msg("storing dossier snapshot failed")
		return content, nil
	}
	if !inserted {
		// Another request stored the snapshot first; serve that one.
		if winner, err := s.dossiers.GetByID(ctx, documentID); err == nil {
			return s.visible(winner.ContenuDossier, scope), nil
		}
	}
	return content, nil
}

// visible returns content without the sections scope may not view. Content
// is copied only when something is dropped. A policy error drops the section.
func (s *DossierStore) visible(content map[string]interface{}, scope AccessScope) map[string]interface{} {
	var out map[string]interface{}
	for _, name := range dossierSections {
		if _, present := content[name]; !present {
			continue
		}
		ok, err := s.policy.CanView(scope.AccessType, name)
		if err != nil {
			s.logger.Error().Err(err).Str("section", name).Msg("section policy evaluation failed")
		}
		if ok && err == nil {
			continue
		}
		if out == nil {
			out = make(map[string]interface{}, len(content))
			for k, v := range content {
				out[k] = v
			}
		}
		delete(out, name)
	}
	if out == nil {
		return content
	}
	return out
}

// Invalidate drops the snapshot so the next access rebuilds it.
func (s *DossierStore) Invalidate(ctx context.Context, documentID uuid.UUID) (bool, error) {
	return s.dossiers.Delete(ctx, documentID)
}

func (s *DossierStore) build(ctx context.Context, userID uuid.UUID, scope AccessScope, profile *Profile) map[string]interface{} {
	content := map[string]interface{}{
		"patient": patientOf(profile),
	}

	sections := []struct {
		name  string
		fetch func(context.Context, uuid.UUID) (*ContentRecord, error)
	}{
		{policy.SectionDirectives, s.docs.LatestAdvanceDirective},
		{policy.SectionMedical, s.docs.LatestMedicalData},
	}
	for _, sec := range sections {
		ok, err := s.policy.CanView(scope.AccessType, sec.name)
		if err != nil {
			s.logger.Error().Err(err).Str("section", sec.name).Msg("section policy evaluation failed")
			continue
		}
		if !ok {
			continue
		}
		rec, err := sec.fetch(ctx, userID)
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				s.logger.Warn().Err(err).Str("section", sec.name).Str("user_id", userID.String()).Msg("loading dossier section failed")
			}
			continue
		}
		content[sec.name] = map[string]interface{}{
			"id":         rec.ID.String(),
			"content":    rec.Content,
			"created_at": rec.CreatedAt,
			"updated_at": rec.UpdatedAt,
		}
	}
	return content
}
