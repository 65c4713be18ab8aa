package access

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Lookups return ErrNotFound when no row matches.

type GrantRepository interface {
	FindAccessCode(ctx context.Context, code string) (*AccessCode, error)
	LatestAccessCodeForUser(ctx context.Context, userID uuid.UUID) (*AccessCode, error)
	CreateAccessCode(ctx context.Context, ac *AccessCode) error
	// LockUser serializes code creation for one user until the enclosing
	// transaction ends.
	LockUser(ctx context.Context, userID uuid.UUID) error

	FindSharedProfile(ctx context.Context, code string) (*SharedProfile, error)
	VerifySharedProfile(ctx context.Context, code, firstName, lastName string, birthdate time.Time) (*SharedProfile, error)
}

type ProfileRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Profile, error)
	// EnsureMedicalAccessCode stores candidate unless the profile already
	// has a code, and returns the code in effect.
	EnsureMedicalAccessCode(ctx context.Context, id uuid.UUID, candidate string) (string, error)
}

type DocumentRepository interface {
	ListPDFs(ctx context.Context, userID uuid.UUID) ([]*PdfDocument, error)
	ListDirectives(ctx context.Context, userID uuid.UUID) ([]*Directive, error)
	LatestAdvanceDirective(ctx context.Context, userID uuid.UUID) (*ContentRecord, error)
	LatestMedicalData(ctx context.Context, userID uuid.UUID) (*ContentRecord, error)
}

type DossierRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*LegacyDossier, error)
	GetByCode(ctx context.Context, code string) (*LegacyDossier, error)
	// Insert reports false when a row with the same id already exists.
	Insert(ctx context.Context, d *LegacyDossier) (bool, error)
	Delete(ctx context.Context, id uuid.UUID) (bool, error)
}

type AccessLogRepository interface {
	Append(ctx context.Context, e *AccessLogEntry) error
}
