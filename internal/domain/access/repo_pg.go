package access

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/directivesplus/dossier/internal/platform/db"
)

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// -- Grants --

type grantRepoPG struct{ pool *pgxpool.Pool }

func NewGrantRepo(pool *pgxpool.Pool) GrantRepository { return &grantRepoPG{pool: pool} }

func (r *grantRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const accessCodeCols = `id, user_id, document_id, access_code, is_full_access, access_type, created_at`

func scanAccessCode(row pgx.Row) (*AccessCode, error) {
	var ac AccessCode
	if err := row.Scan(&ac.ID, &ac.UserID, &ac.DocumentID, &ac.AccessCode,
		&ac.IsFullAccess, &ac.AccessType, &ac.CreatedAt); err != nil {
		return nil, notFound(err)
	}
	return &ac, nil
}

func (r *grantRepoPG) FindAccessCode(ctx context.Context, code string) (*AccessCode, error) {
	return scanAccessCode(r.conn(ctx).QueryRow(ctx, `
		SELECT `+accessCodeCols+` FROM document_access_codes
		WHERE access_code = $1
		ORDER BY created_at DESC LIMIT 1`, code))
}

func (r *grantRepoPG) LatestAccessCodeForUser(ctx context.Context, userID uuid.UUID) (*AccessCode, error) {
	return scanAccessCode(r.conn(ctx).QueryRow(ctx, `
		SELECT `+accessCodeCols+` FROM document_access_codes
		WHERE user_id = $1
		ORDER BY created_at DESC LIMIT 1`, userID))
}

func (r *grantRepoPG) CreateAccessCode(ctx context.Context, ac *AccessCode) error {
	if ac.ID == uuid.Nil {
		ac.ID = uuid.New()
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO document_access_codes (id, user_id, document_id, access_code, is_full_access, access_type)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`,
		ac.ID, ac.UserID, ac.DocumentID, ac.AccessCode, ac.IsFullAccess, ac.AccessType,
	).Scan(&ac.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert access code: %w", err)
	}
	return nil
}

func (r *grantRepoPG) LockUser(ctx context.Context, userID uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, userID.String())
	return err
}

const sharedProfileCols = `id, user_id, access_code, first_name, last_name,
	to_char(birthdate, 'YYYY-MM-DD'), access_type, created_at`

func scanSharedProfile(row pgx.Row) (*SharedProfile, error) {
	var sp SharedProfile
	if err := row.Scan(&sp.ID, &sp.UserID, &sp.AccessCode, &sp.FirstName, &sp.LastName,
		&sp.Birthdate, &sp.AccessType, &sp.CreatedAt); err != nil {
		return nil, notFound(err)
	}
	return &sp, nil
}

func (r *grantRepoPG) FindSharedProfile(ctx context.Context, code string) (*SharedProfile, error) {
	return scanSharedProfile(r.conn(ctx).QueryRow(ctx, `
		SELECT `+sharedProfileCols+` FROM shared_profiles
		WHERE access_code = $1
		ORDER BY created_at DESC LIMIT 1`, code))
}

func (r *grantRepoPG) VerifySharedProfile(ctx context.Context, code, firstName, lastName string, birthdate time.Time) (*SharedProfile, error) {
	return scanSharedProfile(r.conn(ctx).QueryRow(ctx, `
		SELECT `+sharedProfileCols+`
		FROM verify_shared_profile_access($1, $2, $3, $4::date)
		LIMIT 1`, code, firstName, lastName, birthdate.Format(time.DateOnly)))
}

// -- Profiles --

type profileRepoPG struct{ pool *pgxpool.Pool }

func NewProfileRepo(pool *pgxpool.Pool) ProfileRepository { return &profileRepoPG{pool: pool} }

func (r *profileRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

func (r *profileRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Profile, error) {
	var p Profile
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, first_name, last_name, to_char(birth_date, 'YYYY-MM-DD'),
			address, city, postal_code, phone, medical_access_code, created_at, updated_at
		FROM profiles WHERE id = $1`, id).Scan(
		&p.ID, &p.FirstName, &p.LastName, &p.BirthDate,
		&p.Address, &p.City, &p.PostalCode, &p.Phone, &p.MedicalAccessCode, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (r *profileRepoPG) EnsureMedicalAccessCode(ctx context.Context, id uuid.UUID, candidate string) (string, error) {
	var code string
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE profiles
		SET medical_access_code = COALESCE(NULLIF(medical_access_code, ''), $2),
			updated_at = NOW()
		WHERE id = $1
		RETURNING medical_access_code`, id, candidate).Scan(&code)
	if err != nil {
		return "", notFound(err)
	}
	return code, nil
}

// -- Documents --

type documentRepoPG struct{ pool *pgxpool.Pool }

func NewDocumentRepo(pool *pgxpool.Pool) DocumentRepository { return &documentRepoPG{pool: pool} }

func (r *documentRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

func (r *documentRepoPG) ListPDFs(ctx context.Context, userID uuid.UUID) ([]*PdfDocument, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, user_id, file_name, file_path, content_type, file_type, description, created_at, updated_at
		FROM pdf_documents
		WHERE user_id = $1
		ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*PdfDocument
	for rows.Next() {
		var d PdfDocument
		if err := rows.Scan(&d.ID, &d.UserID, &d.FileName, &d.FilePath, &d.ContentType,
			&d.FileType, &d.Description, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

func (r *documentRepoPG) ListDirectives(ctx context.Context, userID uuid.UUID) ([]*Directive, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, user_id, content, is_test_data, created_at, updated_at
		FROM directives
		WHERE user_id = $1
		ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Directive
	for rows.Next() {
		var d Directive
		if err := rows.Scan(&d.ID, &d.UserID, &d.Content, &d.IsTestData, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

func (r *documentRepoPG) latestContent(ctx context.Context, table string, userID uuid.UUID) (*ContentRecord, error) {
	var rec ContentRecord
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, user_id, content, created_at, updated_at
		FROM `+table+`
		WHERE user_id = $1
		ORDER BY updated_at DESC LIMIT 1`, userID).Scan(
		&rec.ID, &rec.UserID, &rec.Content, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &rec, nil
}

func (r *documentRepoPG) LatestAdvanceDirective(ctx context.Context, userID uuid.UUID) (*ContentRecord, error) {
	return r.latestContent(ctx, "advance_directives", userID)
}

func (r *documentRepoPG) LatestMedicalData(ctx context.Context, userID uuid.UUID) (*ContentRecord, error) {
	return r.latestContent(ctx, "medical_data", userID)
}

// -- Legacy dossiers --

type dossierRepoPG struct{ pool *pgxpool.Pool }

func NewDossierRepo(pool *pgxpool.Pool) DossierRepository { return &dossierRepoPG{pool: pool} }

func (r *dossierRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const dossierCols = `id, code_acces, contenu_dossier, user_id, created_at`

func scanDossier(row pgx.Row) (*LegacyDossier, error) {
	var d LegacyDossier
	if err := row.Scan(&d.ID, &d.CodeAcces, &d.ContenuDossier, &d.UserID, &d.CreatedAt); err != nil {
		return nil, notFound(err)
	}
	return &d, nil
}

func (r *dossierRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*LegacyDossier, error) {
	return scanDossier(r.conn(ctx).QueryRow(ctx,
		`SELECT `+dossierCols+` FROM dossiers_medicaux WHERE id = $1`, id))
}

func (r *dossierRepoPG) GetByCode(ctx context.Context, code string) (*LegacyDossier, error) {
	return scanDossier(r.conn(ctx).QueryRow(ctx, `
		SELECT `+dossierCols+` FROM dossiers_medicaux
		WHERE code_acces = $1
		ORDER BY created_at DESC LIMIT 1`, code))
}

func (r *dossierRepoPG) Insert(ctx context.Context, d *LegacyDossier) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO dossiers_medicaux (id, code_acces, contenu_dossier, user_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING`,
		d.ID, d.CodeAcces, d.ContenuDossier, d.UserID)
	if err != nil {
		return false, fmt.Errorf("insert dossier: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *dossierRepoPG) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM dossiers_medicaux WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete dossier: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// -- Access log --

type accessLogRepoPG struct{ pool *pgxpool.Pool }

func NewAccessLogRepo(pool *pgxpool.Pool) AccessLogRepository { return &accessLogRepoPG{pool: pool} }

func (r *accessLogRepoPG) Append(ctx context.Context, e *AccessLogEntry) error {
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO logs_acces (dossier_id, succes, details)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`,
		e.DossierID, e.Succes, e.Details,
	).Scan(&e.ID, &e.CreatedAt)
}
