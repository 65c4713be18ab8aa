package access

import (
	"time"

	"github.com/google/uuid"
)

// Access types a grant can carry.
const (
	AccessDirectives = "directives"
	AccessMedical    = "medical"
	AccessFull       = "full"
)

// Sources a normalized document can come from.
const (
	SourcePDF        = "pdf_documents"
	SourceDirectives = "directives"
)

// Tables a submitted code can resolve against, in lookup order.
const (
	TableAccessCodes    = "document_access_codes"
	TableSharedProfiles = "shared_profiles"
	TableLegacyDossiers = "dossiers_medicaux"
)

// AccessScope is the subset of a dossier a caller may read. At most one of
// the two flags is set; both false means full access.
type AccessScope struct {
	AccessType       string `json:"accessType"`
	IsDirectivesOnly bool   `json:"isDirectivesOnly"`
	IsMedicalOnly    bool   `json:"isMedicalOnly"`
}

// AccessCode maps to the document_access_codes table.
type AccessCode struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	UserID       uuid.UUID  `db:"user_id" json:"user_id"`
	DocumentID   *uuid.UUID `db:"document_id" json:"document_id,omitempty"`
	AccessCode   string     `db:"access_code" json:"access_code"`
	IsFullAccess bool       `db:"is_full_access" json:"is_full_access"`
	AccessType   *string    `db:"access_type" json:"access_type,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
}

// SharedProfile maps to the shared_profiles table.
type SharedProfile struct {
	ID         uuid.UUID `db:"id" json:"id"`
	UserID     uuid.UUID `db:"user_id" json:"user_id"`
	AccessCode string    `db:"access_code" json:"access_code"`
	FirstName  *string   `db:"first_name" json:"first_name,omitempty"`
	LastName   *string   `db:"last_name" json:"last_name,omitempty"`
	Birthdate  *string   `db:"birthdate" json:"birthdate,omitempty"`
	AccessType *string   `db:"access_type" json:"access_type,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// LegacyDossier maps to the dossiers_medicaux table. Content is a snapshot
// written once and returned unchanged afterwards.
type LegacyDossier struct {
	ID             uuid.UUID              `db:"id" json:"id"`
	CodeAcces      string                 `db:"code_acces" json:"code_acces"`
	ContenuDossier map[string]interface{} `db:"contenu_dossier" json:"contenu_dossier"`
	UserID         *uuid.UUID             `db:"user_id" json:"user_id,omitempty"`
	CreatedAt      time.Time              `db:"created_at" json:"created_at"`
}

// Profile maps to the profiles table. BirthDate is an ISO date (YYYY-MM-DD).
type Profile struct {
	ID                uuid.UUID `db:"id" json:"id"`
	FirstName         *string   `db:"first_name" json:"first_name"`
	LastName          *string   `db:"last_name" json:"last_name"`
	BirthDate         *string   `db:"birth_date" json:"birth_date"`
	Address           *string   `db:"address" json:"address"`
	City              *string   `db:"city" json:"city"`
	PostalCode        *string   `db:"postal_code" json:"postal_code"`
	Phone             *string   `db:"phone" json:"phone"`
	MedicalAccessCode *string   `db:"medical_access_code" json:"-"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}

// PdfDocument maps to the pdf_documents table.
type PdfDocument struct {
	ID          uuid.UUID `db:"id" json:"id"`
	UserID      uuid.UUID `db:"user_id" json:"user_id"`
	FileName    string    `db:"file_name" json:"file_name"`
	FilePath    string    `db:"file_path" json:"file_path"`
	ContentType string    `db:"content_type" json:"content_type"`
	FileType    *string   `db:"file_type" json:"file_type,omitempty"`
	Description *string   `db:"description" json:"description,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// Directive maps to the directives table.
type Directive struct {
	ID         uuid.UUID              `db:"id" json:"id"`
	UserID     uuid.UUID              `db:"user_id" json:"user_id"`
	Content    map[string]interface{} `db:"content" json:"content"`
	IsTestData bool                   `db:"is_test_data" json:"is_test_data"`
	CreatedAt  time.Time              `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time              `db:"updated_at" json:"updated_at"`
}

// ContentRecord is a row of advance_directives or medical_data.
type ContentRecord struct {
	ID        uuid.UUID              `db:"id" json:"id"`
	UserID    uuid.UUID              `db:"user_id" json:"user_id"`
	Content   map[string]interface{} `db:"content" json:"content"`
	CreatedAt time.Time              `db:"created_at" json:"created_at"`
	UpdatedAt time.Time              `db:"updated_at" json:"updated_at"`
}

// AccessLogEntry maps to the logs_acces table.
type AccessLogEntry struct {
	ID        int64     `db:"id" json:"id"`
	DossierID *string   `db:"dossier_id" json:"dossier_id,omitempty"`
	Succes    bool      `db:"succes" json:"succes"`
	Details   string    `db:"details" json:"details"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// NormalizedDocument is the common shape of PDFs and directives in
// contenu.documents.
type NormalizedDocument struct {
	ID          string                 `json:"id"`
	FileName    string                 `json:"file_name"`
	FilePath    string                 `json:"file_path"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
	Description *string                `json:"description"`
	ContentType string                 `json:"content_type"`
	FileType    string                 `json:"file_type"`
	UserID      string                 `json:"user_id"`
	Source      string                 `json:"source"`
	Content     map[string]interface{} `json:"content,omitempty"`
	SignedURL   string                 `json:"signed_url,omitempty"`
}

// RequestBody is the JSON body of the verification endpoint.
type RequestBody struct {
	CodeSaisi            string `json:"code_saisi"`
	BruteForceIdentifier string `json:"bruteForceIdentifier,omitempty"`
	IsAuthUserRequest    bool   `json:"isAuthUserRequest,omitempty"`
	UserID               string `json:"userId,omitempty"`
	Prenom               string `json:"prenom,omitempty"`
	Nom                  string `json:"nom,omitempty"`
	DateNaissance        string `json:"date_naissance,omitempty"`
}

// hasIdentity reports whether the caller supplied the patient's identity
// alongside the code.
func (r RequestBody) hasIdentity() bool {
	return r.Prenom != "" && r.Nom != "" && r.DateNaissance != ""
}

// Dossier is the assembled record returned to the caller.
type Dossier struct {
	ID                   string                 `json:"id"`
	UserID               string                 `json:"userId"`
	IsFullAccess         bool                   `json:"isFullAccess"`
	IsDirectivesOnly     bool                   `json:"isDirectivesOnly"`
	IsMedicalOnly        bool                   `json:"isMedicalOnly"`
	AccessType           string                 `json:"accessType,omitempty"`
	ProfileData          *Profile               `json:"profileData,omitempty"`
	Contenu              map[string]interface{} `json:"contenu,omitempty"`
	MedicalAccessCode    string                 `json:"medicalAccessCode,omitempty"`
	DirectivesAccessCode string                 `json:"directivesAccessCode,omitempty"`
}

// StandardResponse is the envelope of every response of the endpoint.
type StandardResponse struct {
	Success   bool     `json:"success"`
	Error     string   `json:"error,omitempty"`
	ErrorCode string   `json:"error_code,omitempty"`
	Dossier   *Dossier `json:"dossier,omitempty"`
}

// patientOf builds the patient block of contenu from a profile.
func patientOf(p *Profile) map[string]interface{} {
	out := map[string]interface{}{
		"nom":            "",
		"prenom":         "",
		"date_naissance": nil,
	}
	if p == nil {
		return out
	}
	if p.LastName != nil {
		out["nom"] = *p.LastName
	}
	if p.FirstName != nil {
		out["prenom"] = *p.FirstName
	}
	if p.BirthDate != nil {
		out["date_naissance"] = *p.BirthDate
	}
	return out
}
