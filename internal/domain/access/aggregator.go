package access

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/directivesplus/dossier/internal/platform/storage"
)

const defaultDirectiveName = "Directive anticipée"

// directiveTextFields are the content keys searched for test markers.
var directiveTextFields = []string{"title", "titre", "content", "contenu"}

// Aggregator merges a patient's PDF documents and directives into one list.
type Aggregator struct {
	docs   DocumentRepository
	signer storage.Signer
	logger zerolog.Logger
}

func NewAggregator(docs DocumentRepository, logger zerolog.Logger) *Aggregator {
	return &Aggregator{docs: docs, logger: logger}
}

// WithSigner makes Collect attach a signed download URL to every PDF.
func (a *Aggregator) WithSigner(s storage.Signer) *Aggregator {
	a.signer = s
	return a
}

// Collect returns the user's PDFs followed by their genuine directives, each
// group newest first. A source that fails to load contributes nothing.
func (a *Aggregator) Collect(ctx context.Context, userID uuid.UUID) []NormalizedDocument {
	var (
		pdfs       []*PdfDocument
		directives []*Directive
		g          errgroup.Group
	)
	g.Go(func() error {
		rows, err := a.docs.ListPDFs(ctx, userID)
		if err != nil {
			a.logger.Warn().Err(err).Str("user_id", userID.String()).Msg("loading pdf documents failed")
			return nil
		}
		pdfs = rows
		return nil
	})
	g.Go(func() error {
		rows, err := a.docs.ListDirectives(ctx, userID)
		if err != nil {
			a.logger.Warn().Err(err).Str("user_id", userID.String()).Msg("loading directives failed")
			return nil
		}
		directives = rows
		return nil
	})
	_ = g.Wait()

	out := make([]NormalizedDocument, 0, len(pdfs)+len(directives))
	for _, p := range pdfs {
		out = append(out, normalizePDF(p))
	}
	a.sign(ctx, out)

	for _, d := range directives {
		if IsTestDirective(d) {
			continue
		}
		out = append(out, normalizeDirective(d))
	}
	return out
}

// sign fills SignedURL on PDF entries. Failures leave the field empty.
func (a *Aggregator) sign(ctx context.Context, docs []NormalizedDocument) {
	if a.signer == nil || len(docs) == 0 {
		return
	}
	var g errgroup.Group
	g.SetLimit(4)
	for i := range docs {
		doc := &docs[i]
		g.Go(func() error {
			u, err := a.signer.SignURL(ctx, doc.FilePath)
			if err != nil {
				a.logger.Warn().Err(err).Str("document_id", doc.ID).Msg("signing document url failed")
				return nil
			}
			doc.SignedURL = u
			return nil
		})
	}
	_ = g.Wait()
}

// IsTestDirective reports whether d is seed or demo data: flagged explicitly,
// created for institution access, or carrying "test" in one of its text
// fields regardless of case.
func IsTestDirective(d *Directive) bool {
	if d.IsTestData {
		return true
	}
	if flag, ok := d.Content["created_for_institution_access"].(bool); ok && flag {
		return true
	}
	for _, key := range directiveTextFields {
		if s, ok := d.Content[key].(string); ok && strings.Contains(strings.ToLower(s), "test") {
			return true
		}
	}
	return false
}

func normalizePDF(p *PdfDocument) NormalizedDocument {
	fileType := "pdf"
	if p.FileType != nil && *p.FileType != "" {
		fileType = *p.FileType
	}
	contentType := p.ContentType
	if contentType == "" {
		contentType = "application/pdf"
	}
	return NormalizedDocument{
		ID:          p.ID.String(),
		FileName:    p.FileName,
		FilePath:    p.FilePath,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
		Description: p.Description,
		ContentType: contentType,
		FileType:    fileType,
		UserID:      p.UserID.String(),
		Source:      SourcePDF,
	}
}

func normalizeDirective(d *Directive) NormalizedDocument {
	name := defaultDirectiveName
	if s := stringField(d.Content, "title"); s != "" {
		name = s
	} else if s := stringField(d.Content, "titre"); s != "" {
		name = s
	}
	var description *string
	if s := stringField(d.Content, "description"); s != "" {
		description = &s
	}
	return NormalizedDocument{
		ID:          d.ID.String(),
		FileName:    name,
		FilePath:    d.ID.String(),
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
		Description: description,
		ContentType: "application/json",
		FileType:    "directive",
		UserID:      d.UserID.String(),
		Source:      SourceDirectives,
		Content:     d.Content,
	}
}

func stringField(m map[string]interface{}, key string) string {
	s, _ := m[key].(string)
	return s
}
