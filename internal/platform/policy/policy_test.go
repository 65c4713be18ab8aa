package policy

import (
	"strings"
	"testing"
)

func TestSectionPolicy_CanView(t *testing.T) {
	p, err := NewSectionPolicy()
	if err != nil {
		t.Fatalf("NewSectionPolicy() error: %v", err)
	}

	tests := []struct {
		scope   string
		section string
		want    bool
	}{
		{"full", SectionDirectives, true},
		{"full", SectionMedical, true},
		{"directives", SectionDirectives, true},
		{"directives", SectionMedical, false},
		{"medical", SectionMedical, true},
		{"medical", SectionDirectives, false},
		{"", SectionDirectives, false},
		{"admin", SectionMedical, false},
	}
	for _, tt := range tests {
		got, err := p.CanView(tt.scope, tt.section)
		if err != nil {
			t.Fatalf("CanView(%q, %q) error: %v", tt.scope, tt.section, err)
		}
		if got != tt.want {
			t.Errorf("CanView(%q, %q) = %v, want %v", tt.scope, tt.section, got, tt.want)
		}
	}
}

func TestSectionPolicy_UnknownSection(t *testing.T) {
	p := MustSectionPolicy()
	if _, err := p.CanView("full", "documents_secrets"); err == nil {
		t.Error("expected error for unknown section")
	}
}

func TestSectionPolicy_EvaluationErrorSurfaces(t *testing.T) {
	p, err := parseSectionPolicy("broken.cedar", []byte(`
permit (
    principal,
    action == DossierApp::Action::"view",
    resource
)
when { principal.clearance == "full" };
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	ok, err := p.CanView("full", SectionMedical)
	if err == nil {
		t.Fatal("expected the missing attribute to surface as an error")
	}
	if ok {
		t.Error("a failed evaluation must not allow")
	}
	if !strings.Contains(err.Error(), "while evaluating policy") {
		t.Errorf("unexpected error: %v", err)
	}
}
