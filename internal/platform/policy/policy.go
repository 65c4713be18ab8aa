// Package policy evaluates the Cedar policy deciding which dossier sections
// an access scope may read.
package policy

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cedar-policy/cedar-go"
)

//go:embed policies/sections.cedar
var sectionPolicy []byte

const (
	SectionDirectives = "directives_anticipees"
	SectionMedical    = "donnees_medicales"
)

// sectionScopes gives the scope each section belongs to.
var sectionScopes = map[string]string{
	SectionDirectives: "directives",
	SectionMedical:    "medical",
}

type SectionPolicy struct {
	policySet *cedar.PolicySet
}

func NewSectionPolicy() (*SectionPolicy, error) {
	return parseSectionPolicy("sections.cedar", sectionPolicy)
}

func parseSectionPolicy(name string, src []byte) (*SectionPolicy, error) {
	ps, err := cedar.NewPolicySetFromBytes(name, src)
	if err != nil {
		return nil, fmt.Errorf("parse section policy: %w", err)
	}
	return &SectionPolicy{policySet: ps}, nil
}

// MustSectionPolicy panics if the embedded policy does not parse.
func MustSectionPolicy() *SectionPolicy {
	p, err := NewSectionPolicy()
	if err != nil {
		panic(err)
	}
	return p
}

// CanView reports whether a grant of the given scope ("directives",
// "medical" or "full") may read section.
func (p *SectionPolicy) CanView(scope, section string) (bool, error) {
	sectionScope, ok := sectionScopes[section]
	if !ok {
		return false, fmt.Errorf("unknown dossier section %q", section)
	}

	entitiesJSON, err := json.Marshal([]map[string]interface{}{
		{
			"uid":     map[string]string{"type": "DossierApp::Grant", "id": "current"},
			"attrs":   map[string]interface{}{"scope": scope},
			"parents": []interface{}{},
		},
		{
			"uid":     map[string]string{"type": "DossierApp::Section", "id": section},
			"attrs":   map[string]interface{}{"scope": sectionScope},
			"parents": []interface{}{},
		},
	})
	if err != nil {
		return false, fmt.Errorf("marshal entities: %w", err)
	}
	var entities cedar.EntityMap
	if err := json.Unmarshal(entitiesJSON, &entities); err != nil {
		return false, fmt.Errorf("unmarshal entities: %w", err)
	}

	req := cedar.Request{
		Principal: cedar.NewEntityUID("DossierApp::Grant", "current"),
		Action:    cedar.NewEntityUID("DossierApp::Action", "view"),
		Resource:  cedar.NewEntityUID("DossierApp::Section", cedar.String(section)),
		Context:   cedar.NewRecord(cedar.RecordMap{}),
	}

	decision, diag := p.policySet.IsAuthorized(entities, req)
	if len(diag.Errors) > 0 {
		errs := make([]error, 0, len(diag.Errors))
		for _, de := range diag.Errors {
			errs = append(errs, errors.New(de.String()))
		}
		return false, fmt.Errorf("evaluate section policy for %q: %w", section, errors.Join(errs...))
	}
	return decision == cedar.Allow, nil
}
