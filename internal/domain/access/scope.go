package access

import "strings"

// ClassifyIdentifier derives a scope from the caller's context identifier.
// "directives" wins over "medical"; neither means full access.
func ClassifyIdentifier(identifier string) AccessScope {
	switch {
	case strings.Contains(identifier, AccessDirectives):
		return scopeOf(AccessDirectives)
	case strings.Contains(identifier, AccessMedical):
		return scopeOf(AccessMedical)
	default:
		return scopeOf(AccessFull)
	}
}

// EffectiveScope combines the access type stored on a grant with the
// caller's identifier. A grant narrower than full decides on its own; an
// unset or full grant lets the identifier narrow it.
func EffectiveScope(grantType *string, identifier string) AccessScope {
	if grantType != nil {
		switch *grantType {
		case AccessDirectives, AccessMedical:
			return scopeOf(*grantType)
		}
	}
	return ClassifyIdentifier(identifier)
}

func scopeOf(accessType string) AccessScope {
	return AccessScope{
		AccessType:       accessType,
		IsDirectivesOnly: accessType == AccessDirectives,
		IsMedicalOnly:    accessType == AccessMedical,
	}
}
