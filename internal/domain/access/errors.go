package access

import (
	"errors"
	"net/http"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not found")
	ErrRateLimited  = errors.New("too many attempts")
	ErrPersistence  = errors.New("persistence failure")
)

// ErrorKind is what a caller is told about a failure. Messages are fixed;
// the wrapped detail stays in the server log.
type ErrorKind struct {
	Status  int
	Code    string
	Message string
}

var (
	kindInvalidInput = ErrorKind{http.StatusBadRequest, "invalid_input", "Code d'accès ou identifiant manquant"}
	kindUnauthorized = ErrorKind{http.StatusUnauthorized, "unauthorized", "Authentification requise"}
	kindNotFound     = ErrorKind{http.StatusNotFound, "not_found", "Code d'accès invalide ou dossier introuvable"}
	kindRateLimited  = ErrorKind{http.StatusTooManyRequests, "too_many_attempts", "Trop de tentatives, veuillez réessayer plus tard"}
	kindInternal     = ErrorKind{http.StatusInternalServerError, "internal_error", "Erreur interne du serveur"}
)

// Classify maps err onto the closed set of client-visible failures.
func Classify(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return kindInvalidInput
	case errors.Is(err, ErrUnauthorized):
		return kindUnauthorized
	case errors.Is(err, ErrNotFound):
		return kindNotFound
	case errors.Is(err, ErrRateLimited):
		return kindRateLimited
	default:
		return kindInternal
	}
}
