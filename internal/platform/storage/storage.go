// Package storage issues time-limited download links for objects kept in
// Supabase Storage.
package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

var (
	ErrEmptyPath   = errors.New("object path is required")
	ErrNoSignedURL = errors.New("storage returned no signed url")
)

// Signer turns a stored object path into a URL a browser can fetch.
type Signer interface {
	SignURL(ctx context.Context, objectPath string) (string, error)
}

type SupabaseConfig struct {
	BaseURL        string
	ServiceRoleKey string
	Bucket         string
	TTL            time.Duration
	Timeout        time.Duration
}

// SupabaseSigner calls the storage sign endpoint:
// POST {base}/storage/v1/object/sign/{bucket}/{path}.
type SupabaseSigner struct {
	client *resty.Client
	bucket string
	ttl    time.Duration
	base   string
}

type signRequest struct {
	ExpiresIn int `json:"expiresIn"`
}

type signResponse struct {
	SignedURL string `json:"signedURL"`
}

type storageError struct {
	StatusCode string `json:"statusCode"`
	Error      string `json:"error"`
	Message    string `json:"message"`
}

func NewSupabaseSigner(cfg SupabaseConfig) *SupabaseSigner {
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Minute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	base := strings.TrimRight(cfg.BaseURL, "/")

	client := resty.New().
		SetBaseURL(base+"/storage/v1").
		SetTimeout(cfg.Timeout).
		SetRetryCount(2).
		SetRetryWaitTime(200*time.Millisecond).
		SetRetryMaxWaitTime(time.Second).
		SetHeader("apikey", cfg.ServiceRoleKey).
		SetAuthToken(cfg.ServiceRoleKey).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &SupabaseSigner{client: client, bucket: cfg.Bucket, ttl: cfg.TTL, base: base}
}

func (s *SupabaseSigner) SignURL(ctx context.Context, objectPath string) (string, error) {
	objectPath = strings.TrimLeft(objectPath, "/")
	if objectPath == "" {
		return "", ErrEmptyPath
	}

	var result signResponse
	var failure storageError
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(signRequest{ExpiresIn: int(s.ttl.Seconds())}).
		SetResult(&result).
		SetError(&failure).
		Post("/object/sign/" + escapePath(s.bucket) + "/" + escapePath(objectPath))
	if err != nil {
		return "", fmt.Errorf("sign %s: %w", objectPath, err)
	}
	if resp.IsError() {
		msg := failure.Message
		if msg == "" {
			msg = failure.Error
		}
		return "", fmt.Errorf("sign %s: storage status %d: %s", objectPath, resp.StatusCode(), msg)
	}
	if result.SignedURL == "" {
		return "", ErrNoSignedURL
	}

	// The endpoint answers with a path relative to /storage/v1.
	if strings.HasPrefix(result.SignedURL, "http://") || strings.HasPrefix(result.SignedURL, "https://") {
		return result.SignedURL, nil
	}
	return s.base + "/storage/v1" + ensureLeadingSlash(result.SignedURL), nil
}

func escapePath(p string) string {
	parts := strings.Split(p, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}

func ensureLeadingSlash(p string) string {
	if strings.HasPrefix(p, "/") {
		return p
	}
	return "/" + p
}
