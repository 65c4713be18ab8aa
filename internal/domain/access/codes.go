package access

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"

	"github.com/google/uuid"
)

const (
	codeLength   = 6
	codeAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

// randReader is swapped in tests.
var randReader io.Reader = rand.Reader

// GenerateAccessCode returns a code of six uppercase base-36 characters.
// Six characters give about 31 bits; the verify endpoint's attempt limiter
// is what keeps guessing impractical.
func GenerateAccessCode() (string, error) {
	base := big.NewInt(int64(len(codeAlphabet)))
	buf := make([]byte, codeLength)
	for i := range buf {
		n, err := rand.Int(randReader, base)
		if err != nil {
			return "", fmt.Errorf("generate access code: %w", err)
		}
		buf[i] = codeAlphabet[n.Int64()]
	}
	return string(buf), nil
}

// GetOrCreateMedicalAccessCode returns the profile's medical access code,
// generating and storing one when it has none.
func (s *Service) GetOrCreateMedicalAccessCode(ctx context.Context, userID uuid.UUID) (string, error) {
	p, err := s.profiles.GetByID(ctx, userID)
	if err != nil {
		return "", profileError(userID, err)
	}
	return s.medicalCodeFor(ctx, p)
}

// GetOrCreateDirectivesAccessCode returns the user's newest grant code,
// creating a directives-only grant when the user has none.
func (s *Service) GetOrCreateDirectivesAccessCode(ctx context.Context, userID uuid.UUID) (string, error) {
	var code string
	err := s.inTx(ctx, func(ctx context.Context) error {
		if err := s.grants.LockUser(ctx, userID); err != nil {
			return fmt.Errorf("%w: lock user grants: %v", ErrPersistence, err)
		}

		latest, err := s.grants.LatestAccessCodeForUser(ctx, userID)
		if err == nil {
			code = latest.AccessCode
			return nil
		}
		if !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("%w: load access code: %v", ErrPersistence, err)
		}

		generated, err := GenerateAccessCode()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrPersistence, err)
		}
		accessType := AccessDirectives
		ac := &AccessCode{
			UserID:       userID,
			AccessCode:   generated,
			IsFullAccess: false,
			AccessType:   &accessType,
		}
		if err := s.grants.CreateAccessCode(ctx, ac); err != nil {
			return fmt.Errorf("%w: %v", ErrPersistence, err)
		}
		code = ac.AccessCode
		return nil
	})
	return code, err
}
