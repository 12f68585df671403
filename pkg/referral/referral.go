// Package referral handles one-time referral program enrollment: each user
// gets a unique referral code and registers a payout link.
package referral

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const (
	codeLength = 20
	// maxAttempts bounds code regeneration on collisions before giving up
	maxAttempts = 5

	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

// ErrAlreadyEnrolled is returned when the user already has a referral code
var ErrAlreadyEnrolled = errors.New("user is already enrolled in the referral program")

// ErrCodeCollision is returned when a unique code could not be generated
// after maxAttempts tries
var ErrCodeCollision = errors.New("failed to generate a unique referral code")

// Enrollment is a user's referral program record
type Enrollment struct {
	Code         string    `json:"code"`
	PayPalMeLink string    `json:"paypalMeLink"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Service enrolls users in the referral program
type Service struct {
	db *sql.DB
}

// NewService creates a new referral Service
func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// Enroll assigns a referral code and payout link to the user. Enrollment is
// a single compare-and-set transaction: it fails if the user is already
// enrolled, and regenerates the code up to maxAttempts times on collision.
func (s *Service) Enroll(ctx context.Context, userID, paypalMeLink string) (*Enrollment, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}
	if paypalMeLink == "" {
		return nil, fmt.Errorf("paypal.me link is required")
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		code, err := generateCode()
		if err != nil {
			return nil, err
		}

		enrollment, err := s.tryEnroll(ctx, userID, code, paypalMeLink)
		if err == nil {
			return enrollment, nil
		}
		if errors.Is(err, errCodeTaken) {
			continue
		}
		return nil, err
	}

	return nil, ErrCodeCollision
}

// errCodeTaken signals a code collision inside tryEnroll
var errCodeTaken = errors.New("referral code already taken")

func (s *Service) tryEnroll(ctx context.Context, userID, code, paypalMeLink string) (*Enrollment, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Compare: the user must not be enrolled yet
	var existing sql.NullString
	err = tx.QueryRowContext(ctx,
		`SELECT referral_code FROM user_profiles WHERE id = $1 FOR UPDATE`, userID,
	).Scan(&existing)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("profile not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read profile: %w", err)
	}
	if existing.Valid && existing.String != "" {
		return nil, ErrAlreadyEnrolled
	}

	// Collision check against all issued codes
	var taken bool
	err = tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM user_profiles WHERE referral_code = $1)`, code,
	).Scan(&taken)
	if err != nil {
		return nil, fmt.Errorf("failed to check code: %w", err)
	}
	if taken {
		return nil, errCodeTaken
	}

	var createdAt time.Time
	err = tx.QueryRowContext(ctx, `
		UPDATE user_profiles
		SET referral_code = $1, referral_paypal_me_link = $2, referral_enrolled_at = NOW(), updated_at = NOW()
		WHERE id = $3
		RETURNING referral_enrolled_at
	`, code, paypalMeLink, userID).Scan(&createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to enroll: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit enrollment: %w", err)
	}

	return &Enrollment{
		Code:         code,
		PayPalMeLink: paypalMeLink,
		CreatedAt:    createdAt,
	}, nil
}

// generateCode produces a 20-character alphanumeric code
func generateCode() (string, error) {
	buf := make([]byte, codeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate random code: %w", err)
	}
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(buf), nil
}
