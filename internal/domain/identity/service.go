package identity

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/retinascan/retinascan/internal/platform/auth"
)

var (
	ErrNotFound           = errors.New("user not found")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidInput       = errors.New("invalid input")
)

// registrableRoles lists roles a user may pick at sign-up. Admins are
// provisioned out of band.
var registrableRoles = map[string]bool{
	auth.RolePatient: true,
	auth.RoleDoctor:  true,
}

type Service struct {
	users  UserRepository
	logger zerolog.Logger
}

func NewService(users UserRepository, logger zerolog.Logger) *Service {
	return &Service{users: users, logger: logger}
}

// Register creates an account. Role defaults to PATIENT.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*User, error) {
	name := strings.TrimSpace(req.FullName)
	if name == "" {
		return nil, fmt.Errorf("%w: full_name is required", ErrInvalidInput)
	}
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return nil, err
	}

	role := strings.ToUpper(strings.TrimSpace(req.Role))
	if role == "" {
		role = auth.RolePatient
	}
	if !registrableRoles[role] {
		return nil, fmt.Errorf("%w: role must be PATIENT or DOCTOR", ErrInvalidInput)
	}

	hash, err := auth.HashPassword(req.Password)
	if errors.Is(err, auth.ErrPasswordTooShort) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err != nil {
		return nil, err
	}

	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return nil, ErrEmailTaken
	} else if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("look up email: %w", err)
	}

	u := &User{FullName: name, Email: email, PasswordHash: hash, Role: role}
	if err := s.users.Create(ctx, u); err != nil {
		if errors.Is(err, ErrEmailTaken) {
			return nil, err
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	s.logger.Info().Str("user_id", u.ID.String()).Str("role", u.Role).Msg("user registered")
	return u, nil
}

// Authenticate verifies credentials. Unknown email and wrong password both
// yield ErrInvalidCredentials.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	u, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("look up email: %w", err)
	}
	if !auth.CheckPassword(password, u.PasswordHash) {
		s.logger.Warn().Str("user_id", u.ID.String()).Msg("failed login attempt")
		return nil, ErrInvalidCredentials
	}
	return u, nil
}

func (s *Service) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.users.GetByID(ctx, id)
}

func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", fmt.Errorf("%w: email %q is not valid", ErrInvalidInput, raw)
	}
	return email, nil
}
