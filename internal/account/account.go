// Package account handles sign-up, sign-in and profile management.
package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ashureev/fincomply/internal/apperr"
	"github.com/ashureev/fincomply/internal/domain"
	"github.com/ashureev/fincomply/internal/store"
	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"
)

// Users is the persistence the account service needs.
type Users interface {
	CreateUser(ctx context.Context, user *domain.User) error
	GetUser(ctx context.Context, userID string) (*domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	UpdateUserName(ctx context.Context, userID, name string) error
	GetProfile(ctx context.Context, userID string) (*domain.Profile, error)
	UpsertProfile(ctx context.Context, profile *domain.Profile) error
}

// SignupInput is the sign-up request.
type SignupInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
	Name     string `json:"name" validate:"max=120"`
}

// LoginInput is the sign-in request.
type LoginInput struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// ProfileInput updates the user name and company profile. Empty fields clear them.
type ProfileInput struct {
	Name           string `json:"name" validate:"max=120"`
	CompanyStatus  string `json:"companyStatus" validate:"omitempty,oneof=listed unlisted"`
	IndustrySector string `json:"industrySector" validate:"max=120"`
	CompanySize    string `json:"companySize" validate:"omitempty,oneof=small medium large"`
}

// Service implements account operations.
type Service struct {
	users    Users
	validate *validator.Validate
	cost     int
}

// NewService creates an account service.
func NewService(users Users) *Service {
	return &Service{
		users:    users,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		cost:     bcrypt.DefaultCost,
	}
}

// Signup creates a user with an empty profile.
func (s *Service) Signup(ctx context.Context, in SignupInput) (*domain.User, error) {
	in.Email = domain.NormalizeEmail(in.Email)
	in.Name = strings.TrimSpace(in.Name)
	if err := s.validate.Struct(in); err != nil {
		return nil, validationError(err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cost)
	if err != nil {
		return nil, apperr.Internal("hash password", err)
	}

	user := &domain.User{
		Email:        in.Email,
		PasswordHash: string(hash),
		Name:         in.Name,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, apperr.Conflict("User already exists")
		}
		return nil, apperr.Internal("create user", err)
	}

	if err := s.users.UpsertProfile(ctx, &domain.Profile{UserID: user.ID}); err != nil {
		slog.Warn("failed to create empty profile", "user_id", user.ID, "error", err)
	}
	return user, nil
}

// Login checks credentials.
func (s *Service) Login(ctx context.Context, in LoginInput) (*domain.User, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, apperr.InvalidRequest("Email and password are required")
	}

	user, err := s.users.GetUserByEmail(ctx, in.Email)
	if err != nil {
		return nil, apperr.Internal("find user", err)
	}
	if user == nil {
		return nil, apperr.Unauthenticated("Invalid credentials")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(in.Password)); err != nil {
		return nil, apperr.Unauthenticated("Invalid credentials")
	}
	return user, nil
}

// ProfileView is a user with their profile, which may be absent.
type ProfileView struct {
	User    *domain.User
	Profile *domain.Profile
}

// Profile returns the user and profile.
func (s *Service) Profile(ctx context.Context, userID string) (*ProfileView, error) {
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return nil, apperr.Internal("find user", err)
	}
	if user == nil {
		return nil, apperr.NotFound("User not found")
	}
	profile, err := s.users.GetProfile(ctx, userID)
	if err != nil {
		return nil, apperr.Internal("find profile", err)
	}
	return &ProfileView{User: user, Profile: profile}, nil
}

// UpdateProfile sets the user name and upserts the company profile.
func (s *Service) UpdateProfile(ctx context.Context, userID string, in ProfileInput) (*ProfileView, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.IndustrySector = strings.TrimSpace(in.IndustrySector)
	if err := s.validate.Struct(in); err != nil {
		return nil, validationError(err)
	}

	if err := s.users.UpdateUserName(ctx, userID, in.Name); err != nil {
		if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrInvalidID) {
			return nil, apperr.NotFound("User not found")
		}
		return nil, apperr.Internal("update user", err)
	}

	if err := s.users.UpsertProfile(ctx, &domain.Profile{
		UserID:         userID,
		CompanyStatus:  in.CompanyStatus,
		IndustrySector: in.IndustrySector,
		CompanySize:    in.CompanySize,
	}); err != nil {
		return nil, apperr.Internal("update profile", err)
	}
	return s.Profile(ctx, userID)
}

// validationError turns validator output into a readable InvalidRequest.
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return apperr.InvalidRequest("invalid request")
	}
	fe := verrs[0]
	field := strings.ToLower(fe.Field()[:1]) + fe.Field()[1:]
	switch fe.Tag() {
	case "required":
		return apperr.InvalidRequest(fmt.Sprintf("%s is required", field))
	case "email":
		return apperr.InvalidRequest("email must be a valid email address")
	case "min":
		return apperr.InvalidRequest(fmt.Sprintf("%s must be at least %s characters", field, fe.Param()))
	case "oneof":
		return apperr.InvalidRequest(fmt.Sprintf("%s must be one of: %s", field, fe.Param()))
	default:
		return apperr.InvalidRequest(fmt.Sprintf("%s is invalid", field))
	}
}
