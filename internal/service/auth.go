package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/iliyamo/parking-reservation/internal/identity"
	"github.com/iliyamo/parking-reservation/internal/model"
	"github.com/iliyamo/parking-reservation/internal/repository"
	"github.com/iliyamo/parking-reservation/internal/utils"
)

// RegisterInput creates an account. Role defaults to DRIVER.
type RegisterInput struct {
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,min=8,max=72"`
	Name     string `json:"name" validate:"max=100"`
	Role     string `json:"role" validate:"omitempty,oneof=DRIVER STAFF"`
}

// LoginInput carries credentials.
type LoginInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// ProfileInput is the editable part of the profile.
type ProfileInput struct {
	Name string `json:"name" validate:"required,max=100"`
}

// AuthResult is returned by register, login and refresh.
type AuthResult struct {
	User    model.User
	Session identity.Session
	Access  utils.AccessToken
	Refresh utils.RefreshToken
}

// Register creates a user, opens an identity session and issues a token
// pair. STAFF accounts can only be self-registered when the deployment
// allows it.
func (s *Service) Register(ctx context.Context, in RegisterInput) (AuthResult, error) {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Name = strings.TrimSpace(in.Name)
	in.Role = strings.ToUpper(strings.TrimSpace(in.Role))
	if err := s.check(in); err != nil {
		return AuthResult{}, err
	}
	role := model.RoleDriver
	if model.Role(in.Role) == model.RoleStaff {
		if !s.opts.AllowStaffSignup {
			return AuthResult{}, fmt.Errorf("%w: staff accounts cannot self-register", repository.ErrForbidden)
		}
		role = model.RoleStaff
	}
	hash, err := utils.HashPassword(in.Password, s.opts.BcryptCost)
	if err != nil {
		return AuthResult{}, err
	}
	now := s.clock()
	u := model.User{
		ID:           uuid.NewString(),
		Email:        in.Email,
		Name:         defaultString(in.Name, strings.SplitN(in.Email, "@", 2)[0]),
		PasswordHash: hash,
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		return AuthResult{}, err
	}
	return s.openIdentity(ctx, u)
}

// Login verifies credentials and opens a new identity session. Unknown
// emails and wrong passwords are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, in LoginInput) (AuthResult, error) {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if err := s.check(in); err != nil {
		return AuthResult{}, err
	}
	u, err := s.store.GetUserByEmail(ctx, in.Email)
	if errors.Is(err, repository.ErrNotFound) {
		return AuthResult{}, fmt.Errorf("%w: invalid credentials", repository.ErrUnauthorized)
	}
	if err != nil {
		return AuthResult{}, err
	}
	if !utils.VerifyPassword(u.PasswordHash, in.Password) {
		return AuthResult{}, fmt.Errorf("%w: invalid credentials", repository.ErrUnauthorized)
	}
	return s.openIdentity(ctx, u)
}

// Refresh rotates a refresh token. The old token is revoked, the identity
// session is extended and a new pair is issued for the same session.
func (s *Service) Refresh(ctx context.Context, raw string) (AuthResult, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return AuthResult{}, fmt.Errorf("%w: refresh_token required", repository.ErrValidation)
	}
	hash := utils.HashRefreshRaw(raw)
	tok, err := s.store.ValidateRefresh(ctx, hash, s.clock())
	if err != nil {
		return AuthResult{}, err
	}
	u, err := s.store.GetUserByID(ctx, tok.UserID)
	if err != nil {
		return AuthResult{}, err
	}
	if err := s.store.RevokeRefresh(ctx, hash, s.clock()); err != nil {
		return AuthResult{}, err
	}
	sess, err := s.ids.Refresh(ctx, tok.SessionID, u, s.opts.RefreshTTL)
	if err != nil {
		return AuthResult{}, err
	}
	return s.issue(ctx, u, sess)
}

// Logout revokes every refresh token of the session and invalidates it,
// which also tears down its realtime feeds.
func (s *Service) Logout(ctx context.Context, who identity.Session) error {
	if err := s.store.RevokeSessionTokens(ctx, who.ID, s.clock()); err != nil {
		return err
	}
	return s.ids.Invalidate(ctx, who.ID)
}

// Authenticate resolves a raw access token to its live identity session.
func (s *Service) Authenticate(ctx context.Context, rawAccess string) (identity.Session, error) {
	claims, err := utils.ParseAccessToken(s.opts.JWTSecret, rawAccess)
	if err != nil {
		return identity.Session{}, fmt.Errorf("%w: %v", repository.ErrUnauthorized, err)
	}
	sess, err := s.ids.Resolve(ctx, claims.SessionID)
	if err != nil {
		return identity.Session{}, err
	}
	if sess.UserID != claims.UserID {
		return identity.Session{}, fmt.Errorf("%w: token does not match session", repository.ErrUnauthorized)
	}
	return sess, nil
}

// Profile returns the caller's account.
func (s *Service) Profile(ctx context.Context, who identity.Session) (model.User, error) {
	return s.store.GetUserByID(ctx, who.UserID)
}

// UpdateProfile changes the caller's display name.
func (s *Service) UpdateProfile(ctx context.Context, who identity.Session, in ProfileInput) (model.User, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := s.check(in); err != nil {
		return model.User{}, err
	}
	return s.store.UpdateUserName(ctx, who.UserID, in.Name, s.clock())
}

func (s *Service) openIdentity(ctx context.Context, u model.User) (AuthResult, error) {
	sess, err := s.ids.Open(ctx, u, s.opts.RefreshTTL)
	if err != nil {
		return AuthResult{}, err
	}
	return s.issue(ctx, u, sess)
}

func (s *Service) issue(ctx context.Context, u model.User, sess identity.Session) (AuthResult, error) {
	access, err := utils.NewAccessToken(s.opts.JWTSecret, u.ID, string(u.Role), sess.ID, s.opts.AccessTTL)
	if err != nil {
		return AuthResult{}, err
	}
	refresh, err := utils.NewRefreshToken(s.opts.RefreshTTL)
	if err != nil {
		return AuthResult{}, err
	}
	err = s.store.StoreRefresh(ctx, model.RefreshToken{
		UserID:    u.ID,
		SessionID: sess.ID,
		TokenHash: utils.HashRefreshRaw(refresh.Raw),
		ExpiresAt: refresh.Exp,
	})
	if err != nil {
		return AuthResult{}, err
	}
	return AuthResult{User: u, Session: sess, Access: access, Refresh: refresh}, nil
}
