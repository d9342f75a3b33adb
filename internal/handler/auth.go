package handler

import (
	"net/http" // HTTP status codes
	"strings"  // trimming the refresh token
	"time"     // token expiry timestamps

	"github.com/labstack/echo/v4" // Echo framework for HTTP routing

	"github.com/iliyamo/parking-reservation/internal/model"   // user returned with tokens
	"github.com/iliyamo/parking-reservation/internal/service" // auth use cases
)

// AuthHandler serves registration, login, token rotation and the profile.
type AuthHandler struct {
	Svc *service.Service
}

func NewAuthHandler(svc *service.Service) *AuthHandler { return &AuthHandler{Svc: svc} }

// ----- DTOs -----

type refreshReq struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenPart struct {
	Token   string    `json:"token"`
	Expires time.Time `json:"expires"`
}

type authResp struct {
	User      model.User `json:"user"`
	SessionID string     `json:"session_id"`
	Access    tokenPart  `json:"access"`
	Refresh   tokenPart  `json:"refresh"`
}

func toAuthResp(r service.AuthResult) authResp {
	return authResp{
		User:      r.User,
		SessionID: r.Session.ID,
		Access:    tokenPart{Token: r.Access.Token, Expires: r.Access.Exp},
		Refresh:   tokenPart{Token: r.Refresh.Raw, Expires: r.Refresh.Exp},
	}
}

// Register: create the account and return tokens immediately.
func (h *AuthHandler) Register(c echo.Context) error {
	var req service.RegisterInput
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	res, err := h.Svc.Register(ctx, req)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, toAuthResp(res))
}

// Login: verify credentials and open a new session.
func (h *AuthHandler) Login(c echo.Context) error {
	var req service.LoginInput
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	res, err := h.Svc.Login(ctx, req)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, toAuthResp(res))
}

// Refresh: rotate the refresh token and extend the session.
func (h *AuthHandler) Refresh(c echo.Context) error {
	var req refreshReq
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.RefreshToken) == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "refresh_token required"})
	}
	// the old token is revoked by the rotation; replaying it fails with 401
	ctx, cancel := reqCtx(c)
	defer cancel()
	res, err := h.Svc.Refresh(ctx, strings.TrimSpace(req.RefreshToken))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, toAuthResp(res))
}

// Logout ends the caller's session: its refresh tokens are revoked and
// every open feed bound to it is closed.
func (h *AuthHandler) Logout(c echo.Context) error {
	who, err := caller(c)
	if err != nil {
		return fail(c, err)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	// revokes refresh tokens and drops the identity session, which also
	// closes the caller's websocket feeds
	if err := h.Svc.Logout(ctx, who); err != nil {
		return fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Me returns the caller's profile.
func (h *AuthHandler) Me(c echo.Context) error {
	who, err := caller(c)
	if err != nil {
		return fail(c, err)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	u, err := h.Svc.Profile(ctx, who)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, u)
}

// UpdateMe changes the caller's display name.
func (h *AuthHandler) UpdateMe(c echo.Context) error {
	who, err := caller(c)
	if err != nil {
		return fail(c, err)
	}
	var req service.ProfileInput
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	u, err := h.Svc.UpdateProfile(ctx, who, req)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, u)
}
