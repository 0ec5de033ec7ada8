package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/appity/backend/internal/db"
	"github.com/appity/backend/internal/model"
	"github.com/appity/backend/internal/service"
	"github.com/appity/backend/internal/session"
	"github.com/gin-gonic/gin"
)

type AuthHandler struct {
	auth    *service.AuthService
	gate    *service.LoginGate
	signups *service.SignupGate
	manager *service.SessionManager
	tokens  *service.TokenService
	otp     *service.OtpExchange
	imp     *service.Impersonation
	cookie  SessionCookie
}

func NewAuthHandler(d Deps, cookie SessionCookie) *AuthHandler {
	return &AuthHandler{
		auth:    d.Auth,
		gate:    d.Gate,
		signups: d.Signups,
		manager: d.Manager,
		tokens:  d.Tokens,
		otp:     d.Otp,
		imp:     d.Impersonation,
		cookie:  cookie,
	}
}

// Login godoc
// @Summary Login with email and password
// @Tags auth
// @Accept json
// @Produce json
// @Param request body model.LoginRequest true "Email, password and remember flag"
// @Success 200 {object} model.CurrentUserResponse
// @Failure 400 {object} model.ErrorResponse
// @Failure 401 {object} model.ErrorResponse
// @Failure 429 {object} model.ErrorResponse
// @Router /api/v1/auth/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req model.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	ctx := c.Request.Context()
	remoteAddr := c.ClientIP()
	if err := h.gate.Check(ctx, req.Email, remoteAddr); err != nil {
		writeAuthError(c, err)
		return
	}

	user, err := h.auth.Verify(ctx, req.Email, req.Password, remoteAddr)
	if err != nil {
		writeAuthError(c, err)
		return
	}
	if err := h.gate.Reset(ctx, req.Email, remoteAddr); err != nil {
		requestLogger(c).WarnContext(ctx, "failed to reset login counters", "error", err)
	}

	h.login(c, user, h.manager.Policy().Duration(req.RememberMe))
}

// Signup godoc
// @Summary Create an account and log in
// @Description Only when ALLOW_SIGNUP is true.
// @Tags auth
// @Accept json
// @Produce json
// @Param request body model.SignupRequest true "New account"
// @Success 200 {object} model.CurrentUserResponse
// @Failure 400 {object} model.ErrorResponse
// @Failure 403 {object} model.ErrorResponse
// @Failure 409 {object} model.ErrorResponse
// @Failure 429 {object} model.ErrorResponse
// @Router /api/v1/auth/signup [post]
func (h *AuthHandler) Signup(c *gin.Context) {
	var req model.SignupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	ctx := c.Request.Context()
	if err := h.signups.Allow(ctx, c.ClientIP()); err != nil {
		writeAuthError(c, err)
		return
	}
	user, err := h.auth.Signup(ctx, req)
	if err != nil {
		writeAuthError(c, err)
		return
	}
	h.login(c, user, 0)
}

func (h *AuthHandler) login(c *gin.Context, user *model.User, ttl time.Duration) {
	ctx := c.Request.Context()
	sess := GetSession(c)
	tok, err := h.manager.TokenLogin(ctx, sess, user, ttl)
	if err != nil {
		writeAuthError(c, err)
		return
	}
	h.cookie.Write(c, sess)
	c.JSON(http.StatusOK, model.CurrentUserResponse{User: h.userInfo(user, tok, sess)})
}

// Logout godoc
// @Summary Logout
// @Description Deletes the presented token and every token of the session.
// @Tags auth
// @Produce json
// @Success 200 {object} model.AuthLogoutResponse
// @Router /api/v1/auth/logout [post]
func (h *AuthHandler) Logout(c *gin.Context) {
	var token *model.AuthToken
	if id := GetIdentity(c); id != nil {
		token = id.Token
	}
	sess := GetSession(c)
	if err := h.manager.Logout(c.Request.Context(), sess, token); err != nil {
		writeAuthError(c, err)
		return
	}
	h.cookie.Write(c, sess)
	c.JSON(http.StatusOK, model.AuthLogoutResponse{Status: "logged_out"})
}

// CurrentUser godoc
// @Summary Get current user
// @Description Returns an empty object for anonymous callers.
// @Tags auth
// @Produce json
// @Security FleioToken
// @Success 200 {object} model.CurrentUserResponse
// @Router /api/v1/auth/current-user [get]
func (h *AuthHandler) CurrentUser(c *gin.Context) {
	id := GetIdentity(c)
	if id == nil {
		c.JSON(http.StatusOK, model.CurrentUserResponse{})
		return
	}

	ctx := c.Request.Context()
	sess := GetSession(c)
	tok, err := h.imp.FrontendTokenForRequest(ctx, c.Request.URL.Path, sess, id.Token)
	if err != nil {
		writeAuthError(c, err)
		return
	}

	user := id.User
	impersonator, impersonating := service.Impersonating(sess)
	if impersonating && tok != nil && tok.UserID != user.ID {
		target, err := h.auth.GetUser(ctx, tok.UserID)
		if err != nil {
			writeAuthError(c, err)
			return
		}
		user = target
	}

	// the caller keeps using their own token
	info := h.userInfo(user, id.Token, sess)
	if impersonating {
		info.Impersonator = &impersonator
	}
	c.JSON(http.StatusOK, model.CurrentUserResponse{User: info})
}

// Extend godoc
// @Summary Rotate the session and its frontend token
// @Tags auth
// @Accept json
// @Produce json
// @Security FleioToken
// @Param request body model.ExtendSessionRequest false "Remember flag"
// @Success 200 {object} model.CurrentUserResponse
// @Failure 401 {object} model.ErrorResponse
// @Failure 409 {object} model.ErrorResponse
// @Router /api/v1/auth/extend [post]
func (h *AuthHandler) Extend(c *gin.Context) {
	var req model.ExtendSessionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
	}

	id := GetIdentity(c)
	sess := GetSession(c)
	tok, err := h.manager.ExtendFrontendSession(c.Request.Context(), id.User, id.Token, sess, req.Remember)
	if err != nil {
		writeAuthError(c, err)
		return
	}
	h.cookie.Write(c, sess)
	c.JSON(http.StatusOK, model.CurrentUserResponse{User: h.userInfo(id.User, tok, sess)})
}

// Otp godoc
// @Summary Create a one-time token for the current token
// @Tags auth
// @Produce json
// @Security FleioToken
// @Success 200 {object} model.OtpResponse
// @Failure 401 {object} model.ErrorResponse
// @Router /api/v1/auth/otp [post]
func (h *AuthHandler) Otp(c *gin.Context) {
	otp, err := h.otp.Generate(c.Request.Context(), GetIdentity(c).Token)
	if err != nil {
		writeAuthError(c, err)
		return
	}
	c.JSON(http.StatusOK, model.OtpResponse{Otp: otp})
}

// Impersonate godoc
// @Summary Act as another user in this session
// @Tags auth
// @Produce json
// @Security FleioToken
// @Param id path int true "User ID"
// @Success 200 {object} model.CurrentUserResponse
// @Failure 400 {object} model.ErrorResponse
// @Failure 403 {object} model.ErrorResponse
// @Failure 404 {object} model.ErrorResponse
// @Router /api/v1/auth/impersonate/{id} [post]
func (h *AuthHandler) Impersonate(c *gin.Context) {
	targetID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	ctx := c.Request.Context()
	id := GetIdentity(c)
	target, err := h.auth.GetUser(ctx, targetID)
	if err != nil {
		writeAuthError(c, err)
		return
	}

	sess := GetSession(c)
	if _, err := h.imp.Start(ctx, id.User, target, sess); err != nil {
		writeAuthError(c, err)
		return
	}
	h.cookie.Write(c, sess)

	info := h.userInfo(target, id.Token, sess)
	info.Impersonator = &id.User.ID
	c.JSON(http.StatusOK, model.CurrentUserResponse{User: info})
}

// StopImpersonation godoc
// @Summary Stop impersonating
// @Tags auth
// @Produce json
// @Security FleioToken
// @Success 200 {object} model.CurrentUserResponse
// @Router /api/v1/auth/impersonate/stop [post]
func (h *AuthHandler) StopImpersonation(c *gin.Context) {
	id := GetIdentity(c)
	sess := GetSession(c)
	if err := h.imp.Stop(c.Request.Context(), sess); err != nil {
		writeAuthError(c, err)
		return
	}
	h.cookie.Write(c, sess)
	c.JSON(http.StatusOK, model.CurrentUserResponse{User: h.userInfo(id.User, id.Token, sess)})
}

// CreateAPIToken godoc
// @Summary Create a labelled API token
// @Description ttl_seconds 0 creates a token that never expires by time.
// @Tags auth
// @Accept json
// @Produce json
// @Security FleioToken
// @Param request body model.APITokenRequest true "Label and lifetime"
// @Success 201 {object} model.APITokenResponse
// @Failure 400 {object} model.ErrorResponse
// @Router /api/v1/auth/tokens [post]
func (h *AuthHandler) CreateAPIToken(c *gin.Context) {
	var req model.APITokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	id := GetIdentity(c)
	ttl := time.Duration(req.TTLSeconds) * time.Second
	tok, err := h.tokens.CreateAPIToken(c.Request.Context(), id.User, req.DisplayName, ttl)
	if err != nil {
		writeAuthError(c, err)
		return
	}
	c.JSON(http.StatusCreated, model.APITokenResponse{
		Token:       tok.Token,
		DisplayName: req.DisplayName,
		ExpireAt:    tok.ExpireAt,
	})
}

func (h *AuthHandler) userInfo(user *model.User, tok *model.AuthToken, sess *session.Session) *model.UserInfo {
	info := &model.UserInfo{
		ID:        user.ID,
		FirstName: user.FirstName,
		LastName:  user.LastName,
		FullName:  user.FullName(),
		Email:     user.Email,
		Language:  user.Language,
		IsStaff:   user.IsStaff,
	}
	if tok != nil {
		ti := h.tokens.Info(tok, sess)
		info.AuthToken = &ti
	}
	return info
}

func writeAuthError(c *gin.Context, err error) {
	var authErr *service.AuthError
	switch {
	case errors.As(err, &authErr):
		c.Header("WWW-Authenticate", service.HeaderScheme)
		c.JSON(http.StatusUnauthorized, gin.H{"error": authErr.Message})
	case errors.Is(err, service.ErrInvalidCredentials):
		c.Header("WWW-Authenticate", service.HeaderScheme)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "incorrect email or password"})
	case errors.Is(err, service.ErrInvalidInput), errors.Is(err, service.ErrNoSession):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, db.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, service.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrRateLimited):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many attempts"})
	case errors.Is(err, session.ErrRedisUnavailable), errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "service unavailable"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server error"})
	}
}
