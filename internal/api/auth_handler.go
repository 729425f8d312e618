package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"

	"pipeline/internal/accounts"
	"pipeline/internal/api/middleware"
	"pipeline/internal/auth"
	"pipeline/internal/config"
	"pipeline/internal/database"
	"pipeline/internal/errcode"
)

const (
	refreshTokenCookieName         = "refresh_token"
	accessTokenCookieName          = "access_token"
	refreshTokenBlacklistKeyPrefix = "auth:refresh:blacklist:"
)

// AuthHandler 处理注册、登录、刷新、退出与改密。
// redis 为空时跳过登录限流与刷新令牌黑名单。
type AuthHandler struct {
	accounts    *accounts.Service
	authService *auth.AuthService
	redis       redis.UniversalClient
	logger      *slog.Logger
	cfg         config.AuthConfig
	now         func() time.Time
}

func NewAuthHandler(accountsSvc *accounts.Service, authService *auth.AuthService, redisClient redis.UniversalClient, logger *slog.Logger, cfg config.AuthConfig) *AuthHandler {
	return &AuthHandler{
		accounts:    accountsSvc,
		authService: authService,
		redis:       redisClient,
		logger:      logger,
		cfg:         cfg,
		now:         time.Now,
	}
}

type registerRequest struct {
	Username     string `json:"username" binding:"required,min=3,max=32"`
	Email        string `json:"email" binding:"required,email,max=255"`
	Password     string `json:"password" binding:"required,min=8,max=72"`
	ReferralCode string `json:"referralCode" binding:"max=16"`
	Timezone     string `json:"timezone" binding:"max=64"`
}

type tokenResponse struct {
	AccessToken        string         `json:"accessToken"`
	TokenType          string         `json:"tokenType"`
	ExpiresIn          int            `json:"expiresIn"`
	MustChangePassword bool           `json:"mustChangePassword"`
	User               *database.User `json:"user,omitempty"`
}

// Register 创建账号，可附带推荐码，成功后直接登录。
func (h *AuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	timezone := req.Timezone
	if timezone == "" {
		timezone = c.GetHeader(timezoneHeader)
	}

	user, err := h.accounts.Register(c.Request.Context(), accounts.RegisterInput{
		Username:     req.Username,
		Email:        req.Email,
		Password:     req.Password,
		ReferralCode: req.ReferralCode,
		Timezone:     timezone,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	h.issueTokens(c, http.StatusCreated, user)
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login 校验口令并返回 Token。
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	ctx := c.Request.Context()
	username := strings.ToLower(strings.TrimSpace(req.Username))
	logger := middleware.LoggerFromContext(c).With(slog.String("username", username))

	if h.redis != nil {
		// 速率限制：每 IP+用户名 每小时 N 次
		rateKey := "rate:login:" + c.ClientIP() + ":" + username + ":" + h.now().UTC().Format("2006010215")
		count, err := incrWithTTL(ctx, h.redis, rateKey, time.Hour)
		if err != nil {
			logger.Warn("login rate counter unavailable", slog.Any("error", err))
		} else if count > int64(h.cfg.LoginRateLimitPerHour) {
			TooManyRequests(c, "rate limit exceeded")
			return
		}
		if ttl, _ := h.redis.TTL(ctx, loginLockKey(username)).Result(); ttl > 0 {
			TooManyRequests(c, "account temporarily locked")
			return
		}
	}

	user, err := h.accounts.Authenticate(ctx, req.Username, req.Password)
	if err != nil {
		if errors.Is(err, errcode.ErrUnauthorized) {
			logger.Info("login failed")
			h.recordLoginFailure(ctx, username)
		}
		respondError(c, err)
		return
	}

	if h.redis != nil {
		_ = h.redis.Del(ctx, loginFailKey(username)).Err()
	}
	h.issueTokens(c, http.StatusOK, user)
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// Refresh 校验刷新令牌并颁发新的 TokenPair，旧令牌加入黑名单。
func (h *AuthHandler) Refresh(c *gin.Context) {
	ctx := c.Request.Context()
	logger := middleware.LoggerFromContext(c)

	claims, ok := h.validRefreshClaims(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	user, err := h.accounts.Get(ctx, claims.UserID)
	if err != nil {
		logger.Info("refresh user not found", slog.Uint64("user_id", uint64(claims.UserID)))
		AbortUnauthorized(c)
		return
	}

	if err := h.revokeRefreshToken(ctx, claims.ID, claims.ExpiresAt); err != nil {
		logger.Error("refresh revoke old token failed", slog.Any("error", err))
		respondError(c, errcode.Internal("auth.Refresh", err))
		return
	}
	h.issueTokens(c, http.StatusOK, user)
}

// Logout 将刷新令牌加入黑名单并清除 Cookie。无有效令牌时也视为成功。
func (h *AuthHandler) Logout(c *gin.Context) {
	if claims, ok := h.validRefreshClaims(c); ok {
		if err := h.revokeRefreshToken(c.Request.Context(), claims.ID, claims.ExpiresAt); err != nil {
			respondError(c, errcode.Internal("auth.Logout", err))
			return
		}
	}
	h.clearCookie(c, refreshTokenCookieName)
	h.clearCookie(c, accessTokenCookieName)
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" binding:"required"`
	NewPassword     string `json:"newPassword" binding:"required,min=8,max=72"`
	ConfirmPassword string `json:"confirmPassword" binding:"required"`
}

// ChangePassword 校验当前密码并更新为新密码，同时吊销当前刷新令牌。
func (h *AuthHandler) ChangePassword(c *gin.Context) {
	var req changePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	if req.NewPassword != req.ConfirmPassword {
		BadRequest(c, "password confirmation does not match")
		return
	}
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	ctx := c.Request.Context()
	user, err := h.accounts.ChangePassword(ctx, userID, req.CurrentPassword, req.NewPassword)
	if err != nil {
		respondError(c, err)
		return
	}

	if claims, ok := h.validRefreshClaims(c); ok && claims.UserID == userID {
		if err := h.revokeRefreshToken(ctx, claims.ID, claims.ExpiresAt); err != nil {
			respondError(c, errcode.Internal("auth.ChangePassword", err))
			return
		}
	}
	h.issueTokens(c, http.StatusOK, user)
}

func (h *AuthHandler) issueTokens(c *gin.Context, status int, user *database.User) {
	pair, err := h.authService.GenerateTokenPair(auth.Identity{
		UserID:             user.ID,
		IsAdmin:            user.IsAdmin,
		MustChangePassword: user.MustChangePassword,
	})
	if err != nil {
		respondError(c, errcode.Internal("auth.issueTokens", err))
		return
	}
	h.setCookie(c, refreshTokenCookieName, pair.RefreshToken, h.authService.RefreshTokenTTL())
	h.setCookie(c, accessTokenCookieName, pair.AccessToken, h.authService.AccessTokenTTL())
	c.JSON(status, tokenResponse{
		AccessToken:        pair.AccessToken,
		TokenType:          "Bearer",
		ExpiresIn:          int(h.authService.AccessTokenTTL().Seconds()),
		MustChangePassword: user.MustChangePassword,
		User:               user,
	})
}

// validRefreshClaims reads the refresh token from the cookie or body and
// rejects invalid or blacklisted tokens.
func (h *AuthHandler) validRefreshClaims(c *gin.Context) (*auth.TokenClaims, bool) {
	raw := h.extractRefreshToken(c)
	if raw == "" {
		return nil, false
	}
	claims, err := h.authService.ValidateRefreshToken(raw)
	if err != nil || claims.ID == "" {
		return nil, false
	}
	if h.redis == nil {
		return claims, true
	}
	err = h.redis.Get(c.Request.Context(), refreshTokenBlacklistKeyPrefix+claims.ID).Err()
	switch {
	case err == nil:
		return nil, false
	case errors.Is(err, redis.Nil):
		return claims, true
	default:
		// 黑名单不可用时拒绝，宁可让用户重新登录。
		middleware.LoggerFromContext(c).Error("refresh token blacklist lookup failed", slog.Any("error", err))
		return nil, false
	}
}

func (h *AuthHandler) extractRefreshToken(c *gin.Context) string {
	if token, err := c.Cookie(refreshTokenCookieName); err == nil && token != "" {
		return token
	}
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err == nil {
		return strings.TrimSpace(req.RefreshToken)
	}
	return ""
}

func (h *AuthHandler) revokeRefreshToken(ctx context.Context, jti string, expiresAt *jwt.NumericDate) error {
	if h.redis == nil {
		return nil
	}
	ttl := h.authService.RefreshTokenTTL()
	if expiresAt != nil {
		ttl = expiresAt.Time.Sub(h.now())
	}
	if ttl <= 0 {
		ttl = time.Second
	}
	return h.redis.Set(ctx, refreshTokenBlacklistKeyPrefix+jti, "revoked", ttl).Err()
}

func (h *AuthHandler) setCookie(c *gin.Context, name, value string, ttl time.Duration) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     name,
		Value:    value,
		MaxAge:   int(ttl.Seconds()),
		Expires:  h.now().Add(ttl),
		Path:     "/",
		Domain:   strings.TrimSpace(h.cfg.CookieDomain),
		Secure:   isHTTPSRequest(c),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandler) clearCookie(c *gin.Context, name string) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     name,
		Value:    "",
		MaxAge:   -1,
		Path:     "/",
		Domain:   strings.TrimSpace(h.cfg.CookieDomain),
		Secure:   isHTTPSRequest(c),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandler) recordLoginFailure(ctx context.Context, username string) {
	if h.redis == nil {
		return
	}
	count, err := incrWithTTL(ctx, h.redis, loginFailKey(username), h.cfg.LoginLockTTL)
	if err != nil {
		h.logger.Warn("login failure counter unavailable", slog.Any("error", err))
		return
	}
	if count >= int64(h.cfg.LoginLockThreshold) {
		_ = h.redis.Set(ctx, loginLockKey(username), "1", h.cfg.LoginLockTTL).Err()
	}
}

func loginFailKey(username string) string { return "lock:login:fail:" + username }
func loginLockKey(username string) string { return "lock:login:" + username }

func isHTTPSRequest(c *gin.Context) bool {
	if c.Request.TLS != nil {
		return true
	}
	return strings.EqualFold(c.Request.Header.Get("X-Forwarded-Proto"), "https")
}
