package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tu2l/identity-platform/internal/autherr"
	"github.com/tu2l/identity-platform/internal/models"
	"github.com/tu2l/identity-platform/internal/service"
)

type registerRequest struct {
	Username    string `json:"username" binding:"required,min=3,max=64"`
	Email       string `json:"email" binding:"required,email"`
	Password    string `json:"password" binding:"required,min=8"`
	FirstName   string `json:"firstName" binding:"required"`
	MiddleName  string `json:"middleName"`
	LastName    string `json:"lastName" binding:"required"`
	PhoneNumber string `json:"phoneNumber"`
}

type authenticateRequest struct {
	Username   string `json:"username" binding:"required"`
	Password   string `json:"password" binding:"required"`
	RememberMe bool   `json:"rememberMe"`
}

type refreshRequest struct {
	Username     string `json:"username" binding:"required"`
	RefreshToken string `json:"refreshToken" binding:"required"`
}

type forgotPasswordRequest struct {
	Email string `json:"email" binding:"required,email"`
}

type resetPasswordRequest struct {
	Token       string `json:"token" binding:"required"`
	NewPassword string `json:"newPassword" binding:"required,min=8"`
}

type authResponse struct {
	AccessToken  string       `json:"accessToken"`
	RefreshToken string       `json:"refreshToken"`
	ExpiresAt    time.Time    `json:"expiresAt"`
	User         userResponse `json:"user"`
}

type userResponse struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	Email         string `json:"email"`
	Role          string `json:"role"`
	FullName      string `json:"fullName,omitempty"`
	EmailVerified bool   `json:"emailVerified"`
}

func newUserResponse(user models.User) userResponse {
	resp := userResponse{
		ID:       user.ID,
		Username: user.Username,
		Email:    user.Email,
		Role:     string(user.Role),
	}
	if user.Profile != nil {
		resp.FullName = user.Profile.FullName()
	}
	if user.Status != nil {
		resp.EmailVerified = user.Status.EmailVerified
	}
	return resp
}

func newAuthResponse(result service.AuthResult) authResponse {
	return authResponse{
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		ExpiresAt:    result.AccessExpiresAt,
		User:         newUserResponse(result.User),
	}
}

func (h HandlerSet) RegisterUser(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "detail": err.Error()})
		return
	}

	result, err := h.authService.Register(c.Request.Context(), service.RegisterInput{
		Username:    req.Username,
		Email:       req.Email,
		Password:    req.Password,
		FirstName:   req.FirstName,
		MiddleName:  req.MiddleName,
		LastName:    req.LastName,
		PhoneNumber: req.PhoneNumber,
	})
	if err != nil {
		h.abortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, newAuthResponse(result))
}

func (h HandlerSet) Authenticate(c *gin.Context) {
	var req authenticateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "detail": err.Error()})
		return
	}

	result, err := h.authService.Authenticate(c.Request.Context(), req.Username, req.Password, req.RememberMe)
	if err != nil {
		h.abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, newAuthResponse(result))
}

func (h HandlerSet) RefreshToken(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "detail": err.Error()})
		return
	}

	result, err := h.authService.RefreshToken(c.Request.Context(), req.RefreshToken, req.Username)
	if err != nil {
		h.abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, newAuthResponse(result))
}

func (h HandlerSet) Logout(c *gin.Context) {
	tokenStr, ok := bearerToken(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_auth_header"})
		return
	}

	if err := h.authService.Logout(c.Request.Context(), tokenStr); err != nil {
		h.abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

func (h HandlerSet) ForgotPassword(c *gin.Context) {
	var req forgotPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "detail": err.Error()})
		return
	}

	if err := h.authService.ForgotPassword(c.Request.Context(), req.Email); err != nil {
		h.abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "password reset mail sent"})
}

func (h HandlerSet) ResetPassword(c *gin.Context) {
	var req resetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "detail": err.Error()})
		return
	}

	if err := h.authService.ResetPassword(c.Request.Context(), req.Token, req.NewPassword); err != nil {
		h.abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "password reset"})
}

func (h HandlerSet) VerifyEmail(c *gin.Context) {
	tokenStr := c.Query("token")
	if tokenStr == "" {
		var ok bool
		tokenStr, ok = bearerToken(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_auth_header"})
			return
		}
	}

	if err := h.authService.VerifyEmail(c.Request.Context(), tokenStr); err != nil {
		h.abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "email verified"})
}

func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return "", false
	}
	tokenStr := strings.TrimPrefix(header, "Bearer ")
	if tokenStr == "" {
		return "", false
	}
	return tokenStr, true
}

// abortWithError translates the service error taxonomy into a wire status.
// Anything outside the taxonomy is a server fault; the detail stays in the
// log and the client sees a generic body.
func (h HandlerSet) abortWithError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, autherr.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_credentials"})
	case errors.Is(err, autherr.ErrAccountLocked):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "account_locked"})
	case errors.Is(err, autherr.ErrAccountDisabled):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "account_disabled"})
	case errors.Is(err, autherr.ErrInvalidToken):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token"})
	case errors.Is(err, autherr.ErrInvalidAuthHeader):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_auth_header"})
	case errors.Is(err, autherr.ErrAlreadyExists):
		c.JSON(http.StatusBadRequest, gin.H{"error": "already_exists"})
	case errors.Is(err, autherr.ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "user_not_found"})
	case errors.Is(err, autherr.ErrWriteConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "write_conflict"})
	default:
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_server_error"})
	}
}
