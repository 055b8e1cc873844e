package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (h HandlerSet) AdminGetUser(c *gin.Context) {
	username := c.Param("username")

	user, err := h.userService.GetByUsername(c.Request.Context(), username)
	if err != nil {
		h.abortWithError(c, err)
		return
	}

	resp := gin.H{"user": newUserResponse(user)}
	if cred, ok, err := h.userService.LatestCredential(c.Request.Context(), username); err == nil && ok {
		resp["currentSession"] = gin.H{
			"tokenType": cred.TokenType,
			"issuedAt":  cred.IssuedAt,
			"expiresAt": cred.ExpiresAt,
		}
	}

	c.JSON(http.StatusOK, resp)
}

func (h HandlerSet) AdminUnlockUser(c *gin.Context) {
	if err := h.userService.Unlock(c.Request.Context(), c.Param("username")); err != nil {
		h.abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "account unlocked"})
}

func (h HandlerSet) AdminDeleteUser(c *gin.Context) {
	if err := h.userService.Delete(c.Request.Context(), c.Param("username")); err != nil {
		h.abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "account deleted"})
}
