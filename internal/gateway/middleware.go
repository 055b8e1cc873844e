package gateway

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/tu2l/identity-platform/internal/autherr"
	"github.com/tu2l/identity-platform/internal/models"
	"github.com/tu2l/identity-platform/internal/token"
)

const bearerPrefix = "Bearer "

const requestTypeKey = "request_type"

// RevocationChecker answers whether a token id has been denylisted.
type RevocationChecker interface {
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// Classify runs before any authentication check. It strips inbound copies
// of the internal headers so clients cannot spoof them, writes the verdict
// onto the request, and records it in the gin context so the auth stage
// never re-derives it.
func Classify(classifier *Classifier, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		for _, h := range []string{HeaderRequestType, HeaderUserID, HeaderUserEmail, HeaderUserRole} {
			c.Request.Header.Del(h)
		}

		verdict := classifier.Classify(c.Request.URL.Path)
		c.Request.Header.Set(HeaderRequestType, string(verdict))
		c.Set(requestTypeKey, verdict)

		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Str("request_type", string(verdict)).
			Msg("request classified")

		c.Next()
	}
}

// Auth consumes the classification verdict. Public requests pass through
// untouched. Protected requests need a bearer access token that verifies,
// has not been revoked, and carries the full identity claim set; the
// outbound request is then rewritten with the derived identity headers.
// Every failure path fails closed.
func Auth(codec *token.Codec, revoked RevocationChecker, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		// The verdict is taken only from the context key the
		// classification stage sets. The X-Request-Type header is
		// client-reachable and is never trusted here.
		verdict := RequestTypeUndefined
		if v, ok := c.Get(requestTypeKey); ok {
			if rt, ok := v.(RequestType); ok {
				verdict = rt
			}
		}

		// An absent or corrupted verdict means the classification stage
		// never ran: the gateway's own pipeline is broken. Never treat
		// this as public.
		if verdict == RequestTypeUndefined {
			log.Error().
				Err(autherr.ErrRequestTypeMisconfigured).
				Str("method", c.Request.Method).
				Str("path", c.Request.URL.Path).
				Msg("missing or invalid request classification")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal_server_error"})
			return
		}

		if verdict == RequestTypePublic {
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" || !strings.HasPrefix(authHeader, bearerPrefix) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_auth_header"})
			return
		}
		tokenStr := strings.TrimPrefix(authHeader, bearerPrefix)

		claims, err := codec.Verify(tokenStr)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_token"})
			return
		}

		// Only access tokens grant API access; a refresh or recovery
		// token presented here is rejected outright.
		if claims.TokenType != models.TokenTypeAccess {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_token"})
			return
		}
		if claims.UserID == "" || claims.Email == "" || claims.Role == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_token"})
			return
		}

		isRevoked, err := revoked.IsRevoked(c.Request.Context(), claims.ID)
		if err != nil {
			log.Error().Err(err).Msg("revocation check failed")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_token"})
			return
		}
		if isRevoked {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_token"})
			return
		}

		c.Request.Header.Set(HeaderUserID, claims.UserID)
		c.Request.Header.Set(HeaderUserEmail, claims.Email)
		c.Request.Header.Set(HeaderUserRole, claims.Role)

		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Str("email", claims.Email).
			Msg("protected request authenticated")

		c.Next()
	}
}
