package server

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	apikeydomain "github.com/meterline/meterline/internal/apikey/domain"
)

const contextIdentityKey = "api_identity"

// APIKeyRequired authenticates requests via a bearer API key and stores
// the resolved identity on the gin context. Missing and invalid
// credentials are both 401 but carry distinct messages.
func (s *Server) APIKeyRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			respondError(c, http.StatusUnauthorized, errorPayload{
				Type:    "unauthorized",
				Message: "missing bearer credentials",
			})
			return
		}

		identity, err := s.apiKeySvc.Authenticate(c.Request.Context(), token)
		if err != nil {
			if err == apikeydomain.ErrInvalidKey {
				respondError(c, http.StatusUnauthorized, errorPayload{
					Type:    "unauthorized",
					Message: "invalid bearer credentials",
				})
				return
			}
			AbortWithError(c, err)
			return
		}

		c.Set(contextIdentityKey, identity)
		c.Next()
	}
}

// RequireScope enforces that the authenticated key carries the scope.
func (s *Server) RequireScope(scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity := identityFrom(c)
		if identity == nil {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		if !identity.HasScope(scope) {
			respondError(c, http.StatusForbidden, errorPayload{
				Type:    "forbidden",
				Message: "Insufficient scopes: " + scope + " required",
			})
			return
		}
		c.Next()
	}
}

// AdminKeyRequired guards the admin surface with the configured static
// key. An unset key reports the surface as not configured rather than
// rejecting the credential.
func (s *Server) AdminKeyRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		configured := strings.TrimSpace(s.cfg.AdminAPIKey)
		if configured == "" {
			AbortWithError(c, ErrAuthNotConfigured)
			return
		}

		token, ok := bearerToken(c)
		if !ok {
			respondError(c, http.StatusUnauthorized, errorPayload{
				Type:    "unauthorized",
				Message: "missing bearer credentials",
			})
			return
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(configured)) != 1 {
			respondError(c, http.StatusUnauthorized, errorPayload{
				Type:    "unauthorized",
				Message: "invalid bearer credentials",
			})
			return
		}
		c.Next()
	}
}

func bearerToken(c *gin.Context) (string, bool) {
	header := strings.TrimSpace(c.GetHeader("Authorization"))
	if header == "" {
		return "", false
	}
	parts := strings.Fields(header)
	if len(parts) != 2 || parts[0] != "Bearer" || strings.TrimSpace(parts[1]) == "" {
		return "", false
	}
	return parts[1], true
}

func identityFrom(c *gin.Context) *apikeydomain.Identity {
	value, ok := c.Get(contextIdentityKey)
	if !ok {
		return nil
	}
	identity, ok := value.(*apikeydomain.Identity)
	if !ok {
		return nil
	}
	return identity
}
