package server

import (
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
)

// TeamEntitlements resolves the merged entitlements for an app and
// team. The appId in the route must match the app the credential is
// bound to.
func (s *Server) TeamEntitlements(c *gin.Context) {
	identity := identityFrom(c)
	if identity == nil {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	appID, err := snowflake.ParseString(c.Param("appId"))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	teamID, err := snowflake.ParseString(c.Param("teamId"))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	if appID != identity.AppID {
		AbortWithError(c, ErrForbidden)
		return
	}

	entitlements, err := s.entitlements.Resolve(c.Request.Context(), appID, teamID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"app_id":       appID.String(),
		"team_id":      teamID.String(),
		"entitlements": entitlements,
	})
}
