package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"

	usagedomain "github.com/meterline/meterline/internal/usage/domain"
)

func (s *Server) IngestUsage(c *gin.Context) {
	identity := identityFrom(c)
	if identity == nil {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req usagedomain.IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	// The app identity comes from the credential, never the body.
	req.AppID = identity.AppID

	if s.limiter.Enabled() {
		result, err := s.limiter.AllowTeam(c.Request.Context(), req.TeamID)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		if !result.Allowed {
			s.obsMetrics.RecordRateLimitDenied()
			c.Header("Retry-After", strconv.Itoa(int(result.RetryAfter/time.Second)+1))
			AbortWithError(c, ErrRateLimited)
			return
		}

		token, locked, err := s.limiter.TryLockIngest(c.Request.Context(), req.AppID, req.TeamID)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		if !locked {
			s.obsMetrics.RecordRateLimitDenied()
			AbortWithError(c, ErrRateLimited)
			return
		}
		defer func() {
			_ = s.limiter.ReleaseIngest(c.Request.Context(), req.AppID, req.TeamID, token)
		}()
	}

	result, err := s.usageSvc.IngestBatch(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.obsMetrics.RecordUsageAccepted(result.Accepted)

	c.JSON(http.StatusOK, result)
}

func (s *Server) TeamUsage(c *gin.Context) {
	teamID, err := snowflake.ParseString(c.Param("teamId"))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	from, to, err := windowParams(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	groupBy := usagedomain.GroupBy(c.DefaultQuery("group_by", string(usagedomain.GroupByMeter)))

	buckets, err := s.usageSvc.Aggregate(c.Request.Context(), teamID, from, to, groupBy)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"team_id":  teamID.String(),
		"from":     from,
		"to":       to,
		"group_by": groupBy,
		"buckets":  buckets,
	})
}

func (s *Server) TeamCogs(c *gin.Context) {
	teamID, err := snowflake.ParseString(c.Param("teamId"))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	from, to, err := windowParams(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	buckets, err := s.usageSvc.Cogs(c.Request.Context(), teamID, from, to)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"team_id": teamID.String(),
		"from":    from,
		"to":      to,
		"buckets": buckets,
	})
}

// windowParams parses the half-open [from, to) query window.
func windowParams(c *gin.Context) (time.Time, time.Time, error) {
	from, err := time.Parse(time.RFC3339, c.Query("from"))
	if err != nil {
		return time.Time{}, time.Time{}, ErrInvalidRequest
	}
	to, err := time.Parse(time.RFC3339, c.Query("to"))
	if err != nil {
		return time.Time{}, time.Time{}, ErrInvalidRequest
	}
	return from, to, nil
}
