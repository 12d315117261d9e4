package server

import (
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"

	apikeydomain "github.com/meterline/meterline/internal/apikey/domain"
	bundledomain "github.com/meterline/meterline/internal/bundle/domain"
	tenantdomain "github.com/meterline/meterline/internal/tenant/domain"
)

func (s *Server) CreateApp(c *gin.Context) {
	var req tenantdomain.CreateAppRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	app, err := s.tenantSvc.CreateApp(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, app)
}

func (s *Server) CreateTeam(c *gin.Context) {
	var req tenantdomain.CreateTeamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	team, err := s.tenantSvc.CreateTeam(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, team)
}

func (s *Server) ProvisionUser(c *gin.Context) {
	var req tenantdomain.ProvisionUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	resp, err := s.tenantSvc.ProvisionUser(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) CreateBundle(c *gin.Context) {
	var req bundledomain.CreateBundleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	bundle, err := s.bundleSvc.CreateBundle(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, bundle)
}

func (s *Server) ListBundles(c *gin.Context) {
	bundles, err := s.bundleSvc.ListBundles(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bundles": bundles})
}

func (s *Server) AttachBundleApp(c *gin.Context) {
	bundleID, err := snowflake.ParseString(c.Param("id"))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	var req bundledomain.AttachAppRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	req.BundleID = bundleID

	attached, err := s.bundleSvc.AttachApp(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, attached)
}

func (s *Server) SetBundlePolicy(c *gin.Context) {
	bundleID, err := snowflake.ParseString(c.Param("id"))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	var req bundledomain.SetMeterPolicyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	req.BundleID = bundleID

	policy, err := s.bundleSvc.SetMeterPolicy(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, policy)
}

func (s *Server) CreateContract(c *gin.Context) {
	var req bundledomain.CreateContractRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	contract, err := s.bundleSvc.CreateContract(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, contract)
}

func (s *Server) CreateAPIKey(c *gin.Context) {
	var req apikeydomain.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	secret, err := s.apiKeySvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.auditAdmin(c, "api_key.created", "api_key", secret.KeyID.String())
	c.JSON(http.StatusOK, secret)
}

func (s *Server) RevokeAPIKey(c *gin.Context) {
	keyID, err := snowflake.ParseString(c.Param("id"))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	if err := s.apiKeySvc.Revoke(c.Request.Context(), keyID); err != nil {
		AbortWithError(c, err)
		return
	}
	s.auditAdmin(c, "api_key.revoked", "api_key", keyID.String())
	c.JSON(http.StatusOK, gin.H{"revoked": true})
}

type generateInvoiceRequest struct {
	TeamID      snowflake.ID `json:"team_id"`
	PeriodStart time.Time    `json:"period_start"`
	PeriodEnd   time.Time    `json:"period_end"`
}

func (s *Server) GenerateInvoice(c *gin.Context) {
	var req generateInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	invoice, err := s.invoiceSvc.Generate(c.Request.Context(), req.TeamID, req.PeriodStart, req.PeriodEnd)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.auditAdmin(c, "invoice.generated", "invoice", invoice.ID.String())
	c.JSON(http.StatusOK, invoice)
}

func (s *Server) GetInvoice(c *gin.Context) {
	invoiceID, err := snowflake.ParseString(c.Param("id"))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	invoice, err := s.invoiceSvc.GetByID(c.Request.Context(), invoiceID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, invoice)
}

func (s *Server) ExportInvoice(c *gin.Context) {
	invoiceID, err := snowflake.ParseString(c.Param("id"))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	document, err := s.invoiceSvc.Export(c.Request.Context(), invoiceID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.auditAdmin(c, "invoice.exported", "invoice", invoiceID.String())

	c.Header("Content-Disposition", `attachment; filename="invoice-`+invoiceID.String()+`.pdf"`)
	c.DataFromReader(http.StatusOK, -1, "application/pdf", document, nil)
}

func (s *Server) PayInvoice(c *gin.Context) {
	invoiceID, err := snowflake.ParseString(c.Param("id"))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	invoice, err := s.invoiceSvc.MarkPaid(c.Request.Context(), invoiceID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.auditAdmin(c, "invoice.paid", "invoice", invoice.ID.String())
	c.JSON(http.StatusOK, invoice)
}

func (s *Server) auditAdmin(c *gin.Context, action, entityType, entityID string) {
	metadata := map[string]any{
		"request_id": c.GetString("request_id"),
		"route":      c.FullPath(),
	}
	if err := s.auditSvc.AuditLog(c.Request.Context(), action, entityType, entityID, "admin", metadata); err != nil {
		s.log.Warn("audit write failed")
	}
}
