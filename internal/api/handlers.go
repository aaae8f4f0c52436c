package api

import (
	"bytes"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"referral-ledger/internal/apperr"
	"referral-ledger/internal/ledger"
	"referral-ledger/internal/member"
	"referral-ledger/internal/models"
	"referral-ledger/internal/service"
	"referral-ledger/internal/settlement"
)

const defaultLedgerLimit = 100

type loginRequest struct {
	ID       string `json:"id" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (s *Server) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, apperr.Auth())
		return
	}
	session, err := s.accounts.Login(c.Request.Context(), req.ID, req.Password)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (s *Server) signup(c *gin.Context) {
	var req service.SignupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, apperr.Validation("body", "malformed JSON"))
		return
	}
	m, err := s.accounts.Signup(c.Request.Context(), req)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, m.View())
}

func (s *Server) profile(c *gin.Context) {
	p, err := s.accounts.Profile(c.Request.Context(), currentMember(c).ID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func views(members []models.Member) []models.View {
	out := make([]models.View, len(members))
	for i, m := range members {
		out[i] = m.View()
	}
	return out
}

func (s *Server) listMembers(c *gin.Context) {
	members, err := s.console.Members(c.Request.Context(), currentMember(c).ID, c.Query("q"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, views(members))
}

type createMemberRequest struct {
	ID        string      `json:"id"`
	Password  string      `json:"password"`
	Name      string      `json:"name"`
	Email     string      `json:"email"`
	Phone     string      `json:"phone"`
	Referrer  string      `json:"referrer"`
	Placement string      `json:"placement"`
	Role      models.Role `json:"role"`
}

func (s *Server) createMember(c *gin.Context) {
	var req createMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, apperr.Validation("body", "malformed JSON"))
		return
	}
	m, err := s.console.CreateMember(c.Request.Context(), currentMember(c).ID, member.NewMember{
		ID:        req.ID,
		Password:  req.Password,
		Name:      req.Name,
		Email:     req.Email,
		Phone:     req.Phone,
		Referrer:  req.Referrer,
		Placement: req.Placement,
		Role:      req.Role,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, m.View())
}

func (s *Server) updateMembers(c *gin.Context) {
	var edits []member.Edit
	if err := c.ShouldBindJSON(&edits); err != nil {
		abortWithError(c, apperr.Validation("body", "malformed JSON"))
		return
	}
	members, err := s.console.UpdateMembers(c.Request.Context(), currentMember(c).ID, edits)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, views(members))
}

func (s *Server) deleteMember(c *gin.Context) {
	if err := s.console.DeleteMember(c.Request.Context(), currentMember(c).ID, c.Param("id")); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type passwordRequest struct {
	Password string `json:"password"`
}

func (s *Server) resetPassword(c *gin.Context) {
	var req passwordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, apperr.Validation("body", "malformed JSON"))
		return
	}
	if err := s.console.ResetPassword(c.Request.Context(), currentMember(c).ID, c.Param("id"), req.Password); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type settleRequest struct {
	Target string            `json:"target"`
	Type   models.ActionType `json:"type"`
	Amount decimal.Decimal   `json:"amount"`
	Note   string            `json:"note"`
}

func (s *Server) settle(c *gin.Context) {
	var req settleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, apperr.Validation("body", "malformed request: %v", err))
		return
	}
	res, err := s.console.Settle(c.Request.Context(), currentMember(c).ID, settlement.Request{
		Target: req.Target,
		Type:   req.Type,
		Amount: req.Amount,
		Note:   req.Note,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"member": res.Member.View(), "entry": res.Entry})
}

func (s *Server) queryLedger(c *gin.Context) {
	limit := defaultLedgerLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			abortWithError(c, apperr.Validation("limit", "must be an integer"))
			return
		}
		limit = n
	}
	typ := models.ActionType(c.Query("type"))
	if typ != "" && !typ.Valid() {
		abortWithError(c, apperr.Validation("type", "unknown action type %q", typ))
		return
	}
	entries, err := s.console.Ledger(c.Request.Context(), currentMember(c).ID, ledger.Filter{
		TargetContains: c.Query("target"),
		Type:           typ,
		Limit:          limit,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

func (s *Server) ledgerSummary(c *gin.Context) {
	summary, err := s.console.Summary(c.Request.Context(), currentMember(c).ID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (s *Server) integrity(c *gin.Context) {
	report, err := s.console.Integrity(c.Request.Context(), currentMember(c).ID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"clean":      report.Clean(),
		"dangling":   report.Dangling,
		"self":       report.Self,
		"duplicates": report.Duplicates,
	})
}

func (s *Server) repairReferrers(c *gin.Context) {
	repaired, err := s.console.RepairReferrers(c.Request.Context(), currentMember(c).ID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"repaired": repaired})
}

func (s *Server) recalcReferrals(c *gin.Context) {
	changed, err := s.console.RecalcReferrals(c.Request.Context(), currentMember(c).ID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"changed": changed})
}

func (s *Server) report(c *gin.Context) {
	overview, err := s.console.Report(c.Request.Context(), currentMember(c).ID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, overview)
}

func (s *Server) exportMembers(c *gin.Context) {
	var buf bytes.Buffer
	if err := s.console.ExportMembers(c.Request.Context(), currentMember(c).ID, &buf); err != nil {
		abortWithError(c, err)
		return
	}
	s.sendCSV(c, "members.csv", buf.Bytes())
}

func (s *Server) exportLedger(c *gin.Context) {
	var buf bytes.Buffer
	if err := s.console.ExportLedger(c.Request.Context(), currentMember(c).ID, &buf); err != nil {
		abortWithError(c, err)
		return
	}
	s.sendCSV(c, "ledger.csv", buf.Bytes())
}

func (s *Server) sendCSV(c *gin.Context, name string, data []byte) {
	s.log.Debug("export", zap.String("file", name), zap.Int("bytes", len(data)))
	c.Header("Content-Disposition", `attachment; filename="`+name+`"`)
	c.Data(http.StatusOK, "text/csv; charset=utf-8", data)
}
