package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/abelbrown/contestare/internal/payment"
)

// Contracts

func (s *Server) handleListContracts(c *gin.Context) {
	var premium *bool
	if v, ok := c.GetQuery("is_premium"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			badRequest(c, "is_premium must be true or false")
			return
		}
		premium = &b
	}
	list, err := s.svc.Catalog.List(c.Request.Context(), c.Query("category"), premium)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (s *Server) handleGetContract(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	ct, err := s.svc.Catalog.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ct)
}

func (s *Server) handleCategories(c *gin.Context) {
	cats, err := s.svc.Catalog.Categories(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cats)
}

func (s *Server) handlePopular(c *gin.Context) {
	list, err := s.svc.Catalog.Popular(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (s *Server) handlePurchaseContract(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	p, err := s.svc.Catalog.Buy(c.Request.Context(), mustUser(c).ID, id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"message":       "contract purchased",
		"user_contract": p.UserContract,
		"contract":      p.Contract,
	})
}

func (s *Server) handleMyContracts(c *gin.Context) {
	list, err := s.svc.Catalog.Mine(c.Request.Context(), mustUser(c).ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (s *Server) handleMyContract(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	uc, err := s.svc.Catalog.Owned(c.Request.Context(), mustUser(c).ID, id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, uc)
}

type customizeRequest struct {
	Content *string `json:"customized_content"`
}

func (s *Server) handleCustomizeContract(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	var in customizeRequest
	if !bindJSON(c, &in) {
		return
	}
	ctx, userID := c.Request.Context(), mustUser(c).ID

	if in.Content == nil {
		uc, err := s.svc.Catalog.Owned(ctx, userID, id)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "nothing to change", "user_contract": uc})
		return
	}

	uc, err := s.svc.Catalog.Customize(ctx, userID, id, *in.Content)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "contract customized", "user_contract": uc})
}

func (s *Server) handleDownloadContract(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	uc, err := s.svc.Catalog.Download(c.Request.Context(), mustUser(c).ID, id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":        "download recorded",
		"content":        uc.CustomizedContent,
		"download_count": uc.DownloadCount,
	})
}

// Payments

func (s *Server) handlePixPayment(c *gin.Context) {
	var in payment.Request
	if !bindJSON(c, &in) {
		return
	}
	res, err := s.svc.Payment.Pix(c.Request.Context(), mustUser(c).ID, in)
	s.writePayment(c, res, err)
}

func (s *Server) handleCardPayment(c *gin.Context) {
	var in payment.CardRequest
	if !bindJSON(c, &in) {
		return
	}
	res, err := s.svc.Payment.Card(c.Request.Context(), mustUser(c).ID, in)
	s.writePayment(c, res, err)
}

func (s *Server) handleSimulatePayment(c *gin.Context) {
	var in payment.SimulateRequest
	// An empty body takes every default.
	if c.Request.ContentLength != 0 && !bindJSON(c, &in) {
		return
	}
	res, err := s.svc.Payment.Simulate(c.Request.Context(), mustUser(c).ID, in)
	s.writePayment(c, res, err)
}

// writePayment answers 200 for an approved charge and 400 for a rejected
// one; both carry the stored payment.
func (s *Server) writePayment(c *gin.Context, res *payment.Result, err error) {
	if err != nil {
		writeError(c, err)
		return
	}
	status := http.StatusOK
	if !res.Approved() {
		status = http.StatusBadRequest
	}
	c.JSON(status, res)
}

func (s *Server) handleListPayments(c *gin.Context) {
	list, err := s.svc.Payment.List(c.Request.Context(), mustUser(c).ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (s *Server) handleGetPayment(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	p, err := s.svc.Payment.Get(c.Request.Context(), mustUser(c).ID, id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) handleSubscription(c *gin.Context) {
	sub, err := s.svc.Payment.Subscription(c.Request.Context(), mustUser(c).ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sub)
}

func (s *Server) handleCancelSubscription(c *gin.Context) {
	sub, err := s.svc.Payment.Cancel(c.Request.Context(), mustUser(c).ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "subscription cancelled", "subscription": sub})
}

func (s *Server) handlePricing(c *gin.Context) {
	c.JSON(http.StatusOK, s.svc.Payment.Pricing())
}
