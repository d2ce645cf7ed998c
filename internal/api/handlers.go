package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/abelbrown/contestare/internal/auth"
	"github.com/abelbrown/contestare/internal/contest"
)

func (s *Server) handleHealth(c *gin.Context) {
	if err := s.store.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": "database unreachable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(s.started).Round(time.Second).String(),
	})
}

// Auth

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleRegister(c *gin.Context) {
	var in auth.RegisterInput
	if !bindJSON(c, &in) {
		return
	}
	u, sess, err := s.svc.Auth.Register(c.Request.Context(), in)
	if err != nil {
		writeError(c, err)
		return
	}
	s.setSessionCookie(c, sess.Token, s.sessions)
	c.JSON(http.StatusCreated, gin.H{
		"message": "user created",
		"user":    u,
		"token":   sess.Token,
	})
}

func (s *Server) handleLogin(c *gin.Context) {
	var in loginRequest
	if !bindJSON(c, &in) {
		return
	}
	u, sess, err := s.svc.Auth.Login(c.Request.Context(), in.Username, in.Password)
	if err != nil {
		writeError(c, err)
		return
	}
	s.setSessionCookie(c, sess.Token, s.sessions)
	c.JSON(http.StatusOK, gin.H{
		"message": "logged in",
		"user":    u,
		"token":   sess.Token,
	})
}

func (s *Server) handleLogout(c *gin.Context) {
	if err := s.svc.Auth.Logout(c.Request.Context(), s.sessionToken(c)); err != nil {
		writeError(c, err)
		return
	}
	s.clearSessionCookie(c)
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

func (s *Server) handleMe(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"user": mustUser(c)})
}

func (s *Server) handleUpdateProfile(c *gin.Context) {
	var in auth.ProfileInput
	if !bindJSON(c, &in) {
		return
	}
	u, err := s.svc.Auth.UpdateProfile(c.Request.Context(), mustUser(c).ID, in)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "profile updated", "user": u})
}

// Infractions

func (s *Server) handleCreateInfraction(c *gin.Context) {
	var in contest.CreateInput
	if !bindJSON(c, &in) {
		return
	}
	out, err := s.svc.Contest.Create(c.Request.Context(), mustUser(c).ID, in)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"message":    "infraction analyzed",
		"infraction": out.Infraction,
		"analysis":   out.Analysis,
	})
}

func (s *Server) handleListInfractions(c *gin.Context) {
	list, err := s.svc.Contest.List(c.Request.Context(), mustUser(c).ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (s *Server) handleGetInfraction(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	inf, err := s.svc.Contest.Get(c.Request.Context(), mustUser(c).ID, id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, inf)
}

func (s *Server) handleAnalyzeInfraction(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	out, err := s.svc.Contest.Reanalyze(c.Request.Context(), mustUser(c).ID, id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":    "infraction reanalyzed",
		"infraction": out.Infraction,
		"analysis":   out.Analysis,
	})
}

func (s *Server) handleContestInfraction(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	letter, err := s.svc.Contest.Contest(c.Request.Context(), mustUser(c).ID, id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":    "contest document generated",
		"document":   letter.Document,
		"filename":   letter.FileName,
		"infraction": letter.Infraction,
	})
}

func (s *Server) handleInfractionDocument(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	letter, err := s.svc.Contest.Document(c.Request.Context(), mustUser(c).ID, id)
	if err != nil {
		writeError(c, err)
		return
	}
	if c.Query("format") == "text" {
		c.Header("Content-Disposition", `attachment; filename="`+letter.FileName+`"`)
		c.String(http.StatusOK, letter.Document)
		return
	}
	c.JSON(http.StatusOK, gin.H{"document": letter.Document, "filename": letter.FileName})
}
