package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/abelbrown/contestare/internal/audit"
)

const defaultEventCount = 100

// handleDebugEvents returns the most recent audit events, optionally
// filtered by kind prefix (?kind=payment.).
func (s *Server) handleDebugEvents(c *gin.Context) {
	if s.ring == nil {
		c.JSON(http.StatusOK, []audit.Event{})
		return
	}

	n := defaultEventCount
	if v := c.Query("n"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			badRequest(c, "n must be a positive integer")
			return
		}
		n = parsed
	}

	var events []audit.Event
	if prefix := c.Query("kind"); prefix != "" {
		events = s.ring.Filter(prefix)
		if len(events) > n {
			events = events[len(events)-n:]
		}
	} else {
		events = s.ring.Last(n)
	}
	if events == nil {
		events = []audit.Event{}
	}
	c.JSON(http.StatusOK, events)
}

func (s *Server) handleDebugStats(c *gin.Context) {
	out := gin.H{
		"instance_id": s.audit.InstanceID(),
		"dropped":     s.audit.Dropped(),
		"trace":       audit.TraceEnabled(),
	}
	if s.ring != nil {
		out["buffered"] = s.ring.Len()
		out["capacity"] = s.ring.Cap()
		out["kinds"] = s.ring.Stats()
	}
	c.JSON(http.StatusOK, out)
}
