package api

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/abelbrown/contestare/internal/audit"
	"github.com/abelbrown/contestare/internal/logging"
	"github.com/abelbrown/contestare/internal/store"
)

const (
	ctxUser  = "user"
	ctxToken = "token"
)

// observe logs every request and feeds the request metrics.
func (s *Server) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		d := time.Since(start)

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		s.metrics.ObserveRequest(c.Request.Method, route, status, d)

		logging.Info("HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"duration", d)

		if audit.TraceEnabled() {
			var userID int64
			if u := currentUser(c); u != nil {
				userID = u.ID
			}
			s.audit.Emit(audit.Event{
				Level:  audit.LevelDebug,
				Kind:   audit.KindHTTPRequest,
				Comp:   "api",
				UserID: userID,
				Dur:    d,
				Msg:    c.Request.Method + " " + route,
				Extra:  map[string]any{"status": status},
			})
		}
	}
}

// requireAuth resolves the session cookie or bearer token to a user.
func (s *Server) requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := s.sessionToken(c)
		u, err := s.svc.Auth.Authenticate(c.Request.Context(), token)
		if err != nil {
			writeError(c, err)
			c.Abort()
			return
		}
		c.Set(ctxUser, u)
		c.Set(ctxToken, token)
		c.Next()
	}
}

func (s *Server) sessionToken(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	token, _ := c.Cookie(s.session.CookieName)
	return token
}

func currentUser(c *gin.Context) *store.User {
	v, ok := c.Get(ctxUser)
	if !ok {
		return nil
	}
	u, _ := v.(*store.User)
	return u
}

// mustUser is only valid behind requireAuth.
func mustUser(c *gin.Context) *store.User {
	u := currentUser(c)
	if u == nil {
		panic("api: handler registered without requireAuth")
	}
	return u
}

func (s *Server) setSessionCookie(c *gin.Context, token string, ttl time.Duration) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(s.session.CookieName, token, int(ttl.Seconds()), "/", "", s.session.Secure, true)
}

func (s *Server) clearSessionCookie(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(s.session.CookieName, "", -1, "/", "", s.session.Secure, true)
}

// rateLimit rejects bursts from one client IP with 429.
func (s *Server) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limiter != nil && !s.limiter.allow(c.ClientIP()) {
			s.audit.Warn(audit.KindRateLimited, "api", c.FullPath()+" from "+c.ClientIP())
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}

// ipLimiter keeps one token bucket per client IP. Idle buckets are dropped
// after limiterIdle.
type ipLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	clients map[string]*clientLimiter
	sweep   time.Time
}

type clientLimiter struct {
	lim  *rate.Limiter
	seen time.Time
}

const limiterIdle = 10 * time.Minute

func newIPLimiter(perMinute, burst int) *ipLimiter {
	if perMinute <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &ipLimiter{
		limit:   rate.Every(time.Minute / time.Duration(perMinute)),
		burst:   burst,
		clients: make(map[string]*clientLimiter),
	}
}

func (l *ipLimiter) allow(ip string) bool {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.sweep) > limiterIdle {
		for k, cl := range l.clients {
			if now.Sub(cl.seen) > limiterIdle {
				delete(l.clients, k)
			}
		}
		l.sweep = now
	}

	cl, ok := l.clients[ip]
	if !ok {
		cl = &clientLimiter{lim: rate.NewLimiter(l.limit, l.burst)}
		l.clients[ip] = cl
	}
	cl.seen = now
	return cl.lim.AllowN(now, 1)
}
