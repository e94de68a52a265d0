package server

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	redis "github.com/redis/go-redis/v9"
)

const msgTooManyLogins = "Too many login attempts. Please try again later."

// loginWindow increments the attempt counter and makes sure it carries a
// TTL in the same round trip, so a counter can never outlive its window.
var loginWindow = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if redis.call("PTTL", KEYS[1]) < 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`)

// loginRateLimit is a fixed-window limiter keyed by client IP, backed by
// Redis. Without Redis, or when Redis fails, requests pass.
func (s *Server) loginRateLimit() gin.HandlerFunc {
	client := s.opts.Redis
	limit := s.opts.LoginRateLimit
	window := s.opts.LoginRateWindow

	return func(c *gin.Context) {
		if client == nil || limit <= 0 || window <= 0 {
			c.Next()
			return
		}

		key := "rl:login:" + strconv.FormatInt(int64(window.Seconds()), 10) + ":" + c.ClientIP()
		ctx := c.Request.Context()

		val, err := loginWindow.Run(ctx, client, []string{key}, window.Milliseconds()).Int64()
		if err != nil {
			rateLimitErrorsTotal.Inc()
			s.logger.Warn("rate limiter unavailable", slog.String("error", err.Error()))
			c.Next()
			return
		}

		if val > int64(limit) {
			rateLimitHitsTotal.WithLabelValues(c.FullPath()).Inc()
			loginAttemptsTotal.WithLabelValues("throttled").Inc()
			errs := formErrors{}
			errs.add(nonFieldErrors, msgTooManyLogins)
			s.render(c, http.StatusTooManyRequests, "login.html", gin.H{
				"Form":   loginForm{Username: c.PostForm("username")},
				"Next":   c.PostForm("next"),
				"Errors": errs,
			})
			c.Abort()
			return
		}
		c.Next()
	}
}
