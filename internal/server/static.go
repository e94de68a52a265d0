package server

import (
	"net/http"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"

	"taskmanager/internal/web"
)

// mountStatic serves the embedded assets under /static, gzip-compressed.
// Fingerprinted requests (?v=...) are cacheable indefinitely.
func (s *Server) mountStatic() {
	static := s.engine.Group("/static", gzip.Gzip(gzip.DefaultCompression), cacheFingerprinted)
	static.StaticFS("/", http.FS(web.Static()))
}

func cacheFingerprinted(c *gin.Context) {
	if c.Query("v") != "" {
		c.Header("Cache-Control", "public, max-age=31536000, immutable")
	} else {
		c.Header("Cache-Control", "no-cache")
	}
	c.Next()
}
