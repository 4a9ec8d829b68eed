package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
)

// SecurityConfig represents security headers configuration
type SecurityConfig struct {
	// FrameAncestors lists the origins allowed to embed the app.
	FrameAncestors     []string
	ContentTypeOptions string
	ReferrerPolicy     string
}

// DefaultSecurityConfig returns default security configuration
func DefaultSecurityConfig() SecurityConfig {
	return SecurityConfig{
		FrameAncestors:     []string{"'self'"},
		ContentTypeOptions: "nosniff",
		ReferrerPolicy:     "strict-origin-when-cross-origin",
	}
}

// SecurityHeaders frames every response for embedding by the configured hosts.
func SecurityHeaders(config SecurityConfig) gin.HandlerFunc {
	ancestors := config.FrameAncestors
	if len(ancestors) == 0 {
		ancestors = []string{"'self'"}
	}
	csp := "frame-ancestors " + strings.Join(ancestors, " ")

	// X-Frame-Options cannot express a list; browsers that know CSP ignore it.
	frameOptions := "SAMEORIGIN"
	if len(ancestors) == 1 && ancestors[0] == "'none'" {
		frameOptions = "DENY"
	}

	return func(c *gin.Context) {
		c.Header("Content-Security-Policy", csp)
		c.Header("X-Frame-Options", frameOptions)
		c.Header("X-Content-Type-Options", config.ContentTypeOptions)
		c.Header("Referrer-Policy", config.ReferrerPolicy)

		c.Next()
	}
}
