package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/caseops/casepilot/pkg/queue"
)

// snSignatureHeader carries the hex HMAC-SHA256 of the webhook body,
// computed with the shared webhook secret.
const snSignatureHeader = "X-SN-Signature"

// extractAuthor extracts the author from proxy headers.
// Priority: X-Forwarded-User (oauth2-proxy) > X-Forwarded-Email (oauth2-proxy) >
// X-Remote-User (kube-rbac-proxy) > "api-client"
func extractAuthor(c *gin.Context) string {
	if user := c.Request.Header.Get("X-Forwarded-User"); user != "" {
		return user
	}
	if email := c.Request.Header.Get("X-Forwarded-Email"); email != "" {
		return email
	}
	if user := c.Request.Header.Get("X-Remote-User"); user != "" {
		return user
	}
	return "api-client"
}

// bearerToken returns the token from an Authorization: Bearer header,
// or "" when absent.
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) > len(prefix) && strings.EqualFold(auth[:len(prefix)], prefix) {
		return auth[len(prefix):]
	}
	return ""
}

func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// verifyCaseSource checks ServiceNow webhook credentials. A matching
// bearer token or a valid body signature grants access; with neither
// secret configured the endpoint stays open in development only.
func (s *Server) verifyCaseSource(r *http.Request, body []byte) bool {
	token := s.env.ServiceNowWebhookToken
	secret := s.env.ServiceNowWebhookSecret
	if token == "" && secret == "" {
		return s.env.IsDevelopment()
	}
	if token != "" && constantTimeEqual(bearerToken(r), token) {
		return true
	}
	if secret != "" {
		if sig := r.Header.Get(snSignatureHeader); sig != "" {
			return queue.VerifySignature([]byte(secret), body, sig)
		}
	}
	return false
}
