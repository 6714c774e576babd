package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"devdeakin/internal/utils"
)

// VerifiedEmailKey holds the email of a caller that presented a valid receipt.
const VerifiedEmailKey = "verified_email"

// RequireReceipt accepts "Authorization: Bearer <receipt>" issued after /verify-2fa.
func RequireReceipt(receipts *utils.ReceiptIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}

		authHeader := strings.TrimSpace(c.GetHeader("Authorization"))
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "Missing or invalid Authorization header"})
			return
		}

		claims, err := receipts.Parse(strings.TrimSpace(parts[1]))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "Invalid or expired token"})
			return
		}

		c.Set(VerifiedEmailKey, claims.Email)
		c.Next()
	}
}
