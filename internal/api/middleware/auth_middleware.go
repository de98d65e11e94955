package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"egcards/internal/wallet"
)

const addressKey = "address"

func abortUnauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
}

// WalletAuth 校验钱包会话令牌并将规范化地址注入上下文。
func WalletAuth(walletService *wallet.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			abortUnauthorized(c)
			return
		}

		parts := strings.Fields(header)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			abortUnauthorized(c)
			return
		}

		rawToken := parts[1]
		if strings.TrimSpace(rawToken) == "" {
			abortUnauthorized(c)
			return
		}

		claims, err := walletService.ValidateToken(rawToken)
		if err != nil {
			abortUnauthorized(c)
			return
		}

		c.Set(addressKey, claims.Address)
		c.Next()
	}
}

// AddressFromContext 取出已认证的钱包地址。
func AddressFromContext(c *gin.Context) (string, bool) {
	value, exists := c.Get(addressKey)
	if !exists {
		return "", false
	}
	address, ok := value.(string)
	if !ok || address == "" {
		return "", false
	}
	return address, true
}
