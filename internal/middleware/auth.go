package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MorseWayne/shop_fulfillment/internal/domain"
	"github.com/MorseWayne/shop_fulfillment/internal/resp"
	"github.com/MorseWayne/shop_fulfillment/internal/service"
)

// TokenValidator 校验访问令牌
type TokenValidator interface {
	ValidateAccessToken(tokenString string) (*domain.Principal, error)
}

// Auth JWT认证中间件
// 验证请求头中的JWT令牌，并将调用方身份注入到请求上下文中
func Auth(validator TokenValidator, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := RequestID(c)

		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			logger.Warn("missing or malformed authorization header", zap.String("request_id", reqID))
			c.Abort()
			resp.Error(c.Writer, http.StatusUnauthorized, resp.CodeUnauthorized, "authorization header required", reqID, TraceID(c))
			return
		}

		principal, err := validator.ValidateAccessToken(token)
		if err != nil {
			logger.Warn("token validation failed", zap.String("request_id", reqID), zap.Error(err))
			msg := "invalid token"
			switch {
			case errors.Is(err, service.ErrTokenExpired):
				msg = "token expired"
			case errors.Is(err, service.ErrTokenNotReady):
				msg = "token not ready"
			}
			c.Abort()
			resp.Error(c.Writer, http.StatusUnauthorized, resp.CodeUnauthorized, msg, reqID, TraceID(c))
			return
		}

		SetPrincipal(c, principal)
		c.Next()
	}
}

// RequireAdmin 管理员权限中间件，须在 Auth 之后使用
func RequireAdmin(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		p := Principal(c)
		if p == nil {
			logger.Error("principal not found in context", zap.String("request_id", RequestID(c)))
			c.Abort()
			resp.Error(c.Writer, http.StatusUnauthorized, resp.CodeUnauthorized, "authentication required", RequestID(c), TraceID(c))
			return
		}
		if !p.IsAdmin() {
			logger.Warn("insufficient permissions",
				zap.String("request_id", RequestID(c)),
				zap.Int64("user_id", p.UserID),
				zap.String("user_role", string(p.Role)),
			)
			c.Abort()
			resp.Error(c.Writer, http.StatusForbidden, resp.CodeForbidden, "insufficient permissions", RequestID(c), TraceID(c))
			return
		}
		c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	return token, token != ""
}
