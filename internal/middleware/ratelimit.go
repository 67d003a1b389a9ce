package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"live-session/internal/repository"
)

// RateLimit 返回一个固定窗口限流中间件。
// 已认证的请求按用户计数，其余按客户端 IP 计数；scope 区分不同路由组的配额。
func RateLimit(state repository.StateRepository, scope string, maxRequests int, window time.Duration) gin.HandlerFunc {
	if state == nil {
		panic("StateRepository cannot be nil for RateLimit middleware")
	}
	if maxRequests <= 0 {
		panic("maxRequests must be positive for RateLimit middleware")
	}
	if window <= 0 {
		panic("window duration must be positive for RateLimit middleware")
	}

	return func(c *gin.Context) {
		key := fmt.Sprintf("%s:ip:%s", scope, c.ClientIP())
		if userID, ok := c.Get("user_id"); ok {
			key = fmt.Sprintf("%s:user:%v", scope, userID)
		}

		exceeded, err := state.CheckRateLimit(c.Request.Context(), key, maxRequests, window)
		if err != nil {
			// Redis 故障时放行，不阻断业务请求
			logrus.WithField("key", key).WithError(err).Error("RateLimit: check failed, allowing request")
			c.Next()
			return
		}
		if exceeded {
			c.Header("Retry-After", strconv.Itoa(int(window.Seconds())))
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "Too many requests"})
			c.Abort()
			return
		}
		c.Next()
	}
}
