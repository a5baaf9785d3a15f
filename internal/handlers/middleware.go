package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// corsMethods are the methods the room and signaling routes answer to.
var corsMethods = []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}

// OriginFilter rejects browser requests from origins outside allowedOrigins
// and answers CORS preflights for the room API. Requests without an Origin
// header, such as native WebSocket clients, pass through.
func OriginFilter(allowedOrigins []string, logger logrus.FieldLogger) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[origin] = struct{}{}
	}
	methods := strings.Join(corsMethods, ", ")

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin == "" {
			origin = c.GetHeader("Sec-WebSocket-Origin")
		}
		if origin == "" {
			c.Next()
			return
		}

		if _, ok := allowed[origin]; !ok {
			logger.WithFields(logrus.Fields{
				"origin": origin,
				"method": c.Request.Method,
				"path":   c.Request.URL.Path,
			}).Warn("Rejected request from disallowed origin")
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "Origin not allowed",
			})
			return
		}

		header := c.Writer.Header()
		header.Set("Access-Control-Allow-Origin", origin)
		header.Set("Access-Control-Allow-Credentials", "true")
		header.Set("Access-Control-Allow-Methods", methods)
		header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		header.Add("Vary", "Origin")

		if c.Request.Method != http.MethodOptions {
			c.Next()
			return
		}

		if requested := c.GetHeader("Access-Control-Request-Method"); requested != "" && !corsMethod(requested) {
			logger.WithFields(logrus.Fields{
				"origin": origin,
				"method": requested,
				"path":   c.Request.URL.Path,
			}).Warn("Rejected preflight for unsupported method")
			c.AbortWithStatus(http.StatusMethodNotAllowed)
			return
		}
		c.AbortWithStatus(http.StatusNoContent)
	}
}

func corsMethod(method string) bool {
	for _, m := range corsMethods {
		if strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}
