package middleware

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// CORS returns a CORS middleware. extraHeaders are allowed in addition to the
// defaults, e.g. the audit read-trigger header.
func CORS(extraHeaders ...string) gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     append([]string{"Origin", "Content-Type", "Accept", "Authorization", "X-Requested-With", HeaderRequestID}, extraHeaders...),
		ExposeHeaders:    []string{"Content-Length", HeaderRequestID},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}
