package middleware

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/yungbote/neurobridge-backend/internal/http/response"
	"github.com/yungbote/neurobridge-backend/internal/platform/logger"
)

var (
	errMissingToken = errors.New("missing service bearer token")
	errInvalidToken = errors.New("invalid or expired service token")
)

// ServiceClaims identifies the worker service presenting the bearer token:
// workers authenticate as a service principal, not as a logged-in user.
type ServiceClaims struct {
	jwt.RegisteredClaims
	Service string `json:"service"`
}

// ServiceAuthMiddleware gates the job-orchestration HTTP boundary (create,
// reserve_next, complete, fail, heartbeat, events/bulk) behind a
// service-to-service HS256 bearer token verified against this
// middleware's own signing secret.
type ServiceAuthMiddleware struct {
	log       *logger.Logger
	secretKey string
}

func NewServiceAuthMiddleware(log *logger.Logger, secretKey string) *ServiceAuthMiddleware {
	return &ServiceAuthMiddleware{log: log.With("middleware", "ServiceAuth"), secretKey: secretKey}
}

const ContextKeyServiceName = "service_name"

func (m *ServiceAuthMiddleware) RequireService() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := extractBearerToken(c)
		if tokenString == "" {
			response.RespondError(c, http.StatusUnauthorized, "unauthorized", errMissingToken)
			c.Abort()
			return
		}

		parsed, err := jwt.ParseWithClaims(tokenString, &ServiceClaims{}, func(t *jwt.Token) (interface{}, error) {
			return []byte(m.secretKey), nil
		}, jwt.WithValidMethods([]string{"HS256"}))
		if err != nil || !parsed.Valid {
			m.log.Warn("service token rejected", "error", err)
			response.RespondError(c, http.StatusUnauthorized, "unauthorized", errInvalidToken)
			c.Abort()
			return
		}

		claims, ok := parsed.Claims.(*ServiceClaims)
		if !ok || claims.Service == "" {
			response.RespondError(c, http.StatusUnauthorized, "unauthorized", errInvalidToken)
			c.Abort()
			return
		}

		c.Set(ContextKeyServiceName, claims.Service)
		c.Next()
	}
}

func extractBearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
		return strings.TrimSpace(authHeader[7:])
	}
	return ""
}

// IssueServiceToken mints a worker service token; used by out-of-band
// provisioning (CLI, deploy tooling), not by any HTTP endpoint in this
// package.
func IssueServiceToken(secretKey, service string, ttl time.Duration) (string, error) {
	claims := ServiceClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   service,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		Service: service,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secretKey))
}
