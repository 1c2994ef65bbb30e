package httpapi

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/MarkoPoloResearchLab/dtledger/pkg/ledger"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const (
	headerAuthorization    = "Authorization"
	headerCronSecret       = "X-Cron-Secret"
	headerWebhookSignature = "X-Webhook-Signature"
	headerPaymentProvider  = "X-Payment-Provider"

	contextKeyUserID = "auth_user_id"
)

var errMissingBearer = errors.New("missing bearer token")

// VerifySharedSecret compares a presented secret against the configured one in constant time.
// An unconfigured secret never matches.
func VerifySharedSecret(presented string, configured string) bool {
	if configured == "" || presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(configured)) == 1
}

func bearerToken(request *http.Request) (string, error) {
	header := strings.TrimSpace(request.Header.Get(headerAuthorization))
	token, found := strings.CutPrefix(header, "Bearer ")
	if !found || strings.TrimSpace(token) == "" {
		return "", errMissingBearer
	}
	return strings.TrimSpace(token), nil
}

func serviceRoleMiddleware(secret string, logger *zap.Logger) gin.HandlerFunc {
	if secret == "" {
		logger.Warn("service role secret not configured; internal job routes reject every request")
	}
	return func(ctx *gin.Context) {
		token, err := bearerToken(ctx.Request)
		if err != nil || !VerifySharedSecret(token, secret) {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "Unauthorized"))
			return
		}
		ctx.Next()
	}
}

func cronSecretMiddleware(secret string, logger *zap.Logger) gin.HandlerFunc {
	if secret == "" {
		logger.Warn("cron secret not configured; scheduled dispatch rejects every request")
	}
	return func(ctx *gin.Context) {
		if !VerifySharedSecret(ctx.GetHeader(headerCronSecret), secret) {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "Unauthorized"))
			return
		}
		ctx.Next()
	}
}

func userTokenMiddleware(signingKey string, issuer string, logger *zap.Logger) gin.HandlerFunc {
	parserOptions := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(issuer))
	}
	parser := jwt.NewParser(parserOptions...)
	key := []byte(signingKey)

	return func(ctx *gin.Context) {
		if len(key) == 0 {
			logger.Warn("jwt signing key not configured")
			ctx.AbortWithStatusJSON(http.StatusInternalServerError, errorResponse("server_misconfigured", "Authentication is not configured"))
			return
		}
		tokenString, err := bearerToken(ctx.Request)
		if err != nil {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "Authorization header required"))
			return
		}
		claims := &jwt.RegisteredClaims{}
		token, err := parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
			return key, nil
		})
		if err != nil || !token.Valid {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "Invalid token"))
			return
		}
		userID, err := ledger.NewUserID(claims.Subject)
		if err != nil {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "User ID not found in token"))
			return
		}
		ctx.Set(contextKeyUserID, userID)
		ctx.Next()
	}
}

func getUserID(ctx *gin.Context) (ledger.UserID, bool) {
	value, ok := ctx.Get(contextKeyUserID)
	if !ok {
		return ledger.UserID{}, false
	}
	userID, ok := value.(ledger.UserID)
	return userID, ok
}
