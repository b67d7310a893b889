package httpserver

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	contextKeyAdminUserID = "admin_user_id"
	roleAdmin             = "admin"
)

type adminClaims struct {
	UserID int64  `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// adminAuth verifies a Bearer token signed with the shared admin secret and
// requires the admin role claim.
func adminAuth(secret string, issuer string) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		header := ctx.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing bearer token"))
			return
		}
		token := strings.TrimPrefix(header, "Bearer ")
		claims := &adminClaims{}
		parsed, err := jwt.ParseWithClaims(token, claims, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
			}
			return []byte(secret), nil
		}, jwt.WithIssuer(issuer))
		if err != nil || !parsed.Valid {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "invalid token"))
			return
		}
		if claims.Role != roleAdmin {
			ctx.AbortWithStatusJSON(http.StatusForbidden, errorResponse("forbidden", "admin role required"))
			return
		}
		ctx.Set(contextKeyAdminUserID, claims.UserID)
		ctx.Next()
	}
}

func adminUserID(ctx *gin.Context) int64 {
	value, ok := ctx.Get(contextKeyAdminUserID)
	if !ok {
		return 0
	}
	id, _ := value.(int64)
	return id
}
