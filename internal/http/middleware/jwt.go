package middleware

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/gin-gonic/gin"

	"github.com/Nixie-Tech-LLC/jinglecast/internal/model"
)

const operatorKey = "currentOperator"

// GenerateJWT signs a token embedding the operator id in the "sub" claim.
// Tokens are issued by the account service; this is used by tooling and tests.
func GenerateJWT(operatorID int, secret string, ttl time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": operatorID,
		"exp": time.Now().Add(ttl).Unix(),
	})
	return token.SignedString([]byte(secret))
}

// verifies the JWT and returns the operator id.
func parseToken(tokenString, secret string) (int, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return 0, errors.New("invalid token")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, errors.New("invalid claims")
	}
	sub, ok := claims["sub"].(float64)
	if !ok || sub <= 0 {
		return 0, errors.New("invalid sub claim")
	}
	return int(sub), nil
}

// bearerToken accepts "Authorization: Bearer <token>" and, for browser
// EventSource clients that cannot set headers, a "token" query parameter.
func bearerToken(c *gin.Context) (string, error) {
	header := c.GetHeader("Authorization")
	if header == "" {
		if q := c.Query("token"); q != "" {
			return q, nil
		}
		return "", errors.New("missing auth header")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", errors.New("invalid auth header")
	}
	return parts[1], nil
}

// JWTMiddleware verifies the bearer token and sets the operator in context.
func JWTMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, err := bearerToken(c)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		operatorID, err := parseToken(raw, secret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(operatorKey, &model.Operator{ID: operatorID})
		c.Next()
	}
}

// GetCurrentOperator retrieves the operator set by JWTMiddleware.
func GetCurrentOperator(c *gin.Context) (*model.Operator, bool) {
	v, exists := c.Get(operatorKey)
	if !exists {
		return nil, false
	}
	op, ok := v.(*model.Operator)
	return op, ok
}
