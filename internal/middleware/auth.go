package middleware

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/videoapp/api/pkg/response"
)

const tokenIssuer = "videoapp-api"

type AuthMiddleware struct {
	jwtSecret  string
	expiration time.Duration
}

// OperatorClaims identify who is driving the capture device
type OperatorClaims struct {
	OperatorID string `json:"operatorId"`
	jwt.RegisteredClaims
}

func NewAuthMiddleware(jwtSecret string, expiration time.Duration) *AuthMiddleware {
	return &AuthMiddleware{jwtSecret: jwtSecret, expiration: expiration}
}

// Authenticate validates the bearer token in the Authorization header. Browsers
// cannot set headers on websocket upgrades, so a token query parameter is
// accepted too.
func (m *AuthMiddleware) Authenticate() fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenString := c.Query("token")

		if authHeader := c.Get("Authorization"); authHeader != "" {
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
				return response.Unauthorized(c, "Invalid authorization header format")
			}
			tokenString = parts[1]
		}

		if tokenString == "" {
			return response.Unauthorized(c, "Missing authorization header")
		}

		token, err := jwt.ParseWithClaims(tokenString, &OperatorClaims{}, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(m.jwtSecret), nil
		}, jwt.WithIssuer(tokenIssuer))

		if err != nil {
			return response.Unauthorized(c, "Invalid or expired token")
		}

		claims, ok := token.Claims.(*OperatorClaims)
		if !ok || !token.Valid || claims.OperatorID == "" {
			return response.Unauthorized(c, "Invalid token claims")
		}

		c.Locals("operatorId", claims.OperatorID)
		c.Locals("claims", claims)

		return c.Next()
	}
}

// GetOperatorID extracts the operator ID from context
func GetOperatorID(c *fiber.Ctx) string {
	if id, ok := c.Locals("operatorId").(string); ok {
		return id
	}
	return ""
}

// GenerateToken creates a signed operator token
func (m *AuthMiddleware) GenerateToken(operatorID string) (string, error) {
	now := time.Now()
	claims := OperatorClaims{
		OperatorID: operatorID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   tokenIssuer,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if m.expiration > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(m.expiration))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(m.jwtSecret))
}
