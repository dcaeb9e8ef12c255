package main

import (
	"errors"
	"net/http"
	"strings"

	"vapidispatch/pkg/apikey"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// supabaseClaims is the part of a Supabase access token we read.
type supabaseClaims struct {
	AppMetadata struct {
		TenantID string `json:"tenant_id"`
	} `json:"app_metadata"`
	jwt.RegisteredClaims
}

// tenantAuthMiddleware accepts either a tenant API key or a Supabase user
// JWT in the Authorization header and sets "tenant_id" on the context.
func (s *server) tenantAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if len(authHeader) < 8 || authHeader[:7] != "Bearer " {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid Authorization header"})
			c.Abort()
			return
		}
		token := strings.TrimSpace(authHeader[7:])

		var (
			tenantID string
			err      error
		)
		if apikey.Looks(token) {
			tenantID, err = s.tenantFromAPIKey(c, token)
		} else {
			tenantID, err = s.tenantFromJWT(token)
		}
		if err != nil || tenantID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			c.Abort()
			return
		}
		c.Set("tenant_id", tenantID)
		c.Next()
	}
}

func (s *server) tenantFromAPIKey(c *gin.Context, token string) (string, error) {
	prefix, secret, err := apikey.Parse(token)
	if err != nil {
		return "", err
	}
	key, err := s.data.APIKeyByPrefix(c.Request.Context(), prefix)
	if err != nil {
		return "", err
	}
	if !key.Usable(s.now()) || !apikey.Verify(key.SecretHash, secret) {
		return "", errors.New("api key rejected")
	}
	if err := s.data.TouchAPIKey(c.Request.Context(), key.TenantID, key.ID); err != nil {
		c.Error(err)
	}
	return key.TenantID, nil
}

func (s *server) tenantFromJWT(token string) (string, error) {
	if s.cfg.SupabaseJWTSecret == "" {
		return "", errors.New("jwt auth not configured")
	}
	var claims supabaseClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrInvalidKeyType
		}
		return []byte(s.cfg.SupabaseJWTSecret), nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil || !parsed.Valid {
		return "", errors.New("invalid jwt")
	}
	return claims.AppMetadata.TenantID, nil
}
