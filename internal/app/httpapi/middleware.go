package httpapi

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
)

// adminMiddleware guards privileged routes with an HS256 bearer token signed
// by the admin secret. With no secret configured all admin requests are
// rejected.
func adminMiddleware(secret string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				writeError(w, http.StatusForbidden, errors.New("admin access not configured"))
				return
			}

			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") {
				writeError(w, http.StatusUnauthorized, errors.New("missing authorization"))
				return
			}

			subject, err := validateAdminToken(authHeader[len("Bearer "):], []byte(secret))
			if err != nil {
				writeError(w, http.StatusUnauthorized, errors.New("invalid token"))
				return
			}

			r.Header.Set("X-Admin-Subject", subject)
			next.ServeHTTP(w, r)
		})
	}
}

func validateAdminToken(tokenString string, secret []byte) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return secret, nil
	})
	if err != nil {
		return "", err
	}

	if claims, ok := token.Claims.(*jwt.RegisteredClaims); ok && token.Valid {
		return claims.Subject, nil
	}
	return "", fmt.Errorf("invalid token")
}

// relayMiddleware authenticates the relayer delivering inbound messages via
// the X-Relay-Key header.
func relayMiddleware(key string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key == "" {
				writeError(w, http.StatusForbidden, errors.New("inbound delivery not configured"))
				return
			}

			presented := r.Header.Get("X-Relay-Key")
			if subtle.ConstantTimeCompare([]byte(presented), []byte(key)) != 1 {
				writeError(w, http.StatusUnauthorized, errors.New("invalid relay key"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
