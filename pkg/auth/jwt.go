package auth

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"

	"github.com/antibyte/retroforth/pkg/configuration"
	"github.com/antibyte/retroforth/pkg/logger"
)

const (
	defaultTokenExpiration = 24 * time.Hour
	tokenIssuer            = "retroforth"
	tokenSubject           = "session"
	tokenCookieName        = "session_token"

	// SecretEnv overrides [JWT] secret.
	SecretEnv = "RETROFORTH_JWT_SECRET"
)

var (
	ErrNoToken      = errors.New("no token found in request")
	ErrInvalidToken = errors.New("invalid token")
)

var (
	processSecret     []byte
	processSecretOnce sync.Once
)

// getJWTSecret liest das Secret aus der Umgebung oder der Konfiguration. Ohne
// beides gilt ein zufälliges Secret für die Laufzeit des Prozesses.
func getJWTSecret() []byte {
	if envSecret := os.Getenv(SecretEnv); envSecret != "" {
		return []byte(envSecret)
	}
	if secret := configuration.GetString("JWT", "secret", ""); secret != "" {
		return []byte(secret)
	}
	processSecretOnce.Do(func() {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			panic(errors.Wrap(err, "generate jwt secret"))
		}
		processSecret = []byte(hex.EncodeToString(buf))
		logger.Warn(logger.AreaSecurity, "No JWT secret configured; tokens will not survive a restart")
	})
	return processSecret
}

func getTokenExpiration() time.Duration {
	return configuration.GetDuration("JWT", "expiry", defaultTokenExpiration)
}

// SessionClaims identifies the interpreter session a browser may re-attach to.
type SessionClaims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// GenerateSessionToken signs a token for sessionID.
func GenerateSessionToken(sessionID string) (string, error) {
	now := time.Now()
	claims := SessionClaims{
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(getTokenExpiration())),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
			Subject:   tokenSubject,
			ID:        sessionID,
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(getJWTSecret())
	if err != nil {
		return "", errors.Wrap(err, "sign token")
	}
	logger.Debug(logger.AreaAuth, "Token issued for session %s", sessionID)
	return signed, nil
}

// ValidateSessionToken checks the signature, algorithm, issuer and expiry of
// tokenString.
func ValidateSessionToken(tokenString string) (*SessionClaims, error) {
	token, err := jwt.ParseWithClaims(
		tokenString,
		&SessionClaims{},
		func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.Errorf("unexpected signing algorithm: %v", token.Header["alg"])
			}
			return getJWTSecret(), nil
		},
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, errors.Wrap(err, "token parsing failed")
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid || claims.SessionID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ExtractTokenFromRequest looks for a token in the Authorization header, the
// session cookie and the token query parameter, in that order.
func ExtractTokenFromRequest(r *http.Request) (string, error) {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		scheme, token, ok := strings.Cut(authHeader, " ")
		if ok && scheme == "Bearer" && token != "" {
			return token, nil
		}
		return "", errors.New("invalid authorization header format")
	}

	if cookie, err := r.Cookie(tokenCookieName); err == nil && cookie.Value != "" {
		return cookie.Value, nil
	}

	if token := r.URL.Query().Get("token"); token != "" {
		return token, nil
	}
	return "", ErrNoToken
}

// RequireSessionToken ist ein Middleware für HTTP-Handler, die einen gültigen
// Session-Token erfordern.
func RequireSessionToken(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next(w, r)
			return
		}

		tokenString, err := ExtractTokenFromRequest(r)
		if err != nil {
			logger.Warn(logger.AreaAuth, "Kein Token im Request gefunden: %v", err)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		claims, err := ValidateSessionToken(tokenString)
		if err != nil {
			logger.Warn(logger.AreaAuth, "Ungültiger Token: %v", err)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next(w, r.WithContext(AddClaimsToContext(r.Context(), claims)))
	}
}

// ClientIP returns the first X-Forwarded-For hop, X-Real-IP, or the host part
// of RemoteAddr.
func ClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	addr := r.RemoteAddr
	if i := strings.LastIndexByte(addr, ':'); i > 0 && !strings.HasSuffix(addr, "]") {
		addr = addr[:i]
	}
	return strings.Trim(addr, "[]")
}
