package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	log "github.com/sirupsen/logrus"
)

type contextKey string

const contextKeyAccount contextKey = "engine.account_id"

// Authenticator проверяет Bearer-токен HS256. Аккаунт берётся только из
// claim "sub", идентификатору из тела запроса движок не доверяет.
type Authenticator struct {
	secret    []byte
	issuer    string
	clockSkew time.Duration
}

func NewAuthenticator(secret, issuer string) *Authenticator {
	return &Authenticator{
		secret:    []byte(strings.TrimSpace(secret)),
		issuer:    issuer,
		clockSkew: time.Minute,
	}
}

// Middleware пропускает запрос дальше только с валидным токеном.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractBearer(r.Header.Get("Authorization"))
		if token == "" {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		accountID, err := a.Verify(token)
		if err != nil {
			log.WithError(err).Debug("Токен отклонён")
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithAccountID(r.Context(), accountID)))
	})
}

// Verify разбирает токен и возвращает id аккаунта.
func (a *Authenticator) Verify(tokenString string) (string, error) {
	if len(a.secret) == 0 {
		return "", errors.New("JWT_SECRET не задан")
	}

	opts := []jwt.ParserOption{
		jwt.WithLeeway(a.clockSkew),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	var claims jwt.RegisteredClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return "", err
	}
	if !token.Valid {
		return "", errors.New("token invalid")
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", errors.New("в токене нет sub")
	}
	return claims.Subject, nil
}

// Issue подписывает токен для аккаунта. Нужен для выдачи токенов
// внешним провайдером и в тестах.
func (a *Authenticator) Issue(accountID string, ttl time.Duration) (string, error) {
	if len(a.secret) == 0 {
		return "", errors.New("JWT_SECRET не задан")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   accountID,
		Issuer:    a.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("подпись токена: %w", err)
	}
	return signed, nil
}

// WithAccountID кладёт id аккаунта в контекст.
func WithAccountID(ctx context.Context, accountID string) context.Context {
	return context.WithValue(ctx, contextKeyAccount, accountID)
}

// AccountID — аккаунт текущего запроса или "".
func AccountID(ctx context.Context) string {
	id, _ := ctx.Value(contextKeyAccount).(string)
	return id
}

func extractBearer(header string) string {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
