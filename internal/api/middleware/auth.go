package middleware

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Ошибки валидации токена
var (
	ErrMalformedToken = errors.New("malformed token")
	ErrBadSignature   = errors.New("invalid token signature")
	ErrTokenExpired   = errors.New("token expired")
)

// contextKey - собственный тип ключа контекста, чтобы не пересекаться
// с ключами других пакетов
type contextKey string

const userIDKey contextKey = "user_id"

// UserID извлекает идентификатор пользователя из контекста запроса.
// Пустая строка означает, что запрос не прошел через Auth.
func UserID(r *http.Request) string {
	if v, ok := r.Context().Value(userIDKey).(string); ok {
		return v
	}
	return ""
}

// WithUserID возвращает копию запроса с установленным пользователем.
// Используется в тестах handlers вместо прохода через Auth.
func WithUserID(r *http.Request, userID string) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), userIDKey, userID))
}

// SignToken выпускает JWT (HS256) для пользователя.
//
// Claims: sub = userID, exp = now + ttl. Токен самодостаточен:
// сервер не хранит сессии, подпись проверяется JWT_SECRET из
// конфигурации.
func SignToken(secret, userID string, ttl time.Duration) string {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}

	// HS256 с RegisteredClaims не может завершиться ошибкой подписи
	token, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	return token
}

// ParseToken проверяет подпись и срок действия JWT, возвращает userID
func ParseToken(secret, token string) (string, error) {
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{},
		func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, ErrBadSignature
			}
			return []byte(secret), nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return "", ErrTokenExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return "", ErrBadSignature
		default:
			return "", ErrMalformedToken
		}
	}

	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", ErrMalformedToken
	}
	return claims.Subject, nil
}

// Auth - middleware для аутентификации запросов
//
// Проверяет токен из заголовка Authorization: Bearer <token> и
// добавляет user_id в context запроса. Все защищенные handlers
// получают пользователя через middleware.UserID(r).
//
// Ответы:
// - 401 Unauthorized: токен отсутствует, подпись невалидна или истек срок
func Auth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				unauthorized(w, "missing Authorization header")
				return
			}

			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok {
				unauthorized(w, "expected Bearer token")
				return
			}

			userID, err := ParseToken(secret, token)
			if err != nil {
				unauthorized(w, err.Error())
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AuthWS - аутентификация WebSocket подключений
//
// Браузерный WebSocket API не позволяет задать заголовок Authorization,
// поэтому токен принимается также через query параметр token:
// /ws/stream?token=<token>
func AuthWS(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok {
				token = r.URL.Query().Get("token")
			}
			if token == "" {
				unauthorized(w, "missing token")
				return
			}

			userID, err := ParseToken(secret, token)
			if err != nil {
				unauthorized(w, err.Error())
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthorized(w http.ResponseWriter, details string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"Unauthorized","details":` + strconv.Quote(details) + `}`))
}

// debugUsername и debugPassword для защиты debug endpoints.
// Загружаются из переменных окружения DEBUG_USERNAME и DEBUG_PASSWORD.
// Если не установлены, debug endpoints будут недоступны в production.
var (
	debugUsername = os.Getenv("DEBUG_USERNAME")
	debugPassword = os.Getenv("DEBUG_PASSWORD")
)

// DebugAuth - middleware для защиты debug/pprof endpoints
//
// Использует HTTP Basic Authentication для простоты.
// Constant-time сравнение предотвращает timing attacks.
//
// Конфигурация:
// - DEBUG_USERNAME: имя пользователя для доступа к debug endpoints
// - DEBUG_PASSWORD: пароль для доступа к debug endpoints
// - Если переменные не установлены, доступ запрещен вне development
func DebugAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if debugUsername == "" || debugPassword == "" {
			if os.Getenv("ENV") == "development" || os.Getenv("ENV") == "" {
				next.ServeHTTP(w, r)
				return
			}
			http.Error(w, "Debug endpoints disabled. Set DEBUG_USERNAME and DEBUG_PASSWORD.", http.StatusForbidden)
			return
		}

		user, pass, ok := r.BasicAuth()
		if !ok {
			w.Header().Set("WWW-Authenticate", `Basic realm="Debug endpoints"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		userMatch := subtle.ConstantTimeCompare([]byte(user), []byte(debugUsername)) == 1
		passMatch := subtle.ConstantTimeCompare([]byte(pass), []byte(debugPassword)) == 1

		if !userMatch || !passMatch {
			w.Header().Set("WWW-Authenticate", `Basic realm="Debug endpoints"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}
