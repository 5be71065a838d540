package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"fundingarb/internal/api/middleware"
	"fundingarb/pkg/crypto"
)

// LoginRequest - тело запроса для получения токена
type LoginRequest struct {
	UserID   string `json:"user_id"`
	Password string `json:"password"`
}

// LoginResponse - выданный токен доступа
type LoginResponse struct {
	Token     string    `json:"token"`
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// AuthHandler выпускает токены доступа к API
//
// Endpoints:
// - POST /api/v1/auth/login - получение токена по паролю
//
// Пароль один на развертывание (bcrypt хеш в конфигурации),
// user_id определяет владельца ботов и биржевых аккаунтов.
type AuthHandler struct {
	jwtSecret    string
	passwordHash string
	sessionTTL   time.Duration
}

// NewAuthHandler создает новый AuthHandler
func NewAuthHandler(jwtSecret, passwordHash string, sessionTTL time.Duration) *AuthHandler {
	return &AuthHandler{
		jwtSecret:    jwtSecret,
		passwordHash: passwordHash,
		sessionTTL:   sessionTTL,
	}
}

// Login проверяет пароль и выдает подписанный токен
// POST /api/v1/auth/login
//
// Тело запроса:
//
//	{
//	  "user_id": "user-1",
//	  "password": "secret"
//	}
//
// Ответы:
// - 200 OK: токен выдан
// - 400 Bad Request: некорректные данные
// - 401 Unauthorized: неверный пароль
// - 503 Service Unavailable: вход не настроен (API_PASSWORD_HASH пуст)
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	if h.passwordHash == "" {
		h.respondWithError(w, http.StatusServiceUnavailable, "Login is not configured", "Set API_PASSWORD_HASH")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}

	if req.UserID == "" {
		h.respondWithError(w, http.StatusBadRequest, "user_id is required", "")
		return
	}

	if err := crypto.VerifyPassword(req.Password, h.passwordHash); err != nil {
		h.respondWithError(w, http.StatusUnauthorized, "Invalid credentials", "")
		return
	}

	token := middleware.SignToken(h.jwtSecret, req.UserID, h.sessionTTL)

	h.respondWithJSON(w, http.StatusOK, LoginResponse{
		Token:     token,
		UserID:    req.UserID,
		ExpiresAt: time.Now().Add(h.sessionTTL),
	})
}

// respondWithJSON отправляет JSON ответ
func (h *AuthHandler) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	writeJSON(w, code, payload)
}

// respondWithError отправляет JSON ответ с ошибкой
func (h *AuthHandler) respondWithError(w http.ResponseWriter, code int, message, details string) {
	writeJSON(w, code, ErrorResponse{Error: message, Details: details})
}
