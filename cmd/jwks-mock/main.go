// JWKS Mock Server — выдача токенов для локального запуска medarchive.
// Генерирует RSA ключевую пару при старте, отдаёт JWKS по GET /jwks
// и подписывает JWT по POST /token. Не для production.
package main

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
)

// keyID — kid единственного ключа.
const keyID = "medarchive-dev-1"

// defaultTTL — время жизни токена по умолчанию.
const defaultTTL = time.Hour

// jwksKey — ключ в JWKS (RFC 7517).
type jwksKey struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// buildJWKS формирует JSON JWKS из публичного ключа.
func buildJWKS(pub *rsa.PublicKey) ([]byte, error) {
	return json.Marshal(map[string][]jwksKey{
		"keys": {{
			Kty: "RSA",
			Kid: keyID,
			Use: "sig",
			Alg: "RS256",
			N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		}},
	})
}

// tokenRequest — тело POST /token.
type tokenRequest struct {
	Sub        string   `json:"sub" validate:"required"`
	Scopes     []string `json:"scopes" validate:"required,min=1,dive,required"`
	TTLSeconds int      `json:"ttl_seconds" validate:"gte=0"`
}

// issuer подписывает токены и отдаёт JWKS.
type issuer struct {
	key      *rsa.PrivateKey
	jwks     []byte
	validate *validator.Validate
	now      func() time.Time
	logger   *slog.Logger
}

func newIssuer(key *rsa.PrivateKey, logger *slog.Logger) (*issuer, error) {
	jwks, err := buildJWKS(&key.PublicKey)
	if err != nil {
		return nil, err
	}
	return &issuer{
		key:      key,
		jwks:     jwks,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		now:      time.Now,
		logger:   logger,
	}, nil
}

func (s *issuer) routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/jwks", s.handleJWKS)
	r.Post("/token", s.handleToken)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return r
}

// handleJWKS обрабатывает GET /jwks.
func (s *issuer) handleJWKS(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	_, _ = w.Write(s.jwks)
}

// handleToken обрабатывает POST /token. Scopes передаются в claim scope
// строкой через пробел, как у Keycloak.
func (s *issuer) handleToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Невалидный JSON: "+err.Error())
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "Некорректный запрос: "+err.Error())
		return
	}

	ttl := defaultTTL
	if req.TTLSeconds > 0 {
		ttl = time.Duration(req.TTLSeconds) * time.Second
	}

	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"sub":   req.Sub,
		"scope": strings.Join(req.Scopes, " "),
		"iss":   "jwks-mock",
		"iat":   now.Unix(),
		"exp":   now.Add(ttl).Unix(),
	})
	token.Header["kid"] = keyID

	signed, err := token.SignedString(s.key)
	if err != nil {
		s.logger.Error("Ошибка подписи JWT", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "Ошибка генерации токена")
		return
	}

	s.logger.Info("Токен выдан",
		slog.String("sub", req.Sub),
		slog.Int("scopes_count", len(req.Scopes)),
		slog.String("ttl", ttl.String()),
	)
	writeJSON(w, http.StatusOK, map[string]string{"token": signed})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{"code": code, "message": message},
	})
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	keySize := 2048
	if v, err := strconv.Atoi(os.Getenv("MOCK_KEY_SIZE")); err == nil && v >= 2048 {
		keySize = v
	}

	key, err := rsa.GenerateKey(rand.Reader, keySize)
	if err != nil {
		logger.Error("Ошибка генерации RSA ключа", slog.String("error", err.Error()))
		os.Exit(1)
	}
	iss, err := newIssuer(key, logger)
	if err != nil {
		logger.Error("Ошибка сериализации JWKS", slog.String("error", err.Error()))
		os.Exit(1)
	}

	addr := ":" + envOrDefault("MOCK_PORT", "8080")
	logger.Info("Запуск JWKS Mock Server", slog.String("addr", addr))

	srv := &http.Server{
		Addr:              addr,
		Handler:           iss.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
