package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/decred/slog"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/progate-hackathon-strawberry-flavor/STRIDE-backend/internal/logger"
)

type UserIDKey struct{}

type roleKey struct{}

// RoleAdmin is the JWT "role" claim value that opens /api/admin.
const RoleAdmin = "admin"

// GetUserIDFromContext retrieves the user ID from the context.
func GetUserIDFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(UserIDKey{}).(string)
	return userID, ok && userID != ""
}

// IsAdmin reports whether the authenticated caller carries role=admin.
func IsAdmin(ctx context.Context) bool {
	role, _ := ctx.Value(roleKey{}).(string)
	return role == RoleAdmin
}

// WithIdentity はテストやバイパス時にユーザーIDとロールをContextに設定します。
func WithIdentity(ctx context.Context, userID, role string) context.Context {
	ctx = context.WithValue(ctx, UserIDKey{}, userID)
	return context.WithValue(ctx, roleKey{}, role)
}

// writeJSONError writes a JSON error response
func writeJSONError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{"error": message, "code": code})
}

// Auth はBearer JWTからユーザーIDを解決します(resolveUser)。
type Auth struct {
	secret []byte
	bypass bool
	log    slog.Logger
}

// NewAuth creates the JWT middleware. With bypass set, no token is checked.
func NewAuth(secret string, bypass bool, log slog.Logger) *Auth {
	return &Auth{secret: []byte(secret), bypass: bypass, log: logger.OrDisabled(log)}
}

// Middleware is a middleware function that checks for a valid JWT token.
func (a *Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// テスト用: 認証をバイパスする。X-User-ID があればそれを使い、無ければ毎回別のユーザーとして扱う
		if a.bypass {
			userID := r.Header.Get("X-User-ID")
			if userID == "" {
				userID = uuid.NewString()
			}
			a.log.Debugf("BYPASS_AUTH: user %s として扱います", userID)
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), userID, r.Header.Get("X-User-Role"))))
			return
		}

		// 1. authorizationヘッダーからJWTを取得
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Authorization header is required")
			return
		}
		tokenString, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok || tokenString == "" {
			writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Invalid Authorization header format. Must be 'Bearer <token>'")
			return
		}

		// 2. JWTの検証とパース
		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			// アルゴリズムがHMACであることを確認
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return a.secret, nil
		})
		if err != nil || !token.Valid {
			a.log.Debugf("JWTの検証に失敗しました: %v", err)
			writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Invalid token")
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Invalid token claims")
			return
		}

		// ユーザーIDは 'sub' (Subject) クレームに格納されている
		userID, err := claims.GetSubject()
		if err != nil || userID == "" {
			a.log.Debugf("JWTに 'sub' がありません: %v", claims["sub"])
			writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Invalid token: missing user ID")
			return
		}
		role, _ := claims["role"].(string)

		// 3. ユーザーIDをContextに設定して次のハンドラに渡す
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), userID, role)))
	})
}

// RequireAdmin rejects callers without role=admin. It must run after Middleware.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !IsAdmin(r.Context()) {
			writeJSONError(w, http.StatusForbidden, "forbidden", "admin role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
