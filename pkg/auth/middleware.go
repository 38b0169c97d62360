package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"
)

type contextKey string

const operatorIDKey contextKey = "operator_id"

// OperatorIDFromContext は context から operatorID を取得する
func OperatorIDFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(operatorIDKey).(string)
	return v, ok
}

// WithOperatorID は context に operatorID をセットする
func WithOperatorID(ctx context.Context, operatorID string) context.Context {
	return context.WithValue(ctx, operatorIDKey, operatorID)
}

// tokenFromRequest は Authorization: Bearer ヘッダー、なければセッションクッキーからトークンを取り出す
func tokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if scheme, token, ok := strings.Cut(h, " "); ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	if cookie, err := r.Cookie(SessionCookieName()); err == nil {
		return cookie.Value
	}
	return ""
}

func writeUnauthorized(w http.ResponseWriter, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code})
}

// RequireAuth は認証必須ミドルウェア。トークンを検証し、operatorID を context にセットする
func RequireAuth(sessionSecret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := tokenFromRequest(r)
			if token == "" {
				writeUnauthorized(w, "unauthorized")
				return
			}

			operatorID, err := VerifySessionToken(token, sessionSecret, time.Now())
			if errors.Is(err, ErrTokenExpired) {
				writeUnauthorized(w, "session_expired")
				return
			}
			if err != nil {
				writeUnauthorized(w, "invalid_session")
				return
			}

			ctx := WithOperatorID(r.Context(), operatorID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// DevOperatorID は開発用のダミー operatorID（AUTH_REQUIRED=false 時に使用）
const DevOperatorID = "dev-operator"

// DevAuth は開発用ミドルウェア。ダミー operatorID をセットし、オペレーター権限を付与する
func DevAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := WithOperatorID(r.Context(), DevOperatorID)
		ctx = WithIsOperator(ctx, true)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
