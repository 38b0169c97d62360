package auth

import (
	"context"
	"net/http"
	"slices"
	"strings"
)

const isOperatorKey contextKey = "is_operator"

// WithIsOperator stores the operator flag in the context.
func WithIsOperator(ctx context.Context, isOperator bool) context.Context {
	return context.WithValue(ctx, isOperatorKey, isOperator)
}

// IsOperatorFromContext returns whether the authenticated caller may use the
// admin API. Returns false when not set.
func IsOperatorFromContext(ctx context.Context) bool {
	v, _ := ctx.Value(isOperatorKey).(bool)
	return v
}

// ParseOperators splits a comma-separated operator list, trimming spaces
// and lower-casing each entry.
func ParseOperators(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.ToLower(strings.TrimSpace(part)); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// OperatorMiddleware marks the request as an operator request when the
// authenticated operator ID is in the allowlist. It must run after
// RequireAuth. A flag already set (DevAuth) is kept.
func OperatorMiddleware(operators []string) func(http.Handler) http.Handler {
	allowed := make([]string, 0, len(operators))
	for _, op := range operators {
		allowed = append(allowed, strings.ToLower(strings.TrimSpace(op)))
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if IsOperatorFromContext(r.Context()) {
				next.ServeHTTP(w, r)
				return
			}
			id, ok := OperatorIDFromContext(r.Context())
			isOperator := ok && slices.Contains(allowed, strings.ToLower(id))
			ctx := WithIsOperator(r.Context(), isOperator)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
