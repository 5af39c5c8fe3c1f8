package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
)

// contextKey is the type for context values to avoid collisions
type contextKey string

const sessionKey contextKey = "cart.session"

// Middleware resolves the Cart-Session header and stores the Session in the
// request context. Requests without the header get a freshly minted
// anonymous session, echoed back in the response header so the client can
// keep it.
func Middleware(minClientVersion string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isExemptPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			var s Session
			if header := r.Header.Get(Header); header == "" {
				s = NewAnonymous()
			} else {
				var err error
				s, err = Parse(header)
				if err != nil {
					logger.Warn("invalid Cart-Session header",
						slog.String("header", header),
						slog.String("error", err.Error()))
					writeSessionError(w, http.StatusBadRequest, CodeSessionInvalid,
						"Invalid Cart-Session header: "+err.Error())
					return
				}
			}

			if err := CheckClientVersion(s.ClientVersion, minClientVersion); err != nil {
				var verErr *VersionError
				if errors.As(err, &verErr) {
					writeSessionError(w, http.StatusBadRequest, verErr.Code, verErr.Message)
					return
				}
			}

			if s.Minted {
				w.Header().Set(Header, s.Format())
			}
			next.ServeHTTP(w, r.WithContext(NewContext(r.Context(), s)))
		})
	}
}

// isExemptPath returns true for infrastructure paths that carry no session.
// The MCP endpoint passes the session per tool call instead.
func isExemptPath(path string) bool {
	switch path {
	case "/health", "/healthz", "/metrics", "/mcp":
		return true
	default:
		return false
	}
}

func writeSessionError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}{}
	resp.Error.Code = code
	resp.Error.Message = message

	json.NewEncoder(w).Encode(resp)
}

// NewContext returns ctx carrying s.
func NewContext(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, sessionKey, s)
}

// FromContext retrieves the session stored by Middleware.
func FromContext(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(sessionKey).(Session)
	return s, ok
}
