package middleware

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sherzodv/tim/pkg/wire"
)

// SessionResolver turns a session key into the session it authorizes.
type SessionResolver func(key string) (wire.Session, error)

// NewAuthMiddleware validates the session-key header on every call and
// injects the resolved session into the request metadata. Register and
// connect are the only endpoints mounted without it.
func NewAuthMiddleware(logger *slog.Logger, resolve SessionResolver) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// couldn't extract metadata from request so something went wrong
			// with previous middlewares
			reqMeta, ok := ReqMetadataFrom(r.Context())
			if !ok {
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}

			key := r.Header.Get(wire.SessionHeader)
			if key == "" {
				logger.Warn("Session key missing in request", "ip", reqMeta.IP)
				writeUnauthenticated(w)
				return
			}

			sess, err := resolve(key)
			if err != nil {
				if errors.Is(err, wire.ErrUnauthenticated) {
					logger.Warn("Unknown session key presented", "ip", reqMeta.IP)
					writeUnauthenticated(w)
					return
				}
				logger.Error("Session lookup failed", slog.Any("error", err))
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}

			reqMeta.Session = &sess
			next.ServeHTTP(w, r)
		})
	}
}

func writeUnauthenticated(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(wire.ErrorRes{
		Code:    wire.CodeUnauthenticated,
		Message: "unknown or missing session key",
	})
}
