package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"proctordraw/internal/auth"
	"proctordraw/internal/websocket"
)

// ClientCookie identifies a browser across reloads. It keys the drawn-name
// memo and the draw rate limiter.
const ClientCookie = "proctordraw_client"

const clientCookieMaxAge = 365 * 24 * 60 * 60

type contextKey string

const clientIDKey contextKey = "client_id"

func clientIDFromContext(ctx context.Context) string {
	clientID, _ := ctx.Value(clientIDKey).(string)
	return clientID
}

// corsMiddleware allows any front end to call the API.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Expose-Headers", "Content-Disposition")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// clientMiddleware resolves the client id cookie, issuing a new one when
// the browser has none.
func (s *Server) clientMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientID := ""
		if cookie, err := r.Cookie(ClientCookie); err == nil {
			if parsed, err := uuid.Parse(cookie.Value); err == nil {
				clientID = parsed.String()
			}
		}

		if clientID == "" {
			clientID = uuid.NewString()
			// The upgrade response cannot carry headers set here.
			if r.URL.Path != "/ws" {
				http.SetCookie(w, &http.Cookie{
					Name:     ClientCookie,
					Value:    clientID,
					Path:     "/",
					MaxAge:   clientCookieMaxAge,
					HttpOnly: true,
					SameSite: http.SameSiteLaxMode,
				})
			}
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), clientIDKey, clientID)))
	})
}

// requireAdmin rejects requests without an administrator bearer token.
func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok, err := s.optionalClaims(r)
		if err != nil {
			s.sendDomainError(w, err)
			return
		}
		if !ok {
			s.sendError(w, "Authorization required", http.StatusUnauthorized)
			return
		}
		if !claims.IsAdmin() {
			s.sendDomainError(w, auth.ErrForbidden)
			return
		}
		next(w, r)
	}
}

// optionalClaims verifies the bearer token if one is present.
func (s *Server) optionalClaims(r *http.Request) (auth.Claims, bool, error) {
	token := bearerToken(r)
	if token == "" {
		return auth.Claims{}, false, nil
	}
	claims, err := s.auth.Verify(token)
	if err != nil {
		return auth.Claims{}, false, err
	}
	return claims, true, nil
}

// bearerToken reads the Authorization header, or the token query parameter
// that browsers must use for websocket upgrades.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if scheme, token, found := strings.Cut(header, " "); found && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

// identify maps a feed upgrade to a viewer role: administrators see the
// feed as admin, everyone else as viewer.
func (s *Server) identify(r *http.Request) (string, string, error) {
	claims, ok, err := s.optionalClaims(r)
	if err != nil {
		return "", "", err
	}
	role := websocket.RoleViewer
	if ok && claims.IsAdmin() {
		role = websocket.RoleAdmin
	}
	return clientIDFromContext(r.Context()), role, nil
}
