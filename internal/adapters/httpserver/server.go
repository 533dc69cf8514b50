package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/phenrril/jeanstore/internal/domain"
	"github.com/phenrril/jeanstore/internal/usecase"
)

const stateCookie = "oauth_state"

// Server exposes the read side of the catalog as JSON and hosts the Google
// sign-in redirect pair for the process's shopper session.
type Server struct {
	mux         *http.ServeMux
	products    *usecase.ProductUC
	session     *usecase.AuthSession
	afterSignIn string
}

func New(p *usecase.ProductUC, sess *usecase.AuthSession) http.Handler {
	s := &Server{products: p, session: sess, afterSignIn: "/", mux: http.NewServeMux()}
	s.routes()
	return Chain(s.mux, Recovery, Logging)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	s.mux.HandleFunc("/api/products", s.apiProducts)
	s.mux.HandleFunc("/api/products/", s.apiProductByID)
	s.mux.HandleFunc("/api/categories", s.apiCategories)
	s.mux.HandleFunc("/api/images/resolve", s.apiResolveImage)
	s.mux.HandleFunc("/api/session", s.apiSession)

	s.mux.HandleFunc("/auth/google/login", s.handleGoogleLogin)
	s.mux.HandleFunc("/auth/google/callback", s.handleGoogleCallback)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "cacheValid": s.products.Cache.IsValid()})
}

// apiProducts lists products. Filters: category, q, featured, new and limit.
func (s *Server) apiProducts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))

	var (
		list []domain.Product
		err  error
	)
	switch {
	case q.Get("featured") == "true":
		list, err = s.products.Featured(r.Context(), limit)
	case q.Get("new") == "true":
		list, err = s.products.NewArrivals(r.Context(), limit)
	case q.Get("q") != "":
		list, err = s.products.Search(r.Context(), q.Get("q"))
	case q.Get("category") != "":
		list, err = s.products.ByCategory(r.Context(), q.Get("category"))
	default:
		list, err = s.products.List(r.Context())
	}
	if err != nil {
		writeError(w, err)
		return
	}
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": list, "total": len(list)})
}

func (s *Server) apiProductByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method", http.StatusMethodNotAllowed)
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/products/"), "/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}
	p, err := s.products.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) apiCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := s.products.Categories(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cats)
}

// apiResolveImage never fails; unknown references resolve to the placeholder.
func (s *Server) apiResolveImage(w http.ResponseWriter, r *http.Request) {
	ref := r.URL.Query().Get("ref")
	writeJSON(w, http.StatusOK, map[string]string{"ref": ref, "url": s.products.ResolveImage(r.Context(), ref)})
}

func (s *Server) apiSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"authenticated": s.session.IsAuthenticated(),
		"user":          s.session.CurrentUser(),
	})
}

func (s *Server) handleGoogleLogin(w http.ResponseWriter, r *http.Request) {
	state := uuid.New().String()
	loginURL := s.session.GoogleAuthURL(state)
	if loginURL == "" {
		http.Error(w, "google sign-in is not configured", http.StatusNotImplemented)
		return
	}
	http.SetCookie(w, &http.Cookie{Name: stateCookie, Value: state, Path: "/", MaxAge: 300, HttpOnly: true})
	http.Redirect(w, r, loginURL, http.StatusFound)
}

func (s *Server) handleGoogleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	c, _ := r.Cookie(stateCookie)
	if c == nil || c.Value == "" || c.Value != q.Get("state") {
		http.Error(w, "state", http.StatusBadRequest)
		return
	}
	http.SetCookie(w, &http.Cookie{Name: stateCookie, Path: "/", MaxAge: -1})
	if errMsg := q.Get("error"); errMsg != "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": errMsg})
		return
	}
	res, err := s.session.LoginWithGoogle(r.Context(), q.Get("code"))
	if err != nil {
		log.Error().Err(err).Msg("google sign-in")
		writeJSON(w, statusFor(err), map[string]string{"error": res.Message})
		return
	}
	http.Redirect(w, r, s.afterSignIn, http.StatusFound)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code >= 500 {
		log.Error().Err(err).Msg("request failed")
	}
	writeJSON(w, code, map[string]string{"error": domain.FailureReason(err)})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrAuthRequired), errors.Is(err, domain.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrRemoteUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

type Middleware func(http.Handler) http.Handler

// Chain wraps h so that the first middleware is the innermost.
func Chain(h http.Handler, mws ...Middleware) http.Handler {
	for _, mw := range mws {
		h = mw(h)
	}
	return h
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("took", time.Since(start)).
			Msg("http")
	})
}

func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				log.Error().Interface("panic", v).Str("path", r.URL.Path).Msg("recovered")
				http.Error(w, "internal error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
