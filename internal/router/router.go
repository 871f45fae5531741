// Package router assembles the HTTP mux: resource routes plus the CORS,
// logging and optional JWT middleware chain.
package router

import (
	"net/http"

	"restlib/internal/auth"
	"restlib/internal/config"
	"restlib/internal/handler"
	"restlib/internal/logger"
)

type Router struct {
	mux       *http.ServeMux
	cors      config.CORSConfig
	validator *auth.JWTValidator
}

// New returns an empty router; validator may be nil to serve unauthenticated.
func New(cors config.CORSConfig, validator *auth.JWTValidator) *Router {
	return &Router{
		mux:       http.NewServeMux(),
		cors:      cors,
		validator: validator,
	}
}

// Add registers one resource under /api with the full middleware chain.
func (rt *Router) Add(res *handler.Resource) {
	res.Register(rt.mux, rt.wrap)
}

func (rt *Router) Handler() http.Handler { return rt.mux }

func (rt *Router) wrap(h http.HandlerFunc) http.HandlerFunc {
	wrapped := withLogging(h)
	if rt.validator != nil {
		wrapped = withAuth(rt.validator, wrapped)
	}
	return withCORS(rt.cors.AllowOrigin, rt.cors.AllowCredentials, wrapped)
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func withLogging(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next(sw, r)
		fields := map[string]any{
			"method": r.Method,
			"path":   r.URL.Path,
			"status": sw.status,
		}
		switch {
		case sw.status >= 500:
			logger.Error("response", fields)
		case sw.status >= 400:
			logger.Warn("response", fields)
		default:
			logger.Info("response", fields)
		}
	}
}

func withAuth(v *auth.JWTValidator, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := auth.BearerToken(r.Header.Get("Authorization"))
		if !ok {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		claims, err := v.ValidateToken(token)
		if err != nil {
			logger.Warn("auth_rejected", map[string]any{
				"path":  r.URL.Path,
				"error": err.Error(),
			})
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		next(w, r.WithContext(auth.WithClaims(r.Context(), claims)))
	}
}
