package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"key-provisioning-service/config"
)

// NewRouter はルーターを生成する。秘密鍵を返すルートは持たない。
func NewRouter(h *KeyHandler, cfg *config.Config) http.Handler {
	r := chi.NewRouter()

	// ミドルウェア
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	// ルート定義
	r.Route("/v1/keys", func(r chi.Router) {
		r.Get("/symmetric", h.GetSymmetricKey)
		r.Get("/public", h.GetPublicKey)
	})
	r.Get("/v1/provisioning/runs", h.ListRuns)

	if cfg != nil && cfg.OtelEnabled {
		return otelhttp.NewHandler(r, cfg.OtelServiceName)
	}
	return r
}
