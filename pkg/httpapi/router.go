package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	x402types "github.com/coinbase/x402/go/pkg/types"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sigweihq/purchasegate/pkg/metrics"
	"github.com/sigweihq/purchasegate/pkg/processor"
	"github.com/sigweihq/purchasegate/pkg/ratelimit"
	"github.com/sigweihq/purchasegate/pkg/types"
)

// Verifier runs one purchase verification
type Verifier interface {
	Verify(ctx context.Context, req types.VerifyRequest) (processor.Outcome, error)
}

// CatalogReader serves the public catalog and payment quotes
type CatalogReader interface {
	Items() []types.CatalogItem
	PaymentRequirements(skuID, network, payee, resource string) (*x402types.PaymentRequirements, error)
}

// PurchaseReader serves the read side of the ledger
type PurchaseReader interface {
	Find(ctx context.Context, paymentID string) (types.PurchaseRecord, error)
	Purchases(ctx context.Context, payerID string) ([]types.PurchaseRecord, error)
}

type Dependencies struct {
	Verifier  Verifier
	Catalog   CatalogReader
	Purchases PurchaseReader
	Limiter   *ratelimit.Limiter
	Metrics   metrics.Recorder
	Gatherer  prometheus.Gatherer // /metrics is not mounted when nil
}

type Config struct {
	Network        string
	Payee          string
	RequestTimeout time.Duration
}

type Handler struct {
	verifier  Verifier
	catalog   CatalogReader
	purchases PurchaseReader
	limiter   *ratelimit.Limiter
	metrics   metrics.Recorder
	config    Config
	logger    *slog.Logger
}

// NewRouter mounts the purchase API and its operational endpoints
func NewRouter(deps Dependencies, config Config, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	recorder := deps.Metrics
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 30 * time.Second
	}

	h := &Handler{
		verifier:  deps.Verifier,
		catalog:   deps.Catalog,
		purchases: deps.Purchases,
		limiter:   deps.Limiter,
		metrics:   recorder,
		config:    config,
		logger:    logger,
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(requestLogger(logger))

	r.Get("/healthz", h.Health)
	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(chimiddleware.Timeout(config.RequestTimeout))

		r.Post("/verify-transaction", h.VerifyTransaction)
		r.Get("/catalog", h.ListCatalog)
		r.Get("/catalog/{skuId}/requirements", h.Requirements)
		r.Get("/purchases", h.ListPurchases)
		r.Get("/purchases/{paymentId}", h.GetPurchase)
	})

	return r
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info("http_request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"request_id", chimiddleware.GetReqID(r.Context()),
			)
		})
	}
}
