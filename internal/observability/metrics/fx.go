package metrics

import (
	"context"
	"errors"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/invora/internal/config"
)

// Module provides the billing instruments and serves /metrics.
var Module = fx.Module("metrics",
	fx.Provide(func(cfg config.Config) *BillingMetrics {
		return BillingWithConfig(Config{
			ServiceName: cfg.AppName,
			Environment: cfg.Environment,
		})
	}),
	fx.Invoke(serveMetrics),
)

func serveMetrics(lc fx.Lifecycle, log *zap.Logger) {
	addr := os.Getenv("METRICS_ADDR")
	if addr == "" {
		addr = ":9464"
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("metrics listener failed", zap.Error(err))
				}
			}()
			log.Info("metrics listening", zap.String("addr", addr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}
