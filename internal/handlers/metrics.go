package handlers

import (
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/huangang/backoffice/backend/internal/services"
	"github.com/huangang/backoffice/backend/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

var registerRuntimeOnce sync.Once

// Metrics exposes the default Prometheus registry. The first call also
// registers database pool stats and the queue mode gauge.
func Metrics(db *gorm.DB, queue services.TaskQueue) gin.HandlerFunc {
	registerRuntimeOnce.Do(func() {
		if sqlDB, err := db.DB(); err == nil {
			prometheus.MustRegister(collectors.NewDBStatsCollector(sqlDB, "backoffice"))
		} else {
			logger.Warn().Err(err).Msg("[Metrics] database stats unavailable")
		}
		prometheus.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "backoffice_queue_async_enabled",
			Help: "Whether the async queue (Redis) is enabled (1=yes, 0=no).",
		}, func() float64 {
			if queue != nil && queue.IsAsync() {
				return 1
			}
			return 0
		}))
	})
	return gin.WrapH(promhttp.Handler())
}
