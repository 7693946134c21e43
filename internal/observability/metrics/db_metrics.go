package metrics

import (
	"context"
	"database/sql"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

const dbQueryTimeout = 5 * time.Second

// NewDBCollectors returns gauges backed by the destination database: the
// planner's row estimate for table and the pool's open connections.
func NewDBCollectors(db *sql.DB, table string, logger zerolog.Logger) []prometheus.Collector {
	return []prometheus.Collector{
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: metricPrefix + "stored_rows_estimate",
				Help: "Estimated rows in the destination table",
			},
			func() float64 {
				return queryCount(db, logger, "SELECT COALESCE(reltuples, 0)::bigint FROM pg_class WHERE oid = to_regclass($1)", table)
			},
		),
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: metricPrefix + "db_open_connections",
				Help: "Open connections to the destination database",
			},
			func() float64 {
				if db == nil {
					return 0
				}
				return float64(db.Stats().OpenConnections)
			},
		),
	}
}

// RegisterDBMetrics registers the database gauges with reg.
func RegisterDBMetrics(reg prometheus.Registerer, db *sql.DB, table string, logger zerolog.Logger) error {
	for _, c := range NewDBCollectors(db, table, logger) {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func queryCount(db *sql.DB, logger zerolog.Logger, query string, args ...any) float64 {
	if db == nil {
		return 0
	}
	ctx, cancel := context.WithTimeout(context.Background(), dbQueryTimeout)
	defer cancel()

	var count int64
	if err := db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		logger.Debug().Err(err).Msg("metrics query failed")
		return 0
	}
	if count < 0 {
		return 0
	}
	return float64(count)
}
