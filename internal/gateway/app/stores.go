package app

import (
	"database/sql"
	"fmt"
	"log"
	"strings"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"

	snapshotcache "wtcore/internal/cache/snapshot"
	"wtcore/internal/gateway/config"
	snapshotrepo "wtcore/internal/gateway/repository/snapshot"
)

type gatewayStores struct {
	// snapshots holds the latest page of every session.
	snapshots *snapshotcache.CachedStore
	// archive receives the final page of destroyed sessions. Nil when
	// archiving is off.
	archive snapshotrepo.Store
	db      *sql.DB
}

func initStores(cfg *config.Config) (*gatewayStores, error) {
	var (
		stores *gatewayStores
		err    error
	)
	if dsn := strings.TrimSpace(cfg.DatabaseURL); dsn != "" {
		stores, err = initPostgresStores(dsn)
	} else {
		stores = initInMemoryStores()
	}
	if err != nil {
		return nil, err
	}

	archive, err := chooseArchiveStore(cfg)
	if err != nil {
		stores.Close()
		return nil, err
	}
	stores.archive = archive
	return stores, nil
}

func initPostgresStores(dsn string) (*gatewayStores, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}
	drv := entsql.OpenDB(dialect.Postgres, db)
	log.Printf("snapshot store: postgres")
	return &gatewayStores{
		snapshots: snapshotcache.NewCachedStore(snapshotrepo.NewPostgresStore(drv), snapshotcache.DefaultCacheConfig()),
		db:        db,
	}, nil
}

func initInMemoryStores() *gatewayStores {
	log.Printf("snapshot store: in-memory")
	return &gatewayStores{
		snapshots: snapshotcache.NewCachedStore(snapshotrepo.NewMemoryStore(), snapshotcache.DefaultCacheConfig()),
	}
}

func chooseArchiveStore(cfg *config.Config) (snapshotrepo.Store, error) {
	if !cfg.Snapshot.CanUseS3() {
		if cfg.Snapshot.Enabled {
			log.Printf("snapshot archive: disabled (s3 config incomplete)")
		}
		return nil, nil
	}
	s3Cfg := snapshotrepo.S3Config{
		Endpoint:  cfg.Snapshot.Endpoint,
		Region:    cfg.Snapshot.Region,
		AccessKey: cfg.Snapshot.AccessKey,
		SecretKey: cfg.Snapshot.SecretKey,
		Bucket:    cfg.Snapshot.Bucket,
		UseSSL:    cfg.Snapshot.UseSSL,
	}
	store, err := snapshotrepo.NewS3Store(s3Cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize snapshot archive: %w", err)
	}
	log.Printf("snapshot archive: s3 bucket=%s endpoint=%s", s3Cfg.Bucket, s3Cfg.Endpoint)
	return store, nil
}

// registerCacheMetrics exports the snapshot cache counters.
func (s *gatewayStores) registerCacheMetrics(reg prometheus.Registerer) {
	counter := func(name, help string, read func(snapshotcache.MetricsSnapshot) uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "wtcore",
			Subsystem: "snapshot_cache",
			Name:      name,
			Help:      help,
		}, func() float64 {
			return float64(read(s.snapshots.Metrics()))
		})
	}
	reg.MustRegister(
		counter("hits_total", "Snapshot reads served from the cache.", func(m snapshotcache.MetricsSnapshot) uint64 { return m.Hits }),
		counter("misses_total", "Snapshot reads that went to the origin store.", func(m snapshotcache.MetricsSnapshot) uint64 { return m.Misses }),
		counter("origin_write_errors_total", "Failed snapshot writes.", func(m snapshotcache.MetricsSnapshot) uint64 { return m.OriginWriteErr }),
	)
}

func (s *gatewayStores) Close() {
	if s == nil || s.db == nil {
		return
	}
	if err := s.db.Close(); err != nil {
		log.Printf("snapshot store: close db: %v", err)
	}
}
