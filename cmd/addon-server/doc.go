// Package main hosts the addon server entrypoint used in containers.
//
// Architecture overview:
//   - HTTP API: internal/api.Server serves the root and per-language manifests, catalog/meta/stream resources,
//     health probes, and /metrics. Requests pass through request id, logging, recovery, CORS, timeout, and
//     per-IP rate-limit middleware.
//   - Upstream access: every page fetch goes through internal/upstream, which applies the shared concurrency
//     limiter, optional per-host pacing, bounded retries with linear backoff, and the rate-limit retry path.
//   - Catalog pipeline: internal/site parses listing, search, and watch pages into movie records; internal/resolver
//     maps between cross-reference ids and site ids; internal/stream turns watch pages into stream descriptors.
//   - Refresh: internal/refresher sweeps recent listings per language on a full and an incremental schedule,
//     stores the merged catalog in the cache, records each run, and publishes a refresh event.
//   - Plumbing: Viper config (CATALOG_ env prefix), zap logging with optional rotating file output, Prometheus
//     metrics, OpenTelemetry trace propagation into published events, and memory/Redis caches.
//
// Quick checklist:
//   - Configure env vars: CATALOG_SERVER_PORT, CATALOG_SITE_LANGUAGES, CATALOG_CACHE_BACKEND (+ CATALOG_CACHE_REDIS_ADDR),
//     CATALOG_STORAGE_BACKEND, CATALOG_DB_BACKEND/DSN, and CATALOG_PUBSUB_* when persistence beyond memory is needed.
//   - Run locally: go run ./cmd/addon-server -config config.yaml (or rely solely on env overrides).
//   - The process reacts to SIGTERM by draining HTTP, stopping the refresher, and closing clients.
package main
