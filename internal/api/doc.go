// Package api hosts the HTTP server, middleware, and addon handlers.
// Notable routes:
//   - GET /manifest.json and /{lang}/manifest.json for addon installation.
//   - GET /{lang}/catalog|meta|stream/movie/{id}[/{extra}].json for addon clients.
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping, behind the API key when auth is on.
package api
