// Package api hosts the HTTP server, middleware, and handlers of the
// conversion service. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /upload/ for the browser upload page.
//   - POST /api/upload/ and GET /api/task-status/ for job submission and
//     polling.
//   - GET /download/{file_name} for converted files.
//   - GET /ws/upload/ for the websocket status stream.
package api
