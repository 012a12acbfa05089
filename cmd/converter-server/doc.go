// Package main hosts the file conversion service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server serves the upload page, the multipart upload endpoint, the task status
//     endpoint, converted file downloads, and the /ws/upload/ websocket that pushes job updates to browsers.
//   - Dispatcher & queue: accepted uploads are persisted via the JobStore and enqueued on a bounded in-memory
//     queue sized by conversion.queue_depth, then fanned out to conversion.concurrency workers.
//   - Conversion: workers fetch the input from the BlobStore, run the engine registered for the conversion type
//     (LibreOffice headless, or a copy when no engine matches), store the output under converted/, and mark
//     the job COMPLETED or FAILED.
//   - Fan-out: every status change goes to the in-process websocket hub, through Redis when redis.addr is set so
//     all replicas see it, and to Pub/Sub when pubsub.topic_name is set.
//   - Plumbing: Viper loads config from file and CONVERTER_* env vars; zap logs; Prometheus metrics at /metrics;
//     optional OpenTelemetry tracing.
//
// Quick checklist:
//   - Run locally: go run ./cmd/converter-server -config config.yaml (or rely on env overrides).
//   - Storage: CONVERTER_STORAGE_BACKEND=memory|local|gcs with base_dir or bucket; CONVERTER_DATABASE_DSN switches
//     the job store to Postgres.
//   - Shutdown: SIGINT/SIGTERM stops accepting requests and drains in-flight conversions.
package main
