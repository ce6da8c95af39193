// Package main hosts the lead capture service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes the heartbeat (GET /), the database diagnostic (GET /test), lead intake
//     (POST /lead) and Prometheus metrics. CORS is fully open so the marketing site can post from any origin.
//   - Lead intake: bodies are validated by internal/lead and handed to internal/intake.Recorder, which makes exactly
//     one write through the database gateway. Any gateway failure becomes a "memory" acknowledgment; the submitter
//     always sees success for a well-formed lead.
//   - Gateway: internal/gateway selects a driver from the DATABASE_URL scheme (postgres, redis, gs). A missing or
//     broken database never stops the process; the outcome is kept in a Handle and reported by /test.
//   - Fanout: when pubsub.project_id and pubsub.topic_name are set, every accepted lead is published as a
//     lead.received event. Publishing is best-effort.
//   - Configuration & plumbing: Viper populates config from env/files; zap provides structured logging; Prometheus
//     metrics are exported via the metrics middleware and /metrics handler.
//
// Quick checklist:
//   - Configure env vars: PORT (default 8000), DATABASE_URL, DATABASE_NAME, optionally DATABASE_DRIVER and the
//     LEADS_* prefixed forms of every config key (LEADS_PUBSUB_PROJECT_ID, LEADS_LOGGING_DEVELOPMENT, ...).
//   - Run locally: go run ./cmd/leadapi -config config.yaml (or rely solely on env overrides; a .env file in the
//     working directory is loaded first when present).
//   - The process binds all interfaces and drains in-flight requests on SIGTERM.
package main
