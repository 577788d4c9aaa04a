// Package main hosts the publication harvester.
//
// Architecture overview:
//   - Stage 1: a single browser session walks the listing pages (?page=0,1,...) until the page budget is spent or
//     a page yields no result cards. Links are deduplicated, the last card seen winning, and written to
//     publications_links.json.
//   - Stage 2: the unique links are split into one contiguous shard per worker. Each worker owns a headless browser
//     session for its whole shard and extracts title, authors, date and abstract through ordered fallback chains.
//     A failing page is skipped and keeps its listing stub; a worker whose browser fails to launch is reported.
//   - Persistence: detail records are merged over the listing stubs in discovery order and written to
//     publications.json. The same artifacts are mirrored to GCS, upserted into Postgres and announced on Pub/Sub when
//     those integrations are configured.
//   - Configuration & plumbing: cobra flags bound into Viper (env prefix HARVESTER_) populate config; zap provides
//     structured logging; Prometheus metrics can be served on --metrics-addr for the duration of the run.
//
// Quick checklist:
//   - Run locally: go run ./cmd/harvester --outdir data --max-pages 5 --workers 4.
//   - Without Chrome: --engine static fetches raw HTML with colly; pages that render client side will yield stubs only.
//   - Optional exports: HARVESTER_GCS_BUCKET, HARVESTER_POSTGRES_DSN, HARVESTER_PUBSUB_PROJECT_ID and
//     HARVESTER_PUBSUB_TOPIC.
package main
