// Command proceedings-crawler harvests NeurIPS proceedings into a local tree:
// one CSV row per paper, PDFs under per-year directories and a YAML run
// summary.
//
// Architecture overview:
//   - Discovery: each configured year's listing page is fetched through the
//     Colly fetcher and turned into paper references, one year at a time.
//   - Worker pool: references flow through a bounded in-memory queue to a
//     fixed set of workers (crawler.concurrency) that fetch the detail page,
//     extract authors and the PDF link, stream the PDF to disk and append the
//     row.
//   - Politeness: every request waits out a random delay and a per-host token
//     bucket; transient failures are retried with jittered backoff.
//   - Sinks: the CSV file is authoritative. SQLite and Postgres copies are
//     optional and best-effort.
//   - Fanout: finished output can be mirrored to GCS or a local directory, and
//     paper/run events published to Pub/Sub.
//   - Ops: --metrics-addr starts an HTTP server with /healthz, /readyz,
//     /metrics and /v1/progress.
//
// Configuration comes from defaults, an optional YAML file (--config),
// PAPERS_* environment variables and flags, in increasing precedence.
//
//	proceedings-crawler crawl --output ./neurips --first-year 2021 --last-year 2023
package main
