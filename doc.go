// Package splatcast implements a multi-tenant event-streaming gateway.
//
// Producers publish JSON events into named, schema-versioned topics over
// HTTP; the gateway validates each event against its topic's schema
// registry, optionally transforms it in a sandboxed Starlark interpreter,
// and appends it durably to a per-channel NATS JetStream stream.
// Subscribers attach over WebSocket and receive a live, optionally
// re-transformed copy of the stream, with replay from a historical
// timestamp.
//
// # Architecture
//
//	┌──────────────────────────────────────┐
//	│            gateway                   │  HTTP publish + batch,
//	│  (publish, transformers, subscribe)  │  WebSocket subscribe
//	└──────────────────────────────────────┘
//	           ↓ resolves and runs
//	┌──────────────────────────────────────┐
//	│   publish pipeline / session hub     │  schema resolution, quota,
//	│  (resolve, quota, idempotency,       │  dedup, sandboxed transform,
//	│   transformer, sandbox)              │  per-session delivery
//	└──────────────────────────────────────┘
//	           ↓ reads and appends via
//	┌──────────────────────────────────────┐
//	│         NATS JetStream               │  one stream per app:topic
//	│  (queue/jetstream over natsclient)   │  channel, KV record store
//	└──────────────────────────────────────┘
//
// # Packages
//
//   - gateway: the HTTP/WebSocket edge; maps error kinds to statuses and
//     close codes.
//   - publish: the ordered ingest pipeline with batch fan-out and audit.
//   - session: subscriber sessions bridging one consumer to one connection.
//   - resolve, transformer, sandbox: schema references, transformer
//     registry, and the Starlark execution sandbox.
//   - quota, idempotency: opt-in rate limiting and publish deduplication.
//   - queue, queue/jetstream: channel naming and the broker-backed log.
//   - store, store/memstore, store/natskv: registry records for apps,
//     topics, schemas, and transformers.
//   - natsclient: resilient NATS connection management with circuit
//     breaking, JetStream helpers, and a KV abstraction.
//   - config, errors, metric, health: the ambient platform layer.
//
// The cmd/splatcast binary wires these together; see package config for
// the file format and environment overrides.
package splatcast
