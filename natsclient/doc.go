// Package natsclient wraps the NATS and JetStream client libraries with
// the resilience pieces the gateway needs: a circuit breaker around
// broker operations, connection health monitoring, typed KV errors with
// CAS retry loops, and optional Prometheus metrics for streams and
// consumers.
//
// # Client
//
// Client is the entry point. Build it with functional options, then
// Connect:
//
//	client, err := natsclient.NewClient("nats://localhost:4222",
//		natsclient.WithName("splatcast"),
//		natsclient.WithMetrics(registry),
//		natsclient.WithHealthChangeCallback(func(healthy bool) { ... }),
//	)
//	if err != nil { ... }
//	if err := client.Connect(ctx); err != nil { ... }
//	defer client.Close(ctx)
//
// Every JetStream operation checks the circuit breaker first. Five
// consecutive failures open the circuit; while open, operations return
// ErrCircuitOpen immediately instead of hammering a broker that is
// down. The reopen delay doubles per trip up to WithMaxBackoff, and any
// successful operation closes the circuit.
//
// # Key-value
//
// KVStore wraps a JetStream bucket with per-operation timeouts and
// sentinel errors (ErrKVKeyNotFound, ErrKVKeyExists,
// ErrKVRevisionMismatch). UpdateWithRetry and UpdateJSON run
// read-modify-write loops that retry revision conflicts with jittered
// backoff:
//
//	kv := client.NewKVStore(bucket)
//	err := kv.UpdateJSON(ctx, "app/acme", func(m map[string]any) error {
//		m["updated_at"] = time.Now().UTC()
//		return nil
//	})
//
// TemporalResolver answers point-in-time queries against a bucket's
// revision history, with a short-TTL cache over History fetches. The
// replay API uses it to resolve registry state as of a past timestamp.
//
// # Testing
//
// NewTestClient starts an embedded NATS server on a random port and
// returns a connected Client, so package tests run against a real
// broker with nothing installed on the host. Cleanup is registered with
// the test automatically.
package natsclient
