// Package secrets reads Vault KV secrets and database credentials through a
// shared TTL cache.
//
// Cache keys are namespaced per engine and mount:
//
//	kv:<mount>:<path>[:v<version>]   KV reads, default cache TTL
//	kv:list:<mount>:<path>           KV listings, 60s
//	db:<mount>:<role>                dynamic credentials, bounded by the lease
//	db:static:<mount>:<role>         static-role credentials, 300s unless overridden
//
// Concurrent misses for the same key share one upstream read.
package secrets
