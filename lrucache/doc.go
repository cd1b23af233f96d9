/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package lrucache provides a concurrency-safe bounded in-memory cache with LRU eviction policy
// and Prometheus metrics. The rate limiter keeps its per-key local limiters in it while the shared
// store is unavailable, so the memory of the process stays bounded whatever the number of keys is.
package lrucache
