// Package audiocore assembles the audio resource components into one owned
// Core: the processing graph, the playback element pool, the two-tier media
// cache, the waveform worker pool and the health monitor.
//
// # Ownership
//
// Every component that must exist once per process (the processing context,
// the element pool) is created by New and reached through the Core handle.
// There are no package-level singletons; tests build as many independent
// Cores as they need.
//
// # Concurrency
//
//   - graph.Manager: every mutation runs under the Core's lock.Mutex
//   - elementpool.Pool: guarded by its own mutex
//   - blobcache.Cache: reads never wait for persistence or eviction
//   - waveform.Pool: tasks run on worker goroutines and exchange only URLs
//     and peak slices with callers
//
// # Degradation
//
// A persistent store that cannot be opened leaves its cache memory-only.
// A failed analysis connection routes capture straight to the output. A
// waveform task that times out yields a flat placeholder.
package audiocore
