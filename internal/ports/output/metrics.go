package output

import "time"

// MetricsCollector defines the secondary port for metrics collection.
type MetricsCollector interface {
	// IncQueryCount increments the query counter.
	IncQueryCount(mode string, success bool)

	// ObserveQueryDuration records query duration.
	ObserveQueryDuration(mode string, duration time.Duration)

	// IncCacheLookups counts chunk residency checks.
	IncCacheLookups(hit bool)

	// IncCacheEvictions counts evicted chunks.
	IncCacheEvictions(count int)

	// SetChunksResident sets the number of decoded chunks held in memory.
	SetChunksResident(count int)

	// IncChunkFetches counts chunk fetch batches sent to the store.
	IncChunkFetches(success bool)

	// IncMissingChunks counts requested chunks absent from the store.
	IncMissingChunks(count int)

	// IncStorageOperations increments storage operation counter.
	IncStorageOperations(operation string, success bool)

	// ObserveStorageDuration records storage operation duration.
	ObserveStorageDuration(operation string, duration time.Duration)
}

// NoOpMetrics is a no-op implementation of MetricsCollector.
type NoOpMetrics struct{}

// IncQueryCount implements MetricsCollector.
func (n *NoOpMetrics) IncQueryCount(_ string, _ bool) {}

// ObserveQueryDuration implements MetricsCollector.
func (n *NoOpMetrics) ObserveQueryDuration(_ string, _ time.Duration) {}

// IncCacheLookups implements MetricsCollector.
func (n *NoOpMetrics) IncCacheLookups(_ bool) {}

// IncCacheEvictions implements MetricsCollector.
func (n *NoOpMetrics) IncCacheEvictions(_ int) {}

// SetChunksResident implements MetricsCollector.
func (n *NoOpMetrics) SetChunksResident(_ int) {}

// IncChunkFetches implements MetricsCollector.
func (n *NoOpMetrics) IncChunkFetches(_ bool) {}

// IncMissingChunks implements MetricsCollector.
func (n *NoOpMetrics) IncMissingChunks(_ int) {}

// IncStorageOperations implements MetricsCollector.
func (n *NoOpMetrics) IncStorageOperations(_ string, _ bool) {}

// ObserveStorageDuration implements MetricsCollector.
func (n *NoOpMetrics) ObserveStorageDuration(_ string, _ time.Duration) {}
