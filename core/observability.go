package core

// PoolStats represents runtime observability state for a queue pool.
type PoolStats struct {
	Name        string
	Capacity    int
	Outstanding int
	Available   int
	Closed      bool
}
