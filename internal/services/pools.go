package services

import "sort"

// poolItem is implemented by every node type that lives in a capped
// primary/secondary pool pair (pkg/models).
type poolItem interface {
	PoolKey() string
	PoolScore() float64
}

// findInPools returns a copy of the node with the given key, searching the
// primary pool first. Callers mutate the copy and re-insert it.
func findInPools[T poolItem](primary, secondary []T, key string) (T, bool) {
	for _, n := range primary {
		if n.PoolKey() == key {
			return n, true
		}
	}
	for _, n := range secondary {
		if n.PoolKey() == key {
			return n, true
		}
	}
	var zero T
	return zero, false
}

// removeFromPools drops every occurrence of key from both pools and returns
// the new pools.
func removeFromPools[T poolItem](primary, secondary []T, key string) ([]T, []T) {
	return removeByKey(primary, key), removeByKey(secondary, key)
}

func removeByKey[T poolItem](pool []T, key string) []T {
	out := make([]T, 0, len(pool))
	for _, n := range pool {
		if n.PoolKey() != key {
			out = append(out, n)
		}
	}
	return out
}

// insertIntoPools re-inserts candidate into the primary/secondary pair.
// Any previous occurrence is removed first, so repeated insertion of the
// same node is idempotent. Candidates with negative score are dropped.
// When the primary pool is full, the displaced tail cascades into the
// secondary pool by the same push-or-replace rule.
func insertIntoPools[T poolItem](primary, secondary []T, capP, capS int, cand T) ([]T, []T) {
	primary, secondary = removeFromPools(primary, secondary, cand.PoolKey())

	if cand.PoolScore() < 0 {
		return primary, secondary
	}

	if len(primary) < capP {
		primary = append(primary, cand)
		sortPoolDesc(primary)
		return primary, secondary
	}

	low := primary[len(primary)-1]
	if cand.PoolScore() > low.PoolScore() {
		primary[len(primary)-1] = cand
		sortPoolDesc(primary)
		secondary = pushOrReplace(secondary, capS, low)
		return primary, secondary
	}

	secondary = pushOrReplace(secondary, capS, cand)
	return primary, secondary
}

// pushOrReplace inserts cand into a single capped pool, evicting the tail
// when cand outscores it, otherwise dropping cand.
func pushOrReplace[T poolItem](pool []T, limit int, cand T) []T {
	if len(pool) < limit {
		pool = append(pool, cand)
		sortPoolDesc(pool)
		return pool
	}
	if limit == 0 {
		return pool
	}
	if cand.PoolScore() > pool[len(pool)-1].PoolScore() {
		pool[len(pool)-1] = cand
		sortPoolDesc(pool)
	}
	return pool
}

func sortPoolDesc[T poolItem](pool []T) {
	sort.SliceStable(pool, func(i, j int) bool {
		return pool[i].PoolScore() > pool[j].PoolScore()
	})
}
