package storage

// KV is the persistent get/set state the exchange ledger runs on.
// Apply must be atomic: either every write in the slice lands or none does.
type KV interface {
	// Get returns (nil, false, nil) if key doesn't exist
	Get(key []byte) ([]byte, bool, error)
	Apply(writes []Write) error
	// Scan visits keys in [lower, upper) in ascending order until fn returns false.
	// A nil upper bound scans to the end of the keyspace.
	Scan(lower, upper []byte, fn func(key, value []byte) bool) error
	Close() error
}

// Write is a single staged mutation. Delete ignores Value.
type Write struct {
	Key    []byte
	Value  []byte
	Delete bool
}

func Put(key, value []byte) Write { return Write{Key: key, Value: value} }
func Del(key []byte) Write        { return Write{Key: key, Delete: true} }

// PrefixEnd returns the exclusive upper bound for a prefix scan
// Example: prefix "bal:0x123:" -> upper bound "bal:0x123;" (next byte after ':')
func PrefixEnd(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	for i := len(bound) - 1; i >= 0; i-- {
		if bound[i] < 0xff {
			bound[i]++
			return bound[:i+1]
		}
	}
	return nil // prefix is all 0xff: scan to the end
}
