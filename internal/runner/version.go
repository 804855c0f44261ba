package runner

// NeedsProcessing is the versioned idempotency check: an item needs work
// when its artifact is absent or was produced by a different version.
func NeedsProcessing(recorded, expected string) bool {
	return recorded == "" || recorded != expected
}

// Outdated keeps the items whose recorded version fails NeedsProcessing.
func Outdated[T any](items []T, version func(T) string, expected string) []T {
	out := make([]T, 0, len(items))
	for _, it := range items {
		if NeedsProcessing(version(it), expected) {
			out = append(out, it)
		}
	}
	return out
}
