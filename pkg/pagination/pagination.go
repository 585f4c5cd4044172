// Package pagination bounds list queries. The admin queues read from the same
// limits the HTTP layer validates against, so a request that passes
// validation is never silently truncated further down.
package pagination

const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// NormalizeLimit maps non-positive limits to DefaultLimit and caps at MaxLimit.
func NormalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}
