// Package summarycache remembers page summaries by URL so repeated lookups skip
// the fetch and summarize round trip.
package summarycache

import "context"

// Cache maps a URL to its summary. Implementations bound their own size or lifetime.
type Cache interface {
	Get(ctx context.Context, url string) (string, bool)
	Set(ctx context.Context, url, summary string)
}
