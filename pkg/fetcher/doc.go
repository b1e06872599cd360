// Package fetcher retrieves every record of an Airtable table by following
// the list endpoint's cursor pagination.
//
// Airtable returns at most 100 records per response together with an opaque
// "offset" token when more records remain. The fetcher sends the token back
// on the next request and stops only when a response omits it. Pages are
// requested strictly one after another; a page with zero records but an
// offset token is followed like any other.
//
// Example usage:
//
//	tr, _ := transport.New(transport.DefaultConfig())
//	cfg := fetcher.DefaultConfig("appXXXXXXXXXXXXXX", "Tasks", apiKey)
//	cfg.Observer = fetcher.NewLogObserver(log.Logger)
//	f, err := fetcher.New(tr, cfg)
//	records, err := f.Fetch(ctx)
//
// Retries, timeouts and rate limit cooldowns are the transport's job. Any
// failure aborts the whole fetch and no partial result is returned.
package fetcher
