// Package collector gathers candidate videos for a fixed list of search
// queries.
//
// Every query runs in its own goroutine and pages through the search API
// until it has maxPerQuery videos or the API reports no further pages.
// Results are merged into a single set keyed by video id; the first video
// seen for an id wins and later duplicates are discarded.
//
// Example usage:
//
//	c := collector.New(searchAPI, inv, collector.DefaultConfig(), logger)
//	videos := c.Collect(ctx, []string{"campus debate", "q&a session"}, 25)
//
// A failing query yields no videos and never affects the others. The number
// of goroutines equals the number of queries, which suits a small, fixed
// query list; it is not bounded by a pool.
package collector
