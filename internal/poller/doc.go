// Package poller implements the REST announcement poller.
//
// The poller:
//   - Lists the newest articles of each configured catalog on an interval
//   - Polls once immediately on start
//   - Bounds concurrent requests
//   - Submits articles with source="rest" so the pipeline can deduplicate
//     them against the stream
package poller
