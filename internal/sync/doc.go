// Package sync keeps a client-side mirror of requests and conversations
// consistent with the server.
//
// Every bus event carries a full snapshot, so merging is idempotent:
// request snapshots replace the whole local record, messages union into the
// timeline by id. Optimistic local sends are tagged with a dedup token and
// reconciled strictly by that token, whether the authoritative copy arrives
// as the append response or as a broadcast.
//
// Because the bus evicts slow subscribers by closing their channel rather
// than blocking, a closed subscription triggers a resync: resubscribe first,
// then refetch
// authoritative state, so nothing published in between is lost.
package sync
