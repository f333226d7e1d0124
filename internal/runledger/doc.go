// Package runledger persists the per-packet attempt history in SQLite.
//
// Each execution of a packet is recorded as a [PacketRun] with a
// monotonically increasing iteration number, so "how many times has
// this packet been tried, and how did each attempt go" survives
// process restarts. Sessions reference runs by id; the authoritative
// run state lives here and is never copied into the session document.
//
// # Layout
//
// [DB] owns the database handle and schema bootstrap. [Ledger] is the
// repository over it. Open uses a file-backed database tuned for
// concurrent readers (WAL, busy timeout); OpenInMemory backs tests.
//
// # Iterations
//
// Iterations for a packet are contiguous and 1-based. [Ledger.StartRun]
// allocates the next iteration inside the insert transaction, and a
// uniqueness constraint on (packet_id, iteration) backstops the
// allocation against concurrent writers.
package runledger
