/*
Package comm moves log suffixes and admission messages between the peers of a space.

Every peer runs a gRPC server offering two unary calls. Pull hands out the operations
the caller is missing beyond the heads it sends along, provided the caller proves it
knows the space secret. Pair carries an admission request from a candidate to an
inviter and the confirmation back. Messages are encoded with protowire and a codec
forced on both ends, so no generated code is involved.

Replication is pull based: a Replicator asks each configured peer for news
periodically and whenever it is triggered, and hands what it receives to its Sink.
Gaps left by a failed ingest are closed by the next pull, which starts at the heads
the sink actually holds.
*/
package comm
