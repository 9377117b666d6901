/*
Package oplog implements the per-writer append-only operation logs of a gallery
space and the LogSet that merges all of them into one deterministic global order.

CAUTION! Consider these two requirements:
* Access to a LogSet is expected to be synchronized by its owner, e.g. by the
  coordinator's exclusive section. This package does not(!) synchronize access
  by itself.
* Operations handed to a LogSet are treated as immutable afterwards.

Every peer that has observed the same set of operations computes the same order:
an operation's position is the tuple (clock, writer, seq), where clock is the
wall-clock timestamp recorded by the authoring writer, raised to be monotonic
within its own log.
*/
package oplog
