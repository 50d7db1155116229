/*
Package storage implements the simple key-value persistence abstraction the
NAT traversal core consumes: save, load, delete of UTF-8 values by string
key (spec.md §6). The only current user is the NAT behavior tracker
(pkg/natdiscovery), which persists its observation history under the key
"nat_behavior" so a restarted node resumes with its last known NAT
classification instead of rediscovering from scratch.

BoltStore backs this with BoltDB (bbolt), consistent with the rest of the
stack's embedded, zero-external-dependency storage choice. MemStore is an
in-memory implementation for tests and for processes that don't need
persistence across restarts.
*/
package storage
