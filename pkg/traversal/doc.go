// Package traversal implements the NAT Traversal Coordinator (spec.md
// §4.5): a single "dial by peer id" operation that chooses a strategy from
// the locally discovered NAT behavior, and the observed-address aggregator
// that turns inbound peers' reports of our external address into a capped,
// activation-gated advertisable set.
package traversal
