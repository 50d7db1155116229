// Package ma implements the self-describing multi-protocol network address
// format used throughout natcore: a sequence of (protocol-code, value)
// components that together encode a fully qualified endpoint such as
// "/ip4/198.51.100.5/tcp/4001" or a relayed address terminating in a
// p2p-circuit marker and a target peer id.
package ma
