// Package log provides the structured, zerolog-backed logger every natcore
// package logs through, with the orchestration-specific context helpers
// (node/service/task) dropped in favor of the one this domain actually
// needs: WithPeer.
//
// Init sets the global Logger once at process start; WithComponent and
// WithPeer derive scoped child loggers from it (e.g.
// log.WithComponent("dcutr"), log.WithPeer(id.String())). JSON output is
// the default; ConsoleWriter is used when Config.JSONOutput is false.
package log
