// Package natdiscovery classifies the local NAT's mapping and filtering
// behavior by probing an external rendezvous service that exposes two
// listening sockets on two IP addresses (spec.md §4.2). A Tracker runs
// the three-stage mapping test and four-stage filtering test on startup,
// on every network-interface change, and on a periodic timer, keeping a
// bounded history of observed behavior and broadcasting changes to
// subscribers.
package natdiscovery
