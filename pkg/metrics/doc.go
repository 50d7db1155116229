/*
Package metrics exposes Prometheus counters, gauges, and histograms for the
NAT traversal core: AutoNATv2 client/server outcomes, DCUtR attempt
success/RTT, NAT behavior classification changes, traversal strategy
selection, and multistream negotiation outcomes. Handler() serves them in
the standard Prometheus text exposition format.

Components call metrics.<Name>.With(...).Inc() / .Observe(...) directly;
there is no separate collection loop; every counter increments at the
point where the event it measures actually happens. The health
sub-component tracks the components registered with it (the serve
command registers storage and the NAT behavior tracker) so an operator
can distinguish "no data yet" from "this component is unhealthy".
*/
package metrics
