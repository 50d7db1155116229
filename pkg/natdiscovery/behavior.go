package natdiscovery

import "time"

// Behavior mirrors spec.md §3's "NAT behavior record": mapping and
// filtering classifications plus a handful of optional capability flags.
type Behavior string

const (
	EndpointIndependent     Behavior = "endpoint_independent"
	AddressDependent        Behavior = "address_dependent"
	AddressAndPortDependent Behavior = "address_and_port_dependent"
	Unknown                 Behavior = "unknown"
)

// Record is a single timestamped NAT behavior observation.
type Record struct {
	Mapping                 Behavior
	Filtering               Behavior
	SupportsHairpinning     *bool
	PreservesPorts          *bool
	SupportsPortMapping     *bool
	MappingLifetime         *time.Duration
	ObservedAt              time.Time
}

// Equal compares the mapping/filtering fields used for change detection
// (spec.md §4.2 "A change is detected by record-field equality").
func (r Record) Equal(other Record) bool {
	return r.Mapping == other.Mapping && r.Filtering == other.Filtering
}

// Strategy is the traversal strategy chosen from a behavior pair
// (spec.md §4.2 "Strategy selection").
type Strategy string

const (
	StrategyDirect        Strategy = "direct"
	StrategyUDPHolePunch  Strategy = "udp_hole_punch"
	StrategyTCPHolePunch  Strategy = "tcp_hole_punch"
	StrategyRelayed       Strategy = "relayed"
)

// SelectStrategy implements the §4.2 local-strategy table.
func SelectStrategy(r Record) Strategy {
	switch {
	case r.Mapping == Unknown || r.Filtering == Unknown:
		return StrategyRelayed
	case r.Mapping == AddressAndPortDependent:
		return StrategyTCPHolePunch
	case r.Mapping == AddressDependent:
		return StrategyUDPHolePunch
	case r.Mapping == EndpointIndependent && r.Filtering == EndpointIndependent:
		return StrategyDirect
	case r.Mapping == EndpointIndependent:
		return StrategyUDPHolePunch
	default:
		return StrategyRelayed
	}
}

// restrictiveness orders behaviors from least to most restrictive, used
// by SelectPairStrategy to find "the more restrictive side" of a pair.
var restrictiveness = map[Behavior]int{
	EndpointIndependent:     0,
	AddressDependent:        1,
	AddressAndPortDependent: 2,
	Unknown:                 3,
}

// SelectPairStrategy implements §4.2's pair-selection rule: the more
// restrictive side of (local, remote) dominates, and a symmetric
// (address-and-port-dependent) mapping on either side forces TCP hole
// punch.
func SelectPairStrategy(local, remote Record) Strategy {
	if local.Mapping == Unknown || remote.Mapping == Unknown ||
		local.Filtering == Unknown || remote.Filtering == Unknown {
		return StrategyRelayed
	}
	if local.Mapping == AddressAndPortDependent || remote.Mapping == AddressAndPortDependent {
		return StrategyTCPHolePunch
	}

	worse := local
	if restrictiveness[remote.Mapping] > restrictiveness[local.Mapping] {
		worse = remote
	}
	return SelectStrategy(worse)
}
