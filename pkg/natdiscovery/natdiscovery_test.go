package natdiscovery

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/cuemby/natcore/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedProbeClient replays a fixed response per call index, letting
// tests build the exact mock STUN-like servers spec.md §8's end-to-end
// scenarios describe without binding real sockets.
type scriptedProbeClient struct {
	responses []ProbeResponse
	errs      []error
	calls     int
}

func (c *scriptedProbeClient) Probe(ctx context.Context, conn *net.UDPConn, req ProbeRequest) (ProbeResponse, error) {
	i := c.calls
	c.calls++
	if i < len(c.errs) && c.errs[i] != nil {
		return ProbeResponse{}, c.errs[i]
	}
	return c.responses[i], nil
}

func mustConn(t *testing.T) *net.UDPConn {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestMappingEndpointIndependent(t *testing.T) {
	// spec.md §8 scenario 1: both mock servers return the same mapped
	// port regardless of requester IP.
	client := &scriptedProbeClient{
		responses: []ProbeResponse{
			{MappedEndpoint: Endpoint{IP: net.IPv4(1, 2, 3, 4), Port: 40000}},
			{MappedEndpoint: Endpoint{IP: net.IPv4(1, 2, 3, 4), Port: 40000}},
		},
	}
	servers := Servers{
		Primary:   Endpoint{IP: net.IPv4(10, 0, 0, 1), Port: 3478},
		Alternate: Endpoint{IP: net.IPv4(10, 0, 0, 2), Port: 3478},
	}
	behavior, err := MappingTest(context.Background(), client, mustConn(t), servers)
	require.NoError(t, err)
	assert.Equal(t, EndpointIndependent, behavior)
}

func TestMappingAddressAndPortDependent(t *testing.T) {
	// spec.md §8 scenario 2: Probe A=40000, Probe B=40001, Probe C=40002.
	client := &scriptedProbeClient{
		responses: []ProbeResponse{
			{MappedEndpoint: Endpoint{Port: 40000}},
			{MappedEndpoint: Endpoint{Port: 40001}},
			{MappedEndpoint: Endpoint{Port: 40002}},
		},
	}
	servers := Servers{
		Primary:   Endpoint{IP: net.IPv4(10, 0, 0, 1), Port: 3478},
		Alternate: Endpoint{IP: net.IPv4(10, 0, 0, 2), Port: 3478},
	}
	behavior, err := MappingTest(context.Background(), client, mustConn(t), servers)
	require.NoError(t, err)
	assert.Equal(t, AddressAndPortDependent, behavior)
}

func TestMappingAddressDependent(t *testing.T) {
	client := &scriptedProbeClient{
		responses: []ProbeResponse{
			{MappedEndpoint: Endpoint{Port: 40000}},
			{MappedEndpoint: Endpoint{Port: 40001}},
			{MappedEndpoint: Endpoint{Port: 40000}}, // C matches A
		},
	}
	servers := Servers{
		Primary:   Endpoint{IP: net.IPv4(10, 0, 0, 1), Port: 3478},
		Alternate: Endpoint{IP: net.IPv4(10, 0, 0, 2), Port: 3478},
	}
	behavior, err := MappingTest(context.Background(), client, mustConn(t), servers)
	require.NoError(t, err)
	assert.Equal(t, AddressDependent, behavior)
}

func TestFilteringEndpointIndependent(t *testing.T) {
	alt := Endpoint{IP: net.IPv4(10, 0, 0, 2), Port: 3478}
	client := &scriptedProbeClient{
		responses: []ProbeResponse{
			{MappedEndpoint: Endpoint{Port: 40000}, AlternateAddr: &alt},
			{MappedEndpoint: Endpoint{Port: 40000}}, // reply arrived from alt
		},
	}
	servers := Servers{Primary: Endpoint{IP: net.IPv4(10, 0, 0, 1), Port: 3478}}
	behavior, err := FilteringTest(context.Background(), client, mustConn(t), servers)
	require.NoError(t, err)
	assert.Equal(t, EndpointIndependent, behavior)
}

func TestFilteringMissingAlternateDegradesToUnknown(t *testing.T) {
	client := &scriptedProbeClient{
		responses: []ProbeResponse{
			{MappedEndpoint: Endpoint{Port: 40000}}, // no AlternateAddr
		},
	}
	servers := Servers{Primary: Endpoint{IP: net.IPv4(10, 0, 0, 1), Port: 3478}}
	behavior, err := FilteringTest(context.Background(), client, mustConn(t), servers)
	require.NoError(t, err)
	assert.Equal(t, Unknown, behavior)
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "probe timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestFilteringAddressAndPortDependent(t *testing.T) {
	alt := Endpoint{IP: net.IPv4(10, 0, 0, 2), Port: 3478}
	client := &scriptedProbeClient{
		responses: []ProbeResponse{
			{MappedEndpoint: Endpoint{Port: 40000}, AlternateAddr: &alt},
			{}, // stage 2 errored below
			{MappedEndpoint: Endpoint{Port: 40000}}, // touch succeeds
			{},                                      // stage 4 errored below
		},
		errs: []error{nil, timeoutErr{}, nil, timeoutErr{}},
	}
	servers := Servers{Primary: Endpoint{IP: net.IPv4(10, 0, 0, 1), Port: 3478}}
	behavior, err := FilteringTest(context.Background(), client, mustConn(t), servers)
	require.NoError(t, err)
	assert.Equal(t, AddressAndPortDependent, behavior)
}

func TestSelectStrategyTable(t *testing.T) {
	tests := []struct {
		name     string
		record   Record
		expected Strategy
	}{
		{"direct", Record{Mapping: EndpointIndependent, Filtering: EndpointIndependent}, StrategyDirect},
		{"ei mapping stricter filtering", Record{Mapping: EndpointIndependent, Filtering: AddressDependent}, StrategyUDPHolePunch},
		{"address dependent mapping", Record{Mapping: AddressDependent, Filtering: EndpointIndependent}, StrategyUDPHolePunch},
		{"symmetric mapping", Record{Mapping: AddressAndPortDependent, Filtering: EndpointIndependent}, StrategyTCPHolePunch},
		{"unknown mapping", Record{Mapping: Unknown, Filtering: EndpointIndependent}, StrategyRelayed},
		{"unknown filtering", Record{Mapping: EndpointIndependent, Filtering: Unknown}, StrategyRelayed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SelectStrategy(tt.record))
		})
	}
}

func TestTrackerRecordsChangeAndPersists(t *testing.T) {
	store := storage.NewMemStore()
	calls := 0
	records := []Record{
		{Mapping: EndpointIndependent, Filtering: EndpointIndependent},
		{Mapping: EndpointIndependent, Filtering: EndpointIndependent}, // unchanged
		{Mapping: AddressAndPortDependent, Filtering: Unknown},         // changed
	}
	discover := func(ctx context.Context) (Record, error) {
		r := records[calls]
		calls++
		return r, nil
	}

	tracker := NewTracker(discover, store, Config{CheckInterval: time.Hour, MaxHistorySize: 100, Now: time.Now})

	sub := tracker.Subscribe()
	tracker.OnInterfaceChange(context.Background())
	select {
	case rec := <-sub:
		assert.Equal(t, EndpointIndependent, rec.Mapping)
	case <-time.After(time.Second):
		t.Fatal("expected initial behavior change notification")
	}

	tracker.OnInterfaceChange(context.Background()) // unchanged, no notification
	tracker.OnInterfaceChange(context.Background()) // changed
	select {
	case rec := <-sub:
		assert.Equal(t, AddressAndPortDependent, rec.Mapping)
	case <-time.After(time.Second):
		t.Fatal("expected second behavior change notification")
	}

	assert.Len(t, tracker.History(), 2)

	persisted, err := store.Load(DefaultStorageKey)
	require.NoError(t, err)
	assert.Contains(t, persisted, "address_and_port_dependent")
}

func TestTrackerHistoryBounded(t *testing.T) {
	store := storage.NewMemStore()
	cycle := []Behavior{EndpointIndependent, AddressDependent, AddressAndPortDependent, Unknown}
	n := 0
	discover := func(ctx context.Context) (Record, error) {
		n++
		return Record{Mapping: cycle[n%len(cycle)], Filtering: EndpointIndependent}, nil
	}
	tracker := NewTracker(discover, store, Config{CheckInterval: time.Hour, MaxHistorySize: 3, Now: time.Now})
	for i := 0; i < 10; i++ {
		tracker.OnInterfaceChange(context.Background())
	}
	assert.LessOrEqual(t, len(tracker.History()), 3)
}
