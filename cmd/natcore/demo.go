package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/natcore/pkg/autonatv2"
	"github.com/cuemby/natcore/pkg/dcutr"
	"github.com/cuemby/natcore/pkg/host"
	"github.com/cuemby/natcore/pkg/log"
	"github.com/cuemby/natcore/pkg/ma"
	"github.com/cuemby/natcore/pkg/swarm"
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run the core end to end between two in-process peers",
	Long: `demo spins up two in-process hosts (pkg/swarm) with no real sockets,
wires AutoNATv2 and DCUtR onto both, and exercises:

  1. DCUtR hole punching peer A into a direct connection with peer B
  2. multistream-select negotiation for every protocol opened below
  3. AutoNATv2 reachability verification of peer A's own address, via peer B

It prints each step's outcome. Useful for seeing the whole core work
without standing up real network infrastructure.`,
	RunE: runDemo,
}

func init() {
	rootCmd.AddCommand(demoCmd)
}

func runDemo(cmd *cobra.Command, args []string) error {
	log.Init(log.Config{Level: log.DebugLevel, JSONOutput: false})

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	addrA, err := ma.NewIP4(198, 51, 100, 10, ma.CodeTCP, 4001)
	if err != nil {
		return err
	}
	addrB, err := ma.NewIP4(198, 51, 100, 20, ma.CodeTCP, 4001)
	if err != nil {
		return err
	}

	peerA := ma.NewPeerId([]byte("demo-peer-a"))
	peerB := ma.NewPeerId([]byte("demo-peer-b"))

	hostA := swarm.NewHost(peerA, []ma.MultiAddr{addrA})
	defer hostA.Close()
	hostB := swarm.NewHost(peerB, []ma.MultiAddr{addrB})
	defer hostB.Close()

	hostA.AddAddrs(peerB, []ma.MultiAddr{addrB}, time.Hour)
	hostB.AddAddrs(peerA, []ma.MultiAddr{addrA}, time.Hour)

	// DCUtR runs first, before any other stream has touched this peer
	// pair: its initiator guard (spec.md §4.4 step 1) aborts if a direct
	// connection already exists, and every later demo step below opens a
	// stream of its own.
	fmt.Println("--- dcutr ---")
	if err := runDCUtRDemo(ctx, hostA, hostB, peerB); err != nil {
		return fmt.Errorf("dcutr demo: %w", err)
	}

	fmt.Println("--- multistream-select ---")
	if err := runMultistreamDemo(ctx, hostA, hostB); err != nil {
		return fmt.Errorf("multistream demo: %w", err)
	}

	fmt.Println("--- autonatv2 ---")
	if err := runAutoNATv2Demo(ctx, hostA, hostB, peerB, addrA); err != nil {
		return fmt.Errorf("autonatv2 demo: %w", err)
	}

	return nil
}

func runMultistreamDemo(ctx context.Context, hostA, hostB *swarm.Host) error {
	const proto = "/natcore-demo/echo/1.0.0"
	received := make(chan string, 1)
	hostB.SetStreamHandler(proto, func(s host.Stream) {
		defer s.Close()
		buf := make([]byte, 5)
		n, _ := s.Read(buf)
		received <- string(buf[:n])
	})
	defer hostB.RemoveStreamHandler(proto)

	s, err := hostA.NewStream(ctx, hostB.ID(), []string{proto})
	if err != nil {
		return err
	}
	defer s.Close()
	if _, err := s.Write([]byte("hello")); err != nil {
		return err
	}

	select {
	case msg := <-received:
		fmt.Printf("negotiated %s, responder read %q\n", proto, msg)
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// runAutoNATv2Demo has hostB act as the AutoNATv2 verifier for hostA's own
// address: hostA asks hostB to dial it back at addrA and reports the
// resulting reachability verdict (spec.md §4.3).
func runAutoNATv2Demo(ctx context.Context, hostA, hostB *swarm.Host, peerB ma.PeerId, addrA ma.MultiAddr) error {
	limiter := autonatv2.NewRateLimiter(autonatv2.DefaultRateLimiterConfig())
	server := autonatv2.NewServer(hostB, limiter, autonatv2.DefaultServerConfig())
	hostB.SetStreamHandler(autonatv2.ProtocolDialRequest, server.HandleDialRequest)

	peers := autonatv2.NewPeerSet(nil)
	peers.Add(peerB)
	client := autonatv2.NewClient(peers, autonatv2.DefaultClientConfig())
	client.RegisterDialBackHandler(hostA)

	result, err := client.CheckReachability(ctx, hostA, []ma.MultiAddr{addrA}, []bool{true})
	if err != nil {
		return err
	}
	fmt.Printf("reachability of %s: verdict=%s dialStatus=%d\n", addrA, result.Verdict, result.DialStatus)
	return nil
}

func runDCUtRDemo(ctx context.Context, hostA, hostB *swarm.Host, peerB ma.PeerId) error {
	cancelsA := dcutr.NewCancelRegistry()
	cancelsB := dcutr.NewCancelRegistry()

	responder := dcutr.NewResponder(hostB, dcutr.DefaultResponderConfig(), cancelsB)
	hostB.SetStreamHandler(dcutr.ProtocolID, responder.Handle)

	initiator := dcutr.NewInitiator(dcutr.DefaultInitiatorConfig(), cancelsA)
	info, err := initiator.Connect(ctx, hostA, peerB)
	if err != nil {
		fmt.Printf("hole punch failed (relayed connection remains usable): %v\n", err)
		return nil
	}
	fmt.Printf("direct connection established: local=%s remote=%s\n", info.LocalPeer, info.RemotePeer)
	return nil
}
