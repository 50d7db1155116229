package swarm

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/natcore/pkg/host"
	"github.com/cuemby/natcore/pkg/ma"
)

func TestHostNewStreamNegotiatesAndCarriesData(t *testing.T) {
	aID := ma.NewPeerId([]byte{1})
	bID := ma.NewPeerId([]byte{2})
	aAddr, err := ma.NewIP4(10, 0, 0, 1, ma.CodeTCP, 4001)
	require.NoError(t, err)
	bAddr, err := ma.NewIP4(10, 0, 0, 2, ma.CodeTCP, 4001)
	require.NoError(t, err)

	a := NewHost(aID, []ma.MultiAddr{aAddr})
	b := NewHost(bID, []ma.MultiAddr{bAddr})
	t.Cleanup(a.Close)
	t.Cleanup(b.Close)

	received := make(chan string, 1)
	b.SetStreamHandler("/echo/1.0.0", func(s host.Stream) {
		buf, err := io.ReadAll(s)
		if err != nil {
			received <- "error: " + err.Error()
			return
		}
		received <- string(buf)
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s, err := a.NewStream(ctx, bID, []string{"/echo/1.0.0"})
	require.NoError(t, err)
	assert.Equal(t, "/echo/1.0.0", s.Protocol())
	assert.Equal(t, bAddr, s.Conn().RemoteAddr)

	_, err = s.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, s.CloseWrite())

	select {
	case got := <-received:
		assert.Equal(t, "hello", got)
	case <-time.After(time.Second):
		t.Fatal("responder handler never ran")
	}
}

func TestHostNewStreamUnreachablePeer(t *testing.T) {
	aID := ma.NewPeerId([]byte{3})
	a := NewHost(aID, nil)
	t.Cleanup(a.Close)

	_, err := a.NewStream(context.Background(), ma.NewPeerId([]byte{99}), []string{"/x/1.0.0"})
	assert.Error(t, err)
}

func TestHostConnectedness(t *testing.T) {
	aID := ma.NewPeerId([]byte{4})
	bID := ma.NewPeerId([]byte{5})
	a := NewHost(aID, nil)
	b := NewHost(bID, nil)
	t.Cleanup(a.Close)
	t.Cleanup(b.Close)

	assert.Equal(t, host.CanConnect, a.Connectedness(bID))

	b.SetStreamHandler("/x/1.0.0", func(s host.Stream) { s.Close() })
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := a.NewStream(ctx, bID, []string{"/x/1.0.0"})
	require.NoError(t, err)

	assert.Equal(t, host.Connected, a.Connectedness(bID))
}
