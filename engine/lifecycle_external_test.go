// An external test package: it exercises Engine.Stop against a real
// Transport Endpoint and Media Agent, which would otherwise create an
// import cycle if pulled into the internal engine test package (both
// import engine for the Run Flag).
package engine_test

import (
	"net"
	"runtime"
	"testing"
	"time"

	"github.com/n0remac/rtcore/engine"
	"github.com/n0remac/rtcore/mediaagent"
	"github.com/n0remac/rtcore/transport"
)

// TestStopDrainsTransportAndAgentWorkers covers the invariant that no
// worker thread survives 200ms past Stop: the Transport Endpoint's
// receive/send/RTCP loops and the Media Agent's capture/encode/decode/
// keyframe-watch loops must all have joined.
func TestStopDrainsTransportAndAgentWorkers(t *testing.T) {
	baseline := runtime.NumGoroutine()

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	tr := transport.New(serverConn, transport.NullCipher{}, transport.Config{}, nil)

	run := engine.NewRunFlag()
	agent := mediaagent.New(run, mediaagent.Config{
		Source:        mediaagent.NewSyntheticSource(4, 4),
		Encoder:       mediaagent.NewPassthrough("video", 4, 4),
		EncodedCodec:  "video",
		FrameInterval: time.Millisecond,
	}, nil)

	e := engine.New(engine.Config{
		Transport: tr,
		Agent:     agent,
		RunFlag:   run,
	}, nil, nil)

	if err := e.AcceptRemoteDescription(); err != nil {
		t.Fatalf("accept remote description: %v", err)
	}
	if err := e.NotifyConnectivityEstablished(); err != nil {
		t.Fatalf("notify connectivity: %v", err)
	}
	if err := e.StartMediaSending(); err != nil {
		t.Fatalf("start media sending: %v", err)
	}

	// Let every worker actually reach its running state before tearing
	// down, so Stop has real goroutines to join rather than ones still
	// starting up.
	time.Sleep(20 * time.Millisecond)

	e.Stop()
	time.Sleep(200 * time.Millisecond)
	runtime.Gosched()

	if after := runtime.NumGoroutine(); after > baseline+1 {
		t.Fatalf("expected worker goroutines to join within 200ms of Stop, baseline=%d after=%d", baseline, after)
	}
}
