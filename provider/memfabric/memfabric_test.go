package memfabric

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ucxgo/ucxgo/provider"
)

func waitUntil(t *testing.T, timeout time.Duration, progress ...func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		did := false
		for _, p := range progress {
			if p() {
				did = true
			}
		}
		if !did {
			time.Sleep(time.Millisecond)
		}
	}
}

func loopbackPair(t *testing.T) (wa, wb provider.Worker, epA, epB provider.Endpoint) {
	t.Helper()

	fab := New(Config{})
	ctx, err := fab.Init(provider.RequiredFeatures)
	require.NoError(t, err)

	wa, err = ctx.NewWorker()
	require.NoError(t, err)
	wb, err = ctx.NewWorker()
	require.NoError(t, err)

	var accepted provider.ConnRequest
	ln, err := wb.Listen("127.0.0.1:0", func(req provider.ConnRequest) { accepted = req })
	require.NoError(t, err)

	epA, err = wa.Connect(ln.Addr().String(), func(provider.Status) {})
	require.NoError(t, err)

	deadline := time.Now().Add(2 * time.Second)
	for accepted == nil && time.Now().Before(deadline) {
		wb.Progress()
		time.Sleep(time.Millisecond)
	}
	require.NotNil(t, accepted)

	epB, err = wb.Accept(accepted, func(provider.Status) {})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = ln.Close()
		_, _ = epA.CloseForce()
		_, _ = epB.CloseForce()
	})
	return wa, wb, epA, epB
}

func TestTagSendRecvInline(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	wa, wb, epA, _ := loopbackPair(t)

	payload := []byte("hello")
	tag := uint64(1)<<32 | 1

	recvBuf := make([]byte, len(payload))
	recvOutcome := wb.TagRecv(recvBuf, tag, ^uint64(0))
	require.False(t, recvOutcome.IsDone())
	require.False(t, recvOutcome.IsFailed())

	sendOutcome := wa.TagSend(epA, payload, tag)
	require.True(t, sendOutcome.IsDone())

	waitUntil(t, time.Second, wb.Progress)
	require.True(t, recvOutcome.Request().Completed)
	require.Equal(t, provider.StatusOK, recvOutcome.Request().Status)
	require.Equal(t, payload, recvBuf)
}

func TestTagSendLargeIsAsync(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	wa, _, epA, _ := loopbackPair(t)

	payload := make([]byte, DefaultInlineThreshold*32)
	tag := uint64(1)<<32 | 1

	outcome := wa.TagSend(epA, payload, tag)
	require.False(t, outcome.IsDone())
	require.False(t, outcome.IsFailed())
	require.False(t, outcome.Request().Completed)

	waitUntil(t, time.Second, wa.Progress)
	require.True(t, outcome.Request().Completed)
	require.Equal(t, provider.StatusOK, outcome.Request().Status)
}

func TestStreamRecvWaitAll(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })

	wa, wb, epA, epB := loopbackPair(t)

	buf := []byte{1, 2, 3, 4}
	recvBuf := make([]byte, 4)
	recvOutcome := wb.StreamRecvWaitAll(epB, recvBuf)

	sendOutcome := wa.StreamSend(epA, buf)
	require.True(t, sendOutcome.IsDone())

	waitUntil(t, time.Second, wb.Progress)
	require.True(t, recvOutcome.Request().Completed)
	require.Equal(t, buf, recvBuf)
}

func TestPeerCloseNotifiesErrHandler(t *testing.T) {
	defer goleak.VerifyNone(t)

	fab := New(Config{})
	ctx, err := fab.Init(provider.RequiredFeatures)
	require.NoError(t, err)

	wa, err := ctx.NewWorker()
	require.NoError(t, err)
	wb, err := ctx.NewWorker()
	require.NoError(t, err)

	var accepted provider.ConnRequest
	ln, err := wb.Listen("127.0.0.1:0", func(req provider.ConnRequest) { accepted = req })
	require.NoError(t, err)
	defer ln.Close()

	var errStatus provider.Status
	var gotErr bool
	epA, err := wa.Connect(ln.Addr().String(), func(s provider.Status) { errStatus = s; gotErr = true })
	require.NoError(t, err)

	waitUntil(t, time.Second, func() bool { wb.Progress(); return accepted != nil })
	require.NotNil(t, accepted)

	epB, err := wb.Accept(accepted, func(provider.Status) {})
	require.NoError(t, err)

	closeHandle, done := epB.CloseForce()
	require.True(t, done)
	require.Equal(t, provider.StatusOK, epB.CloseStatus(closeHandle))

	waitUntil(t, time.Second, wa.Progress)
	require.True(t, gotErr)
	require.Equal(t, provider.StatusPeerClosed, errStatus)

	_, _ = epA.CloseForce()
}
