package registry

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
)

const (
	writeDeadline     = 5 * time.Second
	pingInterval      = 30 * time.Second
	pongDeadline      = 60 * time.Second
	messageBufferSize = 16
)

// outbound is a queued frame. Only counted frames contribute to the "sent" statistic,
// the identifier greeting does not.
type outbound struct {
	data    []byte
	counted bool
}

type clientWriter struct {
	connection  *websocket.Conn
	clock       clockwork.Clock
	sendChannel chan outbound
	doneChannel chan struct{}
	doneOnce    sync.Once
	wg          sync.WaitGroup
	onWritten   func(counted bool, at time.Time)
	onFailure   func(err error)
}

func newClientWriter(connection *websocket.Conn, clock clockwork.Clock, onWritten func(bool, time.Time), onFailure func(error)) *clientWriter {
	cw := &clientWriter{
		connection:  connection,
		clock:       clock,
		sendChannel: make(chan outbound, messageBufferSize),
		doneChannel: make(chan struct{}),
		onWritten:   onWritten,
		onFailure:   onFailure,
	}
	cw.configurePongHandler()
	cw.wg.Add(1)
	go cw.run()
	return cw
}

func (cw *clientWriter) run() {
	ticker := cw.clock.NewTicker(pingInterval)
	defer ticker.Stop()
	defer cw.wg.Done()

	for {
		select {
		case msg := <-cw.sendChannel:
			cw.updateWriteDeadline()
			if err := cw.connection.WriteMessage(websocket.TextMessage, msg.data); err != nil {
				cw.fail(err)
				return
			}
			if cw.onWritten != nil {
				cw.onWritten(msg.counted, cw.clock.Now())
			}
		case <-ticker.Chan():
			cw.updateWriteDeadline()
			if err := cw.connection.WriteMessage(websocket.PingMessage, nil); err != nil {
				cw.fail(err)
				return
			}
		case <-cw.doneChannel:
			return
		}
	}
}

// enqueue hands a frame to the writer without blocking. It reports false when the
// client's buffer is full or the writer already stopped.
func (cw *clientWriter) enqueue(msg outbound) bool {
	select {
	case <-cw.doneChannel:
		return false
	default:
	}

	select {
	case cw.sendChannel <- msg:
		return true
	default:
		return false
	}
}

// fail closes the socket so the read unit observes the broken connection and
// reports the disconnect.
func (cw *clientWriter) fail(err error) {
	if cw.onFailure != nil {
		cw.onFailure(err)
	}
	_ = cw.connection.Close()
}

func (cw *clientWriter) signalDone() {
	cw.doneOnce.Do(func() { close(cw.doneChannel) })
}

func (cw *clientWriter) stop() {
	cw.signalDone()
	_ = cw.connection.Close()
	cw.wg.Wait()
}

// stopGraceful sends a WebSocket close frame with reason before closing. When ctx
// ends first, the socket is closed without the frame.
func (cw *clientWriter) stopGraceful(ctx context.Context, reason string) {
	cw.signalDone()

	// The run goroutine must be gone before the close frame is written,
	// gorilla connections support a single concurrent writer.
	exited := make(chan struct{})
	go func() {
		cw.wg.Wait()
		close(exited)
	}()
	select {
	case <-exited:
	case <-ctx.Done():
		_ = cw.connection.Close()
		return
	}

	deadline := time.Now().Add(writeDeadline)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = cw.connection.SetWriteDeadline(deadline)
	closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	_ = cw.connection.WriteMessage(websocket.CloseMessage, closeMsg)

	_ = cw.connection.Close()
}

// abort closes the socket immediately, unblocking a writer stuck mid-write.
func (cw *clientWriter) abort() {
	cw.signalDone()
	_ = cw.connection.Close()
}

func (cw *clientWriter) configurePongHandler() {
	cw.updateReadDeadline()
	cw.connection.SetPongHandler(func(string) error {
		cw.updateReadDeadline()
		return nil
	})
}

// Socket deadlines always follow the wall clock, the injected clock only drives
// pings and timestamps.
func (cw *clientWriter) updateWriteDeadline() {
	deadline := time.Now().Add(writeDeadline)
	_ = cw.connection.SetWriteDeadline(deadline)
}

func (cw *clientWriter) updateReadDeadline() {
	deadline := time.Now().Add(pongDeadline)
	_ = cw.connection.SetReadDeadline(deadline)
}
