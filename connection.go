package nostrcache

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	ws "github.com/coder/websocket"
)

// ErrDisconnected is the cause reported when the transport goes away under us.
var ErrDisconnected = errors.New("<disconnected>")

// Conn is the relay transport primitive this layer drives. Messages arrive
// through the onMessage callback given to the Dialer; onDisconnect fires
// exactly once when the transport dies for any reason.
type Conn interface {
	// Write sends one frame. It returns an error if the frame could not be
	// handed to the transport before ctx expired or the connection closed.
	Write(ctx context.Context, msg []byte) error

	// Close tears the transport down. Safe to call more than once.
	Close(reason string)
}

// Dialer opens a Conn to a relay endpoint. The default is DialWebsocket;
// tests supply in-process fakes.
type Dialer func(ctx context.Context, url string, onMessage func([]byte), onDisconnect func(error)) (Conn, error)

const (
	dialTimeout  = 7 * time.Second
	pingInterval = 29 * time.Second
	writeTimeout = 10 * time.Second
)

type wsConn struct {
	conn         *ws.Conn
	writeQueue   chan writeRequest
	closed       atomic.Bool
	closedNotify chan struct{}
	closeMutex   sync.Mutex
	onDisconnect func(error)
}

type writeRequest struct {
	msg    []byte
	answer chan error
}

// DialWebsocket is the default Dialer, speaking the relay protocol over a
// websocket.
func DialWebsocket(ctx context.Context, url string, onMessage func([]byte), onDisconnect func(error)) (Conn, error) {
	return dialWebsocket(ctx, url, onMessage, onDisconnect, nil)
}

// DialWebsocketWithTLS is like DialWebsocket but takes a special tls.Config if you need that.
func DialWebsocketWithTLS(tlsConfig *tls.Config) Dialer {
	return func(ctx context.Context, url string, onMessage func([]byte), onDisconnect func(error)) (Conn, error) {
		return dialWebsocket(ctx, url, onMessage, onDisconnect, tlsConfig)
	}
}

func dialWebsocket(
	ctx context.Context,
	url string,
	onMessage func([]byte),
	onDisconnect func(error),
	tlsConfig *tls.Config,
) (Conn, error) {
	dialCtx := ctx
	if _, ok := dialCtx.Deadline(); !ok {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeoutCause(ctx, dialTimeout, errors.New("connection took too long"))
		defer cancel()
	}

	httpClient := &http.Client{}
	if tlsConfig != nil {
		httpClient.Transport = &http.Transport{TLSClientConfig: tlsConfig}
	}

	c, _, err := ws.Dial(dialCtx, url, &ws.DialOptions{HTTPClient: httpClient})
	if err != nil {
		return nil, err
	}
	c.SetReadLimit(2 << 24) // 33MB

	conn := &wsConn{
		conn:         c,
		writeQueue:   make(chan writeRequest),
		closedNotify: make(chan struct{}),
		onDisconnect: onDisconnect,
	}

	loopCtx := context.Background()
	ticker := time.NewTicker(pingInterval)
	readQueue := make(chan []byte)

	// main loop: writes, pings and message dispatch all run here so the
	// caller never has to coordinate
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-conn.closedNotify:
				return
			case <-ticker.C:
				pingCtx, cancel := context.WithTimeout(loopCtx, 800*time.Millisecond)
				err := c.Ping(pingCtx)
				cancel()
				if err != nil {
					conn.doClose(ws.StatusAbnormalClosure, fmt.Errorf("ping failed: %w", err))
					return
				}
			case wr := <-conn.writeQueue:
				writeCtx, cancel := context.WithTimeout(loopCtx, writeTimeout)
				err := c.Write(writeCtx, ws.MessageText, wr.msg)
				cancel()
				if err != nil {
					conn.doClose(ws.StatusAbnormalClosure, fmt.Errorf("write failed: %w", err))
					if wr.answer != nil {
						wr.answer <- err
					}
					return
				}
				if wr.answer != nil {
					close(wr.answer)
				}
			case msg := <-readQueue:
				onMessage(msg)
			}
		}
	}()

	// read loop feeds the main loop
	go func() {
		buf := new(bytes.Buffer)

		for {
			buf.Reset()

			_, reader, err := c.Reader(loopCtx)
			if err != nil {
				conn.doClose(ws.StatusAbnormalClosure, fmt.Errorf("failed to get reader: %w", err))
				return
			}
			if _, err := io.Copy(buf, reader); err != nil {
				conn.doClose(ws.StatusAbnormalClosure, fmt.Errorf("failed to read: %w", err))
				return
			}

			select {
			case readQueue <- bytes.Clone(buf.Bytes()):
			case <-conn.closedNotify:
				return
			}
		}
	}()

	return conn, nil
}

func (c *wsConn) Write(ctx context.Context, msg []byte) error {
	answer := make(chan error)
	select {
	case c.writeQueue <- writeRequest{msg: msg, answer: answer}:
	case <-c.closedNotify:
		return ErrDisconnected
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-answer:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *wsConn) Close(reason string) {
	c.doClose(ws.StatusNormalClosure, errors.New(reason))
}

func (c *wsConn) doClose(code ws.StatusCode, reason error) {
	wasClosed := c.closed.Swap(true)
	if !wasClosed {
		c.conn.Close(code, reason.Error())
		c.closeMutex.Lock()
		close(c.closedNotify)
		c.closeMutex.Unlock()
		if c.onDisconnect != nil {
			c.onDisconnect(reason)
		}
	}
}
