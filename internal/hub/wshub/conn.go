// Package wshub connects WebSocket clients to a hub.
//
// Every text frame is one message: the subject, optionally followed by a
// newline and a JSON body. For example a badge reader sends
//
//	scan_user
//	"U1"
//
// and connected displays receive
//
//	welcome_message
//	"Welcome Asha"
package wshub

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"gatheringAccess/internal/hub"
)

const (
	writeTimeout = 10 * time.Second
	pingInterval = 60 * time.Second
	maxFrameSize = 4096
	sendQueue    = 32
)

type conn struct {
	id    int64
	wc    *websocket.Conn
	route chan<- *hub.Msg
	send  chan *hub.Msg
	done  chan struct{}
}

func newConn(wc *websocket.Conn, route chan<- *hub.Msg) *conn {
	return &conn{
		id:    hub.NextID(),
		wc:    wc,
		route: route,
		send:  make(chan *hub.Msg, sendQueue),
		done:  make(chan struct{}),
	}
}

func (c *conn) ID() int64             { return c.id }
func (c *conn) Chan() chan<- *hub.Msg { return c.send }

// read forwards inbound frames to the hub until the client goes away. A
// normal close returns nil.
func (c *conn) read() error {
	c.wc.SetReadLimit(maxFrameSize)
	for {
		op, data, err := c.wc.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				return nil
			}
			return fmt.Errorf("wshub client read: %w", err)
		}
		if op != websocket.TextMessage {
			return fmt.Errorf("wshub client unexpected message type %d", op)
		}
		m, err := readMsg(data)
		if err != nil {
			return fmt.Errorf("wshub msg read failed: %w", err)
		}
		m.From = c
		c.route <- m
	}
}

// write sends queued messages and keepalive pings until done is closed or a
// write fails.
func (c *conn) write() {
	t := time.NewTicker(pingInterval)
	defer t.Stop()
	defer c.wc.Close()
	for {
		select {
		case <-c.done:
			c.wc.SetWriteDeadline(time.Now().Add(writeTimeout))
			c.wc.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case msg := <-c.send:
			if err := c.writeMsg(msg); err != nil {
				return
			}
		case <-t.C:
			c.wc.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.wc.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func readMsg(frame []byte) (*hub.Msg, error) {
	head, body := frame, []byte(nil)
	if idx := bytes.IndexByte(frame, '\n'); idx >= 0 {
		head, body = frame[:idx], frame[idx+1:]
	}
	head = bytes.TrimSpace(head)
	if len(head) == 0 {
		return nil, errors.New("message without subject")
	}
	return &hub.Msg{
		Subj: string(head),
		Raw:  copyBytes(bytes.TrimSpace(body)),
	}, nil
}

func (c *conn) writeMsg(msg *hub.Msg) error {
	frame, err := encodeMsg(msg)
	if err != nil {
		return err
	}
	c.wc.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.wc.WriteMessage(websocket.TextMessage, frame)
}

func encodeMsg(m *hub.Msg) ([]byte, error) {
	var b bytes.Buffer
	b.WriteString(m.Subj)
	if len(m.Raw) != 0 {
		b.WriteByte('\n')
		b.Write(m.Raw)
		return b.Bytes(), nil
	}
	if m.Data != nil {
		body, err := json.Marshal(m.Data)
		if err != nil {
			return nil, err
		}
		b.WriteByte('\n')
		b.Write(body)
	}
	return b.Bytes(), nil
}

func copyBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	res := make([]byte, len(b))
	copy(res, b)
	return res
}
