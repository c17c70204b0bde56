// Package hub provides a transport agnostic broadcast hub.
//
// Connections sign on and off through the hub's queue; inbound messages from
// connections are passed to a Router. Publish delivers a message to every
// signed on connection without waiting on any of them.
package hub

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

const (
	SubjSignon  = "+"
	SubjSignoff = "-"
)

// Msg is the central data structure passed between connections.
//
// From and Subj must be populated. The body is either raw bytes as read from
// a transport, or typed data that the transport serializes, usually to JSON.
type Msg struct {
	// From is the connection this message originates from.
	From Conn
	// Subj is the message header used for routing and determining the data type.
	Subj string
	Raw  []byte
	Data any
}

// Router routes a received message.
type Router interface{ Route(*Msg) }

// RouterFunc implements Router for simple route functions.
type RouterFunc func(*Msg)

func (r RouterFunc) Route(m *Msg) { r(m) }

// Conn is the common interface for participants connected to a hub.
type Conn interface {
	// ID is a connection identifier, the hub has id 0 and normal connections positive ids.
	ID() int64
	// Chan returns an unchanging, buffered receiver channel.
	Chan() chan<- *Msg
}

var lastID atomic.Int64

// NextID returns a new unused connection id.
func NextID() int64 { return lastID.Add(1) }

// ChanConn is a channel based connection used for in-process participants.
type ChanConn struct {
	id int64
	ch chan *Msg
}

// NewChanConn returns a new channel connection with a fresh id and a buffer of size n.
func NewChanConn(n int) *ChanConn { return &ChanConn{id: NextID(), ch: make(chan *Msg, n)} }

func (c *ChanConn) ID() int64         { return c.id }
func (c *ChanConn) Chan() chan<- *Msg { return c.ch }
func (c *ChanConn) Recv() <-chan *Msg { return c.ch }

// Hub keeps the set of signed on connections and routes their messages.
// Hub itself implements Conn with ID 0.
type Hub struct {
	mu   sync.Mutex
	cmap map[int64]Conn
	mque chan *Msg
	log  zerolog.Logger

	dropped atomic.Int64
}

// NewHub creates and returns a new hub.
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		cmap: make(map[int64]Conn, 64),
		mque: make(chan *Msg, 128),
		log:  log,
	}
}

func (h *Hub) ID() int64         { return 0 }
func (h *Hub) Chan() chan<- *Msg { return h.mque }

// Signon queues the sign-on of c.
func Signon(h *Hub, c Conn) { h.mque <- &Msg{From: c, Subj: SubjSignon} }

// Signoff queues the sign-off of c. After it is routed the hub no longer
// delivers to c.
func Signoff(h *Hub, c Conn) { h.mque <- &Msg{From: c, Subj: SubjSignoff} }

// Run routes queued messages with r until ctx is done. It is usually run in a go routine.
func (h *Hub) Run(ctx context.Context, r Router) {
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-h.mque:
			if m == nil {
				continue
			}
			switch m.Subj {
			case SubjSignon:
				h.mu.Lock()
				h.cmap[m.From.ID()] = m.From
				h.mu.Unlock()
				h.log.Debug().Int64("conn", m.From.ID()).Msg("signon")
			case SubjSignoff:
				h.mu.Lock()
				delete(h.cmap, m.From.ID())
				h.mu.Unlock()
				h.log.Debug().Int64("conn", m.From.ID()).Msg("signoff")
			default:
				if r != nil {
					r.Route(m)
				}
			}
		}
	}
}

// Publish delivers a message with subj and data to every signed on
// connection. It never blocks: a connection whose buffer is full misses the
// message.
func (h *Hub) Publish(subj string, data any) {
	m := &Msg{From: h, Subj: subj, Data: data}
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.cmap {
		select {
		case c.Chan() <- m:
		default:
			h.dropped.Add(1)
			h.log.Warn().Int64("conn", id).Str("subj", subj).Msg("send queue full, message dropped")
		}
	}
}

// Count returns the number of signed on connections.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.cmap)
}

// Dropped returns how many deliveries were skipped because of full buffers.
func (h *Hub) Dropped() int64 { return h.dropped.Load() }

// MatchFilter only routes messages that match one of a list of subjects.
type MatchFilter struct {
	Router
	Match []string
}

// NewMatchFilter returns a new filtered router r that exact-matches strs.
func NewMatchFilter(r Router, strs ...string) *MatchFilter {
	return &MatchFilter{r, strs}
}

func (r *MatchFilter) Route(m *Msg) {
	for _, s := range r.Match {
		if m.Subj == s {
			r.Router.Route(m)
			return
		}
	}
}
