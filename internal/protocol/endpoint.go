/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package protocol

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Hisoka6602/ZakYip.Sorting.RuleEngine.Core-sub004/internal/commlog"
	"github.com/Hisoka6602/ZakYip.Sorting.RuleEngine.Core-sub004/model"
)

const defaultWriteTimeout = 2 * time.Second

// LinkState is the connection state reported by a role.
type LinkState string

const (
	StateDisconnected LinkState = "DISCONNECTED"
	StateConnecting   LinkState = "CONNECTING"
	StateConnected    LinkState = "CONNECTED"
)

// EventType classifies a ConnectionEvent.
type EventType string

const (
	EventConnected          EventType = "CONNECTED"
	EventDisconnected       EventType = "DISCONNECTED"
	EventReconnectExhausted EventType = "RECONNECT_EXHAUSTED"
)

// ConnectionEvent is raised whenever a link comes up or goes down.
type ConnectionEvent struct {
	Endpoint   string    `json:"endpoint"`
	LinkID     string    `json:"link_id,omitempty"`
	RemoteAddr string    `json:"remote_addr,omitempty"`
	Type       EventType `json:"type"`
	At         time.Time `json:"at"`
	Err        error     `json:"-"`
}

// LinkInfo identifies one live connection.
type LinkInfo struct {
	ID          string    `json:"id"`
	Endpoint    string    `json:"endpoint"`
	RemoteAddr  string    `json:"remote_addr"`
	ConnectedAt time.Time `json:"connected_at"`
}

// FrameHandler receives every non-blank inbound frame. The slice is owned by the handler.
type FrameHandler func(ctx context.Context, link LinkInfo, frame []byte)

// EventHandler observes connection lifecycle events.
type EventHandler func(ConnectionEvent)

// ConnHandler serves one established connection and returns when it is finished.
type ConnHandler func(ctx context.Context, conn net.Conn)

// Role establishes connections and hands each one to the endpoint.
type Role interface {
	// Serve blocks until ctx is cancelled or the role gives up.
	Serve(ctx context.Context, handle ConnHandler) error
	State() LinkState
	Kind() string
}

// Options configures an Endpoint.
type Options struct {
	// Name appears in logs, events and the communication log, e.g. "sorter" or "dws".
	Name         string
	MaxFrameSize int
	WriteTimeout time.Duration
	OnFrame      FrameHandler
	OnEvent      EventHandler
	Log          commlog.Sink
}

type link struct {
	info    LinkInfo
	conn    net.Conn
	writeMu sync.Mutex
}

// Endpoint frames messages over the connections produced by its role.
type Endpoint struct {
	role Role
	opts Options

	mu      sync.RWMutex
	links   map[string]*link
	closed  bool
	sends   sync.WaitGroup
	readers sync.WaitGroup
}

// NewEndpoint creates an endpoint over role.
func NewEndpoint(role Role, opts Options) *Endpoint {
	if opts.Name == "" {
		opts.Name = "sorter"
	}
	if opts.MaxFrameSize <= 0 {
		opts.MaxFrameSize = DefaultMaxFrameSize
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	opts.Log = commlog.OrDiscard(opts.Log)
	return &Endpoint{role: role, opts: opts, links: map[string]*link{}}
}

// Name returns the endpoint's configured name.
func (e *Endpoint) Name() string {
	return e.opts.Name
}

// Role returns the connection role in use.
func (e *Endpoint) Role() Role {
	return e.role
}

// Run serves connections until ctx is cancelled or the role stops. On return no new sends
// are accepted, sends in flight have completed and every link is closed. Run may be called
// again after it returns.
func (e *Endpoint) Run(ctx context.Context) error {
	e.mu.Lock()
	e.closed = false
	e.mu.Unlock()

	stop := context.AfterFunc(ctx, e.shutdown)
	defer stop()

	logrus.WithField("endpoint", e.opts.Name).Infof("%s endpoint starting", e.role.Kind())
	err := e.role.Serve(ctx, e.serveConn)
	e.shutdown()
	e.readers.Wait()
	logrus.WithField("endpoint", e.opts.Name).Info("endpoint stopped")

	if errors.Is(err, ErrReconnectExhausted) {
		e.emit(ConnectionEvent{Type: EventReconnectExhausted, Err: err})
	}
	return err
}

// shutdown refuses new sends, waits for in-flight ones and closes every link.
func (e *Endpoint) shutdown() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	e.sends.Wait()

	e.mu.Lock()
	links := make([]*link, 0, len(e.links))
	for _, l := range e.links {
		links = append(links, l)
	}
	e.mu.Unlock()
	for _, l := range links {
		_ = l.conn.Close()
	}
}

// State reports the role's connection state.
func (e *Endpoint) State() LinkState {
	return e.role.State()
}

// Links lists the live connections ordered by connect time.
func (e *Endpoint) Links() []LinkInfo {
	e.mu.RLock()
	out := make([]LinkInfo, 0, len(e.links))
	for _, l := range e.links {
		out = append(out, l.info)
	}
	e.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].ConnectedAt.Before(out[j].ConnectedAt)
	})
	return out
}

// Broadcast sends v to every live link.
//
// Returns:
// - int: The number of links the frame was written to.
// - error: ErrNoLinks when nothing is connected, ErrEndpointClosed during shutdown, or
// the joined write errors when every write failed.
func (e *Endpoint) Broadcast(ctx context.Context, v any) (int, error) {
	return e.send(ctx, v, nil)
}

// SendTo sends v to the given links only. Unknown ids are ignored.
func (e *Endpoint) SendTo(ctx context.Context, v any, linkIDs ...string) (int, error) {
	if len(linkIDs) == 0 {
		return 0, ErrNoLinks
	}
	return e.send(ctx, v, linkIDs)
}

func (e *Endpoint) send(ctx context.Context, v any, ids []string) (int, error) {
	frame, err := Encode(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrFrameEncode, err)
	}

	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return 0, ErrEndpointClosed
	}
	e.sends.Add(1)
	targets := e.targetsLocked(ids)
	e.mu.RUnlock()
	defer e.sends.Done()

	if len(targets) == 0 {
		e.opts.Log.Record(ctx, commlog.NewEntry(commlog.Outbound, e.opts.Name, "", frame, ErrNoLinks))
		return 0, ErrNoLinks
	}

	delivered := 0
	var errs []error
	for _, l := range targets {
		werr := e.write(l, frame)
		e.opts.Log.Record(ctx, commlog.NewEntry(commlog.Outbound, e.opts.Name, l.info.RemoteAddr, frame, werr))
		if werr != nil {
			errs = append(errs, fmt.Errorf("link %s: %w", l.info.ID, werr))
			continue
		}
		delivered++
	}
	if delivered == 0 {
		return 0, errors.Join(errs...)
	}
	for _, err := range errs {
		logrus.WithField("endpoint", e.opts.Name).Warnf("partial broadcast: %v", err)
	}
	return delivered, nil
}

func (e *Endpoint) targetsLocked(ids []string) []*link {
	if ids == nil {
		out := make([]*link, 0, len(e.links))
		for _, l := range e.links {
			out = append(out, l)
		}
		return out
	}
	out := make([]*link, 0, len(ids))
	for _, id := range ids {
		if l, ok := e.links[id]; ok {
			out = append(out, l)
		}
	}
	return out
}

func (e *Endpoint) write(l *link, frame []byte) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	if err := l.conn.SetWriteDeadline(time.Now().Add(e.opts.WriteTimeout)); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionLost, err)
	}
	if _, err := l.conn.Write(frame); err != nil {
		// A failed write leaves the stream in an unknown state; the reader notices the close.
		_ = l.conn.Close()
		return fmt.Errorf("%w: %v", ErrConnectionLost, err)
	}
	return nil
}

// serveConn registers conn as a link and reads frames until it closes.
func (e *Endpoint) serveConn(ctx context.Context, conn net.Conn) {
	l := &link{
		conn: conn,
		info: LinkInfo{
			ID:          model.GenerateUUIDWithSuffix("link"),
			Endpoint:    e.opts.Name,
			RemoteAddr:  conn.RemoteAddr().String(),
			ConnectedAt: time.Now(),
		},
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		_ = conn.Close()
		return
	}
	e.links[l.info.ID] = l
	e.readers.Add(1)
	e.mu.Unlock()
	defer e.readers.Done()

	log := logrus.WithFields(logrus.Fields{
		"endpoint": e.opts.Name,
		"link_id":  l.info.ID,
		"remote":   l.info.RemoteAddr,
	})
	log.Info("link connected")
	e.emit(ConnectionEvent{LinkID: l.info.ID, RemoteAddr: l.info.RemoteAddr, Type: EventConnected})

	err := e.readLoop(ctx, l)

	e.mu.Lock()
	delete(e.links, l.info.ID)
	e.mu.Unlock()
	_ = conn.Close()

	if err != nil {
		log.Warnf("link lost: %v", err)
		err = fmt.Errorf("%w: %v", ErrConnectionLost, err)
	} else {
		log.Info("link closed")
	}
	e.emit(ConnectionEvent{LinkID: l.info.ID, RemoteAddr: l.info.RemoteAddr, Type: EventDisconnected, Err: err})
}

func (e *Endpoint) readLoop(ctx context.Context, l *link) error {
	frames := NewFrameReader(l.conn, e.opts.MaxFrameSize)
	for {
		frame, err := frames.Next()
		if errors.Is(err, ErrFrameTooLong) {
			logrus.WithFields(logrus.Fields{
				"endpoint": e.opts.Name,
				"link_id":  l.info.ID,
			}).Warnf("frame dropped: %v", err)
			e.opts.Log.Record(ctx, commlog.NewEntry(commlog.Inbound, e.opts.Name, l.info.RemoteAddr, nil, err))
			continue
		}
		if err != nil {
			return e.readErr(err)
		}
		if IsBlank(frame) {
			continue
		}

		e.opts.Log.Record(ctx, commlog.NewEntry(commlog.Inbound, e.opts.Name, l.info.RemoteAddr, frame, nil))
		if e.opts.OnFrame != nil {
			e.opts.OnFrame(ctx, l.info, frame)
		}
	}
}

// readErr maps the end of a read loop to nil for a clean close.
func (e *Endpoint) readErr(err error) error {
	if errors.Is(err, io.EOF) {
		return nil
	}
	if isClosedConn(err) {
		e.mu.RLock()
		closing := e.closed
		e.mu.RUnlock()
		if closing {
			return nil
		}
	}
	return err
}

func (e *Endpoint) emit(ev ConnectionEvent) {
	ev.Endpoint = e.opts.Name
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	if e.opts.OnEvent != nil {
		e.opts.OnEvent(ev)
	}
}

func isClosedConn(err error) bool {
	return errors.Is(err, net.ErrClosed)
}
