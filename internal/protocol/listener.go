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
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Listener accepts connections opened by the sorter.
type Listener struct {
	address string

	mu    sync.RWMutex
	ln    net.Listener
	state LinkState
	ready chan struct{}
}

// NewListener creates an accepting role bound to address ("host:port") once served.
func NewListener(address string) *Listener {
	return &Listener{address: address, state: StateDisconnected, ready: make(chan struct{})}
}

func (l *Listener) Kind() string { return "server" }

func (l *Listener) State() LinkState {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// Addr returns the bound address, or nil before Serve has bound it.
func (l *Listener) Addr() net.Addr {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.ln == nil {
		return nil
	}
	return l.ln.Addr()
}

// Ready is closed once the listener is bound for the first time.
func (l *Listener) Ready() <-chan struct{} {
	return l.ready
}

// Serve accepts connections until ctx is cancelled. Each connection is handled in its own
// goroutine; Serve does not wait for them.
func (l *Listener) Serve(ctx context.Context, handle ConnHandler) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", l.address)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", l.address, err)
	}

	l.mu.Lock()
	l.ln = ln
	l.state = StateConnected
	select {
	case <-l.ready:
	default:
		close(l.ready)
	}
	l.mu.Unlock()
	logrus.Infof("listening for sorter connections on %s", ln.Addr())

	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()
	defer func() {
		l.mu.Lock()
		l.state = StateDisconnected
		l.mu.Unlock()
	}()

	var tempDelay time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				_ = ln.Close()
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				if tempDelay == 0 {
					tempDelay = 5 * time.Millisecond
				} else if tempDelay *= 2; tempDelay > time.Second {
					tempDelay = time.Second
				}
				logrus.Warnf("accept error: %v; retrying in %v", err, tempDelay)
				time.Sleep(tempDelay)
				continue
			}
			_ = ln.Close()
			return fmt.Errorf("accept on %s: %w", l.address, err)
		}
		tempDelay = 0

		go handle(ctx, conn)
	}
}
