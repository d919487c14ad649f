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
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

const (
	defaultConnectTimeout = 3 * time.Second
	defaultReconnectDelay = time.Second
)

// DialerConfig configures the initiating role.
type DialerConfig struct {
	Address        string
	ConnectTimeout time.Duration
	ReconnectDelay time.Duration
	// MaxReconnects is the number of retries after a failed attempt. Negative retries forever.
	MaxReconnects int
	// OnExhausted is called once each time the retries run out.
	OnExhausted func(error)
}

// Dialer connects out to a listener hosted by the sorter and reconnects when the link drops.
type Dialer struct {
	cfg  DialerConfig
	dial func(ctx context.Context, network, address string) (net.Conn, error)

	mu    sync.RWMutex
	state LinkState
}

// NewDialer creates an initiating role.
func NewDialer(cfg DialerConfig) *Dialer {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaultReconnectDelay
	}
	var d net.Dialer
	return &Dialer{cfg: cfg, dial: d.DialContext, state: StateDisconnected}
}

func (d *Dialer) Kind() string { return "client" }

func (d *Dialer) State() LinkState {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

func (d *Dialer) setState(s LinkState) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()
}

// Serve keeps one connection open until ctx is cancelled. After a disconnect it waits the
// reconnect delay and dials again; the retry budget starts over after every successful
// connect. When the budget runs out Serve returns ErrReconnectExhausted and may be called
// again to start over.
func (d *Dialer) Serve(ctx context.Context, handle ConnHandler) error {
	log := logrus.WithField("remote", d.cfg.Address)
	for first := true; ; first = false {
		if !first && !d.sleep(ctx) {
			return nil
		}

		conn, attempts, err := d.connect(ctx)
		if err != nil {
			d.setState(StateDisconnected)
			if ctx.Err() != nil {
				return nil
			}
			exhausted := fmt.Errorf("%w: %s after %d attempts: %v", ErrReconnectExhausted, d.cfg.Address, attempts, err)
			log.Error(exhausted)
			if d.cfg.OnExhausted != nil {
				d.cfg.OnExhausted(exhausted)
			}
			return exhausted
		}

		d.setState(StateConnected)
		log.Infof("connected to sorter after %d attempt(s)", attempts)
		handle(ctx, conn)
		d.setState(StateDisconnected)

		if ctx.Err() != nil {
			return nil
		}
		log.Warnf("sorter link dropped, reconnecting in %v", d.cfg.ReconnectDelay)
	}
}

func (d *Dialer) connect(ctx context.Context) (net.Conn, int, error) {
	var conn net.Conn
	attempts := 0

	operation := func() error {
		attempts++
		d.setState(StateConnecting)
		dialCtx, cancel := context.WithTimeout(ctx, d.cfg.ConnectTimeout)
		defer cancel()

		c, err := d.dial(dialCtx, "tcp", d.cfg.Address)
		if err != nil {
			d.setState(StateDisconnected)
			return err
		}
		conn = c
		return nil
	}

	var policy backoff.BackOff = backoff.NewConstantBackOff(d.cfg.ReconnectDelay)
	if d.cfg.MaxReconnects >= 0 {
		policy = backoff.WithMaxRetries(policy, uint64(d.cfg.MaxReconnects))
	}
	notify := func(err error, next time.Duration) {
		logrus.WithField("remote", d.cfg.Address).Warnf("connect attempt %d failed: %v; retrying in %v", attempts, err, next)
	}

	err := backoff.RetryNotify(operation, backoff.WithContext(policy, ctx), notify)
	return conn, attempts, err
}

func (d *Dialer) sleep(ctx context.Context) bool {
	t := time.NewTimer(d.cfg.ReconnectDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
