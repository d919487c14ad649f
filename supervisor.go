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

package sorting

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/Hisoka6602/ZakYip.Sorting.RuleEngine.Core-sub004/internal/session"
	"github.com/Hisoka6602/ZakYip.Sorting.RuleEngine.Core-sub004/model"
)

const defaultCheckInterval = 100 * time.Millisecond

// TimeoutHandler receives a session the supervisor moved to TimedOut. It is called once
// per session, by the goroutine that performed the transition.
type TimeoutHandler func(ctx context.Context, s model.ParcelSession)

// Supervisor periodically times out sessions that waited too long for DWS data.
type Supervisor struct {
	registry  *session.Registry
	policy    *model.TimeoutPolicy
	clock     clock.WithTicker
	onTimeout TimeoutHandler

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSupervisor creates a supervisor over registry. The policy is re-read on every tick so
// a reload takes effect without a restart.
func NewSupervisor(registry *session.Registry, policy *model.TimeoutPolicy, clk clock.WithTicker, onTimeout TimeoutHandler) *Supervisor {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Supervisor{
		registry:  registry,
		policy:    policy,
		clock:     clk,
		onTimeout: onTimeout,
	}
}

// Start runs the loop in the background. Calling Start while running is a no-op and the
// supervisor can be started again after Stop.
func (s *Supervisor) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.Run(ctx)
	}()
}

// Stop cancels the loop and waits for the current scan to finish.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
	logrus.Info("dws timeout supervisor stopped")
}

// Run scans the registry every check interval until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) {
	interval := s.interval()
	ticker := s.clock.NewTicker(interval)
	defer func() { ticker.Stop() }()

	logrus.Infof("dws timeout supervisor started with interval: %v", interval)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			s.Scan(ctx)

			if next := s.interval(); next != interval {
				ticker.Stop()
				interval = next
				ticker = s.clock.NewTicker(interval)
				logrus.Infof("dws timeout supervisor interval changed to %v", interval)
			}
		}
	}
}

// Scan runs one pass and returns how many sessions this pass timed out.
func (s *Supervisor) Scan(ctx context.Context) int {
	policy := s.policy.Load()
	if !policy.Enabled {
		return 0
	}

	expired := 0
	for _, id := range s.registry.Overdue(s.clock.Now(), policy.MaxWait()) {
		if ctx.Err() != nil {
			return expired
		}

		timedOut, err := s.registry.Expire(id, policy.ExceptionChuteID)
		if err != nil {
			if errors.Is(err, session.ErrStateConflict) || errors.Is(err, session.ErrSessionNotFound) {
				continue
			}
			logrus.WithField("parcel_id", id).Errorf("supervisor: failed to time out session: %v", err)
			continue
		}

		expired++
		logrus.WithFields(logrus.Fields{
			"parcel_id": id,
			"chute_id":  timedOut.ChuteID,
			"waited":    timedOut.AssignedAt.Sub(timedOut.DetectedAt).String(),
		}).Warn("dws binding timed out")

		if s.onTimeout != nil {
			s.onTimeout(ctx, timedOut)
		}
	}
	return expired
}

func (s *Supervisor) interval() time.Duration {
	if d := s.policy.Load().CheckInterval(); d > 0 {
		return d
	}
	return defaultCheckInterval
}
