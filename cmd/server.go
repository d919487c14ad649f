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

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	sorting "github.com/Hisoka6602/ZakYip.Sorting.RuleEngine.Core-sub004"
	"github.com/Hisoka6602/ZakYip.Sorting.RuleEngine.Core-sub004/api"
	"github.com/Hisoka6602/ZakYip.Sorting.RuleEngine.Core-sub004/config"
	"github.com/Hisoka6602/ZakYip.Sorting.RuleEngine.Core-sub004/internal/cache"
	"github.com/Hisoka6602/ZakYip.Sorting.RuleEngine.Core-sub004/internal/commlog"
	"github.com/Hisoka6602/ZakYip.Sorting.RuleEngine.Core-sub004/internal/dws"
	redlock "github.com/Hisoka6602/ZakYip.Sorting.RuleEngine.Core-sub004/internal/lock"
	"github.com/Hisoka6602/ZakYip.Sorting.RuleEngine.Core-sub004/internal/metrics"
	"github.com/Hisoka6602/ZakYip.Sorting.RuleEngine.Core-sub004/internal/notification"
	"github.com/Hisoka6602/ZakYip.Sorting.RuleEngine.Core-sub004/internal/protocol"
	redis_db "github.com/Hisoka6602/ZakYip.Sorting.RuleEngine.Core-sub004/internal/redis-db"
	"github.com/Hisoka6602/ZakYip.Sorting.RuleEngine.Core-sub004/internal/request"
	"github.com/Hisoka6602/ZakYip.Sorting.RuleEngine.Core-sub004/internal/rules"
	"github.com/Hisoka6602/ZakYip.Sorting.RuleEngine.Core-sub004/internal/session"
	"github.com/Hisoka6602/ZakYip.Sorting.RuleEngine.Core-sub004/internal/thirdparty"
	"github.com/Hisoka6602/ZakYip.Sorting.RuleEngine.Core-sub004/model"
)

const (
	thirdPartyLocalCacheSize = 4096

	// restartCooldown is how long serve waits before restarting an endpoint whose
	// reconnect attempts ran out.
	restartCooldown = 30 * time.Second
)

// service is everything serve runs, built from one configuration.
type service struct {
	cnf          *config.Configuration
	redis        *redis_db.Redis
	commLog      *commlog.RedisSink
	notifier     *notification.Notifier
	metrics      *metrics.Metrics
	orchestrator *sorting.Orchestrator
	supervisor   *sorting.Supervisor
	sorter       *protocol.Endpoint
	dws          *protocol.Endpoint
	http         *http.Server
}

func newRole(role, address string, port int, reconnects, delayMs, connectTimeoutMs int) protocol.Role {
	addr := net.JoinHostPort(address, strconv.Itoa(port))
	if role == config.RoleClient {
		return protocol.NewDialer(protocol.DialerConfig{
			Address:        addr,
			ConnectTimeout: time.Duration(connectTimeoutMs) * time.Millisecond,
			ReconnectDelay: time.Duration(delayMs) * time.Millisecond,
			MaxReconnects:  reconnects,
		})
	}
	return protocol.NewListener(addr)
}

func newThirdParty(cnf *config.Configuration, client *redis_db.Redis) (thirdparty.Responder, error) {
	if cnf.ThirdParty.ConfigPath == "" {
		return nil, nil
	}
	vendors, err := thirdparty.LoadConfig(cnf.ThirdParty.ConfigPath)
	if err != nil {
		return nil, err
	}
	vendor, err := vendors.Select()
	if err != nil {
		return nil, err
	}

	var responder thirdparty.Responder = thirdparty.NewHTTPResponder(vendor, request.DefaultClient)
	if cnf.ThirdParty.CacheTTLSec > 0 {
		ttl := time.Duration(cnf.ThirdParty.CacheTTLSec) * time.Second
		var shared redis.UniversalClient
		if client != nil {
			shared = client.Client()
		}
		backend := cache.NewCache(shared, thirdPartyLocalCacheSize, ttl)
		responder = thirdparty.NewCachedResponder(responder, backend, ttl)
	}
	logrus.WithField("vendor", vendor.Name).Info("third-party responder configured")
	return responder, nil
}

func newService(cnf *config.Configuration) (*service, error) {
	s := &service{cnf: cnf, metrics: metrics.New()}
	s.notifier = notification.NewNotifier(cnf.Notification.Slack.WebhookUrl, cnf.ProjectName)

	sinks := commlog.Multi{commlog.LogrusSink{Logger: logrus.StandardLogger()}}
	if cnf.Redis.Dns != "" {
		client, err := redis_db.NewRedisClient([]string{cnf.Redis.Dns}, cnf.Redis.SkipTLSVerify)
		if err != nil {
			return nil, fmt.Errorf("error connecting to redis: %w", err)
		}
		s.redis = client
		s.commLog = commlog.NewRedisSink(client.Client(), cnf.CommLog.RedisKey, cnf.CommLog.MaxEntries, cnf.CommLog.BufferSize)
		sinks = append(sinks, s.commLog)
	}

	set, err := config.LoadRuleSet(cnf.Rules.Path)
	if err != nil {
		return nil, err
	}
	engine := rules.NewEngine(nil)
	engine.Load(set)

	parser, err := dws.NewParser(dws.Format(cnf.Dws.Format), cnf.Dws.Template, cnf.Dws.Delimiter)
	if err != nil {
		return nil, err
	}

	responder, err := newThirdParty(cnf, s.redis)
	if err != nil {
		return nil, err
	}

	policy := model.NewTimeoutPolicy(cnf.Dws.Timeout)
	registry := session.NewRegistry(policy, clock.RealClock{})

	// The endpoint handlers close over s.orchestrator, which is set before either endpoint runs.
	sc := cnf.Sorter
	s.sorter = protocol.NewEndpoint(
		newRole(sc.Role, sc.Address, sc.Port, sc.ReconnectCount, sc.ReconnectDelayMs, sc.ConnectTimeoutMs),
		protocol.Options{
			Name:         commlog.ChannelSorter,
			WriteTimeout: time.Duration(sc.WriteTimeoutMs) * time.Millisecond,
			OnFrame: func(ctx context.Context, link protocol.LinkInfo, frame []byte) {
				s.orchestrator.HandleSorterFrame(ctx, link, frame)
			},
			OnEvent: func(ev protocol.ConnectionEvent) { s.orchestrator.HandleLinkEvent(ev) },
			Log:     sinks,
		})

	if !cnf.Dws.Disabled {
		dc := cnf.Dws
		s.dws = protocol.NewEndpoint(
			newRole(dc.Role, dc.Address, dc.Port, sc.ReconnectCount, sc.ReconnectDelayMs, sc.ConnectTimeoutMs),
			protocol.Options{
				Name: commlog.ChannelDws,
				OnFrame: func(ctx context.Context, link protocol.LinkInfo, frame []byte) {
					s.orchestrator.HandleDwsFrame(ctx, link, frame)
				},
				OnEvent: func(ev protocol.ConnectionEvent) { s.orchestrator.HandleLinkEvent(ev) },
				Log:     sinks,
			})
	}

	s.orchestrator, err = sorting.NewOrchestrator(sorting.Options{
		Registry:          registry,
		Engine:            engine,
		Policy:            policy,
		Publisher:         s.sorter,
		ThirdParty:        responder,
		ThirdPartyTimeout: time.Duration(cnf.ThirdParty.TimeoutMs) * time.Millisecond,
		DwsParser:         parser,
		DefaultChuteID:    cnf.DefaultChuteID,
		Metrics:           s.metrics,
		CommLog:           sinks,
		Alerter:           s.notifier,
	})
	if err != nil {
		return nil, err
	}
	s.supervisor = sorting.NewSupervisor(registry, policy, clock.RealClock{}, s.orchestrator.HandleTimeout)

	if !cnf.Server.Disabled {
		endpoints := []api.LinkSource{s.sorter}
		if s.dws != nil {
			endpoints = append(endpoints, s.dws)
		}
		ingress, err := api.NewAPI(s.orchestrator, s.metrics.Handler(), endpoints...)
		if err != nil {
			return nil, err
		}
		s.http = &http.Server{
			Addr:              ":" + cnf.Server.Port,
			Handler:           ingress.Router(),
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	logrus.WithFields(logrus.Fields{
		"sorter": fmt.Sprintf("%s %s", sc.Role, sc.Endpoint()),
		"dws":    fmt.Sprintf("%s %s", cnf.Dws.Role, cnf.Dws.Endpoint()),
	}).Infof("service ready: %s", engine.Describe())
	return s, nil
}

// runEndpoint runs ep and restarts it after a cooldown whenever its dialer gives up.
func runEndpoint(ctx context.Context, ep *protocol.Endpoint) error {
	for {
		err := ep.Run(ctx)
		if !errors.Is(err, protocol.ErrReconnectExhausted) || ctx.Err() != nil {
			return err
		}
		logrus.WithField("endpoint", ep.Name()).Warnf("restarting in %v: %v", restartCooldown, err)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(restartCooldown):
		}
	}
}

// runSorter drives the sorter endpoint, holding the Redis lease first when one is configured.
func (s *service) runSorter(ctx context.Context) error {
	if s.cnf.Sorter.LeaseKey == "" || s.redis == nil {
		return runEndpoint(ctx, s.sorter)
	}

	host, _ := os.Hostname()
	owner := fmt.Sprintf("%s:%d", host, os.Getpid())
	ttl := time.Duration(s.cnf.Sorter.LeaseTTLMs) * time.Millisecond
	lease, err := redlock.AcquireLease(ctx, s.redis.Client(), s.cnf.Sorter.LeaseKey, owner, ttl, 24*time.Hour)
	if err != nil {
		return fmt.Errorf("sorter lease: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := lease.Keep(gctx)
		if errors.Is(err, redlock.ErrLeaseLost) {
			s.notifier.NotifyError(err)
		}
		return err
	})
	g.Go(func() error { return runEndpoint(gctx, s.sorter) })
	return g.Wait()
}

func (s *service) runHTTP(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logrus.Infof("Starting server on http://localhost%s", s.http.Addr)
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}

// reloadOnSignal re-applies the configuration file on every SIGHUP. Roles and addresses
// are read once at start; everything else takes effect immediately.
func (s *service) reloadOnSignal(ctx context.Context, configFile string) error {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-hup:
			if err := s.reload(configFile); err != nil {
				logrus.Errorf("reload failed, keeping the current configuration: %v", err)
			}
		}
	}
}

// reload stores the new configuration only after the orchestrator accepted it.
func (s *service) reload(configFile string) error {
	cnf, err := config.Load(configFile)
	if err != nil {
		return err
	}
	set, err := config.LoadRuleSet(cnf.Rules.Path)
	if err != nil {
		return err
	}
	if err := s.orchestrator.ApplyConfig(cnf, set); err != nil {
		return err
	}
	config.Store(cnf)
	logrus.WithField("file", configFile).Info("configuration reloaded")
	return nil
}

// run blocks until ctx is cancelled or a component fails.
func (s *service) run(ctx context.Context, configFile string) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return s.runSorter(gctx) })
	if s.dws != nil {
		g.Go(func() error { return runEndpoint(gctx, s.dws) })
	}
	g.Go(func() error {
		s.supervisor.Run(gctx)
		return nil
	})
	if s.http != nil {
		g.Go(func() error { return s.runHTTP(gctx) })
	}
	g.Go(func() error { return s.reloadOnSignal(gctx, configFile) })

	err := g.Wait()
	s.close()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *service) close() {
	s.orchestrator.Wait()
	s.notifier.Wait()
	if s.commLog != nil {
		s.commLog.Close()
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			logrus.Warnf("closing redis: %v", err)
		}
	}
}

// serveCommands returns the command that runs the sorting service until interrupted.
func serveCommands(app *sorterInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "run the sorting service",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newService(app.cnf)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return s.run(ctx, app.configFile)
		},
	}
	return cmd
}
