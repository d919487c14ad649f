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
	"fmt"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/semaphore"
	"k8s.io/utils/clock"

	"github.com/Hisoka6602/ZakYip.Sorting.RuleEngine.Core-sub004/config"
	"github.com/Hisoka6602/ZakYip.Sorting.RuleEngine.Core-sub004/internal/commlog"
	"github.com/Hisoka6602/ZakYip.Sorting.RuleEngine.Core-sub004/internal/dws"
	"github.com/Hisoka6602/ZakYip.Sorting.RuleEngine.Core-sub004/internal/matcher"
	"github.com/Hisoka6602/ZakYip.Sorting.RuleEngine.Core-sub004/internal/metrics"
	"github.com/Hisoka6602/ZakYip.Sorting.RuleEngine.Core-sub004/internal/protocol"
	"github.com/Hisoka6602/ZakYip.Sorting.RuleEngine.Core-sub004/internal/rules"
	"github.com/Hisoka6602/ZakYip.Sorting.RuleEngine.Core-sub004/internal/session"
	"github.com/Hisoka6602/ZakYip.Sorting.RuleEngine.Core-sub004/internal/thirdparty"
	"github.com/Hisoka6602/ZakYip.Sorting.RuleEngine.Core-sub004/model"
)

var tracer = otel.Tracer("sorting.orchestrator")

const (
	defaultThirdPartyTimeout = 1500 * time.Millisecond
	defaultMaxInflight       = 64
)

// Publisher delivers chute assignments to the sorter. *protocol.Endpoint satisfies it.
type Publisher interface {
	Broadcast(ctx context.Context, v any) (int, error)
}

// Alerter raises operator-visible alerts. *notification.Notifier satisfies it.
type Alerter interface {
	NotifyError(err error)
}

// Options wires an Orchestrator. Registry, Engine, Policy and Publisher are required.
type Options struct {
	Registry  *session.Registry
	Engine    *rules.Engine
	Policy    *model.TimeoutPolicy
	Publisher Publisher

	// ThirdParty is consulted before evaluation when set.
	ThirdParty        thirdparty.Responder
	ThirdPartyTimeout time.Duration

	// DwsParser decodes raw frames from the DWS endpoint.
	DwsParser *dws.Parser

	// DefaultChuteID is assigned when no rule matches. Zero marks the parcel Lost instead.
	DefaultChuteID int64

	// MaxInflight bounds how many DWS readings are evaluated at once from frame handlers.
	MaxInflight int64

	Metrics *metrics.Metrics
	CommLog commlog.Sink
	Alerter Alerter
	Clock   clock.PassiveClock
}

// Orchestrator moves parcels from detection through binding and evaluation to the
// assignment sent back to the sorter.
type Orchestrator struct {
	registry   *session.Registry
	engine     *rules.Engine
	policy     *model.TimeoutPolicy
	publisher  Publisher
	thirdParty thirdparty.Responder
	metrics    *metrics.Metrics
	commLog    commlog.Sink
	alerter    Alerter
	clock      clock.PassiveClock

	parser            atomic.Pointer[dws.Parser]
	defaultChute      atomic.Int64
	thirdPartyTimeout atomic.Int64

	inflight *semaphore.Weighted
	wg       sync.WaitGroup

	linksMu sync.Mutex
	links   map[string]int
}

// NewOrchestrator creates an orchestrator from opts.
func NewOrchestrator(opts Options) (*Orchestrator, error) {
	if opts.Registry == nil || opts.Engine == nil || opts.Policy == nil || opts.Publisher == nil {
		return nil, errors.New("orchestrator needs a registry, an engine, a policy and a publisher")
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.ThirdPartyTimeout <= 0 {
		opts.ThirdPartyTimeout = defaultThirdPartyTimeout
	}
	if opts.MaxInflight <= 0 {
		opts.MaxInflight = defaultMaxInflight
	}
	if opts.DwsParser == nil {
		p, err := dws.NewParser(dws.FormatDelimited, "", "")
		if err != nil {
			return nil, err
		}
		opts.DwsParser = p
	}

	o := &Orchestrator{
		registry:   opts.Registry,
		engine:     opts.Engine,
		policy:     opts.Policy,
		publisher:  opts.Publisher,
		thirdParty: opts.ThirdParty,
		metrics:    opts.Metrics,
		commLog:    commlog.OrDiscard(opts.CommLog),
		alerter:    opts.Alerter,
		clock:      opts.Clock,
		inflight:   semaphore.NewWeighted(opts.MaxInflight),
		links:      map[string]int{},
	}
	o.parser.Store(opts.DwsParser)
	o.defaultChute.Store(opts.DefaultChuteID)
	o.thirdPartyTimeout.Store(int64(opts.ThirdPartyTimeout))
	return o, nil
}

// ApplyConfig swaps the timeout policy, the rule snapshot, the DWS parser and the
// fallback settings. Sessions in flight keep running under the new values.
func (o *Orchestrator) ApplyConfig(cnf *config.Configuration, set model.RuleSet) error {
	parser, err := dws.NewParser(dws.Format(cnf.Dws.Format), cnf.Dws.Template, cnf.Dws.Delimiter)
	if err != nil {
		return err
	}
	o.parser.Store(parser)
	o.policy.Store(cnf.Dws.Timeout)
	o.defaultChute.Store(cnf.DefaultChuteID)
	if cnf.ThirdParty.TimeoutMs > 0 {
		o.thirdPartyTimeout.Store(int64(time.Duration(cnf.ThirdParty.TimeoutMs) * time.Millisecond))
	}
	n := o.engine.Load(set)

	logrus.WithFields(logrus.Fields{
		"rules":            n,
		"default_chute_id": cnf.DefaultChuteID,
		"timeout_enabled":  cnf.Dws.Timeout.Enabled,
		"max_wait_ms":      cnf.Dws.Timeout.MaxWaitMs,
	}).Info("configuration applied")
	return nil
}

// Registry returns the session registry the orchestrator drives.
func (o *Orchestrator) Registry() *session.Registry {
	return o.registry
}

// HandleParcelDetected registers a new session and opens its DWS binding window.
//
// Parameters:
// - ctx context.Context: Context for the operation.
// - msg model.ParcelDetectionNotification: The detection reported by the sorter.
//
// Returns:
// - model.ParcelSession: The session, now awaiting DWS data.
// - error: session.ErrDuplicateParcel when the parcel is already active.
func (o *Orchestrator) HandleParcelDetected(ctx context.Context, msg model.ParcelDetectionNotification) (model.ParcelSession, error) {
	_, span := tracer.Start(ctx, "Parcel detected")
	defer span.End()
	span.SetAttributes(attribute.Int64("parcel.id", msg.ParcelID))

	log := logrus.WithField("parcel_id", msg.ParcelID)
	barcode := msg.Metadata[model.MetadataBarcode]
	cart := msg.Metadata[model.MetadataCartNumber]

	metadata := msg.Metadata
	if !msg.DetectionTime.IsZero() {
		metadata = make(map[string]string, len(msg.Metadata)+1)
		maps.Copy(metadata, msg.Metadata)
		metadata[model.MetadataDetectionTime] = msg.DetectionTime.UTC().Format(time.RFC3339Nano)
	}

	if _, err := o.registry.Create(msg.ParcelID, cart, barcode, metadata); err != nil {
		span.RecordError(err)
		o.metrics.Detection("duplicate")
		log.Warnf("detection rejected: %v", err)
		return model.ParcelSession{}, err
	}

	s, err := o.registry.Transition(msg.ParcelID, model.StateAwaitingDws, model.StateCreated)
	if err != nil {
		span.RecordError(err)
		o.reportTransitionError(err)
		return s, err
	}

	o.metrics.Detection("created")
	o.metrics.ActiveSessions(o.registry.Len())
	log.WithField("barcode", barcode).Info("parcel session created")
	return s, nil
}

// HandleDwsData binds a reading to its session, evaluates the rules and sends the
// assignment. It returns once the sorter has been notified.
//
// Returns:
// - model.ParcelSession: The session as it was when the assignment was sent.
// - error: The bind error (ErrNoMatchingSession, ErrTooEarly, ErrAlreadyBound), or the
// send error when the sorter could not be reached.
func (o *Orchestrator) HandleDwsData(ctx context.Context, reading model.DwsData) (model.ParcelSession, error) {
	ctx, span := tracer.Start(ctx, "DWS data received")
	defer span.End()
	span.SetAttributes(attribute.String("parcel.barcode", reading.Barcode))

	log := logrus.WithField("barcode", reading.Barcode)
	if reading.Barcode == "" {
		o.metrics.Bind("invalid")
		return model.ParcelSession{}, dws.ErrMissingBarcode
	}

	s, err := o.registry.Bind(reading.Barcode, reading)
	if err != nil {
		span.RecordError(err)
		switch {
		case errors.Is(err, session.ErrAlreadyBound):
			o.metrics.Bind("already_bound")
			log.WithField("anomaly", true).Warnf("duplicate dws reading ignored: %v", err)
		case errors.Is(err, session.ErrTooEarly):
			o.metrics.Bind("too_early")
			log.WithField("parcel_id", s.ParcelID).Warnf("dws reading dropped: %v", err)
		case errors.Is(err, session.ErrNoMatchingSession):
			o.metrics.Bind("no_session")
			log.Warnf("dws reading dropped: %v", err)
		default:
			o.metrics.Bind("error")
			log.Errorf("dws bind failed: %v", err)
		}
		return s, err
	}

	o.metrics.Bind("bound")
	log.WithFields(logrus.Fields{
		"parcel_id": s.ParcelID,
		"waited":    s.DwsBoundAt.Sub(s.DetectedAt).String(),
	}).Info("dws data bound")
	return o.assign(ctx, s)
}

// HandleTimeout sends the exception chute for a session the supervisor timed out. It has
// the TimeoutHandler signature.
func (o *Orchestrator) HandleTimeout(ctx context.Context, s model.ParcelSession) {
	ctx, span := tracer.Start(ctx, "DWS binding timed out")
	defer span.End()
	span.SetAttributes(attribute.Int64("parcel.id", s.ParcelID), attribute.Int64("chute.id", s.ChuteID))

	if err := o.publish(ctx, s); err != nil {
		span.RecordError(err)
		o.sendFailed(s, err)
	} else {
		o.metrics.Assignment(metrics.ReasonTimeout)
	}
	o.finish(s.ParcelID)
}

func (o *Orchestrator) assign(ctx context.Context, s model.ParcelSession) (model.ParcelSession, error) {
	ctx, span := tracer.Start(ctx, "Assigning chute")
	defer span.End()
	span.SetAttributes(attribute.Int64("parcel.id", s.ParcelID))

	log := logrus.WithField("parcel_id", s.ParcelID)
	response := o.consultThirdParty(ctx, s)

	started := time.Now()
	decision, matched := o.engine.Evaluate(matcher.Input{Parcel: s.Info(), Dws: s.Dws, ThirdParty: response})
	o.metrics.Evaluation(time.Since(started))

	reason := metrics.ReasonRule
	exceptionChute := o.policy.Load().ExceptionChuteID
	if !matched {
		if def := o.defaultChute.Load(); def > 0 {
			reason = metrics.ReasonDefault
			decision = rules.Decision{ChuteID: def}
		} else {
			reason = metrics.ReasonLost
			decision = rules.Decision{ChuteID: exceptionChute}
		}
	}
	span.SetAttributes(attribute.Int64("chute.id", decision.ChuteID), attribute.String("assignment.reason", reason))

	evaluated, err := o.registry.Apply(s.ParcelID, model.StateEvaluated, func(p *model.ParcelSession) {
		p.ChuteID = decision.ChuteID
		p.MatchedRuleID = decision.RuleID
	}, model.StateBound)
	if err != nil {
		span.RecordError(err)
		o.reportTransitionError(err)
		return evaluated, err
	}
	log.WithFields(logrus.Fields{
		"chute_id": decision.ChuteID,
		"rule_id":  decision.RuleID,
		"reason":   reason,
	}).Info("parcel evaluated")

	if reason == metrics.ReasonLost {
		log.Warn("no rule matched and no default chute, sending exception chute")
		lost, err := o.registry.Apply(s.ParcelID, model.StateLost, o.stampAssigned, model.StateEvaluated)
		if err != nil {
			o.reportTransitionError(err)
			return lost, err
		}
		evaluated = lost
	}

	if err := o.publish(ctx, evaluated); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.sendFailed(evaluated, err)
		o.finish(s.ParcelID)
		evaluated.State = model.StateLost
		return evaluated, err
	}

	final := evaluated
	if reason != metrics.ReasonLost {
		final, err = o.registry.Transition(s.ParcelID, model.StateAssigned, model.StateEvaluated)
		if err != nil {
			o.reportTransitionError(err)
		}
	}
	o.metrics.Assignment(reason)
	o.finish(s.ParcelID)
	return final, nil
}

// consultThirdParty returns nil when no responder is configured or the call failed.
func (o *Orchestrator) consultThirdParty(ctx context.Context, s model.ParcelSession) *model.ThirdPartyResponse {
	if o.thirdParty == nil {
		return nil
	}
	name := o.thirdParty.Name()
	ctx, cancel := context.WithTimeout(ctx, time.Duration(o.thirdPartyTimeout.Load()))
	defer cancel()

	response, err := o.thirdParty.CallAPI(ctx, s.Info(), s.Dws)
	entry := commlog.NewEntry(commlog.Outbound, commlog.ChannelThirdParty, name, nil, err)
	entry.ParcelID = s.ParcelID
	if response != nil {
		entry.Raw = response.Body
	}
	o.commLog.Record(ctx, entry)

	if err != nil {
		o.metrics.ThirdParty(name, "unavailable")
		logrus.WithFields(logrus.Fields{
			"parcel_id": s.ParcelID,
			"vendor":    name,
		}).Warnf("third-party call failed, evaluating with local data: %v", err)
		return nil
	}
	if response == nil {
		return nil
	}
	if response.Success {
		o.metrics.ThirdParty(name, "success")
	} else {
		o.metrics.ThirdParty(name, "rejected")
	}
	return response
}

func (o *Orchestrator) publish(ctx context.Context, s model.ParcelSession) error {
	msg := model.ChuteAssignmentNotification{
		ParcelID:   s.ParcelID,
		ChuteID:    s.ChuteID,
		AssignedAt: o.clock.Now(),
		DwsPayload: s.ToDwsPayload(),
	}
	n, err := o.publisher.Broadcast(ctx, msg)
	if errors.Is(err, protocol.ErrFrameEncode) && msg.DwsPayload != nil {
		msg.ChuteID = o.policy.Load().ExceptionChuteID
		msg.DwsPayload = nil
		logrus.WithFields(logrus.Fields{
			"parcel_id": s.ParcelID,
			"chute_id":  s.ChuteID,
		}).Warnf("assignment not encodable, sending exception chute without dws payload: %v", err)
		n, err = o.publisher.Broadcast(ctx, msg)
	}
	if err != nil {
		return fmt.Errorf("send assignment for parcel %d: %w", s.ParcelID, err)
	}
	logrus.WithFields(logrus.Fields{
		"parcel_id": s.ParcelID,
		"chute_id":  msg.ChuteID,
		"links":     n,
	}).Info("chute assignment sent")
	return nil
}

// sendFailed marks an undelivered session Lost. Timed-out sessions are already terminal.
func (o *Orchestrator) sendFailed(s model.ParcelSession, err error) {
	o.metrics.SendFailure()
	o.metrics.Assignment(metrics.ReasonLost)
	logrus.WithFields(logrus.Fields{
		"parcel_id": s.ParcelID,
		"chute_id":  s.ChuteID,
	}).Errorf("chute assignment not delivered: %v", err)

	if s.State.IsTerminal() {
		return
	}
	if _, terr := o.registry.Apply(s.ParcelID, model.StateLost, o.stampAssigned); terr != nil &&
		!errors.Is(terr, session.ErrSessionNotFound) {
		o.reportTransitionError(terr)
	}
}

func (o *Orchestrator) stampAssigned(p *model.ParcelSession) {
	p.AssignedAt = o.clock.Now()
}

func (o *Orchestrator) finish(parcelID int64) {
	o.registry.Remove(parcelID)
	o.metrics.ActiveSessions(o.registry.Len())
}

// reportTransitionError alerts on forbidden transitions and logs lost races.
func (o *Orchestrator) reportTransitionError(err error) {
	var te *session.TransitionError
	if errors.As(err, &te) {
		if o.alerter != nil {
			o.alerter.NotifyError(err)
		} else {
			logrus.WithField("alert", true).Error(err)
		}
		return
	}
	logrus.Debugf("session changed concurrently: %v", err)
}

// HandleSorterFrame decodes a detection from the sorter link. Malformed frames are dropped.
func (o *Orchestrator) HandleSorterFrame(ctx context.Context, link protocol.LinkInfo, frame []byte) {
	msg, err := protocol.DecodeDetection(frame)
	if err != nil {
		o.metrics.Detection("decode_error")
		logrus.WithFields(logrus.Fields{
			"link_id": link.ID,
			"remote":  link.RemoteAddr,
		}).Warnf("sorter frame dropped: %v", err)
		return
	}
	_, _ = o.HandleParcelDetected(ctx, msg)
}

// HandleDwsFrame parses a scanner line and evaluates it in the background, so one slow
// third-party call does not hold up the next reading on the same link.
func (o *Orchestrator) HandleDwsFrame(ctx context.Context, link protocol.LinkInfo, frame []byte) {
	reading, err := o.parser.Load().Parse(frame, o.clock.Now())
	if err != nil {
		o.metrics.Bind("decode_error")
		logrus.WithFields(logrus.Fields{
			"link_id": link.ID,
			"remote":  link.RemoteAddr,
		}).Warnf("dws frame dropped: %v", err)
		return
	}

	if err := o.inflight.Acquire(ctx, 1); err != nil {
		return
	}
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer o.inflight.Release(1)
		_, _ = o.HandleDwsData(ctx, reading)
	}()
}

// HandleLinkEvent tracks connected links and alerts when a dialer gives up.
func (o *Orchestrator) HandleLinkEvent(ev protocol.ConnectionEvent) {
	o.linksMu.Lock()
	switch ev.Type {
	case protocol.EventConnected:
		o.links[ev.Endpoint]++
	case protocol.EventDisconnected:
		if o.links[ev.Endpoint] > 0 {
			o.links[ev.Endpoint]--
		}
	}
	n := o.links[ev.Endpoint]
	o.linksMu.Unlock()
	o.metrics.Links(ev.Endpoint, n)

	if ev.Type == protocol.EventReconnectExhausted {
		err := fmt.Errorf("%s link down: %w", ev.Endpoint, ev.Err)
		if o.alerter != nil {
			o.alerter.NotifyError(err)
		} else {
			logrus.WithField("alert", true).Error(err)
		}
	}
}

// Wait blocks until readings handed off by HandleDwsFrame are done.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}
