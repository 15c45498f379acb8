// Copyright 2025-2026 The rtgate Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/cenkalti/backoff/v4"
	"github.com/roadassist/rtgate/common"
	"github.com/roadassist/rtgate/metrics"
	"github.com/roadassist/rtgate/registry"
)

// ErrAlreadyStarted returned when StartSubscriber is called on a bridge
// whose subscriber is still running
var ErrAlreadyStarted = errors.New("event bridge subscriber already started")

// ReconnectParams controls the subscriber reconnect backoff. Retries
// continue for process lifetime; there is no attempt limit.
type ReconnectParams struct {
	// InitialInterval is the first retry delay
	InitialInterval time.Duration
	// MaxInterval caps the retry delay
	MaxInterval time.Duration
}

// EventBridge relays broadcast messages between the shared event channel
// and this process's connection registry
type EventBridge interface {
	// StartSubscriber begin relaying channel messages into the registry.
	// At most one subscriber runs per bridge; a second call while running
	// returns ErrAlreadyStarted. Restart after StopSubscriber is allowed.
	StartSubscriber(ctxt context.Context) error
	// StopSubscriber stop the relay. Idempotent. On return the message
	// loop has fully exited and no further deliveries will occur.
	StopSubscriber() error
	// Publish send a broadcast message onto the shared channel
	Publish(ctxt context.Context, msg BroadcastMessage) error
}

// relayTask one channel message queued for fan-out
type relayTask struct {
	payload []byte
}

// eventBridgeImpl implements EventBridge
type eventBridgeImpl struct {
	common.Component
	source     EventSource
	registry   registry.ConnectionRegistry
	reconnect  ReconnectParams
	taskBuffer int
	lock       sync.Mutex
	started    bool
	loopCancel context.CancelFunc
	loopWG     *sync.WaitGroup
	fanoutTP   common.TaskProcessor
}

// GetNewEventBridgeInstance get instance of EventBridge
func GetNewEventBridgeInstance(
	instance string,
	source EventSource,
	connRegistry registry.ConnectionRegistry,
	reconnect ReconnectParams,
	taskBuffer int,
) (EventBridge, error) {
	logTags := log.Fields{
		"module": "bridge", "component": "event-bridge", "instance": instance,
	}
	return &eventBridgeImpl{
		Component:  common.Component{LogTags: logTags},
		source:     source,
		registry:   connRegistry,
		reconnect:  reconnect,
		taskBuffer: taskBuffer,
	}, nil
}

// StartSubscriber begin relaying channel messages into the registry
func (b *eventBridgeImpl) StartSubscriber(ctxt context.Context) error {
	b.lock.Lock()
	defer b.lock.Unlock()
	if b.started {
		return ErrAlreadyStarted
	}

	loopCtxt, cancel := context.WithCancel(ctxt)
	loopWG := &sync.WaitGroup{}

	// single-goroutine fan-out keeps per-subscription arrival order
	fanoutTP, err := common.GetNewTaskProcessorInstance(
		"bridge-fanout", b.taskBuffer, loopCtxt,
	)
	if err != nil {
		cancel()
		log.WithError(err).WithFields(b.LogTags).Error("Unable to define fan-out task processor")
		return err
	}
	if err := fanoutTP.SetTaskExecutionMap(map[reflect.Type]common.TaskHandler{
		reflect.TypeOf(relayTask{}): b.processRelayTask,
	}); err != nil {
		cancel()
		return err
	}
	if err := fanoutTP.StartEventLoop(loopWG); err != nil {
		cancel()
		log.WithError(err).WithFields(b.LogTags).Error("Failed to start fan-out task processor")
		return err
	}

	loopWG.Add(1)
	go func() {
		defer loopWG.Done()
		b.subscriberLoop(loopCtxt)
	}()

	b.loopCancel = cancel
	b.loopWG = loopWG
	b.fanoutTP = fanoutTP
	b.started = true
	log.WithFields(b.LogTags).Info("Subscriber started")
	return nil
}

// StopSubscriber stop the relay and await full cancellation
func (b *eventBridgeImpl) StopSubscriber() error {
	b.lock.Lock()
	defer b.lock.Unlock()
	if !b.started {
		return nil
	}
	log.WithFields(b.LogTags).Info("Stopping subscriber")
	b.loopCancel()
	_ = b.fanoutTP.StopEventLoop()
	// join before returning so no delivery can follow
	b.loopWG.Wait()
	b.started = false
	log.WithFields(b.LogTags).Info("Subscriber stopped")
	return nil
}

// Publish send a broadcast message onto the shared channel
func (b *eventBridgeImpl) Publish(ctxt context.Context, msg BroadcastMessage) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	serialized, err := json.Marshal(&msg)
	if err != nil {
		return err
	}
	return b.source.Publish(ctxt, serialized)
}

// subscriberLoop run the subscription until the loop context cancels,
// reconnecting with backoff when the channel drops
func (b *eventBridgeImpl) subscriberLoop(ctxt context.Context) {
	defer log.WithFields(b.LogTags).Info("Message loop exiting")
	defer func() {
		closeCtxt, closeCancel := context.WithTimeout(context.Background(), time.Second*5)
		defer closeCancel()
		if err := b.source.Close(closeCtxt); err != nil {
			log.WithError(err).WithFields(b.LogTags).Debug("Subscription close reported failure")
		}
	}()

	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = b.reconnect.InitialInterval
	retry.MaxInterval = b.reconnect.MaxInterval
	// retry for process lifetime
	retry.MaxElapsedTime = 0

	for {
		if ctxt.Err() != nil {
			return
		}
		events, err := b.source.Subscribe(ctxt)
		if err != nil {
			metrics.BridgeReconnects.Inc()
			wait := retry.NextBackOff()
			log.WithError(err).WithFields(b.LogTags).Warnf(
				"Channel subscription failed, retrying in %s", wait,
			)
			select {
			case <-time.After(wait):
				continue
			case <-ctxt.Done():
				return
			}
		}
		retry.Reset()

		// drain the subscription
		subscriptionUp := true
		for subscriptionUp {
			select {
			case <-ctxt.Done():
				return
			case data, ok := <-events:
				if !ok {
					metrics.BridgeReconnects.Inc()
					log.WithFields(b.LogTags).Warn("Channel subscription dropped, resubscribing")
					subscriptionUp = false
					break
				}
				if err := b.fanoutTP.Submit(ctxt, relayTask{payload: data}); err != nil {
					log.WithError(err).WithFields(b.LogTags).Error("Unable to queue message for fan-out")
				}
			}
		}
	}
}

// processRelayTask decode one channel message and fan it out. Malformed
// payloads are logged and skipped; the loop is never torn down over one
// bad message.
func (b *eventBridgeImpl) processRelayTask(param interface{}) error {
	task, ok := param.(relayTask)
	if !ok {
		return fmt.Errorf("unexpected task param type %s", reflect.TypeOf(param))
	}
	msg, err := ParseBroadcastMessage(task.payload)
	if err != nil {
		log.WithError(err).WithFields(b.LogTags).Warn("Skipping malformed channel message")
		return nil
	}

	ctxt := context.Background()
	switch msg.Target.Scope {
	case ScopeAll:
		b.registry.BroadcastAll(ctxt, msg.Payload)
	case ScopeRole:
		role, _ := common.ParseRole(msg.Target.Role)
		b.registry.SendTo(ctxt, role, nil, msg.Payload)
	case ScopeSubject:
		role, _ := common.ParseRole(msg.Target.Role)
		b.registry.SendTo(ctxt, role, msg.Target.SubjectID, msg.Payload)
	}
	metrics.MessagesRelayed.Inc()
	return nil
}
