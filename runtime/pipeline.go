package runtime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"agora/broker"
	"agora/contract"
	"agora/domain/event"
	"agora/observability"
)

// Pipeline is the per-process event delivery pipeline. It holds one
// broker subscription per topic with local consumers, reference counted
// across sessions, and fans received events out to the registry's sinks
// in broker order. A lost subscription degrades the topic: the pipeline
// resubscribes with bounded backoff and asks affected sessions to run
// catch-up before live delivery resumes.
type Pipeline struct {
	log         *slog.Logger
	broker      contract.Broker
	registry    contract.IRegistry
	monitor     *observability.Monitor
	sinkTimeout time.Duration
	backoff     time.Duration
	backoffMax  time.Duration

	mu     sync.Mutex
	ctx    context.Context
	ready  chan struct{}
	topics map[string]*topicState
	wg     sync.WaitGroup
}

type topicState struct {
	refs   int
	cancel context.CancelFunc
}

func NewPipeline(log *slog.Logger, b contract.Broker, registry contract.IRegistry,
	monitor *observability.Monitor, sinkTimeout, backoff, backoffMax time.Duration) *Pipeline {
	return &Pipeline{
		log:         log,
		broker:      b,
		registry:    registry,
		monitor:     monitor,
		sinkTimeout: sinkTimeout,
		backoff:     backoff,
		backoffMax:  backoffMax,
		ready:       make(chan struct{}),
		topics:      make(map[string]*topicState),
	}
}

// Run anchors every topic consumer to the supervisor's context and
// blocks until shutdown.
func (p *Pipeline) Run(ctx context.Context) error {
	p.mu.Lock()
	if p.ctx == nil {
		p.ctx = ctx
		close(p.ready)
	}
	p.mu.Unlock()

	<-ctx.Done()
	p.wg.Wait()
	return nil
}

// AcquireChat ensures a live subscription on the chat's topic.
// Must be balanced with ReleaseChat.
func (p *Pipeline) AcquireChat(chatID uuid.UUID) {
	p.acquire(broker.ChatTopic(chatID),
		func(e event.DomainEvent) {
			p.fan(p.registry.SinksForChat(chatID), e)
		},
		func() {
			for _, sink := range p.registry.SinksForChat(chatID) {
				if r, ok := sink.(contract.Resyncer); ok {
					r.Resync(chatID)
				}
			}
		})
	p.monitor.ChatTopics.Store(int64(p.topicCount()))
}

func (p *Pipeline) ReleaseChat(chatID uuid.UUID) {
	p.release(broker.ChatTopic(chatID))
	p.monitor.ChatTopics.Store(int64(p.topicCount()))
}

// AcquireAgent subscribes the agent's notification topic, which carries
// events for chats the agent's sessions are not yet subscribed to.
func (p *Pipeline) AcquireAgent(agentID uuid.UUID) {
	p.acquire(broker.AgentTopic(agentID),
		func(e event.DomainEvent) {
			p.fan(p.registry.SinksForAgent(agentID), e)
		},
		nil)
}

func (p *Pipeline) ReleaseAgent(agentID uuid.UUID) {
	p.release(broker.AgentTopic(agentID))
}

func (p *Pipeline) acquire(topic string, fan func(event.DomainEvent), resync func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if st, ok := p.topics[topic]; ok {
		st.refs++
		return
	}
	st := &topicState{refs: 1}
	p.topics[topic] = st
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		<-p.ready
		ctx, cancel := context.WithCancel(p.ctx)
		p.mu.Lock()
		if p.topics[topic] != st {
			// Released before the pipeline even started.
			p.mu.Unlock()
			cancel()
			return
		}
		st.cancel = cancel
		p.mu.Unlock()
		p.consume(ctx, topic, fan, resync)
	}()
}

func (p *Pipeline) release(topic string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.topics[topic]
	if !ok {
		return
	}
	st.refs--
	if st.refs > 0 {
		return
	}
	delete(p.topics, topic)
	if st.cancel != nil {
		st.cancel()
	}
}

func (p *Pipeline) topicCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.topics)
}

// consume keeps one topic alive: subscribe, pump events, and on loss
// resubscribe with exponential backoff. After a restored subscription
// the affected sessions are told to resync, because events may have
// been published while the topic was dark.
func (p *Pipeline) consume(ctx context.Context, topic string,
	fan func(event.DomainEvent), resync func()) {

	backoff := p.backoff
	healthy := true
	for {
		if ctx.Err() != nil {
			return
		}
		sub, err := p.broker.Subscribe(ctx, topic)
		if err != nil {
			p.log.Warn("broker subscribe failed, backing off",
				"topic", topic, "backoff", backoff, "error", err)
			healthy = false
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, p.backoffMax)
			continue
		}
		backoff = p.backoff

		if !healthy {
			p.log.Info("broker subscription restored, requesting resync", "topic", topic)
			if resync != nil {
				resync()
			}
			healthy = true
		}

		for e := range sub.Events() {
			fan(e)
		}
		_ = sub.Close()
		if ctx.Err() == nil {
			p.log.Warn("broker subscription lost, topic degraded", "topic", topic)
			healthy = false
		}
	}
}

func (p *Pipeline) fan(sinks []contract.EventSink, e event.DomainEvent) {
	if len(sinks) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(p.ctx, p.sinkTimeout)
	defer cancel()
	for _, sink := range sinks {
		if err := sink.Consume(ctx, e); err != nil {
			p.log.Debug("sink rejected event", "kind", e.Kind(), "error", err)
			continue
		}
		p.monitor.Delivered.Add(1)
	}
}
