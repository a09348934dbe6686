package contract

import (
	"context"
	"reflect"

	"github.com/google/uuid"

	"agora/domain/event"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

type WorkerName string

// Worker doesn't protect itself.
// Supervision, restarts, and panic recovery live in the supervisor.
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes during worker
// lifecycle events, avoiding manual naming in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// EventSink receives fanned-out events. Implementations must not block
// longer than the context allows; a slow sink is the sink's problem.
type EventSink interface {
	Consume(ctx context.Context, e event.DomainEvent) error
}

// Resyncer is implemented by sinks that can replay a gap after a lost
// broker subscription. The pipeline calls it once resubscription succeeds.
type Resyncer interface {
	Resync(chatID uuid.UUID)
}

// Broker decouples message dispatch from delivery across processes.
// Publish happens strictly after commit; per-topic order is preserved.
type Broker interface {
	Publish(ctx context.Context, topic string, e event.DomainEvent) error
	Subscribe(ctx context.Context, topic string) (Subscription, error)
}

type Subscription interface {
	// Events is closed when the subscription dies; the consumer decides
	// whether to resubscribe.
	Events() <-chan event.DomainEvent
	Close() error
}

// IRegistry tracks live sessions, their agents, and chat subscriptions.
type IRegistry interface {
	Register(sessionID string, agentID uuid.UUID, sink EventSink)
	Drop(sessionID string) (chats []uuid.UUID)
	SubscribeChat(sessionID string, chatID uuid.UUID)
	UnsubscribeChat(sessionID string, chatID uuid.UUID)
	SinksForChat(chatID uuid.UUID) []EventSink
	SinksForAgent(agentID uuid.UUID) []EventSink
}
