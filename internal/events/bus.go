// Package events provides the in-process fan-out of task lifecycle events
// to realtime subscribers.
package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/distconv/distconv/internal/models"
)

// Lifecycle event names published on the bus.
const (
	EventTaskCreated   = "task_created"
	EventTaskUpdated   = "task_updated"
	EventTaskCompleted = "task_completed"
	EventTaskFailed    = "task_failed"
)

// TopicTasksRoom is the firehose topic carrying every lifecycle event.
const TopicTasksRoom = "tasks_room"

// TopicTask returns the per-task topic name.
func TopicTask(taskUUID string) string {
	return "task:" + taskUUID
}

// Descriptor is the task payload pushed to subscribers.
type Descriptor struct {
	TaskID           string     `json:"task_id"`
	VideoPath        string     `json:"video_path"`
	DestPath         string     `json:"dest_path,omitempty"`
	WorkerID         string     `json:"worker_id"`
	WorkerName       string     `json:"worker_name"`
	Progress         float64    `json:"progress"`
	Status           int        `json:"status"`
	ErrorMessage     string     `json:"error_message,omitempty"`
	ElapsedSeconds   int        `json:"elapsed_time"`
	RemainingSeconds *int       `json:"remaining_time"`
	StartTime        *time.Time `json:"start_time,omitempty"`
	EndTime          *time.Time `json:"end_time,omitempty"`
}

// DescriptorFromTask builds the wire payload for a task.
func DescriptorFromTask(task *models.Task) Descriptor {
	return Descriptor{
		TaskID:           task.TaskUUID,
		VideoPath:        task.SourcePath,
		DestPath:         task.DestPath,
		WorkerID:         task.WorkerID.String(),
		WorkerName:       task.WorkerName,
		Progress:         task.Progress,
		Status:           int(task.Status),
		ErrorMessage:     task.ErrorMessage,
		ElapsedSeconds:   task.ElapsedSeconds,
		RemainingSeconds: task.RemainingSeconds,
		StartTime:        task.StartTime,
		EndTime:          task.EndTime,
	}
}

// Event is one lifecycle notification.
type Event struct {
	Name string     `json:"event"`
	Task Descriptor `json:"payload"`
}

// subscriberBuffer bounds how many undelivered events a subscriber may hold
// before the bus starts dropping on it. Delivery is at-most-once; laggards
// recover by polling the task endpoint.
const subscriberBuffer = 16

// Subscription is one subscriber's attachment to a topic.
type Subscription struct {
	bus   *Bus
	topic string
	ch    chan Event
	once  sync.Once
}

// C returns the channel events are delivered on.
func (s *Subscription) C() <-chan Event {
	return s.ch
}

// Close detaches the subscription and closes its channel.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.unsubscribe(s)
		close(s.ch)
	})
}

// Bus fans events out to topic subscribers. Publishing never blocks: a
// subscriber with a full buffer loses the event.
type Bus struct {
	mu     sync.RWMutex
	topics map[string]map[*Subscription]struct{}
	logger *slog.Logger
}

// NewBus creates an event bus.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		topics: make(map[string]map[*Subscription]struct{}),
		logger: logger,
	}
}

// Subscribe attaches a new subscriber to the topic.
func (b *Bus) Subscribe(topic string) *Subscription {
	sub := &Subscription{
		bus:   b,
		topic: topic,
		ch:    make(chan Event, subscriberBuffer),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	subs, ok := b.topics[topic]
	if !ok {
		subs = make(map[*Subscription]struct{})
		b.topics[topic] = subs
	}
	subs[sub] = struct{}{}
	return sub
}

// unsubscribe detaches a subscription from its topic.
func (b *Bus) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if subs, ok := b.topics[sub.topic]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(b.topics, sub.topic)
		}
	}
}

// Publish delivers the event to every subscriber of the topic. The
// subscriber set is snapshotted under the lock; sends happen outside it so
// a dead subscriber cannot block others.
func (b *Bus) Publish(topic string, event Event) {
	b.mu.RLock()
	subs := make([]*Subscription, 0, len(b.topics[topic]))
	for sub := range b.topics[topic] {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		select {
		case sub.ch <- event:
		default:
			b.logger.Debug("dropping event for slow subscriber",
				slog.String("topic", topic),
				slog.String("event", event.Name),
			)
		}
	}
}

// PublishTask emits the event on the task's own topic and the firehose.
func (b *Bus) PublishTask(name string, task *models.Task) {
	event := Event{Name: name, Task: DescriptorFromTask(task)}
	b.Publish(TopicTask(task.TaskUUID), event)
	b.Publish(TopicTasksRoom, event)
}
