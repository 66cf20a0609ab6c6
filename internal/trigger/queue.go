package trigger

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Source identifies what asked for a sync pass.
type Source string

const (
	SourceManual       Source = "manual"       // explicit operator action
	SourceTimer        Source = "timer"        // periodic worker timer
	SourceConnectivity Source = "connectivity" // offline→online transition
	SourcePush         Source = "push"         // notification from the authority
)

// Trigger asks the sync worker to run one reconciliation pass.
type Trigger struct {
	Source       Source
	TeacherScope string
}

// Queue carries triggers from the agent to the worker.
type Queue interface {
	Publish(ctx context.Context, t Trigger) error
	Consume(ctx context.Context) (<-chan Trigger, error)
}

// InMemory is a channel-backed queue for single-process deployments.
type InMemory struct {
	ch chan Trigger
}

// NewInMemory creates a bounded in-memory queue.
func NewInMemory(size int) *InMemory {
	return &InMemory{ch: make(chan Trigger, size)}
}

// Publish enqueues a trigger.
func (q *InMemory) Publish(ctx context.Context, t Trigger) error {
	select {
	case q.ch <- t:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume returns the worker's channel of triggers.
func (q *InMemory) Consume(ctx context.Context) (<-chan Trigger, error) {
	out := make(chan Trigger)
	go func() {
		defer close(out)
		for {
			select {
			case t := <-q.ch:
				select {
				case out <- t:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// RedisQueue is a Redis list-backed queue for split agent/worker
// deployments, LPUSH/BRPOP semantics.
type RedisQueue struct {
	client *redis.Client
	key    string
}

// NewRedisQueue builds a queue on the given list key.
func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	if key == "" {
		key = "attendsync:triggers"
	}
	return &RedisQueue{client: client, key: key}
}

// Publish enqueues a trigger.
func (q *RedisQueue) Publish(ctx context.Context, t Trigger) error {
	return q.client.LPush(ctx, q.key, serialize(t)).Err()
}

// Consume streams triggers using BRPOP.
func (q *RedisQueue) Consume(ctx context.Context) (<-chan Trigger, error) {
	out := make(chan Trigger)
	go func() {
		defer close(out)
		for {
			res, err := q.client.BRPop(ctx, 5*time.Second, q.key).Result()
			if err != nil {
				if err == redis.Nil {
					continue
				}
				if ctx.Err() != nil {
					return
				}
				continue
			}
			if len(res) == 2 {
				out <- deserialize(res[1])
			}
		}
	}()
	return out, nil
}

// TimerLoop publishes a timer trigger every interval until ctx is done, so
// backlogs left by transient sync failures drain without operator action.
// scope is evaluated at each tick; the teacher scope can change at login.
func TimerLoop(ctx context.Context, q Queue, interval time.Duration, scope func() string) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t := Trigger{Source: SourceTimer, TeacherScope: scope()}
			if err := q.Publish(ctx, t); err != nil {
				log.Printf("timer trigger publish failed: %v", err)
			}
		}
	}
}

// Triggers travel as "source|teacherScope".
func serialize(t Trigger) string {
	return string(t.Source) + "|" + t.TeacherScope
}

func deserialize(s string) Trigger {
	if i := strings.IndexByte(s, '|'); i >= 0 {
		return Trigger{Source: Source(s[:i]), TeacherScope: s[i+1:]}
	}
	return Trigger{Source: Source(s)}
}
