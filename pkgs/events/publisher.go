package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// DefaultChannelPrefix is the Redis channel namespace for forwarded events.
const DefaultChannelPrefix = "bounty:events"

// publishTimeout bounds a single Redis publish so a stalled connection
// cannot back up the emitter's worker pool.
const publishTimeout = 2 * time.Second

// RedisPublisher is the slice of go-redis the publisher needs.
type RedisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// Publisher forwards emitted events to Redis pub/sub so other processes
// (a browser bridge, a second agent against the same escrow) can react
// without polling. Events are grouped into per-concern channels under the
// prefix; a failed publish is logged and dropped, never retried.
type Publisher struct {
	rdb    RedisPublisher
	prefix string
}

// NewPublisher creates a Publisher. An empty prefix uses the default.
func NewPublisher(rdb RedisPublisher, prefix string) *Publisher {
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}
	return &Publisher{rdb: rdb, prefix: prefix}
}

// Subscriber wraps the publisher as an emitter subscriber.
func (p *Publisher) Subscriber() *Subscriber {
	return &Subscriber{ID: "redis-publisher", Handler: p.Handle}
}

// Handle serializes one event and publishes it on its channel.
func (p *Publisher) Handle(event *Event) {
	data, err := json.Marshal(event)
	if err != nil {
		log.WithError(err).WithField("type", event.Type).Warn("Failed to encode event for Redis")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	channel := p.ChannelFor(event.Type)
	if err := p.rdb.Publish(ctx, channel, data).Err(); err != nil {
		log.WithError(err).WithFields(log.Fields{
			"type":    event.Type,
			"channel": channel,
		}).Warn("Failed to publish event to Redis")
	}
}

// ChannelFor maps an event type to its Redis channel.
func (p *Publisher) ChannelFor(eventType EventType) string {
	var group string
	switch eventType {
	case EventWalletApprovalRequested, EventWalletApproved, EventWalletRejected:
		group = "wallet"
	case EventTxSubmitted, EventTxConfirmed, EventTxFailed:
		group = "tx"
	case EventSubmissionPrepared, EventWorkSubmitted, EventSubmissionFinalized,
		EventSubmissionFailed, EventSubmissionCancelled:
		group = "submission"
	case EventEvaluationReady:
		group = "evaluation"
	case EventBountyCreated, EventBountyClosed:
		group = "bounty"
	case EventJobViewChanged:
		group = "job"
	case EventArchivePinned:
		group = "storage"
	default:
		group = "system"
	}
	return fmt.Sprintf("%s:%s", p.prefix, group)
}
