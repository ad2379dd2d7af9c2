// Package rabbitmq implements the Append/Watch/Ack trio of the C6
// Replication Log (spec.md §4.6) atop two durable fanout exchanges: one
// carrying commands from the leader to every follower's bound queue in
// publish order (realizing the log's total order), the other carrying
// followers' Acks back to whichever replica currently holds leadership
// for quorum accounting. Leader-side exclusivity (the "at most one
// replica may append" guarantee) is enforced by the caller consulting a
// redislock.Elector before calling Append, not by RabbitMQ itself.
package rabbitmq

import (
	"context"
	"encoding/json"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/go-dogma/dogma/internal/dogmaerr"
)

const (
	exchangeName    = "dogma.replication"
	ackExchangeName = "dogma.replication.acks"
)

// Entry is one logged command, as delivered to a follower by Watch.
type Entry struct {
	Index   int64
	Command json.RawMessage
}

// Ack is one follower's acknowledgement that it has applied the command
// at Index. Acks are broadcast fanout-style like commands; only whichever
// replica currently holds leadership is consuming them for quorum
// accounting (spec.md §4.6).
type Ack struct {
	ReplicaID string
	Index     int64
}

// Log is a connection to the replication exchange.
type Log struct {
	conn      *amqp.Connection
	channel   *amqp.Channel
	replicaID string
	queue     string // this replica's bound queue name
	ackQueue  string // this replica's bound ack queue name
	nextIdx   int64  // leader-local monotonic index counter
}

// Dial connects to RabbitMQ, declares both durable fanout exchanges, and
// binds this replica's durable command queue and ack queue.
func Dial(url, replicaID string) (*Log, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, dogmaerr.Wrap(dogmaerr.KindReplicationError, err, "dial rabbitmq")
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, dogmaerr.Wrap(dogmaerr.KindReplicationError, err, "open rabbitmq channel")
	}

	if err := ch.ExchangeDeclare(exchangeName, "fanout", true, false, false, false, nil); err != nil {
		return nil, dogmaerr.Wrap(dogmaerr.KindReplicationError, err, "declare replication exchange")
	}

	if err := ch.ExchangeDeclare(ackExchangeName, "fanout", true, false, false, false, nil); err != nil {
		return nil, dogmaerr.Wrap(dogmaerr.KindReplicationError, err, "declare replication ack exchange")
	}

	queueName := "dogma.replication." + replicaID

	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		return nil, dogmaerr.Wrap(dogmaerr.KindReplicationError, err, "declare replica queue %s", queueName)
	}

	if err := ch.QueueBind(queueName, "", exchangeName, false, nil); err != nil {
		return nil, dogmaerr.Wrap(dogmaerr.KindReplicationError, err, "bind replica queue %s", queueName)
	}

	ackQueueName := "dogma.replication.acks." + replicaID

	if _, err := ch.QueueDeclare(ackQueueName, true, false, false, false, nil); err != nil {
		return nil, dogmaerr.Wrap(dogmaerr.KindReplicationError, err, "declare replica ack queue %s", ackQueueName)
	}

	if err := ch.QueueBind(ackQueueName, "", ackExchangeName, false, nil); err != nil {
		return nil, dogmaerr.Wrap(dogmaerr.KindReplicationError, err, "bind replica ack queue %s", ackQueueName)
	}

	return &Log{conn: conn, channel: ch, replicaID: replicaID, queue: queueName, ackQueue: ackQueueName}, nil
}

// Close tears down the channel and connection.
func (l *Log) Close() error {
	_ = l.channel.Close()
	return l.conn.Close()
}

// Append publishes command to the log and returns its assigned index.
// Callers MUST only invoke this while holding leadership (spec.md §4.6).
func (l *Log) Append(ctx context.Context, command json.RawMessage) (int64, error) {
	l.nextIdx++
	idx := l.nextIdx

	headers := amqp.Table{"x-dogma-index": idx}

	err := l.channel.PublishWithContext(ctx, exchangeName, "", false, false, amqp.Publishing{
		ContentType: "application/json",
		Headers:     headers,
		Body:        command,
		DeliveryMode: amqp.Persistent,
	})
	if err != nil {
		return 0, dogmaerr.Wrap(dogmaerr.KindReplicationError, err, "publish command at index %d", idx)
	}

	return idx, nil
}

// ReplicaID returns the ID this Log was dialed with.
func (l *Log) ReplicaID() string { return l.replicaID }

// SeedIndex sets the leader-local index counter, used when a replica
// that was previously a follower is promoted and must continue
// numbering from where the log left off.
func (l *Log) SeedIndex(lastIndex int64) {
	l.nextIdx = lastIndex
}

// Watch streams every entry with Index >= fromIndex to the returned
// channel until ctx is cancelled, for follower replay (spec.md §4.6's
// "Replay idempotence": callers must track the last-applied index
// themselves and discard duplicates below fromIndex defensively).
func (l *Log) Watch(ctx context.Context, fromIndex int64) (<-chan Entry, error) {
	deliveries, err := l.channel.ConsumeWithContext(ctx, l.queue, "", false, false, false, false, nil)
	if err != nil {
		return nil, dogmaerr.Wrap(dogmaerr.KindReplicationError, err, "consume replica queue %s", l.queue)
	}

	out := make(chan Entry)

	go func() {
		defer close(out)

		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}

				idx := indexOf(d)
				if idx < fromIndex {
					_ = d.Ack(false)
					continue
				}

				select {
				case out <- Entry{Index: idx, Command: json.RawMessage(d.Body)}:
					_ = d.Ack(false)
				case <-ctx.Done():
					_ = d.Nack(false, true)
					return
				}
			}
		}
	}()

	return out, nil
}

// Ack broadcasts that this replica has applied the command at index.
func (l *Log) Ack(ctx context.Context, index int64) error {
	body, err := json.Marshal(Ack{ReplicaID: l.replicaID, Index: index})
	if err != nil {
		return dogmaerr.Wrap(dogmaerr.KindReplicationError, err, "encode ack for index %d", index)
	}

	err = l.channel.PublishWithContext(ctx, ackExchangeName, "", false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
	if err != nil {
		return dogmaerr.Wrap(dogmaerr.KindReplicationError, err, "publish ack for index %d", index)
	}

	return nil
}

// WatchAcks streams every broadcast Ack until ctx is cancelled, for the
// current leader's quorum accounting.
func (l *Log) WatchAcks(ctx context.Context) (<-chan Ack, error) {
	deliveries, err := l.channel.ConsumeWithContext(ctx, l.ackQueue, "", false, false, false, false, nil)
	if err != nil {
		return nil, dogmaerr.Wrap(dogmaerr.KindReplicationError, err, "consume replica ack queue %s", l.ackQueue)
	}

	out := make(chan Ack)

	go func() {
		defer close(out)

		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}

				var a Ack
				if err := json.Unmarshal(d.Body, &a); err != nil {
					_ = d.Nack(false, false)
					continue
				}

				select {
				case out <- a:
					_ = d.Ack(false)
				case <-ctx.Done():
					_ = d.Nack(false, true)
					return
				}
			}
		}
	}()

	return out, nil
}

func indexOf(d amqp.Delivery) int64 {
	raw, ok := d.Headers["x-dogma-index"]
	if !ok {
		return 0
	}

	switch v := raw.(type) {
	case int64:
		return v
	case int32:
		return int64(v)
	case int:
		return int64(v)
	default:
		return 0
	}
}
