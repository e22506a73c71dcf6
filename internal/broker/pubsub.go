// Package broker is the cross-instance fan-out layer (spec §5): every hub
// process publishes the updates and awareness it accepts locally onto a
// shared Redis channel and relays whatever other processes publish back
// into its own rooms. It carries no authoritative state of its own — the
// per-process Replica Registry stays the single source of truth for any
// join *that process* accepts, and CRDT commutativity makes the relay
// safe to apply redundantly.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/go-redis/redis/v8"
)

// Broker publishes and relays hub traffic across process instances.
type Broker struct {
	client     *redis.Client
	ctx        context.Context
	cancel     context.CancelFunc
	subs       map[string]*redis.PubSub
	subsMu     sync.RWMutex
	handlers   map[string][]Handler
	handlersMu sync.RWMutex
}

// Handler receives a relayed message for a channel. msg.Origin identifies the
// publishing process so a subscriber can ignore its own echoes if it
// chooses to publish and subscribe on the same channel.
type Handler func(channel string, msg *Envelope)

// Envelope is the wire format carried over a broker channel. Payload
// carries the same binary CRDT/awareness frame the hub exchanges with
// clients (spec §9's binary-frames choice) so a relaying process can
// forward it verbatim without re-encoding.
type Envelope struct {
	Type    string `json:"type"`
	Origin  string `json:"origin"`
	Payload []byte `json:"payload"`
}

// New connects to Redis at url (falling back to a local default when url
// is empty) and returns a Broker ready to Subscribe/Publish.
func New(ctx context.Context, url string) (*Broker, error) {
	if url == "" {
		url = "redis://localhost:6379"
	}

	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("broker: parsing redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("broker: connecting to redis: %w", err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	return &Broker{
		client:   client,
		ctx:      subCtx,
		cancel:   cancel,
		subs:     make(map[string]*redis.PubSub),
		handlers: make(map[string][]Handler),
	}, nil
}

// Close tears down every subscription and the underlying client.
func (b *Broker) Close() error {
	b.cancel()

	b.subsMu.Lock()
	for _, sub := range b.subs {
		sub.Close()
	}
	b.subsMu.Unlock()

	return b.client.Close()
}

// Subscribe registers handler for channel, opening the underlying Redis
// subscription the first time a channel gains a handler.
func (b *Broker) Subscribe(channel string, handler Handler) error {
	b.subsMu.Lock()
	defer b.subsMu.Unlock()

	b.handlersMu.Lock()
	b.handlers[channel] = append(b.handlers[channel], handler)
	b.handlersMu.Unlock()

	if _, exists := b.subs[channel]; exists {
		return nil
	}

	sub := b.client.Subscribe(b.ctx, channel)
	b.subs[channel] = sub
	go b.listen(channel, sub)

	return nil
}

// Unsubscribe drops every handler and the underlying subscription for channel.
func (b *Broker) Unsubscribe(channel string) error {
	b.subsMu.Lock()
	defer b.subsMu.Unlock()

	if sub, exists := b.subs[channel]; exists {
		sub.Close()
		delete(b.subs, channel)
	}

	b.handlersMu.Lock()
	delete(b.handlers, channel)
	b.handlersMu.Unlock()

	return nil
}

// Publish relays an envelope to every process subscribed to channel.
func (b *Broker) Publish(channel string, msg *Envelope) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return b.client.Publish(b.ctx, channel, data).Err()
}

func (b *Broker) listen(channel string, sub *redis.PubSub) {
	ch := sub.Channel()

	for {
		select {
		case <-b.ctx.Done():
			return
		case m, ok := <-ch:
			if !ok {
				return
			}

			var env Envelope
			if err := json.Unmarshal([]byte(m.Payload), &env); err != nil {
				continue
			}

			b.handlersMu.RLock()
			handlers := b.handlers[channel]
			b.handlersMu.RUnlock()

			for _, handler := range handlers {
				go handler(channel, &env)
			}
		}
	}
}

// DocumentChannel returns the fan-out channel name for a document's room.
func DocumentChannel(documentID string) string {
	return fmt.Sprintf("doc:%s", documentID)
}
