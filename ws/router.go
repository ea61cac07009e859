package ws

import (
	"context"
	"log"

	"github.com/redis/go-redis/v9"
)

// Router fans an event out to every live connection joined to a group.
// With redis configured, publishes go through redis pub/sub so
// subscribers on other processes see them; without it, delivery is
// process-local only.
type Router struct {
	registry *Registry
	rdb      *redis.Client
}

func NewRouter(registry *Registry, rdb *redis.Client) *Router {
	return &Router{registry: registry, rdb: rdb}
}

// Run consumes the redis subscription and delivers remote publishes to
// local group members. No-op without redis. Blocks until ctx is done.
func (r *Router) Run(ctx context.Context) {
	if r.rdb == nil {
		return
	}

	sub := r.rdb.PSubscribe(ctx, "chat.*", "presence.*")
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			r.deliverLocal(msg.Channel, []byte(msg.Payload))
		}
	}
}

// Publish delivers env to every member of group. Delivery is at-most-once
// per currently-joined member; connections that join after the publish or
// left before it are out of scope, history is served by the message store.
func (r *Router) Publish(ctx context.Context, group string, env OutEnvelope) {
	r.PublishRaw(ctx, group, marshalEnvelope(env))
}

// PublishRaw delivers a pre-marshaled frame. Presence updates use this
// since they are not enveloped.
func (r *Router) PublishRaw(ctx context.Context, group string, data []byte) {
	if r.rdb != nil {
		err := r.rdb.Publish(ctx, group, data).Err()
		if err == nil {
			// Local members receive it via the subscription like every
			// other process, keeping a single delivery path.
			return
		}
		log.Printf("Redis publish to %s failed, delivering locally: %v", group, err)
	}
	r.deliverLocal(group, data)
}

// deliverLocal enqueues the frame on each member's bounded send queue. A
// member that cannot keep up is disconnected rather than allowed to block
// delivery to the rest or grow memory without bound.
func (r *Router) deliverLocal(group string, data []byte) {
	for _, c := range r.registry.Members(group) {
		if !c.enqueue(data) {
			log.Printf("Client %s too slow on group %s, disconnecting", c.Describe(), group)
			c.Close()
		}
	}
}
