package notify

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"sai/internal/ledger"
)

const (
	pointsChannelPrefix = "points_ch@"
	leaderboardChannel  = "leaderboard_ch"
)

func PointsChannel(identityId string) string {
	return pointsChannelPrefix + identityId
}

type message struct {
	channel string
	payload []byte
}

// RedisBridge publishes ledger updates to redis and delivers what it receives to the
// local hub, so each replica reaches its own websocket sessions. Publishing goes through
// a bounded queue and never blocks the caller.
type RedisBridge struct {
	rdb   *redis.Client
	hub   *Hub
	queue chan message
	drops DropCounter
	log   zerolog.Logger
}

var _ ledger.Notifier = (*RedisBridge)(nil)

func NewRedisBridge(rdb *redis.Client, hub *Hub, queueSize int, drops DropCounter, log zerolog.Logger) *RedisBridge {
	if queueSize <= 0 {
		queueSize = 1024
	}
	return &RedisBridge{
		rdb:   rdb,
		hub:   hub,
		queue: make(chan message, queueSize),
		drops: drops,
		log:   log.With().Str("component", "redis_bridge").Logger(),
	}
}

func (b *RedisBridge) enqueue(channel string, payload []byte) {
	select {
	case b.queue <- message{channel: channel, payload: payload}:
	default:
		if b.drops != nil {
			b.drops.IncPushDropped()
		}
		b.log.Warn().Str("channel", channel).Msg("publish queue full, dropping message")
	}
}

func (b *RedisBridge) SendSnapshot(identityId string, snap ledger.Snapshot) {
	payload, err := EncodeSnapshot(snap)
	if err != nil {
		b.log.Error().Err(err).Msg("encode snapshot")
		return
	}
	b.enqueue(PointsChannel(identityId), payload)
}

func (b *RedisBridge) BroadcastLeaderboard(delta ledger.LeaderboardDelta) {
	payload, err := EncodeLeaderboard(delta)
	if err != nil {
		b.log.Error().Err(err).Msg("encode leaderboard delta")
		return
	}
	b.enqueue(leaderboardChannel, payload)
}

// Run publishes queued messages and forwards subscribed ones until ctx is done.
func (b *RedisBridge) Run(ctx context.Context) error {
	pubsub := b.rdb.PSubscribe(ctx, pointsChannelPrefix+"*", leaderboardChannel)
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}
	b.log.Info().Msg("redis bridge subscribed")

	go b.publishLoop(ctx)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			b.route(msg.Channel, []byte(msg.Payload))
		}
	}
}

func (b *RedisBridge) route(channel string, payload []byte) {
	if channel == leaderboardChannel {
		b.hub.DeliverAll(payload)
		return
	}
	if id, ok := strings.CutPrefix(channel, pointsChannelPrefix); ok {
		b.hub.Deliver(id, payload)
	}
}

func (b *RedisBridge) publishLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-b.queue:
			pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			if err := b.rdb.Publish(pctx, m.channel, m.payload).Err(); err != nil {
				b.log.Error().Err(err).Str("channel", m.channel).Msg("publish")
			}
			cancel()
		}
	}
}
