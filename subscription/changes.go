// Package subscription listens for board records rewritten by other
// processes and pushes the new state to connected clients.
package subscription

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"prism-board/domain"
)

// Refresher reloads a board and broadcasts it to its room.
type Refresher interface {
	Refresh(ctx context.Context, key domain.BoardKey) error
}

// Evicter drops a cached board copy. It may be nil when no cache is configured.
type Evicter interface {
	Evict(ctx context.Context, key domain.BoardKey)
}

// Topics reports how many connections, joined or stream-only, watch a board.
type Topics interface {
	Subscribers(key domain.BoardKey) int
}

// SubscribeChanges consumes {"projectId","boardName"} notifications from
// channel until ctx is done. A closed pub/sub channel is reopened after a
// short pause.
func SubscribeChanges(
	ctx context.Context,
	logger *log.Logger,
	rc *redis.Client,
	channel string,
	cache Evicter,
	topics Topics,
	refresher Refresher,
) {
	for {
		sub := rc.Subscribe(ctx, channel)
		ch := sub.Channel()
	recv:
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break recv
				}
				handleChange(ctx, logger, msg.Payload, cache, topics, refresher)
			}
		}
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		logger.Error("board change subscription closed, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

func handleChange(ctx context.Context, logger *log.Logger, payload string, cache Evicter, topics Topics, refresher Refresher) {
	var key domain.BoardKey
	if err := sonic.UnmarshalString(payload, &key); err != nil {
		logger.WithError(err).Warn("unable to parse board change")
		return
	}
	key, err := domain.NewBoardKey(key.ProjectID, key.BoardName)
	if err != nil {
		logger.WithError(err).Warn("board change names an invalid board")
		return
	}
	if cache != nil {
		cache.Evict(ctx, key)
	}
	if topics.Subscribers(key) == 0 {
		return
	}
	if err := refresher.Refresh(ctx, key); err != nil {
		logger.WithError(err).WithField("board", key.String()).Error("refresh board after change")
	}
}
