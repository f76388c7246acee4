// Package redisfeed implements feed.Feed on a Redis Stream so that processes
// on different hosts observe one session sequence.
//
// Every subscription reads the stream with its own cursor (plain XREAD, no
// consumer group), pinned at the stream's last entry when Subscribe is called.
// Closing the feed appends an end marker; each subscription stops when it
// reads it.
package redisfeed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/TheusHen/Rotor/rotor/feed"
	"github.com/TheusHen/Rotor/rotor/session"
)

const (
	fieldSession = "session"
	fieldEnd     = "end"

	defaultKeyPrefix = "rotor:feed:"
	defaultStream    = "sessions"
	defaultBlock     = time.Second
	closeTimeout     = 5 * time.Second
)

// Config contains configuration options for the Redis feed.
type Config struct {
	// Client is the Redis client to use. If nil, a client for localhost:6379
	// is created and closed with the feed.
	Client redis.UniversalClient
	// KeyPrefix is prepended to the stream key. Defaults to "rotor:feed:".
	KeyPrefix string
	// Stream names the session stream. Defaults to "sessions".
	Stream string
	// Block bounds each XREAD so cancellation is noticed. Defaults to 1s.
	Block time.Duration
	// Logger receives read failures. Defaults to discarding.
	Logger *slog.Logger
}

// Feed is a Redis Streams backed feed.Feed.
type Feed struct {
	client     redis.UniversalClient
	ownsClient bool
	key        string
	block      time.Duration
	log        *slog.Logger

	mu      sync.Mutex
	closed  bool
	readers sync.WaitGroup
	stop    context.Context
	stopAll context.CancelFunc
}

func New(cfg Config) *Feed {
	f := &Feed{
		client: cfg.Client,
		key:    cfg.KeyPrefix,
		block:  cfg.Block,
		log:    cfg.Logger,
	}
	f.stop, f.stopAll = context.WithCancel(context.Background())
	if f.client == nil {
		f.client = redis.NewClient(&redis.Options{Addr: "localhost:6379"})
		f.ownsClient = true
	}
	if f.key == "" {
		f.key = defaultKeyPrefix
	}
	stream := cfg.Stream
	if stream == "" {
		stream = defaultStream
	}
	f.key += "stream:" + stream
	if f.block <= 0 {
		f.block = defaultBlock
	}
	if f.log == nil {
		f.log = slog.New(slog.DiscardHandler)
	}
	return f
}

// Key returns the Redis key of the session stream.
func (f *Feed) Key() string { return f.key }

func (f *Feed) Publish(ctx context.Context, s session.Session) error {
	if f.isClosed() {
		return feed.ErrClosed
	}
	data, err := s.MarshalBinary()
	if err != nil {
		return err
	}
	err = f.client.XAdd(ctx, &redis.XAddArgs{
		Stream: f.key,
		Values: map[string]any{fieldSession: data},
	}).Err()
	if err != nil {
		return fmt.Errorf("redisfeed: publish to %s: %w", f.key, err)
	}
	return nil
}

// Subscribe starts a cursor at the stream's current tail. ctx bounds the
// lifetime of the subscription.
func (f *Feed) Subscribe(ctx context.Context) (feed.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, feed.ErrClosed
	}

	cursor, ended, err := f.tail(ctx)
	if err != nil {
		return nil, err
	}
	if ended {
		return nil, feed.ErrClosed
	}

	subCtx, cancel := context.WithCancel(ctx)
	context.AfterFunc(f.stop, cancel)
	p := feed.NewPipe(cancel)
	f.readers.Add(1)
	go f.read(subCtx, p, cursor)
	return p, nil
}

// Close appends the end marker, waits for local subscriptions to reach it and
// releases the client if the feed created it.
func (f *Feed) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	f.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	err := f.client.XAdd(ctx, &redis.XAddArgs{
		Stream: f.key,
		Values: map[string]any{fieldEnd: 1},
	}).Err()
	if err != nil {
		err = fmt.Errorf("redisfeed: close %s: %w", f.key, err)
	}

	done := make(chan struct{})
	go func() {
		f.readers.Wait()
		close(done)
	}()
	if err != nil {
		// Readers will never see the marker.
		f.stopAll()
	}
	select {
	case <-done:
	case <-time.After(closeTimeout):
		f.stopAll()
		<-done
	}
	f.stopAll()

	if f.ownsClient {
		err = errors.Join(err, f.client.Close())
	}
	return err
}

// Cleanup deletes the session stream.
func (f *Feed) Cleanup(ctx context.Context) error {
	if err := f.client.Del(ctx, f.key).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redisfeed: cleanup %s: %w", f.key, err)
	}
	return nil
}

func (f *Feed) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// tail returns the ID of the last entry, "0-0" for an empty stream, and
// whether that entry is the end marker.
func (f *Feed) tail(ctx context.Context) (string, bool, error) {
	msgs, err := f.client.XRevRangeN(ctx, f.key, "+", "-", 1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", false, fmt.Errorf("redisfeed: read tail of %s: %w", f.key, err)
	}
	if len(msgs) == 0 {
		return "0-0", false, nil
	}
	_, ended := msgs[0].Values[fieldEnd]
	return msgs[0].ID, ended, nil
}

func (f *Feed) read(ctx context.Context, p *feed.Pipe, cursor string) {
	defer f.readers.Done()
	defer p.End()

	log := f.log.With(slog.String("subscription", p.ID().String()), slog.String("stream", f.key))
	for {
		if ctx.Err() != nil {
			return
		}

		streams, err := f.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{f.key, cursor},
			Count:   16,
			Block:   f.block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			log.Warn("redisfeed: read failed, retrying", slog.Any("err", err))
			select {
			case <-time.After(f.block):
			case <-ctx.Done():
				return
			}
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				cursor = msg.ID
				if _, ok := msg.Values[fieldEnd]; ok {
					return
				}
				raw, ok := msg.Values[fieldSession].(string)
				if !ok {
					log.Warn("redisfeed: skipping malformed entry", slog.String("id", msg.ID))
					continue
				}
				var s session.Session
				if err := s.UnmarshalBinary([]byte(raw)); err != nil {
					log.Warn("redisfeed: skipping undecodable session", slog.String("id", msg.ID), slog.Any("err", err))
					continue
				}
				if !p.Push(s) {
					return
				}
			}
		}
	}
}

var _ feed.Feed = (*Feed)(nil)
