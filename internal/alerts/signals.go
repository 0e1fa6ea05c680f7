package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// SignalQueue carries alert records from the signal worker to the trader
// over a redis list. Consumption is a blocking right-pop; stale signals
// (older than maxAge) are dropped instead of delivered.
type SignalQueue struct {
	client *redis.Client
	list   string
	maxAge time.Duration
	now    func() time.Time
}

func NewSignalQueue(client *redis.Client, list string, maxAge time.Duration) *SignalQueue {
	return &SignalQueue{
		client: client,
		list:   list,
		maxAge: maxAge,
		now:    time.Now,
	}
}

// Push enqueues a signal for the trader.
func (q *SignalQueue) Push(ctx context.Context, rec Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal signal: %w", err)
	}
	if err := q.client.LPush(ctx, q.list, payload).Err(); err != nil {
		return fmt.Errorf("lpush %s: %w", q.list, err)
	}
	return nil
}

// Pop blocks up to timeout for the next fresh signal. Returns (nil, nil)
// when the queue stayed empty or only stale signals arrived.
func (q *SignalQueue) Pop(ctx context.Context, timeout time.Duration) (*Record, error) {
	deadline := q.now().Add(timeout)
	for {
		remaining := deadline.Sub(q.now())
		if remaining <= 0 {
			return nil, nil
		}

		vals, err := q.client.BRPop(ctx, remaining, q.list).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return nil, nil
			}
			return nil, fmt.Errorf("brpop %s: %w", q.list, err)
		}
		// BRPop returns [key, value].
		if len(vals) != 2 {
			continue
		}

		rec, fresh := DecodeSignal([]byte(vals[1]), q.maxAge, q.now())
		if rec == nil {
			continue
		}
		if !fresh {
			log.Warn().
				Str("mint", rec.Token).
				Time("signal_ts", rec.TS).
				Msg("signals: dropping stale signal")
			continue
		}
		return rec, nil
	}
}

// DecodeSignal parses a queued payload and checks its age. A nil record
// means the payload was unparseable; fresh is false for stale signals.
func DecodeSignal(payload []byte, maxAge time.Duration, now time.Time) (rec *Record, fresh bool) {
	var r Record
	if err := json.Unmarshal(payload, &r); err != nil {
		log.Error().Err(err).Msg("signals: undecodable payload")
		return nil, false
	}
	if r.Token == "" {
		return nil, false
	}
	if r.TS.IsZero() || now.Sub(r.TS) > maxAge {
		return &r, false
	}
	return &r, true
}
