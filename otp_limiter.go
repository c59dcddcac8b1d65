package careauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var errOTPLimiterBackend = errors.New("otp limiter backend unavailable")

// otpLimiter throttles challenge generation per destination address using
// a fixed Redis window. Verification attempts are budgeted on the
// challenge record itself, not here.
type otpLimiter struct {
	redis  *redis.Client
	max    int
	window time.Duration
}

func newOTPLimiter(redisClient *redis.Client, cfg OTPConfig) *otpLimiter {
	return &otpLimiter{
		redis:  redisClient,
		max:    cfg.ThrottleMax,
		window: cfg.ThrottleWindow,
	}
}

func (l *otpLimiter) key(channel ChannelKind, address string) string {
	return "otq:" + channel.String() + ":" + address
}

// Allow counts one generation and reports whether the window budget still
// holds. The count is recorded before the check so rejected calls also
// consume budget.
func (l *otpLimiter) Allow(ctx context.Context, channel ChannelKind, address string) error {
	key := l.key(channel, address)

	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", errOTPLimiterBackend, err)
	}
	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.window).Err(); err != nil {
			return fmt.Errorf("%w: %v", errOTPLimiterBackend, err)
		}
	}
	if count > int64(l.max) {
		return ErrOTPThrottled
	}
	return nil
}

func (l *otpLimiter) Reset(ctx context.Context, channel ChannelKind, address string) error {
	if err := l.redis.Del(ctx, l.key(channel, address)).Err(); err != nil {
		return fmt.Errorf("%w: %v", errOTPLimiterBackend, err)
	}
	return nil
}
