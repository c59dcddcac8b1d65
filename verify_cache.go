package careauth

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const verifyCacheRecordVersion1 = 1

const (
	verifyFlagVerified = 1 << 0
	verifyFlagBlocked  = 1 << 1
)

// verifyCache mirrors terminal challenge state into Redis so hot repeated
// submissions against a dead challenge skip the durable store. The store
// stays authoritative: every cache operation here is best effort, and any
// Redis failure silently degrades to a store round trip.
type verifyCache struct {
	redis *redis.Client
	cfg   CacheConfig
}

type verifyCacheRecord struct {
	Flags      uint8
	Attempts   uint16
	ExpiresAt  int64
	BlockUntil int64
}

func newVerifyCache(redisClient *redis.Client, cfg CacheConfig) *verifyCache {
	return &verifyCache{redis: redisClient, cfg: cfg}
}

func (c *verifyCache) key(challengeID string) string {
	return c.cfg.KeyPrefix + ":ch:" + challengeID
}

func (c *verifyCache) refKey(kind ChannelKind, address string, purpose OTPPurpose) string {
	return c.cfg.KeyPrefix + ":chref:" + kind.String() + ":" + purpose.String() + ":" + address
}

// Mirror writes the challenge's reject-relevant state. TTL covers the
// challenge lifetime plus slack so a block outlives its challenge.
func (c *verifyCache) Mirror(ctx context.Context, ch *OTPChallenge) {
	if c == nil || ch == nil {
		return
	}

	record := verifyCacheRecord{
		Attempts:   uint16(ch.Attempts),
		ExpiresAt:  ch.ExpiresAt.Unix(),
		BlockUntil: ch.BlockUntil.Unix(),
	}
	if ch.Verified {
		record.Flags |= verifyFlagVerified
	}
	if ch.Blocked {
		record.Flags |= verifyFlagBlocked
	}

	deadline := ch.ExpiresAt
	if ch.Blocked && ch.BlockUntil.After(deadline) {
		deadline = ch.BlockUntil
	}
	ttl := time.Until(deadline) + c.cfg.TTLSlack
	if ttl <= 0 {
		return
	}

	encoded := encodeVerifyCacheRecord(&record)
	_ = c.redis.Set(ctx, c.key(ch.ID), encoded, ttl).Err()

	// alias so channel+purpose lookups reach the same record
	refKey := c.refKey(ch.Channel, ch.Address, ch.Purpose)
	if ch.Verified {
		// open-challenge lookups skip verified challenges; the alias must
		// not keep steering them at one
		_ = c.redis.Del(ctx, refKey).Err()
		return
	}
	_ = c.redis.Set(ctx, refKey, ch.ID, ttl).Err()
}

// FastReject reports a terminal outcome the mirror can decide without the
// store. ok=false means the caller must consult the store; a cache miss,
// a decode error, and a live challenge all land there. A non-nil error
// marks backend trouble so the caller can count the degraded read.
func (c *verifyCache) FastReject(ctx context.Context, challengeID string, now time.Time) (OTPResult, bool, error) {
	if c == nil {
		return OTPResult{}, false, nil
	}

	data, err := c.redis.Get(ctx, c.key(challengeID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return OTPResult{}, false, nil
		}
		return OTPResult{}, false, err
	}

	record, err := decodeVerifyCacheRecord(data)
	if err != nil {
		return OTPResult{}, false, nil
	}

	if record.Flags&verifyFlagVerified != 0 {
		return OTPResult{Outcome: OTPAlreadyVerified, ChallengeID: challengeID}, true, nil
	}
	if record.Flags&verifyFlagBlocked != 0 {
		// a blocked challenge never becomes verifiable again
		return OTPResult{
			Outcome:     OTPBlocked,
			ChallengeID: challengeID,
			BlockUntil:  time.Unix(record.BlockUntil, 0),
		}, true, nil
	}
	if now.Unix() > record.ExpiresAt {
		return OTPResult{Outcome: OTPExpired, ChallengeID: challengeID}, true, nil
	}

	return OTPResult{}, false, nil
}

// FastRejectRef answers a channel+purpose reference through the alias
// written by Mirror, then decides on the aliased record.
func (c *verifyCache) FastRejectRef(ctx context.Context, ref ChallengeRef, now time.Time) (OTPResult, bool, error) {
	if c == nil {
		return OTPResult{}, false, nil
	}

	id, err := c.redis.Get(ctx, c.refKey(ref.Channel, ref.Address, ref.Purpose)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return OTPResult{}, false, nil
		}
		return OTPResult{}, false, err
	}
	return c.FastReject(ctx, id, now)
}

// Forget drops the mirror entry for a challenge the store no longer
// knows, keeping the mirror from outliving its source of truth.
func (c *verifyCache) Forget(ctx context.Context, challengeID string) {
	if c == nil {
		return
	}
	_ = c.redis.Del(ctx, c.key(challengeID)).Err()
}

func encodeVerifyCacheRecord(record *verifyCacheRecord) []byte {
	var buf bytes.Buffer
	buf.WriteByte(verifyCacheRecordVersion1)
	buf.WriteByte(record.Flags)
	_ = binary.Write(&buf, binary.BigEndian, record.Attempts)
	_ = binary.Write(&buf, binary.BigEndian, record.ExpiresAt)
	_ = binary.Write(&buf, binary.BigEndian, record.BlockUntil)
	return buf.Bytes()
}

func decodeVerifyCacheRecord(data []byte) (*verifyCacheRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != verifyCacheRecordVersion1 {
		return nil, errors.New("invalid cache record version")
	}

	record := &verifyCacheRecord{}
	if record.Flags, err = reader.ReadByte(); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.BlockUntil); err != nil {
		return nil, err
	}

	return record, nil
}
