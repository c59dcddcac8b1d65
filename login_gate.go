package careauth

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	loginGateKeyPrefix      = "lgc"
	loginGateRecordVersion1 = 1
)

var errLoginGateBackend = errors.New("login gate backend unavailable")

// loginGate is the short-lived pending state between a successful first
// factor and the second-factor proof. It never contains tokens.
type loginGate struct {
	PrincipalID string
	ExpiresAt   int64
	Attempts    uint16
}

// loginGateStore keeps gates in Redis under a TTL'd key. Attempt counting
// uses an optimistic WATCH transaction so concurrent failures on one gate
// never overshoot the budget.
type loginGateStore struct {
	redis *redis.Client
	cfg   TwoFactorConfig
}

func newLoginGateStore(redisClient *redis.Client, cfg TwoFactorConfig) *loginGateStore {
	return &loginGateStore{redis: redisClient, cfg: cfg}
}

func (s *loginGateStore) key(gateID string) string {
	return loginGateKeyPrefix + ":" + gateID
}

func (s *loginGateStore) Save(ctx context.Context, gateID string, record *loginGate) error {
	encoded, err := encodeLoginGate(record)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(gateID), encoded, s.cfg.LoginGateTTL).Err(); err != nil {
		return fmt.Errorf("%w: %v", errLoginGateBackend, err)
	}
	return nil
}

func (s *loginGateStore) Get(ctx context.Context, gateID string) (*loginGate, error) {
	data, err := s.redis.Get(ctx, s.key(gateID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrLoginGateInvalid
		}
		return nil, fmt.Errorf("%w: %v", errLoginGateBackend, err)
	}

	record, err := decodeLoginGate(data)
	if err != nil {
		return nil, err
	}
	if time.Now().Unix() > record.ExpiresAt {
		_, _ = s.redis.Del(ctx, s.key(gateID)).Result()
		return nil, ErrLoginGateExpired
	}
	return record, nil
}

// Delete removes a gate and reports whether it existed. The bool is the
// single-use guarantee: exactly one concurrent completion sees true.
func (s *loginGateStore) Delete(ctx context.Context, gateID string) (bool, error) {
	n, err := s.redis.Del(ctx, s.key(gateID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", errLoginGateBackend, err)
	}
	return n > 0, nil
}

// RecordFailure increments the attempt count. When the budget is exhausted
// the gate is deleted and exceeded=true is returned.
func (s *loginGateStore) RecordFailure(ctx context.Context, gateID string) (bool, error) {
	const maxRetries = 4
	key := s.key(gateID)

	for i := 0; i < maxRetries; i++ {
		var exceeded bool
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			record, err := decodeLoginGate(data)
			if err != nil {
				return err
			}
			if time.Now().Unix() > record.ExpiresAt {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				if err != nil {
					return err
				}
				return ErrLoginGateExpired
			}

			record.Attempts++
			if int(record.Attempts) >= s.cfg.LoginGateMaxAttempts {
				exceeded = true
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				return err
			}

			ttl := time.Until(time.Unix(record.ExpiresAt, 0))
			if ttl <= 0 {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				if err != nil {
					return err
				}
				return ErrLoginGateExpired
			}

			updated, err := encodeLoginGate(record)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, ttl)
				return nil
			})
			return err
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return false, ErrLoginGateInvalid
			}
			if errors.Is(err, ErrLoginGateExpired) {
				return false, err
			}
			return false, fmt.Errorf("%w: %v", errLoginGateBackend, err)
		}
		return exceeded, nil
	}

	return false, ErrLoginGateInvalid
}

func encodeLoginGate(record *loginGate) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(loginGateRecordVersion1)

	if err := binary.Write(&buf, binary.BigEndian, record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}

	if len(record.PrincipalID) > 65535 {
		return nil, errors.New("login gate principal id length exceeded")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.PrincipalID))); err != nil {
		return nil, err
	}
	buf.WriteString(record.PrincipalID)

	return buf.Bytes(), nil
}

func decodeLoginGate(data []byte) (*loginGate, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != loginGateRecordVersion1 {
		return nil, errors.New("invalid login gate version")
	}

	record := &loginGate{}
	if err := binary.Read(reader, binary.BigEndian, &record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}

	var idLen uint16
	if err := binary.Read(reader, binary.BigEndian, &idLen); err != nil {
		return nil, err
	}
	id := make([]byte, idLen)
	if _, err := io.ReadFull(reader, id); err != nil {
		return nil, err
	}
	record.PrincipalID = string(id)

	return record, nil
}
