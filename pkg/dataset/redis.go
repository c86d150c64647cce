package dataset

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisKey = "pxsavings:dataset"

// RedisSource reads a snapshot stored as a string value under a single key.
// The value is decoded as JSON unless Format says otherwise.
type RedisSource struct {
	Options *redis.Options
	Key     string
	Format  Format
}

// newRedisSource builds a RedisSource from a redis:// URL. The key and format
// query parameters are consumed here; the rest is handed to redis.ParseURL.
func newRedisSource(u *url.URL, format Format) (*RedisSource, error) {
	q := u.Query()
	key := q.Get("key")
	if key == "" {
		key = defaultRedisKey
	}
	if f := q.Get("format"); f != "" {
		parsed, err := ParseFormat(f)
		if err != nil {
			return nil, err
		}
		format = parsed
	}
	q.Del("key")
	q.Del("format")

	stripped := *u
	stripped.RawQuery = q.Encode()

	opts, err := redis.ParseURL(stripped.String())
	if err != nil {
		return nil, fmt.Errorf("invalid redis location: %w", err)
	}
	opts.MaxRetries = 3
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second

	return &RedisSource{Options: opts, Key: key, Format: format}, nil
}

func (s *RedisSource) Location() string {
	return fmt.Sprintf("redis://%s/%d?key=%s", s.Options.Addr, s.Options.DB, s.Key)
}

// Rows implements Source.
func (s *RedisSource) Rows(ctx context.Context) ([]Row, error) {
	client := redis.NewClient(s.Options)
	defer client.Close()

	data, err := client.Get(ctx, s.Key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, notFound(s.Location(), errors.New("key does not exist"))
		}
		return nil, notFound(s.Location(), err)
	}

	format := s.Format
	if format == FormatAuto {
		format = FormatJSON
	}

	rows, err := Decode(bytes.NewReader(data), format)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	return rows, nil
}
