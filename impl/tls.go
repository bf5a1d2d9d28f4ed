// Package impl keeps certmagic's certificates and locks in redis so every gateway instance
// serves the same certificate.
package impl

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/caddyserver/certmagic"
	"github.com/libdns/porkbun"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "notify:tls:"

type storage struct {
	rdb    *redis.Client
	locker *redislock.Client
	locks  sync.Map
}

func NewStorage(rdb *redis.Client) certmagic.Storage {
	return &storage{
		rdb:    rdb,
		locker: redislock.New(rdb),
		locks:  sync.Map{},
	}
}

func (s *storage) Lock(ctx context.Context, name string) error {
	opts := &redislock.Options{
		RetryStrategy: redislock.LinearBackoff(1 * time.Second),
	}

	lock, err := s.locker.Obtain(ctx, fmt.Sprintf("%vlock:%v", keyPrefix, name), 1*time.Minute, opts)
	if err != nil {
		return err
	}

	s.locks.Store(name, lock)
	return nil
}

func (s *storage) Unlock(ctx context.Context, name string) error {
	lock, ok := s.locks.LoadAndDelete(name)
	if !ok {
		return fmt.Errorf("no lock for %v", name)
	}

	return lock.(*redislock.Lock).Release(ctx)
}

func (s *storage) Store(ctx context.Context, key string, value []byte) error {
	hashmap := map[string]any{
		"modified": time.Now().Unix(),
		"data":     base64.RawURLEncoding.EncodeToString(value),
		"size":     len(value),
	}

	return s.rdb.HSet(ctx, keyPrefix+key, hashmap).Err()
}

func (s *storage) Load(ctx context.Context, key string) ([]byte, error) {
	res, err := s.rdb.HGet(ctx, keyPrefix+key, "data").Result()
	if errors.Is(err, redis.Nil) {
		return nil, fs.ErrNotExist
	} else if err != nil {
		return nil, err
	}

	return base64.RawURLEncoding.DecodeString(res)
}

func (s *storage) Delete(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, keyPrefix+key).Err()
}

func (s *storage) Exists(ctx context.Context, key string) bool {
	res, err := s.rdb.Exists(ctx, keyPrefix+key).Result()
	return err == nil && res > 0
}

func (s *storage) List(ctx context.Context, prefix string, recursive bool) ([]string, error) {
	pattern := keyPrefix + prefix
	if recursive {
		pattern = fmt.Sprintf("%v*", pattern)
	}

	keys, err := s.rdb.Keys(ctx, pattern).Result()
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(keys))
	for _, key := range keys {
		out = append(out, strings.TrimPrefix(key, keyPrefix))
	}

	return out, nil
}

func (s *storage) Stat(ctx context.Context, key string) (certmagic.KeyInfo, error) {
	info := certmagic.KeyInfo{}

	res, err := s.rdb.HMGet(ctx, keyPrefix+key, "modified", "size").Result()
	if err != nil {
		return info, err
	}

	if len(res) != 2 || res[0] == nil || res[1] == nil {
		return info, fs.ErrNotExist
	}

	modified, err := strconv.Atoi(fmt.Sprint(res[0]))
	if err != nil {
		return info, err
	}

	size, err := strconv.Atoi(fmt.Sprint(res[1]))
	if err != nil {
		return info, err
	}

	info.Key = key
	info.Modified = time.Unix(int64(modified), 0)
	info.Size = int64(size)
	info.IsTerminal = true

	return info, nil
}

// TLSConfig obtains and renews a certificate for domain through a porkbun DNS-01 challenge.
func TLSConfig(domain, apiKey, apiSecret string, rdb *redis.Client) (*tls.Config, error) {
	if apiKey == "" || apiSecret == "" {
		return nil, errors.New("porkbun credentials required for TLS")
	}

	certmagic.DefaultACME.DNS01Solver = &certmagic.DNS01Solver{
		DNSProvider: &porkbun.Provider{
			APIKey:       apiKey,
			APISecretKey: apiSecret,
		},
	}

	certmagic.Default.Storage = NewStorage(rdb)

	return certmagic.TLS([]string{domain})
}
