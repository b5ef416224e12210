package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"golang.org/x/oauth2"
)

// TokenStore OAuth令牌缓存，进程重启或多实例部署时复用已刷新的令牌
type TokenStore interface {
	Load(ctx context.Context, key string) (*oauth2.Token, error)
	Save(ctx context.Context, key string, token *oauth2.Token) error
	Delete(ctx context.Context, key string) error
}

// MemoryTokenStore 进程内令牌缓存
type MemoryTokenStore struct {
	mu     sync.RWMutex
	tokens map[string]oauth2.Token
}

// NewMemoryTokenStore 创建内存令牌缓存
func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{tokens: make(map[string]oauth2.Token)}
}

func (s *MemoryTokenStore) Load(_ context.Context, key string) (*oauth2.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tok, ok := s.tokens[key]
	if !ok {
		return nil, nil
	}
	return &tok, nil
}

func (s *MemoryTokenStore) Save(_ context.Context, key string, token *oauth2.Token) error {
	if token == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[key] = *token
	return nil
}

func (s *MemoryTokenStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, key)
	return nil
}

// RedisTokenStore 基于Redis的令牌缓存，过期时间跟随令牌的Expiry
type RedisTokenStore struct {
	client *redis.Client
	prefix string
}

// NewRedisTokenStore 创建Redis令牌缓存
func NewRedisTokenStore(client *redis.Client, prefix string) *RedisTokenStore {
	return &RedisTokenStore{client: client, prefix: prefix}
}

// DialRedisTokenStore 连接Redis并校验连通性
func DialRedisTokenStore(ctx context.Context, addr, password string, db int, prefix string) (*RedisTokenStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("连接Redis失败: %w", err)
	}
	return NewRedisTokenStore(client, prefix), nil
}

func (s *RedisTokenStore) Load(ctx context.Context, key string) (*oauth2.Token, error) {
	raw, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("读取令牌缓存失败: %w", err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(raw, &tok); err != nil {
		return nil, fmt.Errorf("解析令牌缓存失败: %w", err)
	}
	return &tok, nil
}

func (s *RedisTokenStore) Save(ctx context.Context, key string, token *oauth2.Token) error {
	if token == nil {
		return nil
	}
	raw, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("序列化令牌失败: %w", err)
	}
	// 没有刷新令牌时缓存随access token一起过期
	var ttl time.Duration
	if !token.Expiry.IsZero() && token.RefreshToken == "" {
		ttl = time.Until(token.Expiry)
		if ttl <= 0 {
			return nil
		}
	}
	if err := s.client.Set(ctx, s.prefix+key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("写入令牌缓存失败: %w", err)
	}
	return nil
}

func (s *RedisTokenStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("删除令牌缓存失败: %w", err)
	}
	return nil
}

// Close 关闭Redis连接
func (s *RedisTokenStore) Close() error {
	return s.client.Close()
}

var (
	_ TokenStore = (*MemoryTokenStore)(nil)
	_ TokenStore = (*RedisTokenStore)(nil)
)
