// Package redis 提供 auth.TokenBlacklist 的 Redis 实现。
package redis

import (
	"context"
	"fmt"
	"time"

	"edchat/internal/auth"

	"github.com/redis/go-redis/v9"
)

const blacklistKeyPrefix = "edchat:bl:jti:"

type redisTokenBlacklist struct {
	client *redis.Client
}

// NewRedisTokenBlacklist 创建基于 Redis 的吊销名单。
func NewRedisTokenBlacklist(client *redis.Client) auth.TokenBlacklist {
	return &redisTokenBlacklist{client: client}
}

// Add 写入吊销条目，Redis 过期时间对齐令牌自身的过期时刻，
// 之后条目自动消失，无需清理任务。
func (r *redisTokenBlacklist) Add(ctx context.Context, jti string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		// 令牌本身已过期，JWT 校验会直接拒绝，无需入名单。
		return nil
	}
	if err := r.client.Set(ctx, blacklistKeyPrefix+jti, "revoked", ttl).Err(); err != nil {
		return fmt.Errorf("写入 Redis 吊销名单失败 (jti %s): %w", jti, err)
	}
	return nil
}

// IsBlacklisted 查询 jti 是否仍在名单内。键不存在即未吊销。
func (r *redisTokenBlacklist) IsBlacklisted(ctx context.Context, jti string) (bool, error) {
	err := r.client.Get(ctx, blacklistKeyPrefix+jti).Err()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("查询 Redis 吊销名单失败 (jti %s): %w", jti, err)
	}
	return true, nil
}
