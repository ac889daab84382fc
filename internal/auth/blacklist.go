package auth

import (
	"context"
	"time"
)

// TokenBlacklist 是令牌吊销名单的存储接口。聊天核心只在校验时查询，
// 吊销写入由签发令牌的服务完成。
type TokenBlacklist interface {
	// Add 吊销一个 jti，条目在令牌原过期时间点后自动清除。
	Add(ctx context.Context, jti string, expiresAt time.Time) error
	// IsBlacklisted 判断 jti 是否已被吊销。
	IsBlacklisted(ctx context.Context, jti string) (bool, error)
}
