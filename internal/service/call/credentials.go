package call

import (
	"context"
	"strings"
	"sync"
)

// CredentialProvider 连接前的凭证检查
type CredentialProvider interface {
	HasCredential(ctx context.Context) (bool, error)
	// SelectCredential 完成用户的凭证选择
	SelectCredential(ctx context.Context) error
	Credential() string
}

// KeyCredentials 保存当前 API Key（可来自环境变量）以及用户提供、选择后生效的 Key
type KeyCredentials struct {
	mu      sync.RWMutex
	key     string
	offered string
}

// NewKeyCredentials 创建凭证源，key 可以为空
func NewKeyCredentials(key string) *KeyCredentials {
	return &KeyCredentials{key: strings.TrimSpace(key)}
}

// Offer 记录用户提供的 Key，SelectCredential 后生效
func (c *KeyCredentials) Offer(key string) {
	c.mu.Lock()
	c.offered = strings.TrimSpace(key)
	c.mu.Unlock()
}

// HasCredential implements CredentialProvider.
func (c *KeyCredentials) HasCredential(context.Context) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.key != "", nil
}

// SelectCredential implements CredentialProvider.
func (c *KeyCredentials) SelectCredential(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.offered == "" {
		return ErrCredentialRequired
	}
	c.key = c.offered
	c.offered = ""
	return nil
}

// Credential implements CredentialProvider.
func (c *KeyCredentials) Credential() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.key
}

// Forget 在后端拒绝后丢弃当前 Key
func (c *KeyCredentials) Forget() {
	c.mu.Lock()
	c.key = ""
	c.mu.Unlock()
}
