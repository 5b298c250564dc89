package paramstore

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// Credential caches a token parameter for the lifetime of the process.
// A failed fetch is not cached, so the next call retries.
type Credential struct {
	getter Getter
	name   string

	mu     sync.RWMutex
	loaded bool
	token  string
}

func NewCredential(getter Getter, name string) (*Credential, error) {
	if getter == nil {
		return nil, errors.New("paramstore: getter must not be nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("paramstore: token parameter name must not be empty")
	}
	return &Credential{getter: getter, name: name}, nil
}

func (c *Credential) Token(ctx context.Context) (string, error) {
	c.mu.RLock()
	if c.loaded {
		defer c.mu.RUnlock()
		return c.token, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loaded {
		return c.token, nil
	}
	token, err := GetToken(ctx, c.getter, c.name)
	if err != nil {
		return "", err
	}
	c.token = token
	c.loaded = true
	return token, nil
}
