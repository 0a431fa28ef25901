package store

import (
	"context"
	"sync"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-portal"
)

// ErrNoCredential is returned by Load when nothing is stored.
var ErrNoCredential = goerrors.New("no stored credential", goerrors.CategoryNotFound).
	WithTextCode("CREDENTIAL_NOT_FOUND").
	WithCode(goerrors.CodeNotFound)

// Memory keeps the credential in memory.
type Memory struct {
	mu         sync.Mutex
	credential *portal.Credential
	saves      int
}

var _ portal.CredentialStore = (*Memory)(nil)

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Load(context.Context) (*portal.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.credential == nil {
		return nil, ErrNoCredential
	}
	c := *m.credential
	return &c, nil
}

func (m *Memory) Save(_ context.Context, credential portal.Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.credential = &credential
	m.saves++
	return nil
}

func (m *Memory) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.credential = nil
	return nil
}

// Saves returns how many times Save was called.
func (m *Memory) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}
