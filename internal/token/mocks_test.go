package token

import (
	"context"
	"sync"

	"github.com/hlxstats/ingressd/internal/models"
)

// MockStore implements Store with function fields.
type MockStore struct {
	FindByHashFunc     func(ctx context.Context, hash string) (*models.ServerToken, LookupStatus, error)
	FindByIDFunc       func(ctx context.Context, id int) (*models.ServerToken, error)
	UpdateLastUsedFunc func(ctx context.Context, id int)

	mu              sync.Mutex
	FindByHashCalls int
	LastUsedCalls   int
}

func (m *MockStore) FindByHash(ctx context.Context, hash string) (*models.ServerToken, LookupStatus, error) {
	m.mu.Lock()
	m.FindByHashCalls++
	m.mu.Unlock()
	if m.FindByHashFunc != nil {
		return m.FindByHashFunc(ctx, hash)
	}
	return nil, TokenNotFound, nil
}

func (m *MockStore) FindByID(ctx context.Context, id int) (*models.ServerToken, error) {
	if m.FindByIDFunc != nil {
		return m.FindByIDFunc(ctx, id)
	}
	return nil, nil
}

func (m *MockStore) UpdateLastUsed(ctx context.Context, id int) {
	m.mu.Lock()
	m.LastUsedCalls++
	m.mu.Unlock()
	if m.UpdateLastUsedFunc != nil {
		m.UpdateLastUsedFunc(ctx, id)
	}
}

// MockServerStore implements ServerStore with function fields.
type MockServerStore struct {
	ResolveFunc  func(ctx context.Context, tok *models.ServerToken, gamePort int, sourceAddr string) (*models.Server, bool, error)
	FindByIDFunc func(ctx context.Context, serverID int) (*models.Server, error)
}

func (m *MockServerStore) Resolve(ctx context.Context, tok *models.ServerToken, gamePort int, sourceAddr string) (*models.Server, bool, error) {
	if m.ResolveFunc != nil {
		return m.ResolveFunc(ctx, tok, gamePort, sourceAddr)
	}
	return &models.Server{ServerID: 1}, false, nil
}

func (m *MockServerStore) FindByID(ctx context.Context, serverID int) (*models.Server, error) {
	if m.FindByIDFunc != nil {
		return m.FindByIDFunc(ctx, serverID)
	}
	return &models.Server{ServerID: serverID}, nil
}

// MockSink captures published events.
type MockSink struct {
	mu     sync.Mutex
	Events []*models.Event
	Err    error
}

func (m *MockSink) Publish(ctx context.Context, event *models.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Events = append(m.Events, event)
	return nil
}

func (m *MockSink) Published() []*models.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.Event, len(m.Events))
	copy(out, m.Events)
	return out
}
