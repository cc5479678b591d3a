// Package mock provides mock implementations of database interfaces for testing.
package mock

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kozaktomas/face-attendance/internal/database"
)

// MockIdentityStore is an in-memory implementation of database.IdentityWriter
type MockIdentityStore struct {
	mu    sync.RWMutex
	order []string
	rows  map[string]*database.EnrolledIdentity

	// Error injection
	LoadError   error
	FindError   error
	CountError  error
	UpsertError error

	// UpsertCalls counts successful and failed UpsertIdentity calls
	UpsertCalls int
}

// NewMockIdentityStore creates a new mock identity store
func NewMockIdentityStore() *MockIdentityStore {
	return &MockIdentityStore{
		rows: make(map[string]*database.EnrolledIdentity),
	}
}

// AddIdentity seeds an identity. A nil embedding stores the identity without a face.
func (m *MockIdentityStore) AddIdentity(identity database.Identity, embedding []float32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.put(identity, embedding)
}

func (m *MockIdentityStore) put(identity database.Identity, embedding []float32) {
	if _, ok := m.rows[identity.ID]; !ok {
		m.order = append(m.order, identity.ID)
	}
	var emb []float32
	if embedding != nil {
		emb = append([]float32(nil), embedding...)
	}
	m.rows[identity.ID] = &database.EnrolledIdentity{
		Identity:  identity,
		Embedding: emb,
		UpdatedAt: time.Now(),
	}
}

// LoadIdentitiesWithEmbeddings returns identities with a face, in insertion order
func (m *MockIdentityStore) LoadIdentitiesWithEmbeddings(ctx context.Context) ([]database.EnrolledIdentity, error) {
	if m.LoadError != nil {
		return nil, m.LoadError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []database.EnrolledIdentity
	for _, id := range m.order {
		row := m.rows[id]
		if len(row.Embedding) == 0 {
			continue
		}
		cp := *row
		cp.Embedding = append([]float32(nil), row.Embedding...)
		out = append(out, cp)
	}
	return out, nil
}

// FindIdentity retrieves an identity by ID, nil if absent
func (m *MockIdentityStore) FindIdentity(ctx context.Context, id string) (*database.Identity, error) {
	if m.FindError != nil {
		return nil, m.FindError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	row, ok := m.rows[id]
	if !ok {
		return nil, nil
	}
	identity := row.Identity
	return &identity, nil
}

// CountIdentities returns the number of stored identities
func (m *MockIdentityStore) CountIdentities(ctx context.Context) (int, error) {
	if m.CountError != nil {
		return 0, m.CountError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rows), nil
}

// UpsertIdentity inserts or replaces an identity and its embedding
func (m *MockIdentityStore) UpsertIdentity(ctx context.Context, identity database.Identity, embedding []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.UpsertCalls++
	if m.UpsertError != nil {
		return m.UpsertError
	}
	m.put(identity, embedding)
	return nil
}

// Embedding returns the stored embedding for an identity (test helper)
func (m *MockIdentityStore) Embedding(id string) []float32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if row, ok := m.rows[id]; ok {
		return row.Embedding
	}
	return nil
}

// MockAttendanceStore is an in-memory implementation of database.AttendanceWriter
type MockAttendanceStore struct {
	mu      sync.RWMutex
	records []database.AttendanceRecord

	// Error injection
	AppendError error
	QueryError  error

	// AppendCalls counts every AppendAttendance call, failed ones included
	AppendCalls int
}

// NewMockAttendanceStore creates a new mock attendance store
func NewMockAttendanceStore() *MockAttendanceStore {
	return &MockAttendanceStore{}
}

// AppendAttendance stores a record
func (m *MockAttendanceStore) AppendAttendance(ctx context.Context, record database.AttendanceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AppendCalls++
	if m.AppendError != nil {
		return m.AppendError
	}
	m.records = append(m.records, record)
	return nil
}

// QueryAttendance returns matching records, newest first
func (m *MockAttendanceStore) QueryAttendance(ctx context.Context, filter database.AttendanceFilter) ([]database.AttendanceRecord, error) {
	if m.QueryError != nil {
		return nil, m.QueryError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []database.AttendanceRecord
	for _, r := range m.records {
		if filter.Matches(r) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Records returns a copy of every stored record in append order (test helper)
func (m *MockAttendanceStore) Records() []database.AttendanceRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]database.AttendanceRecord, len(m.records))
	copy(out, m.records)
	return out
}

// MockStore combines the identity and attendance mocks into a database.Store
type MockStore struct {
	*MockIdentityStore
	*MockAttendanceStore

	CloseError error
	Closed     bool
}

// NewMockStore creates an empty mock store
func NewMockStore() *MockStore {
	return &MockStore{
		MockIdentityStore:   NewMockIdentityStore(),
		MockAttendanceStore: NewMockAttendanceStore(),
	}
}

// Close marks the store closed
func (m *MockStore) Close() error {
	m.Closed = true
	return m.CloseError
}

var (
	_ database.IdentityWriter   = (*MockIdentityStore)(nil)
	_ database.AttendanceWriter = (*MockAttendanceStore)(nil)
	_ database.Store            = (*MockStore)(nil)
)
