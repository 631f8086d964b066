package cache

import (
	"github.com/stretchr/testify/mock"
)

type MockSnapshotStore struct {
	mock.Mock
}

func (m *MockSnapshotStore) Save(snap *Snapshot) error {
	args := m.Called(snap)
	return args.Error(0)
}

func (m *MockSnapshotStore) Load() (*Snapshot, error) {
	args := m.Called()
	if snap, ok := args.Get(0).(*Snapshot); ok {
		return snap, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockSnapshotStore) Close() error {
	args := m.Called()
	return args.Error(0)
}
