package main

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type mockSyncer struct {
	mock.Mock
}

func (m *mockSyncer) SyncLinked(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func TestDirectorySyncRun(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)

	syncer := &mockSyncer{}
	syncer.On("SyncLinked", mock.Anything).Return(3, nil).Once()
	syncer.On("SyncLinked", mock.Anything).Return(0, errors.New("directory is not bound")).Once()

	s := directorySync{syncer: syncer, logger: zap.New(core)}
	s.run()
	s.run()

	syncer.AssertNumberOfCalls(t, "SyncLinked", 2)

	finished := logs.FilterMessage("directory sync finished").All()
	if assert.Len(t, finished, 1) {
		assert.Equal(t, int64(3), finished[0].ContextMap()["synced"])
	}
	assert.Equal(t, 1, logs.FilterMessage("directory sync failed").Len())
}

func TestDirectorySyncDisabled(t *testing.T) {
	syncer := &mockSyncer{}

	s := directorySync{syncer: syncer, logger: zap.NewNop()}
	assert.NoError(t, s.schedule(0))

	syncer.AssertNotCalled(t, "SyncLinked", mock.Anything)
}
