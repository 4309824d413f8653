package main

import (
	"context"
	"time"

	"github.com/jasonlvhit/gocron"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// syncTimeout bounds a single run of the directory sync
const syncTimeout = 2 * time.Minute

type linkedSyncer interface {
	SyncLinked(ctx context.Context) (int, error)
}

// directorySync refreshes all directory linked identities of the local store
type directorySync struct {
	syncer linkedSyncer
	logger *zap.Logger
}

func (s directorySync) run() {
	ctx, cancel := context.WithTimeout(context.Background(), syncTimeout)
	defer cancel()

	synced, err := s.syncer.SyncLinked(ctx)
	if err != nil {
		s.logger.Error("directory sync failed", zap.Error(err))
		return
	}

	s.logger.Info("directory sync finished", zap.Int("synced", synced))
}

// schedule runs the sync every interval minutes on the gocron default scheduler
func (s directorySync) schedule(interval uint64) error {
	if interval == 0 {
		s.logger.Info("directory sync disabled")
		return nil
	}

	if err := gocron.Every(interval).Minutes().Do(s.run); err != nil {
		return errors.Wrap(err, "could not schedule directory sync")
	}

	gocron.Start()

	return nil
}
