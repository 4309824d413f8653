package bridge

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ErrDirectoryUnavailable is returned by SyncLinked when the directory connection is not bound
var ErrDirectoryUnavailable = errors.New("directory is not bound")

// SyncLinked refreshes every directory linked identity of the identity store from the directory and
// returns how many have been saved. A failing identity is logged and skipped.
func (b *Bridge) SyncLinked(ctx context.Context) (int, error) {
	if b.identities == nil {
		return 0, nil
	}

	if b.directory == nil || !b.directory.IsBound() {
		return 0, ErrDirectoryUnavailable
	}

	identities, err := b.identities.ListDirectoryIdentities(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "could not list directory identities")
	}

	synced := 0
	for _, identity := range identities {
		if err := ctx.Err(); err != nil {
			return synced, err
		}

		value, ok := identity.Field(b.config.UsernameKey)
		if !ok || value == "" {
			continue
		}

		user, err := b.lookup(ctx, value, false)
		if err != nil {
			b.logger.Error("sync lookup failed", zap.String("id", identity.ID), zap.Error(err))
			continue
		}
		if user == nil {
			b.logger.Debug("identity no longer in directory", zap.String("id", identity.ID), zap.String("lookup", value))
			continue
		}

		identity.apply(b.transformer.Transform(user), user)

		if _, err := b.identities.SaveDirectoryIdentity(ctx, identity); err != nil {
			b.logger.Error("could not save synced identity", zap.String("id", identity.ID), zap.Error(err))
			continue
		}

		synced++
	}

	b.metrics.syncedIdentities(synced)
	b.logger.Info("directory sync finished", zap.Int("identities", len(identities)), zap.Int("synced", synced))

	return synced, nil
}
