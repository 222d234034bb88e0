package installer

import (
	"context"

	"devplay/internal/logging"
	"devplay/internal/notifications"
	"devplay/internal/queue"
)

// complete is the simulator's completion hook and runs with opMu held by the
// tick. Installs that already carry a remote ID move to owned at once. The
// rest are registered in the background and settled when the registry
// answers, so a slow registry never holds up the tick.
func (c *Controller) complete(ctx context.Context, itemID string) {
	ctx = logging.WithItemID(ctx, itemID)

	record, ok := c.finishable(itemID)
	if !ok {
		return
	}
	identity := c.engine.Identity()
	if record.RemoteInstallID != "" || identity == "" {
		owned, moved := c.finish(ctx, itemID)
		if !moved {
			return
		}
		c.background.Add(1)
		go func() {
			defer c.background.Done()
			c.notify(ctx, notifications.EventInstallCompleted, recordPayload(owned))
		}()
		return
	}
	if !c.claimRegistration(itemID, identity) {
		// The start-time registration settles it.
		return
	}

	c.background.Add(1)
	go func() {
		defer c.background.Done()
		c.registerAndSettle(ctx, identity, itemID)
	}()
}

// claimRegistration marks itemID as being registered for identity. It
// returns false when a registration for the same identity is already in
// flight. Callers hold opMu.
func (c *Controller) claimRegistration(itemID, identity string) bool {
	if current, ok := c.registering[itemID]; ok && current == identity {
		return false
	}
	c.registering[itemID] = identity
	return true
}

// registerAndSettle records the install remotely and then attaches the remote
// ID. An install that finished while the call was out moves to owned here,
// whether or not registration succeeded.
func (c *Controller) registerAndSettle(ctx context.Context, identity, itemID string) {
	remoteID, registered := c.register(ctx, identity, itemID)

	c.opMu.Lock()
	if current, ok := c.registering[itemID]; ok && current == identity {
		delete(c.registering, itemID)
	}
	if registered && identity == c.engine.Identity() {
		c.store.Patch(ctx, itemID, queue.PartitionAny, func(r *queue.Record) {
			if r.RemoteInstallID == "" {
				r.RemoteInstallID = remoteID
			}
		})
	}
	var (
		owned queue.Record
		moved bool
	)
	if _, ok := c.finishable(itemID); ok {
		owned, moved = c.finish(ctx, itemID)
	}
	c.opMu.Unlock()

	if moved {
		c.notify(ctx, notifications.EventInstallCompleted, recordPayload(owned))
	}
}

// finishable reports whether itemID sits in progress at 100 with no live
// timer, meaning its final tick ran and nothing restarted it since. Callers
// hold opMu.
func (c *Controller) finishable(itemID string) (queue.Record, bool) {
	record, partition, ok := c.store.Lookup(itemID)
	if !ok || partition != queue.PartitionInProgress || !record.IsComplete() {
		return record, false
	}
	if c.sim.Tracking(itemID) {
		return record, false
	}
	return record, true
}

// finish moves a finished install to owned and emits EventCompleted. The
// caller sends the notification once opMu is released. Callers hold opMu.
func (c *Controller) finish(ctx context.Context, itemID string) (queue.Record, bool) {
	record, moved := c.store.Transition(ctx, itemID, queue.PartitionInProgress, queue.PartitionOwned, func(r *queue.Record) {
		r.Progress = queue.CompleteProgress
		r.StartedAt = nil
	})
	if !moved {
		return record, false
	}
	c.logger.Info("item owned",
		logging.ItemID(itemID),
		logging.String("name", record.Name),
		logging.Bool("registered", record.RemoteInstallID != ""),
	)
	c.emit(EventCompleted, record)
	return record, true
}
