package installer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"devplay/internal/logging"
	"devplay/internal/notifications"
	"devplay/internal/queue"
	"devplay/internal/reconcile"
)

// BatchResult counts per-item outcomes of a batch operation.
type BatchResult struct {
	Success int
	Failure int
}

// Start begins installing itemID. Owned and already running items are left
// alone. Unknown items are an error.
func (c *Controller) Start(ctx context.Context, itemID string) error {
	if err := c.checkReady(); err != nil {
		return err
	}
	itemID = strings.TrimSpace(itemID)

	c.opMu.Lock()
	started, err := c.start(ctx, itemID)
	c.opMu.Unlock()
	if err != nil || started == nil {
		return err
	}
	c.afterStart(ctx, *started)
	return nil
}

// startedInstall is an install that just entered in progress.
type startedInstall struct {
	record   queue.Record
	identity string
	register bool
}

// start moves the item into progress and returns nil when nothing started.
// Callers hold opMu and pass the result to afterStart once it is released.
func (c *Controller) start(ctx context.Context, itemID string) (*startedInstall, error) {
	ctx = logging.WithItemID(ctx, itemID)
	current, partition, ok := c.store.Lookup(itemID)
	if !ok {
		cached, known := c.catalogRecord(itemID)
		if !known {
			return nil, fmt.Errorf("start %s: %w", itemID, queue.ErrUnknownItem)
		}
		current, partition = cached, queue.PartitionAny
	}

	switch partition {
	case queue.PartitionOwned:
		c.logger.Debug("start ignored; item already owned", logging.ItemID(itemID))
		return nil, nil
	case queue.PartitionInProgress:
		if c.sim.Track(itemID, current.Progress) {
			c.logger.Debug("reattached timer for in-progress item", logging.ItemID(itemID))
		}
		return nil, nil
	}

	now := c.clock.Now()
	begin := func(r *queue.Record) {
		if c.preserveProgress && r.Progress > 0 && !r.IsComplete() {
			started := now.UTC()
			r.StartedAt = &started
			return
		}
		r.BeginProgress(now)
	}

	var record queue.Record
	if partition == queue.PartitionAny {
		begin(&current)
		if err := c.store.Insert(ctx, queue.PartitionInProgress, current); err != nil {
			return nil, fmt.Errorf("start %s: %w", itemID, err)
		}
		record = current
	} else {
		moved, ok := c.store.Transition(ctx, itemID, partition, queue.PartitionInProgress, begin)
		if !ok {
			// Displaced by a reconcile since the lookup.
			return nil, nil
		}
		record = moved
	}

	if !c.sim.Track(itemID, record.Progress) {
		c.logger.Debug("timer already live", logging.ItemID(itemID))
	}
	c.logger.Info("install started",
		logging.ItemID(itemID),
		logging.String("name", record.Name),
		logging.Float64("progress", record.Progress),
	)
	c.emit(EventStarted, record)

	started := &startedInstall{record: record, identity: c.engine.Identity()}
	if started.identity != "" {
		started.register = c.claimRegistration(itemID, started.identity)
	}
	return started, nil
}

// afterStart notifies and registers a started install. It runs without opMu.
func (c *Controller) afterStart(ctx context.Context, started startedInstall) {
	ctx = logging.WithItemID(ctx, started.record.ItemID)
	c.notify(ctx, notifications.EventInstallStarted, recordPayload(started.record))
	if started.register {
		c.registerAndSettle(ctx, started.identity, started.record.ItemID)
	}
}

// register records the install remotely for identity. Failures are logged
// and tolerated.
func (c *Controller) register(ctx context.Context, identity, itemID string) (string, bool) {
	if identity == "" {
		c.logger.Debug("install registration skipped; no active identity", logging.ItemID(itemID))
		return "", false
	}
	remoteID, err := c.registry.RegisterInstall(logging.WithIdentity(ctx, identity), itemID, identity)
	if err != nil {
		c.logger.Warn("install registration failed; continuing",
			logging.ItemID(itemID),
			logging.Identity(identity),
			logging.Error(err),
			logging.Alert("registry_unavailable"),
		)
		return "", false
	}
	return remoteID, true
}

// Pause stops an in-progress install and returns it to pending. Items not in
// progress are left alone.
func (c *Controller) Pause(ctx context.Context, itemID string) error {
	if err := c.checkReady(); err != nil {
		return err
	}
	itemID = strings.TrimSpace(itemID)
	c.opMu.Lock()
	defer c.opMu.Unlock()
	if !c.store.Has(itemID) {
		return fmt.Errorf("pause %s: %w", itemID, queue.ErrUnknownItem)
	}
	c.pause(ctx, itemID)
	return nil
}

// pause requires opMu.
func (c *Controller) pause(ctx context.Context, itemID string) bool {
	c.sim.Cancel(itemID)
	record, ok := c.store.Transition(ctx, itemID, queue.PartitionInProgress, queue.PartitionPending, func(r *queue.Record) {
		if c.preserveProgress {
			r.StartedAt = nil
			return
		}
		r.ClearProgress()
	})
	if !ok {
		return false
	}
	c.logger.Info("install paused",
		logging.ItemID(itemID),
		logging.Float64("progress", record.Progress),
	)
	c.emit(EventPaused, record)
	return true
}

// PauseAll pauses every in-progress install and returns how many moved.
func (c *Controller) PauseAll(ctx context.Context) int {
	if err := c.checkReady(); err != nil {
		c.logger.Warn("pause all rejected", logging.Error(err))
		return 0
	}
	c.opMu.Lock()
	defer c.opMu.Unlock()
	paused := 0
	for _, id := range c.store.IDs(queue.PartitionInProgress) {
		if c.pause(ctx, id) {
			paused++
		}
	}
	return paused
}

// DownloadAll starts every pending item and returns how many started.
func (c *Controller) DownloadAll(ctx context.Context) int {
	if err := c.checkReady(); err != nil {
		c.logger.Warn("download all rejected", logging.Error(err))
		return 0
	}
	var started []startedInstall
	c.opMu.Lock()
	for _, id := range c.store.IDs(queue.PartitionPending) {
		install, err := c.start(ctx, id)
		if err != nil {
			c.logger.Warn("start failed during download all", logging.ItemID(id), logging.Error(err))
			continue
		}
		if install != nil {
			started = append(started, *install)
		}
	}
	c.opMu.Unlock()

	for _, install := range started {
		c.afterStart(ctx, install)
	}
	return len(started)
}

// DeletePending empties the pending partition locally.
func (c *Controller) DeletePending(ctx context.Context) int {
	if err := c.checkReady(); err != nil {
		c.logger.Warn("delete pending rejected", logging.Error(err))
		return 0
	}
	c.opMu.Lock()
	defer c.opMu.Unlock()
	removed := c.store.ClearPartition(ctx, queue.PartitionPending)
	c.logger.Info("pending cleared", logging.Int("removed", len(removed)))
	return len(removed)
}

// Uninstall removes itemID locally and from the registry, then reconciles.
// The local record is removed even when the registry call fails; the
// registry error is returned.
func (c *Controller) Uninstall(ctx context.Context, itemID string) error {
	if err := c.checkReady(); err != nil {
		return err
	}
	err := c.uninstall(ctx, strings.TrimSpace(itemID))
	if errors.Is(err, queue.ErrUnknownItem) {
		return err
	}
	c.refresh(ctx)
	return err
}

func (c *Controller) uninstall(ctx context.Context, itemID string) error {
	ctx = logging.WithItemID(ctx, itemID)
	c.opMu.Lock()
	record, _, ok := c.store.Lookup(itemID)
	if !ok {
		c.opMu.Unlock()
		return fmt.Errorf("uninstall %s: %w", itemID, queue.ErrUnknownItem)
	}
	c.sim.Cancel(itemID)
	c.store.Remove(ctx, itemID)
	c.opMu.Unlock()

	var remoteErr error
	if record.RemoteInstallID != "" {
		remoteErr = c.registry.RemoveInstall(ctx, record.RemoteInstallID)
	}

	if remoteErr != nil {
		c.logger.Warn("remote uninstall failed; removed locally",
			logging.ItemID(itemID),
			logging.String("remote_install_id", record.RemoteInstallID),
			logging.Error(remoteErr),
			logging.Alert("registry_inconsistent"),
		)
		return fmt.Errorf("uninstall %s: %w", itemID, remoteErr)
	}
	c.logger.Info("item uninstalled", logging.ItemID(itemID))
	c.emit(EventUninstalled, record)
	c.notify(ctx, notifications.EventUninstalled, recordPayload(record))
	return nil
}

// ClearHistory uninstalls every owned item one at a time, paced by the
// configured delay, and reconciles once at the end. A failed item does not
// stop the batch.
func (c *Controller) ClearHistory(ctx context.Context) BatchResult {
	var result BatchResult
	if err := c.checkReady(); err != nil {
		c.logger.Warn("clear history rejected", logging.Error(err))
		return result
	}

	ids := c.store.IDs(queue.PartitionOwned)
	for i, id := range ids {
		if err := c.limiter.Wait(ctx); err != nil {
			result.Failure += len(ids) - i
			c.logger.Warn("clear history interrupted", logging.Error(err), logging.Int("remaining", len(ids)-i))
			break
		}
		if err := c.uninstall(ctx, id); err != nil {
			result.Failure++
			continue
		}
		result.Success++
	}

	c.logger.Info("history cleared",
		logging.Int("success", result.Success),
		logging.Int("failure", result.Failure),
	)
	c.notify(ctx, notifications.EventHistoryCleared, notifications.Payload{
		"success": result.Success,
		"failure": result.Failure,
	})
	c.refresh(ctx)
	return result
}

// SeedCatalog loads the catalog and queues every item that has no record
// yet. It returns the number of new pending records.
func (c *Controller) SeedCatalog(ctx context.Context) (int, error) {
	if err := c.checkReady(); err != nil {
		return 0, err
	}
	records, err := c.registry.Catalog(ctx)
	if err != nil {
		return 0, fmt.Errorf("seed catalog: %w", err)
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()
	c.catalogMu.Lock()
	c.catalog = make(map[string]queue.Record, len(records))
	for _, record := range records {
		record.ClearProgress()
		record.RemoteInstallID = ""
		c.catalog[record.ItemID] = record
	}
	c.catalogMu.Unlock()

	inserted := c.seedFromCache(ctx)
	c.logger.Info("catalog seeded",
		logging.Int("catalog", len(records)),
		logging.Int("queued", inserted),
	)
	return inserted, nil
}

// seedFromCache requires opMu.
func (c *Controller) seedFromCache(ctx context.Context) int {
	c.catalogMu.RLock()
	records := make([]queue.Record, 0, len(c.catalog))
	for _, record := range c.catalog {
		records = append(records, record)
	}
	c.catalogMu.RUnlock()

	inserted, err := c.store.InsertIfAbsent(ctx, queue.PartitionPending, records)
	if err != nil {
		c.logger.Warn("catalog seed failed", logging.Error(err))
	}
	return inserted
}

func (c *Controller) catalogRecord(itemID string) (queue.Record, bool) {
	c.catalogMu.RLock()
	defer c.catalogMu.RUnlock()
	record, ok := c.catalog[itemID]
	return record, ok
}

// OnIdentityChanged switches the active identity. A new identity starts from
// empty partitions, then gets the registry's owned set and the cached
// catalog. When the owned set cannot be fetched it starts with nothing owned.
func (c *Controller) OnIdentityChanged(ctx context.Context, identity string) (reconcile.Result, error) {
	if err := c.checkReady(); err != nil {
		return reconcile.Result{}, err
	}
	c.opMu.Lock()
	changed := c.engine.SwitchIdentity(ctx, identity)
	if changed {
		c.registering = make(map[string]string)
	}
	c.opMu.Unlock()

	result, err := c.engine.Reconcile(ctx)
	if errors.Is(err, reconcile.ErrStale) {
		return result, err
	}
	if changed {
		c.opMu.Lock()
		c.seedFromCache(ctx)
		c.emit(EventIdentityChanged, queue.Record{})
		c.opMu.Unlock()
	}
	return result, err
}

// OnResume refreshes the owned partition for the active identity.
func (c *Controller) OnResume(ctx context.Context) (reconcile.Result, error) {
	return c.engine.OnResume(ctx)
}

// refresh reconciles after a mutation. Failures are already logged.
func (c *Controller) refresh(ctx context.Context) {
	_, _ = c.engine.Reconcile(ctx)
}
