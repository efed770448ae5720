package jobqueue

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/HandlePay/internal/pkg/indexer"
	"github.com/ManuelReschke/HandlePay/internal/pkg/notify"
)

// IndexerTask is the periodic chain sync.
type IndexerTask interface {
	Enabled() bool
	Sync(ctx context.Context) (indexer.SyncResult, error)
}

// DispatchTask is the periodic notification delivery.
type DispatchTask interface {
	Enabled() bool
	ProcessOnce(ctx context.Context) (notify.ProcessResult, error)
}

// Intervals of the background tickers
type Intervals struct {
	IndexerSync      time.Duration
	NotifyDispatch   time.Duration
	InitialSyncDelay time.Duration
}

// Manager runs the background tasks on their own tickers
type Manager struct {
	indexer   IndexerTask
	dispatch  DispatchTask
	intervals Intervals

	indexerTicker  *time.Ticker
	dispatchTicker *time.Ticker
	stopCh         chan struct{}
	cancel         context.CancelFunc
	wg             sync.WaitGroup
	mu             sync.Mutex
	running        bool
}

// NewManager creates a manager; nil tasks are never scheduled
func NewManager(ix IndexerTask, dispatch DispatchTask, intervals Intervals) *Manager {
	if intervals.IndexerSync <= 0 {
		intervals.IndexerSync = 30 * time.Second
	}
	if intervals.NotifyDispatch <= 0 {
		intervals.NotifyDispatch = 5 * time.Second
	}
	return &Manager{
		indexer:   ix,
		dispatch:  dispatch,
		intervals: intervals,
		stopCh:    make(chan struct{}),
	}
}

// Start starts the background tasks
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate stop channel for each start cycle so manager can be restarted safely.
	m.stopCh = make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.running = true
	log.Info("[JobQueue Manager] Starting background tasks")

	if m.indexer != nil && m.indexer.Enabled() {
		m.indexerTicker = time.NewTicker(m.intervals.IndexerSync)
		m.wg.Add(1)
		go m.indexerWorker(ctx, m.stopCh, m.indexerTicker)
	} else {
		log.Info("[JobQueue Manager] Indexer disabled or chain not configured, not scheduling sync")
	}

	if m.dispatch != nil && m.dispatch.Enabled() {
		m.dispatchTicker = time.NewTicker(m.intervals.NotifyDispatch)
		m.wg.Add(1)
		go m.dispatchWorker(ctx, m.stopCh, m.dispatchTicker)
	} else {
		log.Info("[JobQueue Manager] Notifications disabled, not scheduling dispatch")
	}

	log.Info("[JobQueue Manager] Started successfully")
}

// Stop stops the tickers and waits for running ticks to return
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[JobQueue Manager] Stopping background tasks...")

	if m.indexerTicker != nil {
		m.indexerTicker.Stop()
		m.indexerTicker = nil
	}
	if m.dispatchTicker != nil {
		m.dispatchTicker.Stop()
		m.dispatchTicker = nil
	}

	// Signal workers to stop
	close(m.stopCh)
	m.cancel()
	m.running = false

	// Wait for background workers to finish
	m.wg.Wait()

	log.Info("[JobQueue Manager] Stopped successfully")
}

// indexerWorker syncs once right away, then on every tick
func (m *Manager) indexerWorker(ctx context.Context, stopCh <-chan struct{}, ticker *time.Ticker) {
	defer m.wg.Done()
	log.Infof("[JobQueue Manager] Started indexer worker (interval: %s)", m.intervals.IndexerSync)

	if m.intervals.InitialSyncDelay > 0 {
		select {
		case <-stopCh:
			return
		case <-time.After(m.intervals.InitialSyncDelay):
		}
	}
	m.runIndexerSync(ctx)

	for {
		select {
		case <-stopCh:
			log.Info("[JobQueue Manager] Indexer worker stopping")
			return
		case <-ticker.C:
			m.runIndexerSync(ctx)
		}
	}
}

// dispatchWorker delivers due notifications on every tick
func (m *Manager) dispatchWorker(ctx context.Context, stopCh <-chan struct{}, ticker *time.Ticker) {
	defer m.wg.Done()
	log.Infof("[JobQueue Manager] Started notification worker (interval: %s)", m.intervals.NotifyDispatch)

	for {
		select {
		case <-stopCh:
			log.Info("[JobQueue Manager] Notification worker stopping")
			return
		case <-ticker.C:
			if _, err := m.dispatch.ProcessOnce(ctx); err != nil && ctx.Err() == nil {
				log.Errorf("[JobQueue Manager] Notification worker failed: %v", err)
			}
		}
	}
}

func (m *Manager) runIndexerSync(ctx context.Context) {
	res, err := m.indexer.Sync(ctx)
	if err != nil {
		if ctx.Err() == nil {
			log.Errorf("[JobQueue Manager] Indexer sync failed: %v", err)
		}
		return
	}
	if !res.Synced {
		log.Debugf("[JobQueue Manager] Indexer sync skipped: %s", res.Reason)
	}
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// RunIndexerSyncOnce exposes a manual trigger for a single sync (CLI use).
func (m *Manager) RunIndexerSyncOnce(ctx context.Context) (indexer.SyncResult, error) {
	if m.indexer == nil {
		return indexer.SyncResult{}, indexer.ErrNoChain
	}
	return m.indexer.Sync(ctx)
}

// RunDispatchOnce exposes a manual trigger for a single dispatch batch (CLI use).
func (m *Manager) RunDispatchOnce(ctx context.Context) (notify.ProcessResult, error) {
	if m.dispatch == nil {
		return notify.ProcessResult{Skipped: true}, nil
	}
	return m.dispatch.ProcessOnce(ctx)
}
