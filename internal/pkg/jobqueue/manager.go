package jobqueue

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/newmeca/membership/internal/pkg/env"
)

const (
	defaultSweepIntervalMinutes = 60
	defaultSweepBatch           = 200
	// sweep passes per tick are capped so a huge backlog cannot pin the worker
	maxSweepPasses = 50
)

// Sweeper expires the MECA ID history of lapsed memberships, one batch per call.
type Sweeper interface {
	SweepExpired(ctx context.Context, batch int) (int, error)
}

// Manager runs the background tasks of the service
type Manager struct {
	sweeper       Sweeper
	sweepInterval time.Duration
	batch         int
	sweepTicker   *time.Ticker
	stopCh        chan struct{}
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	mu            sync.Mutex
	running       bool
}

var (
	globalManager *Manager
	managerOnce   sync.Once
)

// NewManager creates a manager that sweeps every interval.
func NewManager(sweeper Sweeper, interval time.Duration, batch int) *Manager {
	if interval <= 0 {
		interval = defaultSweepIntervalMinutes * time.Minute
	}
	if batch <= 0 {
		batch = defaultSweepBatch
	}
	return &Manager{
		sweeper:       sweeper,
		sweepInterval: interval,
		batch:         batch,
		stopCh:        make(chan struct{}),
	}
}

// InitManager creates the global manager (singleton) with the interval from
// EXPIRY_SWEEP_INTERVAL_MINUTES. Later calls return the first instance.
func InitManager(sweeper Sweeper) *Manager {
	managerOnce.Do(func() {
		minutes := env.GetEnvInt("EXPIRY_SWEEP_INTERVAL_MINUTES", defaultSweepIntervalMinutes)
		globalManager = NewManager(sweeper, time.Duration(minutes)*time.Minute, defaultSweepBatch)
	})
	return globalManager
}

// GetManager returns the global manager, or nil before InitManager
func GetManager() *Manager {
	return globalManager
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

	m.sweepTicker = time.NewTicker(m.sweepInterval)
	m.wg.Add(1)
	go m.sweepWorker(ctx, m.stopCh, m.sweepTicker)

	log.Info("[JobQueue Manager] Started successfully")
}

// Stop stops the background tasks and waits for a running sweep to finish
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[JobQueue Manager] Stopping background tasks...")

	if m.sweepTicker != nil {
		m.sweepTicker.Stop()
	}

	// Signal workers to stop
	close(m.stopCh)
	m.cancel()
	m.running = false

	m.wg.Wait()

	log.Info("[JobQueue Manager] Stopped successfully")
}

// sweepWorker runs the expiry sweep on every tick
func (m *Manager) sweepWorker(ctx context.Context, stopCh <-chan struct{}, ticker *time.Ticker) {
	defer m.wg.Done()
	log.Infof("[JobQueue Manager] Started expiry sweep worker (interval: %s)", m.sweepInterval)

	for {
		select {
		case <-stopCh:
			log.Info("[JobQueue Manager] Expiry sweep worker stopping")
			return
		case <-ticker.C:
			if _, err := m.RunSweepOnce(ctx); err != nil {
				log.Errorf("[JobQueue Manager] Expiry sweep error: %v", err)
			}
		}
	}
}

// RunSweepOnce drains lapsed memberships batch by batch and returns how many were expired.
func (m *Manager) RunSweepOnce(ctx context.Context) (int, error) {
	total := 0
	for pass := 0; pass < maxSweepPasses; pass++ {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := m.sweeper.SweepExpired(ctx, m.batch)
		total += n
		if err != nil {
			return total, err
		}
		if n < m.batch {
			break
		}
	}
	if total > 0 {
		log.Infof("[JobQueue Manager] Marked %d MECA ID(s) as expired", total)
	}
	return total, nil
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}
