package jobqueue

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/MindShield/internal/pkg/metrics"
)

const defaultDepthInterval = 30 * time.Second

// Manager owns the repair queue and its background bookkeeping
type Manager struct {
	queue         *Queue
	depthInterval time.Duration
	depthTicker   *time.Ticker
	stopCh        chan struct{}
	wg            sync.WaitGroup
	mu            sync.Mutex
	running       bool
}

// NewManager builds a manager around a queue served by workers goroutines.
func NewManager(client *redis.Client, workers int, repairer Repairer) *Manager {
	return &Manager{
		queue:         NewQueue(client, workers, repairer),
		depthInterval: defaultDepthInterval,
		stopCh:        make(chan struct{}),
	}
}

// GetQueue returns the managed job queue
func (m *Manager) GetQueue() *Queue {
	return m.queue
}

// Start starts the job queue and background tasks
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate stop channel for each start cycle so manager can be restarted safely.
	m.stopCh = make(chan struct{})
	m.running = true
	log.Info("[JobQueue Manager] Starting repair queue")

	m.queue.Start()

	m.depthTicker = time.NewTicker(m.depthInterval)
	m.wg.Add(1)
	go m.depthWorker()

	log.Info("[JobQueue Manager] Started successfully")
}

// Stop stops the job queue and background tasks
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[JobQueue Manager] Stopping repair queue...")

	if m.depthTicker != nil {
		m.depthTicker.Stop()
	}

	close(m.stopCh)
	m.running = false
	m.wg.Wait()

	m.queue.Stop()

	log.Info("[JobQueue Manager] Stopped successfully")
}

// depthWorker publishes the queue lengths to the metrics registry
func (m *Manager) depthWorker() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopCh:
			return
		case <-m.depthTicker.C:
			if err := m.publishDepth(context.Background()); err != nil {
				log.Errorf("[JobQueue Manager] Could not read queue depth: %v", err)
			}
		}
	}
}

func (m *Manager) publishDepth(ctx context.Context) error {
	pending, err := m.queue.GetQueueSize(ctx)
	if err != nil {
		return err
	}
	processing, err := m.queue.GetProcessingSize(ctx)
	if err != nil {
		return err
	}
	metrics.SetRepairQueueDepth(pending, processing)
	return nil
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}
