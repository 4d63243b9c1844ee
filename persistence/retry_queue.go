package persistence

import (
	"context"
	"sync"
	"time"

	"github.com/marketsim/exchange/engine"
	"github.com/marketsim/exchange/logging"
	"github.com/marketsim/exchange/models"
)

type writeKind int

const (
	writeTrade writeKind = iota
	writeOrder
)

// queuedWrite is one journal write pending retry
type queuedWrite struct {
	kind      writeKind
	trade     *engine.Trade
	order     *models.Order
	attempts  int
	lastError error
	createdAt time.Time
}

// WriteRetryQueue re-drives journal writes that failed against the
// database. The matching path never blocks on a dead database: the failed
// write is queued here and retried in the background until it lands or
// exhausts its attempts.
type WriteRetryQueue struct {
	store         *PostgresStore
	queue         chan *queuedWrite
	failedWrites  []*queuedWrite
	mu            sync.RWMutex
	maxRetries    int
	retryInterval time.Duration
	running       bool
	stopCh        chan struct{}
	wg            sync.WaitGroup
}

// NewWriteRetryQueue creates a retry queue draining into the store
func NewWriteRetryQueue(store *PostgresStore, queueSize, maxRetries int, retryInterval time.Duration) *WriteRetryQueue {
	return &WriteRetryQueue{
		store:         store,
		queue:         make(chan *queuedWrite, queueSize),
		failedWrites:  make([]*queuedWrite, 0),
		maxRetries:    maxRetries,
		retryInterval: retryInterval,
		stopCh:        make(chan struct{}),
	}
}

// Start starts the retry processor
func (wq *WriteRetryQueue) Start() {
	wq.mu.Lock()
	if wq.running {
		wq.mu.Unlock()
		return
	}
	wq.running = true
	wq.mu.Unlock()

	wq.wg.Add(1)
	go wq.processQueue()
}

// Stop stops the retry processor
func (wq *WriteRetryQueue) Stop() {
	wq.mu.Lock()
	if !wq.running {
		wq.mu.Unlock()
		return
	}
	wq.running = false
	wq.mu.Unlock()

	close(wq.stopCh)
	wq.wg.Wait()
}

// QueueTrade queues a failed trade write for retry
func (wq *WriteRetryQueue) QueueTrade(trade *engine.Trade, err error) {
	wq.enqueue(&queuedWrite{
		kind:      writeTrade,
		trade:     trade,
		attempts:  1,
		lastError: err,
		createdAt: time.Now(),
	})
}

// QueueOrder queues a failed order write for retry
func (wq *WriteRetryQueue) QueueOrder(order *models.Order, err error) {
	wq.enqueue(&queuedWrite{
		kind:      writeOrder,
		order:     order,
		attempts:  1,
		lastError: err,
		createdAt: time.Now(),
	})
}

func (wq *WriteRetryQueue) enqueue(write *queuedWrite) {
	select {
	case wq.queue <- write:
	default:
		wq.recordFailedWrite(write)
	}
}

func (wq *WriteRetryQueue) processQueue() {
	defer wq.wg.Done()

	ticker := time.NewTicker(wq.retryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-wq.stopCh:
			return

		case write := <-wq.queue:
			wq.retryWrite(write)

		case <-ticker.C:
			wq.retryFailedWrites()
		}
	}
}

func (wq *WriteRetryQueue) retryWrite(write *queuedWrite) {
	ctx := context.Background()
	var err error

	switch write.kind {
	case writeTrade:
		err = wq.store.RecordTrade(ctx, write.trade)
	case writeOrder:
		err = wq.store.RecordOrder(ctx, write.order)
	}

	if err == nil {
		return
	}

	write.attempts++
	write.lastError = err

	if write.attempts >= wq.maxRetries {
		wq.recordFailedWrite(write)
		logging.LogDBError("retry_exhausted", "journal", err, map[string]interface{}{
			"attempts": write.attempts,
		})
		return
	}

	wq.enqueue(write)
}

// retryFailedWrites periodically re-drives writes whose attempts were
// exhausted, resetting their attempt count.
func (wq *WriteRetryQueue) retryFailedWrites() {
	wq.mu.Lock()
	if len(wq.failedWrites) == 0 {
		wq.mu.Unlock()
		return
	}

	toRetry := make([]*queuedWrite, len(wq.failedWrites))
	copy(toRetry, wq.failedWrites)
	wq.failedWrites = wq.failedWrites[:0]
	wq.mu.Unlock()

	for _, write := range toRetry {
		write.attempts = 0
		wq.enqueue(write)
	}
}

func (wq *WriteRetryQueue) recordFailedWrite(write *queuedWrite) {
	wq.mu.Lock()
	defer wq.mu.Unlock()
	wq.failedWrites = append(wq.failedWrites, write)
}

// QueueSize returns the current queue backlog
func (wq *WriteRetryQueue) QueueSize() int {
	return len(wq.queue)
}

// FailedWriteCount returns the count of writes whose retries were exhausted
func (wq *WriteRetryQueue) FailedWriteCount() int {
	wq.mu.RLock()
	defer wq.mu.RUnlock()
	return len(wq.failedWrites)
}

// SafeJournal wraps the store with automatic background retry on failure.
// It implements engine.Journal: a failed write returns its error to the
// caller and is simultaneously queued for retry.
type SafeJournal struct {
	store      *PostgresStore
	retryQueue *WriteRetryQueue
}

// NewSafeJournal creates a journal with automatic retry on failures
func NewSafeJournal(store *PostgresStore, queueSize, maxRetries int, retryInterval time.Duration) *SafeJournal {
	retryQueue := NewWriteRetryQueue(store, queueSize, maxRetries, retryInterval)
	retryQueue.Start()

	return &SafeJournal{
		store:      store,
		retryQueue: retryQueue,
	}
}

// RecordTrade records a trade, queueing a retry on failure
func (sj *SafeJournal) RecordTrade(ctx context.Context, trade *engine.Trade) error {
	if err := sj.store.RecordTrade(ctx, trade); err != nil {
		sj.retryQueue.QueueTrade(trade, err)
		return err
	}
	return nil
}

// RecordOrder records an order state, queueing a retry on failure
func (sj *SafeJournal) RecordOrder(ctx context.Context, order *models.Order) error {
	if err := sj.store.RecordOrder(ctx, order); err != nil {
		sj.retryQueue.QueueOrder(order, err)
		return err
	}
	return nil
}

// Stop stops the retry queue
func (sj *SafeJournal) Stop() {
	sj.retryQueue.Stop()
}

// Stats returns queue statistics for diagnostics
func (sj *SafeJournal) Stats() map[string]interface{} {
	return map[string]interface{}{
		"queue_size":         sj.retryQueue.QueueSize(),
		"failed_write_count": sj.retryQueue.FailedWriteCount(),
		"max_retries":        sj.retryQueue.maxRetries,
		"retry_interval_ms":  sj.retryQueue.retryInterval.Milliseconds(),
	}
}
