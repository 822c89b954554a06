package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"vigil/internal/core/domain"
	"vigil/internal/core/ports"
	"vigil/pkg/circuitbreaker"

	"go.uber.org/zap"
)

const (
	defaultAlertQueueSize      = 32
	defaultAlertPublishTimeout = 5 * time.Second
)

type breakerPublisher struct {
	publisher ports.AlertPublisher
	breaker   *circuitbreaker.CircuitBreaker
}

// AlertNotifier delivers alert transitions to external publishers from a
// single background goroutine. Notify never blocks; events are dropped when
// the queue is full.
type AlertNotifier struct {
	publishers []breakerPublisher
	timeout    time.Duration
	logger     *zap.SugaredLogger

	mu     sync.RWMutex
	closed bool
	queue  chan domain.AlertEvent
	done   chan struct{}
}

// NewAlertNotifier wraps each publisher in a circuit breaker and starts the worker.
func NewAlertNotifier(publishers []ports.AlertPublisher, breakerCfg circuitbreaker.Config, logger *zap.SugaredLogger) *AlertNotifier {
	n := &AlertNotifier{
		timeout: defaultAlertPublishTimeout,
		logger:  logger,
		queue:   make(chan domain.AlertEvent, defaultAlertQueueSize),
		done:    make(chan struct{}),
	}
	for _, p := range publishers {
		name := p.Name()
		cb := circuitbreaker.New(breakerCfg)
		cb.OnStateChange(func(from, to circuitbreaker.State) {
			logger.Warnw("alert publisher breaker state changed",
				"publisher", name,
				"from", from.String(),
				"to", to.String(),
			)
		})
		n.publishers = append(n.publishers, breakerPublisher{publisher: p, breaker: cb})
	}

	go n.run()
	return n
}

// Notify queues an event. It returns false when the event was dropped.
func (n *AlertNotifier) Notify(event domain.AlertEvent) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if n.closed {
		return false
	}
	select {
	case n.queue <- event:
		return true
	default:
		n.logger.Warnw("alert queue full, dropping event", "kind", event.Kind, "id", event.ID)
		return false
	}
}

func (n *AlertNotifier) run() {
	defer close(n.done)
	for event := range n.queue {
		for _, bp := range n.publishers {
			n.deliver(bp, event)
		}
	}
}

func (n *AlertNotifier) deliver(bp breakerPublisher, event domain.AlertEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()

	err := bp.breaker.Execute(ctx, func() error {
		return bp.publisher.PublishAlert(ctx, event)
	})
	switch {
	case err == nil:
		n.logger.Debugw("alert delivered", "publisher", bp.publisher.Name(), "kind", event.Kind)
	case errors.Is(err, circuitbreaker.ErrOpen):
		n.logger.Debugw("alert publisher unavailable, skipping", "publisher", bp.publisher.Name())
	default:
		n.logger.Warnw("failed to deliver alert",
			"publisher", bp.publisher.Name(),
			"kind", event.Kind,
			"error", err,
		)
	}
}

// Close stops accepting events and waits until the queue is drained.
func (n *AlertNotifier) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		<-n.done
		return
	}
	n.closed = true
	close(n.queue)
	n.mu.Unlock()
	<-n.done
}
