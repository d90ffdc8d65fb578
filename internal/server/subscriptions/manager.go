// Package subscriptions notifies webhooks when fetch and load jobs finish.
package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/systemshift/bioref/internal/logger"
)

const queueSize = 1000

// Manager matches emitted events against subscriptions and delivers them
// from a background goroutine.
type Manager struct {
	subscriptions []Subscription
	eventChan     chan Event
	notifier      *Notifier
	log           *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	stopped bool
}

// NewManager creates a manager for subs. client may be nil.
func NewManager(subs []Subscription, client *http.Client, log *logger.Logger) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		subscriptions: subs,
		eventChan:     make(chan Event, queueSize),
		notifier:      NewNotifier(client, log),
		log:           log,
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Validate checks every subscription has a name and a webhook
func Validate(subs []Subscription) error {
	var errs []error
	for i, s := range subs {
		if s.Name == "" {
			errs = append(errs, fmt.Errorf("webhooks[%d]: name is required", i))
		}
		if s.Webhook == "" {
			errs = append(errs, fmt.Errorf("webhooks[%d] %s: webhook URL is required", i, s.Name))
		}
	}
	return errors.Join(errs...)
}

// Start begins processing events
func (m *Manager) Start() {
	m.wg.Add(1)
	go m.processEvents()
	m.log.Info("subscription manager started", "subscriptions", len(m.subscriptions))
}

// Stop delivers queued events and shuts down. Deliveries still retrying
// after timeout are abandoned.
func (m *Manager) Stop(timeout time.Duration) {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	close(m.eventChan)
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		m.cancel()
		<-done
	}
	m.cancel()
	m.log.Info("subscription manager stopped")
}

// Emit queues event for delivery without blocking
func (m *Manager) Emit(event Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	select {
	case m.eventChan <- event:
	default:
		m.log.Warn("event queue full, dropping event", "event", event.ID, "type", event.Type)
	}
}

func (m *Manager) processEvents() {
	defer m.wg.Done()
	for event := range m.eventChan {
		m.handleEvent(event)
	}
}

func (m *Manager) handleEvent(event Event) {
	for _, sub := range m.subscriptions {
		if !Match(event, sub.Pattern) {
			continue
		}
		n := Notification{Subscription: sub.Name, Event: event, MatchedAt: time.Now().UTC()}
		if err := m.notifier.SendWebhook(m.ctx, sub.Webhook, n); err != nil {
			m.log.Error("notification not delivered", "subscription", sub.Name, "error", err)
		}
	}
}
