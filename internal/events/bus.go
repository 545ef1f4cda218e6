package events

import (
	"sync"
	"time"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventSessionStarted  EventType = "SESSION_STARTED"
	EventSessionStopped  EventType = "SESSION_STOPPED"
	EventSessionHalted   EventType = "SESSION_HALTED"
	EventTradeOpened     EventType = "TRADE_OPENED"
	EventOutcomeRecorded EventType = "OUTCOME_RECORDED"
	EventSignalGenerated EventType = "SIGNAL_GENERATED"
	EventBalanceUpdate   EventType = "BALANCE_UPDATE"
	EventTargetReached   EventType = "TARGET_REACHED"
	EventError           EventType = "ERROR"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	UserID    string                 `json:"user_id,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// EventBus manages event publishing and subscriptions
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber // Subscribers to all events
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]Subscriber),
		allSubs:     make([]Subscriber, 0),
	}
}

// Subscribe registers a subscriber for a specific event type
func (eb *EventBus) Subscribe(eventType EventType, subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for all events
func (eb *EventBus) SubscribeAll(subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.allSubs = append(eb.allSubs, subscriber)
}

// Publish sends an event to all subscribers
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	// Set timestamp if not provided
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	// Notify specific subscribers
	if subs, ok := eb.subscribers[event.Type]; ok {
		for _, sub := range subs {
			go sub(event) // Run in goroutine to avoid blocking
		}
	}

	// Notify all-event subscribers
	for _, sub := range eb.allSubs {
		go sub(event)
	}
}

// PublishSessionStarted publishes a session started event
func (eb *EventBus) PublishSessionStarted(userID string, baseAmount float64, maxLosses int) {
	eb.Publish(Event{
		Type:   EventSessionStarted,
		UserID: userID,
		Data: map[string]interface{}{
			"base_amount":            baseAmount,
			"max_consecutive_losses": maxLosses,
		},
	})
}

// PublishSessionStopped publishes a session stopped event
func (eb *EventBus) PublishSessionStopped(userID string, totalWins, totalLosses int) {
	eb.Publish(Event{
		Type:   EventSessionStopped,
		UserID: userID,
		Data: map[string]interface{}{
			"total_wins":   totalWins,
			"total_losses": totalLosses,
		},
	})
}

// PublishSessionHalted publishes a loss-limit halt event
func (eb *EventBus) PublishSessionHalted(userID string, consecutiveLosses int) {
	eb.Publish(Event{
		Type:   EventSessionHalted,
		UserID: userID,
		Data: map[string]interface{}{
			"consecutive_losses": consecutiveLosses,
		},
	})
}

// PublishTradeOpened publishes a trade opened event
func (eb *EventBus) PublishTradeOpened(userID string, stake float64) {
	eb.Publish(Event{
		Type:   EventTradeOpened,
		UserID: userID,
		Data: map[string]interface{}{
			"stake": stake,
		},
	})
}

// PublishOutcomeRecorded publishes a trade outcome event
func (eb *EventBus) PublishOutcomeRecorded(userID string, won bool, nextStake float64, consecutiveLosses int) {
	eb.Publish(Event{
		Type:   EventOutcomeRecorded,
		UserID: userID,
		Data: map[string]interface{}{
			"won":                won,
			"next_stake":         nextStake,
			"consecutive_losses": consecutiveLosses,
		},
	})
}

// PublishSignal publishes a signal generated event
func (eb *EventBus) PublishSignal(userID, signal string, confidence float64) {
	eb.Publish(Event{
		Type:   EventSignalGenerated,
		UserID: userID,
		Data: map[string]interface{}{
			"signal":     signal,
			"confidence": confidence,
		},
	})
}

// PublishBalanceUpdate publishes an extracted balance reading
func (eb *EventBus) PublishBalanceUpdate(userID string, balance float64) {
	eb.Publish(Event{
		Type:   EventBalanceUpdate,
		UserID: userID,
		Data: map[string]interface{}{
			"balance": balance,
		},
	})
}

// PublishTargetReached publishes a take-profit event
func (eb *EventBus) PublishTargetReached(userID string, profit, target float64) {
	eb.Publish(Event{
		Type:   EventTargetReached,
		UserID: userID,
		Data: map[string]interface{}{
			"profit": profit,
			"target": target,
		},
	})
}

// PublishError publishes an error event
func (eb *EventBus) PublishError(source, message string, err error) {
	data := map[string]interface{}{
		"source":  source,
		"message": message,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	eb.Publish(Event{
		Type: EventError,
		Data: data,
	})
}
