package types

import "sync"

// The message bus carries node events to components that must not import
// the node package (the websocket feed, metrics). It is not used for calls
// within a single component.

// MessageType represents different types of messages that can be sent
type MessageType string

const (
	RootChanged    MessageType = "ROOT_CHANGED"
	ReconcileDone  MessageType = "RECONCILE_DONE"
	ChangesApplied MessageType = "CHANGES_APPLIED"
)

// Message represents a generic message in the system
type Message struct {
	Type       MessageType
	Data       interface{}
	ResponseCh chan Response
}

// Response represents a generic response
type Response struct {
	Data  interface{}
	Error error
}

type MessageBusInterface interface {
	Subscribe(msgType MessageType, ch chan Message)
	Unsubscribe(msgType MessageType, ch chan Message)
	Publish(msg Message)
	Close()
}

// MessageBus handles communication between packages
type MessageBus struct {
	subscribers map[MessageType][]chan Message
	mu          sync.RWMutex
	closed      bool
}

func NewMessageBus() *MessageBus {
	return &MessageBus{
		subscribers: make(map[MessageType][]chan Message),
	}
}

// Subscribe to specific message types
func (mb *MessageBus) Subscribe(msgType MessageType, ch chan Message) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.subscribers[msgType] = append(mb.subscribers[msgType], ch)
}

// Unsubscribe from a message type
func (mb *MessageBus) Unsubscribe(msgType MessageType, ch chan Message) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	subscribers := mb.subscribers[msgType]
	for i, subscriber := range subscribers {
		if subscriber == ch {
			mb.subscribers[msgType] = append(subscribers[:i], subscribers[i+1:]...)
			break
		}
	}
}

// Publish delivers msg to every subscriber of its type. A subscriber whose
// buffer is full misses the message rather than stalling the publisher.
func (mb *MessageBus) Publish(msg Message) {
	mb.mu.RLock()
	defer mb.mu.RUnlock()

	if mb.closed {
		return
	}
	for _, ch := range mb.subscribers[msg.Type] {
		select {
		case ch <- msg:
		default:
		}
	}
}

// Close closes all subscriber channels and cleans up resources
func (mb *MessageBus) Close() {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	if mb.closed {
		return
	}
	mb.closed = true
	seen := make(map[chan Message]bool)
	for msgType, subscribers := range mb.subscribers {
		for _, ch := range subscribers {
			if !seen[ch] {
				close(ch)
				seen[ch] = true
			}
		}
		delete(mb.subscribers, msgType)
	}
}
