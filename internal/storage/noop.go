package storage

import "context"

// Noop discards every write; used when persistence is disabled.
type Noop struct{}

// NewNoop creates a storage backend that keeps nothing.
func NewNoop() Database {
	return &Noop{}
}

func (n *Noop) Close() error { return nil }

func (n *Noop) SaveMessage(context.Context, *Message) error { return nil }

func (n *Noop) GetMessages(context.Context, string) ([]*Message, error) {
	return nil, nil
}

func (n *Noop) GetMessagesWithPagination(context.Context, string, int, int) ([]*Message, error) {
	return nil, nil
}
