package review

import "sync"

// Editor is the live editing surface. Its content may diverge from the
// controller between calls, so the controller pulls from it before every
// mutation and pushes back after.
type Editor interface {
	GetContent() string
	SetContent(string)
}

// Buffer is the server-side mirror of the browser editor. The HTTP layer
// writes keystroke syncs into it.
type Buffer struct {
	mu      sync.Mutex
	content string
}

func NewBuffer(content string) *Buffer {
	return &Buffer{content: content}
}

func (b *Buffer) GetContent() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.content
}

func (b *Buffer) SetContent(content string) {
	b.mu.Lock()
	b.content = content
	b.mu.Unlock()
}
