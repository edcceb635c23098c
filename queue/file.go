package queue

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

const defaultPollInterval = 100 * time.Millisecond

// FileQueue keeps messages as lines in a local file, one message per line.
// It exists for development and tests, a single process owns the file.
type FileQueue struct {
	path         string
	pollInterval time.Duration

	mu sync.Mutex
}

func NewFileQueue(path string) *FileQueue {
	return &FileQueue{path: path, pollInterval: defaultPollInterval}
}

func (q *FileQueue) Enqueue(_ context.Context, body string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	file, err := os.OpenFile(q.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open the queue file: %w", err)
	}

	if _, err = fmt.Fprintln(file, body); err != nil {
		_ = file.Close()
		return fmt.Errorf("failed to append to the queue file: %w", err)
	}
	return file.Close()
}

func (q *FileQueue) ProcessAsync(ctx context.Context, handler Handler) error {
	go func() {
		ticker := time.NewTicker(q.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				q.drain(handler)
			}
		}
	}()
	return nil
}

func (q *FileQueue) drain(handler Handler) {
	for {
		msg, err := q.dequeue()
		if err != nil {
			slog.Error("Failed to read the queue file", slog.Any("err", err))
			return
		}
		if msg == nil {
			return
		}
		_ = handler(*msg)
	}
}

// dequeue pops the first line and rewrites the remainder through a rename,
// so a crash mid-rewrite never loses the tail.
func (q *FileQueue) dequeue() (*MessageInfo, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	lines, err := q.readLines()
	if err != nil || len(lines) == 0 {
		return nil, err
	}

	tmp := q.path + ".tmp"
	rest := strings.Join(lines[1:], "\n")
	if rest != "" {
		rest += "\n"
	}
	if err = os.WriteFile(tmp, []byte(rest), 0o644); err != nil {
		return nil, fmt.Errorf("failed to rewrite the queue file: %w", err)
	}
	if err = os.Rename(tmp, q.path); err != nil {
		return nil, fmt.Errorf("failed to swap the queue file: %w", err)
	}

	return &MessageInfo{Body: lines[0]}, nil
}

// Ack is a no-op, dequeue already removed the message from the file.
func (q *FileQueue) Ack(_ context.Context, _ MessageInfo) error {
	return nil
}

func (q *FileQueue) MessageCount(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	lines, err := q.readLines()
	return len(lines), err
}

func (q *FileQueue) Purge(_ context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := os.Remove(q.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to purge the queue file: %w", err)
	}
	return nil
}

func (q *FileQueue) readLines() ([]string, error) {
	contents, err := os.ReadFile(q.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var lines []string
	for _, line := range strings.Split(string(contents), "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	return lines, nil
}
