package config

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseQueues reads a queue layout written as "name:threads" pairs separated
// by commas, e.g. "workers:4,render:1". A bare name means one thread.
func ParseQueues(s string) ([]QueueConfig, error) {
	var queues []QueueConfig
	for _, field := range strings.Split(s, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}

		name, threads, found := strings.Cut(field, ":")
		q := QueueConfig{Name: strings.TrimSpace(name), Threads: 1}
		if q.Name == "" {
			return nil, fmt.Errorf("queue %q has no name", field)
		}
		if found {
			n, err := strconv.Atoi(strings.TrimSpace(threads))
			if err != nil || n < 0 {
				return nil, fmt.Errorf("queue %q: threads must be a non-negative integer", q.Name)
			}
			q.Threads = n
		}
		queues = append(queues, q)
	}
	if len(queues) == 0 {
		return nil, fmt.Errorf("no queues declared")
	}
	return queues, nil
}

// FormatQueues is the inverse of ParseQueues.
func FormatQueues(queues []QueueConfig) string {
	parts := make([]string, len(queues))
	for i, q := range queues {
		parts[i] = fmt.Sprintf("%s:%d", q.Name, q.Threads)
	}
	return strings.Join(parts, ",")
}
