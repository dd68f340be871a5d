package queue

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"
)

// MemoryBackend is the last-resort backend when neither a broker nor a
// database is available. Jobs live in process memory and are lost on
// restart; a mutex stands in for the durable table's row-level consistency.
type MemoryBackend struct {
	mu   sync.Mutex
	jobs map[string]*Job
	seq  []string
	now  func() time.Time
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		jobs: make(map[string]*Job),
		now:  time.Now,
	}
}

func (b *MemoryBackend) Mode() string { return "memory" }

func (b *MemoryBackend) Enqueue(ctx context.Context, j *Job) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	if existing, ok := b.jobs[j.QueueKey]; ok {
		existing.Payload = j.Payload
		existing.MaxAttempts = j.MaxAttempts
		existing.UpdatedAt = now
		return nil
	}

	stored := *j
	stored.Status = StatusPending
	stored.Attempts = 0
	stored.NextAttemptAt = now
	stored.CreatedAt = now
	stored.UpdatedAt = now
	b.jobs[j.QueueKey] = &stored
	b.seq = append(b.seq, j.QueueKey)
	return nil
}

func (b *MemoryBackend) MarkDone(ctx context.Context, key, errMsg string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	j, ok := b.jobs[key]
	if !ok {
		return sql.ErrNoRows
	}
	if errMsg != "" {
		j.Status = StatusDead
		j.Attempts++
		j.LastError = errMsg
	} else {
		j.Status = StatusDone
		j.LastError = ""
	}
	j.UpdatedAt = b.now()
	return nil
}

func (b *MemoryBackend) ClaimDue(ctx context.Context, limit int) ([]Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	var claimed []Job
	for _, key := range b.seq {
		if len(claimed) >= limit {
			break
		}
		j := b.jobs[key]
		if (j.Status != StatusPending && j.Status != StatusRetry) || j.NextAttemptAt.After(now) {
			continue
		}
		j.Status = StatusProcessing
		lockedAt := now
		j.LockedAt = &lockedAt
		j.UpdatedAt = now
		claimed = append(claimed, *j)
	}
	return claimed, nil
}

func (b *MemoryBackend) Record(ctx context.Context, key string, out Outcome) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	j, ok := b.jobs[key]
	if !ok {
		return sql.ErrNoRows
	}
	j.Status = out.Status
	j.Attempts = out.Attempts
	j.NextAttemptAt = out.NextAttemptAt
	if out.LastError != "" {
		j.LastError = out.LastError
	}
	j.LockedAt = nil
	j.UpdatedAt = b.now()
	return nil
}

func (b *MemoryBackend) Stats(ctx context.Context) (Stats, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	stats := Stats{Mode: b.Mode(), Counts: make(map[Status]int)}
	for _, j := range b.jobs {
		stats.Counts[j.Status]++
		stats.Total++
	}
	return stats, nil
}

func (b *MemoryBackend) List(ctx context.Context, status Status, limit int) ([]Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var jobs []Job
	for _, j := range b.jobs {
		if j.Status == status {
			jobs = append(jobs, *j)
		}
	}
	sort.Slice(jobs, func(i, k int) bool { return jobs[i].CreatedAt.After(jobs[k].CreatedAt) })
	if len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

func (b *MemoryBackend) Requeue(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	j, ok := b.jobs[key]
	if !ok {
		return sql.ErrNoRows
	}
	j.Status = StatusPending
	j.NextAttemptAt = b.now()
	j.LastError = ""
	j.LockedAt = nil
	j.UpdatedAt = b.now()
	return nil
}

// get is a test hook for asserting row state without going through the API.
func (b *MemoryBackend) get(key string) (Job, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	j, ok := b.jobs[key]
	if !ok {
		return Job{}, false
	}
	return *j, true
}
