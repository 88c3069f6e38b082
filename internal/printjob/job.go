package printjob

import (
	"sort"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusQueued   Status = "queued"
	StatusPrinting Status = "printing"
	StatusPrinted  Status = "printed"
	StatusFailed   Status = "failed"
)

// Job is one print request.
type Job struct {
	ID           string    `json:"id"`
	RequesterID  string    `json:"requester_id"`
	SourcePath   string    `json:"source_path"`
	ArtifactPath string    `json:"artifact_path,omitempty"`
	Printer      string    `json:"printer"`
	Label        string    `json:"label"`
	Status       Status    `json:"status"`
	Error        string    `json:"error,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	FinishedAt   time.Time `json:"finished_at,omitempty"`
}

// Done reports whether the job reached a final state.
func (j Job) Done() bool {
	return j.Status == StatusPrinted || j.Status == StatusFailed
}

// GenerateID creates a new nanoid
func GenerateID() (string, error) {
	return gonanoid.New()
}

// store keeps the recent jobs of this process in memory.
type store struct {
	mu   sync.RWMutex
	jobs map[string]*Job
	max  int
}

func newStore(max int) *store {
	if max <= 0 {
		max = 200
	}
	return &store{jobs: make(map[string]*Job), max: max}
}

func (s *store) put(j Job) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := j
	s.jobs[j.ID] = &cp
	if len(s.jobs) > s.max {
		s.evictOldest()
	}
}

func (s *store) evictOldest() {
	var oldest *Job
	for _, j := range s.jobs {
		if !j.Done() {
			continue
		}
		if oldest == nil || j.CreatedAt.Before(oldest.CreatedAt) {
			oldest = j
		}
	}
	if oldest != nil {
		delete(s.jobs, oldest.ID)
	}
}

func (s *store) get(id string) (Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *j, true
}

// recent returns the newest jobs first, optionally filtered by requester.
func (s *store) recent(requesterID string, limit int) []Job {
	s.mu.RLock()
	jobs := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		if requesterID == "" || j.RequesterID == requesterID {
			jobs = append(jobs, *j)
		}
	}
	s.mu.RUnlock()

	sort.Slice(jobs, func(i, k int) bool {
		return jobs[i].CreatedAt.After(jobs[k].CreatedAt)
	})
	if limit > 0 && limit < len(jobs) {
		jobs = jobs[:limit]
	}
	return jobs
}
