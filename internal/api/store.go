package api

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samcharles93/blockwise/internal/chain"
	"github.com/samcharles93/blockwise/internal/progress"
)

// chainJob is one chain, from background build to release. Fields below mu
// are written by the build goroutine and read by handlers.
type chainJob struct {
	id            string
	createdAt     time.Time
	inputChannels int
	begin         int
	cancel        context.CancelFunc
	done          chan struct{}

	mu       sync.RWMutex
	status   Status
	snapshot progress.Snapshot
	chain    *chain.Chain
	err      error
}

func newChainJob(inputChannels, begin int, now time.Time, cancel context.CancelFunc) *chainJob {
	return &chainJob{
		id:            "chain_" + uuid.NewString(),
		createdAt:     now,
		inputChannels: inputChannels,
		begin:         begin,
		cancel:        cancel,
		done:          make(chan struct{}),
		status:        StatusBuilding,
	}
}

func (j *chainJob) setProgress(s progress.Snapshot) {
	j.mu.Lock()
	j.snapshot = s
	j.mu.Unlock()
}

func (j *chainJob) finish(c *chain.Chain, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.chain = c
	j.err = err
	switch {
	case c == nil:
		j.status = StatusCancelled
	case err != nil:
		j.status = StatusFailed
	default:
		j.status = StatusReady
	}
}

// release stops a running build and frees the chain's tensors.
func (j *chainJob) release() {
	j.cancel()
	<-j.done
	j.mu.Lock()
	defer j.mu.Unlock()
	j.chain.Release()
	j.chain = nil
}

// ChainStore holds chains by id.
type ChainStore struct {
	mu   sync.Mutex
	jobs map[string]*chainJob
}

func NewChainStore() *ChainStore {
	return &ChainStore{jobs: make(map[string]*chainJob)}
}

func (s *ChainStore) add(j *chainJob) {
	s.mu.Lock()
	s.jobs[j.id] = j
	s.mu.Unlock()
}

func (s *ChainStore) get(id string) (*chainJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	return j, ok
}

func (s *ChainStore) remove(id string) (*chainJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if ok {
		delete(s.jobs, id)
	}
	return j, ok
}

// Len is the number of stored chains.
func (s *ChainStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// Close cancels every build and releases every chain.
func (s *ChainStore) Close() {
	s.mu.Lock()
	jobs := s.jobs
	s.jobs = make(map[string]*chainJob)
	s.mu.Unlock()
	for _, j := range jobs {
		j.release()
	}
}
