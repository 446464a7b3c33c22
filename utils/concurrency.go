package utils

import (
	"sync"
	"time"
)

// WorkerPool bounds concurrent page fetches and spaces job starts a minimum
// interval apart, so scraped marketplaces see a polite request rate even with
// several workers in flight.
type WorkerPool struct {
	slots    chan struct{}
	minDelay time.Duration

	mu        sync.Mutex
	nextStart time.Time

	wg sync.WaitGroup
}

// NewWorkerPool creates a pool of at most maxConcurrent workers whose job
// starts are spaced at least minDelay apart.
func NewWorkerPool(maxConcurrent int, minDelay time.Duration) *WorkerPool {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &WorkerPool{
		slots:    make(chan struct{}, maxConcurrent),
		minDelay: minDelay,
	}
}

// Submit schedules job on the pool, blocking the caller while every slot is
// busy.
func (p *WorkerPool) Submit(job func()) {
	p.wg.Add(1)
	p.slots <- struct{}{}

	go func() {
		defer p.wg.Done()
		defer func() { <-p.slots }()

		p.throttle()
		job()
	}()
}

// Wait blocks until every submitted job has finished.
func (p *WorkerPool) Wait() {
	p.wg.Wait()
}

// throttle reserves the next start slot on the shared schedule and sleeps
// until it comes up. Reserving under the lock but sleeping outside it keeps
// workers from serializing on the mutex for the whole delay.
func (p *WorkerPool) throttle() {
	if p.minDelay <= 0 {
		return
	}

	p.mu.Lock()
	now := time.Now()
	if p.nextStart.Before(now) {
		p.nextStart = now
	}
	wait := p.nextStart.Sub(now)
	p.nextStart = p.nextStart.Add(p.minDelay)
	p.mu.Unlock()

	if wait > 0 {
		time.Sleep(wait)
	}
}

// URLSet is a concurrency-safe set of visited listing URLs.
type URLSet struct {
	mu   sync.RWMutex
	seen map[string]struct{}
}

// NewURLSet creates an empty URLSet.
func NewURLSet() *URLSet {
	return &URLSet{seen: make(map[string]struct{})}
}

// Add records url and reports whether it was new.
func (s *URLSet) Add(url string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.seen[url]; ok {
		return false
	}
	s.seen[url] = struct{}{}
	return true
}

// Contains reports whether url was already recorded.
func (s *URLSet) Contains(url string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.seen[url]
	return ok
}

// Len returns the number of distinct URLs recorded.
func (s *URLSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.seen)
}
