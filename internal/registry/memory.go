package registry

import "sync"

// MemoryStore is a Store that lives only as long as the process.
type MemoryStore struct {
	mu   sync.Mutex
	pids map[int]int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{pids: make(map[int]int)}
}

func (s *MemoryStore) Write(port, pid int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pids[port] = pid
	return nil
}

func (s *MemoryStore) Read(port int) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pid, ok := s.pids[port]
	return pid, ok && pid > 0
}

func (s *MemoryStore) Remove(port int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pids, port)
	return nil
}
