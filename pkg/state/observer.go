package state

import "github.com/flowmod/flowmod/pkg/models"

// Observer receives a notification for every diff record the store accepted.
// Rejected records are never announced. Callbacks run on the applying
// goroutine after the entity lock is released, so an observer may read the
// store back.
type Observer interface {
	StateDiffApplied(diff models.StateDiff)
	RunDiffApplied(diff models.WorkflowRunDiff)
	TaskDiffApplied(diff models.TaskDiff)
}

// Subscribe registers an observer for applied diff records.
func (s *Store) Subscribe(observer Observer) {
	s.observerMu.Lock()
	defer s.observerMu.Unlock()

	s.observers = append(s.observers, observer)
}

func (s *Store) notify(call func(Observer)) {
	s.observerMu.RLock()
	defer s.observerMu.RUnlock()

	for _, observer := range s.observers {
		call(observer)
	}
}
