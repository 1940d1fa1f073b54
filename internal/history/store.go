package history

import (
	"sync"

	"github.com/nettleship/rolecall/internal/core"
)

// Store keeps one chronological conversation history per user, in memory
// only. Histories do not survive a restart. Trimming removes a contiguous
// oldest prefix and is irreversible.
type Store struct {
	mu    sync.Mutex
	users map[string][]core.Turn
}

// NewStore returns an empty store. Per-user histories are created lazily
// on first append.
func NewStore() *Store {
	return &Store{users: make(map[string][]core.Turn)}
}

// Append adds a turn to the end of the user's history.
func (s *Store) Append(userID string, turn core.Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.users[userID] = append(s.users[userID], turn)
}

// PopLast removes the most recently appended turn. Returns
// core.ErrEmptyHistory when there is nothing to remove.
func (s *Store) PopLast(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	turns := s.users[userID]
	if len(turns) == 0 {
		return core.ErrEmptyHistory
	}

	s.users[userID] = turns[:len(turns)-1]

	return nil
}

// Turns returns a copy of the user's history, oldest first.
func (s *Store) Turns(userID string) []core.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()

	turns := s.users[userID]
	out := make([]core.Turn, len(turns))
	copy(out, turns)

	return out
}

// Len reports how many turns the user's history holds.
func (s *Store) Len(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.users[userID])
}

// TrimToFit walks the history newest to oldest, accumulating the token
// count of each rendered turn. A turn's count is added before the budget
// check; the first turn whose addition makes the running total reach or
// exceed budget is dropped together with every older turn. A newest turn
// that alone meets the budget therefore empties the history entirely,
// which is accepted, not an error. Returns the number of turns dropped.
func (s *Store) TrimToFit(userID string, count func(string) (int, error), budget int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	turns := s.users[userID]
	running := 0

	for i := len(turns) - 1; i >= 0; i-- {
		n, err := count(turns[i].Rendered())
		if err != nil {
			return 0, err
		}

		running += n
		if running >= budget {
			s.users[userID] = turns[i+1:]
			return i + 1, nil
		}
	}

	return 0, nil
}

// Reset discards every user's history wholesale.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.users = make(map[string][]core.Turn)
}
