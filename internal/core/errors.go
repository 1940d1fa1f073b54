package core

import "errors"

var (
	// ErrEmptyHistory is returned when popping a turn from a history that
	// has none. Callers guard against this; seeing it is a bug.
	ErrEmptyHistory = errors.New("history is empty")

	// ErrPromptTooLarge is returned when the newest turn alone, together
	// with the persona preamble, meets or exceeds the prompt budget.
	ErrPromptTooLarge = errors.New("message does not fit the prompt budget")
)
