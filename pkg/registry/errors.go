package registry

import "fmt"

// TaskError is the base type for all registry errors.
type TaskError struct {
	TaskID  string
	Message string
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %q: %s", e.TaskID, e.Message)
}

// ConflictError is returned when a write-once slot already holds a different value.
type ConflictError struct{ TaskError }

// IllegalTransitionError is returned when an operation's state precondition is not met.
type IllegalTransitionError struct {
	TaskError
	From State
	To   State
}

// UnknownTaskError is returned when an operation requires an existing record.
type UnknownTaskError struct{ TaskError }

func conflict(taskID, format string, a ...any) error {
	return &ConflictError{TaskError{TaskID: taskID, Message: fmt.Sprintf(format, a...)}}
}

func illegalTransition(taskID string, from, to State, format string, a ...any) error {
	return &IllegalTransitionError{
		TaskError: TaskError{TaskID: taskID, Message: fmt.Sprintf(format, a...)},
		From:      from,
		To:        to,
	}
}

func unknownTask(taskID string) error {
	return &UnknownTaskError{TaskError{TaskID: taskID, Message: "no such task"}}
}
