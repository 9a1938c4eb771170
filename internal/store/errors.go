package store

import (
	"errors"
	"fmt"

	"github.com/fridaybazar/bazar/internal/models"
)

var (
	ErrUserNotFound  = errors.New("user not found")
	ErrOrderNotFound = errors.New("order not found")
	// ErrAlreadyProcessed means a guarded transition lost: the order is no
	// longer in the state the event requires. Races make this a normal outcome.
	ErrAlreadyProcessed = errors.New("order already processed")
	ErrUnknownEvent     = errors.New("unknown order event")
)

// TransitionError describes a refused transition. It matches ErrAlreadyProcessed.
type TransitionError struct {
	OrderID string
	Event   models.OrderEvent
	Current models.OrderStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("order %s: cannot apply %s in status %s", e.OrderID, e.Event, e.Current)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrAlreadyProcessed
}
