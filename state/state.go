// state/state.go
package state

import (
	"errors"
	"fmt"
	"sync"

	"github.com/wfunc/werewolfserver/models"
)

// ErrTransitionNotAllowed is returned when a status transition is not allowed.
var ErrTransitionNotAllowed = errors.New("state transition not allowed")

// Guard 转换条件, returns nil when the game may take the edge.
type Guard func(game models.Game) error

// Machine is a guarded transition table over game statuses. It holds no game
// of its own; callers check a game against it before writing to the store.
type Machine struct {
	transitions map[models.GameStatus]map[models.GameStatus]Guard // from -> to -> guard
	mutex       sync.RWMutex
}

func NewMachine() *Machine {
	return &Machine{
		transitions: make(map[models.GameStatus]map[models.GameStatus]Guard),
	}
}

// NewGameMachine returns the lifecycle setup -> signup -> active -> ended.
// Any open game may be ended.
func NewGameMachine() *Machine {
	m := NewMachine()
	m.AddTransition(models.StatusSetup, models.StatusSignup, nil)
	m.AddTransition(models.StatusSignup, models.StatusActive, nil)
	for _, from := range models.OpenStatuses {
		m.AddTransition(from, models.StatusEnded, nil)
	}
	return m
}

func (m *Machine) AddTransition(from, to models.GameStatus, guard Guard) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if _, exists := m.transitions[from]; !exists {
		m.transitions[from] = make(map[models.GameStatus]Guard)
	}
	m.transitions[from][to] = guard
}

// Check reports whether game may move to the given status.
func (m *Machine) Check(game models.Game, to models.GameStatus) error {
	m.mutex.RLock()
	guard, exists := m.transitions[game.Status][to]
	m.mutex.RUnlock()

	if !exists {
		return fmt.Errorf("%w: %s -> %s", ErrTransitionNotAllowed, game.Status, to)
	}
	if guard != nil {
		if err := guard(game); err != nil {
			return err
		}
	}
	return nil
}

// Sources lists the statuses that have an edge into to.
func (m *Machine) Sources(to models.GameStatus) []models.GameStatus {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	var out []models.GameStatus
	for _, from := range []models.GameStatus{models.StatusSetup, models.StatusSignup, models.StatusActive, models.StatusEnded} {
		if _, ok := m.transitions[from][to]; ok {
			out = append(out, from)
		}
	}
	return out
}

// NextPhase 昼夜交替: day N goes to night N, night N goes to day N+1.
func NextPhase(dayPhase bool, dayNumber int) (bool, int) {
	if dayPhase {
		return false, dayNumber
	}
	return true, dayNumber + 1
}
