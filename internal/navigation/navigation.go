// Package navigation models which screen a client is on as a small state
// machine, so selection changes and screen changes stay explicit.
package navigation

import (
	"errors"
	"fmt"
	"sync"
)

// ErrIllegalTransition is returned when an event is not valid in the
// current state. The state is left unchanged.
var ErrIllegalTransition = errors.New("illegal transition")

// Screen is a navigation state.
type Screen string

const (
	ScreenList  Screen = "list"
	ScreenFocus Screen = "focus"
	ScreenMap   Screen = "map"
)

// SelectMode decides what a node click in the map does.
type SelectMode string

const (
	// ModeBrowse keeps the map open and only moves the focus.
	ModeBrowse SelectMode = "browse"
	// ModeExitOnSelect moves the focus and returns to the focus screen.
	ModeExitOnSelect SelectMode = "exit"
)

// State is a snapshot of the machine.
type State struct {
	Screen Screen     `json:"screen"`
	Focus  string     `json:"focus,omitempty"`
	Mode   SelectMode `json:"mode"`
}

// Machine is safe for concurrent use.
type Machine struct {
	mu    sync.Mutex
	state State
}

// New starts on the list screen.
func New(mode SelectMode) *Machine {
	if mode != ModeExitOnSelect {
		mode = ModeBrowse
	}
	return &Machine{state: State{Screen: ScreenList, Mode: mode}}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Machine) transition(event string, from []Screen, apply func(*State)) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range from {
		if m.state.Screen == s {
			apply(&m.state)
			return m.state, nil
		}
	}
	return m.state, fmt.Errorf("navigation: %s from %s: %w", event, m.state.Screen, ErrIllegalTransition)
}

// Open moves from the list to the focus screen on id.
func (m *Machine) Open(id string) (State, error) {
	return m.transition("open", []Screen{ScreenList}, func(s *State) {
		s.Screen, s.Focus = ScreenFocus, id
	})
}

// Select follows a link from the focus screen, staying on it.
func (m *Machine) Select(id string) (State, error) {
	return m.transition("select", []Screen{ScreenFocus}, func(s *State) {
		s.Focus = id
	})
}

// Back returns from the focus screen to the list.
func (m *Machine) Back() (State, error) {
	return m.transition("back", []Screen{ScreenFocus}, func(s *State) {
		s.Screen = ScreenList
	})
}

// OpenMap moves from the focus screen to the map around the current focus.
func (m *Machine) OpenMap() (State, error) {
	return m.transition("open_map", []Screen{ScreenFocus}, func(s *State) {
		s.Screen = ScreenMap
	})
}

// CloseMap returns from the map to the focus screen on the current focus.
func (m *Machine) CloseMap() (State, error) {
	return m.transition("close_map", []Screen{ScreenMap}, func(s *State) {
		s.Screen = ScreenFocus
	})
}

// SelectInMap moves the focus to id. In ModeExitOnSelect it also leaves
// the map.
func (m *Machine) SelectInMap(id string) (State, error) {
	return m.transition("select_in_map", []Screen{ScreenMap}, func(s *State) {
		s.Focus = id
		if s.Mode == ModeExitOnSelect {
			s.Screen = ScreenFocus
		}
	})
}

// NoteDeleted reacts to the deletion of id: when it is the active focus the
// machine falls back to the list. It is valid in every state.
func (m *Machine) NoteDeleted(id string) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Focus == id {
		m.state.Focus = ""
		m.state.Screen = ScreenList
	}
	return m.state
}
