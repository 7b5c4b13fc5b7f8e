package navigation

import (
	"errors"
	"testing"
)

func TestHappyPath(t *testing.T) {
	m := New(ModeBrowse)
	steps := []struct {
		name string
		do   func() (State, error)
		want State
	}{
		{"open", func() (State, error) { return m.Open("a") }, State{ScreenFocus, "a", ModeBrowse}},
		{"select", func() (State, error) { return m.Select("b") }, State{ScreenFocus, "b", ModeBrowse}},
		{"open map", m.OpenMap, State{ScreenMap, "b", ModeBrowse}},
		{"browse", func() (State, error) { return m.SelectInMap("c") }, State{ScreenMap, "c", ModeBrowse}},
		{"close map", m.CloseMap, State{ScreenFocus, "c", ModeBrowse}},
		{"back", m.Back, State{ScreenList, "c", ModeBrowse}},
	}
	for _, st := range steps {
		got, err := st.do()
		if err != nil {
			t.Fatalf("%s: %v", st.name, err)
		}
		if got != st.want {
			t.Fatalf("%s: state = %+v, want %+v", st.name, got, st.want)
		}
	}
}

func TestSelectInMap_ExitMode(t *testing.T) {
	m := New(ModeExitOnSelect)
	_, _ = m.Open("a")
	_, _ = m.OpenMap()
	got, err := m.SelectInMap("z")
	if err != nil {
		t.Fatal(err)
	}
	if got.Screen != ScreenFocus || got.Focus != "z" {
		t.Errorf("state = %+v", got)
	}
}

func TestIllegalTransitionsLeaveStateUnchanged(t *testing.T) {
	m := New(ModeBrowse)
	for name, do := range map[string]func() (State, error){
		"back":      m.Back,
		"open map":  m.OpenMap,
		"close map": m.CloseMap,
		"select":    func() (State, error) { return m.Select("x") },
		"in map":    func() (State, error) { return m.SelectInMap("x") },
	} {
		got, err := do()
		if !errors.Is(err, ErrIllegalTransition) {
			t.Errorf("%s: err = %v", name, err)
		}
		if got.Screen != ScreenList || got.Focus != "" {
			t.Errorf("%s: state changed to %+v", name, got)
		}
	}
}

func TestNoteDeleted(t *testing.T) {
	m := New(ModeBrowse)
	_, _ = m.Open("a")
	_, _ = m.OpenMap()

	if s := m.NoteDeleted("other"); s.Screen != ScreenMap {
		t.Errorf("unrelated delete moved to %s", s.Screen)
	}
	if s := m.NoteDeleted("a"); s.Screen != ScreenList || s.Focus != "" {
		t.Errorf("state = %+v, want list with no focus", s)
	}
}

func TestUnknownModeDefaultsToBrowse(t *testing.T) {
	if got := New("weird").State().Mode; got != ModeBrowse {
		t.Errorf("mode = %s", got)
	}
}
