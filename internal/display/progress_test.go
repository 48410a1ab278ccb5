package display

import (
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
)

func TestNewProgressModel_StartsInLocationPhase(t *testing.T) {
	m := NewProgressModel("203.0.113.0/24", 10)

	view := m.View()
	if !strings.Contains(view, "location") {
		t.Errorf("expected initial phase to be location, got %q", view)
	}
	if !strings.Contains(view, "0/10") {
		t.Errorf("expected 0/10 targets done, got %q", view)
	}
}

func TestProgressModel_SetPhase_ReflectedInView(t *testing.T) {
	m := NewProgressModel("203.0.113.0/24", 10)

	m.SetPhase(PhaseCorrection)

	if !strings.Contains(m.View(), "correction") {
		t.Errorf("expected correction phase in view, got %q", m.View())
	}
}

func TestProgressModel_SetTotals_ReflectedInView(t *testing.T) {
	m := NewProgressModel("203.0.113.0/24", 10)

	m.SetTotals(4, 128)

	view := m.View()
	if !strings.Contains(view, "4/10") {
		t.Errorf("expected 4/10 targets done, got %q", view)
	}
	if !strings.Contains(view, "128") {
		t.Errorf("expected probe count 128 in view, got %q", view)
	}
}

func TestProgressModel_Finish_ShowsCompleteOnSuccess(t *testing.T) {
	m := NewProgressModel("203.0.113.0/24", 10)

	m.Finish(nil)

	if !strings.Contains(m.View(), "scan complete") {
		t.Errorf("expected completion marker, got %q", m.View())
	}
}

func TestProgressModel_Finish_ShowsErrorOnFailure(t *testing.T) {
	m := NewProgressModel("203.0.113.0/24", 10)

	m.Finish(errors.New("socket closed"))

	view := m.View()
	if !strings.Contains(view, "stopped") || !strings.Contains(view, "socket closed") {
		t.Errorf("expected a stopped message with the error, got %q", view)
	}
}

func TestProgressModel_Update_QuitsOnQKey(t *testing.T) {
	m := NewProgressModel("203.0.113.0/24", 10)

	msg := tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}}
	_, cmd := m.Update(msg)

	if cmd == nil {
		t.Error("expected tea.Quit command, got nil")
	}
}

func TestProgressModel_Update_TickAfterFinishQuits(t *testing.T) {
	m := NewProgressModel("203.0.113.0/24", 10)
	m.Finish(nil)

	_, cmd := m.Update(TickMsg{})

	if cmd == nil {
		t.Error("expected a quit command once the scan has finished")
	}
}
