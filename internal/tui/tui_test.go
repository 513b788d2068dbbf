package tui

import (
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"cryptopulse/internal/core"
)

func keyMsg(r rune) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}}
}

func watchModel(narratives ...core.Narrative) model {
	m := initialModel(nil, time.Minute)
	m.narratives = narratives
	m.width = 120
	return m
}

func TestSelectionStaysInBounds(t *testing.T) {
	m := watchModel(core.Narrative{ID: "a"}, core.Narrative{ID: "b"})

	for i := 0; i < 4; i++ {
		next, _ := m.Update(keyMsg('j'))
		m = next.(model)
	}
	if m.selectedIdx != 1 {
		t.Errorf("selectedIdx = %d after paging down, want 1", m.selectedIdx)
	}

	for i := 0; i < 4; i++ {
		next, _ := m.Update(keyMsg('k'))
		m = next.(model)
	}
	if m.selectedIdx != 0 {
		t.Errorf("selectedIdx = %d after paging up, want 0", m.selectedIdx)
	}
}

func TestFailedRefreshKeepsLastList(t *testing.T) {
	m := watchModel(core.Narrative{ID: "a", Title: "ETF flows"})

	next, _ := m.Update(refreshedMsg{err: errors.New("store down")})
	m = next.(model)

	if len(m.narratives) != 1 {
		t.Errorf("narratives dropped on failed refresh: %d", len(m.narratives))
	}
	if m.lastErr == nil {
		t.Error("lastErr not recorded")
	}
	if !strings.Contains(m.View(), "refresh failed") {
		t.Error("view does not surface the refresh error")
	}
}

func TestRefreshClampsSelection(t *testing.T) {
	m := watchModel(make([]core.Narrative, 10)...)
	m.selectedIdx = 8

	next, _ := m.Update(refreshedMsg{narratives: []core.Narrative{{ID: "only"}}})
	m = next.(model)

	if m.selectedIdx != 0 {
		t.Errorf("selectedIdx = %d after shrink, want 0", m.selectedIdx)
	}
	if m.lastErr != nil {
		t.Errorf("lastErr = %v", m.lastErr)
	}
}

func TestViewRendersNarrativeRows(t *testing.T) {
	m := watchModel(core.Narrative{
		ID:             "n1",
		Title:          "Bitcoin ETF inflows accelerate",
		NucleusEntity:  "Bitcoin",
		LifecycleState: core.StateHot,
		Velocity:       4.2,
		ArticleCount:   17,
	})

	view := m.View()
	if !strings.Contains(view, "Bitcoin ETF inflows accelerate") {
		t.Error("view missing narrative title")
	}
	if !strings.Contains(view, "hot") {
		t.Error("view missing lifecycle state")
	}
}

func TestQuitKeys(t *testing.T) {
	m := watchModel()
	next, cmd := m.Update(keyMsg('q'))
	if cmd == nil {
		t.Fatal("q should quit")
	}
	if !next.(model).quitting {
		t.Error("quitting flag not set")
	}
}
