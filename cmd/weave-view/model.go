// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/bureau-foundation/weave/client"
	"github.com/bureau-foundation/weave/event"
)

// stateChangedMsg signals that the connection applied a sync delta
// and the view should re-derive everything it shows.
type stateChangedMsg struct{}

// syncFailedMsg carries a terminal sync loop error (auth failure).
type syncFailedMsg struct{ err error }

// historyFetchedMsg reports the outcome of a backfill request.
type historyFetchedMsg struct{ err error }

const roomListWidth = 32

var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("81")).
			Bold(true)
	faintStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("242"))
	selectedStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("24")).
			Foreground(lipgloss.Color("255"))
	unreadStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")).
			Bold(true)
	senderStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("150"))
	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("203"))
	roomListStyle = lipgloss.NewStyle().
			Width(roomListWidth).
			BorderStyle(lipgloss.NormalBorder()).
			BorderRight(true).
			BorderForeground(lipgloss.Color("238"))
)

// model is the top-level bubbletea model. It holds no room state of
// its own: every redraw re-reads the Connection, whose accessors
// return consistent copies. The selected room is tracked by ID so
// selection survives the list reordering under it.
type model struct {
	conn *client.Connection

	rooms      []*client.Room
	selectedID string

	// scroll is how many timeline entries the view is scrolled up
	// from the newest. Zero means pinned to the bottom.
	scroll   int
	fetching bool

	width  int
	height int

	statusError error
}

func newModel(conn *client.Connection) model {
	m := model{conn: conn}
	m.refreshRooms()
	return m
}

// refreshRooms re-derives the sorted joined-room list. Invited rooms
// sort first so a pending invite is visible; within a group rooms
// order by display name.
func (m *model) refreshRooms() {
	rooms := m.conn.Rooms()
	joined := rooms[:0]
	for _, room := range rooms {
		if room.JoinState() != client.JoinStateLeave {
			joined = append(joined, room)
		}
	}
	sort.Slice(joined, func(i, j int) bool {
		a, b := joined[i], joined[j]
		if (a.JoinState() == client.JoinStateInvite) != (b.JoinState() == client.JoinStateInvite) {
			return a.JoinState() == client.JoinStateInvite
		}
		return a.DisplayName() < b.DisplayName()
	})
	m.rooms = joined

	if m.selectedIndex() < 0 && len(m.rooms) > 0 {
		m.selectedID = m.rooms[0].ID().String()
	}
}

func (m *model) selectedIndex() int {
	for i, room := range m.rooms {
		if room.ID().String() == m.selectedID {
			return i
		}
	}
	return -1
}

func (m *model) selectedRoom() *client.Room {
	if i := m.selectedIndex(); i >= 0 {
		return m.rooms[i]
	}
	return nil
}

func (m *model) moveSelection(delta int) {
	if len(m.rooms) == 0 {
		return
	}
	index := m.selectedIndex()
	if index < 0 {
		index = 0
	}
	index += delta
	if index < 0 {
		index = 0
	}
	if index >= len(m.rooms) {
		index = len(m.rooms) - 1
	}
	m.selectedID = m.rooms[index].ID().String()
	m.scroll = 0
}

// fetchHistory kicks off one backfill page for the selected room.
// The connection's own single-flight guard makes a repeat keypress
// during a fetch a no-op, but tracking it here lets the view show a
// loading marker.
func (m *model) fetchHistory() tea.Cmd {
	room := m.selectedRoom()
	if room == nil || m.fetching {
		return nil
	}
	m.fetching = true
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return historyFetchedMsg{err: room.FetchEarlierPage(ctx)}
	}
}

func (m model) Init() tea.Cmd { return nil }

func (m model) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch message := message.(type) {
	case tea.WindowSizeMsg:
		m.width = message.Width
		m.height = message.Height

	case stateChangedMsg:
		m.refreshRooms()

	case syncFailedMsg:
		m.statusError = message.err

	case historyFetchedMsg:
		m.fetching = false
		if message.err != nil {
			m.statusError = message.err
		}

	case tea.KeyMsg:
		switch message.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "up", "k":
			m.moveSelection(-1)
		case "down", "j":
			m.moveSelection(1)
		case "pgup":
			m.scroll += m.timelineHeight() / 2
		case "pgdown":
			m.scroll -= m.timelineHeight() / 2
			if m.scroll < 0 {
				m.scroll = 0
			}
		case "b":
			return m, m.fetchHistory()
		}
	}
	return m, nil
}

// timelineHeight is the number of event rows the right pane can show.
// Two rows go to the room header, one to the status line.
func (m model) timelineHeight() int {
	height := m.height - 3
	if height < 1 {
		return 1
	}
	return height
}

func (m model) View() string {
	if m.width == 0 {
		return "loading..."
	}
	left := m.renderRoomList()
	right := m.renderTimeline()
	body := lipgloss.JoinHorizontal(lipgloss.Top, left, right)
	return lipgloss.JoinVertical(lipgloss.Left, body, m.renderStatus())
}

func (m model) renderRoomList() string {
	lines := make([]string, 0, len(m.rooms)+1)
	lines = append(lines, headerStyle.Render("Rooms"))
	selected := m.selectedIndex()
	for i, room := range m.rooms {
		label := truncate(room.DisplayName(), roomListWidth-6)
		if room.JoinState() == client.JoinStateInvite {
			label = "? " + label
		}
		if _, notifications := room.UnreadCounts(); notifications > 0 {
			label = fmt.Sprintf("%s %s", label, unreadStyle.Render(fmt.Sprintf("(%d)", notifications)))
		}
		if i == selected {
			label = selectedStyle.Render(label)
		}
		lines = append(lines, label)
	}
	return roomListStyle.Height(m.height - 1).Render(strings.Join(lines, "\n"))
}

func (m model) renderTimeline() string {
	room := m.selectedRoom()
	width := m.width - roomListWidth - 2
	if room == nil {
		return faintStyle.Render("no rooms yet")
	}

	header := headerStyle.Render(truncate(room.DisplayName(), width))
	if topic := room.Topic(); topic != "" {
		header += "\n" + faintStyle.Render(truncate(topic, width))
	} else {
		header += "\n"
	}

	timeline := room.Timeline()
	visible := m.timelineHeight()
	end := len(timeline) - m.scroll
	if end > len(timeline) {
		end = len(timeline)
	}
	if end < 0 {
		end = 0
	}
	start := end - visible
	if start < 0 {
		start = 0
	}

	lines := make([]string, 0, visible)
	if m.fetching {
		lines = append(lines, faintStyle.Render("fetching history..."))
	}
	for _, ev := range timeline[start:end] {
		lines = append(lines, m.renderEvent(room, ev, width))
	}
	body := strings.Join(lines, "\n")
	return lipgloss.JoinVertical(lipgloss.Left, header, body)
}

// renderEvent formats one timeline entry. Senders render with their
// per-room member name, so namesakes show disambiguated.
func (m model) renderEvent(room *client.Room, ev event.Event, width int) string {
	stamp := faintStyle.Render(ev.Timestamp.Local().Format("15:04"))
	sender := "?"
	if !ev.Sender.IsZero() {
		sender = room.MemberName(m.conn.User(ev.Sender))
	}

	var body string
	faint := false
	switch content := ev.Content.(type) {
	case event.MessageContent:
		if content.MsgType == "m.emote" {
			return fmt.Sprintf("%s * %s %s", stamp, senderStyle.Render(sender), truncate(content.Body, width))
		}
		body = content.Body
	case event.MemberContent:
		body, faint = fmt.Sprintf("membership: %s", content.Membership), true
	case event.NameContent:
		body, faint = fmt.Sprintf("set the room name to %q", content.Name), true
	case event.TopicContent:
		body, faint = fmt.Sprintf("set the topic to %q", content.Topic), true
	default:
		body, faint = string(ev.Type), true
	}

	body = truncate(body, width)
	if faint {
		body = faintStyle.Render(body)
	}
	return fmt.Sprintf("%s %s: %s", stamp, senderStyle.Render(sender), body)
}

func (m model) renderStatus() string {
	if m.statusError != nil {
		return errorStyle.Render(truncate("sync stopped: "+m.statusError.Error(), m.width))
	}
	room := m.selectedRoom()
	if room == nil {
		return faintStyle.Render("q quit")
	}
	parts := []string{fmt.Sprintf("%d members", len(room.Members()))}
	if typing := room.UsersTyping(); len(typing) > 0 {
		names := make([]string, len(typing))
		for i, user := range typing {
			names[i] = room.MemberName(user)
		}
		parts = append(parts, strings.Join(names, ", ")+" typing...")
	}
	parts = append(parts, "j/k rooms  pgup/pgdn scroll  b history  q quit")
	return faintStyle.Render(truncate(strings.Join(parts, "  |  "), m.width))
}

func truncate(s string, max int) string {
	if max < 1 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}
