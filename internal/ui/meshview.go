package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/BioHazard786/meshroom/internal/mesh"
)

const refreshInterval = 500 * time.Millisecond

type peerMsg struct {
	view  mesh.PeerView
	ready bool
}

type peerGoneMsg struct {
	id mesh.ParticipantID
}

type statusMsg string

type refreshMsg time.Time

// MeshView is the live terminal view of a room. It implements mesh.Observer;
// observer calls only queue a message and never wait for the terminal.
type MeshView struct {
	program *tea.Program
	model   *meshModel
	updates chan tea.Msg
	wg      sync.WaitGroup
}

type meshModel struct {
	room    string
	self    string
	status  string
	order   []mesh.ParticipantID
	peers   map[mesh.ParticipantID]mesh.PeerView
	ready   map[mesh.ParticipantID]bool
	spinner spinner.Model
	updates chan tea.Msg

	leave     chan struct{}
	leaveOnce sync.Once
	quitting  bool
}

func NewMeshView(room, self string) *MeshView {
	updates := make(chan tea.Msg, 256)
	return &MeshView{
		model:   newMeshModel(room, self, updates),
		updates: updates,
	}
}

func newMeshModel(room, self string, updates chan tea.Msg) *meshModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	return &meshModel{
		room:    room,
		self:    self,
		status:  IconWaiting + " Waiting for the roster...",
		peers:   make(map[mesh.ParticipantID]mesh.PeerView),
		ready:   make(map[mesh.ParticipantID]bool),
		spinner: s,
		updates: updates,
		leave:   make(chan struct{}),
	}
}

// Start runs the view in a goroutine, drawing to out.
func (v *MeshView) Start(out io.Writer) {
	v.program = tea.NewProgram(v.model, tea.WithOutput(out))
	v.wg.Add(1)
	go func() {
		defer v.wg.Done()
		if _, err := v.program.Run(); err != nil {
			PrintErrorf("UI error: %v", err)
		}
	}()
}

// Stop ends the view and waits for the terminal to be restored.
func (v *MeshView) Stop() {
	if v.program != nil {
		v.program.Quit()
	}
	v.wg.Wait()
}

// Left is closed when the user asks to leave the room.
func (v *MeshView) Left() <-chan struct{} {
	return v.model.leave
}

func (v *MeshView) SetStatus(status string) {
	v.send(statusMsg(status))
}

func (v *MeshView) PeerAdded(p mesh.PeerView)   { v.send(peerMsg{view: p}) }
func (v *MeshView) PeerChanged(p mesh.PeerView) { v.send(peerMsg{view: p}) }
func (v *MeshView) StreamReady(p mesh.PeerView) { v.send(peerMsg{view: p, ready: true}) }

func (v *MeshView) PeerRemoved(id mesh.ParticipantID) {
	v.send(peerGoneMsg{id: id})
}

// send drops the update when the view is far behind; the next refresh
// redraws from the latest state it has.
func (v *MeshView) send(msg tea.Msg) {
	select {
	case v.updates <- msg:
	default:
	}
}

func (m *meshModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.listenForUpdates(), refresh())
}

func (m *meshModel) listenForUpdates() tea.Cmd {
	return func() tea.Msg {
		return <-m.updates
	}
}

func refresh() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return refreshMsg(t)
	})
}

func (m *meshModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			m.leaveOnce.Do(func() { close(m.leave) })
			return m, tea.Quit
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case refreshMsg:
		if m.quitting {
			return m, nil
		}
		return m, refresh()

	case peerMsg:
		if _, ok := m.peers[msg.view.ID]; !ok {
			m.order = append(m.order, msg.view.ID)
		}
		m.peers[msg.view.ID] = msg.view
		if msg.ready {
			m.ready[msg.view.ID] = true
		}
		m.status = fmt.Sprintf("%d connected", m.connected())
		return m, m.listenForUpdates()

	case peerGoneMsg:
		delete(m.peers, msg.id)
		delete(m.ready, msg.id)
		for i, id := range m.order {
			if id == msg.id {
				m.order = append(m.order[:i], m.order[i+1:]...)
				break
			}
		}
		m.status = fmt.Sprintf("%s left", truncate(string(msg.id), 12))
		return m, m.listenForUpdates()

	case statusMsg:
		m.status = string(msg)
		return m, m.listenForUpdates()
	}

	return m, nil
}

func (m *meshModel) connected() int {
	return len(m.ready)
}

func (m *meshModel) views() []mesh.PeerView {
	out := make([]mesh.PeerView, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.peers[id])
	}
	return out
}

func (m *meshModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(TitleStyle.Render(fmt.Sprintf("%s Room %s", IconRoom, m.room)))
	fmt.Fprintf(&b, "\n%s\n\n", MutedStyle.Render(IconPeer+" you are "+truncate(m.self, 12)))
	fmt.Fprintf(&b, "%s %s %s\n\n",
		m.spinner.View(),
		StatusStyle.Render(fmt.Sprintf("%s %d/%d", IconConnect, m.connected(), len(m.order))),
		m.status,
	)
	b.WriteString(RosterView(m.views()))
	b.WriteString("\n\n" + MutedStyle.Render("Press q to leave"))

	return b.String()
}
