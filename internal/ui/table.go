package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	prettytable "github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/BioHazard786/meshroom/internal/mesh"
)

// byteCounter is implemented by connections that count received media.
type byteCounter interface {
	BytesReceived() int64
}

func bytesOf(v mesh.PeerView) int64 {
	if c, ok := v.Conn.(byteCounter); ok {
		return c.BytesReceived()
	}
	return 0
}

func peerName(v mesh.PeerView) string {
	if v.Name == "" {
		return MutedStyle.Render("-")
	}
	return truncate(v.Name, 20)
}

func stateLabel(s mesh.State) string {
	switch s {
	case mesh.StateStreamReady:
		return readyStyle.Render(s.String())
	case mesh.StateReleased:
		return releasedStyle.Render(s.String())
	case mesh.StateNegotiatingLocal, mesh.StateNegotiatingRemote:
		return negotiatingStyle.Render(s.String())
	default:
		return s.String()
	}
}

func roleLabel(r mesh.Role) string {
	if r == mesh.RoleInitiator {
		return initiatorStyle.Render(r.String())
	}
	return r.String()
}

func linkLabel(link string) string {
	switch link {
	case "":
		return "-"
	case "connected":
		return IconLink + " " + link
	default:
		return link
	}
}

// RosterView renders the peer set using lipgloss/table.
func RosterView(peers []mesh.PeerView) string {
	if len(peers) == 0 {
		return MutedStyle.Render("No other participants yet")
	}

	rows := make([][]string, 0, len(peers))
	for i, p := range peers {
		rows = append(rows, []string{
			fmt.Sprintf("%d", i+1),
			truncate(string(p.ID), 12),
			peerName(p),
			roleLabel(p.Role),
			stateLabel(p.State),
			linkLabel(p.Link),
			FormatBytes(bytesOf(p)),
		})
	}

	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers("#", "Peer", "Name", "Role", "State", "Link", "Received").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return TableHeaderStyle
			case row%2 == 0:
				return TableRowStyle
			default:
				return TableRowAltStyle
			}
		})

	return tbl.Render()
}

// RenderRoster outputs the peer table directly to stdout
func RenderRoster(peers []mesh.PeerView) {
	fmt.Println(RosterView(peers))
}

// RoomSummary is one row of the relay's room list.
type RoomSummary struct {
	ID        string    `json:"id"`
	Members   int       `json:"members"`
	CreatedAt time.Time `json:"created_at"`
}

// RoomsView renders the relay's active rooms using go-pretty.
func RoomsView(rooms []RoomSummary, now time.Time) string {
	if len(rooms) == 0 {
		return MutedStyle.Render("No active rooms")
	}

	t := prettytable.NewWriter()
	t.SetStyle(prettytable.StyleRounded)
	t.Style().Color.Header = text.Colors{text.FgCyan, text.Bold}
	t.AppendHeader(prettytable.Row{"Room", "Members", "Open for"})

	total := 0
	for _, r := range rooms {
		t.AppendRow(prettytable.Row{r.ID, r.Members, now.Sub(r.CreatedAt).Truncate(time.Second).String()})
		total += r.Members
	}
	t.AppendFooter(prettytable.Row{fmt.Sprintf("%d rooms", len(rooms)), total, ""})

	return t.Render()
}

type RoomInfo struct {
	RoomID   string
	RoomLink string
}

func NewRoomInfo(roomID, roomLink string) *RoomInfo {
	return &RoomInfo{
		RoomID:   roomID,
		RoomLink: roomLink,
	}
}

func (r *RoomInfo) View() string {
	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.DoubleBorder()).
		BorderForeground(Success).
		Padding(1, 2)

	var b strings.Builder
	fmt.Fprintf(&b, "%s Room Created!\n\n%s Room ID:    %s", IconSuccess, IconCopy, BoldStyle.Foreground(Primary).Render(r.RoomID))
	if r.RoomLink != "" {
		fmt.Fprintf(&b, "\n%s Room Link:  %s", IconWeb, MutedStyle.Render(r.RoomLink))
	}
	fmt.Fprintf(&b, "\n\n%s", MutedStyle.Render("Share it, then run: meshroom join "+r.RoomID))

	return boxStyle.Render(b.String())
}
