package cli

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/BioHazard786/meshroom/internal/capture"
	"github.com/BioHazard786/meshroom/internal/media"
	"github.com/BioHazard786/meshroom/internal/mesh"
	"github.com/BioHazard786/meshroom/internal/ui"
)

// leaveTimeout bounds how long leaving waits for the mesh to be torn down.
const leaveTimeout = 5 * time.Second

var (
	flagVideo     string
	flagAudio     string
	flagName      string
	flagNoTrickle bool
	flagNoLoop    bool
)

var joinCmd = &cobra.Command{
	Use:     "join <room-id|url>",
	Aliases: []string{"j"},
	Short:   "Join a room and stream local media to everyone in it",
	Long: `Join a room, connect directly to every participant already there and to everyone
who joins later, and stream the given files as your camera and microphone.

Examples:
  meshroom join sleepy-otter-lantern --video clip.ivf --audio voice.ogg
  meshroom join https://meet.example.com/r/sleepy-otter-lantern --video clip.ivf
  meshroom join sleepy-otter-lantern --audio voice.ogg --relay --turn turn.example.com`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		room, err := parseRoomInput(args[0])
		if err != nil {
			return err
		}
		return joinRoom(cmd.Context(), mesh.RoomID(room))
	},
}

func joinRoom(ctx context.Context, room mesh.RoomID) error {
	opts := sharedOptions()
	opts.Name = flagName
	opts.NoTrickle = flagNoTrickle

	cfg, err := LoadConfig(opts)
	if err != nil {
		return err
	}

	// Capture comes first so a missing source never reaches the relay.
	stream, err := capture.Open(ctx, capture.Options{
		VideoPath: flagVideo,
		AudioPath: flagAudio,
		Loop:      !flagNoLoop,
	})
	if err != nil {
		return err
	}
	defer stream.Close()

	for _, src := range stream.Sources() {
		icon := ui.IconVideo
		if src.Kind == capture.KindAudio {
			icon = ui.IconAudio
		}
		ui.PrintInfof("%s %s (%s)", icon, src.Name, ui.FormatBytes(src.Size))
	}

	fmt.Println()
	sp := ui.NewConnectionSpinner("Connecting to relay...")
	sp.Start()
	conn, err := NewConnectionContext(ctx, cfg)
	if err != nil {
		sp.Error("Could not reach the relay")
		return err
	}
	defer conn.Close()
	sp.Success(fmt.Sprintf("Connected as %s", conn.Self))

	engine, err := media.NewEngine(cfg, media.Options{})
	if err != nil {
		return err
	}

	return runRoom(ctx, conn, engine, room, stream)
}

// runRoom drives the coordinator until the user leaves, the process is
// interrupted or the relay goes away.
func runRoom(ctx context.Context, conn *ConnectionContext, factory mesh.ConnectionFactory, room mesh.RoomID, stream mesh.LocalStream) error {
	view := ui.NewMeshView(string(room), string(conn.Self))
	coord := mesh.New(mesh.Config{
		Self:     conn.Self,
		Factory:  factory,
		Sender:   conn.Router,
		Observer: view,
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	runDone := make(chan error, 1)
	go func() { runDone <- coord.Run(runCtx) }()

	lost := make(chan struct{})
	go func() {
		conn.Router.Start(runCtx, coord)
		close(lost)
	}()

	if err := coord.Join(ctx, room, stream); err != nil {
		cancel()
		<-runDone
		return err
	}

	view.Start(os.Stdout)
	go func() {
		for text := range conn.Router.Errors() {
			view.SetStatus("relay: " + text)
		}
	}()

	var result error
	select {
	case <-view.Left():
	case <-ctx.Done():
	case <-lost:
		result = mesh.NewError("room", mesh.ErrChannelLost)
	}

	peers := coord.Peers()
	view.Stop()

	if result == nil {
		leaveCtx, cancelLeave := context.WithTimeout(context.Background(), leaveTimeout)
		if err := coord.Leave(leaveCtx); err != nil {
			ui.PrintWarningf("leave room: %v", err)
		}
		cancelLeave()
	}

	cancel()
	<-runDone

	fmt.Println()
	ui.RenderRoster(peers)
	if result == nil {
		ui.PrintSuccessf("Left room %s", room)
	}
	return result
}

func parseRoomInput(input string) (string, error) {
	if input == "" {
		return "", fmt.Errorf("room ID cannot be empty")
	}

	if strings.Contains(input, "://") {
		roomID, err := extractRoomIDFromURL(input)
		if err != nil {
			return "", err
		}
		ui.PrintSuccessf("Extracted room ID: %s", roomID)
		return roomID, nil
	}

	return input, nil
}

func extractRoomIDFromURL(urlStr string) (string, error) {
	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return "", mesh.NewError("parse URL", err)
	}

	path := strings.TrimSuffix(parsedURL.Path, "/")
	parts := strings.Split(path, "/")

	for i, part := range parts {
		if part == "r" && i+1 < len(parts) && parts[i+1] != "" {
			return parts[i+1], nil
		}
	}

	return "", fmt.Errorf("could not extract room ID from URL: %s", urlStr)
}

func init() {
	rootCmd.AddCommand(joinCmd)

	joinCmd.Flags().StringVar(&flagVideo, "video", "", "IVF file (VP8, VP9 or AV1) to stream as video")
	joinCmd.Flags().StringVar(&flagAudio, "audio", "", "Ogg Opus file to stream as audio")
	joinCmd.Flags().StringVarP(&flagName, "name", "n", "", "Name shown to other participants")
	joinCmd.Flags().BoolVar(&flagNoTrickle, "no-trickle", false, "Send one complete description instead of trickling candidates")
	joinCmd.Flags().BoolVar(&flagNoLoop, "no-loop", false, "Stop streaming when the files end")
}
