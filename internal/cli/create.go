package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/BioHazard786/meshroom/internal/ui"
)

var createCmd = &cobra.Command{
	Use:     "create",
	Aliases: []string{"c"},
	Short:   "Reserve a memorable room name",
	Long: `Ask the relay for an unused room name and print it. Rooms exist while someone
is in them, so share the name and join it right away.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := LoadConfig(sharedOptions())
		if err != nil {
			return err
		}

		fmt.Println()
		sp := ui.NewConnectionSpinner("Connecting to relay...")
		sp.Start()
		conn, err := NewConnectionContext(cmd.Context(), cfg)
		if err != nil {
			sp.Error("Could not reach the relay")
			return err
		}
		defer conn.Close()

		sp.UpdateMessage("Reserving a room name...")
		room, err := conn.Router.CreateRoom(cmd.Context())
		if err != nil {
			sp.Error("The relay did not issue a room name")
			return fmt.Errorf("create room: %w", err)
		}
		sp.Stop()

		fmt.Println(ui.NewRoomInfo(string(room), cfg.GetRoomLink(string(room))).View())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(createCmd)
}
