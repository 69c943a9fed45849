package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/BioHazard786/meshroom/internal/ui"
)

var roomsCmd = &cobra.Command{
	Use:   "rooms",
	Short: "List the relay's active rooms",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := LoadConfig(sharedOptions())
		if err != nil {
			return err
		}

		stopSpinner := ui.RunSpinner("Fetching rooms...")
		rooms, err := fetchRooms(cmd.Context(), cfg.HTTPURL("/rooms"))
		stopSpinner()
		if err != nil {
			return err
		}

		fmt.Println(ui.RoomsView(rooms, time.Now()))
		return nil
	},
}

func fetchRooms(ctx context.Context, url string) ([]ui.RoomSummary, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch rooms: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch rooms: relay answered %s", resp.Status)
	}

	var rooms []ui.RoomSummary
	if err := json.NewDecoder(resp.Body).Decode(&rooms); err != nil {
		return nil, fmt.Errorf("decode rooms: %w", err)
	}
	return rooms, nil
}

func init() {
	rootCmd.AddCommand(roomsCmd)
}
