package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/BioHazard786/meshroom/internal/config"
	"github.com/BioHazard786/meshroom/internal/ui"
	"github.com/BioHazard786/meshroom/internal/version"
)

// Flags shared by every command that talks to the relay.
var (
	flagServer   string
	flagSTUN     string
	flagTURN     string
	flagTURNUser string
	flagTURNPass string
	flagRelay    bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "meshroom",
	Short: "Full-mesh WebRTC video rooms from the terminal",
	Long: `meshroom joins small video rooms where every participant connects directly to
every other one. A lightweight relay only introduces participants and carries their
connection negotiation; media never passes through it.`,
	Version: version.Version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		ui.PrintError(err.Error())
		stop()
		os.Exit(1)
	}
}

func sharedOptions() config.Options {
	return config.Options{
		Server:     flagServer,
		STUNServer: flagSTUN,
		TURNServer: flagTURN,
		TURNUser:   flagTURNUser,
		TURNPass:   flagTURNPass,
		ForceRelay: flagRelay,
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagServer, "server", "", "Relay host or websocket URL")
	pf.StringVarP(&flagSTUN, "stun", "s", "", "STUN servers, comma separated")
	pf.StringVarP(&flagTURN, "turn", "t", "", "TURN server")
	pf.StringVarP(&flagTURNUser, "turn-user", "u", "", "TURN username")
	pf.StringVarP(&flagTURNPass, "turn-pass", "p", "", "TURN password")
	pf.BoolVarP(&flagRelay, "relay", "r", false, "Force relay mode")
}
