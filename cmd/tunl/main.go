// tunl is the tunnel agent CLI.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/tunlfit/agent/internal/agentversion"
	"github.com/tunlfit/agent/internal/reconnect"
	"github.com/tunlfit/agent/internal/tunnel"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "tunl",
	Short: "Expose a local HTTP service through a reverse tunnel",
}

var (
	flagServerURL   string
	flagToken       string
	flagSubdomain   string
	flagHost        string
	flagNoReconnect bool
)

var httpCmd = &cobra.Command{
	Use:   "http <port>",
	Short: "Expose a local HTTP service",
	Args:  cobra.ExactArgs(1),
	RunE:  runHTTPTunnel,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagServerURL, "server", "s", os.Getenv("TUNL_SERVER"), "tunnel server URL")
	rootCmd.PersistentFlags().StringVarP(&flagToken, "token", "t", "", "authentication token (default: $TUNL_TOKEN)")

	httpCmd.Flags().StringVar(&flagSubdomain, "subdomain", "", "requested subdomain (a hint to the server)")
	httpCmd.Flags().StringVar(&flagHost, "host", "localhost", "local host to forward to")
	httpCmd.Flags().BoolVar(&flagNoReconnect, "no-reconnect", false, "disable automatic reconnection on disconnect")

	rootCmd.AddCommand(httpCmd)
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the agent version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(agentversion.Full())
		},
	})
}

func runHTTPTunnel(cmd *cobra.Command, args []string) error {
	port, err := strconv.Atoi(args[0])
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("invalid port: %s", args[0])
	}
	if flagServerURL == "" {
		return fmt.Errorf("server URL is required (set TUNL_SERVER or use --server)")
	}

	tun := tunnel.New(tunnel.Config{
		ServerURL: flagServerURL,
		LocalHost: flagHost,
		LocalPort: port,
		Subdomain: flagSubdomain,
		Token:     flagToken,
		Reconnect: !flagNoReconnect,
	})

	tun.OnEstablished = func(publicURL string) {
		fmt.Println(establishedBanner(publicURL, flagHost, port))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println(shutdownStyle.Render("  stopping tunnel..."))
		tun.Disconnect()
		cancel()
	}()

	err = tun.Connect(ctx)
	if err == nil || errors.Is(err, context.Canceled) {
		return nil
	}
	if errors.Is(err, reconnect.ErrExhaustedRetries) {
		fmt.Fprintln(os.Stderr, fatalStyle.Render("  reconnection attempts exhausted, giving up"))
		os.Exit(1)
	}
	return err
}

var (
	primaryColor  = lipgloss.Color("#7C3AED")
	successColor  = lipgloss.Color("#10B981")
	warningColor  = lipgloss.Color("#F59E0B")
	errorColor    = lipgloss.Color("#EF4444")
	mutedColor    = lipgloss.Color("#6B7280")

	urlValueStyle = lipgloss.NewStyle().Bold(true).Foreground(successColor)
	labelStyle    = lipgloss.NewStyle().Foreground(mutedColor)
	shutdownStyle = lipgloss.NewStyle().Foreground(warningColor)
	fatalStyle    = lipgloss.NewStyle().Bold(true).Foreground(errorColor)
	brandStyle    = lipgloss.NewStyle().Bold(true).Foreground(primaryColor)
)

func establishedBanner(publicURL, host string, port int) string {
	return fmt.Sprintf(
		"\n%s\n%s %s\n%s %s:%d\n",
		brandStyle.Render("tunnel established"),
		labelStyle.Render("public URL:"), urlValueStyle.Render(publicURL),
		labelStyle.Render("forwarding to:"), host, port,
	)
}
