package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"vigil/internal/core/domain"

	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	cfgFile    string
	statusAddr string
)

var rootCmd = &cobra.Command{
	Use:   "vigil",
	Short: "Vigil baby monitor",
	Long:  `Vigil streams a camera and microphone over RTSP and raises cry alerts from on-device audio classification.`,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the monitor daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the status of a running daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		return printStatus(cmd.Context(), statusAddr)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("vigil v%s\n", version)
	},
}

func init() {
	serveCmd.Flags().StringVar(&cfgFile, "config", "", "config file (default is configs/config.yaml)")
	statusCmd.Flags().StringVar(&statusAddr, "addr", "http://localhost:8080", "daemon HTTP address")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func printStatus(ctx context.Context, addr string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(addr, "/")+"/api/v1/status", nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("daemon not reachable at %s: %w", addr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status request failed: %s", resp.Status)
	}

	var status domain.SessionStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return fmt.Errorf("decode status: %w", err)
	}

	fmt.Print(formatStatus(status))
	return nil
}

func formatStatus(s domain.SessionStatus) string {
	var b strings.Builder
	fmt.Fprintf(&b, "State:     %s\n", s.State)
	fmt.Fprintf(&b, "Streaming: %t\n", s.IsStreaming)
	if s.StreamURL != "" {
		fmt.Fprintf(&b, "URL:       %s\n", s.StreamURL)
	}
	fmt.Fprintf(&b, "Viewers:   %d\n", s.ConnectedViewers)
	fmt.Fprintf(&b, "Bitrate:   %d bps\n", s.Bitrate)
	fmt.Fprintf(&b, "Analyzing: %t (level %.2f)\n", s.IsAnalyzing, s.AudioLevel)
	if s.CryDetected {
		fmt.Fprintf(&b, "Alert:     crying (confidence %.2f) since %s\n", s.CryConfidence, s.LastAlertAt.Format(time.RFC3339))
	}
	if s.ErrorMessage != "" {
		fmt.Fprintf(&b, "Error:     %s\n", s.ErrorMessage)
	}
	return b.String()
}
