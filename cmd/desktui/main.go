package main

import (
	"flag"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/matheus3301/desk/internal/lock"
	"github.com/matheus3301/desk/internal/session"
	"github.com/matheus3301/desk/internal/tui"
	"github.com/matheus3301/desk/internal/tui/client"
	"github.com/matheus3301/desk/internal/tui/ui"
)

func main() {
	profileFlag := flag.String("profile", "", "operator profile (overrides $DESK_PROFILE and config default)")
	flag.Parse()

	profile := session.Resolve(*profileFlag)
	if err := session.ValidateName(profile); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	socketPath := session.SocketPath(profile)

	// Probe daemon health; auto-start if needed.
	if !client.Probe(socketPath, 2*time.Second) {
		if pid, _, held := lock.Holder(session.Dir(profile)); held {
			// A daemon is still starting up; wait for it instead of racing it.
			fmt.Fprintf(os.Stderr, "waiting for daemon pid %d of profile %q...\n", pid, profile)
		} else {
			fmt.Fprintf(os.Stderr, "daemon not running for profile %q, starting...\n", profile)
			if err := startDaemon(profile); err != nil {
				fmt.Fprintf(os.Stderr, "failed to start daemon: %v\n", err)
				os.Exit(1)
			}
		}
		if !waitForDaemon(socketPath, 10*time.Second) {
			fmt.Fprintf(os.Stderr, "daemon did not become ready\n")
			os.Exit(1)
		}
	}

	c, err := client.New(socketPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect to daemon: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = c.Close() }()

	theme, err := ui.LoadTheme(session.SkinPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v, using default colors\n", err)
	}

	app := tui.NewApp(c, profile, theme)
	if err := app.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// startDaemon launches deskd next to this binary, falling back to PATH.
func startDaemon(profile string) error {
	executable, err := os.Executable()
	if err != nil {
		return err
	}
	deskd := filepath.Join(filepath.Dir(executable), "deskd")
	if _, err := os.Stat(deskd); err != nil {
		deskd = "deskd"
	}

	cmd := exec.Command(deskd, "--profile", profile)
	// Inherit stderr so daemon startup errors are visible.
	cmd.Stderr = os.Stderr
	return cmd.Start()
}

// waitForDaemon polls until the daemon answers a status call.
func waitForDaemon(socketPath string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if client.Probe(socketPath, 2*time.Second) {
			return true
		}
		time.Sleep(300 * time.Millisecond)
	}
	return false
}
