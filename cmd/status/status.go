// Package status prints the state of a running bootstrap agent.
package status

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/staminaframework/stamina-bootstrap/internal/rpc"
	"github.com/staminaframework/stamina-bootstrap/internal/store"
	"github.com/staminaframework/stamina-bootstrap/pkg/config"
	"github.com/staminaframework/stamina-bootstrap/pkg/logger"
)

// Run queries the agent control socket, falling back to the state store when
// no agent is running.
func Run(configPath string, args []string) error {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

	c, err := rpc.NewClient(cfg.Bootstrap.RPCSocket)
	if err != nil {
		fmt.Fprintln(w, "AGENT\tnot running")
		return printRecords(w, cfg)
	}
	defer c.Close()

	st, err := c.Status()
	if err != nil {
		return fmt.Errorf("querying agent: %w", err)
	}

	fmt.Fprintln(w, "AGENT\trunning")
	fmt.Fprintf(w, "LAUNCHER ID\t%s\n", st.LauncherID)
	fmt.Fprintf(w, "SOURCE\t%s\n", st.Source)
	fmt.Fprintf(w, "RUNTIME\t%s\n", st.RuntimeDir)
	fmt.Fprintf(w, "PACKAGE BLAKE3\t%s\n", st.Digest)
	if !st.InstalledAt.IsZero() {
		fmt.Fprintf(w, "INSTALLED\t%s\n", st.InstalledAt.Format(time.RFC3339))
	}
	if st.Running {
		fmt.Fprintf(w, "RUNTIME PID\t%d\n", st.PID)
	} else {
		fmt.Fprintln(w, "RUNTIME PID\t-")
	}
	fmt.Fprintf(w, "LAUNCHES\t%d\n", st.Launches)
	if st.LastExit != nil {
		fmt.Fprintf(w, "LAST EXIT\t%d\n", *st.LastExit)
	}
	return nil
}

func printRecords(w *tabwriter.Writer, cfg *config.Config) error {
	db, err := store.New(cfg.Bootstrap.StatePath, logger.Init("error"))
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer db.Close()

	records, err := db.Installs()
	if err != nil {
		return fmt.Errorf("reading installs: %w", err)
	}
	for _, r := range records {
		fmt.Fprintf(w, "INSTALL\t%s\t%s\t%d files\t%d add-ons\t%s\n",
			r.InstalledAt.Format(time.RFC3339), r.Source, r.Files, len(r.Addons), r.Digest)
	}

	discoveries, err := db.Discoveries()
	if err != nil {
		return fmt.Errorf("reading discoveries: %w", err)
	}
	for _, d := range discoveries {
		fmt.Fprintf(w, "DISCOVERED\t%s\tseen %d times\t%v\n", d.LastSeen.Format(time.RFC3339), d.SeenCount, d.URLs)
	}
	return nil
}
