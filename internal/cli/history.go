package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pulsepoint/fsmonitor/internal/journal"
	"github.com/pulsepoint/fsmonitor/pkg/models"
	"github.com/spf13/cobra"
)

// historyCmd prints the diagnostic journal
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recorded sessions and the replicas they watched",
	Long: `Display the diagnostic journal written when the journal is enabled
(--journal or journal.enabled). Sessions are listed most recent first.`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().Int("limit", 10, "Number of sessions to display (0 for all)")
	historyCmd.Flags().Bool("json", false, "Output history in JSON format")
}

type sessionHistory struct {
	*models.SessionRecord
	Replicas []*models.ReplicaRecord `json:"replicas"`
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	limit, _ := cmd.Flags().GetInt("limit")
	jsonOutput, _ := cmd.Flags().GetBool("json")
	out := cmd.OutOrStdout()

	if _, err := os.Stat(cfg.Journal.Path); os.IsNotExist(err) {
		fmt.Fprintf(out, "No journal at %s\n", cfg.Journal.Path)
		return nil
	}

	store := journal.NewStore(&journal.Options{Path: cfg.Journal.Path, ReadOnly: true})
	if err := store.Open(); err != nil {
		return err
	}
	defer store.Close()

	sessions, err := journal.ListSessions(store)
	if err != nil {
		return err
	}
	if limit > 0 && len(sessions) > limit {
		sessions = sessions[:limit]
	}

	history := make([]sessionHistory, 0, len(sessions))
	for _, sess := range sessions {
		replicas, err := journal.ListReplicas(store, sess.ID)
		if err != nil {
			return err
		}
		history = append(history, sessionHistory{SessionRecord: sess, Replicas: replicas})
	}

	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(history)
	}
	printHistory(out, history)
	return nil
}

func printHistory(out io.Writer, history []sessionHistory) {
	if len(history) == 0 {
		fmt.Fprintln(out, "No sessions recorded")
		return
	}

	for _, h := range history {
		ended := "running"
		if !h.EndedAt.IsZero() {
			ended = h.EndedAt.Sub(h.StartedAt).Round(time.Second).String()
		}
		fmt.Fprintf(out, "Session %s  %s  backend=%s  duration=%s\n",
			h.ID, h.StartedAt.Format("2006-01-02 15:04:05"), h.Backend, ended)
		if h.ExitError != "" {
			fmt.Fprintf(out, "  exit: %s\n", h.ExitError)
		}

		for _, r := range h.Replicas {
			fmt.Fprintf(out, "  %-12s %s\n", r.Token, r.Root)
			if r.Subpath != "" {
				fmt.Fprintf(out, "    subpath:  %s\n", r.Subpath)
			}
			fmt.Fprintf(out, "    events=%d pushes=%d queries=%d drained=%d watched=%s\n",
				r.EventsRecorded, r.Pushes, r.Queries, r.SubtreesDrained,
				r.Duration().Round(time.Second))
		}
	}
}
