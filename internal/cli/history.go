package cli

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/ledgerflow/internal/engine"
	"github.com/roach88/ledgerflow/internal/ir"
	"github.com/roach88/ledgerflow/internal/store"
)

// HistoryOptions holds flags for the history commands.
type HistoryOptions struct {
	*RootOptions
	Phase     string
	Sender    string
	Limit     int
	OlderThan time.Duration

	// Now is the clock for prune cutoffs. Tests fix it.
	Now func() time.Time
}

// NewHistoryCommand creates the history command group.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts, Now: time.Now}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect recorded transactions",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List recorded transactions, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistoryList(opts, cmd)
		},
	}
	list.Flags().StringVar(&opts.Phase, "phase", "", "only this phase (pending|finalized|failed|cancelled)")
	list.Flags().StringVar(&opts.Sender, "sender", "", "only this sender address")
	list.Flags().IntVar(&opts.Limit, "limit", 0, "at most this many records")

	show := &cobra.Command{
		Use:   "show <hash>",
		Short: "Show one transaction and every status it went through",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistoryShow(opts, args[0], cmd)
		},
	}

	prune := &cobra.Command{
		Use:   "prune",
		Short: "Delete resolved transactions older than the retention",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistoryPrune(opts, cmd)
		},
	}
	prune.Flags().DurationVar(&opts.OlderThan, "older-than", 0, "override the configured retention")

	cmd.AddCommand(list, show, prune)
	return cmd
}

// HistoryEntry is one transaction as printed.
type HistoryEntry struct {
	Hash        string    `json:"hash"`
	Call        string    `json:"call"`
	Sender      string    `json:"sender,omitempty"`
	Phase       string    `json:"phase"`
	LastStatus  string    `json:"last_status,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
	ResolvedAt  time.Time `json:"resolved_at,omitzero"`
	Failure     string    `json:"failure,omitempty"`
}

func (h HistoryEntry) String() string {
	line := fmt.Sprintf("%s  %-9s  %s  %s", h.SubmittedAt.UTC().Format(time.RFC3339), h.Phase, h.Hash, h.Call)
	if h.Failure != "" {
		line += "  " + h.Failure
	}
	return line
}

// HistoryList is the output of history list.
type HistoryList []HistoryEntry

func (l HistoryList) String() string {
	if len(l) == 0 {
		return "no transactions"
	}
	lines := make([]string, len(l))
	for i, e := range l {
		lines[i] = e.String()
	}
	return strings.Join(lines, "\n")
}

// HistoryDetail is the output of history show.
type HistoryDetail struct {
	HistoryEntry
	Args     ir.Object     `json:"args"`
	Payload  ir.Object     `json:"payload,omitempty"`
	Statuses []StatusEntry `json:"statuses"`
}

// StatusEntry is one recorded notification.
type StatusEntry struct {
	Status    string   `json:"status"`
	BlockHash string   `json:"block_hash,omitempty"`
	Events    []string `json:"events,omitempty"`
	Err       string   `json:"error,omitempty"`
}

func (d HistoryDetail) String() string {
	var b strings.Builder
	fmt.Fprintln(&b, d.HistoryEntry.String())
	fmt.Fprintf(&b, "  args: %s\n", ir.Render(d.Args))
	if d.Payload != nil {
		fmt.Fprintf(&b, "  payload: %s\n", ir.Render(d.Payload))
	}
	for _, s := range d.Statuses {
		fmt.Fprintf(&b, "  - %s", s.Status)
		if s.BlockHash != "" {
			fmt.Fprintf(&b, " %s", s.BlockHash)
		}
		if len(s.Events) > 0 {
			fmt.Fprintf(&b, " [%s]", strings.Join(s.Events, ", "))
		}
		if s.Err != "" {
			fmt.Fprintf(&b, " %s", s.Err)
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

// PruneResult is the output of history prune.
type PruneResult struct {
	Removed int64     `json:"removed"`
	Cutoff  time.Time `json:"cutoff"`
}

func (p PruneResult) String() string {
	return fmt.Sprintf("removed %d transaction(s) resolved before %s", p.Removed, p.Cutoff.UTC().Format(time.RFC3339))
}

func toEntry(r store.Record) HistoryEntry {
	e := HistoryEntry{
		Hash:        r.Hash,
		Call:        r.Call,
		Sender:      r.Sender,
		Phase:       string(r.Phase),
		LastStatus:  string(r.LastStatus),
		SubmittedAt: r.SubmittedAt,
		ResolvedAt:  r.ResolvedAt,
	}
	if r.FailureCode != "" {
		e.Failure = r.FailureCode + ": " + r.FailureMessage
	}
	return e
}

func (opts *HistoryOptions) open() (*store.History, func(), error) {
	st, err := store.Open(opts.Config.Database)
	if err != nil {
		return nil, nil, err
	}
	return st.History(), func() {
		if err := st.Close(); err != nil {
			opts.Logger.Error("error closing database", "error", err)
		}
	}, nil
}

func runHistoryList(opts *HistoryOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	phase := engine.Phase(opts.Phase)
	switch phase {
	case "", engine.PhasePending, engine.PhaseFinalized, engine.PhaseFailed, engine.PhaseCancelled:
	default:
		return report(f, ExitCommandError, ErrCodeInput, fmt.Sprintf("unknown phase %q", opts.Phase), nil)
	}

	h, closeDB, err := opts.open()
	if err != nil {
		return report(f, ExitCommandError, ErrCodeStore, err.Error(), nil)
	}
	defer closeDB()

	records, err := h.List(cmd.Context(), store.Filter{Phase: phase, Sender: opts.Sender, Limit: opts.Limit})
	if err != nil {
		return report(f, ExitCommandError, ErrCodeStore, err.Error(), nil)
	}
	out := make(HistoryList, len(records))
	for i, r := range records {
		out[i] = toEntry(r)
	}
	return f.Success(out)
}

func runHistoryShow(opts *HistoryOptions, hash string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	h, closeDB, err := opts.open()
	if err != nil {
		return report(f, ExitCommandError, ErrCodeStore, err.Error(), nil)
	}
	defer closeDB()

	r, err := h.Get(cmd.Context(), hash)
	if errors.Is(err, store.ErrNotFound) {
		return report(f, ExitCommandError, ErrCodeNotFound, fmt.Sprintf("transaction %s not found", hash), nil)
	}
	if err != nil {
		return report(f, ExitCommandError, ErrCodeStore, err.Error(), nil)
	}
	statuses, err := h.Statuses(cmd.Context(), hash)
	if err != nil {
		return report(f, ExitCommandError, ErrCodeStore, err.Error(), nil)
	}

	d := HistoryDetail{HistoryEntry: toEntry(r), Args: r.Args, Payload: r.Payload, Statuses: make([]StatusEntry, len(statuses))}
	for i, s := range statuses {
		entry := StatusEntry{Status: string(s.Status), BlockHash: s.BlockHash, Err: s.Err}
		for _, ev := range s.Events {
			entry.Events = append(entry.Events, ev.Name())
		}
		d.Statuses[i] = entry
	}
	return f.Success(d)
}

func runHistoryPrune(opts *HistoryOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	retention := opts.Config.Retention
	if opts.OlderThan > 0 {
		retention = opts.OlderThan
	}

	h, closeDB, err := opts.open()
	if err != nil {
		return report(f, ExitCommandError, ErrCodeStore, err.Error(), nil)
	}
	defer closeDB()

	cutoff := opts.Now().Add(-retention)
	n, err := h.Prune(cmd.Context(), cutoff)
	if err != nil {
		return report(f, ExitCommandError, ErrCodeStore, err.Error(), nil)
	}
	opts.Logger.Info("pruned history", "removed", n, "cutoff", cutoff)
	return f.Success(PruneResult{Removed: n, Cutoff: cutoff})
}
