package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"kiln/internal/chatstore"
	"kiln/internal/gpu"
	"kiln/internal/models"
	"kiln/internal/progress"
	"kiln/internal/session"
)

// --- models ---

func newModelsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List curated and installed models",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(opts, false)
			if err != nil {
				return err
			}
			defer e.Close()

			list, err := e.catalog.List(cmd.Context())
			if err != nil {
				printWarning(cmd.ErrOrStderr(), "Ollama unreachable (%v), showing cached catalog", err)
			}
			writeModels(cmd.OutOrStdout(), list)
			return nil
		},
	}
}

func writeModels(w io.Writer, list []models.ModelInfo) {
	for _, m := range list {
		mark := " "
		size := "-"
		if m.Installed {
			mark = "●"
			if m.SizeBytes > 0 {
				size = humanize.Bytes(uint64(m.SizeBytes))
			}
		}
		label := m.Label
		if label == "" {
			label = m.ID
		}
		fmt.Fprintf(w, "%s %-24s %-22s %8s\n", mark, m.ID, label, size)
	}
}

// --- pull ---

func newPullCmd(opts *options) *cobra.Command {
	var keep bool
	cmd := &cobra.Command{
		Use:   "pull <model>",
		Short: "Download and load a model, showing progress",
		Long: `Download a model if it is not installed, load it into memory and,
unless --keep is given, release it again.

Examples:
  kiln pull tinyllama
  kiln pull qwen2:1.5b --keep`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(opts, false)
			if err != nil {
				return err
			}
			defer e.Close()

			model := args[0]
			printer := newProgressPrinter(cmd.OutOrStdout())
			sess := session.New(e.runtime, session.WithProgressObserver(printer.observe))

			printStep(cmd.ErrOrStderr(), "Loading %s from %s", model, e.client.BaseURL())
			if err := sess.Load(cmd.Context(), model); err != nil {
				return err
			}
			printSuccess(cmd.ErrOrStderr(), "%s is ready", model)
			if !keep {
				sess.Unload(context.WithoutCancel(cmd.Context()))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&keep, "keep", false, "leave the model loaded in Ollama")
	return cmd
}

// progressPrinter writes a line whenever the percentage, the phase or an
// artifact's status changes.
type progressPrinter struct {
	w       io.Writer
	mu      sync.Mutex
	percent int
	phase   string
	seen    map[string]progress.Status
}

func newProgressPrinter(w io.Writer) *progressPrinter {
	return &progressPrinter{w: w, percent: -1, seen: make(map[string]progress.Status)}
}

func (p *progressPrinter) observe(s progress.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if s.Percent != p.percent || s.Phase != p.phase {
		p.percent, p.phase = s.Percent, s.Phase
		fmt.Fprintf(p.w, "%3d%%  %s\n", s.Percent, s.Phase)
	}
	for _, a := range s.Artifacts {
		if p.seen[a.Label] == a.Status {
			continue
		}
		p.seen[a.Label] = a.Status
		switch a.Status {
		case progress.StatusDone:
			fmt.Fprintf(p.w, "      ✓ %s\n", a.Label)
		case progress.StatusDownloading:
			fmt.Fprintf(p.w, "      ↓ %s\n", a.Label)
		}
	}
}

// --- gpu ---

func newGPUCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "gpu",
		Short: "Report GPU acceleration available to the runtime",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(opts, false)
			if err != nil {
				return err
			}
			defer e.Close()

			writeGPU(cmd.OutOrStdout(), gpu.Probe(cmd.Context()))
			return nil
		},
	}
}

func writeGPU(w io.Writer, info gpu.Info) {
	if !info.Supported {
		printStatus(w, "GPU", "not available, models run on CPU")
		if info.Err != nil {
			printStatus(w, "Reason", "%v", info.Err)
		}
		return
	}
	printStatus(w, "GPU", "%s", info.Adapter)
	if len(info.Features) > 0 {
		printStatus(w, "Features", "%s", strings.Join(info.Features, ", "))
	}
}

// --- history ---

func newHistoryCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "history [model]",
		Short: "List saved transcripts, or print one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(opts, false)
			if err != nil {
				return err
			}
			defer e.Close()

			store, err := e.openStore(cmd.Context())
			if err != nil {
				return err
			}

			if len(args) == 0 {
				chats := chatstore.New(store, "")
				defer chats.Close()
				list, err := chats.ListTranscripts(cmd.Context())
				if err != nil {
					return err
				}
				if len(list) == 0 {
					printWarning(cmd.ErrOrStderr(), "No saved transcripts")
					return nil
				}
				writeTranscripts(cmd.OutOrStdout(), list)
				return nil
			}

			chats, err := chatstore.Open(cmd.Context(), store, args[0])
			if err != nil {
				return err
			}
			defer chats.Close()
			msgs := chats.Messages()
			if len(msgs) == 0 {
				printWarning(cmd.ErrOrStderr(), "No transcript saved for %s", args[0])
				return nil
			}
			writeTranscript(cmd.OutOrStdout(), args[0], msgs)
			return nil
		},
	}
}

func writeTranscripts(w io.Writer, list []models.TranscriptSummary) {
	for _, t := range list {
		prompt := strings.Join(strings.Fields(t.LastUserPrompt), " ")
		if r := []rune(prompt); len(r) > 50 {
			prompt = string(r[:49]) + "…"
		}
		fmt.Fprintf(w, "%-24s %4d msgs  %-16s %s\n", t.ModelID, t.MessageCount, humanize.Time(t.UpdatedAt), prompt)
	}
}

func writeTranscript(w io.Writer, model string, msgs []models.Message) {
	for i, m := range msgs {
		if i > 0 {
			fmt.Fprintln(w)
		}
		who := "you"
		if m.Role == models.RoleAssistant {
			who = model
		}
		fmt.Fprintf(w, "[%s]\n%s\n", who, m.Content)
	}
}

// --- clear-caches ---

func newClearCachesCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "clear-caches",
		Short: "Delete kiln's caches and saved transcripts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEnv(opts, false)
			if err != nil {
				return err
			}
			defer e.Close()

			store, err := e.openStore(cmd.Context())
			if err != nil {
				return err
			}
			sess := session.New(e.runtime, session.WithCaches(e.caches), session.WithStore(store))
			deleted := sess.ClearCaches(cmd.Context())
			if len(deleted) == 0 {
				printSuccess(cmd.ErrOrStderr(), "Transcripts cleared, no caches found")
				return nil
			}
			printSuccess(cmd.ErrOrStderr(), "Cleared %s and transcripts", strings.Join(deleted, ", "))
			return nil
		},
	}
}
