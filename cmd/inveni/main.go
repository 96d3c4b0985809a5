package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"inveni/client"
	"inveni/internal/config"
	"inveni/internal/index"
	"inveni/shared/types"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var serverURL string

var rootCmd = &cobra.Command{
	Use:   "inveni",
	Short: "Inveni keeps restorable versions of the files you work on",
	Long: `Inveni watches individual documents, records a version each time you
commit one, and restores any earlier version on request. It talks to a
local inveni daemon.`,
	SilenceUsage: true,
}

func newClient() *client.Client {
	return client.New(serverURL)
}

func defaultServer() string {
	cfg, err := config.LoadOrDefault(config.Path())
	if err != nil {
		cfg = config.Default()
	}
	return "http://" + cfg.Addr()
}

func absPaths(args []string) ([]string, error) {
	out := make([]string, 0, len(args))
	for _, a := range args {
		p, err := filepath.Abs(a)
		if err != nil {
			return nil, fmt.Errorf("resolving %s: %w", a, err)
		}
		out = append(out, p)
	}
	return out, nil
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

// confirm asks a yes/no question on out and reads the answer from in.
func confirm(in io.Reader, out io.Writer, question string) bool {
	fmt.Fprintf(out, "%s [y/N] ", question)
	answer, _ := bufio.NewReader(in).ReadString('\n')
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

func relTime(ts string) string {
	t, err := index.ParseTimestamp(ts)
	if err != nil {
		return ts
	}
	return fmt.Sprintf("%s (%s)", ts, humanize.Time(t.Time))
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", defaultServer(), "daemon address")

	var watchCmd = &cobra.Command{
		Use:   "watch [paths...]",
		Short: "Start watching files for changes",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := absPaths(args)
			if err != nil {
				return err
			}
			c := newClient()
			for _, p := range paths {
				if err := c.Watch(p); err != nil {
					return fmt.Errorf("watching %s: %w", p, err)
				}
				fmt.Println("Watching", p)
			}
			return nil
		},
	}

	var unwatchCmd = &cobra.Command{
		Use:   "unwatch [paths...]",
		Short: "Stop watching files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := absPaths(args)
			if err != nil {
				return err
			}
			c := newClient()
			for _, p := range paths {
				if err := c.Unwatch(p); err != nil {
					return fmt.Errorf("unwatching %s: %w", p, err)
				}
			}
			return nil
		},
	}

	var resetCmd = &cobra.Command{
		Use:   "reset <path>",
		Short: "Accept the current content of a file as its baseline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := absPaths(args)
			if err != nil {
				return err
			}
			return newClient().Reset(paths[0])
		},
	}

	var pauseCmd = &cobra.Command{
		Use:   "pause",
		Short: "Suspend change detection",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := newClient().Pause()
			if err != nil {
				return err
			}
			printStatus(st)
			return nil
		},
	}

	var resumeCmd = &cobra.Command{
		Use:   "resume",
		Short: "Resume change detection",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := newClient().Resume()
			if err != nil {
				return err
			}
			printStatus(st)
			return nil
		},
	}

	var statusCmd = &cobra.Command{
		Use:   "status [path]",
		Short: "Show detector state or the state of one file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient()
			if len(args) == 0 {
				st, err := c.Status()
				if err != nil {
					return err
				}
				printStatus(st)
				return nil
			}

			paths, err := absPaths(args)
			if err != nil {
				return err
			}
			fs, err := c.FileStatus(paths[0])
			if err != nil {
				return err
			}
			printFileStatus(fs)
			return nil
		},
	}

	var commitCmd = &cobra.Command{
		Use:   "commit <path>",
		Short: "Record the current content of a file as a new version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			message, _ := cmd.Flags().GetString("message")
			force, _ := cmd.Flags().GetBool("force")
			if message == "" {
				return fmt.Errorf("commit message is required (use -m)")
			}
			paths, err := absPaths(args)
			if err != nil {
				return err
			}

			c := newClient()
			res, err := c.Commit(paths[0], message, force)
			if client.IsNoChanges(err) {
				if !confirm(os.Stdin, os.Stdout, "No changes since the last version. Commit anyway?") {
					fmt.Println("Nothing committed")
					return nil
				}
				res, err = c.Commit(paths[0], message, true)
			}
			if err != nil {
				return err
			}

			green := color.New(color.FgGreen).SprintFunc()
			yellow := color.New(color.FgYellow).SprintFunc()
			fmt.Printf("Committed %s as %s\n", res.Path, green(shortHash(res.Hash)))
			if res.PreviousHash != "" {
				fmt.Printf("  previous %s\n", shortHash(res.PreviousHash))
			}
			for _, h := range res.Evicted {
				fmt.Printf("  %s %s\n", yellow("evicted"), shortHash(h))
			}
			return nil
		},
	}
	commitCmd.Flags().StringP("message", "m", "", "Commit message")
	commitCmd.Flags().BoolP("force", "f", false, "Commit even when nothing changed")

	var restoreCmd = &cobra.Command{
		Use:   "restore <path> <hash>",
		Short: "Overwrite a file with a stored version",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := absPaths(args[:1])
			if err != nil {
				return err
			}
			if err := newClient().Restore(paths[0], args[1]); err != nil {
				if client.IsLocked(err) {
					return fmt.Errorf("%s is open in another program; close it and retry", paths[0])
				}
				return err
			}
			fmt.Printf("Restored %s to %s\n", paths[0], shortHash(args[1]))
			return nil
		},
	}

	var logCmd = &cobra.Command{
		Use:   "log <path>",
		Short: "List the versions of a file, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := absPaths(args)
			if err != nil {
				return err
			}
			versions, err := newClient().History(paths[0])
			if err != nil {
				return err
			}
			printHistory(versions)
			return nil
		},
	}

	var showCmd = &cobra.Command{
		Use:   "show <path> <hash>",
		Short: "Print the content of a stored version",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := absPaths(args[:1])
			if err != nil {
				return err
			}
			data, err := newClient().Content(paths[0], args[1])
			if err != nil {
				return err
			}
			_, err = os.Stdout.Write(data)
			return err
		},
	}

	var diffCmd = &cobra.Command{
		Use:   "diff <path> <from> [to]",
		Short: "Compare a version with another version or the file on disk",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := absPaths(args[:1])
			if err != nil {
				return err
			}
			to := ""
			if len(args) == 3 {
				to = args[2]
			}
			d, err := newClient().Diff(paths[0], args[1], to)
			if err != nil {
				return err
			}
			if d.Unified == "" {
				fmt.Println("No differences")
				return nil
			}
			printColoredDiff(d.Unified)
			fmt.Printf("%d additions, %d deletions\n", d.Additions, d.Deletions)
			return nil
		},
	}

	var existsCmd = &cobra.Command{
		Use:   "exists <path> <hash>",
		Short: "Check whether a stored version is still available",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := absPaths(args[:1])
			if err != nil {
				return err
			}
			c := newClient()
			if clear, _ := cmd.Flags().GetBool("clear-cache"); clear {
				if err := c.ClearCache(); err != nil {
					return err
				}
			}
			ok, err := c.Exists(paths[0], args[1])
			if err != nil {
				return err
			}
			if ok {
				color.Green("available")
			} else {
				color.Red("missing")
			}
			return nil
		},
	}

	existsCmd.Flags().Bool("clear-cache", false, "Forget cached missing versions before checking")

	var clearCmd = &cobra.Command{
		Use:   "clear",
		Short: "Forget every reported change, e.g. after committing them all",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := newClient().ClearPending()
			if err != nil {
				return err
			}
			printStatus(st)
			return nil
		},
	}

	var blobsCmd = &cobra.Command{
		Use:   "blobs <path>",
		Short: "List the stored backups of a file, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := absPaths(args)
			if err != nil {
				return err
			}
			blobs, err := newClient().Blobs(paths[0])
			if err != nil {
				return err
			}
			yellow := color.New(color.FgYellow).SprintFunc()
			for _, b := range blobs {
				fmt.Printf("%s  %8s  %s\n", yellow(shortHash(b.Hash)), humanize.Bytes(uint64(b.Size)), humanize.Time(b.ModTime))
			}
			fmt.Printf("%d stored\n", len(blobs))
			return nil
		},
	}

	var journalCmd = &cobra.Command{
		Use:   "journal [path]",
		Short: "Show recent commits, restores and failures",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			path := ""
			if len(args) == 1 {
				paths, err := absPaths(args)
				if err != nil {
					return err
				}
				path = paths[0]
			}
			entries, err := newClient().Journal(path, limit)
			if err != nil {
				return err
			}
			printJournal(entries)
			return nil
		},
	}
	journalCmd.Flags().IntP("limit", "n", 20, "Number of entries to show")

	var trackedCmd = &cobra.Command{
		Use:   "tracked",
		Short: "List every file with at least one version",
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := newClient().Tracked()
			if err != nil {
				return err
			}
			for _, p := range paths {
				fmt.Println(p)
			}
			return nil
		},
	}

	rootCmd.AddCommand(watchCmd, unwatchCmd, resetCmd, pauseCmd, resumeCmd, statusCmd,
		commitCmd, restoreCmd, logCmd, showCmd, diffCmd, existsCmd, journalCmd, trackedCmd,
		clearCmd, blobsCmd)
}

func printStatus(st *types.Status) {
	state := color.GreenString("running")
	if st.Paused {
		state = color.YellowString("paused")
	}
	fmt.Printf("Detection: %s\n", state)
	fmt.Printf("Tracked files: %d\n", st.Tracked)
	fmt.Printf("Watched files: %d\n", len(st.Watched))
	if st.PendingCount > 0 {
		fmt.Printf("\nPending changes (%d):\n", st.PendingCount)
		for _, p := range st.PendingPaths {
			color.Red("  %s", p)
		}
	}
	if len(st.Restoring) > 0 {
		fmt.Println("\nRestoring:")
		for _, p := range st.Restoring {
			fmt.Printf("  %s\n", p)
		}
	}
}

func printFileStatus(fs *types.FileStatus) {
	fmt.Println(fs.Path)
	fmt.Printf("  hash      %s\n", shortHash(fs.Hash))
	fmt.Printf("  size      %s\n", humanize.Bytes(uint64(fs.Size)))
	fmt.Printf("  modified  %s\n", humanize.Time(fs.ModTime))
	fmt.Printf("  checked   %s\n", humanize.Time(fs.LastCheck))
	fmt.Printf("  open      %t\n", fs.Open)
	fmt.Printf("  backups   %d\n", fs.Backups)
	if fs.Pending {
		color.Red("  changed since last report")
	}
	if fs.Restoring {
		color.Yellow("  restore in progress")
	}
}

func printHistory(versions []types.Version) {
	yellow := color.New(color.FgYellow).SprintFunc()
	faint := color.New(color.Faint).SprintFunc()
	for _, v := range versions {
		fmt.Printf("%s %s\n", yellow(shortHash(v.Hash)), v.CommitMessage)
		fmt.Printf("  %s by %s, %s\n", relTime(v.Timestamp), v.Username, humanize.Bytes(uint64(v.Size)))
		if !v.Available {
			fmt.Printf("  %s\n", faint("content no longer stored"))
		}
	}
}

func printJournal(entries []types.JournalEntry) {
	kinds := map[string]*color.Color{
		"commit":  color.New(color.FgGreen),
		"restore": color.New(color.FgBlue),
		"evict":   color.New(color.FgYellow),
		"error":   color.New(color.FgRed),
	}
	for _, e := range entries {
		c, ok := kinds[e.Kind]
		if !ok {
			c = color.New(color.Reset)
		}
		line := fmt.Sprintf("%-8s %s %s", e.Kind, humanize.Time(e.CreatedAt.In(time.Local)), e.Path)
		if e.Hash != "" {
			line += " " + shortHash(e.Hash)
		}
		c.Println(line)
		if e.Message != "" {
			fmt.Printf("         %s\n", e.Message)
		}
	}
}

func printColoredDiff(diff string) {
	added := color.New(color.FgGreen)
	removed := color.New(color.FgRed)
	header := color.New(color.FgCyan)

	for _, line := range strings.Split(strings.TrimSuffix(diff, "\n"), "\n") {
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
			fmt.Println(line)
		case strings.HasPrefix(line, "@@"):
			header.Println(line)
		case strings.HasPrefix(line, "+"):
			added.Println(line)
		case strings.HasPrefix(line, "-"):
			removed.Println(line)
		default:
			fmt.Println(line)
		}
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
