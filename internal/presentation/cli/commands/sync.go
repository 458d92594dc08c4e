package commands

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	appSync "github.com/jbctechsolutions/focussync/internal/application/sync"
	domainErrors "github.com/jbctechsolutions/focussync/internal/domain/errors"
	"github.com/jbctechsolutions/focussync/internal/presentation/cli/output"
)

// RoundView is the JSON shape of a sync round.
type RoundView struct {
	RoundID    string    `json:"round_id"`
	Store      string    `json:"store"`
	Status     string    `json:"status"`
	Step       string    `json:"step,omitempty"`
	Queued     int       `json:"queued"`
	Pushed     int       `json:"pushed"`
	Rejected   int       `json:"rejected"`
	Skipped    int       `json:"skipped"`
	Pulled     int       `json:"pulled"`
	Applied    int       `json:"applied"`
	KeptLocal  int       `json:"kept_local"`
	Invalid    int       `json:"invalid"`
	Missing    int       `json:"missing"`
	Conflicts  int       `json:"conflicts"`
	RemoteWins int       `json:"remote_wins"`
	LocalWins  int       `json:"local_wins"`
	Checkpoint time.Time `json:"checkpoint"`
	DurationMS int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
}

func newRoundView(r *appSync.RoundReport) *RoundView {
	if r == nil {
		return nil
	}
	v := &RoundView{
		RoundID:    r.RoundID,
		Store:      r.Store,
		Status:     string(r.Status),
		Step:       r.Step,
		Queued:     r.Queued,
		Pushed:     r.Pushed,
		Rejected:   r.Rejected,
		Skipped:    r.Skipped,
		Pulled:     r.Pulled,
		Applied:    r.Applied,
		KeptLocal:  r.KeptLocal,
		Invalid:    r.Invalid,
		Missing:    r.Missing,
		Conflicts:  r.Conflicts,
		RemoteWins: r.RemoteWins,
		LocalWins:  r.LocalWins,
		Checkpoint: r.Checkpoint,
		DurationMS: r.Duration.Milliseconds(),
	}
	if r.Error != nil {
		v.Error = r.Error.Error()
	}
	return v
}

// StatusView is the JSON shape of the sync status.
type StatusView struct {
	State           string     `json:"state"`
	DeviceID        string     `json:"device_id"`
	Stores          int        `json:"stores"`
	Queued          int        `json:"queued"`
	MaxRetry        int        `json:"max_retry"`
	Degraded        bool       `json:"degraded"`
	LastSync        time.Time  `json:"last_sync"`
	LastLocalChange time.Time  `json:"last_local_change"`
	LastCloud       time.Time  `json:"last_cloud"`
	SyncVersion     int64      `json:"sync_version"`
	Unsynced        bool       `json:"unsynced"`
	LastRound       *RoundView `json:"last_round,omitempty"`
}

// NewSyncCmd creates the sync command group.
func NewSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Synchronize with the remote store",
		Long: `Synchronize local sessions, notes, and images with the remote store.

Local edits are queued until a round pushes them. 'focus sync run' runs one
round now, and 'focus sync watch' keeps syncing in the foreground.`,
	}

	cmd.AddCommand(newSyncRunCmd())
	cmd.AddCommand(newSyncStatusCmd())
	cmd.AddCommand(newSyncWatchCmd())

	return cmd
}

func newSyncRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run one sync round now",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, formatter, err := requireApp()
			if err != nil {
				return err
			}

			var spinner *output.Spinner
			if !formatter.IsJSON() && output.IsColorSupported() {
				spinner = output.NewSpinner("Syncing...", formatter.Writer(), true)
				spinner.Start()
			}
			report, runErr := app.Trigger().RunNow(cmd.Context())
			if spinner != nil {
				spinner.Stop()
			}

			if errors.Is(runErr, domainErrors.ErrSyncInProgress) {
				if formatter.IsJSON() {
					return formatter.JSON(map[string]any{"status": "in_progress"})
				}
				return formatter.Info("A sync round is already running; another will follow it")
			}

			if formatter.IsJSON() {
				if view := newRoundView(report); view != nil {
					if err := formatter.JSON(view); err != nil {
						return err
					}
				}
				return runErr
			}

			if report != nil {
				printRound(formatter, report)
			}
			return runErr
		},
	}
}

func printRound(formatter *output.Formatter, r *appSync.RoundReport) {
	if r.Status == appSync.StateFailed {
		step := r.Step
		if step == "" {
			step = "round"
		}
		formatter.Error("Sync failed during %s after %s", step, r.Duration.Round(time.Millisecond))
	} else {
		formatter.Success("Synced with %s in %s", r.Store, r.Duration.Round(time.Millisecond))
	}
	formatter.Item("Pushed", fmt.Sprintf("%d of %d queued", r.Pushed, r.Queued))
	if r.Rejected > 0 {
		formatter.Item("Rejected", fmt.Sprintf("%d (newer remote copy)", r.Rejected))
	}
	if r.Skipped > 0 {
		formatter.Item("Skipped", fmt.Sprintf("%d", r.Skipped))
	}
	formatter.Item("Pulled", fmt.Sprintf("%d (%d applied, %d kept local)", r.Pulled, r.Applied, r.KeptLocal))
	if r.Invalid > 0 {
		formatter.Item("Invalid", formatter.Colorize(fmt.Sprintf("%d", r.Invalid), output.ColorYellow))
	}
	if r.Missing > 0 {
		formatter.Item("Missing data", formatter.Colorize(fmt.Sprintf("%d", r.Missing), output.ColorYellow))
	}
	if r.Conflicts > 0 {
		formatter.Item("Conflicts", fmt.Sprintf("%d (%d remote, %d local)", r.Conflicts, r.RemoteWins, r.LocalWins))
	}
}

func newSyncStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the sync state",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, formatter, err := requireApp()
			if err != nil {
				return err
			}

			st, err := app.Engine().Status(cmd.Context())
			if err != nil {
				return err
			}

			view := StatusView{
				State:           string(st.State),
				DeviceID:        st.DeviceID,
				Stores:          app.Registry().Count(),
				Queued:          st.Queued,
				MaxRetry:        st.MaxRetry,
				Degraded:        st.Degraded,
				LastSync:        st.LastSync,
				LastLocalChange: st.LastLocalChange,
				LastCloud:       st.LastCloud,
				SyncVersion:     st.SyncVersion,
				Unsynced:        st.Unsynced,
				LastRound:       newRoundView(st.LastRound),
			}
			if formatter.IsJSON() {
				return formatter.JSON(view)
			}

			now := app.Clock().Now()
			state := view.State
			if view.Degraded {
				state = "degraded"
			}
			formatter.Header("Sync Status")
			formatter.Item("State", formatter.State(state))
			formatter.Item("Device", view.DeviceID)
			formatter.Item("Backend", app.Config().Remote.Backend)
			formatter.Item("Queued", fmt.Sprintf("%d", view.Queued))
			if view.Queued > 0 {
				formatter.Item("Max retries", fmt.Sprintf("%d", view.MaxRetry))
			}
			formatter.Item("Last sync", output.RelativeTime(view.LastSync, now))
			formatter.Item("Last local change", output.RelativeTime(view.LastLocalChange, now))
			if view.Unsynced {
				formatter.Warning("Local changes have not been pushed yet")
			}
			if view.Degraded {
				formatter.Warning("Some changes keep failing to sync; run 'focus sync run -v' for details")
			}
			return nil
		},
	}
}

func newSyncWatchCmd() *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep syncing until interrupted",
		Long: `Run a sync round now, then keep syncing in the foreground. Local edits
trigger a debounced round, remote changes are pulled every --interval, and
images dropped into the capture inbox are imported when capture is enabled.

Press Ctrl+C to stop.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, formatter, err := requireApp()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if !cmd.Flags().Changed("interval") {
				interval = app.Config().Sync.PollInterval
			}

			trig := app.Trigger()
			trig.SetOnRound(func(r *appSync.RoundReport, err error) {
				if r == nil {
					return
				}
				if formatter.IsJSON() {
					formatter.JSON(newRoundView(r))
					return
				}
				if err != nil {
					formatter.Error("%s round failed: %v", r.Store, err)
					return
				}
				formatter.Success("%s pushed %d, applied %d", r.EndTime.Local().Format(time.TimeOnly), r.Pushed, r.Applied)
			})

			if err := app.StartCapture(ctx); err != nil {
				return err
			}
			if c := app.Capture(); c != nil && c.IsRunning() && !formatter.IsJSON() {
				formatter.Info("Importing images from %s", app.Config().Capture.InboxDir)
			}
			trig.StartPolling(interval)
			go func() { _, _ = trig.RunNow(ctx) }()

			if !formatter.IsJSON() {
				formatter.Info("Watching for changes, press Ctrl+C to stop")
			}
			<-ctx.Done()
			return nil
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", 0, "pull interval (default from config, 0 disables)")

	return cmd
}
