package commands

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jbctechsolutions/focussync/internal/application"
	"github.com/jbctechsolutions/focussync/internal/application/changes"
	"github.com/jbctechsolutions/focussync/internal/domain/image"
	"github.com/jbctechsolutions/focussync/internal/domain/note"
	"github.com/jbctechsolutions/focussync/internal/domain/session"
	"github.com/jbctechsolutions/focussync/internal/presentation/cli/output"
)

// SessionView is the JSON shape of a session.
type SessionView struct {
	ID             string     `json:"id"`
	Title          string     `json:"title"`
	Description    string     `json:"description,omitempty"`
	StartedAt      time.Time  `json:"started_at"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
	Active         bool       `json:"active"`
	ElapsedSeconds int64      `json:"elapsed_seconds"`
	PlannedSeconds int64      `json:"planned_seconds,omitempty"`
	OverrunSeconds int64      `json:"overrun_seconds,omitempty"`
	Synced         bool       `json:"synced"`
	Notes          []NoteView `json:"notes,omitempty"`
	Images         []ImageRow `json:"images,omitempty"`
}

func newSessionView(s *session.Session, now time.Time) SessionView {
	return SessionView{
		ID:             s.ID,
		Title:          s.Title,
		Description:    s.Description,
		StartedAt:      s.StartedAt,
		EndedAt:        s.EndedAt,
		Active:         s.IsActive(),
		ElapsedSeconds: int64(s.Elapsed(now).Seconds()),
		PlannedSeconds: int64(s.PlannedDuration.Seconds()),
		OverrunSeconds: int64(s.Overrun(now).Seconds()),
		Synced:         s.SyncVersion > 0,
	}
}

// NewSessionCmd creates the session command group.
func NewSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "session",
		Aliases: []string{"s"},
		Short:   "Manage focus sessions",
		Long: `Start, end, and inspect focus sessions.

Notes and images attach to the most recently started session that has not
ended, unless another one is named.`,
	}

	cmd.AddCommand(newSessionStartCmd())
	cmd.AddCommand(newSessionEndCmd())
	cmd.AddCommand(newSessionListCmd())
	cmd.AddCommand(newSessionShowCmd())
	cmd.AddCommand(newSessionRenameCmd())
	cmd.AddCommand(newSessionDeleteCmd())

	return cmd
}

func newSessionStartCmd() *cobra.Command {
	var (
		description string
		planned     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "start [title]",
		Short: "Start a new session",
		Long: `Start a new session. A title is generated when none is given.

Examples:
  focus session start "Write the sync design" --planned 50m
  focus session start`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, formatter, err := requireApp()
			if err != nil {
				return err
			}

			opts := session.StartOptions{Description: description, PlannedDuration: planned}
			if len(args) == 1 {
				opts.Title = args[0]
			}
			s, err := app.Sessions().Start(cmd.Context(), opts)
			if err != nil {
				return err
			}

			if formatter.IsJSON() {
				return formatter.JSON(newSessionView(s, app.Clock().Now()))
			}
			formatter.Success("Started session %q", s.Title)
			formatter.Item("ID", s.ID)
			if s.PlannedDuration > 0 {
				formatter.Item("Planned", formatDuration(s.PlannedDuration))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&description, "description", "d", "", "session description")
	cmd.Flags().DurationVarP(&planned, "planned", "p", 0, "planned length, e.g. 25m or 1h30m")

	return cmd
}

func newSessionEndCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "end [id]",
		Short: "End a session",
		Long:  `End the given session, or the active one when no ID is given.`,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, formatter, err := requireApp()
			if err != nil {
				return err
			}

			id, err := sessionArg(cmd.Context(), app, args)
			if err != nil {
				return err
			}
			s, err := app.Sessions().End(cmd.Context(), id)
			if err != nil {
				return err
			}

			now := app.Clock().Now()
			if formatter.IsJSON() {
				return formatter.JSON(newSessionView(s, now))
			}
			formatter.Success("Ended session %q after %s", s.Title, formatDuration(s.Elapsed(now)))
			if over := s.Overrun(now); over > 0 {
				formatter.Warning("Ran %s over plan", formatDuration(over))
			}
			return nil
		},
	}
}

func newSessionListCmd() *cobra.Command {
	var (
		activeOnly bool
		limit      int
		since      time.Duration
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, formatter, err := requireApp()
			if err != nil {
				return err
			}

			now := app.Clock().Now()
			filter := session.Filter{ActiveOnly: activeOnly, Limit: limit}
			if since > 0 {
				filter.Since = now.Add(-since)
			}
			sessions, err := app.Sessions().List(cmd.Context(), filter)
			if err != nil {
				return err
			}

			if formatter.IsJSON() {
				views := make([]SessionView, 0, len(sessions))
				for _, s := range sessions {
					views = append(views, newSessionView(s, now))
				}
				return formatter.JSON(views)
			}
			if len(sessions) == 0 {
				return formatter.Info("No sessions found")
			}

			table := output.TableData{
				Columns: []output.TableColumn{
					{Header: "ID"},
					{Header: "TITLE"},
					{Header: "STARTED"},
					{Header: "ELAPSED", Align: output.AlignRight},
					{Header: "STATUS"},
				},
			}
			for _, s := range sessions {
				status := "ended"
				if s.IsActive() {
					status = formatter.Colorize("active", output.ColorGreen)
				}
				table.Rows = append(table.Rows, []string{
					output.ShortID(s.ID),
					output.Truncate(s.Title, 40),
					output.RelativeTime(s.StartedAt, now),
					formatDuration(s.Elapsed(now)),
					status,
				})
			}
			return formatter.Table(table)
		},
	}

	cmd.Flags().BoolVarP(&activeOnly, "active", "a", false, "only show the active session")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of sessions (0 for all)")
	cmd.Flags().DurationVar(&since, "since", 0, "only sessions started within this window, e.g. 168h")

	return cmd
}

func newSessionShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [id]",
		Short: "Show a session with its notes and images",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, formatter, err := requireApp()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			id, err := sessionArg(ctx, app, args)
			if err != nil {
				return err
			}
			s, err := app.Sessions().Get(ctx, id)
			if err != nil {
				return err
			}
			notes, err := app.Notes().List(ctx, s.ID)
			if err != nil {
				return err
			}
			images, err := app.Images().List(ctx, s.ID)
			if err != nil {
				return err
			}

			now := app.Clock().Now()
			view := newSessionView(s, now)
			for _, n := range notes {
				view.Notes = append(view.Notes, newNoteView(n))
			}
			for _, img := range images {
				view.Images = append(view.Images, newImageRow(img))
			}
			if formatter.IsJSON() {
				return formatter.JSON(view)
			}

			return printSession(formatter, s, notes, images, now)
		},
	}
}

func printSession(formatter *output.Formatter, s *session.Session, notes []*note.Note, images []*image.Image, now time.Time) error {
	formatter.Header(s.Title)
	formatter.Item("ID", s.ID)
	if s.Description != "" {
		formatter.Item("Description", s.Description)
	}
	formatter.Item("Started", s.StartedAt.Local().Format(time.DateTime))
	if s.EndedAt != nil {
		formatter.Item("Ended", s.EndedAt.Local().Format(time.DateTime))
	} else {
		formatter.Item("Status", formatter.Colorize("active", output.ColorGreen))
	}
	formatter.Item("Elapsed", formatDuration(s.Elapsed(now)))
	if s.PlannedDuration > 0 {
		formatter.Item("Planned", formatDuration(s.PlannedDuration))
	}
	if over := s.Overrun(now); over > 0 {
		formatter.Item("Overrun", formatter.Colorize(formatDuration(over), output.ColorYellow))
	}
	synced := "never"
	if !s.SyncedAt.IsZero() {
		synced = output.RelativeTime(s.SyncedAt, now)
	}
	formatter.Item("Synced", synced)

	if len(notes) > 0 {
		formatter.Println("")
		formatter.Println("%s", formatter.Bold(fmt.Sprintf("Notes (%d)", len(notes))))
		for _, n := range notes {
			formatter.Println("  %s  %s", formatter.Dim(output.ShortID(n.ID)), n.Summary(60))
		}
	}
	if len(images) > 0 {
		formatter.Println("")
		formatter.Println("%s", formatter.Bold(fmt.Sprintf("Images (%d)", len(images))))
		for _, img := range images {
			caption := img.Caption
			if caption == "" {
				caption = img.ContentType
			}
			formatter.Println("  %s  %s  %s", formatter.Dim(output.ShortID(img.ID)), caption, formatBytes(img.SizeBytes))
		}
	}
	return nil
}

func newSessionRenameCmd() *cobra.Command {
	var description string

	cmd := &cobra.Command{
		Use:   "rename <id> <title>",
		Short: "Change a session's title",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, formatter, err := requireApp()
			if err != nil {
				return err
			}

			opts := session.UpdateOptions{Title: &args[1]}
			if cmd.Flags().Changed("description") {
				opts.Description = &description
			}
			s, err := app.Sessions().Update(cmd.Context(), args[0], opts)
			if err != nil {
				return err
			}

			if formatter.IsJSON() {
				return formatter.JSON(newSessionView(s, app.Clock().Now()))
			}
			return formatter.Success("Renamed session to %q", s.Title)
		},
	}

	cmd.Flags().StringVarP(&description, "description", "d", "", "replace the description")

	return cmd
}

func newSessionDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Delete a session with its notes and images",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, formatter, err := requireApp()
			if err != nil {
				return err
			}

			if err := app.Sessions().Delete(cmd.Context(), args[0], changes.OriginUserEdit); err != nil {
				return err
			}

			if formatter.IsJSON() {
				return formatter.JSON(map[string]any{"id": args[0], "deleted": true})
			}
			return formatter.Success("Deleted session %s", output.ShortID(args[0]))
		},
	}
}

// sessionArg returns the explicit session ID or the active session's ID.
func sessionArg(ctx context.Context, app *application.Container, args []string) (string, error) {
	if len(args) > 0 && args[0] != "" {
		return args[0], nil
	}
	s, err := app.Sessions().Active(ctx)
	if err != nil {
		return "", err
	}
	return s.ID, nil
}

// formatDuration renders d as 1h05m, 12m30s, or 45s.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d < 0 {
		d = -d
	}
	h := d / time.Hour
	m := (d % time.Hour) / time.Minute
	s := (d % time.Minute) / time.Second
	switch {
	case h > 0:
		return fmt.Sprintf("%dh%02dm", h, m)
	case m > 0:
		return fmt.Sprintf("%dm%02ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}

// formatBytes renders n with a binary unit.
func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return strconv.FormatInt(n, 10) + " B"
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %sB", float64(n)/float64(div), strings.Split("K,M,G,T", ",")[exp])
}
