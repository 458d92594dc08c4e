package commands

import (
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jbctechsolutions/focussync/internal/application/changes"
	"github.com/jbctechsolutions/focussync/internal/domain/note"
	"github.com/jbctechsolutions/focussync/internal/presentation/cli/output"
)

// NoteView is the JSON shape of a note.
type NoteView struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Synced    bool      `json:"synced"`
}

func newNoteView(n *note.Note) NoteView {
	return NoteView{
		ID:        n.ID,
		SessionID: n.SessionID,
		Content:   n.Content,
		CreatedAt: n.CreatedAt,
		UpdatedAt: n.UpdatedAt,
		Synced:    n.SyncVersion > 0,
	}
}

// NewNoteCmd creates the note command group.
func NewNoteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "note",
		Aliases: []string{"n"},
		Short:   "Write notes during a session",
	}

	cmd.AddCommand(newNoteAddCmd())
	cmd.AddCommand(newNoteListCmd())
	cmd.AddCommand(newNoteShowCmd())
	cmd.AddCommand(newNoteEditCmd())
	cmd.AddCommand(newNoteDeleteCmd())

	return cmd
}

func newNoteAddCmd() *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "add <text...>",
		Short: "Add a note to the active session",
		Long: `Add a note to the active session, or to the session named with --session.

Examples:
  focus note add "Retry loop needs a cap"
  focus note add --session 3f2a9c1e Follow up with design review`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, formatter, err := requireApp()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			id, err := sessionArg(ctx, app, []string{sessionID})
			if err != nil {
				return err
			}
			n, err := app.Notes().Add(ctx, id, strings.Join(args, " "))
			if err != nil {
				return err
			}

			if formatter.IsJSON() {
				return formatter.JSON(newNoteView(n))
			}
			return formatter.Success("Added note %s", output.ShortID(n.ID))
		},
	}

	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "session ID (default: active session)")

	return cmd
}

func newNoteListCmd() *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List the notes of a session",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, formatter, err := requireApp()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			id, err := sessionArg(ctx, app, []string{sessionID})
			if err != nil {
				return err
			}
			notes, err := app.Notes().List(ctx, id)
			if err != nil {
				return err
			}

			if formatter.IsJSON() {
				views := make([]NoteView, 0, len(notes))
				for _, n := range notes {
					views = append(views, newNoteView(n))
				}
				return formatter.JSON(views)
			}
			if len(notes) == 0 {
				return formatter.Info("No notes in this session")
			}

			now := app.Clock().Now()
			table := output.TableData{
				Columns: []output.TableColumn{
					{Header: "ID"},
					{Header: "NOTE"},
					{Header: "UPDATED"},
				},
			}
			for _, n := range notes {
				table.Rows = append(table.Rows, []string{
					output.ShortID(n.ID),
					n.Summary(60),
					output.RelativeTime(n.UpdatedAt, now),
				})
			}
			return formatter.Table(table)
		},
	}

	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "session ID (default: active session)")

	return cmd
}

func newNoteShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print a note in full",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, formatter, err := requireApp()
			if err != nil {
				return err
			}

			n, err := app.Notes().Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if formatter.IsJSON() {
				return formatter.JSON(newNoteView(n))
			}
			formatter.Println("%s", formatter.Dim(n.UpdatedAt.Local().Format(time.DateTime)))
			return formatter.Println("%s", n.Content)
		},
	}
}

func newNoteEditCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "edit <id> <text...>",
		Short: "Replace a note's content",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, formatter, err := requireApp()
			if err != nil {
				return err
			}

			n, err := app.Notes().Edit(cmd.Context(), args[0], strings.Join(args[1:], " "))
			if err != nil {
				return err
			}

			if formatter.IsJSON() {
				return formatter.JSON(newNoteView(n))
			}
			return formatter.Success("Updated note %s", output.ShortID(n.ID))
		},
	}
}

func newNoteDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Delete a note",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, formatter, err := requireApp()
			if err != nil {
				return err
			}

			if err := app.Notes().Delete(cmd.Context(), args[0], changes.OriginUserEdit); err != nil {
				return err
			}

			if formatter.IsJSON() {
				return formatter.JSON(map[string]any{"id": args[0], "deleted": true})
			}
			return formatter.Success("Deleted note %s", output.ShortID(args[0]))
		},
	}
}
