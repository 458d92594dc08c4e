package commands

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jbctechsolutions/focussync/internal/application/changes"
	imageApp "github.com/jbctechsolutions/focussync/internal/application/image"
	domainErrors "github.com/jbctechsolutions/focussync/internal/domain/errors"
	"github.com/jbctechsolutions/focussync/internal/domain/image"
	"github.com/jbctechsolutions/focussync/internal/presentation/cli/output"
)

// ImageRow is the JSON shape of an image without its data.
type ImageRow struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	NoteID      string    `json:"note_id,omitempty"`
	Caption     string    `json:"caption,omitempty"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	CreatedAt   time.Time `json:"created_at"`
	Uploaded    bool      `json:"uploaded"`
}

func newImageRow(img *image.Image) ImageRow {
	return ImageRow{
		ID:          img.ID,
		SessionID:   img.SessionID,
		NoteID:      img.NoteID,
		Caption:     img.Caption,
		ContentType: img.ContentType,
		SizeBytes:   img.SizeBytes,
		CreatedAt:   img.CreatedAt,
		Uploaded:    img.RemoteKey != "",
	}
}

// NewImageCmd creates the image command group.
func NewImageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "image",
		Aliases: []string{"img"},
		Short:   "Attach images to a session",
	}

	cmd.AddCommand(newImageAddCmd())
	cmd.AddCommand(newImageListCmd())
	cmd.AddCommand(newImageCaptionCmd())
	cmd.AddCommand(newImageSaveCmd())
	cmd.AddCommand(newImageDeleteCmd())

	return cmd
}

func newImageAddCmd() *cobra.Command {
	var (
		sessionID string
		noteID    string
		caption   string
	)

	cmd := &cobra.Command{
		Use:   "add <file>",
		Short: "Attach an image file to a session",
		Long: `Attach an image file to the active session, or to the session named
with --session. The caption defaults to the file name.

Examples:
  focus image add ~/Desktop/whiteboard.png
  focus image add sketch.jpg --note 7d1c02aa --caption "retry states"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, formatter, err := requireApp()
			if err != nil {
				return err
			}

			path := args[0]
			info, err := os.Stat(path)
			if err != nil {
				return domainErrors.NewError(domainErrors.CodeNotFound, "image file not found", err)
			}
			if info.Size() > image.MaxSizeBytes {
				return domainErrors.Validation(fmt.Sprintf("%s is larger than %s", path, formatBytes(image.MaxSizeBytes)))
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", path, err)
			}

			ctx := cmd.Context()
			id, err := sessionArg(ctx, app, []string{sessionID})
			if err != nil {
				return err
			}
			if caption == "" {
				base := filepath.Base(path)
				caption = strings.TrimSuffix(base, filepath.Ext(base))
			}

			img, err := app.Images().Add(ctx, imageApp.AddOptions{
				SessionID: id,
				NoteID:    noteID,
				Caption:   caption,
				Data:      data,
			})
			if err != nil {
				return err
			}

			if formatter.IsJSON() {
				return formatter.JSON(newImageRow(img))
			}
			return formatter.Success("Added image %s (%s, %s)", output.ShortID(img.ID), img.ContentType, formatBytes(img.SizeBytes))
		},
	}

	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "session ID (default: active session)")
	cmd.Flags().StringVar(&noteID, "note", "", "note the image belongs to")
	cmd.Flags().StringVar(&caption, "caption", "", "image caption")

	return cmd
}

func newImageListCmd() *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List the images of a session",
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
			images, err := app.Images().List(ctx, id)
			if err != nil {
				return err
			}

			rows := make([]ImageRow, 0, len(images))
			for _, img := range images {
				rows = append(rows, newImageRow(img))
			}
			if formatter.IsJSON() {
				return formatter.JSON(rows)
			}
			if len(rows) == 0 {
				return formatter.Info("No images in this session")
			}

			table := output.TableData{
				Columns: []output.TableColumn{
					{Header: "ID"},
					{Header: "CAPTION"},
					{Header: "TYPE"},
					{Header: "SIZE", Align: output.AlignRight},
					{Header: "UPLOADED"},
				},
			}
			for _, r := range rows {
				uploaded := "no"
				if r.Uploaded {
					uploaded = "yes"
				}
				table.Rows = append(table.Rows, []string{
					output.ShortID(r.ID),
					output.Truncate(r.Caption, 40),
					r.ContentType,
					formatBytes(r.SizeBytes),
					uploaded,
				})
			}
			return formatter.Table(table)
		},
	}

	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "session ID (default: active session)")

	return cmd
}

func newImageCaptionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "caption <id> <caption>",
		Short: "Change an image's caption",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, formatter, err := requireApp()
			if err != nil {
				return err
			}

			img, err := app.Images().SetCaption(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}

			if formatter.IsJSON() {
				return formatter.JSON(newImageRow(img))
			}
			return formatter.Success("Updated caption of %s", output.ShortID(img.ID))
		},
	}
}

func newImageSaveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "save <id> <path>",
		Short: "Write an image's data to a file",
		Long: `Write an image's data to a file. When path is a directory the file is
named after the image ID.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, formatter, err := requireApp()
			if err != nil {
				return err
			}

			img, err := app.Images().Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			path := args[1]
			if info, err := os.Stat(path); err == nil && info.IsDir() {
				path = filepath.Join(path, img.ID+extensionFor(img.ContentType))
			}
			if err := os.WriteFile(path, img.Data, 0600); err != nil {
				return fmt.Errorf("failed to write %s: %w", path, err)
			}

			if formatter.IsJSON() {
				return formatter.JSON(map[string]any{"id": img.ID, "path": path, "size_bytes": len(img.Data)})
			}
			return formatter.Success("Saved %s to %s", output.ShortID(img.ID), path)
		},
	}
}

// extensionFor picks a file extension for a MIME type.
func extensionFor(contentType string) string {
	if contentType == "image/jpeg" {
		return ".jpg"
	}
	if exts, err := mime.ExtensionsByType(contentType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ""
}

func newImageDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Delete an image",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, formatter, err := requireApp()
			if err != nil {
				return err
			}

			if err := app.Images().Delete(cmd.Context(), args[0], changes.OriginUserEdit); err != nil {
				return err
			}

			if formatter.IsJSON() {
				return formatter.JSON(map[string]any{"id": args[0], "deleted": true})
			}
			return formatter.Success("Deleted image %s", output.ShortID(args[0]))
		},
	}
}
