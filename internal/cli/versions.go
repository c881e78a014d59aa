package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	verstore "github.com/sitemirror/sitemirror/internal/version"
)

var versionsCmd = &cobra.Command{
	Use:   "versions",
	Short: "Manage immutable website versions",
}

var versionsCreateCmd = &cobra.Command{
	Use:   "create <website-id> <source-dir>",
	Short: "Snapshot a directory as a new version",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		changelog, _ := cmd.Flags().GetString("changelog")
		activate, _ := cmd.Flags().GetBool("activate")

		opts := verstore.CreateOpts{
			WebsiteID: args[0],
			SourceDir: args[1],
			Changelog: changelog,
		}
		if cmd.Flags().Changed("activate") {
			opts.SetActive = &activate
		}
		res, err := a.versions.CreateNewVersion(opts)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created version %s (%s), %d files at %s\n",
			res.Version.VersionNumber, res.Version.ID, res.FilesCopied, res.VersionPath)
		return nil
	},
}

var versionsListCmd = &cobra.Command{
	Use:   "list <website-id>",
	Short: "List versions for a website, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		versions, err := a.versions.ListVersions(args[0])
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		if len(versions) == 0 {
			fmt.Fprintln(w, "No versions found.")
			return nil
		}
		fmt.Fprintf(w, "%-38s %-10s %-8s %-22s %s\n", "ID", "VERSION", "ACTIVE", "CREATED", "CHANGELOG")
		fmt.Fprintf(w, "%-38s %-10s %-8s %-22s %s\n",
			strings.Repeat("-", 38),
			strings.Repeat("-", 10),
			strings.Repeat("-", 8),
			strings.Repeat("-", 22),
			strings.Repeat("-", 9))
		for _, v := range versions {
			active := ""
			if v.IsActive {
				active = "yes"
			}
			fmt.Fprintf(w, "%-38s %-10s %-8s %-22s %s\n", v.ID, v.VersionNumber, active, v.CreatedAt, v.Changelog)
		}
		return nil
	},
}

var versionsActivateCmd = &cobra.Command{
	Use:   "activate <website-id> <version-id>",
	Short: "Make a version the active one for its website",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		v, err := a.versions.ActivateVersion(args[1], args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Version %s (%s) is now active\n", v.VersionNumber, v.ID)
		return nil
	},
}

var versionsRollbackCmd = &cobra.Command{
	Use:   "rollback <website-id> <target-version-id>",
	Short: "Roll back by creating a new version from a past one",
	Long: `Rollback never mutates history: the target version's files are copied
into a fresh version, which becomes active. The target stays untouched and
the rollback itself can be rolled back.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		check, err := a.versions.CanRollback(args[0], args[1])
		if err != nil {
			return err
		}
		if !check.CanRollback {
			return fmt.Errorf("cannot roll back: %s", check.Reason)
		}

		changelog, _ := cmd.Flags().GetString("changelog")
		res, err := a.versions.RollbackToVersion(verstore.RollbackOpts{
			WebsiteID:       args[0],
			TargetVersionID: args[1],
			Changelog:       changelog,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Rolled back to %s; new active version is %s (%s)\n",
			res.TargetVersion.VersionNumber, res.NewVersion.VersionNumber, res.NewVersion.ID)
		return nil
	},
}

var versionsFilesCmd = &cobra.Command{
	Use:   "files <version-id>",
	Short: "List the files recorded for a version",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		files, err := a.versions.GetFilesForVersion(args[0])
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		for _, f := range files {
			fmt.Fprintf(w, "%10d  %s\n", f.SizeBytes, f.Path)
		}
		fmt.Fprintf(w, "%d files\n", len(files))
		return nil
	},
}

func init() {
	versionsCreateCmd.Flags().String("changelog", "", "Changelog entry for the new version")
	versionsCreateCmd.Flags().Bool("activate", false, "Activate the new version immediately")
	versionsRollbackCmd.Flags().String("changelog", "", "Changelog entry (default: \"Rollback to version N\")")

	versionsCmd.AddCommand(versionsCreateCmd)
	versionsCmd.AddCommand(versionsListCmd)
	versionsCmd.AddCommand(versionsActivateCmd)
	versionsCmd.AddCommand(versionsRollbackCmd)
	versionsCmd.AddCommand(versionsFilesCmd)
}
