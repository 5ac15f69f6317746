package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/DavidPeltz/pinvault"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Create, restore and inspect encrypted backups",
	Long:  "Create password-encrypted backups of the record file, restore them, and inspect backup metadata without a password.",
}

var createBackupCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a backup",
	Long:  "Encrypt all records under the backup password and write the backup to the configured destination.",
	Args:  cobra.NoArgs,
	RunE:  runCreateBackup,
}

var restoreBackupCmd = &cobra.Command{
	Use:   "restore [backup-path]",
	Short: "Restore from a backup",
	Long: `Decrypt a backup and merge its records into the record file. Without a
path the newest backup at the configured destination is used. By default
existing records are kept; use --overwrite or --replace-all to change that.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRestoreBackup,
}

var inspectBackupCmd = &cobra.Command{
	Use:   "inspect [backup-file]",
	Short: "Show backup metadata",
	Long:  "Read a backup file's header and metadata without decrypting it. No password needed.",
	Args:  cobra.ExactArgs(1),
	RunE:  runInspectBackup,
}

var listBackupsCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored backups",
	Args:  cobra.NoArgs,
	RunE:  runListBackups,
}

var shareBackupCmd = &cobra.Command{
	Use:   "share [backup-path]",
	Short: "Share a stored backup",
	Long:  "Make a stored backup available outside the destination: a copy in the exports directory for file sinks, a presigned URL for S3.",
	Args:  cobra.ExactArgs(1),
	RunE:  runShareBackup,
}

var (
	restoreReplaceAll bool
	restoreOverwrite  bool
)

func init() {
	rootCmd.AddCommand(backupCmd)

	backupCmd.AddCommand(createBackupCmd)
	backupCmd.AddCommand(restoreBackupCmd)
	backupCmd.AddCommand(inspectBackupCmd)
	backupCmd.AddCommand(listBackupsCmd)
	backupCmd.AddCommand(shareBackupCmd)

	restoreBackupCmd.Flags().BoolVar(&restoreReplaceAll, "replace-all", false, "wipe local records and keep only the backup's")
	restoreBackupCmd.Flags().BoolVar(&restoreOverwrite, "overwrite", false, "overwrite local records that also exist in the backup")
}

// startSpinner shows progress during key derivation, which can take a
// noticeable moment at production round counts.
func startSpinner(message string) (*spinner.Spinner, func()) {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " " + message
	_ = s.Color("cyan")
	s.Start()

	return s, func() {
		s.Stop()
		if s.FinalMSG != "" {
			fmt.Print(s.FinalMSG)
		}
	}
}

func runCreateBackup(cmd *cobra.Command, args []string) error {
	if err := requirePassword(); err != nil {
		return err
	}

	s, cleanup := startSpinner("Encrypting backup...")
	path, err := svc.ExportBackup(context.Background(), password)
	if err != nil {
		cleanup()
		return fmt.Errorf("failed to create backup: %w", err)
	}
	s.FinalMSG = color.GreenString("✓") + " Backup written to " + color.YellowString(path) + "\n"
	cleanup()

	return nil
}

func runRestoreBackup(cmd *cobra.Command, args []string) error {
	if err := requirePassword(); err != nil {
		return err
	}

	policy := pinvault.RestorePolicy{
		ReplaceAll:        restoreReplaceAll,
		OverwriteExisting: restoreOverwrite,
	}

	s, cleanup := startSpinner("Decrypting backup...")

	var (
		result *pinvault.RestoreResult
		err    error
	)
	if len(args) == 1 {
		result, err = svc.ImportBackup(context.Background(), args[0], password, policy)
	} else {
		result, err = svc.ImportPicked(context.Background(), password, policy)
	}
	if err != nil {
		cleanup()
		return fmt.Errorf("failed to restore backup: %w", err)
	}

	s.FinalMSG = fmt.Sprintf("%s Restored %d of %d records (%d skipped)\n",
		color.GreenString("✓"), result.RestoredCount, result.TotalInBackup, result.SkippedCount)
	cleanup()

	for _, w := range result.Warnings {
		fmt.Println(color.YellowString("!"), w)
	}
	for _, f := range result.Failures {
		fmt.Println(color.RedString("✗"), f.RecordID+":", f.Err)
	}

	if err := saveRecords(recordsPath, store); err != nil {
		return fmt.Errorf("restore succeeded but saving records failed: %w", err)
	}
	return nil
}

func runInspectBackup(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read backup file: %w", err)
	}

	info, err := pinvault.Inspect(data)
	if err != nil {
		return fmt.Errorf("failed to inspect backup: %w", err)
	}

	out, err := yaml.Marshal(info)
	if err != nil {
		return err
	}
	fmt.Print(string(out))
	return nil
}

func runListBackups(cmd *cobra.Command, args []string) error {
	lister, ok := sink.(interface{ List() ([]string, error) })
	if !ok {
		return fmt.Errorf("the configured sink cannot list backups")
	}

	paths, err := lister.List()
	if err != nil {
		return fmt.Errorf("failed to list backups: %w", err)
	}

	if len(paths) == 0 {
		fmt.Println("No backups found")
		return nil
	}
	for _, p := range paths {
		fmt.Println(p)
	}
	return nil
}

func runShareBackup(cmd *cobra.Command, args []string) error {
	location, err := sink.Share(args[0])
	if err != nil {
		return fmt.Errorf("failed to share backup: %w", err)
	}

	fmt.Println(color.GreenString("✓"), "Backup available at", color.YellowString(location))
	return nil
}
