package cmd

import (
	"fmt"
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/DavidPeltz/pinvault"
)

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "Work with the local record file",
}

var listRecordsCmd = &cobra.Command{
	Use:   "list",
	Short: "List records",
	Args:  cobra.NoArgs,
	RunE:  runListRecords,
}

var newRecordCmd = &cobra.Command{
	Use:   "new [name]",
	Short: "Create an empty record",
	Long:  "Create a record with a fresh 40-cell grid and add it to the record file.",
	Args:  cobra.ExactArgs(1),
	RunE:  runNewRecord,
}

func init() {
	rootCmd.AddCommand(recordsCmd)

	recordsCmd.AddCommand(listRecordsCmd)
	recordsCmd.AddCommand(newRecordCmd)
}

func runListRecords(cmd *cobra.Command, args []string) error {
	records, err := store.GetAll()
	if err != nil {
		return err
	}

	if len(records) == 0 {
		fmt.Println("No records")
		return nil
	}

	ids := make([]string, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		rec := records[id]
		digits := 0
		for _, c := range rec.Cells {
			if c.Digit != nil {
				digits++
			}
		}
		fmt.Printf("%s  %-30s  %d digits  updated %s\n",
			id, rec.Name, digits, rec.UpdatedAt.Format("2006-01-02 15:04"))
	}
	return nil
}

func runNewRecord(cmd *cobra.Command, args []string) error {
	rec, err := pinvault.NewRecord(args[0])
	if err != nil {
		return fmt.Errorf("failed to create record: %w", err)
	}

	if _, err = store.Put(*rec); err != nil {
		return err
	}
	if err = saveRecords(recordsPath, store); err != nil {
		return fmt.Errorf("failed to save records: %w", err)
	}

	fmt.Println(color.GreenString("✓"), "Created record", color.YellowString(rec.ID))
	return nil
}
