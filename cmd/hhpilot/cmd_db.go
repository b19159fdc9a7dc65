package main

import (
	"bufio"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/spf13/cobra"

	"hhpilot/internal/models"
	"hhpilot/internal/store"
)

var contactsEmployerID int64

// queryCmd is the raw SQL console
var queryCmd = &cobra.Command{
	Use:   "query [sql]",
	Short: "Run SQL against the profile database",
	Long: `Executes a SQL statement against the profile's SQLite database.
The statement is taken from the arguments, or from stdin when none are
given. SELECT output is tab-separated and piped through $PAGER when set.

Example:
  hhpilot query "SELECT email, employer_name FROM vacancy_contacts"`,
	RunE: runQuery,
}

// migrateDbCmd applies schema migrations
var migrateDbCmd = &cobra.Command{
	Use:   "migrate-db [name]",
	Short: "Apply pending schema migrations",
	Long: `Without arguments applies every pending migration in lexical order.
With a name applies that single script, e.g.:

  hhpilot migrate-db 2024-11-02-negotiations`,
	Args: cobra.MaximumNArgs(1),
	RunE: runMigrateDb,
}

// settingsCmd manages the key-value settings table
var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Inspect and edit the profile's settings table",
}

var settingsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all settings",
	RunE:  runSettingsList,
}

var settingsGetCmd = &cobra.Command{
	Use:   "get [key]",
	Short: "Print one setting",
	Args:  cobra.ExactArgs(1),
	RunE:  runSettingsGet,
}

var settingsSetCmd = &cobra.Command{
	Use:   "set [key] [value]",
	Short: "Store a setting (the value is parsed as JSON when possible)",
	Args:  cobra.ExactArgs(2),
	RunE:  runSettingsSet,
}

var settingsDeleteCmd = &cobra.Command{
	Use:   "delete [key]",
	Short: "Delete a setting",
	Args:  cobra.ExactArgs(1),
	RunE:  runSettingsDelete,
}

// getEmployerContactsCmd dumps collected contacts
var getEmployerContactsCmd = &cobra.Command{
	Use:   "get-employer-contacts",
	Short: "Print employer contacts collected during apply runs",
	RunE:  runGetEmployerContacts,
}

func init() {
	settingsCmd.AddCommand(settingsListCmd)
	settingsCmd.AddCommand(settingsGetCmd)
	settingsCmd.AddCommand(settingsSetCmd)
	settingsCmd.AddCommand(settingsDeleteCmd)

	getEmployerContactsCmd.Flags().Int64Var(&contactsEmployerID, "employer-id", 0, "Only contacts of one employer")

	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(migrateDbCmd)
	rootCmd.AddCommand(settingsCmd)
	rootCmd.AddCommand(getEmployerContactsCmd)
}

func runQuery(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}

	statement := strings.TrimSpace(strings.Join(args, " "))
	if statement == "" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return err
		}
		statement = strings.TrimSpace(string(data))
	}
	if statement == "" {
		return fmt.Errorf("no SQL statement given")
	}

	if !strings.HasPrefix(strings.ToUpper(statement), "SELECT") {
		result, err := st.DB().Exec(statement)
		if err != nil {
			return err
		}
		affected, _ := result.RowsAffected()
		fmt.Fprintf(cmd.OutOrStdout(), "✅ %d row(s) affected\n", affected)
		return nil
	}

	rows, err := st.DB().Query(statement)
	if err != nil {
		return err
	}
	defer rows.Close()

	out, closePager, err := pagedOutput(cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer closePager()

	return printRows(out, rows)
}

// printRows renders a result set as tab-separated text with a header line.
func printRows(out io.Writer, rows *sql.Rows) error {
	columns, err := rows.Columns()
	if err != nil {
		return err
	}
	fmt.Fprintln(out, strings.Join(columns, "\t"))

	values := make([]interface{}, len(columns))
	scanTargets := make([]interface{}, len(columns))
	for i := range values {
		scanTargets[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(scanTargets...); err != nil {
			return err
		}
		cells := make([]string, len(values))
		for i, v := range values {
			switch cell := v.(type) {
			case nil:
				cells[i] = "NULL"
			case []byte:
				cells[i] = string(cell)
			default:
				cells[i] = fmt.Sprint(cell)
			}
		}
		fmt.Fprintln(out, strings.Join(cells, "\t"))
	}
	return rows.Err()
}

// pagedOutput routes output through $PAGER when one is configured.
func pagedOutput(fallback io.Writer) (io.Writer, func(), error) {
	pager := os.Getenv("PAGER")
	if pager == "" {
		return fallback, func() {}, nil
	}

	pagerCmd := exec.Command(pager)
	pagerCmd.Stdout = os.Stdout
	pagerCmd.Stderr = os.Stderr
	pipe, err := pagerCmd.StdinPipe()
	if err != nil {
		return nil, nil, err
	}
	if err := pagerCmd.Start(); err != nil {
		return nil, nil, err
	}

	buf := bufio.NewWriter(pipe)
	return buf, func() {
		_ = buf.Flush()
		_ = pipe.Close()
		_ = pagerCmd.Wait()
	}, nil
}

func runMigrateDb(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}

	if len(args) == 1 {
		ran, err := st.ApplyMigration(args[0])
		if err != nil {
			return err
		}
		if !ran {
			fmt.Fprintf(cmd.OutOrStdout(), "⚠️ migration %s already applied\n", args[0])
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✅ migration %s applied\n", args[0])
		return nil
	}

	// Open already ran Migrate; rerunning makes the no-op explicit for the
	// user and lists the known scripts.
	if err := st.Migrate(); err != nil {
		return err
	}
	names, err := store.MigrationNames()
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✅ schema is up to date (%d migrations)\n", len(names))
	for _, name := range names {
		fmt.Fprintf(cmd.OutOrStdout(), "   %s\n", name)
	}
	return nil
}

func runSettingsList(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	settings, err := st.Settings.Find(nil)
	if err != nil {
		return err
	}
	for _, s := range settings {
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", s.Key, s.Value)
	}
	return nil
}

func runSettingsGet(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	setting, ok, err := st.Settings.Get(args[0])
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("setting %q not found", args[0])
	}
	fmt.Fprintln(cmd.OutOrStdout(), setting.Value)
	return nil
}

func runSettingsSet(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}

	// JSON input keeps its type; anything else is stored as a string.
	var value interface{}
	if err := json.Unmarshal([]byte(args[1]), &value); err != nil {
		value = args[1]
	}
	if err := st.SetSetting(args[0], value); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✅ %s saved\n", args[0])
	return nil
}

func runSettingsDelete(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	if err := st.DeleteSetting(args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✅ %s deleted\n", args[0])
	return nil
}

func runGetEmployerContacts(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}

	filters := models.Row{}
	if contactsEmployerID != 0 {
		filters["employer_id"] = contactsEmployerID
	}
	contacts, err := st.VacancyContacts.Find(filters)
	if err != nil {
		return err
	}
	if len(contacts) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "⚠️ no contacts collected yet, run apply-similar first")
		return nil
	}

	for _, c := range contacts {
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%s\n",
			c.Email, c.Name, c.EmployerName, c.VacancyURL)
		if c.Phones != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "\tphones: %s\n", c.Phones)
		}
	}
	return nil
}
