package db

import (
	"fmt"
	"io"
	"strconv"
)

// RunMigrateCommand handles the 'migrate' subcommand against the database at
// dbPath, writing a report to out.
func RunMigrateCommand(args []string, dbPath string, out io.Writer) error {
	if len(args) < 1 {
		PrintMigrateHelp(out)
		return fmt.Errorf("missing migrate action")
	}

	database, err := OpenDB(dbPath)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	switch action := args[0]; action {
	case "up":
		if err := database.MigrateUp(); err != nil {
			return err
		}
		return printStatus(out, database)
	case "down":
		if err := database.MigrateDown(); err != nil {
			return err
		}
		return printStatus(out, database)
	case "status":
		return printStatus(out, database)
	case "force":
		if len(args) < 2 {
			return fmt.Errorf("usage: carputer migrate force <version>")
		}
		v, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid version number: %s", args[1])
		}
		if err := database.MigrateForce(v); err != nil {
			return err
		}
		return printStatus(out, database)
	case "help":
		PrintMigrateHelp(out)
		return nil
	default:
		PrintMigrateHelp(out)
		return fmt.Errorf("unknown migrate action: %s", action)
	}
}

func printStatus(out io.Writer, database *DB) error {
	st, err := database.SchemaStatus()
	if err != nil {
		return fmt.Errorf("failed to get migration status: %w", err)
	}
	fmt.Fprintf(out, "Current version: %d\n", st.Current)
	fmt.Fprintf(out, "Latest available: %d\n", st.Latest)
	fmt.Fprintf(out, "Dirty: %v\n", st.Dirty)
	if st.Dirty {
		fmt.Fprintln(out, "Database is in a dirty state. Inspect it, then run: carputer migrate force <version>")
	}
	return nil
}

// PrintMigrateHelp displays the help message for the migrate command
func PrintMigrateHelp(out io.Writer) {
	fmt.Fprint(out, `Usage: carputer migrate <command>

Commands:
  up           Apply all pending migrations
  down         Roll back one migration
  status       Show current migration version
  force <N>    Force migration version to N (recovery only)
  help         Show this help message
`)
}
