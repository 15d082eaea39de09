/*
Package cli provides the output, progress and signal helpers used by the
exporter command.

Output Formatting:

List commands return values implementing Tabular, which every formatter can
render:

	formatter := cli.NewFormatter(cli.FormatCSV)
	if err := formatter.FormatTo(os.Stdout, jobs); err != nil {
		return err
	}

Progress Reporting:

	bar := cli.NewProgressReporter(os.Stderr)
	bar.Update(40, "Generating export")
	bar.Finish("completed")

Signal Handling:

	ctx := cli.SetupSignalHandler(context.Background())
	// ctx is cancelled on SIGINT or SIGTERM
*/
package cli
