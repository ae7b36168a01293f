package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/spf13/cobra"

	"payments-datagen/internal/adapters/storage/clickhouse"
	"payments-datagen/internal/config"
	"payments-datagen/internal/observability"
)

const (
	malformedQuery = `SELECT order_id, worker, attempt, topic, partition, offset, produced_at
FROM sale_deliveries
WHERE malformed AND error = ''
ORDER BY produced_at DESC
LIMIT ?`

	duplicatesQuery = `SELECT order_id, any(worker), count() AS copies, groupArray(offset)
FROM sale_deliveries
WHERE error = ''
GROUP BY order_id
HAVING copies > 1
ORDER BY order_id DESC
LIMIT ?`

	workersQuery = `SELECT worker,
	countIf(attempt = 'original' AND error = ''),
	countIf(attempt = 'duplicate' AND error = ''),
	countIf(malformed AND error = ''),
	countIf(error != '')
FROM sale_deliveries
GROUP BY worker
ORDER BY worker`
)

func main() {
	logger := observability.SetupLogger(os.Getenv("APP_ENV"))

	var chCfg config.ClickHouseConfig
	var limit int

	var rootCmd = &cobra.Command{Use: "ledger-query-tool", SilenceUsage: true}
	rootCmd.PersistentFlags().StringVar(&chCfg.Addr, "addr", "localhost:9000", "ClickHouse address")
	rootCmd.PersistentFlags().StringVar(&chCfg.Database, "database", "default", "ClickHouse database")
	rootCmd.PersistentFlags().StringVar(&chCfg.User, "user", "default", "ClickHouse user")
	rootCmd.PersistentFlags().StringVar(&chCfg.Password, "password", os.Getenv("CLICKHOUSE_PASSWORD"), "ClickHouse password")
	rootCmd.PersistentFlags().IntVar(&limit, "limit", 20, "Maximum rows to print")

	withConn := func(fn func(ctx context.Context, conn driver.Conn) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			store, err := clickhouse.Open(ctx, chCfg)
			if err != nil {
				return err
			}
			defer store.Close()
			return fn(ctx, store.Conn())
		}
	}

	// Malformed sales that reached the topic
	var malformedCmd = &cobra.Command{
		Use:   "malformed",
		Short: "List delivered sales carrying the invalid confirmation code",
		RunE: withConn(func(ctx context.Context, conn driver.Conn) error {
			return printMalformed(ctx, conn, os.Stdout, limit)
		}),
	}

	var duplicatesCmd = &cobra.Command{
		Use:   "duplicates",
		Short: "List order ids delivered more than once",
		RunE: withConn(func(ctx context.Context, conn driver.Conn) error {
			return printDuplicates(ctx, conn, os.Stdout, limit)
		}),
	}

	var workersCmd = &cobra.Command{
		Use:   "workers",
		Short: "Per worker delivery totals",
		RunE: withConn(func(ctx context.Context, conn driver.Conn) error {
			return printWorkers(ctx, conn, os.Stdout)
		}),
	}

	rootCmd.AddCommand(malformedCmd, duplicatesCmd, workersCmd)
	if err := rootCmd.Execute(); err != nil {
		logger.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func printMalformed(ctx context.Context, conn driver.Conn, out io.Writer, limit int) error {
	rows, err := conn.Query(ctx, malformedQuery, limit)
	if err != nil {
		return fmt.Errorf("failed to query malformed sales: %w", err)
	}
	defer rows.Close()

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ORDER ID\tWORKER\tATTEMPT\tTOPIC\tPARTITION\tOFFSET\tPRODUCED AT")
	for rows.Next() {
		var (
			orderID, offset       int64
			worker, attempt, topic string
			partition             int32
			producedAt            time.Time
		)
		if err := rows.Scan(&orderID, &worker, &attempt, &topic, &partition, &offset, &producedAt); err != nil {
			return err
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%d\t%s\n", orderID, worker, attempt, topic, partition, offset, producedAt.Format(time.RFC3339))
	}
	if err := rows.Err(); err != nil {
		return err
	}
	return w.Flush()
}

func printDuplicates(ctx context.Context, conn driver.Conn, out io.Writer, limit int) error {
	rows, err := conn.Query(ctx, duplicatesQuery, limit)
	if err != nil {
		return fmt.Errorf("failed to query duplicates: %w", err)
	}
	defer rows.Close()

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ORDER ID\tWORKER\tCOPIES\tOFFSETS")
	for rows.Next() {
		var (
			orderID int64
			worker  string
			copies  uint64
			offsets []int64
		)
		if err := rows.Scan(&orderID, &worker, &copies, &offsets); err != nil {
			return err
		}
		fmt.Fprintf(w, "%d\t%s\t%d\t%v\n", orderID, worker, copies, offsets)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	return w.Flush()
}

func printWorkers(ctx context.Context, conn driver.Conn, out io.Writer) error {
	rows, err := conn.Query(ctx, workersQuery)
	if err != nil {
		return fmt.Errorf("failed to query worker totals: %w", err)
	}
	defer rows.Close()

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "WORKER\tORIGINALS\tDUPLICATES\tMALFORMED\tFAILED")
	for rows.Next() {
		var worker string
		var originals, duplicates, malformed, failed uint64
		if err := rows.Scan(&worker, &originals, &duplicates, &malformed, &failed); err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\n", worker, originals, duplicates, malformed, failed)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	return w.Flush()
}
