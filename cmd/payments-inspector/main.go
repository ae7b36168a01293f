package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/twmb/franz-go/pkg/kgo"

	"payments-datagen/internal/adapters/messaging/kafka"
	"payments-datagen/internal/core/domain"
	"payments-datagen/internal/observability"
)

func main() {
	logger := observability.SetupLogger(os.Getenv("APP_ENV"))

	var kafkaBrokers string
	var topic string
	var idleTimeout time.Duration

	var rootCmd = &cobra.Command{Use: "payments-inspector", SilenceUsage: true}
	rootCmd.PersistentFlags().StringVar(&kafkaBrokers, "brokers", "localhost:9092", "Kafka broker addresses")
	rootCmd.PersistentFlags().StringVar(&topic, "topic", "payments", "Payments topic")
	rootCmd.PersistentFlags().DurationVar(&idleTimeout, "idle-timeout", 5*time.Second, "Stop after this long without new records")

	var viewCmd = &cobra.Command{
		Use:   "view",
		Short: "Print the sales in the payments topic",
		RunE: func(cmd *cobra.Command, _ []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			logger.Info("reading sales", "topic", topic, "limit", limit)

			client, err := newConsumer(kafkaBrokers, topic)
			if err != nil {
				return err
			}
			defer client.Close()

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PARTITION\tOFFSET\tPRODUCER\tORDER_ID\tAMOUNT\tCONFIRMATION")
			fmt.Fprintln(w, "---------\t------\t--------\t--------\t------\t------------")

			count := 0
			err = consume(cmd.Context(), client, idleTimeout, func(r *kgo.Record) bool {
				sale, _, err := kafka.DecodeSale(r.Value)
				if err != nil {
					fmt.Fprintf(w, "%d\t%d\t%s\t-\t-\t%v\n", r.Partition, r.Offset, header(r, "producer"), err)
				} else {
					fmt.Fprintf(w, "%d\t%d\t%s\t%d\t%.2f\t%s\n", r.Partition, r.Offset, header(r, "producer"), sale.OrderID, sale.Amount, sale.ConfirmationCode)
				}
				count++
				return count < limit
			})
			if ferr := w.Flush(); ferr != nil {
				logger.Error("failed to flush output", "error", ferr)
			}
			return err
		},
	}
	viewCmd.Flags().Int("limit", 20, "Number of records to print")

	var statsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Count duplicate order ids and malformed sales in the payments topic",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger.Info("scanning topic", "topic", topic)

			client, err := newConsumer(kafkaBrokers, topic)
			if err != nil {
				return err
			}
			defer client.Close()

			t := newTally()
			err = consume(cmd.Context(), client, idleTimeout, func(r *kgo.Record) bool {
				t.add(header(r, "producer"), r.Value)
				return true
			})
			if err != nil {
				return err
			}
			return t.print(os.Stdout)
		},
	}

	rootCmd.AddCommand(viewCmd, statsCmd)
	if err := rootCmd.Execute(); err != nil {
		logger.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func newConsumer(brokers, topic string) (*kgo.Client, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(strings.Split(brokers, ",")...),
		kgo.ConsumeTopics(topic),
		kgo.FetchMaxWait(time.Second),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}
	return client, nil
}

// consume polls until fn returns false, ctx is done, or no record arrives
// within idle.
func consume(ctx context.Context, client *kgo.Client, idle time.Duration, fn func(*kgo.Record) bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		pollCtx, cancel := context.WithTimeout(ctx, idle)
		fetches := client.PollFetches(pollCtx)
		cancel()

		if fetches.IsClientClosed() {
			return nil
		}
		for _, fe := range fetches.Errors() {
			if errors.Is(fe.Err, context.DeadlineExceeded) || errors.Is(fe.Err, context.Canceled) {
				continue
			}
			return fmt.Errorf("fetch from %s/%d failed: %w", fe.Topic, fe.Partition, fe.Err)
		}
		records := fetches.Records()
		if len(records) == 0 {
			return ctx.Err()
		}
		for _, r := range records {
			if !fn(r) {
				return nil
			}
		}
	}
}

func header(r *kgo.Record, key string) string {
	for _, h := range r.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return "N/A"
}

// tally accumulates what downstream validation and deduplication should catch.
type tally struct {
	records     int
	undecodable int
	malformed   int
	orders      map[int64]int
	producers   map[string]int
}

func newTally() *tally {
	return &tally{orders: make(map[int64]int), producers: make(map[string]int)}
}

func (t *tally) add(producer string, value []byte) {
	t.records++
	t.producers[producer]++
	sale, _, err := kafka.DecodeSale(value)
	if err != nil {
		t.undecodable++
		return
	}
	if sale.ConfirmationCode == domain.InvalidConfirmationCode {
		t.malformed++
	}
	t.orders[sale.OrderID]++
}

// duplicates returns the number of extra copies and the ids that have them.
func (t *tally) duplicates() (int, []int64) {
	extra := 0
	var ids []int64
	for id, n := range t.orders {
		if n > 1 {
			extra += n - 1
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return extra, ids
}

func (t *tally) print(out io.Writer) error {
	extra, ids := t.duplicates()
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "records\t%d\n", t.records)
	fmt.Fprintf(w, "distinct order ids\t%d\n", len(t.orders))
	fmt.Fprintf(w, "duplicate records\t%d\n", extra)
	fmt.Fprintf(w, "duplicated order ids\t%d\n", len(ids))
	fmt.Fprintf(w, "malformed records\t%d\n", t.malformed)
	fmt.Fprintf(w, "undecodable records\t%d\n", t.undecodable)
	fmt.Fprintln(w, "\t")

	producers := make([]string, 0, len(t.producers))
	for p := range t.producers {
		producers = append(producers, p)
	}
	sort.Strings(producers)
	fmt.Fprintln(w, "PRODUCER\tRECORDS")
	for _, p := range producers {
		fmt.Fprintf(w, "%s\t%d\n", p, t.producers[p])
	}
	return w.Flush()
}
