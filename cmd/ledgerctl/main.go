package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/punchamoorthee/stkledger/internal/config"
	"github.com/punchamoorthee/stkledger/internal/domain"
	"github.com/punchamoorthee/stkledger/internal/notify"
	"github.com/punchamoorthee/stkledger/internal/service"
	"github.com/punchamoorthee/stkledger/internal/store"
)

var Version = "dev"

type app struct {
	backend string
	asJSON  bool
	ledger  store.LedgerStore
	close   func()
	logger  *slog.Logger
}

func main() {
	a := &app{logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))}

	rootCmd := &cobra.Command{
		Use:     "ledgerctl",
		Short:   "Inspect and settle STK push transactions in the configured ledger",
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.open(cmd.Context())
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.close != nil {
				a.close()
			}
		},
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&a.backend, "backend", "", "Ledger backend override (file, sqlite, postgres)")
	rootCmd.PersistentFlags().BoolVarP(&a.asJSON, "json", "j", false, "Output as JSON")

	rootCmd.AddCommand(a.listCmd())
	rootCmd.AddCommand(a.showCmd())
	rootCmd.AddCommand(a.latestCmd())
	rootCmd.AddCommand(a.simulateCmd())
	rootCmd.AddCommand(a.lastCallbackCmd())

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func (a *app) open(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	opts := cfg.LedgerOptions()
	if a.backend != "" {
		opts.Backend = a.backend
	}
	a.ledger, a.close, err = store.Open(ctx, opts, a.logger)
	return err
}

func (a *app) listCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List every transaction in insertion order",
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := service.NewQuery(a.ledger).List(cmd.Context())
			if err != nil {
				return err
			}
			if status != "" {
				filtered := records[:0]
				for _, rec := range records {
					if string(rec.Status) == status {
						filtered = append(filtered, rec)
					}
				}
				records = filtered
			}
			if a.asJSON {
				return writeJSON(cmd.OutOrStdout(), records)
			}
			writeTable(cmd.OutOrStdout(), records)
			return nil
		},
	}
	cmd.Flags().StringVarP(&status, "status", "s", "", "Only show PENDING, COMPLETED or FAILED")
	return cmd
}

func (a *app) showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [id]",
		Short: "Show a transaction by checkout request id, merchant request id or id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := service.NewQuery(a.ledger).FindByID(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			return writeJSON(cmd.OutOrStdout(), rec)
		},
	}
}

func (a *app) latestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "latest",
		Short: "Show the most recently added transaction",
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := service.NewQuery(a.ledger).Latest(cmd.Context())
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), rec)
		},
	}
}

func (a *app) simulateCmd() *cobra.Command {
	var (
		in         service.SimulateInput
		amount     float64
		resultCode int
	)
	cmd := &cobra.Command{
		Use:   "simulate [checkoutRequestID]",
		Short: "Settle a transaction with a locally built gateway callback",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := service.NewIDGenerator(2)
			if err != nil {
				return err
			}
			in.CheckoutRequestID = args[0]
			if cmd.Flags().Changed("amount") {
				in.Amount = &amount
			}
			in.ResultCode = &resultCode

			rec := service.NewReconciler(a.ledger, a.ledger, ids, notify.NewLogNotifier(a.logger), a.logger)
			tx, err := rec.Simulate(cmd.Context(), in)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), tx)
		},
	}
	cmd.Flags().Float64Var(&amount, "amount", 0, "Amount reported by the callback")
	cmd.Flags().IntVar(&resultCode, "result-code", 0, "Gateway result code (0 completes, anything else fails)")
	cmd.Flags().StringVar(&in.ResultDesc, "result-desc", "", "Gateway result description")
	cmd.Flags().StringVar(&in.MpesaReceiptNumber, "receipt", "", "Receipt number (generated when empty)")
	cmd.Flags().StringVar(&in.PhoneNumber, "phone", "", "Payer phone number")
	cmd.Flags().StringVar(&in.MerchantRequestID, "merchant-id", "", "Merchant request id (generated when empty)")
	return cmd
}

func (a *app) lastCallbackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "last-callback",
		Short: "Print the most recent raw callback document",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := a.ledger.LoadRaw(cmd.Context())
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(append(raw, '\n'))
			return err
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeTable(w io.Writer, records []domain.TransactionRecord) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tAMOUNT\tPHONE\tRECEIPT\tCREATED")
	for _, rec := range records {
		fmt.Fprintf(tw, "%s\t%s\t%.2f\t%s\t%s\t%s\n",
			rec.ID, rec.Status, rec.Amount, rec.PhoneNumber, rec.MpesaReceiptNumber, rec.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	tw.Flush()
}
