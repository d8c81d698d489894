package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	nodescan "github.com/Devour6/stake-sentinel-dashboard-sub000"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:          "nodescan",
		Short:        "Solana validator dashboard",
		Long:         `NodeScan inspects Solana validator stake, commission and epoch progress using several public data sources.`,
		SilenceUsage: true,
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML configuration file")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringSlice("rpc", nil, "Solana RPC endpoints, tried in order")
	rootCmd.PersistentFlags().String("store", "", "LevelDB directory for last known stake history")

	loadApp := func(cmd *cobra.Command) (*nodescan.App, error) {
		cfg, err := nodescan.Load(configPath, cmd.Flags())
		if err != nil {
			return nil, err
		}
		return nodescan.NewApp(cfg)
	}

	rootCmd.AddCommand(
		newServeCmd(loadApp),
		newValidatorCmd(loadApp),
		newEpochCmd(loadApp),
		newConfirmCmd(loadApp),
		newWalletCmd(loadApp),
	)
	return rootCmd
}

type appLoader func(cmd *cobra.Command) (*nodescan.App, error)

func newServeCmd(loadApp appLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the dashboard API over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app.RunBackground(ctx)
			poller := app.NewPoller()
			if err := poller.Start(ctx); err != nil {
				return err
			}
			defer poller.Stop()

			srv := &http.Server{
				Addr:              app.Config.Server.Addr,
				Handler:           app.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() {
				app.Logger.Info("listening", zap.String("addr", srv.Addr))
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("server stopped: %w", err)
				}
				return nil
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			app.Logger.Info("shutting down")
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().String("addr", ":8080", "HTTP listen address")
	cmd.Flags().StringSlice("validators", nil, "Vote pubkeys refreshed in the background")
	return cmd
}

func newValidatorCmd(loadApp appLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "validator <vote-pubkey>",
		Short: "Print the dashboard of a validator as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !nodescan.ValidateVotePubkey(args[0]) {
				return fmt.Errorf("%w: %q", nodescan.ErrInvalidPubkey, args[0])
			}
			app, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			dash, err := app.Service.Dashboard(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if dash.History.Estimated {
				fmt.Fprintln(cmd.ErrOrStderr(), "note: stake history is estimated")
			}
			return printJSON(cmd, dash)
		},
	}
}

func newEpochCmd(loadApp appLoader) *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "epoch",
		Short: "Print the current epoch and the time left in it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			if !watch {
				info, err := app.Service.EpochInfo(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "epoch %d  %.2f%%  %s  (source: %s)\n",
					info.Epoch, info.Progress()*100, nodescan.NewCountdown(info.TimeRemainingSeconds()).Label(), info.Source)
				return nil
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			poller := app.NewPoller()
			if err := poller.Start(ctx); err != nil {
				return err
			}
			defer poller.Stop()
			go app.Countdown.Run(ctx, app.Clock)

			ticker := time.NewTicker(time.Second)
			defer ticker.Stop()
			for {
				epoch, _ := poller.LastEpoch()
				fmt.Fprintf(cmd.OutOrStdout(), "\repoch %d  %s   ", epoch.Epoch, app.Countdown.Label())
				select {
				case <-ctx.Done():
					fmt.Fprintln(cmd.OutOrStdout())
					return nil
				case <-ticker.C:
				}
			}
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "Keep refreshing and count down every second")
	return cmd
}

func newConfirmCmd(loadApp appLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "confirm <signature>",
		Short: "Wait until a transaction signature is confirmed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			status, err := app.Confirmer.ConfirmSignature(cmd.Context(), args[0])
			var txErr *nodescan.TransactionError
			if errors.As(err, &txErr) {
				return fmt.Errorf("transaction failed: %s", txErr.Message)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s confirmed at slot %d\n", args[0], status.Slot)
			return nil
		},
	}
}

func newWalletCmd(loadApp appLoader) *cobra.Command {
	walletCmd := &cobra.Command{
		Use:   "wallet",
		Short: "Manage the connected wallet",
	}
	walletCmd.PersistentFlags().String("keypair", "", "Solana CLI keypair file")
	walletCmd.PersistentFlags().String("pubkey", "", "Public key for a watch-only wallet")

	withWallets := func(cmd *cobra.Command) (*nodescan.App, error) {
		app, err := loadApp(cmd)
		if err != nil {
			return nil, err
		}
		if path, _ := cmd.Flags().GetString("keypair"); path != "" {
			app.Config.Wallet.KeypairPath = path
		}
		if pubkey, _ := cmd.Flags().GetString("pubkey"); pubkey != "" {
			app.Config.Wallet.WatchPubkey = pubkey
		}
		app.Wallets = nodescan.DefaultWalletRegistry(app.Config.Wallet)
		return app, nil
	}

	walletCmd.AddCommand(
		&cobra.Command{
			Use:   "detect",
			Short: "List usable wallets",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				app, err := withWallets(cmd)
				if err != nil {
					return err
				}
				defer app.Close()

				detected := app.Wallets.Detect()
				if len(detected) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "no wallet available; pass --keypair or --pubkey")
					return nil
				}
				for _, id := range detected {
					fmt.Fprintln(cmd.OutOrStdout(), id)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "connect <wallet>",
			Short: "Connect a wallet and remember it",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				app, err := withWallets(cmd)
				if err != nil {
					return err
				}
				defer app.Close()

				connector, pubkey, err := app.Wallets.Connect(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				session := nodescan.WalletSession{WalletPubkey: pubkey, WalletName: connector.Name()}
				if err := nodescan.SaveWalletSession(app.Config.Wallet.SessionFile, session); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "connected %s (%s)\n", pubkey, connector.Name())
				return nil
			},
		},
		&cobra.Command{
			Use:   "disconnect",
			Short: "Forget the connected wallet",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				app, err := withWallets(cmd)
				if err != nil {
					return err
				}
				defer app.Close()

				session, err := nodescan.LoadWalletSession(app.Config.Wallet.SessionFile)
				if errors.Is(err, nodescan.ErrNotFound) {
					fmt.Fprintln(cmd.OutOrStdout(), "no wallet connected")
					return nil
				}
				if err != nil {
					return err
				}
				if err := nodescan.ClearWalletSession(app.Config.Wallet.SessionFile); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "disconnected %s\n", session.WalletPubkey)
				return nil
			},
		},
	)
	return walletCmd
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
