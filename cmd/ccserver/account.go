// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CollectConnect Contributors

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/collectconnect/ccserver/internal/auth"
	"github.com/collectconnect/ccserver/pkg/errutil"
)

// NewAccountCmd creates the account subcommand, which runs auth operations
// against the configured store.
func NewAccountCmd(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Run account operations against the credential store",
		Long: `Register, log in, rotate recovery phrases and rebind devices from a
terminal. Session keys and recovery phrases are printed once and never
stored in plaintext.`,
	}

	cmd.AddCommand(newRegisterCmd(deps))
	cmd.AddCommand(newLoginCmd(deps))
	cmd.AddCommand(newLogoutCmd(deps))
	cmd.AddCommand(newResetRecoveryCmd(deps))
	cmd.AddCommand(newRecoverCmd(deps))
	cmd.AddCommand(newWhoamiCmd(deps))

	return cmd
}

func newRegisterCmd(deps *Deps) *cobra.Command {
	var device string
	cmd := &cobra.Command{
		Use:   "register USERNAME",
		Short: "Create an account bound to a device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, deps, func(ctx context.Context, a *app) error {
				result, err := a.service.Register(ctx, args[0], device)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Registered %s (%s)\n", result.Account.Username, result.Account.ID)
				fmt.Fprintf(cmd.OutOrStdout(), "Session key: %s\n", result.SessionKey)
				printPhrase(cmd, result.RecoveryPhrase)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&device, "device", "", "device identifier")
	return cmd
}

func newLoginCmd(deps *Deps) *cobra.Command {
	var device string
	cmd := &cobra.Command{
		Use:   "login USERNAME",
		Short: "Issue a new session key from the bound device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, deps, func(ctx context.Context, a *app) error {
				key, err := a.service.Login(ctx, args[0], device)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Session key: %s\n", key)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&device, "device", "", "device identifier")
	return cmd
}

func newLogoutCmd(deps *Deps) *cobra.Command {
	var sessionKey string
	cmd := &cobra.Command{
		Use:   "logout USERNAME",
		Short: "Revoke the current session key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, deps, func(ctx context.Context, a *app) error {
				if err := a.service.Logout(ctx, args[0], sessionKey); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&sessionKey, "session-key", "", "current session key")
	return cmd
}

func newResetRecoveryCmd(deps *Deps) *cobra.Command {
	var device, sessionKey string
	cmd := &cobra.Command{
		Use:   "reset-recovery USERNAME",
		Short: "Replace the recovery phrase and rotate the session key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, deps, func(ctx context.Context, a *app) error {
				result, err := a.service.ResetRecoveryKey(ctx, args[0], device, sessionKey)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Session key: %s\n", result.SessionKey)
				printPhrase(cmd, result.RecoveryPhrase)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&device, "device", "", "bound device identifier")
	cmd.Flags().StringVar(&sessionKey, "session-key", "", "current session key")
	return cmd
}

func newRecoverCmd(deps *Deps) *cobra.Command {
	var device, phrase string
	cmd := &cobra.Command{
		Use:   "recover USERNAME",
		Short: "Bind the account to a new device using the recovery phrase",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, deps, func(ctx context.Context, a *app) error {
				if err := a.service.RecoverDevice(ctx, args[0], device, phrase); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Device rebound; log in from the new device")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&device, "device", "", "new device identifier")
	cmd.Flags().StringVar(&phrase, "phrase", "", "recovery phrase")
	return cmd
}

func newWhoamiCmd(deps *Deps) *cobra.Command {
	var sessionKey string
	cmd := &cobra.Command{
		Use:   "whoami USERNAME",
		Short: "Check a session key and show the account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, deps, func(ctx context.Context, a *app) error {
				acct, err := a.service.RequireSession(ctx, args[0], sessionKey)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Username: %s\n", acct.Username)
				fmt.Fprintf(cmd.OutOrStdout(), "ID:       %s\n", acct.ID)
				fmt.Fprintf(cmd.OutOrStdout(), "Created:  %s\n", acct.CreatedAt.Format(time.RFC3339))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&sessionKey, "session-key", "", "current session key")
	return cmd
}

func printPhrase(cmd *cobra.Command, phrase string) {
	fmt.Fprintf(cmd.OutOrStdout(), "Recovery phrase: %s\n", phrase)
	fmt.Fprintln(cmd.OutOrStdout(), "Write the recovery phrase down now. It cannot be shown again.")
}

// withApp loads config, opens the app, runs fn and closes the app.
func withApp(cmd *cobra.Command, deps *Deps, fn func(context.Context, *app) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := setupLogging(cfg)
	if err != nil {
		return err
	}

	a, err := deps.openApp(ctx, cfg, logger)
	if err != nil {
		return oops.With("operation", "open store").Wrap(err)
	}
	defer a.Close()

	if err := fn(ctx, a); err != nil {
		if auth.KindOf(err) == "" {
			return err
		}
		logger.InfoContext(ctx, "account command failed",
			append([]any{"command", cmd.Name()}, errutil.Attrs(err)...)...)
		return &publicError{err: err}
	}
	return nil
}

// publicError shows only auth.PublicMessage text while keeping the full
// error reachable through Unwrap.
type publicError struct {
	err error
}

func (e *publicError) Error() string { return auth.PublicMessage(e.err) }

func (e *publicError) Unwrap() error { return e.err }
