package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"pkt.systems/pslog"

	"pkt.systems/ledgerd"
	"pkt.systems/ledgerd/internal/permission"
)

var errVolatileStore = errors.New("permissions commands need a persistent store (set --permission-store to postgres:// or sqlite://)")

func newPermissionsCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "permissions",
		Aliases: []string{"perm"},
		Short:   "Inspect and change per-user permission levels",
	}
	cmd.AddCommand(newPermissionsGetCommand(v))
	cmd.AddCommand(newPermissionsSetCommand(v))
	cmd.AddCommand(newPermissionsLevelsCommand())
	return cmd
}

func openPermissionStore(ctx context.Context, v *viper.Viper) (permission.Store, error) {
	if _, err := loadConfigFile(v); err != nil {
		return nil, err
	}
	dsn := strings.TrimSpace(v.GetString("permission-store"))
	switch {
	case dsn == "", strings.HasPrefix(dsn, "mem://"), strings.HasPrefix(dsn, "memory://"):
		return nil, errVolatileStore
	}
	return ledgerd.OpenPermissionStore(ctx, ledgerd.Config{PermissionStore: dsn})
}

func newPermissionsGetCommand(v *viper.Viper) *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Print the permission level of a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
			defer cancel()
			store, err := openPermissionStore(ctx, v)
			if err != nil {
				return err
			}
			defer store.Close()
			level, ok, err := store.Get(ctx, user)
			if err != nil {
				return err
			}
			suffix := ""
			if !ok {
				suffix = " (default)"
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s%s\n", user, level, suffix)
			return err
		},
	}
	cmd.Flags().StringVarP(&user, "user", "u", "", "user id")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newPermissionsSetCommand(v *viper.Viper) *cobra.Command {
	var user, rawLevel string
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Change the permission level of a user",
		Long:  "Change the permission level of a user. The new level applies to the next tool call; no restart is needed.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			level, err := permission.ParseLevel(rawLevel)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
			defer cancel()
			store, err := openPermissionStore(ctx, v)
			if err != nil {
				return err
			}
			defer store.Close()
			engine := permission.NewEngine(store, nil, pslog.NoopLogger())
			if err := engine.SetLevel(ctx, user, level); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", user, level)
			return err
		},
	}
	cmd.Flags().StringVarP(&user, "user", "u", "", "user id")
	cmd.Flags().StringVarP(&rawLevel, "level", "l", "", "read_only, create_draft, approve_update or full_access")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("level")
	return cmd
}

func newPermissionsLevelsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "levels",
		Short: "List the permission levels in ascending order",
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, level := range permission.Levels() {
				fmt.Fprintf(w, "%d\t%s\t%s\n", int(level), level, level.DisplayName())
			}
			return w.Flush()
		},
	}
}
