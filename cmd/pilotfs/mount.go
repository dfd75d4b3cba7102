package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/westy4ever/PilotFS-sub000/pkg/remote/mount"
)

type credFlags struct {
	username string
	password string
	domain   string
}

func (f *credFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.username, "user", "u", "", "user name (default: guest)")
	cmd.Flags().StringVar(&f.password, "password", "", "password")
	cmd.Flags().StringVar(&f.domain, "domain", "", "workgroup or domain")
}

// splitShare accepts //server/share or server/share.
func splitShare(s string) (string, string, error) {
	s = strings.TrimPrefix(s, "//")
	server, share, ok := strings.Cut(s, "/")
	if !ok || server == "" || share == "" {
		return "", "", fmt.Errorf("expected //server/share, got %q", s)
	}
	return server, share, nil
}

func newMountCmd(a *app) *cobra.Command {
	var (
		creds credFlags
		opts  []string
	)
	cmd := &cobra.Command{
		Use:   "mount //server/share <mount point>",
		Short: "Mount a CIFS share",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			server, share, err := splitShare(args[0])
			if err != nil {
				return err
			}
			ok, msg := a.core.Mounts.MountCIFS(cmd.Context(), mount.Request{
				Server:     server,
				Share:      share,
				MountPoint: args[1],
				Username:   creds.username,
				Password:   creds.password,
				Domain:     creds.domain,
				Options:    opts,
			})
			return result(cmd, ok, msg)
		},
	}
	creds.register(cmd)
	cmd.Flags().StringSliceVarP(&opts, "options", "o", nil, "extra mount options, e.g. uid=1000,ro")
	cmd.Flags().Bool("no-preflight", false, "skip the pre-flight ping")
	cmd.Flags().Duration("mount-timeout", 0, "timeout per mount attempt")
	return cmd
}

func newUmountCmd(a *app) *cobra.Command {
	var force, lazy bool
	cmd := &cobra.Command{
		Use:   "umount <mount point>",
		Short: "Unmount a share",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ok, msg := a.core.Mounts.Umount(cmd.Context(), args[0], force, lazy)
			return result(cmd, ok, msg)
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "force unmount")
	cmd.Flags().BoolVarP(&lazy, "lazy", "l", false, "lazy unmount")
	return cmd
}

func newMountsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mounts",
		Short: "List mounted network filesystems",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mounts, err := a.core.Mounts.NetworkMounts(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SOURCE\tMOUNT POINT\tTYPE\tOPTIONS")
			for _, m := range mounts {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", m.Source, m.Target, m.FSType, strings.Join(m.Options, ","))
			}
			return w.Flush()
		},
	}
}

func newCleanupCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Force-unmount stale network mounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ok, n := a.core.Mounts.CleanupMounts(cmd.Context())
			if !ok {
				return fmt.Errorf("cleanup incomplete: %d stale mounts removed, some could not be unmounted", n)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d stale mounts removed\n", n)
			return nil
		},
	}
}

func newSharesCmd(a *app) *cobra.Command {
	var creds credFlags
	cmd := &cobra.Command{
		Use:   "shares <server>",
		Short: "List the shares a CIFS server offers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			shares, err := a.core.Mounts.ListShares(cmd.Context(), args[0], creds.username, creds.password, creds.domain)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tTYPE\tCOMMENT")
			for _, s := range shares {
				fmt.Fprintf(w, "%s\t%s\t%s\n", s.Name, s.Type, s.Comment)
			}
			return w.Flush()
		},
	}
	creds.register(cmd)
	return cmd
}
