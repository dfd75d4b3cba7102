package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/westy4ever/PilotFS-sub000/pkg/remote/registry"
)

func newConnCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conn",
		Short: "Manage saved remote connections",
	}
	cmd.AddCommand(
		newConnAddCmd(a),
		newConnUpdateCmd(a),
		newConnRemoveCmd(a),
		newConnListCmd(a),
		newConnShowCmd(a),
		newConnClearCmd(a),
		newConnDiagnoseCmd(a),
		newConnReconnectCmd(a),
	)
	return cmd
}

type connFlags struct {
	typ      string
	host     string
	port     int
	username string
	password string
	path     string
	options  map[string]string
}

func (f *connFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.typ, "type", "", "connection type (ftp, sftp, webdav, cifs)")
	cmd.Flags().StringVar(&f.host, "host", "", "host name or IP address")
	cmd.Flags().IntVar(&f.port, "port", 0, "port (default: the type's standard port)")
	cmd.Flags().StringVar(&f.username, "user", "", "user name")
	cmd.Flags().StringVar(&f.password, "password", "", "password")
	cmd.Flags().StringVar(&f.path, "path", "", "remote path")
	cmd.Flags().StringToStringVar(&f.options, "opt", nil, "protocol option key=value (repeatable)")
}

func newConnAddCmd(a *app) *cobra.Command {
	var f connFlags
	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Save a new connection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := registry.ParseType(f.typ)
			if err != nil {
				return err
			}
			port := f.port
			if port == 0 {
				port = t.DefaultPort()
			}
			rec := registry.Record{
				Name:     args[0],
				Type:     t,
				Host:     f.host,
				Port:     port,
				Username: f.username,
				Password: f.password,
				Path:     f.path,
				Options:  f.options,
			}
			if err := a.core.Registry.Add(rec); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved %s (%s %s)\n", rec.Name, t.Label(), rec.Address())
			return nil
		},
	}
	f.register(cmd)
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("host")
	return cmd
}

func newConnUpdateCmd(a *app) *cobra.Command {
	var f connFlags
	cmd := &cobra.Command{
		Use:   "update <name>",
		Short: "Change fields of a saved connection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var p registry.Patch
			changed := cmd.Flags().Changed
			if changed("type") {
				t, err := registry.ParseType(f.typ)
				if err != nil {
					return err
				}
				p.Type = &t
			}
			if changed("host") {
				p.Host = &f.host
			}
			if changed("port") {
				p.Port = &f.port
			}
			if changed("user") {
				p.Username = &f.username
			}
			if changed("password") {
				p.Password = &f.password
			}
			if changed("path") {
				p.Path = &f.path
			}
			if changed("opt") {
				p.Options = f.options
			}
			rec, err := a.core.Registry.Update(args[0], p)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updated %s (%s %s)\n", rec.Name, rec.Type.Label(), rec.Address())
			return nil
		},
	}
	f.register(cmd)
	return cmd
}

func newConnRemoveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <name>",
		Aliases: []string{"remove"},
		Short:   "Delete a saved connection",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			removed, err := a.core.Registry.Remove(args[0])
			if err != nil {
				return err
			}
			if !removed {
				fmt.Fprintf(cmd.OutOrStdout(), "%s not found\n", args[0])
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", args[0])
			return nil
		},
	}
}

func newConnListCmd(a *app) *cobra.Command {
	var types []string
	cmd := &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List saved connections",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var filter []registry.Type
			for _, s := range types {
				t, err := registry.ParseType(s)
				if err != nil {
					return err
				}
				filter = append(filter, t)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tTYPE\tADDRESS\tSTATUS\tLATENCY")
			for _, r := range a.core.Registry.List(filter...) {
				latency := "-"
				if r.Latency != nil {
					latency = fmt.Sprintf("%.1f ms", *r.Latency)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.Name, r.Type.Label(), r.Address(), r.Status, latency)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringSliceVar(&types, "type", nil, "only list these types")
	return cmd
}

func newConnShowCmd(a *app) *cobra.Command {
	var reveal bool
	cmd := &cobra.Command{
		Use:   "show <name>",
		Short: "Print a saved connection as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, ok := a.core.Registry.Get(args[0])
			if !ok {
				return fmt.Errorf("connection %q not found", args[0])
			}
			if !reveal && rec.Password != "" {
				rec.Password = "********"
			}
			data, err := json.MarshalIndent(map[string]registry.Record{rec.Name: rec}, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
	cmd.Flags().BoolVar(&reveal, "reveal", false, "print the stored password")
	return cmd
}

func newConnClearCmd(a *app) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every saved connection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to delete %d connections without --yes", a.core.Registry.Len())
			}
			if err := a.core.Registry.Clear(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "All connections removed")
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deletion")
	return cmd
}

func newConnDiagnoseCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "diagnose <name>",
		Short: "Run DNS, ping, port and protocol checks against a connection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ok, msg, report := a.core.Diagnoser.Diagnose(cmd.Context(), args[0])
			out := cmd.OutOrStdout()
			for _, s := range report.Steps {
				mark := "ok"
				if !s.Success {
					mark = "FAIL"
				}
				fmt.Fprintf(out, "[%-4s] %-16s %s\n", mark, s.Name, s.Result)
			}
			return result(cmd, ok, msg)
		},
	}
}

func newConnReconnectCmd(a *app) *cobra.Command {
	var attempts int
	cmd := &cobra.Command{
		Use:   "reconnect <name>",
		Short: "Retry a connection check until it succeeds",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ok, msg := a.core.Reconnect.Reconnect(cmd.Context(), args[0], attempts)
			return result(cmd, ok, msg)
		},
	}
	cmd.Flags().IntVar(&attempts, "attempts", 0, "maximum attempts (default from config)")
	return cmd
}
