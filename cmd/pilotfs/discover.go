package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/westy4ever/PilotFS-sub000/pkg/remote/network"
	"github.com/westy4ever/PilotFS-sub000/pkg/remote/scanner"
)

func newDiscoverCmd(a *app) *cobra.Command {
	var enrich bool
	cmd := &cobra.Command{
		Use:   "discover [subnet]",
		Short: "Find hosts answering ping on a subnet (default: local subnets)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			subnets := args
			if len(subnets) == 0 {
				local, err := a.core.Scanner.LocalSubnets()
				if err != nil {
					return err
				}
				if len(local) == 0 {
					return fmt.Errorf("no local IPv4 subnet found; pass one explicitly")
				}
				subnets = local
			}

			var ips []string
			for _, subnet := range subnets {
				found, err := a.core.Scanner.Discover(cmd.Context(), subnet)
				if err != nil {
					return err
				}
				for ip := range found {
					ips = append(ips, ip)
				}
			}
			network.SortIPs(ips)

			out := cmd.OutOrStdout()
			if !enrich {
				for _, ip := range ips {
					fmt.Fprintln(out, ip)
				}
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "IP\tHOSTNAME\tNETBIOS\tMAC\tVENDOR\tSMB")
			for _, h := range a.core.Scanner.Enrich(cmd.Context(), ips) {
				smb := "-"
				if h.FileServer {
					smb = "yes"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", h.IP, dash(h.Hostname), dash(h.NetBIOSName), dash(h.MAC), dash(h.Vendor), smb)
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&enrich, "enrich", false, "look up hostnames, MAC addresses and vendors")
	cmd.Flags().Int("workers", 0, "concurrent pings")
	cmd.Flags().Duration("deadline", 0, "overall discovery deadline")
	return cmd
}

func newScanCmd(a *app) *cobra.Command {
	var portsStr string
	cmd := &cobra.Command{
		Use:   "scan <host>",
		Short: "Probe TCP ports on a host",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var ports []int
			if portsStr != "" {
				var err error
				if ports, err = parsePorts(portsStr); err != nil {
					return err
				}
			}
			open, results := a.core.Scanner.Scan(cmd.Context(), args[0], ports)
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PORT\tSERVICE\tSTATE\tTIME")
			for _, p := range open {
				fmt.Fprintf(w, "%d\t%s\topen\t%.1f ms\n", p, scanner.ServiceName(p), results[p].ResponseTimeMs)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if len(open) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "no open ports among %d probed\n", len(results))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&portsStr, "ports", "", "comma-separated TCP ports (default: common storage ports)")
	return cmd
}

func newDevicesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List UPnP storage and media devices announced over SSDP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			devices, err := a.core.Scanner.Devices(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "IP\tDEVICE\tSERVER")
			for _, d := range devices {
				fmt.Fprintf(w, "%s\t%s\t%s\n", d.IP, d.Label(), dash(d.Server))
			}
			return w.Flush()
		},
	}
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
