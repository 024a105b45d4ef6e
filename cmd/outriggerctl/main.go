// Command outriggerctl is the coordination plane's admin CLI, reimplementing
// original_source/fechter/client.py's add-address/up/down/status/info
// commands over cobra instead of optparse.
package main

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var (
	host     string
	port     int
	dumpWire bool
)

func main() {
	root := &cobra.Command{
		Use:     "outriggerctl",
		Short:   "Administer a coordination-plane peer",
		Version: "1.0.0",
	}
	root.PersistentFlags().StringVarP(&host, "host", "H", "localhost", "host where outriggerd is running")
	root.PersistentFlags().IntVarP(&port, "port", "p", 4573, "port where outriggerd is running")
	root.PersistentFlags().BoolVarP(&dumpWire, "dump", "D", false, "dump request/response traffic to stderr")

	root.AddCommand(addAddressCmd(), upCmd(), downCmd(), statusCmd(), infoCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func client() *agent {
	return newAgent(host, port, dumpWire)
}

func addAddressCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add-address IFNAME:ADDRESS",
		Short: "Register a new virtual-IP resource",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			value := args[0]
			ifname, address, ok := strings.Cut(value, ":")
			if !ok || ifname == "" {
				return fmt.Errorf("invalid resource format: want IFNAME:ADDRESS")
			}
			if net.ParseIP(address).To4() == nil {
				return fmt.Errorf("%q is not a valid IPv4 address", address)
			}
			body, err := client().addAddress(value)
			if err != nil {
				return err
			}
			var created struct {
				RID string `json:"rid"`
			}
			if err := json.Unmarshal(body, &created); err == nil && created.RID != "" {
				fmt.Println(created.RID)
			}
			return nil
		},
	}
}

func upCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Set this peer's administrative status to up",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return client().setStatus("up")
		},
	}
}

func downCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "down",
		Short: "Set this peer's administrative status to down",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return client().setStatus("down")
		},
	}
}

func statusCmd() *cobra.Command {
	var noResolve bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show resource assignment status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := client().resources()
			if err != nil {
				return err
			}
			var resources map[string]struct {
				Resource   string `json:"resource"`
				AssignedTo string `json:"assigned_to,omitempty"`
			}
			if err := json.Unmarshal(body, &resources); err != nil {
				return fmt.Errorf("decode /resource response: %w", err)
			}
			for _, r := range resources {
				if r.AssignedTo == "" {
					fmt.Printf("%s is not assigned\n", r.Resource)
					continue
				}
				hostname := r.AssignedTo
				if !noResolve {
					hostname = resolveHostPort(r.AssignedTo)
				}
				fmt.Printf("%s assigned to %s\n", r.Resource, hostname)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&noResolve, "no-resolve", "n", false, "do not resolve peer names")
	return cmd
}

func infoCmd() *cobra.Command {
	var noResolve bool
	cmd := &cobra.Command{
		Use:   "info",
		Short: "Show cluster neighborhood information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := client().info()
			if err != nil {
				return err
			}
			var parsed struct {
				Neighborhood map[string]struct {
					Alive  bool   `json:"alive"`
					Status string `json:"status"`
				} `json:"neighborhood"`
				Connectivity string `json:"connectivity"`
			}
			if err := json.Unmarshal(body, &parsed); err != nil {
				return fmt.Errorf("decode /info response: %w", err)
			}
			for peer, data := range parsed.Neighborhood {
				name := peer
				if !noResolve {
					name = resolveHostPort(peer)
				}
				state := "dead"
				if data.Alive {
					state = "alive"
				}
				fmt.Printf("%s is %s\n", name, state)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&noResolve, "no-resolve", "n", false, "do not resolve peer names")
	return cmd
}

// resolveHostPort reverse-resolves the host portion of a "host:port" peer
// name, falling back to the raw host on any lookup failure, matching
// client.py's _info/_status name resolution.
func resolveHostPort(hostport string) string {
	host, _, err := net.SplitHostPort(hostport)
	if err != nil {
		return hostport
	}
	names, err := net.LookupAddr(host)
	if err != nil || len(names) == 0 {
		return host
	}
	return strings.TrimSuffix(names[0], ".")
}
