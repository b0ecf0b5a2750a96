package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/danmuck/greybus/internal/manifest"
	"github.com/danmuck/greybus/internal/protocols/builtin"
	"github.com/danmuck/greybus/internal/service"
	"github.com/spf13/cobra"
)

func newManifestCmd(load loadFunc) *cobra.Command {
	var raw bool
	cmd := &cobra.Command{
		Use:   "manifest",
		Short: "Print the manifest the node serves",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			svc, err := service.New(cfg, builtin.Registry())
			if err != nil {
				return err
			}
			blob, err := svc.Manifest()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if raw {
				_, err := io.WriteString(out, hex.Dump(blob))
				return err
			}
			d, err := manifest.Parse(blob)
			if err != nil {
				return err
			}
			return printManifest(out, d, len(blob))
		},
	}
	cmd.Flags().BoolVar(&raw, "hex", false, "dump the encoded blob")
	return cmd
}

func printManifest(out io.Writer, d manifest.Description, size int) error {
	fmt.Fprintf(out, "vendor:  %s\nproduct: %s\nsize:    %d bytes\n\n", d.Vendor, d.Product, size)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CPORT\tBUNDLE\tCLASS\tPROTOCOL")
	classes := make(map[uint8]uint8, len(d.Bundles))
	for _, b := range d.Bundles {
		classes[b.ID] = uint8(b.Class)
	}
	for _, c := range d.CPorts {
		fmt.Fprintf(w, "%d\t%d\t0x%02x\t0x%02x\n", c.ID, c.Bundle, classes[c.Bundle], uint8(c.Protocol))
	}
	return w.Flush()
}
