package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"zstack-gateway/internal/znp"
)

var decodeReassemble bool

var decodeCmd = &cobra.Command{
	Use:   "decode <hex>...",
	Short: "Decode MT frames from a hex dump",
	Long: `Decode MT frames from hex bytes, as captured from the serial line.
Each argument is one read; spaces, colons and 0x prefixes are ignored.
For ZCL frames that expect one, the Default Response the gateway would send
is printed as well.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return decodeReads(cmd.OutOrStdout(), args, decodeReassemble)
	},
}

func init() {
	decodeCmd.Flags().BoolVar(&decodeReassemble, "reassemble", false, "Keep partial frames across arguments")
	rootCmd.AddCommand(decodeCmd)
}

func decodeReads(w io.Writer, reads []string, reassemble bool) error {
	var opts []znp.DecoderOption
	if reassemble {
		opts = append(opts, znp.WithReassembly())
	}
	dec := znp.NewDecoder(opts...)
	adapter := znp.NewAdapter()

	n := 0
	for _, s := range reads {
		data, err := parseHex(s)
		if err != nil {
			return err
		}
		for _, raw := range dec.Decode(data) {
			n++
			fmt.Fprintf(w, "frame %d: % X\n", n, raw)
			r, err := adapter.FromZigbee(raw)
			if err != nil {
				fmt.Fprintf(w, "  error: %v\n", err)
				continue
			}
			fmt.Fprintf(w, "  %s\n", r)
			for _, rec := range r.Records {
				fmt.Fprintf(w, "  attr 0x%04X status 0x%02X type 0x%02X value % X\n", rec.AttrID, rec.Status, rec.DataType, rec.Value)
			}
			if r.IsFirst {
				out, err := znp.DefaultResponse(r, 0).Encode()
				if err != nil {
					return fmt.Errorf("encode default response: %w", err)
				}
				fmt.Fprintf(w, "  default response: % X\n", out)
			}
		}
	}
	if n == 0 {
		fmt.Fprintln(w, "no frames")
	}
	return nil
}

func parseHex(s string) ([]byte, error) {
	s = strings.ReplaceAll(s, "0x", "")
	s = strings.ReplaceAll(s, "0X", "")
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', ':', ',', '\t', '\n':
			return -1
		}
		return r
	}, s)
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("parse hex: %w", err)
	}
	return b, nil
}
