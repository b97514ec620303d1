package main

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/KoderuNoKo/Operating-System/mem/vm"
	"github.com/KoderuNoKo/Operating-System/mem/vm/tlb"
)

var decodeCmd = &cobra.Command{
	Use:   "decode",
	Short: "Decode TLB lines and page table entries.",
}

var decodeLineCmd = &cobra.Command{
	Use:   "line <hex>",
	Short: "Decode a 16-byte TLB line given as 32 hex digits.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := describeLine(args[0])
		if err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), s)

		return nil
	},
}

var decodePTECmd = &cobra.Command{
	Use:   "pte <value>",
	Short: "Decode a 32-bit page table entry (0x prefix for hex).",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := strconv.ParseUint(args[0], 0, 32)
		if err != nil {
			return fmt.Errorf("invalid page table entry %q: %w", args[0], err)
		}

		fmt.Fprintln(cmd.OutOrStdout(), describePTE(vm.PTE(v)))

		return nil
	},
}

func init() {
	rootCmd.AddCommand(decodeCmd)
	decodeCmd.AddCommand(decodeLineCmd)
	decodeCmd.AddCommand(decodePTECmd)
}

func describeLine(s string) (string, error) {
	s = strings.ReplaceAll(strings.TrimPrefix(s, "0x"), " ", "")

	raw, err := hex.DecodeString(s)
	if err != nil {
		return "", fmt.Errorf("invalid line %q: %w", s, err)
	}

	e, err := tlb.DecodeEntry(raw)
	if err != nil {
		return "", err
	}

	if !e.Valid {
		return "invalid", nil
	}

	return fmt.Sprintf("pid=%d page=%d recency=%08b pte=%08x (%s)",
		e.PID, e.PageNumber, e.Recency, uint32(e.PTE), describePTE(e.PTE)), nil
}

func describePTE(pte vm.PTE) string {
	switch {
	case pte.Present():
		return fmt.Sprintf("present frame=%d dirty=%t",
			pte.Frame(), pte.HasFlags(vm.FlagDirty))
	case pte.Swapped():
		return fmt.Sprintf("swapped type=%d offset=%d",
			pte.SwapType(), pte.SwapOffset())
	default:
		return "not mapped"
	}
}
