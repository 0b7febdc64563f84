package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/samsamfire/gosdo/pkg/sdo"
)

var (
	labelColor = color.New(color.FgCyan)
	valueColor = color.New(color.FgGreen, color.Bold)
	abortColor = color.New(color.FgRed, color.Bold)
)

func setColor(enabled bool) {
	color.NoColor = !enabled || color.NoColor
}

func printValue(label string, value any) {
	labelColor.Printf("%-28s", label)
	valueColor.Println(formatValue(value))
}

func formatValue(value any) string {
	switch v := value.(type) {
	case []byte:
		return hex.EncodeToString(v)
	case string:
		return fmt.Sprintf("%q", v)
	case uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d (0x%x)", v, v)
	}
	return fmt.Sprint(value)
}

func printError(err error) {
	var abort sdo.Abort
	if errors.As(err, &abort) {
		abortColor.Fprintf(os.Stderr, "abort x%08x", uint32(abort))
		fmt.Fprintf(os.Stderr, " : %v\n", abort.Description())
		return
	}
	abortColor.Fprint(os.Stderr, "error")
	fmt.Fprintf(os.Stderr, " : %v\n", err)
}
