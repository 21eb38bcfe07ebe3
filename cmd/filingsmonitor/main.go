// Package main is the entry point for the filings monitor.
package main

import (
	"os"

	"FilingsMonitor/cmd/filingsmonitor/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
