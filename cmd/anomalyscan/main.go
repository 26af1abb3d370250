package main

import (
	"os"

	"document-anomaly-service/cmd/anomalyscan/cmd"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	cmd.SetVersionInfo(version, commit, date)

	os.Exit(cmd.Execute())
}
