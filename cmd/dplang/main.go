// Command dplang runs, checks and formats DPLang scripts.
package main

import (
	"os"

	"github.com/thomasrohde/dplang/cmd/dplang/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
