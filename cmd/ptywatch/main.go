// ptywatch is a PTY leak watchdog: it finds processes hoarding
// pseudo-terminals and cleans them up.
package main

import (
	"os"

	"ptywatch/internal/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
