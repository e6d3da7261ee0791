package cmd

import (
	"fmt"
	"io"
)

const banner = `
  ___                  ____       _
 |_ _|_ __ ___  _ __  / ___| __ _| |_ ___
  | || '__/ _ \| '_ \| |  _ / _` + "`" + ` | __/ _ \
  | || | | (_) | | | | |_| | (_| | ||  __/
 |___|_|  \___/|_| |_|\____|\__,_|\__\___|
`

func printBanner(w io.Writer) {
	fmt.Fprintf(w, "\x1b[34m%s\x1b[0m", banner)
	fmt.Fprintf(w, "\x1b[32m  Authenticating Gateway - Version %s\x1b[0m\n\n", Version)
}
