// The main package for the scrapebridge executable.
package main

import (
	"github.com/scrapebridge/scrapebridge/cmd"
)

func main() {
	cmd.Execute()
}
