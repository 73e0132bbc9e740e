// The main package for the crawlsched executable.
package main

import (
	"github.com/JakeFAU/crawl-scheduler/cmd"
)

func main() {
	cmd.Execute()
}
