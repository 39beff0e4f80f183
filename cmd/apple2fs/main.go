// Command apple2fs is a small demo CLI over the go-apple2fs drivers:
// probe an image for its filesystem, list its entries, cat a file's data
// fork, or format a blank image.
package main

import "github.com/deploymenttheory/go-apple2fs/cmd/apple2fs/cmd"

func main() {
	cmd.Execute()
}
