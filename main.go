// The main package for the wiki-mirror executable.
package main

import "github.com/JakeFAU/wiki-mirror/cmd"

func main() {
	cmd.Execute()
}
