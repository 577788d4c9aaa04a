// Package main is the harvester entrypoint.
package main

import "github.com/JakeFAU/publication-harvester/cmd"

func main() {
	cmd.Execute()
}
