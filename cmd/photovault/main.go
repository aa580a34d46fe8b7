// Command photovault keeps a photo library mirrored onto a backup store.
package main

import "github.com/mesh-intelligence/photovault/internal/cli"

func main() {
	cli.Execute()
}
