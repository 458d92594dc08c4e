// Focus CLI entry point
//
// Focus records timed work sessions with their notes and images in a local
// store and keeps them in sync across devices through a shared remote store.
package main

import "github.com/jbctechsolutions/focussync/internal/presentation/cli/commands"

func main() {
	commands.Execute()
}
