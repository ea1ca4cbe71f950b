// Command taskmasterd supervises a set of programs declared in a
// configuration file, exposing a control socket for status queries,
// start/stop/restart/signal intents, log tailing, and hot reload.
package main

import (
	"os"

	"firestige.xyz/taskmasterd/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
