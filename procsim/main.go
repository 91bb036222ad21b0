// Command procsim runs the example scenarios of the simulation engine and
// reads back their recordings.
package main

import (
	"github.com/sarchlab/procsim/procsim/cmd"
)

func main() {
	cmd.Execute()
}
