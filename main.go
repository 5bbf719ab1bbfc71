package main

import (
	"github.com/jcoop32/applied/cmd"
)

func main() {
	cmd.Execute()
}
