package main

import "os"

// exitFunc is the function used by main to exit; tests can replace it.
var exitFunc = os.Exit

func main() {
	exitFunc(runApp(os.Args, os.Stdout, os.Stderr))
}
