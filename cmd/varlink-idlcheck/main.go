// Command varlink-idlcheck parses one or more ".varlink" interface
// description files and reports whether each one is well-formed,
// printing its declared methods and errors on success.
package main

import (
	"fmt"
	"os"

	"github.com/varlink/govarlink/internal/idl"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: varlink-idlcheck FILE [FILE...]")
		os.Exit(2)
	}

	exitCode := 0
	for _, path := range os.Args[1:] {
		if err := checkFile(path); err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			exitCode = 1
		}
	}
	os.Exit(exitCode)
}

func checkFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	iface, err := idl.Parse(string(data))
	if err != nil {
		return err
	}

	fmt.Printf("%s: interface %s\n", path, iface.Name())
	for _, name := range iface.MethodNames() {
		fmt.Printf("  method %s\n", name)
	}
	for _, name := range iface.ErrorNames() {
		fmt.Printf("  error %s\n", name)
	}
	return nil
}
