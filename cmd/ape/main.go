// Command ape compiles core-language source into bytecode and runs it on
// the register-less stack VM.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/user"
	"path/filepath"

	"github.com/ape-lang/ape"
	"github.com/ape-lang/ape/internal/replui"
)

const version = "0.1.0"

// printUsage displays custom usage information
func printUsage() {
	_, _ = fmt.Fprintf(os.Stderr, `ape v%s

USAGE:
    %s [OPTIONS]

DESCRIPTION:
    ape compiles core-language source into bytecode and runs it on a stack
    VM. Without any flags, it starts an interactive REPL (Read-Eval-Print-Loop).

OPTIONS:
    -f, --file <path>       Execute a script file
    -e, --eval <code>       Evaluate an expression and print the result
    -d, --debug             Enable debug mode with more verbose output
    -v, --version           Show version information
    -h, --help              Show this help message

EXAMPLES:
    # Start interactive REPL
    %s

    # Execute a script file
    %s -f script.ape
    %s --file script.ape

    # Evaluate an expression
    %s -e "var x = 5; x * 2"

    # Execute with debug mode
    %s -f script.ape -d

`, version, os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0])
}

func main() {
	flag.Usage = printUsage

	fileFlag := flag.String("file", "", "Execute a script file")
	evalFlag := flag.String("eval", "", "Evaluate an expression and print the result")
	debugFlag := flag.Bool("debug", false, "Enable debug mode with more verbose output")
	versionFlag := flag.Bool("version", false, "Show version information")

	flag.StringVar(fileFlag, "f", "", "Execute a script file")
	flag.StringVar(evalFlag, "e", "", "Evaluate an expression and print the result")
	flag.BoolVar(debugFlag, "d", false, "Enable debug mode with more verbose output")
	flag.BoolVar(versionFlag, "v", false, "Show version information")

	flag.Parse()

	if *versionFlag {
		fmt.Printf("ape v%s\n", version)
		return
	}

	if *fileFlag != "" {
		executeFile(*fileFlag, *debugFlag)
		return
	}

	if *evalFlag != "" {
		evaluateExpression(*evalFlag)
		return
	}

	username := "unknown"
	if usr, err := user.Current(); err == nil {
		username = usr.Username
	}

	replui.Start(username, replui.Options{Debug: *debugFlag})
}

// executeFile reads and executes a script file.
func executeFile(filename string, debug bool) {
	cleaned := filepath.Clean(filename)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		fmt.Printf("Error getting absolute path: %s\n", err)
		os.Exit(1)
	}
	fmt.Printf("Executing file: %s\n", absolute)

	ctx := ape.New(ape.Config{})
	result, err := ctx.ExecuteFile(absolute)
	if err != nil {
		reportErrors(ctx, err)
		os.Exit(1)
	}

	if debug && result != nil {
		fmt.Println(result.Inspect())
	}
}

// evaluateExpression evaluates a single expression.
func evaluateExpression(expr string) {
	ctx := ape.New(ape.Config{})
	result, err := ctx.ExecuteString(expr)
	if err != nil {
		reportErrors(ctx, err)
		os.Exit(1)
	}

	if result != nil {
		fmt.Println(result.Inspect())
	}
}

func reportErrors(ctx *ape.Context, fallback error) {
	errs := ctx.Errors()
	if len(errs) == 0 {
		_, _ = fmt.Fprintln(os.Stderr, fallback)
		return
	}
	for _, e := range errs {
		_, _ = fmt.Fprintln(os.Stderr, ctx.RenderError(e))
	}
}
