package main

import (
	"fmt"
	"io"
	"os"
)

const version = "v0.1.0"

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// startServer is a variable to allow mocking in tests
var startServer = runServer

// Run is the entrypoint for testing
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		return startServer(nil, stdout, stderr)
	}

	switch args[1] {
	case "server", "serve":
		return startServer(args[2:], stdout, stderr)
	case "health":
		return runHealthCmd(args[2:], stdout, stderr)
	case "token":
		return runTokenCmd(args[2:], stdout, stderr)
	case "propose":
		return runProposeCmd(args[2:], stdout, stderr)
	case "accept":
		return runAcceptCmd(args[2:], stdout, stderr)
	case "reject":
		return runRejectCmd(args[2:], stdout, stderr)
	case "show":
		return runShowCmd(args[2:], stdout, stderr)
	case "inbox":
		return runInboxCmd(args[2:], stdout, stderr)
	case "connections", "gallery":
		return runConnectionsCmd(args[2:], stdout, stderr)
	case "stats":
		return runStatsCmd(args[2:], stdout, stderr)
	case "version":
		_, _ = fmt.Fprintf(stdout, "soulbound %s\n", version)
		return 0
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		if args[1][0] == '-' {
			return startServer(args[1:], stdout, stderr)
		}
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

// ANSI Colors
const (
	ColorReset  = "\033[0m"
	ColorBold   = "\033[1m"
	ColorRed    = "\033[31m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorBlue   = "\033[34m"
	ColorPurple = "\033[35m"
	ColorCyan   = "\033[36m"
	ColorGray   = "\033[37m"
)

func printUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintf(w, "%sSoulBound Registry %s%s\n", ColorBold+ColorPurple, version, ColorReset)
	_, _ = fmt.Fprintf(w, "%sPropose. Accept. Bound forever.%s\n", ColorGray, ColorReset)
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintf(w, "%sUSAGE:%s\n", ColorBold, ColorReset)
	_, _ = fmt.Fprintln(w, "  soulbound <command> [flags]")
	_, _ = fmt.Fprintln(w, "")

	printSection(w, "SERVER")
	printCommand(w, "serve", "Run the registry server (default)")
	printCommand(w, "health", "Check server health (HTTP)")
	printCommand(w, "token", "Issue a bearer token for an address (--address, --owner)")

	printSection(w, "PROPOSALS")
	printCommand(w, "propose", "Propose a connection (--to, --message, --from-label, --to-label)")
	printCommand(w, "accept", "Accept a proposal and mint the pair (<id>, --image-file)")
	printCommand(w, "reject", "Reject a proposal (<id>)")
	printCommand(w, "inbox", "List proposals addressed to an address (<addr>, --status)")

	printSection(w, "CONNECTIONS")
	printCommand(w, "show", "Show a record (proposal <id> | connection <id>)")
	printCommand(w, "connections", "List tokens held by an address (<addr>)")
	printCommand(w, "stats", "Show registry totals")

	printSection(w, "UTILITIES")
	printCommand(w, "version", "Show version information")
	printCommand(w, "help", "Show this help")
	_, _ = fmt.Fprintln(w, "")
}

func printSection(w io.Writer, title string) {
	_, _ = fmt.Fprintf(w, "%s%s:%s\n", ColorBold+ColorCyan, title, ColorReset)
}

func printCommand(w io.Writer, name, desc string) {
	_, _ = fmt.Fprintf(w, "  %s%-12s%s %s\n", ColorGreen, name, ColorReset, desc)
}
