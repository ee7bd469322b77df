package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/Mindburn-Labs/soulbound/pkg/client"
	"github.com/Mindburn-Labs/soulbound/pkg/config"
	"github.com/Mindburn-Labs/soulbound/pkg/identity"
)

const cmdTimeout = 30 * time.Second

// remote holds the flags shared by every client command.
type remote struct {
	server string
	token  string
}

func (r *remote) bind(fs *flag.FlagSet) {
	defaultURL := os.Getenv("SOULBOUND_URL")
	if defaultURL == "" {
		port := os.Getenv("PORT")
		if port == "" {
			port = "8080"
		}
		defaultURL = "http://localhost:" + port
	}
	fs.StringVar(&r.server, "server", defaultURL, "API base URL (env SOULBOUND_URL)")
	fs.StringVar(&r.token, "token", os.Getenv("SOULBOUND_TOKEN"), "bearer token (env SOULBOUND_TOKEN)")
}

func (r *remote) client() *client.Client {
	return client.New(r.server, client.WithToken(r.token), client.WithTimeout(cmdTimeout))
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func printJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func fail(stderr io.Writer, err error) int {
	_, _ = fmt.Fprintf(stderr, "%sError:%s %v\n", ColorRed, ColorReset, err)
	return 1
}

// idArg parses the single positional id argument.
func idArg(fs *flag.FlagSet, stderr io.Writer) (uint64, bool) {
	if fs.NArg() != 1 {
		_, _ = fmt.Fprintf(stderr, "Usage: soulbound %s [flags] <id>\n", fs.Name())
		return 0, false
	}
	id, err := strconv.ParseUint(fs.Arg(0), 10, 64)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "invalid id %q\n", fs.Arg(0))
		return 0, false
	}
	return id, true
}

func runHealthCmd(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("health", stderr)
	port := os.Getenv("HEALTH_PORT")
	if port == "" {
		port = "8081"
	}
	url := fs.String("url", "http://localhost:"+port+"/health", "health endpoint")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	hc := &http.Client{Timeout: 5 * time.Second}
	resp, err := hc.Get(*url)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Health check failed: %v\n", err)
		return 1
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		_, _ = fmt.Fprintf(stderr, "Health check failed: status %d\n", resp.StatusCode)
		return 1
	}
	_, _ = fmt.Fprintln(stdout, "OK")
	return 0
}

// runTokenCmd signs a token with the server's key file. It stands in for a
// wallet login during local development.
func runTokenCmd(args []string, stdout, stderr io.Writer) int {
	cfg, err := config.Load()
	if err != nil {
		return fail(stderr, err)
	}
	fs := newFlagSet("token", stderr)
	addr := fs.String("address", "", "party address to bind the token to (REQUIRED)")
	owner := fs.Bool("owner", false, "grant the owner role")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
	keyFile := fs.String("key-file", cfg.JWTKeyFile, "signing key file shared with the server")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *addr == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --address is required")
		return 2
	}

	ks, err := identity.LoadOrCreateKeyFile(*keyFile)
	if err != nil {
		return fail(stderr, err)
	}
	var roles []string
	if *owner {
		roles = append(roles, identity.RoleOwner)
	}
	tok, err := identity.NewTokenManager(ks).Issue(context.Background(), *addr, roles, *ttl)
	if err != nil {
		return fail(stderr, err)
	}
	_, _ = fmt.Fprintln(stdout, tok)
	return 0
}

func runProposeCmd(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("propose", stderr)
	var r remote
	r.bind(fs)
	to := fs.String("to", "", "recipient address (REQUIRED)")
	message := fs.String("message", "", "proposal message")
	fromLabel := fs.String("from-label", "", "display name of the proposer")
	toLabel := fs.String("to-label", "", "display name of the recipient")
	content := fs.String("content", "", "existing metadata locator (composed by the server when empty)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *to == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --to is required")
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), cmdTimeout)
	defer cancel()
	out, err := r.client().CreateProposal(ctx, client.ProposalRequest{
		Recipient:      *to,
		Message:        *message,
		SenderLabel:    *fromLabel,
		ReceiverLabel:  *toLabel,
		ContentLocator: *content,
	})
	if err != nil {
		return fail(stderr, err)
	}
	printJSON(stdout, out)
	return 0
}

func runAcceptCmd(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("accept", stderr)
	var r remote
	r.bind(fs)
	image := fs.String("image", "", "pair image locator")
	imageFile := fs.String("image-file", "", "pair image file to upload first")
	meta := fs.String("metadata", "", "metadata locator (composed by the server when empty)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	id, ok := idArg(fs, stderr)
	if !ok {
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), cmdTimeout)
	defer cancel()
	c := r.client()
	if *imageFile != "" {
		data, err := os.ReadFile(*imageFile) //nolint:gosec // operator-supplied path
		if err != nil {
			return fail(stderr, err)
		}
		if *image, err = c.UploadArtifact(ctx, data); err != nil {
			return fail(stderr, err)
		}
	}
	out, err := c.AcceptProposal(ctx, id, *image, *meta)
	if err != nil {
		return fail(stderr, err)
	}
	printJSON(stdout, out)
	return 0
}

func runRejectCmd(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("reject", stderr)
	var r remote
	r.bind(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	id, ok := idArg(fs, stderr)
	if !ok {
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), cmdTimeout)
	defer cancel()
	if err := r.client().RejectProposal(ctx, id); err != nil {
		return fail(stderr, err)
	}
	_, _ = fmt.Fprintf(stdout, "proposal %d rejected\n", id)
	return 0
}

func runShowCmd(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 || (args[0] != "proposal" && args[0] != "connection") {
		_, _ = fmt.Fprintln(stderr, "Usage: soulbound show <proposal|connection> [flags] <id>")
		return 2
	}
	kind := args[0]
	fs := newFlagSet("show "+kind, stderr)
	var r remote
	r.bind(fs)
	if err := fs.Parse(args[1:]); err != nil {
		return 2
	}
	id, ok := idArg(fs, stderr)
	if !ok {
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), cmdTimeout)
	defer cancel()
	var (
		out any
		err error
	)
	if kind == "proposal" {
		out, err = r.client().GetProposal(ctx, id)
	} else {
		out, err = r.client().GetConnection(ctx, id)
	}
	if err != nil {
		return fail(stderr, err)
	}
	printJSON(stdout, out)
	return 0
}

func addrArg(fs *flag.FlagSet, stderr io.Writer) (string, bool) {
	if fs.NArg() != 1 {
		_, _ = fmt.Fprintf(stderr, "Usage: soulbound %s [flags] <address>\n", fs.Name())
		return "", false
	}
	return fs.Arg(0), true
}

func runInboxCmd(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("inbox", stderr)
	var r remote
	r.bind(fs)
	status := fs.String("status", "", "filter by status (pending, accepted, rejected)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	addr, ok := addrArg(fs, stderr)
	if !ok {
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), cmdTimeout)
	defer cancel()
	out, err := r.client().Inbox(ctx, addr, *status)
	if err != nil {
		return fail(stderr, err)
	}
	printJSON(stdout, out)
	return 0
}

func runConnectionsCmd(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("connections", stderr)
	var r remote
	r.bind(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	addr, ok := addrArg(fs, stderr)
	if !ok {
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), cmdTimeout)
	defer cancel()
	out, err := r.client().Connections(ctx, addr)
	if err != nil {
		return fail(stderr, err)
	}
	printJSON(stdout, out)
	return 0
}

func runStatsCmd(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("stats", stderr)
	var r remote
	r.bind(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), cmdTimeout)
	defer cancel()
	out, err := r.client().Stats(ctx)
	if err != nil {
		return fail(stderr, err)
	}
	printJSON(stdout, out)
	return 0
}
