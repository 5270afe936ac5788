// Command hashctl talks to a running hashnode: it reads a node's state and
// root history, checks a root hash against it and sends signed change
// notifications.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/thrylos-labs/hashsync/config"
	"github.com/thrylos-labs/hashsync/network"
	"github.com/thrylos-labs/hashsync/types"
)

func main() {
	nodeURL := flag.String("node", "http://localhost:8080", "Node URL")
	envPath := flag.String("env", ".env", "Path to the .env file holding CHANGES_SECRET")
	subject := flag.String("subject", "hashctl", "Subject of issued change tokens")
	timeout := flag.Duration("timeout", 10*time.Second, "Request timeout")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}
	if err := godotenv.Load(*envPath); err != nil && !os.IsNotExist(err) {
		log.Fatalf("Error loading .env file from %s: %v", *envPath, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	node := config.NormalizePeer(*nodeURL)
	client := network.NewClient(*timeout)
	auth := network.NewChangeAuthenticator([]byte(os.Getenv("CHANGES_SECRET")))

	var err error
	switch cmd, args := flag.Arg(0), flag.Args()[1:]; cmd {
	case "state":
		var report *types.StateReport
		if report, err = client.FetchState(ctx, node); err == nil {
			err = printJSON(report)
		}
	case "match":
		if len(args) != 1 {
			log.Fatal("match takes exactly one root hash")
		}
		err = post(ctx, node+"/match", "", types.MatchRequest{RootHash: args[0]})
	case "token":
		var token string
		if token, err = auth.IssueToken(*subject, time.Hour); err == nil {
			fmt.Println(token)
		}
	case "change":
		var cs types.ChangeSet
		if cs, err = parseChanges(args); err != nil {
			break
		}
		var token string
		if token, err = auth.IssueToken(*subject, time.Minute); err == nil {
			err = post(ctx, node+"/changes", token, cs)
		}
	case "reconcile":
		err = post(ctx, node+"/reconcile", "", nil)
	case "history":
		switch len(args) {
		case 0:
			err = send(ctx, http.MethodGet, node+"/snapshots", "", nil)
		case 1:
			err = send(ctx, http.MethodGet, node+"/snapshots/"+args[0], "", nil)
		default:
			log.Fatal("history takes at most one root hash")
		}
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("%s failed: %v", flag.Arg(0), err)
	}
}

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), `Usage: hashctl [flags] <command> [args]

Commands:
  state                 print the node's state report
  match <root>          check a root hash against the node
  token                 print a change token signed with CHANGES_SECRET
  change <old>=<new>... send a signed change set
  reconcile             trigger a reconciliation round
  history [root]        list stored roots, or show the peer hashes behind one

Flags:
`)
	flag.PrintDefaults()
}

// parseChanges reads old=new pairs.
func parseChanges(args []string) (types.ChangeSet, error) {
	cs := types.ChangeSet{Changes: make(map[string]string)}
	for _, a := range args {
		oldHash, newHash, ok := strings.Cut(a, "=")
		if !ok || oldHash == "" || newHash == "" {
			return cs, fmt.Errorf("invalid change %q, want old=new", a)
		}
		cs.Changes[oldHash] = newHash
	}
	if len(cs.Changes) == 0 {
		return cs, fmt.Errorf("no changes given")
	}
	return cs, nil
}

func post(ctx context.Context, url, token string, body interface{}) error {
	return send(ctx, http.MethodPost, url, token, body)
}

func send(ctx context.Context, method, url, token string, body interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("received %s: %s", resp.Status, strings.TrimSpace(string(out)))
	}
	fmt.Println(strings.TrimSpace(string(out)))
	return nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
