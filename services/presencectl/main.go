// presencectl: консольный клиент к API присутствия шлюза.
//
//	presencectl get <userId>
//	presencectl online [--limit N]
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/expertinthecity/internal/model"
)

var errNotFound = errors.New("no presence record")

type apiClient struct {
	base  string
	token string
	http  *http.Client
}

func (c *apiClient) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSuffix(c.base, "/")+path, nil)
	if err != nil {
		return err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return errNotFound
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *apiClient) Get(ctx context.Context, userID string) (*model.PresenceRecord, error) {
	var rec model.PresenceRecord
	if err := c.getJSON(ctx, "/api/presence/"+url.PathEscape(userID), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *apiClient) Online(ctx context.Context, limit int) ([]model.PresenceRecord, error) {
	var list []model.PresenceRecord
	if err := c.getJSON(ctx, "/api/presence?limit="+strconv.Itoa(limit), &list); err != nil {
		return nil, err
	}
	return list, nil
}

func printRecords(w io.Writer, recs []model.PresenceRecord) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "USER\tNAME\tROLE\tSTATUS\tLAST SEEN")
	for _, r := range recs {
		status := "offline"
		if r.Online {
			status = "online"
		}
		seen := "-"
		if !r.LastSeen.IsZero() {
			seen = r.LastSeen.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.UserID, r.DisplayName, r.Role, status, seen)
	}
	tw.Flush()
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := pflag.NewFlagSet("presencectl", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	api := fs.String("api", envOr("PRESENCE_API", "http://localhost:8080"), "gateway base URL")
	token := fs.String("token", os.Getenv("PRESENCE_TOKEN"), "bearer token")
	limit := fs.IntP("limit", "n", 50, "max records for online")
	asJSON := fs.Bool("json", false, "print raw JSON")
	timeout := fs.Duration("timeout", 10*time.Second, "request timeout")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	rest := fs.Args()
	if len(rest) == 0 {
		fmt.Fprintln(stderr, "usage: presencectl [flags] get <userId> | online")
		return 2
	}

	c := &apiClient{base: *api, token: *token, http: &http.Client{Timeout: *timeout}}
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	var recs []model.PresenceRecord
	switch rest[0] {
	case "get":
		if len(rest) != 2 {
			fmt.Fprintln(stderr, "usage: presencectl get <userId>")
			return 2
		}
		rec, err := c.Get(ctx, rest[1])
		if errors.Is(err, errNotFound) {
			fmt.Fprintf(stderr, "%s: %v\n", rest[1], err)
			return 1
		}
		if err != nil {
			fmt.Fprintf(stderr, "get: %v\n", err)
			return 1
		}
		recs = []model.PresenceRecord{*rec}
	case "online":
		list, err := c.Online(ctx, *limit)
		if err != nil {
			fmt.Fprintf(stderr, "online: %v\n", err)
			return 1
		}
		recs = list
	default:
		fmt.Fprintf(stderr, "unknown command %q\n", rest[0])
		return 2
	}

	if *asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		enc.Encode(recs)
		return 0
	}
	printRecords(stdout, recs)
	return 0
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}
