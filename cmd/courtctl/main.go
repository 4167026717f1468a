package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/term"

	"github.com/courtdesk/courtdesk/internal/api"
	"github.com/courtdesk/courtdesk/internal/client"
	"github.com/courtdesk/courtdesk/internal/profile"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Usage = printUsage
	flag.Parse()

	name := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(name); err != nil {
		fatalf("%v", err)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	c, err := client.New(profile.SocketPath(name))
	if err != nil {
		fatalf("cannot connect to daemon for profile %q: %v", name, err)
	}
	defer func() { _ = c.Close() }()

	ctl := &cli{c: c, json: *jsonFlag}
	if args[0] == "watch" {
		ctl.watch(args[1:])
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch args[0] {
	case "status":
		ctl.status(ctx)
	case "login":
		ctl.login(ctx, args[1:])
	case "logout":
		ctl.print(ctl.call(ctx, api.SessionServiceName, "Logout", nil), "Logged out.")
	case "notifications":
		ctl.notifications(ctx, args[1:])
	case "chat":
		ctl.chat(ctx, args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: courtctl [--profile <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                      Show profile status")
	fmt.Fprintln(os.Stderr, "  login <user> [--remember]   Sign in (password from COURTDESK_PASSWORD or prompt)")
	fmt.Fprintln(os.Stderr, "  logout                      Sign out")
	fmt.Fprintln(os.Stderr, "  notifications [list]        List notifications by day")
	fmt.Fprintln(os.Stderr, "  notifications read <id>     Mark one notification read")
	fmt.Fprintln(os.Stderr, "  notifications read-all      Mark every notification read")
	fmt.Fprintln(os.Stderr, "  notifications rm <id>       Delete a notification")
	fmt.Fprintln(os.Stderr, "  notifications refresh       Refetch notifications")
	fmt.Fprintln(os.Stderr, "  chat open <user-id>         Open the conversation with a user")
	fmt.Fprintln(os.Stderr, "  chat list                   Show the open conversation")
	fmt.Fprintln(os.Stderr, "  chat attach <path>...       Attach files to the next message")
	fmt.Fprintln(os.Stderr, "  chat send <text>            Send a message")
	fmt.Fprintln(os.Stderr, "  chat close                  Close the conversation")
	fmt.Fprintln(os.Stderr, "  watch [namespace]           Stream daemon events")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

type cli struct {
	c    *client.Client
	json bool
}

func (c *cli) call(ctx context.Context, service, method string, args map[string]any) map[string]any {
	resp, err := c.c.Call(ctx, service, method, args)
	if err != nil {
		fatalf("%v", err)
	}
	return resp
}

// print writes resp as JSON with --json, otherwise the plain message.
func (c *cli) print(resp map[string]any, msg string) {
	if c.json {
		outputJSON(resp)
		return
	}
	fmt.Println(msg)
}

func (c *cli) status(ctx context.Context) {
	resp := c.call(ctx, api.SessionServiceName, "GetStatus", nil)
	if c.json {
		outputJSON(resp)
		return
	}
	fmt.Printf("Profile: %v\n", resp["profile"])
	fmt.Printf("Uptime:  %v\n", time.Duration(num(resp["uptime_ms"]))*time.Millisecond)
	if resp["logged_in"] == true {
		fmt.Printf("User:    %d", num(resp["user_id"]))
		if resp["remembered"] == true {
			fmt.Print(" (remembered)")
		}
		fmt.Println()
	} else {
		fmt.Println("User:    not logged in")
	}
	if n, ok := resp["notifications"].(map[string]any); ok {
		fmt.Printf("Notifications: %v, %d unread of %d\n", n["state"], num(n["unread"]), num(n["count"]))
	}
	if ch, ok := resp["chat"].(map[string]any); ok {
		fmt.Printf("Chat:    room %v with user %d, %v\n", ch["room"], num(ch["peer"]), ch["state"])
	}
}

func (c *cli) login(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	remember := fs.Bool("remember", false, "keep the credential across daemon restarts")
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		fatalf("usage: courtctl login <user> [--remember]")
	}
	password, err := readPassword()
	if err != nil {
		fatalf("read password: %v", err)
	}
	resp := c.call(ctx, api.SessionServiceName, "Login", map[string]any{
		"username": fs.Arg(0),
		"password": password,
		"remember": *remember,
	})
	c.print(resp, fmt.Sprintf("Logged in as user %d.", num(resp["user_id"])))
}

func readPassword() (string, error) {
	if p := os.Getenv("COURTDESK_PASSWORD"); p != "" {
		return p, nil
	}
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(os.Stderr, "Password: ")
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		return string(b), err
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (c *cli) notifications(ctx context.Context, args []string) {
	sub := "list"
	if len(args) > 0 {
		sub = args[0]
	}
	switch sub {
	case "list":
		resp := c.call(ctx, api.NotificationServiceName, "List", nil)
		if c.json {
			outputJSON(resp)
			return
		}
		fmt.Printf("%d unread\n", num(resp["unread"]))
		printDays(resp["days"], func(it map[string]any) string {
			mark := " "
			if it["is_read"] != true {
				mark = "*"
			}
			line := fmt.Sprintf("%s %5v  %s", mark, it["id"], it["content"])
			if cs := num(it["case_id"]); cs != 0 {
				line += fmt.Sprintf("  (case %d)", cs)
			}
			return line
		})
	case "read":
		id := idArg(args, "notifications read <id>")
		resp := c.call(ctx, api.NotificationServiceName, "MarkRead", map[string]any{"id": id})
		c.print(resp, fmt.Sprintf("Marked %d read; %d unread.", id, num(resp["unread"])))
	case "read-all":
		resp := c.call(ctx, api.NotificationServiceName, "MarkAllRead", nil)
		c.print(resp, fmt.Sprintf("Marked %d read.", num(resp["marked"])))
	case "rm":
		id := idArg(args, "notifications rm <id>")
		resp := c.call(ctx, api.NotificationServiceName, "Delete", map[string]any{"id": id})
		c.print(resp, fmt.Sprintf("Deleted %d.", id))
	case "refresh":
		resp := c.call(ctx, api.NotificationServiceName, "Refresh", nil)
		c.print(resp, fmt.Sprintf("%d notifications, %d unread.", num(resp["count"]), num(resp["unread"])))
	default:
		fatalf("unknown notifications subcommand: %s", sub)
	}
}

func (c *cli) chat(ctx context.Context, args []string) {
	if len(args) == 0 {
		fatalf("usage: courtctl chat <open|list|attach|send|close>")
	}
	switch args[0] {
	case "open":
		peer := idArg(args, "chat open <user-id>")
		resp := c.call(ctx, api.ChatServiceName, "Open", map[string]any{"peer_id": peer})
		c.print(resp, fmt.Sprintf("Opened room %v.", resp["room"]))
		if w, ok := resp["warning"].(string); ok && !c.json {
			fmt.Fprintf(os.Stderr, "warning: %s\n", w)
		}
	case "list":
		resp := c.call(ctx, api.ChatServiceName, "List", nil)
		if c.json {
			outputJSON(resp)
			return
		}
		self := num(resp["self"])
		fmt.Printf("Room %v, %d unread\n", resp["room"], num(resp["unread"]))
		printDays(resp["days"], func(it map[string]any) string {
			who := "them"
			if num(it["sender_id"]) == self {
				who = "me"
			}
			line := fmt.Sprintf("%-4s %s", who, it["content"])
			if it["temporary"] == true {
				line += "  (sending)"
			}
			if atts, ok := it["attachments"].([]any); ok {
				for _, a := range atts {
					if am, ok := a.(map[string]any); ok {
						line += fmt.Sprintf("  [%v]", am["name"])
					}
				}
			}
			return line
		})
		if p, ok := resp["pending"].([]any); ok && len(p) > 0 {
			fmt.Printf("Attached: %v\n", p)
		}
	case "attach":
		if len(args) < 2 {
			fatalf("usage: courtctl chat attach <path>...")
		}
		paths := make([]any, 0, len(args)-1)
		for _, p := range args[1:] {
			abs, err := filepath.Abs(p)
			if err != nil {
				fatalf("%v", err)
			}
			paths = append(paths, abs)
		}
		resp := c.call(ctx, api.ChatServiceName, "Attach", map[string]any{"paths": paths})
		c.print(resp, fmt.Sprintf("Attached: %v", resp["pending"]))
	case "send":
		text := strings.Join(args[1:], " ")
		resp := c.call(ctx, api.ChatServiceName, "Send", map[string]any{"content": text})
		c.print(resp, "Sent.")
	case "close":
		c.print(c.call(ctx, api.ChatServiceName, "Close", nil), "Closed.")
	default:
		fatalf("unknown chat subcommand: %s", args[0])
	}
}

func (c *cli) watch(args []string) {
	ns := ""
	if len(args) > 0 {
		ns = args[0]
	}
	events, err := c.c.Watch(context.Background(), ns)
	if err != nil {
		fatalf("%v", err)
	}
	for {
		evt, err := events.Recv()
		if err != nil {
			fatalf("%v", err)
		}
		if c.json {
			outputJSON(evt)
			continue
		}
		at := time.UnixMilli(num(evt["occurred_at_unix_ms"])).Format(time.TimeOnly)
		payload, _ := json.Marshal(evt["payload"])
		fmt.Printf("%s %-24v %s\n", at, evt["kind"], payload)
	}
}

func printDays(v any, line func(map[string]any) string) {
	days, _ := v.([]any)
	for _, d := range days {
		day, ok := d.(map[string]any)
		if !ok {
			continue
		}
		fmt.Printf("-- %v --\n", day["label"])
		items, _ := day["items"].([]any)
		for _, it := range items {
			if m, ok := it.(map[string]any); ok {
				fmt.Println(line(m))
			}
		}
	}
}

func idArg(args []string, usage string) int64 {
	if len(args) < 2 {
		fatalf("usage: courtctl %s", usage)
	}
	id, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil || id <= 0 {
		fatalf("invalid id %q", args[1])
	}
	return id
}

func num(v any) int64 {
	f, _ := v.(float64)
	return int64(f)
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
