package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/astromechza/menuroom/pkg/config"
	"github.com/astromechza/menuroom/pkg/directory"
	"github.com/astromechza/menuroom/pkg/logging"
	"github.com/astromechza/menuroom/pkg/persistence"
	"github.com/astromechza/menuroom/pkg/presence"
	"github.com/astromechza/menuroom/pkg/room"
	"github.com/astromechza/menuroom/pkg/shareddoc"
	"github.com/astromechza/menuroom/pkg/transport"
	"github.com/astromechza/menuroom/pkg/workspace"
)

const usage = `usage: client [flags] list [keyword]
       client [flags] create <roomId> <roomName> [capacity] [password]
       client [flags] join <roomId> [password]`

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	serverVar := flag.String("server", cfg.Client.ServerURL, "base url of the menuroom server")
	discoverVar := flag.Bool("discover", cfg.Client.Discover, "find the server on the local network over mDNS")
	nameVar := flag.String("name", cfg.Client.PeerName, "display name of this peer")
	cacheVar := flag.String("cache", cfg.Client.CachePath, "path of the local cache")
	driverVar := flag.String("driver", cfg.Client.CacheDriver, "local cache driver: sqlite or bolt")
	flag.Parse()
	logging.Setup(cfg.Env, cfg.Debug)
	if flag.NArg() < 1 {
		return fmt.Errorf("%s", usage)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serverURL := *serverVar
	if *discoverVar {
		dctx, dcancel := context.WithTimeout(ctx, 15*time.Second)
		serverURL, err = transport.Discover(dctx)
		dcancel()
		if err != nil {
			return err
		}
	}
	httpClient := &http.Client{Timeout: 10 * time.Second}
	dir, err := directory.NewClient(serverURL, httpClient)
	if err != nil {
		return err
	}
	store, err := workspace.NewClient(serverURL, httpClient)
	if err != nil {
		return err
	}
	relay, err := transport.NewClient(serverURL)
	if err != nil {
		return err
	}

	if flag.Arg(0) == "list" {
		rooms, err := dir.ListRooms(ctx, strings.Join(flag.Args()[1:], " "))
		if err != nil {
			return err
		}
		for _, r := range rooms {
			fmt.Printf("%-12s %-24s %d/%d %-9s host=%s password=%v\n", r.RoomID, r.RoomName, r.CurrentUsers, r.Capacity, r.Status, r.HostName, r.HasPassword)
		}
		return nil
	}

	cache, err := persistence.OpenCache(*driverVar, *cacheVar)
	if err != nil {
		return err
	}
	defer cache.Close()

	id := uuid.NewString()
	name := *nameVar
	if name == "" {
		name = "peer-" + id[:4]
	}
	ctrl := room.NewController(room.Options{
		Directory:         dir,
		Transport:         relay,
		Cache:             cache,
		Store:             store,
		Self:              presence.NewPeer(id, name),
		ICEServers:        cfg.Client.ICEServers,
		HeartbeatInterval: cfg.Client.HeartbeatInterval,
		LivenessInterval:  cfg.Client.LivenessInterval,
		AutosaveInterval:  cfg.Client.AutosaveInterval,
		ConnectTimeout:    cfg.Client.ConnectTimeout,
	})

	var sess *room.Session
	switch args := flag.Args(); args[0] {
	case "create":
		if len(args) < 3 {
			return fmt.Errorf("%s", usage)
		}
		p := room.CreateParams{RoomID: args[1], RoomName: args[2], Capacity: 8}
		if len(args) > 3 {
			if p.Capacity, err = strconv.Atoi(args[3]); err != nil {
				return fmt.Errorf("invalid capacity: %w", err)
			}
		}
		if len(args) > 4 {
			p.Password = args[4]
		}
		sess, err = ctrl.Create(ctx, p)
	case "join":
		if len(args) < 2 {
			return fmt.Errorf("%s", usage)
		}
		password := ""
		if len(args) > 2 {
			password = args[2]
		}
		sess, err = ctrl.Join(ctx, args[1], password)
		for err != nil && ctrl.State() == room.PasswordRequired {
			fmt.Print("password: ")
			line, rerr := bufio.NewReader(os.Stdin).ReadString('\n')
			if rerr != nil {
				return rerr
			}
			sess, err = ctrl.Join(ctx, args[1], strings.TrimSpace(line))
		}
	default:
		return fmt.Errorf("%s", usage)
	}
	if err != nil {
		return err
	}

	r := &repl{ctrl: ctrl, sess: sess, out: os.Stdout}
	go r.printNotices(ctx)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	exit := make(chan os.Signal, 1)
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return ctrl.Exit(ctx)
			}
			done, err := r.run(ctx, line)
			if err != nil {
				fmt.Fprintln(r.out, "error:", err)
			}
			if done {
				return nil
			}
		case sig := <-exit:
			slog.Info("Signal caught", "sig", sig)
			return ctrl.Exit(ctx)
		}
		if ctrl.State() == room.TornDown {
			return nil
		}
	}
}

type repl struct {
	ctrl *room.Controller
	sess *room.Session
	out  *os.File
}

func (r *repl) printNotices(ctx context.Context) {
	for {
		select {
		case n := <-r.ctrl.Notices():
			switch n.Kind {
			case room.StateChanged:
				fmt.Fprintf(r.out, "* %s\n", n.State)
			case room.PeerJoined:
				fmt.Fprintf(r.out, "* %s joined\n", n.Peer.Name)
			case room.HostDisbanded:
				fmt.Fprintln(r.out, "* the host disbanded the room, press enter to leave")
			default:
				if n.Err != nil {
					fmt.Fprintf(r.out, "* %s: %v\n", n.Kind, n.Err)
				} else {
					fmt.Fprintf(r.out, "* %s\n", n.Kind)
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

// run executes one command line and reports whether the session ended.
func (r *repl) run(ctx context.Context, line string) (bool, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}
	doc := r.sess.Doc()
	cmd, args := fields[0], fields[1:]
	switch cmd {
	case "help":
		fmt.Fprintln(r.out, "tabs | add [name] | close <tab> | rename <tab> <name> | move <tab> <dx> <dy> | dirty <tab> <bool> |"+
			" config <tab> [json] | merge <tab> <section> <from> <to> | meta <name> [description] | chat [text] | peers |"+
			" save | load <workspace> | publish <name> <capacity> [password] | exit | disband")
	case "tabs":
		tabs, err := doc.Tabs()
		if err != nil {
			return false, err
		}
		for _, t := range tabs {
			marker := " "
			if t.ID == doc.ActiveTab() {
				marker = "*"
			}
			fmt.Fprintf(r.out, "%s %s %-20s dirty=%v at=(%.0f,%.0f)\n", marker, short(t.ID), t.Name, t.IsDirty, t.X, t.Y)
		}
	case "add":
		id, err := doc.AddTab(strings.Join(args, " "), shareddoc.Config{})
		if err != nil {
			return false, err
		}
		fmt.Fprintln(r.out, "added", short(id))
	case "close":
		id, err := r.tab(args)
		if err != nil {
			return false, err
		}
		return false, doc.CloseTab(id)
	case "rename":
		id, err := r.tab(args)
		if err != nil {
			return false, err
		}
		return false, doc.RenameTab(id, strings.Join(args[1:], " "))
	case "move":
		id, err := r.tab(args)
		if err != nil {
			return false, err
		}
		if len(args) != 3 {
			return false, fmt.Errorf("usage: move <tab> <dx> <dy>")
		}
		dx, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return false, err
		}
		dy, err := strconv.ParseFloat(args[2], 64)
		if err != nil {
			return false, err
		}
		return false, doc.MoveTab(id, dx, dy)
	case "dirty":
		id, err := r.tab(args)
		if err != nil {
			return false, err
		}
		if len(args) != 2 {
			return false, fmt.Errorf("usage: dirty <tab> <bool>")
		}
		dirty, err := strconv.ParseBool(args[1])
		if err != nil {
			return false, err
		}
		return false, doc.SetDirty(id, dirty)
	case "config":
		id, err := r.tab(args)
		if err != nil {
			return false, err
		}
		if len(args) == 1 {
			cfg, _, err := doc.Config(id)
			if err != nil {
				return false, err
			}
			raw, _ := json.MarshalIndent(cfg, "", "  ")
			fmt.Fprintln(r.out, string(raw))
			return false, nil
		}
		var cfg shareddoc.Config
		if err := json.Unmarshal([]byte(strings.Join(args[1:], " ")), &cfg); err != nil {
			return false, fmt.Errorf("invalid config json: %w", err)
		}
		return false, doc.SetConfig(id, cfg)
	case "merge":
		id, err := r.tab(args)
		if err != nil {
			return false, err
		}
		if len(args) != 4 {
			return false, fmt.Errorf("usage: merge <tab> <section> <from> <to>")
		}
		return false, doc.MergeConfigEntries(id, args[1], args[2], args[3])
	case "meta":
		if len(args) == 0 {
			m, err := doc.WorkspaceMeta()
			if err != nil {
				return false, err
			}
			fmt.Fprintf(r.out, "id=%s name=%q description=%q\n", m.ID, m.Name, m.Description)
			return false, nil
		}
		description := ""
		if len(args) > 1 {
			description = strings.Join(args[1:], " ")
		}
		return false, doc.SetWorkspaceMeta(args[0], description, "")
	case "chat":
		if len(args) == 0 {
			msgs, err := doc.ChatMessages()
			if err != nil {
				return false, err
			}
			for _, m := range msgs {
				fmt.Fprintf(r.out, "%s %s: %s\n", time.UnixMilli(m.Timestamp).Format(time.Kitchen), m.Sender, m.Content)
			}
			return false, nil
		}
		self := r.sess.Peers()
		msg := shareddoc.ChatMessage{Content: strings.Join(args, " ")}
		if len(self) > 0 {
			msg.Sender, msg.Color = self[0].Name, self[0].Color
		}
		_, err := doc.AppendChatMessage(msg)
		return false, err
	case "peers":
		for _, p := range r.sess.Peers() {
			fmt.Fprintf(r.out, "%s %s %s\n", p.Color, short(p.ID), p.Name)
		}
	case "save":
		if err := r.ctrl.Save(ctx); err != nil {
			return false, err
		}
		fmt.Fprintln(r.out, "saved workspace", r.sess.Persistence().WorkspaceID())
	case "load":
		if len(args) != 1 {
			return false, fmt.Errorf("usage: load <workspace>")
		}
		return false, r.ctrl.Load(ctx, args[0])
	case "publish":
		if len(args) < 2 {
			return false, fmt.Errorf("usage: publish <name> <capacity> [password]")
		}
		capacity, err := strconv.Atoi(args[1])
		if err != nil {
			return false, err
		}
		p := room.PublishParams{RoomName: args[0], Capacity: capacity}
		if len(args) > 2 {
			p.Password = args[2]
		}
		rec, err := r.ctrl.Publish(ctx, p)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(r.out, "published %s (%s)\n", rec.RoomID, rec.Status)
	case "exit":
		return true, r.ctrl.Exit(ctx)
	case "disband":
		return true, r.ctrl.Disband(ctx)
	default:
		return false, fmt.Errorf("unknown command %q, try help", cmd)
	}
	return false, nil
}

// tab resolves the first argument as a tab id or unique id prefix.
func (r *repl) tab(args []string) (string, error) {
	if len(args) == 0 {
		return "", fmt.Errorf("missing tab id")
	}
	tabs, err := r.sess.Doc().Tabs()
	if err != nil {
		return "", err
	}
	var found []string
	for _, t := range tabs {
		if strings.HasPrefix(t.ID, args[0]) {
			found = append(found, t.ID)
		}
	}
	switch len(found) {
	case 0:
		return "", fmt.Errorf("no tab %q", args[0])
	case 1:
		r.sess.Doc().SetActiveTab(found[0])
		return found[0], nil
	}
	return "", fmt.Errorf("tab prefix %q is ambiguous", args[0])
}

func short(id string) string {
	return id[:min(8, len(id))]
}
