package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/astromechza/menuroom/pkg/config"
	"github.com/astromechza/menuroom/pkg/directory"
	"github.com/astromechza/menuroom/pkg/logging"
	"github.com/astromechza/menuroom/pkg/shareddoc"
	"github.com/astromechza/menuroom/pkg/transport"
	"github.com/astromechza/menuroom/pkg/viz"
	"github.com/astromechza/menuroom/pkg/workspace"
)

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
	addrVar := flag.String("addr", cfg.Server.Addr, "the address to listen on")
	redisVar := flag.String("redis", cfg.Server.RedisURL, "redis url for the room directory, in-memory when empty")
	databaseVar := flag.String("database", cfg.Server.DatabaseURL, "postgres url for workspace snapshots, in-memory when empty")
	advertiseVar := flag.Bool("advertise", cfg.Server.Advertise, "advertise the relay on the local network over mDNS")
	dumpVar := flag.Bool("dump", false, "render the change graph of every live room on shutdown")
	flag.Parse()
	logging.Setup(cfg.Env, cfg.Debug)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var dir directory.Directory
	if *redisVar != "" {
		slog.Info("Opening redis directory")
		client, err := directory.DialRedis(ctx, *redisVar)
		if err != nil {
			return err
		}
		defer client.Close()
		dir = directory.NewRedisStore(client, cfg.Server.RoomTTL)
	} else {
		dir = directory.NewMemoryStore(cfg.Server.RoomTTL)
	}

	ids, err := workspace.NewIDs(cfg.Server.NodeID)
	if err != nil {
		return err
	}
	var store workspace.Store
	if *databaseVar != "" {
		slog.Info("Opening database")
		pg, err := workspace.OpenPostgres(ctx, *databaseVar, ids)
		if err != nil {
			return err
		}
		defer pg.Close()
		store = pg
	} else {
		store = workspace.NewMemoryStore(ids)
	}

	relay := transport.NewRelay()

	r := mux.NewRouter()
	r.Use(func(handler http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			m := httpsnoop.CaptureMetrics(handler, writer, request)
			slog.Info("handled", "method", request.Method, "url", request.URL, "duration", m.Duration, "status", m.Code)
		})
	})
	directory.NewHandler(dir).Register(r)
	workspace.NewHandler(store).Register(r)
	relay.Register(r)

	listener, err := net.Listen("tcp", *addrVar)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	httpServer := &http.Server{Handler: r, ReadHeaderTimeout: 10 * time.Second}

	wg := new(sync.WaitGroup)

	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("serving", "addr", listener.Addr().String())
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server listen failed", "err", err)
		}
	}()

	if *advertiseVar {
		_, portRaw, _ := net.SplitHostPort(listener.Addr().String())
		port, _ := strconv.Atoi(portRaw)
		shutdown, err := transport.Advertise(port)
		if err != nil {
			slog.Error("failed to advertise relay", "err", err)
		} else {
			defer shutdown()
		}
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(time.Second * 30)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				slog.Info("relay status", "rooms", relay.Rooms())
			case <-ctx.Done():
				return
			}
		}
	}()

	exit := make(chan os.Signal, 1) // we need to reserve to buffer size 1, so the notifier are not blocked
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-exit
	slog.Info("Signal caught", "sig", sig)

	if *dumpVar {
		relay.Each(func(key string, doc *shareddoc.Document) {
			if svgPath, err := viz.RenderToTemp(doc); err != nil {
				slog.Error("failed to render", "room", key, "err", err)
			} else {
				slog.Info("rendered", "room", key, "path", "file://"+svgPath)
			}
		})
	}

	cancel()
	_ = httpServer.Close()
	wg.Wait()
	return nil
}
