package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/astromechza/menuroom/pkg/config"
	"github.com/astromechza/menuroom/pkg/persistence"
	"github.com/astromechza/menuroom/pkg/shareddoc"
	"github.com/astromechza/menuroom/pkg/viz"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{})))

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	cacheVar := flag.String("cache", cfg.Client.CachePath, "path of the local cache")
	driverVar := flag.String("driver", cfg.Client.CacheDriver, "local cache driver: sqlite or bolt")
	fileVar := flag.Bool("file", false, "treat the argument as a saved document file instead of a room id")
	flag.Parse()

	if flag.NArg() == 0 && !*fileVar {
		return listRooms(*driverVar, *cacheVar)
	}
	if flag.NArg() != 1 {
		return fmt.Errorf("expected one position argument: the room id or file to read")
	}
	buff, err := readDoc(*driverVar, *cacheVar, flag.Arg(0), *fileVar)
	if err != nil {
		return err
	}
	doc, err := shareddoc.Load(buff)
	if err != nil {
		return err
	}
	buff = nil

	snap, err := doc.Snapshot()
	if err != nil {
		return err
	}
	contents, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	slog.Info("loaded doc", "heads", doc.Heads())
	fmt.Println(string(contents))
	if n, err := doc.NewerRecords(); err == nil && n > 0 {
		slog.Warn("doc has records from a newer schema", "records", n)
	}
	if msgs, err := doc.ChatMessages(); err == nil {
		slog.Info("chat", "messages", len(msgs))
	}

	slog.Info("changes:")
	history, err := doc.History()
	if err != nil {
		return err
	}
	for i, change := range history {
		slog.Info("change", "i", fmt.Sprintf("%4d", i), "hash", change.Hash, "actor", change.Actor, "message", change.Message, "dep", change.Deps)
	}

	if svgPath, err := viz.RenderToTemp(doc); err != nil {
		slog.Error("failed to render", "err", err)
	} else {
		slog.Info("rendered", "path", "file://"+svgPath)
	}
	return nil
}

func listRooms(driver, path string) error {
	cache, err := persistence.OpenCache(driver, path)
	if err != nil {
		return err
	}
	defer cache.Close()
	rooms, err := cache.Rooms(context.Background())
	if err != nil {
		return err
	}
	for _, r := range rooms {
		fmt.Println(r)
	}
	return nil
}

func readDoc(driver, path, arg string, file bool) ([]byte, error) {
	if file {
		f, err := os.Open(arg)
		if err != nil {
			return nil, fmt.Errorf("failed to open input file: %w", err)
		}
		defer f.Close()
		buff, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read input file: %w", err)
		}
		return buff, nil
	}
	cache, err := persistence.OpenCache(driver, path)
	if err != nil {
		return nil, err
	}
	defer cache.Close()
	raw, ok, err := cache.Load(context.Background(), arg)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("room %s is not in the local cache", arg)
	}
	return raw, nil
}
