// Command airindex-lookup reloads a rank DB from previously built metadata
// and answers rank queries for keys given on the command line.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"
	"k8s.io/klog/v2"

	"github.com/airindex-go/airindex/blob"
	"github.com/airindex-go/airindex/keyrank"
	"github.com/airindex-go/airindex/pagecache"
	"github.com/airindex-go/airindex/rankdb"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		interrupt := make(chan os.Signal, 1)
		signal.Notify(interrupt, syscall.SIGTERM, syscall.SIGINT)
		select {
		case <-interrupt:
			klog.Info("received interrupt signal")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(interrupt)
	}()

	var (
		metaPath, arrayPrefix, indexPrefix string
		scheme                             string
		pageSize                           uint64
		nearest                            bool
	)

	app := &cli.App{
		Name:        "airindex-lookup",
		Description: "Look up the rank of one or more keys against a previously built rank DB.",
		ArgsUsage:   "<key>...",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "meta-path", Usage: "path to the metadata blob written by airindex-build", Destination: &metaPath, Required: true},
			&cli.StringFlag{Name: "array-prefix", Usage: "directory the base array file lives under", Destination: &arrayPrefix},
			&cli.StringFlag{Name: "index-prefix", Usage: "directory the index layers were written under", Destination: &indexPrefix},
			&cli.StringFlag{Name: "scheme", Usage: "storage scheme the array and index were written under", Value: "file", Destination: &scheme},
			&cli.Uint64Flag{Name: "page-size", Usage: "page cache page size in bytes", Value: 4096, Destination: &pageSize},
			&cli.BoolFlag{Name: "nearest", Usage: "for an absent key, report the next greater key's rank instead of treating it as not found", Destination: &nearest},
		},
		Action: func(c *cli.Context) error {
			if c.Args().Len() == 0 {
				return fmt.Errorf("airindex-lookup: at least one key is required")
			}
			keys := make([]keyrank.Key, 0, c.Args().Len())
			for _, arg := range c.Args().Slice() {
				key, err := strconv.ParseUint(arg, 10, 64)
				if err != nil {
					return fmt.Errorf("airindex-lookup: parse key %q: %w", arg, err)
				}
				keys = append(keys, keyrank.Key(key))
			}
			if indexPrefix == "" {
				indexPrefix = arrayPrefix
			}

			raw, err := os.ReadFile(metaPath)
			if err != nil {
				return fmt.Errorf("airindex-lookup: read meta %s: %w", metaPath, err)
			}
			var meta rankdb.Meta
			if err := meta.UnmarshalBinary(raw); err != nil {
				return fmt.Errorf("airindex-lookup: unmarshal meta: %w", err)
			}

			storage := pagecache.NewStorage(int64(pageSize), 0).With(scheme, blob.NewFileAdaptor())
			db, err := rankdb.FromMeta(ctx, meta, storage, scheme, arrayPrefix, indexPrefix)
			if err != nil {
				return fmt.Errorf("airindex-lookup: reload rank db: %w", err)
			}

			for _, key := range keys {
				startedAt := time.Now()
				var kr *rankdb.KeyRank
				if nearest {
					kr, err = db.RankOfOrNearest(ctx, key)
				} else {
					kr, err = db.RankOf(ctx, key)
				}
				elapsed := time.Since(startedAt)
				if err != nil {
					return fmt.Errorf("airindex-lookup: key %d: %w", key, err)
				}
				if kr == nil {
					klog.Infof("key %d: not found (%s)", key, elapsed)
					continue
				}
				klog.Infof("key %d: rank %s (matched key %d, %s)", key, humanize.Comma(int64(kr.Rank)), kr.Key, elapsed)
			}
			return nil
		},
	}
	sort.Sort(cli.FlagsByName(app.Flags))

	if err := app.RunContext(ctx, os.Args); err != nil {
		klog.Fatal(err)
	}
}
