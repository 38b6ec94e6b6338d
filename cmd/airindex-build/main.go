// Command airindex-build reconstructs the key-position collection of an
// already-written base array and builds a hierarchical index tower over
// it, writing the tower's layers and a reloadable metadata blob.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path"
	"sort"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"
	"k8s.io/klog/v2"

	"github.com/airindex-go/airindex/blob"
	"github.com/airindex-go/airindex/hierarchical"
	"github.com/airindex-go/airindex/index"
	"github.com/airindex-go/airindex/keyrank"
	"github.com/airindex-go/airindex/model"
	"github.com/airindex-go/airindex/model/band"
	"github.com/airindex-go/airindex/model/step"
	"github.com/airindex-go/airindex/pagecache"
	"github.com/airindex-go/airindex/rankdb"
	"github.com/airindex-go/airindex/storageprofile"
	"github.com/airindex-go/airindex/store"
)

// strategyBuilder adapts one of the three hierarchical strategies into
// index.Builder, so RankDB.BuildIndex can drive any of them uniformly.
type strategyBuilder struct {
	cfg         hierarchical.Config
	strategy    string
	topBound    keyrank.Position
	exploreCfg  hierarchical.ExploreConfig
}

func (b strategyBuilder) BuildIndex(ctx context.Context, kps *keyrank.Collection) (index.Index, error) {
	switch b.strategy {
	case "balance":
		return hierarchical.BalanceAndStack(ctx, kps, b.cfg)
	case "bounded":
		return hierarchical.BoundedTopStack(ctx, kps, b.cfg, b.topBound)
	case "explore":
		return hierarchical.ExploreAndStack(ctx, kps, b.cfg, b.exploreCfg)
	default:
		return nil, fmt.Errorf("airindex-build: unknown strategy %q", b.strategy)
	}
}

func buildDrafter(lowError, highError uint64, exponent float64, bundleSize int, withBand bool) model.Drafter {
	md := step.ExponentiationSweep(keyrank.Position(lowError), keyrank.Position(highError), exponent, bundleSize)
	if withBand {
		md.Push(band.GreedyExponentiationSweep(keyrank.Position(lowError), keyrank.Position(highError), exponent))
	}
	return md
}

func buildProfile(name string, latencyMs uint64, mbps, discount float64) (storageprofile.Profile, error) {
	latency := time.Duration(latencyMs) * time.Millisecond
	switch name {
	case "constant":
		return storageprofile.Constant{Latency: latency}, nil
	case "bandwidth":
		return storageprofile.FromMbps(mbps), nil
	case "affine":
		return storageprofile.NewAffine(latency, mbps), nil
	case "congested":
		return storageprofile.Congested{Profile: storageprofile.NewAffine(latency, mbps), Discount: discount}, nil
	default:
		return nil, fmt.Errorf("airindex-build: unknown profile kind %q", name)
	}
}

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
		arrayPrefix, arrayName, indexPrefix, metaPath string
		recordSize, offset                            uint64
		strategyName, profileName                     string
		latencyMs                                     uint64
		mbps, discount                                 float64
		topBound                                       uint64
		exploreTopK, exactLayers                       uint64
		lowError, highError, bundleSize                uint64
		exponent                                        float64
		withBand                                        bool
		pageSize                                        uint64
	)

	app := &cli.App{
		Name:        "airindex-build",
		Description: "Build a hierarchical learned index over an existing fixed-width base array.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "array-prefix", Usage: "directory the base array file lives under", Destination: &arrayPrefix},
			&cli.StringFlag{Name: "array-name", Usage: "base array file name, relative to array-prefix", Destination: &arrayName, Required: true},
			&cli.Uint64Flag{Name: "record-size", Usage: "fixed record width in bytes", Destination: &recordSize, Required: true},
			&cli.Uint64Flag{Name: "offset", Usage: "byte offset of the first record in the array file", Destination: &offset},
			&cli.StringFlag{Name: "index-prefix", Usage: "directory to write index layers under (defaults to array-prefix)", Destination: &indexPrefix},
			&cli.StringFlag{Name: "meta-path", Usage: "where to write the serialized rank-db metadata", Destination: &metaPath, Required: true},
			&cli.StringFlag{Name: "strategy", Usage: "balance, bounded, or explore", Value: "balance", Destination: &strategyName},
			&cli.Uint64Flag{Name: "top-bound", Usage: "byte bound on the top layer (bounded strategy)", Destination: &topBound},
			&cli.Uint64Flag{Name: "explore-top-k", Usage: "candidates explored per layer (explore strategy)", Value: 5, Destination: &exploreTopK},
			&cli.Uint64Flag{Name: "exact-layers", Usage: "force this many layers (explore strategy)", Destination: &exactLayers},
			&cli.StringFlag{Name: "profile", Usage: "constant, bandwidth, affine, or congested", Value: "affine", Destination: &profileName},
			&cli.Uint64Flag{Name: "latency-ms", Usage: "fixed per-read latency term", Destination: &latencyMs},
			&cli.Float64Flag{Name: "mbps", Usage: "bandwidth term in megabytes per second", Destination: &mbps},
			&cli.Float64Flag{Name: "discount", Usage: "congestion discount factor in (0,1] (congested profile)", Value: 0.8, Destination: &discount},
			&cli.Uint64Flag{Name: "low-error", Usage: "smallest step-model error budget swept", Value: 8, Destination: &lowError},
			&cli.Uint64Flag{Name: "high-error", Usage: "largest step-model error budget swept", Value: 4096, Destination: &highError},
			&cli.Float64Flag{Name: "exponent", Usage: "sweep growth factor between error budgets", Value: 4.0, Destination: &exponent},
			&cli.Uint64Flag{Name: "bundle-size", Usage: "anchors sketched per submodel artifact", Value: 8, Destination: &bundleSize},
			&cli.BoolFlag{Name: "with-band", Usage: "also sweep convex-hull band candidates alongside step", Destination: &withBand},
			&cli.Uint64Flag{Name: "page-size", Usage: "page cache page size in bytes", Value: 4096, Destination: &pageSize},
		},
		Action: func(c *cli.Context) error {
			if indexPrefix == "" {
				indexPrefix = arrayPrefix
			}
			fullArrayPath := path.Join(arrayPrefix, arrayName)
			info, err := os.Stat(fullArrayPath)
			if err != nil {
				return fmt.Errorf("airindex-build: stat %s: %w", fullArrayPath, err)
			}
			if info.Size()%int64(recordSize) != 0 {
				return fmt.Errorf("airindex-build: array size %d is not a multiple of record size %d", info.Size(), recordSize)
			}
			length := int(info.Size()/int64(recordSize)) - int(offset)/int(recordSize)

			storage := pagecache.NewStorage(int64(pageSize), 0).With("file", blob.NewFileAdaptor())
			as := store.FromExact(storage, "file", arrayPrefix, arrayName, int(recordSize), int(offset), length)

			profile, err := buildProfile(profileName, latencyMs, mbps, discount)
			if err != nil {
				return err
			}

			cfg := hierarchical.Config{
				Profile: profile,
				Storage: storage,
				Scheme:  "file",
				Prefix:  indexPrefix,
				Drafter: buildDrafter(lowError, highError, exponent, int(bundleSize), withBand),
			}

			builder := strategyBuilder{
				cfg:        cfg,
				strategy:   strategyName,
				topBound:   keyrank.Position(topBound),
				exploreCfg: hierarchical.ExploreConfig{TopK: int(exploreTopK), ExactLayers: int(exactLayers)},
			}

			startedAt := time.Now()
			db := rankdb.New(as)
			if err := db.BuildIndex(ctx, builder); err != nil {
				return fmt.Errorf("airindex-build: build index: %w", err)
			}
			klog.Infof("built index over %s records in %s", humanize.Comma(int64(length)), time.Since(startedAt))

			for i, load := range db.GetLoad() {
				klog.Infof("layer %d: median %s, max %s", i, humanize.Bytes(uint64(load.Percentile(50.0))), humanize.Bytes(uint64(load.Max())))
			}

			meta, err := db.ToMeta()
			if err != nil {
				return fmt.Errorf("airindex-build: capture meta: %w", err)
			}
			raw, err := meta.MarshalBinary()
			if err != nil {
				return fmt.Errorf("airindex-build: marshal meta: %w", err)
			}
			if err := os.WriteFile(metaPath, raw, 0o644); err != nil {
				return fmt.Errorf("airindex-build: write meta to %s: %w", metaPath, err)
			}
			klog.Infof("wrote %s of metadata to %s", humanize.Bytes(uint64(len(raw))), metaPath)
			return nil
		},
	}
	sort.Sort(cli.FlagsByName(app.Flags))

	if err := app.RunContext(ctx, os.Args); err != nil {
		klog.Fatal(err)
	}
}
