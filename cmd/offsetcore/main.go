// Package main runs the offsetcore marketplace CLI.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/urfave/cli/v2"

	"offsetcore/internal/archive"
	archfs "offsetcore/internal/archive/fs"
	archmem "offsetcore/internal/archive/memory"
	archs3 "offsetcore/internal/archive/s3"
	"offsetcore/internal/infra/persistence/memory"
	"offsetcore/internal/infra/persistence/postgres"
	"offsetcore/internal/infra/persistence/sqlite"
	"offsetcore/internal/market"
	"offsetcore/internal/match"
	"offsetcore/pkg/domain"
)

func main() {
	if err := newApp(os.Stdout).Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// stateSource is the extra surface snapshots need beyond domain.PersistentStore.
type stateSource interface {
	domain.PersistentStore
	archive.StateSource
}

func newApp(out io.Writer) *cli.App {
	var (
		svc   *market.Service
		store stateSource
	)
	return &cli.App{
		Name:  "offsetcore",
		Usage: "biodiversity offset marketplace",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "store",
				Usage:   "persistence backend: memory|sqlite|postgres",
				Value:   "memory",
				EnvVars: []string{"OFFSETCORE_STORE"},
			},
			&cli.StringFlag{
				Name:    "dsn",
				Usage:   "sqlite file path or postgres DSN",
				EnvVars: []string{"OFFSETCORE_DSN"},
			},
			&cli.StringFlag{
				Name:    "archive-driver",
				Usage:   "snapshot archive backend: fs|s3|memory",
				Value:   string(archive.DriverFilesystem),
				EnvVars: []string{"OFFSETCORE_ARCHIVE_DRIVER"},
			},
			&cli.StringFlag{
				Name:    "archive-root",
				Usage:   "snapshot directory when archive-driver=fs",
				Value:   "./archivedata",
				EnvVars: []string{"OFFSETCORE_ARCHIVE_FS_ROOT"},
			},
		},
		Before: func(c *cli.Context) error {
			var err error
			store, err = openStore(c.String("store"), c.String("dsn"))
			if err != nil {
				return err
			}
			logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
			svc = market.NewService(store,
				market.WithLogger(logger),
				market.WithMetricsRecorder(market.NewExpvarMetricsRecorder("offsetcore_market")),
			)
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:    "seed",
				Aliases: []string{"demo"},
				Usage:   "load deterministic sample listings and demand requests",
				Action: func(c *cli.Context) error {
					result, err := svc.Seed(c.Context)
					if err != nil {
						return err
					}
					return emit(out, result)
				},
			},
			{
				Name:  "match",
				Usage: "generate and manage matches",
				Subcommands: []*cli.Command{
					{
						Name:  "find",
						Usage: "screen and score supply against demand",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "demand", Usage: "limit to one demand request ID"},
							&cli.StringFlag{Name: "supply", Usage: "limit to one supply listing ID"},
						},
						Action: func(c *cli.Context) error {
							matches, err := svc.FindMatches(c.Context, match.FindOptions{
								DemandID: c.String("demand"),
								SupplyID: c.String("supply"),
							})
							if err != nil {
								return err
							}
							return emit(out, matches)
						},
					},
					{
						Name:      "accept",
						Usage:     "accept a potential match, reserving its units",
						ArgsUsage: "<match-id>",
						Action: func(c *cli.Context) error {
							if c.NArg() != 1 {
								return fmt.Errorf("match accept requires exactly one match ID")
							}
							accepted, err := svc.AcceptMatch(c.Context, c.Args().First())
							if err != nil {
								return err
							}
							return emit(out, accepted)
						},
					},
					{
						Name:      "reject",
						Usage:     "reject a potential match",
						ArgsUsage: "<match-id>",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "reason", Usage: "rejection reason"},
						},
						Action: func(c *cli.Context) error {
							if c.NArg() != 1 {
								return fmt.Errorf("match reject requires exactly one match ID")
							}
							rejected, err := svc.RejectMatch(c.Context, c.Args().First(), c.String("reason"))
							if err != nil {
								return err
							}
							return emit(out, rejected)
						},
					},
					{
						Name:      "combine",
						Usage:     "assemble the best multi-supplier cover for a demand",
						ArgsUsage: "<demand-id>",
						Flags: []cli.Flag{
							&cli.IntFlag{Name: "max-suppliers", Value: match.DefaultMaxSuppliers},
							&cli.BoolFlag{Name: "accept", Usage: "accept the assembled combination"},
						},
						Action: func(c *cli.Context) error {
							if c.NArg() != 1 {
								return fmt.Errorf("match combine requires exactly one demand ID")
							}
							combo, err := svc.FindOptimalCombination(c.Context, c.Args().First(), c.Int("max-suppliers"))
							if err != nil {
								return err
							}
							if c.Bool("accept") {
								if _, err := svc.AcceptCombination(c.Context, combo); err != nil {
									return err
								}
							}
							return emit(out, combo)
						},
					},
					{
						Name:      "price",
						Usage:     "suggest a price adjustment for a listing",
						ArgsUsage: "<listing-id>",
						Flags: []cli.Flag{
							&cli.Float64Flag{Name: "target-score", Value: match.DefaultTargetScore},
						},
						Action: func(c *cli.Context) error {
							if c.NArg() != 1 {
								return fmt.Errorf("match price requires exactly one listing ID")
							}
							suggestion, err := svc.SuggestPriceAdjustment(c.Args().First(), c.Float64("target-score"))
							if err != nil {
								return err
							}
							return emit(out, suggestion)
						},
					},
				},
			},
			{
				Name:  "stats",
				Usage: "print a market summary",
				Action: func(c *cli.Context) error {
					return emit(out, svc.MarketSummary())
				},
			},
			{
				Name:  "expire",
				Usage: "retire lapsed listings and matches",
				Action: func(c *cli.Context) error {
					expired, err := svc.ExpireSweep(c.Context)
					if err != nil {
						return err
					}
					return emit(out, map[string]int{"expired": expired})
				},
			},
			{
				Name:  "snapshot",
				Usage: "manage state snapshots in the archive",
				Subcommands: []*cli.Command{
					{
						Name:  "save",
						Usage: "capture the current state",
						Action: func(c *cli.Context) error {
							archiver, err := openArchiver(c, store)
							if err != nil {
								return err
							}
							info, err := archiver.Snapshot(c.Context)
							if err != nil {
								return err
							}
							return emit(out, info)
						},
					},
					{
						Name:  "list",
						Usage: "list stored snapshots",
						Action: func(c *cli.Context) error {
							archiver, err := openArchiver(c, store)
							if err != nil {
								return err
							}
							infos, err := archiver.List(c.Context)
							if err != nil {
								return err
							}
							return emit(out, infos)
						},
					},
					{
						Name:      "restore",
						Usage:     "replace current state with a snapshot",
						ArgsUsage: "<key>",
						Action: func(c *cli.Context) error {
							if c.NArg() != 1 {
								return fmt.Errorf("snapshot restore requires exactly one key")
							}
							archiver, err := openArchiver(c, store)
							if err != nil {
								return err
							}
							return archiver.Restore(c.Context, c.Args().First())
						},
					},
					{
						Name:  "prune",
						Usage: "delete old snapshots",
						Flags: []cli.Flag{
							&cli.IntFlag{Name: "keep", Value: 10, Usage: "snapshots to retain"},
						},
						Action: func(c *cli.Context) error {
							archiver, err := openArchiver(c, store)
							if err != nil {
								return err
							}
							removed, err := archiver.Prune(c.Context, c.Int("keep"))
							if err != nil {
								return err
							}
							return emit(out, map[string]int{"removed": removed})
						},
					},
				},
			},
		},
	}
}

func openStore(backend, dsn string) (stateSource, error) {
	switch backend {
	case "", "memory":
		return memory.NewStore(nil), nil
	case "sqlite":
		return sqlite.NewStore(dsn, nil)
	case "postgres":
		return postgres.NewStore(dsn, nil)
	default:
		return nil, fmt.Errorf("unknown store backend %q", backend)
	}
}

func openArchiver(c *cli.Context, source archive.StateSource) (*archive.Archiver, error) {
	blobs, err := openArchiveStore(c.Context, archive.Driver(c.String("archive-driver")), c.String("archive-root"))
	if err != nil {
		return nil, err
	}
	return archive.NewArchiver(blobs, source), nil
}

func openArchiveStore(ctx context.Context, driver archive.Driver, root string) (archive.Store, error) {
	switch driver {
	case archive.DriverFilesystem, "":
		return archfs.New(root)
	case archive.DriverS3:
		return archs3.OpenFromEnv(ctx)
	case archive.DriverMemory:
		return archmem.New(), nil
	default:
		return nil, fmt.Errorf("unknown archive driver %q", driver)
	}
}

func emit(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
