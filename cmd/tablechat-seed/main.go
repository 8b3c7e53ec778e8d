package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/tablechat/tablechat/internal/config"
	"github.com/tablechat/tablechat/internal/demo"
	s3store "github.com/tablechat/tablechat/internal/storage/s3"
)

func main() {
	seed := flag.Int64("seed", demo.DefaultSeed, "generator seed")
	target := flag.String("target", "", "dir|s3; defaults to TABLECHAT_DATASETS_SOURCE")
	dir := flag.String("dir", "", "output directory; defaults to TABLECHAT_DATASETS_DIR")
	flag.Parse()

	cfg, err := config.LoadFromEnv("tablechat-seed")
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	if *target == "" {
		*target = cfg.Datasets.Source
	}
	if *dir == "" {
		*dir = cfg.Datasets.Dir
	}

	files, err := demo.Encode(demo.NewGenerator(*seed).Generate())
	if err != nil {
		fmt.Fprintf(os.Stderr, "encode demo dataset: %v\n", err)
		os.Exit(1)
	}

	switch *target {
	case config.DatasetSourceDir:
		if err := demo.WriteDir(*dir, files); err != nil {
			fmt.Fprintf(os.Stderr, "write demo dataset: %v\n", err)
			os.Exit(1)
		}
		for _, file := range files {
			fmt.Printf("wrote %s/%s.parquet (%d rows)\n", *dir, file.Table, file.Rows)
		}
	case config.DatasetSourceS3:
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		objectStore, err := s3store.New(ctx, cfg.ObjectStore)
		if err != nil {
			fmt.Fprintf(os.Stderr, "object store error: %v\n", err)
			os.Exit(1)
		}
		keys, err := demo.Upload(ctx, objectStore, cfg.Datasets.ObjectPrefix, files)
		if err != nil {
			fmt.Fprintf(os.Stderr, "upload demo dataset: %v\n", err)
			os.Exit(1)
		}
		for i, key := range keys {
			fmt.Printf("uploaded s3://%s/%s (%d rows)\n", cfg.ObjectStore.Bucket, key, files[i].Rows)
		}
	default:
		fmt.Fprintf(os.Stderr, "invalid target: %s\n", *target)
		os.Exit(1)
	}
}
