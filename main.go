// Package main provides the walnut-pair batch command: extract features for a
// folder of walnuts, rank the most similar pairs and write a report.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"
	"os/signal"

	"walnut-pair/internal/config"
	"walnut-pair/internal/pipeline"
	"walnut-pair/internal/report"
	"walnut-pair/internal/version"
	"walnut-pair/internal/walnut"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	configPath := flag.String("config", "", "Config file (YAML or TOML); default "+config.DefaultPath())
	root := flag.String("root", "", "Image root with one folder per walnut")
	out := flag.String("out", "pairs.json", "Report output path")
	topK := flag.Int("topk", -1, "Number of pairs to report (0 = all)")
	metric := flag.String("metric", "", "Similarity metric: cosine, euclidean or mahalanobis")
	ppu := flag.Float64("ppu", 0, "Calibration: pixels per physical unit")
	exclusive := flag.Bool("exclusive", false, "Keep at most one pair per walnut")
	workers := flag.Int("workers", 0, "Extraction workers (0 = config)")
	encoder := flag.String("encoder", "", "Texture encoder: gradient, resnet50 or resnet18 (resnet needs -model)")
	model := flag.String("model", "", "ONNX model file for the resnet encoders")
	cachePath := flag.String("cache", "", "Feature cache file (bolt)")
	storePath := flag.String("store", "", "Run store file (SQLite)")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}
	if *root == "" {
		fmt.Println("Usage: walnut-pair -root <images> [-config file] [-ppu 515] [-topk 30] [-out pairs.json]")
		os.Exit(1)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *ppu != 0 {
		cfg.Size.PixelsPerUnit = *ppu
	}
	if *topK >= 0 {
		cfg.Similarity.TopK = *topK
	}
	if *metric != "" {
		cfg.Similarity.Metric = *metric
	}
	if *exclusive {
		cfg.Similarity.Exclusive = true
	}
	if *workers > 0 {
		cfg.Workers = *workers
	}
	if *encoder != "" {
		cfg.Texture.Encoder = *encoder
	}
	if *model != "" {
		cfg.Texture.Model = *model
	}
	if *cachePath != "" {
		cfg.Cache.Path = *cachePath
	}
	if *storePath != "" {
		cfg.Store.Path = *storePath
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, cfg, *root, *out); err != nil {
		log.Fatalf("Run failed: %v", err)
	}
}

// loadConfig decodes path, or the default path when path is empty. A missing
// default file yields the built-in defaults. Validation happens after flags
// are applied.
func loadConfig(path string) (config.Config, error) {
	if path != "" {
		return config.Decode(path)
	}
	cfg, err := config.Decode(config.DefaultPath())
	if errors.Is(err, fs.ErrNotExist) {
		return config.Default(), nil
	}
	return cfg, err
}

func run(ctx context.Context, cfg config.Config, root, out string) error {
	log.Printf("Starting %s", version.String())

	sets, err := walnut.LoadDir(root)
	if err != nil {
		return err
	}
	fmt.Printf("Loaded %d walnuts from %s\n", len(sets), root)

	runner, err := pipeline.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer runner.Close()

	runner.On(pipeline.EventExcluded, func(d interface{}) {
		e := d.(pipeline.Excluded)
		fmt.Printf("  excluded %s: %v\n", e.ID, e.Err)
	})
	runner.On(pipeline.EventReduced, func(d interface{}) {
		e := d.(pipeline.Reduced)
		fmt.Printf("Reduced %d walnuts to %d dimensions\n", e.Walnuts, e.Dim)
	})

	res, err := runner.Run(ctx, sets)
	if err != nil {
		return err
	}

	rep := report.New(res.RunID.String())
	rep.ExtractorVersion = res.Version
	rep.Walnuts = len(res.Tensors)
	rep.SetImageRoot(out, root)
	rep.SetRecords(res.Records)
	for id, err := range res.Excluded {
		rep.Exclude(id, err)
	}
	if err := rep.Save(out); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	fmt.Printf("\nTop %d pairs (%s):\n", len(res.Records), cfg.Similarity.Metric)
	fmt.Printf("%-6s %-20s %-20s %10s\n", "Rank", "A", "B", "Score")
	for i, r := range res.Records {
		fmt.Printf("%-6d %-20s %-20s %10.4f\n", i+1, r.A, r.B, r.Score)
	}
	fmt.Printf("\nRun %s written to %s\n", res.RunID, out)
	return nil
}
