package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/ncruces/go-strftime"

	"lrurec/internal/dataset"
	"lrurec/internal/storage"
	api "lrurec/pkg/lrurec"
)

const timeLayout = "%Y-%m-%d %H:%M:%S"

var (
	out       io.Writer = os.Stdout
	logOutput io.Writer = os.Stderr
)

func main() {
	if err := loadEnv(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "init":
		return runInit(ctx, args[1:])
	case "create":
		return runCreate(ctx, args[1:])
	case "checkpoints":
		return runCheckpoints(ctx, args[1:])
	case "inspect":
		return runInspect(ctx, args[1:])
	case "reproject":
		return runReproject(ctx, args[1:])
	case "recommend":
		return runRecommend(ctx, args[1:])
	case "encode":
		return runEncode(ctx, args[1:])
	case "score":
		return runScore(ctx, args[1:])
	case "build-sequences":
		return runBuildSequences(ctx, args[1:])
	case "verify-scan":
		return runVerifyScan(ctx, args[1:])
	case "export":
		return runExport(ctx, args[1:])
	case "delete":
		return runDelete(ctx, args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

func runInit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	common := addCommonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := newClient(common)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	if err := client.Init(ctx); err != nil {
		return err
	}

	fmt.Fprintf(out, "initialized store=%s\n", *common.store)
	return nil
}

func runCreate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("create", flag.ContinueOnError)
	common := addCommonFlags(fs)
	configPath := fs.String("config", "", "optional JSON model config")
	label := fs.String("label", "", "checkpoint label")
	numItems := fs.Int("num-items", 0, "number of items, excluding the padding id")
	width := fs.Int("width", 64, "model width")
	blocks := fs.Int("blocks", 2, "recurrent blocks")
	dropout := fs.Float64("dropout", 0.1, "embedding and feed-forward dropout")
	attnDropout := fs.Float64("attn-dropout", 0.1, "recurrent layer dropout")
	rMin := fs.Float64("r-min", 0.8, "minimum initial eigenvalue modulus")
	rMax := fs.Float64("r-max", 0.99, "maximum initial eigenvalue modulus")
	noBias := fs.Bool("no-bias", false, "drop the complex projection biases")
	headKind := fs.String("head", "full", "scoring head: full|sampled")
	negatives := fs.Int("negatives", 100, "training negatives per position for the sampled head")
	evalNegatives := fs.Int("eval-negatives", 10000, "evaluation negatives per row for the sampled head")
	positional := fs.String("positional", "none", "positional encoding: none|rope")
	activation := fs.String("ffn-activation", "gelu", "feed-forward activation: gelu|gelu_tanh|relu|silu|identity")
	seed := fs.Int64("seed", 1, "initialization seed")
	workers := fs.Int("workers", 0, "scan workers (0 = one per logical core)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadModelConfig(*configPath)
	if err != nil {
		return err
	}
	set := setFlags(fs)
	if *configPath == "" || set["seed"] {
		cfg.Seed = *seed
	}
	overrides := []struct {
		name  string
		apply func()
	}{
		{"num-items", func() { cfg.NumItems = *numItems }},
		{"width", func() { cfg.Width = *width }},
		{"blocks", func() { cfg.Blocks = *blocks }},
		{"dropout", func() { cfg.Dropout = *dropout }},
		{"attn-dropout", func() { cfg.AttnDropout = *attnDropout }},
		{"r-min", func() { cfg.RMin = *rMin }},
		{"r-max", func() { cfg.RMax = *rMax }},
		{"no-bias", func() { cfg.UseBias = !*noBias }},
		{"head", func() { cfg.Head = *headKind }},
		{"negatives", func() { cfg.Negatives = *negatives }},
		{"eval-negatives", func() { cfg.EvalNegatives = *evalNegatives }},
		{"positional", func() { cfg.Positional = *positional }},
		{"ffn-activation", func() { cfg.Activation = *activation }},
		{"workers", func() { cfg.Workers = *workers }},
	}
	for _, o := range overrides {
		if set[o.name] {
			o.apply()
		}
	}

	client, err := newClient(common)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	info, err := client.CreateModel(ctx, api.CreateRequest{Config: cfg, Label: *label})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "created checkpoint=%s parameters=%s\n", info.ID, humanize.Comma(int64(info.ParameterCount)))
	return nil
}

func runCheckpoints(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("checkpoints", flag.ContinueOnError)
	common := addCommonFlags(fs)
	limit := fs.Int("limit", 20, "max checkpoints to list")
	jsonOut := fs.Bool("json", false, "emit checkpoints as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *limit <= 0 {
		return errors.New("limit must be > 0")
	}

	client, err := newClient(common)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summaries, err := client.Checkpoints(ctx, *limit)
	if err != nil {
		return err
	}
	if *jsonOut {
		return writeJSON(summaries)
	}
	if len(summaries) == 0 {
		fmt.Fprintln(out, "no checkpoints found")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tLABEL\tCREATED\tPARAMETERS\tSIZE")
	for _, s := range summaries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			s.ID,
			s.Label,
			formatTime(s.CreatedAt),
			humanize.Comma(int64(s.ParameterCount)),
			humanize.Bytes(uint64(s.PayloadBytes)),
		)
	}
	return tw.Flush()
}

func runInspect(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	common := addCommonFlags(fs)
	target := addTargetFlags(fs)
	jsonOut := fs.Bool("json", false, "emit the report as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	t, err := target.target()
	if err != nil {
		return err
	}

	client, err := newClient(common)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	res, err := client.Inspect(ctx, t)
	if err != nil {
		return err
	}
	if *jsonOut {
		return writeJSON(res)
	}

	fmt.Fprintf(out, "checkpoint=%s label=%q created=%s parameters=%s size=%s\n",
		res.Summary.ID,
		res.Summary.Label,
		formatTime(res.Summary.CreatedAt),
		humanize.Comma(int64(res.Summary.ParameterCount)),
		humanize.Bytes(uint64(res.Summary.PayloadBytes)),
	)
	fmt.Fprintf(out, "items=%d width=%d blocks=%d head=%s positional=%s\n",
		res.Config.NumItems, res.Config.Width, res.Config.Blocks, res.Config.Head, res.Config.Positional)
	for _, r := range res.Stability {
		fmt.Fprintf(out, "block=%d channels=%d min_modulus=%.6f max_modulus=%.6f unstable=%d\n",
			r.Block, r.Channels, r.MinModulus, r.MaxModulus, r.Unstable)
	}
	return nil
}

func runReproject(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("reproject", flag.ContinueOnError)
	common := addCommonFlags(fs)
	target := addTargetFlags(fs)
	maxModulus := fs.Float64("max-modulus", 0, "largest allowed eigenvalue modulus (0 = the checkpoint's r_max)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	t, err := target.target()
	if err != nil {
		return err
	}
	if *maxModulus < 0 || *maxModulus >= 1 {
		return fmt.Errorf("max-modulus must be in [0, 1), got %g", *maxModulus)
	}

	client, err := newClient(common)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	res, err := client.Reproject(ctx, api.ReprojectRequest{Target: t, MaxModulus: *maxModulus})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "reprojected checkpoint=%s channels=%d\n", res.CheckpointID, res.Moved)
	return nil
}

func runRecommend(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("recommend", flag.ContinueOnError)
	common := addCommonFlags(fs)
	target := addTargetFlags(fs)
	sequences := fs.String("sequences", "", "JSON array of left-padded item id sequences")
	sequencesFile := fs.String("sequences-file", "", "file holding the sequences JSON")
	k := fs.Int("k", 10, "items to return per sequence")
	excludeSeen := fs.Bool("exclude-seen", false, "skip items already in the sequence")
	workers := fs.Int("workers", 0, "scan workers (0 = checkpoint setting)")
	jsonOut := fs.Bool("json", false, "emit recommendations as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	t, err := target.target()
	if err != nil {
		return err
	}
	ids, err := parseIDs(*sequences, *sequencesFile, "sequences")
	if err != nil {
		return err
	}

	client, err := newClient(common)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	recs, err := client.Recommend(ctx, api.RecommendRequest{
		Target:      t,
		Sequences:   ids,
		K:           *k,
		ExcludeSeen: *excludeSeen,
		Workers:     *workers,
	})
	if err != nil {
		return err
	}
	if *jsonOut {
		return writeJSON(recs)
	}
	for b, ranked := range recs {
		for rank, r := range ranked {
			fmt.Fprintf(out, "sequence=%d rank=%d item=%d score=%.6f\n", b, rank+1, r.Item, r.Score)
		}
	}
	return nil
}

func runEncode(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("encode", flag.ContinueOnError)
	common := addCommonFlags(fs)
	target := addTargetFlags(fs)
	sequences := fs.String("sequences", "", "JSON array of left-padded item id sequences")
	sequencesFile := fs.String("sequences-file", "", "file holding the sequences JSON")
	workers := fs.Int("workers", 0, "scan workers (0 = checkpoint setting)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	t, err := target.target()
	if err != nil {
		return err
	}
	ids, err := parseIDs(*sequences, *sequencesFile, "sequences")
	if err != nil {
		return err
	}

	client, err := newClient(common)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	res, err := client.Encode(ctx, api.EncodeRequest{Target: t, Sequences: ids, Workers: *workers})
	if err != nil {
		return err
	}
	return writeJSON(res)
}

func runScore(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("score", flag.ContinueOnError)
	common := addCommonFlags(fs)
	target := addTargetFlags(fs)
	sequences := fs.String("sequences", "", "JSON array of left-padded item id sequences")
	sequencesFile := fs.String("sequences-file", "", "file holding the sequences JSON")
	labels := fs.String("labels", "", "JSON array with one label array per sequence (sampled head)")
	leaveOneOut := fs.Bool("leave-one-out", false, "hold out the last item of every sequence as its label")
	workers := fs.Int("workers", 0, "scan workers (0 = checkpoint setting)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	t, err := target.target()
	if err != nil {
		return err
	}
	ids, err := parseIDs(*sequences, *sequencesFile, "sequences")
	if err != nil {
		return err
	}
	var labelIDs [][]int
	switch {
	case *leaveOneOut && *labels != "":
		return errors.New("--labels and --leave-one-out are exclusive")
	case *leaveOneOut:
		if ids, labelIDs, err = dataset.LeaveOneOut(ids); err != nil {
			return err
		}
	case *labels != "":
		if labelIDs, err = parseIDs(*labels, "", "labels"); err != nil {
			return err
		}
	}

	client, err := newClient(common)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	scores, err := client.Score(ctx, api.ScoreRequest{Target: t, Sequences: ids, Labels: labelIDs, Workers: *workers})
	if err != nil {
		return err
	}
	type scoreRow struct {
		Sequence int       `json:"sequence"`
		Step     int       `json:"step"`
		Items    []int     `json:"items"`
		Scores   []float64 `json:"scores"`
	}
	rows := make([]scoreRow, 0, scores.Batch*scores.Time)
	for b := 0; b < scores.Batch; b++ {
		for step := 0; step < scores.Time; step++ {
			row := scoreRow{Sequence: b, Step: step, Scores: scores.Row(b, step), Items: make([]int, scores.Candidates)}
			for j := range row.Items {
				row.Items[j] = scores.Item(b, step, j)
			}
			rows = append(rows, row)
		}
	}
	return writeJSON(rows)
}

func runBuildSequences(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("build-sequences", flag.ContinueOnError)
	in := fs.String("in", "", "interaction log CSV")
	outPath := fs.String("out", "", "sequence file to write (default stdout)")
	noHeader := fs.Bool("no-header", false, "the CSV has no header row")
	userCol := fs.String("user-col", "", "user column name")
	itemCol := fs.String("item-col", "", "item column name")
	timeCol := fs.String("time-col", "", "time column name")
	userIdx := fs.Int("user-index", 0, "user column index when no name is given")
	itemIdx := fs.Int("item-index", 1, "item column index when no name is given")
	timeIdx := fs.Int("time-index", 2, "time column index when no name is given (-1 = file order)")
	maxLen := fs.Int("max-len", 50, "most recent items kept per user")
	minLen := fs.Int("min-len", 1, "users with fewer interactions are dropped")
	name := fs.String("name", "", "dataset name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" {
		return errors.New("--in is required")
	}

	f, err := os.Open(*in)
	if err != nil {
		return err
	}
	defer f.Close()
	file, err := dataset.BuildSequencesFromCSV(f, dataset.InteractionOptions{
		HasHeader:       !*noHeader,
		UserColumnName:  *userCol,
		UserColumnIndex: *userIdx,
		ItemColumnName:  *itemCol,
		ItemColumnIndex: *itemIdx,
		TimeColumnName:  *timeCol,
		TimeColumnIndex: *timeIdx,
		MaxLen:          *maxLen,
		MinLen:          *minLen,
		Name:            *name,
	})
	if err != nil {
		return err
	}
	if *outPath == "" {
		return writeJSON(file)
	}
	if err := dataset.WriteSequenceFile(*outPath, file); err != nil {
		return err
	}
	fmt.Fprintf(out, "wrote sequences=%s users=%s items=%s max_len=%d dropped=%d\n",
		*outPath,
		humanize.Comma(int64(file.Info.Users)),
		humanize.Comma(int64(file.Info.NumItems)),
		file.Info.MaxLen,
		file.Info.Dropped,
	)
	return nil
}

func runVerifyScan(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("verify-scan", flag.ContinueOnError)
	logLevel := fs.String("log-level", defaultLogLevel(), "log level: debug|info|warn|error")
	batch := fs.Int("batch", 4, "sequences per trial")
	length := fs.Int("length", 200, "sequence length before padding")
	hidden := fs.Int("hidden", 16, "recurrent channels")
	trials := fs.Int("trials", 8, "random trials")
	holeRate := fs.Float64("hole-rate", 0, "probability that a position after the padding is masked")
	seed := fs.Int64("seed", 1, "random seed")
	workers := fs.Int("workers", 0, "scan workers (0 = one per logical core)")
	tolerance := fs.Float64("tolerance", 1e-9, "largest acceptable deviation")
	jsonOut := fs.Bool("json", false, "emit the summary as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	logger, err := newLogger(*logLevel, logOutput)
	if err != nil {
		return err
	}
	client, err := api.New(api.Options{StoreKind: storage.KindMemory, Logger: logger})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, err := client.VerifyScan(ctx, api.VerifyScanRequest{
		Batch:    *batch,
		Length:   *length,
		Hidden:   *hidden,
		Trials:   *trials,
		HoleRate: *holeRate,
		Seed:     *seed,
		Workers:  *workers,
	})
	if err != nil {
		return err
	}
	if *jsonOut {
		if err := writeJSON(summary); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(out, "trials=%d max_deviation=%.3e mean_deviation=%.3e std_deviation=%.3e\n",
			summary.Trials, summary.Max, summary.Mean, summary.Std)
	}
	if summary.Max > *tolerance {
		return fmt.Errorf("parallel scan deviates from the sequential recurrence by %.3e (tolerance %.3e)", summary.Max, *tolerance)
	}
	return nil
}

func runExport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	common := addCommonFlags(fs)
	target := addTargetFlags(fs)
	outDir := fs.String("out", "exports", "export directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	t, err := target.target()
	if err != nil {
		return err
	}

	client, err := newClient(common)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	dir, err := client.Export(ctx, api.ExportRequest{Target: t, OutDir: *outDir})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "exported checkpoint to=%s\n", dir)
	return nil
}

func runDelete(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("delete", flag.ContinueOnError)
	common := addCommonFlags(fs)
	target := addTargetFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	t, err := target.target()
	if err != nil {
		return err
	}

	client, err := newClient(common)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	if err := client.Delete(ctx, t); err != nil {
		return err
	}
	if t.Latest {
		fmt.Fprintln(out, "deleted latest checkpoint")
	} else {
		fmt.Fprintf(out, "deleted checkpoint=%s\n", t.CheckpointID)
	}
	return nil
}

func writeJSON(value any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}

func formatTime(t time.Time) string {
	return strftime.Format(timeLayout, t.UTC())
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: lrurecctl <init|create|checkpoints|inspect|reproject|recommend|encode|score|build-sequences|verify-scan|export|delete> [flags]", msg)
}
