package lrurec

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/cmplx"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"lrurec/internal/head"
	"lrurec/internal/lru"
	"lrurec/internal/model"
	"lrurec/internal/recmodel"
	"lrurec/internal/stats"
	"lrurec/internal/storage"
	"lrurec/internal/tensor"
)

const (
	defaultExportsDir = "exports"
	defaultTopK       = 10
)

var ErrNoCheckpoints = errors.New("no checkpoints stored")

type Options struct {
	StoreKind  string
	DBPath     string
	ExportsDir string
	Logger     *logrus.Logger
}

type Client struct {
	store      storage.Store
	exportsDir string
	log        *logrus.Logger

	mu          sync.Mutex
	initialized bool
	models      map[string]*recmodel.Model
}

type CreateRequest struct {
	Config recmodel.Config
	Label  string
}

type CheckpointInfo struct {
	ID             string
	Label          string
	CreatedAt      time.Time
	ParameterCount int
}

// Target selects a checkpoint by id, or the newest one when Latest is set.
type Target struct {
	CheckpointID string
	Latest       bool
}

type EncodeRequest struct {
	Target
	Sequences [][]int
	Workers   int
}

type EncodeResult struct {
	Vectors [][][]float64 `json:"vectors"`
	Mask    [][]bool      `json:"mask"`
}

type RecommendRequest struct {
	Target
	Sequences   [][]int
	K           int
	ExcludeSeen bool
	Workers     int
}

type ScoreRequest struct {
	Target
	Sequences [][]int
	Labels    [][]int
	Workers   int
}

type InspectResult struct {
	Summary   model.CheckpointSummary
	Config    recmodel.Config
	Stability []recmodel.ChannelReport
}

type ReprojectRequest struct {
	Target
	MaxModulus float64
}

type ReprojectResult struct {
	CheckpointID string
	Moved        int
}

type VerifyScanRequest struct {
	Batch    int
	Length   int
	Hidden   int
	Trials   int
	HoleRate float64
	Seed     int64
	Workers  int
}

type ExportRequest struct {
	Target
	OutDir string
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = storage.DefaultStoreKind()
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = storage.DefaultPath(storeKind)
	}
	exportsDir := opts.ExportsDir
	if exportsDir == "" {
		exportsDir = defaultExportsDir
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}

	return &Client{
		store:      store,
		exportsDir: exportsDir,
		log:        logger,
		models:     make(map[string]*recmodel.Model),
	}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Init(ctx context.Context) error {
	return c.ensureStore(ctx)
}

// CreateModel initializes a model from cfg and stores it as a new checkpoint.
func (c *Client) CreateModel(ctx context.Context, req CreateRequest) (CheckpointInfo, error) {
	if err := c.ensureStore(ctx); err != nil {
		return CheckpointInfo{}, err
	}
	m, err := recmodel.New(req.Config)
	if err != nil {
		return CheckpointInfo{}, err
	}
	rawConfig, err := json.Marshal(req.Config)
	if err != nil {
		return CheckpointInfo{}, err
	}

	checkpoint := model.Checkpoint{
		VersionedRecord: storage.Versioned(),
		ID:              uuid.NewString(),
		Label:           req.Label,
		CreatedAt:       time.Now().UTC(),
		Config:          rawConfig,
		Parameters:      m.Snapshot(),
	}
	if err := c.store.SaveCheckpoint(ctx, checkpoint); err != nil {
		return CheckpointInfo{}, fmt.Errorf("save checkpoint: %w", err)
	}
	c.cache(checkpoint.ID, m)

	c.log.WithFields(logrus.Fields{
		"checkpoint": checkpoint.ID,
		"label":      checkpoint.Label,
		"blocks":     req.Config.Blocks,
		"width":      req.Config.Width,
		"parameters": m.ParameterCount(),
	}).Info("created model")

	return CheckpointInfo{
		ID:             checkpoint.ID,
		Label:          checkpoint.Label,
		CreatedAt:      checkpoint.CreatedAt,
		ParameterCount: m.ParameterCount(),
	}, nil
}

func (c *Client) Encode(ctx context.Context, req EncodeRequest) (EncodeResult, error) {
	m, _, err := c.loadModel(ctx, req.Target)
	if err != nil {
		return EncodeResult{}, err
	}
	x, mask, err := m.Encode(req.Sequences, recmodel.RunOptions{Workers: req.Workers})
	if err != nil {
		return EncodeResult{}, err
	}

	out := EncodeResult{
		Vectors: make([][][]float64, x.Batch),
		Mask:    make([][]bool, mask.Batch),
	}
	for b := 0; b < x.Batch; b++ {
		out.Vectors[b] = make([][]float64, x.Time)
		for t := 0; t < x.Time; t++ {
			out.Vectors[b][t] = append([]float64(nil), x.Row(b, t)...)
		}
		out.Mask[b] = append([]bool(nil), mask.Sequence(b)...)
	}
	return out, nil
}

// Recommend ranks the whole vocabulary for the last position of every
// sequence. The padding id is never recommended.
func (c *Client) Recommend(ctx context.Context, req RecommendRequest) ([][]head.Ranked, error) {
	m, id, err := c.loadModel(ctx, req.Target)
	if err != nil {
		return nil, err
	}
	k := req.K
	if k <= 0 {
		k = defaultTopK
	}
	scores, err := m.ScoreFull(req.Sequences, recmodel.RunOptions{Workers: req.Workers})
	if err != nil {
		return nil, err
	}

	last := scores.Time - 1
	out := make([][]head.Ranked, scores.Batch)
	for b := 0; b < scores.Batch; b++ {
		exclude := map[int]bool{0: true}
		if req.ExcludeSeen {
			for _, item := range req.Sequences[b] {
				exclude[item] = true
			}
		}
		out[b] = head.TopK(scores, b, last, k, exclude)
	}

	c.log.WithFields(logrus.Fields{
		"checkpoint": id,
		"sequences":  len(req.Sequences),
		"k":          k,
	}).Debug("recommended items")
	return out, nil
}

// Score runs the configured head in evaluation mode.
func (c *Client) Score(ctx context.Context, req ScoreRequest) (head.Scores, error) {
	m, _, err := c.loadModel(ctx, req.Target)
	if err != nil {
		return head.Scores{}, err
	}
	scores, _, err := m.Forward(req.Sequences, req.Labels, recmodel.RunOptions{Workers: req.Workers})
	return scores, err
}

func (c *Client) Checkpoints(ctx context.Context, limit int) ([]model.CheckpointSummary, error) {
	if err := c.ensureStore(ctx); err != nil {
		return nil, err
	}
	summaries, err := c.store.ListCheckpoints(ctx)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(summaries) > limit {
		summaries = summaries[:limit]
	}
	return summaries, nil
}

// Inspect reports a stored checkpoint without restoring it, so unstable
// recurrences show up in the report instead of failing the call.
func (c *Client) Inspect(ctx context.Context, target Target) (InspectResult, error) {
	if err := c.ensureStore(ctx); err != nil {
		return InspectResult{}, err
	}
	id, err := c.resolve(ctx, target)
	if err != nil {
		return InspectResult{}, err
	}
	checkpoint, err := c.getCheckpoint(ctx, id)
	if err != nil {
		return InspectResult{}, err
	}
	cfg, err := recmodel.ParseConfig(checkpoint.Config)
	if err != nil {
		return InspectResult{}, err
	}
	reports, err := recmodel.StabilityOf(cfg, checkpoint.Parameters)
	if err != nil {
		return InspectResult{}, err
	}
	summary, err := c.summary(ctx, id)
	if err != nil {
		return InspectResult{}, err
	}
	return InspectResult{Summary: summary, Config: cfg, Stability: reports}, nil
}

// Reproject clamps every recurrence eigenvalue of a stored checkpoint to
// MaxModulus and saves the result under the same id. It loads checkpoints
// that would otherwise be rejected as unstable.
func (c *Client) Reproject(ctx context.Context, req ReprojectRequest) (ReprojectResult, error) {
	if err := c.ensureStore(ctx); err != nil {
		return ReprojectResult{}, err
	}
	id, err := c.resolve(ctx, req.Target)
	if err != nil {
		return ReprojectResult{}, err
	}
	checkpoint, err := c.getCheckpoint(ctx, id)
	if err != nil {
		return ReprojectResult{}, err
	}
	cfg, err := recmodel.ParseConfig(checkpoint.Config)
	if err != nil {
		return ReprojectResult{}, err
	}
	maxModulus := req.MaxModulus
	if maxModulus <= 0 {
		maxModulus = cfg.RMax
	}

	m, moved, err := recmodel.Load(cfg, checkpoint.Parameters, maxModulus)
	if err != nil {
		return ReprojectResult{}, err
	}
	checkpoint.Parameters = m.Snapshot()
	if err := c.store.SaveCheckpoint(ctx, checkpoint); err != nil {
		return ReprojectResult{}, fmt.Errorf("save checkpoint: %w", err)
	}
	c.cache(id, m)

	c.log.WithFields(logrus.Fields{
		"checkpoint":  id,
		"max_modulus": maxModulus,
		"moved":       moved,
	}).Info("reprojected recurrence")
	return ReprojectResult{CheckpointID: id, Moved: moved}, nil
}

// VerifyScan compares the parallel scan against the sequential recurrence on
// random left-padded inputs, optionally with interior holes in the mask.
func (c *Client) VerifyScan(_ context.Context, req VerifyScanRequest) (stats.DeviationSummary, error) {
	if req.Batch <= 0 || req.Length <= 0 || req.Hidden <= 0 {
		return stats.DeviationSummary{}, fmt.Errorf("batch, length and hidden must be positive")
	}
	if req.Trials <= 0 {
		req.Trials = 1
	}
	rng := rand.New(rand.NewSource(req.Seed))
	params, err := lru.NewParams(req.Hidden, lru.DefaultRMin, lru.DefaultRMax, rng)
	if err != nil {
		return stats.DeviationSummary{}, err
	}
	lambda, _ := params.Eigenvalues()

	deviations := make([]float64, 0, req.Trials)
	for trial := 0; trial < req.Trials; trial++ {
		h, mask := randomScanInput(rng, req.Batch, req.Length, req.Hidden, req.HoleRate)
		want := h.Clone()
		if err := lru.SequentialScan(want, mask, lambda); err != nil {
			return stats.DeviationSummary{}, err
		}
		if err := lru.Scan(h, mask, lambda, lru.ScanOptions{Workers: req.Workers}); err != nil {
			return stats.DeviationSummary{}, err
		}
		deviation := 0.0
		for i := range h.Data {
			if d := cmplx.Abs(h.Data[i] - want.Data[i]); d > deviation {
				deviation = d
			}
		}
		deviations = append(deviations, deviation)
	}

	summary := stats.SummarizeDeviations(deviations)
	c.log.WithFields(logrus.Fields{
		"trials":        summary.Trials,
		"max_deviation": summary.Max,
	}).Debug("verified scan")
	return summary, nil
}

// Export writes a checkpoint and its per-channel stability table under
// OutDir (or the client's exports directory) and returns the directory.
func (c *Client) Export(ctx context.Context, req ExportRequest) (string, error) {
	m, id, err := c.loadModel(ctx, req.Target)
	if err != nil {
		return "", err
	}
	checkpoint, err := c.getCheckpoint(ctx, id)
	if err != nil {
		return "", err
	}
	outDir := req.OutDir
	if outDir == "" {
		outDir = c.exportsDir
	}

	var rows []stats.StabilityRow
	for i, blk := range m.Blocks {
		lambda, gain := blk.LRU.Params.Eigenvalues()
		rows = append(rows, stats.ChannelRows(i, lambda, gain)...)
	}
	return stats.WriteCheckpointArtifacts(outDir, stats.CheckpointArtifacts{
		ID:         checkpoint.ID,
		Label:      checkpoint.Label,
		CreatedAt:  checkpoint.CreatedAt,
		Config:     checkpoint.Config,
		Parameters: checkpoint.Parameters,
		Stability:  rows,
	})
}

func (c *Client) Delete(ctx context.Context, target Target) error {
	if err := c.ensureStore(ctx); err != nil {
		return err
	}
	id, err := c.resolve(ctx, target)
	if err != nil {
		return err
	}
	if err := c.store.DeleteCheckpoint(ctx, id); err != nil {
		return err
	}
	c.mu.Lock()
	delete(c.models, id)
	c.mu.Unlock()

	c.log.WithField("checkpoint", id).Info("deleted checkpoint")
	return nil
}

func (c *Client) ensureStore(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.initialized {
		return nil
	}
	if err := c.store.Init(ctx); err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	c.initialized = true
	return nil
}

func (c *Client) resolve(ctx context.Context, target Target) (string, error) {
	if !target.Latest {
		if target.CheckpointID == "" {
			return "", fmt.Errorf("checkpoint id is required")
		}
		return target.CheckpointID, nil
	}
	summaries, err := c.store.ListCheckpoints(ctx)
	if err != nil {
		return "", err
	}
	if len(summaries) == 0 {
		return "", ErrNoCheckpoints
	}
	return summaries[0].ID, nil
}

func (c *Client) getCheckpoint(ctx context.Context, id string) (model.Checkpoint, error) {
	checkpoint, ok, err := c.store.GetCheckpoint(ctx, id)
	if err != nil {
		return model.Checkpoint{}, err
	}
	if !ok {
		return model.Checkpoint{}, fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	}
	return checkpoint, nil
}

func (c *Client) summary(ctx context.Context, id string) (model.CheckpointSummary, error) {
	summaries, err := c.store.ListCheckpoints(ctx)
	if err != nil {
		return model.CheckpointSummary{}, err
	}
	for _, s := range summaries {
		if s.ID == id {
			return s, nil
		}
	}
	return model.CheckpointSummary{}, fmt.Errorf("%w: %s", storage.ErrNotFound, id)
}

// loadModel returns the cached model for target, restoring it from the store
// on first use.
func (c *Client) loadModel(ctx context.Context, target Target) (*recmodel.Model, string, error) {
	if err := c.ensureStore(ctx); err != nil {
		return nil, "", err
	}
	id, err := c.resolve(ctx, target)
	if err != nil {
		return nil, "", err
	}

	c.mu.Lock()
	m, ok := c.models[id]
	c.mu.Unlock()
	if ok {
		return m, id, nil
	}

	checkpoint, err := c.getCheckpoint(ctx, id)
	if err != nil {
		return nil, "", err
	}
	cfg, err := recmodel.ParseConfig(checkpoint.Config)
	if err != nil {
		return nil, "", fmt.Errorf("checkpoint %s: %w", id, err)
	}
	m, _, err = recmodel.Load(cfg, checkpoint.Parameters, 0)
	if err != nil {
		return nil, "", fmt.Errorf("checkpoint %s: %w", id, err)
	}
	c.cache(id, m)
	c.log.WithField("checkpoint", id).Debug("loaded model")
	return m, id, nil
}

func (c *Client) cache(id string, m *recmodel.Model) {
	c.mu.Lock()
	c.models[id] = m
	c.mu.Unlock()
}

// randomScanInput draws gaussian inputs and a left-padded mask whose valid
// region may contain holes.
func randomScanInput(rng *rand.Rand, batch, length, hidden int, holeRate float64) (tensor.Complex, tensor.Mask) {
	padded := lru.NextPowerOfTwo(length)
	h := tensor.NewComplex(batch, padded, hidden)
	for i := range h.Data {
		h.Data[i] = complex(rng.NormFloat64(), rng.NormFloat64())
	}
	mask := tensor.NewMask(batch, padded)
	for b := 0; b < batch; b++ {
		start := padded - length + rng.Intn(length)
		for t := start; t < padded; t++ {
			mask.Set(b, t, holeRate <= 0 || rng.Float64() >= holeRate)
		}
	}
	return h, mask
}
