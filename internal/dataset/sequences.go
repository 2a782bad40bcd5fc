package dataset

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

var ErrNoInteractions = errors.New("no interactions")

// InteractionOptions select the user, item and optional time columns of an
// interaction log. Names win over indexes when a header is present. A
// negative TimeColumnIndex with no TimeColumnName keeps file order.
type InteractionOptions struct {
	HasHeader       bool
	UserColumnName  string
	UserColumnIndex int
	ItemColumnName  string
	ItemColumnIndex int
	TimeColumnName  string
	TimeColumnIndex int
	MaxLen          int
	MinLen          int
	Name            string
}

func DefaultInteractionOptions() InteractionOptions {
	return InteractionOptions{
		HasHeader:       true,
		UserColumnIndex: 0,
		ItemColumnIndex: 1,
		TimeColumnIndex: 2,
		MaxLen:          50,
		MinLen:          1,
	}
}

type SequenceInfo struct {
	Name     string `json:"name"`
	NumItems int    `json:"num_items"`
	Users    int    `json:"users"`
	MaxLen   int    `json:"max_len"`
	Dropped  int    `json:"dropped,omitempty"`
}

// SequenceFile holds one left-padded item id sequence per user. Item id i
// stands for Items[i-1]; id 0 is padding.
type SequenceFile struct {
	Info      SequenceInfo `json:"info"`
	Users     []string     `json:"users"`
	Items     []string     `json:"items"`
	Sequences [][]int      `json:"sequences"`
}

type interaction struct {
	item  int
	time  float64
	order int
}

// BuildSequencesFromCSV groups an interaction log by user, orders each
// history by time, keeps the most recent MaxLen items and left-pads every
// history to the longest kept length. Users with fewer than MinLen
// interactions are dropped.
func BuildSequencesFromCSV(in io.Reader, opts InteractionOptions) (SequenceFile, error) {
	if opts.MaxLen <= 0 {
		return SequenceFile{}, fmt.Errorf("max len must be positive, got %d", opts.MaxLen)
	}
	reader := csv.NewReader(in)
	reader.FieldsPerRecord = -1

	userCol, itemCol, timeCol := opts.UserColumnIndex, opts.ItemColumnIndex, opts.TimeColumnIndex
	rowIndex := 0
	if opts.HasHeader {
		header, err := reader.Read()
		if err == io.EOF {
			return SequenceFile{}, ErrNoInteractions
		}
		if err != nil {
			return SequenceFile{}, fmt.Errorf("read interactions header: %w", err)
		}
		rowIndex++
		if userCol, err = resolveColumn(header, opts.UserColumnName, userCol); err != nil {
			return SequenceFile{}, err
		}
		if itemCol, err = resolveColumn(header, opts.ItemColumnName, itemCol); err != nil {
			return SequenceFile{}, err
		}
		if timeCol, err = resolveColumn(header, opts.TimeColumnName, timeCol); err != nil {
			return SequenceFile{}, err
		}
	}

	var (
		users     []string
		userIndex = make(map[string]int)
		items     []string
		itemIndex = make(map[string]int)
		histories [][]interaction
		order     int
	)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return SequenceFile{}, fmt.Errorf("read interactions row %d: %w", rowIndex, err)
		}
		rowIndex++
		if blankRecord(record) {
			continue
		}

		user, err := field(record, userCol, rowIndex, "user")
		if err != nil {
			return SequenceFile{}, err
		}
		rawItem, err := field(record, itemCol, rowIndex, "item")
		if err != nil {
			return SequenceFile{}, err
		}
		ts := float64(order)
		if timeCol >= 0 {
			rawTime, err := field(record, timeCol, rowIndex, "time")
			if err != nil {
				return SequenceFile{}, err
			}
			if ts, err = strconv.ParseFloat(rawTime, 64); err != nil {
				return SequenceFile{}, fmt.Errorf("parse interactions row %d time: %w", rowIndex, err)
			}
		}

		u, ok := userIndex[user]
		if !ok {
			u = len(users)
			userIndex[user] = u
			users = append(users, user)
			histories = append(histories, nil)
		}
		id, ok := itemIndex[rawItem]
		if !ok {
			items = append(items, rawItem)
			id = len(items)
			itemIndex[rawItem] = id
		}
		histories[u] = append(histories[u], interaction{item: id, time: ts, order: order})
		order++
	}
	if order == 0 {
		return SequenceFile{}, ErrNoInteractions
	}

	name := strings.TrimSpace(opts.Name)
	if name == "" {
		name = "interactions"
	}
	out := SequenceFile{Info: SequenceInfo{Name: name, NumItems: len(items)}, Items: items}
	kept := make([][]int, 0, len(histories))
	longest := 0
	for u, history := range histories {
		if len(history) < opts.MinLen {
			out.Info.Dropped++
			continue
		}
		sort.SliceStable(history, func(i, j int) bool {
			if history[i].time != history[j].time {
				return history[i].time < history[j].time
			}
			return history[i].order < history[j].order
		})
		if len(history) > opts.MaxLen {
			history = history[len(history)-opts.MaxLen:]
		}
		seq := make([]int, len(history))
		for i, it := range history {
			seq[i] = it.item
		}
		kept = append(kept, seq)
		out.Users = append(out.Users, users[u])
		if len(seq) > longest {
			longest = len(seq)
		}
	}
	out.Sequences = make([][]int, len(kept))
	for i, seq := range kept {
		out.Sequences[i] = LeftPad(seq, longest)
	}
	out.Info.Users = len(out.Users)
	out.Info.MaxLen = longest
	return out, nil
}

// LeftPad returns seq preceded by zeros up to length n. Longer sequences
// keep their last n items.
func LeftPad(seq []int, n int) []int {
	if len(seq) >= n {
		return append([]int(nil), seq[len(seq)-n:]...)
	}
	out := make([]int, n)
	copy(out[n-len(seq):], seq)
	return out
}

// LeaveOneOut splits every sequence into its history and its final item.
// The history stays left-padded to the original length minus one.
func LeaveOneOut(seqs [][]int) (inputs [][]int, labels [][]int, err error) {
	inputs = make([][]int, len(seqs))
	labels = make([][]int, len(seqs))
	for i, seq := range seqs {
		if len(seq) < 2 || seq[len(seq)-1] == 0 || seq[len(seq)-2] == 0 {
			return nil, nil, fmt.Errorf("sequence %d needs at least two items", i)
		}
		inputs[i] = append([]int(nil), seq[:len(seq)-1]...)
		labels[i] = []int{seq[len(seq)-1]}
	}
	return inputs, labels, nil
}

func WriteSequenceFile(path string, file SequenceFile) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("sequence file path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

func ReadSequenceFile(path string) (SequenceFile, error) {
	if strings.TrimSpace(path) == "" {
		return SequenceFile{}, fmt.Errorf("sequence file path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return SequenceFile{}, err
	}
	return DecodeSequences(data)
}

// DecodeSequences accepts either a SequenceFile object or a bare JSON array
// of id arrays.
func DecodeSequences(data []byte) (SequenceFile, error) {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var seqs [][]int
		if err := json.Unmarshal(data, &seqs); err != nil {
			return SequenceFile{}, err
		}
		return SequenceFile{Sequences: seqs}, nil
	}
	var file SequenceFile
	if err := json.Unmarshal(data, &file); err != nil {
		return SequenceFile{}, err
	}
	return file, nil
}

func resolveColumn(header []string, name string, fallback int) (int, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return fallback, nil
	}
	for i, h := range header {
		if strings.ToLower(strings.TrimSpace(h)) == name {
			return i, nil
		}
	}
	return 0, fmt.Errorf("column %q not found in header", name)
}

func field(record []string, col, row int, what string) (string, error) {
	if col < 0 || col >= len(record) {
		return "", fmt.Errorf("interactions row %d has no %s column %d", row, what, col)
	}
	value := strings.TrimSpace(record[col])
	if value == "" {
		return "", fmt.Errorf("interactions row %d has an empty %s", row, what)
	}
	return value, nil
}

func blankRecord(record []string) bool {
	for _, f := range record {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
