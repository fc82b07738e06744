package task

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/klauspost/compress/zstd"
)

// maxLineSize bounds a single task line. Paths are the only unbounded
// fields, so 1 MiB is far more than any real line needs.
const maxLineSize = 1 << 20

// wireTask is the on-disk shape of a task. Skip is a pointer so that legacy
// lines without a kind tag can still be told apart by the presence of "skip".
type wireTask struct {
	Kind         Kind   `json:"kind,omitempty"`
	SrcPath      string `json:"src_path"`
	DstPath      string `json:"dst_path"`
	Size         int64  `json:"size"`
	Digest       string `json:"digest"`
	Skip         *int64 `json:"skip,omitempty"`
	OriginDigest string `json:"origin_digest,omitempty"`
	PartDigest   string `json:"part_digest,omitempty"`
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

func toWire(t Task) (wireTask, error) {
	switch v := t.(type) {
	case *Partial:
		skip := v.Skip
		return wireTask{
			Kind:         KindPartial,
			SrcPath:      v.SrcPath,
			DstPath:      v.DstPath,
			Size:         v.Size,
			Digest:       v.Digest,
			Skip:         &skip,
			OriginDigest: v.OriginDigest,
			PartDigest:   v.PartDigest,
		}, nil
	case *Copy:
		return wireTask{
			Kind:    KindCopy,
			SrcPath: v.SrcPath,
			DstPath: v.DstPath,
			Size:    v.Size,
			Digest:  v.Digest,
		}, nil
	default:
		return wireTask{}, fmt.Errorf("unsupported task type %T", t)
	}
}

func fromWire(w wireTask) (Task, error) {
	kind := w.Kind
	if kind == "" {
		kind = KindCopy
		if w.Skip != nil {
			kind = KindPartial
		}
	}

	base := Copy{SrcPath: w.SrcPath, DstPath: w.DstPath, Size: w.Size, Digest: w.Digest}

	var t Task
	switch kind {
	case KindCopy:
		c := base
		t = &c
	case KindPartial:
		if w.Skip == nil {
			return nil, errors.New("partial task without skip")
		}
		t = &Partial{
			Copy:         base,
			Skip:         *w.Skip,
			OriginDigest: w.OriginDigest,
			PartDigest:   w.PartDigest,
		}
	default:
		return nil, fmt.Errorf("unknown task kind %q", kind)
	}

	if err := validatorInstance().Struct(t); err != nil {
		return nil, fmt.Errorf("invalid task: %w", err)
	}
	return t, nil
}

// Write encodes tasks as one JSON object per line.
func Write(w io.Writer, tasks []Task) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	enc.SetEscapeHTML(false)
	for i, t := range tasks {
		wt, err := toWire(t)
		if err != nil {
			return fmt.Errorf("task %d: %w", i, err)
		}
		if err := enc.Encode(wt); err != nil {
			return fmt.Errorf("encode task %d: %w", i, err)
		}
	}
	return bw.Flush()
}

// Read decodes a task stream written by Write. Blank lines are ignored.
func Read(r io.Reader) ([]Task, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineSize)

	var tasks []Task
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var wt wireTask
		if err := json.Unmarshal(line, &wt); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		t, err := fromWire(wt)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		tasks = append(tasks, t)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read tasks: %w", err)
	}
	return tasks, nil
}

// WriteFile writes tasks to path through a temporary file renamed into
// place, so an interrupted write never leaves a truncated task file. "-"
// writes to stdout and a ".zst" suffix selects zstd compression.
func WriteFile(path string, tasks []Task) error {
	if path == "-" {
		return Write(os.Stdout, tasks)
	}

	tmp := path + ".tmp"
	if err := writeCompressed(tmp, tasks, strings.HasSuffix(path, ".zst")); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename task file: %w", err)
	}
	return nil
}

func writeCompressed(path string, tasks []Task, compress bool) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create task file: %w", err)
	}

	if !compress {
		if err := Write(f, tasks); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	}

	zw, err := zstd.NewWriter(f)
	if err != nil {
		f.Close()
		return fmt.Errorf("zstd writer: %w", err)
	}
	if err := Write(zw, tasks); err != nil {
		zw.Close()
		f.Close()
		return err
	}
	if err := zw.Close(); err != nil {
		f.Close()
		return fmt.Errorf("zstd close: %w", err)
	}
	return f.Close()
}

// ReadFile reads a task file written by WriteFile. "-" reads stdin.
func ReadFile(path string) ([]Task, error) {
	if path == "-" {
		return Read(os.Stdin)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open task file: %w", err)
	}
	defer f.Close()

	if !strings.HasSuffix(path, ".zst") {
		return Read(f)
	}

	zr, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("zstd reader: %w", err)
	}
	defer zr.Close()
	return Read(zr)
}
