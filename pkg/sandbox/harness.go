package sandbox

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// HarnessSource is the Python driver placed next to every program.
//
//go:embed harness.py
var HarnessSource string

// Names of the files exchanged with the harness, relative to the job dir.
const (
	harnessFile = "harness.py"
	programFile = "workflow.py"
	inputFile   = "input.json"
	outputDir   = "output"
	resultFile  = "output/result.json"
)

type harnessInput struct {
	UserInput       string `json:"user_input"`
	AttachedFileIDs []int  `json:"attached_file_ids"`
}

type harnessReport struct {
	OK        bool   `json:"ok"`
	Result    string `json:"result"`
	ErrorType string `json:"error_type"`
	Message   string `json:"message"`
	Traceback string `json:"traceback"`
}

// jobFiles returns the files a job directory starts with, keyed by
// relative path.
func jobFiles(job *Job) (map[string][]byte, error) {
	ids := job.AttachedFileIDs
	if ids == nil {
		ids = []int{}
	}
	input, err := json.Marshal(harnessInput{UserInput: job.UserInput, AttachedFileIDs: ids})
	if err != nil {
		return nil, fmt.Errorf("encode input: %w", err)
	}
	return map[string][]byte{
		harnessFile: []byte(HarnessSource),
		programFile: []byte(job.Code),
		inputFile:   input,
	}, nil
}

// prepareDir writes the job files and the empty output directory into dir.
func prepareDir(dir string, job *Job) error {
	files, err := jobFiles(job)
	if err != nil {
		return err
	}
	for name, data := range files {
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, outputDir), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	return nil
}

var errNoReport = errors.New("harness wrote no result")

// readReport decodes a harness report into an Outcome. It returns
// errNoReport when r is nil.
func readReport(r io.Reader) (*Outcome, error) {
	if r == nil {
		return nil, errNoReport
	}
	var rep harnessReport
	if err := json.NewDecoder(r).Decode(&rep); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	if rep.OK {
		return &Outcome{Result: rep.Result}, nil
	}
	if rep.ErrorType == "" {
		return nil, errors.New("harness reported failure without an exception type")
	}
	return &Outcome{Err: &ProgramError{Type: rep.ErrorType, Message: rep.Message, Traceback: rep.Traceback}}, nil
}

func readReportFile(dir string) (*Outcome, error) {
	f, err := os.Open(filepath.Join(dir, resultFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, errNoReport
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return readReport(f)
}
