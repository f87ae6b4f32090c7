package report

import (
	"errors"
	"io"
	"os"

	"github.com/goccy/go-json"

	"github.com/fxnlabs/gemmbench/internal/bench"
	"github.com/fxnlabs/gemmbench/internal/hostinfo"
)

// Document is the JSON form of a finished run.
type Document struct {
	Host    hostinfo.Info `json:"host"`
	Summary bench.Summary `json:"summary"`
	Run     *bench.Report `json:"run"`
}

func NewDocument(rep *bench.Report, host hostinfo.Info) Document {
	return Document{Host: host, Summary: rep.Summary(), Run: rep}
}

// WriteJSON encodes v as indented JSON.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteFile creates path and hands it to write.
func WriteFile(path string, write func(io.Writer) error) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, f.Close())
	}()
	return write(f)
}
