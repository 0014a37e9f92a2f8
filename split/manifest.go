package split

import (
	"fmt"
	"os"
	"time"

	json "github.com/goccy/go-json"
)

// Manifest is the JSON description of a run.
type Manifest struct {
	Input    string         `json:"input"`
	Pages    int            `json:"pages"`
	Saved    int            `json:"saved"`
	Started  time.Time      `json:"started"`
	Finished time.Time      `json:"finished"`
	Results  []ManifestPage `json:"results"`
}

type ManifestPage struct {
	Page   int             `json:"page"`
	Path   string          `json:"path,omitempty"`
	Layers []ManifestLayer `json:"layers"`
	Size   int64           `json:"size,omitempty"`
	XXH3   string          `json:"xxh3,omitempty"`
	Error  string          `json:"error,omitempty"`
}

type ManifestLayer struct {
	Ref  string `json:"ref"`
	Name string `json:"name"`
}

func NewManifest(r *Result) Manifest {
	m := Manifest{
		Input:    r.Input,
		Pages:    r.Total,
		Saved:    r.Saved(),
		Started:  r.Started,
		Finished: r.Finished,
		Results:  make([]ManifestPage, 0, len(r.Pages)),
	}
	for _, p := range r.Pages {
		mp := ManifestPage{Page: p.Page, Layers: make([]ManifestLayer, 0, len(p.Layers))}
		if p.Err != nil {
			mp.Error = p.Err.Error()
		} else {
			mp.Path = p.Path
			mp.Size = p.Size
			mp.XXH3 = fmt.Sprintf("%016x", p.Digest)
		}
		for _, l := range p.Layers {
			mp.Layers = append(mp.Layers, ManifestLayer{Ref: l.Ref.String(), Name: l.Name})
		}
		m.Results = append(m.Results, mp)
	}
	return m
}

// WriteManifest encodes the run as indented JSON at path.
func WriteManifest(path string, r *Result) error {
	data, err := json.MarshalIndent(NewManifest(r), "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}
