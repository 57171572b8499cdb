package models

import (
	"fmt"
	"strings"
)

// Source identifies a community site with its own fetcher.
type Source string

const (
	Ppomppu    Source = "ppomppu"
	Ruliweb    Source = "ruliweb"
	Clien      Source = "clien"
	Quasarzone Source = "quasarzone"
	Fmkorea    Source = "fmkorea"
	Dealbada   Source = "dealbada"
	Eomisae    Source = "eomisae"
)

var knownSources = []Source{Ppomppu, Ruliweb, Clien, Quasarzone, Fmkorea, Dealbada, Eomisae}

func KnownSources() []Source {
	return append([]Source(nil), knownSources...)
}

func ToSource(s string) (Source, error) {
	normalized := Source(strings.ToLower(strings.TrimSpace(s)))
	for _, source := range knownSources {
		if source == normalized {
			return source, nil
		}
	}
	return "", fmt.Errorf("unknown source %q", s)
}

func (s Source) String() string {
	return string(s)
}
