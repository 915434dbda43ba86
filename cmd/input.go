package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/record-review/internal/model"
)

// filterFlags binds the reviewer filter selection to command flags.
type filterFlags struct {
	search    string
	buckets   []string
	critical  bool
	withValue bool
	empty     bool
}

func (f *filterFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.search, "search", "", "case and accent insensitive search over labels, keys and values")
	cmd.Flags().StringSliceVar(&f.buckets, "bucket", nil, "confidence bands to keep (low, medium, high, unknown)")
	cmd.Flags().BoolVar(&f.critical, "critical", false, "keep only critical fields")
	cmd.Flags().BoolVar(&f.withValue, "with-value", false, "keep only fields with a value")
	cmd.Flags().BoolVar(&f.empty, "empty", false, "keep only fields without a value")
}

func (f *filterFlags) filters() (model.Filters, error) {
	buckets, err := parseBuckets(f.buckets)
	if err != nil {
		return model.Filters{}, err
	}
	return model.Filters{
		Search:        f.search,
		Buckets:       buckets,
		OnlyCritical:  f.critical,
		OnlyWithValue: f.withValue,
		OnlyEmpty:     f.empty,
	}, nil
}

// filtersFromQuery reads filters from URL query parameters. Buckets may be
// repeated or comma separated.
func filtersFromQuery(q url.Values) (model.Filters, error) {
	var raw []string
	for _, v := range q["bucket"] {
		raw = append(raw, strings.Split(v, ",")...)
	}
	buckets, err := parseBuckets(raw)
	if err != nil {
		return model.Filters{}, err
	}
	f := model.Filters{Search: q.Get("search"), Buckets: buckets}
	for name, dst := range map[string]*bool{
		"critical":   &f.OnlyCritical,
		"with_value": &f.OnlyWithValue,
		"empty":      &f.OnlyEmpty,
	} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return model.Filters{}, eris.Errorf("invalid %s value %q", name, v)
		}
		*dst = b
	}
	return f, nil
}

func parseBuckets(raw []string) ([]model.Band, error) {
	var out []model.Band
	for _, r := range raw {
		b := model.Band(strings.ToLower(strings.TrimSpace(r)))
		if b == "" {
			continue
		}
		switch b {
		case model.BandLow, model.BandMedium, model.BandHigh, model.BandUnknown:
			out = append(out, b)
		default:
			return nil, eris.Errorf("unknown confidence bucket %q", r)
		}
	}
	return out, nil
}

// readInput reads a file, or stdin when path is "-".
func readInput(stdin io.Reader, path string) ([]byte, error) {
	if path == "" {
		return nil, eris.New("input file is required")
	}
	if path == "-" {
		data, err := io.ReadAll(stdin)
		return data, eris.Wrap(err, "read stdin")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read %s", path)
	}
	return data, nil
}

// decodeChanges accepts either a bare JSON array of changes or an object
// with a "changes" array.
func decodeChanges(data []byte) ([]model.Change, error) {
	trimmed := bytes.TrimSpace(data)
	var changes []model.Change
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &changes); err != nil {
			return nil, eris.Wrap(err, "decode changes")
		}
	} else {
		var wrapped struct {
			Changes []model.Change `json:"changes"`
		}
		if err := json.Unmarshal(trimmed, &wrapped); err != nil {
			return nil, eris.Wrap(err, "decode changes")
		}
		changes = wrapped.Changes
	}
	if err := model.ValidateChanges(changes); err != nil {
		return nil, err
	}
	return changes, nil
}
