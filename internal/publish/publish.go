package publish

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

var contentTypes = map[string]string{
	".mp4":  "video/mp4",
	".mkv":  "video/x-matroska",
	".mov":  "video/quicktime",
	".m3u8": "application/vnd.apple.mpegurl",
	".ts":   "video/mp2t",
}

// Publisher uploads an export and, for HLS, its segments.
type Publisher struct {
	provider Provider
	prefix   string
}

func NewPublisher(p Provider, prefix string) *Publisher {
	return &Publisher{provider: p, prefix: strings.Trim(prefix, "/")}
}

// Files lists what an export at output consists of. HLS segments come
// before the playlist so the playlist never references a missing file.
func Files(output string) ([]string, error) {
	if strings.ToLower(filepath.Ext(output)) != ".m3u8" {
		return []string{output}, nil
	}
	segs, err := filepath.Glob(strings.TrimSuffix(output, filepath.Ext(output)) + "_*.ts")
	if err != nil {
		return nil, err
	}
	sort.Strings(segs)
	return append(segs, output), nil
}

// Publish uploads every file of the export and returns the keys written.
func (p *Publisher) Publish(ctx context.Context, output string) ([]string, error) {
	files, err := Files(output)
	if err != nil {
		return nil, fmt.Errorf("error listing export files: %w", err)
	}

	keys := make([]string, 0, len(files))
	for _, file := range files {
		key := path.Join(p.prefix, filepath.Base(file))
		if err := p.put(ctx, key, file); err != nil {
			return keys, fmt.Errorf("error publishing %s: %w", file, err)
		}
		keys = append(keys, key)
		slog.DebugContext(ctx, "published", "key", key)
	}
	slog.InfoContext(ctx, "export published", "files", len(keys), "prefix", p.prefix)
	return keys, nil
}

func (p *Publisher) put(ctx context.Context, key, file string) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()
	return p.provider.Put(ctx, key, f, contentTypes[strings.ToLower(filepath.Ext(file))])
}
