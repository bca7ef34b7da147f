// Package gpu reports whether this machine has a GPU the runtime can use.
// It only reads; nothing here changes driver or runtime state.
package gpu

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// Info is the outcome of a probe. Err is set when no prober found an
// adapter and at least one of them failed for a reason other than the tool
// being absent.
type Info struct {
	Supported bool
	Adapter   string
	Features  []string
	Err       error
}

// Prober inspects one kind of GPU. It returns a zero Info when the device
// or its tooling is absent.
type Prober interface {
	Name() string
	Probe(ctx context.Context) (Info, error)
}

// ErrNoAdapter is reported when every prober came back empty.
var ErrNoAdapter = errors.New("no supported GPU adapter found")

const probeTimeout = 3 * time.Second

// DefaultProbers lists the probers in order of preference.
func DefaultProbers() []Prober {
	return []Prober{
		nvidia{run: runCommand},
		rocm{run: runCommand},
		metal{goos: runtime.GOOS, goarch: runtime.GOARCH, run: runCommand},
	}
}

// Probe runs every prober concurrently and returns the first supported
// result in preference order.
func Probe(ctx context.Context, probers ...Prober) Info {
	if len(probers) == 0 {
		probers = DefaultProbers()
	}
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	results := make([]Info, len(probers))
	errs := make([]error, len(probers))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range probers {
		g.Go(func() error {
			// Errors are kept per prober; one failing must not cancel the rest.
			results[i], errs[i] = p.Probe(gctx)
			return nil
		})
	}
	_ = g.Wait()

	var firstErr error
	for i := range probers {
		if results[i].Supported {
			return results[i]
		}
		if errs[i] != nil && firstErr == nil {
			firstErr = errs[i]
		}
	}
	if firstErr == nil {
		firstErr = ErrNoAdapter
	}
	return Info{Err: firstErr}
}

type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

// runCommand runs a tool, reporting exec.ErrNotFound when it is missing.
func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return nil, exec.ErrNotFound
	}
	var stdout bytes.Buffer
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return nil, err
	}
	return stdout.Bytes(), nil
}

func absent(err error) bool {
	return errors.Is(err, exec.ErrNotFound)
}

type nvidia struct{ run runFunc }

func (nvidia) Name() string { return "nvidia" }

func (n nvidia) Probe(ctx context.Context) (Info, error) {
	out, err := n.run(ctx, "nvidia-smi", "--query-gpu=name,memory.total,driver_version", "--format=csv,noheader")
	if absent(err) {
		return Info{}, nil
	}
	if err != nil {
		return Info{}, err
	}
	line := firstLine(out)
	if line == "" {
		return Info{}, nil
	}
	parts := strings.Split(line, ",")
	info := Info{Supported: true, Adapter: strings.TrimSpace(parts[0]), Features: []string{"cuda"}}
	if len(parts) > 1 {
		info.Features = append(info.Features, "vram "+strings.TrimSpace(parts[1]))
	}
	if len(parts) > 2 {
		info.Features = append(info.Features, "driver "+strings.TrimSpace(parts[2]))
	}
	return info, nil
}

type rocm struct{ run runFunc }

func (rocm) Name() string { return "rocm" }

func (r rocm) Probe(ctx context.Context) (Info, error) {
	out, err := r.run(ctx, "rocm-smi", "--showproductname")
	if absent(err) {
		return Info{}, nil
	}
	if err != nil {
		return Info{}, err
	}
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := sc.Text()
		// GPU[0]		: Card series:		Radeon RX 7900 XTX
		if i := strings.Index(line, "Card series:"); i >= 0 {
			name := strings.TrimSpace(line[i+len("Card series:"):])
			if name != "" {
				return Info{Supported: true, Adapter: name, Features: []string{"rocm"}}, nil
			}
		}
	}
	return Info{}, nil
}

type metal struct {
	goos, goarch string
	run          runFunc
}

func (metal) Name() string { return "metal" }

func (m metal) Probe(ctx context.Context) (Info, error) {
	if m.goos != "darwin" || m.goarch != "arm64" {
		return Info{}, nil
	}
	info := Info{Supported: true, Adapter: "Apple Silicon", Features: []string{"metal", "unified memory"}}
	out, err := m.run(ctx, "sysctl", "-n", "machdep.cpu.brand_string")
	if err == nil {
		if name := firstLine(out); name != "" {
			info.Adapter = name
		}
	}
	return info, nil
}

func firstLine(b []byte) string {
	s := strings.TrimSpace(string(b))
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// Badge is the short label shown in the status bar.
func (i Info) Badge() string {
	if !i.Supported {
		return "CPU only"
	}
	return "GPU: " + i.Adapter
}
