package recording

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/OpenPSG/edf"
)

// edfInfo carries the header fields the edf reader keeps private.
type edfInfo struct {
	start            time.Time
	recordDuration   float64
	labels           []string
	samplesPerRecord []int
}

func loadEDF(path string, opts Options) (*Recording, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := readEDFInfo(f)
	if err != nil {
		return nil, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("error seeking to start: %w", err)
	}

	er, err := edf.Open(f)
	if err != nil {
		return nil, err
	}

	i1, err := info.signalIndex(opts.Columns.Ch1, 0)
	if err != nil {
		return nil, err
	}
	i2, err := info.signalIndex(opts.Columns.Ch2, 1)
	if err != nil {
		return nil, err
	}

	ch1, err := readEDFSignal(er, i1)
	if err != nil {
		return nil, err
	}
	ch2, err := readEDFSignal(er, i2)
	if err != nil {
		return nil, err
	}
	n := min(len(ch1), len(ch2))

	rate := opts.SampleRate
	if info.recordDuration > 0 && info.samplesPerRecord[i1] > 0 {
		rate = float64(info.samplesPerRecord[i1]) / info.recordDuration
	}
	t := make([]float64, n)
	for i := range t {
		t[i] = float64(i) / rate
	}

	clock := time.Duration(info.start.Hour())*time.Hour +
		time.Duration(info.start.Minute())*time.Minute +
		time.Duration(info.start.Second())*time.Second

	return &Recording{
		Time:       t,
		Ch1:        ch1[:n],
		Ch2:        ch2[:n],
		SampleRate: rate,
		StartClock: clock,
	}, nil
}

func readEDFSignal(er *edf.Reader, idx int) ([]float64, error) {
	sr, err := er.Signal(idx)
	if err != nil {
		return nil, fmt.Errorf("error opening signal %d: %w", idx, err)
	}
	var out []float64
	buf := make([]float64, 4096)
	for {
		n, err := sr.Read(buf)
		out = append(out, buf[:n]...)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("error reading signal %d: %w", idx, err)
		}
	}
}

// signalIndex resolves a label or a numeric index; empty or the tabular
// default names fall back to def.
func (in edfInfo) signalIndex(name string, def int) (int, error) {
	name = strings.TrimSpace(name)
	if name == "" || name == DefaultColumns.Ch1 || name == DefaultColumns.Ch2 {
		if def >= len(in.labels) {
			return 0, fmt.Errorf("%w: signal %d (file has %d)", ErrMissingColumn, def, len(in.labels))
		}
		return def, nil
	}
	for i, l := range in.labels {
		if l == name {
			return i, nil
		}
	}
	if i, err := strconv.Atoi(name); err == nil && i >= 0 && i < len(in.labels) {
		return i, nil
	}
	return 0, fmt.Errorf("%w %q (have %v)", ErrMissingColumn, name, in.labels)
}

func readEDFInfo(r io.Reader) (edfInfo, error) {
	var info edfInfo

	b := make([]byte, 256)
	if _, err := io.ReadFull(r, b); err != nil {
		return info, fmt.Errorf("error reading header: %w", err)
	}
	start, err := time.Parse("02.01.06 15.04.05", strings.TrimSpace(string(b[168:176]))+" "+strings.TrimSpace(string(b[176:184])))
	if err != nil {
		return info, fmt.Errorf("error parsing start time: %w", err)
	}
	info.start = start

	info.recordDuration, err = strconv.ParseFloat(strings.TrimSpace(string(b[244:252])), 64)
	if err != nil {
		return info, fmt.Errorf("error parsing data record duration: %w", err)
	}
	ns, err := strconv.Atoi(strings.TrimSpace(string(b[252:256])))
	if err != nil {
		return info, fmt.Errorf("error parsing signal count: %w", err)
	}

	sig := make([]byte, ns*256)
	if _, err := io.ReadFull(r, sig); err != nil {
		return info, fmt.Errorf("error reading signal headers: %w", err)
	}
	info.labels = make([]string, ns)
	info.samplesPerRecord = make([]int, ns)
	sprOffset := ns * (16 + 80 + 8 + 8 + 8 + 8 + 8 + 80)
	for i := 0; i < ns; i++ {
		info.labels[i] = strings.TrimSpace(string(sig[i*16 : (i+1)*16]))
		spr := sig[sprOffset+i*8 : sprOffset+(i+1)*8]
		info.samplesPerRecord[i], _ = strconv.Atoi(strings.TrimSpace(string(spr)))
	}
	return info, nil
}
