// Package report renders the benchmark's two output formats: the
// human-readable percentile tables written during the run and at the end,
// and the single JSON document emitted when a JSON output path is
// configured.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/masoncl/schbench/internal/histogram"
)

// Percentile display masks: which of the five resolved percentiles a given
// table should print, and which one gets the "this is the headline number"
// marker.
const (
	List20 = 1 << iota
	List50
	List90
	List99
	List999

	ForLat = List50 | List90 | List99 | List999
	ForRPS = List20 | List50 | List90
)

var targets = []float64{20.0, 50.0, 90.0, 99.0, 99.9}

// WriteLatencies writes one percentile table to w: a header line naming the
// label, units, elapsed runtime and sample count, one line per percentile
// selected by mask (star marks the headline percentile with "* "), and a
// trailing min/max line. Writes nothing but the min/max line if the
// histogram has no samples yet.
func WriteLatencies(w io.Writer, label, units string, runtimeSec uint64, s *histogram.Stats, mask, star int) {
	rows := s.Percentiles(targets)
	if rows != nil {
		fmt.Fprintf(w, "%s percentiles (%s) runtime %d (s) (%d total samples)\n",
			label, units, runtimeSec, s.NrSamples)
		for i, row := range rows {
			bit := 1 << i
			if mask&bit == 0 {
				continue
			}
			marker := "  "
			if bit == star {
				marker = "* "
			}
			fmt.Fprintf(w, "\t%s%2.1fth: %-10d (%d samples)\n",
				marker, row.Target, row.Value, row.Cumulative)
		}
	}
	fmt.Fprintf(w, "\t  min=%d, max=%d\n", s.Min, s.Max)
}

// statsJSON returns the flat set of "<label>_pct<N>", "<label>_min" and
// "<label>_max" fields write_json_stats produces for one histogram, or nil
// if it has no samples.
func statsJSON(s *histogram.Stats, label string) map[string]any {
	rows := s.Percentiles(targets)
	if rows == nil {
		return nil
	}
	out := make(map[string]any, len(rows)+2)
	for _, row := range rows {
		out[fmt.Sprintf("%s_pct%.1f", label, row.Target)] = row.Value
	}
	out[label+"_min"] = s.Min
	out[label+"_max"] = s.Max
	return out
}

// Header is the JSON document's "normal" section: run identification.
type Header struct {
	Version  string `json:"version"`
	Jobname  string `json:"jobname,omitempty"`
	Hostname string `json:"hostname"`
	SchedExt string `json:"sched_ext"`
	Cmdline  string `json:"cmdline"`
}

// Document is the complete JSON report: identification plus every
// histogram's percentile fields merged into one flat "int" object, the way
// the original tool's single-file JSON output does.
type Document struct {
	Normal Header         `json:"normal"`
	Int    map[string]any `json:"int"`
}

// BuildHeader gathers the identification fields for the JSON document's
// "normal" section: kernel release via uname, hostname, the sched_ext
// scheduler name (or "disabled"), and jobname/cmdline as configured.
func BuildHeader(jobname string, args []string) Header {
	h := Header{Jobname: jobname, SchedExt: "disabled", Cmdline: joinArgs(args)}

	var u unix.Utsname
	if err := unix.Uname(&u); err == nil {
		h.Version = cstring(u.Release[:])
	}

	if name, err := os.Hostname(); err == nil {
		h.Hostname = name
	}

	if s := schedExtName(); s != "" {
		h.SchedExt = s
	}

	return h
}

func joinArgs(args []string) string {
	out := ""
	for i, a := range args {
		if i > 0 {
			out += " "
		}
		out += a
	}
	return out
}

func cstring(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// schedExtName is a best-effort read of the active sched_ext scheduler's
// name from /sys/kernel/sched_ext/root/ops; see topology.SchedExtState for
// the sibling read of the debug state used at startup logging.
func schedExtName() string {
	b, err := os.ReadFile("/sys/kernel/sched_ext/root/ops")
	if err != nil || len(b) == 0 {
		return ""
	}
	return string(b)
}

// BuildDocument assembles the final JSON document from the three
// aggregated histograms. rpsStats is omitted entirely in pipe mode, as the
// rate concept does not apply there.
func BuildDocument(header Header, wakeup, request, rpsStats *histogram.Stats, pipeMode bool, runtimeSec uint64) Document {
	ints := map[string]any{
		"time":    time.Now().Unix(),
		"runtime": runtimeSec,
	}
	for k, v := range statsJSON(wakeup, "wakeup_latency") {
		ints[k] = v
	}
	if !pipeMode {
		for k, v := range statsJSON(request, "request_latency") {
			ints[k] = v
		}
		for k, v := range statsJSON(rpsStats, "rps") {
			ints[k] = v
		}
	}
	return Document{Normal: header, Int: ints}
}

// WriteJSON marshals doc to w as a single JSON document.
func WriteJSON(w io.Writer, doc Document) error {
	enc := json.NewEncoder(w)
	return enc.Encode(doc)
}

// sizeUnits is pretty_size's divisor ladder.
var sizeUnits = []string{"B", "KB", "MB", "GB", "TB", "PB", "EB"}

// PrettySize divides number by 1024 until it fits one digit group or the
// unit ladder runs out, returning the scaled value and its unit suffix.
func PrettySize(number float64) (float64, string) {
	divs := 0
	for number >= 1024 && divs < len(sizeUnits)-1 {
		divs++
		number /= 1024
	}
	return number, sizeUnits[divs]
}
