package output

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

type Formatter interface {
	Write(res *Result) error
	Flush() error
}

// Formats lists the names accepted by NewFormatter.
var Formats = []string{"jsonl", "csv", "text", "grep", "yaml", "table"}

// NewFormatter returns the formatter called name writing to w.
func NewFormatter(name string, w io.Writer) (Formatter, error) {
	switch strings.ToLower(name) {
	case "jsonl", "json":
		return NewJSONFormatter(w), nil
	case "csv":
		return NewCSVFormatter(w), nil
	case "", "text":
		return NewTextFormatter(w), nil
	case "grep":
		return NewGrepFormatter(w), nil
	case "yaml":
		return NewYAMLFormatter(w), nil
	case "table":
		return NewTableFormatter(w), nil
	}
	return nil, fmt.Errorf("unknown output format %q", name)
}

// Streams reports whether the format can emit records one at a time.
// Table output needs every row before it renders.
func Streams(name string) bool {
	return strings.ToLower(name) != "table"
}

// JSONFormatter writes JSONL.
type JSONFormatter struct {
	enc *json.Encoder
}

func NewJSONFormatter(w io.Writer) *JSONFormatter {
	return &JSONFormatter{enc: json.NewEncoder(w)}
}

func (f *JSONFormatter) Write(res *Result) error {
	return f.enc.Encode(res)
}

func (f *JSONFormatter) Flush() error { return nil }

// CSVFormatter writes CSV. Traceroute replies are joined the way
// traceroute.Result prints them.
type CSVFormatter struct {
	writer *csv.Writer
}

func NewCSVFormatter(w io.Writer) *CSVFormatter {
	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"timestamp", "event", "ip", "port", "proto", "status", "service", "ttl", "hop", "rtt_ms", "replies", "host", "addrs", "error"})
	return &CSVFormatter{writer: cw}
}

func (f *CSVFormatter) Write(res *Result) error {
	replies := make([]string, len(res.Replies))
	for i, r := range res.Replies {
		replies[i] = strings.Join(r, " ")
	}
	return f.writer.Write([]string{
		res.Timestamp,
		res.Event,
		res.IP,
		numOrEmpty(int64(res.Port)),
		res.Proto,
		res.Status,
		res.Service,
		numOrEmpty(int64(res.TTL)),
		numOrEmpty(int64(res.Hop)),
		numOrEmpty(res.RTTMs),
		strings.Join(replies, ", "),
		res.Host,
		strings.Join(res.Addrs, " "),
		strings.ToValidUTF8(res.Error, ""),
	})
}

func (f *CSVFormatter) Flush() error {
	f.writer.Flush()
	return f.writer.Error()
}

func numOrEmpty(n int64) string {
	if n == 0 {
		return ""
	}
	return strconv.FormatInt(n, 10)
}

// TextFormatter writes one human-readable line per record.
type TextFormatter struct {
	w io.Writer
}

func NewTextFormatter(w io.Writer) *TextFormatter {
	return &TextFormatter{w: w}
}

func (f *TextFormatter) Write(res *Result) error {
	_, err := fmt.Fprintln(f.w, textLine(res))
	return err
}

func (f *TextFormatter) Flush() error { return nil }

func textLine(res *Result) string {
	switch res.Event {
	case EventHost:
		return fmt.Sprintf("%s up ttl=%d", res.IP, res.TTL)
	case EventPort:
		return fmt.Sprintf("%s:%d/%s %s %s", res.IP, res.Port, res.Proto, res.Status, res.Service)
	case EventHop:
		return fmt.Sprintf("%s %s", res.IP, hopResult(res))
	case EventDNS:
		return dnsResult(res).String()
	}
	return res.IP
}

// GrepFormatter writes nmap-style grepable output.
type GrepFormatter struct {
	w io.Writer
}

func NewGrepFormatter(w io.Writer) *GrepFormatter {
	return &GrepFormatter{w: w}
}

func (f *GrepFormatter) Write(res *Result) error {
	var err error
	switch res.Event {
	case EventHost:
		_, err = fmt.Fprintf(f.w, "Host: %s ()\tStatus: Up\n", res.IP)
	case EventPort:
		_, err = fmt.Fprintf(f.w, "Host: %s ()\tPorts: %d/%s/%s//%s///\n",
			res.IP, res.Port, res.Status, res.Proto, res.Service)
	case EventHop:
		_, err = fmt.Fprintf(f.w, "Host: %s ()\tHop: %d\tRTT: %d\tAddr: %s\n",
			res.IP, res.Hop, res.RTTMs, strings.Join(flatten(res.Replies), ","))
	case EventDNS:
		_, err = fmt.Fprintf(f.w, "Source: %s\tKind: %s\tValue: %s\n",
			res.IP, res.Status, dnsValue(res))
	}
	return err
}

func (f *GrepFormatter) Flush() error { return nil }

func flatten(replies [][]string) []string {
	var out []string
	for _, r := range replies {
		out = append(out, r...)
	}
	return out
}

func dnsValue(res *Result) string {
	switch {
	case res.Error != "":
		return res.Error
	case res.Host != "":
		return res.Host
	}
	return strings.Join(res.Addrs, ",")
}

// YAMLFormatter writes one YAML document per record.
type YAMLFormatter struct {
	w io.Writer
}

func NewYAMLFormatter(w io.Writer) *YAMLFormatter {
	return &YAMLFormatter{w: w}
}

func (f *YAMLFormatter) Write(res *Result) error {
	b, err := yaml.Marshal(res)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(f.w, "---\n"); err != nil {
		return err
	}
	_, err = f.w.Write(b)
	return err
}

func (f *YAMLFormatter) Flush() error { return nil }

// MultiWriter supports concurrent writes.
type MultiWriter struct {
	Formatter Formatter
	mu        sync.Mutex
}

func (w *MultiWriter) Write(res *Result) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.Formatter.Write(res)
}

func (w *MultiWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.Formatter.Flush()
}
