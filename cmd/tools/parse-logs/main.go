// Command parse-logs extracts the distance records from a companion log,
// prints a summary and optionally renders them as an HTML or PNG chart.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/banshee-data/companion/internal/logscan"
	"github.com/banshee-data/companion/internal/security"
)

var (
	htmlOut = flag.String("html", "", "Write an interactive chart to this HTML file")
	pngOut  = flag.String("png", "", "Write a static chart to this PNG file")
	head    = flag.Int("head", 20, "Number of readings to print")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] <logfile>\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	path := flag.Arg(0)
	for _, out := range []string{*htmlOut, *pngOut} {
		if out == "" {
			continue
		}
		if err := security.ValidateOutputPath(out, filepath.Dir(path)); err != nil {
			log.Fatalf("refusing to write chart: %v", err)
		}
	}

	records, err := logscan.ExtractFile(path)
	if err != nil {
		log.Fatalf("failed to read %s: %v", path, err)
	}
	report(os.Stdout, records, *head)

	title := filepath.Base(path)
	if *htmlOut != "" {
		if err := writeHTMLFile(*htmlOut, records, title); err != nil {
			log.Fatalf("failed to write HTML chart: %v", err)
		}
		log.Printf("wrote %s", *htmlOut)
	}
	if *pngOut != "" {
		if err := logscan.SavePNG(*pngOut, records, title); err != nil {
			log.Fatalf("failed to write PNG chart: %v", err)
		}
		log.Printf("wrote %s", *pngOut)
	}
}

func report(w io.Writer, records []logscan.Record, n int) {
	fmt.Fprintf(w, "Extracted %d distance readings\n", len(records))
	if n > len(records) {
		n = len(records)
	}
	for _, r := range records[:max(n, 0)] {
		fmt.Fprintf(w, "  line %d: %s\n", r.Line, r.Reading)
	}
	if len(records) > 0 {
		fmt.Fprintln(w, logscan.Summarize(records))
	}
}

func writeHTMLFile(path string, records []logscan.Record, title string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := logscan.WriteHTML(f, records, title); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
