// Package cli implements the single-shot, flag-driven command line
// surface for pgheapedit: parse arguments, dispatch to one of
// list/read/update/raw_update, and report success or failure through
// the process exit code.
package cli

import (
	"encoding/base64"
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"

	"pgheapedit/pkg/schema"
	"pgheapedit/pkg/segment"
)

// Errors surfaced by Run as a non-zero exit, not expected to be
// inspected programmatically (the CLI is a thin collaborator).
var (
	ErrMissingFlags = errors.New("cli: required flags missing for this mode")
	ErrUnknownMode  = errors.New("cli: unknown --mode")
)

// Config holds the parsed command-line flags.
type Config struct {
	FilenodePath string
	Mode         string
	Page         int
	HasPage      bool
	Item         int
	HasItem      bool
	B64Data      string
	CSVData      string
	DatatypeCSV  string
}

// ParseArgs parses argv (excluding the program name) into a Config.
func ParseArgs(argv []string) (Config, error) {
	fs := flag.NewFlagSet("pgheapedit", flag.ContinueOnError)

	var cfg Config
	var pageStr, itemStr string

	fs.StringVar(&cfg.FilenodePath, "filenode-path", "", "path to the target PostgreSQL filenode")
	fs.StringVar(&cfg.FilenodePath, "f", "", "shorthand for --filenode-path")
	fs.StringVar(&cfg.Mode, "mode", "", "one of list, read, update, raw_update")
	fs.StringVar(&cfg.Mode, "m", "", "shorthand for --mode")
	fs.StringVar(&pageStr, "page", "", "index of the page to read/write")
	fs.StringVar(&pageStr, "p", "", "shorthand for --page")
	fs.StringVar(&itemStr, "item", "", "index of the item to read/write")
	fs.StringVar(&itemStr, "i", "", "shorthand for --item")
	fs.StringVar(&cfg.B64Data, "b64-data", "", "new item data, Base64-encoded (raw_update)")
	fs.StringVar(&cfg.B64Data, "b", "", "shorthand for --b64-data")
	fs.StringVar(&cfg.CSVData, "csv-data", "", "new item data, CSV-encoded (update)")
	fs.StringVar(&cfg.CSVData, "c", "", "shorthand for --csv-data")
	fs.StringVar(&cfg.DatatypeCSV, "datatype-csv", "", "column schema CSV")
	fs.StringVar(&cfg.DatatypeCSV, "d", "", "shorthand for --datatype-csv")

	if err := fs.Parse(argv); err != nil {
		return Config{}, err
	}

	if pageStr != "" {
		n, err := strconv.Atoi(pageStr)
		if err != nil {
			return Config{}, fmt.Errorf("cli: --page must be an integer: %w", err)
		}
		cfg.Page, cfg.HasPage = n, true
	}
	if itemStr != "" {
		n, err := strconv.Atoi(itemStr)
		if err != nil {
			return Config{}, fmt.Errorf("cli: --item must be an integer: %w", err)
		}
		cfg.Item, cfg.HasItem = n, true
	}

	if cfg.FilenodePath == "" {
		return Config{}, fmt.Errorf("%w: --filenode-path is required", ErrMissingFlags)
	}
	switch cfg.Mode {
	case "list", "read", "update", "raw_update":
	case "":
		return Config{}, fmt.Errorf("%w: --mode is required", ErrMissingFlags)
	default:
		return Config{}, fmt.Errorf("%w: %q", ErrUnknownMode, cfg.Mode)
	}

	return cfg, nil
}

// Run executes cfg against stdout/stderr and returns the process exit
// code: 0 on success, non-zero on any validation or core failure.
func Run(cfg Config, stdout io.Writer, errLog *log.Logger) int {
	seg, err := segment.Open(cfg.FilenodePath)
	if err != nil {
		errLog.Printf("ERROR: %v", err)
		return 1
	}

	var sch *schema.Schema
	if cfg.DatatypeCSV != "" {
		sch, err = schema.Parse(cfg.DatatypeCSV)
		if err != nil {
			errLog.Printf("ERROR: %v", err)
			return 1
		}
	} else {
		sch = schema.NewRaw()
	}

	switch cfg.Mode {
	case "list":
		return runList(seg, sch, cfg, stdout, errLog)
	case "read":
		return runRead(seg, sch, cfg, stdout, errLog)
	case "update":
		return runUpdate(seg, sch, cfg, errLog)
	case "raw_update":
		return runRawUpdate(seg, cfg, errLog)
	default:
		errLog.Printf("ERROR: %v: %q", ErrUnknownMode, cfg.Mode)
		return 1
	}
}

func runList(seg *segment.Segment, sch *schema.Schema, cfg Config, stdout io.Writer, errLog *log.Logger) int {
	pages := []int{}
	if cfg.HasPage {
		pages = append(pages, cfg.Page)
	} else {
		for i := range seg.ListPages() {
			pages = append(pages, i)
		}
	}

	for _, p := range pages {
		pg, err := seg.ListPage(p)
		if err != nil {
			errLog.Printf("ERROR: %v", err)
			return 1
		}
		fmt.Fprintf(stdout, "Page %d:\n", p)

		rows := make([][]string, 0, len(pg.Items))
		for i := range pg.Items {
			fields, err := seg.ReadFields(p, i, sch)
			if err != nil {
				errLog.Printf("ERROR: %v", err)
				return 1
			}
			row := make([]string, len(fields))
			for j, f := range fields {
				row[j] = f.String()
			}
			rows = append(rows, row)
		}
		printRows(stdout, sch, rows)
	}
	return 0
}

func runRead(seg *segment.Segment, sch *schema.Schema, cfg Config, stdout io.Writer, errLog *log.Logger) int {
	if !cfg.HasPage || !cfg.HasItem {
		errLog.Println("please provide page and item indexes via --page and --item arguments")
		return 1
	}

	fields, err := seg.ReadFields(cfg.Page, cfg.Item, sch)
	if err != nil {
		errLog.Printf("ERROR: %v", err)
		return 1
	}

	fmt.Fprintf(stdout, "Page %d:\n", cfg.Page)
	row := make([]string, len(fields))
	for j, f := range fields {
		row[j] = f.String()
	}
	printRows(stdout, sch, [][]string{row})
	return 0
}

func runUpdate(seg *segment.Segment, sch *schema.Schema, cfg Config, errLog *log.Logger) int {
	if !cfg.HasPage || !cfg.HasItem || cfg.CSVData == "" || cfg.DatatypeCSV == "" {
		errLog.Println("please provide page, item indexes, and new item data via the --page, --item, --datatype-csv and --csv-data arguments")
		return 1
	}

	values, err := parseRowCSV(cfg.CSVData)
	if err != nil {
		errLog.Printf("ERROR: %v", err)
		return 1
	}

	if err := seg.UpdateItemTyped(cfg.Page, cfg.Item, sch, values); err != nil {
		errLog.Printf("ERROR: %v", err)
		return 1
	}

	return saveNew(seg, cfg.FilenodePath, errLog)
}

func runRawUpdate(seg *segment.Segment, cfg Config, errLog *log.Logger) int {
	if !cfg.HasPage || !cfg.HasItem || cfg.B64Data == "" {
		errLog.Println("please provide page, item indexes, and new item data via the --page, --item, and --b64-data arguments")
		return 1
	}

	raw, err := base64.StdEncoding.DecodeString(cfg.B64Data)
	if err != nil {
		errLog.Printf("ERROR: %v", err)
		return 1
	}

	if err := seg.UpdateItemRaw(cfg.Page, cfg.Item, raw); err != nil {
		errLog.Printf("ERROR: %v", err)
		return 1
	}

	return saveNew(seg, cfg.FilenodePath, errLog)
}

// saveNew writes seg to path with its extension replaced by ".new".
func saveNew(seg *segment.Segment, path string, errLog *log.Logger) int {
	ext := filepath.Ext(path)
	newPath := strings.TrimSuffix(path, ext) + ".new"
	if err := seg.SaveTo(newPath); err != nil {
		errLog.Printf("ERROR: %v", err)
		return 1
	}
	return 0
}

// parseRowCSV decodes a single CSV record into its fields.
func parseRowCSV(data string) ([]string, error) {
	r := csv.NewReader(strings.NewReader(data))
	record, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("cli: malformed --csv-data: %w", err)
	}
	return record, nil
}

// printRows renders rows as an aligned table with an item_no column
// and one column per schema field, falling back to "NULL" for empty
// values.
func printRows(stdout io.Writer, sch *schema.Schema, rows [][]string) {
	w := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)

	headers := []string{"item_no"}
	if sch.Raw {
		headers = append(headers, schema.RawFieldName)
	} else {
		for _, col := range sch.Columns {
			headers = append(headers, col.Name)
		}
	}
	fmt.Fprintln(w, strings.Join(headers, "\t"))

	for i, row := range rows {
		cells := make([]string, 0, len(row)+1)
		cells = append(cells, strconv.Itoa(i))
		for _, v := range row {
			if v == "" {
				v = "NULL"
			}
			cells = append(cells, v)
		}
		fmt.Fprintln(w, strings.Join(cells, "\t"))
	}

	w.Flush()
}
