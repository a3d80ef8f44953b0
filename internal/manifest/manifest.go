package manifest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// FileColumn is the input manifest column holding image file names.
const FileColumn = "file_name"

// MaskColumn is the result manifest column holding generated mask names.
const MaskColumn = "mask_file_name"

// ErrNoFileColumn is returned when the input manifest lacks FileColumn.
var ErrNoFileColumn = errors.New("manifest has no " + FileColumn + " column")

// Row links a source image to its generated mask.
type Row struct {
	FileName     string
	MaskFileName string
}

// MaskFileName names the mask for the index-th (1-based) manifest entry. The
// name depends only on position, never on the source file name.
func MaskFileName(index int) string {
	return fmt.Sprintf("image_%04d_mask.png", index)
}

// DefaultOutputPath places the result manifest next to the output directory.
func DefaultOutputPath(outputDir string) string {
	return filepath.Join(filepath.Dir(filepath.Clean(outputDir)), "output.csv")
}

// ReadFile reads the file names listed in a CSV manifest.
func ReadFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	files, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return files, nil
}

// Read parses a CSV manifest with a header row and returns the FileColumn
// values in order. Cells are returned verbatim, since spaces are legal in file
// names. Rows with an empty file name are kept as-is so positions (and
// therefore mask names) stay aligned with the manifest.
func Read(r io.Reader) ([]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return nil, ErrNoFileColumn
	}
	if err != nil {
		return nil, err
	}

	col := -1
	for i, name := range header {
		// Spreadsheet exports like to prepend a BOM.
		if strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")) == FileColumn {
			col = i
			break
		}
	}
	if col == -1 {
		return nil, ErrNoFileColumn
	}

	var files []string
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if col >= len(rec) {
			files = append(files, "")
			continue
		}
		files = append(files, rec[col])
	}
	return files, nil
}

// Write emits the result manifest with a header row.
func Write(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{FileColumn, MaskColumn}); err != nil {
		return err
	}
	for _, r := range rows {
		if err := cw.Write([]string{r.FileName, r.MaskFileName}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteFile writes the result manifest to path, creating parent directories.
func WriteFile(path string, rows []Row) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Write(f, rows); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
