package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"github.com/ccamacho/madison/internal/annotation"
	"github.com/ccamacho/madison/internal/store"
)

var csvHeader = []string{"first_name", "last_name", "quote", "text", "type", "created_at"}

func commentKind(c store.Annotation) string {
	if c.IsNote() {
		return "note"
	}
	return "comment"
}

// WriteCSV writes one row per comment, in input order, after the header
// row. Non-comment input is rejected before anything is written.
func WriteCSV(w io.Writer, comments []store.Annotation) error {
	for _, c := range comments {
		if !c.IsComment() {
			return annotation.InvalidRequest(fmt.Sprintf("csv export accepts comments only, got %s %s", c.Type, c.StrID))
		}
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, c := range comments {
		row := []string{
			c.User.FirstName,
			c.User.LastName,
			c.DataString("quote"),
			c.Text(),
			commentKind(c),
			c.CreatedAt.Format(time.RFC3339),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row %s: %w", c.StrID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}
