package eval

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/danielpatrickdp/beam-controller/internal/bandit"
)

// #region export
// WriteUCBInfo writes one row per context. Row 0 holds the running means of
// context 0 and every other row holds that context's UCB vector, the layout
// the plotting notebooks expect.
func WriteUCBInfo(w io.Writer, m *bandit.Model) error {
	n := m.Config().NContexts
	rows := make([][]float64, 0, n)
	for c := 0; c < n; c++ {
		if c == 0 {
			rows = append(rows, m.EstimateVector(c))
			continue
		}
		rows = append(rows, m.UpperConfidenceVector(c))
	}
	return writeMatrix(w, rows)
}

// WriteMeanInfo writes the running-mean table, one row per context.
func WriteMeanInfo(w io.Writer, m *bandit.Model) error {
	n := m.Config().NContexts
	rows := make([][]float64, 0, n)
	for c := 0; c < n; c++ {
		rows = append(rows, m.EstimateVector(c))
	}
	return writeMatrix(w, rows)
}

func writeMatrix(w io.Writer, rows [][]float64) error {
	cw := csv.NewWriter(w)
	for i, row := range rows {
		rec := make([]string, len(row))
		for j, v := range row {
			rec[j] = strconv.FormatFloat(v, 'e', 18, 64)
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write row %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// #endregion export
