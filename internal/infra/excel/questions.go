package excel

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"wedding-quiz-service/internal/domain"
)

// Column layout of a question bank sheet. The first row is a header.
// Penalty and bonus columns are optional; a positive value enables the rule.
const (
	colOrder = iota
	colText
	colA
	colB
	colC
	colD
	colCorrect
	colPoints
	colTimeLimit
	colPenalty
	colTimeoutPenalty
	colMaxBonus

	requiredColumns = colCorrect + 1
)

// Defaults fill cells left empty in the sheet.
type Defaults struct {
	Points    int
	TimeLimit int
}

// RowError reports a row that was skipped.
type RowError struct {
	Row int
	Err error
}

func (e RowError) Error() string { return fmt.Sprintf("row %d: %v", e.Row, e.Err) }

// ReadQuestions parses the first sheet of an .xlsx question bank. Malformed
// rows are skipped and reported; the returned error is only for unreadable files.
func ReadQuestions(r io.Reader, defaults Defaults) ([]domain.Question, []RowError, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil, fmt.Errorf("workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, nil, fmt.Errorf("read sheet %s: %w", sheets[0], err)
	}

	var (
		questions []domain.Question
		skipped   []RowError
	)
	for i, row := range rows {
		if i == 0 || blank(row) {
			continue
		}
		q, err := parseRow(row, defaults)
		if err != nil {
			skipped = append(skipped, RowError{Row: i + 1, Err: err})
			continue
		}
		questions = append(questions, q)
	}
	return questions, skipped, nil
}

func parseRow(row []string, defaults Defaults) (domain.Question, error) {
	if len(row) < requiredColumns {
		return domain.Question{}, fmt.Errorf("expected at least %d columns, got %d", requiredColumns, len(row))
	}
	cell := func(i int) string {
		if i < len(row) {
			return strings.TrimSpace(row[i])
		}
		return ""
	}

	order, err := intCell(cell(colOrder), 0)
	if err != nil {
		return domain.Question{}, fmt.Errorf("display_order: %w", err)
	}
	correct, err := domain.ParseChoice(cell(colCorrect))
	if err != nil {
		return domain.Question{}, fmt.Errorf("correct: %w", err)
	}
	q := domain.Question{
		DisplayOrder:  order,
		IsActive:      true,
		Text:          cell(colText),
		Options:       [4]string{cell(colA), cell(colB), cell(colC), cell(colD)},
		CorrectAnswer: correct,
	}
	if q.Text == "" {
		return domain.Question{}, fmt.Errorf("question text is empty")
	}
	for i, opt := range q.Options {
		if opt == "" {
			return domain.Question{}, fmt.Errorf("option %c is empty", 'A'+i)
		}
	}

	ints := []struct {
		name string
		col  int
		def  int
		dst  *int
	}{
		{"points", colPoints, defaults.Points, &q.Points},
		{"time_limit", colTimeLimit, defaults.TimeLimit, &q.TimeLimit},
		{"penalty", colPenalty, 0, &q.PenaltyScore},
		{"timeout_penalty", colTimeoutPenalty, 0, &q.TimeoutPenaltyScore},
		{"max_bonus", colMaxBonus, 0, &q.MaxBonusPoints},
	}
	for _, c := range ints {
		v, err := intCell(cell(c.col), c.def)
		if err != nil {
			return domain.Question{}, fmt.Errorf("%s: %w", c.name, err)
		}
		if v < 0 {
			return domain.Question{}, fmt.Errorf("%s must not be negative", c.name)
		}
		*c.dst = v
	}
	q.PenaltyEnabled = q.PenaltyScore > 0
	q.TimeoutPenaltyEnabled = q.TimeoutPenaltyScore > 0
	q.SpeedBonusEnabled = q.MaxBonusPoints > 0
	return q, nil
}

func intCell(raw string, fallback int) (int, error) {
	if raw == "" {
		return fallback, nil
	}
	// Numeric cells may come back formatted as "3.0".
	if f, err := strconv.ParseFloat(raw, 64); err == nil && f == float64(int(f)) {
		return int(f), nil
	}
	return 0, fmt.Errorf("not an integer: %q", raw)
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
