package excel

import (
	"context"
	"time"

	"schedule-import-db/internal/importer"
)

type ParsingStrategy interface {
	Parse(ctx context.Context, data []byte) (*importer.Sheet, error)
	Process(ctx context.Context, rules *importer.RuleSet, data []byte, existing importer.ExistingSet) ([]importer.Record, error)
}

type ExcelStrategy struct {
	parser *Parser
	clock  func() time.Time
}

// NewExcelStrategy builds a strategy whose date rules are evaluated against
// clock() at the start of each Process call.
func NewExcelStrategy(maxRows int, clock func() time.Time) ParsingStrategy {
	if clock == nil {
		clock = time.Now
	}
	return &ExcelStrategy{
		parser: NewParser(maxRows),
		clock:  clock,
	}
}

func (s *ExcelStrategy) Parse(ctx context.Context, data []byte) (*importer.Sheet, error) {
	return s.parser.Parse(ctx, data)
}

func (s *ExcelStrategy) Process(ctx context.Context, rules *importer.RuleSet, data []byte, existing importer.ExistingSet) ([]importer.Record, error) {
	sheet, err := s.parser.Parse(ctx, data)
	if err != nil {
		return nil, err
	}
	return importer.NewReconciler(rules, s.clock()).Reconcile(sheet, existing)
}
