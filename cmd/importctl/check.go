package main

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"schedule-import-db/internal/config"
	"schedule-import-db/internal/excel"
	"schedule-import-db/internal/importer"
	"schedule-import-db/internal/logger"
	"schedule-import-db/internal/pull"
	"schedule-import-db/internal/submit"
)

type checkOptions struct {
	entity       string
	file         string
	existing     []string
	existingFile string
	remote       bool
	timezone     string
	today        string
	report       string
	maxRows      int
	onlyErrors   bool
}

func newCheckCmd() *cobra.Command {
	var opts checkOptions

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate a workbook and print a per-row report",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.entity, "entity", "e", "", "Entity type (required)")
	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "Workbook to validate (required)")
	cmd.Flags().StringSliceVar(&opts.existing, "existing", nil, "Primary keys that already exist")
	cmd.Flags().StringVar(&opts.existingFile, "existing-file", "", "File with one existing primary key per line")
	cmd.Flags().BoolVar(&opts.remote, "remote", false, "Load existing keys from the backend named in the config")
	cmd.Flags().StringVar(&opts.timezone, "timezone", config.DefaultTimezone, "Timezone that defines today")
	cmd.Flags().StringVar(&opts.today, "today", "", "Reference date (YYYY-MM-DD), defaults to now")
	cmd.Flags().StringVar(&opts.report, "report", "", "Write an annotated workbook to this path")
	cmd.Flags().IntVar(&opts.maxRows, "max-rows", 0, "Reject workbooks with more data rows (0 means no limit)")
	cmd.Flags().BoolVar(&opts.onlyErrors, "only-errors", false, "Print rejected rows only")

	_ = cmd.MarkFlagRequired("entity")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func runCheck(cmd *cobra.Command, opts checkOptions) error {
	log := logger.Component("importctl")

	rules, ok := importer.Lookup(opts.entity)
	if !ok {
		return withCode(exitUsage, fmt.Errorf("unknown entity %q, expected one of %s",
			opts.entity, strings.Join(importer.Entities(), ", ")))
	}

	now, err := referenceTime(opts.today, opts.timezone)
	if err != nil {
		return withCode(exitUsage, err)
	}

	data, err := os.ReadFile(opts.file)
	if err != nil {
		return withCode(exitUsage, fmt.Errorf("failed to read workbook: %w", err))
	}

	existing, err := loadExisting(cmd, rules, opts)
	if err != nil {
		return err
	}
	log.Debug().
		Str("entity", rules.Entity).
		Int("existing", existing.Len(rules.PrimaryKey)).
		Time("today", now).
		Msg("Checking workbook")

	strategy := excel.NewExcelStrategy(opts.maxRows, func() time.Time { return now })
	records, err := strategy.Process(cmd.Context(), rules, data, existing)
	if err != nil {
		return withCode(exitRejected, err)
	}

	out := cmd.OutOrStdout()
	renderRecords(out, rules, records, opts.onlyErrors)
	summary := importer.Summarize(records)
	renderSummary(out, summary)

	if opts.report != "" {
		report, err := excel.WriteReport(rules, records)
		if err != nil {
			return err
		}
		if err := os.WriteFile(opts.report, report, 0o644); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
		fmt.Fprintf(out, "Report written to %s\n", opts.report)
	}

	if summary.Rejected > 0 {
		return withCode(exitRejected, fmt.Errorf("%d of %d rows rejected", summary.Rejected, summary.Total))
	}
	return nil
}

// referenceTime resolves the validation clock. An explicit day is taken as
// noon in the zone so that conversions never cross a date boundary.
func referenceTime(day, timezone string) (time.Time, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --timezone %q: %w", timezone, err)
	}
	if day == "" {
		return time.Now().In(loc), nil
	}
	t, err := time.ParseInLocation("2006-01-02", day, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --today %q: %w", day, err)
	}
	return t.Add(12 * time.Hour), nil
}

func loadExisting(cmd *cobra.Command, rules *importer.RuleSet, opts checkOptions) (*importer.KeySet, error) {
	set := importer.NewKeySet()

	if opts.remote {
		cfg, err := config.Load()
		if err != nil {
			return nil, withCode(exitUsage, err)
		}
		remote, err := pull.NewService(cfg, submit.NewAuthManager(cfg)).ExistingSet(cmd.Context(), rules)
		if err != nil {
			return nil, fmt.Errorf("failed to load existing %s: %w", rules.Resource, err)
		}
		set = remote
	}

	for _, key := range opts.existing {
		set.Add(rules.PrimaryKey, key)
	}

	if opts.existingFile != "" {
		f, err := os.Open(opts.existingFile)
		if err != nil {
			return nil, withCode(exitUsage, fmt.Errorf("failed to open --existing-file: %w", err))
		}
		defer f.Close()
		if err := readKeys(f, rules.PrimaryKey, set); err != nil {
			return nil, err
		}
	}
	return set, nil
}

// readKeys adds one key per non-blank line. Lines starting with # are skipped.
func readKeys(r io.Reader, field string, set *importer.KeySet) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		set.Add(field, line)
	}
	return scanner.Err()
}

func renderRecords(w io.Writer, rules *importer.RuleSet, records []importer.Record, onlyErrors bool) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Row", rules.PrimaryKey, "Status", "Errors"})
	table.SetAutoWrapText(false)

	for _, rec := range records {
		if onlyErrors && rec.Valid() {
			continue
		}
		status := color.GreenString("OK")
		if !rec.Valid() {
			status = color.RedString("REJECTED")
		}
		table.Append([]string{
			strconv.Itoa(rec.RowIndex),
			rec.Get(rules.PrimaryKey),
			status,
			importer.DescribeLine(rules, rec),
		})
	}

	table.Render()
}

func renderSummary(w io.Writer, s importer.Summary) {
	line := fmt.Sprintf("%d rows: %d accepted, %d rejected", s.Total, s.Accepted, s.Rejected)
	if s.Rejected == 0 {
		fmt.Fprintln(w, color.GreenString(line))
		return
	}
	fmt.Fprintln(w, color.YellowString(line))
	fmt.Fprintln(w, formatCodeCounts(s.ByCode))
}

func formatCodeCounts(byCode map[importer.ErrorCode]int) string {
	codes := make([]string, 0, len(byCode))
	for code := range byCode {
		codes = append(codes, string(code))
	}
	sort.Strings(codes)

	var buf bytes.Buffer
	for i, code := range codes {
		if i > 0 {
			buf.WriteString(", ")
		}
		fmt.Fprintf(&buf, "%s=%d", code, byCode[importer.ErrorCode(code)])
	}
	return buf.String()
}
