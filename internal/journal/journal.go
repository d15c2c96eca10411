// Package journal implements the append-only CSV trade journal: one open
// row per order, updated in place (idempotently, keyed by order id) when
// the position closes. The CSV file is the only durable trade record.
package journal

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/eddiefleurent/nifty-breakout-engine/internal/models"
)

// columns is the on-disk column order. Readers must tolerate additional
// trailing columns appended by a future version; this writer never emits
// more than these.
var columns = []string{
	"timestamp", "symbol", "tradingsymbol", "strike", "direction", "order_id",
	"entry", "sl", "tp", "exit", "pnl", "status",
	"pre_reason", "post_outcome", "quantity",
}

// Journal is a single-writer CSV trade log.
type Journal struct {
	mu   sync.Mutex
	path string
}

// Open ensures path exists with the correct header and returns a Journal
// bound to it.
func Open(path string) (*Journal, error) {
	j := &Journal{path: path}
	if err := j.ensureHeader(); err != nil {
		return nil, err
	}
	return j, nil
}

func (j *Journal) ensureHeader() error {
	if _, err := os.Stat(j.path); err == nil {
		return j.migrateHeader()
	} else if !os.IsNotExist(err) {
		return err
	}
	if dir := filepath.Dir(j.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.Create(j.path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := csv.NewWriter(f)
	if err := w.Write(columns); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

// migrateHeader rewrites the file to append any missing columns this version
// expects, preserving existing rows, so older journals keep loading.
func (j *Journal) migrateHeader() error {
	rows, header, err := j.readAll()
	if err != nil {
		return err
	}
	missing := false
	have := make(map[string]bool, len(header))
	for _, h := range header {
		have[h] = true
	}
	for _, c := range columns {
		if !have[c] {
			missing = true
		}
	}
	if !missing {
		return nil
	}
	return j.rewrite(header, rows)
}

// Entry is one trade journal row, one field per CSV column; numeric
// fields are strings on disk to allow blanks for not-yet-known values.
type Entry struct {
	Timestamp     time.Time
	Symbol        string
	Tradingsymbol string
	Strike        int
	Direction     string
	OrderID       string
	Entry         float64
	SL            float64
	TP            float64
	Exit          *float64
	PnL           *float64
	Status        models.TradeStatus
	PreReason     string
	PostOutcome   string
	Quantity      int
}

func (e Entry) toRow() []string {
	fmtF := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	exit, pnl := "", ""
	if e.Exit != nil {
		exit = fmtF(*e.Exit)
	}
	if e.PnL != nil {
		pnl = fmtF(*e.PnL)
	}
	return []string{
		e.Timestamp.Format(time.RFC3339),
		e.Symbol,
		e.Tradingsymbol,
		strconv.Itoa(e.Strike),
		e.Direction,
		e.OrderID,
		fmtF(e.Entry),
		fmtF(e.SL),
		fmtF(e.TP),
		exit,
		pnl,
		string(e.Status),
		e.PreReason,
		e.PostOutcome,
		strconv.Itoa(e.Quantity),
	}
}

// Append writes a new trade entry row.
func (j *Journal) Append(e Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	f, err := os.OpenFile(j.path, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	w := csv.NewWriter(f)
	if err := w.Write(e.toRow()); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

// UpdateExit idempotently sets exit/pnl/status/post_outcome on the row
// matching orderID. A second call with the same terminal values is a no-op
// in effect (the row is simply rewritten with the same data).
func (j *Journal) UpdateExit(orderID string, exitPrice, pnl float64, outcome string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, header, err := j.readAll()
	if err != nil {
		return err
	}
	idx := colIndex(header)
	found := false
	for _, row := range rows {
		if row[idx["order_id"]] == orderID {
			row[idx["exit"]] = strconv.FormatFloat(exitPrice, 'f', -1, 64)
			row[idx["pnl"]] = strconv.FormatFloat(pnl, 'f', -1, 64)
			row[idx["status"]] = string(models.TradeStatusClosed)
			row[idx["post_outcome"]] = outcome
			found = true
		}
	}
	if !found {
		return fmt.Errorf("journal: no entry with order_id %q", orderID)
	}
	return j.rewrite(header, rows)
}

func colIndex(header []string) map[string]int {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[h] = i
	}
	return idx
}

func (j *Journal) readAll() (rows [][]string, header []string, err error) {
	f, err := os.Open(j.path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	r := csv.NewReader(f)
	r.FieldsPerRecord = -1 // tolerate trailing columns from newer/older versions
	records, err := r.ReadAll()
	if err != nil {
		return nil, nil, err
	}
	if len(records) == 0 {
		return nil, columns, nil
	}
	return records[1:], records[0], nil
}

func (j *Journal) rewrite(header []string, rows [][]string) error {
	tmp := j.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	fullHeader := mergeColumns(header)
	if err := w.Write(fullHeader); err != nil {
		f.Close()
		return err
	}
	for _, row := range rows {
		padded := padRow(row, len(fullHeader))
		if err := w.Write(padded); err != nil {
			f.Close()
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, j.path)
}

// mergeColumns appends any of the current version's columns missing from an
// older header, preserving the older header's existing order and any extra
// trailing columns it already carries.
func mergeColumns(header []string) []string {
	have := make(map[string]bool, len(header))
	for _, h := range header {
		have[h] = true
	}
	out := append([]string(nil), header...)
	for _, c := range columns {
		if !have[c] {
			out = append(out, c)
		}
	}
	return out
}

func padRow(row []string, n int) []string {
	if len(row) >= n {
		return row
	}
	out := make([]string, n)
	copy(out, row)
	return out
}

// AllEntries reads every row back into Entry structs, tolerant of extra
// trailing columns.
func (j *Journal) AllEntries() ([]Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	rows, header, err := j.readAll()
	if err != nil {
		return nil, err
	}
	idx := colIndex(header)
	out := make([]Entry, 0, len(rows))
	for _, row := range rows {
		e, err := parseRow(row, idx)
		if err != nil {
			continue // skip malformed rows rather than fail the whole read
		}
		out = append(out, e)
	}
	return out, nil
}

func parseRow(row []string, idx map[string]int) (Entry, error) {
	get := func(col string) string {
		if i, ok := idx[col]; ok && i < len(row) {
			return row[i]
		}
		return ""
	}
	ts, err := time.Parse(time.RFC3339, get("timestamp"))
	if err != nil {
		return Entry{}, err
	}
	strike, _ := strconv.Atoi(get("strike"))
	entry, _ := strconv.ParseFloat(get("entry"), 64)
	sl, _ := strconv.ParseFloat(get("sl"), 64)
	tp, _ := strconv.ParseFloat(get("tp"), 64)
	qty, _ := strconv.Atoi(get("quantity"))

	e := Entry{
		Timestamp:     ts,
		Symbol:        get("symbol"),
		Tradingsymbol: get("tradingsymbol"),
		Strike:        strike,
		Direction:     get("direction"),
		OrderID:       get("order_id"),
		Entry:         entry,
		SL:            sl,
		TP:            tp,
		Status:        models.TradeStatus(get("status")),
		PreReason:     get("pre_reason"),
		PostOutcome:   get("post_outcome"),
		Quantity:      qty,
	}
	if v := get("exit"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			e.Exit = &f
		}
	}
	if v := get("pnl"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			e.PnL = &f
		}
	}
	return e, nil
}

// OpenTrades returns entries whose status is open.
func (j *Journal) OpenTrades() ([]Entry, error) {
	all, err := j.AllEntries()
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, e := range all {
		if e.Status == models.TradeStatusOpen {
			out = append(out, e)
		}
	}
	return out, nil
}

// Stats summarizes closed-trade performance, mirroring the original's
// get_trade_stats aggregate.
type Stats struct {
	TotalTrades   int
	WinningTrades int
	LosingTrades  int
	TotalPnL      float64
	WinRate       float64
	AvgWin        float64
	AvgLoss       float64
}

// ComputeStats aggregates closed trades from the journal.
func (j *Journal) ComputeStats() (Stats, error) {
	all, err := j.AllEntries()
	if err != nil {
		return Stats{}, err
	}
	var s Stats
	var winSum, lossSum float64
	for _, e := range all {
		if e.Status != models.TradeStatusClosed || e.PnL == nil {
			continue
		}
		s.TotalTrades++
		if *e.PnL > 0 {
			s.WinningTrades++
			winSum += *e.PnL
		} else if *e.PnL < 0 {
			s.LosingTrades++
			lossSum += *e.PnL
		}
		s.TotalPnL += *e.PnL
	}
	if s.TotalTrades > 0 {
		s.WinRate = float64(s.WinningTrades) / float64(s.TotalTrades) * 100
	}
	if s.WinningTrades > 0 {
		s.AvgWin = winSum / float64(s.WinningTrades)
	}
	if s.LosingTrades > 0 {
		s.AvgLoss = lossSum / float64(s.LosingTrades)
	}
	return s, nil
}
