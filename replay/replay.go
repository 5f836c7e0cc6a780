// Package replay drives a session from a recorded CSV script of ticks,
// candles and decision-engine instructions.
package replay

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/rustyeddy/riskbook/indicators"
	"github.com/rustyeddy/riskbook/instruction"
	"github.com/rustyeddy/riskbook/journal"
	"github.com/rustyeddy/riskbook/ledger"
	"github.com/rustyeddy/riskbook/market"
	"github.com/rustyeddy/riskbook/portfolio"
	"github.com/rustyeddy/riskbook/position"
)

// Event kinds (case-insensitive) in the third column.
const (
	KindTick        = "TICK"
	KindCandle      = "CANDLE"
	KindInstruction = "INSTRUCTION"
	KindSnapshot    = "SNAPSHOT"
)

// Options controls how replay behaves.
type Options struct {
	// MaxCandles bounds the per-symbol candle history handed to
	// invalidation checks. Zero keeps 200. Candles are rolled up to the
	// live position's invalidation timeframe before the check.
	MaxCandles int

	// Strict stops on the first rejected or unmatched instruction instead of
	// logging it and moving on.
	Strict bool

	// SnapshotEvery saves a snapshot after every n ticks. Zero disables.
	SnapshotEvery int

	// Recorder, when set, receives every committed trade and saved snapshot.
	Recorder journal.Recorder

	Logger *zerolog.Logger
}

// Stats counts what a replay did.
type Stats struct {
	Rows         int
	Ticks        int
	Candles      int
	Instructions int
	Rejected     int
	Exits        int
	Snapshots    int
}

// Clock is a settable time source. Pass Now to portfolio.WithClock so
// ledger timestamps follow the script instead of the wall clock. It reads
// the wall clock until the first row sets it and never moves backwards.
type Clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.t.IsZero() {
		return time.Now()
	}
	return c.t
}

func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.After(c.t) {
		c.t = t
	}
}

// Replayer feeds script rows into one portfolio.
type Replayer struct {
	p       *portfolio.Portfolio
	clock   *Clock
	ticks   *market.TickStore
	sets    map[string]*indicators.Set
	candles map[string]*market.CandleSet
	opts    Options
	log     zerolog.Logger
	stats   Stats
}

// New returns a replayer for p. clock may be nil when p keeps the wall
// clock.
func New(p *portfolio.Portfolio, clock *Clock, opts Options) *Replayer {
	if opts.MaxCandles <= 0 {
		opts.MaxCandles = 200
	}
	lg := log.Logger
	if opts.Logger != nil {
		lg = *opts.Logger
	}
	r := &Replayer{
		p:       p,
		clock:   clock,
		ticks:   market.NewTickStore(),
		sets:    make(map[string]*indicators.Set),
		candles: make(map[string]*market.CandleSet),
		opts:    opts,
		log:     lg.With().Str("session_id", p.ID()).Logger(),
	}
	if opts.Recorder != nil {
		p.Ledger().AddObserver(ledger.ObserverFunc(r.record))
	}
	return r
}

func (r *Replayer) record(e ledger.Event) {
	if err := r.opts.Recorder.RecordTrade(e.Trade); err != nil {
		r.log.Error().Err(err).Str("trade_id", e.Trade.ID).Msg("record trade")
	}
}

// Stats returns the counters so far.
func (r *Replayer) Stats() Stats { return r.stats }

// Ticks exposes the latest tick per symbol.
func (r *Replayer) Ticks() *market.TickStore { return r.ticks }

// CSV replays the script at path.
//
// Rows:
//
//	time,symbol,TICK,price[,atr3,atr14]
//	time,symbol,CANDLE,open,high,low,close[,volume]
//	time,symbol,INSTRUCTION,"<instruction json, quotes doubled>"
//	time,,SNAPSHOT
//
// A header row starting with "time" is skipped. Missing ATR readings are
// filled from candles seen so far.
func (r *Replayer) CSV(ctx context.Context, path string) (Stats, error) {
	f, err := os.Open(path)
	if err != nil {
		return r.stats, err
	}
	defer f.Close()
	return r.Read(ctx, f)
}

// Read replays a script from rd.
func (r *Replayer) Read(ctx context.Context, rd io.Reader) (Stats, error) {
	cr := csv.NewReader(rd)
	cr.FieldsPerRecord = -1
	cr.Comment = '#'

	line := 0
	for {
		row, err := cr.Read()
		if err == io.EOF {
			return r.stats, nil
		}
		if err != nil {
			return r.stats, err
		}
		line++
		if len(row) == 0 || (line == 1 && strings.EqualFold(strings.TrimSpace(row[0]), "time")) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return r.stats, err
		}
		if err := r.Row(ctx, row); err != nil {
			return r.stats, fmt.Errorf("row %d: %w", line, err)
		}
	}
}

// Row applies one script row.
func (r *Replayer) Row(ctx context.Context, row []string) error {
	if len(row) < 3 {
		return fmt.Errorf("bad row (need at least time,symbol,kind): %v", row)
	}
	for i := range row {
		row[i] = strings.TrimSpace(row[i])
	}
	t, err := time.Parse(time.RFC3339, row[0])
	if err != nil {
		return fmt.Errorf("bad time %q: %w", row[0], err)
	}
	if r.clock != nil {
		r.clock.Set(t)
	}
	sym := market.NormalizeSymbol(row[1])
	args := row[3:]
	r.stats.Rows++

	switch strings.ToUpper(row[2]) {
	case KindTick:
		return r.tick(ctx, t, sym, args)
	case KindCandle:
		return r.candle(ctx, t, sym, args)
	case KindInstruction:
		return r.instruction(ctx, sym, args)
	case KindSnapshot:
		return r.snapshot(ctx)
	default:
		return fmt.Errorf("unknown event %q", row[2])
	}
}

func (r *Replayer) tick(ctx context.Context, t time.Time, sym string, args []string) error {
	if sym == "" {
		return fmt.Errorf("TICK: symbol is empty")
	}
	nums, err := parseFloats(args, 1, "price", "atr3", "atr14")
	if err != nil {
		return fmt.Errorf("TICK: %w", err)
	}
	tick := market.Tick{Symbol: sym, Time: t, Price: nums[0]}
	if len(nums) > 1 {
		tick.ATR3 = nums[1]
	}
	if len(nums) > 2 {
		tick.ATR14 = nums[2]
	}
	if set, ok := r.sets[sym]; ok {
		set.Apply(&tick)
	}
	r.ticks.Set(tick)
	r.stats.Ticks++

	exits, err := r.p.MarkToMarket(ctx, map[string]float64{sym: tick.Price})
	r.stats.Exits += len(exits)
	if err != nil {
		return fmt.Errorf("TICK %s: %w", sym, err)
	}
	if r.opts.SnapshotEvery > 0 && r.stats.Ticks%r.opts.SnapshotEvery == 0 {
		return r.snapshot(ctx)
	}
	return nil
}

func (r *Replayer) candle(ctx context.Context, t time.Time, sym string, args []string) error {
	if sym == "" {
		return fmt.Errorf("CANDLE: symbol is empty")
	}
	nums, err := parseFloats(args, 4, "open", "high", "low", "close", "volume")
	if err != nil {
		return fmt.Errorf("CANDLE: %w", err)
	}
	c := market.Candle{Time: t, Open: nums[0], High: nums[1], Low: nums[2], Close: nums[3]}
	if len(nums) == 5 {
		c.Volume = nums[4]
	}
	if c.High < c.Low {
		return fmt.Errorf("CANDLE: high %v below low %v", c.High, c.Low)
	}

	set, ok := r.sets[sym]
	if !ok {
		set = indicators.NewSet()
		r.sets[sym] = set
	}
	set.Update(c)

	cs, ok := r.candles[sym]
	if !ok {
		cs = market.NewCandleSet(sym, 0, r.opts.MaxCandles)
		r.candles[sym] = cs
	}
	if err := cs.Add(c); err != nil {
		return fmt.Errorf("CANDLE: %w", err)
	}
	r.stats.Candles++

	pos, err := r.p.Ledger().Position(sym)
	if err != nil {
		return nil // nothing live to invalidate
	}
	hist := cs.Aggregate(position.Timeframes[pos.Invalidation.Timeframe], 1)
	closed, err := r.p.CheckInvalidations(ctx, map[string][]market.Candle{sym: hist})
	r.stats.Exits += len(closed)
	if err != nil {
		return fmt.Errorf("CANDLE %s: %w", sym, err)
	}
	return nil
}

func (r *Replayer) instruction(ctx context.Context, sym string, args []string) error {
	if len(args) == 0 || args[0] == "" {
		return fmt.Errorf("INSTRUCTION: missing json")
	}
	in, err := instruction.Decode([]byte(args[0]))
	if err != nil {
		return fmt.Errorf("INSTRUCTION: %w", err)
	}
	r.stats.Instructions++
	if in.Kind() == instruction.KindHold {
		return nil
	}

	h := in.Header()
	if sym != "" && sym != h.Symbol {
		return fmt.Errorf("INSTRUCTION: row symbol %s but instruction is for %s: %w", sym, h.Symbol, position.ErrInvalidInput)
	}
	tick, err := r.ticks.Get(h.Symbol)
	if err != nil {
		return fmt.Errorf("INSTRUCTION %s: %w", h.Symbol, err)
	}

	res, err := r.p.Execute(ctx, in, tick)
	switch {
	case err == nil:
		r.log.Debug().Str("symbol", res.Symbol).Str("kind", string(res.Kind)).Msg("instruction applied")
		return nil
	case !r.opts.Strict && (portfolio.IsRejection(err) || errors.Is(err, position.ErrNotFound)):
		r.stats.Rejected++
		r.log.Info().Err(err).Str("symbol", h.Symbol).Str("kind", string(in.Kind())).Msg("instruction skipped")
		return nil
	default:
		return fmt.Errorf("INSTRUCTION %s: %w", h.Symbol, err)
	}
}

func (r *Replayer) snapshot(ctx context.Context) error {
	snap, err := r.p.SaveSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("SNAPSHOT: %w", err)
	}
	r.stats.Snapshots++
	if r.opts.Recorder != nil {
		if err := r.opts.Recorder.RecordSnapshot(snap); err != nil {
			return fmt.Errorf("SNAPSHOT: record: %w", err)
		}
	}
	return nil
}

// parseFloats reads at least min and at most len(names) numbers from args.
// Trailing empty columns are ignored.
func parseFloats(args []string, min int, names ...string) ([]float64, error) {
	for len(args) > 0 && args[len(args)-1] == "" {
		args = args[:len(args)-1]
	}
	if len(args) < min {
		return nil, fmt.Errorf("need %s", strings.Join(names[:min], ","))
	}
	if len(args) > len(names) {
		args = args[:len(names)]
	}
	out := make([]float64, len(args))
	for i, a := range args {
		v, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return nil, fmt.Errorf("bad %s %q: %w", names[i], a, err)
		}
		out[i] = v
	}
	return out, nil
}
