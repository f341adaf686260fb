package main

import (
	"context"
	"encoding/csv"
	"io"
	"log/slog"
	"math/bits"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/kart-shop/internal/domain/coupon"
)

const (
	bloomCapacity = 1_000_000
	bloomFPR      = 0.001
	maxFiles      = bits.UintSize
	progressEvery = 100_000
)

var columns = []string{"code", "type", "value", "min_purchase", "max_discount", "max_uses", "valid_until"}

// scanResult is the outcome of reading every coupon file.
type scanResult struct {
	Rules      []coupon.Rule
	Duplicates []string
	Invalid    int
}

// fileScan holds the rules parsed from one file and the codes that one of
// the other files' bloom filters claims to contain.
type fileScan struct {
	rules      []coupon.Rule
	candidates map[string]uint
	invalid    int
}

// scan reads files twice. Pass 1 builds a bloom filter of codes per file;
// pass 2 parses rows and flags codes another file's filter reports. Flagged
// codes seen in two or more files are dropped from the result.
func scan(ctx context.Context, files []string) (*scanResult, error) {
	slog.Info("pass 1: building bloom filters", slog.Int("files", len(files)))

	filters := make([]*bloom.BloomFilter, len(files))
	g, gctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			filter := bloom.NewWithEstimates(bloomCapacity, bloomFPR)
			n, err := streamRecords(gctx, path, func(rec []string) {
				filter.AddString(normalizeCode(rec[0]))
			})
			if err != nil {
				return errors.Wrapf(err, "build filter for %s", path)
			}
			slog.Info("pass 1 complete", slog.String("file", path), slog.Int("rows", n))
			filters[i] = filter
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	slog.Info("pass 2: parsing rules")

	scans := make([]fileScan, len(files))
	g, gctx = errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			fs := fileScan{candidates: make(map[string]uint)}
			fileBit := uint(1) << uint(i)
			_, err := streamRecords(gctx, path, func(rec []string) {
				rule, err := parseRecord(rec)
				if err != nil {
					fs.invalid++
					slog.Warn("invalid row", slog.String("file", path), slog.String("error", err.Error()))
					return
				}
				fs.rules = append(fs.rules, rule)
				for j, f := range filters {
					if j != i && f.TestString(rule.Code) {
						fs.candidates[rule.Code] |= fileBit
						break
					}
				}
			})
			if err != nil {
				return errors.Wrapf(err, "parse %s", path)
			}
			slog.Info("pass 2 complete",
				slog.String("file", path),
				slog.Int("rules", len(fs.rules)),
				slog.Int("candidates", len(fs.candidates)),
			)
			scans[i] = fs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Bloom hits are only candidates; a code is a duplicate when it was
	// flagged in at least two files.
	merged := make(map[string]uint)
	for _, fs := range scans {
		for code, mask := range fs.candidates {
			merged[code] |= mask
		}
	}
	res := &scanResult{}
	for code, mask := range merged {
		if bits.OnesCount(mask) >= 2 {
			res.Duplicates = append(res.Duplicates, code)
		}
	}
	slices.Sort(res.Duplicates)

	for _, fs := range scans {
		res.Invalid += fs.invalid
		for _, rule := range fs.rules {
			if _, dup := slices.BinarySearch(res.Duplicates, rule.Code); !dup {
				res.Rules = append(res.Rules, rule)
			}
		}
	}
	return res, nil
}

// streamRecords calls fn for every data row of a gzip CSV file, skipping the
// header. It returns the number of rows read.
func streamRecords(ctx context.Context, path string, fn func(rec []string)) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return 0, errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	r := csv.NewReader(gz)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	var n int
	for {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, errors.Wrapf(err, "read %s", path)
		}
		if len(rec) == 0 || strings.EqualFold(strings.TrimSpace(rec[0]), columns[0]) {
			continue
		}
		n++
		if n%progressEvery == 0 {
			slog.Info("progress", slog.String("file", path), slog.Int("rows", n))
		}
		fn(rec)
	}
}

func normalizeCode(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// parseRecord converts code,type,value,min_purchase,max_discount,max_uses,
// valid_until into an active rule. Trailing optional columns may be omitted.
func parseRecord(rec []string) (coupon.Rule, error) {
	field := func(i int) string {
		if i < len(rec) {
			return strings.TrimSpace(rec[i])
		}
		return ""
	}

	rule := coupon.Rule{
		Code:         normalizeCode(field(0)),
		DiscountType: coupon.DiscountType(strings.ToLower(field(1))),
		Active:       true,
	}
	if rule.Code == "" {
		return coupon.Rule{}, errors.New("empty code")
	}
	if !rule.DiscountType.Valid() {
		return coupon.Rule{}, errors.Errorf("%s: unknown type %q", rule.Code, field(1))
	}

	var err error
	if rule.Value, err = decimal.NewFromString(field(2)); err != nil || !rule.Value.IsPositive() {
		return coupon.Rule{}, errors.Errorf("%s: invalid value %q", rule.Code, field(2))
	}
	if rule.DiscountType == coupon.DiscountPercentage && rule.Value.GreaterThan(decimal.NewFromInt(100)) {
		return coupon.Rule{}, errors.Errorf("%s: percentage above 100", rule.Code)
	}
	if v := field(3); v != "" {
		if rule.MinPurchase, err = decimal.NewFromString(v); err != nil || rule.MinPurchase.IsNegative() {
			return coupon.Rule{}, errors.Errorf("%s: invalid min_purchase %q", rule.Code, v)
		}
	}
	if v := field(4); v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil || d.IsNegative() {
			return coupon.Rule{}, errors.Errorf("%s: invalid max_discount %q", rule.Code, v)
		}
		rule.MaxDiscount = decimal.NewNullDecimal(d)
	}
	if v := field(5); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return coupon.Rule{}, errors.Errorf("%s: invalid max_uses %q", rule.Code, v)
		}
		rule.MaxUses = &n
	}
	if v := field(6); v != "" {
		t, err := parseValidUntil(v)
		if err != nil {
			return coupon.Rule{}, errors.Errorf("%s: invalid valid_until %q", rule.Code, v)
		}
		rule.ValidUntil = &t
	}
	return rule, nil
}

// parseValidUntil accepts RFC 3339 or a date, which means the end of that
// day in UTC.
func parseValidUntil(s string) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t.Add(24*time.Hour - time.Second), nil
	}
	return time.Parse(time.RFC3339, s)
}
