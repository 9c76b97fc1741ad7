package service

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/timmy/catalogsync/internal/config"
	"github.com/timmy/catalogsync/internal/domain"
	"github.com/timmy/catalogsync/internal/logger"
	"golang.org/x/sync/errgroup"
)

const scrollPageSize = 256

// DedupeOptions tunes duplicate detection.
type DedupeOptions struct {
	SimilarityThreshold float64
	Neighbors           int
	ScanLimit           int
	QueryConcurrency    int
	ClassifyConcurrency int
}

// DedupeOptionsFromConfig builds DedupeOptions from the dedupe config section.
func DedupeOptionsFromConfig(cfg *config.DedupeConfig) *DedupeOptions {
	return &DedupeOptions{
		SimilarityThreshold: cfg.SimilarityThreshold,
		Neighbors:           cfg.Neighbors,
		ScanLimit:           cfg.ScanLimit,
		QueryConcurrency:    cfg.QueryConcurrency,
		ClassifyConcurrency: cfg.ClassifyConcurrency,
	}
}

func (o *DedupeOptions) withDefaults() *DedupeOptions {
	out := *o
	if out.SimilarityThreshold <= 0 {
		out.SimilarityThreshold = 0.85
	}
	if out.Neighbors <= 0 {
		out.Neighbors = 10
	}
	if out.ScanLimit <= 0 {
		out.ScanLimit = 1000
	}
	if out.QueryConcurrency <= 0 {
		out.QueryConcurrency = 8
	}
	if out.ClassifyConcurrency <= 0 {
		out.ClassifyConcurrency = 4
	}
	return &out
}

// DuplicateDetector groups near-duplicate points of a collection.
//
// Every scanned point is queried for its nearest neighbors; pairs scoring at
// or above the threshold become edges, and groups are the connected
// components of those edges. Grouping is transitive: A~B and B~C put A, B
// and C together even when A~C is below the threshold, so long chains can
// merge products that are not themselves similar.
type DuplicateDetector struct {
	store      VectorStore
	classifier Classifier
	exporter   *ReportExporter
	opts       *DedupeOptions
}

// NewDuplicateDetector creates a detector. classifier and exporter may be nil.
func NewDuplicateDetector(store VectorStore, classifier Classifier, exporter *ReportExporter, opts *DedupeOptions) *DuplicateDetector {
	if opts == nil {
		opts = &DedupeOptions{}
	}
	return &DuplicateDetector{
		store:      store,
		classifier: classifier,
		exporter:   exporter,
		opts:       opts.withDefaults(),
	}
}

type edgeKey struct{ a, b string }

func newEdgeKey(x, y string) edgeKey {
	if x > y {
		x, y = y, x
	}
	return edgeKey{a: x, b: y}
}

// Detect builds a duplicate report for req.Collection.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - req: collection, threshold (default 0.85), scan limit, filters,
//     classification and persistence flags.
// Returns:
//   - *domain.DuplicateReport: groups sorted by size, then average similarity.
//   - error: not_found for an unknown collection, invalid_argument for bad
//     parameters; classifier failures never fail the report.
func (d *DuplicateDetector) Detect(ctx context.Context, req domain.DetectDuplicatesRequest) (*domain.DuplicateReport, error) {
	threshold := req.SimilarityThreshold
	if threshold == 0 {
		threshold = d.opts.SimilarityThreshold
	}
	if threshold <= 0 || threshold > 1 {
		return nil, domain.NewInvalidArgumentError("similarityThreshold must be in (0, 1], got %v", threshold)
	}
	limit := req.Limit
	if limit < 0 {
		return nil, domain.NewInvalidArgumentError("limit must not be negative")
	}
	if limit == 0 {
		limit = d.opts.ScanLimit
	}
	if req.UseAIClassification && d.classifier == nil {
		return nil, domain.NewInvalidArgumentError("AI classification is not configured")
	}
	if req.Persist && d.exporter == nil {
		return nil, domain.NewInvalidArgumentError("report storage is not configured")
	}
	if _, err := d.store.GetStats(ctx, req.Collection); err != nil {
		if errors.Is(err, domain.ErrCollectionNotFound) {
			return nil, domain.NewNotFoundError("collection %q not found", req.Collection)
		}
		return nil, err
	}

	started := time.Now()
	filter := domain.FilterFromMap(req.Filters)
	points, err := d.scan(ctx, req.Collection, filter, limit)
	if err != nil {
		return nil, err
	}
	edges, payloads, err := d.findEdges(ctx, req.Collection, filter, points, float32(threshold))
	if err != nil {
		return nil, err
	}
	groups := buildGroups(edges, payloads)

	report := &domain.DuplicateReport{
		Collection:          req.Collection,
		SimilarityThreshold: threshold,
		ScannedPoints:       len(points),
		TotalGroups:         len(groups),
		Groups:              groups,
		GeneratedAt:         time.Now().UTC(),
	}
	for _, g := range groups {
		report.TotalDuplicates += len(g.Members) - 1
	}
	report.EstimatedSavings = report.TotalDuplicates

	if req.UseAIClassification {
		if err := d.classify(ctx, report.Groups); err != nil {
			return nil, err
		}
		report.CategorySummary = make(map[domain.DuplicateCategory]int)
		for _, g := range report.Groups {
			report.CategorySummary[g.Classification.Category]++
		}
	}

	if req.Persist {
		url, err := d.exporter.Export(ctx, report)
		if err != nil {
			return nil, err
		}
		report.ReportURL = url
	}

	logger.With(logger.Fields{
		logger.FieldCollection: req.Collection,
		"scanned":              len(points),
		"groups":               report.TotalGroups,
		"duplicates":           report.TotalDuplicates,
	}).Since(started).Info(ctx, "Duplicate detection finished")
	return report, nil
}

// scan pages through the collection until limit points were read.
func (d *DuplicateDetector) scan(ctx context.Context, collection string, filter *domain.PointFilter, limit int) ([]domain.Point, error) {
	var points []domain.Point
	cursor := ""
	for len(points) < limit {
		page := scrollPageSize
		if remaining := limit - len(points); remaining < page {
			page = remaining
		}
		batch, next, err := d.store.Scroll(ctx, collection, filter, cursor, page)
		if err != nil {
			return nil, err
		}
		points = append(points, batch...)
		if next == "" || len(batch) == 0 {
			break
		}
		cursor = next
	}
	if len(points) > limit {
		points = points[:limit]
	}
	return points, nil
}

// findEdges queries the neighbors of every point concurrently and keeps the
// pairs at or above threshold, each pair once.
func (d *DuplicateDetector) findEdges(ctx context.Context, collection string, filter *domain.PointFilter, points []domain.Point, threshold float32) (map[edgeKey]float32, map[string]map[string]interface{}, error) {
	payloads := make(map[string]map[string]interface{}, len(points))
	for _, p := range points {
		payloads[p.ID] = p.Payload
	}

	var mu sync.Mutex
	edges := make(map[edgeKey]float32)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.opts.QueryConcurrency)
	for _, p := range points {
		p := p
		if len(p.Vector) == 0 {
			continue
		}
		g.Go(func() error {
			// +1: the point itself is normally its own nearest neighbor.
			hits, err := d.store.Query(gctx, collection, p.Vector, d.opts.Neighbors+1, threshold, filter)
			if err != nil {
				return fmt.Errorf("query neighbors of %s: %w", p.ID, err)
			}
			mu.Lock()
			defer mu.Unlock()
			for _, h := range hits {
				if h.ID == p.ID || h.Score < threshold {
					continue
				}
				k := newEdgeKey(p.ID, h.ID)
				if prev, ok := edges[k]; !ok || h.Score > prev {
					edges[k] = h.Score
				}
				if _, ok := payloads[h.ID]; !ok {
					payloads[h.ID] = h.Payload
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return edges, payloads, nil
}

// buildGroups forms connected components and orders them deterministically.
func buildGroups(edges map[edgeKey]float32, payloads map[string]map[string]interface{}) []domain.DuplicateGroup {
	uf := newUnionFind()
	for k := range edges {
		uf.union(k.a, k.b)
	}

	type stats struct {
		sum   float64
		count int
	}
	perRoot := make(map[string]*stats)
	for k, score := range edges {
		root := uf.find(k.a)
		st, ok := perRoot[root]
		if !ok {
			st = &stats{}
			perRoot[root] = st
		}
		st.sum += float64(score)
		st.count++
	}

	components := uf.groups(2)
	groups := make([]domain.DuplicateGroup, 0, len(components))
	for root, ids := range components {
		sort.Strings(ids)
		members := make([]domain.DuplicateMember, len(ids))
		for i, id := range ids {
			members[i] = domain.DuplicateMember{ID: id, Payload: payloads[id]}
		}
		st := perRoot[root]
		groups = append(groups, domain.DuplicateGroup{
			Members:       members,
			AvgSimilarity: st.sum / float64(st.count),
			EdgeCount:     st.count,
			Recommended:   pickRepresentative(members),
		})
	}

	sort.Slice(groups, func(i, j int) bool {
		gi, gj := groups[i], groups[j]
		if len(gi.Members) != len(gj.Members) {
			return len(gi.Members) > len(gj.Members)
		}
		if gi.AvgSimilarity != gj.AvgSimilarity {
			return gi.AvgSimilarity > gj.AvgSimilarity
		}
		return gi.Members[0].ID < gj.Members[0].ID
	})
	return groups
}

// pickRepresentative returns the member with the most non-empty payload
// fields, then the newest update time, then the smallest id.
func pickRepresentative(members []domain.DuplicateMember) string {
	best := -1
	var bestFields int
	var bestTime time.Time
	for i, m := range members {
		fields := countNonEmpty(m.Payload)
		updated := payloadTime(m.Payload)
		switch {
		case best == -1,
			fields > bestFields,
			fields == bestFields && updated.After(bestTime),
			fields == bestFields && updated.Equal(bestTime) && m.ID < members[best].ID:
			best, bestFields, bestTime = i, fields, updated
		}
	}
	if best == -1 {
		return ""
	}
	return members[best].ID
}

func countNonEmpty(payload map[string]interface{}) int {
	n := 0
	for _, v := range payload {
		if !isEmptyValue(v) {
			n++
		}
	}
	return n
}

func isEmptyValue(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() == 0
	}
	return false
}

// payloadTime reads updated_at, falling back to synced_at.
func payloadTime(payload map[string]interface{}) time.Time {
	for _, key := range []string{domain.PayloadUpdatedAt, domain.PayloadSyncedAt} {
		switch v := payload[key].(type) {
		case time.Time:
			return v
		case string:
			if m, err := domain.ParseMarker(domain.WatermarkTimestamp, v); err == nil {
				return m.Time()
			}
		}
	}
	return time.Time{}
}

// classify labels every group; a failing call degrades that group to
// review_needed instead of failing the report.
func (d *DuplicateDetector) classify(ctx context.Context, groups []domain.DuplicateGroup) error {
	var g errgroup.Group
	g.SetLimit(d.opts.ClassifyConcurrency)
	for i := range groups {
		i := i
		g.Go(func() error {
			c, err := d.classifier.Classify(ctx, &groups[i])
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				logger.With(logger.Fields{"group": i, "members": len(groups[i].Members)}).
					Warn(ctx, "Classifier failed, group needs review: %v", err)
				c = domain.ReviewNeeded(fmt.Sprintf("classifier unavailable: %v", err))
			}
			groups[i].Classification = c
			return nil
		})
	}
	return g.Wait()
}
