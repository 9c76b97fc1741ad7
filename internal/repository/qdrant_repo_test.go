package repository

import (
	"context"
	"errors"
	"math"
	"testing"

	pb "github.com/qdrant/go-client/qdrant"
	"github.com/timmy/catalogsync/internal/domain"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestBuildFilter(t *testing.T) {
	if buildFilter(nil) != nil {
		t.Error("buildFilter(nil) should be nil")
	}

	f := buildFilter(&domain.PointFilter{Must: []domain.FieldMatch{
		{Key: "marca", Value: "acme"},
		{Key: "stock", Value: float64(3)},
		{Key: "activo", Value: true},
	}})
	if len(f.GetMust()) != 3 {
		t.Fatalf("len(Must) = %d, want 3", len(f.GetMust()))
	}
	if got := f.GetMust()[0].GetField().GetMatch().GetKeyword(); got != "acme" {
		t.Errorf("keyword = %q, want acme", got)
	}
	if got := f.GetMust()[1].GetField().GetMatch().GetInteger(); got != 3 {
		t.Errorf("integer = %d, want 3", got)
	}
	if got := f.GetMust()[2].GetField().GetMatch().GetBoolean(); !got {
		t.Error("boolean match lost")
	}
}

func TestBuildFilterFractionalFloat(t *testing.T) {
	f := buildFilter(&domain.PointFilter{Must: []domain.FieldMatch{
		{Key: "precio", Value: 12.5},
		{Key: "peso", Value: float32(0.25)},
	}})
	for i, want := range []float64{12.5, 0.25} {
		field := f.GetMust()[i].GetField()
		if field.GetMatch() != nil {
			t.Errorf("condition %d: match = %v, want range", i, field.GetMatch())
		}
		r := field.GetRange()
		if r == nil || r.GetGte() != want || r.GetLte() != want {
			t.Errorf("condition %d: range = %v, want [%v, %v]", i, r, want, want)
		}
	}
}

func TestPayloadConversion(t *testing.T) {
	in := map[string]interface{}{
		"descripcion": "Taladro 500W",
		"stock":       int64(4),
		"precio":      19.5,
		"activo":      true,
		"tags":        []string{"herramienta", "electrico"},
		"nada":        nil,
	}
	pbPayload, err := toQdrantPayload(in)
	if err != nil {
		t.Fatalf("toQdrantPayload() error = %v", err)
	}
	out := fromQdrantPayload(pbPayload)

	if out["descripcion"] != "Taladro 500W" || out["stock"] != int64(4) || out["precio"] != 19.5 || out["activo"] != true {
		t.Errorf("scalar payload = %v", out)
	}
	tags, ok := out["tags"].([]interface{})
	if !ok || len(tags) != 2 || tags[1] != "electrico" {
		t.Errorf("tags = %#v", out["tags"])
	}
	if out["nada"] != nil {
		t.Errorf("null = %#v", out["nada"])
	}
}

func TestPointIDs(t *testing.T) {
	uuidID := "5f0c6c3e-9a4b-5d7e-8f00-123456789abc"
	if got := pointIDString(toPointID(uuidID)); got != uuidID {
		t.Errorf("uuid round trip = %q", got)
	}
	if got := toPointID("42").GetNum(); got != 42 {
		t.Errorf("numeric id = %d, want 42", got)
	}
}

func TestMapQdrantError(t *testing.T) {
	tests := []struct {
		name     string
		code     codes.Code
		systemic bool
		want     []error
	}{
		{name: "unavailable", code: codes.Unavailable, systemic: true, want: []error{domain.ErrTransient, domain.ErrVectorStoreUnavailable}},
		{name: "auth", code: codes.Unauthenticated, systemic: true, want: []error{domain.ErrAuth}},
		{name: "throttled", code: codes.ResourceExhausted, systemic: false, want: []error{domain.ErrTransient}},
		{name: "missing", code: codes.NotFound, systemic: false, want: []error{domain.ErrCollectionNotFound}},
		{name: "bad request", code: codes.InvalidArgument, systemic: false},
		{name: "cancelled", code: codes.Canceled, systemic: true, want: []error{context.Canceled}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := mapQdrantError("op", status.Error(tt.code, "boom"))
			for _, w := range tt.want {
				if !errors.Is(err, w) {
					t.Errorf("error %v does not wrap %v", err, w)
				}
			}
			if domain.IsSystemic(err) != tt.systemic {
				t.Errorf("IsSystemic(%v) = %v, want %v", err, domain.IsSystemic(err), tt.systemic)
			}
		})
	}
}

func TestDistanceMapping(t *testing.T) {
	for _, d := range []domain.DistanceMetric{domain.DistanceCosine, domain.DistanceEuclidean, domain.DistanceDot} {
		if got := fromQdrantDistance(toQdrantDistance(d)); got != d {
			t.Errorf("distance %s mapped back to %s", d, got)
		}
	}
	if toQdrantDistance(domain.DistanceEuclidean) != pb.Distance_Euclid {
		t.Error("Euclidean must map to Distance_Euclid")
	}
}

func TestEuclidScores(t *testing.T) {
	tests := []struct {
		threshold   float32
		maxDistance float32
	}{
		{threshold: 0.5, maxDistance: 1},
		{threshold: 0.8, maxDistance: 0.25},
		{threshold: 1, maxDistance: 0},
	}
	for _, tt := range tests {
		d := euclidMaxDistance(tt.threshold)
		if math.Abs(float64(d-tt.maxDistance)) > 1e-6 {
			t.Errorf("euclidMaxDistance(%v) = %v, want %v", tt.threshold, d, tt.maxDistance)
		}
		// A point exactly at the distance bound scores exactly the threshold.
		if got := euclidScore(d); math.Abs(float64(got-tt.threshold)) > 1e-6 {
			t.Errorf("euclidScore(%v) = %v, want %v", d, got, tt.threshold)
		}
	}
	if euclidScore(0) != 1 {
		t.Error("identical vectors must score 1")
	}
	if euclidScore(3) >= euclidScore(1) {
		t.Error("farther points must score lower")
	}
}

func TestQueryUsesCachedDistance(t *testing.T) {
	r := &QdrantRepository{}
	r.distances.Store("productos", domain.DistanceEuclidean)
	d, err := r.distanceOf(context.Background(), "productos")
	if err != nil || d != domain.DistanceEuclidean {
		t.Errorf("distanceOf() = %v, %v", d, err)
	}
}
