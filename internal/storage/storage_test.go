package storage

import (
	"context"
	"testing"

	"github.com/timmy/catalogsync/internal/config"
)

func TestProviderFor(t *testing.T) {
	tests := []struct {
		endpoint string
		want     provider
		region   string
	}{
		{"", providerAWS, "us-east-1"},
		{"https://s3.eu-west-1.amazonaws.com", providerAWS, "us-east-1"},
		{"https://abc.r2.cloudflarestorage.com", providerR2, "auto"},
		{"localhost:9000", providerGeneric, "us-east-1"},
	}
	for _, tt := range tests {
		got := providerFor(tt.endpoint)
		if got != tt.want {
			t.Errorf("providerFor(%q) = %q, want %q", tt.endpoint, got, tt.want)
		}
		if got.defaultRegion() != tt.region {
			t.Errorf("%s default region = %q, want %q", got, got.defaultRegion(), tt.region)
		}
	}
}

func TestEndpointURL(t *testing.T) {
	tests := []struct {
		raw    string
		useSSL bool
		want   string
	}{
		{"", true, ""},
		{"localhost:9000", false, "http://localhost:9000"},
		{"minio.internal", true, "https://minio.internal"},
		{"https://minio.internal/bucket/", false, "https://minio.internal"},
	}
	for _, tt := range tests {
		got, err := endpointURL(tt.raw, tt.useSSL)
		if err != nil {
			t.Fatalf("endpointURL(%q) error = %v", tt.raw, err)
		}
		if got != tt.want {
			t.Errorf("endpointURL(%q, %v) = %q, want %q", tt.raw, tt.useSSL, got, tt.want)
		}
	}
}

func TestBucketURL(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.StorageConfig
		key  string
		want string
	}{
		{
			name: "custom endpoint",
			cfg:  config.StorageConfig{Endpoint: "http://localhost:9000", AccessKey: "k", SecretKey: "s", Bucket: "catalog-reports"},
			key:  "reports/productos/r.json",
			want: "http://localhost:9000/catalog-reports/reports/productos/r.json",
		},
		{
			name: "public prefix",
			cfg:  config.StorageConfig{Bucket: "b", AccessKey: "k", SecretKey: "s", PublicURL: "https://cdn.example.com/"},
			key:  "k.json",
			want: "https://cdn.example.com/k.json",
		},
		{
			name: "aws virtual host",
			cfg:  config.StorageConfig{Bucket: "b", AccessKey: "k", SecretKey: "s", Region: "eu-west-1"},
			key:  "k.json",
			want: "https://b.s3.eu-west-1.amazonaws.com/k.json",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := newBucket(context.Background(), &tt.cfg)
			if err != nil {
				t.Fatalf("newBucket() error = %v", err)
			}
			if got := b.URL(tt.key); got != tt.want {
				t.Errorf("URL = %q, want %q", got, tt.want)
			}
		})
	}

	if _, err := newBucket(context.Background(), &config.StorageConfig{}); err == nil {
		t.Error("expected an error without a bucket")
	}
}
