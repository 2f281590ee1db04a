package catalog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/MarkoPoloResearchLab/tokenledger/pkg/ledger"
)

const sampleCatalog = `
features:
  - key: resume_tailor
    token_cost: 8
    description: Tailor a resume to a job
  - key: legacy_export
    token_cost: 2
    active: false
packages:
  - id: starter
    name: Starter
    tokens: 100
    price_minor_units: 499
    external_product_ref: prod_starter
`

type recordingWriter struct {
	features []ledger.FeatureCost
	packages []ledger.TokenPackage
	failWith error
}

func (writer *recordingWriter) UpsertFeatureCost(_ context.Context, featureCost ledger.FeatureCost) error {
	if writer.failWith != nil {
		return writer.failWith
	}
	writer.features = append(writer.features, featureCost)
	return nil
}

func (writer *recordingWriter) UpsertTokenPackage(_ context.Context, tokenPackage ledger.TokenPackage) error {
	writer.packages = append(writer.packages, tokenPackage)
	return nil
}

func writeCatalog(test *testing.T, name string, contents string) string {
	test.Helper()
	path := filepath.Join(test.TempDir(), name)
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		test.Fatalf("write catalog: %v", err)
	}
	return path
}

func TestLoadAndApply(test *testing.T) {
	test.Parallel()
	loaded, err := Load(writeCatalog(test, "catalog.yaml", sampleCatalog))
	if err != nil {
		test.Fatalf("load: %v", err)
	}
	if len(loaded.Features) != 2 || len(loaded.Packages) != 1 {
		test.Fatalf("unexpected catalog: %+v", loaded)
	}
	if !loaded.Features[0].Active || loaded.Features[1].Active {
		test.Fatalf("active defaults not applied: %+v", loaded.Features)
	}
	starter := loaded.Packages[0]
	if starter.Currency != "usd" || starter.Tokens != 100 || starter.ExternalProductRef != "prod_starter" {
		test.Fatalf("unexpected package: %+v", starter)
	}

	writer := &recordingWriter{}
	if err := loaded.Apply(context.Background(), writer); err != nil {
		test.Fatalf("apply: %v", err)
	}
	if len(writer.features) != 2 || len(writer.packages) != 1 {
		test.Fatalf("unexpected writes: %+v", writer)
	}
}

func TestApplyStopsOnFailure(test *testing.T) {
	test.Parallel()
	loaded, err := Load(writeCatalog(test, "catalog.yaml", sampleCatalog))
	if err != nil {
		test.Fatalf("load: %v", err)
	}
	writer := &recordingWriter{failWith: ledger.ErrStoreUnavailable}
	if err := loaded.Apply(context.Background(), writer); !errors.Is(err, ledger.ErrStoreUnavailable) {
		test.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if len(writer.packages) != 0 {
		test.Fatalf("packages must not be written after a feature failure")
	}
}

func TestValidateRejectsBadEntries(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name string
		file File
	}{
		{name: "empty feature key", file: File{Features: []FeatureEntry{{Key: " ", TokenCost: 1}}}},
		{name: "negative cost", file: File{Features: []FeatureEntry{{Key: "a", TokenCost: -1}}}},
		{name: "duplicate feature", file: File{Features: []FeatureEntry{{Key: "a"}, {Key: "a"}}}},
		{name: "zero tokens", file: File{Packages: []PackageEntry{{ID: "p", Tokens: 0, PriceMinorUnits: 100}}}},
		{name: "zero price", file: File{Packages: []PackageEntry{{ID: "p", Tokens: 10}}}},
		{name: "duplicate package", file: File{Packages: []PackageEntry{{ID: "p", Tokens: 1, PriceMinorUnits: 1}, {ID: "p", Tokens: 1, PriceMinorUnits: 1}}}},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			if _, err := testCase.file.Validate(); !errors.Is(err, ErrInvalidCatalog) {
				test.Fatalf("expected ErrInvalidCatalog, got %v", err)
			}
		})
	}
}

func TestLoadJSON(test *testing.T) {
	test.Parallel()
	loaded, err := Load(writeCatalog(test, "catalog.json", `{"features":[{"key":"summarize","token_cost":1}]}`))
	if err != nil {
		test.Fatalf("load: %v", err)
	}
	if len(loaded.Features) != 1 || loaded.Features[0].TokenCost != 1 {
		test.Fatalf("unexpected catalog: %+v", loaded)
	}
}

func TestLoadMissingFile(test *testing.T) {
	test.Parallel()
	if _, err := Load(filepath.Join(test.TempDir(), "missing.yaml")); err == nil {
		test.Fatalf("expected read error")
	}
}
