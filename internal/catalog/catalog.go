// Package catalog loads feature costs and token packages from a YAML or JSON file.
package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/MarkoPoloResearchLab/tokenledger/pkg/ledger"
	"github.com/spf13/viper"
)

var ErrInvalidCatalog = errors.New("invalid catalog")

// File is the on-disk catalog layout.
type File struct {
	Features []FeatureEntry `mapstructure:"features"`
	Packages []PackageEntry `mapstructure:"packages"`
}

type FeatureEntry struct {
	Key         string `mapstructure:"key"`
	TokenCost   int64  `mapstructure:"token_cost"`
	Active      *bool  `mapstructure:"active"`
	Description string `mapstructure:"description"`
}

type PackageEntry struct {
	ID                 string `mapstructure:"id"`
	Name               string `mapstructure:"name"`
	Tokens             int64  `mapstructure:"tokens"`
	PriceMinorUnits    int64  `mapstructure:"price_minor_units"`
	Currency           string `mapstructure:"currency"`
	ExternalProductRef string `mapstructure:"external_product_ref"`
	Active             *bool  `mapstructure:"active"`
}

// Catalog is a validated File.
type Catalog struct {
	Features []ledger.FeatureCost
	Packages []ledger.TokenPackage
}

// Writer persists catalog entries; *ledger.Service satisfies it.
type Writer interface {
	UpsertFeatureCost(ctx context.Context, featureCost ledger.FeatureCost) error
	UpsertTokenPackage(ctx context.Context, tokenPackage ledger.TokenPackage) error
}

// Load reads and validates a catalog file. The format follows the file extension.
func Load(path string) (Catalog, error) {
	reader := viper.New()
	reader.SetConfigFile(path)
	if err := reader.ReadInConfig(); err != nil {
		return Catalog{}, fmt.Errorf("read catalog: %w", err)
	}
	var file File
	if err := reader.Unmarshal(&file); err != nil {
		return Catalog{}, fmt.Errorf("%w: %w", ErrInvalidCatalog, err)
	}
	return file.Validate()
}

// Validate converts raw entries into ledger values. Entries default to active.
func (file File) Validate() (Catalog, error) {
	validated := Catalog{
		Features: make([]ledger.FeatureCost, 0, len(file.Features)),
		Packages: make([]ledger.TokenPackage, 0, len(file.Packages)),
	}
	seenFeatures := make(map[string]struct{}, len(file.Features))
	for index, entry := range file.Features {
		featureKey, err := ledger.NewFeatureKey(entry.Key)
		if err != nil {
			return Catalog{}, fmt.Errorf("%w: features[%d]: %w", ErrInvalidCatalog, index, err)
		}
		if _, duplicate := seenFeatures[featureKey.String()]; duplicate {
			return Catalog{}, fmt.Errorf("%w: features[%d]: duplicate key %q", ErrInvalidCatalog, index, featureKey.String())
		}
		seenFeatures[featureKey.String()] = struct{}{}
		featureCost, err := ledger.NewFeatureCost(featureKey, entry.TokenCost, isActive(entry.Active), entry.Description)
		if err != nil {
			return Catalog{}, fmt.Errorf("%w: features[%d]: %w", ErrInvalidCatalog, index, err)
		}
		validated.Features = append(validated.Features, featureCost)
	}
	seenPackages := make(map[string]struct{}, len(file.Packages))
	for index, entry := range file.Packages {
		packageID, err := ledger.NewPackageID(entry.ID)
		if err != nil {
			return Catalog{}, fmt.Errorf("%w: packages[%d]: %w", ErrInvalidCatalog, index, err)
		}
		if _, duplicate := seenPackages[packageID.String()]; duplicate {
			return Catalog{}, fmt.Errorf("%w: packages[%d]: duplicate id %q", ErrInvalidCatalog, index, packageID.String())
		}
		seenPackages[packageID.String()] = struct{}{}
		tokenPackage, err := ledger.NewTokenPackage(packageID, entry.Name, entry.Tokens, entry.PriceMinorUnits, entry.Currency, entry.ExternalProductRef, isActive(entry.Active))
		if err != nil {
			return Catalog{}, fmt.Errorf("%w: packages[%d]: %w", ErrInvalidCatalog, index, err)
		}
		validated.Packages = append(validated.Packages, tokenPackage)
	}
	return validated, nil
}

// Apply upserts every entry. Entries absent from the catalog are left untouched.
func (validated Catalog) Apply(ctx context.Context, writer Writer) error {
	for _, featureCost := range validated.Features {
		if err := writer.UpsertFeatureCost(ctx, featureCost); err != nil {
			return fmt.Errorf("feature %s: %w", featureCost.Key.String(), err)
		}
	}
	for _, tokenPackage := range validated.Packages {
		if err := writer.UpsertTokenPackage(ctx, tokenPackage); err != nil {
			return fmt.Errorf("package %s: %w", tokenPackage.ID.String(), err)
		}
	}
	return nil
}

func isActive(active *bool) bool {
	return active == nil || *active
}
