package services

import (
	_ "embed"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

//go:embed packages.yaml
var defaultPackagesYAML []byte

// PackageItem is one constituent supply of a package
type PackageItem struct {
	SupplyID   uint            `json:"supply_id"`
	SupplyName string          `json:"supply_name"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	Quantity   int             `json:"quantity"`
}

// Subtotal returns quantity times unit price
func (i PackageItem) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// PackageDefinition is an immutable bundle of supplies sold at a fixed price
type PackageDefinition struct {
	Type  string          `json:"type"`
	Name  string          `json:"name"`
	Items []PackageItem   `json:"items"`
	Price decimal.Decimal `json:"price"`
}

func (p PackageDefinition) clone() PackageDefinition {
	items := make([]PackageItem, len(p.Items))
	copy(items, p.Items)
	p.Items = items
	return p
}

type packageFile struct {
	Packages []struct {
		Type  string `yaml:"type"`
		Name  string `yaml:"name"`
		Price int64  `yaml:"price"`
		Items []struct {
			SupplyID   uint   `yaml:"supply_id"`
			SupplyName string `yaml:"supply_name"`
			UnitPrice  int64  `yaml:"unit_price"`
			Quantity   int    `yaml:"quantity"`
		} `yaml:"items"`
	} `yaml:"packages"`
}

// PackageCatalog holds the package definitions. It is read-only after load.
type PackageCatalog struct {
	order    []string
	packages map[string]PackageDefinition
}

// LoadPackageCatalog parses and validates a YAML package catalog.
// Every package needs at least one item, positive quantities, and a price equal to
// the sum of its item subtotals.
func LoadPackageCatalog(data []byte) (*PackageCatalog, error) {
	var file packageFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse package catalog: %w", err)
	}
	if len(file.Packages) == 0 {
		return nil, fmt.Errorf("package catalog is empty")
	}

	catalog := &PackageCatalog{packages: make(map[string]PackageDefinition, len(file.Packages))}
	for _, raw := range file.Packages {
		if raw.Type == "" {
			return nil, fmt.Errorf("package catalog: package type is required")
		}
		if _, dup := catalog.packages[raw.Type]; dup {
			return nil, fmt.Errorf("package catalog: duplicate package %q", raw.Type)
		}
		if len(raw.Items) == 0 {
			return nil, fmt.Errorf("package catalog: package %q has no items", raw.Type)
		}

		def := PackageDefinition{
			Type:  raw.Type,
			Name:  raw.Name,
			Price: decimal.NewFromInt(raw.Price),
			Items: make([]PackageItem, 0, len(raw.Items)),
		}
		sum := decimal.Zero
		for _, it := range raw.Items {
			if it.Quantity <= 0 {
				return nil, fmt.Errorf("package catalog: package %q supply %d has non-positive quantity", raw.Type, it.SupplyID)
			}
			if it.UnitPrice < 0 {
				return nil, fmt.Errorf("package catalog: package %q supply %d has negative price", raw.Type, it.SupplyID)
			}
			item := PackageItem{
				SupplyID:   it.SupplyID,
				SupplyName: it.SupplyName,
				UnitPrice:  decimal.NewFromInt(it.UnitPrice),
				Quantity:   it.Quantity,
			}
			sum = sum.Add(item.Subtotal())
			def.Items = append(def.Items, item)
		}
		if !sum.Equal(def.Price) {
			return nil, fmt.Errorf("package catalog: package %q price %s does not match item total %s", raw.Type, def.Price, sum)
		}

		catalog.order = append(catalog.order, def.Type)
		catalog.packages[def.Type] = def
	}
	return catalog, nil
}

var (
	defaultCatalog     *PackageCatalog
	defaultCatalogErr  error
	defaultCatalogOnce sync.Once
)

// DefaultPackageCatalog returns the catalog embedded in the binary, loaded once
func DefaultPackageCatalog() (*PackageCatalog, error) {
	defaultCatalogOnce.Do(func() {
		defaultCatalog, defaultCatalogErr = LoadPackageCatalog(defaultPackagesYAML)
	})
	return defaultCatalog, defaultCatalogErr
}

// Get returns a copy of the package definition for the given type
func (c *PackageCatalog) Get(packageType string) (PackageDefinition, error) {
	def, ok := c.packages[packageType]
	if !ok {
		return PackageDefinition{}, ErrPackageNotFound
	}
	return def.clone(), nil
}

// All returns copies of every package in catalog order
func (c *PackageCatalog) All() []PackageDefinition {
	out := make([]PackageDefinition, 0, len(c.order))
	for _, t := range c.order {
		out = append(out, c.packages[t].clone())
	}
	return out
}
