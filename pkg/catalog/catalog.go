package catalog

import (
	"fmt"
	"math/big"
	"sort"
	"strings"

	x402types "github.com/coinbase/x402/go/pkg/types"
	"github.com/sigweihq/purchasegate/pkg/constants"
	"github.com/sigweihq/purchasegate/pkg/types"
	"github.com/sigweihq/purchasegate/pkg/utils"
)

// Item is one configured SKU, priced in ETH
type Item struct {
	SKUID      string `yaml:"sku_id"`
	Name       string `yaml:"name"`
	PriceEth   string `yaml:"price_eth"`
	IsMintable bool   `yaml:"is_mintable"`
}

// DefaultItems is the skin table served when no SKUs are configured
var DefaultItems = []Item{
	{SKUID: "skin_classic", Name: "Classic", PriceEth: "0", IsMintable: true},
	{SKUID: "skin_base_blue", Name: "Base Blue", PriceEth: "0", IsMintable: true},
	{SKUID: "skin_neon", Name: "Neon", PriceEth: "0.0005"},
	{SKUID: "skin_pixel_gold", Name: "Pixel Gold", PriceEth: "0.001"},
	{SKUID: "skin_diamond", Name: "Diamond", PriceEth: "0.01"},
}

// Catalog is an immutable SKU table built once at start-up
type Catalog struct {
	entries map[string]types.CatalogEntry
	ordered []types.CatalogEntry
}

// New builds a catalog from items, converting every ETH price to wei exactly.
// Duplicate SKU IDs and unparseable prices are rejected.
func New(items []Item) (*Catalog, error) {
	c := &Catalog{
		entries: make(map[string]types.CatalogEntry, len(items)),
	}

	for _, item := range items {
		skuID := strings.TrimSpace(item.SKUID)
		if skuID == "" {
			return nil, fmt.Errorf("catalog item has empty sku_id")
		}
		if _, dup := c.entries[skuID]; dup {
			return nil, fmt.Errorf("duplicate sku_id %q", skuID)
		}

		price := new(big.Int)
		if !item.IsMintable {
			wei, err := utils.EtherToWei(item.PriceEth)
			if err != nil {
				return nil, fmt.Errorf("sku %s: %w", skuID, err)
			}
			price = wei
		}

		entry := types.CatalogEntry{
			SKUID:            skuID,
			Name:             item.Name,
			RequiredPriceWei: price,
			IsMintable:       item.IsMintable,
		}
		c.entries[skuID] = entry
		c.ordered = append(c.ordered, entry)
	}

	sort.Slice(c.ordered, func(i, j int) bool {
		return c.ordered[i].SKUID < c.ordered[j].SKUID
	})

	return c, nil
}

// FindBySKU returns the entry for skuID
func (c *Catalog) FindBySKU(skuID string) (types.CatalogEntry, bool) {
	entry, ok := c.entries[skuID]
	if !ok {
		return types.CatalogEntry{}, false
	}
	entry.RequiredPriceWei = new(big.Int).Set(entry.RequiredPriceWei)
	return entry, true
}

// RequiredPrice returns the price a payment must cover.
// Mintable and unknown SKUs cost zero; found tells the two apart.
func (c *Catalog) RequiredPrice(skuID string) (price *big.Int, mintable bool, found bool) {
	entry, ok := c.FindBySKU(skuID)
	if !ok {
		return new(big.Int), false, false
	}
	if entry.IsMintable {
		return new(big.Int), true, true
	}
	return entry.RequiredPriceWei, false, true
}

// Entries returns every entry sorted by SKU ID
func (c *Catalog) Entries() []types.CatalogEntry {
	out := make([]types.CatalogEntry, len(c.ordered))
	for i, entry := range c.ordered {
		entry.RequiredPriceWei = new(big.Int).Set(entry.RequiredPriceWei)
		out[i] = entry
	}
	return out
}

// Items returns the public listing of the catalog
func (c *Catalog) Items() []types.CatalogItem {
	items := make([]types.CatalogItem, 0, len(c.ordered))
	for _, entry := range c.ordered {
		items = append(items, types.CatalogItem{
			SKUID:      entry.SKUID,
			Name:       entry.Name,
			PriceWei:   entry.RequiredPriceWei.String(),
			PriceEth:   utils.WeiToEther(entry.RequiredPriceWei),
			IsMintable: entry.IsMintable,
		})
	}
	return items
}

// PaymentRequirements quotes what a client must send to buy skuID.
// Mintable SKUs quote the smallest non-zero amount so wallets still produce a transaction.
func (c *Catalog) PaymentRequirements(skuID, network, payee, resource string) (*x402types.PaymentRequirements, error) {
	entry, ok := c.FindBySKU(skuID)
	if !ok {
		return nil, fmt.Errorf("unknown sku: %s", skuID)
	}

	amount := entry.RequiredPriceWei
	if entry.IsMintable {
		amount = big.NewInt(constants.MintPriceWei)
	}

	description := fmt.Sprintf("Purchase of %s", entry.SKUID)
	if entry.Name != "" {
		description = fmt.Sprintf("Purchase of %s (%s)", entry.Name, entry.SKUID)
	}

	return &x402types.PaymentRequirements{
		Scheme:            "exact",
		Network:           network,
		MaxAmountRequired: amount.String(),
		Resource:          resource,
		Description:       description,
		MimeType:          "application/json",
		PayTo:             payee,
		MaxTimeoutSeconds: 60,
		Asset:             constants.NativeAsset,
	}, nil
}
