package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	domain "github.com/marketcart/checkout-api/internal/domain"
)

const (
	defaultVoucherFetchConcurrency = 8
	defaultVoucherCacheTTL         = 2 * time.Minute
	defaultVoucherCacheEntries     = 256
)

var voucherDateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// IsVoucherActive reports whether the voucher can be applied at now. INACTIVE, EXPIRED and USED
// vouchers are never active; date bounds are checked only when they parse.
func IsVoucherActive(v Voucher, now time.Time) bool {
	switch domain.VoucherStatus(strings.ToUpper(string(v.Status))) {
	case domain.VoucherStatusInactive, domain.VoucherStatusExpired, domain.VoucherStatusUsed:
		return false
	}
	if from, ok := parseVoucherTime(v.ValidFrom); ok && now.Before(from) {
		return false
	}
	if to, ok := parseVoucherTime(v.ValidTo); ok && now.After(to) {
		return false
	}
	return true
}

func parseVoucherTime(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range voucherDateLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}

// ResolvedCatalog is the voucher view of one cart: store-wide candidates per store, product
// candidates per cart line, and the platform vouchers advertised for the cart's products.
type ResolvedCatalog struct {
	stores   map[string][]Voucher
	lines    map[string][]Voucher
	platform []Voucher
	byID     map[string]Voucher
}

// StoreVouchers returns every store-wide voucher known for the store.
func (c ResolvedCatalog) StoreVouchers(storeID string) []Voucher {
	return c.stores[storeID]
}

// LineVouchers returns every product voucher attached to the cart line.
func (c ResolvedCatalog) LineVouchers(lineID string) []Voucher {
	return c.lines[lineID]
}

// PlatformVouchers returns the platform vouchers advertised for the cart's products.
func (c ResolvedCatalog) PlatformVouchers() []Voucher {
	return c.platform
}

// Find looks a voucher up by id.
func (c ResolvedCatalog) Find(voucherID string) (Voucher, bool) {
	v, ok := c.byID[voucherID]
	return v, ok
}

// VoucherCatalogResolverDeps wires the resolver.
type VoucherCatalogResolverDeps struct {
	Catalog      VoucherCatalog
	Concurrency  int
	CacheTTL     time.Duration
	CacheEntries int
	Now          func() time.Time
	Logger       func(ctx context.Context, event string, fields map[string]any)
}

// VoucherCatalogResolver fetches and caches the vouchers that apply to a cart.
type VoucherCatalogResolver struct {
	catalog     VoucherCatalog
	concurrency int
	now         func() time.Time
	logger      func(ctx context.Context, event string, fields map[string]any)
	cache       *voucherCache
}

// NewVoucherCatalogResolver validates dependencies and builds a resolver.
func NewVoucherCatalogResolver(deps VoucherCatalogResolverDeps) (*VoucherCatalogResolver, error) {
	if deps.Catalog == nil {
		return nil, errors.New("voucher resolver: catalog is required")
	}
	concurrency := deps.Concurrency
	if concurrency <= 0 {
		concurrency = defaultVoucherFetchConcurrency
	}
	ttl := deps.CacheTTL
	if ttl <= 0 {
		ttl = defaultVoucherCacheTTL
	}
	entries := deps.CacheEntries
	if entries <= 0 {
		entries = defaultVoucherCacheEntries
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	clock := func() time.Time { return now().UTC() }

	return &VoucherCatalogResolver{
		catalog:     deps.Catalog,
		concurrency: concurrency,
		now:         clock,
		logger:      logger,
		cache:       newVoucherCache(ttl, entries, clock),
	}, nil
}

// Resolve returns the voucher view of the grouped cart. Results are cached per set of
// (store, line, product); a different set fetches again. A failed product fetch counts as no vouchers.
func (r *VoucherCatalogResolver) Resolve(ctx context.Context, groups []StoreGroup) (ResolvedCatalog, error) {
	key := voucherCacheKey(groups)
	if key == "" {
		return emptyResolvedCatalog(), nil
	}
	if cached, ok := r.cache.Get(key); ok {
		return cached, nil
	}

	lines := flattenGroups(groups)
	products := productRefs(lines)
	fetched := make([]ProductVouchers, len(products))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, ref := range products {
		g.Go(func() error {
			vouchers, err := r.catalog.VouchersForProduct(gctx, ref)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				r.logger(ctx, "vouchers.fetch_failed", map[string]any{
					"productRef": ref,
					"error":      err.Error(),
				})
				return nil
			}
			fetched[i] = vouchers
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return ResolvedCatalog{}, fmt.Errorf("%w: voucher fetch: %v", ErrCheckoutUnavailable, err)
	}

	storeLevel, err := r.fetchStoreVouchers(ctx, groups)
	if err != nil {
		return ResolvedCatalog{}, err
	}

	resolved := buildResolvedCatalog(groups, products, fetched, storeLevel)
	r.cache.Put(key, resolved)
	return resolved, nil
}

// Invalidate drops every cached cart view.
func (r *VoucherCatalogResolver) Invalidate() {
	r.cache.Clear()
}

func (r *VoucherCatalogResolver) fetchStoreVouchers(ctx context.Context, groups []StoreGroup) (map[string][]Voucher, error) {
	stores := make([]string, 0, len(groups))
	for _, group := range groups {
		if group.Resolved {
			stores = append(stores, group.StoreID)
		}
	}
	fetched := make([][]Voucher, len(stores))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, storeID := range stores {
		g.Go(func() error {
			vouchers, err := r.catalog.StoreVouchers(gctx, storeID)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				if !errors.Is(err, ErrMarketplaceNotFound) {
					r.logger(ctx, "vouchers.store_fetch_failed", map[string]any{
						"storeId": storeID,
						"error":   err.Error(),
					})
				}
				return nil
			}
			fetched[i] = vouchers
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("%w: store voucher fetch: %v", ErrCheckoutUnavailable, err)
	}

	out := make(map[string][]Voucher, len(stores))
	for i, storeID := range stores {
		out[storeID] = fetched[i]
	}
	return out, nil
}

func buildResolvedCatalog(groups []StoreGroup, products []string, fetched []ProductVouchers, storeLevel map[string][]Voucher) ResolvedCatalog {
	out := emptyResolvedCatalog()

	productStore := make(map[string]string, len(products))
	productLines := make(map[string][]string, len(products))
	for _, group := range groups {
		for _, line := range group.Lines {
			if _, ok := productStore[line.ProductRef]; !ok {
				productStore[line.ProductRef] = group.StoreID
			}
			productLines[line.ProductRef] = append(productLines[line.ProductRef], line.ID)
		}
	}

	storeCodes := make(map[string]map[string]struct{})
	addStore := func(storeID string, v Voucher) {
		codes, ok := storeCodes[storeID]
		if !ok {
			codes = make(map[string]struct{})
			storeCodes[storeID] = codes
		}
		code := strings.ToUpper(v.Code)
		if _, dup := codes[code]; dup {
			return
		}
		codes[code] = struct{}{}
		v.StoreID = storeID
		v.Scope = domain.VoucherScopeStoreWide
		out.stores[storeID] = append(out.stores[storeID], v)
		out.index(v)
	}

	platformCodes := make(map[string]struct{})
	for i, ref := range products {
		owner := productStore[ref]
		for _, raw := range fetched[i].Store {
			v := normalizeVoucher(raw)
			switch v.EffectiveScope() {
			case domain.VoucherScopeProduct:
				v.Scope = domain.VoucherScopeProduct
				if v.ProductRef == "" {
					v.ProductRef = ref
				}
				if v.StoreID == "" {
					v.StoreID = owner
				}
				for _, lineID := range productLines[ref] {
					out.lines[lineID] = append(out.lines[lineID], v)
				}
				out.index(v)
			default:
				storeID := v.StoreID
				if storeID == "" {
					storeID = owner
				}
				addStore(storeID, v)
			}
		}
		for _, raw := range fetched[i].Platform {
			v := normalizeVoucher(raw)
			code := strings.ToUpper(v.Code)
			if _, dup := platformCodes[code]; dup {
				continue
			}
			platformCodes[code] = struct{}{}
			out.platform = append(out.platform, v)
		}
	}

	for _, group := range groups {
		for _, raw := range storeLevel[group.StoreID] {
			v := normalizeVoucher(raw)
			if v.EffectiveScope() != domain.VoucherScopeStoreWide {
				continue
			}
			addStore(group.StoreID, v)
		}
	}

	return out
}

func normalizeVoucher(v Voucher) Voucher {
	v.Code = strings.TrimSpace(v.Code)
	v.ID = strings.TrimSpace(v.ID)
	if v.ID == "" {
		v.ID = v.Code
	}
	v.Kind = domain.VoucherKind(strings.ToUpper(string(v.Kind)))
	v.Scope = domain.VoucherScope(strings.ToUpper(string(v.Scope)))
	v.Status = domain.VoucherStatus(strings.ToUpper(string(v.Status)))
	if v.Description != "" {
		v.Description = strings.TrimSpace(storeNamePolicy.Sanitize(v.Description))
	}
	return v
}

func emptyResolvedCatalog() ResolvedCatalog {
	return ResolvedCatalog{
		stores: make(map[string][]Voucher),
		lines:  make(map[string][]Voucher),
		byID:   make(map[string]Voucher),
	}
}

func (c ResolvedCatalog) index(v Voucher) {
	if v.ID == "" {
		return
	}
	if _, exists := c.byID[v.ID]; !exists {
		c.byID[v.ID] = v
	}
}

func flattenGroups(groups []StoreGroup) []CartLine {
	var lines []CartLine
	for _, group := range groups {
		lines = append(lines, group.Lines...)
	}
	return lines
}

// voucherCacheKey identifies a cart by the owning store, line id and product id of every line,
// order-insensitive. A line that moves to another store once its metadata resolves gets a new key.
func voucherCacheKey(groups []StoreGroup) string {
	var parts []string
	for _, group := range groups {
		for _, line := range group.Lines {
			parts = append(parts, group.StoreID+"/"+line.ID+"="+line.ProductRef)
		}
	}
	if len(parts) == 0 {
		return ""
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

type voucherCacheEntry struct {
	catalog ResolvedCatalog
	expires time.Time
}

// voucherCache bounds resolved catalogs by count (least recently used first out) and by age
// against the resolver clock.
type voucherCache struct {
	ttl time.Duration
	now func() time.Time
	lru *lru.Cache[string, voucherCacheEntry]
}

func newVoucherCache(ttl time.Duration, entries int, now func() time.Time) *voucherCache {
	cache, err := lru.New[string, voucherCacheEntry](entries)
	if err != nil {
		cache, _ = lru.New[string, voucherCacheEntry](defaultVoucherCacheEntries)
	}
	return &voucherCache{ttl: ttl, now: now, lru: cache}
}

func (c *voucherCache) Get(key string) (ResolvedCatalog, bool) {
	entry, ok := c.lru.Get(key)
	if !ok {
		return ResolvedCatalog{}, false
	}
	if c.now().After(entry.expires) {
		c.lru.Remove(key)
		return ResolvedCatalog{}, false
	}
	return entry.catalog, true
}

func (c *voucherCache) Put(key string, catalog ResolvedCatalog) {
	c.lru.Add(key, voucherCacheEntry{catalog: catalog, expires: c.now().Add(c.ttl)})
}

func (c *voucherCache) Clear() {
	c.lru.Purge()
}
