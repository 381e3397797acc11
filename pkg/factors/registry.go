package factors

import (
	"sort"
	"strings"
	"sync"
)

// Registry maps factor names to constructors. Registering a name twice is an
// error; the first registration stays in effect.
type Registry struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
	categories   map[string]Category
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		constructors: make(map[string]Constructor),
		categories:   make(map[string]Category),
	}
}

// NormalizeName upper-cases and trims a factor name.
func NormalizeName(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}

// Register adds a constructor under name.
func (r *Registry) Register(name string, c Constructor) error {
	key := NormalizeName(name)
	if key == "" {
		return NewFactorError("", "factor name must not be empty", ErrInvalidParameter)
	}
	if c == nil {
		return NewFactorError(key, "nil constructor", ErrInvalidParameter)
	}
	sample := c()

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.constructors[key]; exists {
		return NewFactorError(key, "register", ErrDuplicateFactor)
	}
	r.constructors[key] = c
	r.categories[key] = sample.Category()
	return nil
}

// MustRegister is Register for static tables; it panics on error.
func (r *Registry) MustRegister(name string, c Constructor) {
	if err := r.Register(name, c); err != nil {
		panic(err)
	}
}

// Resolve returns the constructor registered under name.
func (r *Registry) Resolve(name string) (Constructor, error) {
	key := NormalizeName(name)
	r.mu.RLock()
	c, ok := r.constructors[key]
	r.mu.RUnlock()
	if !ok {
		return nil, NewFactorError(key, "resolve", ErrUnknownFactor)
	}
	return c, nil
}

// Get resolves name and constructs the factor.
func (r *Registry) Get(name string) (Factor, error) {
	c, err := r.Resolve(name)
	if err != nil {
		return nil, err
	}
	return c(), nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.constructors[NormalizeName(name)]
	return ok
}

// Names returns all registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.constructors))
	for name := range r.constructors {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

// ByCategory groups registered names by category.
func (r *Registry) ByCategory() map[Category][]string {
	out := make(map[Category][]string)
	for _, name := range r.Names() {
		r.mu.RLock()
		cat := r.categories[name]
		r.mu.RUnlock()
		out[cat] = append(out[cat], name)
	}
	return out
}

// Builtins returns the constructors of every built-in factor.
func Builtins() []Constructor {
	return []Constructor{
		// moving_average
		NewSMA, NewEMA, NewWMA, NewMADiff, NewMASlope,
		// trend_momentum
		NewMACD, NewRSI, NewROC, NewMOM,
		// volatility
		NewATR, NewATRPct, NewBOLL, NewBBWidth, NewHV, NewTR, NewDC, NewSTOCH,
		// volume_price
		NewVMA, NewOBV, NewKDJ, NewCCI, NewWR, NewVolumeRatio,
		// return_risk
		NewDailyReturn, NewCumReturn, NewMaxDD, NewAnnualVol,
	}
}

// DefaultRegistry returns a new registry holding every built-in factor.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, c := range Builtins() {
		r.MustRegister(c().Name(), c)
	}
	return r
}

// Info describes a factor for listings.
type Info struct {
	Name        string       `json:"name"`
	Category    Category     `json:"category"`
	Description string       `json:"description"`
	Inputs      []string     `json:"required_columns"`
	Parameters  []Field      `json:"parameters"`
	Outputs     []string     `json:"default_outputs"`
	Defaults    ParameterSet `json:"defaults"`
}

// Describe builds the listing entry of f under adj.
func Describe(f Factor, adj Adjustment) Info {
	def := f.Schema().Default()
	outs := f.Outputs(def)
	names := make([]string, len(outs))
	for i, o := range outs {
		names[i] = o.Name
	}
	return Info{
		Name:        f.Name(),
		Category:    f.Category(),
		Description: f.Description(),
		Inputs:      f.RequiredColumns(adj),
		Parameters:  f.Schema().Fields(),
		Outputs:     names,
		Defaults:    def,
	}
}
