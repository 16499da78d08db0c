package normalizer

import (
	"fmt"
	"regexp"

	"github.com/telhawk-systems/telhawk-forensics/internal/model"
)

// Transformer converts one raw record into zero or more documents. It never
// fails: internal errors come back as error documents inside the Result.
type Transformer interface {
	Transform(ev *model.RawEvent) Result
}

// TransformerFunc adapts a function to Transformer.
type TransformerFunc func(ev *model.RawEvent) Result

// Transform calls f(ev).
func (f TransformerFunc) Transform(ev *model.RawEvent) Result { return f(ev) }

// Rule maps a parser pattern to a category. Rules are evaluated in order.
type Rule struct {
	Category model.Category `json:"category" yaml:"category"`
	Pattern  *regexp.Regexp `json:"-" yaml:"-"`
}

func rule(c model.Category, pattern string) Rule {
	return Rule{Category: c, Pattern: regexp.MustCompile(pattern)}
}

// DefaultRules is the ordered classification table. Specific winreg plugins
// precede the generic winreg rule, and the last rule matches everything.
var DefaultRules = []Rule{
	rule(model.CategorySRUM, `esedb/srum`),
	rule(model.CategoryAmcache, `winreg/amcache`),
	rule(model.CategoryAppCompatCache, `appcompatcache`),
	rule(model.CategoryRunKey, `winreg/windows_run`),
	rule(model.CategoryUSB, `winreg/windows_usb_devices`),
	rule(model.CategoryMRU, `winreg/(bagmru|mrulistex)`),
	rule(model.CategoryUserAssist, `userassist`),
	rule(model.CategoryBrowserHistory, `sqlite/((chrome|firefox|edge).*history)`),
	rule(model.CategoryEvtx, `winevtx`),
	rule(model.CategoryHive, `winreg`),
	rule(model.CategoryDB, `(sqlite)|(esedb)`),
	rule(model.CategoryLnk, `lnk`),
	rule(model.CategoryPrefetch, `prefetch`),
	rule(model.CategoryWinFile, `(lnk)|(text)|(prefetch)`),
	rule(model.CategoryMFT, `(filestat)|(usnjrnl)|(mft)`),
	rule(model.CategoryOther, `.*`),
}

// Registry classifies records and dispatches them to the matching transformer.
type Registry struct {
	rules        []Rule
	transformers map[model.Category]Transformer
	fallback     Transformer
}

// NewRegistry builds a registry from an ordered rule list. fallback handles
// categories without a registered transformer.
func NewRegistry(rules []Rule, fallback Transformer) *Registry {
	return &Registry{
		rules:        rules,
		transformers: make(map[model.Category]Transformer),
		fallback:     fallback,
	}
}

// Register binds a transformer to a category.
func (r *Registry) Register(c model.Category, t Transformer) *Registry {
	r.transformers[c] = t
	return r
}

// Rules returns the ordered rule table.
func (r *Registry) Rules() []Rule {
	out := make([]Rule, len(r.rules))
	copy(out, r.rules)
	return out
}

// Classify returns the category of the first rule matching parser. It always
// returns a category; without a matching rule it returns other.
func (r *Registry) Classify(parser string) model.Category {
	if r != nil {
		for _, rl := range r.rules {
			if rl.Pattern.MatchString(parser) {
				return rl.Category
			}
		}
	}
	return model.CategoryOther
}

// Find returns the transformer bound to c, or the fallback.
func (r *Registry) Find(c model.Category) Transformer {
	if t, ok := r.transformers[c]; ok {
		return t
	}
	return r.fallback
}

// Transform classifies ev and runs its transformer.
func (r *Registry) Transform(ev *model.RawEvent) (model.Category, Result) {
	c := r.Classify(ev.Parser())
	t := r.Find(c)
	if t == nil {
		out := ErrorDocument(ev, c, c, fmt.Errorf("no transformer registered for category %s", c))
		return c, One(out.Doc, out.Category)
	}
	return c, guard(ev, c, c, func() (Result, error) {
		return t.Transform(ev), nil
	})
}

// NewDefaultRegistry wires every artefact transformer to DefaultRules.
func NewDefaultRegistry() *Registry {
	return NewRegistry(DefaultRules, GenericTransformer{}).
		Register(model.CategorySRUM, SRUMTransformer{}).
		Register(model.CategoryAmcache, AmcacheTransformer{}).
		Register(model.CategoryAppCompatCache, AppCompatCacheTransformer{}).
		Register(model.CategoryRunKey, RunKeyTransformer{}).
		Register(model.CategoryUSB, USBTransformer{}).
		Register(model.CategoryMRU, MRUTransformer{}).
		Register(model.CategoryUserAssist, UserAssistTransformer{}).
		Register(model.CategoryBrowserHistory, BrowserHistoryTransformer{}).
		Register(model.CategoryEvtx, NewEvtxTransformer()).
		Register(model.CategoryHive, RegistryKeyTransformer{}).
		Register(model.CategoryDB, GenericTransformer{Category: model.CategoryDB}).
		Register(model.CategoryLnk, LnkTransformer{}).
		Register(model.CategoryPrefetch, PrefetchTransformer{}).
		Register(model.CategoryWinFile, GenericTransformer{Category: model.CategoryWinFile}).
		Register(model.CategoryMFT, MFTTransformer{}).
		Register(model.CategoryOther, GenericTransformer{})
}
